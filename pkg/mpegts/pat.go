// Copyright 2020, Chef.  All rights reserved.
// https://github.com/q191201771/lalts
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package mpegts

import (
	"fmt"

	"github.com/q191201771/naza/pkg/bele"
)

// ---------------------------------------------------------------------------------------------------
// Program association section
// <iso13818-1.pdf> <2.4.4.3> <page 61/174>
// table_id                 [8b] *
// section_syntax_indicator [1b]
// '0'                      [1b]
// reserved                 [2b]
// section_length           [12b] **
// transport_stream_id      [16b] **
// reserved                 [2b]
// version_number           [5b]
// current_next_indicator   [1b]  *
// section_number           [8b]  *
// last_section_number      [8b]  *
// -----loop-----
// program_number           [16b] **
// reserved                 [3b]
// program_map_PID          [13b] ** if program_number == 0 then network_PID else then program_map_PID
// --------------
// CRC_32                   [32b] ****
// ---------------------------------------------------------------------------------------------------
type Pat struct {
	TransportStreamId uint16
	Version           uint8
	Programs          []PatProgramElement
}

type PatProgramElement struct {
	ProgramNumber uint16
	Pid           uint16 // program_number为0时是network_PID
}

// NewPat 单节目
func NewPat(programNumber uint16, pmtPid uint16) *Pat {
	return &Pat{
		TransportStreamId: 1,
		Programs: []PatProgramElement{
			{ProgramNumber: programNumber, Pid: pmtPid},
		},
	}
}

func (pat *Pat) TableId() uint8 { return TsPsiIdPas }
func (pat *Pat) tableIdExtension() uint16 { return pat.TransportStreamId }
func (pat *Pat) version() uint8 { return pat.Version }

func (pat *Pat) packBody() []byte {
	out := make([]byte, 4*len(pat.Programs))
	for i, ppe := range pat.Programs {
		bele.BePutUint16(out[i*4:], ppe.ProgramNumber)
		bele.BePutUint16(out[i*4+2:], 0xE000|ppe.Pid&0x1FFF)
	}
	return out
}

func (pat *Pat) unpackBody(b []byte) error {
	if len(b)%4 != 0 {
		return fmt.Errorf("%w. pat body length=%d", ErrMpegts, len(b))
	}
	for i := 0; i < len(b); i += 4 {
		pat.Programs = append(pat.Programs, PatProgramElement{
			ProgramNumber: bele.BeUint16(b[i:]),
			Pid:           bele.BeUint16(b[i+2:]) & 0x1FFF,
		})
	}
	return nil
}

// Pack 184字节，可直接作为PUSI包的payload
func (pat *Pat) Pack() ([]byte, error) {
	return PackPsi(pat)
}

// SearchPid 是否为PMT的PID
func (pat *Pat) SearchPid(pid uint16) bool {
	for _, ppe := range pat.Programs {
		if ppe.ProgramNumber != 0 && pid == ppe.Pid {
			return true
		}
	}
	return false
}

// ParsePat
//
// @param b: 包含pointer_field
//
func ParsePat(b []byte) (*Pat, error) {
	table, err := ParsePsi(b)
	if err != nil {
		return nil, err
	}
	pat, ok := table.(*Pat)
	if !ok {
		return nil, fmt.Errorf("%w. expect pat, but table id=%d", ErrPsiTableId, table.TableId())
	}
	return pat, nil
}
