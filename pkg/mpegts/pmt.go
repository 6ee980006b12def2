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
	"sort"

	"github.com/q191201771/lalts/pkg/base"
	"github.com/q191201771/naza/pkg/bele"
	"github.com/q191201771/naza/pkg/nazaerrors"
)

// Pmt
//
// ----------------------------------------
// Program Map Table
// <iso13818-1.pdf> <2.4.4.8> <page 64/174>
// table_id                 [8b]  *
// section_syntax_indicator [1b]
// 0                        [1b]
// reserved                 [2b]
// section_length           [12b] **
// program_number           [16b] **
// reserved                 [2b]
// version_number           [5b]
// current_next_indicator   [1b]  *
// section_number           [8b]  *
// last_section_number      [8b]  *
// reserved                 [3b]
// PCR_PID                  [13b] **
// reserved                 [4b]
// program_info_length      [12b] **
// -----loop-----
// stream_type              [8b]  *
// reserved                 [3b]
// elementary_PID           [13b] **
// reserved                 [4b]
// ES_info_length_length    [12b] **
// --------------
// CRC32                    [32b] ****
// ----------------------------------------
//
type Pmt struct {
	ProgramNumber   uint16
	Version         uint8
	PcrPid          uint16
	ProgramInfo     []Descriptor
	ProgramElements []PmtProgramElement
}

type PmtProgramElement struct {
	StreamType  uint8
	Pid         uint16
	Descriptors []Descriptor
}

func NewPmt(programNumber uint16, pcrPid uint16) *Pmt {
	return &Pmt{
		ProgramNumber: programNumber,
		PcrPid:        pcrPid,
	}
}

// SetProgramElement 相同PID的已存在则替换
func (pmt *Pmt) SetProgramElement(ppe PmtProgramElement) {
	for i := range pmt.ProgramElements {
		if pmt.ProgramElements[i].Pid == ppe.Pid {
			pmt.ProgramElements[i] = ppe
			return
		}
	}
	pmt.ProgramElements = append(pmt.ProgramElements, ppe)
}

func (pmt *Pmt) TableId() uint8 { return TsPsiIdPms }
func (pmt *Pmt) tableIdExtension() uint16 { return pmt.ProgramNumber }
func (pmt *Pmt) version() uint8 { return pmt.Version }

// 写入时按PID升序
func (pmt *Pmt) packBody() []byte {
	sort.SliceStable(pmt.ProgramElements, func(i, j int) bool {
		return pmt.ProgramElements[i].Pid < pmt.ProgramElements[j].Pid
	})

	pil := descriptorsLength(pmt.ProgramInfo)
	n := 4 + pil
	for i := range pmt.ProgramElements {
		n += 5 + descriptorsLength(pmt.ProgramElements[i].Descriptors)
	}

	out := make([]byte, n)
	bele.BePutUint16(out, 0xE000|pmt.PcrPid&0x1FFF)
	bele.BePutUint16(out[2:], 0xF000|uint16(pil))
	pos := 4
	pos += packDescriptors(out[pos:], pmt.ProgramInfo)
	for i := range pmt.ProgramElements {
		ppe := &pmt.ProgramElements[i]
		out[pos] = ppe.StreamType
		bele.BePutUint16(out[pos+1:], 0xE000|ppe.Pid&0x1FFF)
		bele.BePutUint16(out[pos+3:], 0xF000|uint16(descriptorsLength(ppe.Descriptors)))
		pos += 5
		pos += packDescriptors(out[pos:], ppe.Descriptors)
	}
	return out
}

func (pmt *Pmt) unpackBody(b []byte) (err error) {
	if len(b) < 4 {
		return nazaerrors.Wrap(base.NewErrShortBuffer(4, len(b), "pmt body"))
	}
	pmt.PcrPid = bele.BeUint16(b) & 0x1FFF
	pil := int(bele.BeUint16(b[2:]) & 0x0FFF)
	if 4+pil > len(b) {
		return nazaerrors.Wrap(base.NewErrShortBuffer(4+pil, len(b), "pmt program info"))
	}
	if pmt.ProgramInfo, err = parseDescriptors(b[4 : 4+pil]); err != nil {
		return err
	}

	b = b[4+pil:]
	for len(b) > 0 {
		if len(b) < 5 {
			return nazaerrors.Wrap(base.NewErrShortBuffer(5, len(b), "pmt program element"))
		}
		ppe := PmtProgramElement{
			StreamType: b[0],
			Pid:        bele.BeUint16(b[1:]) & 0x1FFF,
		}
		esil := int(bele.BeUint16(b[3:]) & 0x0FFF)
		if 5+esil > len(b) {
			return nazaerrors.Wrap(base.NewErrShortBuffer(5+esil, len(b), "pmt es info"))
		}
		if ppe.Descriptors, err = parseDescriptors(b[5 : 5+esil]); err != nil {
			return err
		}
		pmt.ProgramElements = append(pmt.ProgramElements, ppe)
		b = b[5+esil:]
	}
	return nil
}

// Pack 184字节，可直接作为PUSI包的payload
func (pmt *Pmt) Pack() ([]byte, error) {
	return PackPsi(pmt)
}

func (pmt *Pmt) SearchPid(pid uint16) *PmtProgramElement {
	for i := range pmt.ProgramElements {
		if pmt.ProgramElements[i].Pid == pid {
			return &pmt.ProgramElements[i]
		}
	}
	return nil
}

// IsOpus stream_type为private data，并且带有"Opus"的registration描述符
func (ppe *PmtProgramElement) IsOpus() bool {
	if ppe.StreamType != StreamTypePrivateData {
		return false
	}
	for _, d := range ppe.Descriptors {
		if d.Tag == DescriptorTagRegistration && d.Registration.FormatIdentifier == opusIdentifier {
			return true
		}
	}
	return false
}

// OpusChannelCount 从opus_audio_descriptor中获取声道数
func (ppe *PmtProgramElement) OpusChannelCount() (uint8, bool) {
	for _, d := range ppe.Descriptors {
		if d.Tag == DescriptorTagExtension && d.Extension.Tag == extensionTagOpusAudio && len(d.Extension.Data) > 0 {
			return d.Extension.Data[0], true
		}
	}
	return 0, false
}

// OpusChannelCount 同 PmtProgramElement.OpusChannelCount
func (pmt *Pmt) OpusChannelCount(pid uint16) (uint8, bool) {
	ppe := pmt.SearchPid(pid)
	if ppe == nil {
		return 0, false
	}
	return ppe.OpusChannelCount()
}

// ParsePmt
//
// @param b: 包含pointer_field
//
func ParsePmt(b []byte) (*Pmt, error) {
	table, err := ParsePsi(b)
	if err != nil {
		return nil, err
	}
	pmt, ok := table.(*Pmt)
	if !ok {
		return nil, fmt.Errorf("%w. expect pmt, but table id=%d", ErrPsiTableId, table.TableId())
	}
	return pmt, nil
}
