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

	"github.com/q191201771/lalts/pkg/base"
	"github.com/q191201771/naza/pkg/nazabits"
	"github.com/q191201771/naza/pkg/nazaerrors"
)

// ----------------------------------------------------------
// <iso13818-1.pdf> <Table 2-6> <page 40/174>
// adaptation_field_length              [8b]  * 不包括自己这1字节
// discontinuity_indicator              [1b]
// random_access_indicator              [1b]
// elementary_stream_priority_indicator [1b]
// PCR_flag                             [1b]
// OPCR_flag                            [1b]
// splicing_point_flag                  [1b]
// transport_private_data_flag          [1b]
// adaptation_field_extension_flag      [1b]  *
// -----if PCR_flag == 1-----
// program_clock_reference_base         [33b]
// reserved                             [6b]
// program_clock_reference_extension    [9b]  ******
// ----------------------------------------------------------
type AdaptationField struct {
	Discontinuity bool
	RandomAccess  bool
	Pcr           *Pcr

	// 解析时，除PCR之外不关心的字段也计入StuffingLength
	StuffingLength int

	// adaptation_field_length为0，只有长度这1个字节
	flagless bool
}

// Length 编码后的总字节数，包含adaptation_field_length自身
func (af *AdaptationField) Length() int {
	if af == nil {
		return 0
	}
	if af.flagless {
		return 1
	}
	n := 2
	if af.Pcr != nil {
		n += 6
	}
	return n + af.StuffingLength
}

func (af *AdaptationField) pack(out []byte) int {
	l := af.Length()
	out[0] = uint8(l - 1)
	if af.flagless {
		return l
	}

	bw := nazabits.NewBitWriter(out[1:2])
	bw.WriteBit(bool2bit(af.Discontinuity))
	bw.WriteBit(bool2bit(af.RandomAccess))
	bw.WriteBit(0)
	bw.WriteBit(bool2bit(af.Pcr != nil))
	bw.WriteBits8(4, 0)

	pos := 2
	if af.Pcr != nil {
		af.Pcr.pack(out[pos:])
		pos += 6
	}
	for ; pos < l; pos++ {
		out[pos] = 0xFF
	}
	return l
}

// @return n: adaptation field占用的总字节数
func parseAdaptationField(b []byte) (af AdaptationField, n int, err error) {
	if len(b) < 1 {
		return af, 0, nazaerrors.Wrap(base.NewErrShortBuffer(1, len(b), "adaptation field"))
	}
	l := int(b[0])
	if l == 0 {
		af.flagless = true
		return af, 1, nil
	}
	if l+1 > len(b) {
		return af, 0, fmt.Errorf("%w. adaptation_field_length=%d, remain=%d", ErrMpegts, l, len(b)-1)
	}

	flags := b[1]
	af.Discontinuity = flags&0x80 != 0
	af.RandomAccess = flags&0x40 != 0
	pos := 2
	if flags&0x10 != 0 {
		if l < 7 {
			return af, 0, fmt.Errorf("%w. adaptation_field_length=%d with pcr", ErrMpegts, l)
		}
		pcr := parsePcr(b[pos:])
		af.Pcr = &pcr
		pos += 6
	}
	af.StuffingLength = l + 1 - pos
	return af, l + 1, nil
}

// Pcr program clock reference
//
// 27MHz时钟 = Base * 300 + Ext
type Pcr struct {
	Base uint64 // [33b] 90kHz
	Ext  uint16 // [9b]
}

// NewPcrWithSeconds Ext为0
func NewPcrWithSeconds(v float64) Pcr {
	return Pcr{Base: SecondsToTimestamp(v)}
}

// Value 27MHz
func (pcr Pcr) Value() uint64 {
	return pcr.Base*300 + uint64(pcr.Ext)
}

func (pcr Pcr) Seconds() float64 {
	return float64(pcr.Value()) / (TimestampClockRate * 300)
}

func (pcr Pcr) pack(out []byte) {
	b := pcr.Base & 0x1FFFFFFFF
	out[0] = uint8(b >> 25)
	out[1] = uint8(b >> 17)
	out[2] = uint8(b >> 9)
	out[3] = uint8(b >> 1)
	out[4] = uint8(b&0x1)<<7 | 0x7E | uint8(pcr.Ext>>8)&0x1
	out[5] = uint8(pcr.Ext)
}

func parsePcr(b []byte) (pcr Pcr) {
	pcr.Base = uint64(b[0])<<25 | uint64(b[1])<<17 | uint64(b[2])<<9 | uint64(b[3])<<1 | uint64(b[4]>>7)
	pcr.Ext = uint16(b[4]&0x1)<<8 | uint16(b[5])
	return
}
