// Copyright 2019, Chef.  All rights reserved.
// https://github.com/q191201771/lalts
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package avc

import (
	"github.com/q191201771/lalts/pkg/base"
	"github.com/q191201771/naza/pkg/nazabits"
	"github.com/q191201771/naza/pkg/nazaerrors"
)

var ErrAvc = base.ErrAvc

var NaluTypeMapping = map[uint8]string{
	1:  "SLICE",
	2:  "DPA",
	3:  "DPB",
	4:  "DPC",
	5:  "IDR",
	6:  "SEI",
	7:  "SPS",
	8:  "PPS",
	9:  "AUD",
	10: "EOSEQ",
	11: "EOSTREAM",
	12: "FILL",
}

// ISO-14496-10.pdf
// Table 7-1 – NAL unit type codes
const (
	NaluTypeUnspec   uint8 = 0
	NaluTypeSlice    uint8 = 1 // P frame
	NaluTypeDpa      uint8 = 2
	NaluTypeDpb      uint8 = 3
	NaluTypeDpc      uint8 = 4
	NaluTypeIdrSlice uint8 = 5 // I frame
	NaluTypeSei      uint8 = 6
	NaluTypeSps      uint8 = 7
	NaluTypePps      uint8 = 8
	NaluTypeAud      uint8 = 9
	NaluTypeEoseq    uint8 = 10
	NaluTypeEostream uint8 = 11
	NaluTypeFill     uint8 = 12
)

// AUD的primary_pic_type
//
// 0x10 关键帧前使用，表示 I slice
// 0x30 非关键帧前使用，表示 I,P,B slice
const (
	AudPrimaryPicTypeI   uint8 = 0x10
	AudPrimaryPicTypeIPB uint8 = 0x30
)

var (
	// AudNaluKey 关键帧前的AUD，不包含start code
	AudNaluKey = []byte{0x09, AudPrimaryPicTypeI}

	// AudNalu 非关键帧前的AUD，不包含start code
	AudNalu = []byte{0x09, AudPrimaryPicTypeIPB}
)

// NaluHeader
//
// <ISO-14496-10.pdf> <7.3.1 NAL unit syntax>
// forbidden_zero_bit [1b]
// nal_ref_idc        [2b]
// nal_unit_type      [5b]
//
type NaluHeader struct {
	RefIdc uint8
	Type   uint8
}

func ParseNaluHeader(nalu []byte) (h NaluHeader, err error) {
	if len(nalu) < 1 {
		return h, nazaerrors.Wrap(base.NewErrShortBuffer(1, len(nalu), "avc nalu header"))
	}
	br := nazabits.NewBitReader(nalu)
	forbidden, err := br.ReadBits8(1)
	if err != nil {
		return h, nazaerrors.Wrap(err)
	}
	if forbidden != 0 {
		Log.Warnf("forbidden_zero_bit not zero. header=%x", nalu[:1])
	}
	h.RefIdc, _ = br.ReadBits8(2)
	h.Type, _ = br.ReadBits8(5)
	return h, nil
}

// Pack 1字节NAL头
func (h NaluHeader) Pack() []byte {
	out := make([]byte, 1)
	bw := nazabits.NewBitWriter(out)
	bw.WriteBit(0)
	bw.WriteBits8(2, h.RefIdc)
	bw.WriteBits8(5, h.Type)
	return out
}

func ParseNaluType(v uint8) uint8 {
	return v & 0x1f
}

func CalcNaluType(nalu []byte) uint8 {
	return nalu[0] & 0x1f
}

func CalcNaluTypeReadable(nalu []byte) string {
	t := CalcNaluType(nalu)
	ret, ok := NaluTypeMapping[t]
	if !ok {
		return "unknown"
	}
	return ret
}

// IsParamSet sps或pps
func IsParamSet(typ uint8) bool {
	return typ == NaluTypeSps || typ == NaluTypePps
}
