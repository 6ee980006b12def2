// Copyright 2020, Chef.  All rights reserved.
// https://github.com/q191201771/lalts
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package hevc

import (
	"github.com/q191201771/lalts/pkg/base"
	"github.com/q191201771/naza/pkg/nazabits"
	"github.com/q191201771/naza/pkg/nazaerrors"
)

var ErrHevc = base.ErrHevc

var NaluTypeMapping = map[uint8]string{
	NaluTypeSliceTrailN: "TrailN",
	NaluTypeSliceTrailR: "TrailR",
	NaluTypeSliceBlaWlp: "BlaWlp",
	NaluTypeSliceIdr:    "IdrWRadl",
	NaluTypeSliceIdrNlp: "IdrNLp",
	NaluTypeSliceCranut: "CraNut",
	NaluTypeVps:         "VPS",
	NaluTypeSps:         "SPS",
	NaluTypePps:         "PPS",
	NaluTypeAud:         "AUD",
	NaluTypeSei:         "SEI",
	NaluTypeSeiSuffix:   "SEISuffix",
}

// ISO_IEC_23008-2_2013.pdf
// Table 7-1 – NAL unit type codes and NAL unit type classes
const (
	NaluTypeSliceTrailN uint8 = 0  // 0x0
	NaluTypeSliceTrailR uint8 = 1  // 0x01
	NaluTypeSliceBlaWlp uint8 = 16 // 0x10
	NaluTypeSliceIdr    uint8 = 19 // 0x13
	NaluTypeSliceIdrNlp uint8 = 20 // 0x14
	NaluTypeSliceCranut uint8 = 21 // 0x15
	NaluTypeIrapRsv23   uint8 = 23 // 0x17
	NaluTypeVps         uint8 = 32 // 0x20
	NaluTypeSps         uint8 = 33 // 0x21
	NaluTypePps         uint8 = 34 // 0x22
	NaluTypeAud         uint8 = 35 // 0x23
	NaluTypeSei         uint8 = 39 // 0x27
	NaluTypeSeiSuffix   uint8 = 40 // 0x28
)

var (
	// AudNaluKey 关键帧前的AUD，pic_type=0（I），不包含start code
	AudNaluKey = []byte{0x46, 0x01, 0x10}

	// AudNalu 非关键帧前的AUD，pic_type=2（I,P,B）
	AudNalu = []byte{0x46, 0x01, 0x50}
)

// NaluHeader
//
// <ISO_IEC_23008-2_2013.pdf> <7.3.1.2 NAL unit header syntax>
// forbidden_zero_bit    [1b]
// nal_unit_type         [6b]
// nuh_layer_id          [6b]
// nuh_temporal_id_plus1 [3b]
//
type NaluHeader struct {
	Type              uint8
	LayerId           uint8
	TemporalIdPlusOne uint8
}

func ParseNaluHeader(nalu []byte) (h NaluHeader, err error) {
	if len(nalu) < 2 {
		return h, nazaerrors.Wrap(base.NewErrShortBuffer(2, len(nalu), "hevc nalu header"))
	}
	br := nazabits.NewBitReader(nalu)
	forbidden, err := br.ReadBits8(1)
	if err != nil {
		return h, nazaerrors.Wrap(err)
	}
	if forbidden != 0 {
		Log.Warnf("forbidden_zero_bit not zero. header=%x", nalu[:2])
	}
	h.Type, _ = br.ReadBits8(6)
	h.LayerId, _ = br.ReadBits8(6)
	h.TemporalIdPlusOne, _ = br.ReadBits8(3)
	return h, nil
}

// Pack 2字节NAL头
func (h NaluHeader) Pack() []byte {
	out := make([]byte, 2)
	bw := nazabits.NewBitWriter(out)
	bw.WriteBit(0)
	bw.WriteBits8(6, h.Type)
	bw.WriteBits8(6, h.LayerId)
	bw.WriteBits8(3, h.TemporalIdPlusOne)
	return out
}

func CalcNaluTypeReadable(nalu []byte) string {
	b, ok := NaluTypeMapping[CalcNaluType(nalu)]
	if !ok {
		return "unknown"
	}
	return b
}

func CalcNaluType(nalu []byte) uint8 {
	// 6 bit in middle
	// 0*** ***0
	// or return (nalu[0] >> 1) & 0x3F
	return (nalu[0] & 0x7E) >> 1
}

func ParseNaluType(v uint8) uint8 {
	return (v & 0x7E) >> 1
}

// IsIrapNalu BLA，IDR，CRA以及保留的IRAP类型
func IsIrapNalu(typ uint8) bool {
	return typ >= NaluTypeSliceBlaWlp && typ <= NaluTypeIrapRsv23
}

func IsParamSet(typ uint8) bool {
	return typ == NaluTypeVps || typ == NaluTypeSps || typ == NaluTypePps
}
