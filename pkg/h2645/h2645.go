// Copyright 2022, Chef.  All rights reserved.
// https://github.com/q191201771/lalts
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package h2645

import (
	"github.com/q191201771/lalts/pkg/avc"
	"github.com/q191201771/lalts/pkg/base"
	"github.com/q191201771/lalts/pkg/hevc"
	"github.com/q191201771/naza/pkg/bele"
)

// 无特殊说明的函数则同时支持h264和h265两种格式

var (
	ErrH2645            = base.ErrH2645
	ErrNaluLength       = base.ErrNaluLength
	ErrParamSetsMissing = base.ErrParamSetsMissing
)

var (
	NaluStartCode3 = []byte{0x0, 0x0, 0x1}
	NaluStartCode4 = []byte{0x0, 0x0, 0x0, 0x1}
)

type Codec uint8

const (
	CodecAvc Codec = iota + 1
	CodecHevc
)

func (c Codec) ReadableString() string {
	switch c {
	case CodecAvc:
		return "H264"
	case CodecHevc:
		return "H265"
	}
	return "unknown"
}

func ParseNaluType(codec Codec, v uint8) uint8 {
	if codec == CodecAvc {
		return avc.ParseNaluType(v)
	}
	return hevc.ParseNaluType(v)
}

func IsParamSet(codec Codec, typ uint8) bool {
	if codec == CodecAvc {
		return avc.IsParamSet(typ)
	}
	return hevc.IsParamSet(typ)
}

// IsKeyNalu h264为IDR，h265为IRAP
func IsKeyNalu(codec Codec, typ uint8) bool {
	if codec == CodecAvc {
		return typ == avc.NaluTypeIdrSlice
	}
	return hevc.IsIrapNalu(typ)
}

// AudNalu 访问单元分隔符，不包含start code
func AudNalu(codec Codec, key bool) []byte {
	switch {
	case codec == CodecAvc && key:
		return avc.AudNaluKey
	case codec == CodecAvc:
		return avc.AudNalu
	case key:
		return hevc.AudNaluKey
	}
	return hevc.AudNalu
}

func JoinNaluAvcc(naluList ...[]byte) []byte {
	n := len(naluList)
	if n == 0 {
		return nil
	}
	n *= 4
	for _, item := range naluList {
		n += len(item)
	}
	ret := make([]byte, n)

	pos := 0
	for _, item := range naluList {
		bele.BePutUint32(ret[pos:], uint32(len(item)))
		pos += 4
		copy(ret[pos:], item)
		pos += len(item)
	}

	return ret
}

// JoinNaluAnnexb 每个nalu前加4字节start code
func JoinNaluAnnexb(naluList ...[]byte) []byte {
	n := len(naluList)
	if n == 0 {
		return nil
	}
	n *= 4
	for _, item := range naluList {
		n += len(item)
	}
	ret := make([]byte, 0, n)
	for _, item := range naluList {
		ret = append(ret, NaluStartCode4...)
		ret = append(ret, item...)
	}
	return ret
}
