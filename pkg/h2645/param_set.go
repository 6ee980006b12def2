// Copyright 2022, Chef.  All rights reserved.
// https://github.com/q191201771/lalts
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package h2645

import (
	"bytes"
	"fmt"

	"github.com/q191201771/lalts/pkg/avc"
	"github.com/q191201771/lalts/pkg/hevc"
)

// FormatDescription 解码器初始化所需的参数集，h264为sps+pps，h265为vps+sps+pps
//
// 所有nalu都不包含start code
type FormatDescription struct {
	Codec Codec
	Vps   []byte
	Sps   []byte
	Pps   []byte

	// 仅h264，sps解析失败时为0
	Width  uint32
	Height uint32
}

func NewFormatDescription(codec Codec, vps, sps, pps []byte) (*FormatDescription, error) {
	if len(sps) == 0 || len(pps) == 0 || (codec == CodecHevc && len(vps) == 0) {
		return nil, fmt.Errorf("%w. codec=%s, vps=%d, sps=%d, pps=%d",
			ErrParamSetsMissing, codec.ReadableString(), len(vps), len(sps), len(pps))
	}
	fd := &FormatDescription{
		Codec: codec,
		Sps:   append([]byte(nil), sps...),
		Pps:   append([]byte(nil), pps...),
	}
	if codec == CodecHevc {
		fd.Vps = append([]byte(nil), vps...)
	}
	if codec == CodecAvc {
		var ctx avc.Context
		if err := avc.ParseSps(RemoveEmulationPrevention(sps), &ctx); err == nil {
			fd.Width = ctx.Width
			fd.Height = ctx.Height
		}
	}
	return fd, nil
}

func (fd *FormatDescription) ParamSets() [][]byte {
	if fd.Codec == CodecHevc {
		return [][]byte{fd.Vps, fd.Sps, fd.Pps}
	}
	return [][]byte{fd.Sps, fd.Pps}
}

// AnnexbParamSets 每个参数集前加4字节start code，用于在关键帧前插入
func (fd *FormatDescription) AnnexbParamSets() []byte {
	return JoinNaluAnnexb(fd.ParamSets()...)
}

func (fd *FormatDescription) Equal(other *FormatDescription) bool {
	if fd == nil || other == nil {
		return fd == other
	}
	return fd.Codec == other.Codec &&
		bytes.Equal(fd.Vps, other.Vps) &&
		bytes.Equal(fd.Sps, other.Sps) &&
		bytes.Equal(fd.Pps, other.Pps)
}

func (fd *FormatDescription) DebugString() string {
	return fmt.Sprintf("codec=%s, vps=%d, sps=%d, pps=%d, size=%dx%d",
		fd.Codec.ReadableString(), len(fd.Vps), len(fd.Sps), len(fd.Pps), fd.Width, fd.Height)
}

// ParamSetTracker 从流中收集参数集
//
// 参数集齐全之前无法构造 FormatDescription，此时的视频数据应该被丢弃
//
type ParamSetTracker struct {
	codec Codec

	vps []byte
	sps []byte
	pps []byte

	changed bool
}

func NewParamSetTracker(codec Codec) *ParamSetTracker {
	return &ParamSetTracker{
		codec: codec,
	}
}

// Observe 返回 `nalu` 是否为参数集
func (t *ParamSetTracker) Observe(nalu []byte) bool {
	if len(nalu) == 0 {
		return false
	}
	typ := ParseNaluType(t.codec, nalu[0])
	var dst *[]byte
	switch {
	case t.codec == CodecAvc && typ == avc.NaluTypeSps:
		dst = &t.sps
	case t.codec == CodecAvc && typ == avc.NaluTypePps:
		dst = &t.pps
	case t.codec == CodecHevc && typ == hevc.NaluTypeVps:
		dst = &t.vps
	case t.codec == CodecHevc && typ == hevc.NaluTypeSps:
		dst = &t.sps
	case t.codec == CodecHevc && typ == hevc.NaluTypePps:
		dst = &t.pps
	default:
		return false
	}
	if !bytes.Equal(*dst, nalu) {
		*dst = append((*dst)[:0], nalu...)
		t.changed = true
	}
	return true
}

func (t *ParamSetTracker) Complete() bool {
	if len(t.sps) == 0 || len(t.pps) == 0 {
		return false
	}
	return t.codec == CodecAvc || len(t.vps) != 0
}

// Changed 参数集齐全，并且自上次调用后有变化。调用后清除变化标志
func (t *ParamSetTracker) Changed() bool {
	if !t.Complete() || !t.changed {
		return false
	}
	t.changed = false
	return true
}

func (t *ParamSetTracker) FormatDescription() (*FormatDescription, error) {
	return NewFormatDescription(t.codec, t.vps, t.sps, t.pps)
}

func (t *ParamSetTracker) Reset() {
	t.vps = nil
	t.sps = nil
	t.pps = nil
	t.changed = false
}
