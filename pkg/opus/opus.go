// Copyright 2024, Chef.  All rights reserved.
// https://github.com/q191201771/lalts
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package opus

import (
	"fmt"

	"github.com/q191201771/lalts/pkg/base"
	"github.com/q191201771/naza/pkg/nazabits"
	"github.com/q191201771/naza/pkg/nazaerrors"
)

// ETSI TS 102 366, Opus in MPEG-2 TS:
//
// opus_control_header() {
//   control_header_prefix  [11b] 0x3ff
//   start_trim_flag        [1b]
//   end_trim_flag          [1b]
//   control_extension_flag [1b]
//   reserved               [2b]
//   au_size                 每字节加上，直到遇到不为0xFF的字节
//   if (start_trim_flag) { reserved [3b], start_trim [13b] }
//   if (end_trim_flag)   { reserved [3b], end_trim [13b] }
//   if (control_extension_flag) { control_extension_length [8b], reserved ... }
// }

var (
	ErrOpus              = base.ErrOpus
	ErrOpusControlHeader = base.ErrOpusControlHeader
)

const (
	ControlHeaderPrefix = 0x7FE0

	// SampleRate Opus内部时钟固定为48k
	SampleRate = 48000
)

type ControlHeader struct {
	AuSize       int
	StartTrim    uint16 // start_trim_flag为0时为0
	EndTrim      uint16
	HeaderLength int // 整个control header的字节数
}

// PackControlHeader 生成不带trim和extension的control header
//
func PackControlHeader(auSize int) []byte {
	out := make([]byte, 2, 2+auSize/255+1)
	out[0] = ControlHeaderPrefix >> 8
	out[1] = ControlHeaderPrefix & 0xFF
	n := auSize
	for n >= 255 {
		out = append(out, 0xFF)
		n -= 255
	}
	out = append(out, uint8(n))
	return out
}

func ParseControlHeader(b []byte) (h ControlHeader, err error) {
	if len(b) < 3 {
		return h, nazaerrors.Wrap(base.NewErrShortBuffer(3, len(b), "opus control header"))
	}
	br := nazabits.NewBitReader(b)
	prefix, _ := br.ReadBits16(11)
	if prefix != ControlHeaderPrefix>>5 {
		return h, fmt.Errorf("%w. prefix=0x%x", ErrOpusControlHeader, prefix)
	}
	startTrimFlag, _ := br.ReadBits8(1)
	endTrimFlag, _ := br.ReadBits8(1)
	extensionFlag, _ := br.ReadBits8(1)
	_, _ = br.ReadBits8(2)

	pos := 2
	for {
		if pos >= len(b) {
			return h, nazaerrors.Wrap(base.NewErrShortBuffer(pos+1, len(b), "opus au_size"))
		}
		v := b[pos]
		pos++
		h.AuSize += int(v)
		if v != 0xFF {
			break
		}
	}

	readTrim := func() (uint16, error) {
		if pos+2 > len(b) {
			return 0, nazaerrors.Wrap(base.NewErrShortBuffer(pos+2, len(b), "opus trim"))
		}
		v := (uint16(b[pos])<<8 | uint16(b[pos+1])) & 0x1FFF
		pos += 2
		return v, nil
	}
	if startTrimFlag == 1 {
		if h.StartTrim, err = readTrim(); err != nil {
			return h, err
		}
	}
	if endTrimFlag == 1 {
		if h.EndTrim, err = readTrim(); err != nil {
			return h, err
		}
	}
	if extensionFlag == 1 {
		if pos >= len(b) {
			return h, nazaerrors.Wrap(base.NewErrShortBuffer(pos+1, len(b), "opus control extension"))
		}
		pos += 1 + int(b[pos])
	}
	if pos > len(b) {
		return h, nazaerrors.Wrap(base.NewErrShortBuffer(pos, len(b), "opus control extension"))
	}
	h.HeaderLength = pos
	return h, nil
}

// IterateAccessUnit 一个PES中可能有多个access unit，每个access unit前都有control header
//
func IterateAccessUnit(b []byte, handler func(h ControlHeader, au []byte)) error {
	for len(b) > 0 {
		h, err := ParseControlHeader(b)
		if err != nil {
			return err
		}
		end := h.HeaderLength + h.AuSize
		if end > len(b) {
			return nazaerrors.Wrap(base.NewErrShortBuffer(end, len(b), "opus access unit"))
		}
		handler(h, b[h.HeaderLength:end])
		b = b[end:]
	}
	return nil
}

// rfc6716 3.1. The TOC Byte
// 以48k采样为单位的每帧采样数
var tocFrameSamples = [32]int{
	// SILK NB, MB, WB: 10, 20, 40, 60ms
	480, 960, 1920, 2880,
	480, 960, 1920, 2880,
	480, 960, 1920, 2880,
	// Hybrid SWB, FB: 10, 20ms
	480, 960,
	480, 960,
	// CELT NB, WB, SWB, FB: 2.5, 5, 10, 20ms
	120, 240, 480, 960,
	120, 240, 480, 960,
	120, 240, 480, 960,
	120, 240, 480, 960,
}

// PacketSamples 根据TOC计算一个opus packet包含的采样数（48k）
//
func PacketSamples(packet []byte) (int, error) {
	if len(packet) < 1 {
		return 0, nazaerrors.Wrap(base.NewErrShortBuffer(1, 0, "opus toc"))
	}
	toc := packet[0]
	frameSamples := tocFrameSamples[toc>>3]
	var frameCount int
	switch toc & 0x3 {
	case 0:
		frameCount = 1
	case 1, 2:
		frameCount = 2
	case 3:
		if len(packet) < 2 {
			return 0, nazaerrors.Wrap(base.NewErrShortBuffer(2, len(packet), "opus frame count"))
		}
		frameCount = int(packet[1] & 0x3F)
	}
	return frameSamples * frameCount, nil
}

// PacketDuration 单位秒
func PacketDuration(packet []byte) (float64, error) {
	n, err := PacketSamples(packet)
	if err != nil {
		return 0, err
	}
	return float64(n) / SampleRate, nil
}
