// Copyright 2024, Chef.  All rights reserved.
// https://github.com/q191201771/lalts
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package opus

import (
	pionopus "github.com/pion/opus"
	"github.com/q191201771/naza/pkg/nazaerrors"
)

// 120ms@48k，双声道，s16
const maxPcmBufferSize = 5760 * 2 * 2

// Decoder opus -> pcm(s16le)
//
// 非并发安全
type Decoder struct {
	core pionopus.Decoder
	out  []byte
}

func NewDecoder() *Decoder {
	return &Decoder{
		core: pionopus.NewDecoder(),
		out:  make([]byte, maxPcmBufferSize),
	}
}

// Decode
//
// @return pcm: 内存块为独立新申请
// @return sampleRate: 由opus带宽决定
//
func (d *Decoder) Decode(packet []byte) (pcm []byte, sampleRate int, channels int, err error) {
	samples48k, err := PacketSamples(packet)
	if err != nil {
		return nil, 0, 0, err
	}

	bandwidth, isStereo, err := d.core.Decode(packet, d.out)
	if err != nil {
		return nil, 0, 0, nazaerrors.Wrap(err)
	}
	sampleRate = bandwidth.SampleRate()
	channels = 1
	if isStereo {
		channels = 2
	}

	n := samples48k * sampleRate / SampleRate * channels * 2
	if n > len(d.out) {
		n = len(d.out)
	}
	pcm = append([]byte(nil), d.out[:n]...)
	return pcm, sampleRate, channels, nil
}
