// Copyright 2024, Chef.  All rights reserved.
// https://github.com/q191201771/lalts
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package remux

import (
	"fmt"

	"github.com/q191201771/lalts/pkg/opus"
)

// IAudioDecoder 将一帧压缩音频解码为PCM（s16le，交错）
//
// 由 MpegtsDemuxer 在自己的协程中调用，不需要并发安全
//
type IAudioDecoder interface {
	Decode(frame []byte) ([]byte, error)

	// Silence 生成 `samples` 个采样（48k时基）的静音数据，用于填补音频缺口；不支持时返回nil
	Silence(samples int) []byte
}

// AudioDecoderFactory 音频格式变化时被调用
type AudioDecoderFactory func(format AudioFormat) (IAudioDecoder, error)

// DefaultAudioDecoderFactory
//
// - Opus: 使用 pion/opus 解码
// - AAC: 没有纯Go的解码器，原样输出压缩数据，由上层自行解码
//
func DefaultAudioDecoderFactory(format AudioFormat) (IAudioDecoder, error) {
	switch format.Codec {
	case AudioCodecOpus:
		return newOpusAudioDecoder(format), nil
	case AudioCodecAac:
		return &passthroughAudioDecoder{}, nil
	}
	return nil, fmt.Errorf("%w. audio codec=%s", ErrUnsupportedCodec, format.Codec.ReadableString())
}

// PassthroughAudioDecoderFactory 所有编码格式都原样输出，用于需要重新封装压缩数据的场景
func PassthroughAudioDecoderFactory(format AudioFormat) (IAudioDecoder, error) {
	switch format.Codec {
	case AudioCodecOpus, AudioCodecAac:
		return &passthroughAudioDecoder{}, nil
	}
	return nil, fmt.Errorf("%w. audio codec=%s", ErrUnsupportedCodec, format.Codec.ReadableString())
}

// ---------------------------------------------------------------------------------------------------------------------

type opusAudioDecoder struct {
	decoder *opus.Decoder

	// 最近一次解码的输出参数
	sampleRate int
	channels   int
}

func newOpusAudioDecoder(format AudioFormat) *opusAudioDecoder {
	channels := int(format.Channels)
	if channels == 0 {
		channels = 2
	}
	return &opusAudioDecoder{
		decoder:    opus.NewDecoder(),
		sampleRate: opus.SampleRate,
		channels:   channels,
	}
}

func (d *opusAudioDecoder) Decode(frame []byte) ([]byte, error) {
	pcm, sampleRate, channels, err := d.decoder.Decode(frame)
	if err != nil {
		return nil, err
	}
	d.sampleRate = sampleRate
	d.channels = channels
	return pcm, nil
}

func (d *opusAudioDecoder) Silence(samples int) []byte {
	return make([]byte, samples*d.sampleRate/opus.SampleRate*d.channels*2)
}

// ---------------------------------------------------------------------------------------------------------------------

type passthroughAudioDecoder struct{}

func (d *passthroughAudioDecoder) Decode(frame []byte) ([]byte, error) {
	return append([]byte(nil), frame...), nil
}

func (d *passthroughAudioDecoder) Silence(samples int) []byte {
	return nil
}
