// Copyright 2020, Chef.  All rights reserved.
// https://github.com/q191201771/lalts
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

// Package remux 编码后的音视频帧与mpegts流之间的相互转换
//
// MpegtsMuxer: 音视频帧 -> mpegts
// MpegtsDemuxer: mpegts -> 音视频帧（音频解码为PCM）
//
package remux

import (
	"fmt"

	"github.com/q191201771/lalts/pkg/aac"
	"github.com/q191201771/lalts/pkg/base"
)

var (
	ErrMuxerNotRunning  = base.ErrMuxerNotRunning
	ErrMuxerNotReady    = base.ErrMuxerNotReady
	ErrUnsupportedCodec = base.ErrUnsupportedCodec
	ErrDemuxerStopped   = base.ErrDemuxerStopped
)

type AudioCodec uint8

const (
	AudioCodecUnknown AudioCodec = iota
	AudioCodecAac
	AudioCodecOpus
)

func (c AudioCodec) ReadableString() string {
	switch c {
	case AudioCodecAac:
		return "AAC"
	case AudioCodecOpus:
		return "OPUS"
	}
	return "unknown"
}

// AudioConfig 写入mpegts时的音频参数
type AudioConfig struct {
	Codec AudioCodec

	// 仅AAC
	AudioObjectType uint8 // 2=AAC LC
	SampleRate      int

	Channels uint8
}

// AudioFormat 从mpegts中解析出的音频格式
type AudioFormat struct {
	Codec           AudioCodec
	AudioObjectType uint8 // 仅AAC
	SampleRate      int
	Channels        uint8

	// 仅AAC，2字节AudioSpecificConfig
	Asc []byte
}

func (f AudioFormat) DebugString() string {
	return fmt.Sprintf("codec=%s, aot=%d, sample rate=%d, channels=%d",
		f.Codec.ReadableString(), f.AudioObjectType, f.SampleRate, f.Channels)
}

func (f AudioFormat) Equal(other AudioFormat) bool {
	return f.Codec == other.Codec &&
		f.AudioObjectType == other.AudioObjectType &&
		f.SampleRate == other.SampleRate &&
		f.Channels == other.Channels
}

func newAacAudioFormat(ascCtx *aac.AscContext) (AudioFormat, error) {
	sampleRate, err := ascCtx.GetSamplingFrequency()
	if err != nil {
		return AudioFormat{}, err
	}
	return AudioFormat{
		Codec:           AudioCodecAac,
		AudioObjectType: ascCtx.AudioObjectType,
		SampleRate:      sampleRate,
		Channels:        ascCtx.ChannelConfiguration,
		Asc:             ascCtx.Pack(),
	}, nil
}
