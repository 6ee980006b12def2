// Copyright 2024, Chef.  All rights reserved.
// https://github.com/q191201771/lalts
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package base

import "fmt"

type MediaKind uint8

const (
	MediaKindAudio MediaKind = iota
	MediaKindVideo
)

func (k MediaKind) ReadableString() string {
	switch k {
	case MediaKindAudio:
		return "audio"
	case MediaKindVideo:
		return "video"
	}
	return "unknown"
}

// Other 返回另一种媒体类型，音频对应视频，视频对应音频
func (k MediaKind) Other() MediaKind {
	if k == MediaKindAudio {
		return MediaKindVideo
	}
	return MediaKindAudio
}

// TimedFrame 一个带时间戳的音频或视频帧
//
// 不同场景使用时，Payload 的格式不同:
//  - 进入 remux.MpegtsMuxer 时，音频为裸AAC或裸Opus，视频为Avcc格式（4字节大端长度前缀）
//  - remux.MpegtsDemuxer 输出时，音频为PCM（s16le），视频为Avcc格式
//
// 帧在 生产者 -> 缓冲 -> 消费者 之间单向移交，不会被多方同时修改。
//
type TimedFrame struct {
	Payload []byte

	Pts    float64 // 单位秒
	Dts    float64 // 单位秒，仅视频，HasDts 为false时等于Pts
	HasDts bool

	Duration float64 // 单位秒，0表示未知

	Key bool // 随机访问点（关键帧）
}

// DecodeTimestamp 没有Dts时返回Pts
func (f *TimedFrame) DecodeTimestamp() float64 {
	if f.HasDts {
		return f.Dts
	}
	return f.Pts
}

// Clone 深拷贝，包括Payload
func (f *TimedFrame) Clone() TimedFrame {
	ret := *f
	ret.Payload = append([]byte(nil), f.Payload...)
	return ret
}

func (f *TimedFrame) DebugString() string {
	return fmt.Sprintf("[%p] pts=%.3f, dts=%.3f(%t), dur=%.3f, key=%t, len=%d",
		f, f.Pts, f.Dts, f.HasDts, f.Duration, f.Key, len(f.Payload))
}
