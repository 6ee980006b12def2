// Copyright 2024, Chef.  All rights reserved.
// https://github.com/q191201771/lalts
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

// Package avsync 多路音视频源的对齐输出
//
// 每一路源有一个音频 JitterBuffer 和一个视频 JitterBuffer，按固定节拍取帧。
// 缓冲水位由 DriftTracker 调整，音视频之间的延迟差由 TargetLatenciesSynchronizer 调整。
//
package avsync

import (
	"time"

	"github.com/q191201771/lalts/pkg/base"
)

var (
	ErrSourceNotFound = base.ErrSourceNotFound
	ErrSourceExist    = base.ErrSourceExist
	ErrStaleHandle    = base.ErrStaleHandle
	ErrLoopQueueFull  = base.ErrLoopQueueFull
)

const (
	DefaultAudioCapacity = 300
	DefaultVideoCapacity = 200

	DefaultAudioTolerance = 0.015
	DefaultVideoTolerance = 0.01

	DefaultTargetLatency = 0.1
)

// Clock 返回单调递增的当前时间，单位秒
//
// remux.MpegtsDemuxer 输出的帧时间戳和 Synchronizer 的输出节拍需要使用同一个 Clock
//
type Clock func() float64

var clockStartTime = time.Now()

// MonotonicClock 进程启动后经过的时间
func MonotonicClock() float64 {
	return time.Since(clockStartTime).Seconds()
}
