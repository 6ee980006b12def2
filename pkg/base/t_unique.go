// Copyright 2022, Chef.  All rights reserved.
// https://github.com/q191201771/lalts
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package base

import "github.com/q191201771/naza/pkg/unique"

const (
	UkPreMpegtsMuxer   = "TSMUXER"
	UkPreMpegtsDemuxer = "TSDEMUXER"
	UkPreAudioBuffer   = "AUDIOBUF" // 音频jitter buffer
	UkPreVideoBuffer   = "VIDEOBUF" // 视频jitter buffer
	UkPreSynchronizer  = "AVSYNC"
	UkPreLoop          = "LOOP"
)

func GenUkMpegtsMuxer() string {
	return siUkMpegtsMuxer.GenUniqueKey()
}

func GenUkMpegtsDemuxer() string {
	return siUkMpegtsDemuxer.GenUniqueKey()
}

func GenUkAudioBuffer() string {
	return siUkAudioBuffer.GenUniqueKey()
}

func GenUkVideoBuffer() string {
	return siUkVideoBuffer.GenUniqueKey()
}

func GenUkSynchronizer() string {
	return siUkSynchronizer.GenUniqueKey()
}

func GenUkLoop() string {
	return siUkLoop.GenUniqueKey()
}

var (
	siUkMpegtsMuxer   *unique.SingleGenerator
	siUkMpegtsDemuxer *unique.SingleGenerator
	siUkAudioBuffer   *unique.SingleGenerator
	siUkVideoBuffer   *unique.SingleGenerator
	siUkSynchronizer  *unique.SingleGenerator
	siUkLoop          *unique.SingleGenerator
)

func init() {
	siUkMpegtsMuxer = unique.NewSingleGenerator(UkPreMpegtsMuxer)
	siUkMpegtsDemuxer = unique.NewSingleGenerator(UkPreMpegtsDemuxer)
	siUkAudioBuffer = unique.NewSingleGenerator(UkPreAudioBuffer)
	siUkVideoBuffer = unique.NewSingleGenerator(UkPreVideoBuffer)
	siUkSynchronizer = unique.NewSingleGenerator(UkPreSynchronizer)
	siUkLoop = unique.NewSingleGenerator(UkPreLoop)
}
