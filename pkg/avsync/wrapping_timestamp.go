// Copyright 2024, Chef.  All rights reserved.
// https://github.com/q191201771/lalts
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package avsync

// WrappingTimestamp 将在[0, max)范围内回绕的时间戳展开为线性的时间戳
//
// 比如mpegts的pts为33位，90kHz下大约26.5小时回绕一次
//
type WrappingTimestamp struct {
	name         string
	maxTimestamp float64

	base    float64
	prevRaw float64
	inited  bool
}

func NewWrappingTimestamp(name string, maxTimestamp float64) *WrappingTimestamp {
	return &WrappingTimestamp{
		name:         name,
		maxTimestamp: maxTimestamp,
	}
}

// Update
//
// - 上一个值在上半区，当前值落在下半区，认为发生了回绕，base增加max
// - 当前值比上一个值大了超过max/2，认为是回绕前的迟到数据，base减少max
//
// @return 展开后的时间戳
//
func (w *WrappingTimestamp) Update(raw float64) float64 {
	if !w.inited {
		w.inited = true
		w.prevRaw = raw
		return raw
	}

	half := w.maxTimestamp / 2
	if raw < half && w.prevRaw >= half {
		w.base += w.maxTimestamp
		Log.Debugf("[%s] timestamp wrap forward. prev=%.3f, raw=%.3f, base=%.3f", w.name, w.prevRaw, raw, w.base)
	} else if raw-w.prevRaw > half {
		w.base -= w.maxTimestamp
		Log.Debugf("[%s] timestamp wrap backward. prev=%.3f, raw=%.3f, base=%.3f", w.name, w.prevRaw, raw, w.base)
	}
	w.prevRaw = raw
	return w.base + raw
}

func (w *WrappingTimestamp) Reset() {
	w.base = 0
	w.prevRaw = 0
	w.inited = false
}
