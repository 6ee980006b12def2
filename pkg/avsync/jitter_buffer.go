// Copyright 2024, Chef.  All rights reserved.
// https://github.com/q191201771/lalts
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package avsync

import (
	"math"
	"sort"

	"github.com/q191201771/lalts/pkg/base"
	"github.com/q191201771/naza/pkg/circularqueue"
	"github.com/q191201771/naza/pkg/nazaatomic"
)

type PlayoutMode uint8

const (
	// PlayoutModeTimestamp 严格按时间戳取帧：欠载时重复上一帧，过载时丢弃多余的帧
	PlayoutModeTimestamp PlayoutMode = iota

	// PlayoutModeSequential 只用于音频。和输出时间对齐后，每次顺序取一帧，不因时间戳抖动丢帧；
	// 偏差超过 sequentialResyncThreshold 时重新对齐
	PlayoutModeSequential
)

const (
	sequentialResyncThreshold = 0.05
	statLogInterval           = 5.0
)

type JitterBufferOption struct {
	// Capacity 缓冲帧数上限，超过后丢弃最旧的帧。0表示使用默认值（音频300，视频200）
	Capacity int

	// Tolerance 取帧时允许提前的时间，单位秒。0表示使用默认值（音频0.015，视频0.01）
	Tolerance float64

	// TargetLatency 目标缓冲时长，单位秒
	TargetLatency float64

	Mode PlayoutMode

	// OnDriftChanged drift发生变化时回调，调用方负责把新drift投递到另一种媒体的缓冲所在的 Loop 上
	OnDriftChanged func(drift float64)
}

type ModJitterBufferOption func(option *JitterBufferOption)

type JitterBufferStat struct {
	Appended   uint64
	Emitted    uint64
	Duplicated uint64
	Dropped    uint64 // 一次取帧消费多帧时，多余的帧
	Overflowed uint64 // 超过容量被丢弃的帧
}

// JitterBuffer 吸收不规则到达的帧，按固定节拍输出
//
// 非并发安全，Append 与 GetFrame 需要在同一个 Loop 中调用；Stats 可以在任意协程调用
//
type JitterBuffer struct {
	uniqueKey string
	kind      base.MediaKind
	option    JitterBufferOption

	// 音频按到达顺序追加，使用环形队列；视频可能乱序到达，使用按pts排序的切片
	audioQueue *circularqueue.CircularQueue
	videoQueue []base.TimedFrame
	newestPts  float64

	driftTracker *DriftTracker

	latest      *base.TimedFrame
	warmingUp   bool
	syncing     bool
	hasAppended bool

	lastStatLogTime float64

	stat struct {
		appended   nazaatomic.Uint64
		emitted    nazaatomic.Uint64
		duplicated nazaatomic.Uint64
		dropped    nazaatomic.Uint64
		overflowed nazaatomic.Uint64
	}
}

func NewJitterBuffer(kind base.MediaKind, modOptions ...ModJitterBufferOption) *JitterBuffer {
	option := JitterBufferOption{
		TargetLatency: DefaultTargetLatency,
	}
	for _, fn := range modOptions {
		fn(&option)
	}
	if option.Capacity <= 0 {
		option.Capacity = DefaultVideoCapacity
		if kind == base.MediaKindAudio {
			option.Capacity = DefaultAudioCapacity
		}
	}
	if option.Tolerance <= 0 {
		option.Tolerance = DefaultVideoTolerance
		if kind == base.MediaKindAudio {
			option.Tolerance = DefaultAudioTolerance
		}
	}
	if kind == base.MediaKindVideo {
		option.Mode = PlayoutModeTimestamp
	}

	var uk string
	if kind == base.MediaKindAudio {
		uk = base.GenUkAudioBuffer()
	} else {
		uk = base.GenUkVideoBuffer()
	}

	jb := &JitterBuffer{
		uniqueKey:    uk,
		kind:         kind,
		option:       option,
		driftTracker: NewDriftTracker(uk, option.TargetLatency),
		warmingUp:    true,
		syncing:      true,
	}
	if kind == base.MediaKindAudio {
		// 多留一个位置，容量由本模块自己控制
		jb.audioQueue = circularqueue.New(option.Capacity + 1)
	}
	Log.Infof("[%s] lifecycle new jitter buffer. kind=%s, option=%+v", uk, kind.ReadableString(), option)
	return jb
}

func (jb *JitterBuffer) UniqueKey() string {
	return jb.uniqueKey
}

func (jb *JitterBuffer) Kind() base.MediaKind {
	return jb.kind
}

// Append 帧的所有权移交给缓冲
func (jb *JitterBuffer) Append(frame base.TimedFrame) {
	jb.hasAppended = true
	jb.stat.appended.Increment()

	if jb.Len() >= jb.option.Capacity {
		jb.popFront()
		n := jb.stat.overflowed.Increment()
		Log.Warnf("[%s] over %d frames buffered, drop oldest. overflowed=%d", jb.uniqueKey, jb.option.Capacity, n)
	}

	if jb.kind == base.MediaKindAudio {
		_ = jb.audioQueue.PushBack(frame)
		jb.newestPts = frame.Pts
		return
	}

	// 插入到最后一个pts不大于它的帧之后
	i := sort.Search(len(jb.videoQueue), func(i int) bool {
		return jb.videoQueue[i].Pts > frame.Pts
	})
	jb.videoQueue = append(jb.videoQueue, base.TimedFrame{})
	copy(jb.videoQueue[i+1:], jb.videoQueue[i:])
	jb.videoQueue[i] = frame
}

// GetFrame 取出输出时间 `outputTs` 对应的帧
//
// 返回的帧时间戳被改写为 `outputTs` 。
// 没有新帧可用时，返回上一帧的拷贝（音频的payload置为静音）；还没有输出过任何帧时返回false
//
func (jb *JitterBuffer) GetFrame(outputTs float64) (base.TimedFrame, bool) {
	drift := jb.driftTracker.Drift()

	var chosen *base.TimedFrame
	consumed := 0
	for jb.Len() > 0 {
		next := jb.front()
		delta := next.Pts + drift - outputTs
		if jb.option.Mode == PlayoutModeSequential {
			if jb.bestFoundSequential(delta, chosen, drift, outputTs) {
				break
			}
		} else {
			// 第一个超前的帧
			if delta > 0 && (chosen != nil || delta > jb.option.Tolerance) {
				break
			}
		}
		f := jb.popFront()
		chosen = &f
		consumed++
		jb.warmingUp = false
	}

	if !jb.warmingUp {
		if consumed == 0 {
			jb.stat.duplicated.Increment()
		} else if consumed > 1 {
			jb.stat.dropped.Add(uint64(consumed - 1))
		}
		jb.logStatIfNeeded(outputTs, drift)
	}

	var out base.TimedFrame
	ok := true
	if chosen != nil {
		// 输出的帧移交给调用方，重复输出使用自己持有的拷贝
		latest := chosen.Clone()
		jb.latest = &latest
		out = *chosen
		jb.stat.emitted.Increment()
	} else if jb.latest != nil {
		out = jb.latest.Clone()
		if jb.kind == base.MediaKindAudio {
			clear(out.Payload)
		}
	} else {
		ok = false
	}
	if ok {
		out.Pts = outputTs
		out.Dts = outputTs
		out.HasDts = false
	}

	if !jb.warmingUp && jb.hasAppended {
		jb.hasAppended = false
		oldest, newest := jb.fillRange()
		if d, changed := jb.driftTracker.Update(outputTs, oldest, newest); changed && jb.option.OnDriftChanged != nil {
			jb.option.OnDriftChanged(d)
		}
	}
	return out, ok
}

// 顺序模式下，是否已经找到本次要输出的帧
func (jb *JitterBuffer) bestFoundSequential(delta float64, chosen *base.TimedFrame, drift, outputTs float64) bool {
	if jb.syncing {
		if delta <= 0 {
			return false
		}
		if chosen != nil {
			jb.syncing = false
		}
		return true
	}
	if chosen == nil {
		return false
	}
	if math.Abs(chosen.Pts+drift-outputTs) > sequentialResyncThreshold {
		jb.syncing = true
	}
	return true
}

func (jb *JitterBuffer) SetTargetLatency(latency float64) {
	jb.driftTracker.SetTargetFillLevel(latency)
}

func (jb *JitterBuffer) SetDrift(drift float64) {
	jb.driftTracker.SetDrift(drift)
}

func (jb *JitterBuffer) Drift() float64 {
	return jb.driftTracker.Drift()
}

func (jb *JitterBuffer) DriftTracker() *DriftTracker {
	return jb.driftTracker
}

// IsInitialized 是否已经输出过真实的帧
func (jb *JitterBuffer) IsInitialized() bool {
	return !jb.warmingUp
}

func (jb *JitterBuffer) Len() int {
	if jb.kind == base.MediaKindAudio {
		return jb.audioQueue.Size()
	}
	return len(jb.videoQueue)
}

func (jb *JitterBuffer) Stats() JitterBufferStat {
	return JitterBufferStat{
		Appended:   jb.stat.appended.Load(),
		Emitted:    jb.stat.emitted.Load(),
		Duplicated: jb.stat.duplicated.Load(),
		Dropped:    jb.stat.dropped.Load(),
		Overflowed: jb.stat.overflowed.Load(),
	}
}

func (jb *JitterBuffer) front() base.TimedFrame {
	if jb.kind == base.MediaKindAudio {
		v, _ := jb.audioQueue.Front()
		return v.(base.TimedFrame)
	}
	return jb.videoQueue[0]
}

func (jb *JitterBuffer) popFront() base.TimedFrame {
	if jb.kind == base.MediaKindAudio {
		v, _ := jb.audioQueue.PopFront()
		return v.(base.TimedFrame)
	}
	f := jb.videoQueue[0]
	jb.videoQueue[0] = base.TimedFrame{}
	jb.videoQueue = jb.videoQueue[1:]
	return f
}

func (jb *JitterBuffer) fillRange() (oldest, newest float64) {
	if jb.Len() == 0 {
		return 0, 0
	}
	oldest = jb.front().Pts
	if jb.kind == base.MediaKindAudio {
		return oldest, jb.newestPts
	}
	return oldest, jb.videoQueue[len(jb.videoQueue)-1].Pts
}

func (jb *JitterBuffer) logStatIfNeeded(outputTs, drift float64) {
	if outputTs-jb.lastStatLogTime < statLogInterval {
		return
	}
	jb.lastStatLogTime = outputTs
	oldest, newest := jb.fillRange()
	stat := jb.Stats()
	Log.Debugf("[%s] %d duplicated and %d dropped. output=%.3f, range=%.3f..%.3f(%.3f), len=%d",
		jb.uniqueKey, stat.Duplicated, stat.Dropped, outputTs, oldest+drift, newest+drift, newest-oldest, jb.Len())
}
