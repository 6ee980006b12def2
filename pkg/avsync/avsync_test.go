// Copyright 2024, Chef.  All rights reserved.
// https://github.com/q191201771/lalts
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package avsync_test

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/q191201771/lalts/pkg/avsync"
	"github.com/q191201771/lalts/pkg/base"
	"github.com/q191201771/naza/pkg/assert"
)

func TestWrappingTimestamp(t *testing.T) {
	in := []float64{30, 1023, 500, 700, 1000, 30, 1000, 500, 1000, 0, 1022, 1022}
	expected := []float64{30, -1, 500, 700, 1000, 1054, 1000, 1524, 2024, 2048, 2046, 2046}

	w := avsync.NewWrappingTimestamp("test", 1024)
	for i := range in {
		assert.Equal(t, expected[i], w.Update(in[i]))
	}

	w.Reset()
	assert.Equal(t, float64(1000), w.Update(1000))
	assert.Equal(t, float64(1054), w.Update(30))
}

func newAudioFrame(pts float64, id byte) base.TimedFrame {
	return base.TimedFrame{
		Payload: []byte{id},
		Pts:     pts,
		Dts:     pts,
	}
}

func TestJitterBuffer_Normal(t *testing.T) {
	jb := avsync.NewJitterBuffer(base.MediaKindAudio)
	jb.Append(newAudioFrame(1.000, 1))
	jb.Append(newAudioFrame(1.021, 2))
	jb.Append(newAudioFrame(1.042, 3))
	assert.Equal(t, 3, jb.Len())
	assert.Equal(t, false, jb.IsInitialized())

	for i, ts := range []float64{1.000, 1.021, 1.042} {
		f, ok := jb.GetFrame(ts)
		assert.Equal(t, true, ok)
		assert.Equal(t, byte(i+1), f.Payload[0])
		assert.Equal(t, ts, f.Pts)
	}
	assert.Equal(t, 0, jb.Len())
	assert.Equal(t, true, jb.IsInitialized())

	// 欠载，复制上一帧，音频置为静音
	f, ok := jb.GetFrame(1.063)
	assert.Equal(t, true, ok)
	assert.Equal(t, []byte{0}, f.Payload)
	assert.Equal(t, 1.063, f.Pts)
	assert.Equal(t, 0, jb.Len())

	stat := jb.Stats()
	assert.Equal(t, uint64(3), stat.Appended)
	assert.Equal(t, uint64(3), stat.Emitted)
	assert.Equal(t, uint64(1), stat.Duplicated)
	assert.Equal(t, uint64(0), stat.Dropped)
}

func TestJitterBuffer_WarmingUp(t *testing.T) {
	jb := avsync.NewJitterBuffer(base.MediaKindVideo)
	_, ok := jb.GetFrame(1.0)
	assert.Equal(t, false, ok)

	jb.Append(base.TimedFrame{Payload: []byte{1}, Pts: 2.0, Dts: 2.0, Key: true})
	_, ok = jb.GetFrame(1.0)
	assert.Equal(t, false, ok)
	assert.Equal(t, uint64(0), jb.Stats().Duplicated)

	f, ok := jb.GetFrame(2.0)
	assert.Equal(t, true, ok)
	assert.Equal(t, true, f.Key)

	// 视频复制时保留payload
	f, ok = jb.GetFrame(2.1)
	assert.Equal(t, true, ok)
	assert.Equal(t, []byte{1}, f.Payload)
}

func TestJitterBuffer_EmittedFrameOwnership(t *testing.T) {
	jb := avsync.NewJitterBuffer(base.MediaKindVideo)
	jb.Append(base.TimedFrame{Payload: []byte{1, 2, 3}, Pts: 1.0, Dts: 1.0, Key: true})

	f, ok := jb.GetFrame(1.0)
	assert.Equal(t, true, ok)
	// 调用方改写已输出的帧，不影响之后的重复帧
	f.Payload[0] = 0xFF

	f, ok = jb.GetFrame(1.1)
	assert.Equal(t, true, ok)
	assert.Equal(t, []byte{1, 2, 3}, f.Payload)
	f.Payload[1] = 0xFF

	f, ok = jb.GetFrame(1.2)
	assert.Equal(t, true, ok)
	assert.Equal(t, []byte{1, 2, 3}, f.Payload)
	assert.Equal(t, uint64(2), jb.Stats().Duplicated)
}

var gapPts = []float64{1.000, 1.021, 1.210, 1.231, 1.252, 1.273, 1.294}

var gapOutputs = []float64{1.000, 1.021, 1.042, 1.063, 1.084, 1.105, 1.126, 1.147, 1.168, 1.189, 1.210, 1.231, 1.252, 1.273, 1.294}

func TestJitterBuffer_Gap(t *testing.T) {
	jb := avsync.NewJitterBuffer(base.MediaKindAudio)
	for i, pts := range gapPts {
		jb.Append(newAudioFrame(pts, byte(i+1)))
	}

	// 0表示静音的重复帧
	expected := []byte{1, 2, 0, 0, 0, 0, 0, 0, 0, 0, 3, 4, 5, 6, 7}
	for i, ts := range gapOutputs {
		f, ok := jb.GetFrame(ts)
		assert.Equal(t, true, ok)
		assert.Equal(t, expected[i], f.Payload[0])
	}
	assert.Equal(t, 0, jb.Len())
	assert.Equal(t, uint64(8), jb.Stats().Duplicated)
}

func TestJitterBuffer_SequentialGap(t *testing.T) {
	jb := avsync.NewJitterBuffer(base.MediaKindAudio, func(option *avsync.JitterBufferOption) {
		option.Mode = avsync.PlayoutModeSequential
	})
	for i, pts := range gapPts {
		jb.Append(newAudioFrame(pts, byte(i+1)))
	}

	// 顺序模式下，缺口后的第一帧立即输出，然后等待时间戳追上
	expected := []byte{1, 2, 3, 0, 0, 0, 0, 0, 0, 0, 0, 4, 5, 6, 7}
	for i, ts := range gapOutputs {
		f, ok := jb.GetFrame(ts)
		assert.Equal(t, true, ok)
		assert.Equal(t, expected[i], f.Payload[0])
	}
	assert.Equal(t, 0, jb.Len())
}

func TestJitterBuffer_SequentialBadTimestamps(t *testing.T) {
	pts := []float64{
		565.064, 565.097, 565.097, 565.131, 565.164, 565.164, 565.197, 565.197, 565.231, 565.231,
		565.264, 565.298, 565.331, 565.331, 565.364, 565.398, 565.398, 565.431, 565.464, 565.464,
		565.498, 565.531, 565.531, 565.531, 565.565, 565.598,
	}
	jb := avsync.NewJitterBuffer(base.MediaKindAudio, func(option *avsync.JitterBufferOption) {
		option.Mode = avsync.PlayoutModeSequential
	})
	for i := range pts {
		jb.Append(newAudioFrame(pts[i], byte(i+1)))
	}
	assert.Equal(t, 26, jb.Len())

	// 时间戳抖动，但每次仍然只取一帧
	ts := 565.064
	for i := range pts {
		f, ok := jb.GetFrame(ts)
		assert.Equal(t, true, ok)
		assert.Equal(t, byte(i+1), f.Payload[0])
		ts += 0.021
	}
	assert.Equal(t, 0, jb.Len())
	assert.Equal(t, uint64(0), jb.Stats().Dropped)
}

func TestJitterBuffer_Drift(t *testing.T) {
	jb := avsync.NewJitterBuffer(base.MediaKindAudio)
	ts := func(i int) float64 {
		return 1.000 + float64(i)*0.021
	}
	for i := 0; i < 30; i++ {
		jb.Append(newAudioFrame(ts(i), byte(i+1)))
	}

	f, _ := jb.GetFrame(ts(0))
	assert.Equal(t, byte(1), f.Payload[0])

	// 帧整体推后两个间隔
	jb.SetDrift(0.042)
	f, _ = jb.GetFrame(ts(1))
	assert.Equal(t, byte(0), f.Payload[0])
	f, _ = jb.GetFrame(ts(2))
	assert.Equal(t, byte(0), f.Payload[0])
	f, _ = jb.GetFrame(ts(3))
	assert.Equal(t, byte(2), f.Payload[0])

	// 恢复后追赶，多余的帧被丢弃，之后一一对应
	jb.SetDrift(0)
	f, _ = jb.GetFrame(ts(4))
	assert.Equal(t, byte(5), f.Payload[0])
	assert.Equal(t, uint64(2), jb.Stats().Dropped)
	for i := 5; i < 10; i++ {
		f, _ = jb.GetFrame(ts(i))
		assert.Equal(t, byte(i+1), f.Payload[0])
	}
}

func TestJitterBuffer_VideoOutOfOrder(t *testing.T) {
	jb := avsync.NewJitterBuffer(base.MediaKindVideo)
	for i, pts := range []float64{1.0, 1.066, 1.033, 1.1} {
		jb.Append(base.TimedFrame{Payload: []byte{byte(i + 1)}, Pts: pts})
	}
	expected := []byte{1, 3, 2, 4}
	for i, ts := range []float64{1.0, 1.033, 1.066, 1.1} {
		f, ok := jb.GetFrame(ts)
		assert.Equal(t, true, ok)
		assert.Equal(t, expected[i], f.Payload[0])
	}
}

func TestJitterBuffer_Capacity(t *testing.T) {
	jb := avsync.NewJitterBuffer(base.MediaKindAudio)
	for i := 0; i < avsync.DefaultAudioCapacity+50; i++ {
		jb.Append(newAudioFrame(float64(i)*0.021, 1))
	}
	assert.Equal(t, avsync.DefaultAudioCapacity, jb.Len())
	assert.Equal(t, uint64(50), jb.Stats().Overflowed)

	vjb := avsync.NewJitterBuffer(base.MediaKindVideo, func(option *avsync.JitterBufferOption) {
		option.Capacity = 10
	})
	for i := 0; i < 25; i++ {
		vjb.Append(base.TimedFrame{Pts: float64(i) * 0.033})
		assert.Equal(t, true, vjb.Len() <= 10)
	}
	assert.Equal(t, uint64(15), vjb.Stats().Overflowed)
}

func TestDriftTracker(t *testing.T) {
	d := avsync.NewDriftTracker("test", 0.5)
	assert.Equal(t, 0.5, d.EstimatedFillLevel())

	// 缓冲一直为空，水位持续下降，10秒后drift增大
	var changed bool
	var drift float64
	for now := 0.0; now <= 10.0; now += 0.5 {
		drift, changed = d.Update(now, 0, 0)
		if now < 10.0 {
			assert.Equal(t, false, changed)
		}
	}
	assert.Equal(t, true, changed)
	assert.Equal(t, avsync.DriftDirectionIncreasing, d.Direction())
	assert.Equal(t, true, math.Abs(drift-0.1297) < 0.001)
	assert.Equal(t, drift, d.Drift())

	// 间隔不足0.5秒，不更新
	est := d.EstimatedFillLevel()
	_, changed = d.Update(10.1, 0, 0)
	assert.Equal(t, false, changed)
	assert.Equal(t, est, d.EstimatedFillLevel())

	d.SetDrift(0)
	assert.Equal(t, avsync.DriftDirectionNone, d.Direction())
	assert.Equal(t, float64(0), d.Drift())

	d.SetTargetFillLevel(1.0)
	assert.Equal(t, 1.0, d.TargetFillLevel())
	assert.Equal(t, 1.0, d.EstimatedFillLevel())
}

func TestTargetLatenciesSynchronizer(t *testing.T) {
	s := avsync.NewTargetLatenciesSynchronizer(0.1)

	_, _, ok := s.Update()
	assert.Equal(t, false, ok)
	s.SetLatestAudioPts(1.0)
	_, _, ok = s.Update()
	assert.Equal(t, false, ok)

	// 音频持续领先1秒，平滑后第6次超过阈值
	for i := 0; i < 5; i++ {
		s.SetLatestAudioPts(1.0)
		s.SetLatestVideoPts(0.0)
		_, _, ok = s.Update()
		assert.Equal(t, false, ok)
	}
	s.SetLatestAudioPts(1.0)
	s.SetLatestVideoPts(0.0)
	audio, video, ok := s.Update()
	assert.Equal(t, true, ok)
	assert.Equal(t, 0.1, video)
	assert.Equal(t, true, math.Abs(audio-(0.1+(1-math.Pow(0.98, 6)))) < 1e-9)
}

func TestRegistry(t *testing.T) {
	r := avsync.NewRegistry()
	a, b, c := uuid.New(), uuid.New(), uuid.New()

	ha, err := r.Add(a, avsync.NewJitterBuffer(base.MediaKindAudio))
	assert.Equal(t, nil, err)
	_, err = r.Add(b, avsync.NewJitterBuffer(base.MediaKindAudio))
	assert.Equal(t, nil, err)
	_, err = r.Add(a, avsync.NewJitterBuffer(base.MediaKindAudio))
	assert.Equal(t, true, errors.Is(err, avsync.ErrSourceExist))
	assert.Equal(t, 2, r.Len())

	h, ok := r.Lookup(a)
	assert.Equal(t, true, ok)
	assert.Equal(t, ha, h)
	jb, err := r.Get(ha)
	assert.Equal(t, nil, err)
	assert.IsNotNil(t, jb)

	assert.Equal(t, nil, r.Remove(a))
	assert.Equal(t, true, errors.Is(r.Remove(a), avsync.ErrSourceNotFound))
	_, err = r.Get(ha)
	assert.Equal(t, true, errors.Is(err, avsync.ErrStaleHandle))

	// 槽位复用，旧的handle仍然失效
	hc, err := r.Add(c, avsync.NewJitterBuffer(base.MediaKindAudio))
	assert.Equal(t, nil, err)
	assert.Equal(t, false, hc == ha)
	_, err = r.Get(ha)
	assert.Equal(t, true, errors.Is(err, avsync.ErrStaleHandle))

	var ids []uuid.UUID
	r.Range(func(id uuid.UUID, buffer *avsync.JitterBuffer) {
		ids = append(ids, id)
	})
	assert.Equal(t, []uuid.UUID{c, b}, ids)

	_, err = r.GetById(a)
	assert.Equal(t, true, errors.Is(err, avsync.ErrSourceNotFound))
}

func TestLoop(t *testing.T) {
	l := avsync.NewLoop("test", 1, 0, nil)
	assert.Equal(t, nil, l.Dispatch(func() {}))
	assert.Equal(t, avsync.ErrLoopQueueFull, l.Dispatch(func() {}))

	ticks := make(chan struct{}, 16)
	l = avsync.NewLoop("test", 8, 5*time.Millisecond, func() {
		select {
		case ticks <- struct{}{}:
		default:
		}
	})
	var order []int
	done := make(chan struct{})
	for i := 0; i < 3; i++ {
		assert.Equal(t, nil, l.Dispatch(func() {
			order = append(order, i)
			if i == 2 {
				close(done)
			}
		}))
	}

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() {
		runErr <- l.Run(ctx)
	}()
	<-done
	<-ticks
	cancel()
	assert.Equal(t, nil, <-runErr)
	assert.Equal(t, []int{0, 1, 2}, order)
}

type frameObserver struct {
	ch chan base.TimedFrame
}

func (o *frameObserver) OnFrame(id uuid.UUID, kind base.MediaKind, frame base.TimedFrame) {
	if kind != base.MediaKindAudio {
		return
	}
	select {
	case o.ch <- frame:
	default:
	}
}

func TestSynchronizer(t *testing.T) {
	observer := &frameObserver{ch: make(chan base.TimedFrame, 64)}
	s := avsync.NewSynchronizer(observer, func(option *avsync.SynchronizerOption) {
		option.AudioTickInterval = 5 * time.Millisecond
		option.VideoTickInterval = 5 * time.Millisecond
		option.Clock = func() float64 {
			return 100.0
		}
	})

	id := uuid.New()
	assert.Equal(t, nil, s.AddSource(id))
	assert.Equal(t, true, errors.Is(s.AddSource(id), avsync.ErrSourceExist))
	assert.Equal(t, true, errors.Is(s.AppendAudio(uuid.New(), newAudioFrame(100.0, 1)), avsync.ErrSourceNotFound))
	assert.Equal(t, nil, s.SetTargetLatencies(id, 0.2, 0.1))
	assert.Equal(t, nil, s.AppendAudio(id, newAudioFrame(100.0, 7)))
	assert.Equal(t, nil, s.AppendVideo(id, base.TimedFrame{Pts: 100.0, Key: true}))
	assert.Equal(t, 1, s.SourceNum())

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() {
		runErr <- s.Run(ctx)
	}()

	select {
	case f := <-observer.ch:
		assert.Equal(t, byte(7), f.Payload[0])
		assert.Equal(t, 100.0, f.Pts)
	case <-time.After(5 * time.Second):
		t.Fatal("no audio frame emitted")
	}

	assert.Equal(t, nil, s.RemoveSource(id))
	assert.Equal(t, true, errors.Is(s.RemoveSource(id), avsync.ErrSourceNotFound))
	assert.Equal(t, 0, s.SourceNum())

	cancel()
	assert.Equal(t, nil, <-runErr)
}

type idFrame struct {
	id    uuid.UUID
	frame base.TimedFrame
}

type idFrameObserver struct {
	ch chan idFrame
}

func (o *idFrameObserver) OnFrame(id uuid.UUID, kind base.MediaKind, frame base.TimedFrame) {
	if kind != base.MediaKindAudio {
		return
	}
	select {
	case o.ch <- idFrame{id: id, frame: frame}:
	default:
	}
}

// 队列满时重试，直到 Loop 把队列消费掉
func dispatchRetry(t *testing.T, fn func() error) {
	deadline := time.Now().Add(5 * time.Second)
	for {
		err := fn()
		if !errors.Is(err, avsync.ErrLoopQueueFull) {
			assert.Equal(t, nil, err)
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("loop queue still full")
		}
		time.Sleep(time.Millisecond)
	}
}

func waitAudioFrame(t *testing.T, ch chan idFrame, id uuid.UUID, payload byte) {
	timeout := time.After(5 * time.Second)
	for {
		select {
		case item := <-ch:
			if item.id == id && len(item.frame.Payload) > 0 && item.frame.Payload[0] == payload {
				return
			}
		case <-timeout:
			t.Fatalf("no audio frame emitted. id=%s, payload=%d", id, payload)
		}
	}
}

func TestSynchronizer_QueueFullRollback(t *testing.T) {
	observer := &idFrameObserver{ch: make(chan idFrame, 256)}
	s := avsync.NewSynchronizer(observer, func(option *avsync.SynchronizerOption) {
		option.AudioTickInterval = 5 * time.Millisecond
		option.VideoTickInterval = 5 * time.Millisecond
		option.TaskQueueSize = 2
		option.Clock = func() float64 {
			return 100.0
		}
	})

	id1 := uuid.New()
	id2 := uuid.New()
	assert.Equal(t, nil, s.AddSource(id1))
	// 视频队列填满
	assert.Equal(t, nil, s.AppendVideo(id1, base.TimedFrame{Pts: 100.0, Key: true}))

	// 音频投递成功，视频投递失败，整体回滚
	err := s.AddSource(id2)
	assert.Equal(t, true, errors.Is(err, avsync.ErrLoopQueueFull))
	assert.Equal(t, 1, s.SourceNum())
	assert.Equal(t, true, errors.Is(s.AppendAudio(id2, newAudioFrame(100.0, 1)), avsync.ErrSourceNotFound))

	// 音频队列已满，删除失败，源保持登记
	err = s.RemoveSource(id1)
	assert.Equal(t, true, errors.Is(err, avsync.ErrLoopQueueFull))
	assert.Equal(t, 1, s.SourceNum())

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() {
		runErr <- s.Run(ctx)
	}()

	// id1的缓冲没有被删除
	dispatchRetry(t, func() error {
		return s.AppendAudio(id1, newAudioFrame(100.0, 7))
	})
	waitAudioFrame(t, observer.ch, id1, 7)

	// 被回滚的id可以重新添加
	dispatchRetry(t, func() error {
		return s.AddSource(id2)
	})
	dispatchRetry(t, func() error {
		return s.AppendAudio(id2, newAudioFrame(100.0, 9))
	})
	waitAudioFrame(t, observer.ch, id2, 9)
	assert.Equal(t, 2, s.SourceNum())

	cancel()
	assert.Equal(t, nil, <-runErr)
}
