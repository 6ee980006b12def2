// Copyright 2024, Chef.  All rights reserved.
// https://github.com/q191201771/lalts
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package avsync

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/q191201771/lalts/pkg/base"
	"golang.org/x/sync/errgroup"
)

// ISynchronizerObserver
//
// 音频帧和视频帧分别在各自的 Loop 协程中回调
//
type ISynchronizerObserver interface {
	OnFrame(id uuid.UUID, kind base.MediaKind, frame base.TimedFrame)
}

type SynchronizerOption struct {
	AudioTickInterval time.Duration // 默认 1024/48000 秒，即一个AAC帧
	VideoTickInterval time.Duration // 默认 1/30 秒
	TaskQueueSize     int
	TargetLatency     float64 // 单位秒

	AudioPlayoutMode PlayoutMode

	Clock Clock
}

var defaultSynchronizerOption = SynchronizerOption{
	AudioTickInterval: time.Second * 1024 / 48000,
	VideoTickInterval: time.Second / 30,
	TaskQueueSize:     1024,
	TargetLatency:     DefaultTargetLatency,
	AudioPlayoutMode:  PlayoutModeTimestamp,
	Clock:             MonotonicClock,
}

type ModSynchronizerOption func(option *SynchronizerOption)

// Synchronizer 多路源的音视频对齐输出
//
// 音频和视频各有一个 Loop 和一个 Registry ，缓冲的修改只发生在所属的 Loop 中。
// 一路缓冲的drift变化，投递到另一种媒体的 Loop 中设置。
//
type Synchronizer struct {
	uniqueKey string
	option    SynchronizerOption
	observer  ISynchronizerObserver

	audioLoop     *Loop
	videoLoop     *Loop
	audioRegistry *Registry // 只在audioLoop中访问
	videoRegistry *Registry // 只在videoLoop中访问
	audioTimeline outputTimeline
	videoTimeline outputTimeline

	// 源的登记序号。投递到 Loop 的增删任务执行时与之比对，
	// 投递失败回滚时删除或恢复登记，已经投递的任务随之失效
	mutex   sync.Mutex
	sources map[uuid.UUID]uint64
	seq     uint64
}

func NewSynchronizer(observer ISynchronizerObserver, modOptions ...ModSynchronizerOption) *Synchronizer {
	option := defaultSynchronizerOption
	for _, fn := range modOptions {
		fn(&option)
	}
	if option.Clock == nil {
		option.Clock = MonotonicClock
	}

	uk := base.GenUkSynchronizer()
	s := &Synchronizer{
		uniqueKey:     uk,
		option:        option,
		observer:      observer,
		audioRegistry: NewRegistry(),
		videoRegistry: NewRegistry(),
		audioTimeline: newOutputTimeline(option.Clock, option.AudioTickInterval.Seconds()),
		videoTimeline: newOutputTimeline(option.Clock, option.VideoTickInterval.Seconds()),
		sources:       make(map[uuid.UUID]uint64),
	}
	s.audioLoop = NewLoop(uk+"-audio", option.TaskQueueSize, option.AudioTickInterval, s.onAudioTick)
	s.videoLoop = NewLoop(uk+"-video", option.TaskQueueSize, option.VideoTickInterval, s.onVideoTick)
	Log.Infof("[%s] lifecycle new synchronizer. option=%+v", uk, option)
	return s
}

// Run 阻塞直到ctx结束
func (s *Synchronizer) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.audioLoop.Run(gctx)
	})
	g.Go(func() error {
		return s.videoLoop.Run(gctx)
	})
	err := g.Wait()
	Log.Infof("[%s] synchronizer done. err=%+v", s.uniqueKey, err)
	return err
}

func (s *Synchronizer) AddSource(id uuid.UUID) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if _, exist := s.sources[id]; exist {
		return fmt.Errorf("%w. id=%s", ErrSourceExist, id)
	}
	s.seq++
	seq := s.seq
	s.sources[id] = seq

	audio := NewJitterBuffer(base.MediaKindAudio, func(option *JitterBufferOption) {
		option.TargetLatency = s.option.TargetLatency
		option.Mode = s.option.AudioPlayoutMode
		option.OnDriftChanged = func(drift float64) {
			s.propagateDrift(id, base.MediaKindVideo, drift)
		}
	})
	video := NewJitterBuffer(base.MediaKindVideo, func(option *JitterBufferOption) {
		option.TargetLatency = s.option.TargetLatency
		option.OnDriftChanged = func(drift float64) {
			s.propagateDrift(id, base.MediaKindAudio, drift)
		}
	})

	err := s.audioLoop.Dispatch(s.addBufferTask(s.audioRegistry, id, seq, audio))
	if err == nil {
		err = s.videoLoop.Dispatch(s.addBufferTask(s.videoRegistry, id, seq, video))
	}
	if err != nil {
		delete(s.sources, id)
		Log.Warnf("[%s] add source failed, rollback. id=%s, err=%+v", s.uniqueKey, id, err)
		return err
	}
	Log.Infof("[%s] add source. id=%s", s.uniqueKey, id)
	return nil
}

func (s *Synchronizer) RemoveSource(id uuid.UUID) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	seq, exist := s.sources[id]
	if !exist {
		return fmt.Errorf("%w. id=%s", ErrSourceNotFound, id)
	}
	delete(s.sources, id)

	err := s.audioLoop.Dispatch(s.removeBufferTask(s.audioRegistry, id, seq))
	if err == nil {
		err = s.videoLoop.Dispatch(s.removeBufferTask(s.videoRegistry, id, seq))
	}
	if err != nil {
		s.sources[id] = seq
		Log.Warnf("[%s] remove source failed, rollback. id=%s, err=%+v", s.uniqueKey, id, err)
		return err
	}
	Log.Infof("[%s] remove source. id=%s", s.uniqueKey, id)
	return nil
}

// AppendAudio 帧的所有权移交给 Synchronizer
func (s *Synchronizer) AppendAudio(id uuid.UUID, frame base.TimedFrame) error {
	return s.append(s.audioLoop, s.audioRegistry, id, frame)
}

func (s *Synchronizer) AppendVideo(id uuid.UUID, frame base.TimedFrame) error {
	return s.append(s.videoLoop, s.videoRegistry, id, frame)
}

// SetTargetLatencies 一般来自 remux.MpegtsDemuxer 的 OnTargetLatencies 回调
func (s *Synchronizer) SetTargetLatencies(id uuid.UUID, audio, video float64) error {
	if !s.hasSource(id) {
		return fmt.Errorf("%w. id=%s", ErrSourceNotFound, id)
	}
	if err := s.audioLoop.Dispatch(func() {
		if jb, err := s.audioRegistry.GetById(id); err == nil {
			jb.SetTargetLatency(audio)
		}
	}); err != nil {
		return err
	}
	return s.videoLoop.Dispatch(func() {
		if jb, err := s.videoRegistry.GetById(id); err == nil {
			jb.SetTargetLatency(video)
		}
	})
}

func (s *Synchronizer) SourceNum() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return len(s.sources)
}

func (s *Synchronizer) UniqueKey() string {
	return s.uniqueKey
}

// ---------------------------------------------------------------------------------------------------------------------

func (s *Synchronizer) append(loop *Loop, registry *Registry, id uuid.UUID, frame base.TimedFrame) error {
	if !s.hasSource(id) {
		return fmt.Errorf("%w. id=%s", ErrSourceNotFound, id)
	}
	return loop.Dispatch(func() {
		jb, err := registry.GetById(id)
		if err != nil {
			// 源已经被删除
			Log.Debugf("[%s] drop frame. err=%+v", s.uniqueKey, err)
			return
		}
		jb.Append(frame)
	})
}

// addBufferTask 在 Loop 中执行时，登记已被回滚则不添加
func (s *Synchronizer) addBufferTask(registry *Registry, id uuid.UUID, seq uint64, jb *JitterBuffer) func() {
	return func() {
		s.mutex.Lock()
		current, exist := s.sources[id]
		s.mutex.Unlock()
		if !exist || current != seq {
			return
		}
		if _, err := registry.Add(id, jb); err != nil {
			Log.Errorf("[%s] add buffer failed. kind=%s, err=%+v", s.uniqueKey, jb.Kind().ReadableString(), err)
		}
	}
}

// removeBufferTask 在 Loop 中执行时，源以同一个序号登记着（删除被回滚）则不删除
//
// 同一个id先删后加时，删除任务排在添加任务之前，删除的是旧的缓冲
//
func (s *Synchronizer) removeBufferTask(registry *Registry, id uuid.UUID, seq uint64) func() {
	return func() {
		s.mutex.Lock()
		current, exist := s.sources[id]
		s.mutex.Unlock()
		if exist && current == seq {
			return
		}
		_ = registry.Remove(id)
	}
}

func (s *Synchronizer) hasSource(id uuid.UUID) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	_, exist := s.sources[id]
	return exist
}

// propagateDrift 在drift发生变化的缓冲所在的 Loop 中被调用
func (s *Synchronizer) propagateDrift(id uuid.UUID, to base.MediaKind, drift float64) {
	loop, registry := s.audioLoop, s.audioRegistry
	if to == base.MediaKindVideo {
		loop, registry = s.videoLoop, s.videoRegistry
	}
	_ = loop.Dispatch(func() {
		jb, err := registry.GetById(id)
		if err != nil {
			return
		}
		Log.Debugf("[%s] propagate drift. id=%s, to=%s, drift=%.3f", s.uniqueKey, id, to.ReadableString(), drift)
		jb.SetDrift(drift)
	})
}

func (s *Synchronizer) onAudioTick() {
	s.tick(base.MediaKindAudio, s.audioRegistry, s.audioTimeline.next())
}

func (s *Synchronizer) onVideoTick() {
	s.tick(base.MediaKindVideo, s.videoRegistry, s.videoTimeline.next())
}

func (s *Synchronizer) tick(kind base.MediaKind, registry *Registry, outputTs float64) {
	registry.Range(func(id uuid.UUID, jb *JitterBuffer) {
		frame, ok := jb.GetFrame(outputTs)
		if !ok {
			return
		}
		s.observer.OnFrame(id, kind, frame)
	})
}

// ---------------------------------------------------------------------------------------------------------------------

const outputTimelineResyncThreshold = 0.03

// outputTimeline 输出时间按固定间隔递增，不受定时器抖动影响；和时钟偏差过大时重新对齐到时钟
type outputTimeline struct {
	clock    Clock
	interval float64
	start    float64
	n        int64
	inited   bool
}

func newOutputTimeline(clock Clock, interval float64) outputTimeline {
	return outputTimeline{
		clock:    clock,
		interval: interval,
	}
}

func (t *outputTimeline) next() float64 {
	now := t.clock()
	if !t.inited {
		t.inited = true
		t.start = now
		t.n = 0
		return now
	}
	t.n++
	ts := t.start + float64(t.n)*t.interval
	if math.Abs(ts-now) > outputTimelineResyncThreshold {
		Log.Debugf("output timeline resync. expected=%.3f, now=%.3f", ts, now)
		t.start = now
		t.n = 0
		ts = now
	}
	return ts
}
