// Copyright 2024, Chef.  All rights reserved.
// https://github.com/q191201771/lalts
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package main

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/q191201771/lalts/pkg/avsync"
	"github.com/q191201771/lalts/pkg/base"
	"github.com/q191201771/lalts/pkg/h2645"
	"github.com/q191201771/lalts/pkg/mpegts"
	"github.com/q191201771/lalts/pkg/remux"
	"github.com/q191201771/naza/pkg/nazaatomic"
	"github.com/q191201771/naza/pkg/nazalog"
)

// Probe 读取TS文件 -> MpegtsDemuxer -> Synchronizer，可选地重新封装输出
//
// MpegtsDemuxer 和 MpegtsMuxer 只在feed协程中使用；统计值可以在任意协程读取
//
type Probe struct {
	config   *Config
	streams  StreamSummary
	sourceId uuid.UUID

	demuxer *remux.MpegtsDemuxer
	sync    *avsync.Synchronizer

	muxer      *remux.MpegtsMuxer
	fileWriter mpegts.FileWriter

	// 最近一个输出帧的时间戳，用于按实时速度输入
	latestPts float64

	stat struct {
		inputBytes       nazaatomic.Uint64
		syncAudioFrames  nazaatomic.Uint64
		syncVideoFrames  nazaatomic.Uint64
		remuxPackets     nazaatomic.Uint64
		latencyChanges   nazaatomic.Uint64
		videoWidth       nazaatomic.Uint64
		videoHeight      nazaatomic.Uint64
		appendFailures   nazaatomic.Uint64
		remuxWriteErrors nazaatomic.Uint64
	}
}

type ProbeStat struct {
	Input            string            `json:"input"`
	InputBytes       uint64            `json:"input_bytes"`
	Demuxer          remux.DemuxerStat `json:"demuxer"`
	Streams          StreamSummary     `json:"streams"`
	Synchronizer     SyncStat          `json:"synchronizer"`
	VideoWidth       uint64            `json:"video_width"`
	VideoHeight      uint64            `json:"video_height"`
	RemuxPackets     uint64            `json:"remux_packets"`
	RemuxWriteErrors uint64            `json:"remux_write_errors"`
	LatencyChanges   uint64            `json:"latency_changes"`
}

type SyncStat struct {
	Sources        int    `json:"sources"`
	AudioFrames    uint64 `json:"audio_frames"`
	VideoFrames    uint64 `json:"video_frames"`
	AppendFailures uint64 `json:"append_failures"`
}

func NewProbe(config *Config, streams StreamSummary) *Probe {
	p := &Probe{
		config:   config,
		streams:  streams,
		sourceId: uuid.New(),
	}
	p.sync = avsync.NewSynchronizer(p, func(option *avsync.SynchronizerOption) {
		option.TargetLatency = config.TargetLatencySec
	})

	decoderFactory := remux.DefaultAudioDecoderFactory
	if config.RemuxOutput != "" {
		// 重新封装需要压缩数据
		decoderFactory = remux.PassthroughAudioDecoderFactory
		p.muxer = remux.NewMpegtsMuxer(p, func(option *remux.MuxerOption) {
			option.ExpectAudio = streams.AudioPid != 0
			option.ExpectVideo = streams.VideoPid != 0
		})
	}
	p.demuxer = remux.NewMpegtsDemuxer(p, func(option *remux.DemuxerOption) {
		option.TargetLatency = config.TargetLatencySec
		option.AudioDecoderFactory = decoderFactory
	})
	return p
}

// RunSynchronizer 阻塞直到ctx结束
func (p *Probe) RunSynchronizer(ctx context.Context) error {
	return p.sync.Run(ctx)
}

// Feed 按 ChunkSize 读取文件输入 MpegtsDemuxer ，文件读完或者ctx结束时返回
func (p *Probe) Feed(ctx context.Context) error {
	fp, err := os.Open(p.config.Input)
	if err != nil {
		return err
	}
	defer fp.Close()

	if err = p.sync.AddSource(p.sourceId); err != nil {
		return err
	}
	if p.muxer != nil {
		if err = p.fileWriter.Create(p.config.RemuxOutput); err != nil {
			return err
		}
		defer p.fileWriter.Dispose()
		p.muxer.Start()
		defer p.muxer.Stop()
	}

	buf := make([]byte, p.config.ChunkSize)
	for {
		if ctx.Err() != nil {
			return nil
		}
		n, err := fp.Read(buf)
		if n > 0 {
			p.stat.inputBytes.Add(uint64(n))
			if ferr := p.demuxer.Feed(buf[:n]); ferr != nil {
				return ferr
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		if p.config.Realtime {
			p.pace(ctx)
		}
	}

	if p.muxer != nil {
		p.muxer.Flush()
		nazalog.Infof("remux done. file=%s, packets=%d", p.fileWriter.Name(), p.fileWriter.PacketCount())
	}
	p.demuxer.Stop()
	return nil
}

// Drain 等待缓冲中的帧输出完
func (p *Probe) Drain(ctx context.Context) {
	d := time.Duration((p.config.TargetLatencySec + 0.5) * float64(time.Second))
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
	_ = p.sync.RemoveSource(p.sourceId)
}

func (p *Probe) Stat() ProbeStat {
	return ProbeStat{
		Input:      p.config.Input,
		InputBytes: p.stat.inputBytes.Load(),
		Demuxer:    p.demuxer.Stat(),
		Streams:    p.streams,
		Synchronizer: SyncStat{
			Sources:        p.sync.SourceNum(),
			AudioFrames:    p.stat.syncAudioFrames.Load(),
			VideoFrames:    p.stat.syncVideoFrames.Load(),
			AppendFailures: p.stat.appendFailures.Load(),
		},
		VideoWidth:       p.stat.videoWidth.Load(),
		VideoHeight:      p.stat.videoHeight.Load(),
		RemuxPackets:     p.stat.remuxPackets.Load(),
		RemuxWriteErrors: p.stat.remuxWriteErrors.Load(),
		LatencyChanges:   p.stat.latencyChanges.Load(),
	}
}

// pace 输入比输出时间超前太多时等待
func (p *Probe) pace(ctx context.Context) {
	ahead := p.latestPts - avsync.MonotonicClock() - p.config.TargetLatencySec
	if ahead <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(time.Duration(ahead * float64(time.Second))):
	}
}

// ----- remux.IMpegtsDemuxerObserver ----------------------------------------------------------------------------------

func (p *Probe) OnAudioFormat(format remux.AudioFormat) {
	nazalog.Infof("audio format. %s", format.DebugString())
	if p.muxer == nil {
		return
	}
	err := p.muxer.SetAudioConfig(remux.AudioConfig{
		Codec:           format.Codec,
		AudioObjectType: format.AudioObjectType,
		SampleRate:      format.SampleRate,
		Channels:        format.Channels,
	})
	if err != nil {
		nazalog.Warnf("set remux audio config failed. err=%+v", err)
	}
}

func (p *Probe) OnAudioFrame(frame base.TimedFrame) {
	p.latestPts = frame.Pts
	if p.muxer != nil && frame.Payload != nil {
		if err := p.muxer.WriteAudio(frame); err != nil {
			nazalog.Debugf("remux write audio failed. err=%+v", err)
		}
	}
	if err := p.sync.AppendAudio(p.sourceId, frame); err != nil {
		p.stat.appendFailures.Increment()
	}
}

func (p *Probe) OnVideoFormat(fd *h2645.FormatDescription) {
	nazalog.Infof("video format. %s", fd.DebugString())
	p.stat.videoWidth.Store(uint64(fd.Width))
	p.stat.videoHeight.Store(uint64(fd.Height))
	if p.muxer == nil {
		return
	}
	if err := p.muxer.SetVideoConfig(fd); err != nil {
		nazalog.Warnf("set remux video config failed. err=%+v", err)
	}
}

func (p *Probe) OnVideoFrame(frame base.TimedFrame) {
	p.latestPts = frame.Pts
	if p.muxer != nil {
		if err := p.muxer.WriteVideo(frame); err != nil {
			nazalog.Debugf("remux write video failed. err=%+v", err)
		}
	}
	if err := p.sync.AppendVideo(p.sourceId, frame); err != nil {
		p.stat.appendFailures.Increment()
	}
}

func (p *Probe) OnTargetLatencies(audio, video float64) {
	p.stat.latencyChanges.Increment()
	if err := p.sync.SetTargetLatencies(p.sourceId, audio, video); err != nil {
		nazalog.Warnf("set target latencies failed. err=%+v", err)
	}
}

// ----- remux.IMpegtsMuxerObserver ------------------------------------------------------------------------------------

func (p *Probe) OnTsChunk(b []byte) {
	if err := p.fileWriter.Write(b); err != nil {
		p.stat.remuxWriteErrors.Increment()
		return
	}
	p.stat.remuxPackets.Add(uint64(len(b) / mpegts.TsPacketSize))
}

// ----- avsync.ISynchronizerObserver ----------------------------------------------------------------------------------

func (p *Probe) OnFrame(id uuid.UUID, kind base.MediaKind, frame base.TimedFrame) {
	if kind == base.MediaKindAudio {
		p.stat.syncAudioFrames.Increment()
	} else {
		p.stat.syncVideoFrames.Increment()
	}
}
