// Copyright 2020, Chef.  All rights reserved.
// https://github.com/q191201771/lalts
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package remux

import (
	"math"

	"github.com/q191201771/lalts/pkg/aac"
	"github.com/q191201771/lalts/pkg/avc"
	"github.com/q191201771/lalts/pkg/avsync"
	"github.com/q191201771/lalts/pkg/base"
	"github.com/q191201771/lalts/pkg/h2645"
	"github.com/q191201771/lalts/pkg/hevc"
	"github.com/q191201771/lalts/pkg/mpegts"
	"github.com/q191201771/lalts/pkg/opus"
	"github.com/q191201771/naza/pkg/bele"
	"github.com/q191201771/naza/pkg/nazaatomic"
)

type IMpegtsDemuxerObserver interface {
	// OnAudioFormat 音频格式第一次确定或发生变化
	OnAudioFormat(format AudioFormat)

	// OnAudioFrame
	//
	// @param frame: Payload 为 IAudioDecoder 的输出，默认情况下Opus为PCM(s16le)，AAC为裸数据。
	//               填补缺口的静音帧也通过该回调输出
	//
	OnAudioFrame(frame base.TimedFrame)

	// OnVideoFormat 视频参数集第一次齐全或发生变化
	OnVideoFormat(fd *h2645.FormatDescription)

	// OnVideoFrame
	//
	// @param frame: Payload 为Avcc格式（4字节长度前缀），不包含AUD
	//
	OnVideoFrame(frame base.TimedFrame)

	// OnTargetLatencies 音视频之间的延迟差发生变化时，建议的新目标延迟
	OnTargetLatencies(audio, video float64)
}

type DemuxerOption struct {
	// TargetLatency 输出时间戳 = Clock() + TargetLatency + (接收时间戳 - 第一个接收时间戳)
	TargetLatency float64

	AudioDecoderFactory AudioDecoderFactory

	Clock avsync.Clock

	// SamplesPerAudioFrame GapSampleRate 填补音频缺口时，每个静音帧的采样数和采样率
	SamplesPerAudioFrame int
	GapSampleRate        int

	// MaxGapFillDuration 单个缺口最多填补的时长，单位秒
	MaxGapFillDuration float64
}

var defaultDemuxerOption = DemuxerOption{
	TargetLatency:        avsync.DefaultTargetLatency,
	AudioDecoderFactory:  DefaultAudioDecoderFactory,
	Clock:                avsync.MonotonicClock,
	SamplesPerAudioFrame: 1024,
	GapSampleRate:        48000,
	MaxGapFillDuration:   2,
}

type ModDemuxerOption func(option *DemuxerOption)

type DemuxerStat struct {
	TsPackets        uint64 `json:"ts_packets"`
	Resyncs          uint64 `json:"resyncs"`
	TransportErrors  uint64 `json:"transport_errors"`
	ContinuityErrors uint64 `json:"continuity_errors"`
	DroppedPes       uint64 `json:"dropped_pes"`
	AudioFrames      uint64 `json:"audio_frames"`
	SilenceFrames    uint64 `json:"silence_frames"`
	VideoFrames      uint64 `json:"video_frames"`
}

// MpegtsDemuxer 输入mpegts流，输出音视频帧
//
// 非并发安全， Feed 和 Stop 需要在同一个协程中调用； Stat 可以在任意协程调用
//
type MpegtsDemuxer struct {
	uniqueKey string
	option    DemuxerOption
	observer  IMpegtsDemuxerObserver
	logDump   base.LogDump

	buf []byte // 未凑齐一个TS包的数据

	pmtPids map[uint16]struct{}
	streams map[uint16]*elementaryStream

	// 所有PID共用，第一个收到的时间戳映射到basePts
	firstReceivedPts    float64
	hasFirstReceivedPts bool
	basePts             float64
	hasBasePts          bool

	latencies *avsync.TargetLatenciesSynchronizer

	stopped bool

	stat struct {
		tsPackets        nazaatomic.Uint64
		resyncs          nazaatomic.Uint64
		transportErrors  nazaatomic.Uint64
		continuityErrors nazaatomic.Uint64
		droppedPes       nazaatomic.Uint64
		audioFrames      nazaatomic.Uint64
		silenceFrames    nazaatomic.Uint64
		videoFrames      nazaatomic.Uint64
	}
}

type elementaryStream struct {
	pid        uint16
	streamType uint8
	kind       base.MediaKind
	audioCodec AudioCodec
	videoCodec h2645.Codec

	cc      int // 为-1时表示不检查
	pesBuf  []byte
	started bool

	ptsWrapper *avsync.WrappingTimestamp
	dtsWrapper *avsync.WrappingTimestamp

	opusChannels    uint8
	adtsCtx         *aac.AdtsHeaderContext
	format          AudioFormat
	hasFormat       bool
	decoder         IAudioDecoder
	prevAudioPts    float64
	hasPrevAudioPts bool

	tracker *h2645.ParamSetTracker
	fd      *h2645.FormatDescription
}

func NewMpegtsDemuxer(observer IMpegtsDemuxerObserver, modOptions ...ModDemuxerOption) *MpegtsDemuxer {
	option := defaultDemuxerOption
	for _, fn := range modOptions {
		fn(&option)
	}
	if option.AudioDecoderFactory == nil {
		option.AudioDecoderFactory = DefaultAudioDecoderFactory
	}
	if option.Clock == nil {
		option.Clock = avsync.MonotonicClock
	}

	uk := base.GenUkMpegtsDemuxer()
	d := &MpegtsDemuxer{
		uniqueKey: uk,
		option:    option,
		observer:  observer,
		logDump:   base.NewLogDump(Log, base.DumpMaxNumAtDebugLevel),
		pmtPids:   make(map[uint16]struct{}),
		streams:   make(map[uint16]*elementaryStream),
		latencies: avsync.NewTargetLatenciesSynchronizer(option.TargetLatency),
	}
	Log.Infof("[%s] lifecycle new mpegts demuxer. target latency=%.3f", uk, option.TargetLatency)
	return d
}

// Feed
//
// @param b: 任意长度的mpegts数据，不要求按188字节对齐。函数调用结束后，内部不持有该内存块
//
// @return err: 只在已经 Stop 后返回错误，格式错误的数据在内部记录日志后丢弃
//
func (d *MpegtsDemuxer) Feed(b []byte) error {
	if d.stopped {
		return ErrDemuxerStopped
	}

	d.buf = append(d.buf, b...)
	pos := 0
	for len(d.buf)-pos >= mpegts.TsPacketSize {
		if d.buf[pos] != mpegts.SyncByte {
			next := d.resync(pos)
			d.stat.resyncs.Increment()
			Log.Warnf("[%s] lost sync, skip %d bytes.", d.uniqueKey, next-pos)
			pos = next
			continue
		}
		d.handlePacket(d.buf[pos : pos+mpegts.TsPacketSize])
		if d.stopped {
			// 回调中调用了Stop
			return nil
		}
		pos += mpegts.TsPacketSize
	}
	d.buf = append(d.buf[:0], d.buf[pos:]...)
	return nil
}

// Stop 之后 Feed 不再处理数据，未收齐的PES被丢弃
func (d *MpegtsDemuxer) Stop() {
	if d.stopped {
		return
	}
	Log.Infof("[%s] stop. stat=%+v", d.uniqueKey, d.Stat())
	d.stopped = true
	d.buf = nil
	d.streams = make(map[uint16]*elementaryStream)
	d.pmtPids = make(map[uint16]struct{})
}

func (d *MpegtsDemuxer) Stat() DemuxerStat {
	return DemuxerStat{
		TsPackets:        d.stat.tsPackets.Load(),
		Resyncs:          d.stat.resyncs.Load(),
		TransportErrors:  d.stat.transportErrors.Load(),
		ContinuityErrors: d.stat.continuityErrors.Load(),
		DroppedPes:       d.stat.droppedPes.Load(),
		AudioFrames:      d.stat.audioFrames.Load(),
		SilenceFrames:    d.stat.silenceFrames.Load(),
		VideoFrames:      d.stat.videoFrames.Load(),
	}
}

func (d *MpegtsDemuxer) UniqueKey() string {
	return d.uniqueKey
}

// ---------------------------------------------------------------------------------------------------------------------

// resync 从pos之后找到下一个同步位置：该位置为0x47，并且188字节后也是0x47（数据不够时只检查当前位置）
func (d *MpegtsDemuxer) resync(pos int) int {
	for i := pos + 1; i < len(d.buf); i++ {
		if d.buf[i] != mpegts.SyncByte {
			continue
		}
		if i+mpegts.TsPacketSize >= len(d.buf) || d.buf[i+mpegts.TsPacketSize] == mpegts.SyncByte {
			return i
		}
	}
	return len(d.buf)
}

func (d *MpegtsDemuxer) handlePacket(b []byte) {
	d.stat.tsPackets.Increment()

	pkt, err := mpegts.ParseTsPacket(b)
	if err != nil {
		Log.Warnf("[%s] parse ts packet failed. err=%+v", d.uniqueKey, err)
		d.logDump.DumpPrefix(d.uniqueKey, "invalid ts packet", b)
		return
	}

	es := d.streams[pkt.Pid]
	if pkt.TransportError {
		d.stat.transportErrors.Increment()
		Log.Warnf("[%s] transport error. pid=%d", d.uniqueKey, pkt.Pid)
		if es != nil {
			es.discardPes()
		}
		return
	}

	if pkt.Pid == mpegts.PidPat {
		d.handlePat(&pkt)
		return
	}
	if _, ok := d.pmtPids[pkt.Pid]; ok {
		d.handlePmt(&pkt)
		return
	}
	if es != nil {
		d.handleEs(es, &pkt)
	}
}

func (d *MpegtsDemuxer) handlePat(pkt *mpegts.TsPacket) {
	if !pkt.Pusi {
		return
	}
	pat, err := mpegts.ParsePat(pkt.Payload)
	if err != nil {
		Log.Warnf("[%s] parse pat failed. err=%+v", d.uniqueKey, err)
		return
	}
	for _, ppe := range pat.Programs {
		if ppe.ProgramNumber == 0 {
			continue
		}
		if _, ok := d.pmtPids[ppe.Pid]; !ok {
			Log.Infof("[%s] got program. number=%d, pmt pid=%d", d.uniqueKey, ppe.ProgramNumber, ppe.Pid)
			d.pmtPids[ppe.Pid] = struct{}{}
		}
	}
}

func (d *MpegtsDemuxer) handlePmt(pkt *mpegts.TsPacket) {
	if !pkt.Pusi {
		return
	}
	pmt, err := mpegts.ParsePmt(pkt.Payload)
	if err != nil {
		Log.Warnf("[%s] parse pmt failed. err=%+v", d.uniqueKey, err)
		return
	}
	for i := range pmt.ProgramElements {
		d.setupStream(&pmt.ProgramElements[i])
	}
}

func (d *MpegtsDemuxer) setupStream(ppe *mpegts.PmtProgramElement) {
	if es, ok := d.streams[ppe.Pid]; ok && es.streamType == ppe.StreamType {
		return
	}

	es := &elementaryStream{
		pid:        ppe.Pid,
		streamType: ppe.StreamType,
		cc:         -1,
		ptsWrapper: avsync.NewWrappingTimestamp(d.uniqueKey, mpegts.MaxTimestamp),
		dtsWrapper: avsync.NewWrappingTimestamp(d.uniqueKey, mpegts.MaxTimestamp),
	}
	switch ppe.StreamType {
	case mpegts.StreamTypeAac:
		es.kind = base.MediaKindAudio
		es.audioCodec = AudioCodecAac
	case mpegts.StreamTypePrivateData:
		if !ppe.IsOpus() {
			Log.Infof("[%s] ignore private data stream. pid=%d", d.uniqueKey, ppe.Pid)
			return
		}
		es.kind = base.MediaKindAudio
		es.audioCodec = AudioCodecOpus
		es.opusChannels, _ = ppe.OpusChannelCount()
		if es.opusChannels == 0 {
			es.opusChannels = 2
		}
	case mpegts.StreamTypeAvc:
		es.kind = base.MediaKindVideo
		es.videoCodec = h2645.CodecAvc
		es.tracker = h2645.NewParamSetTracker(h2645.CodecAvc)
	case mpegts.StreamTypeHevc:
		es.kind = base.MediaKindVideo
		es.videoCodec = h2645.CodecHevc
		es.tracker = h2645.NewParamSetTracker(h2645.CodecHevc)
	default:
		Log.Infof("[%s] ignore unsupported stream. pid=%d, stream type=%d", d.uniqueKey, ppe.Pid, ppe.StreamType)
		return
	}
	Log.Infof("[%s] add elementary stream. pid=%d, stream type=%d, kind=%s",
		d.uniqueKey, ppe.Pid, ppe.StreamType, es.kind.ReadableString())
	d.streams[ppe.Pid] = es
}

func (d *MpegtsDemuxer) handleEs(es *elementaryStream, pkt *mpegts.TsPacket) {
	if pkt.Adaptation != nil && pkt.Adaptation.Discontinuity {
		es.cc = -1
	}
	// 不带payload的包，cc不增加
	if len(pkt.Payload) == 0 {
		return
	}
	if es.cc >= 0 {
		if pkt.Cc == uint8(es.cc) {
			// 重复包
			return
		}
		if expected := uint8(es.cc+1) & 0x0F; pkt.Cc != expected {
			d.stat.continuityErrors.Increment()
			Log.Warnf("[%s] continuity counter mismatch. pid=%d, expected=%d, actual=%d",
				d.uniqueKey, es.pid, expected, pkt.Cc)
			es.discardPes()
		}
	}
	es.cc = int(pkt.Cc)

	if pkt.Pusi {
		if es.started {
			d.finishPes(es)
		}
		es.pesBuf = append(es.pesBuf[:0], pkt.Payload...)
		es.started = true
	} else if es.started {
		es.pesBuf = append(es.pesBuf, pkt.Payload...)
	} else {
		return
	}

	// PES_packet_length不为0时，收齐就可以处理，不用等下一个PUSI
	if len(es.pesBuf) >= 6 {
		if l := int(bele.BeUint16(es.pesBuf[4:])); l != 0 && len(es.pesBuf) >= 6+l {
			d.finishPes(es)
		}
	}
}

func (d *MpegtsDemuxer) finishPes(es *elementaryStream) {
	es.started = false
	pes, err := mpegts.ParsePes(es.pesBuf)
	if err != nil {
		d.stat.droppedPes.Increment()
		Log.Warnf("[%s] parse pes failed. pid=%d, err=%+v", d.uniqueKey, es.pid, err)
		d.logDump.DumpPrefix(d.uniqueKey, "invalid pes", es.pesBuf)
		return
	}
	if pes.PtsDtsFlags&mpegts.PtsDtsFlagsPts == 0 {
		d.stat.droppedPes.Increment()
		Log.Warnf("[%s] pes without pts. pid=%d", d.uniqueKey, es.pid)
		return
	}

	pts := d.toLocal(es.ptsWrapper, pes.Pts)
	switch {
	case es.kind == base.MediaKindVideo:
		d.handleVideo(es, &pes, pts)
	case es.audioCodec == AudioCodecAac:
		d.handleAac(es, &pes, pts)
	case es.audioCodec == AudioCodecOpus:
		d.handleOpus(es, &pes, pts)
	}
}

// toLocal 90kHz时间戳 -> 回绕展开 -> 本地时钟
func (d *MpegtsDemuxer) toLocal(wrapper *avsync.WrappingTimestamp, ts uint64) float64 {
	received := wrapper.Update(mpegts.TimestampToSeconds(ts))
	if !d.hasFirstReceivedPts {
		d.firstReceivedPts = received
		d.hasFirstReceivedPts = true
	}
	if !d.hasBasePts {
		d.basePts = d.option.Clock() + d.option.TargetLatency
		d.hasBasePts = true
	}
	return d.basePts + received - d.firstReceivedPts
}

func (d *MpegtsDemuxer) handleAac(es *elementaryStream, pes *mpegts.Pes, pts float64) {
	i := 0
	err := aac.IterateAdtsFrame(pes.Payload, func(ctx *aac.AdtsHeaderContext, raw []byte) {
		if !ctx.IsSameFormat(es.adtsCtx) {
			es.adtsCtx = ctx
			format, err := newAacAudioFormat(&ctx.AscCtx)
			if err != nil {
				Log.Warnf("[%s] invalid aac format. err=%+v", d.uniqueKey, err)
				es.hasFormat = false
				return
			}
			d.setAudioFormat(es, format)
		}
		if !es.hasFormat {
			return
		}
		duration := float64(d.option.SamplesPerAudioFrame) / float64(es.format.SampleRate)
		d.outputAudio(es, raw, pts+float64(i)*duration, duration)
		i++
	})
	if err != nil {
		d.stat.droppedPes.Increment()
		Log.Warnf("[%s] iterate adts frame failed. err=%+v", d.uniqueKey, err)
	}
}

func (d *MpegtsDemuxer) handleOpus(es *elementaryStream, pes *mpegts.Pes, pts float64) {
	if !es.hasFormat {
		d.setAudioFormat(es, AudioFormat{
			Codec:      AudioCodecOpus,
			SampleRate: opus.SampleRate,
			Channels:   es.opusChannels,
		})
	}
	offset := 0.0
	err := opus.IterateAccessUnit(pes.Payload, func(h opus.ControlHeader, au []byte) {
		duration, err := opus.PacketDuration(au)
		if err != nil {
			Log.Warnf("[%s] invalid opus packet. err=%+v", d.uniqueKey, err)
			return
		}
		d.outputAudio(es, au, pts+offset, duration)
		offset += duration
	})
	if err != nil {
		d.stat.droppedPes.Increment()
		Log.Warnf("[%s] iterate opus access unit failed. err=%+v", d.uniqueKey, err)
	}
}

func (d *MpegtsDemuxer) setAudioFormat(es *elementaryStream, format AudioFormat) {
	Log.Infof("[%s] audio format. pid=%d, %s", d.uniqueKey, es.pid, format.DebugString())
	es.format = format
	es.hasFormat = true
	decoder, err := d.option.AudioDecoderFactory(format)
	if err != nil {
		Log.Warnf("[%s] create audio decoder failed. err=%+v", d.uniqueKey, err)
		decoder = nil
	}
	es.decoder = decoder
	d.observer.OnAudioFormat(format)
}

func (d *MpegtsDemuxer) outputAudio(es *elementaryStream, raw []byte, pts, duration float64) {
	d.latencies.SetLatestAudioPts(pts)
	d.updateTargetLatencies()

	if es.decoder == nil {
		return
	}
	out, err := es.decoder.Decode(raw)
	if err != nil {
		Log.Warnf("[%s] decode audio failed. pts=%.3f, err=%+v", d.uniqueKey, pts, err)
		return
	}
	d.fillAudioGap(es, pts)

	d.stat.audioFrames.Increment()
	d.observer.OnAudioFrame(base.TimedFrame{
		Payload:  out,
		Pts:      pts,
		Dts:      pts,
		Duration: duration,
		Key:      true,
	})
}

// fillAudioGap 当前帧与上一帧的间隔超过一个帧长时，在中间补静音帧
func (d *MpegtsDemuxer) fillAudioGap(es *elementaryStream, pts float64) {
	defer func() {
		es.prevAudioPts = pts
		es.hasPrevAudioPts = true
	}()
	if !es.hasPrevAudioPts {
		return
	}

	period := float64(d.option.SamplesPerAudioFrame) / float64(d.option.GapSampleRate)
	n := CalcGapFrameNum(pts-es.prevAudioPts, period)
	if n == 0 {
		return
	}
	if maxNum := int(d.option.MaxGapFillDuration / period); n > maxNum {
		Log.Warnf("[%s] audio gap too large, only fill %d of %d frames. %.3f..%.3f",
			d.uniqueKey, maxNum, n, es.prevAudioPts, pts)
		n = maxNum
	}
	Log.Infof("[%s] fill audio gap %.3f..%.3f with %d frames.", d.uniqueKey, es.prevAudioPts, pts, n)
	for i := 0; i < n; i++ {
		ts := es.prevAudioPts + period*float64(1+i)
		d.stat.silenceFrames.Increment()
		d.observer.OnAudioFrame(base.TimedFrame{
			Payload:  es.decoder.Silence(d.option.SamplesPerAudioFrame),
			Pts:      ts,
			Dts:      ts,
			Duration: period,
			Key:      true,
		})
	}
}

// CalcGapFrameNum 间隔 `delta` 中缺少的帧数，四舍五入，不小于0
func CalcGapFrameNum(delta, period float64) int {
	return max(int(math.Round(delta/period-1)), 0)
}

func (d *MpegtsDemuxer) handleVideo(es *elementaryStream, pes *mpegts.Pes, pts float64) {
	dts := pts
	hasDts := pes.PtsDtsFlags == mpegts.PtsDtsFlagsPtsDts && pes.Dts != pes.Pts
	if hasDts {
		dts = d.toLocal(es.dtsWrapper, pes.Dts)
	} else {
		// 保持dts的回绕状态和pts一致
		es.dtsWrapper.Update(mpegts.TimestampToSeconds(pes.Pts))
	}

	d.latencies.SetLatestVideoPts(pts)
	d.updateTargetLatencies()

	nalus, err := h2645.SplitNaluAnnexb(pes.Payload)
	if err != nil {
		d.stat.droppedPes.Increment()
		Log.Warnf("[%s] split annexb failed. pid=%d, err=%+v", d.uniqueKey, es.pid, err)
		return
	}

	codec := es.videoCodec
	key := false
	kept := nalus[:0]
	for _, nalu := range nalus {
		typ := h2645.ParseNaluType(codec, nalu[0])
		if isAud(codec, typ) {
			continue
		}
		es.tracker.Observe(nalu)
		if codec == h2645.CodecAvc && typ == avc.NaluTypeIdrSlice {
			key = true
		} else if codec == h2645.CodecHevc && (typ == hevc.NaluTypeVps || typ == hevc.NaluTypeSps) {
			key = true
		}
		kept = append(kept, nalu)
	}

	if es.tracker.Changed() {
		if fd, err := es.tracker.FormatDescription(); err == nil && !fd.Equal(es.fd) {
			Log.Infof("[%s] video format. pid=%d, %s", d.uniqueKey, es.pid, fd.DebugString())
			es.fd = fd
			d.observer.OnVideoFormat(fd)
		}
	}
	if es.fd == nil {
		d.stat.droppedPes.Increment()
		Log.Debugf("[%s] drop video before param sets ready. pts=%.3f", d.uniqueKey, pts)
		return
	}
	if len(kept) == 0 {
		return
	}

	d.stat.videoFrames.Increment()
	d.observer.OnVideoFrame(base.TimedFrame{
		Payload: h2645.JoinNaluAvcc(kept...),
		Pts:     pts,
		Dts:     dts,
		HasDts:  hasDts,
		Key:     key,
	})
}

func (d *MpegtsDemuxer) updateTargetLatencies() {
	if audio, video, ok := d.latencies.Update(); ok {
		d.observer.OnTargetLatencies(audio, video)
	}
}

func (es *elementaryStream) discardPes() {
	es.started = false
	es.pesBuf = es.pesBuf[:0]
}
