// Copyright 2020, Chef.  All rights reserved.
// https://github.com/q191201771/lalts
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package remux

import (
	"fmt"

	"github.com/q191201771/lalts/pkg/aac"
	"github.com/q191201771/lalts/pkg/avc"
	"github.com/q191201771/lalts/pkg/base"
	"github.com/q191201771/lalts/pkg/h2645"
	"github.com/q191201771/lalts/pkg/hevc"
	"github.com/q191201771/lalts/pkg/mpegts"
	"github.com/q191201771/lalts/pkg/opus"
)

type IMpegtsMuxerObserver interface {
	// OnTsChunk
	//
	// @param b: 一个或多个188字节的TS包，长度不超过 MuxerOption.PayloadChunkSize 。
	//           回调结束后， MpegtsMuxer 不再使用这块内存块
	//
	OnTsChunk(b []byte)
}

type MuxerOption struct {
	// PayloadChunkSize 每次回调的最大字节数，需为188的整数倍。默认1316（7个TS包，一个UDP包）
	PayloadChunkSize int

	// ProgramInterval PAT/PMT的重发间隔，单位秒
	ProgramInterval float64

	// PcrInterval PCR的最小间隔，单位秒
	PcrInterval float64

	// ExpectAudio ExpectVideo 流中是否包含音频、视频。期望的配置都设置后才开始写入
	ExpectAudio bool
	ExpectVideo bool
}

var defaultMuxerOption = MuxerOption{
	PayloadChunkSize: 7 * mpegts.TsPacketSize,
	ProgramInterval:  2,
	PcrInterval:      0.1,
	ExpectAudio:      true,
	ExpectVideo:      true,
}

type ModMuxerOption func(option *MuxerOption)

// MpegtsMuxer 输入编码后的音视频帧，输出mpegts流
//
// 非并发安全，所有方法需要在同一个协程（或串行的任务队列）中调用
//
// 视频数据会被保留到下一次写入时才输出，音频写入时，用保留的视频数据填满每个chunk的剩余空间，
// 避免大的视频帧集中输出
//
type MpegtsMuxer struct {
	uniqueKey string
	option    MuxerOption
	observer  IMpegtsMuxerObserver

	running bool

	audioConfig     *AudioConfig
	ascCtx          *aac.AscContext
	videoFd         *h2645.FormatDescription
	paramSets       []byte // Annexb，关键帧前插入
	paramSetTracker *h2645.ParamSetTracker

	pat *mpegts.Pat
	pmt *mpegts.Pmt

	audioCc uint8
	videoCc uint8
	patCc   uint8
	pmtCc   uint8

	lastProgramTs float64
	hasProgramTs  bool
	lastPcrTs     float64
	hasPcrTs      bool

	heldVideo       []byte
	heldVideoOffset int
}

func NewMpegtsMuxer(observer IMpegtsMuxerObserver, modOptions ...ModMuxerOption) *MpegtsMuxer {
	option := defaultMuxerOption
	for _, fn := range modOptions {
		fn(&option)
	}
	if option.PayloadChunkSize < mpegts.TsPacketSize {
		option.PayloadChunkSize = mpegts.TsPacketSize
	}
	option.PayloadChunkSize -= option.PayloadChunkSize % mpegts.TsPacketSize

	uk := base.GenUkMpegtsMuxer()
	m := &MpegtsMuxer{
		uniqueKey: uk,
		option:    option,
		observer:  observer,
	}
	m.resetProgram()
	Log.Infof("[%s] lifecycle new mpegts muxer. option=%+v", uk, option)
	return m
}

func (m *MpegtsMuxer) Start() {
	Log.Infof("[%s] start.", m.uniqueKey)
	m.running = true
}

// Stop 重置所有状态，保留的视频数据被丢弃。之后可以再次 Start
func (m *MpegtsMuxer) Stop() {
	if !m.running {
		return
	}
	Log.Infof("[%s] stop.", m.uniqueKey)
	m.audioCc = 0
	m.videoCc = 0
	m.patCc = 0
	m.pmtCc = 0
	m.audioConfig = nil
	m.ascCtx = nil
	m.videoFd = nil
	m.paramSets = nil
	m.paramSetTracker = nil
	m.resetProgram()
	m.hasProgramTs = false
	m.hasPcrTs = false
	m.heldVideo = nil
	m.heldVideoOffset = 0
	m.running = false
}

func (m *MpegtsMuxer) IsRunning() bool {
	return m.running
}

func (m *MpegtsMuxer) UniqueKey() string {
	return m.uniqueKey
}

// SetAudioConfig 音频格式确定或变化时调用，期望的配置都设置后输出PAT/PMT
func (m *MpegtsMuxer) SetAudioConfig(config AudioConfig) error {
	if !m.running {
		return ErrMuxerNotRunning
	}

	ppe := mpegts.PmtProgramElement{
		Pid: mpegts.PidAudio,
	}
	switch config.Codec {
	case AudioCodecAac:
		ascCtx, err := aac.NewAscContextWithSamplingFrequency(config.AudioObjectType, config.SampleRate, config.Channels)
		if err != nil {
			return err
		}
		m.ascCtx = ascCtx
		ppe.StreamType = mpegts.StreamTypeAac
	case AudioCodecOpus:
		m.ascCtx = nil
		ppe.StreamType = mpegts.StreamTypePrivateData
		ppe.Descriptors = mpegts.NewOpusDescriptors(config.Channels)
	default:
		return fmt.Errorf("%w. audio codec=%d", ErrUnsupportedCodec, config.Codec)
	}

	Log.Infof("[%s] set audio config. config=%+v", m.uniqueKey, config)
	m.pmt.SetProgramElement(ppe)
	m.audioCc = 0
	m.audioConfig = &config
	m.writeProgramIfNeeded()
	return nil
}

// SetVideoConfig 视频参数集确定或变化时调用
func (m *MpegtsMuxer) SetVideoConfig(fd *h2645.FormatDescription) error {
	if !m.running {
		return ErrMuxerNotRunning
	}

	ppe := mpegts.PmtProgramElement{
		Pid: mpegts.PidVideo,
	}
	switch fd.Codec {
	case h2645.CodecAvc:
		ppe.StreamType = mpegts.StreamTypeAvc
	case h2645.CodecHevc:
		ppe.StreamType = mpegts.StreamTypeHevc
	default:
		return fmt.Errorf("%w. video codec=%d", ErrUnsupportedCodec, fd.Codec)
	}

	Log.Infof("[%s] set video config. %s", m.uniqueKey, fd.DebugString())
	m.pmt.SetProgramElement(ppe)
	m.videoCc = 0
	m.videoFd = fd
	m.paramSets = fd.AnnexbParamSets()
	m.paramSetTracker = h2645.NewParamSetTracker(fd.Codec)
	m.writeProgramIfNeeded()
	return nil
}

// CanWrite 期望的音频、视频配置都已设置
func (m *MpegtsMuxer) CanWrite() bool {
	return m.option.ExpectAudio == (m.audioConfig != nil) &&
		m.option.ExpectVideo == (m.videoFd != nil)
}

// WriteAudio
//
// @param frame: Payload 为一帧裸AAC（不含ADTS头）或一个Opus packet。函数调用结束后，内部不持有该内存块
//
func (m *MpegtsMuxer) WriteAudio(frame base.TimedFrame) error {
	if err := m.checkWritable(m.audioConfig != nil); err != nil {
		return err
	}

	var header []byte
	if m.audioConfig.Codec == AudioCodecAac {
		header = m.ascCtx.PackAdtsHeader(len(frame.Payload))
	} else {
		header = opus.PackControlHeader(len(frame.Payload))
	}
	payload := make([]byte, 0, len(header)+len(frame.Payload))
	payload = append(payload, header...)
	payload = append(payload, frame.Payload...)

	pts := mpegts.SecondsToTimestamp(frame.Pts)
	pes := mpegts.NewPes(mpegts.StreamIdAudio, &pts, nil, payload)
	data := m.encode(mpegts.PidAudio, frame.Pts, true, pes)
	m.writeAudio(data)
	return nil
}

// WriteVideo
//
// @param frame: Payload 为Avcc格式（4字节长度前缀）的一帧。函数调用结束后，内部不持有该内存块
//
func (m *MpegtsMuxer) WriteVideo(frame base.TimedFrame) error {
	if err := m.checkWritable(m.videoFd != nil); err != nil {
		return err
	}

	nalus, err := h2645.SplitNaluAvcc(frame.Payload)
	if err != nil {
		return err
	}
	codec := m.videoFd.Codec

	// 帧内携带的参数集更新缓存的参数集，统一在关键帧前插入
	for _, nalu := range nalus {
		m.paramSetTracker.Observe(nalu)
	}
	if m.paramSetTracker.Changed() {
		if fd, err := m.paramSetTracker.FormatDescription(); err == nil {
			Log.Debugf("[%s] param sets in band changed. %s", m.uniqueKey, fd.DebugString())
			m.paramSets = fd.AnnexbParamSets()
		}
	}

	out := make([]byte, 0, len(frame.Payload)+len(m.paramSets)+8)
	out = append(out, h2645.NaluStartCode4...)
	out = append(out, h2645.AudNalu(codec, frame.Key)...)
	if frame.Key {
		out = append(out, m.paramSets...)
	}
	for _, nalu := range nalus {
		typ := h2645.ParseNaluType(codec, nalu[0])
		if isAud(codec, typ) || h2645.IsParamSet(codec, typ) {
			continue
		}
		out = append(out, h2645.NaluStartCode4...)
		out = append(out, nalu...)
	}

	pts := mpegts.SecondsToTimestamp(frame.Pts)
	var pes *mpegts.Pes
	if frame.HasDts {
		dts := mpegts.SecondsToTimestamp(frame.Dts)
		pes = mpegts.NewPes(mpegts.StreamIdVideo, &pts, &dts, out)
	} else {
		pes = mpegts.NewPes(mpegts.StreamIdVideo, &pts, nil, out)
	}
	data := m.encode(mpegts.PidVideo, frame.Pts, frame.Key, pes)
	m.writeVideo(data)
	return nil
}

// Flush 输出保留的视频数据，比如流结束时
func (m *MpegtsMuxer) Flush() {
	if m.heldVideo == nil {
		return
	}
	m.writeBytes(m.heldVideo[m.heldVideoOffset:])
	m.heldVideo = nil
	m.heldVideoOffset = 0
}

// ---------------------------------------------------------------------------------------------------------------------

func (m *MpegtsMuxer) checkWritable(configured bool) error {
	if !m.running {
		return ErrMuxerNotRunning
	}
	if !m.CanWrite() || !configured {
		return ErrMuxerNotReady
	}
	return nil
}

func (m *MpegtsMuxer) resetProgram() {
	m.pat = mpegts.NewPat(mpegts.ProgramNumber, mpegts.PidPmt)
	pcrPid := mpegts.PidAudio
	if !m.option.ExpectAudio {
		pcrPid = mpegts.PidVideo
	}
	m.pmt = mpegts.NewPmt(mpegts.ProgramNumber, pcrPid)
}

func (m *MpegtsMuxer) encode(pid uint16, ts float64, randomAccess bool, pes *mpegts.Pes) []byte {
	var pcr *mpegts.Pcr
	if pid == m.pmt.PcrPid && (!m.hasPcrTs || ts-m.lastPcrTs >= m.option.PcrInterval) {
		v := mpegts.NewPcrWithSeconds(ts)
		pcr = &v
		m.lastPcrTs = ts
		m.hasPcrTs = true
	}
	packets := pes.Packetize(pid, randomAccess, pcr)

	m.writeProgramIfExpired(ts)

	out := make([]byte, len(packets)*mpegts.TsPacketSize)
	for i := range packets {
		packets[i].Cc = m.nextCc(pid)
		if err := packets[i].Encode(out[i*mpegts.TsPacketSize:]); err != nil {
			// Packetize 生成的包不会超长
			Log.Errorf("[%s] encode ts packet failed. err=%+v", m.uniqueKey, err)
		}
	}
	return out
}

func (m *MpegtsMuxer) nextCc(pid uint16) uint8 {
	var p *uint8
	switch pid {
	case mpegts.PidAudio:
		p = &m.audioCc
	case mpegts.PidVideo:
		p = &m.videoCc
	case mpegts.PidPat:
		p = &m.patCc
	case mpegts.PidPmt:
		p = &m.pmtCc
	default:
		return 0
	}
	cc := *p
	*p = (cc + 1) & 0x0F
	return cc
}

func (m *MpegtsMuxer) writeProgramIfNeeded() {
	if !m.CanWrite() {
		return
	}
	m.writeProgram()
	// 下一个写入的帧作为定时重发的起点
	m.hasProgramTs = false
}

func (m *MpegtsMuxer) writeProgramIfExpired(ts float64) {
	if !m.hasProgramTs {
		m.lastProgramTs = ts
		m.hasProgramTs = true
		return
	}
	if ts-m.lastProgramTs < m.option.ProgramInterval {
		return
	}
	m.writeProgram()
	m.lastProgramTs = ts
}

func (m *MpegtsMuxer) writeProgram() {
	out := make([]byte, 2*mpegts.TsPacketSize)
	tables := []struct {
		pid   uint16
		table mpegts.PsiTable
	}{
		{mpegts.PidPat, m.pat},
		{mpegts.PidPmt, m.pmt},
	}
	for i, item := range tables {
		payload, err := mpegts.PackPsi(item.table)
		if err != nil {
			Log.Errorf("[%s] pack psi failed. pid=%d, err=%+v", m.uniqueKey, item.pid, err)
			return
		}
		pkt := mpegts.TsPacket{
			Pusi:    true,
			Pid:     item.pid,
			Cc:      m.nextCc(item.pid),
			Payload: payload,
		}
		if err = pkt.Encode(out[i*mpegts.TsPacketSize:]); err != nil {
			Log.Errorf("[%s] encode psi packet failed. pid=%d, err=%+v", m.uniqueKey, item.pid, err)
			return
		}
	}
	Log.Debugf("[%s] write pat pmt. cc=%d/%d", m.uniqueKey, m.patCc, m.pmtCc)
	m.writeBytes(out)
}

func (m *MpegtsMuxer) writeBytes(data []byte) {
	for offset := 0; offset < len(data); offset += m.option.PayloadChunkSize {
		end := min(offset+m.option.PayloadChunkSize, len(data))
		m.observer.OnTsChunk(data[offset:end])
	}
}

// writeVideo 先输出上一个视频帧剩余的部分，再保留当前帧
func (m *MpegtsMuxer) writeVideo(data []byte) {
	if m.heldVideo != nil {
		m.writeBytes(m.heldVideo[m.heldVideoOffset:])
	}
	m.heldVideo = data
	m.heldVideoOffset = 0
}

// writeAudio 音频按chunk输出，每个chunk的剩余空间在前面用保留的视频数据填满
func (m *MpegtsMuxer) writeAudio(data []byte) {
	if m.heldVideo == nil {
		m.writeBytes(data)
		return
	}

	for offset := 0; offset < len(data); offset += m.option.PayloadChunkSize {
		chunk := data[offset:min(offset+m.option.PayloadChunkSize, len(data))]
		if videoSize := m.option.PayloadChunkSize - len(chunk); videoSize > 0 {
			end := min(m.heldVideoOffset+videoSize, len(m.heldVideo))
			if end != m.heldVideoOffset {
				merged := make([]byte, 0, end-m.heldVideoOffset+len(chunk))
				merged = append(merged, m.heldVideo[m.heldVideoOffset:end]...)
				merged = append(merged, chunk...)
				chunk = merged
				m.heldVideoOffset = end
			}
		}
		m.observer.OnTsChunk(chunk)
	}
	if m.heldVideoOffset == len(m.heldVideo) {
		m.heldVideo = nil
		m.heldVideoOffset = 0
	}
}

func isAud(codec h2645.Codec, typ uint8) bool {
	if codec == h2645.CodecAvc {
		return typ == avc.NaluTypeAud
	}
	return typ == hevc.NaluTypeAud
}
