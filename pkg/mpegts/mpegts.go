// Copyright 2020, Chef.  All rights reserved.
// https://github.com/q191201771/lalts
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package mpegts

import "github.com/q191201771/lalts/pkg/base"

// MPEG: Moving Picture Experts Group

var (
	ErrMpegts         = base.ErrMpegts
	ErrTsSyncByte     = base.ErrTsSyncByte
	ErrPesStartCode   = base.ErrPesStartCode
	ErrPsiTableId     = base.ErrPsiTableId
	ErrPsiCrc32       = base.ErrPsiCrc32
	ErrPayloadTooLong = base.ErrPayloadTooLong
)

// StrictCrc 为true时，PSI section的CRC32校验失败直接返回错误；
// 默认为false，只打印日志，依然使用解析出的表
var StrictCrc = false

const (
	TsPacketSize        = 188
	TsPacketHeaderSize  = 4
	TsPacketPayloadSize = TsPacketSize - TsPacketHeaderSize // 184

	SyncByte = 0x47
)

// 本模块写入时使用的PID，读取时以PAT/PMT为准
const (
	PidPat   uint16 = 0
	PidPmt   uint16 = 4095
	PidVideo uint16 = 256
	PidAudio uint16 = 257
	PidNull  uint16 = 0x1FFF

	ProgramNumber uint16 = 1
)

// <iso13818-1.pdf> <Table 2-18-Stream_id assignments> <page 52/174>
const (
	StreamIdAudio       uint8 = 0xC0 // 110x xxxx
	StreamIdVideo       uint8 = 0xE0 // 1110 xxxx
	StreamIdPrivate1    uint8 = 0xBD
	StreamIdPadding     uint8 = 0xBE
	StreamIdPrivate2    uint8 = 0xBF
	StreamIdEcm         uint8 = 0xF0
	StreamIdEmm         uint8 = 0xF1
	StreamIdDsmcc       uint8 = 0xF2
	StreamIdH2221TypeE  uint8 = 0xF8
	StreamIdProgramDir  uint8 = 0xFF
	StreamIdProgramStrm uint8 = 0xBC
)

// <iso13818-1.pdf> <Table 2-29 Stream type assignments> <page 66/174>
// 0x0F AAC  (ISO/IEC 13818-7 Audio with ADTS transport syntax)
// 0x1B AVC  (video stream as defined in ITU-T Rec. H.264 | ISO/IEC 14496-10 Video)
// 0x24 HEVC (HEVC video stream as defined in Rec. ITU-T H.265 | ISO/IEC 23008-2)
// 0x06 PES packets containing private data, opus使用该类型加registration描述符
const (
	StreamTypeUnknown     uint8 = 0x00
	StreamTypePrivateData uint8 = 0x06
	StreamTypeAac         uint8 = 0x0F
	StreamTypeAvc         uint8 = 0x1B
	StreamTypeHevc        uint8 = 0x24
)

// 90kHz时钟
const (
	TimestampClockRate = 90000

	// MaxTimestamp 33位pts/dts的最大值（单位秒）
	MaxTimestamp = float64(uint64(1)<<33) / TimestampClockRate
)

// SecondsToTimestamp 秒 -> 90kHz，负数按0处理，超过33位回绕
func SecondsToTimestamp(v float64) uint64 {
	if v <= 0 {
		return 0
	}
	return uint64(v*TimestampClockRate+0.5) & 0x1FFFFFFFF
}

func TimestampToSeconds(v uint64) float64 {
	return float64(v) / TimestampClockRate
}
