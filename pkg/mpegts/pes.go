// Copyright 2020, Chef.  All rights reserved.
// https://github.com/q191201771/lalts
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package mpegts

import (
	"fmt"

	"github.com/q191201771/lalts/pkg/base"
	"github.com/q191201771/naza/pkg/bele"
	"github.com/q191201771/naza/pkg/nazabits"
	"github.com/q191201771/naza/pkg/nazaerrors"
)

// -----------------------------------------------------------
// <iso13818-1.pdf>
// <2.4.3.6 PES packet> <page 49/174>
// <Table E.1 - PES packet header example> <page 142/174>
// <F.0.2 PES packet> <page 144/174>
// packet_start_code_prefix  [24b] *** always 0x00, 0x00, 0x01
// stream_id                 [8b]  *
// PES_packet_length         [16b] **
// '10'                      [2b]
// PES_scrambling_control    [2b]
// PES_priority              [1b]
// data_alignment_indicator  [1b]
// copyright                 [1b]
// original_or_copy          [1b]  *
// PTS_DTS_flags             [2b]
// ESCR_flag                 [1b]
// ES_rate_flag              [1b]
// DSM_trick_mode_flag       [1b]
// additional_copy_info_flag [1b]
// PES_CRC_flag              [1b]
// PES_extension_flag        [1b]  *
// PES_header_data_length    [8b]  *
// -----------------------------------------------------------
type Pes struct {
	StreamId      uint8
	PacketLength  uint16 // PES_packet_length，0表示不限长度（视频常见）
	DataAlignment bool
	PtsDtsFlags   uint8  // 0x2 只有pts，0x3 pts+dts
	Pts           uint64 // 90kHz
	Dts           uint64 // 没有dts时等于pts
	Payload       []byte
}

const (
	pesFixedHeaderSize    = 6
	pesOptionalHeaderSize = 3

	PtsDtsFlagsPts    uint8 = 0x2
	PtsDtsFlagsPtsDts uint8 = 0x3
)

// NewPes
//
// @param pts: 为nil时不写pts
// @param dts: 为nil或与pts相同时不写dts
//
func NewPes(streamId uint8, pts *uint64, dts *uint64, payload []byte) *Pes {
	pes := &Pes{
		StreamId:      streamId,
		DataAlignment: true,
		Payload:       payload,
	}
	if pts != nil {
		pes.PtsDtsFlags = PtsDtsFlagsPts
		pes.Pts = *pts & 0x1FFFFFFFF
		pes.Dts = pes.Pts
		if dts != nil && *dts&0x1FFFFFFFF != pes.Pts {
			pes.PtsDtsFlags = PtsDtsFlagsPtsDts
			pes.Dts = *dts & 0x1FFFFFFFF
		}
	}
	pes.PacketLength = pes.calcPacketLength()
	return pes
}

func (pes *Pes) headerDataLength() int {
	switch pes.PtsDtsFlags {
	case PtsDtsFlagsPtsDts:
		return 10
	case PtsDtsFlagsPts:
		return 5
	}
	return 0
}

func (pes *Pes) calcPacketLength() uint16 {
	n := pesOptionalHeaderSize + pes.headerDataLength() + len(pes.Payload)
	if n < 0xFFFF {
		return uint16(n)
	}
	return 0
}

// HeaderSize 包含6字节固定头和可选头
func (pes *Pes) HeaderSize() int {
	return pesFixedHeaderSize + pesOptionalHeaderSize + pes.headerDataLength()
}

// Encode 内存块为独立新申请
func (pes *Pes) Encode() []byte {
	hs := pes.HeaderSize()
	out := make([]byte, hs+len(pes.Payload))
	out[2] = 0x01
	out[3] = pes.StreamId
	bele.BePutUint16(out[4:], pes.PacketLength)

	bw := nazabits.NewBitWriter(out[6:9])
	bw.WriteBits8(2, 0x2)
	bw.WriteBits8(3, 0)
	bw.WriteBit(bool2bit(pes.DataAlignment))
	bw.WriteBits8(2, 0)
	bw.WriteBits8(2, pes.PtsDtsFlags)
	bw.WriteBits8(6, 0)
	bw.WriteBits8(8, uint8(pes.headerDataLength()))

	switch pes.PtsDtsFlags {
	case PtsDtsFlagsPtsDts:
		packPts(out[9:], 0x3, pes.Pts)
		packPts(out[14:], 0x1, pes.Dts)
	case PtsDtsFlagsPts:
		packPts(out[9:], 0x2, pes.Pts)
	}
	copy(out[hs:], pes.Payload)
	return out
}

// Packetize 将PES切分成TS包，continuity_counter由调用方设置
//
// 第一个包带PUSI以及adaptation field（random_access_indicator，可选PCR），
// 中间的包不带adaptation field，每个包184字节payload，
// 最后剩余的部分使用adaptation field的stuffing填满。
// 剩余183字节时，由于带adaptation field的包最多放182字节，拆成182+1两个包
//
func (pes *Pes) Packetize(pid uint16, randomAccess bool, pcr *Pcr) []TsPacket {
	data := pes.Encode()
	packets := make([]TsPacket, 0, len(data)/TsPacketPayloadSize+2)

	first := TsPacket{
		Pusi: true,
		Pid:  pid,
		Adaptation: &AdaptationField{
			RandomAccess: randomAccess,
			Pcr:          pcr,
		},
	}
	offset := first.SetPayload(data)
	packets = append(packets, first)

	for offset <= len(data)-TsPacketPayloadSize {
		packets = append(packets, TsPacket{
			Pid:     pid,
			Payload: data[offset : offset+TsPacketPayloadSize],
		})
		offset += TsPacketPayloadSize
	}

	appendLast := func(b []byte) {
		pkt := TsPacket{
			Pid:        pid,
			Adaptation: &AdaptationField{},
		}
		pkt.SetPayload(b)
		packets = append(packets, pkt)
	}
	switch rest := len(data) - offset; rest {
	case 0:
	case TsPacketPayloadSize - 1:
		appendLast(data[offset : len(data)-1])
		appendLast(data[len(data)-1:])
	default:
		appendLast(data[offset:])
	}
	return packets
}

// ParsePes
//
// @param b: 完整的PES包；返回的Payload引用 `b` 的内存
//
func ParsePes(b []byte) (pes Pes, err error) {
	if len(b) < pesFixedHeaderSize {
		return pes, nazaerrors.Wrap(base.NewErrShortBuffer(pesFixedHeaderSize, len(b), "pes header"))
	}
	if b[0] != 0 || b[1] != 0 || b[2] != 1 {
		return pes, fmt.Errorf("%w. prefix=%x", ErrPesStartCode, b[:3])
	}
	pes.StreamId = b[3]
	pes.PacketLength = bele.BeUint16(b[4:])

	end := len(b)
	if pes.PacketLength != 0 && pesFixedHeaderSize+int(pes.PacketLength) < end {
		end = pesFixedHeaderSize + int(pes.PacketLength)
	}

	if !hasOptionalHeader(pes.StreamId) {
		pes.Payload = b[pesFixedHeaderSize:end]
		return pes, nil
	}

	if end < pesFixedHeaderSize+pesOptionalHeaderSize {
		return pes, nazaerrors.Wrap(base.NewErrShortBuffer(pesFixedHeaderSize+pesOptionalHeaderSize, end, "pes optional header"))
	}
	br := nazabits.NewBitReader(b[6:9])
	_, _ = br.ReadBits8(5)
	da, _ := br.ReadBits8(1)
	_, _ = br.ReadBits8(2)
	pes.PtsDtsFlags, _ = br.ReadBits8(2)
	_, _ = br.ReadBits8(6)
	phdl, _ := br.ReadBits8(8)
	pes.DataAlignment = da == 1

	hs := pesFixedHeaderSize + pesOptionalHeaderSize + int(phdl)
	if hs > end {
		return pes, nazaerrors.Wrap(base.NewErrShortBuffer(hs, end, "pes header data"))
	}
	if pes.PtsDtsFlags&0x2 != 0 {
		if phdl < 5 {
			return pes, fmt.Errorf("%w. pts flag with header data length=%d", ErrMpegts, phdl)
		}
		_, pes.Pts = readPts(b[9:])
	}
	if pes.PtsDtsFlags == PtsDtsFlagsPtsDts {
		if phdl < 10 {
			return pes, fmt.Errorf("%w. dts flag with header data length=%d", ErrMpegts, phdl)
		}
		_, pes.Dts = readPts(b[14:])
	} else {
		pes.Dts = pes.Pts
	}
	pes.Payload = b[hs:end]
	return pes, nil
}

func hasOptionalHeader(streamId uint8) bool {
	switch streamId {
	case StreamIdProgramStrm, StreamIdPadding, StreamIdPrivate2, StreamIdEcm, StreamIdEmm,
		StreamIdProgramDir, StreamIdDsmcc, StreamIdH2221TypeE:
		return false
	}
	return true
}

// @param fb: '0010' 只有pts，'0011' pts+dts时的pts，'0001' dts
//
func packPts(out []byte, fb uint8, pts uint64) {
	out[0] = fb<<4 | uint8(pts>>29)&0x0E | 1
	v := uint16(pts>>14)&0xFFFE | 1
	out[1] = uint8(v >> 8)
	out[2] = uint8(v)
	v = uint16(pts<<1)&0xFFFE | 1
	out[3] = uint8(v >> 8)
	out[4] = uint8(v)
}

// read pts or dts
func readPts(b []byte) (fb uint8, pts uint64) {
	fb = b[0] >> 4
	pts |= uint64((b[0]>>1)&0x07) << 30
	pts |= (uint64(b[1])<<8 | uint64(b[2])) >> 1 << 15
	pts |= (uint64(b[3])<<8 | uint64(b[4])) >> 1
	return
}
