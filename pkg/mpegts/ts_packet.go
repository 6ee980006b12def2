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
	"github.com/q191201771/naza/pkg/nazabits"
	"github.com/q191201771/naza/pkg/nazaerrors"
)

// ------------------------------------------------
// <iso13818-1.pdf> <2.4.3.2> <page 36/174>
// sync_byte                    [8b]  * always 0x47
// transport_error_indicator    [1b]
// payload_unit_start_indicator [1b]
// transport_priority           [1b]
// PID                          [13b] **
// transport_scrambling_control [2b]
// adaptation_field_control     [2b]
// continuity_counter           [4b]  *
// ------------------------------------------------
type TsPacket struct {
	TransportError bool // transport_error_indicator
	Pusi           bool // payload_unit_start_indicator
	Pid            uint16
	Cc             uint8 // continuity_counter, 4位

	// 为nil时表示没有adaptation field
	Adaptation *AdaptationField

	// 写入时由调用方持有；解析时引用输入的内存块
	Payload []byte
}

// MaxPayloadSize 当前adaptation field下payload最多能放多少字节
func (pkt *TsPacket) MaxPayloadSize() int {
	return TsPacketPayloadSize - pkt.Adaptation.Length()
}

// SetPayload 从 `data` 头部取出尽可能多的字节作为payload，返回取出的字节数
//
// 如果payload没有填满，剩余空间使用adaptation field的stuffing填充，
// 所以调用该函数后，该包编码后总是188字节
//
func (pkt *TsPacket) SetPayload(data []byte) int {
	n := pkt.MaxPayloadSize()
	if n > len(data) {
		n = len(data)
	}
	pkt.Payload = data[:n]
	pkt.stuff()
	return n
}

// 使用adaptation field的stuffing填满188字节
func (pkt *TsPacket) stuff() {
	unused := pkt.MaxPayloadSize() - len(pkt.Payload)
	if unused <= 0 {
		return
	}
	if pkt.Adaptation == nil {
		// 只剩1字节时，adaptation_field_length为0，没有flags字节
		if unused == 1 {
			pkt.Adaptation = &AdaptationField{flagless: true}
			return
		}
		pkt.Adaptation = &AdaptationField{}
		unused -= pkt.Adaptation.Length()
	} else if pkt.Adaptation.flagless {
		pkt.Adaptation.flagless = false
		unused -= 1
	}
	pkt.Adaptation.StuffingLength += unused
}

// Encode
//
// @param out: 至少188字节，写入完整的一个TS包
//
func (pkt *TsPacket) Encode(out []byte) error {
	if len(out) < TsPacketSize {
		return nazaerrors.Wrap(base.NewErrShortBuffer(TsPacketSize, len(out), "ts packet"))
	}
	if len(pkt.Payload) > pkt.MaxPayloadSize() {
		return fmt.Errorf("%w. payload=%d, max=%d", ErrPayloadTooLong, len(pkt.Payload), pkt.MaxPayloadSize())
	}

	// 不修改调用方的adaptation field
	tmp := *pkt
	if tmp.Adaptation != nil {
		af := *tmp.Adaptation
		tmp.Adaptation = &af
	}
	tmp.stuff()

	// BitWriter按位或写入，先清零
	clear(out[:TsPacketSize])
	bw := nazabits.NewBitWriter(out)
	bw.WriteBits8(8, SyncByte)
	bw.WriteBit(bool2bit(tmp.TransportError))
	bw.WriteBit(bool2bit(tmp.Pusi))
	bw.WriteBit(0)
	bw.WriteBits16(13, tmp.Pid)
	bw.WriteBits8(2, 0)
	var afc uint8 = 0x1
	if tmp.Adaptation != nil {
		afc |= 0x2
	}
	bw.WriteBits8(2, afc)
	bw.WriteBits8(4, tmp.Cc&0xF)

	pos := TsPacketHeaderSize
	if tmp.Adaptation != nil {
		pos += tmp.Adaptation.pack(out[pos:])
	}
	copy(out[pos:TsPacketSize], tmp.Payload)
	return nil
}

// Pack 内存块为独立新申请
func (pkt *TsPacket) Pack() ([]byte, error) {
	out := make([]byte, TsPacketSize)
	if err := pkt.Encode(out); err != nil {
		return nil, err
	}
	return out, nil
}

// ParseTsPacket
//
// @param b: 至少188字节，只解析前188字节；返回的Payload引用 `b` 的内存
//
func ParseTsPacket(b []byte) (pkt TsPacket, err error) {
	if len(b) < TsPacketSize {
		return pkt, nazaerrors.Wrap(base.NewErrShortBuffer(TsPacketSize, len(b), "ts packet"))
	}
	if b[0] != SyncByte {
		return pkt, base.NewErrTsSyncByte(b[0])
	}

	br := nazabits.NewBitReader(b[1:TsPacketHeaderSize])
	tei, _ := br.ReadBits8(1)
	pusi, _ := br.ReadBits8(1)
	_, _ = br.ReadBits8(1)
	pkt.Pid, _ = br.ReadBits16(13)
	_, _ = br.ReadBits8(2)
	afc, _ := br.ReadBits8(2)
	pkt.Cc, _ = br.ReadBits8(4)
	pkt.TransportError = tei == 1
	pkt.Pusi = pusi == 1

	pos := TsPacketHeaderSize
	if afc&0x2 != 0 {
		af, n, err := parseAdaptationField(b[pos:TsPacketSize])
		if err != nil {
			return pkt, err
		}
		pkt.Adaptation = &af
		pos += n
	}
	if afc&0x1 != 0 {
		pkt.Payload = b[pos:TsPacketSize]
	}
	return pkt, nil
}

func bool2bit(v bool) uint8 {
	if v {
		return 1
	}
	return 0
}
