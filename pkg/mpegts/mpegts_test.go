// Copyright 2020, Chef.  All rights reserved.
// https://github.com/q191201771/lalts
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package mpegts_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/q191201771/lalts/pkg/mpegts"
	"github.com/q191201771/naza/pkg/assert"
)

func TestCrc32(t *testing.T) {
	assert.Equal(t, uint32(0x0376E6E7), mpegts.CalcCrc32(0xFFFFFFFF, []byte("123456789")))

	// 分段计算
	crc := mpegts.CalcCrc32(0xFFFFFFFF, []byte("1234"))
	crc = mpegts.CalcCrc32(crc, []byte("56789"))
	assert.Equal(t, uint32(0x0376E6E7), crc)
}

func TestTsPacket(t *testing.T) {
	pcr := mpegts.NewPcrWithSeconds(1.5)
	pkt := mpegts.TsPacket{
		Pusi: true,
		Pid:  mpegts.PidAudio,
		Cc:   7,
		Adaptation: &mpegts.AdaptationField{
			RandomAccess: true,
			Pcr:          &pcr,
		},
	}
	assert.Equal(t, 176, pkt.MaxPayloadSize())

	payload := bytes.Repeat([]byte{0xAB}, 100)
	n := pkt.SetPayload(payload)
	assert.Equal(t, 100, n)
	assert.Equal(t, 76, pkt.Adaptation.StuffingLength)

	out, err := pkt.Pack()
	assert.Equal(t, nil, err)
	assert.Equal(t, mpegts.TsPacketSize, len(out))
	assert.Equal(t, []byte{0x47, 0x41, 0x01, 0x37}, out[:4])
	// adaptation_field_length, flags(RAI|PCR)
	assert.Equal(t, uint8(83), out[4])
	assert.Equal(t, uint8(0x50), out[5])

	pkt2, err := mpegts.ParseTsPacket(out)
	assert.Equal(t, nil, err)
	assert.Equal(t, true, pkt2.Pusi)
	assert.Equal(t, false, pkt2.TransportError)
	assert.Equal(t, mpegts.PidAudio, pkt2.Pid)
	assert.Equal(t, uint8(7), pkt2.Cc)
	assert.Equal(t, true, pkt2.Adaptation.RandomAccess)
	assert.Equal(t, pcr, *pkt2.Adaptation.Pcr)
	assert.Equal(t, uint64(135000*300), pkt2.Adaptation.Pcr.Value())
	assert.Equal(t, 1.5, pkt2.Adaptation.Pcr.Seconds())
	assert.Equal(t, payload, pkt2.Payload)

	_, err = mpegts.ParseTsPacket(out[:100])
	assert.IsNotNil(t, err)
	out[0] = 0x48
	_, err = mpegts.ParseTsPacket(out)
	assert.Equal(t, true, errors.Is(err, mpegts.ErrTsSyncByte))
}

func TestPcr(t *testing.T) {
	pkt := mpegts.TsPacket{
		Pid: mpegts.PidAudio,
		Adaptation: &mpegts.AdaptationField{
			Pcr: &mpegts.Pcr{Base: 0x1FFFFFFFF, Ext: 0x1FF},
		},
	}
	pkt.SetPayload(nil)
	out, err := pkt.Pack()
	assert.Equal(t, nil, err)
	assert.Equal(t, []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}, out[6:12])

	pkt2, err := mpegts.ParseTsPacket(out)
	assert.Equal(t, nil, err)
	assert.Equal(t, uint64(0x1FFFFFFFF), pkt2.Adaptation.Pcr.Base)
	assert.Equal(t, uint16(0x1FF), pkt2.Adaptation.Pcr.Ext)
	assert.Equal(t, 0, len(pkt2.Payload))

	pkt.Adaptation.Pcr = &mpegts.Pcr{Base: 1}
	out, err = pkt.Pack()
	assert.Equal(t, nil, err)
	assert.Equal(t, []byte{0x00, 0x00, 0x00, 0x00, 0xFE, 0x00}, out[6:12])
}

func TestTsPacketStuffing(t *testing.T) {
	// 差1字节时，adaptation_field_length为0
	pkt := mpegts.TsPacket{Pid: mpegts.PidVideo}
	pkt.SetPayload(bytes.Repeat([]byte{1}, 183))
	out, err := pkt.Pack()
	assert.Equal(t, nil, err)
	assert.Equal(t, uint8(0x30), out[3])
	assert.Equal(t, uint8(0), out[4])
	pkt2, err := mpegts.ParseTsPacket(out)
	assert.Equal(t, nil, err)
	assert.Equal(t, 1, pkt2.Adaptation.Length())
	assert.Equal(t, 183, len(pkt2.Payload))

	// 不带adaptation field，payload不足184时Encode自动填充
	pkt = mpegts.TsPacket{Pid: mpegts.PidVideo, Payload: []byte{1, 2, 3}}
	out, err = pkt.Pack()
	assert.Equal(t, nil, err)
	assert.Equal(t, true, pkt.Adaptation == nil)
	pkt2, err = mpegts.ParseTsPacket(out)
	assert.Equal(t, nil, err)
	assert.Equal(t, []byte{1, 2, 3}, pkt2.Payload)
	assert.Equal(t, uint8(0xFF), out[6])

	// payload满184字节，没有adaptation field
	pkt = mpegts.TsPacket{Pid: mpegts.PidVideo, Payload: bytes.Repeat([]byte{2}, 184)}
	out, err = pkt.Pack()
	assert.Equal(t, nil, err)
	assert.Equal(t, uint8(0x10), out[3])

	pkt.Payload = bytes.Repeat([]byte{2}, 185)
	_, err = pkt.Pack()
	assert.Equal(t, true, errors.Is(err, mpegts.ErrPayloadTooLong))
}

func TestPes(t *testing.T) {
	pts := uint64(0x1FFFFFFFF)
	dts := uint64(90000)
	payload := []byte{0, 0, 0, 1, 9, 0x10}

	pes := mpegts.NewPes(mpegts.StreamIdVideo, &pts, &dts, payload)
	assert.Equal(t, mpegts.PtsDtsFlagsPtsDts, pes.PtsDtsFlags)
	assert.Equal(t, uint16(3+10+len(payload)), pes.PacketLength)
	b := pes.Encode()
	assert.Equal(t, []byte{0x00, 0x00, 0x01, 0xE0, 0x00, 0x13, 0x84, 0xC0, 0x0A}, b[:9])
	assert.Equal(t, uint8(0x3F), b[9])
	assert.Equal(t, uint8(0x11), b[14])

	pes2, err := mpegts.ParsePes(b)
	assert.Equal(t, nil, err)
	assert.Equal(t, *pes, pes2)

	// 只有pts
	pes = mpegts.NewPes(mpegts.StreamIdAudio, &dts, &dts, payload)
	assert.Equal(t, mpegts.PtsDtsFlagsPts, pes.PtsDtsFlags)
	b = pes.Encode()
	assert.Equal(t, uint8(0x21), b[9])
	pes2, err = mpegts.ParsePes(b)
	assert.Equal(t, nil, err)
	assert.Equal(t, dts, pes2.Pts)
	assert.Equal(t, dts, pes2.Dts)
	assert.Equal(t, payload, pes2.Payload)

	// 超长时PES_packet_length为0
	pes = mpegts.NewPes(mpegts.StreamIdVideo, &pts, nil, make([]byte, 70000))
	assert.Equal(t, uint16(0), pes.PacketLength)
	pes2, err = mpegts.ParsePes(pes.Encode())
	assert.Equal(t, nil, err)
	assert.Equal(t, 70000, len(pes2.Payload))

	_, err = mpegts.ParsePes([]byte{0, 0, 2, 0xE0, 0, 0, 0x80, 0, 0})
	assert.Equal(t, true, errors.Is(err, mpegts.ErrPesStartCode))
	_, err = mpegts.ParsePes([]byte{0, 0, 1, 0xE0, 0, 0, 0x80, 0x80, 0x05, 0x21})
	assert.IsNotNil(t, err)
}

// 拼接各TS包的payload，应和编码后的PES完全一致
func joinPayload(t *testing.T, packets []mpegts.TsPacket) []byte {
	var out []byte
	for i := range packets {
		b, err := packets[i].Pack()
		assert.Equal(t, nil, err)
		pkt, err := mpegts.ParseTsPacket(b)
		assert.Equal(t, nil, err)
		assert.Equal(t, i == 0, pkt.Pusi)
		out = append(out, pkt.Payload...)
	}
	return out
}

func TestPacketize(t *testing.T) {
	pts := uint64(1000)
	// PES头部为14字节（只有pts）
	golden := []struct {
		payloadSize int
		pcr         bool
		sizes       []int // 每个TS包的payload大小
	}{
		{10, false, []int{24}},
		{168, false, []int{182}},
		{169, false, []int{182, 1}},
		{168 + 184, false, []int{182, 184}},
		{168 + 184 + 183, false, []int{182, 184, 182, 1}},
		{168 + 183, false, []int{182, 182, 1}},
		{168 + 100, false, []int{182, 100}},
		{162, true, []int{176}},
		{162 + 184*3 + 5, true, []int{176, 184, 184, 184, 5}},
	}
	for _, item := range golden {
		pes := mpegts.NewPes(mpegts.StreamIdAudio, &pts, nil, bytes.Repeat([]byte{0x5A}, item.payloadSize))
		var pcr *mpegts.Pcr
		if item.pcr {
			v := mpegts.NewPcrWithSeconds(1)
			pcr = &v
		}
		packets := pes.Packetize(mpegts.PidAudio, true, pcr)
		assert.Equal(t, len(item.sizes), len(packets))
		for i := range packets {
			assert.Equal(t, item.sizes[i], len(packets[i].Payload))
		}
		assert.Equal(t, true, packets[0].Adaptation.RandomAccess)
		assert.Equal(t, item.pcr, packets[0].Adaptation.Pcr != nil)
		assert.Equal(t, pes.Encode(), joinPayload(t, packets))
	}
}

func TestPsi(t *testing.T) {
	pat := mpegts.NewPat(mpegts.ProgramNumber, mpegts.PidPmt)
	b, err := pat.Pack()
	assert.Equal(t, nil, err)
	assert.Equal(t, mpegts.TsPacketPayloadSize, len(b))
	assert.Equal(t, []byte{
		0x00, 0x00, 0xB0, 0x0D, 0x00, 0x01, 0xC1, 0x00, 0x00, 0x00, 0x01, 0xEF, 0xFF, 0x36, 0x90, 0xE2, 0x3D,
	}, b[:17])
	assert.Equal(t, bytes.Repeat([]byte{0xFF}, 184-17), b[17:])

	pat2, err := mpegts.ParsePat(b)
	assert.Equal(t, nil, err)
	assert.Equal(t, pat, pat2)
	assert.Equal(t, true, pat2.SearchPid(mpegts.PidPmt))
	assert.Equal(t, false, pat2.SearchPid(mpegts.PidVideo))

	pmt := mpegts.NewPmt(mpegts.ProgramNumber, mpegts.PidAudio)
	pmt.SetProgramElement(mpegts.PmtProgramElement{
		StreamType:  mpegts.StreamTypePrivateData,
		Pid:         mpegts.PidAudio,
		Descriptors: mpegts.NewOpusDescriptors(2),
	})
	pmt.SetProgramElement(mpegts.PmtProgramElement{
		StreamType: mpegts.StreamTypeAvc,
		Pid:        mpegts.PidVideo,
	})
	pmt.Version = 3
	b, err = pmt.Pack()
	assert.Equal(t, nil, err)
	// 按PID升序
	assert.Equal(t, mpegts.PidVideo, pmt.ProgramElements[0].Pid)
	// PCR_PID
	assert.Equal(t, []byte{0xE1, 0x01, 0xF0, 0x00}, b[9:13])
	// video es
	assert.Equal(t, []byte{0x1B, 0xE1, 0x00, 0xF0, 0x00}, b[13:18])
	// audio es + registration + extension
	assert.Equal(t, []byte{0x06, 0xE1, 0x01, 0xF0, 0x0A, 0x05, 0x04, 'O', 'p', 'u', 's', 0x7F, 0x02, 0x80, 0x02}, b[18:33])

	table, err := mpegts.ParsePsi(b)
	assert.Equal(t, nil, err)
	switch v := table.(type) {
	case *mpegts.Pmt:
		assert.Equal(t, pmt, v)
		assert.Equal(t, uint8(3), v.Version)
		ppe := v.SearchPid(mpegts.PidAudio)
		assert.Equal(t, true, ppe.IsOpus())
		assert.Equal(t, false, v.SearchPid(mpegts.PidVideo).IsOpus())
		channels, ok := v.OpusChannelCount(mpegts.PidAudio)
		assert.Equal(t, true, ok)
		assert.Equal(t, uint8(2), channels)
		_, ok = v.OpusChannelCount(mpegts.PidVideo)
		assert.Equal(t, false, ok)
	default:
		t.Fatalf("unexpected table. %+v", table)
	}

	_, err = mpegts.ParsePat(b)
	assert.Equal(t, true, errors.Is(err, mpegts.ErrPsiTableId))
}

func TestPsiCrc(t *testing.T) {
	pat := mpegts.NewPat(mpegts.ProgramNumber, mpegts.PidPmt)
	b, err := pat.Pack()
	assert.Equal(t, nil, err)
	b[16] ^= 0xFF

	// 默认只打印日志，依然使用
	pat2, err := mpegts.ParsePat(b)
	assert.Equal(t, nil, err)
	assert.Equal(t, pat, pat2)

	mpegts.StrictCrc = true
	defer func() {
		mpegts.StrictCrc = false
	}()
	_, err = mpegts.ParsePat(b)
	assert.Equal(t, true, errors.Is(err, mpegts.ErrPsiCrc32))
}

func TestPsiPointerField(t *testing.T) {
	pat := mpegts.NewPat(mpegts.ProgramNumber, mpegts.PidPmt)
	b, err := pat.Pack()
	assert.Equal(t, nil, err)

	// pointer_field为2，后面跟2字节填充
	b2 := append([]byte{2, 0xAA, 0xBB}, b[1:]...)
	pat2, err := mpegts.ParsePat(b2)
	assert.Equal(t, nil, err)
	assert.Equal(t, pat, pat2)

	_, err = mpegts.ParsePsi([]byte{0, 0x42, 0xB0, 0x0D})
	assert.IsNotNil(t, err)
	_, err = mpegts.ParsePsi(append([]byte{0, 0x42}, b[2:]...))
	assert.Equal(t, true, errors.Is(err, mpegts.ErrPsiTableId))
}
