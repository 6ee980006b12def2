// Copyright 2024, Chef.  All rights reserved.
// https://github.com/q191201771/lalts
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package opus_test

import (
	"errors"
	"testing"

	"github.com/q191201771/lalts/pkg/opus"
	"github.com/q191201771/naza/pkg/assert"
)

func TestControlHeader(t *testing.T) {
	golden := []struct {
		auSize int
		out    []byte
	}{
		{0, []byte{0x7F, 0xE0, 0x00}},
		{100, []byte{0x7F, 0xE0, 0x64}},
		{254, []byte{0x7F, 0xE0, 0xFE}},
		{255, []byte{0x7F, 0xE0, 0xFF, 0x00}},
		{600, []byte{0x7F, 0xE0, 0xFF, 0xFF, 0x5A}},
	}
	for _, item := range golden {
		out := opus.PackControlHeader(item.auSize)
		assert.Equal(t, item.out, out)

		h, err := opus.ParseControlHeader(out)
		assert.Equal(t, nil, err)
		assert.Equal(t, item.auSize, h.AuSize)
		assert.Equal(t, len(item.out), h.HeaderLength)
	}

	// start_trim + end_trim + extension
	b := []byte{0x7F, 0xFC, 0x03, 0xE0, 0x10, 0x00, 0x20, 0x02, 0xAA, 0xBB}
	h, err := opus.ParseControlHeader(b)
	assert.Equal(t, nil, err)
	assert.Equal(t, 3, h.AuSize)
	assert.Equal(t, uint16(0x10), h.StartTrim)
	assert.Equal(t, uint16(0x20), h.EndTrim)
	assert.Equal(t, len(b), h.HeaderLength)

	_, err = opus.ParseControlHeader([]byte{0x12, 0x34, 0x00})
	assert.Equal(t, true, errors.Is(err, opus.ErrOpusControlHeader))
	_, err = opus.ParseControlHeader([]byte{0x7F, 0xE0, 0xFF})
	assert.IsNotNil(t, err)
}

func TestIterateAccessUnit(t *testing.T) {
	var b []byte
	b = append(b, opus.PackControlHeader(2)...)
	b = append(b, 0xF8, 0x01)
	b = append(b, opus.PackControlHeader(1)...)
	b = append(b, 0xF8)

	var aus [][]byte
	err := opus.IterateAccessUnit(b, func(h opus.ControlHeader, au []byte) {
		aus = append(aus, au)
	})
	assert.Equal(t, nil, err)
	assert.Equal(t, [][]byte{{0xF8, 0x01}, {0xF8}}, aus)

	err = opus.IterateAccessUnit(b[:len(b)-1], func(h opus.ControlHeader, au []byte) {})
	assert.IsNotNil(t, err)
}

func TestPacketSamples(t *testing.T) {
	golden := []struct {
		packet  []byte
		samples int
	}{
		{[]byte{0xF8}, 960},        // config 31 CELT FB 20ms, c=0
		{[]byte{0xF9}, 1920},       // c=1
		{[]byte{0x08}, 960},        // config 1 SILK NB 20ms
		{[]byte{0x18}, 2880},       // config 3 SILK NB 60ms
		{[]byte{0x03, 0x03}, 1440}, // config 0 SILK NB 10ms, c=3, 3 frames
	}
	for _, item := range golden {
		n, err := opus.PacketSamples(item.packet)
		assert.Equal(t, nil, err)
		assert.Equal(t, item.samples, n)
	}

	d, err := opus.PacketDuration([]byte{0xF8})
	assert.Equal(t, nil, err)
	assert.Equal(t, 0.02, d)

	_, err = opus.PacketSamples(nil)
	assert.IsNotNil(t, err)
	_, err = opus.PacketSamples([]byte{0x03})
	assert.IsNotNil(t, err)
}

func TestDecoder(t *testing.T) {
	d := opus.NewDecoder()
	_, _, _, err := d.Decode(nil)
	assert.IsNotNil(t, err)
}
