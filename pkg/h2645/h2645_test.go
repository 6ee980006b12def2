// Copyright 2022, Chef.  All rights reserved.
// https://github.com/q191201771/lalts
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package h2645_test

import (
	"testing"

	"github.com/q191201771/lalts/pkg/h2645"
	"github.com/q191201771/naza/pkg/assert"
)

var (
	goldenSps = []byte{0x67, 0x42, 0x00, 0x1e, 0x00, 0x00, 0x03, 0x01}
	goldenPps = []byte{0x68, 0xce, 0x3c, 0x80}
	goldenIdr = []byte{0x65, 0x88, 0x84, 0x00, 0x00, 0x03, 0x00, 0x21}

	goldenAnnexb = []byte{
		0x00, 0x00, 0x00, 0x01, 0x67, 0x42, 0x00, 0x1e, 0x00, 0x00, 0x03, 0x01,
		0x00, 0x00, 0x00, 0x01, 0x68, 0xce, 0x3c, 0x80,
		0x00, 0x00, 0x00, 0x01, 0x65, 0x88, 0x84, 0x00, 0x00, 0x03, 0x00, 0x21,
	}
	goldenAvcc = []byte{
		0x00, 0x00, 0x00, 0x08, 0x67, 0x42, 0x00, 0x1e, 0x00, 0x00, 0x03, 0x01,
		0x00, 0x00, 0x00, 0x04, 0x68, 0xce, 0x3c, 0x80,
		0x00, 0x00, 0x00, 0x08, 0x65, 0x88, 0x84, 0x00, 0x00, 0x03, 0x00, 0x21,
	}

	// high profile 1280x720
	sps720p = []byte{
		0x67, 0x64, 0x00, 0x1f, 0xac, 0xd9, 0x40, 0x50,
		0x05, 0xbb, 0xff, 0x00, 0x03, 0x00, 0x04, 0x6a,
		0x02, 0x02, 0x02, 0x80, 0x00, 0x01, 0xf4, 0x80,
		0x00, 0x5d, 0xc0, 0x07, 0x8c, 0x18, 0xcb,
	}
)

func TestFindStartCodeBackward(t *testing.T) {
	b := []byte{0x00, 0x00, 0x01, 0x09, 0x10, 0x00, 0x00, 0x00, 0x01, 0x67, 0xaa}
	pos, length := h2645.FindStartCodeBackward(b, len(b))
	assert.Equal(t, 5, pos)
	assert.Equal(t, 4, length)
	pos, length = h2645.FindStartCodeBackward(b, pos)
	assert.Equal(t, 0, pos)
	assert.Equal(t, 3, length)
	pos, _ = h2645.FindStartCodeBackward(b, pos)
	assert.Equal(t, -1, pos)

	nalus, err := h2645.SplitNaluAnnexb(b)
	assert.Equal(t, nil, err)
	assert.Equal(t, 2, len(nalus))
	assert.Equal(t, []byte{0x09, 0x10}, nalus[0])
	assert.Equal(t, []byte{0x67, 0xaa}, nalus[1])

	_, err = h2645.SplitNaluAnnexb([]byte{0x67, 0x42, 0x00})
	assert.IsNotNil(t, err)
}

func TestSplitNaluAnnexb(t *testing.T) {
	nalus, err := h2645.SplitNaluAnnexb(goldenAnnexb)
	assert.Equal(t, nil, err)
	assert.Equal(t, 3, len(nalus))
	assert.Equal(t, goldenSps, nalus[0])
	assert.Equal(t, goldenPps, nalus[1])
	assert.Equal(t, goldenIdr, nalus[2])

	var n int
	err = h2645.IterateNaluAnnexb(goldenAnnexb, func(nalu []byte) {
		n++
	})
	assert.Equal(t, nil, err)
	assert.Equal(t, 3, n)
}

func TestAnnexbAvccRoundTrip(t *testing.T) {
	avcc, err := h2645.Annexb2Avcc(goldenAnnexb)
	assert.Equal(t, nil, err)
	assert.Equal(t, goldenAvcc, avcc)

	annexb, err := h2645.Avcc2Annexb(avcc)
	assert.Equal(t, nil, err)
	assert.Equal(t, goldenAnnexb, annexb)

	// in place
	b := append([]byte(nil), goldenAnnexb...)
	out, err := h2645.Annexb2AvccInPlace(b)
	assert.Equal(t, nil, err)
	assert.Equal(t, goldenAvcc, out)
	assert.Equal(t, &b[0], &out[0])

	err = h2645.Avcc2AnnexbInPlace(out)
	assert.Equal(t, nil, err)
	assert.Equal(t, goldenAnnexb, out)

	// 3字节start code无法原地转换，退化为申请新内存
	b3 := []byte{0x00, 0x00, 0x01, 0x09, 0x10, 0x00, 0x00, 0x00, 0x01, 0x67, 0xaa}
	out, err = h2645.Annexb2AvccInPlace(b3)
	assert.Equal(t, nil, err)
	assert.Equal(t, []byte{0x00, 0x00, 0x00, 0x02, 0x09, 0x10, 0x00, 0x00, 0x00, 0x02, 0x67, 0xaa}, out)
}

func TestIterateNaluAvcc(t *testing.T) {
	nalus, err := h2645.SplitNaluAvcc(goldenAvcc)
	assert.Equal(t, nil, err)
	assert.Equal(t, 3, len(nalus))
	assert.Equal(t, goldenIdr, nalus[2])

	_, err = h2645.SplitNaluAvcc(goldenAvcc[:len(goldenAvcc)-1])
	assert.IsNotNil(t, err)
	_, err = h2645.SplitNaluAvcc([]byte{0x00, 0x00})
	assert.IsNotNil(t, err)

	assert.Equal(t, goldenAvcc, h2645.JoinNaluAvcc(goldenSps, goldenPps, goldenIdr))
	assert.Equal(t, goldenAnnexb, h2645.JoinNaluAnnexb(goldenSps, goldenPps, goldenIdr))
}

func TestEmulationPrevention(t *testing.T) {
	golden := []struct {
		rbsp []byte
		ebsp []byte
	}{
		{
			[]byte{0x11, 0x00, 0x00, 0x01, 0x22, 0x00, 0x00, 0x03, 0x00, 0x00, 0x04},
			[]byte{0x11, 0x00, 0x00, 0x03, 0x01, 0x22, 0x00, 0x00, 0x03, 0x03, 0x00, 0x00, 0x04},
		},
		{
			[]byte{0x00, 0x00, 0x00},
			[]byte{0x00, 0x00, 0x03, 0x00},
		},
		{
			[]byte{0x11, 0x00, 0x00},
			[]byte{0x11, 0x00, 0x00, 0x03},
		},
		{
			[]byte{0x11, 0x22},
			[]byte{0x11, 0x22},
		},
	}
	for _, item := range golden {
		assert.Equal(t, item.ebsp, h2645.AddEmulationPrevention(item.rbsp))
		assert.Equal(t, item.rbsp, h2645.RemoveEmulationPrevention(item.ebsp))
	}

	// 带防竞争字节的nalu经过Annexb和Avcc互转后保持不变
	ebsp := h2645.AddEmulationPrevention(golden[0].rbsp)
	annexb := h2645.JoinNaluAnnexb(ebsp, ebsp)
	avcc, err := h2645.Annexb2Avcc(annexb)
	assert.Equal(t, nil, err)
	back, err := h2645.Avcc2Annexb(avcc)
	assert.Equal(t, nil, err)
	assert.Equal(t, annexb, back)
}

func TestParamSetTracker(t *testing.T) {
	tracker := h2645.NewParamSetTracker(h2645.CodecAvc)
	assert.Equal(t, false, tracker.Observe(goldenIdr))
	assert.Equal(t, false, tracker.Complete())
	assert.Equal(t, false, tracker.Changed())
	_, err := tracker.FormatDescription()
	assert.IsNotNil(t, err)

	assert.Equal(t, true, tracker.Observe(sps720p))
	assert.Equal(t, false, tracker.Changed())
	assert.Equal(t, true, tracker.Observe(goldenPps))
	assert.Equal(t, true, tracker.Changed())
	assert.Equal(t, false, tracker.Changed())

	fd, err := tracker.FormatDescription()
	assert.Equal(t, nil, err)
	assert.Equal(t, uint32(1280), fd.Width)
	assert.Equal(t, uint32(720), fd.Height)
	assert.Equal(t, 2, len(fd.ParamSets()))
	assert.Equal(t, h2645.JoinNaluAnnexb(sps720p, goldenPps), fd.AnnexbParamSets())

	// 相同参数集不算变化
	tracker.Observe(sps720p)
	assert.Equal(t, false, tracker.Changed())
	tracker.Observe(goldenSps)
	assert.Equal(t, true, tracker.Changed())
	fd2, err := tracker.FormatDescription()
	assert.Equal(t, nil, err)
	assert.Equal(t, false, fd.Equal(fd2))

	tracker.Reset()
	assert.Equal(t, false, tracker.Complete())
}

func TestParamSetTrackerHevc(t *testing.T) {
	vps := []byte{0x40, 0x01, 0x0c}
	sps := []byte{0x42, 0x01, 0x01}
	pps := []byte{0x44, 0x01, 0xc1}

	tracker := h2645.NewParamSetTracker(h2645.CodecHevc)
	tracker.Observe(sps)
	tracker.Observe(pps)
	assert.Equal(t, false, tracker.Complete())
	tracker.Observe(vps)
	assert.Equal(t, true, tracker.Changed())

	fd, err := tracker.FormatDescription()
	assert.Equal(t, nil, err)
	assert.Equal(t, [][]byte{vps, sps, pps}, fd.ParamSets())

	fd2, err := h2645.NewFormatDescription(h2645.CodecHevc, vps, sps, pps)
	assert.Equal(t, nil, err)
	assert.Equal(t, true, fd.Equal(fd2))

	_, err = h2645.NewFormatDescription(h2645.CodecHevc, nil, sps, pps)
	assert.IsNotNil(t, err)
}

func TestKeyNalu(t *testing.T) {
	assert.Equal(t, true, h2645.IsKeyNalu(h2645.CodecAvc, 5))
	assert.Equal(t, false, h2645.IsKeyNalu(h2645.CodecAvc, 1))
	assert.Equal(t, true, h2645.IsKeyNalu(h2645.CodecHevc, 19))
	assert.Equal(t, true, h2645.IsParamSet(h2645.CodecHevc, 32))
	assert.Equal(t, []byte{0x09, 0x10}, h2645.AudNalu(h2645.CodecAvc, true))
	assert.Equal(t, []byte{0x46, 0x01, 0x50}, h2645.AudNalu(h2645.CodecHevc, false))
}

func TestNewFormatDescription_CorruptedSps(t *testing.T) {
	// 解析失败时宽高为0，参数集仍然保留
	sps := []byte{0x67, 0x64, 0x00, 0x1f, 0xf6, 0x00, 0x00, 0x00}
	fd, err := h2645.NewFormatDescription(h2645.CodecAvc, nil, sps, goldenPps)
	assert.Equal(t, nil, err)
	assert.Equal(t, uint32(0), fd.Width)
	assert.Equal(t, uint32(0), fd.Height)
	assert.Equal(t, sps, fd.Sps)

	for i := 1; i <= len(sps); i++ {
		fd, err = h2645.NewFormatDescription(h2645.CodecAvc, nil, sps[:i], goldenPps)
		assert.Equal(t, nil, err)
		assert.Equal(t, uint32(0), fd.Width)
	}
}
