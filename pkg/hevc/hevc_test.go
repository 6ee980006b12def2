// Copyright 2020, Chef.  All rights reserved.
// https://github.com/q191201771/lalts
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package hevc_test

import (
	"testing"

	"github.com/q191201771/lalts/pkg/hevc"
	"github.com/q191201771/naza/pkg/assert"
)

func TestNaluHeader(t *testing.T) {
	golden := []struct {
		b   []byte
		typ uint8
		str string
	}{
		{[]byte{0x40, 0x01}, hevc.NaluTypeVps, "VPS"},
		{[]byte{0x42, 0x01}, hevc.NaluTypeSps, "SPS"},
		{[]byte{0x44, 0x01}, hevc.NaluTypePps, "PPS"},
		{[]byte{0x26, 0x01}, hevc.NaluTypeSliceIdr, "IdrWRadl"},
		{[]byte{0x02, 0x01}, hevc.NaluTypeSliceTrailR, "TrailR"},
		{[]byte{0x4e, 0x01}, hevc.NaluTypeSei, "SEI"},
		{[]byte{0x46, 0x01}, hevc.NaluTypeAud, "AUD"},
	}
	for _, item := range golden {
		h, err := hevc.ParseNaluHeader(item.b)
		assert.Equal(t, nil, err)
		assert.Equal(t, item.typ, h.Type)
		assert.Equal(t, uint8(0), h.LayerId)
		assert.Equal(t, uint8(1), h.TemporalIdPlusOne)
		assert.Equal(t, item.typ, hevc.CalcNaluType(item.b))
		assert.Equal(t, item.typ, hevc.ParseNaluType(item.b[0]))
		assert.Equal(t, item.str, hevc.CalcNaluTypeReadable(item.b))
		assert.Equal(t, item.b, h.Pack())
	}

	_, err := hevc.ParseNaluHeader([]byte{0x40})
	assert.IsNotNil(t, err)
}

func TestIrap(t *testing.T) {
	assert.Equal(t, true, hevc.IsIrapNalu(hevc.NaluTypeSliceIdr))
	assert.Equal(t, true, hevc.IsIrapNalu(hevc.NaluTypeSliceIdrNlp))
	assert.Equal(t, true, hevc.IsIrapNalu(hevc.NaluTypeSliceCranut))
	assert.Equal(t, true, hevc.IsIrapNalu(hevc.NaluTypeSliceBlaWlp))
	assert.Equal(t, false, hevc.IsIrapNalu(hevc.NaluTypeSliceTrailR))
	assert.Equal(t, false, hevc.IsIrapNalu(hevc.NaluTypeVps))

	assert.Equal(t, true, hevc.IsParamSet(hevc.NaluTypeVps))
	assert.Equal(t, false, hevc.IsParamSet(hevc.NaluTypeAud))
	assert.Equal(t, hevc.NaluTypeAud, hevc.CalcNaluType(hevc.AudNaluKey))
	assert.Equal(t, hevc.NaluTypeAud, hevc.CalcNaluType(hevc.AudNalu))
}
