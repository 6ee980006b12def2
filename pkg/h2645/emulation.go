// Copyright 2022, Chef.  All rights reserved.
// https://github.com/q191201771/lalts
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package h2645

// ISO-14496-10.pdf 7.4.1 NAL unit semantics
//
// nalu内部 00 00 00, 00 00 01, 00 00 02, 00 00 03 需要转义为 00 00 03 0x
// rbsp以 00 00 结尾时（cabac_zero_word），末尾追加 03

// AddEmulationPrevention rbsp -> ebsp
func AddEmulationPrevention(rbsp []byte) []byte {
	out := make([]byte, 0, len(rbsp)+len(rbsp)/64+1)
	zeroCount := 0
	for _, c := range rbsp {
		if zeroCount >= 2 && c <= 3 {
			out = append(out, 0x03)
			zeroCount = 0
		}
		out = append(out, c)
		if c == 0 {
			zeroCount++
		} else {
			zeroCount = 0
		}
	}
	if zeroCount >= 2 {
		out = append(out, 0x03)
	}
	return out
}

// RemoveEmulationPrevention ebsp -> rbsp，返回新申请的内存
func RemoveEmulationPrevention(ebsp []byte) []byte {
	out := make([]byte, 0, len(ebsp))
	zeroCount := 0
	for _, c := range ebsp {
		if zeroCount >= 2 && c == 0x03 {
			zeroCount = 0
			continue
		}
		out = append(out, c)
		if c == 0 {
			zeroCount++
		} else {
			zeroCount = 0
		}
	}
	return out
}
