// Copyright 2022, Chef.  All rights reserved.
// https://github.com/q191201771/lalts
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package h2645

import (
	"fmt"

	"github.com/q191201771/naza/pkg/bele"
	"github.com/q191201771/naza/pkg/nazaerrors"
)

// Annexb: 00 00 00 01 nalu 00 00 01 nalu ...
// Avcc:   [4字节大端长度] nalu [4字节大端长度] nalu ...

// FindStartCodeBackward 从 `end` 位置向前查找start code
//
// 由于有防竞争字节，nalu内部不会出现 00 00 01
//
// @return pos:    start code的起始位置，没找到时为-1
// @return length: start code的长度，3或4
//
func FindStartCodeBackward(b []byte, end int) (pos, length int) {
	if end > len(b) {
		end = len(b)
	}
	for i := end - 3; i >= 0; i-- {
		if b[i] != 0 || b[i+1] != 0 || b[i+2] != 1 {
			continue
		}
		if i > 0 && b[i-1] == 0 {
			return i - 1, 4
		}
		return i, 3
	}
	return -1, 0
}

// SplitNaluAnnexb 按start code切分，返回的nalu不包含start code，并且引用 `b` 的内存
//
func SplitNaluAnnexb(b []byte) ([][]byte, error) {
	var ret [][]byte
	end := len(b)
	for {
		pos, length := FindStartCodeBackward(b, end)
		if pos < 0 {
			break
		}
		nalu := trimTrailingZero(b[pos+length : end])
		if len(nalu) > 0 {
			ret = append(ret, nalu)
		}
		end = pos
	}
	if len(ret) == 0 {
		return nil, nazaerrors.Wrap(fmt.Errorf("%w. start code not found, len=%d", ErrH2645, len(b)))
	}
	if end > 0 {
		Log.Warnf("leading bytes before first start code dropped. len=%d", end)
	}

	for i, j := 0, len(ret)-1; i < j; i, j = i+1, j-1 {
		ret[i], ret[j] = ret[j], ret[i]
	}
	return ret, nil
}

func IterateNaluAnnexb(b []byte, handler func(nalu []byte)) error {
	nalus, err := SplitNaluAnnexb(b)
	if err != nil {
		return err
	}
	for _, nalu := range nalus {
		handler(nalu)
	}
	return nil
}

// IterateNaluAvcc 遍历Avcc格式的nalu流
//
func IterateNaluAvcc(b []byte, handler func(nalu []byte)) error {
	pos := 0
	for pos < len(b) {
		if len(b)-pos < 4 {
			return nazaerrors.Wrap(fmt.Errorf("%w. pos=%d, len=%d", ErrNaluLength, pos, len(b)))
		}
		length := int(bele.BeUint32(b[pos:]))
		pos += 4
		if length == 0 || length > len(b)-pos {
			return nazaerrors.Wrap(fmt.Errorf("%w. length=%d, remain=%d", ErrNaluLength, length, len(b)-pos))
		}
		handler(b[pos : pos+length])
		pos += length
	}
	return nil
}

func SplitNaluAvcc(b []byte) ([][]byte, error) {
	var ret [][]byte
	err := IterateNaluAvcc(b, func(nalu []byte) {
		ret = append(ret, nalu)
	})
	return ret, err
}

// Annexb2Avcc 返回新申请的内存
//
// 注意，3字节start code会被转换为4字节长度，所以只有全部使用4字节start code时，转换回Annexb才和原始数据一致
//
func Annexb2Avcc(b []byte) ([]byte, error) {
	nalus, err := SplitNaluAnnexb(b)
	if err != nil {
		return nil, err
	}
	return JoinNaluAvcc(nalus...), nil
}

// Annexb2AvccInPlace 全部为4字节start code时直接在 `b` 上修改并返回 `b`，否则退化为 Annexb2Avcc
//
func Annexb2AvccInPlace(b []byte) ([]byte, error) {
	type span struct {
		pos, length int
	}
	var spans []span
	end := len(b)
	for {
		pos, length := FindStartCodeBackward(b, end)
		if pos < 0 {
			break
		}
		if length != 4 {
			return Annexb2Avcc(b)
		}
		spans = append(spans, span{pos, end - pos - 4})
		end = pos
	}
	if len(spans) == 0 || end != 0 {
		return Annexb2Avcc(b)
	}
	for _, s := range spans {
		if s.length == 0 || b[s.pos+4+s.length-1] == 0 {
			// 有空nalu或尾部填充0，无法原地转换
			return Annexb2Avcc(b)
		}
	}
	for _, s := range spans {
		bele.BePutUint32(b[s.pos:], uint32(s.length))
	}
	return b, nil
}

// Avcc2Annexb 返回新申请的内存，每个nalu前为4字节start code
//
func Avcc2Annexb(b []byte) ([]byte, error) {
	ret := make([]byte, 0, len(b))
	err := IterateNaluAvcc(b, func(nalu []byte) {
		ret = append(ret, NaluStartCode4...)
		ret = append(ret, nalu...)
	})
	if err != nil {
		return nil, err
	}
	return ret, nil
}

// Avcc2AnnexbInPlace 长度字段和start code都是4字节，所以可以直接在 `b` 上修改
//
func Avcc2AnnexbInPlace(b []byte) error {
	// 先整体校验，避免改了一半才发现数据有问题
	if err := IterateNaluAvcc(b, func(nalu []byte) {}); err != nil {
		return err
	}
	pos := 0
	for pos < len(b) {
		length := int(bele.BeUint32(b[pos:]))
		copy(b[pos:], NaluStartCode4)
		pos += 4 + length
	}
	return nil
}

func trimTrailingZero(b []byte) []byte {
	n := len(b)
	for n > 0 && b[n-1] == 0 {
		n--
	}
	return b[:n]
}
