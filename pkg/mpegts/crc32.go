// Copyright 2023, Chef.  All rights reserved.
// https://github.com/q191201771/lalts
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package mpegts

// CRC-32/MPEG-2
// poly 0x04C11DB7, init 0xFFFFFFFF, 输入输出都不反转，没有final xor
//
// 注意，hash/crc32只支持反转（LSB first）的形式，不能直接用于PSI
//

const crc32Mpeg2Poly = 0x04C11DB7

var crc32Mpeg2Table = makeCrc32Mpeg2Table()

func makeCrc32Mpeg2Table() (table [256]uint32) {
	for i := 0; i < 256; i++ {
		crc := uint32(i) << 24
		for j := 0; j < 8; j++ {
			if crc&0x80000000 != 0 {
				crc = (crc << 1) ^ crc32Mpeg2Poly
			} else {
				crc <<= 1
			}
		}
		table[i] = crc
	}
	return
}

// CalcCrc32 首次计算时crc传入0xFFFFFFFF，可分段累加计算
func CalcCrc32(crc uint32, buffer []byte) uint32 {
	for _, b := range buffer {
		crc = (crc << 8) ^ crc32Mpeg2Table[byte(crc>>24)^b]
	}
	return crc
}
