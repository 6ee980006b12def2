// Copyright 2019, Chef.  All rights reserved.
// https://github.com/q191201771/lalts
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package mpegts

import (
	"fmt"
	"os"
)

// FileWriter 将TS包写入文件，每次写入的数据必须是188字节的整数倍
//
type FileWriter struct {
	fp          *os.File
	packetCount int
}

func (fw *FileWriter) Create(filename string) (err error) {
	fw.fp, err = os.Create(filename)
	return
}

func (fw *FileWriter) Write(b []byte) (err error) {
	if fw.fp == nil {
		return ErrMpegts
	}
	if len(b)%TsPacketSize != 0 {
		return fmt.Errorf("%w. not aligned to ts packet. len=%d", ErrMpegts, len(b))
	}
	if _, err = fw.fp.Write(b); err != nil {
		return err
	}
	fw.packetCount += len(b) / TsPacketSize
	return nil
}

// PacketCount 已写入的TS包数量
func (fw *FileWriter) PacketCount() int {
	return fw.packetCount
}

func (fw *FileWriter) Dispose() error {
	if fw.fp == nil {
		return ErrMpegts
	}
	return fw.fp.Close()
}

func (fw *FileWriter) Name() string {
	if fw.fp == nil {
		return ""
	}
	return fw.fp.Name()
}
