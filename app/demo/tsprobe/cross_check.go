// Copyright 2024, Chef.  All rights reserved.
// https://github.com/q191201771/lalts
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package main

import (
	"bufio"
	"context"
	"errors"
	"os"

	"github.com/asticode/go-astits"
	"github.com/q191201771/lalts/pkg/mpegts"
	"github.com/q191201771/lalts/pkg/remux"
	"github.com/q191201771/naza/pkg/nazalog"
)

// StreamSummary 使用go-astits独立解析得到的流信息，和 MpegtsDemuxer 的结果交叉验证
type StreamSummary struct {
	AudioPid        uint16         `json:"audio_pid"`
	AudioStreamType uint8          `json:"audio_stream_type"`
	VideoPid        uint16         `json:"video_pid"`
	VideoStreamType uint8          `json:"video_stream_type"`
	PesNum          map[uint16]int `json:"pes_num"`
}

func ScanWithAstits(ctx context.Context, filename string) (StreamSummary, error) {
	summary := StreamSummary{
		PesNum: make(map[uint16]int),
	}

	fp, err := os.Open(filename)
	if err != nil {
		return summary, err
	}
	defer fp.Close()

	demuxer := astits.NewDemuxer(ctx, bufio.NewReader(fp))
	for {
		d, err := demuxer.NextData()
		if err != nil {
			if errors.Is(err, astits.ErrNoMorePackets) {
				break
			}
			return summary, err
		}

		if d.PMT != nil {
			for _, es := range d.PMT.ElementaryStreams {
				streamType := uint8(es.StreamType)
				switch streamType {
				case mpegts.StreamTypeAac, mpegts.StreamTypePrivateData:
					summary.AudioPid = es.ElementaryPID
					summary.AudioStreamType = streamType
				case mpegts.StreamTypeAvc, mpegts.StreamTypeHevc:
					summary.VideoPid = es.ElementaryPID
					summary.VideoStreamType = streamType
				}
			}
		}
		if d.PES != nil {
			summary.PesNum[d.FirstPacket.Header.PID]++
		}
	}
	nazalog.Infof("astits scan done. summary=%+v", summary)
	return summary, nil
}

// CrossCheck 每个视频PES对应一帧，参数集齐全之前的帧被丢弃
//
// @return ok: 结果一致
//
func CrossCheck(summary StreamSummary, stat remux.DemuxerStat) bool {
	ok := true
	if summary.VideoPid != 0 {
		astitsNum := uint64(summary.PesNum[summary.VideoPid])
		if astitsNum < stat.VideoFrames || astitsNum > stat.VideoFrames+stat.DroppedPes {
			nazalog.Warnf("video frame num mismatch. astits pes=%d, demuxer frames=%d, dropped=%d",
				astitsNum, stat.VideoFrames, stat.DroppedPes)
			ok = false
		}
	}
	if summary.AudioPid != 0 && summary.PesNum[summary.AudioPid] > 0 && stat.AudioFrames == 0 {
		nazalog.Warnf("no audio frame. astits pes=%d", summary.PesNum[summary.AudioPid])
		ok = false
	}
	nazalog.Infof("cross check with astits. ok=%t, pes=%v, demuxer=%+v", ok, summary.PesNum, stat)
	return ok
}
