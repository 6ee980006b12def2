// Copyright 2024, Chef.  All rights reserved.
// https://github.com/q191201771/lalts
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/q191201771/lalts/pkg/base"
	"github.com/q191201771/lalts/pkg/h2645"
	"github.com/q191201771/lalts/pkg/mpegts"
	"github.com/q191201771/lalts/pkg/remux"
	"github.com/q191201771/naza/pkg/assert"
)

var sps720p = []byte{
	0x67, 0x64, 0x00, 0x1f, 0xac, 0xd9, 0x40, 0x50,
	0x05, 0xbb, 0xff, 0x00, 0x03, 0x00, 0x04, 0x6a,
	0x02, 0x02, 0x02, 0x80, 0x00, 0x01, 0xf4, 0x80,
	0x00, 0x5d, 0xc0, 0x07, 0x8c, 0x18, 0xcb,
}

type bufferObserver struct {
	buf bytes.Buffer
}

func (o *bufferObserver) OnTsChunk(b []byte) {
	o.buf.Write(b)
}

// 20个音频帧，3个视频帧
func writeTestTsFile(t *testing.T, filename string) {
	observer := &bufferObserver{}
	muxer := remux.NewMpegtsMuxer(observer)
	muxer.Start()

	fd, err := h2645.NewFormatDescription(h2645.CodecAvc, nil, sps720p, []byte{0x68, 0xce, 0x3c, 0x80})
	assert.Equal(t, nil, err)
	assert.Equal(t, nil, muxer.SetVideoConfig(fd))
	err = muxer.SetAudioConfig(remux.AudioConfig{
		Codec:           remux.AudioCodecAac,
		AudioObjectType: 2,
		SampleRate:      48000,
		Channels:        2,
	})
	assert.Equal(t, nil, err)

	for i := 0; i < 20; i++ {
		if i%7 == 0 {
			frame := base.TimedFrame{
				Payload: h2645.JoinNaluAvcc([]byte{0x41, 0x9a, byte(i)}),
				Pts:     1 + float64(i)*0.02,
				Key:     i == 0,
			}
			if frame.Key {
				frame.Payload = h2645.JoinNaluAvcc([]byte{0x65, 0x88, 0x84, 0x21})
			}
			assert.Equal(t, nil, muxer.WriteVideo(frame))
		}
		err = muxer.WriteAudio(base.TimedFrame{
			Payload: []byte{byte(i), 0x01},
			Pts:     1 + float64(i)*1024/48000,
		})
		assert.Equal(t, nil, err)
	}
	muxer.Flush()
	assert.Equal(t, nil, os.WriteFile(filename, observer.buf.Bytes(), 0644))
}

func TestProbe(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "in.ts")
	writeTestTsFile(t, input)

	config, err := LoadConf("tsprobe.conf.json", []byte(`{"chunk_size": 1000, "log": {"is_to_stdout": false}}`))
	assert.Equal(t, nil, err)
	config.Input = input
	config.RemuxOutput = filepath.Join(dir, "out.ts")

	ctx := context.Background()
	summary, err := ScanWithAstits(ctx, input)
	assert.Equal(t, nil, err)
	assert.Equal(t, mpegts.PidAudio, summary.AudioPid)
	assert.Equal(t, mpegts.StreamTypeAac, summary.AudioStreamType)
	assert.Equal(t, mpegts.PidVideo, summary.VideoPid)
	assert.Equal(t, mpegts.StreamTypeAvc, summary.VideoStreamType)
	assert.Equal(t, 20, summary.PesNum[mpegts.PidAudio])
	assert.Equal(t, 3, summary.PesNum[mpegts.PidVideo])

	probe := NewProbe(config, summary)
	assert.Equal(t, nil, probe.Feed(ctx))

	stat := probe.Stat()
	assert.Equal(t, uint64(20), stat.Demuxer.AudioFrames)
	assert.Equal(t, uint64(3), stat.Demuxer.VideoFrames)
	assert.Equal(t, uint64(0), stat.Demuxer.ContinuityErrors)
	assert.Equal(t, uint64(1280), stat.VideoWidth)
	assert.Equal(t, uint64(720), stat.VideoHeight)
	assert.Equal(t, 1, stat.Synchronizer.Sources)
	assert.Equal(t, true, stat.RemuxPackets > 0)
	assert.Equal(t, uint64(0), stat.RemuxWriteErrors)
	assert.Equal(t, true, CrossCheck(summary, stat.Demuxer))

	// 重新封装的文件可以被独立解析
	remuxed, err := ScanWithAstits(ctx, config.RemuxOutput)
	assert.Equal(t, nil, err)
	assert.Equal(t, mpegts.PidAudio, remuxed.AudioPid)
	assert.Equal(t, mpegts.PidVideo, remuxed.VideoPid)
	assert.Equal(t, 20, remuxed.PesNum[mpegts.PidAudio])

	server := NewHttpApiServer(config.HttpApiConfig.Addr, probe)
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/stat", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	var resp statResponse
	assert.Equal(t, nil, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, base.ErrorCodeSucc, resp.ErrorCode)
	assert.Equal(t, uint64(20), resp.Data.Demuxer.AudioFrames)
	assert.Equal(t, input, resp.Data.Input)

	w = httptest.NewRecorder()
	server.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/notexist", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
