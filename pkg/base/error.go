// Copyright 2021, Chef.  All rights reserved.
// https://github.com/q191201771/lalts
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package base

import (
	"errors"
	"fmt"
)

// ----- 通用的 ---------------------------------------------------------------------------------------------------------

var (
	ErrShortBuffer = errors.New("lalts: buffer too short")
)

func NewErrShortBuffer(need, actual int, msg string) error {
	return fmt.Errorf("%w. need=%d, actual=%d, msg=%s", ErrShortBuffer, need, actual, msg)
}

// ----- pkg/aac -------------------------------------------------------------------------------------------------------

var (
	ErrAac                    = errors.New("lalts.aac: fxxk")
	ErrAdtsSyncWord           = errors.New("lalts.aac: invalid adts sync word")
	ErrSamplingFrequencyIndex = errors.New("lalts.aac: invalid sampling frequency index")
)

// ----- pkg/avc -------------------------------------------------------------------------------------------------------

var ErrAvc = errors.New("lalts.avc: fxxk")

// ----- pkg/hevc ------------------------------------------------------------------------------------------------------

var ErrHevc = errors.New("lalts.hevc: fxxk")

// ----- pkg/h2645 -----------------------------------------------------------------------------------------------------

var (
	ErrH2645            = errors.New("lalts.h2645: fxxk")
	ErrNaluLength       = errors.New("lalts.h2645: invalid nalu length")
	ErrParamSetsMissing = errors.New("lalts.h2645: parameter sets not complete")
)

// ----- pkg/opus ------------------------------------------------------------------------------------------------------

var (
	ErrOpus              = errors.New("lalts.opus: fxxk")
	ErrOpusControlHeader = errors.New("lalts.opus: invalid control header")
)

// ----- pkg/mpegts ----------------------------------------------------------------------------------------------------

var (
	ErrMpegts         = errors.New("lalts.mpegts: fxxk")
	ErrTsSyncByte     = errors.New("lalts.mpegts: invalid sync byte")
	ErrPesStartCode   = errors.New("lalts.mpegts: invalid pes start code")
	ErrPsiTableId     = errors.New("lalts.mpegts: unexpected psi table id")
	ErrPsiCrc32       = errors.New("lalts.mpegts: psi crc32 mismatch")
	ErrPayloadTooLong = errors.New("lalts.mpegts: payload exceeds packet capacity")
)

func NewErrTsSyncByte(b byte) error {
	return fmt.Errorf("%w. b=%d", ErrTsSyncByte, b)
}

func NewErrPsiCrc32(expected, actual uint32) error {
	return fmt.Errorf("%w. expected=0x%08x, actual=0x%08x", ErrPsiCrc32, expected, actual)
}

// ----- pkg/avsync ----------------------------------------------------------------------------------------------------

var (
	ErrSourceNotFound = errors.New("lalts.avsync: source not found")
	ErrSourceExist    = errors.New("lalts.avsync: source already exist")
	ErrStaleHandle    = errors.New("lalts.avsync: stale source handle")
	ErrLoopQueueFull  = errors.New("lalts.avsync: loop task queue full")
)

// ----- pkg/remux -----------------------------------------------------------------------------------------------------

var (
	ErrMuxerNotRunning  = errors.New("lalts.remux: muxer not running")
	ErrMuxerNotReady    = errors.New("lalts.remux: muxer audio or video config not set")
	ErrUnsupportedCodec = errors.New("lalts.remux: unsupported codec")
	ErrDemuxerStopped   = errors.New("lalts.remux: demuxer stopped")
)

// ---------------------------------------------------------------------------------------------------------------------
