// Copyright 2021, Chef.  All rights reserved.
// https://github.com/q191201771/lalts
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package avc

import (
	"encoding/hex"
	"fmt"

	"github.com/q191201771/naza/pkg/nazabits"
	"github.com/q191201771/naza/pkg/nazabytes"
	"github.com/q191201771/naza/pkg/nazaerrors"
)

// Context 从SPS中解析出的，上层关心的信息
type Context struct {
	Profile uint8
	Level   uint8
	Width   uint32
	Height  uint32
}

// Sps
//
// ISO-14496-10.pdf
// 7.3.2.1.1 Sequence parameter set data syntax
//
type Sps struct {
	ProfileIdc                     uint8
	ConstraintSet0Flag             uint8
	ConstraintSet1Flag             uint8
	ConstraintSet2Flag             uint8
	LevelIdc                       uint8
	SpsId                          uint32
	ChromaFormatIdc                uint32
	ResidualColorTransformFlag     uint8
	BitDepthLuma                   uint32
	BitDepthChroma                 uint32
	TransFormBypass                uint8
	Log2MaxFrameNumMinus4          uint32
	PicOrderCntType                uint32
	Log2MaxPicOrderCntLsb          uint32
	NumRefFrames                   uint32
	GapsInFrameNumValueAllowedFlag uint8
	PicWidthInMbsMinusOne          uint32
	PicHeightInMapUnitsMinusOne    uint32
	FrameMbsOnlyFlag               uint8
	MbAdaptiveFrameFieldFlag       uint8
	Direct8X8InferenceFlag         uint8
	FrameCroppingFlag              uint8
	FrameCropLeftOffset            uint32
	FrameCropRightOffset           uint32
	FrameCropTopOffset             uint32
	FrameCropBottomOffset          uint32
}

// ParseSps
//
// @param payload: SPS NAL unit，包含1字节NAL头，不包含start code。
//                 注意，需要是RBSP，即已经去除了防竞争字节（见 h2645.RemoveEmulationPrevention）
//
func ParseSps(payload []byte, ctx *Context) (err error) {
	if len(payload) < 1 {
		return ErrAvc
	}
	// 损坏的SPS可能让 nazabits.BitReader 的指数哥伦布读取越界
	defer func() {
		if r := recover(); r != nil {
			Log.Errorf("parse sps panic. r=%+v, payload=%s", r, hex.Dump(nazabytes.Prefix(payload, 128)))
			err = fmt.Errorf("%w. parse sps panic: %v", ErrAvc, r)
		}
	}()
	// 跳过NAL头
	br := nazabits.NewBitReader(payload[1:])
	var sps Sps
	if err := parseSpsBasic(&br, &sps); err != nil {
		Log.Errorf("parseSpsBasic failed. err=%+v, payload=%s", err, hex.Dump(nazabytes.Prefix(payload, 128)))
		return err
	}
	ctx.Profile = sps.ProfileIdc
	ctx.Level = sps.LevelIdc

	if err := parseSpsBeta(&br, &sps); err != nil {
		Log.Errorf("parseSpsBeta failed. err=%+v, payload=%s", err, hex.Dump(nazabytes.Prefix(payload, 128)))
		return err
	}
	ctx.Width = (sps.PicWidthInMbsMinusOne+1)*16 - (sps.FrameCropLeftOffset+sps.FrameCropRightOffset)*2
	ctx.Height = (2-uint32(sps.FrameMbsOnlyFlag))*(sps.PicHeightInMapUnitsMinusOne+1)*16 - (sps.FrameCropTopOffset+sps.FrameCropBottomOffset)*2
	return nil
}

func parseSpsBasic(br *nazabits.BitReader, sps *Sps) error {
	var err error
	sps.ProfileIdc, err = br.ReadBits8(8)
	if err != nil {
		return nazaerrors.Wrap(err)
	}
	sps.ConstraintSet0Flag, err = br.ReadBits8(1)
	if err != nil {
		return nazaerrors.Wrap(err)
	}
	sps.ConstraintSet1Flag, err = br.ReadBits8(1)
	if err != nil {
		return nazaerrors.Wrap(err)
	}
	sps.ConstraintSet2Flag, err = br.ReadBits8(1)
	if err != nil {
		return nazaerrors.Wrap(err)
	}
	_, err = br.ReadBits8(5)
	if err != nil {
		return nazaerrors.Wrap(err)
	}
	sps.LevelIdc, err = br.ReadBits8(8)
	if err != nil {
		return nazaerrors.Wrap(err)
	}
	sps.SpsId, err = br.ReadGolomb()
	if err != nil {
		return nazaerrors.Wrap(err)
	}
	if sps.SpsId >= 32 {
		return nazaerrors.Wrap(ErrAvc)
	}
	return nil
}

func parseSpsBeta(br *nazabits.BitReader, sps *Sps) error {
	var err error

	if hasChromaInfo(sps.ProfileIdc) {
		sps.ChromaFormatIdc, err = br.ReadGolomb()
		if err != nil {
			return nazaerrors.Wrap(err)
		}
		if sps.ChromaFormatIdc > 3 {
			return nazaerrors.Wrap(ErrAvc)
		}

		if sps.ChromaFormatIdc == 3 {
			sps.ResidualColorTransformFlag, err = br.ReadBits8(1)
			if err != nil {
				return nazaerrors.Wrap(err)
			}
		}

		sps.BitDepthLuma, err = br.ReadGolomb()
		if err != nil {
			return nazaerrors.Wrap(err)
		}
		sps.BitDepthLuma += 8

		sps.BitDepthChroma, err = br.ReadGolomb()
		if err != nil {
			return nazaerrors.Wrap(err)
		}
		sps.BitDepthChroma += 8

		sps.TransFormBypass, err = br.ReadBits8(1)
		if err != nil {
			return nazaerrors.Wrap(err)
		}

		// seq_scaling_matrix_present_flag
		flag, err := br.ReadBits8(1)
		if err != nil {
			return nazaerrors.Wrap(err)
		}
		if flag == 1 {
			n := 8
			if sps.ChromaFormatIdc == 3 {
				n = 12
			}
			for i := 0; i < n; i++ {
				present, err := br.ReadBits8(1)
				if err != nil {
					return nazaerrors.Wrap(err)
				}
				if present == 0 {
					continue
				}
				size := 16
				if i >= 6 {
					size = 64
				}
				if err = skipScalingList(br, size); err != nil {
					return err
				}
			}
		}
	} else {
		sps.ChromaFormatIdc = 1
		sps.BitDepthLuma = 8
		sps.BitDepthChroma = 8
	}

	sps.Log2MaxFrameNumMinus4, err = br.ReadGolomb()
	if err != nil {
		return nazaerrors.Wrap(err)
	}
	if sps.Log2MaxFrameNumMinus4 > 12 {
		return nazaerrors.Wrap(ErrAvc)
	}
	sps.PicOrderCntType, err = br.ReadGolomb()
	if err != nil {
		return nazaerrors.Wrap(err)
	}

	switch sps.PicOrderCntType {
	case 0:
		sps.Log2MaxPicOrderCntLsb, err = br.ReadGolomb()
		if err != nil {
			return nazaerrors.Wrap(err)
		}
		sps.Log2MaxPicOrderCntLsb += 4
	case 1:
		// delta_pic_order_always_zero_flag
		if _, err = br.ReadBits8(1); err != nil {
			return nazaerrors.Wrap(err)
		}
		// offset_for_non_ref_pic, offset_for_top_to_bottom_field
		// se(v)和ue(v)占用的bit数相同，这里只需要跳过
		for i := 0; i < 2; i++ {
			if _, err = br.ReadGolomb(); err != nil {
				return nazaerrors.Wrap(err)
			}
		}
		cycle, err := br.ReadGolomb()
		if err != nil {
			return nazaerrors.Wrap(err)
		}
		for i := uint32(0); i < cycle; i++ {
			if _, err = br.ReadGolomb(); err != nil {
				return nazaerrors.Wrap(err)
			}
		}
	case 2:
		// noop
	default:
		return nazaerrors.Wrap(ErrAvc)
	}

	sps.NumRefFrames, err = br.ReadGolomb()
	if err != nil {
		return nazaerrors.Wrap(err)
	}
	sps.GapsInFrameNumValueAllowedFlag, err = br.ReadBits8(1)
	if err != nil {
		return nazaerrors.Wrap(err)
	}
	sps.PicWidthInMbsMinusOne, err = br.ReadGolomb()
	if err != nil {
		return nazaerrors.Wrap(err)
	}
	sps.PicHeightInMapUnitsMinusOne, err = br.ReadGolomb()
	if err != nil {
		return nazaerrors.Wrap(err)
	}
	sps.FrameMbsOnlyFlag, err = br.ReadBits8(1)
	if err != nil {
		return nazaerrors.Wrap(err)
	}

	if sps.FrameMbsOnlyFlag == 0 {
		sps.MbAdaptiveFrameFieldFlag, err = br.ReadBits8(1)
		if err != nil {
			return nazaerrors.Wrap(err)
		}
	}

	sps.Direct8X8InferenceFlag, err = br.ReadBits8(1)
	if err != nil {
		return nazaerrors.Wrap(err)
	}

	sps.FrameCroppingFlag, err = br.ReadBits8(1)
	if err != nil {
		return nazaerrors.Wrap(err)
	}
	if sps.FrameCroppingFlag == 1 {
		sps.FrameCropLeftOffset, err = br.ReadGolomb()
		if err != nil {
			return nazaerrors.Wrap(err)
		}
		sps.FrameCropRightOffset, err = br.ReadGolomb()
		if err != nil {
			return nazaerrors.Wrap(err)
		}
		sps.FrameCropTopOffset, err = br.ReadGolomb()
		if err != nil {
			return nazaerrors.Wrap(err)
		}
		sps.FrameCropBottomOffset, err = br.ReadGolomb()
		if err != nil {
			return nazaerrors.Wrap(err)
		}
	}

	// vui不关心，不解析
	return nil
}

func hasChromaInfo(profileIdc uint8) bool {
	switch profileIdc {
	case 100, 110, 122, 244, 44, 83, 86, 118, 128, 138, 139, 134, 135:
		return true
	}
	return false
}

// 7.3.2.1.1.1 Scaling list syntax
func skipScalingList(br *nazabits.BitReader, size int) error {
	lastScale := int32(8)
	nextScale := int32(8)
	for j := 0; j < size; j++ {
		if nextScale != 0 {
			delta, err := readSignedGolomb(br)
			if err != nil {
				return err
			}
			nextScale = (lastScale + delta + 256) % 256
		}
		if nextScale != 0 {
			lastScale = nextScale
		}
	}
	return nil
}

func readSignedGolomb(br *nazabits.BitReader) (int32, error) {
	k, err := br.ReadGolomb()
	if err != nil {
		return 0, nazaerrors.Wrap(err)
	}
	if k&1 == 1 {
		return int32((k + 1) / 2), nil
	}
	return -int32(k / 2), nil
}
