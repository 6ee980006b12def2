// Copyright 2023, Chef.  All rights reserved.
// https://github.com/q191201771/lalts
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package mpegts

import (
	"fmt"

	"github.com/q191201771/lalts/pkg/base"
	"github.com/q191201771/naza/pkg/bele"
	"github.com/q191201771/naza/pkg/nazabits"
	"github.com/q191201771/naza/pkg/nazaerrors"
)

// PsiId
const (
	TsPsiIdPas            = 0x00 // program_association_section
	TsPsiIdCas            = 0x01 // conditional_access_section (CA_section)
	TsPsiIdPms            = 0x02 // TS_program_map_section
	TsPsiIdDs             = 0x03 // TS_description_section
	TsPsiIdSds            = 0x04 // ISO_IEC_14496_scene_description_section
	TsPsiIdOds            = 0x05 // ISO_IEC_14496_object_descriptor_section
	TsPsiIdIso138181Start = 0x06 // ITU-T Rec. H.222.0 | ISO/IEC 13818-1 reserved
	TsPsiIdIso138181End   = 0x37
	TsPsiIdIso138186Start = 0x38 // Defined in ISO/IEC 13818-6
	TsPsiIdIso138186End   = 0x3F
	TsPsiIdUserStart      = 0x40 // User private
	TsPsiIdUserEnd        = 0xFE
	TsPsiIdForbidden      = 0xFF // forbidden
)

const (
	DescriptorTagAC3                        = 0x6a
	DescriptorTagAVCVideo                   = 0x28
	DescriptorTagComponent                  = 0x50
	DescriptorTagContent                    = 0x54
	DescriptorTagDataStreamAlignment        = 0x6
	DescriptorTagEnhancedAC3                = 0x7a
	DescriptorTagExtendedEvent              = 0x4e
	DescriptorTagExtension                  = 0x7f
	DescriptorTagISO639LanguageAndAudioType = 0xa
	DescriptorTagLocalTimeOffset            = 0x58
	DescriptorTagMaximumBitrate             = 0xe
	DescriptorTagNetworkName                = 0x40
	DescriptorTagParentalRating             = 0x55
	DescriptorTagPrivateDataIndicator       = 0xf
	DescriptorTagPrivateDataSpecifier       = 0x5f
	DescriptorTagRegistration               = 0x5
	DescriptorTagService                    = 0x48
	DescriptorTagShortEvent                 = 0x4d
	DescriptorTagStreamIdentifier           = 0x52
	DescriptorTagSubtitling                 = 0x59
	DescriptorTagTeletext                   = 0x56
	DescriptorTagVBIData                    = 0x45
	DescriptorTagVBITeletext                = 0x46
)

const (
	opusIdentifier = 0x4f707573 // Opus

	// ETSI TS 102 366 opus_audio_descriptor，位于extension descriptor内
	extensionTagOpusAudio = 0x80
)

// PsiTable PAT或PMT
//
// 只有 *Pat 和 *Pmt 两种实现，使用type switch区分
type PsiTable interface {
	TableId() uint8
	tableIdExtension() uint16
	version() uint8
	packBody() []byte
}

// ----------------------------------------------------------
// <iso13818-1.pdf> <2.4.4> <page 59/174>
// pointer_field            [8b]  * 只在PUSI为1的包中存在
// table_id                 [8b]  *
// section_syntax_indicator [1b]
// '0'                      [1b]
// reserved                 [2b]
// section_length           [12b] ** 后面的字节数，包含crc32
// table_id_extension       [16b] ** PAT为transport_stream_id，PMT为program_number
// reserved                 [2b]
// version_number           [5b]
// current_next_indicator   [1b]  *
// section_number           [8b]  *
// last_section_number      [8b]  *
// ...
// CRC_32                   [32b] ****
// ----------------------------------------------------------

const (
	psiSectionHeaderSize = 8 // table_id ~ last_section_number
	psiCrc32Size         = 4
	psiMaxSectionLength  = 1021
)

// PackPsi 生成一个TS包的完整payload（184字节），包含pointer_field，尾部使用0xFF填充
//
func PackPsi(table PsiTable) ([]byte, error) {
	body := table.packBody()
	sectionLength := psiSectionHeaderSize - 3 + len(body) + psiCrc32Size
	total := 1 + 3 + sectionLength
	if total > TsPacketPayloadSize {
		return nil, fmt.Errorf("%w. psi section=%d", ErrPayloadTooLong, total)
	}

	out := make([]byte, TsPacketPayloadSize)
	// pointer_field为0
	bw := nazabits.NewBitWriter(out[1 : 1+psiSectionHeaderSize])
	bw.WriteBits8(8, table.TableId())
	bw.WriteBit(1)
	bw.WriteBit(0)
	bw.WriteBits8(2, 0x3)
	bw.WriteBits16(12, uint16(sectionLength))
	bw.WriteBits16(16, table.tableIdExtension())
	bw.WriteBits8(2, 0x3)
	bw.WriteBits8(5, table.version())
	bw.WriteBit(1)
	bw.WriteBits8(8, 0)
	bw.WriteBits8(8, 0)

	pos := 1 + psiSectionHeaderSize
	pos += copy(out[pos:], body)
	crc := CalcCrc32(0xFFFFFFFF, out[1:pos])
	bele.BePutUint32(out[pos:], crc)
	pos += psiCrc32Size
	for ; pos < len(out); pos++ {
		out[pos] = 0xFF
	}
	return out, nil
}

// ParsePsi
//
// @param b: PUSI为1的TS包的payload，包含pointer_field
//
// @return table: *Pat 或 *Pmt
//
func ParsePsi(b []byte) (table PsiTable, err error) {
	if len(b) < 1 {
		return nil, nazaerrors.Wrap(base.NewErrShortBuffer(1, 0, "psi pointer field"))
	}
	start := 1 + int(b[0])
	if start+psiSectionHeaderSize > len(b) {
		return nil, nazaerrors.Wrap(base.NewErrShortBuffer(start+psiSectionHeaderSize, len(b), "psi section header"))
	}
	section := b[start:]

	br := nazabits.NewBitReader(section[:psiSectionHeaderSize])
	tableId, _ := br.ReadBits8(8)
	_, _ = br.ReadBits8(4)
	sectionLength, _ := br.ReadBits16(12)
	tableIdExtension, _ := br.ReadBits16(16)
	_, _ = br.ReadBits8(2)
	version, _ := br.ReadBits8(5)

	if tableId != TsPsiIdPas && tableId != TsPsiIdPms {
		return nil, fmt.Errorf("%w. table id=%d", ErrPsiTableId, tableId)
	}
	if int(sectionLength) > psiMaxSectionLength || int(sectionLength) < psiSectionHeaderSize-3+psiCrc32Size {
		return nil, fmt.Errorf("%w. invalid section length=%d", ErrMpegts, sectionLength)
	}
	end := 3 + int(sectionLength)
	if end > len(section) {
		return nil, nazaerrors.Wrap(base.NewErrShortBuffer(end, len(section), "psi section"))
	}

	expected := bele.BeUint32(section[end-psiCrc32Size:])
	actual := CalcCrc32(0xFFFFFFFF, section[:end-psiCrc32Size])
	if expected != actual {
		if StrictCrc {
			return nil, base.NewErrPsiCrc32(expected, actual)
		}
		Log.Warnf("psi crc32 mismatch, still use it. table id=%d, expected=0x%08x, actual=0x%08x", tableId, expected, actual)
		psiLogDump.DumpPrefix("psi", "crc32 mismatch", section[:end])
	}

	body := section[psiSectionHeaderSize : end-psiCrc32Size]
	switch tableId {
	case TsPsiIdPas:
		pat := &Pat{
			TransportStreamId: tableIdExtension,
			Version:           version,
		}
		if err = pat.unpackBody(body); err != nil {
			return nil, err
		}
		return pat, nil
	default:
		pmt := &Pmt{
			ProgramNumber: tableIdExtension,
			Version:       version,
		}
		if err = pmt.unpackBody(body); err != nil {
			return nil, err
		}
		return pmt, nil
	}
}

// Descriptor
//
// <iso13818-1.pdf> <2.6 Program and program element descriptors>
// descriptor_tag    [8b]
// descriptor_length [8b]
//
type Descriptor struct {
	Tag          uint8
	Registration DescriptorRegistration // Tag为DescriptorTagRegistration时有效
	Extension    DescriptorExtension    // Tag为DescriptorTagExtension时有效
	Data         []byte                 // 其他Tag的原始数据
}

type DescriptorRegistration struct {
	FormatIdentifier             uint32
	AdditionalIdentificationInfo []byte
}

type DescriptorExtension struct {
	Tag  uint8
	Data []byte
}

// NewOpusDescriptors opus在PMT中的描述符：registration("Opus") + extension(opus_audio_descriptor)
//
// channel_config_code在1~8时即为声道数
//
func NewOpusDescriptors(channels uint8) []Descriptor {
	return []Descriptor{
		{
			Tag:          DescriptorTagRegistration,
			Registration: DescriptorRegistration{FormatIdentifier: opusIdentifier},
		},
		{
			Tag: DescriptorTagExtension,
			Extension: DescriptorExtension{
				Tag:  extensionTagOpusAudio,
				Data: []byte{channels},
			},
		},
	}
}

func (d *Descriptor) bodyLength() int {
	switch d.Tag {
	case DescriptorTagRegistration:
		return 4 + len(d.Registration.AdditionalIdentificationInfo)
	case DescriptorTagExtension:
		return 1 + len(d.Extension.Data)
	}
	return len(d.Data)
}

func descriptorsLength(ds []Descriptor) int {
	n := 0
	for i := range ds {
		n += 2 + ds[i].bodyLength()
	}
	return n
}

func packDescriptors(out []byte, ds []Descriptor) int {
	pos := 0
	for i := range ds {
		d := &ds[i]
		out[pos] = d.Tag
		out[pos+1] = uint8(d.bodyLength())
		pos += 2
		switch d.Tag {
		case DescriptorTagRegistration:
			bele.BePutUint32(out[pos:], d.Registration.FormatIdentifier)
			pos += 4
			pos += copy(out[pos:], d.Registration.AdditionalIdentificationInfo)
		case DescriptorTagExtension:
			out[pos] = d.Extension.Tag
			pos++
			pos += copy(out[pos:], d.Extension.Data)
		default:
			pos += copy(out[pos:], d.Data)
		}
	}
	return pos
}

func parseDescriptors(b []byte) (ds []Descriptor, err error) {
	for len(b) > 0 {
		if len(b) < 2 {
			return nil, nazaerrors.Wrap(base.NewErrShortBuffer(2, len(b), "descriptor"))
		}
		tag := b[0]
		l := int(b[1])
		if 2+l > len(b) {
			return nil, nazaerrors.Wrap(base.NewErrShortBuffer(2+l, len(b), "descriptor body"))
		}
		body := b[2 : 2+l]
		d := Descriptor{Tag: tag}
		switch {
		case tag == DescriptorTagRegistration && l >= 4:
			d.Registration.FormatIdentifier = bele.BeUint32(body)
			d.Registration.AdditionalIdentificationInfo = cloneNonEmpty(body[4:])
		case tag == DescriptorTagExtension && l >= 1:
			d.Extension.Tag = body[0]
			d.Extension.Data = cloneNonEmpty(body[1:])
		default:
			d.Data = cloneNonEmpty(body)
		}
		ds = append(ds, d)
		b = b[2+l:]
	}
	return ds, nil
}

func cloneNonEmpty(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return append([]byte(nil), b...)
}
