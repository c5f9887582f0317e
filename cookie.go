/*
   Copyright Mycophonic.

   Licensed under the Apache License, Version 2.0 (the "License");
   you may not use this file except in compliance with the License.
   You may obtain a copy of the License at

       http://www.apache.org/licenses/LICENSE-2.0

   Unless required by applicable law or agreed to in writing, software
   distributed under the License is distributed on an "AS IS" BASIS,
   WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
   See the License for the specific language governing permissions and
   limitations under the License.
*/

package transcode

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/mycophonic/saprobe-transcode/internal/bitio"
)

// MPEG-4 descriptor tags found in an esds-style magic cookie.
const (
	tagESDescriptor     = 3
	tagDecoderConfig    = 4
	tagDecSpecificInfo  = 5
	esDescriptorHeader  = 3  // ES_ID(16) + flags(8), all optional fields absent
	decoderConfigHeader = 13 // objectType(8) + streamType(6,1,1) + bufferSizeDB(24) + max/avgBitrate(32+32)
)

// samplingRates maps a sampling-rate index to Hz. Indices 13 and 14 are
// reserved, 15 escapes to an explicit 24-bit rate.
//
//nolint:gochecknoglobals
var samplingRates = [16]uint32{
	96000, 88200, 64000, 48000, 44100, 32000, 24000, 22050,
	16000, 12000, 11025, 8000, 7350, 0, 0, 0,
}

const explicitRateIndex = 15

// DecoderSpecificConfig holds the leading fields of an MPEG-4
// AudioSpecificConfig together with its raw bytes.
type DecoderSpecificConfig struct {
	ObjectType        uint8
	SamplingRateIndex uint8
	SamplingRate      uint32
	ChannelConfig     uint8

	// Raw is the verbatim decoder-specific info payload.
	Raw []byte
}

// ValidRate reports whether SamplingRate is a usable rate. Reserved table
// entries (indices 13 and 14) decode to 0.
func (c DecoderSpecificConfig) ValidRate() bool {
	return c.SamplingRate != 0
}

// ChannelCount returns the channel count implied by ChannelConfig.
// Zero means the layout is carried in-band by a program config element.
func (c DecoderSpecificConfig) ChannelCount() int {
	switch {
	case c.ChannelConfig == 7: //nolint:mnd // 7.1
		return 8
	case c.ChannelConfig <= 6: //nolint:mnd // 1..6 map to themselves
		return int(c.ChannelConfig)
	default:
		return 0
	}
}

// ParseESDSCookie walks an elementary-stream descriptor tree and returns a copy
// of the decoder-specific info payload.
func ParseESDSCookie(cookie []byte) ([]byte, error) {
	cur := bitio.NewCursor(cookie)

	for cur.Remaining() > 0 {
		tag, err := cur.Byte()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCookie, err)
		}

		size, err := cur.VarSize()
		if err != nil {
			return nil, fmt.Errorf("%w: tag %d: %w", ErrCookie, tag, err)
		}

		switch tag {
		case tagESDescriptor:
			err = cur.Skip(esDescriptorHeader)
		case tagDecoderConfig:
			err = cur.Skip(decoderConfigHeader)
		case tagDecSpecificInfo:
			dsi, nextErr := cur.Next(int(size))
			if nextErr != nil {
				return nil, fmt.Errorf("%w: decoder-specific info: %w", ErrCookie, nextErr)
			}

			return dsi, nil
		default:
			err = cur.Skip(int(size))
		}

		if err != nil {
			return nil, fmt.Errorf("%w: tag %d: %w", ErrCookie, tag, err)
		}
	}

	return nil, fmt.Errorf("%w: no decoder-specific info descriptor", ErrCookie)
}

// ParseDecoderSpecificConfig reads object type, sampling rate and channel
// configuration from a decoder-specific info payload.
func ParseDecoderSpecificConfig(dsi []byte) (DecoderSpecificConfig, error) {
	bits := bitio.NewReader(dsi)

	objectType, err := bits.ReadBits(5)
	if err != nil {
		return DecoderSpecificConfig{}, fmt.Errorf("%w: object type: %w", ErrCookie, err)
	}

	index, err := bits.ReadBits(4)
	if err != nil {
		return DecoderSpecificConfig{}, fmt.Errorf("%w: sampling rate index: %w", ErrCookie, err)
	}

	rate := samplingRates[index]
	if index == explicitRateIndex {
		rate, err = bits.ReadBits(24)
		if err != nil {
			return DecoderSpecificConfig{}, fmt.Errorf("%w: explicit sampling rate: %w", ErrCookie, err)
		}
	}

	channelConfig, err := bits.ReadBits(4)
	if err != nil {
		return DecoderSpecificConfig{}, fmt.Errorf("%w: channel config: %w", ErrCookie, err)
	}

	return DecoderSpecificConfig{
		ObjectType:        uint8(objectType),    //nolint:gosec // 5-bit field
		SamplingRateIndex: uint8(index),         //nolint:gosec // 4-bit field
		SamplingRate:      rate,
		ChannelConfig:     uint8(channelConfig), //nolint:gosec // 4-bit field
		Raw:               bytes.Clone(dsi),
	}, nil
}

// ParseAACCookie extracts and decodes the decoder-specific config carried by
// an AAC encoder's magic cookie.
func ParseAACCookie(cookie []byte) (DecoderSpecificConfig, error) {
	dsi, err := ParseESDSCookie(cookie)
	if err != nil {
		return DecoderSpecificConfig{}, err
	}

	return ParseDecoderSpecificConfig(dsi)
}

// ALACConfig holds the ALACSpecificConfig and optional channel layout carried
// by an ALAC encoder's magic cookie.
type ALACConfig struct {
	// Specific is the verbatim 24-byte ALACSpecificConfig.
	Specific [alacConfigSize]byte
	// ChannelLayout is the 12-byte ALACChannelLayoutInfo, or nil when absent.
	ChannelLayout []byte

	FrameLength   uint32
	BitDepth      uint8
	NumChannels   uint8
	PB            uint8
	MB            uint8
	KB            uint8
	MaxRun        uint16
	MaxFrameBytes uint32
	AvgBitRate    uint32
	SampleRate    uint32
}

const (
	alacConfigSize   = 24 // ALACSpecificConfig binary size.
	alacWrapperSize  = 24 // 'frma' atom (12) + 'alac' atom header (12).
	atomHeaderSize   = 12 // size (4) + type (4) + version/flags (4).
	alacLayoutSize   = 12 // ALACChannelLayoutInfo binary size.
	alacChanAtomSize = atomHeaderSize + alacLayoutSize
)

// ParseALACCookie reads an ALACSpecificConfig and optional channel layout
// from a magic cookie, skipping the legacy 'frma'+'alac' wrapper if present.
func ParseALACCookie(cookie []byte) (ALACConfig, error) {
	cur := bitio.NewCursor(cookie)

	// [size:4]['frma']['alac'] followed by [size:4]['alac'][version:4]
	if head, ok := cur.Peek(12); ok && bytes.Equal(head[4:12], []byte("frmaalac")) { //nolint:mnd // wrapper tag span
		if err := cur.Skip(alacWrapperSize); err != nil {
			return ALACConfig{}, fmt.Errorf("%w: wrapper: %w", ErrCookie, err)
		}
	} else if head, ok := cur.Peek(atomHeaderSize); ok && string(head[4:8]) == "alac" {
		// Bare 'alac' atom, as stored under an MP4 sample entry.
		if err := cur.Skip(atomHeaderSize); err != nil {
			return ALACConfig{}, fmt.Errorf("%w: alac atom: %w", ErrCookie, err)
		}
	}

	specific, err := cur.Next(alacConfigSize)
	if err != nil {
		return ALACConfig{}, fmt.Errorf("%w: ALACSpecificConfig: %w", ErrCookie, err)
	}

	var layout []byte

	if chanAtom, ok := cur.Peek(alacChanAtomSize); ok && string(chanAtom[4:8]) == "chan" {
		if size := binary.BigEndian.Uint32(chanAtom[0:4]); size != alacChanAtomSize {
			return ALACConfig{}, fmt.Errorf("%w: channel layout atom of %d bytes", ErrCookie, size)
		}

		layout = bytes.Clone(chanAtom[atomHeaderSize:alacChanAtomSize])
	}

	config := ALACConfig{
		ChannelLayout: layout,
		FrameLength:   binary.BigEndian.Uint32(specific[0:4]),
		BitDepth:      specific[5],
		PB:            specific[6],
		MB:            specific[7],
		KB:            specific[8],
		NumChannels:   specific[9],
		MaxRun:        binary.BigEndian.Uint16(specific[10:12]),
		MaxFrameBytes: binary.BigEndian.Uint32(specific[12:16]),
		AvgBitRate:    binary.BigEndian.Uint32(specific[16:20]),
		SampleRate:    binary.BigEndian.Uint32(specific[20:24]),
	}
	copy(config.Specific[:], specific)

	if compatibleVersion := specific[4]; compatibleVersion > 0 {
		return ALACConfig{}, fmt.Errorf("%w: unsupported compatible version %d", ErrCookie, compatibleVersion)
	}

	return config, nil
}
