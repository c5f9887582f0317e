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
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/mycophonic/saprobe-transcode/internal/bitio"
)

const (
	adtsHeaderSize     = 7
	adtsSyncWord       = 0xFFF
	adtsMaxFrameLength = 1<<13 - 1
	adtsFullnessVBR    = 0x7FF
	maxADTSObjectType  = 4 // the 2-bit profile field holds object types 1..4
	maxADTSChannelConf = 7 // the field is 3 bits wide
)

// ADTSHeader holds the fields of a 7-byte ADTS header (no CRC).
type ADTSHeader struct {
	ObjectType        uint8
	SamplingRateIndex uint8
	ChannelConfig     uint8
	// FrameLength counts the header and the payload.
	FrameLength    uint16
	BufferFullness uint16
	RawBlocks      uint8
	// ProtectionAbsent is false when a 16-bit CRC follows the header.
	ProtectionAbsent bool
}

// PayloadLength returns the number of payload bytes following the header.
func (h ADTSHeader) PayloadLength() int {
	if h.ProtectionAbsent {
		return int(h.FrameLength) - adtsHeaderSize
	}

	return int(h.FrameLength) - adtsHeaderSize - 2 //nolint:mnd // CRC
}

// ParseADTSHeader decodes the ADTS header at the start of b.
func ParseADTSHeader(b []byte) (ADTSHeader, error) {
	if len(b) < adtsHeaderSize {
		return ADTSHeader{}, fmt.Errorf("%w: %d bytes", ErrHeader, len(b))
	}

	bits := bitio.NewReader(b[:adtsHeaderSize])
	fields := make([]uint32, 0, 16) //nolint:mnd // header field count

	for _, width := range []uint8{12, 1, 2, 1, 2, 4, 1, 3, 1, 1, 1, 1, 13, 11, 2} {
		value, err := bits.ReadBits(width)
		if err != nil {
			return ADTSHeader{}, fmt.Errorf("%w: %w", ErrHeader, err)
		}

		fields = append(fields, value)
	}

	if fields[0] != adtsSyncWord {
		return ADTSHeader{}, fmt.Errorf("%w: sync word 0x%03X", ErrHeader, fields[0])
	}

	header := ADTSHeader{
		ProtectionAbsent:  fields[3] == 1,
		ObjectType:        uint8(fields[4]) + 1, //nolint:gosec // 2-bit field
		SamplingRateIndex: uint8(fields[5]),     //nolint:gosec // 4-bit field
		ChannelConfig:     uint8(fields[7]),     //nolint:gosec // 3-bit field
		FrameLength:       uint16(fields[12]),   //nolint:gosec // 13-bit field
		BufferFullness:    uint16(fields[13]),   //nolint:gosec // 11-bit field
		RawBlocks:         uint8(fields[14]),    //nolint:gosec // 2-bit field
	}

	if header.PayloadLength() < 0 {
		return ADTSHeader{}, fmt.Errorf("%w: frame length %d", ErrHeader, header.FrameLength)
	}

	return header, nil
}

// ADTSSink writes AAC packets as a raw ADTS elementary stream.
type ADTSSink struct {
	writer io.Writer
	file   *os.File
	config DecoderSpecificConfig
	logger logrus.FieldLogger
	frame  []byte
	closed bool
}

// ADTSOptions configures an ADTS sink.
type ADTSOptions struct {
	Logger logrus.FieldLogger
}

// WithDefaults returns a copy with unset fields filled in.
func (o ADTSOptions) WithDefaults() ADTSOptions {
	o.Logger = loggerOrDefault(o.Logger)

	return o
}

// NewADTSSink creates path and returns a sink owning the file.
func NewADTSSink(path string, cookie []byte, opts ADTSOptions) (*ADTSSink, error) {
	opts = opts.WithDefaults()

	config, err := adtsConfig(cookie)
	if err != nil {
		return nil, err
	}

	file, err := os.Create(path) //nolint:gosec // caller-chosen output path
	if err != nil {
		return nil, fmt.Errorf("creating %s: %w", path, err)
	}

	return &ADTSSink{
		writer: file,
		file:   file,
		config: config,
		logger: opts.Logger.WithField("path", path),
	}, nil
}

// NewADTSWriter returns a sink writing to w. Neither Close nor Abort closes w,
// and Abort cannot take back bytes already written to it.
func NewADTSWriter(w io.Writer, cookie []byte, opts ADTSOptions) (*ADTSSink, error) {
	opts = opts.WithDefaults()

	config, err := adtsConfig(cookie)
	if err != nil {
		return nil, err
	}

	return &ADTSSink{writer: w, config: config, logger: opts.Logger}, nil
}

func adtsConfig(cookie []byte) (DecoderSpecificConfig, error) {
	config, err := ParseAACCookie(cookie)
	if err != nil {
		return DecoderSpecificConfig{}, err
	}

	switch {
	case config.ObjectType < 1 || config.ObjectType > maxADTSObjectType:
		return DecoderSpecificConfig{}, fmt.Errorf("%w: object type %d has no ADTS profile", ErrCookie, config.ObjectType)
	case config.SamplingRateIndex == explicitRateIndex:
		return DecoderSpecificConfig{}, fmt.Errorf("%w: explicit sampling rate %d has no ADTS index", ErrCookie, config.SamplingRate)
	case !config.ValidRate():
		return DecoderSpecificConfig{}, fmt.Errorf("%w: reserved sampling rate index %d", ErrCookie, config.SamplingRateIndex)
	case config.ChannelConfig > maxADTSChannelConf:
		return DecoderSpecificConfig{}, fmt.Errorf("%w: channel config %d", ErrCookie, config.ChannelConfig)
	}

	return config, nil
}

// Config returns the decoder-specific config the headers are derived from.
func (s *ADTSSink) Config() DecoderSpecificConfig { return s.config }

// WritePacket writes one header and payload with a single Write call.
func (s *ADTSSink) WritePacket(p Packet) error {
	if s.closed {
		return ErrClosed
	}

	frameLength := len(p.Data) + adtsHeaderSize
	if frameLength > adtsMaxFrameLength {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, frameLength)
	}

	header, err := s.header(frameLength)
	if err != nil {
		return err
	}

	s.frame = append(append(s.frame[:0], header...), p.Data...)

	written, err := s.writer.Write(s.frame)

	switch {
	case err != nil:
		return fmt.Errorf("writing ADTS frame: %w", err)
	case written < len(s.frame):
		return fmt.Errorf("writing ADTS frame: %d of %d bytes: %w", written, len(s.frame), io.ErrShortWrite)
	}

	return nil
}

func (s *ADTSSink) header(frameLength int) ([]byte, error) {
	bits := bitio.NewWriter(adtsHeaderSize)

	bits.WriteBits(adtsSyncWord, 12)                      //nolint:mnd // syncword
	bits.WriteBits(0, 1)                                  // MPEG-4
	bits.WriteBits(0, 2)                                  //nolint:mnd // layer
	bits.WriteBits(1, 1)                                  // protection absent
	bits.WriteBits(uint64(s.config.ObjectType-1), 2)      //nolint:mnd // profile
	bits.WriteBits(uint64(s.config.SamplingRateIndex), 4) //nolint:mnd // sampling frequency index
	bits.WriteBits(0, 1)                                  // private
	bits.WriteBits(uint64(s.config.ChannelConfig), 3)     //nolint:mnd // channel configuration
	bits.WriteBits(0, 4)                                  //nolint:mnd // original, home, copyright bits
	bits.WriteBits(uint64(frameLength), 13)               //nolint:mnd,gosec // frame length
	bits.WriteBits(adtsFullnessVBR, 11)                   //nolint:mnd // buffer fullness
	bits.WriteBits(0, 2)                                  //nolint:mnd // raw data blocks minus one

	header, err := bits.Bytes()
	if err != nil {
		return nil, fmt.Errorf("building ADTS header: %w", err)
	}

	return header, nil
}

// Close closes the owned file, if any. Closing twice is a no-op.
func (s *ADTSSink) Close() error {
	if s.closed {
		return nil
	}

	s.closed = true

	if s.file == nil {
		return nil
	}

	if err := s.file.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", s.file.Name(), err)
	}

	s.logger.Debug("adts stream closed")

	return nil
}

// Abort closes and removes the owned file, if any. It is a no-op after Close.
func (s *ADTSSink) Abort() error {
	if s.closed {
		return nil
	}

	s.closed = true

	if s.file == nil {
		return nil
	}

	s.logger.Debug("adts stream discarded")

	return discard(s.file)
}
