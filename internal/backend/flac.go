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

package backend

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/mewkiz/flac"

	"github.com/mycophonic/saprobe-transcode/internal/pcm"
)

// FLAC opens FLAC files through mewkiz/flac. Samples are delivered as 32-bit
// words with the significant bits aligned high.
type FLAC struct{}

// Name implements Backend.
func (FLAC) Name() string { return "flac" }

// Extensions implements Backend.
func (FLAC) Extensions() []string { return []string{".flac"} }

// Open implements Backend.
func (FLAC) Open(path string) (Stream, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening flac: %w", err)
	}

	stream, err := flac.NewSeek(file)
	if err != nil {
		file.Close()

		return nil, fmt.Errorf("parsing flac stream info: %w", err)
	}

	format := pcm.Format{
		SampleRate:     float64(stream.Info.SampleRate),
		Channels:       int(stream.Info.NChannels),
		BitsPerChannel: int(stream.Info.BitsPerSample),
		Signed:         true,
		BytesPerSample: 4, //nolint:mnd // int32 words
	}
	if err := format.Validate(); err != nil {
		file.Close()

		return nil, err
	}

	return &flacStream{
		file:   file,
		stream: stream,
		format: format,
		shift:  uint(32 - format.BitsPerChannel), //nolint:gosec,mnd // validated <= 32
	}, nil
}

type flacStream struct {
	file   *os.File
	stream *flac.Stream
	format pcm.Format
	shift  uint

	// Decoded samples of the current frame, per channel, and how many
	// leading samples were already delivered.
	pending [][]int32
	offset  int
	eof     bool
}

func (s *flacStream) Format() pcm.Format { return s.format }

func (s *flacStream) ReadFrames(p []byte) (int, error) {
	want := s.format.Frames(len(p))
	channels := s.format.Channels
	written := 0

	for written < want {
		if s.offset >= s.blockSize() {
			if s.eof {
				break
			}

			if err := s.next(); err != nil {
				if errors.Is(err, io.EOF) {
					s.eof = true

					break
				}

				return written, err
			}

			continue
		}

		count := min(want-written, s.blockSize()-s.offset)

		for frame := range count {
			base := (written + frame) * channels * 4

			for ch := range channels {
				value := s.pending[ch][s.offset+frame] << s.shift
				binary.LittleEndian.PutUint32(p[base+ch*4:], uint32(value)) //nolint:gosec // aligned high
			}
		}

		written += count
		s.offset += count
	}

	if written == 0 && want > 0 {
		return 0, io.EOF
	}

	return written, nil
}

func (s *flacStream) blockSize() int {
	if len(s.pending) == 0 {
		return 0
	}

	return len(s.pending[0])
}

func (s *flacStream) next() error {
	frame, err := s.stream.ParseNext()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return io.EOF
		}

		return fmt.Errorf("decoding flac frame: %w", err)
	}

	if len(frame.Subframes) != s.format.Channels {
		return fmt.Errorf("%w: frame has %d channels, stream %d", ErrUnsupported, len(frame.Subframes), s.format.Channels)
	}

	s.pending = s.pending[:0]
	for _, sub := range frame.Subframes {
		s.pending = append(s.pending, sub.Samples[:frame.BlockSize])
	}

	s.offset = 0

	return nil
}

func (s *flacStream) Seek(frame int64) error {
	if frame < 0 || (s.stream.Info.NSamples > 0 && uint64(frame) > s.stream.Info.NSamples) {
		return fmt.Errorf("%w: frame %d", ErrSeek, frame)
	}

	s.pending = s.pending[:0]
	s.offset = 0

	// mewkiz/flac refuses the sample one past the last; that position is
	// simply end of stream.
	if s.stream.Info.NSamples > 0 && uint64(frame) == s.stream.Info.NSamples {
		s.eof = true

		return nil
	}

	start, err := s.stream.Seek(uint64(frame))
	if err != nil {
		return fmt.Errorf("%w: frame %d: %w", ErrSeek, frame, err)
	}

	s.eof = false

	if err := s.next(); err != nil {
		if errors.Is(err, io.EOF) {
			s.eof = true

			return nil
		}

		return err
	}

	// The seek lands on the frame containing the target sample.
	s.offset = int(uint64(frame) - start) //nolint:gosec // bounded by block size

	return nil
}

func (s *flacStream) Close() error {
	return s.file.Close()
}
