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
	"fmt"
	"io"
	"os"

	"github.com/go-audio/aiff"
	"github.com/go-audio/audio"

	"github.com/mycophonic/saprobe-transcode/internal/pcm"
)

// AIFF opens AIFF files through go-audio/aiff. Samples are delivered as
// 32-bit words with the significant bits aligned high.
type AIFF struct{}

// Name implements Backend.
func (AIFF) Name() string { return "aiff" }

// Extensions implements Backend.
func (AIFF) Extensions() []string { return []string{".aif", ".aiff"} }

// Open implements Backend.
func (AIFF) Open(path string) (Stream, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening aiff: %w", err)
	}

	stream := &aiffStream{file: file}
	if err := stream.rewind(); err != nil {
		file.Close()

		return nil, err
	}

	return stream, nil
}

type aiffStream struct {
	file   *os.File
	dec    *aiff.Decoder
	format pcm.Format
	shift  uint
	buf    *audio.IntBuffer
	pos    int64
}

func (s *aiffStream) rewind() error {
	if _, err := s.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewinding aiff: %w", err)
	}

	dec := aiff.NewDecoder(s.file)
	if !dec.IsValidFile() {
		return fmt.Errorf("%w: not an aiff file", ErrUnsupported)
	}

	if err := dec.FwdToPCM(); err != nil {
		return fmt.Errorf("locating aiff sound data: %w", err)
	}

	format := pcm.Format{
		SampleRate:     float64(dec.SampleRate),
		Channels:       int(dec.NumChans),
		BitsPerChannel: int(dec.BitDepth),
		Signed:         true,
		BytesPerSample: 4, //nolint:mnd // int32 words
	}
	if err := format.Validate(); err != nil {
		return err
	}

	s.dec = dec
	s.format = format
	s.shift = uint(32 - format.BitsPerChannel) //nolint:gosec,mnd // validated <= 32
	s.pos = 0

	return nil
}

func (s *aiffStream) Format() pcm.Format { return s.format }

func (s *aiffStream) ReadFrames(p []byte) (int, error) {
	frames := s.format.Frames(len(p))
	if frames == 0 {
		return 0, nil
	}

	samples := frames * s.format.Channels
	if s.buf == nil || len(s.buf.Data) < samples {
		s.buf = &audio.IntBuffer{Data: make([]int, samples)}
	}

	s.buf.Data = s.buf.Data[:samples]

	n, err := s.dec.PCMBuffer(s.buf)
	if err != nil && n == 0 {
		return 0, fmt.Errorf("decoding aiff: %w", err)
	}

	got := n / s.format.Channels
	if got == 0 {
		return 0, io.EOF
	}

	for idx, value := range s.buf.Data[:got*s.format.Channels] {
		binary.LittleEndian.PutUint32(p[idx*4:], uint32(int32(value)<<s.shift)) //nolint:gosec // aligned high
	}

	s.pos += int64(got)

	return got, nil
}

// Seek reopens the sound data and discards frames up to the target; the
// decoder exposes no random access.
func (s *aiffStream) Seek(frame int64) error {
	if frame < 0 {
		return fmt.Errorf("%w: frame %d", ErrSeek, frame)
	}

	if frame < s.pos {
		if err := s.rewind(); err != nil {
			return err
		}
	}

	scratch := make([]byte, 4096*s.format.BytesPerFrame()) //nolint:mnd // discard block

	for s.pos < frame {
		want := min(int64(len(scratch)/s.format.BytesPerFrame()), frame-s.pos)

		if _, err := s.ReadFrames(scratch[:want*int64(s.format.BytesPerFrame())]); err != nil {
			return fmt.Errorf("%w: frame %d: %w", ErrSeek, frame, err)
		}
	}

	return nil
}

func (s *aiffStream) Close() error {
	return s.file.Close()
}
