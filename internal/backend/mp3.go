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
	"fmt"
	"io"
	"os"

	"github.com/hajimehoshi/go-mp3"

	"github.com/mycophonic/saprobe-transcode/internal/pcm"
)

// go-mp3 always decodes to interleaved 16-bit little-endian stereo.
const (
	mp3Channels = 2
	mp3Bits     = 16
)

// MP3 opens MPEG-1/2 Layer III files through hajimehoshi/go-mp3.
type MP3 struct{}

// Name implements Backend.
func (MP3) Name() string { return "mp3" }

// Extensions implements Backend.
func (MP3) Extensions() []string { return []string{".mp3"} }

// Open implements Backend.
func (MP3) Open(path string) (Stream, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening mp3: %w", err)
	}

	dec, err := mp3.NewDecoder(file)
	if err != nil {
		file.Close()

		return nil, fmt.Errorf("parsing mp3: %w", err)
	}

	return &mp3Stream{
		file:   file,
		dec:    dec,
		format: pcm.NewInt(float64(dec.SampleRate()), mp3Channels, mp3Bits),
	}, nil
}

type mp3Stream struct {
	file   *os.File
	dec    *mp3.Decoder
	format pcm.Format
	// atEnd is set by a seek to the exact end, which go-mp3 cannot position.
	atEnd bool
}

func (s *mp3Stream) Format() pcm.Format { return s.format }

func (s *mp3Stream) ReadFrames(p []byte) (int, error) {
	if s.atEnd {
		return 0, io.EOF
	}

	return readFrames(s.dec, p, s.format.BytesPerFrame())
}

// Seek converts frame to the decoder's byte offset. go-mp3 indexes its frame
// table without bounds checks, so offsets past the decoded length are refused
// here.
func (s *mp3Stream) Seek(frame int64) error {
	offset := frame * int64(s.format.BytesPerFrame())
	length := s.dec.Length()

	if frame < 0 || (length >= 0 && offset > length) {
		return fmt.Errorf("%w: frame %d", ErrSeek, frame)
	}

	s.atEnd = offset == length
	if s.atEnd {
		return nil
	}

	if _, err := s.dec.Seek(offset, io.SeekStart); err != nil {
		return fmt.Errorf("%w: frame %d: %w", ErrSeek, frame, err)
	}

	return nil
}

func (s *mp3Stream) Close() error {
	return s.file.Close()
}
