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
	"errors"
	"fmt"
	"io"

	"github.com/mycophonic/saprobe-transcode/internal/backend"
	"github.com/mycophonic/saprobe-transcode/internal/pcm"
)

// SampleFormat describes the interleaved little-endian PCM layout a stage
// delivers. A filter may expose a different format than its upstream.
type SampleFormat = pcm.Format

// Source is a pull-based stage delivering PCM frames.
type Source interface {
	// Format returns the layout of the frames delivered by ReadFrames.
	// It does not change after construction.
	Format() SampleFormat
	// ReadFrames fills p with whole frames (len(p) should be a multiple of
	// Format().BytesPerFrame()) and returns how many were read. It blocks
	// until data is available and returns 0, io.EOF at end of stream.
	ReadFrames(p []byte) (int, error)
}

// Seeker is implemented by sources that can reposition to an absolute frame.
type Seeker interface {
	SeekFrame(frame int64) error
}

// FileSource reads PCM from a file through a decode backend.
type FileSource struct {
	stream backend.Stream
	path   string
	pos    int64
	closed bool
}

// Open opens path with the built-in backend matching its extension.
func Open(path string) (*FileSource, error) {
	return OpenWith(backend.Default(), path)
}

// OpenRaw opens a headerless PCM file laid out as format.
func OpenRaw(path string, format SampleFormat) (*FileSource, error) {
	stream, err := backend.Raw{Layout: format}.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}

	return &FileSource{stream: stream, path: path}, nil
}

// OpenWith opens path with a backend from reg.
func OpenWith(reg *backend.Registry, path string) (*FileSource, error) {
	stream, err := reg.Open(path)
	if err != nil {
		if errors.Is(err, backend.ErrNoBackend) {
			return nil, fmt.Errorf("%w: %w", ErrNoBackend, err)
		}

		return nil, fmt.Errorf("opening %s: %w", path, err)
	}

	return &FileSource{stream: stream, path: path}, nil
}

// Format implements Source.
func (s *FileSource) Format() SampleFormat { return s.stream.Format() }

// ReadFrames implements Source.
func (s *FileSource) ReadFrames(p []byte) (int, error) {
	n, err := s.stream.ReadFrames(p)
	s.pos += int64(n)

	return n, err //nolint:wrapcheck // io.EOF must reach callers unwrapped
}

// SeekFrame implements Seeker.
func (s *FileSource) SeekFrame(frame int64) error {
	if err := s.stream.Seek(frame); err != nil {
		return fmt.Errorf("seeking %s: %w", s.path, err)
	}

	s.pos = frame

	return nil
}

// Position returns the next frame ReadFrames will deliver.
func (s *FileSource) Position() int64 { return s.pos }

// Close releases the backend handle. Closing twice is a no-op.
func (s *FileSource) Close() error {
	if s.closed {
		return nil
	}

	s.closed = true

	if err := s.stream.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", s.path, err)
	}

	return nil
}

// PCMSource delivers frames from an io.Reader carrying raw PCM.
type PCMSource struct {
	reader io.Reader
	format SampleFormat
}

// NewPCMSource wraps r, whose bytes are laid out as format.
func NewPCMSource(r io.Reader, format SampleFormat) (*PCMSource, error) {
	if err := format.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}

	return &PCMSource{reader: r, format: format}, nil
}

// Format implements Source.
func (s *PCMSource) Format() SampleFormat { return s.format }

// ReadFrames implements Source. A trailing partial frame is dropped.
func (s *PCMSource) ReadFrames(p []byte) (int, error) {
	bpf := s.format.BytesPerFrame()

	want := len(p) / bpf * bpf
	if want == 0 {
		return 0, nil
	}

	n, err := io.ReadFull(s.reader, p[:want])
	frames := n / bpf

	switch {
	case err == nil:
		return frames, nil
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		if frames == 0 {
			return 0, io.EOF
		}

		return frames, nil
	default:
		return frames, fmt.Errorf("reading pcm: %w", err)
	}
}
