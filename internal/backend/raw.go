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

	"github.com/mycophonic/saprobe-transcode/internal/pcm"
)

// Raw opens headerless PCM files whose layout is known up front.
type Raw struct {
	Layout pcm.Format
	Exts   []string
}

// Name implements Backend.
func (Raw) Name() string { return "raw" }

// Extensions implements Backend.
func (r Raw) Extensions() []string {
	if len(r.Exts) == 0 {
		return []string{".raw", ".pcm"}
	}

	return r.Exts
}

// Open implements Backend.
func (r Raw) Open(path string) (Stream, error) {
	if err := r.Layout.Validate(); err != nil {
		return nil, err
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening raw pcm: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()

		return nil, fmt.Errorf("stat raw pcm: %w", err)
	}

	return newSectionStream(file, r.Layout, 0, info.Size()), nil
}

// sectionStream serves frames from a byte range of a file. WAV data chunks
// and raw files share it.
type sectionStream struct {
	file    *os.File
	section *io.SectionReader
	format  pcm.Format
	frames  int64
}

func newSectionStream(file *os.File, format pcm.Format, offset, length int64) *sectionStream {
	bpf := int64(format.BytesPerFrame())

	return &sectionStream{
		file:    file,
		section: io.NewSectionReader(file, offset, length),
		format:  format,
		frames:  length / bpf,
	}
}

func (s *sectionStream) Format() pcm.Format { return s.format }

func (s *sectionStream) ReadFrames(p []byte) (int, error) {
	return readFrames(s.section, p, s.format.BytesPerFrame())
}

func (s *sectionStream) Seek(frame int64) error {
	if frame < 0 || frame > s.frames {
		return fmt.Errorf("%w: frame %d of %d", ErrSeek, frame, s.frames)
	}

	if _, err := s.section.Seek(frame*int64(s.format.BytesPerFrame()), io.SeekStart); err != nil {
		return fmt.Errorf("seeking to frame %d: %w", frame, err)
	}

	return nil
}

func (s *sectionStream) Close() error {
	return s.file.Close()
}
