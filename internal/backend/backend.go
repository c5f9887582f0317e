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

// Package backend provides the decode capability behind file sources: one
// variant per container/codec library, each opening a path and delivering
// interleaved little-endian PCM frames.
package backend

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/mycophonic/saprobe-transcode/internal/pcm"
)

// Backend error sentinels.
//
//revive:disable:exported
var (
	ErrNoBackend   = errors.New("backend: no backend registered for input")
	ErrUnsupported = errors.New("backend: unsupported stream")
	ErrSeek        = errors.New("backend: seek out of range")
)

// Stream is an open decode handle.
type Stream interface {
	// Format returns the layout of the frames delivered by ReadFrames.
	Format() pcm.Format
	// ReadFrames fills p with whole frames and returns how many were read.
	// It returns 0, io.EOF at end of stream.
	ReadFrames(p []byte) (int, error)
	// Seek positions the stream at the given absolute frame.
	Seek(frame int64) error
	// Close releases the handle.
	Close() error
}

// Backend opens streams for the file extensions it declares.
type Backend interface {
	Name() string
	Extensions() []string
	Open(path string) (Stream, error)
}

// Registry maps file extensions to backends.
type Registry struct {
	byExt map[string]Backend
}

// NewRegistry returns a registry holding the given backends. Later backends
// take precedence for extensions claimed twice.
func NewRegistry(backends ...Backend) *Registry {
	reg := &Registry{byExt: make(map[string]Backend)}
	for _, b := range backends {
		reg.Register(b)
	}

	return reg
}

// Default returns a registry with every built-in file backend.
func Default() *Registry {
	return NewRegistry(WAV{}, AIFF{}, FLAC{}, MP3{})
}

// Register adds b for each of its extensions.
func (r *Registry) Register(b Backend) {
	for _, ext := range b.Extensions() {
		r.byExt[strings.ToLower(ext)] = b
	}
}

// Lookup returns the backend handling path, based on its extension.
func (r *Registry) Lookup(path string) (Backend, error) {
	ext := strings.ToLower(filepath.Ext(path))

	b, ok := r.byExt[ext]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoBackend, ext)
	}

	return b, nil
}

// Open looks up the backend for path and opens it.
func (r *Registry) Open(path string) (Stream, error) {
	b, err := r.Lookup(path)
	if err != nil {
		return nil, err
	}

	stream, err := b.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}

	return stream, nil
}

// readFrames reads whole frames of bpf bytes from reader into p.
// A trailing partial frame is dropped.
func readFrames(reader io.Reader, p []byte, bpf int) (int, error) {
	want := len(p) / bpf * bpf
	if want == 0 {
		return 0, nil
	}

	n, err := io.ReadFull(reader, p[:want])

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
