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

package pcm

import (
	"errors"
	"fmt"
	"math"
)

// Format validation error sentinels.
//
//revive:disable:exported
var (
	ErrInvalidFormat = errors.New("pcm: invalid sample format")
	ErrFloatDepth    = errors.New("pcm: unsupported float bit depth")
	ErrContainer     = errors.New("pcm: sample container narrower than bit depth")
)

// Format describes an interleaved, little-endian PCM layout.
//
// Integer samples wider than their bit depth (BytesPerSample larger than the
// packed width) are aligned high: the significant bits sit at the top of the
// container and the low bits are zero.
type Format struct {
	SampleRate     float64
	Channels       int
	BitsPerChannel int
	Float          bool
	Signed         bool

	// BytesPerSample is the container width of a single sample.
	// Zero means packed, ceil(BitsPerChannel/8).
	BytesPerSample int
}

// NewFloat returns a packed IEEE float format.
func NewFloat(sampleRate float64, channels, bits int) Format {
	return Format{
		SampleRate:     sampleRate,
		Channels:       channels,
		BitsPerChannel: bits,
		Float:          true,
	}
}

// NewInt returns a packed integer format. 8-bit data is offset binary,
// wider data is signed.
func NewInt(sampleRate float64, channels, bits int) Format {
	return Format{
		SampleRate:     sampleRate,
		Channels:       channels,
		BitsPerChannel: bits,
		Signed:         bits > 8,
	}
}

// SampleBytes returns the number of bytes one sample occupies.
func (f Format) SampleBytes() int {
	if f.BytesPerSample > 0 {
		return f.BytesPerSample
	}

	return (f.BitsPerChannel + 7) / 8
}

// BytesPerFrame returns the size of one interleaved frame.
func (f Format) BytesPerFrame() int {
	return f.Channels * f.SampleBytes()
}

// Frames returns how many whole frames fit in n bytes.
func (f Format) Frames(n int) int {
	bpf := f.BytesPerFrame()
	if bpf == 0 {
		return 0
	}

	return n / bpf
}

// Validate reports whether the format can be carried through the pipeline.
func (f Format) Validate() error {
	switch {
	case f.Channels <= 0:
		return fmt.Errorf("%w: %d channels", ErrInvalidFormat, f.Channels)
	case f.SampleRate <= 0 || math.IsInf(f.SampleRate, 0) || math.IsNaN(f.SampleRate):
		return fmt.Errorf("%w: sample rate %v", ErrInvalidFormat, f.SampleRate)
	case f.BitsPerChannel <= 0 || f.BitsPerChannel > 64:
		return fmt.Errorf("%w: %d bits per channel", ErrInvalidFormat, f.BitsPerChannel)
	case f.Float && f.BitsPerChannel != 32 && f.BitsPerChannel != 64:
		return fmt.Errorf("%w: %d", ErrFloatDepth, f.BitsPerChannel)
	case f.BytesPerSample != 0 && f.BytesPerSample*8 < f.BitsPerChannel:
		return fmt.Errorf("%w: %d bytes for %d bits", ErrContainer, f.BytesPerSample, f.BitsPerChannel)
	case !f.Float && f.SampleBytes() > 4:
		return fmt.Errorf("%w: %d-byte integer samples", ErrInvalidFormat, f.SampleBytes())
	}

	return nil
}

func (f Format) String() string {
	kind := "u"

	switch {
	case f.Float:
		kind = "f"
	case f.Signed:
		kind = "s"
	}

	return fmt.Sprintf("%s%d/%dch/%gHz", kind, f.BitsPerChannel, f.Channels, f.SampleRate)
}
