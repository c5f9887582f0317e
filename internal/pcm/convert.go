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

//nolint:gosec // Integer conversions are bounded by the container width.
package pcm

import (
	"encoding/binary"
	"math"
)

// ToFloat64 decodes interleaved samples of format f from src into dst,
// normalized to [-1, 1). It returns the number of samples written, which is
// the smaller of len(dst) and the whole samples available in src.
func ToFloat64(f Format, src []byte, dst []float64) int {
	width := f.SampleBytes()
	count := min(len(dst), len(src)/width)

	switch {
	case f.Float && width == 4:
		for idx := range count {
			dst[idx] = float64(math.Float32frombits(binary.LittleEndian.Uint32(src[idx*4:])))
		}
	case f.Float && width == 8:
		for idx := range count {
			dst[idx] = math.Float64frombits(binary.LittleEndian.Uint64(src[idx*8:]))
		}
	default:
		bits := uint(width * 8)
		scale := 1.0 / float64(uint64(1)<<(bits-1))

		for idx := range count {
			raw := readUint(src[idx*width:], width)

			var value int64
			if f.Signed {
				// Sign-extend from the container width.
				value = int64(raw<<(64-bits)) >> (64 - bits)
			} else {
				value = int64(raw) - int64(uint64(1)<<(bits-1))
			}

			dst[idx] = float64(value) * scale
		}
	}

	return count
}

// FromFloat64 encodes src into dst using the float format f.
// It returns the number of samples written.
func FromFloat64(f Format, src []float64, dst []byte) int {
	width := f.SampleBytes()
	count := min(len(src), len(dst)/width)

	if width == 8 {
		for idx := range count {
			binary.LittleEndian.PutUint64(dst[idx*8:], math.Float64bits(src[idx]))
		}

		return count
	}

	for idx := range count {
		binary.LittleEndian.PutUint32(dst[idx*4:], math.Float32bits(float32(src[idx])))
	}

	return count
}

func readUint(b []byte, width int) uint64 {
	switch width {
	case 1:
		return uint64(b[0])
	case 2:
		return uint64(binary.LittleEndian.Uint16(b))
	case 3:
		return uint64(b[0]) | uint64(b[1])<<8 | uint64(b[2])<<16
	default:
		return uint64(binary.LittleEndian.Uint32(b))
	}
}
