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

package bitio

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/icza/bitio"
)

// Reader reads most-significant-bit-first fields from an immutable byte slice.
// Reads past the end fail with ErrOverrun instead of yielding padding.
type Reader struct {
	br   *bitio.Reader
	size int
	pos  int // bits consumed
}

// NewReader returns a Reader positioned at the first bit of data.
func NewReader(data []byte) *Reader {
	return &Reader{
		br:   bitio.NewReader(bytes.NewReader(data)),
		size: len(data) * 8, //nolint:mnd // bits per byte
	}
}

// ReadBits reads numBits (at most 32) and returns them right-aligned.
func (r *Reader) ReadBits(numBits uint8) (uint32, error) {
	if numBits > 32 { //nolint:mnd // uint32 result
		return 0, fmt.Errorf("%w: %d bits", ErrFieldWidth, numBits)
	}

	if r.pos+int(numBits) > r.size {
		return 0, fmt.Errorf("%w: need %d bits at bit %d of %d", ErrOverrun, numBits, r.pos, r.size)
	}

	value, err := r.br.ReadBits(numBits)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return 0, fmt.Errorf("%w: %w", ErrOverrun, err)
		}

		return 0, fmt.Errorf("reading %d bits: %w", numBits, err)
	}

	r.pos += int(numBits)

	return uint32(value), nil //nolint:gosec // bounded by numBits <= 32
}

// ByteAlign skips to the next byte boundary (if not already aligned).
func (r *Reader) ByteAlign() {
	skipped := r.br.Align()
	r.pos += int(skipped)
}

// Remaining returns the number of unread bits.
func (r *Reader) Remaining() int {
	return r.size - r.pos
}
