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
	"fmt"

	"github.com/icza/bitio"
)

// Writer packs most-significant-bit-first fields into a byte buffer.
// The first error is sticky: later calls are no-ops and Bytes reports it.
type Writer struct {
	buf bytes.Buffer
	bw  *bitio.Writer
	err error
}

// NewWriter returns an empty Writer. sizeHint preallocates the output.
func NewWriter(sizeHint int) *Writer {
	w := &Writer{}
	w.buf.Grow(sizeHint)
	w.bw = bitio.NewWriter(&w.buf)

	return w
}

// WriteBits writes the low numBits of value. Bits of value above numBits
// must be zero; a wider value is an error rather than a silent truncation.
func (w *Writer) WriteBits(value uint64, numBits uint8) {
	if w.err != nil {
		return
	}

	if numBits > 64 || (numBits < 64 && value>>numBits != 0) { //nolint:mnd // uint64 width
		w.err = fmt.Errorf("%w: value %#x does not fit %d bits", ErrFieldWidth, value, numBits)

		return
	}

	if err := w.bw.WriteBits(value, numBits); err != nil {
		w.err = fmt.Errorf("writing %d bits: %w", numBits, err)
	}
}

// ByteAlign pads with zero bits up to the next byte boundary.
func (w *Writer) ByteAlign() {
	if w.err != nil {
		return
	}

	if _, err := w.bw.Align(); err != nil {
		w.err = fmt.Errorf("aligning: %w", err)
	}
}

// Bytes flushes pending bits (zero padded) and returns the packed buffer.
// The Writer must not be used afterwards.
func (w *Writer) Bytes() ([]byte, error) {
	if w.err != nil {
		return nil, w.err
	}

	if err := w.bw.Close(); err != nil {
		return nil, fmt.Errorf("flushing bits: %w", err)
	}

	return w.buf.Bytes(), nil
}
