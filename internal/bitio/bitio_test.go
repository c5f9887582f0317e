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

package bitio_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/mycophonic/saprobe-transcode/internal/bitio"
)

func TestWriterReaderFields(t *testing.T) {
	t.Parallel()

	fields := []struct {
		value uint64
		bits  uint8
	}{
		{0xFFF, 12}, {0, 1}, {0, 2}, {1, 1}, {1, 2}, {4, 4}, {0, 1}, {2, 3},
		{0, 4}, {107, 13}, {0x7FF, 11}, {0, 2},
	}

	w := bitio.NewWriter(7)
	for _, field := range fields {
		w.WriteBits(field.value, field.bits)
	}

	out, err := w.Bytes()
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}

	want := []byte{0xFF, 0xF1, 0x50, 0x80, 0x0D, 0x7F, 0xFC}
	if !bytes.Equal(out, want) {
		t.Fatalf("packed % X, want % X", out, want)
	}

	r := bitio.NewReader(out)
	for idx, field := range fields {
		got, err := r.ReadBits(field.bits)
		if err != nil {
			t.Fatalf("field %d: %v", idx, err)
		}

		if uint64(got) != field.value {
			t.Fatalf("field %d = %d, want %d", idx, got, field.value)
		}
	}

	if r.Remaining() != 0 {
		t.Fatalf("%d bits left over", r.Remaining())
	}
}

func TestWriterRejectsWideValue(t *testing.T) {
	t.Parallel()

	w := bitio.NewWriter(1)
	w.WriteBits(0x10, 4)
	w.WriteBits(1, 4)

	if _, err := w.Bytes(); !errors.Is(err, bitio.ErrFieldWidth) {
		t.Fatalf("err = %v, want ErrFieldWidth", err)
	}
}

func TestWriterByteAlign(t *testing.T) {
	t.Parallel()

	w := bitio.NewWriter(2)
	w.WriteBits(0b101, 3)
	w.ByteAlign()
	w.WriteBits(0xAB, 8)

	out, err := w.Bytes()
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}

	if !bytes.Equal(out, []byte{0xA0, 0xAB}) {
		t.Fatalf("packed % X", out)
	}
}

func TestReaderOverrun(t *testing.T) {
	t.Parallel()

	r := bitio.NewReader([]byte{0xC3})

	if got, err := r.ReadBits(3); err != nil || got != 0b110 {
		t.Fatalf("ReadBits(3) = %b, %v", got, err)
	}

	if _, err := r.ReadBits(6); !errors.Is(err, bitio.ErrOverrun) {
		t.Fatalf("err = %v, want ErrOverrun", err)
	}

	r.ByteAlign()

	if r.Remaining() != 0 {
		t.Fatalf("%d bits remain after align", r.Remaining())
	}

	if _, err := r.ReadBits(33); !errors.Is(err, bitio.ErrFieldWidth) {
		t.Fatalf("err = %v, want ErrFieldWidth", err)
	}
}

func TestCursorVarSize(t *testing.T) {
	t.Parallel()

	cases := []struct {
		data []byte
		want uint32
	}{
		{[]byte{0x05}, 5},
		{[]byte{0x80, 0x80, 0x80, 0x22}, 0x22},
		{[]byte{0x81, 0x00}, 128},
		{[]byte{0xFF, 0xFF, 0xFF, 0x7F}, 1<<28 - 1},
	}

	for _, tc := range cases {
		c := bitio.NewCursor(append(tc.data, 0xEE))

		got, err := c.VarSize()
		if err != nil || got != tc.want {
			t.Fatalf("% X: VarSize = %d, %v, want %d", tc.data, got, err, tc.want)
		}

		if c.Offset() != len(tc.data) || c.Remaining() != 1 {
			t.Fatalf("% X: cursor at %d", tc.data, c.Offset())
		}
	}

	if _, err := bitio.NewCursor([]byte{0x80, 0x80, 0x80, 0x80, 0x01}).VarSize(); !errors.Is(err, bitio.ErrVarSize) {
		t.Fatalf("five size bytes: err = %v, want ErrVarSize", err)
	}

	if _, err := bitio.NewCursor([]byte{0x80, 0x80}).VarSize(); !errors.Is(err, bitio.ErrShortBuffer) {
		t.Fatalf("truncated size: err = %v, want ErrShortBuffer", err)
	}
}

func TestCursorBounds(t *testing.T) {
	t.Parallel()

	data := []byte{1, 2, 3, 4, 5}
	c := bitio.NewCursor(data)

	if peek, ok := c.Peek(2); !ok || !bytes.Equal(peek, []byte{1, 2}) || c.Offset() != 0 {
		t.Fatalf("Peek consumed or failed")
	}

	next, err := c.Next(3)
	if err != nil || !bytes.Equal(next, []byte{1, 2, 3}) {
		t.Fatalf("Next = %v, %v", next, err)
	}

	next[0] = 0xFF
	if data[0] != 1 {
		t.Fatalf("Next aliases the input")
	}

	if err := c.Skip(3); !errors.Is(err, bitio.ErrShortBuffer) {
		t.Fatalf("Skip past end: err = %v", err)
	}

	if _, ok := c.Peek(3); ok {
		t.Fatalf("Peek past end succeeded")
	}

	if b, err := c.Byte(); err != nil || b != 4 {
		t.Fatalf("Byte = %d, %v", b, err)
	}

	if err := c.Skip(1); err != nil {
		t.Fatalf("Skip: %v", err)
	}

	if _, err := c.Byte(); !errors.Is(err, bitio.ErrShortBuffer) {
		t.Fatalf("Byte at end: err = %v", err)
	}
}
