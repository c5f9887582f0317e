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

import "fmt"

// Cursor walks an immutable byte slice with explicit bounds checks.
type Cursor struct {
	data []byte
	off  int
}

// NewCursor returns a Cursor at the start of data.
func NewCursor(data []byte) *Cursor {
	return &Cursor{data: data}
}

// Offset returns the current byte offset.
func (c *Cursor) Offset() int { return c.off }

// Remaining returns the number of unread bytes.
func (c *Cursor) Remaining() int { return len(c.data) - c.off }

// Byte consumes one byte.
func (c *Cursor) Byte() (byte, error) {
	if c.off >= len(c.data) {
		return 0, fmt.Errorf("%w: byte at offset %d", ErrShortBuffer, c.off)
	}

	b := c.data[c.off]
	c.off++

	return b, nil
}

// Skip advances n bytes.
func (c *Cursor) Skip(n int) error {
	if n < 0 || n > c.Remaining() {
		return fmt.Errorf("%w: skip %d at offset %d with %d remaining", ErrShortBuffer, n, c.off, c.Remaining())
	}

	c.off += n

	return nil
}

// Next consumes n bytes and returns a copy of them.
func (c *Cursor) Next(n int) ([]byte, error) {
	if n < 0 || n > c.Remaining() {
		return nil, fmt.Errorf("%w: read %d at offset %d with %d remaining", ErrShortBuffer, n, c.off, c.Remaining())
	}

	out := make([]byte, n)
	copy(out, c.data[c.off:])
	c.off += n

	return out, nil
}

// Peek returns the n bytes at the cursor without consuming them.
// It returns false when fewer than n bytes remain.
func (c *Cursor) Peek(n int) ([]byte, bool) {
	if n < 0 || n > c.Remaining() {
		return nil, false
	}

	return c.data[c.off : c.off+n], true
}

// VarSize reads an MPEG-4 descriptor size: up to four bytes of 7-bit groups,
// high bit set on every byte but the last.
func (c *Cursor) VarSize() (uint32, error) {
	var size uint32

	for range maxVarSizeBytes {
		b, err := c.Byte()
		if err != nil {
			return 0, fmt.Errorf("descriptor size: %w", err)
		}

		size = size<<7 | uint32(b&0x7f)

		if b&0x80 == 0 {
			return size, nil
		}
	}

	return 0, fmt.Errorf("%w: more than %d size bytes at offset %d", ErrVarSize, maxVarSizeBytes, c.off)
}

const maxVarSizeBytes = 4
