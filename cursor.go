// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/casc

package casc

import (
	"encoding/binary"
	"fmt"
)

// cursor is a bounds-checked reader over an in-memory table.
// The first out-of-range access sets a sticky error; later reads return zero
// values, so parsers check Err at record boundaries instead of after every field.
type cursor struct {
	err  error
	data []byte
	off  int
}

// newCursor wraps data for sequential reads from offset zero.
func newCursor(data []byte) *cursor {
	return &cursor{data: data}
}

// Err returns the first out-of-range error, if any.
func (c *cursor) Err() error {
	return c.err
}

// Offset returns the current read position.
func (c *cursor) Offset() int {
	return c.off
}

// Len returns the total buffer size.
func (c *cursor) Len() int {
	return len(c.data)
}

// Remaining returns bytes left after the current position.
func (c *cursor) Remaining() int {
	if c.off >= len(c.data) {
		return 0
	}

	return len(c.data) - c.off
}

// Seek moves to an absolute offset. Seeking to Len is allowed.
func (c *cursor) Seek(off int) {
	if c.err != nil {
		return
	}

	if off < 0 || off > len(c.data) {
		c.err = fmt.Errorf("%w: seek to %d of %d", ErrShortRead, off, len(c.data))
		return
	}

	c.off = off
}

// Skip advances by n bytes.
func (c *cursor) Skip(n int) {
	c.take(n)
}

// take returns the next n bytes without copying, or nil after an error.
func (c *cursor) take(n int) []byte {
	if c.err != nil {
		return nil
	}

	if n < 0 || n > len(c.data)-c.off {
		c.err = fmt.Errorf("%w: %d bytes at offset %d of %d", ErrShortRead, n, c.off, len(c.data))
		return nil
	}

	b := c.data[c.off : c.off+n]
	c.off += n
	return b
}

// Bytes returns the next n bytes as a sub-slice of the buffer.
func (c *cursor) Bytes(n int) []byte {
	return c.take(n)
}

// U8 reads one byte.
func (c *cursor) U8() uint8 {
	b := c.take(1)
	if b == nil {
		return 0
	}

	return b[0]
}

// U16LE reads a little-endian uint16.
func (c *cursor) U16LE() uint16 {
	b := c.take(2)
	if b == nil {
		return 0
	}

	return binary.LittleEndian.Uint16(b)
}

// U16BE reads a big-endian uint16.
func (c *cursor) U16BE() uint16 {
	b := c.take(2)
	if b == nil {
		return 0
	}

	return binary.BigEndian.Uint16(b)
}

// U24BE reads a big-endian 3-byte integer.
func (c *cursor) U24BE() uint32 {
	b := c.take(3)
	if b == nil {
		return 0
	}

	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
}

// U32LE reads a little-endian uint32.
func (c *cursor) U32LE() uint32 {
	b := c.take(4)
	if b == nil {
		return 0
	}

	return binary.LittleEndian.Uint32(b)
}

// U32BE reads a big-endian uint32.
func (c *cursor) U32BE() uint32 {
	b := c.take(4)
	if b == nil {
		return 0
	}

	return binary.BigEndian.Uint32(b)
}

// I32LE reads a little-endian int32.
func (c *cursor) I32LE() int32 {
	return int32(c.U32LE()) //nolint:gosec // two's complement reinterpretation
}

// U40BE reads a big-endian 5-byte integer.
func (c *cursor) U40BE() uint64 {
	b := c.take(5)
	if b == nil {
		return 0
	}

	return uint64(b[0])<<32 | uint64(binary.BigEndian.Uint32(b[1:5]))
}

// Key reads a 16-byte key.
func (c *cursor) Key() Key {
	var k Key
	copy(k[:], c.take(keySize))
	return k
}
