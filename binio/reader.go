// Package binio provides the little-endian cursor reader and the growable
// writer used to decode and encode script byte-code.
package binio

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrTruncated is returned when a read runs past the end of the data.
var ErrTruncated = errors.New("unexpected end of data")

// Reader reads little-endian values from a byte slice.
type Reader struct {
	data []byte
	pos  int
}

// NewReader creates a reader positioned at the start of data.
func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

// Pos returns the current read position.
func (r *Reader) Pos() int {
	return r.pos
}

// Len returns the total data length.
func (r *Reader) Len() int {
	return len(r.data)
}

// Remaining returns the number of unread bytes. A position outside the
// data has none.
func (r *Reader) Remaining() int {
	if r.pos < 0 || r.pos >= len(r.data) {
		return 0
	}
	return len(r.data) - r.pos
}

// Seek moves to an absolute position and returns the previous one, so a
// caller can restore it with defer r.Seek(r.Seek(off)).
func (r *Reader) Seek(pos int) int {
	prev := r.pos
	r.pos = pos
	return prev
}

func (r *Reader) need(n int) error {
	if r.pos < 0 || r.pos+n > len(r.data) {
		return fmt.Errorf("read %d bytes at 0x%x: %w", n, r.pos, ErrTruncated)
	}
	return nil
}

// Uint8 reads one byte.
func (r *Reader) Uint8() (uint8, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	v := r.data[r.pos]
	r.pos++
	return v, nil
}

// Uint16 reads a little-endian uint16.
func (r *Reader) Uint16() (uint16, error) {
	if err := r.need(2); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint16(r.data[r.pos:])
	r.pos += 2
	return v, nil
}

// Uint32 reads a little-endian uint32.
func (r *Reader) Uint32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(r.data[r.pos:])
	r.pos += 4
	return v, nil
}

// Int32 reads a little-endian int32.
func (r *Reader) Int32() (int32, error) {
	v, err := r.Uint32()
	return int32(v), err
}

// Uint reads an unsigned integer of n bytes (1, 2 or 4).
func (r *Reader) Uint(n int) (uint32, error) {
	switch n {
	case 1:
		v, err := r.Uint8()
		return uint32(v), err
	case 2:
		v, err := r.Uint16()
		return uint32(v), err
	case 4:
		return r.Uint32()
	}
	return 0, fmt.Errorf("unsupported width %d", n)
}

// Rel32 reads a signed 32-bit displacement and returns the absolute
// position it designates, measured from just after the field.
func (r *Reader) Rel32() (int, error) {
	off, err := r.Int32()
	if err != nil {
		return 0, err
	}
	return r.pos + int(off), nil
}
