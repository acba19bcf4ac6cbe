package binio

import "encoding/binary"

// Writer accumulates little-endian values.
type Writer struct {
	bytes []byte
}

// NewWriter creates an empty writer.
func NewWriter() *Writer {
	return &Writer{bytes: make([]byte, 0, 64)}
}

// Bytes returns the written data.
func (w *Writer) Bytes() []byte {
	return w.bytes
}

// Len returns the current length.
func (w *Writer) Len() int {
	return len(w.bytes)
}

// Uint8 appends one byte.
func (w *Writer) Uint8(v uint8) {
	w.bytes = append(w.bytes, v)
}

// Uint16 appends a little-endian uint16.
func (w *Writer) Uint16(v uint16) {
	w.bytes = binary.LittleEndian.AppendUint16(w.bytes, v)
}

// Uint32 appends a little-endian uint32.
func (w *Writer) Uint32(v uint32) {
	w.bytes = binary.LittleEndian.AppendUint32(w.bytes, v)
}

// Int32 appends a little-endian int32.
func (w *Writer) Int32(v int32) {
	w.Uint32(uint32(v))
}

// Uint appends the low n bytes (1, 2 or 4) of v.
func (w *Writer) Uint(v uint32, n int) {
	switch n {
	case 1:
		w.Uint8(uint8(v))
	case 2:
		w.Uint16(uint16(v))
	default:
		w.Uint32(v)
	}
}

// Write appends raw bytes.
func (w *Writer) Write(p []byte) {
	w.bytes = append(w.bytes, p...)
}

// Align pads with zero bytes until the length is a multiple of n.
func (w *Writer) Align(n int) {
	for len(w.bytes)%n != 0 {
		w.bytes = append(w.bytes, 0)
	}
}

// PutInt32 overwrites four bytes at pos.
func (w *Writer) PutInt32(pos int, v int32) {
	binary.LittleEndian.PutUint32(w.bytes[pos:], uint32(v))
}
