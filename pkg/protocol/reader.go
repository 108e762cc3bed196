package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Reader decodes big-endian protocol fields from a destuffed packet body.
type Reader struct {
	data   []byte
	offset int
}

func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	return len(r.data) - r.offset
}

// need checks that at least n bytes remain and advances past them.
func (r *Reader) need(n int) (int, error) {
	if n < 0 || r.offset+n > len(r.data) {
		return 0, fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrTruncated, n, r.offset, r.Remaining())
	}
	off := r.offset
	r.offset += n
	return off, nil
}

func (r *Reader) ReadUint8() (uint8, error) {
	off, err := r.need(1)
	if err != nil {
		return 0, err
	}
	return r.data[off], nil
}

func (r *Reader) ReadUint32() (uint32, error) {
	off, err := r.need(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(r.data[off:]), nil
}

// ReadBytes returns the next n bytes without copying.
func (r *Reader) ReadBytes(n int) ([]byte, error) {
	off, err := r.need(n)
	if err != nil {
		return nil, err
	}
	return r.data[off : off+n], nil
}

// ReadString reads a NUL-terminated string and consumes the terminator.
func (r *Reader) ReadString() (string, error) {
	idx := bytes.IndexByte(r.data[r.offset:], 0x00)
	if idx < 0 {
		return "", fmt.Errorf("%w: unterminated string at offset %d", ErrTruncated, r.offset)
	}
	off, _ := r.need(idx + 1)
	return string(r.data[off : off+idx]), nil
}
