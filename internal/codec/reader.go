package codec

import (
	"encoding/binary"
	"errors"
)

var (
	ErrTruncated     = errors.New("codec: truncated record")
	ErrDiscriminator = errors.New("codec: discriminator mismatch")
	ErrInvalidString = errors.New("codec: invalid string field")
)

// reader walks a little-endian record. Every read checks the remaining
// length first and reports ErrTruncated instead of slicing out of range.
type reader struct {
	buf []byte
	off int
}

func newReader(buf []byte) *reader {
	return &reader{buf: buf}
}

func (r *reader) remaining() int {
	return len(r.buf) - r.off
}

func (r *reader) bytes(n int) ([]byte, error) {
	if n < 0 || r.remaining() < n {
		return nil, ErrTruncated
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b, nil
}

func (r *reader) skip(n int) error {
	_, err := r.bytes(n)
	return err
}

func (r *reader) fixed32() (out [32]byte, err error) {
	b, err := r.bytes(32)
	if err != nil {
		return out, err
	}
	copy(out[:], b)
	return out, nil
}

func (r *reader) u32() (uint32, error) {
	b, err := r.bytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *reader) u64() (uint64, error) {
	b, err := r.bytes(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (r *reader) i64() (int64, error) {
	v, err := r.u64()
	return int64(v), err
}

// lenPrefixed reads a u32 length followed by that many bytes.
func (r *reader) lenPrefixed() ([]byte, error) {
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	if uint64(n) > uint64(r.remaining()) {
		return nil, ErrTruncated
	}
	return r.bytes(int(n))
}

type writer struct {
	buf []byte
}

func (w *writer) raw(b []byte) *writer {
	w.buf = append(w.buf, b...)
	return w
}

func (w *writer) u32(v uint32) *writer {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
	return w
}

func (w *writer) u64(v uint64) *writer {
	w.buf = binary.LittleEndian.AppendUint64(w.buf, v)
	return w
}

func (w *writer) lenPrefixed(b []byte) *writer {
	return w.u32(uint32(len(b))).raw(b)
}
