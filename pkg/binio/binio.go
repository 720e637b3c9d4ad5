// Package binio provides byte-level helpers for decoding packed numeric
// samples and walking binary structures with a cursor.
package binio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrShortBuffer is returned when a read runs past the end of the data.
var ErrShortBuffer = errors.New("binio: short buffer")

// SampleType identifies the on-disk encoding of one numeric sample.
type SampleType int

const (
	Float32 SampleType = iota
	Float64
	Int8
	Uint8
	Int16
	Uint16
	Int32
	Uint32
	Int64
	Uint64
)

var sampleSizes = [...]int{
	Float32: 4,
	Float64: 8,
	Int8:    1,
	Uint8:   1,
	Int16:   2,
	Uint16:  2,
	Int32:   4,
	Uint32:  4,
	Int64:   8,
	Uint64:  8,
}

var sampleNames = [...]string{
	Float32: "float32",
	Float64: "float64",
	Int8:    "int8",
	Uint8:   "uint8",
	Int16:   "int16",
	Uint16:  "uint16",
	Int32:   "int32",
	Uint32:  "uint32",
	Int64:   "int64",
	Uint64:  "uint64",
}

// Size returns the number of bytes occupied by one sample.
func (t SampleType) Size() int {
	if t < 0 || int(t) >= len(sampleSizes) {
		return 0
	}
	return sampleSizes[t]
}

func (t SampleType) String() string {
	if t < 0 || int(t) >= len(sampleNames) {
		return fmt.Sprintf("sample(%d)", int(t))
	}
	return sampleNames[t]
}

// Decode converts buf into float64 samples. len(buf) must be a multiple
// of the sample size.
func Decode(buf []byte, t SampleType, order binary.ByteOrder) ([]float64, error) {
	size := t.Size()
	if size == 0 {
		return nil, fmt.Errorf("binio: unknown sample type %v", t)
	}
	if len(buf)%size != 0 {
		return nil, fmt.Errorf("binio: %d bytes is not a whole number of %v samples", len(buf), t)
	}
	n := len(buf) / size
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		b := buf[i*size : (i+1)*size]
		switch t {
		case Float32:
			out[i] = float64(math.Float32frombits(order.Uint32(b)))
		case Float64:
			out[i] = math.Float64frombits(order.Uint64(b))
		case Int8:
			out[i] = float64(int8(b[0]))
		case Uint8:
			out[i] = float64(b[0])
		case Int16:
			out[i] = float64(int16(order.Uint16(b)))
		case Uint16:
			out[i] = float64(order.Uint16(b))
		case Int32:
			out[i] = float64(int32(order.Uint32(b)))
		case Uint32:
			out[i] = float64(order.Uint32(b))
		case Int64:
			out[i] = float64(int64(order.Uint64(b)))
		case Uint64:
			out[i] = float64(order.Uint64(b))
		}
	}
	return out, nil
}

// CountFor returns how many samples of type t fit exactly in n bytes.
// ok is false when n is not a multiple of the sample size.
func CountFor(n int64, t SampleType) (count uint64, ok bool) {
	size := int64(t.Size())
	if size == 0 || n < 0 || n%size != 0 {
		return 0, false
	}
	return uint64(n / size), true
}

// Product multiplies dims, reporting false on overflow or a zero dimension.
func Product(dims ...uint64) (uint64, bool) {
	p := uint64(1)
	for _, d := range dims {
		if d == 0 {
			return 0, false
		}
		if p > math.MaxUint64/d {
			return 0, false
		}
		p *= d
	}
	return p, true
}

// Reader walks a byte slice with a cursor.
type Reader struct {
	buf   []byte
	order binary.ByteOrder
	pos   int
}

// NewReader creates a cursor over buf using the given byte order.
func NewReader(buf []byte, order binary.ByteOrder) *Reader {
	return &Reader{buf: buf, order: order}
}

// Order returns the reader's byte order.
func (r *Reader) Order() binary.ByteOrder {
	return r.order
}

// SetOrder changes the byte order for subsequent reads.
func (r *Reader) SetOrder(order binary.ByteOrder) {
	r.order = order
}

// Pos returns the current read position.
func (r *Reader) Pos() int {
	return r.pos
}

// Len returns the number of unread bytes.
func (r *Reader) Len() int {
	return len(r.buf) - r.pos
}

// Seek moves the cursor to an absolute offset.
func (r *Reader) Seek(offset int) error {
	if offset < 0 || offset > len(r.buf) {
		return fmt.Errorf("%w: seek to %d of %d", ErrShortBuffer, offset, len(r.buf))
	}
	r.pos = offset
	return nil
}

// Skip advances the cursor by n bytes.
func (r *Reader) Skip(n int) error {
	return r.Seek(r.pos + n)
}

// Align advances the cursor to the next multiple of n.
func (r *Reader) Align(n int) error {
	if rem := r.pos % n; rem != 0 {
		return r.Skip(n - rem)
	}
	return nil
}

// ReadBytes returns the next n bytes without copying.
func (r *Reader) ReadBytes(n int) ([]byte, error) {
	if n < 0 || n > r.Len() {
		return nil, fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrShortBuffer, n, r.pos, r.Len())
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

// ReadUint16 reads one 16-bit unsigned integer.
func (r *Reader) ReadUint16() (uint16, error) {
	b, err := r.ReadBytes(2)
	if err != nil {
		return 0, err
	}
	return r.order.Uint16(b), nil
}

// ReadUint32 reads one 32-bit unsigned integer.
func (r *Reader) ReadUint32() (uint32, error) {
	b, err := r.ReadBytes(4)
	if err != nil {
		return 0, err
	}
	return r.order.Uint32(b), nil
}

// ReadUint32s reads n consecutive 32-bit unsigned integers.
func (r *Reader) ReadUint32s(n int) ([]uint32, error) {
	out := make([]uint32, n)
	for i := range out {
		v, err := r.ReadUint32()
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// ReadSamples reads n samples of type t as float64.
func (r *Reader) ReadSamples(n int, t SampleType) ([]float64, error) {
	b, err := r.ReadBytes(n * t.Size())
	if err != nil {
		return nil, err
	}
	return Decode(b, t, r.order)
}
