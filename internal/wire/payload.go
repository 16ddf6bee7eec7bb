package wire

import (
	"encoding/binary"
	"fmt"
	"math"
	"unicode/utf8"

	"github.com/xtxerr/salesdb/internal/errors"
)

// MaxStringLen is the largest string a payload can carry (u16 length prefix).
const MaxStringLen = math.MaxUint16

// Payload encoding (big-endian):
// - string: length (2 bytes) + UTF-8 bytes
// - int32:  4 bytes
// - int64:  8 bytes
// - float64: 8 bytes, IEEE-754 bits

// Encoder appends payload fields to a buffer.
// The first encoding failure is kept and reported by Bytes.
type Encoder struct {
	buf []byte
	err error
}

// NewEncoder returns an Encoder with room for sizeHint bytes.
func NewEncoder(sizeHint int) *Encoder {
	return &Encoder{buf: make([]byte, 0, sizeHint)}
}

// String appends a length-prefixed string.
func (e *Encoder) String(s string) *Encoder {
	if e.err != nil {
		return e
	}
	if len(s) > MaxStringLen {
		e.err = fmt.Errorf("%w: string of %d bytes exceeds %d", errors.ErrMalformedPayload, len(s), MaxStringLen)
		return e
	}
	e.buf = binary.BigEndian.AppendUint16(e.buf, uint16(len(s)))
	e.buf = append(e.buf, s...)
	return e
}

// Int32 appends a 4-byte signed integer.
func (e *Encoder) Int32(v int32) *Encoder {
	e.buf = binary.BigEndian.AppendUint32(e.buf, uint32(v))
	return e
}

// Int64 appends an 8-byte signed integer.
func (e *Encoder) Int64(v int64) *Encoder {
	e.buf = binary.BigEndian.AppendUint64(e.buf, uint64(v))
	return e
}

// Float64 appends an 8-byte float.
func (e *Encoder) Float64(v float64) *Encoder {
	e.buf = binary.BigEndian.AppendUint64(e.buf, math.Float64bits(v))
	return e
}

// Bytes returns the encoded payload or the first encoding error.
func (e *Encoder) Bytes() ([]byte, error) {
	if e.err != nil {
		return nil, e.err
	}
	return e.buf, nil
}

// Decoder reads payload fields in order.
// After the first failure every read returns a zero value and Err reports it.
type Decoder struct {
	data []byte
	off  int
	err  error
}

// NewDecoder wraps a payload.
func NewDecoder(data []byte) *Decoder {
	return &Decoder{data: data}
}

func (d *Decoder) need(n int, what string) bool {
	if d.err != nil {
		return false
	}
	if d.off+n > len(d.data) {
		d.err = fmt.Errorf("%w: data too short for %s", errors.ErrMalformedPayload, what)
		return false
	}
	return true
}

// String reads a length-prefixed string.
func (d *Decoder) String() string {
	if !d.need(2, "string length") {
		return ""
	}
	n := int(binary.BigEndian.Uint16(d.data[d.off:]))
	d.off += 2
	if !d.need(n, "string content") {
		return ""
	}
	raw := d.data[d.off : d.off+n]
	d.off += n
	if !utf8.Valid(raw) {
		d.err = fmt.Errorf("%w: string is not valid UTF-8", errors.ErrMalformedPayload)
		return ""
	}
	return string(raw)
}

// Int32 reads a 4-byte signed integer.
func (d *Decoder) Int32() int32 {
	if !d.need(4, "int32") {
		return 0
	}
	v := int32(binary.BigEndian.Uint32(d.data[d.off:]))
	d.off += 4
	return v
}

// Int64 reads an 8-byte signed integer.
func (d *Decoder) Int64() int64 {
	if !d.need(8, "int64") {
		return 0
	}
	v := int64(binary.BigEndian.Uint64(d.data[d.off:]))
	d.off += 8
	return v
}

// Float64 reads an 8-byte float.
func (d *Decoder) Float64() float64 {
	if !d.need(8, "float64") {
		return 0
	}
	v := math.Float64frombits(binary.BigEndian.Uint64(d.data[d.off:]))
	d.off += 8
	return v
}

// Remaining returns the number of unread bytes.
func (d *Decoder) Remaining() int {
	return len(d.data) - d.off
}

// Err returns the first decoding error.
func (d *Decoder) Err() error {
	return d.err
}

// Finish returns the first decoding error, or an error if bytes remain.
func (d *Decoder) Finish() error {
	if d.err != nil {
		return d.err
	}
	if d.off != len(d.data) {
		return fmt.Errorf("%w: %d trailing bytes", errors.ErrMalformedPayload, len(d.data)-d.off)
	}
	return nil
}

// EncodeString is a shortcut for a payload holding a single string.
func EncodeString(s string) ([]byte, error) {
	return NewEncoder(2 + len(s)).String(s).Bytes()
}

// DecodeString is a shortcut for a payload holding a single string.
func DecodeString(data []byte) (string, error) {
	d := NewDecoder(data)
	s := d.String()
	return s, d.Finish()
}
