package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

// ErrShortBuffer is returned by Decoder reads that run past the end of the buffer.
var ErrShortBuffer = errors.New("wire: short buffer")

// ErrInvalidBool is returned when a bool byte is anything other than 0 or 1.
var ErrInvalidBool = errors.New("wire: invalid bool byte")

// ErrInvalidOption is returned when an option tag is anything other than 1 (Some) or 2 (None).
var ErrInvalidOption = errors.New("wire: invalid option tag")

// Encoder accumulates a payload using the primitive encodings shared by both
// wire protocols: bool as one strict byte, fixed-width big-endian integers,
// length-prefixed bytes, lossy-UTF8 strings, length-prefixed vectors, and
// Some/None-tagged options.
type Encoder struct {
	buf bytes.Buffer
}

// NewEncoder returns an empty Encoder.
func NewEncoder() *Encoder {
	return &Encoder{}
}

// Bytes returns the accumulated payload.
func (e *Encoder) Bytes() []byte {
	return e.buf.Bytes()
}

// Bool writes a single strict 0/1 byte.
func (e *Encoder) Bool(v bool) {
	if v {
		e.buf.WriteByte(1)
	} else {
		e.buf.WriteByte(0)
	}
}

// U8 writes one byte.
func (e *Encoder) U8(v uint8) {
	e.buf.WriteByte(v)
}

// U32 writes a big-endian uint32.
func (e *Encoder) U32(v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	e.buf.Write(b[:])
}

// U64 writes a big-endian uint64.
func (e *Encoder) U64(v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	e.buf.Write(b[:])
}

// I32 writes a big-endian int32.
func (e *Encoder) I32(v int32) {
	e.U32(uint32(v))
}

// RawBytes writes a u32 size followed by the raw bytes.
func (e *Encoder) RawBytes(v []byte) {
	e.U32(uint32(len(v)))
	e.buf.Write(v)
}

// UTF8 writes a string using the same length-prefixed encoding as RawBytes.
func (e *Encoder) UTF8(v string) {
	e.RawBytes([]byte(v))
}

// VecLen writes a vec's element count header; callers then encode each element.
func (e *Encoder) VecLen(n int) {
	e.U32(uint32(n))
}

// OptionNone writes the "None" tag (2).
func (e *Encoder) OptionNone() {
	e.U32(2)
}

// OptionSome writes the "Some" tag (1); callers then encode the payload.
func (e *Encoder) OptionSome() {
	e.U32(1)
}

// Decoder reads primitives sequentially from a fixed buffer.
type Decoder struct {
	buf []byte
	pos int
}

// NewDecoder wraps buf for sequential reading.
func NewDecoder(buf []byte) *Decoder {
	return &Decoder{buf: buf}
}

// Remaining reports how many bytes are left unread.
func (d *Decoder) Remaining() int {
	return len(d.buf) - d.pos
}

func (d *Decoder) take(n int) ([]byte, error) {
	if n < 0 || d.pos+n > len(d.buf) {
		return nil, ErrShortBuffer
	}
	b := d.buf[d.pos : d.pos+n]
	d.pos += n
	return b, nil
}

// Bool reads one strict 0/1 byte.
func (d *Decoder) Bool() (bool, error) {
	b, err := d.take(1)
	if err != nil {
		return false, err
	}
	switch b[0] {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, fmt.Errorf("%w: %d", ErrInvalidBool, b[0])
	}
}

// U8 reads one byte.
func (d *Decoder) U8() (uint8, error) {
	b, err := d.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// U32 reads a big-endian uint32.
func (d *Decoder) U32() (uint32, error) {
	b, err := d.take(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

// U64 reads a big-endian uint64.
func (d *Decoder) U64() (uint64, error) {
	b, err := d.take(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

// I32 reads a big-endian int32.
func (d *Decoder) I32() (int32, error) {
	v, err := d.U32()
	return int32(v), err
}

// RawBytes reads a u32 size followed by that many raw bytes.
func (d *Decoder) RawBytes() ([]byte, error) {
	n, err := d.U32()
	if err != nil {
		return nil, err
	}
	b, err := d.take(int(n))
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}

// UTF8 reads a length-prefixed string, decoding invalid byte sequences lossily.
func (d *Decoder) UTF8() (string, error) {
	b, err := d.RawBytes()
	if err != nil {
		return "", err
	}
	return toValidUTF8(b), nil
}

// VecLen reads a vec's element count header.
func (d *Decoder) VecLen() (int, error) {
	n, err := d.U32()
	return int(n), err
}

// OptionTag reads the Some(1)/None(2) tag.
func (d *Decoder) OptionTag() (bool, error) {
	tag, err := d.U32()
	if err != nil {
		return false, err
	}
	switch tag {
	case 1:
		return true, nil
	case 2:
		return false, nil
	default:
		return false, fmt.Errorf("%w: %d", ErrInvalidOption, tag)
	}
}

// toValidUTF8 replaces invalid byte sequences with the Unicode replacement
// character, matching Rust's String::from_utf8_lossy used by the original protocol.
func toValidUTF8(b []byte) string {
	return strings.ToValidUTF8(string(b), "�")
}
