package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrShortRead is returned (wrapped) when the stream has fewer bytes than requested.
var ErrShortRead = errors.New("not enough data")

// Reader decodes little-endian fields from a byte slice.
type Reader struct {
	data []byte
	pos  int
}

// NewReader creates a Reader over data. data is not copied.
func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

func (r *Reader) need(op string, n int) error {
	if n < 0 || r.pos+n > len(r.data) {
		return fmt.Errorf("%s: %w (pos=%d, need=%d, len=%d)", op, ErrShortRead, r.pos, n, len(r.data))
	}
	return nil
}

func (r *Reader) ReadUint8() (uint8, error) {
	if err := r.need("ReadUint8", 1); err != nil {
		return 0, err
	}
	v := r.data[r.pos]
	r.pos++
	return v, nil
}

func (r *Reader) ReadInt8() (int8, error) {
	v, err := r.ReadUint8()
	return int8(v), err
}

func (r *Reader) ReadBool() (bool, error) {
	v, err := r.ReadUint8()
	return v != 0, err
}

func (r *Reader) ReadUint16() (uint16, error) {
	if err := r.need("ReadUint16", 2); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint16(r.data[r.pos:])
	r.pos += 2
	return v, nil
}

func (r *Reader) ReadInt16() (int16, error) {
	v, err := r.ReadUint16()
	return int16(v), err
}

func (r *Reader) ReadUint32() (uint32, error) {
	if err := r.need("ReadUint32", 4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(r.data[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *Reader) ReadInt32() (int32, error) {
	v, err := r.ReadUint32()
	return int32(v), err
}

func (r *Reader) ReadUint64() (uint64, error) {
	if err := r.need("ReadUint64", 8); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(r.data[r.pos:])
	r.pos += 8
	return v, nil
}

func (r *Reader) ReadFloat32() (float32, error) {
	v, err := r.ReadUint32()
	return math.Float32frombits(v), err
}

// ReadPackedLength reads a length prefix written by Writer.WritePackedLength.
func (r *Reader) ReadPackedLength() (int, error) {
	b, err := r.ReadUint8()
	if err != nil {
		return 0, err
	}
	if b != 0xFF {
		return int(b), nil
	}
	if err := r.need("ReadPackedLength", 3); err != nil {
		return 0, err
	}
	n := int(r.data[r.pos]) | int(r.data[r.pos+1])<<8 | int(r.data[r.pos+2])<<16
	r.pos += 3
	return n, nil
}

func (r *Reader) ReadString() (string, error) {
	b, err := r.ReadBlob()
	return string(b), err
}

// ReadBlob reads a length-prefixed byte slice. The result is a copy.
func (r *Reader) ReadBlob() ([]byte, error) {
	n, err := r.ReadPackedLength()
	if err != nil {
		return nil, err
	}
	b, err := r.ReadBytes(n)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), b...), nil
}

// ReadBytes returns the next n bytes. The slice aliases the underlying data.
func (r *Reader) ReadBytes(n int) ([]byte, error) {
	if err := r.need("ReadBytes", n); err != nil {
		return nil, err
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *Reader) ReadAddress() (Address, error) {
	if err := r.need("ReadAddress", 8); err != nil {
		return Address{}, err
	}
	var a Address
	copy(a.IP[:], r.data[r.pos:r.pos+4])
	a.Port = binary.BigEndian.Uint16(r.data[r.pos+4:])
	a.Salt = binary.LittleEndian.Uint16(r.data[r.pos+6:])
	r.pos += 8
	return a, nil
}

// Skip advances past n bytes.
func (r *Reader) Skip(n int) error {
	if err := r.need("Skip", n); err != nil {
		return err
	}
	r.pos += n
	return nil
}

// Rest consumes and returns everything that is left.
func (r *Reader) Rest() []byte {
	b := r.data[r.pos:]
	r.pos = len(r.data)
	return b
}

func (r *Reader) Remaining() int {
	return len(r.data) - r.pos
}

func (r *Reader) Position() int {
	return r.pos
}
