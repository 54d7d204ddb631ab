package wire

import (
	"encoding/binary"
	"math"
	"sync"
)

// Writer accumulates little-endian encoded fields into a growable buffer.
type Writer struct {
	buf []byte
}

var writerPool = sync.Pool{
	New: func() any {
		return &Writer{buf: make([]byte, 0, 256)}
	},
}

// GetWriter returns a pooled Writer, already reset.
func GetWriter() *Writer {
	w := writerPool.Get().(*Writer)
	w.Reset()
	return w
}

// Put returns w to the pool. w must not be used afterwards.
func (w *Writer) Put() {
	writerPool.Put(w)
}

// NewWriter creates a Writer with the given initial capacity.
func NewWriter(capacity int) *Writer {
	return &Writer{buf: make([]byte, 0, capacity)}
}

func (w *Writer) WriteUint8(v uint8) {
	w.buf = append(w.buf, v)
}

func (w *Writer) WriteInt8(v int8) {
	w.buf = append(w.buf, byte(v))
}

func (w *Writer) WriteBool(v bool) {
	if v {
		w.buf = append(w.buf, 1)
		return
	}
	w.buf = append(w.buf, 0)
}

func (w *Writer) WriteUint16(v uint16) {
	w.buf = binary.LittleEndian.AppendUint16(w.buf, v)
}

func (w *Writer) WriteInt16(v int16) {
	w.WriteUint16(uint16(v))
}

func (w *Writer) WriteUint32(v uint32) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
}

func (w *Writer) WriteInt32(v int32) {
	w.WriteUint32(uint32(v))
}

func (w *Writer) WriteUint64(v uint64) {
	w.buf = binary.LittleEndian.AppendUint64(w.buf, v)
}

func (w *Writer) WriteFloat32(v float32) {
	w.WriteUint32(math.Float32bits(v))
}

// WritePackedLength writes a length prefix: one byte below 0xFF,
// otherwise 0xFF followed by a 3-byte little-endian length.
func (w *Writer) WritePackedLength(n int) {
	if n < 0xFF {
		w.buf = append(w.buf, byte(n))
		return
	}
	w.buf = append(w.buf, 0xFF, byte(n), byte(n>>8), byte(n>>16))
}

// WriteString writes a length-prefixed byte string.
func (w *Writer) WriteString(s string) {
	w.WritePackedLength(len(s))
	w.buf = append(w.buf, s...)
}

// WriteBlob writes a length-prefixed byte slice.
func (w *Writer) WriteBlob(b []byte) {
	w.WritePackedLength(len(b))
	w.buf = append(w.buf, b...)
}

// WriteBytes writes raw bytes without a prefix.
func (w *Writer) WriteBytes(b []byte) {
	w.buf = append(w.buf, b...)
}

// WriteAddress writes IP, port (network order) and salt.
func (w *Writer) WriteAddress(a Address) {
	w.buf = append(w.buf, a.IP[:]...)
	w.buf = binary.BigEndian.AppendUint16(w.buf, a.Port)
	w.WriteUint16(a.Salt)
}

// PutUint16At overwrites two bytes at off. Used to back-patch lengths.
func (w *Writer) PutUint16At(off int, v uint16) {
	binary.LittleEndian.PutUint16(w.buf[off:], v)
}

// PutUint32At overwrites four bytes at off.
func (w *Writer) PutUint32At(off int, v uint32) {
	binary.LittleEndian.PutUint32(w.buf[off:], v)
}

// Bytes returns the accumulated data. The slice aliases the internal buffer.
func (w *Writer) Bytes() []byte {
	return w.buf
}

func (w *Writer) Len() int {
	return len(w.buf)
}

// Reset clears the buffer for reuse.
func (w *Writer) Reset() {
	w.buf = w.buf[:0]
}
