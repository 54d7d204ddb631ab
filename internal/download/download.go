// Package download reassembles resource downloads that arrive as
// unordered fragments plus a separate description header.
package download

import (
	"bytes"
	"io"
	"log/slog"
	"slices"

	"github.com/udisondev/worldlink/internal/seqnum"
)

type segment struct {
	// abs is the fragment position counted from the start of the
	// transfer, so transfers may exceed 256 fragments.
	abs  int
	data []byte
}

// Download is one transfer in progress.
type Download struct {
	id uint16

	segments []segment
	// holes are absolute positions known to be missing, ascending.
	holes []int

	expected    seqnum.Seq8
	expectedAbs int

	hasLast bool
	lastAbs int

	description    string
	hasDescription bool
}

func New(id uint16) *Download {
	return &Download{id: id}
}

func (d *Download) ID() uint16 { return d.id }

// Insert adds a fragment. Sequence numbers are read as a signed 8-bit offset
// from the next expected fragment, so a fragment may arrive at most 127 ahead
// of it. Duplicates are ignored, both pending and already consumed ones.
func (d *Download) Insert(seq seqnum.Seq8, data []byte, isLast bool) {
	diff := d.expected.Diff(seq)
	if diff < 0 {
		// уже собран в непрерывный префикс
		slog.Debug("duplicate download fragment", "download", d.id, "seq", uint8(seq))
		return
	}
	abs := d.expectedAbs + diff
	if d.hasLast && abs > d.lastAbs {
		slog.Warn("fragment past the last one", "download", d.id, "seq", uint8(seq))
		return
	}

	i, found := slices.BinarySearchFunc(d.segments, abs, func(s segment, abs int) int {
		return s.abs - abs
	})
	if found {
		slog.Debug("duplicate download fragment", "download", d.id, "seq", uint8(seq))
		return
	}

	tail := d.expectedAbs - 1
	if n := len(d.segments); n > 0 {
		tail = d.segments[n-1].abs
	}
	switch {
	case abs > tail:
		for h := tail + 1; h < abs; h++ {
			d.holes = append(d.holes, h)
		}
	default:
		if j, ok := slices.BinarySearch(d.holes, abs); ok {
			d.holes = slices.Delete(d.holes, j, j+1)
		}
	}

	d.segments = slices.Insert(d.segments, i, segment{abs: abs, data: data})

	if isLast {
		d.hasLast = true
		d.lastAbs = abs
	}

	// Сдвигаем expected через непрерывный участок от головы.
	for j := i; j < len(d.segments) && d.segments[j].abs == d.expectedAbs; j++ {
		d.expectedAbs++
		d.expected = d.expected.Next()
	}
}

// SetDescription records the header text.
func (d *Download) SetDescription(desc string) {
	d.description = desc
	d.hasDescription = true
}

func (d *Download) Description() (string, bool) {
	return d.description, d.hasDescription
}

// Expected is the sequence number of the next fragment needed to extend the
// unbroken run from the start.
func (d *Download) Expected() seqnum.Seq8 { return d.expected }

// Holes lists the missing sequence numbers between received fragments.
func (d *Download) Holes() []seqnum.Seq8 {
	out := make([]seqnum.Seq8, len(d.holes))
	for i, h := range d.holes {
		out[i] = seqnum.Seq8(uint8(h))
	}
	return out
}

// Complete is true when nothing is missing, the last fragment has arrived
// and the description is known.
func (d *Download) Complete() bool {
	return len(d.holes) == 0 && d.hasLast && d.hasDescription
}

// Len is the number of fragments held.
func (d *Download) Len() int { return len(d.segments) }

// WriteTo writes the fragments in sequence order.
func (d *Download) WriteTo(w io.Writer) (int64, error) {
	var total int64
	for _, s := range d.segments {
		n, err := w.Write(s.data)
		total += int64(n)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// Bytes returns the concatenated payload.
func (d *Download) Bytes() []byte {
	var buf bytes.Buffer
	_, _ = d.WriteTo(&buf)
	return buf.Bytes()
}
