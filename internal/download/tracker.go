package download

import (
	"log/slog"
	"strconv"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/udisondev/worldlink/internal/seqnum"
)

// completedTTL is how long a finished id keeps swallowing late fragments.
const completedTTL = 30 * time.Second

// Completed is a finished transfer.
type Completed struct {
	ID          uint16
	Description string
	Data        []byte
}

// Tracker demultiplexes fragments and headers by transfer id.
type Tracker struct {
	downloads map[uint16]*Download
	completed *gocache.Cache
}

func NewTracker() *Tracker {
	return &Tracker{
		downloads: make(map[uint16]*Download),
		completed: gocache.New(completedTTL, time.Minute),
	}
}

// HandleHeader sets the description of transfer id. A header for an id
// that already has one is a collision and is dropped.
func (t *Tracker) HandleHeader(id uint16, desc string) (Completed, bool) {
	d, ok := t.downloads[id]
	if !ok && t.late(id) {
		return Completed{}, false
	}
	switch {
	case !ok:
		d = New(id)
		t.downloads[id] = d
	case d.hasDescription:
		slog.Error("download id collision, download is likely to be corrupted", "download", id)
		return Completed{}, false
	default:
		slog.Warn("download data arrived before the header", "download", id)
	}

	d.SetDescription(desc)
	return t.check(d)
}

// HandleFragment adds a fragment to transfer id, creating it if needed.
func (t *Tracker) HandleFragment(id uint16, seq seqnum.Seq8, data []byte, isLast bool) (Completed, bool) {
	d, ok := t.downloads[id]
	if !ok {
		if t.late(id) {
			return Completed{}, false
		}
		d = New(id)
		t.downloads[id] = d
	}
	d.Insert(seq, data, isLast)
	return t.check(d)
}

func (t *Tracker) check(d *Download) (Completed, bool) {
	if !d.Complete() {
		return Completed{}, false
	}
	delete(t.downloads, d.id)
	t.completed.SetDefault(completedKey(d.id), struct{}{})
	return Completed{ID: d.id, Description: d.description, Data: d.Bytes()}, true
}

// Reset drops every unfinished transfer.
func (t *Tracker) Reset() {
	if len(t.downloads) > 0 {
		slog.Debug("discarding unfinished downloads", "count", len(t.downloads))
	}
	clear(t.downloads)
	t.completed.Flush()
}

// late reports whether id belongs to a transfer that has recently finished.
func (t *Tracker) late(id uint16) bool {
	if _, found := t.completed.Get(completedKey(id)); !found {
		return false
	}
	slog.Debug("late message for a finished download", "download", id)
	return true
}

func completedKey(id uint16) string { return strconv.Itoa(int(id)) }

// Len is the number of unfinished transfers.
func (t *Tracker) Len() int { return len(t.downloads) }

// Get returns the unfinished transfer with id.
func (t *Tracker) Get(id uint16) (*Download, bool) {
	d, ok := t.downloads[id]
	return d, ok
}
