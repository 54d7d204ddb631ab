package servconn

import (
	"time"

	"github.com/udisondev/worldlink/internal/mercury"
	"github.com/udisondev/worldlink/internal/protocol"
)

const (
	statsUpdatePeriod = 2 * time.Second
	udpOverhead       = 28
	bitsPerByte       = 8
)

// rate is a cumulative counter with the per-second change over the last window.
type rate struct {
	total     float64
	last      float64
	perSecond float64
}

func (r *rate) add(v float64) { r.total += v }
func (r *rate) set(v float64) { r.total = v }

func (r *rate) update(delta float64) {
	r.perSecond = (r.total - r.last) / delta
	r.last = r.total
}

type stats struct {
	lastUpdate time.Time

	packetsIn, packetsOut   rate
	bitsIn, bitsOut         rate
	messagesIn, messagesOut rate

	totalBytes       rate
	movementBytes    rate
	nonMovementBytes rate
	overheadBytes    rate
}

// Stats is a snapshot of the traffic statistics.
type Stats struct {
	BpsIn, BpsOut                             float64
	PacketsPerSecondIn, PacketsPerSecondOut   float64
	MessagesPerSecondIn, MessagesPerSecondOut float64

	MovementBytesPercent    float64
	NonMovementBytesPercent float64
	OverheadBytesPercent    float64

	MovementBytesTotal    int
	NonMovementBytesTotal int
	OverheadBytesTotal    int
	MovementMessageCount  int
}

var movementIDs = protocol.MovementMessageIDs()

func avatarUpdateIDs() []mercury.MessageID {
	// relativePositionReference идёт первым, аватарные сообщения следом.
	return movementIDs[1:]
}

// updateStats recomputes the rates when the window has elapsed.
func (c *Connection) updateStats() {
	now := c.d.Now()
	delta := now.Sub(c.stats.lastUpdate)
	if delta <= statsUpdatePeriod {
		return
	}
	c.stats.lastUpdate = now

	ns := c.nub.Stats()
	s := &c.stats
	s.packetsIn.set(float64(ns.PacketsReceived))
	s.messagesIn.set(float64(ns.MessagesReceived))
	s.bitsIn.set(float64(ns.BytesReceived * bitsPerByte))

	movement := ns.BytesFor(movementIDs...)
	overhead := ns.OverheadBytesReceived()
	s.movementBytes.set(float64(movement))
	s.totalBytes.set(float64(ns.BytesReceived))
	s.overheadBytes.set(float64(overhead))
	s.nonMovementBytes.set(float64(ns.BytesReceived) - float64(movement) - float64(overhead))

	secs := delta.Seconds()
	for _, r := range []*rate{
		&s.packetsIn, &s.packetsOut,
		&s.bitsIn, &s.bitsOut,
		&s.messagesIn, &s.messagesOut,
		&s.totalBytes, &s.movementBytes, &s.nonMovementBytes, &s.overheadBytes,
	} {
		r.update(secs)
	}
}

func (c *Connection) countSent(b *mercury.Bundle) {
	c.stats.packetsOut.add(float64(b.SizeInPackets()))
	c.stats.messagesOut.add(float64(b.NumMessages()))
	c.stats.bitsOut.add(float64((b.Size() + udpOverhead) * bitsPerByte))
}

func percentOf(part, total rate) float64 {
	if total.perSecond == 0 {
		return 0
	}
	return part.perSecond / total.perSecond * 100
}

// BpsIn is the number of bits received per second.
func (c *Connection) BpsIn() float64 {
	c.updateStats()
	return c.stats.bitsIn.perSecond
}

// BpsOut is the number of bits sent per second.
func (c *Connection) BpsOut() float64 {
	c.updateStats()
	return c.stats.bitsOut.perSecond
}

func (c *Connection) PacketsPerSecondIn() float64 {
	c.updateStats()
	return c.stats.packetsIn.perSecond
}

func (c *Connection) PacketsPerSecondOut() float64 {
	c.updateStats()
	return c.stats.packetsOut.perSecond
}

func (c *Connection) MessagesPerSecondIn() float64 {
	c.updateStats()
	return c.stats.messagesIn.perSecond
}

func (c *Connection) MessagesPerSecondOut() float64 {
	c.updateStats()
	return c.stats.messagesOut.perSecond
}

// MovementBytesPercent is the share of received bytes that were movement messages.
func (c *Connection) MovementBytesPercent() float64 {
	c.updateStats()
	return percentOf(c.stats.movementBytes, c.stats.totalBytes)
}

func (c *Connection) NonMovementBytesPercent() float64 {
	c.updateStats()
	return percentOf(c.stats.nonMovementBytes, c.stats.totalBytes)
}

// OverheadBytesPercent is the share of received bytes spent on framing.
func (c *Connection) OverheadBytesPercent() float64 {
	c.updateStats()
	return percentOf(c.stats.overheadBytes, c.stats.totalBytes)
}

// Totals are as of the last window.
func (c *Connection) MovementBytesTotal() int    { return int(c.stats.movementBytes.total) }
func (c *Connection) NonMovementBytesTotal() int { return int(c.stats.nonMovementBytes.total) }
func (c *Connection) OverheadBytesTotal() int    { return int(c.stats.overheadBytes.total) }

// MovementMessageCount is the number of avatar updates received so far.
func (c *Connection) MovementMessageCount() int {
	ns := c.nub.Stats()
	return int(ns.CountFor(avatarUpdateIDs()...))
}

// StatsSnapshot collects every statistic at once.
func (c *Connection) StatsSnapshot() Stats {
	c.updateStats()
	s := &c.stats
	return Stats{
		BpsIn:                   s.bitsIn.perSecond,
		BpsOut:                  s.bitsOut.perSecond,
		PacketsPerSecondIn:      s.packetsIn.perSecond,
		PacketsPerSecondOut:     s.packetsOut.perSecond,
		MessagesPerSecondIn:     s.messagesIn.perSecond,
		MessagesPerSecondOut:    s.messagesOut.perSecond,
		MovementBytesPercent:    percentOf(s.movementBytes, s.totalBytes),
		NonMovementBytesPercent: percentOf(s.nonMovementBytes, s.totalBytes),
		OverheadBytesPercent:    percentOf(s.overheadBytes, s.totalBytes),
		MovementBytesTotal:      int(s.movementBytes.total),
		NonMovementBytesTotal:   int(s.nonMovementBytes.total),
		OverheadBytesTotal:      int(s.overheadBytes.total),
		MovementMessageCount:    c.MovementMessageCount(),
	}
}
