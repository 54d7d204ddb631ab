package mercury

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xtaci/kcp-go"

	"github.com/udisondev/worldlink/internal/wire"
)

const (
	channelUpdateInterval = 10 * time.Millisecond
	defaultSendWindow     = 256
	defaultRecvWindow     = 256
	inactivityCheckPeriod = time.Second
)

// ErrChannelDestroyed is returned when sending on a destroyed channel.
var ErrChannelDestroyed = errors.New("channel destroyed")

// Channel is a reliable ordered message stream to one peer. Each Send
// becomes one KCP message; the conversation id is the login session key,
// so both ends agree on it before the first segment.
type Channel struct {
	nub    *Nub
	addr   wire.Address
	conv   uint32
	kcp    *kcp.KCP
	bundle *Bundle
	primed int

	filter Filter
	primer BundlePrimer

	irregular bool

	lastReceived     time.Time
	inactivityPeriod time.Duration
	inactivityTimer  TimerID
	updateTimer      TimerID

	destroyed bool
}

// ChannelOption configures a Channel.
type ChannelOption func(*Channel)

// WithFilter encrypts every bundle sent and decrypts every bundle received.
func WithFilter(f Filter) ChannelOption {
	return func(c *Channel) {
		c.filter = f
	}
}

// WithPrimer installs a bundle primer.
func WithPrimer(p BundlePrimer) ChannelOption {
	return func(c *Channel) {
		c.primer = p
	}
}

// WithWindow sets the KCP send and receive windows (in segments).
func WithWindow(snd, rcv int) ChannelOption {
	return func(c *Channel) {
		c.kcp.WndSize(snd, rcv)
	}
}

// NewChannel creates a channel on n towards addr and registers it with n.
func NewChannel(n *Nub, addr wire.Address, conv uint32, opts ...ChannelOption) *Channel {
	c := &Channel{
		nub:          n,
		addr:         addr,
		conv:         conv,
		lastReceived: n.d.Now(),
	}
	c.kcp = kcp.NewKCP(conv, func(buf []byte, size int) {
		c.output(buf[:size])
	})
	c.kcp.NoDelay(1, int(channelUpdateInterval/time.Millisecond), 2, 1)
	c.kcp.WndSize(defaultSendWindow, defaultRecvWindow)
	c.kcp.SetMtu(DefaultMTU)
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	c.bundle = c.newBundle()
	c.updateTimer = n.d.RegisterTimer(channelUpdateInterval, TimerFunc(func(TimerID, any) {
		c.kcp.Update()
	}), nil)
	n.channels[addr] = c
	return c
}

func (c *Channel) newBundle() *Bundle {
	b := NewBundle()
	c.primed = 0
	if c.primer != nil {
		c.primer.PrimeBundle(b)
		c.primed = c.primer.NumUnreliableMessages()
	}
	return b
}

func (c *Channel) output(seg []byte) {
	if c.destroyed {
		return
	}
	if err := c.nub.sendPacket(c.addr, packetChannel, seg); err != nil {
		slog.Debug("channel segment send failed", "addr", c.addr, "err", err)
	}
}

// Addr is the remote address.
func (c *Channel) Addr() wire.Address {
	return c.addr
}

// Conv is the KCP conversation id.
func (c *Channel) Conv() uint32 {
	return c.conv
}

// Nub returns the nub the channel currently sends through.
func (c *Channel) Nub() *Nub {
	return c.nub
}

// Bundle is the bundle being filled for the next Send.
func (c *Channel) Bundle() *Bundle {
	return c.bundle
}

// Send queues the current bundle for reliable delivery and starts a new one.
// A bundle holding only primer messages is kept and not sent.
func (c *Channel) Send() error {
	if c.destroyed {
		return ErrChannelDestroyed
	}
	b := c.bundle
	if b.NumMessages() <= c.primed {
		return nil
	}
	data, reqs, err := b.finalise()
	if err != nil {
		c.bundle = c.newBundle()
		return fmt.Errorf("finalising channel bundle for %s: %w", c.addr, err)
	}
	c.nub.registerRequests(c.addr, data, reqs)
	if c.filter != nil {
		data = c.filter.Encrypt(data)
	}
	c.nub.stats.MessagesSent += uint64(b.NumMessages())
	c.bundle = c.newBundle()

	if ret := c.kcp.Send(data); ret < 0 {
		return &NubError{Reason: ReasonTransmitQueueFull, Addr: c.addr, Err: fmt.Errorf("kcp send: %d", ret)}
	}
	c.kcp.Update()
	return nil
}

// SendWindowUsage is the number of segments not yet acknowledged by the peer.
func (c *Channel) SendWindowUsage() int {
	if c.destroyed {
		return 0
	}
	return c.kcp.WaitSnd()
}

// SetIrregular marks a channel that is not sent on every tick; its
// acknowledgements are then flushed immediately.
func (c *Channel) SetIrregular(v bool) {
	c.irregular = v
}

func (c *Channel) IsIrregular() bool {
	return c.irregular
}

// StartInactivityDetection raises ReasonInactivity on the dispatcher when
// nothing is received for period.
func (c *Channel) StartInactivityDetection(period time.Duration) {
	d := c.nub.d
	if c.inactivityTimer != 0 {
		d.CancelTimer(c.inactivityTimer)
	}
	c.inactivityPeriod = period
	c.lastReceived = d.Now()
	c.inactivityTimer = d.RegisterTimer(min(period, inactivityCheckPeriod), TimerFunc(c.checkInactivity), nil)
}

func (c *Channel) checkInactivity(TimerID, any) {
	d := c.nub.d
	if d.Now().Sub(c.lastReceived) <= c.inactivityPeriod {
		return
	}
	d.Raise(&NubError{
		Reason: ReasonInactivity,
		Addr:   c.addr,
		Err:    fmt.Errorf("nothing received for %s", d.Now().Sub(c.lastReceived).Round(time.Millisecond)),
	})
	c.lastReceived = d.Now()
}

// LastReceived is when the last segment arrived.
func (c *Channel) LastReceived() time.Time {
	return c.lastReceived
}

// SwitchNub moves the channel onto another nub sharing the same dispatcher.
func (c *Channel) SwitchNub(n *Nub) {
	if c.nub.channels[c.addr] == c {
		delete(c.nub.channels, c.addr)
	}
	c.nub = n
	n.channels[c.addr] = c
}

// Rebind points the channel at a new remote address (the peer's NAT mapping changed).
func (c *Channel) Rebind(addr wire.Address) {
	if c.nub.channels[c.addr] == c {
		delete(c.nub.channels, c.addr)
	}
	c.addr = addr
	c.nub.channels[addr] = c
}

// Destroyed reports whether Destroy has been called.
func (c *Channel) Destroyed() bool {
	return c.destroyed
}

// Destroy stops the channel's timers and unregisters it. Unsent data is dropped.
func (c *Channel) Destroy() {
	if c.destroyed {
		return
	}
	c.destroyed = true
	d := c.nub.d
	d.CancelTimer(c.updateTimer)
	if c.inactivityTimer != 0 {
		d.CancelTimer(c.inactivityTimer)
	}
	if c.nub.channels[c.addr] == c {
		delete(c.nub.channels, c.addr)
	}
}

func (c *Channel) input(seg []byte) error {
	if c.destroyed {
		return nil
	}
	c.lastReceived = c.nub.d.Now()
	if ret := c.kcp.Input(seg, true, c.irregular); ret < 0 {
		return corrupted(c.addr, "kcp input: %d", ret)
	}
	for !c.destroyed {
		size := c.kcp.PeekSize()
		if size < 0 {
			break
		}
		buf := make([]byte, size)
		if c.kcp.Recv(buf) < 0 {
			break
		}
		payload := buf
		if c.filter != nil {
			var err error
			if payload, err = c.filter.Decrypt(buf); err != nil {
				return corrupted(c.addr, "decrypting bundle: %w", err)
			}
		}
		if err := c.nub.DispatchBundle(c.addr, payload, c); err != nil {
			return err
		}
	}
	return nil
}

// segmentConv peeks the conversation id of a KCP segment.
func segmentConv(seg []byte) (uint32, bool) {
	if len(seg) < 4 {
		return 0, false
	}
	return binary.LittleEndian.Uint32(seg), true
}
