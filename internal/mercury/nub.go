package mercury

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"slices"
	"sync"
	"time"

	"github.com/udisondev/worldlink/internal/wire"
)

// Packet kinds, the first byte of every datagram.
const (
	packetOnceOff byte = 0x01
	packetChannel byte = 0x02
)

const maxDatagramSize = 64 * 1024

// socket owns a PacketConn and its reader goroutine. The owning nub may
// change (SwitchSockets) and is only read on the dispatcher goroutine.
type socket struct {
	conn      net.PacketConn
	owner     *Nub
	done      chan struct{}
	closeOnce sync.Once
}

func newSocket(d *Dispatcher, conn net.PacketConn) *socket {
	s := &socket{conn: conn, done: make(chan struct{})}
	go s.readLoop(d)
	return s
}

func (s *socket) readLoop(d *Dispatcher) {
	buf := make([]byte, maxDatagramSize)
	for {
		n, src, err := s.conn.ReadFrom(buf)
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			select {
			case d.inbound <- datagram{sock: s, err: err}:
			case <-s.done:
				return
			}
			continue
		}
		dg := datagram{sock: s, src: src, data: append([]byte(nil), buf[:n]...)}
		select {
		case d.inbound <- dg:
		case <-s.done:
			return
		}
	}
}

func (s *socket) close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		s.owner = nil
		err = s.conn.Close()
	})
	return err
}

type registration struct {
	ie      InterfaceElement
	handler InputMessageHandler
}

type pendingReply struct {
	id      uint32
	addr    wire.Address
	handler ReplyMessageHandler
	arg     any
	timer   TimerID
}

// Nub is a UDP endpoint bound to a Dispatcher.
type Nub struct {
	d        *Dispatcher
	sock     *socket
	elements [256]*registration

	replies     map[uint32]*pendingReply
	nextReplyID uint32

	channels map[wire.Address]*Channel
	acceptor ChannelAcceptor

	stats  Stats
	ext    any
	closed bool
}

// NewNub binds a UDP socket on bindAddr ("127.0.0.1:0" for an ephemeral port).
func NewNub(d *Dispatcher, bindAddr string) (*Nub, error) {
	conn, err := net.ListenPacket("udp4", bindAddr)
	if err != nil {
		return nil, fmt.Errorf("binding nub on %s: %w", bindAddr, err)
	}
	return NewNubWithConn(d, conn), nil
}

// NewNubWithConn wraps an existing PacketConn (lossy test connections).
func NewNubWithConn(d *Dispatcher, conn net.PacketConn) *Nub {
	n := &Nub{
		d:        d,
		replies:  make(map[uint32]*pendingReply),
		channels: make(map[wire.Address]*Channel),
	}
	n.sock = newSocket(d, conn)
	n.sock.owner = n
	return n
}

// Dispatcher returns the event loop this nub runs on.
func (n *Nub) Dispatcher() *Dispatcher {
	return n.d
}

// Address is the local address of the socket currently owned by the nub.
func (n *Nub) Address() wire.Address {
	return wire.AddressFromNet(n.sock.conn.LocalAddr())
}

// LocalAddr is the raw local address.
func (n *Nub) LocalAddr() net.Addr {
	return n.sock.conn.LocalAddr()
}

// Serve registers h for messages with ie.ID.
func (n *Nub) Serve(ie InterfaceElement, h InputMessageHandler) {
	n.elements[ie.ID] = &registration{ie: ie, handler: h}
}

// SetChannelAcceptor installs the hook for channel segments from unknown peers.
func (n *Nub) SetChannelAcceptor(a ChannelAcceptor) {
	n.acceptor = a
}

// SetExtensionData attaches an arbitrary owner value to the nub.
func (n *Nub) SetExtensionData(v any) {
	n.ext = v
}

// ExtensionData returns what SetExtensionData stored.
func (n *Nub) ExtensionData() any {
	return n.ext
}

// RegisterTimer forwards to the dispatcher.
func (n *Nub) RegisterTimer(period time.Duration, h TimerHandler, arg any) TimerID {
	return n.d.RegisterTimer(period, h, arg)
}

// CancelTimer forwards to the dispatcher.
func (n *Nub) CancelTimer(id TimerID) bool {
	return n.d.CancelTimer(id)
}

// Send transmits b to addr as a single once-off datagram. Requests in the
// bundle get reply ids and timeouts; the reply handlers are registered before
// the datagram leaves, so a failed write still ends in a timeout exception.
func (n *Nub) Send(addr wire.Address, b *Bundle) error {
	if n.closed {
		return &NubError{Reason: ReasonChannelLost, Addr: addr, Err: errors.New("nub closed")}
	}
	data, reqs, err := b.finalise()
	if err != nil {
		return fmt.Errorf("finalising bundle for %s: %w", addr, err)
	}
	n.registerRequests(addr, data, reqs)
	n.stats.MessagesSent += uint64(b.NumMessages())
	return n.sendPacket(addr, packetOnceOff, data)
}

func (n *Nub) registerRequests(addr wire.Address, data []byte, reqs []bundleRequest) {
	for _, req := range reqs {
		n.nextReplyID++
		if n.nextReplyID == 0 {
			n.nextReplyID++
		}
		id := n.nextReplyID
		putUint32(data[req.offset:], id)

		pr := &pendingReply{id: id, addr: addr, handler: req.handler, arg: req.arg}
		pr.timer = n.d.RegisterCallback(req.timeout, TimerFunc(n.replyTimedOut), id)
		n.replies[id] = pr
	}
}

func putUint32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func (n *Nub) replyTimedOut(_ TimerID, arg any) {
	id := arg.(uint32)
	pr, ok := n.replies[id]
	if !ok {
		return
	}
	delete(n.replies, id)
	pr.handler.HandleException(&NubError{Reason: ReasonTimerExpired, Addr: pr.addr}, pr.arg)
}

// CancelReplyMessageHandler fails every pending request owned by h with
// reason. It returns how many were cancelled.
func (n *Nub) CancelReplyMessageHandler(h ReplyMessageHandler, reason Reason) int {
	var ids []uint32
	for id, pr := range n.replies {
		if pr.handler == h {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	for _, id := range ids {
		pr, ok := n.replies[id]
		if !ok {
			continue
		}
		delete(n.replies, id)
		n.d.CancelTimer(pr.timer)
		pr.handler.HandleException(&NubError{Reason: reason, Addr: pr.addr}, pr.arg)
	}
	return len(ids)
}

// NumPendingReplies reports requests still waiting for an answer.
func (n *Nub) NumPendingReplies() int {
	return len(n.replies)
}

func (n *Nub) sendPacket(addr wire.Address, kind byte, payload []byte) error {
	buf := make([]byte, 1+len(payload))
	buf[0] = kind
	copy(buf[1:], payload)

	n.stats.PacketsSent++
	n.stats.BytesSent += uint64(len(buf))
	if _, err := n.sock.conn.WriteTo(buf, addr.UDPAddr()); err != nil {
		return &NubError{Reason: ReasonGeneralNetwork, Addr: addr, Err: err}
	}
	return nil
}

// SwitchSockets exchanges the underlying sockets of n and other.
// Packets already queued follow their socket to the new owner.
func (n *Nub) SwitchSockets(other *Nub) {
	n.sock, other.sock = other.sock, n.sock
	n.sock.owner = n
	other.sock.owner = other
}

// FindChannel returns the channel to addr, if any.
func (n *Nub) FindChannel(addr wire.Address) *Channel {
	return n.channels[addr]
}

// NumChannels reports live channels on this nub.
func (n *Nub) NumChannels() int {
	return len(n.channels)
}

// Stats returns a snapshot of the traffic counters.
func (n *Nub) Stats() Stats {
	return n.stats
}

// Closed reports whether Close has been called.
func (n *Nub) Closed() bool {
	return n.closed
}

// Close destroys the nub's channels, drops pending replies and closes the socket.
func (n *Nub) Close() error {
	if n.closed {
		return nil
	}
	n.closed = true
	for _, ch := range n.channels {
		ch.Destroy()
	}
	if len(n.replies) > 0 {
		slog.Debug("closing nub with pending replies", "addr", n.Address(), "count", len(n.replies))
	}
	for id, pr := range n.replies {
		n.d.CancelTimer(pr.timer)
		delete(n.replies, id)
	}
	return n.sock.close()
}

func (n *Nub) handlePacket(src net.Addr, data []byte) error {
	addr := wire.AddressFromNet(src)
	n.stats.PacketsReceived++
	n.stats.BytesReceived += uint64(len(data))

	if len(data) == 0 {
		return corrupted(addr, "empty packet")
	}
	switch data[0] {
	case packetOnceOff:
		return n.DispatchBundle(addr, data[1:], nil)
	case packetChannel:
		seg := data[1:]
		ch := n.channels[addr]
		if ch == nil && n.acceptor != nil {
			if conv, ok := segmentConv(seg); ok {
				ch = n.acceptor(addr, conv)
			}
		}
		if ch == nil {
			slog.Debug("dropping channel segment from unknown peer", "src", addr, "nub", n.Address())
			return nil
		}
		return ch.input(seg)
	default:
		return corrupted(addr, "unknown packet kind 0x%02X", data[0])
	}
}

// DispatchBundle decodes a bundle and hands each message to its handler.
// ch is nil for once-off bundles.
func (n *Nub) DispatchBundle(src wire.Address, data []byte, ch *Channel) error {
	r := wire.NewReader(data)
	for r.Remaining() > 0 {
		start := r.Position()
		id, err := r.ReadUint8()
		if err != nil {
			return corrupted(src, "reading message id: %w", err)
		}
		flags, err := r.ReadUint8()
		if err != nil {
			return corrupted(src, "reading flags of message %d: %w", id, err)
		}
		hdr := UnpackedHeader{ID: id, Nub: n, Channel: ch}
		if flags&flagRequest != 0 {
			hdr.IsRequest = true
			if hdr.ReplyID, err = r.ReadUint32(); err != nil {
				return corrupted(src, "reading reply id of message %d: %w", id, err)
			}
		}

		var ie InterfaceElement
		var reg *registration
		if id == ReplyMessageID {
			ie = ReplyMessage
		} else {
			reg = n.elements[id]
			if reg == nil {
				return corrupted(src, "unknown message id %d", id)
			}
			ie = reg.ie
		}

		length := ie.Size
		if ie.Style == VariableLength {
			l, err := r.ReadUint16()
			if err != nil {
				return corrupted(src, "reading length of %s: %w", ie.Name, err)
			}
			length = int(l)
		}
		payload, err := r.ReadBytes(length)
		if err != nil {
			return corrupted(src, "reading payload of %s: %w", ie.Name, err)
		}
		hdr.Length = length

		n.stats.MessagesReceived++
		n.stats.MessageBytes[id] += uint64(r.Position() - start)
		n.stats.MessageCounts[id]++

		if id == ReplyMessageID {
			n.handleReply(src, hdr, wire.NewReader(payload))
		} else {
			reg.handler.HandleMessage(src, hdr, wire.NewReader(payload))
		}

		if n.closed || (ch != nil && ch.destroyed) {
			return nil
		}
	}
	return nil
}

func (n *Nub) handleReply(src wire.Address, hdr UnpackedHeader, data *wire.Reader) {
	replyID, err := data.ReadUint32()
	if err != nil {
		slog.Warn("reply without id", "src", src)
		return
	}
	pr, ok := n.replies[replyID]
	if !ok {
		slog.Debug("reply for unknown request", "src", src, "reply_id", replyID)
		return
	}
	delete(n.replies, replyID)
	n.d.CancelTimer(pr.timer)
	hdr.ReplyID = replyID
	pr.handler.HandleMessage(src, hdr, data, pr.arg)
}
