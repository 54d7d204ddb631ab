package mercury

import (
	"fmt"
	"time"

	"github.com/udisondev/worldlink/internal/wire"
)

const (
	flagRequest byte = 0x01

	// DefaultMTU bounds a single datagram. Used for packet estimates and KCP.
	DefaultMTU = 1400

	maxVariableLength = 0xFFFF
)

type bundleRequest struct {
	offset  int
	handler ReplyMessageHandler
	arg     any
	timeout time.Duration
}

// Bundle accumulates framed messages for a single send.
//
// Frame: id(1) flags(1) [replyID(4) if request] [length(2) if variable] payload.
type Bundle struct {
	w           *wire.Writer
	inMessage   bool
	cur         InterfaceElement
	lenOffset   int
	payloadFrom int
	numMessages int
	requests    []bundleRequest
	err         error
}

// NewBundle creates an empty bundle.
func NewBundle() *Bundle {
	return &Bundle{w: wire.NewWriter(256)}
}

// StartMessage begins a message and returns the writer for its payload.
// The previous message, if any, is closed.
func (b *Bundle) StartMessage(ie InterfaceElement) *wire.Writer {
	b.begin(ie, 0)
	return b.w
}

// StartRequest begins a message whose reply (or failure) is delivered to h.
// A zero timeout means DefaultReplyTimeout.
func (b *Bundle) StartRequest(ie InterfaceElement, h ReplyMessageHandler, arg any, timeout time.Duration) *wire.Writer {
	if timeout <= 0 {
		timeout = DefaultReplyTimeout
	}
	b.begin(ie, flagRequest)
	// replyID is assigned by the nub at send time
	b.requests = append(b.requests, bundleRequest{
		offset:  b.replyIDOffset(),
		handler: h,
		arg:     arg,
		timeout: timeout,
	})
	return b.w
}

// StartReply begins a reply to the request identified by replyID.
func (b *Bundle) StartReply(replyID uint32) *wire.Writer {
	b.begin(ReplyMessage, 0)
	b.w.WriteUint32(replyID)
	return b.w
}

func (b *Bundle) begin(ie InterfaceElement, flags byte) {
	b.endMessage()
	b.w.WriteUint8(ie.ID)
	b.w.WriteUint8(flags)
	if flags&flagRequest != 0 {
		b.w.WriteUint32(0)
	}
	b.lenOffset = -1
	if ie.Style == VariableLength {
		b.lenOffset = b.w.Len()
		b.w.WriteUint16(0)
	}
	b.payloadFrom = b.w.Len()
	b.cur = ie
	b.inMessage = true
	b.numMessages++
}

// replyIDOffset is valid right after begin() of a request.
func (b *Bundle) replyIDOffset() int {
	off := b.payloadFrom - 4
	if b.lenOffset >= 0 {
		off -= 2
	}
	return off
}

func (b *Bundle) endMessage() {
	if !b.inMessage {
		return
	}
	b.inMessage = false
	n := b.w.Len() - b.payloadFrom
	if b.cur.Style == VariableLength {
		if n > maxVariableLength && b.err == nil {
			b.err = fmt.Errorf("message %s: length %d exceeds %d", b.cur.Name, n, maxVariableLength)
			return
		}
		b.w.PutUint16At(b.lenOffset, uint16(n))
		return
	}
	if n != b.cur.Size && b.err == nil {
		b.err = fmt.Errorf("message %s: fixed size %d, wrote %d", b.cur.Name, b.cur.Size, n)
	}
}

// Finalise closes the open message and returns the encoded bundle.
func (b *Bundle) Finalise() ([]byte, error) {
	data, _, err := b.finalise()
	return data, err
}

func (b *Bundle) finalise() ([]byte, []bundleRequest, error) {
	b.endMessage()
	if b.err != nil {
		return nil, nil, b.err
	}
	return b.w.Bytes(), b.requests, nil
}

// NumMessages counts messages started so far.
func (b *Bundle) NumMessages() int {
	return b.numMessages
}

// Size is the encoded size in bytes.
func (b *Bundle) Size() int {
	return b.w.Len()
}

// SizeInPackets estimates how many datagrams the bundle needs.
func (b *Bundle) SizeInPackets() int {
	if b.w.Len() == 0 {
		return 0
	}
	return (b.w.Len() + DefaultMTU - 1) / DefaultMTU
}

// Clear empties the bundle for reuse.
func (b *Bundle) Clear() {
	b.w.Reset()
	b.inMessage = false
	b.numMessages = 0
	b.requests = nil
	b.err = nil
}
