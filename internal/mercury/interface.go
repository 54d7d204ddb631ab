package mercury

import (
	"time"

	"github.com/udisondev/worldlink/internal/wire"
)

// MessageID identifies a message within an interface.
type MessageID = uint8

// ReplyMessageID is reserved for replies to requests.
const ReplyMessageID MessageID = 0xFF

// LengthStyle tells the framing whether a message carries its own length.
type LengthStyle uint8

const (
	FixedLength LengthStyle = iota
	VariableLength
)

// InterfaceElement describes one message of an interface.
type InterfaceElement struct {
	ID    MessageID
	Name  string
	Style LengthStyle
	Size  int // payload size for FixedLength
}

// Fixed declares a fixed-size message.
func Fixed(id MessageID, name string, size int) InterfaceElement {
	return InterfaceElement{ID: id, Name: name, Style: FixedLength, Size: size}
}

// Variable declares a message with an explicit uint16 length.
func Variable(id MessageID, name string) InterfaceElement {
	return InterfaceElement{ID: id, Name: name, Style: VariableLength}
}

// WithID returns a copy of ie under another id (entity message ranges).
func (ie InterfaceElement) WithID(id MessageID) InterfaceElement {
	ie.ID = id
	return ie
}

// ReplyMessage is the element every reply travels in.
var ReplyMessage = Variable(ReplyMessageID, "reply")

// UnpackedHeader is what a handler learns about the message besides its payload.
type UnpackedHeader struct {
	ID        MessageID
	Length    int
	IsRequest bool
	ReplyID   uint32
	Nub       *Nub
	Channel   *Channel // nil for once-off packets
}

// InputMessageHandler handles messages registered with Nub.Serve.
type InputMessageHandler interface {
	HandleMessage(src wire.Address, hdr UnpackedHeader, data *wire.Reader)
}

// InputHandlerFunc adapts a function to InputMessageHandler.
type InputHandlerFunc func(src wire.Address, hdr UnpackedHeader, data *wire.Reader)

func (f InputHandlerFunc) HandleMessage(src wire.Address, hdr UnpackedHeader, data *wire.Reader) {
	f(src, hdr, data)
}

// ReplyMessageHandler receives either the reply to a request or the
// exception that ended it (timeout, cancellation).
type ReplyMessageHandler interface {
	HandleMessage(src wire.Address, hdr UnpackedHeader, data *wire.Reader, arg any)
	HandleException(err *NubError, arg any)
}

// TimerID identifies a registered timer. Zero is never a valid id.
type TimerID uint64

// TimerHandler is invoked on the dispatcher goroutine when a timer fires.
type TimerHandler interface {
	HandleTimeout(id TimerID, arg any)
}

// TimerFunc adapts a function to TimerHandler.
type TimerFunc func(id TimerID, arg any)

func (f TimerFunc) HandleTimeout(id TimerID, arg any) {
	f(id, arg)
}

// Filter transforms whole bundles on a channel (encryption).
type Filter interface {
	Encrypt(plain []byte) []byte
	Decrypt(data []byte) ([]byte, error)
}

// BundlePrimer is consulted whenever a channel starts a fresh bundle.
type BundlePrimer interface {
	PrimeBundle(b *Bundle)
	NumUnreliableMessages() int
}

// ChannelAcceptor creates (or finds) a channel for a segment from an unknown address.
// Returning nil drops the segment.
type ChannelAcceptor func(src wire.Address, conv uint32) *Channel

// DefaultReplyTimeout applies to requests started with a zero timeout.
const DefaultReplyTimeout = 8 * time.Second
