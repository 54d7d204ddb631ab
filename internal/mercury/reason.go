// Package mercury is the cooperative UDP transport: a single-goroutine
// dispatcher, nubs (endpoints) with once-off request/reply messaging, and
// reliable ordered channels built on KCP.
package mercury

import (
	"errors"
	"fmt"

	"github.com/udisondev/worldlink/internal/wire"
)

// Reason classifies transport exceptions.
type Reason int

const (
	ReasonSuccess             Reason = 0
	ReasonTimerExpired        Reason = -1
	ReasonNoSuchPort          Reason = -2
	ReasonGeneralNetwork      Reason = -3
	ReasonCorruptedPacket     Reason = -4
	ReasonNonexistentEntry    Reason = -5
	ReasonWindowOverflow      Reason = -6
	ReasonInactivity          Reason = -7
	ReasonResourceUnavailable Reason = -8
	ReasonClientDisconnected  Reason = -9
	ReasonTransmitQueueFull   Reason = -10
	ReasonChannelLost         Reason = -11
)

var reasonNames = map[Reason]string{
	ReasonSuccess:             "REASON_SUCCESS",
	ReasonTimerExpired:        "REASON_TIMER_EXPIRED",
	ReasonNoSuchPort:          "REASON_NO_SUCH_PORT",
	ReasonGeneralNetwork:      "REASON_GENERAL_NETWORK",
	ReasonCorruptedPacket:     "REASON_CORRUPTED_PACKET",
	ReasonNonexistentEntry:    "REASON_NONEXISTENT_ENTRY",
	ReasonWindowOverflow:      "REASON_WINDOW_OVERFLOW",
	ReasonInactivity:          "REASON_INACTIVITY",
	ReasonResourceUnavailable: "REASON_RESOURCE_UNAVAILABLE",
	ReasonClientDisconnected:  "REASON_CLIENT_DISCONNECTED",
	ReasonTransmitQueueFull:   "REASON_TRANSMIT_QUEUE_FULL",
	ReasonChannelLost:         "REASON_CHANNEL_LOST",
}

func (r Reason) String() string {
	if s, ok := reasonNames[r]; ok {
		return s
	}
	return fmt.Sprintf("REASON_UNKNOWN(%d)", int(r))
}

// NubError is a classified transport exception.
type NubError struct {
	Reason Reason
	Addr   wire.Address
	Err    error
}

func (e *NubError) Error() string {
	msg := "mercury: " + e.Reason.String()
	if !e.Addr.IsZero() {
		msg += " (" + e.Addr.String() + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *NubError) Unwrap() error {
	return e.Err
}

// ReasonOf extracts the Reason from err, or ReasonGeneralNetwork when err is
// not a NubError. A nil error maps to ReasonSuccess.
func ReasonOf(err error) Reason {
	if err == nil {
		return ReasonSuccess
	}
	var ne *NubError
	if errors.As(err, &ne) {
		return ne.Reason
	}
	return ReasonGeneralNetwork
}

func corrupted(addr wire.Address, format string, args ...any) *NubError {
	return &NubError{Reason: ReasonCorruptedPacket, Addr: addr, Err: fmt.Errorf(format, args...)}
}
