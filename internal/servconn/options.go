package servconn

import (
	"context"
	"net"

	"github.com/jonboulle/clockwork"

	"github.com/udisondev/worldlink/internal/config"
	"github.com/udisondev/worldlink/internal/mercury"
)

// DisconnectReason says why a session went offline.
type DisconnectReason uint8

const (
	ReasonRequested DisconnectReason = iota
	ReasonInactivity
	ReasonOverflow
	ReasonLoggedOff
	ReasonRestoreBaseApp
)

func (r DisconnectReason) String() string {
	switch r {
	case ReasonRequested:
		return "requested"
	case ReasonInactivity:
		return "inactivity"
	case ReasonOverflow:
		return "overflow"
	case ReasonLoggedOff:
		return "logged off"
	case ReasonRestoreBaseApp:
		return "restore baseapp"
	}
	return "unknown"
}

// Resolver looks up the LoginApp host. *net.Resolver satisfies it.
type Resolver interface {
	LookupIP(ctx context.Context, network, host string) ([]net.IP, error)
}

// Option configures a Connection.
type Option func(*Connection)

// WithConfig replaces config.DefaultClient().
func WithConfig(cfg config.Client) Option {
	return func(c *Connection) {
		c.cfg = cfg
	}
}

// WithDispatcher runs the connection on an existing event loop. The caller
// keeps ownership of it.
func WithDispatcher(d *mercury.Dispatcher) Option {
	return func(c *Connection) {
		c.d = d
	}
}

// WithClock creates the connection's own dispatcher on clock.
// Ignored together with WithDispatcher.
func WithClock(clock clockwork.Clock) Option {
	return func(c *Connection) {
		c.clock = clock
	}
}

func WithResolver(r Resolver) Option {
	return func(c *Connection) {
		c.resolver = r
	}
}

// WithOnDisconnect is called once every time the session goes offline.
func WithOnDisconnect(fn func(DisconnectReason)) Option {
	return func(c *Connection) {
		c.onDisconnect = fn
	}
}

// WithBandwidthMutator installs the hook SetBandwidthFromServer asks the
// server through.
func WithBandwidthMutator(fn func(bps int)) Option {
	return func(c *Connection) {
		c.bandwidthMutator = fn
	}
}
