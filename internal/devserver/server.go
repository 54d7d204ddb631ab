// Package devserver is a minimal LoginApp and BaseApp pair to develop and
// test clients against: it authenticates accounts, hands out sessions and
// plays a tiny world of walking NPCs.
package devserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jonboulle/clockwork"

	"github.com/udisondev/worldlink/internal/config"
	"github.com/udisondev/worldlink/internal/crypto"
	"github.com/udisondev/worldlink/internal/mercury"
	"github.com/udisondev/worldlink/internal/wire"
)

// Server runs both apps on one dispatcher goroutine.
type Server struct {
	d     *mercury.Dispatcher
	login *LoginApp
	base  *BaseApp
}

// Option configures a Server.
type Option func(*options)

type options struct {
	clock clockwork.Clock
}

// WithClock drives timers (ticks, pending login expiry aside) from clock.
func WithClock(clock clockwork.Clock) Option {
	return func(o *options) {
		o.clock = clock
	}
}

// New binds both nubs. key may be nil, then only plaintext logins work.
func New(cfg config.DevServer, accounts AccountRepository, key *crypto.PrivateKey, opts ...Option) (*Server, error) {
	o := options{clock: clockwork.NewRealClock()}
	for _, opt := range opts {
		opt(&o)
	}

	d := mercury.NewDispatcher(mercury.WithClock(o.clock))

	loginNub, err := mercury.NewNub(d, cfg.LoginBind)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("binding loginapp: %w", err)
	}
	baseNub, err := mercury.NewNub(d, cfg.BaseAppBind)
	if err != nil {
		_ = loginNub.Close()
		d.Close()
		return nil, fmt.Errorf("binding baseapp: %w", err)
	}

	pending := newPendingLogins(cfg.PendingLoginTTL)
	base := newBaseApp(cfg, baseNub, pending)
	s := &Server{
		d:     d,
		login: newLoginApp(cfg, loginNub, accounts, key, pending, base),
		base:  base,
	}
	slog.Info("dev server bound",
		"loginapp", loginNub.Address(),
		"baseapp", baseNub.Address(),
		"advertised", base.ExternalAddr(),
		"encryption", key != nil)
	return s, nil
}

// LoginAddr is the LoginApp's bound address.
func (s *Server) LoginAddr() wire.Address { return s.login.Addr() }

// BaseAddr is the BaseApp's bound address.
func (s *Server) BaseAddr() wire.Address { return s.base.nub.Address() }

// Run pumps the dispatcher until ctx ends or Close is called.
func (s *Server) Run(ctx context.Context) error {
	defer s.shutdown()
	for {
		err := s.d.ProcessUntilBreak(ctx)
		switch {
		case err == nil:
			continue
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded),
			errors.Is(err, mercury.ErrDispatcherClosed):
			return nil
		}
		s.base.handleNubError(err)
	}
}

func (s *Server) shutdown() {
	s.base.close()
	if err := s.login.nub.Close(); err != nil {
		slog.Warn("closing loginapp", "error", err)
	}
	if err := s.base.nub.Close(); err != nil {
		slog.Warn("closing baseapp", "error", err)
	}
	slog.Info("dev server stopped")
}

// Close makes Run return.
func (s *Server) Close() {
	s.d.Close()
}

// Do runs f on the dispatcher goroutine and waits for it.
func (s *Server) Do(ctx context.Context, f func()) error {
	done := make(chan struct{})
	s.d.Post(func() {
		defer close(done)
		f()
	})
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// KickAll logs off every connected client and returns how many there were.
func (s *Server) KickAll(ctx context.Context) (int, error) {
	var n int
	err := s.Do(ctx, func() { n = s.base.kickAll() })
	return n, err
}

// NumProxies is the number of connected clients.
func (s *Server) NumProxies(ctx context.Context) (int, error) {
	var n int
	err := s.Do(ctx, func() { n = s.base.numProxies() })
	return n, err
}

// NumPending is the number of accepted logins not yet on the BaseApp.
func (s *Server) NumPending() int { return s.base.pending.len() }
