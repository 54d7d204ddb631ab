package servconn

import (
	"context"
	"errors"
	"fmt"

	"github.com/udisondev/worldlink/internal/mercury"
	"github.com/udisondev/worldlink/internal/protocol"
	"github.com/udisondev/worldlink/internal/wire"
)

// probeReply collects the key/value pairs of a LoginApp probe.
type probeReply struct {
	d    *mercury.Dispatcher
	info map[string]string
	err  error
	done bool
}

func (p *probeReply) HandleMessage(_ wire.Address, _ mercury.UnpackedHeader, data *wire.Reader, _ any) {
	p.done = true
	p.d.BreakProcessing()

	p.info = make(map[string]string)
	for data.Remaining() > 0 {
		k, err := data.ReadString()
		if err != nil {
			p.err = fmt.Errorf("reading probe key: %w", err)
			return
		}
		v, err := data.ReadString()
		if err != nil {
			p.err = fmt.Errorf("reading probe value of %s: %w", k, err)
			return
		}
		p.info[k] = v
	}
}

func (p *probeReply) HandleException(err *mercury.NubError, _ any) {
	p.done = true
	p.err = err
	p.d.BreakProcessing()
}

// Probe asks the LoginApp about itself (protocol.ProbeKey* entries). It
// pumps the dispatcher, so it must not be called from a callback.
func (c *Connection) Probe(ctx context.Context, server string, port uint16) (map[string]string, error) {
	addr, err := c.resolve(ctx, server, port)
	if err != nil {
		return nil, fmt.Errorf("resolving loginapp: %w", err)
	}

	pr := &probeReply{d: c.d}
	b := mercury.NewBundle()
	b.StartRequest(protocol.LoginProbe, pr, nil, c.policy().Timeout)
	if err := c.nub.Send(addr, b); err != nil {
		return nil, fmt.Errorf("sending probe: %w", err)
	}

	for !pr.done {
		err := c.d.ProcessUntilBreak(ctx)
		if err == nil {
			continue
		}
		if ctx.Err() != nil || errors.Is(err, mercury.ErrDispatcherClosed) {
			c.nub.CancelReplyMessageHandler(pr, mercury.ReasonTimerExpired)
			return nil, fmt.Errorf("probing %s: %w", addr, err)
		}
	}
	if pr.err != nil {
		return nil, fmt.Errorf("probing %s: %w", addr, pr.err)
	}
	return pr.info, nil
}
