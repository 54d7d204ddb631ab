package devserver

import (
	"errors"
	"log/slog"
	"math/rand/v2"
	"net"
	"time"

	"github.com/udisondev/worldlink/internal/config"
	"github.com/udisondev/worldlink/internal/crypto"
	"github.com/udisondev/worldlink/internal/mercury"
	"github.com/udisondev/worldlink/internal/protocol"
	"github.com/udisondev/worldlink/internal/wire"
)

// kickGrace is how long a kicked proxy lingers so that loggedOff gets
// through.
const kickGrace = time.Second

// BaseApp owns the client sessions after login.
type BaseApp struct {
	cfg     config.DevServer
	nub     *mercury.Nub
	d       *mercury.Dispatcher
	pending *pendingLogins
	world   *world
	rng     *rand.Rand

	proxies  map[wire.Address]*proxy
	nextID   protocol.EntityID
	gameTime uint32
	lastTick time.Time
	tickID   mercury.TimerID
}

func newBaseApp(cfg config.DevServer, nub *mercury.Nub, pending *pendingLogins) *BaseApp {
	ba := &BaseApp{
		cfg:     cfg,
		nub:     nub,
		d:       nub.Dispatcher(),
		pending: pending,
		world:   newWorld(cfg.NPCCount),
		rng:     rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		proxies: make(map[wire.Address]*proxy),
		nextID:  firstPlayerID,
	}

	serve(nub, protocol.BaseAppLogin, ba.baseAppLogin)
	nub.Serve(protocol.BaseAppAuthenticate, mercury.InputHandlerFunc(ba.authenticate))
	nub.Serve(protocol.BaseAppDisconnectClient, mercury.InputHandlerFunc(ba.disconnectClient))

	serveProxy(ba, protocol.BaseAppEnableEntities, func(p *proxy, _ *wire.Reader) {
		p.enableEntities()
	})
	serveProxy(ba, protocol.BaseAppAvatarUpdateImplicit, func(p *proxy, r *wire.Reader) {
		var a protocol.AvatarUpdateImplicit
		if decode(p, protocol.BaseAppAvatarUpdateImplicit, &a, r) {
			p.moved(a.Position, a.RefNum)
		}
	})
	serveProxy(ba, protocol.BaseAppAvatarUpdateExplicit, func(p *proxy, r *wire.Reader) {
		var a protocol.AvatarUpdateExplicit
		if decode(p, protocol.BaseAppAvatarUpdateExplicit, &a, r) {
			p.moved(a.Position, a.RefNum)
		}
	})
	for _, ie := range []mercury.InterfaceElement{
		protocol.BaseAppAvatarUpdateWardImplicit,
		protocol.BaseAppAvatarUpdateWardExplicit,
		protocol.BaseAppAckPhysicsCorrection,
		protocol.BaseAppAckWardPhysicsCorrection,
		protocol.BaseAppRestoreClientAck,
	} {
		serveProxy(ba, ie, func(p *proxy, _ *wire.Reader) {
			slog.Debug("ignored client message", "login", p.username, "message", ie.Name)
		})
	}
	serveProxy(ba, protocol.BaseAppRequestEntityUpdate, func(p *proxy, r *wire.Reader) {
		var a protocol.RequestEntityUpdate
		if decode(p, protocol.BaseAppRequestEntityUpdate, &a, r) {
			p.describe(a.ID)
		}
	})
	for _, ie := range protocol.EntityMessageElements(protocol.BaseAppEntityMessage) {
		nub.Serve(ie, mercury.InputHandlerFunc(func(src wire.Address, hdr mercury.UnpackedHeader, r *wire.Reader) {
			if p := ba.proxyFor(src, hdr); p != nil {
				p.echo(hdr, r)
			}
		}))
	}

	nub.SetChannelAcceptor(ba.accept)

	if cfg.UpdateFrequency > 0 {
		ba.lastTick = ba.d.Now()
		ba.tickID = ba.d.RegisterTimer(time.Second/time.Duration(cfg.UpdateFrequency), mercury.TimerFunc(ba.tick), nil)
	}
	return ba
}

// serve registers a once-off handler with decoded arguments.
func serve[T any, P interface {
	*T
	Read(*wire.Reader) error
}](n *mercury.Nub, ie mercury.InterfaceElement, fn func(src wire.Address, hdr mercury.UnpackedHeader, args *T)) {
	n.Serve(ie, mercury.InputHandlerFunc(func(src wire.Address, hdr mercury.UnpackedHeader, data *wire.Reader) {
		var args T
		if err := P(&args).Read(data); err != nil {
			slog.Warn("malformed message", "message", ie.Name, "from", src, "error", err)
			return
		}
		fn(src, hdr, &args)
	}))
}

// serveProxy registers a handler for messages that only make sense on an
// established channel.
func serveProxy(ba *BaseApp, ie mercury.InterfaceElement, fn func(p *proxy, r *wire.Reader)) {
	ba.nub.Serve(ie, mercury.InputHandlerFunc(func(src wire.Address, hdr mercury.UnpackedHeader, r *wire.Reader) {
		if hdr.Channel == nil {
			slog.Warn("channel message arrived once-off", "message", ie.Name, "from", src)
			return
		}
		if p := ba.proxyFor(src, hdr); p != nil {
			fn(p, r)
		}
	}))
}

func decode(p *proxy, ie mercury.InterfaceElement, args interface{ Read(*wire.Reader) error }, r *wire.Reader) bool {
	if err := args.Read(r); err != nil {
		slog.Warn("malformed message", "message", ie.Name, "login", p.username, "error", err)
		return false
	}
	return true
}

func (ba *BaseApp) proxyFor(src wire.Address, hdr mercury.UnpackedHeader) *proxy {
	p, ok := ba.proxies[src]
	if !ok {
		slog.Debug("message from unknown client", "from", src, "message", hdr.ID)
		return nil
	}
	return p
}

// ExternalAddr is the BaseApp address advertised in login replies.
func (ba *BaseApp) ExternalAddr() wire.Address {
	addr := ba.nub.Address()
	if ba.cfg.ExternalHost != "" {
		if ip := net.ParseIP(ba.cfg.ExternalHost); ip != nil {
			return wire.NewAddress(ip, addr.Port)
		}
		slog.Warn("external host is not an IPv4 address", "host", ba.cfg.ExternalHost)
	}
	if addr.IP == [4]byte{} {
		addr.IP = [4]byte{127, 0, 0, 1}
	}
	return addr
}

// baseAppLogin answers every attempt for a pending login with the same
// session key. The channel itself is created when the client's first
// segment arrives on whichever socket won.
func (ba *BaseApp) baseAppLogin(src wire.Address, hdr mercury.UnpackedHeader, a *protocol.BaseAppLoginArgs) {
	if !hdr.IsRequest {
		return
	}
	p, ok := ba.pending.get(a.SessionKey)
	if !ok {
		slog.Warn("baseAppLogin with unknown key", "from", src, "attempt", a.Attempt)
		return
	}
	if p.SessionKey == 0 {
		for p.SessionKey == 0 || p.SessionKey == p.LoginKey {
			p.SessionKey = ba.rng.Uint32()
		}
	}
	slog.Debug("baseAppLogin", "login", p.Username, "from", src, "attempt", a.Attempt)

	b := mercury.NewBundle()
	b.StartReply(hdr.ReplyID).WriteUint32(p.SessionKey)
	if err := ba.nub.Send(src, b); err != nil {
		slog.Warn("sending baseAppLogin reply", "to", src, "error", err)
	}
}

// accept creates the proxy for a channel whose conversation id is a
// login key that has already been through baseAppLogin.
func (ba *BaseApp) accept(src wire.Address, conv uint32) *mercury.Channel {
	p, ok := ba.pending.get(conv)
	if !ok || p.SessionKey == 0 {
		slog.Debug("segment for unknown session", "from", src, "conv", conv)
		return nil
	}
	ba.pending.take(conv)

	var opts []mercury.ChannelOption
	if len(p.FilterKey) > 0 {
		f, err := crypto.NewBlowfishFilter(p.FilterKey)
		if err != nil {
			slog.Error("unusable session key", "login", p.Username, "error", err)
			return nil
		}
		opts = append(opts, mercury.WithFilter(f))
	}
	ch := mercury.NewChannel(ba.nub, src, conv, opts...)
	if ba.cfg.InactivityTimeout > 0 {
		ch.StartInactivityDetection(ba.cfg.InactivityTimeout)
	}

	px := &proxy{
		base:       ba,
		username:   p.Username,
		sessionKey: p.SessionKey,
		channel:    ch,
		id:         ba.nextID,
	}
	ba.nextID++
	ba.proxies[src] = px

	protocol.Authenticate{Key: px.sessionKey}.Write(px.bundle().StartMessage(protocol.ClientAuthenticate))
	px.send()

	slog.Info("client connected", "login", px.username, "addr", src, "player", px.id)
	return ch
}

// authenticate checks the key on channel bundles. Arriving once-off from
// an unknown address it is the client's port probe, and the channel
// follows the client to the new address.
func (ba *BaseApp) authenticate(src wire.Address, hdr mercury.UnpackedHeader, r *wire.Reader) {
	var a protocol.Authenticate
	if err := a.Read(r); err != nil {
		slog.Warn("malformed message", "message", protocol.BaseAppAuthenticate.Name, "from", src, "error", err)
		return
	}

	if p, ok := ba.proxies[src]; ok {
		if a.Key != p.sessionKey {
			slog.Warn("wrong session key", "login", p.username, "got", a.Key)
		}
		return
	}
	if hdr.Channel != nil {
		return
	}

	for old, p := range ba.proxies {
		if p.sessionKey != a.Key {
			continue
		}
		slog.Info("client address changed", "login", p.username, "from", old, "to", src)
		p.channel.Rebind(src)
		delete(ba.proxies, old)
		ba.proxies[src] = p
		return
	}
}

func (ba *BaseApp) disconnectClient(src wire.Address, _ mercury.UnpackedHeader, r *wire.Reader) {
	var a protocol.DisconnectClient
	if err := a.Read(r); err != nil {
		slog.Warn("malformed message", "message", protocol.BaseAppDisconnectClient.Name, "from", src, "error", err)
	}
	p, ok := ba.proxies[src]
	if !ok {
		return
	}
	ba.drop(p, "client disconnected")
}

func (ba *BaseApp) drop(p *proxy, why string) {
	if ba.proxies[p.addr()] != p {
		return
	}
	delete(ba.proxies, p.addr())
	p.channel.Destroy()
	slog.Info("client dropped", "login", p.username, "addr", p.addr(), "reason", why)
}

func (ba *BaseApp) tick(mercury.TimerID, any) {
	now := ba.d.Now()
	ba.world.step(now.Sub(ba.lastTick).Seconds())
	ba.lastTick = now
	ba.gameTime++

	for _, p := range ba.proxies {
		p.tick()
	}
}

// kickAll logs every client off; the channels are torn down a little later.
func (ba *BaseApp) kickAll() int {
	n := 0
	for _, p := range ba.proxies {
		if p.kicked {
			continue
		}
		p.kick()
		n++
		ba.d.RegisterCallback(kickGrace, mercury.TimerFunc(func(mercury.TimerID, any) {
			ba.drop(p, "kicked")
		}), nil)
	}
	return n
}

// handleNubError reacts to transport exceptions raised on the dispatcher.
func (ba *BaseApp) handleNubError(err error) {
	var ne *mercury.NubError
	if !errors.As(err, &ne) {
		slog.Warn("dispatcher error", "error", err)
		return
	}
	switch ne.Reason {
	case mercury.ReasonInactivity:
		if p, ok := ba.proxies[ne.Addr]; ok {
			ba.drop(p, "inactivity")
		}
	case mercury.ReasonCorruptedPacket:
		slog.Warn("corrupted packet", "from", ne.Addr, "error", ne.Err)
	default:
		slog.Warn("transport error", "reason", ne.Reason, "addr", ne.Addr, "error", ne.Err)
	}
}

func (ba *BaseApp) online(username string) bool {
	for _, p := range ba.proxies {
		if p.username == username && !p.kicked {
			return true
		}
	}
	return false
}

func (ba *BaseApp) numProxies() int { return len(ba.proxies) }

func (ba *BaseApp) close() {
	if ba.tickID != 0 {
		ba.d.CancelTimer(ba.tickID)
	}
	for _, p := range ba.proxies {
		p.channel.Destroy()
	}
	clear(ba.proxies)
}
