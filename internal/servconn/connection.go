// Package servconn is the client side of a game session: the log-on
// handshake, the channel to the BaseApp and dispatch of everything the
// server sends.
package servconn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/udisondev/worldlink/internal/config"
	"github.com/udisondev/worldlink/internal/crypto"
	"github.com/udisondev/worldlink/internal/download"
	"github.com/udisondev/worldlink/internal/login"
	"github.com/udisondev/worldlink/internal/mercury"
	"github.com/udisondev/worldlink/internal/protocol"
	"github.com/udisondev/worldlink/internal/servertime"
	"github.com/udisondev/worldlink/internal/wire"
)

const (
	// packetGapWarning is the silence between packets worth a warning.
	packetGapWarning = 400 * time.Millisecond

	maxBandwidth = mercury.DefaultMTU * bitsPerByte * 10 / 2
)

// Connection is one client session. Apart from New, every method must be
// called on the goroutine that pumps the dispatcher (the one calling
// ProcessInput or LogOn).
type Connection struct {
	cfg      config.Client
	d        *mercury.Dispatcher
	ownsD    bool
	clock    clockwork.Clock
	nub      *mercury.Nub
	resolver Resolver
	epoch    time.Time

	channel    *mercury.Channel
	sessionKey uint32
	handler    MessageHandler
	username   string
	errorMsg   string

	filter    *crypto.BlowfishFilter
	publicKey *crypto.PublicKey
	digest    [login.DigestSize]byte

	onDisconnect     func(DisconnectReason)
	bandwidthMutator func(int)

	id                  protocol.EntityID
	spaceID             protocol.SpaceID
	bandwidthFromServer int
	updateFrequency     float64
	everReceivedPacket  bool
	entitiesEnabled     bool
	lastPacketTime      time.Time

	serverTime *servertime.Handler

	idAlias            [256]protocol.EntityID
	passengerToVehicle map[protocol.EntityID]protocol.EntityID
	controlled         map[protocol.EntityID]struct{}

	// Позиции, отправленные в AddMove, по 8-битному номеру.
	sentPositions     [256]protocol.Vector3
	sendingSequence   uint8
	referencePosition protocol.Vector3

	// createCellPlayer, пришедший раньше createBasePlayer.
	pendingCellPlayer []byte

	downloads *download.Tracker
	stats     stats
	closed    bool
}

// New creates an offline connection with its main nub bound.
func New(opts ...Option) (*Connection, error) {
	c := &Connection{
		cfg:                config.DefaultClient(),
		resolver:           net.DefaultResolver,
		passengerToVehicle: make(map[protocol.EntityID]protocol.EntityID),
		controlled:         make(map[protocol.EntityID]struct{}),
		downloads:          download.NewTracker(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}

	if c.d == nil {
		var dopts []mercury.DispatcherOption
		if c.clock != nil {
			dopts = append(dopts, mercury.WithClock(c.clock))
		}
		c.d = mercury.NewDispatcher(dopts...)
		c.ownsD = true
	}

	nub, err := mercury.NewNub(c.d, c.cfg.BindAddress)
	if err != nil {
		return nil, fmt.Errorf("creating main nub: %w", err)
	}
	c.nub = nub

	if c.cfg.Encrypt {
		if c.filter, err = crypto.GenerateBlowfishFilter(); err != nil {
			_ = nub.Close()
			return nil, fmt.Errorf("generating session key: %w", err)
		}
	}

	c.updateFrequency = c.cfg.DefaultUpdateFrequency
	c.epoch = c.d.Now()
	c.stats.lastUpdate = c.epoch
	c.initialiseConnectionState()
	return c, nil
}

func (c *Connection) initialiseConnectionState() {
	c.id = -1
	c.spaceID = -1
	c.bandwidthFromServer = 0
	c.everReceivedPacket = false
	c.entitiesEnabled = false
	c.serverTime = servertime.New(c.updateFrequency)
	c.sendingSequence = 0
	c.idAlias = [256]protocol.EntityID{}
	c.pendingCellPlayer = nil
	clear(c.controlled)
	clear(c.passengerToVehicle)
}

// Dispatcher is the event loop the connection runs on.
func (c *Connection) Dispatcher() *mercury.Dispatcher { return c.d }

// AppTime is seconds since the connection was created, on the dispatcher clock.
func (c *Connection) AppTime() float64 {
	return c.d.Now().Sub(c.epoch).Seconds()
}

// LogOn runs the whole handshake and blocks until it ends or ctx is done.
// On success entities are enabled straight away.
func (c *Connection) LogOn(ctx context.Context, handler MessageHandler,
	server, username, password, publicKeyPath string, port uint16) login.Status {
	lh := c.LogOnBegin(ctx, server, username, password, publicKeyPath, port)
	c.AwaitLogOn(ctx, lh)

	status := c.LogOnComplete(lh, handler)
	if status == login.StatusLoggedOn {
		c.EnableEntities()
	}
	return status
}

// LogOnBegin starts an asynchronous log-on. The returned handler may
// already be finished when nothing could be sent.
func (c *Connection) LogOnBegin(ctx context.Context,
	server, username, password, publicKeyPath string, port uint16) *login.Handler {
	var key string
	if c.filter != nil {
		key = string(c.filter.Key())
	}
	params := login.NewLogOnParams(username, password, key)
	params.Digest = c.digest

	if c.Online() {
		return login.NewFinishedHandler(c, login.StatusAlreadyOnlineLocally, "Already online")
	}

	c.initialiseConnectionState()

	slog.Info("logging on", "server", server, "username", username)
	c.username = username

	c.RegisterInterfaces(c.nub)

	addr, err := c.resolve(ctx, server, port)
	if err != nil {
		slog.Error("resolving loginapp", "server", server, "error", err)
		return login.NewFinishedHandler(c, login.StatusDNSLookupFailed, "DNS lookup failed")
	}

	c.publicKey = nil
	if c.cfg.Encrypt {
		if publicKeyPath == "" {
			publicKeyPath = protocol.DefaultPublicKeyPath
		}
		if c.publicKey, err = crypto.LoadPublicKey(publicKeyPath); err != nil {
			slog.Error("loading loginapp public key", "path", publicKeyPath, "error", err)
			return login.NewFinishedHandler(c, login.StatusPublicKeyLookupFailed,
				"Failed to load public key "+publicKeyPath)
		}
	}

	lh := login.NewHandler(c, c.policy())
	lh.Start(addr, params)
	return lh
}

func (c *Connection) policy() login.Policy {
	p := login.DefaultPolicy()
	lp := c.cfg.Login
	if lp.RetryPeriod > 0 {
		p.RetryPeriod = lp.RetryPeriod
	}
	if lp.Timeout > 0 {
		p.Timeout = lp.Timeout
	}
	if lp.MaxAttempts > 0 {
		p.MaxAttempts = lp.MaxAttempts
	}
	if lp.MaxBaseAppAttempts > 0 {
		p.MaxBaseAppAttempts = lp.MaxBaseAppAttempts
	}
	return p
}

// resolve turns "host[:port]" into the LoginApp address. An embedded port
// wins over port; zero means the default LoginApp port.
func (c *Connection) resolve(ctx context.Context, server string, port uint16) (wire.Address, error) {
	host := server
	if port == 0 {
		port = protocol.PortLogin
	}
	if i := strings.LastIndexByte(server, ':'); i >= 0 {
		p, err := strconv.ParseUint(server[i+1:], 10, 16)
		if err != nil {
			return wire.Address{}, fmt.Errorf("parsing port of %q: %w", server, err)
		}
		host, port = server[:i], uint16(p)
	}

	ip := net.ParseIP(host)
	if ip == nil {
		ips, err := c.resolver.LookupIP(ctx, "ip4", host)
		if err != nil {
			return wire.Address{}, fmt.Errorf("looking up %s: %w", host, err)
		}
		for _, cand := range ips {
			if cand.To4() != nil {
				ip = cand
				break
			}
		}
	}
	if ip == nil || ip.To4() == nil || ip.IsUnspecified() {
		return wire.Address{}, fmt.Errorf("no usable IPv4 address for %s", host)
	}
	return wire.NewAddress(ip, port), nil
}

// AwaitLogOn pumps the dispatcher until lh is done. Cancelling ctx cancels
// the handshake.
func (c *Connection) AwaitLogOn(ctx context.Context, lh *login.Handler) {
	for !lh.Done() {
		err := c.d.ProcessUntilBreak(ctx)
		if err == nil {
			continue
		}
		if ctx.Err() != nil || errors.Is(err, mercury.ErrDispatcherClosed) {
			slog.Info("log-on interrupted", "error", err)
			lh.Cancel()
			return
		}
		slog.Warn("nub exception during log-on", "reason", mercury.ReasonOf(err), "error", err)
	}
}

// LogOnComplete takes over the session established by lh and installs
// handler. It releases lh's endpoints, so call it outside of any callback.
func (c *Connection) LogOnComplete(lh *login.Handler, handler MessageHandler) login.Status {
	status := lh.Status()

	if status == login.StatusLoggedOn && !c.Online() {
		slog.Warn("log-on completed after the session was dropped")
		status = login.StatusCancelled
		c.errorMsg = "Already logged off"
	}

	switch status {
	case login.StatusLoggedOn:
		reply := lh.ReplyRecord()
		slog.Debug("logged on", "from", c.nub.Address(), "to", reply.ServerAddr)
		if reply.ServerAddr != c.Addr() {
			slog.Warn("BaseApp address on login reply differs from winning BaseApp reply",
				"login_reply", reply.ServerAddr, "winner", c.Addr())
		}
	case login.StatusConnectionFailed:
		c.errorMsg = lh.ErrorMsg()
		slog.Error("log-on failed", "status", status, "error", c.errorMsg)
	case login.StatusDNSLookupFailed:
		c.errorMsg = "DNS lookup failed"
		slog.Error("log-on failed", "status", status, "error", c.errorMsg)
	case login.StatusCancelled:
		if c.errorMsg == "" {
			c.errorMsg = lh.ErrorMsg()
		}
		slog.Info("log-on failed", "status", status, "error", c.errorMsg)
	default:
		c.errorMsg = lh.ErrorMsg()
		slog.Info("log-on failed", "status", status, "error", c.errorMsg)
	}

	lh.Close()

	if status != login.StatusLoggedOn {
		return status
	}

	c.id = protocol.NullEntityID

	// Сессионный ключ появился после того, как бандл был подготовлен,
	// поэтому праймим заново и сразу отправляем: это открывает дыру в NAT.
	c.PrimeBundle(c.channel.Bundle())
	c.Send()
	if c.Offline() {
		return login.StatusConnectionFailed
	}

	c.handler = handler
	c.channel.StartInactivityDetection(c.cfg.InactivityTimeout)
	return status
}

// EnableEntities tells the BaseApp the client is ready for entity traffic.
func (c *Connection) EnableEntities() {
	if c.Offline() {
		return
	}
	c.Bundle().StartMessage(protocol.BaseAppEnableEntities).WriteUint8(0)
	slog.Debug("enabling entities")
	c.Send()
	c.entitiesEnabled = true
}

// Online reports whether the channel to the BaseApp exists. A log-on in
// progress is not online.
func (c *Connection) Online() bool  { return c.channel != nil }
func (c *Connection) Offline() bool { return c.channel == nil }

// Disconnect drops the session. With informServer a best-effort notice is
// sent once-off, never on the channel.
func (c *Connection) Disconnect(informServer bool) {
	c.disconnect(informServer, ReasonRequested)
}

func (c *Connection) disconnect(informServer bool, reason DisconnectReason) {
	if c.Offline() {
		return
	}

	if informServer {
		b := mercury.NewBundle()
		c.PrimeBundle(b)
		protocol.DisconnectClient{}.Write(b.StartMessage(protocol.BaseAppDisconnectClient))
		if err := c.nub.Send(c.channel.Addr(), b); err != nil {
			slog.Debug("sending disconnect notice", "error", err)
		}
	}

	c.channel.Destroy()
	c.channel = nil

	c.downloads.Reset()
	c.handler = nil
	c.sessionKey = 0
	c.entitiesEnabled = false

	slog.Info("disconnected from server", "reason", reason)
	if c.onDisconnect != nil {
		c.onDisconnect(reason)
	}
}

// Channel returns the channel to the BaseApp. It panics while offline.
func (c *Connection) Channel() *mercury.Channel {
	if c.channel == nil {
		panic("servconn: channel used while offline")
	}
	return c.channel
}

// Addr is the BaseApp address. It panics while offline.
func (c *Connection) Addr() wire.Address {
	return c.Channel().Addr()
}

// Bundle is the bundle the next Send flushes. It panics while offline.
func (c *Connection) Bundle() *mercury.Bundle {
	return c.Channel().Bundle()
}

// ProcessInput handles every datagram that is already waiting. It reports
// whether any packet was processed.
func (c *Connection) ProcessInput() bool {
	gotAny := false
	for {
		got, err := c.d.ProcessPendingEvents()
		gotAny = gotAny || got
		c.everReceivedPacket = c.everReceivedPacket || got
		if err != nil {
			c.handleNubError(err)
			break
		}
		if !got {
			break
		}
	}

	if c.Offline() {
		return gotAny
	}

	if gotAny {
		now := c.d.Now()
		if !c.lastPacketTime.IsZero() {
			if gap := now.Sub(c.lastPacketTime); gap > packetGapWarning {
				slog.Warn("long gap between packets", "gap", gap.Round(time.Millisecond))
			}
		}
		c.lastPacketTime = now
	}
	return gotAny
}

func (c *Connection) handleNubError(err error) {
	switch reason := mercury.ReasonOf(err); reason {
	case mercury.ReasonCorruptedPacket:
		slog.Error("dropped corrupted incoming packet", "error", err)
	case mercury.ReasonInactivity:
		if c.Online() {
			slog.Error("disconnecting due to nub exception", "reason", reason, "error", err)
			c.disconnect(true, ReasonInactivity)
		}
	default:
		// Переполнение окна проверяется в Send.
		slog.Warn("got a nub exception", "reason", reason, "error", err)
	}
}

// Send flushes the current bundle on the channel. A send window above the
// overflow limit disconnects the session.
func (c *Connection) Send() {
	if c.Offline() {
		return
	}

	if c.cfg.TryToReconfigurePorts && !c.everReceivedPacket {
		b := mercury.NewBundle()
		protocol.Authenticate{Key: c.sessionKey}.Write(b.StartMessage(protocol.BaseAppAuthenticate))
		if err := c.nub.Send(c.channel.Addr(), b); err != nil {
			slog.Debug("sending port probe", "error", err)
		}
	}

	c.countSent(c.channel.Bundle())
	if err := c.channel.Send(); err != nil {
		slog.Warn("sending bundle", "addr", c.channel.Addr(), "error", err)
	}

	if usage := c.channel.SendWindowUsage(); usage > c.cfg.OverflowLimit {
		slog.Warn("disconnecting since channel has overflowed", "window", usage, "limit", c.cfg.OverflowLimit)
		c.disconnect(true, ReasonOverflow)
	}
}

// PrimeBundle starts every channel bundle with authenticate once the
// session key is known.
func (c *Connection) PrimeBundle(b *mercury.Bundle) {
	if c.sessionKey != 0 {
		protocol.Authenticate{Key: c.sessionKey}.Write(b.StartMessage(protocol.BaseAppAuthenticate))
	}
}

// NumUnreliableMessages is how many messages PrimeBundle adds.
func (c *Connection) NumUnreliableMessages() int {
	if c.sessionKey != 0 {
		return 1
	}
	return 0
}

// StartProxyMessage starts a script message to the player's base.
func (c *Connection) StartProxyMessage(messageID int) *wire.Writer {
	if c.Offline() {
		panic("servconn: StartProxyMessage called when not connected to server")
	}
	ie := protocol.BaseAppEntityMessage.WithID(mercury.MessageID(messageID) | protocol.ProxyMessageFlag)
	return c.Bundle().StartMessage(ie)
}

// StartAvatarMessage starts a script message to the player entity.
func (c *Connection) StartAvatarMessage(messageID int) *wire.Writer {
	return c.StartEntityMessage(messageID, protocol.NullEntityID)
}

// StartEntityMessage starts a script message to entityID.
func (c *Connection) StartEntityMessage(messageID int, entityID protocol.EntityID) *wire.Writer {
	if c.Offline() {
		panic("servconn: StartEntityMessage called when not connected to server")
	}
	ie := protocol.BaseAppEntityMessage.WithID(mercury.MessageID(messageID) | protocol.EntityMessageFirst)
	w := c.Bundle().StartMessage(ie)
	w.WriteInt32(int32(entityID))
	return w
}

// RequestEntityUpdate asks for the full state of an entity that entered
// the AoI, quoting the cache stamps known from a previous visit.
func (c *Connection) RequestEntityUpdate(id protocol.EntityID, stamps []protocol.EventNumber) {
	if c.Offline() {
		return
	}
	protocol.RequestEntityUpdate{ID: id, CacheStamps: stamps}.
		Write(c.Bundle().StartMessage(protocol.BaseAppRequestEntityUpdate))
}

// AddMove reports the new pose of an entity this client controls.
// globalPos is remembered for relativePositionReference.
func (c *Connection) AddMove(id protocol.EntityID, spaceID protocol.SpaceID, vehicleID protocol.EntityID,
	pos protocol.Vector3, dir protocol.Direction3D, onGround bool, globalPos protocol.Vector3) {
	if c.Offline() {
		return
	}

	if spaceID != c.spaceID {
		slog.Error("attempted to move entity to another space", "entity", id, "from", c.spaceID, "to", spaceID)
		return
	}
	if !c.IsControlledLocally(id) {
		slog.Error("tried to add a move for an entity we do not control", "entity", id)
		return
	}

	changedVehicle := false
	if vehicleID != c.VehicleID(id) {
		c.setVehicle(id, vehicleID)
		changedVehicle = true
	}

	packed := protocol.PackDirection(dir)
	b := c.Bundle()

	if id == c.id {
		refNum := c.sendingSequence
		c.sentPositions[refNum] = globalPos
		c.sendingSequence++

		if !changedVehicle {
			protocol.AvatarUpdateImplicit{Position: pos, Direction: packed, RefNum: refNum}.
				Write(b.StartMessage(protocol.BaseAppAvatarUpdateImplicit))
		} else {
			protocol.AvatarUpdateExplicit{
				SpaceID:   spaceID,
				VehicleID: vehicleID,
				OnGround:  onGround,
				Position:  pos,
				Direction: packed,
				RefNum:    refNum,
			}.Write(b.StartMessage(protocol.BaseAppAvatarUpdateExplicit))
		}
		return
	}

	if !changedVehicle {
		protocol.AvatarUpdateWardImplicit{Ward: id, Position: pos, Direction: packed}.
			Write(b.StartMessage(protocol.BaseAppAvatarUpdateWardImplicit))
	} else {
		protocol.AvatarUpdateWardExplicit{
			Ward:      id,
			SpaceID:   spaceID,
			VehicleID: vehicleID,
			OnGround:  onGround,
			Position:  pos,
			Direction: packed,
		}.Write(b.StartMessage(protocol.BaseAppAvatarUpdateWardExplicit))
	}
}

// IsControlledLocally reports whether the server granted this client control of id.
func (c *Connection) IsControlledLocally(id protocol.EntityID) bool {
	_, ok := c.controlled[id]
	return ok
}

// VehicleID is the vehicle id rides, or NullEntityID.
func (c *Connection) VehicleID(id protocol.EntityID) protocol.EntityID {
	return c.passengerToVehicle[id]
}

func (c *Connection) setVehicle(passenger, vehicle protocol.EntityID) {
	if vehicle != protocol.NullEntityID {
		c.passengerToVehicle[passenger] = vehicle
	} else {
		delete(c.passengerToVehicle, passenger)
	}
}

// ServerTime converts a client time (AppTime) to server time.
func (c *Connection) ServerTime(clientTime float64) float64 {
	return c.serverTime.ServerTime(clientTime)
}

// LastMessageTime is the server time of the last tick sync.
func (c *Connection) LastMessageTime() float64         { return c.serverTime.LastMessageTime() }
func (c *Connection) LastGameTime() protocol.TimeStamp { return c.serverTime.LastGameTime() }

func (c *Connection) ErrorMsg() string                    { return c.errorMsg }
func (c *Connection) SessionKey() uint32                  { return c.sessionKey }
func (c *Connection) PlayerID() protocol.EntityID         { return c.id }
func (c *Connection) SpaceID() protocol.SpaceID           { return c.spaceID }
func (c *Connection) Username() string                    { return c.username }
func (c *Connection) EntitiesEnabled() bool               { return c.entitiesEnabled }
func (c *Connection) UpdateFrequency() float64            { return c.updateFrequency }
func (c *Connection) BandwidthFromServer() int            { return c.bandwidthFromServer }
func (c *Connection) ReferencePosition() protocol.Vector3 { return c.referencePosition }

// SetDigest sets the resource digest sent with the next log-on.
func (c *Connection) SetDigest(d [login.DigestSize]byte) { c.digest = d }

func (c *Connection) SetTryToReconfigurePorts(v bool) { c.cfg.TryToReconfigurePorts = v }

// SetInactivityTimeout applies from the next log-on.
func (c *Connection) SetInactivityTimeout(d time.Duration) { c.cfg.InactivityTimeout = d }

// SetBandwidthFromServer asks for a new downstream rate. The value takes
// effect when the server confirms it with bandwidthNotification.
func (c *Connection) SetBandwidthFromServer(bps int) {
	if c.bandwidthMutator == nil {
		slog.Error("cannot change bandwidth from server: no mutator set")
		return
	}
	c.bandwidthMutator(min(max(bps, 0), maxBandwidth))
}

// Close disconnects and releases the socket and, when owned, the dispatcher.
func (c *Connection) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.Disconnect(true)
	err := c.nub.Close()
	if c.ownsD {
		c.d.Close()
	}
	if err != nil {
		return fmt.Errorf("closing main nub: %w", err)
	}
	return nil
}

// login.Connection

func (c *Connection) Nub() *mercury.Nub { return c.nub }

func (c *Connection) NewEndpoint() (*mercury.Nub, error) {
	host, _, err := net.SplitHostPort(c.cfg.BindAddress)
	if err != nil {
		host = ""
	}
	return mercury.NewNub(c.d, net.JoinHostPort(host, "0"))
}

func (c *Connection) Filter() mercury.Filter {
	if c.filter == nil {
		return nil
	}
	return c.filter
}

func (c *Connection) PublicKey() *crypto.PublicKey       { return c.publicKey }
func (c *Connection) BundlePrimer() mercury.BundlePrimer { return c }
func (c *Connection) SetChannel(ch *mercury.Channel)     { c.channel = ch }
func (c *Connection) SetSessionKey(key uint32)           { c.sessionKey = key }

var _ login.Connection = (*Connection)(nil)
