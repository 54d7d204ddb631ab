package servconn

import (
	"bytes"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/udisondev/worldlink/internal/config"
	"github.com/udisondev/worldlink/internal/mercury"
	"github.com/udisondev/worldlink/internal/protocol"
	"github.com/udisondev/worldlink/internal/testutil"
	"github.com/udisondev/worldlink/internal/wire"
)

const (
	loginSessionKey uint32 = 0x1111
	testSessionKey  uint32 = 0xABCD1234
)

type entityMsg struct {
	id      protocol.EntityID
	msg     int
	payload string
}

// recorder remembers every callback. Readers are drained inside the call.
type recorder struct {
	BaseHandler

	basePlayers []protocol.EntityID
	cellPlayers []protocol.EntityID
	entered     []protocol.EntityID
	left        map[protocol.EntityID][]protocol.EventNumber
	created     []protocol.EntityID
	moves       []Move
	properties  []entityMsg
	methods     []entityMsg
	updates     []entityMsg
	control     map[protocol.EntityID]bool
	spaceGone   []protocol.SpaceID
	spaceData   []string
	streams     []string
	resets      []bool
	restored    []protocol.EntityID
}

func newRecorder() *recorder {
	return &recorder{
		left:    make(map[protocol.EntityID][]protocol.EventNumber),
		control: make(map[protocol.EntityID]bool),
	}
}

func (r *recorder) OnBasePlayerCreate(id protocol.EntityID, _ protocol.EntityTypeID, _ *wire.Reader) {
	r.basePlayers = append(r.basePlayers, id)
}

func (r *recorder) OnCellPlayerCreate(id protocol.EntityID, _ protocol.SpaceID, _ protocol.EntityID,
	_ protocol.Vector3, _ protocol.Direction3D, _ *wire.Reader) {
	r.cellPlayers = append(r.cellPlayers, id)
}

func (r *recorder) OnEntityEnter(id protocol.EntityID, _ protocol.SpaceID, _ protocol.EntityID) {
	r.entered = append(r.entered, id)
}

func (r *recorder) OnEntityLeave(id protocol.EntityID, stamps []protocol.EventNumber) {
	r.left[id] = stamps
}

func (r *recorder) OnEntityCreate(id protocol.EntityID, _ protocol.EntityTypeID, _ protocol.SpaceID,
	_ protocol.EntityID, _ protocol.Vector3, _ protocol.Direction3D, _ *wire.Reader) {
	r.created = append(r.created, id)
}

func (r *recorder) OnEntityProperties(id protocol.EntityID, data *wire.Reader) {
	r.updates = append(r.updates, entityMsg{id, -1, string(data.Rest())})
}

func (r *recorder) OnEntityProperty(id protocol.EntityID, messageID int, data *wire.Reader) {
	r.properties = append(r.properties, entityMsg{id, messageID, string(data.Rest())})
}

func (r *recorder) OnEntityMethod(id protocol.EntityID, messageID int, data *wire.Reader) {
	r.methods = append(r.methods, entityMsg{id, messageID, string(data.Rest())})
}

func (r *recorder) OnEntityMove(m Move)                           { r.moves = append(r.moves, m) }
func (r *recorder) OnEntityControl(id protocol.EntityID, on bool) { r.control[id] = on }
func (r *recorder) SpaceGone(spaceID protocol.SpaceID)            { r.spaceGone = append(r.spaceGone, spaceID) }
func (r *recorder) OnEntitiesReset(keep bool)                     { r.resets = append(r.resets, keep) }

func (r *recorder) SpaceData(_ protocol.SpaceID, _ wire.Address, _ uint16, data []byte) {
	r.spaceData = append(r.spaceData, string(data))
}

func (r *recorder) OnStreamComplete(_ uint16, desc string, data []byte) {
	r.streams = append(r.streams, desc+"="+string(data))
}

func (r *recorder) OnRestoreClient(id protocol.EntityID, _ protocol.SpaceID, _ protocol.EntityID,
	_ protocol.Vector3, _ protocol.Direction3D, _ *wire.Reader) {
	r.restored = append(r.restored, id)
}

// fakeBase accepts the client's channel and records what arrives on it.
type fakeBase struct {
	nub      *mercury.Nub
	ch       *mercury.Channel
	received []mercury.MessageID
	payloads map[mercury.MessageID][][]byte
}

func newFakeBase(t *testing.T, d *mercury.Dispatcher) *fakeBase {
	n, err := mercury.NewNub(d, "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = n.Close() })

	fb := &fakeBase{nub: n, payloads: make(map[mercury.MessageID][][]byte)}
	n.SetChannelAcceptor(func(src wire.Address, conv uint32) *mercury.Channel {
		fb.ch = mercury.NewChannel(n, src, conv)
		return fb.ch
	})

	record := mercury.InputHandlerFunc(func(_ wire.Address, hdr mercury.UnpackedHeader, r *wire.Reader) {
		fb.received = append(fb.received, hdr.ID)
		fb.payloads[hdr.ID] = append(fb.payloads[hdr.ID], bytes.Clone(r.Rest()))
	})
	for _, ie := range []mercury.InterfaceElement{
		protocol.BaseAppAuthenticate,
		protocol.BaseAppAvatarUpdateImplicit,
		protocol.BaseAppAvatarUpdateExplicit,
		protocol.BaseAppAvatarUpdateWardImplicit,
		protocol.BaseAppAvatarUpdateWardExplicit,
		protocol.BaseAppAckPhysicsCorrection,
		protocol.BaseAppAckWardPhysicsCorrection,
		protocol.BaseAppRequestEntityUpdate,
		protocol.BaseAppEnableEntities,
		protocol.BaseAppRestoreClientAck,
		protocol.BaseAppDisconnectClient,
	} {
		n.Serve(ie, record)
	}
	for _, ie := range protocol.EntityMessageElements(protocol.BaseAppEntityMessage) {
		n.Serve(ie, record)
	}

	n.Serve(protocol.BaseAppLogin, mercury.InputHandlerFunc(
		func(src wire.Address, hdr mercury.UnpackedHeader, _ *wire.Reader) {
			b := mercury.NewBundle()
			b.StartReply(hdr.ReplyID).WriteUint32(testSessionKey)
			require.NoError(t, n.Send(src, b))
		}))
	return fb
}

func (fb *fakeBase) count(ie mercury.InterfaceElement) int {
	return len(fb.payloads[ie.ID])
}

type env struct {
	clock   *clockwork.FakeClock
	d       *mercury.Dispatcher
	c       *Connection
	base    *fakeBase
	rec     *recorder
	reasons []DisconnectReason
}

func newEnv(t *testing.T, mutate func(*config.Client), opts ...Option) *env {
	clock := clockwork.NewFakeClock()
	d := mercury.NewDispatcher(mercury.WithClock(clock))
	t.Cleanup(d.Close)

	cfg := config.DefaultClient()
	cfg.BindAddress = "127.0.0.1:0"
	cfg.Encrypt = false
	if mutate != nil {
		mutate(&cfg)
	}

	e := &env{clock: clock, d: d, rec: newRecorder()}
	opts = append([]Option{
		WithConfig(cfg),
		WithDispatcher(d),
		WithOnDisconnect(func(r DisconnectReason) { e.reasons = append(e.reasons, r) }),
	}, opts...)

	c, err := New(opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	e.c = c
	e.base = newFakeBase(t, d)
	return e
}

// goOnline installs a channel to the fake BaseApp the way a won
// baseAppLogin does, without the handshake.
func (e *env) goOnline() {
	e.goOnlineTo(e.base.nub.Address())
}

func (e *env) goOnlineTo(addr wire.Address) {
	c := e.c
	c.initialiseConnectionState()
	c.RegisterInterfaces(c.nub)
	c.SetSessionKey(testSessionKey)
	ch := mercury.NewChannel(c.nub, addr, testSessionKey, mercury.WithPrimer(c))
	ch.SetIrregular(true)
	c.SetChannel(ch)
	c.id = protocol.NullEntityID
	c.handler = e.rec
}

func (e *env) step() {
	e.c.ProcessInput()
}

func (e *env) pumpUntil(t *testing.T, cond func() bool) {
	t.Helper()
	testutil.PumpUntil(t, 3*time.Second, e.step, cond)
}

// deliver dispatches a bundle to the client as if it came in on the channel.
func (e *env) deliver(t *testing.T, fill func(b *mercury.Bundle)) {
	t.Helper()

	b := mercury.NewBundle()
	fill(b)
	data, err := b.Finalise()
	require.NoError(t, err)

	addr := e.base.nub.Address()
	var ch *mercury.Channel
	if e.c.Online() {
		ch = e.c.channel
		addr = ch.Addr()
	}
	require.NoError(t, e.c.nub.DispatchBundle(addr, data, ch))
}

// createPlayer runs createBasePlayer and createCellPlayer for id in space.
func (e *env) createPlayer(t *testing.T, id protocol.EntityID, space protocol.SpaceID, pos protocol.Vector3) {
	t.Helper()
	e.deliver(t, func(b *mercury.Bundle) {
		protocol.CreateBasePlayer{ID: id, Type: 1}.Write(b.StartMessage(protocol.ClientCreateBasePlayer))
		protocol.CreateCellPlayer{SpaceID: space, Position: pos}.Write(b.StartMessage(protocol.ClientCreateCellPlayer))
	})
}
