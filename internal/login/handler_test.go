package login

import (
	"slices"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/udisondev/worldlink/internal/crypto"
	"github.com/udisondev/worldlink/internal/mercury"
	"github.com/udisondev/worldlink/internal/protocol"
	"github.com/udisondev/worldlink/internal/testutil"
	"github.com/udisondev/worldlink/internal/wire"
)

// testConn is a minimal session on a fake clock.
type testConn struct {
	t    *testing.T
	d    *mercury.Dispatcher
	main *mercury.Nub
	key  *crypto.PublicKey
	bf   *crypto.BlowfishFilter
	nubs []*mercury.Nub
	ch   *mercury.Channel
	skey uint32
}

func newTestConn(t *testing.T, d *mercury.Dispatcher) *testConn {
	main, err := mercury.NewNub(d, "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = main.Close() })
	return &testConn{t: t, d: d, main: main}
}

func (c *testConn) Nub() *mercury.Nub { return c.main }

func (c *testConn) NewEndpoint() (*mercury.Nub, error) {
	n, err := mercury.NewNub(c.d, "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	c.t.Cleanup(func() { _ = n.Close() })
	c.nubs = append(c.nubs, n)
	return n, nil
}

func (c *testConn) Filter() mercury.Filter {
	if c.bf == nil {
		return nil
	}
	return c.bf
}

func (c *testConn) PublicKey() *crypto.PublicKey       { return c.key }
func (c *testConn) RegisterInterfaces(*mercury.Nub)    {}
func (c *testConn) BundlePrimer() mercury.BundlePrimer { return nil }
func (c *testConn) SetChannel(ch *mercury.Channel)     { c.ch = ch }
func (c *testConn) SetSessionKey(key uint32)           { c.skey = key }

// fakeCluster is a LoginApp and a BaseApp on the same dispatcher.
type fakeCluster struct {
	t     *testing.T
	login *mercury.Nub
	base  *mercury.Nub
	priv  *crypto.PrivateKey

	// loginReply writes the reply body; nil answers LOGGED_ON.
	loginReply func(w *wire.Writer, params *LogOnParams)
	// answerBaseApp decides whether an attempt gets a reply.
	answerBaseApp func(attempt uint8) bool
	// keylessReply drops the session key from the BaseApp reply.
	keylessReply bool

	logins       int
	baseAttempts []uint8
	sessionKey   uint32
}

func newFakeCluster(t *testing.T, d *mercury.Dispatcher) *fakeCluster {
	fc := &fakeCluster{t: t, sessionKey: 0xABCD1234}

	var err error
	fc.login, err = mercury.NewNub(d, "127.0.0.1:0")
	require.NoError(t, err)
	fc.base, err = mercury.NewNub(d, "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = fc.login.Close()
		_ = fc.base.Close()
	})

	fc.login.Serve(protocol.LoginLogin, mercury.InputHandlerFunc(fc.handleLogin))
	fc.base.Serve(protocol.BaseAppLogin, mercury.InputHandlerFunc(fc.handleBaseAppLogin))
	return fc
}

func (fc *fakeCluster) handleLogin(src wire.Address, hdr mercury.UnpackedHeader, r *wire.Reader) {
	fc.logins++

	version, err := r.ReadUint32()
	require.NoError(fc.t, err)
	require.Equal(fc.t, protocol.LoginVersion, version)
	encrypted, err := r.ReadBool()
	require.NoError(fc.t, err)

	var key *crypto.PrivateKey
	if encrypted {
		key = fc.priv
	}
	var params LogOnParams
	require.NoError(fc.t, params.ReadFromStream(r, key))

	b := mercury.NewBundle()
	w := b.StartReply(hdr.ReplyID)
	if fc.loginReply != nil {
		fc.loginReply(w, &params)
	} else {
		w.WriteUint8(uint8(StatusLoggedOn))
		rec := wire.NewWriter(16)
		ReplyRecord{ServerAddr: fc.base.Address(), SessionKey: 0x1111}.Write(rec)
		if encrypted {
			bf, err := crypto.NewBlowfishFilter([]byte(params.EncryptionKey))
			require.NoError(fc.t, err)
			w.WriteBytes(bf.Encrypt(rec.Bytes()))
		} else {
			w.WriteBytes(rec.Bytes())
		}
	}
	require.NoError(fc.t, fc.login.Send(src, b))
}

func (fc *fakeCluster) handleBaseAppLogin(src wire.Address, hdr mercury.UnpackedHeader, r *wire.Reader) {
	var args protocol.BaseAppLoginArgs
	require.NoError(fc.t, args.Read(r))
	fc.baseAttempts = append(fc.baseAttempts, args.Attempt)

	if fc.answerBaseApp == nil || !fc.answerBaseApp(args.Attempt) {
		return
	}
	b := mercury.NewBundle()
	w := b.StartReply(hdr.ReplyID)
	if !fc.keylessReply {
		w.WriteUint32(fc.sessionKey)
	}
	require.NoError(fc.t, fc.base.Send(src, b))
}

type handlerEnv struct {
	clock   *clockwork.FakeClock
	d       *mercury.Dispatcher
	conn    *testConn
	cluster *fakeCluster
	h       *Handler
}

func newHandlerEnv(t *testing.T) *handlerEnv {
	clock := clockwork.NewFakeClock()
	d := mercury.NewDispatcher(mercury.WithClock(clock))
	t.Cleanup(d.Close)

	conn := newTestConn(t, d)
	return &handlerEnv{
		clock:   clock,
		d:       d,
		conn:    conn,
		cluster: newFakeCluster(t, d),
		h:       NewHandler(conn, DefaultPolicy()),
	}
}

func (e *handlerEnv) step() {
	_, _ = e.d.ProcessPendingEvents()
}

func (e *handlerEnv) pumpUntil(t *testing.T, cond func() bool) {
	t.Helper()
	testutil.PumpUntil(t, 3*time.Second, e.step, cond)
}

func (e *handlerEnv) start() {
	e.h.Start(e.cluster.login.Address(), NewLogOnParams("alice", "secret", "0123456789abcdef"))
}

func TestHandler_WinnerAmongSiblings(t *testing.T) {
	env := newHandlerEnv(t)
	env.cluster.answerBaseApp = func(attempt uint8) bool { return attempt == 2 }

	env.start()
	env.pumpUntil(t, func() bool { return len(env.cluster.baseAttempts) == 1 })
	assert.Equal(t, env.cluster.base.Address(), env.h.BaseAppAddr())

	env.clock.Advance(time.Second)
	env.pumpUntil(t, func() bool { return len(env.cluster.baseAttempts) == 2 })
	env.clock.Advance(time.Second)
	env.pumpUntil(t, env.h.Done)

	require.Equal(t, StatusLoggedOn, env.h.Status())
	assert.Empty(t, env.h.ErrorMsg())
	assert.Equal(t, []uint8{0, 1, 2}, env.cluster.baseAttempts)
	assert.Equal(t, 3, env.h.NumBaseAppAttempts())
	assert.Zero(t, env.h.NumPending())

	require.NotNil(t, env.conn.ch)
	assert.Same(t, env.conn.main, env.conn.ch.Nub(), "winning channel moves to the main nub")
	assert.Equal(t, env.cluster.base.Address(), env.conn.ch.Addr())
	assert.Equal(t, uint32(0xABCD1234), env.conn.skey)
	assert.Equal(t, uint32(0xABCD1234), env.h.ReplyRecord().SessionKey)

	// Losers are kept for later, not closed from inside their callbacks.
	condemned := env.h.Condemned()
	require.Len(t, condemned, 3)
	for _, n := range env.conn.nubs[:2] {
		assert.True(t, slices.Contains(condemned, n))
		assert.False(t, n.Closed())
	}

	env.h.Close()
	for _, n := range condemned {
		assert.True(t, n.Closed())
	}
	assert.False(t, env.conn.main.Closed())
	assert.Empty(t, env.h.Condemned())
}

func TestHandler_BaseAppCeiling(t *testing.T) {
	env := newHandlerEnv(t)

	env.start()
	env.pumpUntil(t, func() bool { return env.h.NumBaseAppAttempts() == 1 })

	for i := 2; i <= 10; i++ {
		env.clock.Advance(time.Second)
		env.pumpUntil(t, func() bool { return env.h.NumBaseAppAttempts() == i })
		require.False(t, env.h.Done(), "gave up after %d attempts", i)
	}

	env.clock.Advance(time.Second)
	env.pumpUntil(t, env.h.Done)

	assert.Equal(t, StatusConnectionFailed, env.h.Status())
	assert.Equal(t, msgBaseAppFailed, env.h.ErrorMsg())
	assert.Equal(t, 10, env.h.NumBaseAppAttempts())
	assert.Zero(t, env.h.NumPending())
	assert.Len(t, env.h.Condemned(), 10)

	// Nothing spawns after the handler is done.
	env.clock.Advance(10 * time.Second)
	for range 20 {
		env.step()
	}
	assert.Equal(t, 10, env.h.NumBaseAppAttempts())
	env.pumpUntil(t, func() bool { return len(env.cluster.baseAttempts) == 10 })
	env.h.Close()
}

func TestHandler_LoginRejected(t *testing.T) {
	tests := []struct {
		name    string
		status  Status
		message string
		want    string
	}{
		{"with message", StatusInvalidPassword, "Wrong password", "Wrong password"},
		{"empty message", StatusNoSuchUser, "", msgUnelaborated},
		{"custom without message", StatusCustomDefinedError, "", msgUnspecified},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newHandlerEnv(t)
			env.cluster.loginReply = func(w *wire.Writer, _ *LogOnParams) {
				w.WriteUint8(uint8(tt.status))
				w.WriteString(tt.message)
			}

			env.start()
			env.pumpUntil(t, env.h.Done)

			assert.Equal(t, tt.status, env.h.Status())
			assert.Equal(t, tt.want, env.h.ErrorMsg())
			assert.Zero(t, env.h.NumBaseAppAttempts())
			assert.Nil(t, env.conn.ch)
		})
	}
}

func TestHandler_ShortReplyRecord(t *testing.T) {
	env := newHandlerEnv(t)
	env.cluster.loginReply = func(w *wire.Writer, _ *LogOnParams) {
		w.WriteUint8(uint8(StatusLoggedOn))
		w.WriteBytes([]byte{127, 0, 0})
	}

	env.start()
	env.pumpUntil(t, env.h.Done)

	assert.Equal(t, StatusConnectionFailed, env.h.Status())
	assert.Equal(t, "Mercury::REASON_CORRUPTED_PACKET", env.h.ErrorMsg())
	assert.Zero(t, env.h.NumBaseAppAttempts())
}

func TestHandler_BaseAppReplyWithoutKey(t *testing.T) {
	env := newHandlerEnv(t)
	env.cluster.answerBaseApp = func(uint8) bool { return true }
	env.cluster.keylessReply = true

	env.start()
	env.pumpUntil(t, env.h.Done)

	assert.Equal(t, StatusConnectionFailed, env.h.Status())
	assert.Equal(t, "Mercury::REASON_CORRUPTED_PACKET", env.h.ErrorMsg())
	assert.Nil(t, env.conn.ch, "no channel is handed to the session")
	assert.Zero(t, env.conn.skey)
	assert.Equal(t, 1, env.h.NumBaseAppAttempts())
	env.h.Close()
}

func TestHandler_Encrypted(t *testing.T) {
	env := newHandlerEnv(t)
	key := testutil.TestKey(t)
	env.cluster.priv = key
	env.conn.key = key.Public()

	bf, err := crypto.GenerateBlowfishFilter()
	require.NoError(t, err)
	env.conn.bf = bf
	env.cluster.answerBaseApp = func(uint8) bool { return true }

	env.h.Start(env.cluster.login.Address(), NewLogOnParams("alice", "secret", string(bf.Key())))
	env.pumpUntil(t, env.h.Done)

	require.Equal(t, StatusLoggedOn, env.h.Status(), env.h.ErrorMsg())
	assert.Equal(t, env.cluster.base.Address(), env.h.ReplyRecord().ServerAddr)
	assert.Equal(t, 1, env.h.NumBaseAppAttempts())
	env.h.Close()
}

func TestHandler_LoginAppSilent(t *testing.T) {
	env := newHandlerEnv(t)
	silent, err := mercury.NewNub(env.d, "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = silent.Close() })
	requests := 0
	silent.Serve(protocol.LoginLogin, mercury.InputHandlerFunc(func(wire.Address, mercury.UnpackedHeader, *wire.Reader) {
		requests++
	}))

	env.h.Start(silent.Address(), NewLogOnParams("alice", "secret", ""))
	for range 12 {
		env.clock.Advance(time.Second)
		env.step()
	}
	env.clock.Advance(10 * time.Second)
	env.pumpUntil(t, env.h.Done)

	assert.Equal(t, StatusConnectionFailed, env.h.Status())
	assert.Equal(t, "Mercury::REASON_TIMER_EXPIRED", env.h.ErrorMsg())
	env.pumpUntil(t, func() bool { return requests == 10 })
}

func TestHandler_Cancel(t *testing.T) {
	env := newHandlerEnv(t)
	env.start()
	require.Equal(t, 1, env.h.NumPending())

	env.h.Cancel()
	assert.True(t, env.h.Done())
	assert.Equal(t, StatusCancelled, env.h.Status())
	assert.Zero(t, env.h.NumPending())

	env.h.Cancel()
	assert.Equal(t, StatusCancelled, env.h.Status())
}

func TestNewFinishedHandler(t *testing.T) {
	h := NewFinishedHandler(nil, StatusDNSLookupFailed, "DNS lookup failed")
	assert.True(t, h.Done())
	assert.Equal(t, StatusDNSLookupFailed, h.Status())
	assert.Equal(t, "DNS lookup failed", h.ErrorMsg())
}
