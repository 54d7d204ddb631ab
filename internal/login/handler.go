package login

import (
	"log/slog"
	"slices"
	"time"

	"github.com/udisondev/worldlink/internal/crypto"
	"github.com/udisondev/worldlink/internal/mercury"
	"github.com/udisondev/worldlink/internal/wire"
)

// Connection is the session the handshake works for. The winning BaseApp
// attempt hands its channel and session key over through it.
type Connection interface {
	// Nub is the main endpoint.
	Nub() *mercury.Nub
	// NewEndpoint opens a private nub for one BaseApp attempt.
	NewEndpoint() (*mercury.Nub, error)
	// Filter returns nil when the session is not encrypted.
	Filter() mercury.Filter
	PublicKey() *crypto.PublicKey
	RegisterInterfaces(n *mercury.Nub)
	BundlePrimer() mercury.BundlePrimer
	SetChannel(ch *mercury.Channel)
	SetSessionKey(key uint32)
}

// Policy holds the retry timing of the handshake.
type Policy struct {
	RetryPeriod time.Duration
	Timeout     time.Duration
	MaxAttempts int
	// MaxBaseAppAttempts caps the number of BaseApp attempts.
	MaxBaseAppAttempts int
}

func DefaultPolicy() Policy {
	return Policy{
		RetryPeriod:        time.Second,
		Timeout:            8 * time.Second,
		MaxAttempts:        10,
		MaxBaseAppAttempts: 10,
	}
}

// Handler runs the two-phase log-on: a LoginApp request, then a race of
// BaseApp attempts from separate sockets. All methods must be called on the
// dispatcher goroutine.
type Handler struct {
	conn   Connection
	policy Policy

	loginAppAddr wire.Address
	baseAppAddr  wire.Address
	params       *LogOnParams

	done     bool
	status   Status
	errorMsg string
	reply    ReplyRecord

	children  []*retryingRequest
	condemned []*mercury.Nub

	numBaseAppLoginAttempts int
}

func NewHandler(conn Connection, policy Policy) *Handler {
	return &Handler{conn: conn, policy: policy}
}

// NewFinishedHandler returns a handler that is already done with status,
// for attempts that never reach the network.
func NewFinishedHandler(conn Connection, status Status, msg string) *Handler {
	return &Handler{conn: conn, done: true, status: status, errorMsg: msg}
}

// Start sends the LoginApp request.
func (h *Handler) Start(loginAppAddr wire.Address, params *LogOnParams) {
	h.loginAppAddr = loginAppAddr
	h.params = params
	slog.Debug("sending login request", "loginapp", loginAppAddr, "username", params.Username)
	newLoginRequest(h)
}

func (h *Handler) Done() bool                 { return h.done }
func (h *Handler) Status() Status             { return h.status }
func (h *Handler) ErrorMsg() string           { return h.errorMsg }
func (h *Handler) ReplyRecord() ReplyRecord   { return h.reply }
func (h *Handler) LoginAppAddr() wire.Address { return h.loginAppAddr }
func (h *Handler) BaseAppAddr() wire.Address  { return h.baseAppAddr }

// NumBaseAppAttempts reports how many BaseApp attempts have been spawned.
func (h *Handler) NumBaseAppAttempts() int { return h.numBaseAppLoginAttempts }

// NumPending reports live child requests.
func (h *Handler) NumPending() int { return len(h.children) }

// Condemned returns the nubs of finished BaseApp attempts awaiting Close.
func (h *Handler) Condemned() []*mercury.Nub { return slices.Clone(h.condemned) }

// Cancel aborts an unfinished handshake.
func (h *Handler) Cancel() {
	if h.done {
		return
	}
	h.status = StatusCancelled
	h.errorMsg = "Login cancelled"
	h.finish()
}

// Close releases the condemned nubs. Call it outside of any nub callback.
func (h *Handler) Close() {
	for _, n := range h.condemned {
		if err := n.Close(); err != nil {
			slog.Debug("closing condemned nub", "error", err)
		}
	}
	h.condemned = nil
}

func (h *Handler) finish() {
	// cancel() убирает запрос из children, поэтому итерируемся по копии.
	for _, r := range slices.Clone(h.children) {
		r.cancel()
	}
	h.conn.Nub().Dispatcher().BreakProcessing()
	h.done = true
}

func (h *Handler) onLoginReply(data *wire.Reader) {
	st, err := data.ReadUint8()
	if err != nil {
		slog.Error("login reply without status", "error", err)
		h.status = StatusConnectionFailed
		h.errorMsg = msgCorrupted
		h.finish()
		return
	}
	h.status = Status(st)

	if h.status != StatusLoggedOn {
		msg, err := data.ReadString()
		if err != nil || msg == "" {
			msg = msgUnelaborated
			if h.status == StatusCustomDefinedError {
				msg = msgUnspecified
			}
		}
		h.errorMsg = msg
		slog.Info("login rejected", "status", h.status, "message", msg)
		h.finish()
		return
	}

	// Запись ответа зашифрована ключом сессии.
	rec := data
	if f := h.conn.Filter(); f != nil {
		plain, err := f.Decrypt(data.Rest())
		if err != nil {
			h.replyCorrupted(data, err)
			return
		}
		rec = wire.NewReader(plain)
	}
	if err := h.reply.Read(rec); err != nil {
		h.replyCorrupted(rec, err)
		return
	}

	h.baseAppAddr = h.reply.ServerAddr
	h.errorMsg = ""
	slog.Debug("login accepted", "baseapp", h.baseAppAddr)
	h.sendBaseAppLogin()
}

func (h *Handler) replyCorrupted(data *wire.Reader, err error) {
	slog.Error("got login reply of unexpected size", "remaining", data.Remaining(), "error", err)
	h.status = StatusConnectionFailed
	h.errorMsg = msgCorrupted
	h.finish()
}

// sendBaseAppLogin spawns the next BaseApp attempt, or gives up at the
// ceiling.
func (h *Handler) sendBaseAppLogin() {
	if h.done {
		return
	}
	if h.numBaseAppLoginAttempts >= h.policy.MaxBaseAppAttempts {
		slog.Error("no reply from BaseApp", "baseapp", h.baseAppAddr, "attempts", h.numBaseAppLoginAttempts)
		h.status = StatusConnectionFailed
		h.errorMsg = msgBaseAppFailed
		h.finish()
		return
	}

	attempt := h.numBaseAppLoginAttempts
	h.numBaseAppLoginAttempts++
	if _, err := newBaseAppLoginRequest(h, attempt); err != nil {
		slog.Error("failed to open BaseApp endpoint", "attempt", attempt, "error", err)
		h.onFailure(mercury.ReasonOf(err))
	}
}

func (h *Handler) onBaseAppReply(winner *baseAppLoginRequest, sessionKey uint32) {
	main := h.conn.Nub()

	// Победивший сокет становится основным.
	winner.nub.SwitchSockets(main)
	winner.channel.SwitchNub(main)
	h.conn.SetChannel(winner.channel)

	h.reply.SessionKey = sessionKey
	h.conn.SetSessionKey(sessionKey)

	slog.Info("logged on", "baseapp", h.baseAppAddr, "attempt", winner.attempt)
	h.finish()
}

func (h *Handler) onFailure(reason mercury.Reason) {
	if h.done {
		return
	}
	h.status = StatusConnectionFailed
	h.errorMsg = "Mercury::" + reason.String()
	h.finish()
}

func (h *Handler) addChild(r *retryingRequest) {
	h.children = append(h.children, r)
}

func (h *Handler) removeChild(r *retryingRequest) {
	if i := slices.Index(h.children, r); i >= 0 {
		h.children = slices.Delete(h.children, i, i+1)
	}
}

func (h *Handler) condemn(n *mercury.Nub) {
	h.condemned = append(h.condemned, n)
}
