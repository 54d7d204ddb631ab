package login

import (
	"errors"
	"log/slog"
	"time"

	"github.com/udisondev/worldlink/internal/mercury"
	"github.com/udisondev/worldlink/internal/protocol"
	"github.com/udisondev/worldlink/internal/wire"
)

// requestState is the lifecycle of a retrying request. Anything other than
// statePending is terminal.
type requestState uint8

const (
	statePending requestState = iota
	stateSucceeded
	stateFailed
	stateCancelled
)

func (s requestState) String() string {
	switch s {
	case statePending:
		return "PENDING"
	case stateSucceeded:
		return "SUCCEEDED"
	case stateFailed:
		return "FAILED"
	case stateCancelled:
		return "CANCELLED"
	default:
		return "UNKNOWN"
	}
}

// endpoint is the part of a nub a request talks through.
type endpoint interface {
	Send(addr wire.Address, b *mercury.Bundle) error
	RegisterTimer(period time.Duration, h mercury.TimerHandler, arg any) mercury.TimerID
	CancelTimer(id mercury.TimerID) bool
	CancelReplyMessageHandler(h mercury.ReplyMessageHandler, reason mercury.Reason) int
}

// requestHooks is what the concrete requests plug into retryingRequest.
type requestHooks interface {
	addRequestArgs(w *wire.Writer) error
	onSuccess(data *wire.Reader)
	onFailure(reason mercury.Reason)
	// onRetryTimer fires every retry period.
	onRetryTimer()
	afterCancel()
	// onRelease runs once, after the request is terminal and every
	// attempt has been accounted for.
	onRelease()
}

// retryingRequest sends one logical request as up to maxAttempts once-off
// datagrams and reports exactly one outcome to its parent.
type retryingRequest struct {
	parent *Handler
	ep     endpoint
	hooks  requestHooks

	addr wire.Address
	ie   mercury.InterfaceElement

	timerID mercury.TimerID
	state   requestState

	retryPeriod time.Duration
	timeout     time.Duration
	maxAttempts int

	numAttempts    int
	numOutstanding int
	released       bool
}

func (r *retryingRequest) init(parent *Handler, ep endpoint, hooks requestHooks, addr wire.Address, ie mercury.InterfaceElement, maxAttempts int) {
	r.parent = parent
	r.ep = ep
	r.hooks = hooks
	r.addr = addr
	r.ie = ie
	r.retryPeriod = parent.policy.RetryPeriod
	r.timeout = parent.policy.Timeout
	r.maxAttempts = maxAttempts
	r.timerID = ep.RegisterTimer(r.retryPeriod, r, nil)
	parent.addChild(r)
}

// HandleTimeout is the retry timer.
func (r *retryingRequest) HandleTimeout(mercury.TimerID, any) {
	r.hooks.onRetryTimer()
}

func (r *retryingRequest) send() {
	if r.state != statePending || r.numAttempts >= r.maxAttempts {
		return
	}
	r.numAttempts++

	b := mercury.NewBundle()
	w := b.StartRequest(r.ie, r, nil, r.timeout)
	if err := r.hooks.addRequestArgs(w); err != nil {
		slog.Error("failed to assemble request", "request", r.ie.Name, "error", err)
		r.fail(mercury.ReasonCorruptedPacket)
		return
	}

	r.numOutstanding++
	err := r.ep.Send(r.addr, b)
	if err == nil {
		return
	}
	var ne *mercury.NubError
	if errors.As(err, &ne) && ne.Reason == mercury.ReasonChannelLost {
		// Закрытый nub не регистрирует ответ, попытка закончилась сразу.
		r.numOutstanding--
		r.fail(ne.Reason)
		return
	}
	// Обработчик ответа уже зарегистрирован, попытка закончится таймаутом.
	slog.Warn("request send failed", "request", r.ie.Name, "addr", r.addr, "attempt", r.numAttempts, "error", err)
}

// HandleMessage implements mercury.ReplyMessageHandler.
func (r *retryingRequest) HandleMessage(_ wire.Address, _ mercury.UnpackedHeader, data *wire.Reader, _ any) {
	if r.state == statePending {
		r.state = stateSucceeded
		r.hooks.onSuccess(data)
		r.cancel()
	}
	r.numOutstanding--
	r.maybeRelease()
}

// HandleException implements mercury.ReplyMessageHandler. Every call ends
// one attempt.
func (r *retryingRequest) HandleException(exc *mercury.NubError, _ any) {
	if r.state == statePending && exc.Reason != mercury.ReasonTimerExpired {
		slog.Error("request failed", "request", r.ie.Name, "addr", r.addr, "reason", exc.Reason)
		r.fail(exc.Reason)
	}

	r.numOutstanding--

	if r.state == statePending && r.numOutstanding == 0 {
		// maxAttempts == 1 means siblings do the retrying; not an error here.
		if r.maxAttempts > 1 {
			slog.Error("final attempt has failed, aborting",
				"request", r.ie.Name, "attempts", r.maxAttempts, "reason", exc.Reason)
		}
		r.fail(exc.Reason)
	}
	r.maybeRelease()
}

func (r *retryingRequest) fail(reason mercury.Reason) {
	r.state = stateFailed
	r.hooks.onFailure(reason)
	r.cancel()
}

// cancel stops the retry loop. Safe to call repeatedly and from inside the
// request's own callbacks.
func (r *retryingRequest) cancel() {
	r.stopTimer()
	r.parent.removeChild(r)
	if r.state == statePending {
		r.state = stateCancelled
	}
	r.hooks.afterCancel()
	r.maybeRelease()
}

func (r *retryingRequest) stopTimer() {
	if r.timerID != 0 {
		r.ep.CancelTimer(r.timerID)
		r.timerID = 0
	}
}

func (r *retryingRequest) maybeRelease() {
	if r.released || r.state == statePending || r.numOutstanding > 0 {
		return
	}
	r.released = true
	r.hooks.onRelease()
}

// ---- LoginApp phase ----

// loginRequest carries the credentials to the LoginApp.
type loginRequest struct {
	retryingRequest
}

func newLoginRequest(h *Handler) *loginRequest {
	lr := &loginRequest{}
	lr.init(h, h.conn.Nub(), lr, h.loginAppAddr, protocol.LoginLogin, h.policy.MaxAttempts)
	lr.send()
	return lr
}

func (lr *loginRequest) addRequestArgs(w *wire.Writer) error {
	w.WriteUint32(protocol.LoginVersion)
	key := lr.parent.conn.PublicKey()
	w.WriteBool(key != nil)
	return lr.parent.params.AddToStream(w, FlagHasAll, key)
}

func (lr *loginRequest) onSuccess(data *wire.Reader)     { lr.parent.onLoginReply(data) }
func (lr *loginRequest) onFailure(reason mercury.Reason) { lr.parent.onFailure(reason) }
func (lr *loginRequest) onRetryTimer()                   { lr.send() }
func (lr *loginRequest) afterCancel()                    {}
func (lr *loginRequest) onRelease()                      {}

// ---- BaseApp phase ----

// baseAppLoginRequest is one attempt at reaching the BaseApp. Every attempt
// owns a private nub and channel, and instead of resending it asks the
// parent for a fresh sibling.
type baseAppLoginRequest struct {
	retryingRequest

	attempt uint8
	nub     *mercury.Nub
	channel *mercury.Channel
	// handedOff is set once a sibling has been spawned in our place.
	handedOff bool
}

func newBaseAppLoginRequest(h *Handler, attempt int) (*baseAppLoginRequest, error) {
	nub, err := h.conn.NewEndpoint()
	if err != nil {
		return nil, err
	}

	br := &baseAppLoginRequest{attempt: uint8(attempt), nub: nub}

	var opts []mercury.ChannelOption
	if f := h.conn.Filter(); f != nil {
		opts = append(opts, mercury.WithFilter(f))
	}
	if p := h.conn.BundlePrimer(); p != nil {
		opts = append(opts, mercury.WithPrimer(p))
	}
	br.channel = mercury.NewChannel(nub, h.baseAppAddr, h.reply.SessionKey, opts...)
	// Нерегулярный до createCellPlayer.
	br.channel.SetIrregular(true)

	// Ответ может прийти в одном пакете с сообщениями клиента.
	h.conn.RegisterInterfaces(nub)

	// Первая попытка идёт с основного сокета; при победе сокеты вернутся обратно.
	if attempt == 0 {
		nub.SwitchSockets(h.conn.Nub())
	}

	br.init(h, nub, br, h.baseAppAddr, protocol.BaseAppLogin, 1)
	br.send()
	return br, nil
}

func (br *baseAppLoginRequest) addRequestArgs(w *wire.Writer) error {
	w.WriteUint32(br.parent.reply.SessionKey)
	w.WriteUint8(br.attempt)
	return nil
}

// onRetryTimer spawns exactly one sibling.
func (br *baseAppLoginRequest) onRetryTimer() {
	br.stopTimer()
	if br.state == statePending {
		br.handedOff = true
		br.parent.sendBaseAppLogin()
	}
}

func (br *baseAppLoginRequest) onSuccess(data *wire.Reader) {
	key, err := data.ReadUint32()
	if err != nil {
		// Без ключа канал остался бы без аутентификации.
		slog.Error("baseAppLogin reply without session key", "addr", br.addr, "error", err)
		br.fail(mercury.ReasonCorruptedPacket)
		return
	}
	br.parent.onBaseAppReply(br, key)
	// Канал теперь принадлежит соединению.
	br.channel = nil
}

func (br *baseAppLoginRequest) onFailure(reason mercury.Reason) {
	// A timed out attempt that already has a successor stays quiet: the
	// sibling chain and the attempt ceiling decide the outcome.
	if br.handedOff && reason == mercury.ReasonTimerExpired {
		return
	}
	br.parent.onFailure(reason)
}

// afterCancel drops the replies still pending on the private nub, so that
// nothing fires on it after the handler is gone.
func (br *baseAppLoginRequest) afterCancel() {
	br.nub.CancelReplyMessageHandler(br, mercury.ReasonChannelLost)
}

func (br *baseAppLoginRequest) onRelease() {
	if br.channel != nil {
		br.channel.Destroy()
		br.channel = nil
	}
	// Мы внутри обработки этого nub, закрыть его здесь нельзя.
	br.parent.condemn(br.nub)
}
