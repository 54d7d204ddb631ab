package mercury

import (
	"container/heap"
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

const (
	inboundQueueSize = 1024
	defaultMaxWait   = 50 * time.Millisecond
)

// ErrDispatcherClosed is returned by ProcessUntilBreak after Close.
var ErrDispatcherClosed = errors.New("dispatcher closed")

type datagram struct {
	sock *socket
	src  net.Addr
	data []byte
	err  error
}

// Dispatcher is the single-goroutine event loop shared by a set of nubs.
// Every callback (message handlers, reply handlers, timers, deferred work)
// runs on the goroutine that calls ProcessPendingEvents / ProcessUntilBreak.
// Socket readers run on their own goroutines and only feed the inbound queue.
type Dispatcher struct {
	clock   clockwork.Clock
	maxWait time.Duration

	timers    timerQueue
	byID      map[TimerID]*timer
	nextTimer TimerID

	inbound  chan datagram
	tasks    chan func()
	backlog  []datagram
	deferred []func()
	raised   []error
	broken   bool

	closeOnce sync.Once
	closed    chan struct{}
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithClock replaces the real clock (tests pass a clockwork.FakeClock).
func WithClock(c clockwork.Clock) DispatcherOption {
	return func(d *Dispatcher) {
		d.clock = c
	}
}

// WithMaxWait bounds how long ProcessUntilBreak sleeps between polls.
func WithMaxWait(w time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		d.maxWait = w
	}
}

// NewDispatcher creates an idle dispatcher.
func NewDispatcher(opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		clock:   clockwork.NewRealClock(),
		maxWait: defaultMaxWait,
		byID:    make(map[TimerID]*timer),
		inbound: make(chan datagram, inboundQueueSize),
		tasks:   make(chan func(), 64),
		closed:  make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

// Clock returns the clock driving timers.
func (d *Dispatcher) Clock() clockwork.Clock {
	return d.clock
}

// Now is shorthand for Clock().Now().
func (d *Dispatcher) Now() time.Time {
	return d.clock.Now()
}

// RegisterTimer arms a repeating timer. period must be positive.
func (d *Dispatcher) RegisterTimer(period time.Duration, h TimerHandler, arg any) TimerID {
	if period <= 0 {
		panic("mercury: RegisterTimer with non-positive period")
	}
	return d.addTimer(period, period, h, arg)
}

// RegisterCallback arms a one-shot timer.
func (d *Dispatcher) RegisterCallback(after time.Duration, h TimerHandler, arg any) TimerID {
	return d.addTimer(after, 0, h, arg)
}

func (d *Dispatcher) addTimer(after, period time.Duration, h TimerHandler, arg any) TimerID {
	d.nextTimer++
	t := &timer{
		id:       d.nextTimer,
		deadline: d.clock.Now().Add(after),
		period:   period,
		handler:  h,
		arg:      arg,
	}
	heap.Push(&d.timers, t)
	d.byID[t.id] = t
	return t.id
}

// CancelTimer disarms a timer. Safe to call from inside its own handler.
func (d *Dispatcher) CancelTimer(id TimerID) bool {
	t, ok := d.byID[id]
	if !ok {
		return false
	}
	delete(d.byID, id)
	if t.index >= 0 {
		heap.Remove(&d.timers, t.index)
	}
	return true
}

// NumTimers reports armed timers.
func (d *Dispatcher) NumTimers() int {
	return len(d.byID)
}

func (d *Dispatcher) fireTimers() {
	now := d.clock.Now()
	for len(d.timers) > 0 && !d.timers[0].deadline.After(now) {
		t := d.timers[0]
		if t.period > 0 {
			next := t.deadline.Add(t.period)
			if !next.After(now) {
				next = now.Add(t.period)
			}
			t.deadline = next
			heap.Fix(&d.timers, 0)
		} else {
			heap.Pop(&d.timers)
			delete(d.byID, t.id)
		}
		t.handler.HandleTimeout(t.id, t.arg)
	}
}

// Raise queues an error to be returned by the current or next
// ProcessPendingEvents call. Timer handlers use it to surface exceptions.
func (d *Dispatcher) Raise(err error) {
	d.raised = append(d.raised, err)
}

func (d *Dispatcher) takeRaised() error {
	if len(d.raised) == 0 {
		return nil
	}
	err := d.raised[0]
	d.raised = d.raised[1:]
	return err
}

// Defer schedules f to run at the end of the current event iteration.
func (d *Dispatcher) Defer(f func()) {
	d.deferred = append(d.deferred, f)
}

func (d *Dispatcher) runDeferred() {
	for len(d.deferred) > 0 {
		fs := d.deferred
		d.deferred = nil
		for _, f := range fs {
			f()
		}
	}
}

// Post hands f to the dispatcher goroutine. Safe from any goroutine.
func (d *Dispatcher) Post(f func()) {
	select {
	case d.tasks <- f:
	case <-d.closed:
	}
}

func (d *Dispatcher) runTasks() {
	for {
		select {
		case f := <-d.tasks:
			f()
		default:
			return
		}
	}
}

func (d *Dispatcher) nextDatagram() (datagram, bool) {
	if len(d.backlog) > 0 {
		dg := d.backlog[0]
		d.backlog = d.backlog[1:]
		return dg, true
	}
	select {
	case dg := <-d.inbound:
		return dg, true
	default:
		return datagram{}, false
	}
}

// ProcessPendingEvents runs one iteration: posted tasks, due timers and at
// most one inbound datagram. It reports whether a datagram was handled and
// the first exception raised during the iteration.
func (d *Dispatcher) ProcessPendingEvents() (bool, error) {
	defer d.runDeferred()

	d.runTasks()
	d.fireTimers()
	if err := d.takeRaised(); err != nil {
		return false, err
	}

	dg, ok := d.nextDatagram()
	if !ok {
		return false, nil
	}
	err := d.deliver(dg)
	if err == nil {
		err = d.takeRaised()
	}
	return true, err
}

func (d *Dispatcher) deliver(dg datagram) error {
	n := dg.sock.owner
	if n == nil {
		return nil
	}
	if dg.err != nil {
		return &NubError{Reason: ReasonGeneralNetwork, Addr: n.Address(), Err: dg.err}
	}
	return n.handlePacket(dg.src, dg.data)
}

// BreakProcessing makes the running ProcessUntilBreak return after the
// current iteration.
func (d *Dispatcher) BreakProcessing() {
	d.broken = true
}

// ProcessUntilBreak pumps events until BreakProcessing is called, ctx ends,
// or an exception is raised (returned to the caller, who may resume).
func (d *Dispatcher) ProcessUntilBreak(ctx context.Context) error {
	d.broken = false
	for {
		got, err := d.ProcessPendingEvents()
		if err != nil {
			return err
		}
		if d.broken {
			return nil
		}
		if got {
			continue
		}
		if err := d.wait(ctx); err != nil {
			return err
		}
	}
}

func (d *Dispatcher) wait(ctx context.Context) error {
	timeout := d.maxWait
	if len(d.timers) > 0 {
		if until := d.timers[0].deadline.Sub(d.clock.Now()); until < timeout {
			timeout = max(until, 0)
		}
	}
	t := d.clock.NewTimer(timeout)
	defer t.Stop()

	select {
	case dg := <-d.inbound:
		d.backlog = append(d.backlog, dg)
	case f := <-d.tasks:
		f()
	case <-t.Chan():
	case <-ctx.Done():
		return ctx.Err()
	case <-d.closed:
		return ErrDispatcherClosed
	}
	return nil
}

// Close stops Post from blocking and makes ProcessUntilBreak return.
// Nubs must be closed separately.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		close(d.closed)
	})
}

type timer struct {
	id       TimerID
	deadline time.Time
	period   time.Duration
	handler  TimerHandler
	arg      any
	index    int
}

// timerQueue is a min-heap by deadline, ties broken by registration order.
type timerQueue []*timer

func (q timerQueue) Len() int { return len(q) }

func (q timerQueue) Less(i, j int) bool {
	if q[i].deadline.Equal(q[j].deadline) {
		return q[i].id < q[j].id
	}
	return q[i].deadline.Before(q[j].deadline)
}

func (q timerQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *timerQueue) Push(x any) {
	t := x.(*timer)
	t.index = len(*q)
	*q = append(*q, t)
}

func (q *timerQueue) Pop() any {
	old := *q
	t := old[len(old)-1]
	old[len(old)-1] = nil
	t.index = -1
	*q = old[:len(old)-1]
	return t
}
