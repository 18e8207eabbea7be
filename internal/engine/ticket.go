package engine

import (
	"context"
	"errors"
	"sync"
)

// scheduler hands a continuation to the thread it should run on. It reports
// false when the continuation was not accepted.
type scheduler func(fn func()) bool

// Ticket is a settle-once completion for one initialization attempt.
type Ticket struct {
	schedule scheduler

	mu      sync.Mutex
	done    chan struct{}
	settled bool
	err     error
	conts   []func(error)
}

func newTicket(schedule scheduler) *Ticket {
	return &Ticket{
		schedule: schedule,
		done:     make(chan struct{}),
	}
}

// settle resolves the ticket. A nil err means success. Queued continuations
// are handed to the scheduler, or run on the calling goroutine if it
// refuses them.
func (t *Ticket) settle(err error) error {
	return t.settleWith(err, true)
}

// settleWith resolves the ticket, running continuations on the calling
// goroutine unless scheduled is set.
func (t *Ticket) settleWith(err error, scheduled bool) error {
	t.mu.Lock()
	if t.settled {
		t.mu.Unlock()
		return ErrAlreadyResolved
	}
	t.settled = true
	t.err = err
	conts := t.conts
	t.conts = nil
	close(t.done)
	t.mu.Unlock()

	for _, fn := range conts {
		t.run(fn, err, scheduled)
	}
	return nil
}

func (t *Ticket) run(fn func(error), err error, scheduled bool) {
	call := func() { fn(err) }
	if !scheduled || t.schedule == nil || !t.schedule(call) {
		call()
	}
}

// state returns whether the ticket is settled and with what.
func (t *Ticket) state() (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.settled, t.err
}

// Future observes a Ticket. Every Future of the same ticket sees the same result.
type Future struct {
	t *Ticket
}

// failedFuture returns a Future already settled with err.
func failedFuture(err error) *Future {
	t := newTicket(nil)
	_ = t.settle(err)
	return &Future{t: t}
}

// Done is closed once the result is known.
func (f *Future) Done() <-chan struct{} {
	return f.t.done
}

// Settled reports whether the result is known.
func (f *Future) Settled() bool {
	settled, _ := f.t.state()
	return settled
}

// Err returns the result: nil for a ready engine, the failure otherwise.
// Before settlement it returns ErrNotSettled.
func (f *Future) Err() error {
	settled, err := f.t.state()
	if !settled {
		return ErrNotSettled
	}
	return err
}

// Wait blocks until the result is known or ctx ends.
func (f *Future) Wait(ctx context.Context) error {
	select {
	case <-f.t.done:
		return f.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Then registers fn to receive the result. Continuations registered before
// settlement run on the engine UI thread. Registering after settlement runs
// fn immediately on the caller.
func (f *Future) Then(fn func(err error)) {
	t := f.t
	t.mu.Lock()
	if !t.settled {
		t.conts = append(t.conts, fn)
		t.mu.Unlock()
		return
	}
	err := t.err
	t.mu.Unlock()
	fn(err)
}

// Bridge turns the engine's one-shot context-ready callback into a Future.
type Bridge struct {
	schedule scheduler

	mu      sync.Mutex
	current *Ticket
}

// NewBridge creates a bridge whose continuations are handed to schedule.
// Futures taken before the first initialization attempt observe it.
func NewBridge(schedule scheduler) *Bridge {
	return &Bridge{
		schedule: schedule,
		current:  newTicket(schedule),
	}
}

// Future returns a Future for the current initialization attempt.
func (b *Bridge) Future() *Future {
	b.mu.Lock()
	defer b.mu.Unlock()
	return &Future{t: b.current}
}

// arm prepares the ticket for a new attempt. An unsettled ticket is kept so
// early waiters are served; one settled with a failure is replaced.
func (b *Bridge) arm() *Ticket {
	b.mu.Lock()
	defer b.mu.Unlock()
	if settled, err := b.current.state(); settled && err != nil {
		b.current = newTicket(b.schedule)
	}
	return b.current
}

func (b *Bridge) ticket() *Ticket {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

// OnEngineReady resolves the current ticket with success.
func (b *Bridge) OnEngineReady() error {
	return b.ticket().settle(nil)
}

// OnInitializeFailed resolves the current ticket with err.
func (b *Bridge) OnInitializeFailed(err error) error {
	if err == nil {
		err = ErrInitialization
	}
	return b.ticket().settle(err)
}

// cancelPending fails the current ticket if it is still open, running its
// continuations on the caller since engine threads are about to stop. It
// reports whether it settled anything.
func (b *Bridge) cancelPending(err error) bool {
	return !errors.Is(b.ticket().settleWith(err, false), ErrAlreadyResolved)
}
