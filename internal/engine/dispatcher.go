package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/seantiz/enginehost/internal/model"
	"github.com/seantiz/enginehost/internal/native"
)

// ThreadQuery answers whether the caller is on a given logical thread.
// native.Engine satisfies it; tests substitute their own.
type ThreadQuery interface {
	CurrentlyOn(thread model.ThreadID) bool
}

// Dispatcher posts tasks onto engine threads. Posting never blocks and
// reports rejection through its return value.
type Dispatcher struct {
	engine  native.Engine
	threads ThreadQuery
	state   func() model.EngineState
	logger  *slog.Logger
}

func newDispatcher(e native.Engine, threads ThreadQuery, state func() model.EngineState, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		engine:  e,
		threads: threads,
		state:   state,
		logger:  logger,
	}
}

// accepting reports whether engine threads take work in state s.
func accepting(s model.EngineState) bool {
	switch s {
	case model.StateInitializing, model.StateInitialized, model.StateShuttingDown:
		return true
	default:
		return false
	}
}

// Post enqueues fn on thread. It returns true iff the task was accepted,
// which means enqueued, not executed.
func (d *Dispatcher) Post(thread model.ThreadID, fn func()) bool {
	return d.PostDelayed(thread, fn, 0)
}

// PostDelayed enqueues fn on thread to run no earlier than delay from now.
// Tasks posted to one thread from one goroutine run in post order when their
// delays are equal.
func (d *Dispatcher) PostDelayed(thread model.ThreadID, fn func(), delay time.Duration) bool {
	ok := d.post(thread, fn, delay)
	if thread.EngineOwned() {
		result := resultRejected
		if ok {
			result = resultAccepted
		}
		dispatchTotal.WithLabelValues(thread.String(), result).Inc()
	}
	return ok
}

func (d *Dispatcher) post(thread model.ThreadID, fn func(), delay time.Duration) bool {
	if fn == nil || !thread.EngineOwned() {
		return false
	}
	if st := d.state(); !accepting(st) {
		d.logger.Debug("post rejected", "thread", thread.String(), "state", st.String())
		return false
	}
	if delay < 0 {
		delay = 0
	}
	return d.engine.PostTask(thread, fn, delay)
}

// Invoke runs fn on thread and waits for it. When the caller is already on
// thread, fn runs inline. A refused post returns an error wrapping
// ErrDispatchRejected.
func (d *Dispatcher) Invoke(ctx context.Context, thread model.ThreadID, fn func() error) error {
	if d.threads.CurrentlyOn(thread) {
		return fn()
	}

	result := make(chan error, 1)
	if !d.Post(thread, func() { result <- fn() }) {
		return fmt.Errorf("%w: %s thread not accepting work in state %s", ErrDispatchRejected, thread, d.state())
	}

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
