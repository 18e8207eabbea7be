package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"

	"github.com/seantiz/enginehost/internal/model"
)

// DrainResult describes one WaitForDrain pass.
type DrainResult struct {
	// Outstanding holds the handles registered when the wait started.
	Outstanding []HandleInfo
	// Remaining is the number of handles still registered when it ended.
	Remaining int
	Elapsed   time.Duration
	TimedOut  bool
}

// Err returns an error wrapping ErrDrainTimeout if the wait hit its deadline.
func (d DrainResult) Err() error {
	if !d.TimedOut {
		return nil
	}
	return fmt.Errorf("%w after %s with %d disposables outstanding", ErrDrainTimeout, d.Elapsed.Round(time.Millisecond), d.Remaining)
}

// ShutdownCoordinator runs the three shutdown steps. The safe order is
// PreShutdown, WaitForDrain, CommitShutdown. CommitShutdown does not run
// the other two; skipping them leaves releasing dependents to the caller.
type ShutdownCoordinator struct {
	r *Runtime

	mu      sync.Mutex
	session *model.ShutdownSession

	committing atomic.Bool
	done       chan struct{}
}

func newShutdownCoordinator(r *Runtime) *ShutdownCoordinator {
	return &ShutdownCoordinator{
		r:    r,
		done: make(chan struct{}),
	}
}

// PreShutdown releases every registered disposable. It may be called any
// number of times and does nothing once the engine is shut down. Release
// failures are returned together but never stop the remaining releases.
func (c *ShutdownCoordinator) PreShutdown() error {
	if c.r.State() == model.StateShutdown {
		return nil
	}

	err := c.r.disposables.DisposeAll()
	c.update(func(s *model.ShutdownSession) {
		s.PreShutdownRan = true
		s.DisposeErrors += len(multierr.Errors(err))
	})
	return err
}

// WaitForDrain blocks until no disposables are registered or timeout
// elapses, polling at the runtime's drain poll interval. A timeout is logged
// and reported in the result; it is never fatal.
func (c *ShutdownCoordinator) WaitForDrain(timeout time.Duration) DrainResult {
	reg := c.r.disposables
	start := time.Now()
	res := DrainResult{Outstanding: reg.Snapshot()}

	if len(res.Outstanding) > 0 && timeout > 0 {
		deadline := time.NewTimer(timeout)
		defer deadline.Stop()
		tick := time.NewTicker(c.r.pollInterval)
		defer tick.Stop()

	poll:
		for reg.Len() > 0 {
			select {
			case <-tick.C:
				c.pump()
			case <-deadline.C:
				break poll
			}
		}
	}

	res.Remaining = reg.Len()
	res.Elapsed = time.Since(start)
	res.TimedOut = res.Remaining > 0
	drainDuration.Observe(res.Elapsed.Seconds())

	if res.TimedOut {
		drainTimeouts.Inc()
		c.r.logger.Warn("drain timed out, continuing shutdown",
			"timeout", timeout.String(),
			"outstanding", res.Remaining,
		)
	}

	ids := make([]string, len(res.Outstanding))
	for i, h := range res.Outstanding {
		ids[i] = h.ID
	}
	c.update(func(s *model.ShutdownSession) {
		s.Outstanding = ids
		s.DrainWaited = true
		s.DrainTimedOut = res.TimedOut
		s.DrainMS = int(res.Elapsed.Milliseconds())
	})
	return res
}

// pump gives a single-threaded message loop a chance to deliver the
// releases being waited for.
func (c *ShutdownCoordinator) pump() {
	if c.r.settings().MultiThreadedMessageLoop || !c.r.threads.CurrentlyOn(model.ThreadMain) {
		return
	}
	c.r.native.DoMessageLoopWork()
}

// CommitShutdown performs the terminal transition: it broadcasts shutdown if
// that has not happened yet, shuts the native engine down and moves to
// Shutdown. It must be called on the main thread. It does nothing before
// initialization or after a previous commit, and waits when another
// goroutine is already shutting the engine down.
func (c *ShutdownCoordinator) CommitShutdown() error {
	if err := c.r.requireMain("CommitShutdown"); err != nil {
		return err
	}
	c.commit(false, "commit shutdown")
	return nil
}

func (c *ShutdownCoordinator) commit(withoutChecks bool, reason string) {
	r := c.r
	switch r.State() {
	case model.StateUninitialized, model.StateShutdown:
		return
	case model.StateInitializing, model.StateInitialized:
		if !r.beginShutdown(reason) {
			r.awaitShutdown()
			return
		}
	}

	if !r.inTeardown() {
		r.awaitShutdown()
		return
	}
	if !c.committing.CompareAndSwap(false, true) {
		return
	}
	defer close(c.done)

	c.update(func(s *model.ShutdownSession) { s.WithoutChecks = withoutChecks })
	r.shutdownNative(withoutChecks)
	r.transition(model.StateShuttingDown, model.StateShutdown, reason)
	r.events.Close()

	now := time.Now().UTC()
	c.update(func(s *model.ShutdownSession) { s.FinishedAt = &now })

	sess, _ := c.Session()
	if r.journal != nil {
		if err := r.journal.SaveShutdownSession(context.Background(), &sess); err != nil {
			r.logger.Error("failed to save shutdown session", "session_id", sess.ID, "error", err)
		}
	}
	r.logger.Info("engine shut down",
		"session_id", sess.ID,
		"without_checks", sess.WithoutChecks,
		"dispose_errors", sess.DisposeErrors,
		"drain_timed_out", sess.DrainTimedOut,
	)
}

// wait blocks until a commit in progress finishes.
func (c *ShutdownCoordinator) wait() {
	<-c.done
}

// Session returns a copy of the current shutdown session, if one started.
func (c *ShutdownCoordinator) Session() (model.ShutdownSession, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return model.ShutdownSession{}, false
	}
	s := *c.session
	s.Outstanding = append([]string(nil), c.session.Outstanding...)
	return s, true
}

// update applies fn to the session, starting one if needed.
func (c *ShutdownCoordinator) update(fn func(*model.ShutdownSession)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		c.session = &model.ShutdownSession{
			ID:        model.NewID(),
			StartedAt: time.Now().UTC(),
		}
	}
	fn(c.session)
}
