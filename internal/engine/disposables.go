package engine

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.uber.org/multierr"

	"github.com/seantiz/enginehost/internal/model"
)

// Handle identifies one host-owned resource that depends on the engine, such
// as a browser instance, together with the action that releases it.
type Handle struct {
	id        string
	label     string
	createdAt time.Time
	release   func() error
	deferred  bool

	once sync.Once
	err  error
}

// NewHandle creates a handle. release may be nil for resources that only
// need tracking.
func NewHandle(label string, release func() error) *Handle {
	return &Handle{
		id:        model.NewID(),
		label:     label,
		createdAt: time.Now().UTC(),
		release:   release,
	}
}

// NewDeferredHandle creates a handle whose release only starts closing the
// resource. The handle stays registered until the resource calls Unregister,
// which is what WaitForDrain waits for.
func NewDeferredHandle(label string, release func() error) *Handle {
	h := NewHandle(label, release)
	h.deferred = true
	return h
}

func (h *Handle) ID() string    { return h.id }
func (h *Handle) Label() string { return h.label }

// Release runs the release action once. Later calls return the first result.
// A panic in the action is returned as an error.
func (h *Handle) Release() error {
	h.once.Do(func() {
		if h.release == nil {
			return
		}
		defer func() {
			if p := recover(); p != nil {
				h.err = fmt.Errorf("release %s (%s) panicked: %v", h.label, h.id, p)
			}
		}()
		if err := h.release(); err != nil {
			h.err = fmt.Errorf("release %s (%s): %w", h.label, h.id, err)
		}
	})
	return h.err
}

// HandleInfo is a read-only view of a registered handle.
type HandleInfo struct {
	ID        string    `json:"id"`
	Label     string    `json:"label"`
	CreatedAt time.Time `json:"created_at"`
}

// DisposableRegistry tracks engine-dependent resources that must be released
// before the engine shuts down. It observes their lifetime but does not own
// it. It is safe for concurrent use.
type DisposableRegistry struct {
	state  func() model.EngineState
	logger *slog.Logger

	mu      sync.Mutex
	handles map[string]*Handle
	closed  bool
}

func newDisposableRegistry(state func() model.EngineState, logger *slog.Logger) *DisposableRegistry {
	return &DisposableRegistry{
		state:   state,
		logger:  logger,
		handles: make(map[string]*Handle),
	}
}

// Register starts tracking h. It fails with ErrInvalidLifecycleState once
// shutdown has begun.
func (r *DisposableRegistry) Register(h *Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if st := r.state(); r.closed || st >= model.StateShuttingDown {
		return &StateError{Op: "register disposable", State: st}
	}
	r.handles[h.id] = h
	disposablesRegistered.Set(float64(len(r.handles)))
	return nil
}

// Unregister stops tracking h. It reports whether h was registered.
func (r *DisposableRegistry) Unregister(h *Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.handles[h.id]; !ok {
		return false
	}
	delete(r.handles, h.id)
	disposablesRegistered.Set(float64(len(r.handles)))
	return true
}

// Dispose releases h and stops tracking it.
func (r *DisposableRegistry) Dispose(h *Handle) error {
	err := h.Release()
	r.Unregister(h)
	return err
}

// Len returns the number of registered handles.
func (r *DisposableRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}

// Snapshot returns the registered handles ordered by creation time.
func (r *DisposableRegistry) Snapshot() []HandleInfo {
	handles := r.snapshot()
	out := make([]HandleInfo, len(handles))
	for i, h := range handles {
		out[i] = HandleInfo{ID: h.id, Label: h.label, CreatedAt: h.createdAt}
	}
	return out
}

func (r *DisposableRegistry) snapshot() []*Handle {
	r.mu.Lock()
	handles := make([]*Handle, 0, len(r.handles))
	for _, h := range r.handles {
		handles = append(handles, h)
	}
	r.mu.Unlock()

	sort.Slice(handles, func(i, j int) bool {
		if handles[i].createdAt.Equal(handles[j].createdAt) {
			return handles[i].id < handles[j].id
		}
		return handles[i].createdAt.Before(handles[j].createdAt)
	})
	return handles
}

// DisposeAll releases every handle registered at the time of the call, on
// the calling goroutine, and unregisters all but deferred handles. Handles
// that unregister themselves while being released are tolerated. A failing
// release does not stop the others; all failures are returned together.
func (r *DisposableRegistry) DisposeAll() error {
	var errs error
	for _, h := range r.snapshot() {
		err := h.Release()
		if !h.deferred {
			r.Unregister(h)
		}
		if err != nil {
			disposalFailures.Inc()
			r.logger.Warn("disposable release failed", "id", h.id, "label", h.label, "error", err)
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

// close rejects further registrations.
func (r *DisposableRegistry) close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
}
