package engine

import (
	"log/slog"
	"sync"
)

// ShutdownNotifier is a single-shot broadcast. Listeners added before Fire
// are invoked once and then dropped; after Fire, Add refuses new listeners.
type ShutdownNotifier struct {
	logger *slog.Logger

	mu        sync.Mutex
	listeners []func()
	fired     bool
}

func newShutdownNotifier(logger *slog.Logger) *ShutdownNotifier {
	return &ShutdownNotifier{logger: logger}
}

// Add registers fn. It returns false if the broadcast already happened.
func (n *ShutdownNotifier) Add(fn func()) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fired {
		return false
	}
	n.listeners = append(n.listeners, fn)
	return true
}

// Fired reports whether the broadcast happened.
func (n *ShutdownNotifier) Fired() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.fired
}

// Fire invokes and clears the listeners. Only the first call does anything;
// it reports whether this call fired. A panicking listener is logged and
// the rest still run.
func (n *ShutdownNotifier) Fire() bool {
	n.mu.Lock()
	if n.fired {
		n.mu.Unlock()
		return false
	}
	n.fired = true
	listeners := n.listeners
	n.listeners = nil
	n.mu.Unlock()

	shutdownBroadcasts.Inc()
	for _, fn := range listeners {
		n.call(fn)
	}
	return true
}

func (n *ShutdownNotifier) call(fn func()) {
	defer func() {
		if p := recover(); p != nil {
			n.logger.Error("shutdown listener panicked", "panic", p)
		}
	}()
	fn()
}
