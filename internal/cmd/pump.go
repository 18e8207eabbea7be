package cmd

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/seantiz/enginehost/internal/engine"
)

// hostHandler receives the engine's browser-process callbacks.
type hostHandler struct {
	logger *slog.Logger
	pump   *pumpScheduler
}

func (h *hostHandler) OnContextInitialized() {
	h.logger.Info("browser context ready")
}

func (h *hostHandler) OnScheduleMessagePumpWork(delay time.Duration) {
	h.pump.schedule(delay)
}

// pumpScheduler drives DoMessageLoopWork on the main thread when the engine
// runs with an external message pump. It keeps every requested due time so
// that delayed work is not lost when an earlier request fires first.
type pumpScheduler struct {
	mu   sync.Mutex
	due  []time.Time
	wake chan struct{}
}

func newPumpScheduler() *pumpScheduler {
	return &pumpScheduler{wake: make(chan struct{}, 1)}
}

func (p *pumpScheduler) schedule(delay time.Duration) {
	at := time.Now().Add(max(delay, 0))
	p.mu.Lock()
	i, _ := slices.BinarySearchFunc(p.due, at, func(a, b time.Time) int { return a.Compare(b) })
	p.due = slices.Insert(p.due, i, at)
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// next returns the delay until the earliest requested pump.
func (p *pumpScheduler) next() (time.Duration, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.due) == 0 {
		return 0, false
	}
	return max(time.Until(p.due[0]), 0), true
}

// take drops every request that is due and reports how many there were.
func (p *pumpScheduler) take(now time.Time) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for n < len(p.due) && !p.due[n].After(now) {
		n++
	}
	p.due = p.due[n:]
	return n
}

// run pumps rt until ctx is done. It must run on the main thread.
func (p *pumpScheduler) run(ctx context.Context, rt *engine.Runtime) {
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		var fire <-chan time.Time
		if d, ok := p.next(); ok {
			timer.Reset(d)
			fire = timer.C
		}
		select {
		case <-ctx.Done():
			return
		case <-p.wake:
		case <-fire:
			if p.take(time.Now()) > 0 {
				if err := rt.DoMessageLoopWork(); err != nil {
					return
				}
			}
		}
		timer.Stop()
	}
}
