package sim

import (
	"container/heap"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/seantiz/enginehost/internal/goid"
	"github.com/seantiz/enginehost/internal/model"
)

type task struct {
	fn  func()
	due time.Time
	seq uint64
}

// taskQueue orders tasks by due time, then by post order.
type taskQueue []*task

func (q taskQueue) Len() int { return len(q) }
func (q taskQueue) Less(i, j int) bool {
	if q[i].due.Equal(q[j].due) {
		return q[i].seq < q[j].seq
	}
	return q[i].due.Before(q[j].due)
}
func (q taskQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }
func (q *taskQueue) Push(x any)   { *q = append(*q, x.(*task)) }
func (q *taskQueue) Pop() any {
	old := *q
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return t
}

// runner is the task queue of one engine thread. Tasks run one at a time on
// whichever goroutine drives the runner.
type runner struct {
	thread model.ThreadID
	log    *logrus.Entry

	// owner is the goroutine currently driving the runner, or 0.
	owner atomic.Uint64

	mu     sync.Mutex
	queue  taskQueue
	seq    uint64
	closed bool

	wake chan struct{}
	quit chan struct{}
	done chan struct{}
}

func newRunner(thread model.ThreadID, log *logrus.Logger) *runner {
	return &runner{
		thread: thread,
		log:    log.WithField("thread", thread.String()),
		wake:   make(chan struct{}, 1),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// post queues fn to run after delay. It reports false once the runner is closed.
func (r *runner) post(fn func(), delay time.Duration) bool {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return false
	}
	r.seq++
	heap.Push(&r.queue, &task{fn: fn, due: time.Now().Add(delay), seq: r.seq})
	r.mu.Unlock()

	select {
	case r.wake <- struct{}{}:
	default:
	}
	return true
}

// start drives the runner on its own goroutine until stop.
func (r *runner) start() {
	go func() {
		defer close(r.done)
		r.owner.Store(goid.Current())
		defer r.owner.Store(0)
		r.run(r.quit)
	}()
}

// run executes tasks as they come due until stop yields a value or closes.
func (r *runner) run(stop <-chan struct{}) {
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		r.runDue()

		var fire <-chan time.Time
		if d, ok := r.nextDelay(); ok {
			timer.Reset(d)
			fire = timer.C
		}
		select {
		case <-stop:
			return
		case <-r.wake:
		case <-fire:
		}
		timer.Stop()
	}
}

// runDue runs every task whose due time has passed and returns how many ran.
func (r *runner) runDue() int {
	n := 0
	for {
		now := time.Now()
		r.mu.Lock()
		if r.closed || len(r.queue) == 0 || r.queue[0].due.After(now) {
			r.mu.Unlock()
			return n
		}
		t := heap.Pop(&r.queue).(*task)
		r.mu.Unlock()

		r.exec(t.fn)
		n++
	}
}

func (r *runner) exec(fn func()) {
	defer func() {
		if p := recover(); p != nil {
			r.log.WithField("panic", p).Error("task panicked")
		}
	}()
	fn()
}

func (r *runner) nextDelay() (time.Duration, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.queue) == 0 {
		return 0, false
	}
	return max(time.Until(r.queue[0].due), 0), true
}

// pending returns the number of queued tasks.
func (r *runner) pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queue)
}

// close rejects new tasks and drops queued ones. It returns how many were dropped.
func (r *runner) close() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return 0
	}
	r.closed = true
	dropped := len(r.queue)
	r.queue = nil
	return dropped
}

// stop closes the runner and ends its goroutine. When wait is set it blocks
// until the task in flight, if any, returns.
func (r *runner) stop(started, wait bool) {
	r.close()
	if !started {
		return
	}
	select {
	case <-r.quit:
	default:
		close(r.quit)
	}
	if wait && r.owner.Load() != goid.Current() {
		<-r.done
	}
}
