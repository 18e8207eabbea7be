// Package nativetest provides a deterministic in-memory native engine for
// coordinator and API tests.
package nativetest

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/seantiz/enginehost/internal/model"
	"github.com/seantiz/enginehost/internal/native"
)

// Engine is a scriptable native.Engine. Posted tasks queue per thread until
// RunPending drains them; CurrentlyOn reports the thread set by SetCurrent
// or the thread whose queue is being drained.
type Engine struct {
	// InitFails makes Initialize return false with InitCode.
	InitFails bool
	InitCode  model.ResultCode

	// RefusePosts makes PostTask reject every task.
	RefusePosts bool

	// MinLevel is returned by MinLogLevel.
	MinLevel int

	current atomic.Int32

	mu             sync.Mutex
	handler        native.Handler
	settings       native.Settings
	running        bool
	initCalls      int
	shutdownCalls  int
	uncheckedCalls int
	loopWork       int
	quitCalls      int
	exitCode       model.ResultCode
	queues         map[model.ThreadID][]Task
	origins        map[native.CrossOriginEntry]bool
}

// Task is a queued task with its requested delay.
type Task struct {
	Fn    func()
	Delay time.Duration
}

var _ native.Engine = (*Engine)(nil)

// New returns a fake engine whose caller is on the main thread.
func New() *Engine {
	e := &Engine{
		queues:  make(map[model.ThreadID][]Task),
		origins: make(map[native.CrossOriginEntry]bool),
	}
	e.current.Store(int32(model.ThreadMain))
	return e
}

// SetCurrent changes the thread reported by CurrentlyOn.
func (e *Engine) SetCurrent(t model.ThreadID) {
	e.current.Store(int32(t))
}

func (e *Engine) Initialize(s native.Settings, h native.Handler) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.initCalls++
	e.settings = s
	if e.InitFails {
		e.exitCode = e.InitCode
		return false
	}
	e.handler = h
	e.running = true
	return true
}

// Ready delivers the context-ready callback as the UI thread would.
func (e *Engine) Ready() {
	e.mu.Lock()
	h := e.handler
	e.mu.Unlock()
	if h == nil {
		return
	}
	prev := e.current.Swap(int32(model.ThreadUI))
	defer e.current.Store(prev)
	h.OnContextInitialized()
}

// SchedulePump forwards a message pump request to the handler.
func (e *Engine) SchedulePump(delay time.Duration) {
	e.mu.Lock()
	h := e.handler
	e.mu.Unlock()
	if h != nil {
		h.OnScheduleMessagePumpWork(delay)
	}
}

func (e *Engine) Shutdown() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.shutdownCalls++
	e.running = false
}

func (e *Engine) ShutdownWithoutChecks() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.uncheckedCalls++
	e.running = false
}

func (e *Engine) PostTask(thread model.ThreadID, task func(), delay time.Duration) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.RefusePosts || !e.running || !thread.EngineOwned() {
		return false
	}
	e.queues[thread] = append(e.queues[thread], Task{Fn: task, Delay: delay})
	return true
}

// Pending returns the tasks queued on thread without running them.
func (e *Engine) Pending(thread model.ThreadID) []Task {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Task(nil), e.queues[thread]...)
}

// RunPending runs every task queued on thread, including tasks queued while
// draining, and returns how many ran.
func (e *Engine) RunPending(thread model.ThreadID) int {
	prev := e.current.Swap(int32(thread))
	defer e.current.Store(prev)

	ran := 0
	for {
		e.mu.Lock()
		q := e.queues[thread]
		if len(q) == 0 {
			e.mu.Unlock()
			return ran
		}
		next := q[0]
		e.queues[thread] = q[1:]
		e.mu.Unlock()

		next.Fn()
		ran++
	}
}

func (e *Engine) CurrentlyOn(thread model.ThreadID) bool {
	return model.ThreadID(e.current.Load()) == thread
}

func (e *Engine) RunMessageLoop() {}

func (e *Engine) QuitMessageLoop() {
	e.mu.Lock()
	e.quitCalls++
	e.mu.Unlock()
}

func (e *Engine) DoMessageLoopWork() {
	e.mu.Lock()
	e.loopWork++
	e.mu.Unlock()
	e.RunPending(model.ThreadUI)
}

func (e *Engine) ExecuteProcess(args []string) int {
	for _, a := range args {
		if a == "--type=renderer" {
			return 0
		}
	}
	return -1
}

func (e *Engine) AddCrossOriginEntry(o native.CrossOriginEntry) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running || o.SourceOrigin == "" {
		return false
	}
	e.origins[o] = true
	return true
}

func (e *Engine) RemoveCrossOriginEntry(o native.CrossOriginEntry) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running || !e.origins[o] {
		return false
	}
	delete(e.origins, o)
	return true
}

func (e *Engine) ClearCrossOriginEntries() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return false
	}
	e.origins = make(map[native.CrossOriginEntry]bool)
	return true
}

func (e *Engine) MinLogLevel() int { return e.MinLevel }

func (e *Engine) ExitCode() model.ResultCode {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.exitCode
}

func (e *Engine) Version() native.VersionInfo {
	return native.VersionInfo{Engine: "fake", Chromium: "0.0.0.0", APIVersion: 1}
}

func (e *Engine) MimeType(ext string) string {
	if ext == "html" {
		return "text/html"
	}
	return ""
}

func (e *Engine) Capabilities() native.Capabilities {
	return native.Capabilities{Name: "fake", MultiThreadedLoop: true}
}

// Counts reports how often lifecycle calls reached the engine.
type Counts struct {
	Initialize            int
	Shutdown              int
	ShutdownWithoutChecks int
	LoopWork              int
	Quit                  int
}

// Counts returns the lifecycle call counters.
func (e *Engine) Counts() Counts {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Counts{
		Initialize:            e.initCalls,
		Shutdown:              e.shutdownCalls,
		ShutdownWithoutChecks: e.uncheckedCalls,
		LoopWork:              e.loopWork,
		Quit:                  e.quitCalls,
	}
}

// Settings returns the settings passed to the last Initialize call.
func (e *Engine) Settings() native.Settings {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.settings
}
