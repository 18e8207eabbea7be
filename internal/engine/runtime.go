package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/seantiz/enginehost/internal/config"
	"github.com/seantiz/enginehost/internal/crash"
	"github.com/seantiz/enginehost/internal/goid"
	"github.com/seantiz/enginehost/internal/model"
	"github.com/seantiz/enginehost/internal/native"
)

const (
	defaultDrainPollInterval = 25 * time.Millisecond

	// DefaultDrainTimeout is the drain bound for hosts that want Shutdown to
	// wait for disposables without picking one.
	DefaultDrainTimeout = 5 * time.Second

	// drainSettleDelay follows a drain that had something to wait for, so
	// the engine can finish tearing down what just closed.
	drainSettleDelay = 50 * time.Millisecond

	// stateCrashKey is updated on every transition when crash_reporter.cfg
	// declares it.
	stateCrashKey = "engine_state"
)

var errShutdownBeforeReady = errors.New("shutdown before engine ready")

// Journal persists lifecycle history. Implementations must be safe for
// concurrent use.
type Journal interface {
	RecordTransition(ctx context.Context, t model.Transition) error
	SaveShutdownSession(ctx context.Context, s *model.ShutdownSession) error
}

// Options configures a Runtime. Native is required.
type Options struct {
	Native native.Engine

	// Threads answers thread-affinity checks. Defaults to Native.
	Threads ThreadQuery

	// Logger defaults to a discarding logger.
	Logger *slog.Logger

	// Journal is optional.
	Journal Journal

	// Crash is optional; without it crash keys are ignored.
	Crash *crash.Reporter

	// BrowserProcessHandler is optional. It receives OnContextInitialized
	// after the readiness Future resolves and message pump requests.
	BrowserProcessHandler native.Handler

	// DrainTimeout enables the drain wait in Shutdown when positive. Zero,
	// the default, disables it; DefaultDrainTimeout is a reasonable bound.
	DrainTimeout time.Duration

	// DrainPollInterval defaults to 25ms.
	DrainPollInterval time.Duration
}

// Runtime is the process-wide engine context. It is constructed once,
// initialized once and shut down once; it cannot be restarted.
type Runtime struct {
	native       native.Engine
	threads      ThreadQuery
	logger       *slog.Logger
	journal      Journal
	crash        *crash.Reporter
	handler      native.Handler
	pollInterval time.Duration

	state        atomic.Int32
	transMu      sync.Mutex
	initFailed   atomic.Bool
	drainTimeout atomic.Int64

	// teardownBy is the goroutine that won the move to ShuttingDown.
	teardownBy atomic.Uint64

	settingsMu sync.RWMutex
	cfg        config.Settings

	bridge      *Bridge
	dispatcher  *Dispatcher
	disposables *DisposableRegistry
	notifier    *ShutdownNotifier
	events      *EventBroker
	coordinator *ShutdownCoordinator
}

// New creates a Runtime in the Uninitialized state.
func New(opts Options) (*Runtime, error) {
	if opts.Native == nil {
		return nil, errors.New("engine runtime requires a native engine")
	}
	if opts.Threads == nil {
		opts.Threads = opts.Native
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.DrainPollInterval <= 0 {
		opts.DrainPollInterval = defaultDrainPollInterval
	}

	r := &Runtime{
		native:       opts.Native,
		threads:      opts.Threads,
		logger:       opts.Logger,
		journal:      opts.Journal,
		crash:        opts.Crash,
		handler:      opts.BrowserProcessHandler,
		pollInterval: opts.DrainPollInterval,
		cfg:          config.DefaultSettings(),
		events:       NewEventBroker(),
	}
	r.drainTimeout.Store(int64(opts.DrainTimeout))
	r.dispatcher = newDispatcher(r.native, r.threads, r.State, r.logger)
	r.bridge = NewBridge(func(fn func()) bool {
		return r.dispatcher.Post(model.ThreadUI, fn)
	})
	r.disposables = newDisposableRegistry(r.State, r.logger)
	r.notifier = newShutdownNotifier(r.logger)
	r.coordinator = newShutdownCoordinator(r)

	engineState.Set(float64(model.StateUninitialized))
	return r, nil
}

// State returns the current lifecycle state.
func (r *Runtime) State() model.EngineState {
	return model.EngineState(r.state.Load())
}

// IsInitialized reports whether the engine is running. known is false while
// no attempt has finished yet, that is before the first Initialize or while
// one is in progress.
func (r *Runtime) IsInitialized() (initialized, known bool) {
	switch r.State() {
	case model.StateInitialized:
		return true, true
	case model.StateUninitialized:
		return false, r.initFailed.Load()
	case model.StateInitializing:
		return false, false
	default:
		return false, true
	}
}

// IsShutdown reports whether the terminal state was reached.
func (r *Runtime) IsShutdown() bool {
	return r.State() == model.StateShutdown
}

func (r *Runtime) Dispatcher() *Dispatcher                { return r.dispatcher }
func (r *Runtime) Disposables() *DisposableRegistry       { return r.disposables }
func (r *Runtime) Events() *EventBroker                   { return r.events }
func (r *Runtime) Bridge() *Bridge                        { return r.bridge }
func (r *Runtime) Coordinator() *ShutdownCoordinator      { return r.coordinator }
func (r *Runtime) Capabilities() native.Capabilities      { return r.native.Capabilities() }
func (r *Runtime) Version() native.VersionInfo            { return r.native.Version() }
func (r *Runtime) ExitCode() model.ResultCode             { return r.native.ExitCode() }
func (r *Runtime) MimeType(extension string) string       { return r.native.MimeType(extension) }
func (r *Runtime) CurrentlyOn(thread model.ThreadID) bool { return r.threads.CurrentlyOn(thread) }

// Ready returns a Future for the current initialization attempt.
func (r *Runtime) Ready() *Future {
	return r.bridge.Future()
}

// MinLogLevel returns the engine's runtime minimum log severity.
func (r *Runtime) MinLogLevel() model.LogSeverity {
	return model.SeverityFromChromium(r.native.MinLogLevel())
}

// Settings returns the settings of the last initialization attempt.
func (r *Runtime) Settings() config.Settings {
	return r.settings()
}

func (r *Runtime) settings() config.Settings {
	r.settingsMu.RLock()
	defer r.settingsMu.RUnlock()
	return r.cfg
}

// OnShutdownStarted registers fn for the one-time shutdown broadcast. It
// returns false once the broadcast has happened.
func (r *Runtime) OnShutdownStarted(fn func()) bool {
	return r.notifier.Add(fn)
}

// EnableWaitForDrain makes Shutdown wait up to timeout for disposables to
// unregister. Zero disables the wait.
func (r *Runtime) EnableWaitForDrain(timeout time.Duration) {
	if timeout < 0 {
		timeout = 0
	}
	r.drainTimeout.Store(int64(timeout))
}

// DrainTimeout returns the configured drain wait.
func (r *Runtime) DrainTimeout() time.Duration {
	return time.Duration(r.drainTimeout.Load())
}

// LastShutdownSession returns the record of the shutdown pass, if any.
func (r *Runtime) LastShutdownSession() (model.ShutdownSession, bool) {
	return r.coordinator.Session()
}

// Initialize starts the engine and blocks until it confirms startup. It must
// be called on the main thread while Uninitialized. On failure the state
// returns to Uninitialized and an *InitError is returned.
func (r *Runtime) Initialize(s config.Settings) error {
	if err := r.requireMain("Initialize"); err != nil {
		return err
	}
	if _, err := r.start("Initialize", s); err != nil {
		return err
	}
	r.transition(model.StateInitializing, model.StateInitialized, "engine started")
	return nil
}

// InitializeAsync starts the engine and returns a Future resolved by the
// context-ready callback. The state stays Initializing until then. Failures,
// including those detected before any native call, resolve the Future.
func (r *Runtime) InitializeAsync(s config.Settings) *Future {
	if err := r.requireMain("InitializeAsync"); err != nil {
		return failedFuture(err)
	}
	t, err := r.start("InitializeAsync", s)
	if t == nil {
		return failedFuture(err)
	}
	return &Future{t: t}
}

// start moves to Initializing and calls the native engine. It returns a nil
// ticket only when the state precondition failed.
func (r *Runtime) start(op string, s config.Settings) (*Ticket, error) {
	if !r.transition(model.StateUninitialized, model.StateInitializing, op) {
		return nil, &StateError{Op: op, State: r.State()}
	}
	t := r.bridge.arm()

	r.settingsMu.Lock()
	r.cfg = s
	r.settingsMu.Unlock()

	if err := s.Validate(); err != nil {
		return t, r.failStart(t, model.ResultCodeUnsupportedParam, err)
	}

	ok, err := r.initializeNative(s)
	if !ok {
		return t, r.failStart(t, r.native.ExitCode(), err)
	}
	r.initFailed.Store(false)
	return t, nil
}

func (r *Runtime) initializeNative(s config.Settings) (ok bool, err error) {
	defer func() {
		if p := recover(); p != nil {
			ok = false
			err = fmt.Errorf("native initialize panicked: %v", p)
		}
	}()
	return r.native.Initialize(s.Native(), nativeHandler{r}), nil
}

func (r *Runtime) failStart(t *Ticket, code model.ResultCode, cause error) error {
	ierr := &InitError{Code: code, Err: cause}
	r.transition(model.StateInitializing, model.StateUninitialized, "initialization failed")
	r.initFailed.Store(true)
	_ = t.settle(ierr)
	r.logger.Error("engine initialization failed", "code", code.String(), "error", cause)
	return ierr
}

// onContextInitialized handles the native ready callback.
func (r *Runtime) onContextInitialized() {
	r.transition(model.StateInitializing, model.StateInitialized, "context initialized")
	if err := r.bridge.OnEngineReady(); err != nil {
		r.logger.Warn("context ready callback ignored", "state", r.State().String(), "error", err)
		return
	}
	if r.handler != nil && r.State() == model.StateInitialized {
		r.handler.OnContextInitialized()
	}
}

// Shutdown broadcasts shutdown, releases disposables, optionally waits for
// them to drain, and shuts the engine down. It must be called on the main
// thread. A call made while another shutdown is running returns once that
// one has finished; a call from inside it, by a shutdown listener or a
// release action, returns at once. Release failures are logged, never
// returned.
func (r *Runtime) Shutdown() error {
	if err := r.requireMain("Shutdown"); err != nil {
		return err
	}

	switch r.State() {
	case model.StateUninitialized:
		r.logger.Warn("shutdown called before initialize, ignoring")
		return nil
	case model.StateShuttingDown, model.StateShutdown:
		r.awaitShutdown()
		return nil
	}

	if !r.beginShutdown("shutdown") {
		r.awaitShutdown()
		return nil
	}

	if err := r.coordinator.PreShutdown(); err != nil {
		r.logger.Warn("disposables failed to release cleanly", "error", err)
	}
	if timeout := r.DrainTimeout(); timeout > 0 {
		if res := r.coordinator.WaitForDrain(timeout); len(res.Outstanding) > 0 {
			time.Sleep(drainSettleDelay)
		}
	}
	r.coordinator.commit(false, "shutdown")
	return nil
}

// ShutdownWithoutChecks broadcasts shutdown and tears the engine down
// without releasing disposables or waiting for them.
func (r *Runtime) ShutdownWithoutChecks() error {
	if err := r.requireMain("ShutdownWithoutChecks"); err != nil {
		return err
	}

	switch r.State() {
	case model.StateUninitialized:
		r.logger.Warn("shutdown without checks called before initialize, ignoring")
		return nil
	case model.StateShuttingDown, model.StateShutdown:
		r.awaitShutdown()
		return nil
	}

	if !r.beginShutdown("shutdown without checks") {
		r.awaitShutdown()
		return nil
	}
	r.coordinator.commit(true, "shutdown without checks")
	return nil
}

// beginShutdown moves to ShuttingDown and fires the broadcast. It reports
// false if another caller already began shutting down.
func (r *Runtime) beginShutdown(reason string) bool {
	for {
		st := r.State()
		if st != model.StateInitializing && st != model.StateInitialized {
			return false
		}
		if r.transition(st, model.StateShuttingDown, reason) {
			break
		}
	}
	r.teardownBy.Store(goid.Current())

	r.coordinator.update(func(*model.ShutdownSession) {})
	r.notifier.Fire()
	r.disposables.close()
	if r.bridge.cancelPending(&InitError{Code: r.native.ExitCode(), Err: errShutdownBeforeReady}) {
		r.logger.Warn("pending initialization cancelled by shutdown")
	}
	return true
}

// inTeardown reports whether the caller is the goroutine running the
// shutdown sequence, such as a listener or release action calling back in.
func (r *Runtime) inTeardown() bool {
	return r.teardownBy.Load() == goid.Current()
}

// awaitShutdown blocks until the shutdown in progress reaches Shutdown.
// Calls made from inside that shutdown return at once.
func (r *Runtime) awaitShutdown() {
	if r.State() == model.StateShutdown || r.inTeardown() {
		return
	}
	r.coordinator.wait()
}

func (r *Runtime) shutdownNative(withoutChecks bool) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("native shutdown panicked", "panic", p)
		}
	}()
	if withoutChecks {
		r.native.ShutdownWithoutChecks()
		return
	}
	r.native.Shutdown()
}

// transition moves from one state to another if the edge is valid and the
// current state is from. Transitions are published in the order they happen.
func (r *Runtime) transition(from, to model.EngineState, reason string) bool {
	r.transMu.Lock()
	defer r.transMu.Unlock()

	if !model.ValidTransition(from, to) || !r.state.CompareAndSwap(int32(from), int32(to)) {
		return false
	}

	t := model.Transition{
		ID:        model.NewID(),
		From:      from,
		To:        to,
		Reason:    reason,
		CreatedAt: time.Now().UTC(),
	}
	engineState.Set(float64(to))
	r.events.Publish(t)
	if r.crash.Declared(stateCrashKey) {
		r.crash.SetCrashKeyValue(stateCrashKey, to.String())
	}
	if r.journal != nil {
		if err := r.journal.RecordTransition(context.Background(), t); err != nil {
			r.logger.Error("failed to record transition", "from", from.String(), "to", to.String(), "error", err)
		}
	}
	r.logger.Info("engine state changed", "from", from.String(), "to", to.String(), "reason", reason)
	return true
}

func (r *Runtime) requireMain(op string) error {
	if !r.threads.CurrentlyOn(model.ThreadMain) {
		return threadError(op, model.ThreadMain)
	}
	return nil
}

// RunMessageLoop blocks the main thread running the engine message loop
// until QuitMessageLoop. Only meaningful without the multi-threaded loop.
func (r *Runtime) RunMessageLoop() error {
	if err := r.requireMain("RunMessageLoop"); err != nil {
		return err
	}
	if st := r.State(); st != model.StateInitializing && st != model.StateInitialized {
		return &StateError{Op: "RunMessageLoop", State: st}
	}
	r.native.RunMessageLoop()
	return nil
}

// QuitMessageLoop stops RunMessageLoop. It may be called from any thread.
func (r *Runtime) QuitMessageLoop() {
	if accepting(r.State()) {
		r.native.QuitMessageLoop()
	}
}

// DoMessageLoopWork performs one non-blocking message loop iteration on the
// main thread.
func (r *Runtime) DoMessageLoopWork() error {
	if err := r.requireMain("DoMessageLoopWork"); err != nil {
		return err
	}
	if st := r.State(); !accepting(st) {
		return &StateError{Op: "DoMessageLoopWork", State: st}
	}
	r.native.DoMessageLoopWork()
	return nil
}

// ExecuteProcess runs a secondary process role selected by args. It returns
// -1 immediately for the browser role.
func (r *Runtime) ExecuteProcess(args []string) int {
	return r.native.ExecuteProcess(args)
}

// AddCrossOriginEntry allows source to reach the target protocol and domain.
// It returns false before initialization, after shutdown began, or when the
// engine rejects the entry.
func (r *Runtime) AddCrossOriginEntry(e native.CrossOriginEntry) bool {
	if r.State() != model.StateInitialized {
		return false
	}
	return r.native.AddCrossOriginEntry(e)
}

// RemoveCrossOriginEntry removes an entry previously added.
func (r *Runtime) RemoveCrossOriginEntry(e native.CrossOriginEntry) bool {
	if r.State() != model.StateInitialized {
		return false
	}
	return r.native.RemoveCrossOriginEntry(e)
}

// ClearCrossOriginEntries empties the allow-list.
func (r *Runtime) ClearCrossOriginEntries() bool {
	if r.State() != model.StateInitialized {
		return false
	}
	return r.native.ClearCrossOriginEntries()
}

// CrashReportingEnabled reports whether crash_reporter.cfg was loaded.
func (r *Runtime) CrashReportingEnabled() bool {
	return r.crash.Enabled()
}

// SetCrashKeyValue sets a crash key declared in crash_reporter.cfg. It may
// be called from any thread and returns false for undeclared keys.
func (r *Runtime) SetCrashKeyValue(key, value string) bool {
	return r.crash.SetCrashKeyValue(key, value)
}

// nativeHandler adapts Runtime to native.Handler.
type nativeHandler struct {
	r *Runtime
}

func (h nativeHandler) OnContextInitialized() {
	h.r.onContextInitialized()
}

func (h nativeHandler) OnScheduleMessagePumpWork(delay time.Duration) {
	if h.r.handler != nil {
		h.r.handler.OnScheduleMessagePumpWork(delay)
	}
}
