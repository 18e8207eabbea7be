// Package sim is an in-process simulation of the native engine. It runs each
// engine thread as a task runner, honours the message loop modes and the
// profile lock, and serves secondary process roles over a control pipe. It
// is the default engine for development and tests.
package sim

import (
	"fmt"
	"io"
	"maps"
	"mime"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/seantiz/enginehost/internal/crash"
	"github.com/seantiz/enginehost/internal/goid"
	"github.com/seantiz/enginehost/internal/model"
	"github.com/seantiz/enginehost/internal/native"
	"github.com/seantiz/enginehost/internal/subprocess"
)

// Name is the registry name of the simulated engine.
const Name = "sim"

// Build information reported by Version.
const (
	chromiumVersion = "139.0.7258.139"
	commitHash      = "f1c2a3e4"
	apiVersion      = 13900
	apiHash         = "sim-api-13900"
)

// nativeSeverityDisable is the settings value that turns engine logging off.
const nativeSeverityDisable = 99

// profiles holds the root cache paths claimed by running engines in this process.
var profiles = struct {
	mu    sync.Mutex
	paths map[string]bool
}{paths: make(map[string]bool)}

// Options configures a simulated engine.
type Options struct {
	// Crash receives crash keys set by secondary processes. May be nil.
	Crash *crash.Reporter

	// Stdin, Stdout and Stderr are used by ExecuteProcess. They default to
	// the process's standard streams.
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// Engine simulates the native engine.
type Engine struct {
	opts Options

	mainID   atomic.Uint64
	exitCode atomic.Int32

	mu       sync.Mutex
	running  bool
	settings native.Settings
	handler  native.Handler
	runners  map[model.ThreadID]*runner
	profile  string
	log      *logrus.Logger
	logFile  *os.File
	origins  map[native.CrossOriginEntry]bool
	loopQuit chan struct{}
}

var _ native.Engine = (*Engine)(nil)

// New creates a stopped engine. The calling goroutine becomes the main thread.
func New(opts Options) *Engine {
	if opts.Stdin == nil {
		opts.Stdin = os.Stdin
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	e := &Engine{
		opts:     opts,
		origins:  make(map[native.CrossOriginEntry]bool),
		loopQuit: make(chan struct{}, 1),
		log:      discardLogger(),
	}
	e.mainID.Store(goid.Current())
	return e
}

// Register adds the simulated engine to reg.
func Register(reg *native.Registry, opts Options) {
	reg.Register(Name, capabilities(), func() (native.Engine, error) {
		return New(opts), nil
	})
}

// BindMainThread makes the calling goroutine the main thread.
func (e *Engine) BindMainThread() {
	e.mainID.Store(goid.Current())
}

func capabilities() native.Capabilities {
	threads := make([]string, len(model.EngineThreads))
	for i, t := range model.EngineThreads {
		threads[i] = t.String()
	}
	return native.Capabilities{
		Name:                Name,
		Threads:             threads,
		ProcessRoles:        append([]string(nil), subprocess.Roles...),
		MultiThreadedLoop:   true,
		ExternalMessagePump: true,
	}
}

func discardLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// Initialize starts the engine threads and queues the context-ready callback
// on the UI thread.
func (e *Engine) Initialize(s native.Settings, h native.Handler) bool {
	e.mu.Lock()
	ok := e.initLocked(s, h)
	log := e.log
	e.mu.Unlock()
	if !ok {
		return false
	}

	return e.PostTask(model.ThreadUI, func() {
		log.Info("browser context initialized")
		if h != nil {
			h.OnContextInitialized()
		}
	}, 0)
}

func (e *Engine) initLocked(s native.Settings, h native.Handler) bool {
	if e.running {
		e.exitCode.Store(int32(model.ResultCodeUnsupportedParam))
		return false
	}

	profile := s.RootCachePath
	if profile == "" {
		profile = s.CachePath
	}
	if profile != "" {
		if !claimProfile(profile) {
			e.exitCode.Store(int32(model.ResultCodeProfileInUse))
			return false
		}
		for _, dir := range []string{s.RootCachePath, s.CachePath} {
			if dir == "" {
				continue
			}
			if err := os.MkdirAll(dir, 0o755); err != nil {
				releaseProfile(profile)
				e.exitCode.Store(int32(model.ResultCodeMissingData))
				return false
			}
		}
	}

	log, logFile, err := newEngineLogger(s)
	if err != nil {
		releaseProfile(profile)
		e.exitCode.Store(int32(model.ResultCodeMissingData))
		return false
	}

	e.settings = s
	e.settings.CommandLineArgs = maps.Clone(s.CommandLineArgs)
	e.handler = h
	e.profile = profile
	e.log = log
	e.logFile = logFile
	e.runners = make(map[model.ThreadID]*runner)
	for _, t := range model.EngineThreads {
		// Renderer threads live in the renderer process.
		if t == model.ThreadRenderer {
			continue
		}
		r := newRunner(t, log)
		e.runners[t] = r
		if t != model.ThreadUI || s.MultiThreadedMessageLoop {
			r.start()
		}
	}
	e.running = true
	e.exitCode.Store(int32(model.ResultCodeNormalExit))

	log.WithFields(logrus.Fields{
		"multi_threaded_message_loop": s.MultiThreadedMessageLoop,
		"external_message_pump":       s.ExternalMessagePump,
		"root_cache_path":             profile,
	}).Info("engine initialized")
	return true
}

func newEngineLogger(s native.Settings) (*logrus.Logger, *os.File, error) {
	if s.LogFile == "" || s.LogSeverity == nativeSeverityDisable {
		return discardLogger(), nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(s.LogFile), 0o755); err != nil {
		return nil, nil, fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(s.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	l := logrus.New()
	l.SetOutput(f)
	l.SetFormatter(&logrus.JSONFormatter{})
	l.SetLevel(logrusLevel(s.LogSeverity))
	return l, f, nil
}

func logrusLevel(nativeSeverity int) logrus.Level {
	switch model.SeverityFromNative(nativeSeverity) {
	case model.LogSeverityVerbose:
		return logrus.DebugLevel
	case model.LogSeverityWarning:
		return logrus.WarnLevel
	case model.LogSeverityError:
		return logrus.ErrorLevel
	case model.LogSeverityFatal:
		return logrus.FatalLevel
	default:
		return logrus.InfoLevel
	}
}

func claimProfile(path string) bool {
	path = filepath.Clean(path)
	profiles.mu.Lock()
	defer profiles.mu.Unlock()
	if profiles.paths[path] {
		return false
	}
	profiles.paths[path] = true
	return true
}

func releaseProfile(path string) {
	if path == "" {
		return
	}
	profiles.mu.Lock()
	defer profiles.mu.Unlock()
	delete(profiles.paths, filepath.Clean(path))
}

// Shutdown stops every engine thread, waiting for tasks in flight, and
// warns about tasks that never ran.
func (e *Engine) Shutdown() {
	e.shutdown(true)
}

// ShutdownWithoutChecks stops the engine threads without waiting for them
// and without reporting dropped tasks.
func (e *Engine) ShutdownWithoutChecks() {
	e.shutdown(false)
}

func (e *Engine) shutdown(checks bool) {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	runners := e.runners
	e.runners = nil
	multi := e.settings.MultiThreadedMessageLoop
	log, logFile := e.log, e.logFile
	e.log, e.logFile = discardLogger(), nil
	releaseProfile(e.profile)
	e.profile = ""
	e.mu.Unlock()

	dropped := 0
	for t, r := range runners {
		dropped += r.close()
		r.stop(t != model.ThreadUI || multi, checks)
	}
	if checks && dropped > 0 {
		log.WithField("dropped_tasks", dropped).Warn("shutdown with pending tasks")
	}
	log.Info("engine shut down")
	if logFile != nil {
		logFile.Close()
	}
}

// PostTask queues task on an engine thread of the browser process. UI tasks
// are announced to an external message pump.
func (e *Engine) PostTask(thread model.ThreadID, task func(), delay time.Duration) bool {
	if task == nil {
		return false
	}
	delay = max(delay, 0)

	e.mu.Lock()
	r := e.runners[thread]
	running := e.running
	pump := thread == model.ThreadUI && e.settings.ExternalMessagePump
	h := e.handler
	e.mu.Unlock()

	if !running || r == nil || !r.post(task, delay) {
		return false
	}
	if pump && h != nil {
		h.OnScheduleMessagePumpWork(delay)
	}
	return true
}

// CurrentlyOn reports whether the calling goroutine is the given thread.
// Without the multi-threaded message loop the UI thread is the main thread.
func (e *Engine) CurrentlyOn(thread model.ThreadID) bool {
	id := goid.Current()
	if thread == model.ThreadMain {
		return id == e.mainID.Load()
	}

	e.mu.Lock()
	multi := e.settings.MultiThreadedMessageLoop
	r := e.runners[thread]
	e.mu.Unlock()

	if thread == model.ThreadUI && !multi {
		return r != nil && id == e.mainID.Load()
	}
	return r != nil && id != 0 && r.owner.Load() == id
}

// RunMessageLoop drives the UI thread on the calling goroutine until
// QuitMessageLoop. With the multi-threaded loop the UI thread already has its
// own goroutine and this only blocks.
func (e *Engine) RunMessageLoop() {
	e.mu.Lock()
	ui := e.runners[model.ThreadUI]
	multi := e.settings.MultiThreadedMessageLoop
	e.mu.Unlock()

	if ui == nil || multi {
		<-e.loopQuit
		return
	}
	ui.run(e.loopQuit)
}

func (e *Engine) QuitMessageLoop() {
	select {
	case e.loopQuit <- struct{}{}:
	default:
	}
}

// DoMessageLoopWork runs the UI tasks that are due. It does nothing when the
// UI thread has its own goroutine.
func (e *Engine) DoMessageLoopWork() {
	e.mu.Lock()
	ui := e.runners[model.ThreadUI]
	multi := e.settings.MultiThreadedMessageLoop
	e.mu.Unlock()

	if ui == nil || multi {
		return
	}
	ui.runDue()
}

// ExecuteProcess returns -1 for the browser process. For a secondary role
// selected by --type it serves the control channel and returns the role's
// exit code.
func (e *Engine) ExecuteProcess(args []string) int {
	role, err := processType(args)
	if err != nil {
		return int(model.ResultCodeUnsupportedParam)
	}
	if role == "" {
		return -1
	}
	if !subprocess.KnownRole(role) {
		return int(model.ResultCodeUnsupportedParam)
	}
	agent := subprocess.NewAgent(role, e.opts.Crash, newStderrLogger(e.opts.Stderr))
	return agent.Serve(e.opts.Stdin, e.opts.Stdout)
}

// AddCrossOriginEntry allows SourceOrigin to reach the target. The source
// must be a scheme://host origin and the target protocol must be set.
func (e *Engine) AddCrossOriginEntry(entry native.CrossOriginEntry) bool {
	if !validOriginEntry(entry) {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return false
	}
	e.origins[normalizeEntry(entry)] = true
	e.log.WithField("source_origin", entry.SourceOrigin).Debug("cross-origin entry added")
	return true
}

// RemoveCrossOriginEntry reports false if the entry was not present.
func (e *Engine) RemoveCrossOriginEntry(entry native.CrossOriginEntry) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return false
	}
	key := normalizeEntry(entry)
	if !e.origins[key] {
		return false
	}
	delete(e.origins, key)
	return true
}

func (e *Engine) ClearCrossOriginEntries() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return false
	}
	clear(e.origins)
	return true
}

// CrossOriginEntries returns the number of allow-list entries.
func (e *Engine) CrossOriginEntries() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.origins)
}

func validOriginEntry(entry native.CrossOriginEntry) bool {
	if entry.TargetProtocol == "" {
		return false
	}
	u, err := url.Parse(entry.SourceOrigin)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return false
	}
	return u.Path == "" || u.Path == "/"
}

func normalizeEntry(entry native.CrossOriginEntry) native.CrossOriginEntry {
	entry.SourceOrigin = strings.TrimSuffix(strings.ToLower(entry.SourceOrigin), "/")
	entry.TargetProtocol = strings.ToLower(entry.TargetProtocol)
	entry.TargetDomain = strings.ToLower(entry.TargetDomain)
	return entry
}

// MinLogLevel maps the configured severity onto the -1..3 scale. Disabled
// logging reports fatal, the highest level on that scale.
func (e *Engine) MinLogLevel() int {
	e.mu.Lock()
	sev := e.settings.LogSeverity
	e.mu.Unlock()
	return min(model.SeverityFromNative(sev).ChromiumValue(), model.LogSeverityFatal.ChromiumValue())
}

func (e *Engine) ExitCode() model.ResultCode { return model.ResultCode(e.exitCode.Load()) }

func (e *Engine) Version() native.VersionInfo {
	return native.VersionInfo{
		Engine:     Name,
		Chromium:   chromiumVersion,
		CommitHash: commitHash,
		APIVersion: apiVersion,
		APIHash:    apiHash,
	}
}

// MimeType returns the media type for a file extension, without parameters,
// or "" when unknown.
func (e *Engine) MimeType(extension string) string {
	ext := strings.TrimPrefix(strings.TrimSpace(extension), ".")
	if ext == "" {
		return ""
	}
	typ := mime.TypeByExtension("." + strings.ToLower(ext))
	if typ == "" {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(typ)
	if err != nil {
		return typ
	}
	return mediaType
}

func (e *Engine) Capabilities() native.Capabilities { return capabilities() }
