package native

import (
	"time"

	"github.com/seantiz/enginehost/internal/model"
)

// Engine is the control-plane surface of the embedded native engine. Real
// bindings and the simulated engine both implement it. Apart from Initialize,
// Shutdown, ShutdownWithoutChecks and the message loop calls, methods may be
// called from any goroutine.
type Engine interface {
	// Initialize starts the engine. It returns false when the engine refuses
	// to start; ExitCode then reports why. On success the context-ready
	// callback is delivered later on the UI thread through h.
	Initialize(s Settings, h Handler) bool

	// Shutdown tears the engine down after its own checks for live objects.
	Shutdown()

	// ShutdownWithoutChecks tears the engine down without those checks.
	ShutdownWithoutChecks()

	// PostTask enqueues task on the given engine thread, to run no earlier
	// than delay from now. It reports whether the task was accepted.
	PostTask(thread model.ThreadID, task func(), delay time.Duration) bool

	// CurrentlyOn reports whether the caller is running on thread.
	CurrentlyOn(thread model.ThreadID) bool

	RunMessageLoop()
	QuitMessageLoop()
	DoMessageLoopWork()

	// ExecuteProcess runs a secondary process role when args select one and
	// returns its exit code, or -1 immediately for the browser role.
	ExecuteProcess(args []string) int

	AddCrossOriginEntry(e CrossOriginEntry) bool
	RemoveCrossOriginEntry(e CrossOriginEntry) bool
	ClearCrossOriginEntries() bool

	// MinLogLevel returns the runtime minimum log level on Chromium's -1..3 scale.
	MinLogLevel() int

	ExitCode() model.ResultCode
	Version() VersionInfo
	MimeType(extension string) string
	Capabilities() Capabilities
}

// Handler receives callbacks from the engine's browser process.
type Handler interface {
	// OnContextInitialized fires once on the UI thread when startup completes.
	OnContextInitialized()

	// OnScheduleMessagePumpWork asks an external message pump to call
	// DoMessageLoopWork after delay. Only sent when ExternalMessagePump is set.
	OnScheduleMessagePumpWork(delay time.Duration)
}

// Settings is the engine-facing settings DTO. Values are already in the
// engine's encodings.
type Settings struct {
	CachePath                string            `json:"cache_path"`
	RootCachePath            string            `json:"root_cache_path"`
	LogFile                  string            `json:"log_file"`
	LogSeverity              int               `json:"log_severity"`
	MultiThreadedMessageLoop bool              `json:"multi_threaded_message_loop"`
	ExternalMessagePump      bool              `json:"external_message_pump"`
	Locale                   string            `json:"locale"`
	RemoteDebuggingPort      int               `json:"remote_debugging_port"`
	BrowserSubprocessPath    string            `json:"browser_subprocess_path"`
	WindowlessRendering      bool              `json:"windowless_rendering"`
	BackgroundColor          uint32            `json:"background_color"`
	CommandLineArgs          map[string]string `json:"command_line_args,omitempty"`
}

// CrossOriginEntry is one row of the cross-origin allow-list.
type CrossOriginEntry struct {
	SourceOrigin    string `json:"source_origin"`
	TargetProtocol  string `json:"target_protocol"`
	TargetDomain    string `json:"target_domain"`
	AllowSubdomains bool   `json:"allow_subdomains"`
}

// VersionInfo describes the engine build.
type VersionInfo struct {
	Engine     string `json:"engine"`
	Chromium   string `json:"chromium"`
	CommitHash string `json:"commit_hash"`
	APIVersion int    `json:"api_version"`
	APIHash    string `json:"api_hash"`
}

// Capabilities describes what an engine implementation supports.
type Capabilities struct {
	Name                string   `json:"name"`
	Threads             []string `json:"threads"`
	ProcessRoles        []string `json:"process_roles"`
	MultiThreadedLoop   bool     `json:"multi_threaded_loop"`
	ExternalMessagePump bool     `json:"external_message_pump"`
}
