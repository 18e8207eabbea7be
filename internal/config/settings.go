package config

import (
	"errors"
	"fmt"
	"maps"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/seantiz/enginehost/internal/model"
	"github.com/seantiz/enginehost/internal/native"
)

// Remote debugging port bounds; 0 disables remote debugging.
const (
	minDebuggingPort = 1024
	maxDebuggingPort = 65535
)

// ErrInvalidSettings is wrapped by every Settings validation failure.
var ErrInvalidSettings = errors.New("invalid engine settings")

// Settings is the host-facing engine configuration value object.
type Settings struct {
	// CachePath is where profile data is persisted. Empty means incognito.
	// Must be absolute and equal to or under RootCachePath when both are set.
	CachePath string

	// RootCachePath is the installation data root. Defaults to CachePath.
	RootCachePath string

	// LogFile is the engine debug log path. Empty uses the engine default.
	LogFile string

	LogSeverity model.LogSeverity

	// MultiThreadedMessageLoop runs the engine UI thread separately from the
	// host main thread. When false the host must pump the message loop.
	MultiThreadedMessageLoop bool

	// ExternalMessagePump makes the engine request pump work through
	// OnScheduleMessagePumpWork. Requires MultiThreadedMessageLoop=false.
	ExternalMessagePump bool

	Locale                string
	RemoteDebuggingPort   int
	BrowserSubprocessPath string
	WindowlessRendering   bool

	// BackgroundColor is an ARGB word, see model.ColorPack.
	BackgroundColor uint32

	CommandLineArgs map[string]string
}

// DefaultSettings returns the engine settings used when nothing is configured.
func DefaultSettings() Settings {
	return Settings{
		LogSeverity:              model.LogSeverityDefault,
		MultiThreadedMessageLoop: true,
		Locale:                   "en-US",
		BackgroundColor:          model.ColorPack(0xFF, 0xFF, 0xFF, 0xFF),
	}
}

// Validate checks the settings before any native call is made.
func (s Settings) Validate() error {
	for name, p := range map[string]string{
		"cache path":              s.CachePath,
		"root cache path":         s.RootCachePath,
		"browser subprocess path": s.BrowserSubprocessPath,
	} {
		if p != "" && !filepath.IsAbs(p) {
			return fmt.Errorf("%w: %s %q must be absolute", ErrInvalidSettings, name, p)
		}
	}

	if s.CachePath != "" && s.RootCachePath != "" && !within(s.RootCachePath, s.CachePath) {
		return fmt.Errorf("%w: cache path %q is not under root cache path %q", ErrInvalidSettings, s.CachePath, s.RootCachePath)
	}

	if s.RemoteDebuggingPort != 0 && (s.RemoteDebuggingPort < minDebuggingPort || s.RemoteDebuggingPort > maxDebuggingPort) {
		return fmt.Errorf("%w: remote debugging port %d outside %d-%d", ErrInvalidSettings, s.RemoteDebuggingPort, minDebuggingPort, maxDebuggingPort)
	}

	if !s.LogSeverity.Valid() {
		return fmt.Errorf("%w: log severity %d", ErrInvalidSettings, int(s.LogSeverity))
	}

	if s.ExternalMessagePump && s.MultiThreadedMessageLoop {
		return fmt.Errorf("%w: external message pump requires the multi-threaded message loop to be disabled", ErrInvalidSettings)
	}

	return nil
}

// Native converts the settings to the engine DTO. The log severity is
// remapped to the engine's encoding rather than cast.
func (s Settings) Native() native.Settings {
	root := s.RootCachePath
	if root == "" {
		root = s.CachePath
	}
	return native.Settings{
		CachePath:                s.CachePath,
		RootCachePath:            root,
		LogFile:                  s.LogFile,
		LogSeverity:              s.LogSeverity.NativeValue(),
		MultiThreadedMessageLoop: s.MultiThreadedMessageLoop,
		ExternalMessagePump:      s.ExternalMessagePump,
		Locale:                   s.Locale,
		RemoteDebuggingPort:      s.RemoteDebuggingPort,
		BrowserSubprocessPath:    s.BrowserSubprocessPath,
		WindowlessRendering:      s.WindowlessRendering,
		BackgroundColor:          s.BackgroundColor,
		CommandLineArgs:          maps.Clone(s.CommandLineArgs),
	}
}

// ParseColor parses an ARGB hex word such as "FF112233" or "#FF112233".
// Six digits are taken as opaque RGB.
func ParseColor(s string) (uint32, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "#"), "0x")
	switch len(s) {
	case 6:
		s = "FF" + s
	case 8:
	default:
		return 0, fmt.Errorf("color %q must have 6 or 8 hex digits", s)
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("color %q: %w", s, err)
	}
	return uint32(v), nil
}

func within(root, p string) bool {
	rel, err := filepath.Rel(filepath.Clean(root), filepath.Clean(p))
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
