package model

import (
	"fmt"
	"strings"
)

// LogSeverity is the host-facing log level of the engine. Its numeric values
// are not the engine's encoding; use NativeValue and SeverityFromChromium to
// cross the boundary.
type LogSeverity int

// Log severities.
const (
	LogSeverityDefault LogSeverity = iota
	LogSeverityVerbose
	LogSeverityInfo
	LogSeverityWarning
	LogSeverityError
	LogSeverityFatal
	LogSeverityDisable
)

// Native settings encoding of the engine's log severity.
const (
	nativeSeverityDefault = 0
	nativeSeverityVerbose = 1
	nativeSeverityInfo    = 2
	nativeSeverityWarning = 3
	nativeSeverityError   = 4
	nativeSeverityFatal   = 5
	nativeSeverityDisable = 99
)

// Chromium's runtime minimum log level encoding.
const (
	chromiumVerbose = -1
	chromiumInfo    = 0
	chromiumWarning = 1
	chromiumError   = 2
	chromiumFatal   = 3
)

var severityNames = map[LogSeverity]string{
	LogSeverityDefault: "default",
	LogSeverityVerbose: "verbose",
	LogSeverityInfo:    "info",
	LogSeverityWarning: "warning",
	LogSeverityError:   "error",
	LogSeverityFatal:   "fatal",
	LogSeverityDisable: "disable",
}

func (s LogSeverity) String() string {
	if name, ok := severityNames[s]; ok {
		return name
	}
	return fmt.Sprintf("severity(%d)", int(s))
}

// MarshalText renders the severity name.
func (s LogSeverity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Valid reports whether s is one of the declared severities.
func (s LogSeverity) Valid() bool {
	_, ok := severityNames[s]
	return ok
}

// NativeValue returns the engine settings encoding of s.
func (s LogSeverity) NativeValue() int {
	switch s {
	case LogSeverityVerbose:
		return nativeSeverityVerbose
	case LogSeverityInfo:
		return nativeSeverityInfo
	case LogSeverityWarning:
		return nativeSeverityWarning
	case LogSeverityError:
		return nativeSeverityError
	case LogSeverityFatal:
		return nativeSeverityFatal
	case LogSeverityDisable:
		return nativeSeverityDisable
	default:
		return nativeSeverityDefault
	}
}

// SeverityFromNative maps the engine settings encoding back to a LogSeverity.
func SeverityFromNative(v int) LogSeverity {
	switch v {
	case nativeSeverityVerbose:
		return LogSeverityVerbose
	case nativeSeverityInfo:
		return LogSeverityInfo
	case nativeSeverityWarning:
		return LogSeverityWarning
	case nativeSeverityError:
		return LogSeverityError
	case nativeSeverityFatal:
		return LogSeverityFatal
	case nativeSeverityDisable:
		return LogSeverityDisable
	default:
		return LogSeverityDefault
	}
}

// SeverityFromChromium maps the engine's runtime minimum log level, which
// uses Chromium's -1..3 scale, to a LogSeverity. Values without a match are
// passed through unchanged.
func SeverityFromChromium(v int) LogSeverity {
	switch v {
	case chromiumVerbose:
		return LogSeverityVerbose
	case chromiumInfo:
		return LogSeverityInfo
	case chromiumWarning:
		return LogSeverityWarning
	case chromiumError:
		return LogSeverityError
	case chromiumFatal:
		return LogSeverityFatal
	default:
		return LogSeverity(v)
	}
}

// ChromiumValue is the inverse of SeverityFromChromium for the declared
// levels. Default maps to info; Disable maps above fatal.
func (s LogSeverity) ChromiumValue() int {
	switch s {
	case LogSeverityVerbose:
		return chromiumVerbose
	case LogSeverityWarning:
		return chromiumWarning
	case LogSeverityError:
		return chromiumError
	case LogSeverityFatal:
		return chromiumFatal
	case LogSeverityDisable:
		return chromiumFatal + 1
	default:
		return chromiumInfo
	}
}

// ParseLogSeverity parses a severity name. "debug" is accepted as verbose.
func ParseLogSeverity(s string) (LogSeverity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "default":
		return LogSeverityDefault, nil
	case "verbose", "debug":
		return LogSeverityVerbose, nil
	case "info":
		return LogSeverityInfo, nil
	case "warning", "warn":
		return LogSeverityWarning, nil
	case "error":
		return LogSeverityError, nil
	case "fatal":
		return LogSeverityFatal, nil
	case "disable", "disabled":
		return LogSeverityDisable, nil
	}
	return LogSeverityDefault, fmt.Errorf("unknown log severity %q", s)
}
