package model

import (
	"fmt"
	"strings"
)

// ThreadID names one of the fixed logical threads. The engine owns every
// thread except ThreadMain, which is the host's designated main thread.
type ThreadID int

// Logical thread identities.
const (
	// ThreadMain is the host thread that must call Initialize and Shutdown.
	ThreadMain ThreadID = iota

	// ThreadUI is the engine's primary thread. When the multi-threaded
	// message loop is disabled it is the same OS thread as ThreadMain.
	ThreadUI

	ThreadIO
	ThreadFileBackground
	ThreadFileUserVisible
	ThreadFileUserBlocking
	ThreadProcessLauncher
	ThreadRenderer
)

var threadNames = []string{
	ThreadMain:             "main",
	ThreadUI:               "ui",
	ThreadIO:               "io",
	ThreadFileBackground:   "file_background",
	ThreadFileUserVisible:  "file_user_visible",
	ThreadFileUserBlocking: "file_user_blocking",
	ThreadProcessLauncher:  "process_launcher",
	ThreadRenderer:         "renderer",
}

// EngineThreads lists the threads that the engine runs and accepts tasks on.
var EngineThreads = []ThreadID{
	ThreadUI,
	ThreadIO,
	ThreadFileBackground,
	ThreadFileUserVisible,
	ThreadFileUserBlocking,
	ThreadProcessLauncher,
	ThreadRenderer,
}

func (t ThreadID) String() string {
	if t >= 0 && int(t) < len(threadNames) {
		return threadNames[t]
	}
	return fmt.Sprintf("thread(%d)", int(t))
}

// Valid reports whether t is a known thread identity.
func (t ThreadID) Valid() bool {
	return t >= ThreadMain && t <= ThreadRenderer
}

// EngineOwned reports whether t is run by the engine rather than the host.
func (t ThreadID) EngineOwned() bool {
	return t.Valid() && t != ThreadMain
}

// ParseThreadID resolves a thread name as produced by String.
func ParseThreadID(s string) (ThreadID, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range threadNames {
		if name == s {
			return ThreadID(i), nil
		}
	}
	return 0, fmt.Errorf("unknown thread %q", s)
}
