package main

import (
	"os"
	"runtime"

	"github.com/seantiz/enginehost/internal/cmd"
)

// The engine's main thread is the process's main OS thread.
func init() {
	runtime.LockOSThread()
}

func main() {
	// Subprocess launches return here before any flag parsing.
	if code := cmd.ExecuteProcess(os.Args); code >= 0 {
		os.Exit(code)
	}
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
