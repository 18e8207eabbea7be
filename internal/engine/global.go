package engine

import "sync"

var (
	globalMu sync.Mutex
	global   *Runtime
)

// Install makes r the process-wide runtime. It can be called once per
// process; later calls return ErrAlreadyInstalled.
func Install(r *Runtime) error {
	globalMu.Lock()
	defer globalMu.Unlock()
	if global != nil {
		return ErrAlreadyInstalled
	}
	global = r
	return nil
}

// Global returns the installed runtime, or nil.
func Global() *Runtime {
	globalMu.Lock()
	defer globalMu.Unlock()
	return global
}
