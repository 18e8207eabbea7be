// Package goid reports the identity of the calling goroutine. The runtime
// uses it where the engine's notion of "the same thread" has to be answered
// for goroutines.
package goid

import (
	"bytes"
	"runtime"
	"strconv"
)

var goroutinePrefix = []byte("goroutine ")

// Current parses the calling goroutine's id from its stack header. It
// returns 0 if the header cannot be parsed; real ids start at 1.
func Current() uint64 {
	var buf [64]byte
	b := buf[:runtime.Stack(buf[:], false)]
	b = bytes.TrimPrefix(b, goroutinePrefix)
	if i := bytes.IndexByte(b, ' '); i >= 0 {
		b = b[:i]
	}
	id, err := strconv.ParseUint(string(b), 10, 64)
	if err != nil {
		return 0
	}
	return id
}
