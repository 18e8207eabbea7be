package crash

import (
	"fmt"
	"sync"
	"unicode/utf8"
)

// chunkSize is the per-annotation limit applied when a large value is split
// for upload.
const chunkSize = 256

// Reporter stores crash key values. It is safe for concurrent use.
type Reporter struct {
	cfg Config

	mu     sync.RWMutex
	values map[string]string
}

// NewReporter creates a reporter for the keys declared in cfg.
func NewReporter(cfg Config) *Reporter {
	if cfg.Keys == nil {
		cfg.Keys = map[string]KeySize{}
	}
	return &Reporter{
		cfg:    cfg,
		values: make(map[string]string),
	}
}

// Enabled reports whether crash reporting was configured.
func (r *Reporter) Enabled() bool {
	return r != nil && r.cfg.Loaded
}

// Config returns the loaded configuration.
func (r *Reporter) Config() Config {
	return r.cfg
}

// Declared reports whether key appears in [CrashKeys].
func (r *Reporter) Declared(key string) bool {
	if r == nil {
		return false
	}
	_, ok := r.cfg.Keys[key]
	return ok
}

// SetCrashKeyValue stores value under key, truncated to the key's size class.
// An empty value clears the key. Undeclared keys are ignored and reported
// as false.
func (r *Reporter) SetCrashKeyValue(key, value string) bool {
	if r == nil {
		return false
	}
	size, ok := r.cfg.Keys[key]
	if !ok {
		return false
	}
	value = value[:cut(value, size.Bytes())]

	r.mu.Lock()
	defer r.mu.Unlock()
	if value == "" {
		delete(r.values, key)
		return true
	}
	r.values[key] = value
	return true
}

// Value returns the stored value for key.
func (r *Reporter) Value(key string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.values[key]
	return v, ok
}

// Annotations returns the values as they would be attached to an upload.
// Large keys are split into key-1..key-N chunks.
func (r *Reporter) Annotations() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]string, len(r.values))
	for key, value := range r.values {
		if r.cfg.Keys[key] != KeyLarge {
			out[key] = value
			continue
		}
		for i := 1; value != ""; i++ {
			n := cut(value, chunkSize)
			out[fmt.Sprintf("%s-%d", key, i)] = value[:n]
			value = value[n:]
		}
	}
	return out
}

// cut returns the largest length of at most limit bytes that does not split
// a UTF-8 sequence. Bytes that are not valid UTF-8 are cut anywhere.
func cut(s string, limit int) int {
	if len(s) <= limit {
		return len(s)
	}
	for n := limit; n > 0 && n > limit-utf8.UTFMax; n-- {
		if utf8.RuneStart(s[n]) {
			return n
		}
	}
	return limit
}
