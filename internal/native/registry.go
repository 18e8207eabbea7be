package native

import (
	"fmt"
	"sort"
	"sync"
)

// DefaultEngine is the name resolved when the caller asks for "auto".
const DefaultEngine = "sim"

// autoName selects DefaultEngine.
const autoName = "auto"

// Factory builds a fresh engine instance.
type Factory func() (Engine, error)

// EngineInfo pairs an engine name with its capabilities.
type EngineInfo struct {
	Name         string       `json:"name"`
	Capabilities Capabilities `json:"capabilities"`
}

type registration struct {
	factory Factory
	caps    Capabilities
}

// Registry holds the engine implementations available to the host and builds
// the one selected by configuration.
type Registry struct {
	mu      sync.RWMutex
	engines map[string]registration
}

// NewRegistry creates an empty engine registry.
func NewRegistry() *Registry {
	return &Registry{
		engines: make(map[string]registration),
	}
}

// Register adds an engine factory under the given name. Capabilities are
// advertised by List without building an instance.
func (r *Registry) Register(name string, caps Capabilities, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.engines[name] = registration{factory: f, caps: caps}
}

// Resolve builds the engine registered under name. "auto" and the empty
// string select DefaultEngine.
func (r *Registry) Resolve(name string) (Engine, error) {
	target := name
	if target == "" || target == autoName {
		target = DefaultEngine
	}

	r.mu.RLock()
	reg, ok := r.engines[target]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("engine %q is not registered", target)
	}
	eng, err := reg.factory()
	if err != nil {
		return nil, fmt.Errorf("build engine %q: %w", target, err)
	}
	return eng, nil
}

// List returns information about all registered engines, sorted by name
// for a stable API response.
func (r *Registry) List() []EngineInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]EngineInfo, 0, len(r.engines))
	for name, reg := range r.engines {
		infos = append(infos, EngineInfo{
			Name:         name,
			Capabilities: reg.caps,
		})
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Name < infos[j].Name
	})
	return infos
}
