package modelcache

import (
	"fmt"
	"sort"
	"sync"
)

// BackendFactory creates a backend from loader configuration.
type BackendFactory func(cfg Config) (Backend, error)

type backendRegistry struct {
	mu        sync.RWMutex
	factories map[string]BackendFactory
}

var globalBackends = &backendRegistry{
	factories: make(map[string]BackendFactory),
}

// RegisterBackend adds a named backend factory.
// Panics if a backend with the same name is already registered.
func RegisterBackend(name string, factory BackendFactory) {
	globalBackends.mu.Lock()
	defer globalBackends.mu.Unlock()

	if _, exists := globalBackends.factories[name]; exists {
		panic(fmt.Sprintf("backend %s already registered", name))
	}
	globalBackends.factories[name] = factory
}

// NewBackend creates an instance of the named backend.
func NewBackend(name string, cfg Config) (Backend, error) {
	globalBackends.mu.RLock()
	factory, ok := globalBackends.factories[name]
	globalBackends.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown backend %q (available: %v)", name, Backends())
	}
	return factory(cfg)
}

// Backends returns the sorted names of all registered backends.
func Backends() []string {
	globalBackends.mu.RLock()
	defer globalBackends.mu.RUnlock()

	names := make([]string, 0, len(globalBackends.factories))
	for name := range globalBackends.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
