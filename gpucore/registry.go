package gpucore

import (
	"fmt"
	"sort"
	"sync"
)

// AdapterFactory is a function that opens a new device adapter.
// Factories are registered via Register() and called by Open().
type AdapterFactory func() (DeviceAdapter, error)

// Registry state - protected by mutex for thread-safe access.
var (
	registryMu sync.RWMutex
	adapters   = make(map[string]AdapterFactory)
)

// Register registers an adapter factory with the given name.
// This function is typically called from init() in backend packages,
// following the database/sql driver pattern:
//
//	func init() {
//	    gpucore.Register("wgpu", func() (gpucore.DeviceAdapter, error) {
//	        return Open()
//	    })
//	}
//
// Register panics if factory is nil or the name is already registered, so
// duplicate registrations are caught during program initialization rather
// than silently overwriting backends.
func Register(name string, factory AdapterFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if factory == nil {
		panic("gpucore: Register factory is nil")
	}
	if _, dup := adapters[name]; dup {
		panic("gpucore: Register called twice for " + name)
	}
	adapters[name] = factory
}

// Unregister removes a backend from the registry.
// This is primarily useful for testing to clean up between tests.
// If the backend is not registered, this is a no-op.
func Unregister(name string) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(adapters, name)
}

// Open opens a device adapter by name. The name must match a previously
// registered backend.
//
//	import _ "github.com/gogpu/forge/backend/wgpu" // register wgpu backend
//
//	dev, err := gpucore.Open("wgpu")
//
// Returns an error if the backend is not registered. The error message
// includes a hint about forgotten imports.
func Open(name string) (DeviceAdapter, error) {
	registryMu.RLock()
	factory, ok := adapters[name]
	registryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("gpucore: unknown backend %q (forgotten import?)", name)
	}
	return factory()
}

// Backends returns a sorted list of registered backend names.
func Backends() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(adapters))
	for name := range adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsRegistered checks if a backend with the given name is registered.
func IsRegistered(name string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := adapters[name]
	return ok
}
