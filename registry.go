package dal

import (
	"sort"
	"sync"
)

var (
	backendsMu sync.RWMutex
	backends   = make(map[string]BackendFactory)
)

// BackendFactory creates an Accessor from backend-specific
// configuration. Config parsing itself is out of scope for dal; the
// map is passed straight through to the backend.
type BackendFactory func(config map[string]string) (Accessor, error)

// Register registers a backend factory under the given scheme name.
// It is typically called from a backend package's init().
//
// Register panics if name is empty, factory is nil, or a backend with
// the same name is already registered.
func Register(name string, factory BackendFactory) {
	backendsMu.Lock()
	defer backendsMu.Unlock()

	if name == "" {
		panic("dal: Register called with an empty scheme name")
	}
	if factory == nil {
		panic("dal: Register factory is nil")
	}
	if _, dup := backends[name]; dup {
		panic("dal: Register called twice for backend " + name)
	}
	backends[name] = factory
}

// ErrUnknownBackend is returned by Open when no backend with the given
// name is registered. errors.Is matches it against any KindConfigInvalid
// error, consistent with the rest of the package's Kind-based Is.
var ErrUnknownBackend = NewError(KindConfigInvalid, "unknown backend")

// Open opens a backend by name with the given configuration. The
// returned error carries the requested scheme as context, matching
// the backends' own convention of attaching the path/key that failed.
func Open(name string, config map[string]string) (Accessor, error) {
	backendsMu.RLock()
	factory, ok := backends[name]
	backendsMu.RUnlock()

	if !ok {
		return nil, NewError(KindConfigInvalid, "unknown backend").WithContext(KV{Key: "scheme", Value: name})
	}
	return factory(config)
}

// Backends returns a sorted list of registered backend scheme names.
func Backends() []string {
	backendsMu.RLock()
	defer backendsMu.RUnlock()

	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsRegistered reports whether a backend with the given name is
// registered.
func IsRegistered(name string) bool {
	backendsMu.RLock()
	defer backendsMu.RUnlock()
	_, ok := backends[name]
	return ok
}

// Unregister removes a registered backend. Primarily useful for
// testing. Returns true if the backend was registered.
func Unregister(name string) bool {
	backendsMu.Lock()
	defer backendsMu.Unlock()

	if _, ok := backends[name]; ok {
		delete(backends, name)
		return true
	}
	return false
}
