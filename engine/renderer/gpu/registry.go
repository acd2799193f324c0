package gpu

import (
	"sync"

	"github.com/cockroachdb/errors"
	"golang.org/x/exp/slices"
)

const (
	BackendVulkan = "vulkan"
	BackendSim    = "sim"
)

var ErrBackendNotAvailable = errors.New("gpu: backend not available")

// Factory opens a backend for the given configuration.
type Factory func(cfg Config) (Backend, error)

var (
	registryMu sync.RWMutex
	backends   = make(map[string]Factory)
	// First available wins.
	backendPriority = []string{BackendVulkan, BackendSim}
)

// Register is typically called from init() in backend packages. A factory registered
// under an existing name replaces it.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	backends[name] = factory
}

// Unregister removes a backend from the registry.
func Unregister(name string) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(backends, name)
}

// Available returns the registered backend names, sorted.
func Available() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func IsRegistered(name string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := backends[name]
	return ok
}

// Open creates the backend registered under name.
func Open(name string, cfg Config) (Backend, error) {
	registryMu.RLock()
	factory, ok := backends[name]
	registryMu.RUnlock()

	if !ok {
		return nil, errors.Wrapf(ErrBackendNotAvailable, "backend `%s`", name)
	}
	b, err := factory(cfg)
	if err != nil {
		return nil, errors.Wrapf(err, "opening backend `%s`", name)
	}
	return b, nil
}

// OpenDefault tries the backends in priority order and returns the first that opens.
func OpenDefault(cfg Config) (Backend, error) {
	var errs error
	for _, name := range backendPriority {
		if !IsRegistered(name) {
			continue
		}
		b, err := Open(name, cfg)
		if err == nil {
			return b, nil
		}
		errs = errors.CombineErrors(errs, err)
	}
	if errs != nil {
		return nil, errors.Mark(errs, ErrBackendNotAvailable)
	}
	return nil, ErrBackendNotAvailable
}
