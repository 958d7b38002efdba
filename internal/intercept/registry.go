package intercept

import (
	"fmt"
	"sort"
	"sync"
)

var (
	registry = map[string]Interceptor{
		"noop": NoOp{},
		"slog": NewSlog(nil),
	}
	registryMu sync.RWMutex
)

// Lookup returns a registered interceptor by name.
// Pre-registered: "noop" and "slog" (default logger).
func Lookup(name string) (Interceptor, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	i, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown interceptor: %s", name)
	}
	return i, nil
}

// Register adds or replaces a named interceptor.
func Register(name string, i Interceptor) {
	registryMu.Lock()
	defer registryMu.Unlock()

	registry[name] = i
}

// Registered returns the registered names, sorted.
func Registered() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
