package blobstore

import (
	"fmt"
	"sort"
	"sync"
)

// Factory creates a store from opaque config (store-specific).
type Factory func(any) (Store, error)

var (
	mu       sync.RWMutex
	registry = map[string]Factory{}
)

// Register binds a store name to its factory.
func Register(name string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	registry[name] = f
}

// New returns a store instance by name.
func New(name string, cfg any) (Store, error) {
	mu.RLock()
	f, ok := registry[name]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("blob store not found: %s (have %v)", name, Names())
	}
	return f(cfg)
}

// Names lists the registered stores.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(registry))
	for n := range registry {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
