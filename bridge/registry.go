package bridge

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// DefaultEntryPoint is the name Spawn is registered under.
const DefaultEntryPoint = "bridge.Spawn"

// ErrEntryPointNotFound is returned by Lookup for unknown names.
var ErrEntryPointNotFound = errors.New("bridge: entry point not found")

// Establisher establishes ambient state for the unit of work ctx belongs to
// and returns the context carrying it.
type Establisher func(ctx context.Context) (context.Context, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Establisher{
		DefaultEntryPoint: Spawn,
	}
)

// Register makes an establisher available under name, replacing any previous
// registration.
func Register(name string, e Establisher) {
	if name == "" || e == nil {
		return
	}
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = e
}

// Lookup resolves a registered establisher by name.
func Lookup(name string) (Establisher, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	e, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrEntryPointNotFound, name)
	}
	return e, nil
}

// EntryPoints lists the registered names in sorted order.
func EntryPoints() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
