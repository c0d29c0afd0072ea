// Package venue hosts the exchange adapters and the static registry the
// engine uses to resolve them by name.
package venue

import (
	"fmt"
	"sort"
	"sync"

	"github.com/carrydesk/carrybot/internal/domain"
)

var (
	mu       sync.RWMutex
	registry = map[string]domain.Connector{}
)

// Register adds a connector under its Name. Registering the same name twice
// panics; adapters are wired once at startup.
func Register(c domain.Connector) {
	mu.Lock()
	defer mu.Unlock()
	name := c.Name()
	if _, dup := registry[name]; dup {
		panic(fmt.Sprintf("venue: duplicate connector registration for %q", name))
	}
	registry[name] = c
}

// Lookup resolves a connector by venue name.
func Lookup(name string) (domain.Connector, error) {
	mu.RLock()
	defer mu.RUnlock()
	c, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("venue: %q: %w", name, domain.ErrVenueNotFound)
	}
	return c, nil
}

// Names returns the registered venue names in sorted order.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Reset clears the registry. Test helper.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	registry = map[string]domain.Connector{}
}
