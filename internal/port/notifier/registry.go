package notifier

import (
	"fmt"
	"slices"
	"sync"
)

// Factory builds a Notifier from provider-specific string settings.
type Factory func(config map[string]string) (Notifier, error)

var registry = struct {
	sync.RWMutex
	byName map[string]Factory
}{byName: make(map[string]Factory)}

// Register adds a notifier factory under the given provider name.
// Adapter packages call this from init; registering the same name
// twice is a programming error and panics.
func Register(name string, f Factory) {
	registry.Lock()
	defer registry.Unlock()

	if _, dup := registry.byName[name]; dup {
		panic(fmt.Sprintf("notifier %q registered twice", name))
	}
	registry.byName[name] = f
}

// New builds the named notifier from its registered factory.
func New(name string, config map[string]string) (Notifier, error) {
	registry.RLock()
	f, ok := registry.byName[name]
	registry.RUnlock()

	if !ok {
		return nil, fmt.Errorf("no %q notifier registered", name)
	}
	return f(config)
}

// Available lists the registered provider names, sorted.
func Available() []string {
	registry.RLock()
	defer registry.RUnlock()

	names := make([]string, 0, len(registry.byName))
	for name := range registry.byName {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
