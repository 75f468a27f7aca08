package llm

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrUnknownProvider is returned when a provider identifier is not registered.
var ErrUnknownProvider = errors.New("unknown provider")

// Entry is a registered provider with its context budget in tokens and the
// sampling parameters callers should use with it.
type Entry struct {
	ID          string
	Provider    Provider
	Model       string
	Budget      int
	MaxTokens   int
	Temperature *float32
}

// Registry maps provider identifiers to providers.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Entry
	def     string
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]Entry)}
}

// Register adds or replaces a provider. The first registered provider becomes
// the default until SetDefault is called.
func (r *Registry) Register(e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[e.ID] = e
	if r.def == "" {
		r.def = e.ID
	}
}

func (r *Registry) SetDefault(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[id]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownProvider, id)
	}
	r.def = id
	return nil
}

// Resolve looks up id, or the default provider when id is empty.
func (r *Registry) Resolve(id string) (Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if id == "" {
		id = r.def
	}
	e, ok := r.entries[id]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %q", ErrUnknownProvider, id)
	}
	return e, nil
}

// Names returns the registered identifiers in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for id := range r.entries {
		names = append(names, id)
	}
	sort.Strings(names)
	return names
}
