package strategy

import (
	"fmt"
	"sort"
	"sync"
)

// Registry holds the registered strategies for one search service
type Registry struct {
	mu         sync.RWMutex
	strategies map[string]Strategy
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{strategies: make(map[string]Strategy)}
}

// Register adds a strategy. Registering the same id twice is an error.
func (r *Registry) Register(s Strategy) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.strategies[s.ID()]; exists {
		return fmt.Errorf("strategy %s already registered", s.ID())
	}
	r.strategies[s.ID()] = s
	return nil
}

// Get returns the strategy with the given id
func (r *Registry) Get(id string) (Strategy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.strategies[id]
	return s, ok
}

// All returns every registered strategy ordered by priority descending,
// id ascending for equal priorities
func (r *Registry) All() []Strategy {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Strategy, 0, len(r.strategies))
	for _, s := range r.strategies {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority() != out[j].Priority() {
			return out[i].Priority() > out[j].Priority()
		}
		return out[i].ID() < out[j].ID()
	})
	return out
}

// DefaultOrder returns the registered strategy ids in priority order
func (r *Registry) DefaultOrder() []string {
	all := r.All()
	ids := make([]string, len(all))
	for i, s := range all {
		ids[i] = s.ID()
	}
	return ids
}
