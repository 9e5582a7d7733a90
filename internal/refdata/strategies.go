package refdata

import (
	"fmt"
	"sync"

	"equity-router/pkg/types"
)

// Strategies caches the strategy table keyed by id.
type Strategies struct {
	mu sync.RWMutex
	base
	data map[int]types.Strategy
}

func NewStrategies(debug bool) *Strategies {
	return &Strategies{base: newBase(debug), data: make(map[int]types.Strategy)}
}

// Update replaces the cache wholesale.
func (s *Strategies) Update(data map[int]types.Strategy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = data
	s.updatedAt = s.now()
}

// Fresh reports whether the cache is within its freshness tolerance.
func (s *Strategies) Fresh() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.freshWithin()
}

// Get returns the strategy or fails when the cache is stale or the id unknown.
func (s *Strategies) Get(id int) (types.Strategy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.freshWithin() {
		return types.Strategy{}, fmt.Errorf("strategies: %w (updated %s)", ErrStale, s.updatedAt)
	}
	st, ok := s.data[id]
	if !ok {
		return types.Strategy{}, fmt.Errorf("strategies: unknown id %d", id)
	}
	return st, nil
}

// Exists reports whether the id is known; fails when the cache is stale.
func (s *Strategies) Exists(id int) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.freshWithin() {
		return false, fmt.Errorf("strategies: %w (updated %s)", ErrStale, s.updatedAt)
	}
	_, ok := s.data[id]
	return ok, nil
}

// IDByName resolves a strategy name to its id, or fallback when unknown.
// Non-strict: callers resolving names from file paths prefer a sentinel over
// an error.
func (s *Strategies) IDByName(name string, fallback int) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, st := range s.data {
		if st.Name == name {
			return st.ID
		}
	}
	return fallback
}

// NameByID resolves a strategy id to its name, or "" when unknown.
func (s *Strategies) NameByID(id int) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if st, ok := s.data[id]; ok {
		return st.Name
	}
	return ""
}
