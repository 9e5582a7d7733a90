package refdata

import (
	"fmt"
	"sync"

	"equity-router/pkg/types"
)

// Snapshots caches the latest quote snapshot per code.
type Snapshots struct {
	mu sync.RWMutex
	base
	data map[string]types.QuoteSnapshot
}

func NewSnapshots(debug bool) *Snapshots {
	return &Snapshots{base: newBase(debug), data: make(map[string]types.QuoteSnapshot)}
}

// Update replaces the cache wholesale.
func (s *Snapshots) Update(data map[string]types.QuoteSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = data
	s.updatedAt = s.now()
}

// Fresh reports whether the cache is within its freshness tolerance.
func (s *Snapshots) Fresh() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.freshWithin()
}

// Get returns the snapshot or fails when the cache is stale or the code unknown.
func (s *Snapshots) Get(code string) (types.QuoteSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.freshWithin() {
		return types.QuoteSnapshot{}, fmt.Errorf("snapshots: %w (updated %s)", ErrStale, s.updatedAt)
	}
	snap, ok := s.data[code]
	if !ok {
		return types.QuoteSnapshot{}, fmt.Errorf("snapshots: no snapshot for %s", code)
	}
	return snap, nil
}

// All returns a copy of the current snapshot map.
func (s *Snapshots) All() map[string]types.QuoteSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]types.QuoteSnapshot, len(s.data))
	for k, v := range s.data {
		out[k] = v
	}
	return out
}
