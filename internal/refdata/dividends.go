package refdata

import (
	"fmt"
	"sync"

	"equity-router/pkg/types"
)

// Dividends caches upcoming ex-dividend dates per code. Freshness is
// date-based: the table must have been synced today.
type Dividends struct {
	mu sync.RWMutex
	base
	data map[string]types.ComingDividend
}

func NewDividends(debug bool) *Dividends {
	return &Dividends{base: newBase(debug), data: make(map[string]types.ComingDividend)}
}

// Update replaces the cache wholesale.
func (d *Dividends) Update(data map[string]types.ComingDividend) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.data = data
	d.updatedAt = d.now()
}

// Fresh reports whether the table was synced today.
func (d *Dividends) Fresh() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.freshToday()
}

// Exists reports whether a coming dividend is known for code.
func (d *Dividends) Exists(code string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.data[code]
	return ok
}

// Get returns the coming dividend or fails when stale or unknown.
func (d *Dividends) Get(code string) (types.ComingDividend, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if !d.freshToday() {
		return types.ComingDividend{}, fmt.Errorf("dividends: %w (updated %s)", ErrStale, d.updatedAt)
	}
	div, ok := d.data[code]
	if !ok {
		return types.ComingDividend{}, fmt.Errorf("dividends: no coming dividend for %s", code)
	}
	return div, nil
}
