package refdata

import (
	"fmt"
	"sync"

	"equity-router/pkg/types"
)

// probeCodes are liquid instruments whose contract rows must carry today's
// date for the table as a whole to count as current.
var probeCodes = []string{"0050", "00878", "2330", "2317"}

// Contracts caches the daily contract table keyed by code. Freshness is
// date-based: a contract row is current only for its update_date.
type Contracts struct {
	mu sync.RWMutex
	base
	data map[string]types.Contract
}

func NewContracts(debug bool) *Contracts {
	return &Contracts{base: newBase(debug), data: make(map[string]types.Contract)}
}

// Update replaces the cache wholesale.
func (c *Contracts) Update(data map[string]types.Contract) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = data
	c.updatedAt = c.now()
}

// Fresh reports whether the probe contracts carry today's date. A table with
// no rows loaded is never fresh.
func (c *Contracts) Fresh() bool {
	if c.debug {
		return true
	}
	c.mu.RLock()
	empty := len(c.data) == 0
	c.mu.RUnlock()
	if empty {
		return false
	}
	return c.FreshCodes(probeCodes)
}

// FreshCodes reports whether every present code in codes carries today's date.
func (c *Contracts) FreshCodes(codes []string) bool {
	if c.debug {
		return true
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	today := types.Midnight(c.now())
	for _, code := range codes {
		ct, ok := c.data[code]
		if !ok {
			continue
		}
		if !types.SameDate(ct.UpdateDate, today) {
			return false
		}
	}
	return true
}

// Exists reports whether a contract row is loaded for code.
func (c *Contracts) Exists(code string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.data[code]
	return ok
}

// Get returns the contract or fails when the row is missing or not current.
func (c *Contracts) Get(code string) (types.Contract, error) {
	if !c.FreshCodes([]string{code}) {
		return types.Contract{}, fmt.Errorf("contracts: %s: %w", code, ErrStale)
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	ct, ok := c.data[code]
	if !ok {
		return types.Contract{}, fmt.Errorf("contracts: unknown code %s", code)
	}
	return ct, nil
}
