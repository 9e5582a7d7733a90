package refdata

import (
	"fmt"
	"sync"

	"equity-router/pkg/types"
)

// Positions caches open positions keyed by (strategy, code), replaced
// wholesale from the store's FIFO position view.
type Positions struct {
	mu sync.RWMutex
	base
	data map[types.StrategyCode]types.Position
}

func NewPositions(debug bool) *Positions {
	return &Positions{base: newBase(debug), data: make(map[types.StrategyCode]types.Position)}
}

// Update replaces the cache wholesale.
func (p *Positions) Update(data map[types.StrategyCode]types.Position) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.data = data
	p.updatedAt = p.now()
}

// Fresh reports whether the cache is within its freshness tolerance.
func (p *Positions) Fresh() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.freshWithin()
}

// Get returns one position or fails when the cache is stale or the key unknown.
func (p *Positions) Get(strategy int, code string) (types.Position, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.freshWithin() {
		return types.Position{}, fmt.Errorf("positions: %w (updated %s)", ErrStale, p.updatedAt)
	}
	pos, ok := p.data[types.StrategyCode{Strategy: strategy, Code: code}]
	if !ok {
		return types.Position{}, fmt.Errorf("positions: no position for %d/%s", strategy, code)
	}
	return pos, nil
}

// Exists reports whether a (strategy, code) position is held.
func (p *Positions) Exists(strategy int, code string) (bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.freshWithin() {
		return false, fmt.Errorf("positions: %w (updated %s)", ErrStale, p.updatedAt)
	}
	_, ok := p.data[types.StrategyCode{Strategy: strategy, Code: code}]
	return ok, nil
}

// StrategyCodes lists every (strategy, code) key currently held.
func (p *Positions) StrategyCodes() []types.StrategyCode {
	p.mu.RLock()
	defer p.mu.RUnlock()
	keys := make([]types.StrategyCode, 0, len(p.data))
	for k := range p.data {
		keys = append(keys, k)
	}
	return keys
}

// Codes lists the distinct codes across all strategies.
func (p *Positions) Codes() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	seen := make(map[string]struct{}, len(p.data))
	codes := make([]string, 0, len(p.data))
	for k := range p.data {
		if _, ok := seen[k.Code]; ok {
			continue
		}
		seen[k.Code] = struct{}{}
		codes = append(codes, k.Code)
	}
	return codes
}
