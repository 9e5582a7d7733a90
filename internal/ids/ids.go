// Package ids allocates the identifiers the engine mints: signal ids,
// synthetic order ids, and synthetic trade seqnos. The engine owns a single
// Allocator and injects it into the workers that need one.
package ids

import (
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Allocator hands out ids. Safe for concurrent use.
type Allocator struct {
	mu      sync.Mutex
	counter int
}

func NewAllocator() *Allocator {
	return &Allocator{}
}

// SignalID returns the next rolling 3-digit signal id ("001".."999", "000").
// Upstream signals use these; uniqueness holds within one trading day
// because the counter far outlives the daily signal volume.
func (a *Allocator) SignalID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.counter = (a.counter + 1) % 1000
	return fmt.Sprintf("%03d", a.counter)
}

// ExitSignalID returns a random 16-hex signal id for exit-handler signals.
func (a *Allocator) ExitSignalID() string {
	return randomHex(8)
}

// OrderID returns a random 5-hex order id for synthetic offset fills.
func (a *Allocator) OrderID() string {
	return randomHex(3)[:5]
}

// Seqno returns a random 12-hex trade seqno for synthetic offset fills.
func (a *Allocator) Seqno() string {
	return randomHex(6)
}

func randomHex(nbytes int) string {
	u := uuid.New()
	return hex.EncodeToString(u[:nbytes])
}
