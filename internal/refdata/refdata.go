// Package refdata holds the shared reference caches: strategies, positions,
// contracts, quote snapshots, trading dates, and coming dividends.
//
// Each cache is a multi-reader/single-writer snapshot replaced wholesale by
// the engine's sync job. Readers either probe freshness with Fresh() or use
// the strict getters, which fail with an ErrStale-wrapped error when the
// freshness predicate no longer holds. A debug cache short-circuits every
// freshness check to true.
package refdata

import (
	"errors"
	"time"

	"equity-router/pkg/types"
)

// ErrStale marks reference data that has outlived its freshness tolerance.
var ErrStale = errors.New("reference data outdated")

// DefaultTolerance is the shared freshness window for the time-based caches.
const DefaultTolerance = 60 * time.Second

// base carries the fields every cache shares. The now hook exists for tests.
type base struct {
	updatedAt time.Time
	tolerance time.Duration
	debug     bool
	now       func() time.Time
}

func newBase(debug bool) base {
	return base{tolerance: DefaultTolerance, debug: debug, now: types.Now}
}

// freshWithin is the now − updatedAt ≤ tolerance predicate.
func (b *base) freshWithin() bool {
	if b.debug {
		return true
	}
	if b.updatedAt.IsZero() {
		return false
	}
	return b.now().Sub(b.updatedAt) <= b.tolerance
}

// freshToday is the updated-on-the-current-date predicate.
func (b *base) freshToday() bool {
	if b.debug {
		return true
	}
	if b.updatedAt.IsZero() {
		return false
	}
	return types.SameDate(b.now(), b.updatedAt)
}

// UpdatedAt returns the time of the last wholesale replacement.
func (b *base) UpdatedAt() time.Time {
	return b.updatedAt
}
