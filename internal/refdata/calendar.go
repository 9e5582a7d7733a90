package refdata

import (
	"fmt"
	"sync"
	"time"

	"equity-router/pkg/types"
)

// TradingDates caches the ordered trading-date calendar. Freshness is
// date-based: the calendar must have been synced today.
type TradingDates struct {
	mu sync.RWMutex
	base
	dates []time.Time
	index map[time.Time]int

	today     time.Time
	tradeDate bool // today is in the calendar
}

func NewTradingDates(debug bool) *TradingDates {
	return &TradingDates{base: newBase(debug), index: make(map[time.Time]int)}
}

// Update replaces the calendar wholesale. Dates must be ascending.
func (t *TradingDates) Update(dates []time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dates = make([]time.Time, len(dates))
	t.index = make(map[time.Time]int, len(dates))
	for i, d := range dates {
		d = types.Midnight(d)
		t.dates[i] = d
		t.index[d] = i
	}
	t.updatedAt = t.now()
	t.today = types.Midnight(t.updatedAt)
	_, t.tradeDate = t.index[t.today]
}

// Fresh reports whether the calendar was synced today.
func (t *TradingDates) Fresh() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.freshToday()
}

// IsTradingDate reports whether today is a trading date.
// Always true in debug.
func (t *TradingDates) IsTradingDate() (bool, error) {
	if t.debug {
		return true, nil
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	if !t.freshToday() {
		return false, fmt.Errorf("trading dates: %w (updated %s)", ErrStale, t.updatedAt)
	}
	return t.tradeDate, nil
}

// NextN returns the trading date n positions after base. In debug, a base
// missing from the calendar walks back one calendar day at a time, matching
// weekend replays against a live calendar.
func (t *TradingDates) NextN(base time.Time, n int) (time.Time, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if !t.freshToday() {
		return time.Time{}, fmt.Errorf("trading dates: %w (updated %s)", ErrStale, t.updatedAt)
	}
	return t.nextNLocked(types.Midnight(base), n)
}

func (t *TradingDates) nextNLocked(base time.Time, n int) (time.Time, error) {
	if len(t.dates) == 0 {
		return time.Time{}, fmt.Errorf("trading dates: calendar empty")
	}
	for {
		idx, ok := t.index[base]
		if ok {
			if idx+n < len(t.dates) {
				return t.dates[idx+n], nil
			}
		}
		if !t.debug || base.Before(t.dates[0]) {
			return time.Time{}, fmt.Errorf("trading dates: %s not in calendar or %d days out of range",
				base.Format("2006-01-02"), n)
		}
		base = base.AddDate(0, 0, -1)
	}
}
