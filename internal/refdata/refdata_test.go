package refdata

import (
	"errors"
	"testing"
	"time"

	"equity-router/pkg/types"
)

// fixedClock pins a cache's clock so freshness windows are deterministic.
func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestStrategiesFreshness(t *testing.T) {
	t.Parallel()

	now := time.Date(2023, 5, 29, 9, 0, 0, 0, types.Taipei)
	s := NewStrategies(false)
	s.now = fixedClock(now)

	if s.Fresh() {
		t.Error("empty cache must not be fresh")
	}
	if _, err := s.Get(1); !errors.Is(err, ErrStale) {
		t.Errorf("Get on never-updated cache: err = %v, want ErrStale", err)
	}

	s.Update(map[int]types.Strategy{1: {ID: 1, Name: "momentum"}})
	if !s.Fresh() {
		t.Error("cache must be fresh right after update")
	}
	st, err := s.Get(1)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if st.Name != "momentum" {
		t.Errorf("Get(1).Name = %q", st.Name)
	}

	s.now = fixedClock(now.Add(DefaultTolerance + time.Second))
	if s.Fresh() {
		t.Error("cache must go stale past the tolerance")
	}
	if _, err := s.Get(1); !errors.Is(err, ErrStale) {
		t.Errorf("Get on stale cache: err = %v, want ErrStale", err)
	}
}

func TestStrategiesIDByName(t *testing.T) {
	t.Parallel()

	s := NewStrategies(true)
	s.Update(map[int]types.Strategy{
		3: {ID: 3, Name: "swing"},
		9: {ID: 9, Name: "intraday"},
	})

	if got := s.IDByName("swing", 0); got != 3 {
		t.Errorf("IDByName(swing) = %d, want 3", got)
	}
	if got := s.IDByName("unknown", 7); got != 7 {
		t.Errorf("IDByName(unknown) = %d, want fallback 7", got)
	}
	if got := s.NameByID(9); got != "intraday" {
		t.Errorf("NameByID(9) = %q", got)
	}
}

func TestContractsDateFreshness(t *testing.T) {
	t.Parallel()

	now := time.Date(2023, 5, 29, 9, 0, 0, 0, types.Taipei)
	today := types.Midnight(now)
	c := NewContracts(false)
	c.now = fixedClock(now)

	c.Update(map[string]types.Contract{
		"2330": {Code: "2330", UpdateDate: today},
		"0050": {Code: "0050", UpdateDate: today},
	})
	if !c.Fresh() {
		t.Error("probe contracts dated today must be fresh")
	}

	c.Update(map[string]types.Contract{
		"2330": {Code: "2330", UpdateDate: today.AddDate(0, 0, -1)},
	})
	if c.Fresh() {
		t.Error("a probe contract dated yesterday must not be fresh")
	}
	if _, err := c.Get("2330"); !errors.Is(err, ErrStale) {
		t.Errorf("Get of outdated contract: err = %v, want ErrStale", err)
	}
}

func TestContractsEmptyNeverFresh(t *testing.T) {
	t.Parallel()

	now := time.Date(2023, 5, 29, 9, 0, 0, 0, types.Taipei)
	c := NewContracts(false)
	c.now = fixedClock(now)

	if c.Fresh() {
		t.Error("a contract table with no rows loaded must not report fresh")
	}

	c.Update(map[string]types.Contract{
		"2330": {Code: "2330", UpdateDate: types.Midnight(now)},
	})
	if !c.Fresh() {
		t.Error("a loaded table dated today must be fresh")
	}
}

func TestTradingDatesNextN(t *testing.T) {
	t.Parallel()

	now := time.Date(2023, 5, 29, 9, 0, 0, 0, types.Taipei)
	day := func(d int) time.Time { return time.Date(2023, 5, d, 0, 0, 0, 0, types.Taipei) }

	cal := NewTradingDates(false)
	cal.now = fixedClock(now)
	cal.Update([]time.Time{day(25), day(26), day(29), day(30), day(31)})

	got, err := cal.NextN(day(25), 1)
	if err != nil {
		t.Fatalf("NextN: %v", err)
	}
	if !got.Equal(day(26)) {
		t.Errorf("NextN(25th, 1) = %s, want 26th", got)
	}

	got, err = cal.NextN(day(26), 1)
	if err != nil {
		t.Fatalf("NextN: %v", err)
	}
	if !got.Equal(day(29)) {
		t.Errorf("NextN(26th, 1) = %s, want 29th (weekend skipped)", got)
	}

	if _, err := cal.NextN(day(27), 1); err == nil {
		t.Error("NextN from a non-trading date must fail outside debug")
	}
	if _, err := cal.NextN(day(29), 10); err == nil {
		t.Error("NextN past the calendar end must fail")
	}
}

func TestTradingDatesNextNDebugWalkback(t *testing.T) {
	t.Parallel()

	now := time.Date(2023, 5, 28, 9, 0, 0, 0, types.Taipei)
	day := func(d int) time.Time { return time.Date(2023, 5, d, 0, 0, 0, 0, types.Taipei) }

	cal := NewTradingDates(true)
	cal.now = fixedClock(now)
	cal.Update([]time.Time{day(25), day(26), day(29)})

	// 28th is a Sunday: debug walks back to the 26th before stepping.
	got, err := cal.NextN(day(28), 1)
	if err != nil {
		t.Fatalf("NextN: %v", err)
	}
	if !got.Equal(day(29)) {
		t.Errorf("NextN(28th, 1) = %s, want 29th", got)
	}

	if _, err := cal.NextN(day(24).AddDate(0, 0, -30), 1); err == nil {
		t.Error("NextN before the calendar start must fail even in debug")
	}
}

func TestTradingDatesIsTradingDate(t *testing.T) {
	t.Parallel()

	now := time.Date(2023, 5, 29, 9, 0, 0, 0, types.Taipei)
	cal := NewTradingDates(false)
	cal.now = fixedClock(now)
	cal.Update([]time.Time{types.Midnight(now)})

	trading, err := cal.IsTradingDate()
	if err != nil {
		t.Fatalf("IsTradingDate: %v", err)
	}
	if !trading {
		t.Error("today is in the calendar, expected trading date")
	}

	cal.Update([]time.Time{types.Midnight(now).AddDate(0, 0, 1)})
	trading, err = cal.IsTradingDate()
	if err != nil {
		t.Fatalf("IsTradingDate: %v", err)
	}
	if trading {
		t.Error("today is not in the calendar, expected non-trading date")
	}
}

func TestPositionsCodes(t *testing.T) {
	t.Parallel()

	p := NewPositions(true)
	p.Update(map[types.StrategyCode]types.Position{
		{Strategy: 1, Code: "2330"}: {Strategy: 1, Code: "2330", Qty: 2},
		{Strategy: 2, Code: "2330"}: {Strategy: 2, Code: "2330", Qty: 1},
		{Strategy: 1, Code: "0050"}: {Strategy: 1, Code: "0050", Qty: 3},
	})

	if got := len(p.StrategyCodes()); got != 3 {
		t.Errorf("StrategyCodes() len = %d, want 3", got)
	}
	if got := len(p.Codes()); got != 2 {
		t.Errorf("Codes() len = %d, want 2 distinct", got)
	}

	pos, err := p.Get(2, "2330")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if pos.Qty != 1 {
		t.Errorf("Get(2, 2330).Qty = %d", pos.Qty)
	}
}

func TestDividendsFreshToday(t *testing.T) {
	t.Parallel()

	now := time.Date(2023, 5, 29, 9, 0, 0, 0, types.Taipei)
	d := NewDividends(false)
	d.now = fixedClock(now)
	d.Update(map[string]types.ComingDividend{"2330": {Code: "2330", ExDate: now.AddDate(0, 0, 3)}})

	if !d.Fresh() {
		t.Error("dividends synced today must be fresh")
	}
	if !d.Exists("2330") {
		t.Error("expected dividend for 2330")
	}

	d.now = fixedClock(now.AddDate(0, 0, 1))
	if d.Fresh() {
		t.Error("dividends synced yesterday must be stale")
	}
	if _, err := d.Get("2330"); !errors.Is(err, ErrStale) {
		t.Errorf("Get on stale dividends: err = %v, want ErrStale", err)
	}
}
