package types

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestSnapToTick(t *testing.T) {
	t.Parallel()

	cases := []struct {
		price    string
		expected string
	}{
		{"9.011", "9.01"},
		{"9.015", "9.02"},
		{"9.019", "9.02"},
		{"10.021", "10.00"},
		{"10.025", "10.05"},
		{"10.026", "10.05"},
		{"50.11", "50.10"},
		{"50.15", "50.20"},
		{"50.16", "50.20"},
		{"100.16", "100.00"},
		{"100.49", "100.50"},
		{"100.51", "100.50"},
		{"500.40", "500.00"},
		{"500.49", "500.00"},
		{"500.50", "501.00"},
		{"1002.4", "1000"},
		{"1002.5", "1005"},
		{"1004.0", "1005"},
	}
	for _, tc := range cases {
		got := SnapToTick(decimal.RequireFromString(tc.price))
		want := decimal.RequireFromString(tc.expected)
		if !got.Equal(want) {
			t.Errorf("SnapToTick(%s) = %s, want %s", tc.price, got, want)
		}
	}
}

func TestSnapToTickIdempotent(t *testing.T) {
	t.Parallel()

	for _, price := range []string{"9.015", "10.026", "50.15", "100.49", "500.50", "1002.5"} {
		once := SnapToTick(decimal.RequireFromString(price))
		twice := SnapToTick(once)
		if !once.Equal(twice) {
			t.Errorf("SnapToTick not idempotent for %s: %s != %s", price, once, twice)
		}
	}
}

func TestSnapToTickNegative(t *testing.T) {
	t.Parallel()

	p := decimal.RequireFromString("-3.27")
	if got := SnapToTick(p); !got.Equal(p) {
		t.Errorf("SnapToTick(-3.27) = %s, want input unchanged", got)
	}
}

func TestTickUnitBands(t *testing.T) {
	t.Parallel()

	cases := []struct {
		price string
		tick  string
	}{
		{"9.99", "0.01"},
		{"10", "0.05"},
		{"49.99", "0.05"},
		{"50", "0.10"},
		{"99.99", "0.10"},
		{"100", "0.50"},
		{"499.99", "0.50"},
		{"500", "1"},
		{"999.99", "1"},
		{"1000", "5"},
		{"2500", "5"},
	}
	for _, tc := range cases {
		got := TickUnit(decimal.RequireFromString(tc.price))
		if !got.Equal(decimal.RequireFromString(tc.tick)) {
			t.Errorf("TickUnit(%s) = %s, want %s", tc.price, got, tc.tick)
		}
	}
}
