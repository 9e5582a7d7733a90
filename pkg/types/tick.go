package types

import "github.com/shopspring/decimal"

// Exchange tick table: the legal price increment depends on the price band.
var tickBands = []struct {
	below decimal.Decimal // band upper bound, exclusive
	tick  decimal.Decimal
}{
	{decimal.NewFromInt(10), decimal.RequireFromString("0.01")},
	{decimal.NewFromInt(50), decimal.RequireFromString("0.05")},
	{decimal.NewFromInt(100), decimal.RequireFromString("0.10")},
	{decimal.NewFromInt(500), decimal.RequireFromString("0.50")},
	{decimal.NewFromInt(1000), decimal.NewFromInt(1)},
}

var maxTick = decimal.NewFromInt(5)

// TickUnit returns the legal price increment for p.
func TickUnit(p decimal.Decimal) decimal.Decimal {
	for _, band := range tickBands {
		if p.LessThan(band.below) {
			return band.tick
		}
	}
	return maxTick
}

// SnapToTick rounds p half-up to the nearest legal tick and re-quantizes to
// two decimals. Idempotent: SnapToTick(SnapToTick(p)) == SnapToTick(p).
// Negative prices are returned unchanged.
func SnapToTick(p decimal.Decimal) decimal.Decimal {
	if p.IsNegative() {
		return p
	}
	tick := TickUnit(p)
	ticks := p.Div(tick).Round(0)
	return ticks.Mul(tick).Round(2)
}
