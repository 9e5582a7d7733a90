package store

import (
	"context"
	"sync"
	"time"

	"equity-router/pkg/types"
)

// SavedSignal is one SaveSignal call recorded by the Fake.
type SavedSignal struct {
	Signal   types.Signal
	Decision types.Decision
}

// Fake is an in-memory Store for tests and debug runs. Reference data is
// seeded directly onto the exported fields; save calls are recorded with the
// same dedup keys the Postgres implementation enforces.
type Fake struct {
	mu sync.Mutex

	Strategies map[int]types.Strategy
	Positions  map[types.StrategyCode]types.Position
	Contracts  map[string]types.Contract
	Snapshots  map[string]types.QuoteSnapshot
	Dates      []time.Time
	Dividends  map[string]types.ComingDividend

	Signals      []SavedSignal
	BrokerOrders []types.BrokerOrder
	Orders       []types.Order
	Trades       []types.Trade
	PositionRows []types.SF31Position
}

func NewFake() *Fake {
	return &Fake{
		Strategies: make(map[int]types.Strategy),
		Positions:  make(map[types.StrategyCode]types.Position),
		Contracts:  make(map[string]types.Contract),
		Snapshots:  make(map[string]types.QuoteSnapshot),
		Dividends:  make(map[string]types.ComingDividend),
	}
}

var _ Store = (*Fake)(nil)

func (f *Fake) GetStrategies(context.Context) (map[int]types.Strategy, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[int]types.Strategy, len(f.Strategies))
	for k, v := range f.Strategies {
		out[k] = v
	}
	return out, nil
}

func (f *Fake) GetPositions(context.Context) (map[types.StrategyCode]types.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[types.StrategyCode]types.Position, len(f.Positions))
	for k, v := range f.Positions {
		out[k] = v
	}
	return out, nil
}

func (f *Fake) GetContracts(context.Context) (map[string]types.Contract, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]types.Contract, len(f.Contracts))
	for k, v := range f.Contracts {
		out[k] = v
	}
	return out, nil
}

func (f *Fake) GetQuoteSnapshots(_ context.Context, codes []string) (map[string]types.QuoteSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]types.QuoteSnapshot)
	for _, code := range codes {
		if s, ok := f.Snapshots[code]; ok {
			out[code] = s
		}
	}
	return out, nil
}

func (f *Fake) GetTradingDates(context.Context) ([]time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Time(nil), f.Dates...), nil
}

func (f *Fake) GetComingDividends(context.Context) (map[string]types.ComingDividend, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]types.ComingDividend, len(f.Dividends))
	for k, v := range f.Dividends {
		out[k] = v
	}
	return out, nil
}

func (f *Fake) SaveSignal(_ context.Context, sig types.Signal, dec types.Decision) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.Signals {
		if s.Signal.ID == sig.ID && types.SameDate(s.Signal.Time, sig.Time) {
			return nil
		}
	}
	f.Signals = append(f.Signals, SavedSignal{Signal: sig, Decision: dec})
	return nil
}

func (f *Fake) SaveBrokerOrder(_ context.Context, o types.BrokerOrder) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, b := range f.BrokerOrders {
		if b.SignalID == o.SignalID && b.Time.Equal(o.Time) && b.StrategyID == o.StrategyID &&
			b.Code == o.Code && b.Quantity == o.Quantity && b.Price.Equal(o.Price) {
			return nil
		}
	}
	f.BrokerOrders = append(f.BrokerOrders, o)
	return nil
}

func (f *Fake) UpdateBrokerOrderID(_ context.Context, o types.BrokerOrder) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, b := range f.BrokerOrders {
		if b.SignalID == o.SignalID && b.StrategyID == o.StrategyID && b.Time.Equal(o.Time) &&
			b.Code == o.Code && b.Price.Equal(o.Price) && b.Quantity == o.Quantity &&
			b.Action == o.Action {
			f.BrokerOrders[i].OrderID = o.OrderID
		}
	}
	return nil
}

func (f *Fake) SaveOrder(_ context.Context, o types.Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if o.OrderID != "00000" {
		for _, x := range f.Orders {
			if x.OrderID == o.OrderID && types.SameDate(x.Time, o.Time) {
				return nil
			}
		}
	}
	f.Orders = append(f.Orders, o)
	return nil
}

func (f *Fake) SaveTrade(_ context.Context, t types.Trade) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, x := range f.Trades {
		if x.OrderID == t.OrderID && x.Seqno == t.Seqno && types.SameDate(x.Time, t.Time) {
			return nil
		}
	}
	f.Trades = append(f.Trades, t)
	return nil
}

func (f *Fake) SavePositions(_ context.Context, ps []types.SF31Position) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, in := range ps {
		replaced := false
		for i, cur := range f.PositionRows {
			if cur.Code == in.Code {
				f.PositionRows[i] = in
				replaced = true
				break
			}
		}
		if !replaced {
			f.PositionRows = append(f.PositionRows, in)
		}
	}
	return nil
}

func (f *Fake) Ping(context.Context) error { return nil }

func (f *Fake) Close() {}
