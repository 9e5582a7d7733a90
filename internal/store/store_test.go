package store

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"equity-router/pkg/types"
)

var monday = time.Date(2023, 5, 29, 9, 5, 0, 0, types.Taipei)

func TestSaveSignalDedup(t *testing.T) {
	t.Parallel()

	f := NewFake()
	ctx := context.Background()
	sig := types.Signal{ID: "001", Time: monday, Code: "2882", Quantity: 5,
		Price: decimal.RequireFromString("44.00")}
	dec := types.Decision{Validated: true}

	if err := f.SaveSignal(ctx, sig, dec); err != nil {
		t.Fatalf("SaveSignal: %v", err)
	}
	// Same id on the same date is a replay.
	if err := f.SaveSignal(ctx, sig, dec); err != nil {
		t.Fatalf("SaveSignal replay: %v", err)
	}
	if len(f.Signals) != 1 {
		t.Errorf("signals = %d, want 1", len(f.Signals))
	}

	// Same id rolls over on the next day.
	sig.Time = monday.AddDate(0, 0, 1)
	if err := f.SaveSignal(ctx, sig, dec); err != nil {
		t.Fatalf("SaveSignal next day: %v", err)
	}
	if len(f.Signals) != 2 {
		t.Errorf("signals = %d, want 2", len(f.Signals))
	}
}

func TestSaveOrderDedup(t *testing.T) {
	t.Parallel()

	f := NewFake()
	ctx := context.Background()
	ord := types.Order{OrderID: "W003U", Time: monday, Code: "2882", Qty: 5}

	for i := 0; i < 2; i++ {
		if err := f.SaveOrder(ctx, ord); err != nil {
			t.Fatalf("SaveOrder: %v", err)
		}
	}
	if len(f.Orders) != 1 {
		t.Errorf("orders = %d, want 1", len(f.Orders))
	}

	// The broker's placeholder id is never deduped.
	ord.OrderID = "00000"
	for i := 0; i < 2; i++ {
		if err := f.SaveOrder(ctx, ord); err != nil {
			t.Fatalf("SaveOrder placeholder: %v", err)
		}
	}
	if len(f.Orders) != 3 {
		t.Errorf("orders = %d, want 3 (placeholders kept)", len(f.Orders))
	}
}

func TestSaveTradeDedup(t *testing.T) {
	t.Parallel()

	f := NewFake()
	ctx := context.Background()
	tr := types.Trade{OrderID: "W003U", Seqno: "100000038840", Time: monday, Code: "2882"}

	for i := 0; i < 2; i++ {
		if err := f.SaveTrade(ctx, tr); err != nil {
			t.Fatalf("SaveTrade: %v", err)
		}
	}
	if len(f.Trades) != 1 {
		t.Errorf("trades = %d, want 1", len(f.Trades))
	}

	tr.Seqno = "100000038841"
	if err := f.SaveTrade(ctx, tr); err != nil {
		t.Fatalf("SaveTrade: %v", err)
	}
	if len(f.Trades) != 2 {
		t.Errorf("trades = %d, want 2 after a new seqno", len(f.Trades))
	}
}

func TestUpdateBrokerOrderID(t *testing.T) {
	t.Parallel()

	f := NewFake()
	ctx := context.Background()
	bo := types.BrokerOrder{
		SignalID: "001", Time: monday, StrategyID: 3, Code: "2882",
		Action: types.Buy, Quantity: 5, Price: decimal.RequireFromString("48.45"),
	}
	if err := f.SaveBrokerOrder(ctx, bo); err != nil {
		t.Fatalf("SaveBrokerOrder: %v", err)
	}
	if err := f.SaveBrokerOrder(ctx, bo); err != nil {
		t.Fatalf("SaveBrokerOrder replay: %v", err)
	}
	if len(f.BrokerOrders) != 1 {
		t.Fatalf("broker orders = %d, want 1", len(f.BrokerOrders))
	}

	bo.OrderID = "W003U"
	if err := f.UpdateBrokerOrderID(ctx, bo); err != nil {
		t.Fatalf("UpdateBrokerOrderID: %v", err)
	}
	if f.BrokerOrders[0].OrderID != "W003U" {
		t.Errorf("order id = %q, want W003U", f.BrokerOrders[0].OrderID)
	}
}

func TestSavePositionsReplaces(t *testing.T) {
	t.Parallel()

	f := NewFake()
	ctx := context.Background()

	first := types.SF31Position{Code: "2882", Shares: 5000}
	if err := f.SavePositions(ctx, []types.SF31Position{first}); err != nil {
		t.Fatalf("SavePositions: %v", err)
	}
	update := types.SF31Position{Code: "2882", Shares: 3000}
	other := types.SF31Position{Code: "2330", Shares: 1000}
	if err := f.SavePositions(ctx, []types.SF31Position{update, other}); err != nil {
		t.Fatalf("SavePositions: %v", err)
	}

	if len(f.PositionRows) != 2 {
		t.Fatalf("rows = %d, want 2", len(f.PositionRows))
	}
	if f.PositionRows[0].Shares != 3000 {
		t.Errorf("2882 shares = %d, want replaced with 3000", f.PositionRows[0].Shares)
	}
}
