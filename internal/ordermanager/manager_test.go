package ordermanager

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"equity-router/internal/config"
	"equity-router/internal/ids"
	"equity-router/internal/refdata"
	"equity-router/internal/store"
	"equity-router/pkg/types"
)

func ptr[T any](v T) *T { return &v }

func testEngineConfig() config.EngineConfig {
	return config.EngineConfig{
		TradeStart:        "08:40",
		TradeEnd:          "14:30",
		SignalStart:       "08:00",
		SignalEnd:         "15:00",
		BeforeMarketStart: "08:40",
		BeforeMarketEnd:   "08:59",
		UpdateContracts:   "08:25",
		Reset1:            "08:00",
		Reset2:            "15:30",
		SyncInterval:      30 * time.Second,
		SnapshotInterval:  10 * time.Second,
	}
}

func testManager(t *testing.T) (*Manager, *store.Fake) {
	t.Helper()
	base := t.TempDir()
	obs := config.ObserverConfig{
		BasePath:       base,
		SF31OrdersDir:  "sf31_orders",
		XQSignalsDir:   "xq_signals",
		CallbackDir:    "callbacks",
		OrderFile:      "orders.log",
		TradeFile:      "trades.log",
		PositionFile:   "positions.log",
		CheckpointsDir: filepath.Join(base, "checkpoints"),
	}

	strategies := refdata.NewStrategies(true)
	strategies.Update(map[int]types.Strategy{
		1: {ID: 1, Name: "momentum", Status: true, LeverageRatio: 1.0,
			OrderLowRatio: ptr(-2.35)},
		2: {ID: 2, Name: "plain", Status: true, LeverageRatio: 1.0},
	})
	contracts := refdata.NewContracts(true)
	contracts.Update(map[string]types.Contract{
		"2882": {
			Code:       "2882",
			Reference:  decimal.RequireFromString("44.05"),
			LimitUp:    decimal.RequireFromString("48.45"),
			LimitDown:  decimal.RequireFromString("39.65"),
			UpdateDate: types.Today(),
		},
	})
	calendar := refdata.NewTradingDates(true)
	calendar.Update([]time.Time{types.Today()})

	fake := store.NewFake()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := New(obs, testEngineConfig(), fake, strategies, contracts, calendar,
		ids.NewAllocator(), true, logger)
	return m, fake
}

func buySignal(id string, qty int, price string) types.Signal {
	return types.Signal{
		ID:           id,
		Source:       types.SourceXQ,
		Time:         time.Date(2023, 5, 29, 9, 5, 0, 0, types.Taipei),
		StrategyID:   1,
		SecurityType: types.Stock,
		Code:         "2882",
		OrderType:    types.ROD,
		PriceType:    types.LMT,
		Action:       types.Buy,
		Quantity:     qty,
		Price:        decimal.RequireFromString(price),
	}
}

func TestDecomposeHalfAndHalf(t *testing.T) {
	t.Parallel()

	m, _ := testManager(t)
	strat, err := m.strategies.Get(1)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	slices := m.decompose(buySignal("001", 12, "39.65"), strat)
	if len(slices) != 2 {
		t.Fatalf("slices = %d, want 2", len(slices))
	}
	if slices[0].Quantity != 6 || !slices[0].Price.Equal(decimal.RequireFromString("39.65")) {
		t.Errorf("first slice = %d @ %s, want 6 @ 39.65", slices[0].Quantity, slices[0].Price)
	}
	// 44.05 × (1 − 2.35 %) = 43.014825, snapped to 43.00.
	if slices[1].Quantity != 6 || !slices[1].Price.Equal(decimal.RequireFromString("43.00")) {
		t.Errorf("second slice = %d @ %s, want 6 @ 43.00", slices[1].Quantity, slices[1].Price)
	}
}

func TestDecomposeOddQuantity(t *testing.T) {
	t.Parallel()

	m, _ := testManager(t)
	strat, err := m.strategies.Get(1)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	slices := m.decompose(buySignal("001", 7, "39.65"), strat)
	if len(slices) != 2 {
		t.Fatalf("slices = %d, want 2", len(slices))
	}
	if slices[0].Quantity != 4 {
		t.Errorf("first slice qty = %d, want ceil(7/2) = 4", slices[0].Quantity)
	}
	if slices[1].Quantity != 3 {
		t.Errorf("second slice qty = %d, want floor(7/2) = 3", slices[1].Quantity)
	}
}

func TestDecomposeSellGoesWhole(t *testing.T) {
	t.Parallel()

	m, _ := testManager(t)
	strat, err := m.strategies.Get(1)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	sig := buySignal("001", 12, "39.65")
	sig.Action = types.Sell
	slices := m.decompose(sig, strat)
	if len(slices) != 1 {
		t.Fatalf("slices = %d, want 1", len(slices))
	}
	if slices[0].Quantity != 12 || !slices[0].Price.Equal(decimal.RequireFromString("39.65")) {
		t.Errorf("slice = %d @ %s", slices[0].Quantity, slices[0].Price)
	}
}

func TestDecomposeExitSignalGoesWhole(t *testing.T) {
	t.Parallel()

	m, _ := testManager(t)
	strat, err := m.strategies.Get(1)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	sig := buySignal("a1b2c3d4e5f60718", 5, "48.45")
	sig.Source = types.SourceExitHandler
	sig.ExitType = types.ExitByStopLoss
	slices := m.decompose(sig, strat)
	if len(slices) != 1 {
		t.Fatalf("slices = %d, want 1 for exit signals", len(slices))
	}
}

func TestDecomposeNoLowRatio(t *testing.T) {
	t.Parallel()

	m, _ := testManager(t)
	strat, err := m.strategies.Get(2)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	sig := buySignal("001", 12, "39.65")
	sig.StrategyID = 2
	slices := m.decompose(sig, strat)
	if len(slices) != 1 {
		t.Fatalf("slices = %d, want 1 without an order-low ratio", len(slices))
	}
}

func TestFormatSF31Line(t *testing.T) {
	t.Parallel()

	bo := types.BrokerOrder{
		SignalID:     "004",
		Time:         time.Unix(1685287818, 698434000).In(types.Taipei),
		StrategyID:   1,
		SecurityType: types.Stock,
		Code:         "4129",
		OrderType:    types.ROD,
		Action:       types.Sell,
		Quantity:     8,
		Price:        decimal.RequireFromString("56.6"),
	}
	want := "004,Stock,1685287818.698434,4129,ROD,S,8,56.6\n"
	if got := FormatSF31Line(bo); got != want {
		t.Errorf("FormatSF31Line = %q, want %q", got, want)
	}
}

func TestExecuteWritesLogAndStore(t *testing.T) {
	t.Parallel()

	m, fake := testManager(t)
	ctx := context.Background()

	m.execute(ctx, buySignal("001", 12, "39.65"))

	path := filepath.Join(m.obs.BasePath, m.obs.SF31OrdersDir, "momentum", "Buy.log")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read Buy.log: %v", err)
	}
	lines := 0
	for _, b := range data {
		if b == '\n' {
			lines++
		}
	}
	if lines != 2 {
		t.Errorf("Buy.log lines = %d, want 2", lines)
	}
	if len(fake.BrokerOrders) != 2 {
		t.Errorf("persisted broker orders = %d, want 2", len(fake.BrokerOrders))
	}

	for i := 0; i < 2; i++ {
		select {
		case bo := <-m.Out():
			if bo.SignalID != "001" {
				t.Errorf("emitted order signal id = %q", bo.SignalID)
			}
		default:
			t.Fatal("expected emitted broker order")
		}
	}
}

func TestProcessBatchRecordsOffsets(t *testing.T) {
	t.Parallel()

	m, fake := testManager(t)
	ctx := context.Background()

	sell := buySignal("002", 4, "44.00")
	sell.Action = types.Sell
	batch := Batch{
		Code:  "2882",
		Buys:  []types.Signal{buySignal("001", 4, "44.00")},
		Sells: []types.Signal{sell},
	}

	m.processBatch(ctx, batch)

	// Fully offset: two synthetic orders and trades, nothing routed.
	if len(fake.Orders) != 2 {
		t.Fatalf("orders = %d, want 2 synthetic", len(fake.Orders))
	}
	if len(fake.Trades) != 2 {
		t.Fatalf("trades = %d, want 2 synthetic", len(fake.Trades))
	}
	ref := decimal.RequireFromString("44.05")
	for _, ord := range fake.Orders {
		if !ord.Price.Equal(ref) {
			t.Errorf("offset fill price = %s, want reference %s", ord.Price, ref)
		}
		if len(ord.OrderID) != 5 {
			t.Errorf("offset order id = %q, want 5 hex chars", ord.OrderID)
		}
	}
	for _, tr := range fake.Trades {
		if len(tr.Seqno) != 12 {
			t.Errorf("offset seqno = %q, want 12 hex chars", tr.Seqno)
		}
	}
	if len(fake.BrokerOrders) != 0 {
		t.Errorf("broker orders = %d, want none for a full offset", len(fake.BrokerOrders))
	}
	select {
	case bo := <-m.Out():
		t.Errorf("unexpected routed order %+v", bo)
	default:
	}
}

func TestProcessBatchRoutesRemainder(t *testing.T) {
	t.Parallel()

	m, fake := testManager(t)
	ctx := context.Background()

	sell := buySignal("002", 2, "44.00")
	sell.Action = types.Sell
	batch := Batch{
		Code:  "2882",
		Buys:  []types.Signal{buySignal("001", 12, "39.65")},
		Sells: []types.Signal{sell},
	}

	m.processBatch(ctx, batch)

	// 2 offset against the sell; 10 released and split 5 + 5.
	if len(fake.BrokerOrders) != 2 {
		t.Fatalf("broker orders = %d, want 2", len(fake.BrokerOrders))
	}
	if fake.BrokerOrders[0].Quantity != 5 || fake.BrokerOrders[1].Quantity != 5 {
		t.Errorf("released quantities = %d, %d, want 5 and 5",
			fake.BrokerOrders[0].Quantity, fake.BrokerOrders[1].Quantity)
	}
}
