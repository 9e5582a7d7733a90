// Package ordermanager turns validated signals into broker orders.
//
// Signals pass through the Collector, which cancels opposing interest per
// code before release. Released buys are split half at the signal price and
// half at a shaded price derived from the contract reference; sells and exit
// signals go out whole. Emitted orders are appended to the broker-watched
// SF31 log tree and handed to the engine for callback correlation.
package ordermanager

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"

	"equity-router/internal/config"
	"equity-router/internal/ids"
	"equity-router/internal/refdata"
	"equity-router/internal/store"
	"equity-router/pkg/types"
)

const (
	idleSleep        = 10 * time.Millisecond
	systemCheckSleep = 10 * time.Second
)

// Manager is the order-routing worker.
type Manager struct {
	obs    config.ObserverConfig
	st     store.Store
	logger *slog.Logger

	strategies *refdata.Strategies
	contracts  *refdata.Contracts
	calendar   *refdata.TradingDates
	alloc      *ids.Allocator

	debug      bool
	now        func() time.Time
	tradeStart config.Clock
	tradeEnd   config.Clock

	collector *Collector
	in        chan types.Signal
	out       chan types.BrokerOrder
}

func New(
	obs config.ObserverConfig,
	eng config.EngineConfig,
	st store.Store,
	strategies *refdata.Strategies,
	contracts *refdata.Contracts,
	calendar *refdata.TradingDates,
	alloc *ids.Allocator,
	debug bool,
	logger *slog.Logger,
) *Manager {
	return &Manager{
		obs:        obs,
		st:         st,
		logger:     logger.With("component", "order_manager"),
		strategies: strategies,
		contracts:  contracts,
		calendar:   calendar,
		alloc:      alloc,
		debug:      debug,
		now:        types.Now,
		tradeStart: config.MustClock(eng.TradeStart),
		tradeEnd:   config.MustClock(eng.TradeEnd),
		collector:  NewCollector(debug),
		in:         make(chan types.Signal, 256),
		out:        make(chan types.BrokerOrder, 256),
	}
}

// In is the validated-signal input channel.
func (m *Manager) In() chan<- types.Signal { return m.in }

// Out streams emitted broker orders awaiting callback correlation.
func (m *Manager) Out() <-chan types.BrokerOrder { return m.out }

// Reset discards collected signals. Called by the engine at the daily resets.
func (m *Manager) Reset() {
	m.logger.Info("reset order manager")
	m.collector.Reset()
}

// Run processes signals until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) {
	m.logger.Info("start order manager")
	defer m.logger.Info("shutdown order manager")

	for {
		if ctx.Err() != nil {
			return
		}
		if !m.systemCheck() {
			m.sleep(ctx, systemCheckSleep)
			continue
		}

	drain:
		for {
			select {
			case sig := <-m.in:
				m.collector.Add(sig)
			default:
				break drain
			}
		}

		for _, batch := range m.collector.Ripe() {
			m.processBatch(ctx, batch)
		}

		m.sleep(ctx, idleSleep)
	}
}

// systemCheck gates routing: trade hours, trading date, and fresh
// contract/strategy tables.
func (m *Manager) systemCheck() bool {
	if !m.debug && !config.Within(m.now(), m.tradeStart, m.tradeEnd) {
		return false
	}
	trading, err := m.calendar.IsTradingDate()
	if err != nil || !trading {
		return false
	}
	return m.contracts.Fresh() && m.strategies.Fresh()
}

func (m *Manager) processBatch(ctx context.Context, batch Batch) {
	pairs, buys, sells := Offset(batch.Buys, batch.Sells)
	for _, p := range pairs {
		m.recordOffset(ctx, p)
	}
	for _, sig := range buys {
		m.execute(ctx, sig)
	}
	for _, sig := range sells {
		m.execute(ctx, sig)
	}
}

// recordOffset persists an internally-cancelled pair as synthetic order and
// trade rows filled at the contract reference price. Nothing is routed.
func (m *Manager) recordOffset(ctx context.Context, p OffsetPair) {
	price := p.Buy.Price
	if ct, err := m.contracts.Get(p.Buy.Code); err == nil {
		price = ct.Reference
	} else {
		m.logger.Error("offset fill price falls back to signal price",
			"code", p.Buy.Code, "error", err)
	}
	for _, sig := range []types.Signal{p.Buy, p.Sell} {
		now := m.now()
		orderID := m.alloc.OrderID()
		ord := types.Order{
			Strategy:     sig.StrategyID,
			OrderID:      orderID,
			SecurityType: sig.SecurityType,
			Time:         now,
			Code:         sig.Code,
			Action:       sig.Action,
			Price:        price,
			Qty:          p.Qty,
			OrderType:    sig.OrderType,
			PriceType:    types.LMT,
			Status:       "New",
		}
		if err := m.st.SaveOrder(ctx, ord); err != nil {
			m.logger.Error("save offset order", "order_id", orderID, "error", err)
		}
		tr := types.Trade{
			Strategy:     sig.StrategyID,
			OrderID:      orderID,
			OrderType:    sig.OrderType,
			Seqno:        m.alloc.Seqno(),
			SecurityType: sig.SecurityType,
			Time:         now,
			Code:         sig.Code,
			Action:       sig.Action,
			Price:        price,
			Qty:          p.Qty,
		}
		if err := m.st.SaveTrade(ctx, tr); err != nil {
			m.logger.Error("save offset trade", "order_id", orderID, "error", err)
		}
		m.logger.Info("offset fill",
			"signal_id", sig.ID, "code", sig.Code, "action", string(sig.Action),
			"qty", p.Qty, "price", price.String())
	}
}

// execute decomposes one released signal into broker orders and emits them.
func (m *Manager) execute(ctx context.Context, sig types.Signal) {
	strat, err := m.strategies.Get(sig.StrategyID)
	if err != nil {
		m.logger.Error("drop signal", "signal_id", sig.ID, "error", err)
		return
	}

	for _, slice := range m.decompose(sig, strat) {
		if slice.Quantity == 0 {
			continue
		}
		m.place(ctx, slice, strat.Name)
	}
}

// decompose splits an upstream buy half at the signal price and half at the
// shaded low-ratio price. Everything else goes out whole.
func (m *Manager) decompose(sig types.Signal, strat types.Strategy) []types.BrokerOrder {
	base := types.BrokerOrder{
		SignalID:     sig.ID,
		Time:         m.now(),
		StrategyID:   sig.StrategyID,
		SecurityType: sig.SecurityType,
		Code:         sig.Code,
		OrderType:    sig.OrderType,
		PriceType:    types.LMT,
		Action:       sig.Action,
	}

	if sig.Source != types.SourceXQ || sig.Action != types.Buy || strat.OrderLowRatio == nil {
		whole := base
		whole.Quantity = sig.Quantity
		whole.Price = sig.Price
		return []types.BrokerOrder{whole}
	}

	ct, err := m.contracts.Get(sig.Code)
	if err != nil {
		m.logger.Error("low-ratio price unavailable, single order",
			"signal_id", sig.ID, "code", sig.Code, "error", err)
		whole := base
		whole.Quantity = sig.Quantity
		whole.Price = sig.Price
		return []types.BrokerOrder{whole}
	}

	high := base
	high.Quantity = (sig.Quantity + 1) / 2
	high.Price = sig.Price

	low := base
	low.Quantity = sig.Quantity / 2
	low.Price = lowRatioPrice(ct.Reference, *strat.OrderLowRatio)

	return []types.BrokerOrder{high, low}
}

// lowRatioPrice shades the contract reference by ratio percent and snaps the
// result to a valid tick.
func lowRatioPrice(reference decimal.Decimal, ratio float64) decimal.Decimal {
	factor := decimal.NewFromFloat(ratio).
		Div(decimal.NewFromInt(100)).
		Add(decimal.NewFromInt(1))
	return types.SnapToTick(reference.Mul(factor))
}

// place appends the order to the broker-watched log, persists it, and hands
// it to the engine for correlation.
func (m *Manager) place(ctx context.Context, bo types.BrokerOrder, strategyName string) {
	if err := m.appendSF31(bo, strategyName); err != nil {
		m.logger.Error("write order log", "signal_id", bo.SignalID, "error", err)
		return
	}
	if err := m.st.SaveBrokerOrder(ctx, bo); err != nil {
		m.logger.Error("save broker order", "signal_id", bo.SignalID, "error", err)
	}
	m.logger.Info("place order",
		"signal_id", bo.SignalID, "strategy", bo.StrategyID, "code", bo.Code,
		"action", string(bo.Action), "qty", bo.Quantity, "price", bo.Price.String())
	select {
	case m.out <- bo:
	case <-ctx.Done():
	}
}

// appendSF31 writes one order line to <base>/<sf31>/<strategy>/{Buy,Sell}.log:
//
//	004,Stock,1685287818.698434,4129,ROD,S,8,56.6
func (m *Manager) appendSF31(bo types.BrokerOrder, strategyName string) error {
	dir := filepath.Join(m.obs.BasePath, m.obs.SF31OrdersDir, strategyName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create order log dir: %w", err)
	}
	name := "Sell.log"
	if bo.Action == types.Buy {
		name = "Buy.log"
	}
	f, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open order log: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(FormatSF31Line(bo)); err != nil {
		return fmt.Errorf("append order log: %w", err)
	}
	return nil
}

// FormatSF31Line renders one broker order log line, newline included.
func FormatSF31Line(bo types.BrokerOrder) string {
	return fmt.Sprintf("%s,Stock,%d.%06d,%s,%s,%s,%d,%s\n",
		bo.SignalID,
		bo.Time.Unix(), bo.Time.Nanosecond()/1000,
		bo.Code,
		bo.OrderType,
		bo.Action,
		bo.Quantity,
		bo.Price.String(),
	)
}

func (m *Manager) sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
