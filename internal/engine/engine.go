// Package engine is the central orchestrator of the order routing service.
//
// It wires together all subsystems:
//
//  1. Observer watches the signal and broker callback files and emits events.
//  2. Every upstream or exit signal passes through the risk manager.
//  3. Validated signals go to the order manager, which offsets and routes them.
//  4. Broker order/trade callbacks are correlated back to emitted orders so
//     every fill lands in the store tagged with its strategy.
//  5. The exit handler watches quote snapshots over open positions.
//
// The engine also owns the timed schedule: reference-data syncs, quote
// snapshots during the trade window, and the twice-daily resets.
//
// Lifecycle: New() → Start() → [runs until SIGINT] → Stop()
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"equity-router/internal/config"
	"equity-router/internal/exithandler"
	"equity-router/internal/ids"
	"equity-router/internal/observer"
	"equity-router/internal/ordermanager"
	"equity-router/internal/refdata"
	"equity-router/internal/risk"
	"equity-router/internal/store"
	"equity-router/pkg/types"
)

const (
	idleSleep    = 10 * time.Millisecond
	offHoursNap  = 10 * time.Second
	stopTimeout  = 10 * time.Second
	maxOrderTry  = 10
	maxTradeTry  = 20
)

type orderRetry struct {
	retries int
	order   types.Order
}

type tradeRetry struct {
	retries int
	trade   types.Trade
}

// Engine orchestrates all components and owns their goroutines.
type Engine struct {
	cfg    config.Config
	st     store.Store
	logger *slog.Logger

	strategies *refdata.Strategies
	positions  *refdata.Positions
	contracts  *refdata.Contracts
	snapshots  *refdata.Snapshots
	calendar   *refdata.TradingDates
	dividends  *refdata.Dividends

	alloc *ids.Allocator
	obs   *observer.Observer
	om    *ordermanager.Manager
	eh    *exithandler.Handler
	rm    *risk.Manager

	// Correlation state. Touched only by the main loop goroutine.
	unhandledOrders []types.BrokerOrder
	orderCallbacks  map[string]types.Order
	retryOrders     []orderRetry
	retryTrades     []tradeRetry

	signalStart, signalEnd config.Clock
	tradeStart, tradeEnd   config.Clock

	nextReset1, nextReset2 time.Time
	nextContractUpdate     time.Time
	lastSync, lastSnapshot time.Time

	now func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates and wires all engine components.
func New(cfg config.Config, logger *slog.Logger) (*Engine, error) {
	st, err := store.OpenPostgres(context.Background(), cfg.DB.DSN())
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	strategies := refdata.NewStrategies(cfg.Debug)
	positions := refdata.NewPositions(cfg.Debug)
	contracts := refdata.NewContracts(cfg.Debug)
	snapshots := refdata.NewSnapshots(cfg.Debug)
	calendar := refdata.NewTradingDates(cfg.Debug)
	dividends := refdata.NewDividends(cfg.Debug)

	alloc := ids.NewAllocator()

	obs, err := observer.New(cfg.Observer, strategies, alloc, logger)
	if err != nil {
		st.Close()
		return nil, err
	}

	om := ordermanager.New(
		cfg.Observer, cfg.Engine, st,
		strategies, contracts, calendar,
		alloc, cfg.Debug, logger,
	)

	eh, err := exithandler.New(
		cfg.Engine,
		filepath.Join(cfg.Observer.CheckpointsDir, "exit_handler.json"),
		strategies, positions, contracts, calendar,
		alloc, cfg.Debug, logger,
	)
	if err != nil {
		st.Close()
		return nil, err
	}

	rm := risk.NewManager(
		strategies, contracts, dividends, calendar,
		cfg.Engine.DailyAmountLimit, cfg.Debug, logger,
	)

	ctx, cancel := context.WithCancel(context.Background())

	e := &Engine{
		cfg:            cfg,
		st:             st,
		logger:         logger.With("component", "engine"),
		strategies:     strategies,
		positions:      positions,
		contracts:      contracts,
		snapshots:      snapshots,
		calendar:       calendar,
		dividends:      dividends,
		alloc:          alloc,
		obs:            obs,
		om:             om,
		eh:             eh,
		rm:             rm,
		orderCallbacks: make(map[string]types.Order),
		signalStart:    config.MustClock(cfg.Engine.SignalStart),
		signalEnd:      config.MustClock(cfg.Engine.SignalEnd),
		tradeStart:     config.MustClock(cfg.Engine.TradeStart),
		tradeEnd:       config.MustClock(cfg.Engine.TradeEnd),
		now:            types.Now,
		ctx:            ctx,
		cancel:         cancel,
	}

	now := e.now()
	e.nextReset1 = nextOccurrence(now, config.MustClock(cfg.Engine.Reset1))
	e.nextReset2 = nextOccurrence(now, config.MustClock(cfg.Engine.Reset2))
	e.nextContractUpdate = nextOccurrence(now, config.MustClock(cfg.Engine.UpdateContracts))

	return e, nil
}

// nextOccurrence returns the next time c comes around on the exchange clock.
func nextOccurrence(now time.Time, c config.Clock) time.Time {
	d := types.Midnight(now).Add(time.Duration(c) * time.Minute)
	if !now.Before(d) {
		d = d.AddDate(0, 0, 1)
	}
	return d
}

// Start syncs reference data and launches all background goroutines.
func (e *Engine) Start() error {
	if err := e.st.Ping(e.ctx); err != nil {
		return fmt.Errorf("store unreachable: %w", err)
	}
	if err := e.sync(e.ctx); err != nil {
		e.logger.Error("initial sync", "error", err)
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.obs.Run(e.ctx)
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.om.Run(e.ctx)
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.eh.Run(e.ctx)
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.loop()
	}()

	e.logger.Info("engine started", "debug", e.cfg.Debug)
	return nil
}

// Stop cancels all workers, joins them with a timeout, and closes the store.
func (e *Engine) Stop() {
	e.logger.Info("shutting down...")
	e.cancel()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(stopTimeout):
		e.logger.Error("workers did not stop in time")
	}

	e.st.Close()
	e.logger.Info("shutdown complete")
}

// loop is the main engine loop: schedule, correlation retries, and event
// dispatch from the observer and exit handler.
func (e *Engine) loop() {
	e.logger.Info("start engine loop")
	defer e.logger.Info("shutdown engine loop")

	for {
		if e.ctx.Err() != nil {
			return
		}
		now := e.now()

		if !now.Before(e.nextReset1) {
			e.reset()
			e.nextReset1 = e.nextReset1.AddDate(0, 0, 1)
		}
		if !now.Before(e.nextReset2) {
			e.reset()
			e.nextReset2 = e.nextReset2.AddDate(0, 0, 1)
		}
		e.maybeUpdateContracts(now)

		if !e.cfg.Debug && (now.Weekday() == time.Saturday || now.Weekday() == time.Sunday) {
			e.sleep(offHoursNap)
			continue
		}
		if !e.cfg.Debug && !config.Within(now, e.signalStart, e.signalEnd) {
			e.sleep(offHoursNap)
			continue
		}

		if now.Sub(e.lastSync) >= e.cfg.Engine.SyncInterval {
			if err := e.sync(e.ctx); err != nil {
				e.logger.Error("sync", "error", err)
			}
			e.lastSync = now
		}

		if now.Sub(e.lastSnapshot) >= e.cfg.Engine.SnapshotInterval &&
			(e.cfg.Debug || config.Within(now, e.tradeStart, e.tradeEnd)) {
			e.refreshSnapshots(e.ctx)
			e.lastSnapshot = now
		}

		if !e.cfg.Debug && !e.systemCheck() {
			e.logger.Warn("reference caches stale, holding event dispatch")
			e.sleep(offHoursNap)
			continue
		}

		e.drainRetries()
		e.drainObserver()
		e.drainOrderManager()
		e.drainExitHandler()

		e.sleep(idleSleep)
	}
}

// sync refreshes the reference caches from the store. Contracts refresh only
// when stale and today is a trading date (or the table is empty).
func (e *Engine) sync(ctx context.Context) error {
	strategies, err := e.st.GetStrategies(ctx)
	if err != nil {
		return fmt.Errorf("get strategies: %w", err)
	}
	e.strategies.Update(strategies)

	positions, err := e.st.GetPositions(ctx)
	if err != nil {
		return fmt.Errorf("get positions: %w", err)
	}
	e.positions.Update(positions)

	dates, err := e.st.GetTradingDates(ctx)
	if err != nil {
		return fmt.Errorf("get trading dates: %w", err)
	}
	e.calendar.Update(dates)

	dividends, err := e.st.GetComingDividends(ctx)
	if err != nil {
		return fmt.Errorf("get coming dividends: %w", err)
	}
	e.dividends.Update(dividends)

	// An empty table always loads; a stale one reloads on trading dates.
	if !e.contracts.Fresh() || !e.contracts.Exists(contractProbe) {
		trading, err := e.calendar.IsTradingDate()
		if err != nil {
			return err
		}
		if trading || !e.contracts.Exists(contractProbe) {
			if err := e.refreshContracts(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}

// refreshContracts reloads the contract table wholesale.
func (e *Engine) refreshContracts(ctx context.Context) error {
	contracts, err := e.st.GetContracts(ctx)
	if err != nil {
		return fmt.Errorf("get contracts: %w", err)
	}
	e.contracts.Update(contracts)
	return nil
}

// maybeUpdateContracts runs the once-daily forced contract reload at the
// configured update_contracts time.
func (e *Engine) maybeUpdateContracts(now time.Time) {
	if now.Before(e.nextContractUpdate) {
		return
	}
	if err := e.refreshContracts(e.ctx); err != nil {
		e.logger.Error("scheduled contract update", "error", err)
	}
	e.nextContractUpdate = e.nextContractUpdate.AddDate(0, 0, 1)
}

// systemCheck reports whether the reference caches are current enough to
// dispatch events.
func (e *Engine) systemCheck() bool {
	return e.contracts.Fresh() && e.positions.Fresh() && e.strategies.Fresh()
}

// contractProbe is used to detect a never-loaded contract table.
const contractProbe = "2330"

// refreshSnapshots pulls quotes for all position codes and posts them to the
// exit handler.
func (e *Engine) refreshSnapshots(ctx context.Context) {
	codes := e.positions.Codes()
	if len(codes) == 0 {
		return
	}
	snaps, err := e.st.GetQuoteSnapshots(ctx, codes)
	if err != nil {
		e.logger.Error("get quote snapshots", "error", err)
		return
	}
	e.snapshots.Update(snaps)
	select {
	case e.eh.In() <- snaps:
	default:
		// Exit handler still busy with the previous batch.
	}
}

// reset flushes correlation state and tells every worker to start the day
// clean, then re-syncs reference data.
func (e *Engine) reset() {
	e.logger.Info("reset")
	e.unhandledOrders = nil
	e.orderCallbacks = make(map[string]types.Order)
	e.retryOrders = nil
	e.retryTrades = nil
	e.rm.ResetCounters()
	e.om.Reset()
	e.eh.Reset()
	e.obs.Reset()
	if err := e.sync(e.ctx); err != nil {
		e.logger.Error("post-reset sync", "error", err)
	}
}

func (e *Engine) drainObserver() {
	for {
		select {
		case sig := <-e.obs.Signals():
			e.onSignal(sig)
		case ord := <-e.obs.Orders():
			e.onOrderCallback(ord, 0)
		case tr := <-e.obs.Trades():
			e.onTradeCallback(tr, 0)
		case batch := <-e.obs.Positions():
			if err := e.st.SavePositions(e.ctx, batch); err != nil {
				e.logger.Error("save positions", "error", err)
			}
		default:
			return
		}
	}
}

func (e *Engine) drainOrderManager() {
	for {
		select {
		case bo := <-e.om.Out():
			e.unhandledOrders = append(e.unhandledOrders, bo)
		default:
			return
		}
	}
}

func (e *Engine) drainExitHandler() {
	for {
		select {
		case sig := <-e.eh.Out():
			e.onSignal(sig)
		default:
			return
		}
	}
}

// drainRetries gives every parked callback one more correlation attempt.
func (e *Engine) drainRetries() {
	orders := e.retryOrders
	e.retryOrders = nil
	for _, r := range orders {
		e.onOrderCallback(r.order, r.retries)
	}
	trades := e.retryTrades
	e.retryTrades = nil
	for _, r := range trades {
		e.onTradeCallback(r.trade, r.retries)
	}
}

// onSignal validates one signal and forwards it to the order manager. Every
// signal is persisted with its verdict, accepted or not.
func (e *Engine) onSignal(sig types.Signal) {
	adjusted, decision := e.rm.Validate(sig)
	if decision.Validated {
		select {
		case e.om.In() <- adjusted:
		case <-e.ctx.Done():
			return
		}
	}
	if err := e.st.SaveSignal(e.ctx, adjusted, decision); err != nil {
		e.logger.Error("save signal", "signal_id", adjusted.ID, "error", err)
	}
}

// onOrderCallback correlates a broker order acknowledgement with the emitted
// order it answers. An unmatched callback is retried; after exhaustion it is
// persisted under the fallback strategy so the fill is never lost.
func (e *Engine) onOrderCallback(ord types.Order, retries int) {
	matched := false
	for i, bo := range e.unhandledOrders {
		if types.SameDate(ord.Time, bo.Time) &&
			ord.Code == bo.Code &&
			ord.Action == bo.Action &&
			ord.Qty == bo.Quantity &&
			ord.Price.Equal(bo.Price) &&
			ord.OrderType == bo.OrderType {
			bo.OrderID = ord.OrderID
			ord.Strategy = bo.StrategyID
			if err := e.st.UpdateBrokerOrderID(e.ctx, bo); err != nil {
				e.logger.Error("update broker order id", "order_id", ord.OrderID, "error", err)
			}
			e.unhandledOrders = append(e.unhandledOrders[:i], e.unhandledOrders[i+1:]...)
			matched = true
			break
		}
	}

	if !matched {
		if retries < maxOrderTry {
			e.retryOrders = append(e.retryOrders, orderRetry{retries: retries + 1, order: ord})
			return
		}
		ord.Strategy = e.cfg.Engine.FallbackStrategyID
		e.logger.Warn("cannot map order callback to emitted order",
			"order_id", ord.OrderID, "code", ord.Code, "qty", ord.Qty,
			"price", ord.Price.String())
	}

	e.orderCallbacks[ord.OrderID] = ord
	if err := e.st.SaveOrder(e.ctx, ord); err != nil {
		e.logger.Error("save order", "order_id", ord.OrderID, "error", err)
	}
}

// onTradeCallback tags a fill with the strategy of its parent order. An
// unmatched fill is retried; after exhaustion it is persisted as-is.
func (e *Engine) onTradeCallback(tr types.Trade, retries int) {
	if parent, ok := e.orderCallbacks[tr.OrderID]; ok {
		tr.Strategy = parent.Strategy
	} else if retries < maxTradeTry {
		e.retryTrades = append(e.retryTrades, tradeRetry{retries: retries + 1, trade: tr})
		return
	} else {
		e.logger.Warn("cannot map trade to order",
			"order_id", tr.OrderID, "seqno", tr.Seqno, "code", tr.Code)
	}
	if err := e.st.SaveTrade(e.ctx, tr); err != nil {
		e.logger.Error("save trade", "order_id", tr.OrderID, "seqno", tr.Seqno, "error", err)
	}
}

func (e *Engine) sleep(d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-e.ctx.Done():
	case <-t.C:
	}
}
