// Package exithandler evaluates exit rules over open positions.
//
// The handler consumes quote snapshot batches from the engine and runs the
// in-session rules (days-profit-limit, take-profit, stop-loss,
// profit-pullback); a separate pre-market pass applies the holding-period
// rule before the open. Each (strategy, code) produces at most one in-flight
// exit signal; the set of in-flight signals is persisted so a restart does
// not double-exit.
package exithandler

import (
	"context"
	"log/slog"
	"time"

	"equity-router/internal/config"
	"equity-router/internal/ids"
	"equity-router/internal/refdata"
	"equity-router/pkg/types"
)

const (
	idleSleep        = 10 * time.Millisecond
	systemCheckSleep = 10 * time.Second
)

// Handler is the exit rule worker.
type Handler struct {
	strategies *refdata.Strategies
	positions  *refdata.Positions
	contracts  *refdata.Contracts
	calendar   *refdata.TradingDates
	alloc      *ids.Allocator
	logger     *slog.Logger

	debug     bool
	now       func() time.Time
	tolerance time.Duration

	tradeStart, tradeEnd config.Clock
	preStart, preEnd     config.Clock

	running *runningSignals

	in  chan map[string]types.QuoteSnapshot
	out chan types.Signal
}

func New(
	eng config.EngineConfig,
	checkpointPath string,
	strategies *refdata.Strategies,
	positions *refdata.Positions,
	contracts *refdata.Contracts,
	calendar *refdata.TradingDates,
	alloc *ids.Allocator,
	debug bool,
	logger *slog.Logger,
) (*Handler, error) {
	running, err := loadRunningSignals(checkpointPath)
	if err != nil {
		return nil, err
	}
	return &Handler{
		strategies: strategies,
		positions:  positions,
		contracts:  contracts,
		calendar:   calendar,
		alloc:      alloc,
		logger:     logger.With("component", "exit_handler"),
		debug:      debug,
		now:        types.Now,
		tolerance:  eng.QuoteDelayTolerance,
		tradeStart: config.MustClock(eng.TradeStart),
		tradeEnd:   config.MustClock(eng.TradeEnd),
		preStart:   config.MustClock(eng.BeforeMarketStart),
		preEnd:     config.MustClock(eng.BeforeMarketEnd),
		running:    running,
		in:         make(chan map[string]types.QuoteSnapshot, 16),
		out:        make(chan types.Signal, 64),
	}, nil
}

// In is the quote snapshot input channel.
func (h *Handler) In() chan<- map[string]types.QuoteSnapshot { return h.in }

// Out streams emitted exit signals.
func (h *Handler) Out() <-chan types.Signal { return h.out }

// Reset clears the in-flight exit set. Called by the engine at daily resets.
func (h *Handler) Reset() {
	h.logger.Info("reset exit handler")
	if err := h.running.reset(); err != nil {
		h.logger.Error("reset exit checkpoints", "error", err)
	}
}

// Run evaluates exits until ctx is cancelled.
func (h *Handler) Run(ctx context.Context) {
	h.logger.Info("start exit handler")
	defer h.logger.Info("shutdown exit handler")

	for {
		if ctx.Err() != nil {
			return
		}
		if !h.systemCheck() {
			h.sleep(ctx, systemCheckSleep)
			continue
		}

		select {
		case snapshots := <-h.in:
			if h.debug || config.Within(h.now(), h.tradeStart, h.tradeEnd) {
				h.onQuote(ctx, snapshots)
			}
		default:
		}

		if h.debug || config.Within(h.now(), h.preStart, h.preEnd) {
			h.beforeMarket(ctx)
		}

		h.sleep(ctx, idleSleep)
	}
}

func (h *Handler) systemCheck() bool {
	trading, err := h.calendar.IsTradingDate()
	if err != nil || !trading {
		return false
	}
	return h.contracts.Fresh() && h.positions.Fresh() && h.strategies.Fresh()
}

// onQuote runs the in-session rules for every position with a usable quote.
func (h *Handler) onQuote(ctx context.Context, snapshots map[string]types.QuoteSnapshot) {
	for _, sc := range h.positions.StrategyCodes() {
		if h.running.has(sc.Strategy, sc.Code) {
			continue
		}
		snap, ok := snapshots[sc.Code]
		if !ok {
			continue
		}
		if h.now().Sub(snap.DT) > h.tolerance {
			continue
		}
		// Auction and matching bars carry no tradeable print.
		if snap.TotalVolume == 0 || snap.Volume == 0 {
			continue
		}
		strat, err := h.strategies.Get(sc.Strategy)
		if err != nil {
			h.logger.Warn("skip position", "strategy", sc.Strategy, "error", err)
			continue
		}
		pos, err := h.positions.Get(sc.Strategy, sc.Code)
		if err != nil {
			h.logger.Warn("skip position", "strategy", sc.Strategy, "code", sc.Code, "error", err)
			continue
		}
		h.exitByDaysProfitLimit(ctx, strat, pos, snap)
		h.exitByTakeProfit(ctx, strat, pos, snap)
		h.exitByStopLoss(ctx, strat, pos, snap)
		h.exitByProfitPullback(ctx, strat, pos, snap)
	}
}

// beforeMarket runs the holding-period rule ahead of the open.
func (h *Handler) beforeMarket(ctx context.Context) {
	for _, sc := range h.positions.StrategyCodes() {
		if h.running.has(sc.Strategy, sc.Code) {
			continue
		}
		strat, err := h.strategies.Get(sc.Strategy)
		if err != nil {
			continue
		}
		pos, err := h.positions.Get(sc.Strategy, sc.Code)
		if err != nil {
			continue
		}
		h.exitByOutDate(ctx, strat, pos)
	}
}

// exitByOutDate exits once the position has been held its full holding period
// in trading days.
func (h *Handler) exitByOutDate(ctx context.Context, strat types.Strategy, pos types.Position) {
	if strat.HoldingPeriod == nil || pos.FirstEntryDate.IsZero() {
		return
	}
	outDate, err := h.calendar.NextN(pos.FirstEntryDate, *strat.HoldingPeriod)
	if err != nil {
		h.logger.Warn("out-date rule skipped", "code", pos.Code, "error", err)
		return
	}
	if !types.Midnight(h.now()).Before(outDate) {
		h.send(ctx, pos, types.ExitByOutDate)
	}
}

// exitByDaysProfitLimit exits a position that has failed to reach its profit
// floor after a number of trading days.
func (h *Handler) exitByDaysProfitLimit(ctx context.Context, strat types.Strategy, pos types.Position, snap types.QuoteSnapshot) {
	if h.running.has(pos.Strategy, pos.Code) {
		return
	}
	if strat.ExitDPDays == nil || strat.ExitDPProfitLimit == nil || pos.FirstEntryDate.IsZero() {
		return
	}
	checkDate, err := h.calendar.NextN(pos.FirstEntryDate, *strat.ExitDPDays)
	if err != nil {
		h.logger.Warn("days-profit rule skipped", "code", pos.Code, "error", err)
		return
	}
	if types.Midnight(h.now()).Before(checkDate) {
		return
	}
	if profitRatio(pos, snap.Close) <= *strat.ExitDPProfitLimit {
		h.send(ctx, pos, types.ExitByDaysProfitLimit)
	}
}

func (h *Handler) exitByTakeProfit(ctx context.Context, strat types.Strategy, pos types.Position, snap types.QuoteSnapshot) {
	if h.running.has(pos.Strategy, pos.Code) || strat.ExitTakeProfit == nil {
		return
	}
	if profitRatio(pos, snap.Close) >= *strat.ExitTakeProfit {
		h.send(ctx, pos, types.ExitByTakeProfit)
	}
}

func (h *Handler) exitByStopLoss(ctx context.Context, strat types.Strategy, pos types.Position, snap types.QuoteSnapshot) {
	if h.running.has(pos.Strategy, pos.Code) || strat.ExitStopLoss == nil {
		return
	}
	if profitRatio(pos, snap.Close) <= *strat.ExitStopLoss {
		h.send(ctx, pos, types.ExitByStopLoss)
	}
}

// exitByProfitPullback exits once a position has given back a configured
// share of its best run-up since entry.
func (h *Handler) exitByProfitPullback(ctx context.Context, strat types.Strategy, pos types.Position, snap types.QuoteSnapshot) {
	if h.running.has(pos.Strategy, pos.Code) {
		return
	}
	if strat.ExitPullbackRatio == nil || strat.ExitPullbackThreshold == nil {
		return
	}
	if pos.AvgPrice == 0 {
		return
	}

	var maxRange float64
	if pos.Action == types.Buy {
		high := snap.High
		if pos.HighSinceEntry > high {
			high = pos.HighSinceEntry
		}
		maxRange = high/pos.AvgPrice - 1
	} else {
		low := snap.Low
		if pos.LowSinceEntry > 0 && pos.LowSinceEntry < low {
			low = pos.LowSinceEntry
		}
		if low == 0 {
			return
		}
		maxRange = pos.AvgPrice/low - 1
	}
	if maxRange < *strat.ExitPullbackThreshold {
		return
	}

	profit := profitRatio(pos, snap.Close)
	if profit < 0 || 1-profit/maxRange >= *strat.ExitPullbackRatio {
		h.send(ctx, pos, types.ExitByProfitPullback)
	}
}

// profitRatio is the signed return of the position at price close.
func profitRatio(pos types.Position, close float64) float64 {
	if pos.AvgPrice == 0 || close == 0 {
		return 0
	}
	if pos.Action == types.Buy {
		return close/pos.AvgPrice - 1
	}
	return pos.AvgPrice/close - 1
}

// send emits the exit signal for a position: inverted action, full quantity,
// priced at the day's limit for an aggressive fill.
func (h *Handler) send(ctx context.Context, pos types.Position, exitType types.ExitType) {
	ct, err := h.contracts.Get(pos.Code)
	if err != nil {
		h.logger.Error("exit signal dropped, no contract", "code", pos.Code, "error", err)
		return
	}
	sig := types.Signal{
		ID:           h.alloc.ExitSignalID(),
		Source:       types.SourceExitHandler,
		Time:         h.now(),
		StrategyID:   pos.Strategy,
		SecurityType: types.Stock,
		Code:         pos.Code,
		OrderType:    types.ROD,
		PriceType:    types.LMT,
		Action:       pos.Action.Opposite(),
		Quantity:     pos.Qty,
		ExitType:     exitType,
	}
	if sig.Action == types.Sell {
		sig.Price = ct.LimitDown
	} else {
		sig.Price = ct.LimitUp
	}

	select {
	case h.out <- sig:
	case <-ctx.Done():
		return
	}
	h.logger.Info("exit signal",
		"signal_id", sig.ID, "strategy", sig.StrategyID, "code", sig.Code,
		"action", string(sig.Action), "qty", sig.Quantity,
		"price", sig.Price.String(), "exit_type", string(exitType))
	if err := h.running.add(pos.Strategy, pos.Code); err != nil {
		h.logger.Error("persist exit checkpoints", "error", err)
	}
}

func (h *Handler) sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
