// Package risk validates signals before they reach the order manager.
//
// Validation is a synchronous chain of checks evaluated in a fixed order;
// the first failing check decides the rejection reason. The manager never
// mutates shared state besides its own daily amount counter, which the
// engine resets on its twice-daily schedule.
package risk

import (
	"log/slog"
	"sync"
	"time"

	"equity-router/internal/refdata"
	"equity-router/pkg/types"
)

// sharesPerLot converts an order quantity (board lots) into shares for
// transaction-amount accounting.
const sharesPerLot = 1000

// Manager runs the validation chain. Safe for concurrent use.
type Manager struct {
	strategies *refdata.Strategies
	contracts  *refdata.Contracts
	dividends  *refdata.Dividends
	calendar   *refdata.TradingDates
	logger     *slog.Logger

	dailyLimit float64
	debug      bool

	mu        sync.Mutex
	cumAmount float64
}

func NewManager(
	strategies *refdata.Strategies,
	contracts *refdata.Contracts,
	dividends *refdata.Dividends,
	calendar *refdata.TradingDates,
	dailyLimit float64,
	debug bool,
	logger *slog.Logger,
) *Manager {
	return &Manager{
		strategies: strategies,
		contracts:  contracts,
		dividends:  dividends,
		calendar:   calendar,
		dailyLimit: dailyLimit,
		debug:      debug,
		logger:     logger.With("component", "risk"),
	}
}

// ResetCounters clears the daily transaction-amount counter.
func (m *Manager) ResetCounters() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cumAmount = 0
}

// Validate runs the check chain and returns the (possibly adjusted) signal
// together with the verdict. Upstream buy quantities are scaled by the
// strategy's leverage ratio and upstream prices are stamped with the day's
// price limit before the remaining checks run.
func (m *Manager) Validate(sig types.Signal) (types.Signal, types.Decision) {
	strat, err := m.strategies.Get(sig.StrategyID)
	if err != nil {
		m.reject(sig, types.RejectStrategyNotFound, err)
		return sig, types.Rejected(types.RejectStrategyNotFound)
	}
	if !strat.Status {
		m.reject(sig, types.RejectStrategyInactive, nil)
		return sig, types.Rejected(types.RejectStrategyInactive)
	}

	if sig.Source == types.SourceXQ {
		sig = m.applyLeverageAndLimits(sig, strat)
	}

	if wd := sig.Time.Weekday(); !m.debug && (wd == time.Saturday || wd == time.Sunday) {
		m.reject(sig, types.RejectInvalidTradeHour, nil)
		return sig, types.Rejected(types.RejectInvalidTradeHour)
	}

	if !m.contracts.Exists(sig.Code) || !m.contracts.FreshCodes([]string{sig.Code}) {
		m.reject(sig, types.RejectContractOutdated, nil)
		return sig, types.Rejected(types.RejectContractOutdated)
	}

	if reason := m.checkDividend(sig, strat); reason != types.RejectNone {
		m.reject(sig, reason, nil)
		return sig, types.Rejected(reason)
	}

	if sig.Quantity < 1 {
		m.reject(sig, types.RejectInsufficientUnit, nil)
		return sig, types.Rejected(types.RejectInsufficientUnit)
	}

	if !m.admitAmount(sig) {
		m.reject(sig, types.RejectDailyAmountExceeded, nil)
		return sig, types.Rejected(types.RejectDailyAmountExceeded)
	}

	return sig, types.Validated()
}

// applyLeverageAndLimits scales an upstream buy quantity by the strategy's
// leverage ratio (integer truncation) and stamps the price with the day's
// limit-up (Buy) or limit-down (Sell) so the order cannot miss on price.
func (m *Manager) applyLeverageAndLimits(sig types.Signal, strat types.Strategy) types.Signal {
	if sig.Action == types.Buy {
		sig.Quantity = int(float64(sig.Quantity) * strat.LeverageRatio)
	}
	ct, err := m.contracts.Get(sig.Code)
	if err != nil {
		// The contract check downstream owns the rejection.
		return sig
	}
	if sig.Action == types.Buy {
		sig.Price = ct.LimitUp
	} else {
		sig.Price = ct.LimitDown
	}
	return sig
}

// checkDividend rejects buys that would still be held across the next
// ex-dividend date when the strategy is not allowed to participate.
func (m *Manager) checkDividend(sig types.Signal, strat types.Strategy) types.RejectReason {
	if sig.Action != types.Buy || strat.HoldingPeriod == nil || strat.EnableDividend {
		return types.RejectNone
	}
	if !m.dividends.Exists(sig.Code) {
		return types.RejectNone
	}
	div, err := m.dividends.Get(sig.Code)
	if err != nil {
		m.logger.Warn("dividend check skipped", "code", sig.Code, "error", err)
		return types.RejectNone
	}
	exitDate, err := m.calendar.NextN(types.Midnight(sig.Time), *strat.HoldingPeriod)
	if err != nil {
		m.logger.Warn("dividend check skipped", "code", sig.Code, "error", err)
		return types.RejectNone
	}
	if !exitDate.Before(types.Midnight(div.ExDate)) {
		return types.RejectCannotParticipateDiv
	}
	return types.RejectNone
}

// admitAmount admits the signal against the daily transaction-amount limit
// and accrues its notional on success. A zero limit disables the check.
func (m *Manager) admitAmount(sig types.Signal) bool {
	amount := sig.Price.InexactFloat64() * float64(sig.Quantity) * sharesPerLot
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dailyLimit > 0 && m.cumAmount+amount > m.dailyLimit {
		return false
	}
	m.cumAmount += amount
	return true
}

func (m *Manager) reject(sig types.Signal, reason types.RejectReason, err error) {
	args := []any{
		"signal_id", sig.ID,
		"strategy", sig.StrategyID,
		"code", sig.Code,
		"reason", string(reason),
	}
	if err != nil {
		args = append(args, "error", err)
	}
	m.logger.Warn("reject signal", args...)
}
