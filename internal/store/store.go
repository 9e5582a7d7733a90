// Package store is the data-access layer for the routing engine.
//
// The engine reads reference data (strategies, contracts, positions, quote
// snapshots, trading dates, coming dividends) and persists signals, broker
// orders, callbacks, and position rows. Postgres is the production backing
// store; Fake is an in-memory implementation for tests and debug runs.
package store

import (
	"context"
	"time"

	"equity-router/pkg/types"
)

// Store is the thin data-access interface the engine depends on.
// All save methods are idempotent: rows are deduplicated on their natural
// keys so re-applying a callback yields the same stored row.
type Store interface {
	GetStrategies(ctx context.Context) (map[int]types.Strategy, error)
	GetPositions(ctx context.Context) (map[types.StrategyCode]types.Position, error)
	GetContracts(ctx context.Context) (map[string]types.Contract, error)
	GetQuoteSnapshots(ctx context.Context, codes []string) (map[string]types.QuoteSnapshot, error)
	GetTradingDates(ctx context.Context) ([]time.Time, error)
	GetComingDividends(ctx context.Context) (map[string]types.ComingDividend, error)

	// SaveSignal persists a signal with its risk decision, deduplicated by
	// (id, signal date).
	SaveSignal(ctx context.Context, sig types.Signal, dec types.Decision) error
	// SaveBrokerOrder persists an emitted broker order, deduplicated by its
	// composite identity (signal id, date, time, strategy, code, qty, price).
	SaveBrokerOrder(ctx context.Context, o types.BrokerOrder) error
	// UpdateBrokerOrderID stamps the broker-assigned order id onto a
	// previously saved broker order.
	UpdateBrokerOrderID(ctx context.Context, o types.BrokerOrder) error
	// SaveOrder persists an order callback, deduplicated by
	// (order date, order id). The synthetic id "00000" bypasses dedup.
	SaveOrder(ctx context.Context, o types.Order) error
	// SaveTrade persists a trade callback, deduplicated by
	// (order id, trade date, seqno).
	SaveTrade(ctx context.Context, t types.Trade) error
	// SavePositions upserts the broker's position callback rows by code.
	SavePositions(ctx context.Context, ps []types.SF31Position) error

	Ping(ctx context.Context) error
	Close()
}
