// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the routing engine — signals,
// broker orders, callbacks, positions, reference data, and the exchange
// tick table. It has no dependencies on internal packages, so it can be
// imported by any layer.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Taipei is the exchange clock: UTC+8, no DST.
var Taipei = time.FixedZone("Asia/Taipei", 8*60*60)

// Now returns the current time on the exchange clock.
func Now() time.Time {
	return time.Now().In(Taipei)
}

// Today returns the current trading-calendar date (midnight, exchange clock).
func Today() time.Time {
	return Midnight(Now())
}

// Midnight truncates t to its calendar date in the exchange zone.
func Midnight(t time.Time) time.Time {
	t = t.In(Taipei)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, Taipei)
}

// SameDate reports whether a and b fall on the same calendar date.
func SameDate(a, b time.Time) bool {
	return Midnight(a).Equal(Midnight(b))
}

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Action is the direction of a signal, order, or position.
// Wire format is the single letter used by the upstream signal files.
type Action string

const (
	Buy  Action = "B"
	Sell Action = "S"
)

// Opposite returns the inverted action (Buy ↔ Sell).
func (a Action) Opposite() Action {
	if a == Buy {
		return Sell
	}
	return Buy
}

// OrderType enumerates broker order lifecycles.
type OrderType string

const (
	ROD OrderType = "ROD" // rest-of-day
	IOC OrderType = "IOC" // immediate-or-cancel
	FOK OrderType = "FOK" // fill-or-kill
)

// PriceType enumerates broker price instructions.
type PriceType string

const (
	LMT PriceType = "LMT" // limit
	MKT PriceType = "MKT" // market
	MOP PriceType = "MOP" // market-on-protection
)

// SecurityType identifies the instrument class. Only Stock is routed today;
// the variant type is kept for forward compatibility.
type SecurityType string

const (
	Stock   SecurityType = "S"
	Futures SecurityType = "F"
	Option  SecurityType = "O"
)

// SignalSource tells where a signal originated.
type SignalSource string

const (
	// SourceXQ marks signals ingested from upstream strategy signal files.
	SourceXQ SignalSource = "XQ"
	// SourceExitHandler marks signals emitted by the exit rule evaluator.
	SourceExitHandler SignalSource = "ExitHandler"
)

// ExitType tags which exit rule produced an exit signal.
type ExitType string

const (
	ExitByOutDate         ExitType = "ExitByOutDate"
	ExitByDaysProfitLimit ExitType = "ExitByDaysProfitLimit"
	ExitByTakeProfit      ExitType = "ExitByTakeProfit"
	ExitByStopLoss        ExitType = "ExitByStopLoss"
	ExitByProfitPullback  ExitType = "ExitByProfitPullback"
)

// RejectReason tags why the risk manager refused a signal.
type RejectReason string

const (
	RejectNone                   RejectReason = ""
	RejectStrategyNotFound       RejectReason = "StrategyNotFound"
	RejectStrategyInactive       RejectReason = "StrategyInactive"
	RejectInvalidTradeHour       RejectReason = "InvalidTradeHour"
	RejectContractOutdated       RejectReason = "ContractOutdated"
	RejectCannotParticipateDiv   RejectReason = "CannotParticipatingDividend"
	RejectInsufficientUnit       RejectReason = "InsufficientUnit"
	RejectDailyAmountExceeded    RejectReason = "DailyTransactionAmountExceeded"
	RejectStrategyAmountExceeded RejectReason = "StrategyAmountExceeded"
)

// Decision is the risk manager's verdict on a signal. The zero Decision is
// "not validated, no reason recorded".
type Decision struct {
	Validated bool
	Reason    RejectReason
}

// Validated is the all-checks-passed decision.
func Validated() Decision { return Decision{Validated: true} }

// Rejected builds a rejection decision with the given reason.
func Rejected(r RejectReason) Decision { return Decision{Reason: r} }

// ————————————————————————————————————————————————————————————————————————
// Reference data
// ————————————————————————————————————————————————————————————————————————

// Strategy is one row of the strategy table. Optional thresholds are
// pointers: nil means the corresponding rule is disabled.
type Strategy struct {
	ID      int
	Name    string
	AddDate time.Time
	Status  bool // enabled

	LeverageRatio float64
	HoldingPeriod *int     // trading days before forced exit
	OrderLowRatio *float64 // percent offset from reference for the shaded slice

	ExitStopLoss          *float64
	ExitTakeProfit        *float64
	ExitDPDays            *int     // days-profit-limit window
	ExitDPProfitLimit     *float64 // days-profit-limit threshold
	ExitPullbackRatio     *float64 // give back this share of the max run-up
	ExitPullbackThreshold *float64 // min run-up before pullback arms

	EnableRaise    bool
	EnableDividend bool // allowed to hold through an ex-dividend date
}

// Contract is the daily contract row for one code: previous close and the
// day's price limits. LimitDown ≤ Reference ≤ LimitUp.
type Contract struct {
	Code       string
	Name       string
	Reference  decimal.Decimal
	LimitUp    decimal.Decimal
	LimitDown  decimal.Decimal
	UpdateDate time.Time // the trading date this row is current for
}

// Position is one open position keyed by (strategy, code), replaced
// wholesale from the store's FIFO position view at every sync.
type Position struct {
	Strategy       int
	Code           string
	Action         Action
	Qty            int
	CostAmt        float64
	AvgPrice       float64
	FirstEntryDate time.Time
	HighSinceEntry float64
	LowSinceEntry  float64
}

// StrategyCode is a (strategy, code) position key.
type StrategyCode struct {
	Strategy int
	Code     string
}

// QuoteSnapshot is a point-in-time quote for one code. Stale when
// now − DT exceeds the configured quote delay tolerance.
type QuoteSnapshot struct {
	DT          time.Time
	Code        string
	Open        float64
	High        float64
	Low         float64
	Close       float64
	Volume      int // incremental
	TotalVolume int // cumulative
	Amount      int
	TotalAmount int
	BuyPrice    float64
	BuyVolume   int
	SellPrice   float64
	SellVolume  int
}

// ComingDividend maps a code to its next ex-dividend date.
type ComingDividend struct {
	Code   string
	ExDate time.Time
}

// ————————————————————————————————————————————————————————————————————————
// Signals and orders
// ————————————————————————————————————————————————————————————————————————

// Signal is an instruction to enter or exit a position. Upstream signals
// carry a rolling 3-digit id; exit-handler signals a 16-hex id.
type Signal struct {
	ID           string
	Source       SignalSource
	Time         time.Time // signal date + time on the exchange clock
	StrategyID   int
	SecurityType SecurityType
	Code         string
	OrderType    OrderType
	PriceType    PriceType
	Action       Action
	Quantity     int
	Price        decimal.Decimal
	ExitType     ExitType // empty unless Source == SourceExitHandler
}

// BrokerOrder is a signal slice shaped for the broker-watched order log
// (the SF31 format). OrderID is assigned once the broker acknowledges it.
type BrokerOrder struct {
	SignalID     string
	Time         time.Time
	StrategyID   int
	SecurityType SecurityType
	Code         string
	OrderType    OrderType
	PriceType    PriceType
	Action       Action
	Quantity     int
	Price        decimal.Decimal
	OrderID      string
}

// Order is the broker's acknowledgement callback for a BrokerOrder.
// Strategy is assigned during correlation; unmappable orders fall back to
// the configured sentinel strategy id.
type Order struct {
	TraderID     string
	Strategy     int
	OrderID      string
	SecurityType SecurityType
	Time         time.Time
	Code         string
	Action       Action
	Price        decimal.Decimal
	Qty          int
	OrderType    OrderType
	PriceType    PriceType
	Status       string
	Msg          string
}

// Trade is a fill callback against a previously acknowledged order.
// Strategy is inherited from the parent Order during correlation.
type Trade struct {
	TraderID     string
	Strategy     int
	OrderID      string
	OrderType    OrderType
	Seqno        string
	SecurityType SecurityType
	Time         time.Time
	Code         string
	Action       Action
	Price        decimal.Decimal
	Qty          int
}

// SF31Position is one row of the broker's position callback file.
type SF31Position struct {
	TraderID     string
	PTime        time.Time
	SecurityType SecurityType
	Code         string
	Action       Action
	Shares       int
	AvgPrice     decimal.Decimal
	ClosedPnL    decimal.Decimal
	OpenPnL      decimal.Decimal
	PnLChg       decimal.Decimal
	CumReturn    float64
}
