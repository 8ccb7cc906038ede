// FILE: bar.go
// Package main – core entities shared by every subsystem: Bar, Side,
// Signal kind, close reasons. Kept as small closed enumerations rather
// than bare strings scattered across call sites.
package main

import (
	"time"

	"github.com/chidi150c/heikinedge/money"
	"github.com/shopspring/decimal"
)

// Bar is one completed OHLCV candle. Immutable once stored.
// Invariant: Low <= Open,Close <= High; Volume >= 0.
type Bar struct {
	OpenTime time.Time
	Open     decimal.Decimal
	High     decimal.Decimal
	Low      decimal.Decimal
	Close    decimal.Decimal
	Volume   decimal.Decimal
}

// Valid enforces the Bar's structural invariant.
func (b Bar) Valid() bool {
	if b.Volume.IsNegative() {
		return false
	}
	if b.Low.GreaterThan(b.Open) || b.Low.GreaterThan(b.Close) || b.Low.GreaterThan(b.High) {
		return false
	}
	if b.High.LessThan(b.Open) || b.High.LessThan(b.Close) {
		return false
	}
	return true
}

// Side is a closed order-side enumeration.
type Side int

const (
	SideBuy Side = iota
	SideSell
)

func (s Side) String() string {
	if s == SideBuy {
		return "BUY"
	}
	return "SELL"
}

// PositionSide is LONG or SHORT, distinct from order Side because a
// SELL order can open a SHORT or close a LONG.
type PositionSide int

const (
	PositionLong PositionSide = iota
	PositionShort
)

func (p PositionSide) String() string {
	if p == PositionLong {
		return "LONG"
	}
	return "SHORT"
}

// SignalKind is a closed enumeration of what the signal engine decided.
type SignalKind int

const (
	NoSignal SignalKind = iota
	OpenLong
	OpenShort
)

func (k SignalKind) String() string {
	switch k {
	case OpenLong:
		return "OPEN_LONG"
	case OpenShort:
		return "OPEN_SHORT"
	default:
		return "NO_SIGNAL"
	}
}

// CloseReason is a closed enumeration of why a Position left OPEN.
type CloseReason int

const (
	CloseNone CloseReason = iota
	CloseStopLoss
	CloseTakeProfit
	CloseTrailingStop
	CloseSignalExit
	CloseManual
	CloseReconcileGone
)

func (r CloseReason) String() string {
	switch r {
	case CloseStopLoss:
		return "SL"
	case CloseTakeProfit:
		return "TP"
	case CloseTrailingStop:
		return "TRAIL"
	case CloseSignalExit:
		return "SIGNAL_EXIT"
	case CloseManual:
		return "MANUAL"
	case CloseReconcileGone:
		return "RECONCILE_GONE"
	default:
		return "NONE"
	}
}

// Signal is emitted at most once per completed bar by the Signal Engine.
type Signal struct {
	Kind                SignalKind
	Confidence          float64
	Reason              string
	BarTime             time.Time
	IndicatorsSnapshot  map[string]float64
	Score               float64
}

// AccountSnapshot is recomputed every cycle before sizing decisions.
// equity_quote = free_quote + free_base*ticker_price + sum(unrealized_pnl),
// always derived fresh, never a configured constant.
type AccountSnapshot struct {
	FreeQuote    money.Quote
	FreeBase     money.Base
	TickerPrice  money.Price
	UnrealizedPL money.Quote
}

func (a AccountSnapshot) EquityQuote() money.Quote {
	return a.FreeQuote.Add(a.FreeBase.ToQuote(a.TickerPrice)).Add(a.UnrealizedPL)
}

// OrderIntent is the validated output of the sizer, consumed by the
// gateway's place_market_order and then by the position manager's
// Adopt.
type OrderIntent struct {
	Side          Side
	Symbol        string
	QuantityBase  money.Base
	EntryRefPrice money.Price
	StopLoss      money.Price
	TakeProfit    money.Price
	RiskQuote     money.Quote
}
