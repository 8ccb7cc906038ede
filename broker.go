// FILE: broker.go
// Package main – Exchange Gateway contract: the one interface every
// exchange adapter implements. Adds PlaceStopLoss/PlaceTakeProfit/
// FetchOpenOrders so the position manager's reconciliation pass has
// something authoritative to reconcile against.
package main

import (
	"context"
	"time"

	"github.com/chidi150c/heikinedge/money"
)

// ExchangeFilters holds the exchange's quantization/minimum rules for
// one symbol.
type ExchangeFilters struct {
	StepSize    decimalLike
	TickSize    decimalLike
	MinNotional money.Quote
	BaseStep    money.Base
	QuoteStep   money.Quote
}

// decimalLike avoids importing decimal here twice; filters are plain
// float64 multiples in practice (step sizes).
type decimalLike = float64

type OrderStatus int

const (
	OrderNew OrderStatus = iota
	OrderPartiallyFilled
	OrderFilled
	OrderCanceled
	OrderRejected
)

// OrderRecord is the exchange's authoritative view of a placed order.
type OrderRecord struct {
	ID            string
	Symbol        string
	Side          Side
	Status        OrderStatus
	AvgPrice      money.Price
	FilledBase    money.Base
	CommissionUSD money.Quote
	CreateTime    time.Time
}

// Ticker is the current best bid/ask/last snapshot.
type Ticker struct {
	Last money.Price
	Bid  money.Price
	Ask  money.Price
}

// Balances maps currency -> {free, locked}.
type Balance struct {
	Free   float64
	Locked float64
}

// Gateway is the one-call-per-operation adapter every exchange backend
// implements. Each implementation wraps its own retry/backoff/rate-limit/
// error-classification; callers never see raw transport errors, only
// *EngineError with a classified Kind.
type Gateway interface {
	Name() string

	FetchBars(ctx context.Context, symbol, timeframe string, limit int) ([]Bar, error)
	FetchTicker(ctx context.Context, symbol string) (Ticker, error)
	FetchBalances(ctx context.Context) (map[string]Balance, error)
	FetchOpenOrders(ctx context.Context, symbol string) ([]OrderRecord, error)

	PlaceMarketOrder(ctx context.Context, symbol string, side Side, quantityBase money.Base) (OrderRecord, error)
	PlaceStopLoss(ctx context.Context, symbol string, sideToClose Side, quantityBase money.Base, trigger money.Price) (string, error)
	PlaceTakeProfit(ctx context.Context, symbol string, sideToClose Side, quantityBase money.Base, trigger money.Price) (string, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
	GetOrder(ctx context.Context, symbol, orderID string) (OrderRecord, error)

	GetExchangeFilters(ctx context.Context, symbol string) (ExchangeFilters, error)
}
