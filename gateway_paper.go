// FILE: gateway_paper.go
// Package main – dry-run/backtest Gateway double: simulates fills at
// the last known price with no real network calls, and tracks its own
// stop-loss/take-profit orders so the position manager's reconciliation
// pass has something to reconcile against even off-exchange.
package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chidi150c/heikinedge/money"
	"github.com/google/uuid"
)

type pendingStop struct {
	id           string
	symbol       string
	sideToClose  Side
	qty          money.Base
	trigger      money.Price
	isTakeProfit bool
}

// PaperGateway simulates fills at the last known price with no real
// network calls.
type PaperGateway struct {
	mu           sync.Mutex
	price        money.Price
	quoteBalance float64
	baseBalance  float64
	symbol       string
	filters      ExchangeFilters
	stops        map[string]*pendingStop
}

func NewPaperGateway(symbol string, startPrice, quoteBalance, baseBalance float64) *PaperGateway {
	return &PaperGateway{
		price:        money.NewPrice(startPrice),
		quoteBalance: quoteBalance,
		baseBalance:  baseBalance,
		symbol:       symbol,
		stops:        make(map[string]*pendingStop),
		filters: ExchangeFilters{
			StepSize:    0.00001,
			TickSize:    0.01,
			MinNotional: money.NewQuote(10),
			BaseStep:    money.NewBase(0.00001),
			QuoteStep:   money.NewQuote(0.01),
		},
	}
}

func (g *PaperGateway) Name() string { return "paper" }

func (g *PaperGateway) SetPrice(p money.Price) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.price = p
}

func (g *PaperGateway) FetchBars(ctx context.Context, symbol, timeframe string, limit int) ([]Bar, error) {
	return nil, newIntegrityErr(symbol, "fetch_bars_unsupported",
		fmt.Errorf("paper gateway: FetchBars not supported — feed bars via replay driver"))
}

func (g *PaperGateway) FetchTicker(ctx context.Context, symbol string) (Ticker, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return Ticker{Last: g.price, Bid: g.price, Ask: g.price}, nil
}

func (g *PaperGateway) FetchBalances(ctx context.Context) (map[string]Balance, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	base := baseAssetOf(g.symbol)
	return map[string]Balance{
		"USDT": {Free: g.quoteBalance},
		base:   {Free: g.baseBalance},
	}, nil
}

// FetchOpenOrders returns the still-resting stop-loss/take-profit
// orders tracked in g.stops, so Reconcile sees the same authoritative
// view a real exchange gateway would provide.
func (g *PaperGateway) FetchOpenOrders(ctx context.Context, symbol string) ([]OrderRecord, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]OrderRecord, 0, len(g.stops))
	for _, s := range g.stops {
		if s.symbol != symbol {
			continue
		}
		out = append(out, OrderRecord{
			ID:     s.id,
			Symbol: s.symbol,
			Side:   s.sideToClose,
			Status: OrderNew,
		})
	}
	return out, nil
}

func (g *PaperGateway) PlaceMarketOrder(ctx context.Context, symbol string, side Side, qty money.Base) (OrderRecord, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	notional := qty.ToQuote(g.price)
	if side == SideBuy {
		if g.quoteBalance < notional.Float64() {
			return OrderRecord{}, newPolicyErr(symbol, "insufficient_quote")
		}
		g.quoteBalance -= notional.Float64()
		g.baseBalance += qty.Float64()
	} else {
		if g.baseBalance < qty.Float64() {
			return OrderRecord{}, newPolicyErr(symbol, "insufficient_base")
		}
		g.baseBalance -= qty.Float64()
		g.quoteBalance += notional.Float64()
	}
	return OrderRecord{
		ID:         uuid.New().String(),
		Symbol:     symbol,
		Side:       side,
		Status:     OrderFilled,
		AvgPrice:   g.price,
		FilledBase: qty,
		CreateTime: time.Now(),
	}, nil
}

func (g *PaperGateway) PlaceStopLoss(ctx context.Context, symbol string, sideToClose Side, qty money.Base, trigger money.Price) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := uuid.New().String()
	g.stops[id] = &pendingStop{id: id, symbol: symbol, sideToClose: sideToClose, qty: qty, trigger: trigger}
	return id, nil
}

func (g *PaperGateway) PlaceTakeProfit(ctx context.Context, symbol string, sideToClose Side, qty money.Base, trigger money.Price) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := uuid.New().String()
	g.stops[id] = &pendingStop{id: id, symbol: symbol, sideToClose: sideToClose, qty: qty, trigger: trigger, isTakeProfit: true}
	return id, nil
}

func (g *PaperGateway) CancelOrder(ctx context.Context, symbol, orderID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.stops, orderID)
	return nil
}

func (g *PaperGateway) GetOrder(ctx context.Context, symbol, orderID string) (OrderRecord, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.stops[orderID]; ok {
		return OrderRecord{ID: orderID, Symbol: symbol, Status: OrderNew}, nil
	}
	return OrderRecord{ID: orderID, Symbol: symbol, Status: OrderFilled, AvgPrice: g.price}, nil
}

func (g *PaperGateway) GetExchangeFilters(ctx context.Context, symbol string) (ExchangeFilters, error) {
	return g.filters, nil
}
