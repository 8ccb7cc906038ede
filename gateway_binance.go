// FILE: gateway_binance.go
// Package main – Binance Spot Gateway, built on the official SDK
// (github.com/adshao/go-binance/v2) and wrapped with retry/backoff and
// rate-limit decorators so every call site sees a classified
// *EngineError, never a raw transport error.
package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	binance "github.com/adshao/go-binance/v2"
	"github.com/cenkalti/backoff/v4"
	"github.com/chidi150c/heikinedge/money"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// binancePolicyCodes maps Binance's typed API error codes that signal a
// rejected request (bad size, bad price, insufficient funds) rather than
// a transient network failure. Retrying these wastes the backoff budget
// on a result that will never change.
var binancePolicyCodes = map[int64]string{
	-2010: "insufficient_balance",
	-1013: "lot_size_or_min_notional",
	-1111: "bad_precision",
	-2011: "order_would_immediately_trigger",
}

// binanceIntegrityCodes are codes that mean the order/symbol the caller
// referenced no longer exists on the exchange's books.
var binanceIntegrityCodes = map[int64]string{
	-2013: "order_does_not_exist",
}

// classifyBinanceErr inspects err for the SDK's typed *binance.APIError
// and reports the ErrKind/reason it maps to, if any. A false ok means
// the caller should fall back to treating err as transient.
func classifyBinanceErr(err error) (kind ErrKind, reason string, ok bool) {
	var apiErr *binance.APIError
	if !errors.As(err, &apiErr) {
		return 0, "", false
	}
	if reason, found := binancePolicyCodes[apiErr.Code]; found {
		return ErrPolicy, reason, true
	}
	if reason, found := binanceIntegrityCodes[apiErr.Code]; found {
		return ErrIntegrity, reason, true
	}
	return 0, "", false
}

// classifiedOrTransient converts a retry-exhausted error into a
// classified EngineError when the SDK reported a validation rejection,
// otherwise falls back to a transient classification.
func classifiedOrTransient(symbol, fallbackReason string, err error) *EngineError {
	if kind, reason, ok := classifyBinanceErr(err); ok {
		if kind == ErrPolicy {
			return newPolicyErr(symbol, reason)
		}
		return newIntegrityErr(symbol, reason, err)
	}
	return newTransientErr(symbol, fallbackReason, err)
}

// permanentIfClassified stops withRetry from burning attempts on an
// error the SDK has already told us is a deterministic rejection.
func permanentIfClassified(err error) error {
	if _, _, ok := classifyBinanceErr(err); ok {
		return backoff.Permanent(err)
	}
	return err
}

// BinanceGateway wraps the official SDK client with retry/backoff and
// a token-bucket limiter so every gateway call is backed off and
// rate-limited.
type BinanceGateway struct {
	client  *binance.Client
	limiter *rate.Limiter
	log     *logrus.Entry

	filters map[string]ExchangeFilters
}

func NewBinanceGateway(apiKey, apiSecret string, sandbox bool) *BinanceGateway {
	c := binance.NewClient(apiKey, apiSecret)
	if sandbox {
		c.BaseURL = "https://testnet.binance.vision"
	}
	return &BinanceGateway{
		client:  c,
		limiter: rate.NewLimiter(rate.Every(200*time.Millisecond), 10),
		log:     logrus.WithField("component", "gateway_binance"),
		filters: make(map[string]ExchangeFilters),
	}
}

func (g *BinanceGateway) Name() string { return "binance" }

// withRetry applies exponential backoff to transient failures, capped
// at three attempts in total (the first call plus two retries) so a
// stuck exchange never blocks a cycle indefinitely.
func withRetry(ctx context.Context, fn func() error) error {
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2), ctx)
	return backoff.Retry(fn, bo)
}

func (g *BinanceGateway) wait(ctx context.Context) error {
	return g.limiter.Wait(ctx)
}

func mapSymbol(symbol string) string {
	p := strings.ToUpper(strings.TrimSpace(symbol))
	p = strings.ReplaceAll(p, "-", "")
	if strings.HasSuffix(p, "USD") && !strings.HasSuffix(p, "USDT") && !strings.HasSuffix(p, "USDC") {
		p = p[:len(p)-3] + "USDT"
	}
	return p
}

func intervalFor(timeframe string) string {
	switch strings.ToLower(strings.TrimSpace(timeframe)) {
	case "1m", "one_minute":
		return "1m"
	case "5m", "five_minute":
		return "5m"
	case "15m", "fifteen_minute":
		return "15m"
	case "30m", "thirty_minute":
		return "30m"
	case "1h", "one_hour":
		return "1h"
	case "4h", "four_hour":
		return "4h"
	case "1d", "one_day":
		return "1d"
	default:
		return "1m"
	}
}

func (g *BinanceGateway) FetchBars(ctx context.Context, symbol, timeframe string, limit int) ([]Bar, error) {
	sym := mapSymbol(symbol)
	if limit <= 0 || limit > 1000 {
		limit = 500
	}
	var klines []*binance.Kline
	err := withRetry(ctx, func() error {
		if err := g.wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		ks, err := g.client.NewKlinesService().Symbol(sym).Interval(intervalFor(timeframe)).Limit(limit).Do(ctx)
		if err != nil {
			return err
		}
		klines = ks
		return nil
	})
	if err != nil {
		return nil, newTransientErr(symbol, "fetch_bars", err)
	}
	out := make([]Bar, 0, len(klines))
	for _, k := range klines {
		b := Bar{
			OpenTime: time.UnixMilli(k.OpenTime).UTC(),
			Open:     decFloatParse(k.Open),
			High:     decFloatParse(k.High),
			Low:      decFloatParse(k.Low),
			Close:    decFloatParse(k.Close),
			Volume:   decFloatParse(k.Volume),
		}
		if !b.Valid() {
			return nil, newIntegrityErr(symbol, "invalid_bar_from_exchange", nil)
		}
		out = append(out, b)
	}
	return out, nil
}

func (g *BinanceGateway) FetchTicker(ctx context.Context, symbol string) (Ticker, error) {
	sym := mapSymbol(symbol)
	var books []*binance.BookTicker
	err := withRetry(ctx, func() error {
		if err := g.wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		bt, err := g.client.NewListBookTickersService().Symbol(sym).Do(ctx)
		if err != nil {
			return err
		}
		books = bt
		return nil
	})
	if err != nil {
		return Ticker{}, newTransientErr(symbol, "fetch_ticker", err)
	}
	if len(books) == 0 {
		return Ticker{}, newIntegrityErr(symbol, "no_book_ticker", nil)
	}
	book := books[0]
	bid, _ := strconv.ParseFloat(book.BidPrice, 64)
	ask, _ := strconv.ParseFloat(book.AskPrice, 64)
	last := (bid + ask) / 2
	return Ticker{
		Last: money.NewPrice(last),
		Bid:  money.NewPrice(bid),
		Ask:  money.NewPrice(ask),
	}, nil
}

func (g *BinanceGateway) FetchBalances(ctx context.Context) (map[string]Balance, error) {
	var acct *binance.Account
	err := withRetry(ctx, func() error {
		if err := g.wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		a, err := g.client.NewGetAccountService().Do(ctx)
		if err != nil {
			return err
		}
		acct = a
		return nil
	})
	if err != nil {
		return nil, newTransientErr("", "fetch_balances", err)
	}
	out := make(map[string]Balance, len(acct.Balances))
	for _, b := range acct.Balances {
		free, _ := strconv.ParseFloat(b.Free, 64)
		locked, _ := strconv.ParseFloat(b.Locked, 64)
		out[strings.ToUpper(b.Asset)] = Balance{Free: free, Locked: locked}
	}
	return out, nil
}

func (g *BinanceGateway) FetchOpenOrders(ctx context.Context, symbol string) ([]OrderRecord, error) {
	sym := mapSymbol(symbol)
	var orders []*binance.Order
	err := withRetry(ctx, func() error {
		if err := g.wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		os, err := g.client.NewListOpenOrdersService().Symbol(sym).Do(ctx)
		if err != nil {
			return err
		}
		orders = os
		return nil
	})
	if err != nil {
		return nil, newTransientErr(symbol, "fetch_open_orders", err)
	}
	out := make([]OrderRecord, 0, len(orders))
	for _, o := range orders {
		out = append(out, toOrderRecord(symbol, o.OrderID, string(o.Side), string(o.Status), o.Price, o.ExecutedQuantity, o.Time))
	}
	return out, nil
}

func (g *BinanceGateway) PlaceMarketOrder(ctx context.Context, symbol string, side Side, qty money.Base) (OrderRecord, error) {
	sym := mapSymbol(symbol)
	filters, err := g.GetExchangeFilters(ctx, symbol)
	if err != nil {
		return OrderRecord{}, err
	}
	snapped := snapToStepFloor(qty, filters.BaseStep)
	bSide := binance.SideTypeBuy
	if side == SideSell {
		bSide = binance.SideTypeSell
	}
	var res *binance.CreateOrderResponse
	err = withRetry(ctx, func() error {
		if err := g.wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		r, err := g.client.NewCreateOrderService().Symbol(sym).Side(bSide).
			Type(binance.OrderTypeMarket).Quantity(snapped.Dec().String()).Do(ctx)
		if err != nil {
			return permanentIfClassified(err)
		}
		res = r
		return nil
	})
	if err != nil {
		return OrderRecord{}, classifiedOrTransient(symbol, "place_market_order", err)
	}
	executed, _ := strconv.ParseFloat(res.ExecutedQuantity, 64)
	cumQuote, _ := strconv.ParseFloat(res.CummulativeQuoteQuantity, 64)
	avg := 0.0
	if executed > 0 {
		avg = cumQuote / executed
	}
	return OrderRecord{
		ID:         fmt.Sprintf("%d", res.OrderID),
		Symbol:     symbol,
		Side:       side,
		Status:     OrderFilled,
		AvgPrice:   money.NewPrice(avg),
		FilledBase: money.NewBase(executed),
		CreateTime: time.UnixMilli(res.TransactTime).UTC(),
	}, nil
}

// PlaceStopLoss and PlaceTakeProfit both use STOP_LOSS_LIMIT / TAKE_PROFIT_LIMIT
// orders with stopPrice == limitPrice, the simplest faithful mapping of
// the engine's single trigger price onto Binance's two-price order types.
func (g *BinanceGateway) PlaceStopLoss(ctx context.Context, symbol string, sideToClose Side, qty money.Base, trigger money.Price) (string, error) {
	return g.placeTriggerOrder(ctx, symbol, sideToClose, qty, trigger, binance.OrderTypeStopLossLimit)
}

func (g *BinanceGateway) PlaceTakeProfit(ctx context.Context, symbol string, sideToClose Side, qty money.Base, trigger money.Price) (string, error) {
	return g.placeTriggerOrder(ctx, symbol, sideToClose, qty, trigger, binance.OrderTypeTakeProfitLimit)
}

func (g *BinanceGateway) placeTriggerOrder(ctx context.Context, symbol string, sideToClose Side, qty money.Base, trigger money.Price, orderType binance.OrderType) (string, error) {
	sym := mapSymbol(symbol)
	filters, err := g.GetExchangeFilters(ctx, symbol)
	if err != nil {
		return "", err
	}
	snapped := snapToStepFloor(qty, filters.BaseStep)
	bSide := binance.SideTypeSell
	if sideToClose == SideBuy {
		bSide = binance.SideTypeBuy
	}
	priceStr := trigger.Dec().String()
	var res *binance.CreateOrderResponse
	err = withRetry(ctx, func() error {
		if err := g.wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		r, err := g.client.NewCreateOrderService().Symbol(sym).Side(bSide).
			Type(orderType).TimeInForce(binance.TimeInForceTypeGTC).
			Quantity(snapped.Dec().String()).Price(priceStr).StopPrice(priceStr).Do(ctx)
		if err != nil {
			return permanentIfClassified(err)
		}
		res = r
		return nil
	})
	if err != nil {
		return "", classifiedOrTransient(symbol, "place_trigger_order", err)
	}
	return fmt.Sprintf("%d", res.OrderID), nil
}

func (g *BinanceGateway) CancelOrder(ctx context.Context, symbol, orderID string) error {
	sym := mapSymbol(symbol)
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return newIntegrityErr(symbol, "bad_order_id", err)
	}
	err = withRetry(ctx, func() error {
		if err := g.wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		_, err := g.client.NewCancelOrderService().Symbol(sym).OrderID(id).Do(ctx)
		if err != nil {
			return permanentIfClassified(err)
		}
		return nil
	})
	if err != nil {
		if kind, reason, ok := classifyBinanceErr(err); ok && kind == ErrIntegrity {
			// The order is already gone (filled/canceled elsewhere) -
			// callers cancelling a sibling SL/TP treat this as a no-op.
			return newIntegrityErr(symbol, reason, err)
		}
		return newTransientErr(symbol, "cancel_order", err)
	}
	return nil
}

func (g *BinanceGateway) GetOrder(ctx context.Context, symbol, orderID string) (OrderRecord, error) {
	sym := mapSymbol(symbol)
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return OrderRecord{}, newIntegrityErr(symbol, "bad_order_id", err)
	}
	var o *binance.Order
	err = withRetry(ctx, func() error {
		if err := g.wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		r, err := g.client.NewGetOrderService().Symbol(sym).OrderID(id).Do(ctx)
		if err != nil {
			return permanentIfClassified(err)
		}
		o = r
		return nil
	})
	if err != nil {
		return OrderRecord{}, classifiedOrTransient(symbol, "get_order", err)
	}
	return toOrderRecord(symbol, o.OrderID, string(o.Side), string(o.Status), o.Price, o.ExecutedQuantity, o.Time), nil
}

func toOrderRecord(symbol string, id int64, side, status, price, executedQty string, createTime int64) OrderRecord {
	s := SideBuy
	if strings.EqualFold(side, "SELL") {
		s = SideSell
	}
	st := OrderNew
	switch strings.ToUpper(status) {
	case "FILLED":
		st = OrderFilled
	case "PARTIALLY_FILLED":
		st = OrderPartiallyFilled
	case "CANCELED":
		st = OrderCanceled
	case "REJECTED", "EXPIRED":
		st = OrderRejected
	}
	p, _ := strconv.ParseFloat(price, 64)
	q, _ := strconv.ParseFloat(executedQty, 64)
	return OrderRecord{
		ID:         fmt.Sprintf("%d", id),
		Symbol:     symbol,
		Side:       s,
		Status:     st,
		AvgPrice:   money.NewPrice(p),
		FilledBase: money.NewBase(q),
		CreateTime: time.UnixMilli(createTime).UTC(),
	}
}

// GetExchangeFilters caches per-symbol step/tick/min-notional data.
func (g *BinanceGateway) GetExchangeFilters(ctx context.Context, symbol string) (ExchangeFilters, error) {
	sym := mapSymbol(symbol)
	if f, ok := g.filters[sym]; ok {
		return f, nil
	}
	var info *binance.ExchangeInfo
	err := withRetry(ctx, func() error {
		if err := g.wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		i, err := g.client.NewExchangeInfoService().Do(ctx)
		if err != nil {
			return err
		}
		info = i
		return nil
	})
	if err != nil {
		return ExchangeFilters{}, newTransientErr(symbol, "fetch_exchange_filters", err)
	}
	var found bool
	var stepSize, tickSize, minNotional float64
	for _, s := range info.Symbols {
		if s.Symbol != sym {
			continue
		}
		found = true
		for _, f := range s.Filters {
			switch f["filterType"] {
			case "LOT_SIZE":
				stepSize, _ = strconv.ParseFloat(fmt.Sprint(f["stepSize"]), 64)
			case "PRICE_FILTER":
				tickSize, _ = strconv.ParseFloat(fmt.Sprint(f["tickSize"]), 64)
			case "MIN_NOTIONAL", "NOTIONAL":
				minNotional, _ = strconv.ParseFloat(fmt.Sprint(f["minNotional"]), 64)
			}
		}
		break
	}
	if !found {
		return ExchangeFilters{}, newIntegrityErr(symbol, "symbol_not_found", nil)
	}
	if stepSize <= 0 {
		stepSize = 0.000001
	}
	if minNotional <= 0 {
		minNotional = 10
	}
	filters := ExchangeFilters{
		StepSize:    stepSize,
		TickSize:    tickSize,
		MinNotional: money.NewQuote(minNotional),
		BaseStep:    money.NewBase(stepSize),
		QuoteStep:   money.NewQuote(math.Max(tickSize, 0.01)),
	}
	g.filters[sym] = filters
	return filters, nil
}

func decFloatParse(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
