package main

import (
	"context"
	"testing"

	"github.com/chidi150c/heikinedge/money"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaperGatewayBuyDebitsQuoteCreditsBase(t *testing.T) {
	gw := NewPaperGateway("BTCUSDT", 100, 10000, 0)
	rec, err := gw.PlaceMarketOrder(context.Background(), "BTCUSDT", SideBuy, money.NewBase(1))
	require.NoError(t, err)
	assert.Equal(t, OrderFilled, rec.Status)

	balances, err := gw.FetchBalances(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 9900, balances["USDT"].Free, 1e-9)
	assert.InDelta(t, 1, balances["BTC"].Free, 1e-9)
}

func TestPaperGatewaySellDebitsBaseCreditsQuote(t *testing.T) {
	gw := NewPaperGateway("BTCUSDT", 100, 0, 1)
	rec, err := gw.PlaceMarketOrder(context.Background(), "BTCUSDT", SideSell, money.NewBase(1))
	require.NoError(t, err)
	assert.Equal(t, OrderFilled, rec.Status)

	balances, err := gw.FetchBalances(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 100, balances["USDT"].Free, 1e-9)
	assert.InDelta(t, 0, balances["BTC"].Free, 1e-9)
}

func TestPaperGatewayBuyRejectsInsufficientQuote(t *testing.T) {
	gw := NewPaperGateway("BTCUSDT", 100, 10, 0)
	_, err := gw.PlaceMarketOrder(context.Background(), "BTCUSDT", SideBuy, money.NewBase(1))
	require.Error(t, err)
	var ee *EngineError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, "insufficient_quote", ee.Reason)
}

func TestPaperGatewaySellRejectsInsufficientBase(t *testing.T) {
	gw := NewPaperGateway("BTCUSDT", 100, 0, 0)
	_, err := gw.PlaceMarketOrder(context.Background(), "BTCUSDT", SideSell, money.NewBase(1))
	require.Error(t, err)
	var ee *EngineError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, "insufficient_base", ee.Reason)
}

func TestPaperGatewayStopLifecycle(t *testing.T) {
	gw := NewPaperGateway("BTCUSDT", 100, 10000, 1)
	id, err := gw.PlaceStopLoss(context.Background(), "BTCUSDT", SideSell, money.NewBase(1), money.NewPrice(90))
	require.NoError(t, err)
	require.NotEmpty(t, id)

	rec, err := gw.GetOrder(context.Background(), "BTCUSDT", id)
	require.NoError(t, err)
	assert.Equal(t, OrderNew, rec.Status)

	require.NoError(t, gw.CancelOrder(context.Background(), "BTCUSDT", id))

	rec2, err := gw.GetOrder(context.Background(), "BTCUSDT", id)
	require.NoError(t, err)
	assert.Equal(t, OrderFilled, rec2.Status)
}

func TestPaperGatewayFetchOpenOrdersReturnsTrackedStops(t *testing.T) {
	gw := NewPaperGateway("BTCUSDT", 100, 10000, 1)
	orders, err := gw.FetchOpenOrders(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Empty(t, orders)

	slID, err := gw.PlaceStopLoss(context.Background(), "BTCUSDT", SideSell, money.NewBase(1), money.NewPrice(90))
	require.NoError(t, err)
	tpID, err := gw.PlaceTakeProfit(context.Background(), "BTCUSDT", SideSell, money.NewBase(1), money.NewPrice(120))
	require.NoError(t, err)

	orders, err = gw.FetchOpenOrders(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	require.Len(t, orders, 2)
	ids := map[string]bool{orders[0].ID: true, orders[1].ID: true}
	assert.True(t, ids[slID])
	assert.True(t, ids[tpID])
	for _, o := range orders {
		assert.Equal(t, OrderNew, o.Status)
	}

	require.NoError(t, gw.CancelOrder(context.Background(), "BTCUSDT", slID))
	orders, err = gw.FetchOpenOrders(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, tpID, orders[0].ID)
}

func TestPaperGatewayFetchOpenOrdersFiltersBySymbol(t *testing.T) {
	gw := NewPaperGateway("BTCUSDT", 100, 10000, 1)
	_, err := gw.PlaceStopLoss(context.Background(), "BTCUSDT", SideSell, money.NewBase(1), money.NewPrice(90))
	require.NoError(t, err)

	orders, err := gw.FetchOpenOrders(context.Background(), "ETHUSDT")
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestPaperGatewayFetchTickerReflectsSetPrice(t *testing.T) {
	gw := NewPaperGateway("BTCUSDT", 100, 10000, 0)
	gw.SetPrice(money.NewPrice(150))
	ticker, err := gw.FetchTicker(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.InDelta(t, 150, ticker.Last.Float64(), 1e-9)
}
