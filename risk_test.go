package main

import (
	"errors"
	"testing"

	"github.com/chidi150c/heikinedge/money"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func riskTestFilters() ExchangeFilters {
	return ExchangeFilters{
		StepSize:    0.0001,
		TickSize:    0.01,
		MinNotional: money.NewQuote(10),
		BaseStep:    money.NewBase(0.0001),
		QuoteStep:   money.NewQuote(0.01),
	}
}

func TestSizeOrderHappyLongTrade(t *testing.T) {
	cfg := testCfg()
	cfg.MaxConcurrentTrades = 2
	signal := Signal{Kind: OpenLong}
	snapshot := AccountSnapshot{
		FreeQuote:   money.NewQuote(10000),
		FreeBase:    money.ZeroBase(),
		TickerPrice: money.NewPrice(100),
	}
	atr := money.NewPrice(2)

	intent, err := SizeOrder(signal, snapshot, atr, riskTestFilters(), cfg, 0)
	require.NoError(t, err)
	assert.Equal(t, SideBuy, intent.Side)
	assert.True(t, intent.QuantityBase.GreaterThan(money.ZeroBase()))
	assert.True(t, intent.StopLoss.LessThan(intent.EntryRefPrice))
	assert.True(t, intent.TakeProfit.GreaterThan(intent.EntryRefPrice))
}

func TestSizeOrderRejectsMinNotional(t *testing.T) {
	cfg := testCfg()
	cfg.RiskPerTrade = 0.0001 // tiny fraction -> tiny notional
	signal := Signal{Kind: OpenLong}
	snapshot := AccountSnapshot{
		FreeQuote:   money.NewQuote(100),
		TickerPrice: money.NewPrice(100),
	}
	atr := money.NewPrice(2)

	_, err := SizeOrder(signal, snapshot, atr, riskTestFilters(), cfg, 0)
	require.Error(t, err)
	var ee *EngineError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, "min_notional", ee.Reason)
}

func TestSizeOrderChecksCorrectSideBalance(t *testing.T) {
	cfg := testCfg()
	signal := Signal{Kind: OpenShort}
	snapshot := AccountSnapshot{
		FreeQuote:   money.NewQuote(100000), // plenty of quote, irrelevant for a sell
		FreeBase:    money.ZeroBase(),        // but no base to sell
		TickerPrice: money.NewPrice(100),
	}
	atr := money.NewPrice(2)

	_, err := SizeOrder(signal, snapshot, atr, riskTestFilters(), cfg, 0)
	require.Error(t, err)
	var ee *EngineError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, "insufficient_base", ee.Reason)
}

func TestSizeOrderRejectsAtConcurrencyCap(t *testing.T) {
	cfg := testCfg()
	cfg.MaxConcurrentTrades = 1
	signal := Signal{Kind: OpenLong}
	snapshot := AccountSnapshot{FreeQuote: money.NewQuote(10000), TickerPrice: money.NewPrice(100)}

	_, err := SizeOrder(signal, snapshot, money.NewPrice(2), riskTestFilters(), cfg, 1)
	require.Error(t, err)
	var ee *EngineError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, "max_concurrent_trades", ee.Reason)
}

func TestSizeOrderRejectsShortWhenLongOnly(t *testing.T) {
	cfg := testCfg()
	cfg.LongOnly = true
	signal := Signal{Kind: OpenShort}
	snapshot := AccountSnapshot{FreeBase: money.NewBase(10), TickerPrice: money.NewPrice(100)}

	_, err := SizeOrder(signal, snapshot, money.NewPrice(2), riskTestFilters(), cfg, 0)
	require.Error(t, err)
	var ee *EngineError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, "long_only", ee.Reason)
}

func TestSnapToStepFloorRoundsDown(t *testing.T) {
	qty := money.NewBase(0.123456)
	step := money.NewBase(0.001)
	snapped := snapToStepFloor(qty, step)
	assert.InDelta(t, 0.123, snapped.Float64(), 1e-9)
}
