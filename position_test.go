package main

import (
	"context"
	"testing"

	"github.com/chidi150c/heikinedge/money"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCfg() Config {
	return Config{
		Symbol:              "BTCUSDT",
		MaxConcurrentTrades: 1,
		TrailActivationFrac: 0.01,
		TrailRetraceFrac:    0.01,
		RiskPerTrade:        0.02,
		SLATRMultiplier:     2.0,
		TPATRMultiplier:     4.0,
		FeeBufferFrac:       0.002,
	}
}

func openLongPosition(t *testing.T, pm *PositionManager, entry, sl, tp float64) *Position {
	t.Helper()
	p := pm.Adopt("ord-1", OrderIntent{
		Symbol:        "BTCUSDT",
		Side:          SideBuy,
		QuantityBase:  money.NewBase(1),
		EntryRefPrice: money.NewPrice(entry),
		StopLoss:      money.NewPrice(sl),
		TakeProfit:    money.NewPrice(tp),
	})
	require.NoError(t, pm.Confirm("ord-1", money.NewBase(1), money.NewPrice(entry)))
	return p
}

func TestTrailingStopNeverLoosens(t *testing.T) {
	pm := NewPositionManager(testCfg(), nil)
	openLongPosition(t, pm, 100, 95, 120)

	pm.Tick(Ticker{Last: money.NewPrice(110)})
	p := pm.Snapshot()[0]
	firstStop := p.StopLoss
	assert.True(t, p.TrailingActivated)
	assert.True(t, firstStop.GreaterThan(money.NewPrice(95)))

	// Price retreats but stays above entry: stop must not loosen.
	pm.Tick(Ticker{Last: money.NewPrice(105)})
	p2 := pm.Snapshot()[0]
	assert.False(t, p2.StopLoss.LessThan(firstStop), "stop loosened after price pulled back")

	// Price advances further: stop must ratchet up.
	pm.Tick(Ticker{Last: money.NewPrice(115)})
	p3 := pm.Snapshot()[0]
	assert.True(t, p3.StopLoss.GreaterThan(firstStop), "stop failed to ratchet forward on new high")
}

func TestCheckCrossesClosesOnStopLoss(t *testing.T) {
	pm := NewPositionManager(testCfg(), nil)
	openLongPosition(t, pm, 100, 95, 120)

	closing := pm.CheckCrosses(Ticker{Last: money.NewPrice(94)}, true, NoSignal)
	require.Len(t, closing, 1)
	assert.Equal(t, CloseStopLoss, closing[0].CloseReason)
}

func TestCheckCrossesClosesOnReverseSignal(t *testing.T) {
	pm := NewPositionManager(testCfg(), nil)
	openLongPosition(t, pm, 100, 95, 120)

	closing := pm.CheckCrosses(Ticker{Last: money.NewPrice(101)}, true, OpenShort)
	require.Len(t, closing, 1)
	assert.Equal(t, CloseSignalExit, closing[0].CloseReason)
}

func TestCloseComputesRealizedPnLInQuote(t *testing.T) {
	pm := NewPositionManager(testCfg(), nil)
	openLongPosition(t, pm, 100, 95, 120)

	err := pm.Close("ord-1", money.NewPrice(110), money.NewQuote(0.5), CloseTakeProfit)
	require.NoError(t, err)

	p := pm.Snapshot()[0]
	require.NotNil(t, p.RealizedPnLQuote)
	// (110-100)*1 - 0.5 fee = 9.5 quote.
	assert.InDelta(t, 9.5, p.RealizedPnLQuote.Float64(), 0.0001)
	assert.Equal(t, StateClosed, p.State)
}

func TestShortPositionPnLSign(t *testing.T) {
	pm := NewPositionManager(testCfg(), nil)
	pm.Adopt("ord-2", OrderIntent{
		Symbol:        "BTCUSDT",
		Side:          SideSell,
		QuantityBase:  money.NewBase(1),
		EntryRefPrice: money.NewPrice(100),
		StopLoss:      money.NewPrice(105),
		TakeProfit:    money.NewPrice(80),
	})
	require.NoError(t, pm.Confirm("ord-2", money.NewBase(1), money.NewPrice(100)))

	err := pm.Close("ord-2", money.NewPrice(90), money.ZeroQuote(), CloseTakeProfit)
	require.NoError(t, err)
	p := pm.Snapshot()[0]
	assert.True(t, p.RealizedPnLQuote.IsPositive(), "short profits when price falls below entry")
}

type reconcileGateway struct {
	*PaperGateway
	openOrders []OrderRecord
	balances   map[string]Balance
}

func (g *reconcileGateway) FetchOpenOrders(ctx context.Context, symbol string) ([]OrderRecord, error) {
	return g.openOrders, nil
}

func (g *reconcileGateway) FetchBalances(ctx context.Context) (map[string]Balance, error) {
	return g.balances, nil
}

func TestReconcileClosesPositionGoneFromExchange(t *testing.T) {
	pm := NewPositionManager(testCfg(), nil)
	openLongPosition(t, pm, 100, 95, 120)

	gw := &reconcileGateway{
		PaperGateway: NewPaperGateway("BTCUSDT", 100, 0, 0),
		openOrders:   nil, // exchange no longer lists the order as open
		balances: map[string]Balance{
			"BTC": {Free: 0, Locked: 0}, // and the base balance can't back it
		},
	}

	err := pm.Reconcile(context.Background(), gw, "BTCUSDT", false)
	require.NoError(t, err)

	p := pm.Snapshot()[0]
	assert.Equal(t, StateClosed, p.State)
	assert.Equal(t, CloseReconcileGone, p.CloseReason)
}

func TestReconcileIsIdempotentOnUnchangedState(t *testing.T) {
	pm := NewPositionManager(testCfg(), nil)
	openLongPosition(t, pm, 100, 95, 120)

	gw := &reconcileGateway{
		PaperGateway: NewPaperGateway("BTCUSDT", 100, 0, 0),
		openOrders:   []OrderRecord{{ID: "ord-1", Symbol: "BTCUSDT", Side: SideBuy}},
		balances: map[string]Balance{
			"BTC": {Free: 1, Locked: 0},
		},
	}

	require.NoError(t, pm.Reconcile(context.Background(), gw, "BTCUSDT", false))
	require.NoError(t, pm.Reconcile(context.Background(), gw, "BTCUSDT", false))

	p := pm.Snapshot()[0]
	assert.Equal(t, StateOpen, p.State)
}

type siblingFillGateway struct {
	*PaperGateway
	openOrders []OrderRecord
	balances   map[string]Balance
	filled     map[string]OrderRecord
}

func (g *siblingFillGateway) FetchOpenOrders(ctx context.Context, symbol string) ([]OrderRecord, error) {
	return g.openOrders, nil
}

func (g *siblingFillGateway) FetchBalances(ctx context.Context) (map[string]Balance, error) {
	return g.balances, nil
}

func (g *siblingFillGateway) GetOrder(ctx context.Context, symbol, orderID string) (OrderRecord, error) {
	return g.filled[orderID], nil
}

func TestReconcileClosesOnExchangeReportedStopLossFill(t *testing.T) {
	pm := NewPositionManager(testCfg(), nil)
	openLongPosition(t, pm, 100, 95, 120)
	pm.SetStopOrders("ord-1", "sl-1", "tp-1")

	gw := &siblingFillGateway{
		PaperGateway: NewPaperGateway("BTCUSDT", 100, 0, 0),
		openOrders:   nil, // neither sl-1 nor tp-1 (nor the entry) is resting anymore
		balances: map[string]Balance{
			"BTC": {Free: 1, Locked: 0}, // balance alone would say "still open"
		},
		filled: map[string]OrderRecord{
			"sl-1": {ID: "sl-1", Status: OrderFilled, AvgPrice: money.NewPrice(95)},
			"tp-1": {ID: "tp-1", Status: OrderCanceled},
		},
	}

	require.NoError(t, pm.Reconcile(context.Background(), gw, "BTCUSDT", false))

	p := pm.Snapshot()[0]
	assert.Equal(t, StateClosed, p.State)
	assert.Equal(t, CloseStopLoss, p.CloseReason)
	require.NotNil(t, p.RealizedPnLQuote)
	// (95-100)*1 = -5 quote.
	assert.InDelta(t, -5, p.RealizedPnLQuote.Float64(), 1e-9)
}

func TestReconcileClosesOnExchangeReportedTakeProfitFill(t *testing.T) {
	pm := NewPositionManager(testCfg(), nil)
	openLongPosition(t, pm, 100, 95, 120)
	pm.SetStopOrders("ord-1", "sl-1", "tp-1")

	gw := &siblingFillGateway{
		PaperGateway: NewPaperGateway("BTCUSDT", 100, 0, 0),
		openOrders:   nil,
		balances: map[string]Balance{
			"BTC": {Free: 1, Locked: 0},
		},
		filled: map[string]OrderRecord{
			"sl-1": {ID: "sl-1", Status: OrderCanceled},
			"tp-1": {ID: "tp-1", Status: OrderFilled, AvgPrice: money.NewPrice(120)},
		},
	}

	require.NoError(t, pm.Reconcile(context.Background(), gw, "BTCUSDT", false))

	p := pm.Snapshot()[0]
	assert.Equal(t, StateClosed, p.State)
	assert.Equal(t, CloseTakeProfit, p.CloseReason)
	require.NotNil(t, p.RealizedPnLQuote)
	assert.InDelta(t, 20, p.RealizedPnLQuote.Float64(), 1e-9)
}

func TestStopOrderIDsReturnsEmptyForUnknownPosition(t *testing.T) {
	pm := NewPositionManager(testCfg(), nil)
	sl, tp := pm.StopOrderIDs("does-not-exist")
	assert.Empty(t, sl)
	assert.Empty(t, tp)
}

func TestOpenCountExcludesClosed(t *testing.T) {
	pm := NewPositionManager(testCfg(), nil)
	openLongPosition(t, pm, 100, 95, 120)
	assert.Equal(t, 1, pm.OpenCount())

	require.NoError(t, pm.Close("ord-1", money.NewPrice(101), money.ZeroQuote(), CloseManual))
	assert.Equal(t, 0, pm.OpenCount())
}

func TestPositionInvariantRejectsCrossedLongBracket(t *testing.T) {
	p := Position{
		ID:           "x",
		Side:         PositionLong,
		QuantityBase: money.NewBase(1),
		EntryPrice:   money.NewPrice(100),
		StopLoss:     money.NewPrice(105), // invalid: SL above entry for a long
		TakeProfit:   money.NewPrice(120),
		State:        StateOpen,
	}
	assert.Error(t, p.Invariant())
}

func TestBaseAssetOfStripsKnownQuote(t *testing.T) {
	assert.Equal(t, "BTC", baseAssetOf("BTCUSDT"))
	assert.Equal(t, "ETH", baseAssetOf("ETHUSDC"))
	assert.Equal(t, "WEIRD", baseAssetOf("WEIRD"))
}
