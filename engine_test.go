package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// uptrendBars builds n consecutive 15m bars with a strict upward close,
// a constant true-range band, and constant volume — enough history to
// clear every indicator's warm-up (EMA200 is the longest at 200 bars).
func uptrendBars(n int) []Bar {
	out := make([]Bar, n)
	base := time.Unix(1700000000, 0).UTC()
	for i := 0; i < n; i++ {
		c := 100 + float64(i)*0.05
		o := c - 0.05
		if i == 0 {
			o = c
		}
		out[i] = Bar{
			OpenTime: base.Add(time.Duration(i) * 15 * time.Minute),
			Open:     decimal.NewFromFloat(o),
			High:     decimal.NewFromFloat(c + 0.5),
			Low:      decimal.NewFromFloat(c - 0.5),
			Close:    decimal.NewFromFloat(c),
			Volume:   decimal.NewFromFloat(100),
		}
	}
	return out
}

// engineTestCfg disables the oscillator veto (RSI pins near 100 on a
// bar series with no down-moves) so the cascade exercises only the
// filters this suite cares about.
func engineTestCfg() Config {
	cfg := testCfg()
	cfg.ConfThreshold = 0.1
	cfg.ATRMin = 0.0015
	cfg.ATRMax = 0.15
	cfg.VolRatioMin = 0.5
	cfg.TrendLookback = 2
	cfg.RSIOversold = -1000
	cfg.RSIOverbought = 1000
	cfg.CCIBound = 1e9
	cfg.LongOnly = false
	cfg.DryRun = false
	cfg.MaxConcurrentTrades = 1
	return cfg
}

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := NewLedger(filepath.Join(t.TempDir(), "ledger.jsonl"))
	require.NoError(t, err)
	return l
}

func TestEngineAdvanceHappyLongEntry(t *testing.T) {
	const n = 260
	bars := uptrendBars(n)
	lastClose := 100 + float64(n-1)*0.05

	store := NewBarStore("BTCUSDT", "5m", 1, n+10, "")
	store.bars = bars

	artifact := &ModelArtifact{
		FeatureNames: []string{"ha_close"},
		Weights:      []float64{1},
		Bias:         -(lastClose - 5),
		ScalerMean:   map[string]float64{"ha_close": 0},
		ScalerStd:    map[string]float64{"ha_close": 1},
	}

	cfg := engineTestCfg()
	// Risk a small fraction relative to the stop distance so the sized
	// notional stays inside the available quote balance: stop_distance
	// is a couple of ATRs (~2), the price is ~113, so risking much more
	// than ~1% of equity would demand more notional than is funded.
	cfg.RiskPerTrade = 0.01
	gw := NewPaperGateway("BTCUSDT", lastClose, 1000000, 0)
	posMgr := NewPositionManager(cfg, newTestLedger(t))
	engine := NewEngine(cfg, gw, store, artifact, posMgr, newTestLedger(t))

	ticker, err := gw.FetchTicker(context.Background(), "BTCUSDT")
	require.NoError(t, err)

	require.NoError(t, engine.advance(context.Background(), ticker, true))

	assert.Equal(t, 1, posMgr.OpenCount())
	p := posMgr.Snapshot()[0]
	assert.Equal(t, PositionLong, p.Side)
	assert.Equal(t, StateOpen, p.State)
}

func TestEngineAdvanceSkipsEntryWhenNoNewBar(t *testing.T) {
	cfg := engineTestCfg()
	gw := NewPaperGateway("BTCUSDT", 100, 100000, 0)
	posMgr := NewPositionManager(cfg, newTestLedger(t))
	store := NewBarStore("BTCUSDT", "5m", 1, 10, "")
	engine := NewEngine(cfg, gw, store, nil, posMgr, newTestLedger(t))

	ticker, err := gw.FetchTicker(context.Background(), "BTCUSDT")
	require.NoError(t, err)

	require.NoError(t, engine.advance(context.Background(), ticker, false))
	assert.Equal(t, 0, posMgr.OpenCount())
}

func TestEngineAdvanceClosesOnStopLossCross(t *testing.T) {
	cfg := engineTestCfg()
	gw := NewPaperGateway("BTCUSDT", 94, 0, 1)
	posMgr := NewPositionManager(cfg, nil)
	openLongPosition(t, posMgr, 100, 95, 120)

	store := NewBarStore("BTCUSDT", "5m", 1, 10, "")
	engine := NewEngine(cfg, gw, store, nil, posMgr, newTestLedger(t))

	ticker, err := gw.FetchTicker(context.Background(), "BTCUSDT")
	require.NoError(t, err)

	require.NoError(t, engine.advance(context.Background(), ticker, false))

	assert.Equal(t, 0, posMgr.OpenCount())
	p := posMgr.Snapshot()[0]
	assert.Equal(t, StateClosed, p.State)
	assert.Equal(t, CloseStopLoss, p.CloseReason)

	balances, err := gw.FetchBalances(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 94, balances["USDT"].Free, 1e-9)
	assert.InDelta(t, 0, balances["BTC"].Free, 1e-9)
}

func TestEngineAdvanceRejectsEntryUnderMinNotional(t *testing.T) {
	const n = 260
	bars := uptrendBars(n)
	lastClose := 100 + float64(n-1)*0.05

	store := NewBarStore("BTCUSDT", "5m", 1, n+10, "")
	store.bars = bars

	artifact := &ModelArtifact{
		FeatureNames: []string{"ha_close"},
		Weights:      []float64{1},
		Bias:         -(lastClose - 5),
		ScalerMean:   map[string]float64{"ha_close": 0},
		ScalerStd:    map[string]float64{"ha_close": 1},
	}

	cfg := engineTestCfg()
	cfg.RiskPerTrade = 0.0001 // tiny risk budget -> notional below the exchange floor

	gw := NewPaperGateway("BTCUSDT", lastClose, 100, 0)
	posMgr := NewPositionManager(cfg, newTestLedger(t))
	engine := NewEngine(cfg, gw, store, artifact, posMgr, newTestLedger(t))

	ticker, err := gw.FetchTicker(context.Background(), "BTCUSDT")
	require.NoError(t, err)

	require.NoError(t, engine.advance(context.Background(), ticker, true))
	assert.Equal(t, 0, posMgr.OpenCount())
}
