package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToQuoteRegression(t *testing.T) {
	// entry 108080, exit 107985, quantity 0.02925 (short). realized
	// P&L must be ~2.78 quote, never ~69962 - the regression case for
	// multiplying a base-unit P&L by price again.
	entry := NewPrice(108080)
	exit := NewPrice(107985)
	qty := NewBase(0.02925)

	move := entry.Sub(exit) // short: favorable when price falls
	pnl := qty.ToQuote(PriceFromDecimal(move.Dec()))

	assert.InDelta(t, 2.78, pnl.Float64(), 0.01)
	assert.NotInDelta(t, 69962.0, pnl.Float64(), 1000)
}

func TestHappyLongTradeSizing(t *testing.T) {
	equity := NewQuote(1000)
	riskPct := 0.02
	atr := NewPrice(200)
	slMult := 2.0

	stopDistance := atr.Mul(decimal.NewFromFloat(slMult))
	riskQuote := equity.MulFrac(decimal.NewFromFloat(riskPct))
	qty := riskQuote.ToBase(PriceFromDecimal(stopDistance.Dec()))

	assert.InDelta(t, 0.05, qty.Float64(), 1e-9)
}

func TestNoImplicitBaseToQuote(t *testing.T) {
	b := NewBase(1)
	// Base has no Add(Quote) or arithmetic that yields Quote without a
	// Price; the only path is ToQuote. This test documents the contract
	// by exercising it explicitly rather than via the compiler (a
	// negative compile test can't live in a _test.go file).
	q := b.ToQuote(NewPrice(30000))
	require.Equal(t, 30000.0, q.Float64())
}
