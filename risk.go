// FILE: risk.go
// Package main – Risk & Sizing: one validated-or-rejected OrderIntent
// per signal, computed from ATR-scaled stop/target distances and a
// fixed fraction of equity risked per trade. Step-snapping and
// min-notional checks follow exchange filter rules directly; there is
// no staged or pyramiding sizing.
package main

import (
	"github.com/chidi150c/heikinedge/money"
	"github.com/shopspring/decimal"
)

// SizeOrder computes and validates one order intent for signal.
// currentOpen is the count of this symbol's non-closed positions,
// checked against cfg.MaxConcurrentTrades.
func SizeOrder(signal Signal, snapshot AccountSnapshot, atr money.Price, filters ExchangeFilters, cfg Config, currentOpen int) (OrderIntent, error) {
	symbol := cfg.Symbol

	if currentOpen >= cfg.MaxConcurrentTrades {
		return OrderIntent{}, newPolicyErr(symbol, "max_concurrent_trades")
	}
	if signal.Kind == NoSignal {
		return OrderIntent{}, newPolicyErr(symbol, "no_signal")
	}

	side := SideBuy
	posSide := PositionLong
	if signal.Kind == OpenShort {
		side = SideSell
		posSide = PositionShort
	}
	if posSide == PositionShort && cfg.LongOnly {
		return OrderIntent{}, newPolicyErr(symbol, "long_only")
	}

	entryRef := snapshot.TickerPrice
	stopDistance := atr.Mul(decimal.NewFromFloat(cfg.SLATRMultiplier))
	tpDistance := atr.Mul(decimal.NewFromFloat(cfg.TPATRMultiplier))
	if stopDistance.Float64() <= 0 {
		return OrderIntent{}, newIntegrityErr(symbol, "atr_non_positive", nil)
	}

	var sl, tp money.Price
	if posSide == PositionLong {
		sl = entryRef.Sub(stopDistance)
		tp = entryRef.Add(tpDistance)
	} else {
		sl = entryRef.Add(stopDistance)
		tp = entryRef.Sub(tpDistance)
	}

	equity := snapshot.EquityQuote()
	riskQuote := equity.MulFrac(decimal.NewFromFloat(cfg.RiskPerTrade))
	qty := riskQuote.ToBase(money.PriceFromDecimal(stopDistance.Dec()))

	// Quantize to exchange step size (floor).
	qty = snapToStepFloor(qty, filters.BaseStep)

	if qty.LessThan(filters.BaseStep) || !qty.GreaterThan(money.ZeroBase()) {
		return OrderIntent{}, newPolicyErr(symbol, "min_lot_size")
	}
	notional := qty.ToQuote(entryRef)
	if notional.LessThan(filters.MinNotional) {
		return OrderIntent{}, newPolicyErr(symbol, "min_notional")
	}

	// Side-correct balance check: a buy spends quote, a sell spends base.
	if side == SideBuy {
		buffer := decimal.NewFromFloat(1 + cfg.FeeBufferFrac)
		need := notional.MulFrac(buffer)
		if snapshot.FreeQuote.LessThan(need) {
			return OrderIntent{}, newPolicyErr(symbol, "insufficient_quote")
		}
	} else {
		if snapshot.FreeBase.LessThan(qty) {
			return OrderIntent{}, newPolicyErr(symbol, "insufficient_base")
		}
	}

	// Risk cap numeric sanity.
	actualRisk := qty.ToQuote(money.PriceFromDecimal(stopDistance.Dec()))
	cap := equity.MulFrac(decimal.NewFromFloat(cfg.RiskPerTrade * 1.01))
	if actualRisk.GreaterThan(cap) {
		return OrderIntent{}, newPolicyErr(symbol, "risk_cap_exceeded")
	}

	return OrderIntent{
		Side:          side,
		Symbol:        symbol,
		QuantityBase:  qty,
		EntryRefPrice: entryRef,
		StopLoss:      sl,
		TakeProfit:    tp,
		RiskQuote:     actualRisk,
	}, nil
}

// snapToStepFloor rounds a Base quantity down to the nearest multiple
// of step.
func snapToStepFloor(qty money.Base, step money.Base) money.Base {
	if !step.GreaterThan(money.ZeroBase()) {
		return qty
	}
	q := qty.Dec().Div(step.Dec()).Floor().Mul(step.Dec())
	if q.IsNegative() {
		q = decimal.Zero
	}
	return money.BaseFromDecimal(q)
}
