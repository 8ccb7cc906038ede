// FILE: engine.go
// Package main – Orchestrator. One Engine per symbol, driving a fixed
// cycle order: reconcile strictly before trailing updates, trailing
// strictly before new-signal evaluation, order placement strictly
// after sizing validation. Each concern lives in its own component;
// Cycle only sequences them.
package main

import (
	"context"
	"errors"

	"github.com/chidi150c/heikinedge/indicators"
	"github.com/chidi150c/heikinedge/money"
	"github.com/sirupsen/logrus"
)

// Engine wires every component together for one (gateway, symbol) pair.
type Engine struct {
	cfg     Config
	gw      Gateway
	bars    *BarStore
	model   *ModelArtifact
	posMgr  *PositionManager
	ledger  *Ledger
	log     *logrus.Entry
	lastATR money.Price
}

func NewEngine(cfg Config, gw Gateway, bars *BarStore, model *ModelArtifact, posMgr *PositionManager, ledger *Ledger) *Engine {
	return &Engine{
		cfg:    cfg,
		gw:     gw,
		bars:   bars,
		model:  model,
		posMgr: posMgr,
		ledger: ledger,
		log:    logrus.WithField("component", "engine").WithField("symbol", cfg.Symbol),
	}
}

// Cycle runs exactly one pass of the orchestrator loop:
//  1. fetch ticker
//  2. poll the gateway for bars into the store, noting whether a new
//     coarse bar completed (no decision is made yet)
//  3. reconcile against the exchange's authoritative view
//  4. advance trailing stops on the fresh price
//  5. check local SL/TP/signal-exit crosses and close anything triggered
//  6. if a new bar completed in step 2, evaluate a signal
//  7. if a tradeable signal survives, size and place an order
//
// Steps 3-7 are advance.
//
// Every step that can fail returns a classified *EngineError; Cycle
// never panics on a transient failure — it logs and returns, letting
// the caller's loop retry next period.
func (e *Engine) Cycle(ctx context.Context) error {
	ticker, err := e.gw.FetchTicker(ctx, e.cfg.Symbol)
	if err != nil {
		e.logCycleErr(err)
		return err
	}

	newBar, err := e.bars.Poll(ctx, e.gw, 5)
	if err != nil {
		e.logCycleErr(err)
		return err
	}

	return e.advance(ctx, ticker, newBar)
}

// advance runs the reconcile-through-order-placement sequence shared by
// the live loop and the replay driver. The two callers differ only in
// how they obtain ticker and newBar: Cycle fetches the ticker and polls
// the gateway for bars; runReplay feeds a bar directly into the store
// and reads the ticker off the same synthetic price.
func (e *Engine) advance(ctx context.Context, ticker Ticker, newBar bool) error {
	if err := e.posMgr.Reconcile(ctx, e.gw, e.cfg.Symbol, e.cfg.ShouldAdopt()); err != nil {
		e.logCycleErr(err)
		return err
	}

	for _, p := range e.posMgr.Tick(ticker) {
		e.replaceStopLoss(ctx, p)
	}
	mtxOpenPositions.Set(float64(e.posMgr.OpenCount()))

	closing := e.posMgr.CheckCrosses(ticker, true, NoSignal)
	for _, p := range closing {
		if err := e.closePosition(ctx, p, ticker); err != nil {
			e.logCycleErr(err)
		}
	}

	if !newBar {
		return nil
	}

	frame := indicators.Pipeline(ToIndicatorBars(e.bars.Window()))
	if frame.Len() == 0 {
		return nil
	}
	if atr, ok := frame.Row(frame.Len()-1, indicators.ColATR14); ok {
		e.lastATR = money.NewPrice(atr)
	}

	signal := EvaluateSignal(frame, e.model, e.cfg)
	mtxDecisions.WithLabelValues(signal.Kind.String()).Inc()
	if signal.Kind == NoSignal {
		if signal.Reason != "" {
			mtxSignalRejections.WithLabelValues(signal.Reason).Inc()
		}
		return nil
	}

	closing = e.posMgr.CheckCrosses(ticker, true, signal.Kind)
	for _, p := range closing {
		if err := e.closePosition(ctx, p, ticker); err != nil {
			e.logCycleErr(err)
		}
	}

	return e.tryEnter(ctx, signal, ticker)
}

// replaceStopLoss cancels a position's stale resting SL order and
// places a fresh one at the ratcheted price. Called right after Tick
// reports the local stop moved, so the exchange-side order never lags
// the locally tracked stop for more than one cycle.
func (e *Engine) replaceStopLoss(ctx context.Context, p *Position) {
	if e.cfg.DryRun {
		return
	}
	slID, tpID := e.posMgr.StopOrderIDs(p.ID)
	closeSide := SideSell
	if p.Side == PositionShort {
		closeSide = SideBuy
	}
	if slID != "" {
		if err := e.gw.CancelOrder(ctx, e.cfg.Symbol, slID); err != nil {
			e.logCycleErr(err)
		}
	}
	newID, err := e.gw.PlaceStopLoss(ctx, e.cfg.Symbol, closeSide, p.QuantityBase, p.StopLoss)
	if err != nil {
		e.logCycleErr(err)
		newID = ""
	}
	e.posMgr.SetStopOrders(p.ID, newID, tpID)
}

func (e *Engine) tryEnter(ctx context.Context, signal Signal, ticker Ticker) error {
	balances, err := e.gw.FetchBalances(ctx)
	if err != nil {
		e.logCycleErr(err)
		return err
	}
	quoteAsset := "USDT"
	baseAsset := baseAssetOf(e.cfg.Symbol)
	snapshot := AccountSnapshot{
		FreeQuote:   money.NewQuote(balances[quoteAsset].Free),
		FreeBase:    money.NewBase(balances[baseAsset].Free),
		TickerPrice: ticker.Last,
	}

	filters, err := e.gw.GetExchangeFilters(ctx, e.cfg.Symbol)
	if err != nil {
		e.logCycleErr(err)
		return err
	}

	intent, err := SizeOrder(signal, snapshot, e.lastATR, filters, e.cfg, e.posMgr.OpenCount())
	if err != nil {
		var ee *EngineError
		if errors.As(err, &ee) {
			mtxSignalRejections.WithLabelValues(ee.Reason).Inc()
		}
		e.log.WithError(err).Info("entry rejected")
		return nil // policy rejection, not a cycle failure
	}

	if e.cfg.DryRun {
		e.log.WithField("intent", intent).Info("dry_run: would place order")
		return nil
	}

	order, err := e.gw.PlaceMarketOrder(ctx, e.cfg.Symbol, intent.Side, intent.QuantityBase)
	if err != nil {
		e.logCycleErr(err)
		return err
	}
	mtxOrders.WithLabelValues("live", intent.Side.String()).Inc()

	e.posMgr.Adopt(order.ID, intent)
	if err := e.posMgr.Confirm(order.ID, order.FilledBase, order.AvgPrice); err != nil {
		e.logCycleErr(err)
	}

	slSide := SideSell
	tpSide := SideSell
	if intent.Side == SideSell {
		slSide, tpSide = SideBuy, SideBuy
	}
	var slID, tpID string
	if id, err := e.gw.PlaceStopLoss(ctx, e.cfg.Symbol, slSide, order.FilledBase, intent.StopLoss); err != nil {
		e.logCycleErr(err)
	} else {
		slID = id
	}
	if id, err := e.gw.PlaceTakeProfit(ctx, e.cfg.Symbol, tpSide, order.FilledBase, intent.TakeProfit); err != nil {
		e.logCycleErr(err)
	} else {
		tpID = id
	}
	e.posMgr.SetStopOrders(order.ID, slID, tpID)
	return nil
}

// closePosition market-closes p and cancels whichever sibling SL/TP
// order is still resting on the exchange, so a local close (signal
// exit, local cross, manual flatten) never leaves a stale order behind.
func (e *Engine) closePosition(ctx context.Context, p *Position, ticker Ticker) error {
	closeSide := SideSell
	if p.Side == PositionShort {
		closeSide = SideBuy
	}
	if e.cfg.DryRun {
		return e.posMgr.Close(p.ID, ticker.Last, money.ZeroQuote(), p.CloseReason)
	}
	order, err := e.gw.PlaceMarketOrder(ctx, e.cfg.Symbol, closeSide, p.QuantityBase)
	if err != nil {
		return err
	}
	mtxOrders.WithLabelValues("live", closeSide.String()).Inc()
	e.cancelSiblingOrders(ctx, p.ID)
	fee := order.CommissionUSD
	return e.posMgr.Close(p.ID, order.AvgPrice, fee, p.CloseReason)
}

// cancelSiblingOrders cancels both the SL and TP orders tracked for a
// position. Safe to call on a position where one of them already
// filled or was never placed: the gateway classifies an already-gone
// order as a non-fatal integrity error, which is logged and ignored.
func (e *Engine) cancelSiblingOrders(ctx context.Context, positionID string) {
	slID, tpID := e.posMgr.StopOrderIDs(positionID)
	for _, id := range []string{slID, tpID} {
		if id == "" {
			continue
		}
		if err := e.gw.CancelOrder(ctx, e.cfg.Symbol, id); err != nil {
			e.logCycleErr(err)
		}
	}
}

func (e *Engine) logCycleErr(err error) {
	var ee *EngineError
	kind := "unknown"
	if errors.As(err, &ee) {
		kind = ee.Kind.String()
	}
	mtxCycleErrors.WithLabelValues(kind).Inc()
	entry := e.log.WithError(err)
	switch {
	case ee == nil || ee.Kind == ErrTransient:
		entry.Warn("cycle error")
	case ee.Kind == ErrPolicy:
		entry.Info("cycle error")
	default: // integrity and fatal kinds
		entry.Error("cycle error")
	}
}

// flattenAll force-closes every open position at market, used on
// graceful shutdown when cfg.FlattenOnExit is set.
func (e *Engine) flattenAll(ctx context.Context) {
	for _, p := range e.posMgr.Snapshot() {
		if p.State != StateOpen {
			continue
		}
		ticker, err := e.gw.FetchTicker(ctx, e.cfg.Symbol)
		if err != nil {
			e.logCycleErr(err)
			continue
		}
		pc := p
		pc.CloseReason = CloseManual
		if err := e.closePosition(ctx, &pc, ticker); err != nil {
			e.logCycleErr(err)
		}
	}
}
