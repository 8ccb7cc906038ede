// FILE: position.go
// Package main – Position Manager. State machine OPENING -> OPEN ->
// CLOSING -> CLOSED, bounded by max_concurrent_trades: one position per
// concurrency slot rather than an unbounded multi-lot book. The
// trailing-stop ratchet never loosens, and close accounting is fee
// aware.
package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chidi150c/heikinedge/money"
)

type PositionState int

const (
	StateOpening PositionState = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s PositionState) String() string {
	switch s {
	case StateOpening:
		return "OPENING"
	case StateOpen:
		return "OPEN"
	case StateClosing:
		return "CLOSING"
	default:
		return "CLOSED"
	}
}

// Position is one open or recently-closed trade.
type Position struct {
	ID                 string
	Symbol             string
	Side               PositionSide
	QuantityBase       money.Base
	EntryPrice         money.Price
	OpenedAt           time.Time
	StopLoss           money.Price
	TakeProfit         money.Price
	TrailingActivated  bool
	PeakFavorablePrice money.Price
	State              PositionState
	RealizedPnLQuote   *money.Quote
	CloseReason        CloseReason

	slOrderID string
	tpOrderID string
}

// Invariant checks the position's non-negotiable structural invariants.
func (p Position) Invariant() error {
	if p.State != StateClosed && !p.QuantityBase.GreaterThan(money.ZeroBase()) {
		return fmt.Errorf("position %s: quantity_base must be >0 while not CLOSED", p.ID)
	}
	if p.Side == PositionLong {
		if !(p.StopLoss.LessThan(p.EntryPrice) && p.EntryPrice.LessThan(p.TakeProfit)) {
			return fmt.Errorf("position %s: LONG invariant sl<entry<tp violated", p.ID)
		}
	} else {
		if !(p.TakeProfit.LessThan(p.EntryPrice) && p.EntryPrice.LessThan(p.StopLoss)) {
			return fmt.Errorf("position %s: SHORT invariant tp<entry<sl violated", p.ID)
		}
	}
	return nil
}

// PositionManager owns the map of non-closed positions for one symbol.
// All mutation happens through its methods on the orchestrator's
// single goroutine — the mutex exists only in case a caller wants to
// read state (e.g. a metrics scrape) from another goroutine. Reconcile
// holds it while asking the gateway about and cancelling tracked SL/TP
// orders; the other methods do no gateway I/O.
type PositionManager struct {
	mu        sync.Mutex
	positions map[string]*Position // keyed by exchange order id
	ledger    *Ledger
	cfg       Config
}

func NewPositionManager(cfg Config, ledger *Ledger) *PositionManager {
	return &PositionManager{
		positions: make(map[string]*Position),
		ledger:    ledger,
		cfg:       cfg,
	}
}

func (m *PositionManager) OpenCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, p := range m.positions {
		if p.State != StateClosed {
			n++
		}
	}
	return n
}

func (m *PositionManager) Snapshot() []Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Position, 0, len(m.positions))
	for _, p := range m.positions {
		out = append(out, *p)
	}
	return out
}

// Adopt creates a new Position in OPENING state from a just-placed
// order: a market order has been sent but not yet confirmed filled.
func (m *PositionManager) Adopt(orderID string, intent OrderIntent) *Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	side := PositionLong
	if intent.Side == SideSell {
		side = PositionShort
	}
	p := &Position{
		ID:           orderID,
		Symbol:       intent.Symbol,
		Side:         side,
		QuantityBase: intent.QuantityBase,
		EntryPrice:   intent.EntryRefPrice, // replaced by fill avg on Confirm
		OpenedAt:     time.Now(),
		StopLoss:     intent.StopLoss,
		TakeProfit:   intent.TakeProfit,
		State:        StateOpening,
	}
	m.positions[orderID] = p
	return p
}

// Confirm transitions OPENING -> OPEN using the exchange's reported
// filled quantity and volume-weighted average fill price — never the
// intent's entry_ref_price.
func (m *PositionManager) Confirm(orderID string, filledQty money.Base, avgPrice money.Price) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.positions[orderID]
	if !ok {
		return fmt.Errorf("confirm: unknown order %s", orderID)
	}
	if p.State != StateOpening {
		return nil
	}
	p.QuantityBase = filledQty
	p.EntryPrice = avgPrice
	p.PeakFavorablePrice = avgPrice
	p.State = StateOpen
	return nil
}

// Tick advances peak_favorable_price and the trailing stop on every
// cycle. The ratchet never loosens the stop. It returns the positions
// whose stop-loss actually moved this call, so the orchestrator can
// cancel the stale resting SL order and replace it at the new price.
func (m *PositionManager) Tick(ticker Ticker) []*Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ratcheted []*Position
	for _, p := range m.positions {
		if p.State != StateOpen {
			continue
		}
		before := p.StopLoss
		updateTrailing(p, ticker.Last, m.cfg)
		if p.StopLoss.Cmp(before) != 0 {
			ratcheted = append(ratcheted, p)
		}
	}
	return ratcheted
}

// SetStopOrders records the exchange order ids of a position's resting
// SL/TP orders so Reconcile can detect an exchange-side fill of either
// one directly, instead of only inferring closure from balances.
func (m *PositionManager) SetStopOrders(positionID, slOrderID, tpOrderID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.positions[positionID]; ok {
		p.slOrderID = slOrderID
		p.tpOrderID = tpOrderID
	}
}

// StopOrderIDs returns the tracked SL/TP order ids for a position, used
// by the orchestrator to cancel siblings on close or ratchet.
func (m *PositionManager) StopOrderIDs(positionID string) (sl, tp string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.positions[positionID]; ok {
		return p.slOrderID, p.tpOrderID
	}
	return "", ""
}

func updateTrailing(p *Position, price money.Price, cfg Config) {
	if p.Side == PositionLong {
		if price.GreaterThan(p.PeakFavorablePrice) {
			p.PeakFavorablePrice = price
		}
		profit := p.PeakFavorablePrice.Sub(p.EntryPrice).Dec().Mul(p.QuantityBase.Dec())
		trigger := p.EntryPrice.Dec().Mul(p.QuantityBase.Dec()).Mul(decFloat(cfg.TrailActivationFrac))
		if !p.TrailingActivated && profit.GreaterThan(trigger) {
			p.TrailingActivated = true
		}
		if p.TrailingActivated {
			newSL := p.PeakFavorablePrice.Mul(decFloat(1 - cfg.TrailRetraceFrac))
			if newSL.GreaterThan(p.StopLoss) { // never loosens
				p.StopLoss = newSL
			}
		}
	} else {
		if p.PeakFavorablePrice.Dec().IsZero() || price.LessThan(p.PeakFavorablePrice) {
			p.PeakFavorablePrice = price
		}
		profit := p.EntryPrice.Sub(p.PeakFavorablePrice).Dec().Mul(p.QuantityBase.Dec())
		trigger := p.EntryPrice.Dec().Mul(p.QuantityBase.Dec()).Mul(decFloat(cfg.TrailActivationFrac))
		if !p.TrailingActivated && profit.GreaterThan(trigger) {
			p.TrailingActivated = true
		}
		if p.TrailingActivated {
			newSL := p.PeakFavorablePrice.Mul(decFloat(1 + cfg.TrailRetraceFrac))
			if newSL.LessThan(p.StopLoss) || p.StopLoss.Dec().IsZero() { // never loosens
				p.StopLoss = newSL
			}
		}
	}
}

// CheckCrosses evaluates closure triggers: exchange-reported SL/TP
// fill is handled in Reconcile; here we check locally tracked SL/TP
// crossing and signal-exit.
func (m *PositionManager) CheckCrosses(ticker Ticker, exitOnReverse bool, reverseSignal SignalKind) []*Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	var toClose []*Position
	for _, p := range m.positions {
		if p.State != StateOpen {
			continue
		}
		if crossed, reason := crossedLocal(p, ticker.Last); crossed {
			p.State = StateClosing
			p.CloseReason = reason
			toClose = append(toClose, p)
			continue
		}
		if exitOnReverse && reverseAgainst(p.Side, reverseSignal) {
			p.State = StateClosing
			p.CloseReason = CloseSignalExit
			toClose = append(toClose, p)
		}
	}
	return toClose
}

func reverseAgainst(side PositionSide, k SignalKind) bool {
	if k == NoSignal {
		return false
	}
	if side == PositionLong && k == OpenShort {
		return true
	}
	if side == PositionShort && k == OpenLong {
		return true
	}
	return false
}

func crossedLocal(p *Position, price money.Price) (bool, CloseReason) {
	if p.Side == PositionLong {
		if price.LessThan(p.StopLoss) {
			if p.TrailingActivated {
				return true, CloseTrailingStop
			}
			return true, CloseStopLoss
		}
		if price.GreaterThan(p.TakeProfit) {
			return true, CloseTakeProfit
		}
	} else {
		if price.GreaterThan(p.StopLoss) {
			if p.TrailingActivated {
				return true, CloseTrailingStop
			}
			return true, CloseStopLoss
		}
		if price.LessThan(p.TakeProfit) {
			return true, CloseTakeProfit
		}
	}
	return false, CloseNone
}

// Close finalizes a CLOSING position into CLOSED with realized P&L
// always in quote currency, appends the ledger row, and makes the
// record immutable.
func (m *PositionManager) Close(orderID string, exitAvg money.Price, fees money.Quote, reason CloseReason) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.positions[orderID]
	if !ok {
		return fmt.Errorf("close: unknown position %s", orderID)
	}
	sign := decFloat(1)
	if p.Side == PositionShort {
		sign = decFloat(-1)
	}
	gross := exitAvg.Sub(p.EntryPrice).Dec().Mul(p.QuantityBase.Dec()).Mul(sign)
	pnl := money.QuoteFromDecimal(gross).Sub(fees)
	p.RealizedPnLQuote = &pnl
	p.State = StateClosed
	p.CloseReason = reason

	if m.ledger != nil {
		_ = m.ledger.Append(LedgerEntry{
			ClosedAt:      time.Now(),
			Symbol:        p.Symbol,
			Side:          p.Side,
			QuantityBase:  p.QuantityBase,
			EntryAvgPrice: p.EntryPrice,
			ExitAvgPrice:  exitAvg,
			RealizedPnL:   pnl,
			CloseReason:   reason,
		})
	}
	return nil
}

// Reconcile compares local OPEN positions against the exchange's
// authoritative open-order and balance view and converges local state
// to it. Calling this twice on unchanged exchange state must be a
// no-op.
func (m *PositionManager) Reconcile(ctx context.Context, gw Gateway, symbol string, adopt bool) error {
	openOrders, err := gw.FetchOpenOrders(ctx, symbol)
	if err != nil {
		return newTransientErr(symbol, "fetch_open_orders", err)
	}
	balances, err := gw.FetchBalances(ctx)
	if err != nil {
		return newTransientErr(symbol, "fetch_balances", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	known := make(map[string]bool, len(m.positions))
	for id, p := range m.positions {
		known[id] = true
		// A position's own resting SL/TP orders are known locally too.
		if p.slOrderID != "" {
			known[p.slOrderID] = true
		}
		if p.tpOrderID != "" {
			known[p.tpOrderID] = true
		}
	}

	for _, oo := range openOrders {
		if known[oo.ID] {
			continue
		}
		if !adopt {
			mtxReconcileEvents.WithLabelValues("ignored").Inc()
			continue
		}
		side := PositionLong
		if oo.Side == SideSell {
			side = PositionShort
		}
		m.positions[oo.ID] = &Position{
			ID:                 oo.ID,
			Symbol:             oo.Symbol,
			Side:               side,
			QuantityBase:       oo.FilledBase,
			EntryPrice:         oo.AvgPrice,
			OpenedAt:           oo.CreateTime,
			PeakFavorablePrice: oo.AvgPrice,
			State:              StateOpen,
		}
		mtxReconcileEvents.WithLabelValues("adopted").Inc()
	}

	stillOpenOnExchange := make(map[string]bool, len(openOrders))
	for _, oo := range openOrders {
		stillOpenOnExchange[oo.ID] = true
	}
	base, hasBase := balances[baseAssetOf(symbol)]
	for id, p := range m.positions {
		if p.State == StateClosed {
			continue
		}
		if stillOpenOnExchange[id] {
			continue
		}

		// Trigger (a): the exchange itself reports the SL or TP order
		// filled. Checked first so the close carries the real exit
		// price and reason instead of falling through to the balance
		// heuristic below.
		if filled, reason, exitAvg := checkSiblingFill(ctx, gw, symbol, p, stillOpenOnExchange); filled {
			p.State = StateClosed
			p.CloseReason = reason
			// The order that filled is already gone; cancel whichever
			// sibling is still resting so it doesn't execute later
			// against a position that no longer exists.
			if reason == CloseTakeProfit && p.slOrderID != "" {
				_ = gw.CancelOrder(ctx, symbol, p.slOrderID)
			} else if (reason == CloseStopLoss || reason == CloseTrailingStop) && p.tpOrderID != "" {
				_ = gw.CancelOrder(ctx, symbol, p.tpOrderID)
			}
			sign := decFloat(1)
			if p.Side == PositionShort {
				sign = decFloat(-1)
			}
			gross := exitAvg.Sub(p.EntryPrice).Dec().Mul(p.QuantityBase.Dec()).Mul(sign)
			pnl := money.QuoteFromDecimal(gross)
			p.RealizedPnLQuote = &pnl
			mtxReconcileEvents.WithLabelValues("sibling_fill").Inc()
			if m.ledger != nil {
				_ = m.ledger.Append(LedgerEntry{
					ClosedAt:      time.Now(),
					Symbol:        p.Symbol,
					Side:          p.Side,
					QuantityBase:  p.QuantityBase,
					EntryAvgPrice: p.EntryPrice,
					ExitAvgPrice:  exitAvg,
					RealizedPnL:   pnl,
					CloseReason:   reason,
				})
			}
			continue
		}

		// The exchange no longer lists this order as open. If the
		// base balance can't back the position either, it is gone.
		if hasBase && base.Free+base.Locked+1e-9 < p.QuantityBase.Float64() {
			p.State = StateClosed
			p.CloseReason = CloseReconcileGone
			mtxReconcileEvents.WithLabelValues("gone_ok").Inc()
			if m.ledger != nil {
				_ = m.ledger.Append(LedgerEntry{
					ClosedAt:      time.Now(),
					Symbol:        p.Symbol,
					Side:          p.Side,
					QuantityBase:  p.QuantityBase,
					EntryAvgPrice: p.EntryPrice,
					ExitAvgPrice:  p.EntryPrice,
					RealizedPnL:   money.ZeroQuote(),
					CloseReason:   CloseReconcileGone,
				})
			}
		}
	}
	return nil
}

// checkSiblingFill asks the exchange whether a position's tracked SL or
// TP order filled. Only orders no longer resting (absent from
// stillOpenOnExchange) are checked, since GetOrder is an extra
// round-trip per position.
func checkSiblingFill(ctx context.Context, gw Gateway, symbol string, p *Position, stillOpenOnExchange map[string]bool) (bool, CloseReason, money.Price) {
	if p.slOrderID != "" && !stillOpenOnExchange[p.slOrderID] {
		if rec, err := gw.GetOrder(ctx, symbol, p.slOrderID); err == nil && rec.Status == OrderFilled {
			reason := CloseStopLoss
			if p.TrailingActivated {
				reason = CloseTrailingStop
			}
			return true, reason, rec.AvgPrice
		}
	}
	if p.tpOrderID != "" && !stillOpenOnExchange[p.tpOrderID] {
		if rec, err := gw.GetOrder(ctx, symbol, p.tpOrderID); err == nil && rec.Status == OrderFilled {
			return true, CloseTakeProfit, rec.AvgPrice
		}
	}
	return false, CloseNone, money.NewPrice(0)
}

func baseAssetOf(symbol string) string {
	for _, q := range []string{"USDT", "USD", "USDC", "BUSD"} {
		if len(symbol) > len(q) && symbol[len(symbol)-len(q):] == q {
			return symbol[:len(symbol)-len(q)]
		}
	}
	return symbol
}
