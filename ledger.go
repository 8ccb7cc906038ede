// FILE: ledger.go
// Package main – Trade Ledger & P&L. Append-only JSONL writer, one
// line per closed position, replayed on startup to rebuild the
// realized-P&L running tally. realized_pnl_quote is always a
// money.Quote so it can never silently get mixed up with a base-unit
// quantity.
package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/chidi150c/heikinedge/money"
)

// LedgerEntry is one closed-position row.
type LedgerEntry struct {
	ClosedAt      time.Time    `json:"closed_at"`
	Symbol        string       `json:"symbol"`
	Side          PositionSide `json:"-"`
	SideStr       string       `json:"side"`
	QuantityBase  money.Base   `json:"quantity_base"`
	EntryAvgPrice money.Price  `json:"entry_avg_price"`
	ExitAvgPrice  money.Price  `json:"exit_avg_price"`
	RealizedPnL   money.Quote  `json:"realized_pnl_quote"`
	CloseReason   CloseReason  `json:"-"`
	ReasonStr     string       `json:"close_reason"`
}

// Ledger is the append-only file plus an in-memory running tally of
// realized P&L, kept in quote currency only.
type Ledger struct {
	mu       sync.Mutex
	path     string
	realized money.Quote
	wins     int
	losses   int
}

func NewLedger(path string) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ledger: mkdir: %w", err)
	}
	l := &Ledger{path: path, realized: money.ZeroQuote()}
	if err := l.replayExisting(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Ledger) replayExisting() error {
	f, err := os.Open(l.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("ledger: open existing: %w", err)
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		var e LedgerEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			continue
		}
		l.realized = l.realized.Add(e.RealizedPnL)
		if e.RealizedPnL.IsPositive() {
			l.wins++
		} else if e.RealizedPnL.IsNegative() {
			l.losses++
		}
	}
	return sc.Err()
}

// Append writes one ledger row. Writes are append-only and flushed
// immediately (O_APPEND|O_SYNC-style discipline) so a crash never
// leaves a closed position without a ledger row.
func (l *Ledger) Append(e LedgerEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	e.SideStr = e.Side.String()
	e.ReasonStr = e.CloseReason.String()

	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("ledger: marshal: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("ledger: open: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(b, '\n')); err != nil {
		return fmt.Errorf("ledger: write: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("ledger: sync: %w", err)
	}

	l.realized = l.realized.Add(e.RealizedPnL)
	if e.RealizedPnL.IsPositive() {
		l.wins++
		mtxTrades.WithLabelValues("win").Inc()
	} else if e.RealizedPnL.IsNegative() {
		l.losses++
		mtxTrades.WithLabelValues("loss").Inc()
	}
	mtxExitReasons.WithLabelValues(e.ReasonStr).Inc()
	return nil
}

func (l *Ledger) RealizedTotal() money.Quote {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.realized
}

func (l *Ledger) WinLoss() (wins, losses int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.wins, l.losses
}
