// FILE: replay.go
// Package main – offline replay harness: steps a CSV of historical
// bars through the engine one row at a time via a PaperGateway whose
// price is advanced bar by bar, exercising the exact same advance logic
// the live loop runs. There is no runtime model fitting here — the
// model artifact is fixed for the whole replay.
package main

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/chidi150c/heikinedge/money"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

func loadReplayCSV(path string) ([]Bar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	var out []Bar
	var headers []string
	rowIdx := 0
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if rowIdx == 0 {
			headers = rec
			rowIdx++
			continue
		}
		row := map[string]string{}
		for j, h := range headers {
			k := strings.ToLower(strings.TrimSpace(h))
			if j < len(rec) {
				row[k] = strings.TrimSpace(rec[j])
			}
		}
		ts := replayFirst(row, "time", "timestamp")
		op := replayFirst(row, "open")
		hp := replayFirst(row, "high")
		lp := replayFirst(row, "low")
		cp := replayFirst(row, "close")
		vp := replayFirst(row, "volume", "vol")
		if ts == "" || op == "" || cp == "" {
			continue
		}
		tt, err := parseTimeFlexible(ts)
		if err != nil {
			continue
		}
		o, _ := decimal.NewFromString(op)
		h, _ := decimal.NewFromString(hp)
		l, _ := decimal.NewFromString(lp)
		c, _ := decimal.NewFromString(cp)
		v, _ := decimal.NewFromString(vp)
		out = append(out, Bar{OpenTime: tt, Open: o, High: h, Low: l, Close: c, Volume: v})
		rowIdx++
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenTime.Before(out[j].OpenTime) })
	return out, nil
}

func parseTimeFlexible(s string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts, nil
	}
	if sec, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(sec, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("bad time: %s", s)
}

func replayFirst(m map[string]string, keys ...string) string {
	for _, k := range keys {
		if v := m[k]; v != "" {
			return v
		}
	}
	return ""
}

// runReplay drives the engine one finer bar at a time, feeding each bar
// directly into the BarStore (bypassing the gateway's FetchBars, which
// the PaperGateway deliberately refuses) and running the same
// reconcile/trail/signal/size sequence the live loop uses once a new
// bar exists.
func runReplay(ctx context.Context, path string, engine *Engine, gw *PaperGateway, bars *BarStore) error {
	finerBars, err := loadReplayCSV(path)
	if err != nil {
		return fmt.Errorf("replay: load csv: %w", err)
	}
	log := logrus.WithField("component", "replay")
	log.WithField("rows", len(finerBars)).Info("starting replay")

	for i, b := range finerBars {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		gw.SetPrice(money.PriceFromDecimal(b.Close))
		newBar := feedReplayBar(bars, b)
		ticker := Ticker{Last: money.PriceFromDecimal(b.Close), Bid: money.PriceFromDecimal(b.Close), Ask: money.PriceFromDecimal(b.Close)}
		if err := engine.advance(ctx, ticker, newBar); err != nil {
			log.WithError(err).WithField("row", i).Warn("replay cycle error")
		}
	}
	log.Info("replay complete")
	return nil
}

// feedReplayBar folds one finer bar into the store exactly the way
// Poll would after a live FetchBars call, without touching the network,
// and reports whether a new coarser bar completed.
func feedReplayBar(s *BarStore, b Bar) bool {
	before := len(s.bars)
	s.pendingFiner = append(s.pendingFiner, b)
	s.foldFiner(true)
	return len(s.bars) > before
}
