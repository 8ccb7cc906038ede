// FILE: barstore.go
// Package main – Bar Store & Aggregator: folds a feed timeframe (the
// granularity fetched from the exchange) into a coarser strategy
// timeframe the signal engine actually trades on, and keeps a rolling
// window of the last K completed bars plus a local CSV cache to avoid
// a cold start against the network on every boot.
package main

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/chidi150c/heikinedge/indicators"
	"github.com/shopspring/decimal"
)

// BarStore holds a rolling window of the last K completed bars for one
// (symbol, timeframe).
type BarStore struct {
	symbol        string
	timeframeFeed string
	ratio         int // r = T2/T1, consecutive finer bars per coarser bar
	k             int
	bars          []Bar // coarser bars, oldest first
	pendingFiner  []Bar // finer bars not yet folded into a coarser bar
	newBar        chan Bar
	cacheDir      string
}

func NewBarStore(symbol, timeframeFeed string, ratio, k int, cacheDir string) *BarStore {
	if ratio < 1 {
		ratio = 1
	}
	return &BarStore{
		symbol:        symbol,
		timeframeFeed: timeframeFeed,
		ratio:         ratio,
		k:             k,
		newBar:        make(chan Bar, 8),
		cacheDir:      cacheDir,
	}
}

// NewBarEvents exposes the channel that fires exactly once per
// coarser-bar completion.
func (s *BarStore) NewBarEvents() <-chan Bar { return s.newBar }

func (s *BarStore) Window() []Bar {
	out := make([]Bar, len(s.bars))
	copy(out, s.bars)
	return out
}

// Seed performs the one fetch_bars call the store needs at startup,
// preferring the local tabular cache to avoid a cold network round
// trip, and falling back to the gateway otherwise.
func (s *BarStore) Seed(ctx context.Context, gw Gateway, limit int) error {
	if coarse, finer, err := s.loadCache(); err == nil && (len(coarse) > 0 || len(finer) > 0) {
		s.bars = coarse
		if len(s.bars) > s.k {
			s.bars = s.bars[len(s.bars)-s.k:]
		}
		s.pendingFiner = finer
		s.foldFiner(false) // only the genuinely-unaggregated tail folds here
		return nil
	}
	finer, err := gw.FetchBars(ctx, s.symbol, s.timeframeFeed, limit*s.ratio)
	if err != nil {
		return newTransientErr(s.symbol, "seed_fetch_bars", err)
	}
	s.pendingFiner = finer
	s.foldFiner(false)
	_ = s.saveCache()
	return nil
}

// Poll asks the gateway for the newest n finer bars and merges any
// whose open_time is newer than the last stored finer bar. It returns
// true if at least one new coarser bar completed (and fires exactly
// one NewBarEvent per such completion).
func (s *BarStore) Poll(ctx context.Context, gw Gateway, n int) (bool, error) {
	finer, err := gw.FetchBars(ctx, s.symbol, s.timeframeFeed, n)
	if err != nil {
		return false, newTransientErr(s.symbol, "poll_fetch_bars", err)
	}
	var lastKnown time.Time
	if len(s.pendingFiner) > 0 {
		lastKnown = s.pendingFiner[len(s.pendingFiner)-1].OpenTime
	} else if len(s.bars) > 0 {
		lastKnown = s.bars[len(s.bars)-1].OpenTime
	}
	added := false
	for _, b := range finer {
		if b.OpenTime.After(lastKnown) {
			s.pendingFiner = append(s.pendingFiner, b)
			added = true
		}
	}
	if !added {
		return false, nil
	}
	before := len(s.bars)
	s.foldFiner(true)
	return len(s.bars) > before, nil
}

// foldFiner aggregates r consecutive finer bars into one coarser bar:
// open=first.open, close=last.close, high=max(high), low=min(low),
// volume=sum(volume), open_time=first.open_time. A partial aggregation
// at the tail is never exposed.
func (s *BarStore) foldFiner(emit bool) {
	for len(s.pendingFiner) >= s.ratio {
		group := s.pendingFiner[:s.ratio]
		s.pendingFiner = s.pendingFiner[s.ratio:]
		coarse := aggregate(group)
		s.bars = append(s.bars, coarse)
		if len(s.bars) > s.k {
			s.bars = s.bars[len(s.bars)-s.k:]
		}
		if emit {
			select {
			case s.newBar <- coarse:
			default:
			}
		}
	}
}

func aggregate(group []Bar) Bar {
	first := group[0]
	last := group[len(group)-1]
	high := first.High
	low := first.Low
	vol := decimal.Zero
	for _, b := range group {
		if b.High.GreaterThan(high) {
			high = b.High
		}
		if b.Low.LessThan(low) {
			low = b.Low
		}
		vol = vol.Add(b.Volume)
	}
	return Bar{
		OpenTime: first.OpenTime,
		Open:     first.Open,
		High:     high,
		Low:      low,
		Close:    last.Close,
		Volume:   vol,
	}
}

// ToIndicatorBars converts the store's window into the pure
// indicators.Bar type the indicator pipeline consumes.
func ToIndicatorBars(bars []Bar) []indicators.Bar {
	out := make([]indicators.Bar, len(bars))
	for i, b := range bars {
		out[i] = indicators.Bar{
			OpenTime: b.OpenTime.Unix(),
			Open:     mustF(b.Open),
			High:     mustF(b.High),
			Low:      mustF(b.Low),
			Close:    mustF(b.Close),
			Volume:   mustF(b.Volume),
		}
	}
	return out
}

func mustF(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

// --- local tabular (CSV) bar cache, keyed by (symbol, timeframe),
// schema pinned by the header row version tag below. ---
//
// Coarse (already-folded) bars and pending-finer (raw, unfolded) bars
// are tagged per row by their aggregation state. Without that tag a
// reload can't tell the two apart and would re-fold already-coarse
// bars through foldFiner a second time, corrupting the window for any
// ratio > 1.

const barCacheSchemaVersion = "v2"

const (
	cacheKindCoarse = "coarse"
	cacheKindFiner  = "finer"
)

func (s *BarStore) cachePath() string {
	name := fmt.Sprintf("%s_%s.csv", s.symbol, s.timeframeFeed)
	return filepath.Join(s.cacheDir, name)
}

func (s *BarStore) saveCache() error {
	if s.cacheDir == "" {
		return nil
	}
	if err := os.MkdirAll(s.cacheDir, 0o755); err != nil {
		return err
	}
	path := s.cachePath()
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	w := csv.NewWriter(f)
	_ = w.Write([]string{barCacheSchemaVersion, "kind", "time", "open", "high", "low", "close", "volume"})
	writeRow := func(kind string, b Bar) {
		_ = w.Write([]string{
			kind,
			strconv.FormatInt(b.OpenTime.Unix(), 10),
			b.Open.String(), b.High.String(), b.Low.String(), b.Close.String(), b.Volume.String(),
		})
	}
	for _, b := range s.bars {
		writeRow(cacheKindCoarse, b)
	}
	for _, b := range s.pendingFiner {
		writeRow(cacheKindFiner, b)
	}
	w.Flush()
	f.Close()
	return os.Rename(tmp, path)
}

// loadCache returns the cached coarse and pending-finer bars separately
// so Seed can restore each into its own slice without re-aggregating
// bars that were already folded before the last save.
func (s *BarStore) loadCache() (coarse []Bar, finer []Bar, err error) {
	if s.cacheDir == "" {
		return nil, nil, fmt.Errorf("no cache dir configured")
	}
	f, err := os.Open(s.cachePath())
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()
	r := csv.NewReader(f)
	records, err := r.ReadAll()
	if err != nil || len(records) < 2 {
		return nil, nil, fmt.Errorf("empty or malformed bar cache")
	}
	if records[0][0] != barCacheSchemaVersion {
		return nil, nil, fmt.Errorf("bar cache schema mismatch: got %s want %s", records[0][0], barCacheSchemaVersion)
	}
	for _, rec := range records[1:] {
		if len(rec) < 7 {
			continue
		}
		ts, _ := strconv.ParseInt(rec[1], 10, 64)
		o, _ := decimal.NewFromString(rec[2])
		h, _ := decimal.NewFromString(rec[3])
		l, _ := decimal.NewFromString(rec[4])
		c, _ := decimal.NewFromString(rec[5])
		v, _ := decimal.NewFromString(rec[6])
		b := Bar{OpenTime: time.Unix(ts, 0).UTC(), Open: o, High: h, Low: l, Close: c, Volume: v}
		if rec[0] == cacheKindFiner {
			finer = append(finer, b)
		} else {
			coarse = append(coarse, b)
		}
	}
	sort.Slice(coarse, func(i, j int) bool { return coarse[i].OpenTime.Before(coarse[j].OpenTime) })
	sort.Slice(finer, func(i, j int) bool { return finer[i].OpenTime.Before(finer[j].OpenTime) })
	return coarse, finer, nil
}
