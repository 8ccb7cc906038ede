// Package indicators is the pure bar-window -> feature-frame pipeline.
// Every function here is deterministic and takes only a slice of Bar
// — no broker, no clock, no global state — so the live orchestrator
// and the offline replay driver call the exact same code and never
// diverge.
package indicators

import (
	"math"

	"github.com/markcheno/go-talib"
)

// Bar mirrors the engine's Bar entity without importing the root
// package (which would create an import cycle); the root package's
// Bar converts to/from this one at the pipeline boundary.
type Bar struct {
	OpenTime int64 // unix seconds, kept numeric for pure-function use
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
}

// Frame is the cleaned, NaN-dropped indicator data frame: one slice per
// named column, all the same length, aligned to the tail of the input
// bar window.
type Frame struct {
	Columns map[string][]float64
	// Bars is the subset of the input bars the frame rows align to
	// (Bars[i] produced row i of every column).
	Bars []Bar
}

// Row returns the feature value for name at row i, and whether the
// column exists at all (a missing column is a fatal config error one
// level up).
func (f Frame) Row(i int, name string) (float64, bool) {
	col, ok := f.Columns[name]
	if !ok || i < 0 || i >= len(col) {
		return 0, false
	}
	return col[i], ok
}

func (f Frame) Len() int {
	for _, c := range f.Columns {
		return len(c)
	}
	return 0
}

// Last returns the last row as a name->value map, used both for the
// model feature vector and for Signal.IndicatorsSnapshot.
func (f Frame) Last() map[string]float64 {
	n := f.Len()
	out := make(map[string]float64, len(f.Columns))
	if n == 0 {
		return out
	}
	for name, col := range f.Columns {
		out[name] = col[n-1]
	}
	return out
}

// Column names the pipeline emits. Fixed at model-training time — the
// model artifact's feature_names is a subset (in its own order) of
// these.
const (
	ColHAOpen      = "ha_open"
	ColHAHigh      = "ha_high"
	ColHALow       = "ha_low"
	ColHAClose     = "ha_close"
	ColEMA10       = "ema_10"
	ColEMA20       = "ema_20"
	ColEMA200      = "ema_200"
	ColRSI14       = "rsi_14"
	ColMACD        = "macd"
	ColMACDSignal  = "macd_signal"
	ColADX14       = "adx_14"
	ColATR14       = "atr_14"
	ColBBUpper     = "bb_upper"
	ColBBMiddle    = "bb_middle"
	ColBBLower     = "bb_lower"
	ColStochK      = "stoch_k"
	ColStochD      = "stoch_d"
	ColCCI20       = "cci_20"
	ColSAR         = "sar"
	ColMomentum5   = "momentum_5"
	ColMomentum10  = "momentum_10"
	ColVolumeRatio = "volume_ratio"
	ColLogReturn   = "log_return"
	ColVolProxy    = "volatility_proxy"
	ColTrendStrength = "trend_strength"
)

// Pipeline runs the full indicator set over bars (oldest first) and
// returns the cleaned frame with NaN warm-up rows dropped. Callers
// must not emit signals until frame.Len() >= 1.
func Pipeline(bars []Bar) Frame {
	n := len(bars)
	if n == 0 {
		return Frame{Columns: map[string][]float64{}}
	}
	closeP := column(bars, func(b Bar) float64 { return b.Close })
	highP := column(bars, func(b Bar) float64 { return b.High })
	lowP := column(bars, func(b Bar) float64 { return b.Low })
	openP := column(bars, func(b Bar) float64 { return b.Open })
	volP := column(bars, func(b Bar) float64 { return b.Volume })

	haOpen, haHigh, haLow, haClose := heikinAshi(openP, highP, lowP, closeP)

	macd, macdSig := MACD(closeP, 12, 26, 9)
	bbU, bbM, bbL := bollinger(closeP, 20, 2.0)

	raw := map[string][]float64{
		ColHAOpen:        haOpen,
		ColHAHigh:        haHigh,
		ColHALow:         haLow,
		ColHAClose:       haClose,
		ColEMA10:         EMA(closeP, 10),
		ColEMA20:         EMA(closeP, 20),
		ColEMA200:        EMA(closeP, 200),
		ColRSI14:         RSI(closeP, 14),
		ColMACD:          macd,
		ColMACDSignal:    macdSig,
		ColADX14:         talib.Adx(highP, lowP, closeP, 14),
		ColATR14:         ATR(highP, lowP, closeP, 14),
		ColBBUpper:       bbU,
		ColBBMiddle:      bbM,
		ColBBLower:       bbL,
		ColStochK:        stochK(highP, lowP, closeP),
		ColStochD:        stochD(highP, lowP, closeP),
		ColCCI20:         talib.Cci(highP, lowP, closeP, 20),
		ColSAR:           talib.Sar(highP, lowP, 0.02, 0.2),
		ColMomentum5:     momentum(closeP, 5),
		ColMomentum10:    momentum(closeP, 10),
		ColVolumeRatio:   volumeRatio(volP, 20),
		ColLogReturn:     logReturn(closeP),
		ColVolProxy:      RollingStd(logReturn(closeP), 20),
	}
	raw[ColTrendStrength] = normalize0to1(raw[ColADX14], 0, 50)

	return dropWarmup(bars, raw)
}

func column(bars []Bar, f func(Bar) float64) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = f(b)
	}
	return out
}

// dropWarmup removes leading rows where any column is NaN, keeping all
// columns and the aligned bar slice the same length.
func dropWarmup(bars []Bar, cols map[string][]float64) Frame {
	n := len(bars)
	start := 0
	for i := 0; i < n; i++ {
		ok := true
		for _, c := range cols {
			if i >= len(c) || math.IsNaN(c[i]) {
				ok = false
				break
			}
		}
		if ok {
			start = i
			break
		}
		start = n // all-NaN edge case
	}
	out := make(map[string][]float64, len(cols))
	for name, c := range cols {
		if start >= len(c) {
			out[name] = []float64{}
			continue
		}
		out[name] = append([]float64(nil), c[start:]...)
	}
	var alignedBars []Bar
	if start < n {
		alignedBars = bars[start:]
	}
	return Frame{Columns: out, Bars: alignedBars}
}

// --- hand-rolled indicators not covered by go-talib. These pad their
// warm-up rows with NaN; the go-talib-backed columns leave zeros in
// their warm-up rows instead. ---

func SMA(c []float64, n int) []float64 {
	out := make([]float64, len(c))
	for i := range c {
		if i+1 < n {
			out[i] = math.NaN()
			continue
		}
		sum := 0.0
		for j := i - n + 1; j <= i; j++ {
			sum += c[j]
		}
		out[i] = sum / float64(n)
	}
	return out
}

// EMA is the exponential moving average, seeded by the SMA of the first
// window the way most simple trading-bot implementations do it.
func EMA(c []float64, n int) []float64 {
	out := make([]float64, len(c))
	if len(c) == 0 {
		return out
	}
	k := 2.0 / (float64(n) + 1.0)
	for i := range c {
		if i+1 < n {
			out[i] = math.NaN()
			continue
		}
		if i+1 == n {
			sum := 0.0
			for j := 0; j < n; j++ {
				sum += c[j]
			}
			out[i] = sum / float64(n)
			continue
		}
		out[i] = c[i]*k + out[i-1]*(1-k)
	}
	return out
}

// RSI is Wilder's smoothed relative strength index, matching the
// teacher's indicators.go RSI exactly (NaN-padded before warm-up).
func RSI(c []float64, n int) []float64 {
	out := make([]float64, len(c))
	if len(c) < n+1 {
		for i := range out {
			out[i] = math.NaN()
		}
		return out
	}
	var gain, loss float64
	for i := 1; i <= n; i++ {
		d := c[i] - c[i-1]
		if d > 0 {
			gain += d
		} else {
			loss -= d
		}
	}
	gain /= float64(n)
	loss /= float64(n)
	for i := 0; i < n; i++ {
		out[i] = math.NaN()
	}
	rs := rsFromGL(gain, loss)
	out[n] = 100 - 100/(1+rs)
	for i := n + 1; i < len(c); i++ {
		d := c[i] - c[i-1]
		var g, l float64
		if d > 0 {
			g = d
		} else {
			l = -d
		}
		gain = (gain*float64(n-1) + g) / float64(n)
		loss = (loss*float64(n-1) + l) / float64(n)
		rs = rsFromGL(gain, loss)
		out[i] = 100 - 100/(1+rs)
	}
	return out
}

func rsFromGL(gain, loss float64) float64 {
	if loss == 0 {
		return math.Inf(1)
	}
	return gain / loss
}

// ATR is Wilder's average true range.
func ATR(high, low, close []float64, n int) []float64 {
	out := make([]float64, len(close))
	if len(close) == 0 {
		return out
	}
	tr := make([]float64, len(close))
	tr[0] = high[0] - low[0]
	for i := 1; i < len(close); i++ {
		hl := high[i] - low[i]
		hc := math.Abs(high[i] - close[i-1])
		lc := math.Abs(low[i] - close[i-1])
		tr[i] = math.Max(hl, math.Max(hc, lc))
	}
	for i := range out {
		if i+1 < n {
			out[i] = math.NaN()
			continue
		}
		if i+1 == n {
			sum := 0.0
			for j := 0; j < n; j++ {
				sum += tr[j]
			}
			out[i] = sum / float64(n)
			continue
		}
		out[i] = (out[i-1]*float64(n-1) + tr[i]) / float64(n)
	}
	return out
}

// MACD returns the MACD line and its signal line (EMA of the MACD).
func MACD(c []float64, fast, slow, signal int) ([]float64, []float64) {
	ef := EMA(c, fast)
	es := EMA(c, slow)
	macd := make([]float64, len(c))
	for i := range c {
		if math.IsNaN(ef[i]) || math.IsNaN(es[i]) {
			macd[i] = math.NaN()
			continue
		}
		macd[i] = ef[i] - es[i]
	}
	sig := EMA(stripNaNFill(macd), signal)
	return macd, sig
}

// stripNaNFill replaces leading NaNs with the first non-NaN value so
// EMA-of-MACD warms up starting exactly where MACD itself warms up,
// rather than propagating NaN forever.
func stripNaNFill(c []float64) []float64 {
	out := append([]float64(nil), c...)
	firstOK := -1
	for i, v := range out {
		if !math.IsNaN(v) {
			firstOK = i
			break
		}
	}
	if firstOK < 0 {
		return out
	}
	for i := 0; i < firstOK; i++ {
		out[i] = out[firstOK]
	}
	return out
}

// OBV is the on-balance volume.
func OBV(close, volume []float64) []float64 {
	out := make([]float64, len(close))
	for i := range close {
		if i == 0 {
			out[i] = volume[i]
			continue
		}
		switch {
		case close[i] > close[i-1]:
			out[i] = out[i-1] + volume[i]
		case close[i] < close[i-1]:
			out[i] = out[i-1] - volume[i]
		default:
			out[i] = out[i-1]
		}
	}
	return out
}

// RollingStd is the rolling population standard deviation over n
// (divides by n), with a
// small epsilon floor to avoid division by zero downstream.
func RollingStd(c []float64, n int) []float64 {
	out := make([]float64, len(c))
	for i := range c {
		if i+1 < n {
			out[i] = math.NaN()
			continue
		}
		mean := 0.0
		for j := i - n + 1; j <= i; j++ {
			mean += c[j]
		}
		mean /= float64(n)
		varSum := 0.0
		for j := i - n + 1; j <= i; j++ {
			d := c[j] - mean
			varSum += d * d
		}
		v := varSum / float64(n)
		if v < 1e-12 {
			v = 1e-12
		}
		out[i] = math.Sqrt(v)
	}
	return out
}

func heikinAshi(o, h, l, c []float64) (haO, haH, haL, haC []float64) {
	n := len(c)
	haO = make([]float64, n)
	haH = make([]float64, n)
	haL = make([]float64, n)
	haC = make([]float64, n)
	for i := 0; i < n; i++ {
		haC[i] = (o[i] + h[i] + l[i] + c[i]) / 4
		if i == 0 {
			haO[i] = (o[i] + c[i]) / 2
		} else {
			haO[i] = (haO[i-1] + haC[i-1]) / 2
		}
		haH[i] = math.Max(h[i], math.Max(haO[i], haC[i]))
		haL[i] = math.Min(l[i], math.Min(haO[i], haC[i]))
	}
	return
}

func bollinger(c []float64, n int, k float64) (upper, middle, lower []float64) {
	middle = SMA(c, n)
	upper = make([]float64, len(c))
	lower = make([]float64, len(c))
	std := RollingStd(c, n)
	for i := range c {
		if math.IsNaN(middle[i]) || math.IsNaN(std[i]) {
			upper[i] = math.NaN()
			lower[i] = math.NaN()
			continue
		}
		upper[i] = middle[i] + k*std[i]
		lower[i] = middle[i] - k*std[i]
	}
	return
}

func stochK(high, low, close []float64) []float64 {
	k, _ := talib.Stoch(high, low, close, 14, 3, talib.SMA, 3, talib.SMA)
	return k
}
func stochD(high, low, close []float64) []float64 {
	_, d := talib.Stoch(high, low, close, 14, 3, talib.SMA, 3, talib.SMA)
	return d
}

func momentum(c []float64, n int) []float64 {
	out := make([]float64, len(c))
	for i := range c {
		if i < n {
			out[i] = math.NaN()
			continue
		}
		out[i] = c[i] - c[i-n]
	}
	return out
}

func volumeRatio(v []float64, n int) []float64 {
	mean := SMA(v, n)
	out := make([]float64, len(v))
	for i := range v {
		if math.IsNaN(mean[i]) || mean[i] == 0 {
			out[i] = math.NaN()
			continue
		}
		out[i] = v[i] / mean[i]
	}
	return out
}

func logReturn(c []float64) []float64 {
	out := make([]float64, len(c))
	for i := range c {
		if i == 0 || c[i-1] <= 0 {
			out[i] = math.NaN()
			continue
		}
		out[i] = math.Log(c[i] / c[i-1])
	}
	return out
}

func normalize0to1(c []float64, lo, hi float64) []float64 {
	out := make([]float64, len(c))
	for i, v := range c {
		if math.IsNaN(v) {
			out[i] = math.NaN()
			continue
		}
		x := (v - lo) / (hi - lo)
		if x < 0 {
			x = 0
		}
		if x > 1 {
			x = 1
		}
		out[i] = x
	}
	return out
}
