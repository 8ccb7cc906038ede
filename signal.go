// FILE: signal.go
// Package main – Signal Engine. Pure function, called identically by
// the live orchestrator and the replay driver — no separate offline
// code path exists here. Runs the classifier's prediction through a
// five-stage filter cascade that short-circuits on the first failing
// filter.
package main

import (
	"time"

	"github.com/chidi150c/heikinedge/indicators"
)

// EvaluateSignal runs the classifier then the five-stage filter
// cascade. The first filter that rejects short-circuits with a
// NO_SIGNAL whose Reason names the filter.
func EvaluateSignal(frame indicators.Frame, artifact *ModelArtifact, cfg Config) Signal {
	n := frame.Len()
	if n == 0 {
		return reject(frame, "frame_empty")
	}
	if artifact == nil {
		return reject(frame, "model_not_ready")
	}

	last := frame.Last()
	vector, err := artifact.ExtractVector(last)
	if err != nil {
		return reject(frame, "feature_mismatch")
	}
	score, err := artifact.Predict(vector)
	if err != nil {
		return reject(frame, "feature_mismatch")
	}

	// 1. Confidence gate.
	conf := abs(score-0.5) * 2
	if abs(score-0.5) < cfg.ConfThreshold {
		return reject(frame, "low_confidence")
	}
	wantsLong := score > 0.5

	// 2. Trend filter: Heikin-Ashi direction over the last m bars must
	// agree with the direction implied by the score.
	if !trendAgrees(frame, cfg.TrendLookback, wantsLong) {
		return reject(frame, "trend_mismatch")
	}

	// 3. Volatility filter: ATR divided by the last Heikin-Ashi close
	// (not the raw bar close) must lie within [min, max].
	atr, _ := frame.Row(n-1, indicators.ColATR14)
	closeV := last[indicators.ColHAClose]
	if closeV == 0 {
		return reject(frame, "low_volatility")
	}
	atrRatio := atr / closeV
	if atrRatio < cfg.ATRMin {
		return reject(frame, "low_volatility")
	}
	if atrRatio > cfg.ATRMax {
		return reject(frame, "high_volatility")
	}

	// 4. Volume filter.
	volRatio, ok := frame.Row(n-1, indicators.ColVolumeRatio)
	if !ok || volRatio < cfg.VolRatioMin {
		return reject(frame, "low_volume")
	}

	// 5. Oscillator sanity: RSI not in the extreme zone opposite the
	// intended trade; CCI within bounds.
	rsi := last[indicators.ColRSI14]
	cci := last[indicators.ColCCI20]
	if wantsLong && rsi >= cfg.RSIOverbought {
		return reject(frame, "oscillator_veto")
	}
	if !wantsLong && rsi <= cfg.RSIOversold {
		return reject(frame, "oscillator_veto")
	}
	if abs(cci) > cfg.CCIBound {
		return reject(frame, "oscillator_veto")
	}

	kind := OpenShort
	if wantsLong {
		kind = OpenLong
	}
	return Signal{
		Kind:               kind,
		Confidence:         conf,
		Reason:             "",
		BarTime:            barTime(frame.Bars[n-1]),
		IndicatorsSnapshot: last,
		Score:              score,
	}
}

func reject(frame indicators.Frame, reason string) Signal {
	s := Signal{Kind: NoSignal, Reason: reason}
	if n := frame.Len(); n > 0 {
		s.BarTime = barTime(frame.Bars[n-1])
		s.IndicatorsSnapshot = frame.Last()
	}
	return s
}

func barTime(b indicators.Bar) time.Time {
	return time.Unix(b.OpenTime, 0).UTC()
}

// trendAgrees checks that the Heikin-Ashi close has moved in the
// direction implied by wantsLong over the last m bars.
func trendAgrees(frame indicators.Frame, m int, wantsLong bool) bool {
	n := frame.Len()
	if m < 1 {
		m = 1
	}
	if n <= m {
		return false
	}
	haCol := frame.Columns[indicators.ColHAClose]
	recent := haCol[n-1]
	past := haCol[n-1-m]
	if wantsLong {
		return recent > past
	}
	return recent < past
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
