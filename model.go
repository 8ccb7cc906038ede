// FILE: model.go
// Package main – ModelArtifact contract: a read-only artifact loaded
// once at startup — classifier weights, a per-feature scaler, and the
// ordered feature_names list that is part of the model contract. There
// is no retrain-at-runtime path; a new artifact means a new deploy.
package main

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"
)

// ModelArtifact is immutable after LoadModelArtifact returns.
type ModelArtifact struct {
	Weights      []float64          `json:"weights"`
	Bias         float64            `json:"bias"`
	ScalerMean   map[string]float64 `json:"scaler_mean"`
	ScalerStd    map[string]float64 `json:"scaler_std"`
	FeatureNames []string           `json:"feature_names"`
	TrainedAt    time.Time          `json:"trained_at"`
	Symbol       string             `json:"symbol"`
	Timeframe    string             `json:"timeframe"`
	Fingerprint  string             `json:"fingerprint"`
}

type modelWeightsFile struct {
	Weights    []float64          `json:"weights"`
	Bias       float64            `json:"bias"`
	ScalerMean map[string]float64 `json:"scaler_mean"`
	ScalerStd  map[string]float64 `json:"scaler_std"`
}

type modelMetaFile struct {
	FeatureNames []string  `json:"feature_names"`
	TrainedAt    time.Time `json:"trained_at"`
	Symbol       string    `json:"symbol"`
	Timeframe    string    `json:"timeframe"`
	Fingerprint  string    `json:"fingerprint"`
}

// LoadModelArtifact reads model/weights.json and model/meta.json from
// dir. A missing or malformed artifact is an integrity failure the
// caller surfaces before ever attempting to trade.
func LoadModelArtifact(dir string) (*ModelArtifact, error) {
	wb, err := os.ReadFile(filepath.Join(dir, "weights.json"))
	if err != nil {
		return nil, fmt.Errorf("model artifact: read weights.json: %w", err)
	}
	mb, err := os.ReadFile(filepath.Join(dir, "meta.json"))
	if err != nil {
		return nil, fmt.Errorf("model artifact: read meta.json: %w", err)
	}
	var w modelWeightsFile
	if err := json.Unmarshal(wb, &w); err != nil {
		return nil, fmt.Errorf("model artifact: parse weights.json: %w", err)
	}
	var m modelMetaFile
	if err := json.Unmarshal(mb, &m); err != nil {
		return nil, fmt.Errorf("model artifact: parse meta.json: %w", err)
	}
	if len(w.Weights) != len(m.FeatureNames) {
		return nil, fmt.Errorf("model artifact: weight count %d != feature_names count %d", len(w.Weights), len(m.FeatureNames))
	}
	wantFP := fingerprint(w.Weights, w.Bias)
	if m.Fingerprint != "" && m.Fingerprint != wantFP {
		return nil, fmt.Errorf("model artifact: fingerprint mismatch (meta=%s computed=%s) — artifact corrupt or tampered", m.Fingerprint, wantFP)
	}
	return &ModelArtifact{
		Weights:      w.Weights,
		Bias:         w.Bias,
		ScalerMean:   w.ScalerMean,
		ScalerStd:    w.ScalerStd,
		FeatureNames: m.FeatureNames,
		TrainedAt:    m.TrainedAt,
		Symbol:       m.Symbol,
		Timeframe:    m.Timeframe,
		Fingerprint:  wantFP,
	}, nil
}

func fingerprint(weights []float64, bias float64) string {
	h := sha256.New()
	fmt.Fprintf(h, "%.12f|", bias)
	for _, w := range weights {
		fmt.Fprintf(h, "%.12f,", w)
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// ExtractVector pulls the named columns, in FeatureNames order, from
// the last row of a frame. A missing column is a fatal configuration
// error; extra columns in the frame are ignored.
func (m *ModelArtifact) ExtractVector(last map[string]float64) ([]float64, error) {
	out := make([]float64, len(m.FeatureNames))
	for i, name := range m.FeatureNames {
		v, ok := last[name]
		if !ok {
			return nil, fmt.Errorf("feature column %q missing from pipeline output", name)
		}
		mean := m.ScalerMean[name]
		std := m.ScalerStd[name]
		if std == 0 {
			std = 1
		}
		out[i] = (v - mean) / std
	}
	return out, nil
}

// Predict returns the positive-class probability. A length mismatch
// against FeatureNames is refused rather than silently padded or
// truncated.
func (m *ModelArtifact) Predict(vector []float64) (float64, error) {
	if len(vector) != len(m.FeatureNames) {
		return 0, fmt.Errorf("feature vector length %d != model feature_names length %d", len(vector), len(m.FeatureNames))
	}
	z := m.Bias
	for i, v := range vector {
		z += m.Weights[i] * v
	}
	return sigmoid(z), nil
}

func sigmoid(x float64) float64 {
	if x > 20 {
		x = 20
	}
	if x < -20 {
		x = -20
	}
	return 1.0 / (1.0 + math.Exp(-x))
}
