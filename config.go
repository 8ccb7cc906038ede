// FILE: config.go
// Package main – runtime configuration surface, loaded entirely from
// environment variables with sane defaults.
package main

import "strings"

// AdoptPolicy controls whether reconciliation adopts an order found on
// the exchange but unknown locally. Default is auto: adopt in sandbox,
// ignore in production.
type AdoptPolicy string

const (
	AdoptAuto   AdoptPolicy = "auto"
	AdoptAlways AdoptPolicy = "always"
	AdoptNever  AdoptPolicy = "never"
)

type Config struct {
	// exchange.*
	ExchangeName string
	Sandbox      bool

	// symbol / timeframes
	Symbol            string
	TimeframeFeed     string
	TimeframeStrategy string

	// cadence
	CyclePeriodSeconds int

	// risk & sizing
	RiskPerTrade        float64 // fraction of equity, 0 < x <= 0.05
	MaxConcurrentTrades int
	SLATRMultiplier     float64
	TPATRMultiplier     float64
	TrailActivationFrac float64
	TrailRetraceFrac    float64
	FeeBufferFrac       float64 // headroom added to BUY funds check

	// signal engine
	ConfThreshold  float64
	ATRMin         float64
	ATRMax         float64
	VolRatioMin    float64
	TrendLookback  int
	RSIOversold    float64
	RSIOverbought  float64
	CCIBound       float64

	// model
	ModelPath string

	// shutdown
	FlattenOnExit bool

	// reconciliation
	AdoptUnknownOrders AdoptPolicy

	// ops
	Port          int
	DryRun        bool
	LongOnly      bool
	StateDir      string
	BarCacheDir   string
	LedgerPath    string
}

// loadConfigFromEnv reads the process env (already hydrated by
// loadBotEnv) and returns a Config with sane defaults.
func loadConfigFromEnv() Config {
	return Config{
		ExchangeName: getEnv("EXCHANGE_NAME", "binance"),
		Sandbox:      getEnvBool("SANDBOX_MODE", true),

		Symbol:            getEnv("SYMBOL", "BTCUSDT"),
		TimeframeFeed:     getEnv("TIMEFRAME_FEED", "5m"),
		TimeframeStrategy: getEnv("TIMEFRAME_STRATEGY", "15m"),

		CyclePeriodSeconds: getEnvInt("CYCLE_PERIOD_SECONDS", 15),

		RiskPerTrade:        getEnvFloat("RISK_PER_TRADE", 0.02),
		MaxConcurrentTrades: getEnvInt("MAX_CONCURRENT_TRADES", 1),
		SLATRMultiplier:     getEnvFloat("SL_ATR_MULTIPLIER", 2.0),
		TPATRMultiplier:     getEnvFloat("TP_ATR_MULTIPLIER", 4.0),
		TrailActivationFrac: getEnvFloat("TRAIL_ACTIVATION_PROFIT_FRAC", 0.01),
		TrailRetraceFrac:    getEnvFloat("TRAIL_RETRACE_FRAC", 0.01),
		FeeBufferFrac:       getEnvFloat("FEE_BUFFER_FRAC", 0.002),

		ConfThreshold: getEnvFloat("CONF_THRESHOLD", 0.10),
		ATRMin:        getEnvFloat("FILTERS_ATR_MIN", 0.0015),
		ATRMax:        getEnvFloat("FILTERS_ATR_MAX", 0.15),
		VolRatioMin:   getEnvFloat("FILTERS_VOL_RATIO_MIN", 0.5),
		TrendLookback: getEnvInt("TREND_LOOKBACK_BARS", 3),
		RSIOversold:   getEnvFloat("RSI_OVERSOLD", 25),
		RSIOverbought: getEnvFloat("RSI_OVERBOUGHT", 75),
		CCIBound:      getEnvFloat("CCI_BOUND", 200),

		ModelPath: getEnv("MODEL_PATH", "./model"),

		FlattenOnExit: getEnvBool("SHUTDOWN_FLATTEN_ON_EXIT", false),

		AdoptUnknownOrders: AdoptPolicy(getEnv("ADOPT_UNKNOWN_ORDERS", string(AdoptAuto))),

		Port:        getEnvInt("PORT", 8080),
		DryRun:      getEnvBool("DRY_RUN", true),
		LongOnly:    getEnvBool("LONG_ONLY", true),
		StateDir:    getEnv("STATE_DIR", "./state"),
		BarCacheDir: getEnv("BAR_CACHE_DIR", "./state/barcache"),
		LedgerPath:  getEnv("LEDGER_PATH", "./state/ledger.jsonl"),
	}
}

// ShouldAdopt resolves the tri-state AdoptUnknownOrders policy against
// the current sandbox flag.
func (c Config) ShouldAdopt() bool {
	switch c.AdoptUnknownOrders {
	case AdoptAlways:
		return true
	case AdoptNever:
		return false
	default:
		return c.Sandbox
	}
}

func normalizeSymbol(s string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), "/", ""))
}
