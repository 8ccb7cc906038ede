// FILE: main.go
// Package main – program entrypoint and HTTP/metrics server. Boot
// sequence: load env -> build Config -> wire the gateway/model/engine
// -> start the Prometheus /healthz+/metrics server -> run either the
// live loop or the offline replay driver, both driving the same
// underlying cycle logic.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Exit codes, distinguishing configuration errors from auth errors
// from exchange errors from a clean interrupt.
const (
	exitOK            = 0
	exitConfigError   = 1
	exitAuthError     = 2
	exitExchangeError = 3
	exitInterrupted   = 130
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		live       bool
		replayPath string
		dryRun     bool
		sandbox    bool
		configPath string
	)
	flag.BoolVar(&live, "live", false, "run the real-time trading loop")
	flag.StringVar(&replayPath, "replay", "", "path to a CSV of bars to replay offline")
	flag.BoolVar(&dryRun, "dry-run", false, "force dry-run regardless of DRY_RUN env")
	flag.BoolVar(&sandbox, "sandbox", false, "force sandbox regardless of SANDBOX_MODE env")
	flag.StringVar(&configPath, "config", "", "path to a .env-style config file, overriding the default .env/../.env search")
	flag.Parse()

	loadBotEnv(configPath)
	cfg := loadConfigFromEnv()
	cfg.Symbol = normalizeSymbol(cfg.Symbol)
	if dryRun {
		cfg.DryRun = true
	}
	if sandbox {
		cfg.Sandbox = true
	}

	log := logrus.WithField("component", "main")

	if live {
		if err := validateRequiredEnv(true); err != nil {
			log.WithError(err).Error("missing required environment")
			return exitConfigError
		}
	}

	model, err := LoadModelArtifact(cfg.ModelPath)
	if err != nil {
		log.WithError(err).Error("model artifact load failed")
		return exitConfigError
	}

	ledger, err := NewLedger(cfg.LedgerPath)
	if err != nil {
		log.WithError(err).Error("ledger init failed")
		return exitConfigError
	}
	posMgr := NewPositionManager(cfg, ledger)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok\n"))
	})
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Port), Handler: mux}
	go func() {
		log.WithField("port", cfg.Port).Info("serving metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("metrics server stopped")
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if replayPath != "" {
		gw := NewPaperGateway(cfg.Symbol, 0, 0, 0)
		bars := NewBarStore(cfg.Symbol, cfg.TimeframeFeed, timeframeRatio(cfg.TimeframeFeed, cfg.TimeframeStrategy), 500, "")
		engine := NewEngine(cfg, gw, bars, model, posMgr, ledger)
		if err := runReplay(ctx, replayPath, engine, gw, bars); err != nil {
			log.WithError(err).Error("replay failed")
			return exitExchangeError
		}
		printSummary(ledger)
		return exitOK
	}

	var gw Gateway
	if cfg.DryRun || cfg.ExchangeName == "paper" {
		gw = NewPaperGateway(cfg.Symbol, 0, 10000, 0)
	} else {
		apiKey := getEnv("EXCHANGE_API_KEY", "")
		apiSecret := getEnv("EXCHANGE_API_SECRET", "")
		if apiKey == "" || apiSecret == "" {
			log.Error("live trading requires EXCHANGE_API_KEY/EXCHANGE_API_SECRET")
			return exitAuthError
		}
		gw = NewBinanceGateway(apiKey, apiSecret, cfg.Sandbox)
	}

	bars := NewBarStore(cfg.Symbol, cfg.TimeframeFeed, timeframeRatio(cfg.TimeframeFeed, cfg.TimeframeStrategy), 500, cfg.BarCacheDir)
	if err := bars.Seed(ctx, gw, 500); err != nil {
		log.WithError(err).Error("bar store seed failed")
		return exitExchangeError
	}
	engine := NewEngine(cfg, gw, bars, model, posMgr, ledger)

	ticker := time.NewTicker(time.Duration(cfg.CyclePeriodSeconds) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if cfg.FlattenOnExit {
				flattenCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				engine.flattenAll(flattenCtx)
				cancel()
			}
			log.Info("shutdown complete")
			return exitInterrupted
		case <-ticker.C:
			if err := engine.Cycle(ctx); err != nil {
				log.WithError(err).Warn("cycle returned error, continuing")
			}
		}
	}
}

// timeframeRatio computes r = T2/T1 for the common minute-based
// timeframes; unknown pairs fall back to 1:1.
func timeframeRatio(feed, strategy string) int {
	fm := minutesOf(feed)
	sm := minutesOf(strategy)
	if fm <= 0 || sm <= 0 || sm < fm {
		return 1
	}
	return sm / fm
}

func minutesOf(tf string) int {
	switch tf {
	case "1m":
		return 1
	case "5m":
		return 5
	case "15m":
		return 15
	case "30m":
		return 30
	case "1h":
		return 60
	case "4h":
		return 240
	case "1d":
		return 1440
	default:
		return 0
	}
}

func printSummary(ledger *Ledger) {
	wins, losses := ledger.WinLoss()
	total := ledger.RealizedTotal()
	logrus.WithFields(logrus.Fields{
		"wins":         wins,
		"losses":       losses,
		"realized_pnl": total.String(),
	}).Info("replay summary")
}
