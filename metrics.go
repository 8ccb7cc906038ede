// FILE: metrics.go
// Package main – Prometheus metrics, all under a heikinedge_ prefix,
// covering orders, decisions, signal rejections, equity, exit reasons,
// trades, reconciliation events, cycle errors, and open-position count.
package main

import "github.com/prometheus/client_golang/prometheus"

var (
	mtxOrders = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "heikinedge_orders_total", Help: "Orders placed"},
		[]string{"mode", "side"},
	)
	mtxDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "heikinedge_decisions_total", Help: "Signals evaluated"},
		[]string{"kind"},
	)
	mtxSignalRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "heikinedge_signal_rejections_total", Help: "NO_SIGNAL by filter reason"},
		[]string{"reason"},
	)
	mtxEquity = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "heikinedge_equity_quote", Help: "Current equity in quote currency"},
	)
	mtxExitReasons = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "heikinedge_exit_reasons_total", Help: "Closes split by reason"},
		[]string{"reason"},
	)
	mtxTrades = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "heikinedge_trades_total", Help: "Trades by result"},
		[]string{"result"}, // win|loss
	)
	mtxReconcileEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "heikinedge_reconcile_events_total", Help: "Reconciliation outcomes"},
		[]string{"outcome"}, // adopted|ignored|gone_ok|sibling_fill
	)
	mtxCycleErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "heikinedge_cycle_errors_total", Help: "Cycle errors by kind"},
		[]string{"kind"},
	)
	mtxOpenPositions = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "heikinedge_open_positions", Help: "Count of non-closed positions"},
	)
)

func init() {
	prometheus.MustRegister(
		mtxOrders, mtxDecisions, mtxSignalRejections, mtxEquity,
		mtxExitReasons, mtxTrades, mtxReconcileEvents, mtxCycleErrors,
		mtxOpenPositions,
	)
}
