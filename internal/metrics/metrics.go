// Package metrics exposes the sweeper's Prometheus instrumentation.
//
// Served at /metrics by the HTTP server in internal/settle. Primary series:
//   - sweeper_trades_total{lane,result}       settlements by outcome
//   - sweeper_cooldown_hits_total             duplicate submissions blocked
//   - sweeper_queue_dropped_total{chain}      backpressure drops
//   - sweeper_scan_opportunities              candidates from the last tick
//   - sweeper_equity_usd                      base capital + realized PnL
//   - sweeper_settlement_seconds              settlement pipeline latency
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	Trades = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sweeper_trades_total",
			Help: "Settlements by lane and result",
		},
		[]string{"lane", "result"},
	)

	CooldownHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sweeper_cooldown_hits_total",
			Help: "Trade submissions rejected by the cooldown guard",
		},
	)

	QueueDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sweeper_queue_dropped_total",
			Help: "Trades dropped because a per-chain queue was full",
		},
		[]string{"chain"},
	)

	ScanOpportunities = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sweeper_scan_opportunities",
			Help: "Opportunities produced by the last scan tick",
		},
	)

	EquityUsd = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sweeper_equity_usd",
			Help: "Working capital in USD (base + realized PnL)",
		},
	)

	SettlementSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sweeper_settlement_seconds",
			Help:    "Settlement pipeline duration",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		},
	)
)

func init() {
	prometheus.MustRegister(
		Trades,
		CooldownHits,
		QueueDropped,
		ScanOpportunities,
		EquityUsd,
		SettlementSeconds,
	)
}

// ChainLabel formats a chain ID for metric labels.
func ChainLabel(chainID int64) string {
	return strconv.FormatInt(chainID, 10)
}
