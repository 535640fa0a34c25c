// Package metrics holds the Prometheus collectors the bot updates while running.
//
//   - nifty_gateway_calls_total{op,outcome}     gateway calls by classified outcome
//   - nifty_quote_cache_total{result}           quote cache hits and misses
//   - nifty_entry_decisions_total{strategy,result} entry gate verdicts (allowed or first rejection)
//   - nifty_exits_total{strategy,reason}        closed positions by exit reason
//   - nifty_adjustments_total{strategy,kind}    one-sided and ambiguous adjustments
//   - nifty_position_pnl{strategy}              P&L of the current position
//   - nifty_open_positions{strategy}            1 while a position is open
//   - nifty_cycle_seconds{strategy}             monitor cycle latency
//   - nifty_backtest_runs_total{strategy}       completed backtests
//
// Collectors are registered on the default registry in init() and served at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	GatewayCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nifty_gateway_calls_total",
			Help: "Gateway calls split by operation and outcome",
		},
		[]string{"op", "outcome"},
	)

	QuoteCache = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nifty_quote_cache_total",
			Help: "Quote cache lookups by result (hit|miss)",
		},
		[]string{"result"},
	)

	EntryDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nifty_entry_decisions_total",
			Help: "Entry gate verdicts",
		},
		[]string{"strategy", "result"},
	)

	Exits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nifty_exits_total",
			Help: "Closed positions by exit reason",
		},
		[]string{"strategy", "reason"},
	)

	Adjustments = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nifty_adjustments_total",
			Help: "Adjustments by kind (one_sided|ambiguous)",
		},
		[]string{"strategy", "kind"},
	)

	PositionPnL = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nifty_position_pnl",
			Help: "Realized plus unrealized P&L of the current position in rupees",
		},
		[]string{"strategy"},
	)

	OpenPositions = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nifty_open_positions",
			Help: "1 while the strategy holds a position",
		},
		[]string{"strategy"},
	)

	CycleSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nifty_cycle_seconds",
			Help:    "Monitor polling cycle duration",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
		[]string{"strategy"},
	)

	BacktestRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nifty_backtest_runs_total",
			Help: "Completed backtest runs",
		},
		[]string{"strategy"},
	)
)

func init() {
	prometheus.MustRegister(GatewayCalls, QuoteCache)
	prometheus.MustRegister(EntryDecisions, Exits, Adjustments)
	prometheus.MustRegister(PositionPnL, OpenPositions, CycleSeconds)
	prometheus.MustRegister(BacktestRuns)
}
