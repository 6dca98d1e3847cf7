package observ

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	decisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_decisions_total",
			Help: "Execution decisions by symbol and outcome (executed, rejected, skipped)",
		},
		[]string{"symbol", "outcome"},
	)
	gateBlocksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_gate_blocks_total",
			Help: "Hard gate rejections by gate name",
		},
		[]string{"gate"},
	)
	ordersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_orders_total",
			Help: "Orders submitted to the brokerage by symbol and status",
		},
		[]string{"symbol", "status"},
	)
	modelFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_model_failures_total",
			Help: "Ensemble model scoring failures by model name",
		},
		[]string{"model"},
	)
	cycleDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "engine_cycle_duration_seconds",
			Help:    "Duration of scheduled tasks",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"task"},
	)
	dailyPnL = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "engine_daily_pnl_usd",
		Help: "Realized P&L for the current trading day",
	})
	drawdownPct = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "engine_drawdown_pct",
		Help: "Current drawdown from peak equity, percent",
	})
	epsilonGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "engine_learning_epsilon",
		Help: "Current exploration rate of the Q-learning agent",
	})
	circuitOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "engine_circuit_breaker_open",
		Help: "1 when the daily-loss circuit breaker has disabled execution",
	})
	cacheDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "engine_marketdata_bars",
			Help: "Bars held in the rolling market-data cache per symbol",
		},
		[]string{"symbol"},
	)
)

func RecordDecision(symbol, outcome string) { decisionsTotal.WithLabelValues(symbol, outcome).Inc() }
func RecordGateBlock(gate string)           { gateBlocksTotal.WithLabelValues(gate).Inc() }
func RecordOrder(symbol, status string)     { ordersTotal.WithLabelValues(symbol, status).Inc() }
func RecordModelFailure(model string)       { modelFailuresTotal.WithLabelValues(model).Inc() }

func ObserveCycle(task string, seconds float64) {
	cycleDuration.WithLabelValues(task).Observe(seconds)
}

func SetDailyPnL(v float64)              { dailyPnL.Set(v) }
func SetDrawdownPct(v float64)           { drawdownPct.Set(v) }
func SetEpsilon(v float64)               { epsilonGauge.Set(v) }
func SetCacheDepth(symbol string, n int) { cacheDepth.WithLabelValues(symbol).Set(float64(n)) }

func SetCircuitOpen(open bool) {
	if open {
		circuitOpen.Set(1)
	} else {
		circuitOpen.Set(0)
	}
}

// MetricsHandler exposes the Prometheus registry.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
