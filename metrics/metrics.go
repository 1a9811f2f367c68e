// Package metrics bundles the prometheus instruments each component records.
// Instruments hang off an injected registry so every test can use an
// isolated one.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// Namespace prefixes every metric exported by this module.
const Namespace = "flasharb"

// CoordinatorMetrics instruments the loan coordinator.
type CoordinatorMetrics struct {
	Attempts    prometheus.Counter
	Successes   prometheus.Counter
	Failures    *prometheus.CounterVec
	ProfitTotal prometheus.Counter
	SuccessRate prometheus.Gauge
	ActiveLoans prometheus.Gauge
	Withdrawals prometheus.Counter
}

// NewCoordinatorMetrics registers the coordinator instruments on reg.
func NewCoordinatorMetrics(reg prometheus.Registerer) *CoordinatorMetrics {
	factory := promauto.With(reg)
	return &CoordinatorMetrics{
		Attempts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "coordinator",
			Name:      "attempts_total",
			Help:      "Number of arbitrage attempts initiated",
		}),
		Successes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "coordinator",
			Name:      "successes_total",
			Help:      "Number of attempts that repaid the loan at a profit",
		}),
		Failures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "coordinator",
			Name:      "failures_total",
			Help:      "Number of failed attempts by reason",
		}, []string{"reason"}),
		ProfitTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "coordinator",
			Name:      "profit_total",
			Help:      "Total profit kept after repayment, in origin asset base units",
		}),
		SuccessRate: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "coordinator",
			Name:      "success_rate",
			Help:      "Successes over attempts",
		}),
		ActiveLoans: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "coordinator",
			Name:      "active_loans",
			Help:      "Number of loans currently in flight",
		}),
		Withdrawals: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "coordinator",
			Name:      "withdrawals_total",
			Help:      "Number of owner withdrawals",
		}),
	}
}

// RecordOutcome counts one finished attempt and refreshes the success rate.
func (m *CoordinatorMetrics) RecordOutcome(success bool, reason string) {
	if success {
		m.Successes.Inc()
	} else {
		m.Failures.WithLabelValues(reason).Inc()
	}
	m.updateSuccessRate()
}

// updateSuccessRate recomputes successes over attempts by reading the counter
// values back through their wire representation.
func (m *CoordinatorMetrics) updateSuccessRate() {
	attempts := counterValue(m.Attempts)
	if attempts == 0 {
		return
	}
	m.SuccessRate.Set(counterValue(m.Successes) / attempts)
}

// EngineMetrics instruments the arbitrage engine.
type EngineMetrics struct {
	Swaps       *prometheus.CounterVec
	SwapLatency prometheus.Histogram
	Comparisons prometheus.Counter
}

// NewEngineMetrics registers the engine instruments on reg.
func NewEngineMetrics(reg prometheus.Registerer) *EngineMetrics {
	factory := promauto.With(reg)
	return &EngineMetrics{
		Swaps: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "engine",
			Name:      "swaps_total",
			Help:      "Number of swap legs executed by venue",
		}, []string{"venue"}),
		SwapLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "engine",
			Name:      "swap_latency_seconds",
			Help:      "Latency of a single swap leg",
			Buckets:   prometheus.DefBuckets,
		}),
		Comparisons: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "engine",
			Name:      "comparisons_total",
			Help:      "Number of venue price comparisons",
		}),
	}
}

// QuoterMetrics instruments the cached quoter.
type QuoterMetrics struct {
	CacheHits   prometheus.Counter
	CacheMisses prometheus.Counter
}

// NewQuoterMetrics registers the quoter instruments on reg.
func NewQuoterMetrics(reg prometheus.Registerer) *QuoterMetrics {
	factory := promauto.With(reg)
	return &QuoterMetrics{
		CacheHits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "quoter",
			Name:      "cache_hits_total",
			Help:      "Number of quotes served from cache",
		}),
		CacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "quoter",
			Name:      "cache_misses_total",
			Help:      "Number of quotes fetched from the venue",
		}),
	}
}

func counterValue(c prometheus.Counter) float64 {
	var m dto.Metric
	if err := c.Write(&m); err != nil || m.Counter == nil {
		return 0
	}
	return m.Counter.GetValue()
}
