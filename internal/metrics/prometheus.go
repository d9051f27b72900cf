package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"trafficfeed/internal/model"
)

var (
	RecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trafficfeed_records_total",
			Help: "Feed records by kind and outcome",
		},
		[]string{"kind", "outcome"}, // received, skipped, duplicate, new
	)

	SinkFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trafficfeed_sink_failures_total",
			Help: "Sink writes that failed",
		},
		[]string{"sink", "kind"},
	)

	CyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trafficfeed_cycles_total",
			Help: "Case cycles by result",
		},
		[]string{"result"}, // ok, fetch_error, error
	)

	CycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "trafficfeed_cycle_duration_seconds",
			Help:    "Wall time of one case cycle",
			Buckets: prometheus.DefBuckets,
		},
	)

	CasesInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "trafficfeed_cases_in_flight",
			Help: "Case cycles currently running",
		},
	)

	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "trafficfeed_circuit_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
		[]string{"name"},
	)
)

// ObserveReport feeds one finished cycle into the counters.
func ObserveReport(r *model.CycleReport, result string) {
	if r == nil {
		return
	}
	CyclesTotal.WithLabelValues(result).Inc()
	CycleDuration.Observe(r.Duration.Seconds())
	for _, k := range r.Kinds {
		kind := string(k.Kind)
		RecordsTotal.WithLabelValues(kind, "received").Add(float64(k.Received))
		RecordsTotal.WithLabelValues(kind, "skipped").Add(float64(k.Skipped))
		RecordsTotal.WithLabelValues(kind, "duplicate").Add(float64(k.Duplicates))
		RecordsTotal.WithLabelValues(kind, "new").Add(float64(k.New))
	}
}
