package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"proxywarden/internal/domain"
)

const namespace = "proxywarden"

var (
	Registry = prometheus.NewRegistry()

	ProbeResults = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "probe_results_total",
		Help:      "Liveness probe verdicts by outcome.",
	}, []string{"verdict"})

	ProbeDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "probe_duration_seconds",
		Help:      "Wall clock time of a probe across all targets.",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30},
	})

	SweepCompleted = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sweep_completed",
		Help:      "Probes completed by the running sweep.",
	})

	HarvestCandidates = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "harvest_candidates_total",
		Help:      "Harvested candidates by source and outcome.",
	}, []string{"source", "outcome"})

	PoolProxies = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "pool_proxies",
		Help:      "Stored proxy records by state at the last statistics snapshot.",
	}, []string{"state"})
)

// Harvest outcome label values.
const (
	OutcomeAccepted = "accepted"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		ProbeResults,
		ProbeDuration,
		SweepCompleted,
		HarvestCandidates,
		PoolProxies,
	)
}

func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}

func ObserveProbe(verdict domain.Verdict) {
	ProbeResults.WithLabelValues(verdict.Status().String()).Inc()
	ProbeDuration.Observe(verdict.Latency.Seconds())
}

func SetPoolStatistics(stats domain.Statistics) {
	PoolProxies.WithLabelValues("total").Set(float64(stats.Total))
	PoolProxies.WithLabelValues(domain.StatusWorking.String()).Set(float64(stats.Working))
	PoolProxies.WithLabelValues(domain.StatusFailed.String()).Set(float64(stats.Failed))
	PoolProxies.WithLabelValues(domain.StatusUnchecked.String()).Set(float64(stats.Unchecked))
	PoolProxies.WithLabelValues("outdated").Set(float64(stats.Outdated))
}
