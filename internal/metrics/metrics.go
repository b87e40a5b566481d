// Package metrics holds the Prometheus collectors for page identity resolution.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	OutcomeMatched = "matched"
	OutcomeCreated = "created"
	OutcomeError   = "error"
)

// Metrics is safe to use as a nil pointer; every recorder becomes a no-op.
type Metrics struct {
	Registry *prometheus.Registry

	ResolutionsTotal   *prometheus.CounterVec
	ResolveDuration    prometheus.Histogram
	CandidatesPerQuery prometheus.Histogram
	TopMatchScore      prometheus.Histogram
	ReconcileMerged    prometheus.Counter

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		ResolutionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pageid_resolutions_total",
				Help: "Resolve calls by outcome.",
			},
			[]string{"outcome"},
		),
		ResolveDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "pageid_resolve_duration_seconds",
				Help:    "Duration of resolve calls including store round trips.",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
		),
		CandidatesPerQuery: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "pageid_resolve_candidates",
				Help:    "Stored candidates returned per resolve lookup.",
				Buckets: []float64{0, 1, 2, 3, 5, 8, 13, 21},
			},
		),
		TopMatchScore: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "pageid_resolve_top_score",
				Help:    "Score of the best ranked candidate when one exists.",
				Buckets: prometheus.LinearBuckets(0, 0.1, 11),
			},
		),
		ReconcileMerged: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "pageid_reconcile_merged_records_total",
				Help: "Duplicate records folded into a survivor by reconcile.",
			},
		),
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pageid_http_requests_total",
				Help: "HTTP requests by route and status.",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pageid_http_request_duration_seconds",
				Help:    "HTTP request latency by route.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}
}

func (m *Metrics) ObserveResolution(outcome string, candidates int, topScore float64, hasTop bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.ResolutionsTotal.WithLabelValues(outcome).Inc()
	m.ResolveDuration.Observe(elapsed.Seconds())
	if outcome == OutcomeError {
		return
	}
	m.CandidatesPerQuery.Observe(float64(candidates))
	if hasTop {
		m.TopMatchScore.Observe(topScore)
	}
}

func (m *Metrics) AddReconcileMerged(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ReconcileMerged.Add(float64(n))
}

func (m *Metrics) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}
