package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the cache's Prometheus collectors.
type Metrics struct {
	Lookups        *prometheus.CounterVec
	Analyses       *prometheus.CounterVec
	SharedWaits    prometheus.Counter
	Failures       *prometheus.CounterVec
	AnalyzeSeconds *prometheus.HistogramVec
	LookupSeconds  prometheus.Histogram
}

// NewMetrics creates the collectors and registers them on reg. A nil reg
// creates them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Lookups: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vad_cache_lookups_total",
			Help: "Store lookups by result (hit, miss, error)",
		}, []string{"result"}),
		Analyses: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vad_cache_analyses_total",
			Help: "Analyzer invocations by reason (miss, forced)",
		}, []string{"reason"}),
		SharedWaits: f.NewCounter(prometheus.CounterOpts{
			Name: "vad_cache_shared_waits_total",
			Help: "Callers that received another caller's in-flight analysis",
		}),
		Failures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vad_cache_failures_total",
			Help: "Failed Analyze calls by kind (analysis, storage)",
		}, []string{"kind"}),
		AnalyzeSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vad_cache_analyze_duration_seconds",
			Help:    "Analyze latency by resolution",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 16), // 0.5ms to ~16s
		}, []string{"resolution"}),
		LookupSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "vad_cache_lookup_duration_seconds",
			Help:    "Store read latency",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 12), // 0.1ms to ~200ms
		}),
	}
}
