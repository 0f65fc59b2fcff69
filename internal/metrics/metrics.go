// Package metrics exposes Prometheus instrumentation for the inference
// runtime. Collectors register on the default registry at init.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PrefillTokensTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "opt_prefill_tokens_total",
		Help: "Total prompt tokens run through the prefill pass",
	})

	DecodeTokensTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "opt_decode_tokens_total",
		Help: "Total tokens produced by the decode loop",
	})

	StepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "opt_decode_step_duration_seconds",
		Help:    "Wall time of a single cached decode step",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
	})

	ContextLength = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "opt_context_length_tokens",
		Help:    "Distribution of context lengths at request completion",
		Buckets: []float64{16, 64, 128, 256, 512, 1024, 2048},
	})

	CacheOccupancy = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "opt_cache_positions",
		Help: "Attention cache positions currently in use",
	})

	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "opt_requests_total",
		Help: "Completed generation requests by outcome",
	}, []string{"status"})

	CheckpointLoadDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "opt_checkpoint_load_seconds",
		Help:    "Wall time spent loading model checkpoints",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	})
)
