package generator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Requests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "waagent",
		Subsystem: "generator",
		Name:      "requests_total",
		Help:      "Model completions by task and outcome.",
	}, []string{"task", "result"})

	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "waagent",
		Subsystem: "generator",
		Name:      "request_duration_seconds",
		Help:      "Model completion latency including retries.",
		Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40, 60},
	}, []string{"task"})

	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "waagent",
		Subsystem: "generator",
		Name:      "style_cache_lookups_total",
		Help:      "Style profile cache lookups by result.",
	}, []string{"result"})
)
