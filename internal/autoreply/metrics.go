package autoreply

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Decisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "waagent",
		Subsystem: "autoreply",
		Name:      "decisions_total",
		Help:      "Inbound messages processed by outcome.",
	}, []string{"outcome"})

	QueueResolutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "waagent",
		Subsystem: "autoreply",
		Name:      "queue_resolutions_total",
		Help:      "Operator actions on the approval queue.",
	}, []string{"action"})

	PollCycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "waagent",
		Subsystem: "autoreply",
		Name:      "poll_cycles_total",
		Help:      "Poll cycles by result.",
	}, []string{"result"})

	PollDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "waagent",
		Subsystem: "autoreply",
		Name:      "poll_duration_seconds",
		Help:      "Wall time of one poll cycle.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
	})

	Watermark = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "waagent",
		Subsystem: "autoreply",
		Name:      "watermark_timestamp",
		Help:      "Highest inbound message timestamp processed.",
	})
)
