package sender

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SendsTotal counts send attempts.
	// Labels: result (sent, invalid, failed)
	SendsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "waagent",
			Subsystem: "sender",
			Name:      "sends_total",
			Help:      "Total number of WhatsApp send attempts by result",
		},
		[]string{"result"},
	)

	SendDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "waagent",
			Subsystem: "sender",
			Name:      "send_duration_seconds",
			Help:      "Duration of pause, send and resume in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// ResumeFailures counts sync daemon restarts that failed.
	ResumeFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "waagent",
			Subsystem: "sender",
			Name:      "resume_failures_total",
			Help:      "Total number of times the sync daemon failed to restart after a send",
		},
	)
)
