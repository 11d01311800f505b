package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	emailsDispatchedCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mailer",
			Name:      "emails_dispatched_total",
			Help:      "Total email dispatch attempts.",
		},
		[]string{"sender", "status"}, // status: "sent", "failed", "error_mark"
	)

	dispatchDurationHist = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mailer",
			Name:      "dispatch_duration_seconds",
			Help:      "Duration of a single email dispatch attempt.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"sender"},
	)

	ceilingDeferredCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mailer",
			Name:      "ceiling_deferred_cycles_total",
			Help:      "Dispatch cycles skipped because a rate ceiling was exhausted.",
		},
		[]string{"window"}, // "minute", "hour", "day"
	)

	dispatchCycleDurationHist = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mailer",
			Name:      "dispatch_cycle_duration_seconds",
			Help:      "Duration of a full worker dispatch cycle.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"outcome"}, // "ok", "deferred", "error"
	)
)
