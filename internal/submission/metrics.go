package submission

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SubmissionsTotal counts Submit calls by outcome.
	// Labels: result (accepted, empty, store_error)
	SubmissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mindpalace",
			Subsystem: "submission",
			Name:      "submissions_total",
			Help:      "Total number of thought submissions by result",
		},
		[]string{"result"},
	)

	// DispatchFailures counts detached annotations that failed.
	// Labels: dispatcher (async, http)
	DispatchFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mindpalace",
			Subsystem: "submission",
			Name:      "dispatch_failures_total",
			Help:      "Total number of detached annotation requests that failed",
		},
		[]string{"dispatcher"},
	)

	// InFlight tracks detached annotations currently running in-process.
	InFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "mindpalace",
			Subsystem: "submission",
			Name:      "annotations_in_flight",
			Help:      "Number of detached annotations currently running",
		},
	)
)
