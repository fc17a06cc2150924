package annotator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Result labels for AnnotationsTotal.
const (
	resultSuccess     = "success"
	resultPlaceholder = "placeholder"
	resultInvalid     = "invalid_request"
	resultUpstream    = "upstream_error"
	resultStore       = "store_error"
)

var (
	// AnnotationsTotal counts Annotate calls by outcome.
	// Labels: result (success, placeholder, invalid_request, upstream_error, store_error)
	AnnotationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mindpalace",
			Subsystem: "annotator",
			Name:      "annotations_total",
			Help:      "Total number of annotation attempts by result",
		},
		[]string{"result"},
	)

	// CompletionDuration tracks Annotation Service latency.
	CompletionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "mindpalace",
			Subsystem: "annotator",
			Name:      "completion_duration_seconds",
			Help:      "Duration of completion calls in seconds",
			Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30},
		},
	)

	// ScrubbedSecrets counts credentials removed from text before completion.
	ScrubbedSecrets = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mindpalace",
			Subsystem: "annotator",
			Name:      "scrubbed_secrets_total",
			Help:      "Total number of secrets redacted from annotation input",
		},
	)
)
