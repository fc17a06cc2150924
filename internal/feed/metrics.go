package feed

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsPublished counts change events handed to NATS.
	// Labels: type (INSERT, UPDATE, DELETE)
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mindpalace",
			Subsystem: "feed",
			Name:      "events_published_total",
			Help:      "Total number of change events published",
		},
		[]string{"type"},
	)

	// PublishErrors counts events that could not be published.
	PublishErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mindpalace",
			Subsystem: "feed",
			Name:      "publish_errors_total",
			Help:      "Total number of change events that failed to publish",
		},
	)

	// EventsDelivered counts events decoded and handed to subscribers.
	EventsDelivered = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mindpalace",
			Subsystem: "feed",
			Name:      "events_delivered_total",
			Help:      "Total number of change events delivered to subscribers",
		},
	)

	// DecodeErrors counts feed messages that were not valid change events.
	DecodeErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mindpalace",
			Subsystem: "feed",
			Name:      "decode_errors_total",
			Help:      "Total number of feed messages dropped as undecodable",
		},
	)

	// ActiveSubscriptions tracks open subscriptions.
	ActiveSubscriptions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "mindpalace",
			Subsystem: "feed",
			Name:      "active_subscriptions",
			Help:      "Number of open change feed subscriptions",
		},
	)
)
