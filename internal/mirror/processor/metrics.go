package processor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the event processor's Prometheus metrics.
type Metrics struct {
	EventsApplied     *prometheus.CounterVec
	DuplicatesSkipped prometheus.Counter
	GapsDetected      prometheus.Counter
	EventsParked      prometheus.Counter
	Reconnects        prometheus.Counter
	ApplyDuration     prometheus.Histogram
}

func NewMetrics() *Metrics {
	return &Metrics{
		EventsApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "trustledger_mirror_events_applied_total",
			Help: "Events applied to the mirror, by kind.",
		}, []string{"kind"}),
		DuplicatesSkipped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "trustledger_mirror_duplicates_skipped_total",
			Help: "Redelivered events skipped by the idempotence check.",
		}),
		GapsDetected: promauto.NewCounter(prometheus.CounterOpts{
			Name: "trustledger_mirror_sequence_gaps_total",
			Help: "Per-subject sequence gaps that triggered replay repair.",
		}),
		EventsParked: promauto.NewCounter(prometheus.CounterOpts{
			Name: "trustledger_mirror_events_parked_total",
			Help: "Events parked for manual inspection after repeated failures.",
		}),
		Reconnects: promauto.NewCounter(prometheus.CounterOpts{
			Name: "trustledger_mirror_reconnects_total",
			Help: "Live subscription reconnects.",
		}),
		ApplyDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "trustledger_mirror_apply_duration_seconds",
			Help:    "Latency of applying one event to the mirror.",
			Buckets: prometheus.DefBuckets,
		}),
	}
}
