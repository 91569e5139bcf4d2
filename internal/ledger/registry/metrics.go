package registry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the registry program's Prometheus metrics.
type Metrics struct {
	ProfilesCreated  prometheus.Counter
	ScoreUpdates     prometheus.Counter
	AccountsVerified prometheus.Counter
}

func NewMetrics() *Metrics {
	return &Metrics{
		ProfilesCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "trustledger_profiles_created_total",
			Help: "Total trust profiles created.",
		}),
		ScoreUpdates: promauto.NewCounter(prometheus.CounterOpts{
			Name: "trustledger_score_updates_total",
			Help: "Total accepted score updates.",
		}),
		AccountsVerified: promauto.NewCounter(prometheus.CounterOpts{
			Name: "trustledger_accounts_verified_total",
			Help: "Total verified accounts appended.",
		}),
	}
}
