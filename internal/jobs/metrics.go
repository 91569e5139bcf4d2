package jobs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	RecalculationsStarted prometheus.Counter
	WritesDispatched      prometheus.Counter
	WriteRetries          prometheus.Counter
	TerminalFailures      prometheus.Counter
	SingleFlightSkips     prometheus.Counter
}

func NewMetrics() *Metrics {
	return &Metrics{
		RecalculationsStarted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "trustledger_jobs_recalculations_started_total",
			Help: "Score recalculation jobs started.",
		}),
		WritesDispatched: promauto.NewCounter(prometheus.CounterOpts{
			Name: "trustledger_jobs_ledger_writes_dispatched_total",
			Help: "Ledger write jobs dispatched.",
		}),
		WriteRetries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "trustledger_jobs_ledger_write_retries_total",
			Help: "Ledger write attempts retried after a transient failure.",
		}),
		TerminalFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "trustledger_jobs_ledger_write_failures_total",
			Help: "Ledger writes that failed terminally and need operator attention.",
		}),
		SingleFlightSkips: promauto.NewCounter(prometheus.CounterOpts{
			Name: "trustledger_jobs_single_flight_skips_total",
			Help: "Enqueue calls skipped because work for the subject was already in flight.",
		}),
	}
}
