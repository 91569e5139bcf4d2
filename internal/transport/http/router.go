package httptransport

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"trustledger/internal/platform/middleware"
)

// NewRouter wires the read API. The event stream route skips the timeout
// middleware because SSE connections are long-lived.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recovery(h.logger))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(h.logger))

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))
		r.Get("/v1/profiles/{subject}", h.handleGetProfile)
		r.Get("/v1/consensus/{subject}", h.handleGetConsensus)
		r.Get("/v1/badges/{subject}", h.handleListBadges)
		r.Get("/v1/badges/{subject}/{type}", h.handleGetBadge)
		r.Get("/v1/jobs/failed-writes", h.handleFailedWrites)
	})

	r.Get("/v1/subjects/{subject}/events", h.handleSubjectEvents)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	return r
}
