package httptransport

import (
	"fmt"
	"net/http"

	"trustledger/internal/ledger/models"
	id "trustledger/pkg/domain"
	dErrors "trustledger/pkg/domain-errors"
)

// EventStream is the per-subject notification feed backed by the mirror's
// notifier hub.
type EventStream interface {
	Subscribe(subject id.Address) (<-chan models.Envelope, func())
}

// handleSubjectEvents streams a subject's ledger events as server-sent
// events. Delivery is best-effort: a client that misses events re-fetches
// current state from the read endpoints.
func (h *Handler) handleSubjectEvents(w http.ResponseWriter, r *http.Request) {
	subject, err := subjectParam(r)
	if err != nil {
		writeError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, dErrors.New(dErrors.CodeInternal, "streaming unsupported"))
		return
	}

	events, cancel := h.events.Subscribe(subject)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case env, open := <-events:
			if !open {
				return
			}
			payload, err := env.Encode()
			if err != nil {
				h.logger.ErrorContext(r.Context(), "event encode failed",
					"subject", subject, "sequence", env.Sequence, "error", err)
				continue
			}
			fmt.Fprintf(w, "event: %s\n", env.Type)
			fmt.Fprintf(w, "id: %d\n", env.Sequence)
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
		}
	}
}
