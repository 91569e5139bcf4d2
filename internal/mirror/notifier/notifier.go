// Package notifier delivers best-effort live notifications to subscribed
// clients after the mirror has been updated. Delivery never blocks mirror
// application; a client that misses a notification re-fetches current
// state.
package notifier

import (
	"context"
	"sync"

	"trustledger/internal/ledger/models"
	id "trustledger/pkg/domain"
)

// Notifier fans a mirror-applied event out to interested parties.
type Notifier interface {
	Notify(ctx context.Context, env models.Envelope)
}

// Hub is the in-process subscription registry backing the SSE endpoint.
type Hub struct {
	mu   sync.RWMutex
	subs map[id.Address]map[chan models.Envelope]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[id.Address]map[chan models.Envelope]struct{})}
}

const clientBuffer = 16

// Subscribe registers interest in one subject. The returned cancel func
// must be called when the client disconnects.
func (h *Hub) Subscribe(subject id.Address) (<-chan models.Envelope, func()) {
	ch := make(chan models.Envelope, clientBuffer)

	h.mu.Lock()
	if h.subs[subject] == nil {
		h.subs[subject] = make(map[chan models.Envelope]struct{})
	}
	h.subs[subject][ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if set, ok := h.subs[subject]; ok {
			if _, live := set[ch]; live {
				delete(set, ch)
				close(ch)
				if len(set) == 0 {
					delete(h.subs, subject)
				}
			}
		}
	}
	return ch, cancel
}

// Notify delivers to every subscriber of the event's subject. Slow clients
// are skipped, not waited on.
func (h *Hub) Notify(_ context.Context, env models.Envelope) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs[env.Subject] {
		select {
		case ch <- env:
		default:
		}
	}
}

// Fanout composes notifiers; nil members are allowed and skipped.
type Fanout []Notifier

func (f Fanout) Notify(ctx context.Context, env models.Envelope) {
	for _, n := range f {
		if n != nil {
			n.Notify(ctx, env)
		}
	}
}
