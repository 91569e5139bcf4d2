// Package feed abstracts the ledger event stream: publishing from the
// ledger side, live subscription, and ordered historical replay for
// recovery.
package feed

import (
	"context"
	"time"

	"trustledger/internal/ledger/models"
)

// Publisher accepts events from the ledger emitter. Publish must not return
// until the event is durably accepted; the ledger treats a publish failure
// as a failed transaction.
type Publisher interface {
	Publish(ctx context.Context, env models.Envelope) error
}

// Subscription is a live event stream. Events closes when the subscription
// ends; Err reports why.
type Subscription interface {
	Events() <-chan models.Envelope
	Err() error
	Close()
}

// Source is the consumer side of the feed.
type Source interface {
	// Subscribe opens a live stream starting at the consumer's current
	// position.
	Subscribe(ctx context.Context) (Subscription, error)
	// Replay streams historical events with timestamps at or after `from`,
	// in emission order, through fn. This is the recovery path; it must
	// feed the same dispatch used for live events.
	Replay(ctx context.Context, from time.Time, fn func(models.Envelope) error) error
}
