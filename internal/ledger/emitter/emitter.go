// Package emitter assigns per-subject sequence numbers and publishes ledger
// events to the feed. Emission is part of the ledger transaction: a failed
// publish fails the whole operation and no state change is committed.
package emitter

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"trustledger/internal/ledger/models"
	id "trustledger/pkg/domain"
	dErrors "trustledger/pkg/domain-errors"
)

// Sink receives encoded events. The kafka feed and the in-process feed both
// implement it.
type Sink interface {
	Publish(ctx context.Context, env models.Envelope) error
}

type Emitter struct {
	mu     sync.Mutex
	seq    map[id.Address]uint64
	sink   Sink
	logger *slog.Logger
	clock  func() time.Time
}

type Option func(*Emitter)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Emitter) { e.logger = logger }
}

// WithClock injects a time source for tests.
func WithClock(clock func() time.Time) Option {
	return func(e *Emitter) { e.clock = clock }
}

func New(sink Sink, opts ...Option) *Emitter {
	e := &Emitter{
		seq:    make(map[id.Address]uint64),
		sink:   sink,
		logger: slog.Default(),
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Emit publishes one event for the subject. The mutex is held across the
// publish so sequence numbers reach the sink in order; the sequence is
// committed only after the sink accepts the event.
func (e *Emitter) Emit(ctx context.Context, subject id.Address, payload models.Payload) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	next := e.seq[subject] + 1
	env := models.Envelope{
		Type:      payload.Kind(),
		Subject:   subject,
		Sequence:  next,
		TxID:      uuid.NewString(),
		Timestamp: e.clock(),
		Payload:   payload,
	}
	if err := e.sink.Publish(ctx, env); err != nil {
		e.logger.ErrorContext(ctx, "event publish failed",
			"kind", env.Type, "subject", subject, "sequence", next, "error", err)
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "event publish failed")
	}
	e.seq[subject] = next

	e.logger.DebugContext(ctx, "event emitted",
		"kind", env.Type, "subject", subject, "sequence", next, "tx_id", env.TxID)
	return nil
}

// Sequence reports the last assigned sequence for a subject. Zero means no
// events have been emitted.
func (e *Emitter) Sequence(subject id.Address) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.seq[subject]
}
