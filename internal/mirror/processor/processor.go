// Package processor keeps the mirror a faithful, eventually-consistent
// projection of ledger state. Events arrive over a live subscription or a
// historical replay; both go through the same idempotent apply path, so
// redelivery and recovery never corrupt the mirror.
package processor

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"trustledger/internal/ledger/models"
	"trustledger/internal/mirror/feed"
	mirrormodels "trustledger/internal/mirror/models"
	"trustledger/internal/mirror/notifier"
	"trustledger/internal/mirror/store"
	id "trustledger/pkg/domain"
	"trustledger/pkg/platform/sentinel"
)

// errSequenceGap signals that an event arrived ahead of the next expected
// sequence for its subject; the processor repairs the gap via replay.
var errSequenceGap = errors.New("sequence gap")

const (
	defaultWorkers     = 8
	defaultMaxAttempts = 3
	defaultRetryDelay  = 100 * time.Millisecond
	reconnectBase      = time.Second
	reconnectMax       = time.Minute
	// replaySlack widens gap replays so events racing the disconnect are
	// not missed; over-replay is harmless under idempotence.
	replaySlack = time.Minute
)

type Processor struct {
	source    feed.Source
	store     store.Store
	notifier  notifier.Notifier
	parkStore ParkStore

	logger  *slog.Logger
	metrics *Metrics
	tracer  trace.Tracer

	locks       *subjectLocks
	workers     int
	maxAttempts int
	retryDelay  time.Duration

	mu            sync.Mutex
	parkedSeqs    map[id.Address]map[uint64]struct{}
	lastEventTime time.Time
}

type Option func(*Processor)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Processor) { p.logger = logger }
}

func WithMetrics(m *Metrics) Option {
	return func(p *Processor) { p.metrics = m }
}

func WithNotifier(n notifier.Notifier) Option {
	return func(p *Processor) { p.notifier = n }
}

func WithParkStore(s ParkStore) Option {
	return func(p *Processor) { p.parkStore = s }
}

func WithWorkers(n int) Option {
	return func(p *Processor) { p.workers = n }
}

func WithMaxAttempts(n int) Option {
	return func(p *Processor) { p.maxAttempts = n }
}

func WithRetryDelay(d time.Duration) Option {
	return func(p *Processor) { p.retryDelay = d }
}

func New(source feed.Source, mirrorStore store.Store, opts ...Option) (*Processor, error) {
	if source == nil || mirrorStore == nil {
		return nil, fmt.Errorf("feed source and mirror store are required")
	}
	p := &Processor{
		source:      source,
		store:       mirrorStore,
		parkStore:   NewMemoryParkStore(),
		logger:      slog.Default(),
		tracer:      otel.Tracer("trustledger/mirror"),
		locks:       newSubjectLocks(),
		workers:     defaultWorkers,
		maxAttempts: defaultMaxAttempts,
		retryDelay:  defaultRetryDelay,
		parkedSeqs:  make(map[id.Address]map[uint64]struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Run replays outstanding history, then consumes the live feed until ctx is
// cancelled. A dropped subscription reconnects with backoff and replays the
// gap before live processing resumes, so no event is silently lost.
func (p *Processor) Run(ctx context.Context) error {
	backoff := reconnectBase
	first := true
	for {
		from := p.gapStart(first)
		first = false
		if err := p.Replay(ctx, from); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.logger.ErrorContext(ctx, "replay failed, retrying", "error", err)
			if !sleep(ctx, backoff) {
				return ctx.Err()
			}
			backoff = nextBackoff(backoff)
			continue
		}

		sub, err := p.source.Subscribe(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.logger.ErrorContext(ctx, "subscribe failed, retrying", "error", err)
			if !sleep(ctx, backoff) {
				return ctx.Err()
			}
			backoff = nextBackoff(backoff)
			continue
		}
		backoff = reconnectBase

		err = p.consume(ctx, sub)
		sub.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if p.metrics != nil {
			p.metrics.Reconnects.Inc()
		}
		p.logger.WarnContext(ctx, "live subscription lost, reconnecting", "error", err)
		if !sleep(ctx, backoff) {
			return ctx.Err()
		}
		backoff = nextBackoff(backoff)
	}
}

// consume routes live events to a fixed worker pool. Subjects hash to
// workers, so cross-subject processing is parallel while per-subject order
// is preserved.
func (p *Processor) consume(ctx context.Context, sub feed.Subscription) error {
	group, groupCtx := errgroup.WithContext(ctx)

	channels := make([]chan models.Envelope, p.workers)
	for i := range channels {
		ch := make(chan models.Envelope, 64)
		channels[i] = ch
		group.Go(func() error {
			for env := range ch {
				p.process(groupCtx, env)
			}
			return nil
		})
	}

	group.Go(func() error {
		defer func() {
			for _, ch := range channels {
				close(ch)
			}
		}()
		for {
			select {
			case env, ok := <-sub.Events():
				if !ok {
					return sub.Err()
				}
				select {
				case channels[workerIndex(env.Subject, p.workers)] <- env:
				case <-groupCtx.Done():
					return groupCtx.Err()
				}
			case <-groupCtx.Done():
				return groupCtx.Err()
			}
		}
	})

	return group.Wait()
}

func workerIndex(subject id.Address, workers int) int {
	h := fnv.New32a()
	h.Write([]byte(subject))
	return int(h.Sum32() % uint32(workers))
}

// Replay feeds historical events through the same apply path as live ones.
// Exported for the operator replay tool.
func (p *Processor) Replay(ctx context.Context, from time.Time) error {
	return p.source.Replay(ctx, from, func(env models.Envelope) error {
		p.process(ctx, env)
		return ctx.Err()
	})
}

// process applies one event, retrying transient failures, repairing gaps,
// and parking poisoned events. Failures here never stop the dispatch loop
// for other subjects.
func (p *Processor) process(ctx context.Context, env models.Envelope) {
	ctx, span := p.tracer.Start(ctx, "mirror.apply",
		trace.WithAttributes(
			attribute.String("event.kind", string(env.Type)),
			attribute.String("event.subject", env.Subject.String()),
			attribute.Int64("event.sequence", int64(env.Sequence)),
		))
	defer span.End()

	var lastErr error
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		applied, err := p.ApplyEnvelope(ctx, env)
		if err == nil {
			if applied {
				p.observeApplied(env)
			}
			return
		}
		lastErr = err

		if errors.Is(err, errSequenceGap) {
			if p.metrics != nil {
				p.metrics.GapsDetected.Inc()
			}
			p.logger.WarnContext(ctx, "sequence gap, replaying to repair",
				"subject", env.Subject, "sequence", env.Sequence)
			if repairErr := p.repairGap(ctx, env.Subject); repairErr != nil {
				lastErr = repairErr
			}
			continue
		}

		if !sleep(ctx, p.retryDelay) {
			return
		}
	}

	p.park(ctx, env, lastErr)
}

// repairGap replays history from just before the subject's last applied
// event; the missing events apply in order and the gapped one becomes a
// duplicate on retry.
func (p *Processor) repairGap(ctx context.Context, subject id.Address) error {
	from := time.Time{}
	record, err := p.store.Get(ctx, subject)
	if err == nil {
		from = record.UpdatedAt.Add(-replaySlack)
	} else if !errors.Is(err, sentinel.ErrNotFound) {
		return err
	}
	return p.Replay(ctx, from)
}

// ApplyEnvelope applies a single event to the mirror exactly once.
// Returns (false, nil) for duplicates, (false, errSequenceGap) when the
// event is ahead of the next expected sequence, and (true, nil) after a
// successful apply. Per-subject locking keeps concurrent replay and live
// application from interleaving on one record.
func (p *Processor) ApplyEnvelope(ctx context.Context, env models.Envelope) (applied bool, err error) {
	if env.Payload == nil {
		return false, fmt.Errorf("event %s/%d has no payload", env.Subject, env.Sequence)
	}

	unlock := p.locks.lock(env.Subject)
	defer unlock()

	// Projection bugs surface as panics on malformed payloads; contain them
	// to this event.
	defer func() {
		if r := recover(); r != nil {
			applied = false
			err = fmt.Errorf("apply panic for %s/%d: %v", env.Subject, env.Sequence, r)
		}
	}()

	record, getErr := p.store.Get(ctx, env.Subject)
	if getErr != nil {
		if !errors.Is(getErr, sentinel.ErrNotFound) {
			return false, fmt.Errorf("mirror read for %s: %w", env.Subject, getErr)
		}
		record = mirrormodels.MirrorRecord{Subject: env.Subject}
	}

	if env.Sequence <= record.LastAppliedSequence || p.isParked(env.Subject, env.Sequence) {
		if p.metrics != nil {
			p.metrics.DuplicatesSkipped.Inc()
		}
		return false, nil
	}
	if env.Sequence != p.nextExpected(env.Subject, record.LastAppliedSequence) {
		return false, errSequenceGap
	}

	start := time.Now()
	updated, projErr := project(record, env)
	if projErr != nil {
		return false, projErr
	}
	if upsertErr := p.store.Upsert(ctx, updated); upsertErr != nil {
		return false, fmt.Errorf("mirror write for %s: %w", env.Subject, upsertErr)
	}
	if p.metrics != nil {
		p.metrics.ApplyDuration.Observe(time.Since(start).Seconds())
	}

	p.mu.Lock()
	if env.Timestamp.After(p.lastEventTime) {
		p.lastEventTime = env.Timestamp
	}
	p.mu.Unlock()

	// Notification is best-effort and happens only after the mirror write:
	// a client that misses it re-fetches state that is already current.
	if p.notifier != nil {
		p.notifier.Notify(ctx, env)
	}
	return true, nil
}

// nextExpected is the next sequence the subject should apply, skipping over
// parked sequences so one poisoned event does not wedge its subject.
func (p *Processor) nextExpected(subject id.Address, lastApplied uint64) uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	next := lastApplied + 1
	for {
		if _, parked := p.parkedSeqs[subject][next]; !parked {
			return next
		}
		next++
	}
}

func (p *Processor) isParked(subject id.Address, sequence uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.parkedSeqs[subject][sequence]
	return ok
}

func (p *Processor) park(ctx context.Context, env models.Envelope, cause error) {
	raw, _ := env.Encode()
	event := ParkedEvent{
		Subject:  env.Subject,
		Sequence: env.Sequence,
		Kind:     env.Type,
		Raw:      raw,
		Reason:   fmt.Sprint(cause),
		ParkedAt: time.Now(),
	}
	if err := p.parkStore.Park(ctx, event); err != nil {
		p.logger.ErrorContext(ctx, "park write failed; event dropped",
			"subject", env.Subject, "sequence", env.Sequence, "error", err)
	}

	p.mu.Lock()
	if p.parkedSeqs[env.Subject] == nil {
		p.parkedSeqs[env.Subject] = make(map[uint64]struct{})
	}
	p.parkedSeqs[env.Subject][env.Sequence] = struct{}{}
	p.mu.Unlock()

	if p.metrics != nil {
		p.metrics.EventsParked.Inc()
	}
	p.logger.ErrorContext(ctx, "event parked for manual inspection",
		"subject", env.Subject, "sequence", env.Sequence, "kind", env.Type, "cause", cause)
}

// Parked lists events awaiting operator attention.
func (p *Processor) Parked(ctx context.Context) ([]ParkedEvent, error) {
	return p.parkStore.List(ctx)
}

func (p *Processor) observeApplied(env models.Envelope) {
	if p.metrics != nil {
		p.metrics.EventsApplied.WithLabelValues(string(env.Type)).Inc()
	}
}

// gapStart picks where a (re)connect replay begins: full history on first
// run, otherwise shortly before the newest applied event.
func (p *Processor) gapStart(first bool) time.Time {
	if first {
		return time.Time{}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.lastEventTime.IsZero() {
		return time.Time{}
	}
	return p.lastEventTime.Add(-replaySlack)
}

func nextBackoff(current time.Duration) time.Duration {
	next := current * 2
	if next > reconnectMax {
		return reconnectMax
	}
	return next
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
