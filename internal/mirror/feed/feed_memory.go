package feed

import (
	"context"
	"errors"
	"sync"
	"time"

	"trustledger/internal/ledger/models"
)

// MemoryFeed is the in-process feed: events append to a history log and fan
// out to live subscribers. It implements both Publisher and Source, which is
// what single-binary deployments and tests use.
type MemoryFeed struct {
	mu      sync.Mutex
	history []models.Envelope
	subs    map[*memorySub]struct{}
}

func NewMemoryFeed() *MemoryFeed {
	return &MemoryFeed{subs: make(map[*memorySub]struct{})}
}

// ErrSubscriberLagging closes subscriptions whose buffers overflow. The
// processor reacts by reconnecting and replaying the gap, which is the same
// recovery path a dropped network subscription takes.
var ErrSubscriberLagging = errors.New("subscriber lagging, events dropped")

const subscriberBuffer = 256

type memorySub struct {
	feed   *MemoryFeed
	events chan models.Envelope
	err    error
	closed bool
}

func (s *memorySub) Events() <-chan models.Envelope { return s.events }

func (s *memorySub) Err() error {
	s.feed.mu.Lock()
	defer s.feed.mu.Unlock()
	return s.err
}

func (s *memorySub) Close() {
	s.feed.mu.Lock()
	defer s.feed.mu.Unlock()
	s.feed.dropLocked(s, nil)
}

func (f *MemoryFeed) Publish(_ context.Context, env models.Envelope) error {
	// Round-trip through the wire codec so memory and kafka deployments
	// exercise identical envelope semantics.
	encoded, err := env.Encode()
	if err != nil {
		return err
	}
	decoded, err := models.DecodeEnvelope(encoded)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.history = append(f.history, decoded)
	for sub := range f.subs {
		select {
		case sub.events <- decoded:
		default:
			f.dropLocked(sub, ErrSubscriberLagging)
		}
	}
	return nil
}

func (f *MemoryFeed) dropLocked(sub *memorySub, reason error) {
	if sub.closed {
		return
	}
	sub.closed = true
	sub.err = reason
	delete(f.subs, sub)
	close(sub.events)
}

func (f *MemoryFeed) Subscribe(_ context.Context) (Subscription, error) {
	sub := &memorySub{feed: f, events: make(chan models.Envelope, subscriberBuffer)}
	f.mu.Lock()
	f.subs[sub] = struct{}{}
	f.mu.Unlock()
	return sub, nil
}

func (f *MemoryFeed) Replay(ctx context.Context, from time.Time, fn func(models.Envelope) error) error {
	f.mu.Lock()
	snapshot := make([]models.Envelope, 0, len(f.history))
	for _, env := range f.history {
		if !env.Timestamp.Before(from) {
			snapshot = append(snapshot, env)
		}
	}
	f.mu.Unlock()

	for _, env := range snapshot {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(env); err != nil {
			return err
		}
	}
	return nil
}
