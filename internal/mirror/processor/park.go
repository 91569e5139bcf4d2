package processor

import (
	"context"
	"sync"
	"time"

	"trustledger/internal/ledger/models"
	id "trustledger/pkg/domain"
)

// ParkedEvent is an event that kept failing and was set aside for manual
// inspection instead of blocking the stream.
type ParkedEvent struct {
	Subject  id.Address
	Sequence uint64
	Kind     models.Kind
	Raw      []byte
	Reason   string
	ParkedAt time.Time
}

// ParkStore persists parked events for operators.
type ParkStore interface {
	Park(ctx context.Context, event ParkedEvent) error
	List(ctx context.Context) ([]ParkedEvent, error)
}

// MemoryParkStore is the default single-process dead-letter store.
type MemoryParkStore struct {
	mu     sync.RWMutex
	events []ParkedEvent
}

func NewMemoryParkStore() *MemoryParkStore {
	return &MemoryParkStore{}
}

func (s *MemoryParkStore) Park(_ context.Context, event ParkedEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *MemoryParkStore) List(_ context.Context) ([]ParkedEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ParkedEvent, len(s.events))
	copy(out, s.events)
	return out, nil
}
