package store

import (
	"context"
	"sync"

	"trustledger/internal/mirror/models"
	id "trustledger/pkg/domain"
	"trustledger/pkg/platform/sentinel"
)

// MemoryStore keeps the mirror in process memory. Used in tests and
// single-binary deployments without postgres.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[id.Address]models.MirrorRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[id.Address]models.MirrorRecord)}
}

func (s *MemoryStore) Get(_ context.Context, subject id.Address) (models.MirrorRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if record, ok := s.records[subject]; ok {
		return cloneRecord(record), nil
	}
	return models.MirrorRecord{}, sentinel.ErrNotFound
}

func (s *MemoryStore) Upsert(_ context.Context, record models.MirrorRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.Subject] = cloneRecord(record)
	return nil
}

// cloneRecord keeps callers from mutating stored slices and maps in place.
func cloneRecord(record models.MirrorRecord) models.MirrorRecord {
	out := record
	out.Accounts = append([]models.MirrorAccount(nil), record.Accounts...)
	if record.Badges != nil {
		out.Badges = make(map[id.BadgeType]models.MirrorBadge, len(record.Badges))
		for badgeType, badge := range record.Badges {
			out.Badges[badgeType] = badge
		}
	}
	return out
}
