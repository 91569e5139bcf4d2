package store

import (
	"context"
	"crypto/ed25519"
	"strings"
	"sync"

	"trustledger/internal/ledger/models"
	id "trustledger/pkg/domain"
	"trustledger/pkg/platform/sentinel"
)

// In-memory stores back the ledger programs. They intentionally favor
// clarity over performance; the ledger's transaction discipline lives in the
// services, not here.

type MemoryProfileStore struct {
	mu       sync.RWMutex
	profiles map[id.Address]models.TrustProfile
}

func NewMemoryProfileStore() *MemoryProfileStore {
	return &MemoryProfileStore{profiles: make(map[id.Address]models.TrustProfile)}
}

func (s *MemoryProfileStore) Get(_ context.Context, owner id.Address) (models.TrustProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if profile, ok := s.profiles[owner]; ok {
		return profile, nil
	}
	return models.TrustProfile{}, sentinel.ErrNotFound
}

func (s *MemoryProfileStore) Put(_ context.Context, profile models.TrustProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Handles slice is shared with the caller; copy so later appends by the
	// registry do not mutate stored state in place.
	stored := profile
	stored.AccountHandles = append([]models.AccountHandle(nil), profile.AccountHandles...)
	s.profiles[profile.Owner] = stored
	return nil
}

// MemoryAccountArena keeps verified accounts in one growable table with a
// registry-wide (provider, username) uniqueness index.
type MemoryAccountArena struct {
	mu       sync.RWMutex
	accounts []models.VerifiedAccount
	claimed  map[string]struct{}
}

func NewMemoryAccountArena() *MemoryAccountArena {
	return &MemoryAccountArena{claimed: make(map[string]struct{})}
}

func claimKey(provider id.Provider, username string) string {
	return string(provider) + "\x00" + strings.ToLower(username)
}

func (a *MemoryAccountArena) Append(_ context.Context, account models.VerifiedAccount) (models.AccountHandle, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	key := claimKey(account.Provider, account.ExternalUsername)
	if _, taken := a.claimed[key]; taken {
		return 0, sentinel.ErrConflict
	}
	a.claimed[key] = struct{}{}
	a.accounts = append(a.accounts, account)
	return models.AccountHandle(len(a.accounts) - 1), nil
}

func (a *MemoryAccountArena) Discard(_ context.Context, handle models.AccountHandle) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if int(handle) != len(a.accounts)-1 {
		return sentinel.ErrStale
	}
	account := a.accounts[handle]
	delete(a.claimed, claimKey(account.Provider, account.ExternalUsername))
	a.accounts = a.accounts[:handle]
	return nil
}

func (a *MemoryAccountArena) Get(_ context.Context, handle models.AccountHandle) (models.VerifiedAccount, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if handle < 0 || int(handle) >= len(a.accounts) {
		return models.VerifiedAccount{}, sentinel.ErrNotFound
	}
	return a.accounts[handle], nil
}

type MemoryVerifierSet struct {
	mu   sync.RWMutex
	keys map[id.Address]ed25519.PublicKey
}

func NewMemoryVerifierSet() *MemoryVerifierSet {
	return &MemoryVerifierSet{keys: make(map[id.Address]ed25519.PublicKey)}
}

// Add is idempotent: re-registering an existing verifier refreshes its key.
func (s *MemoryVerifierSet) Add(_ context.Context, verifier id.Address, key ed25519.PublicKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[verifier] = key
	return nil
}

func (s *MemoryVerifierSet) Remove(_ context.Context, verifier id.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.keys, verifier)
	return nil
}

func (s *MemoryVerifierSet) Contains(_ context.Context, verifier id.Address) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.keys[verifier]
	return ok, nil
}

func (s *MemoryVerifierSet) Key(_ context.Context, verifier id.Address) (ed25519.PublicKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if key, ok := s.keys[verifier]; ok {
		return key, nil
	}
	return nil, sentinel.ErrNotFound
}

type MemoryObservationLog struct {
	mu           sync.RWMutex
	observations map[id.Address][]models.ScoreObservation
}

func NewMemoryObservationLog() *MemoryObservationLog {
	return &MemoryObservationLog{observations: make(map[id.Address][]models.ScoreObservation)}
}

func (l *MemoryObservationLog) Append(_ context.Context, obs models.ScoreObservation) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.observations[obs.Subject] = append(l.observations[obs.Subject], obs)
	return nil
}

func (l *MemoryObservationLog) ListBySubject(_ context.Context, subject id.Address) ([]models.ScoreObservation, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	stored := l.observations[subject]
	out := make([]models.ScoreObservation, len(stored))
	copy(out, stored)
	return out, nil
}

type badgeKey struct {
	owner     id.Address
	badgeType id.BadgeType
}

type MemoryBadgeStore struct {
	mu     sync.RWMutex
	badges map[badgeKey]models.TrustBadge
}

func NewMemoryBadgeStore() *MemoryBadgeStore {
	return &MemoryBadgeStore{badges: make(map[badgeKey]models.TrustBadge)}
}

func (s *MemoryBadgeStore) Get(_ context.Context, owner id.Address, badgeType id.BadgeType) (models.TrustBadge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if badge, ok := s.badges[badgeKey{owner, badgeType}]; ok {
		return badge, nil
	}
	return models.TrustBadge{}, sentinel.ErrNotFound
}

func (s *MemoryBadgeStore) Put(_ context.Context, badge models.TrustBadge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.badges[badgeKey{badge.Owner, badge.BadgeType}] = badge
	return nil
}

func (s *MemoryBadgeStore) ListByOwner(_ context.Context, owner id.Address) ([]models.TrustBadge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.TrustBadge
	for key, badge := range s.badges {
		if key.owner == owner {
			out = append(out, badge)
		}
	}
	return out, nil
}
