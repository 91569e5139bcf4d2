// Package store owns the authoritative in-memory ledger state. Stores are
// interface-driven so the registry, oracle, and badge programs stay testable
// against the same state they share in production.
package store

import (
	"context"
	"crypto/ed25519"

	"trustledger/internal/ledger/models"
	id "trustledger/pkg/domain"
)

// ProfileStore holds TrustProfiles keyed by owner address.
type ProfileStore interface {
	Get(ctx context.Context, owner id.Address) (models.TrustProfile, error)
	// Put replaces the stored profile. The registry enforces version
	// monotonicity before calling.
	Put(ctx context.Context, profile models.TrustProfile) error
}

// AccountArena is the growable verified-account table. Profiles reference
// entries by stable handle; entries are immutable once appended.
type AccountArena interface {
	// Append claims the (provider, username) registry-wide uniqueness slot
	// and stores the account, returning its handle. Returns
	// sentinel.ErrConflict when the pair is already attached to any subject.
	Append(ctx context.Context, account models.VerifiedAccount) (models.AccountHandle, error)
	// Discard rolls back an append whose surrounding transaction failed,
	// releasing the uniqueness claim. Only the most recent append may be
	// discarded; anything else returns sentinel.ErrStale.
	Discard(ctx context.Context, handle models.AccountHandle) error
	Get(ctx context.Context, handle models.AccountHandle) (models.VerifiedAccount, error)
}

// VerifierSet is the admin-owned capability set. Registration stores the
// verifier's observation-signing key.
type VerifierSet interface {
	Add(ctx context.Context, verifier id.Address, key ed25519.PublicKey) error
	Remove(ctx context.Context, verifier id.Address) error
	Contains(ctx context.Context, verifier id.Address) (bool, error)
	Key(ctx context.Context, verifier id.Address) (ed25519.PublicKey, error)
}

// ObservationLog is the append-only score observation store.
type ObservationLog interface {
	Append(ctx context.Context, obs models.ScoreObservation) error
	ListBySubject(ctx context.Context, subject id.Address) ([]models.ScoreObservation, error)
}

// BadgeStore holds at most one badge per (owner, badgeType).
type BadgeStore interface {
	Get(ctx context.Context, owner id.Address, badgeType id.BadgeType) (models.TrustBadge, error)
	Put(ctx context.Context, badge models.TrustBadge) error
	ListByOwner(ctx context.Context, owner id.Address) ([]models.TrustBadge, error)
}
