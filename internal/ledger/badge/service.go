// Package badge implements the soulbound credential program. One active
// badge exists per (owner, badgeType); badges expire but are never burned.
package badge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"trustledger/internal/ledger/emitter"
	"trustledger/internal/ledger/models"
	"trustledger/internal/ledger/store"
	id "trustledger/pkg/domain"
	dErrors "trustledger/pkg/domain-errors"
	"trustledger/pkg/platform/sentinel"
)

type Service struct {
	badges   store.BadgeStore
	emitter  *emitter.Emitter
	validity time.Duration
	logger   *slog.Logger
	clock    func() time.Time

	txMu sync.Mutex
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithClock(clock func() time.Time) Option {
	return func(s *Service) { s.clock = clock }
}

func New(badges store.BadgeStore, em *emitter.Emitter, validity time.Duration, opts ...Option) (*Service, error) {
	if badges == nil || em == nil {
		return nil, fmt.Errorf("badge store and emitter are required")
	}
	if validity <= 0 {
		return nil, fmt.Errorf("badge validity must be positive")
	}
	svc := &Service{
		badges:   badges,
		emitter:  em,
		validity: validity,
		logger:   slog.Default(),
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Mint issues a new badge bound permanently to the subject. The tier is
// derived from the score; minting a tier the subject already holds is a
// conflict — use Renew or IssueOrRenew.
func (s *Service) Mint(ctx context.Context, subject id.Address, score uint8, evidencePointer string) (models.TrustBadge, error) {
	if !id.ValidScore(score) {
		return models.TrustBadge{}, dErrors.Newf(dErrors.CodeValidation, "score %d exceeds maximum %d", score, id.MaxScore)
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	badgeType := id.BadgeTypeForScore(score)
	if _, err := s.badges.Get(ctx, subject, badgeType); err == nil {
		return models.TrustBadge{}, dErrors.Newf(dErrors.CodeConflict, "%s badge already minted for %s", badgeType, subject)
	} else if !errors.Is(err, sentinel.ErrNotFound) {
		return models.TrustBadge{}, dErrors.Wrap(err, dErrors.CodeInternal, "badge lookup failed")
	}

	now := s.clock()
	badge := models.TrustBadge{
		ID:              uuid.NewString(),
		Owner:           subject,
		BadgeType:       badgeType,
		TrustScore:      score,
		EvidencePointer: evidencePointer,
		IssuedAt:        now,
		ExpiresAt:       now.Add(s.validity),
		Version:         1,
	}

	if err := s.emitter.Emit(ctx, subject, models.BadgeMinted{
		BadgeID:         badge.ID,
		BadgeType:       badgeType,
		TrustScore:      score,
		EvidencePointer: evidencePointer,
		ExpiresAt:       badge.ExpiresAt,
	}); err != nil {
		return models.TrustBadge{}, err
	}
	if err := s.badges.Put(ctx, badge); err != nil {
		return models.TrustBadge{}, dErrors.Wrap(err, dErrors.CodeInternal, "badge write failed")
	}

	s.logger.InfoContext(ctx, "badge minted",
		"subject", subject, "badge_type", badgeType, "score", score)
	return badge, nil
}

// Renew refreshes score, evidence, and expiry on an existing badge.
func (s *Service) Renew(ctx context.Context, owner id.Address, badgeType id.BadgeType, newScore uint8, newEvidencePointer string) (models.TrustBadge, error) {
	if !id.ValidScore(newScore) {
		return models.TrustBadge{}, dErrors.Newf(dErrors.CodeValidation, "score %d exceeds maximum %d", newScore, id.MaxScore)
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	badge, err := s.badges.Get(ctx, owner, badgeType)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return models.TrustBadge{}, dErrors.Newf(dErrors.CodeNotFound, "no %s badge for %s", badgeType, owner)
		}
		return models.TrustBadge{}, dErrors.Wrap(err, dErrors.CodeInternal, "badge lookup failed")
	}

	oldScore := badge.TrustScore
	now := s.clock()
	badge.TrustScore = newScore
	badge.EvidencePointer = newEvidencePointer
	badge.ExpiresAt = now.Add(s.validity)
	badge.Version++

	if err := s.emitter.Emit(ctx, owner, models.BadgeUpdated{
		BadgeID:         badge.ID,
		BadgeType:       badgeType,
		OldScore:        oldScore,
		NewScore:        newScore,
		EvidencePointer: newEvidencePointer,
		ExpiresAt:       badge.ExpiresAt,
		Version:         badge.Version,
	}); err != nil {
		return models.TrustBadge{}, err
	}
	if err := s.badges.Put(ctx, badge); err != nil {
		return models.TrustBadge{}, dErrors.Wrap(err, dErrors.CodeInternal, "badge write failed")
	}

	s.logger.InfoContext(ctx, "badge renewed",
		"subject", owner, "badge_type", badgeType, "old", oldScore, "new", newScore, "version", badge.Version)
	return badge, nil
}

// IssueOrRenew mints the tier for the score if the subject does not hold it
// yet, and renews it otherwise. This is the path the jobs pipeline uses
// after a qualifying score update.
func (s *Service) IssueOrRenew(ctx context.Context, subject id.Address, score uint8, evidencePointer string) (models.TrustBadge, error) {
	badgeType := id.BadgeTypeForScore(score)
	if _, err := s.badges.Get(ctx, subject, badgeType); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return s.Mint(ctx, subject, score, evidencePointer)
		}
		return models.TrustBadge{}, dErrors.Wrap(err, dErrors.CodeInternal, "badge lookup failed")
	}
	return s.Renew(ctx, subject, badgeType, score, evidencePointer)
}

// GetBadge returns the badge for (owner, badgeType) whether or not it has
// expired; callers must check Expired before treating it as current.
func (s *Service) GetBadge(ctx context.Context, owner id.Address, badgeType id.BadgeType) (models.TrustBadge, error) {
	badge, err := s.badges.Get(ctx, owner, badgeType)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return models.TrustBadge{}, dErrors.Newf(dErrors.CodeNotFound, "no %s badge for %s", badgeType, owner)
		}
		return models.TrustBadge{}, dErrors.Wrap(err, dErrors.CodeInternal, "badge lookup failed")
	}
	return badge, nil
}

// ListBadges returns every badge the owner holds, expired ones included,
// in no particular order.
func (s *Service) ListBadges(ctx context.Context, owner id.Address) ([]models.TrustBadge, error) {
	badges, err := s.badges.ListByOwner(ctx, owner)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "badge list failed")
	}
	return badges, nil
}

// IsExpired is the pure expiry predicate.
func (s *Service) IsExpired(badge models.TrustBadge, now time.Time) bool {
	return badge.Expired(now)
}
