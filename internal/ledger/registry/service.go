// Package registry implements the profile registry program: subject
// profiles, verified-account attestations, and verifier membership.
package registry

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"trustledger/internal/ledger/emitter"
	"trustledger/internal/ledger/models"
	"trustledger/internal/ledger/store"
	id "trustledger/pkg/domain"
	dErrors "trustledger/pkg/domain-errors"
	"trustledger/pkg/platform/sentinel"
)

type Service struct {
	admin     id.Address
	profiles  store.ProfileStore
	arena     store.AccountArena
	verifiers store.VerifierSet
	emitter   *emitter.Emitter
	logger    *slog.Logger
	metrics   *Metrics
	clock     func() time.Time

	// txMu gives mutating calls the ledger's transaction semantics: two
	// commits against the same state are ordered, never interleaved.
	txMu sync.Mutex
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithClock(clock func() time.Time) Option {
	return func(s *Service) { s.clock = clock }
}

func New(admin id.Address, profiles store.ProfileStore, arena store.AccountArena, verifiers store.VerifierSet, em *emitter.Emitter, opts ...Option) (*Service, error) {
	if admin.IsZero() {
		return nil, fmt.Errorf("registry admin address is required")
	}
	if profiles == nil || arena == nil || verifiers == nil || em == nil {
		return nil, fmt.Errorf("registry stores and emitter are required")
	}
	svc := &Service{
		admin:     admin,
		profiles:  profiles,
		arena:     arena,
		verifiers: verifiers,
		emitter:   em,
		logger:    slog.Default(),
		clock:     time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

const neutralScore = 50

// CreateProfile registers a new subject with the neutral default score.
// Admin-only; exactly one profile may exist per owner address.
func (s *Service) CreateProfile(ctx context.Context, caller, subject id.Address, identifier, evidencePointer string) (models.TrustProfile, error) {
	if caller != s.admin {
		return models.TrustProfile{}, dErrors.New(dErrors.CodeUnauthorized, "caller is not the registry admin")
	}
	if identifier == "" {
		return models.TrustProfile{}, dErrors.New(dErrors.CodeBadRequest, "identifier is required")
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	if _, err := s.profiles.Get(ctx, subject); err == nil {
		return models.TrustProfile{}, dErrors.Newf(dErrors.CodeConflict, "profile already exists for %s", subject)
	} else if !errors.Is(err, sentinel.ErrNotFound) {
		return models.TrustProfile{}, dErrors.Wrap(err, dErrors.CodeInternal, "profile lookup failed")
	}

	now := s.clock()
	profile := models.TrustProfile{
		Owner:           subject,
		Identifier:      identifier,
		TrustScore:      neutralScore,
		EvidencePointer: evidencePointer,
		CreatedAt:       now,
		UpdatedAt:       now,
		Version:         1,
	}

	if err := s.emitter.Emit(ctx, subject, models.ProfileCreated{
		Identifier:      identifier,
		TrustScore:      profile.TrustScore,
		EvidencePointer: evidencePointer,
		Version:         profile.Version,
	}); err != nil {
		return models.TrustProfile{}, err
	}
	if err := s.profiles.Put(ctx, profile); err != nil {
		return models.TrustProfile{}, dErrors.Wrap(err, dErrors.CodeInternal, "profile write failed")
	}

	if s.metrics != nil {
		s.metrics.ProfilesCreated.Inc()
	}
	s.logger.InfoContext(ctx, "profile created", "subject", subject, "identifier", identifier)
	return profile, nil
}

// UpdateScore sets a new trust score for the subject. Verifier-only.
func (s *Service) UpdateScore(ctx context.Context, caller, subject id.Address, newScore uint8, evidencePointer string) (models.TrustProfile, error) {
	if err := s.requireVerifier(ctx, caller); err != nil {
		return models.TrustProfile{}, err
	}
	if !id.ValidScore(newScore) {
		return models.TrustProfile{}, dErrors.Newf(dErrors.CodeValidation, "score %d exceeds maximum %d", newScore, id.MaxScore)
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	profile, err := s.getProfileLocked(ctx, subject)
	if err != nil {
		return models.TrustProfile{}, err
	}

	oldScore := profile.TrustScore
	profile.TrustScore = newScore
	profile.EvidencePointer = evidencePointer
	profile.UpdatedAt = s.clock()
	profile.Version++

	if err := s.emitter.Emit(ctx, subject, models.ScoreUpdated{
		OldScore:        oldScore,
		NewScore:        newScore,
		EvidencePointer: evidencePointer,
		Version:         profile.Version,
	}); err != nil {
		return models.TrustProfile{}, err
	}
	if err := s.profiles.Put(ctx, profile); err != nil {
		return models.TrustProfile{}, dErrors.Wrap(err, dErrors.CodeInternal, "profile write failed")
	}

	if s.metrics != nil {
		s.metrics.ScoreUpdates.Inc()
	}
	s.logger.InfoContext(ctx, "score updated",
		"subject", subject, "old", oldScore, "new", newScore, "version", profile.Version)
	return profile, nil
}

// AddVerifiedAccount appends an attestation to the subject's profile. The
// raw proof evidence is hashed here; only the hash is stored and emitted.
// The (provider, username) pair is unique across the whole registry, not
// just per subject.
func (s *Service) AddVerifiedAccount(ctx context.Context, caller, subject id.Address, provider id.Provider, username string, proof []byte, externalID string) (models.TrustProfile, error) {
	if err := s.requireVerifier(ctx, caller); err != nil {
		return models.TrustProfile{}, err
	}
	if username == "" {
		return models.TrustProfile{}, dErrors.New(dErrors.CodeBadRequest, "external username is required")
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	profile, err := s.getProfileLocked(ctx, subject)
	if err != nil {
		return models.TrustProfile{}, err
	}

	proofHash := models.HashProof(proof)
	account := models.VerifiedAccount{
		Provider:          provider,
		ExternalUsername:  username,
		VerifiedAt:        s.clock(),
		ProofHash:         proofHash,
		ExternalAccountID: externalID,
	}
	handle, err := s.arena.Append(ctx, account)
	if err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return models.TrustProfile{}, dErrors.Newf(dErrors.CodeConflict, "account %s/%s already verified", provider, username)
		}
		return models.TrustProfile{}, dErrors.Wrap(err, dErrors.CodeInternal, "account append failed")
	}

	profile.AccountHandles = append(profile.AccountHandles, handle)
	profile.UpdatedAt = account.VerifiedAt
	profile.Version++

	if err := s.emitter.Emit(ctx, subject, models.AccountVerified{
		Provider:          provider,
		ExternalUsername:  username,
		ExternalAccountID: externalID,
		ProofHash:         proofHash,
		Version:           profile.Version,
	}); err != nil {
		// A failed publish aborts the whole mutation; the uniqueness claim
		// must not outlive it or a retried attestation would conflict with
		// the ghost of this one.
		if dErr := s.arena.Discard(ctx, handle); dErr != nil {
			s.logger.ErrorContext(ctx, "account claim rollback failed",
				"subject", subject, "provider", provider, "username", username, "error", dErr)
		}
		return models.TrustProfile{}, err
	}
	if err := s.profiles.Put(ctx, profile); err != nil {
		return models.TrustProfile{}, dErrors.Wrap(err, dErrors.CodeInternal, "profile write failed")
	}

	if s.metrics != nil {
		s.metrics.AccountsVerified.Inc()
	}
	s.logger.InfoContext(ctx, "account verified",
		"subject", subject, "provider", provider, "username", username, "version", profile.Version)
	return profile, nil
}

// RegisterVerifier adds an address to the verifier capability set with its
// observation-signing key. Admin-only; adding an existing verifier is a
// no-op.
func (s *Service) RegisterVerifier(ctx context.Context, caller, verifier id.Address, key ed25519.PublicKey) error {
	if caller != s.admin {
		return dErrors.New(dErrors.CodeUnauthorized, "caller is not the registry admin")
	}
	if len(key) != ed25519.PublicKeySize {
		return dErrors.New(dErrors.CodeBadRequest, "verifier key must be an ed25519 public key")
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	exists, err := s.verifiers.Contains(ctx, verifier)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "verifier lookup failed")
	}
	if exists {
		return nil
	}

	if err := s.emitter.Emit(ctx, verifier, models.VerifierRegistered{}); err != nil {
		return err
	}
	if err := s.verifiers.Add(ctx, verifier, key); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "verifier write failed")
	}
	s.logger.InfoContext(ctx, "verifier registered", "verifier", verifier)
	return nil
}

// RemoveVerifier drops an address from the verifier set. Admin-only;
// removing an unknown verifier is a no-op.
func (s *Service) RemoveVerifier(ctx context.Context, caller, verifier id.Address) error {
	if caller != s.admin {
		return dErrors.New(dErrors.CodeUnauthorized, "caller is not the registry admin")
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	exists, err := s.verifiers.Contains(ctx, verifier)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "verifier lookup failed")
	}
	if !exists {
		return nil
	}

	if err := s.emitter.Emit(ctx, verifier, models.VerifierRemoved{}); err != nil {
		return err
	}
	if err := s.verifiers.Remove(ctx, verifier); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "verifier write failed")
	}
	s.logger.InfoContext(ctx, "verifier removed", "verifier", verifier)
	return nil
}

// GetProfile is the read path used by the oracle, jobs, and transport.
func (s *Service) GetProfile(ctx context.Context, subject id.Address) (models.TrustProfile, error) {
	profile, err := s.profiles.Get(ctx, subject)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return models.TrustProfile{}, dErrors.Newf(dErrors.CodeNotFound, "no profile for %s", subject)
		}
		return models.TrustProfile{}, dErrors.Wrap(err, dErrors.CodeInternal, "profile lookup failed")
	}
	return profile, nil
}

// Accounts resolves the profile's account handles against the arena.
func (s *Service) Accounts(ctx context.Context, subject id.Address) ([]models.VerifiedAccount, error) {
	profile, err := s.GetProfile(ctx, subject)
	if err != nil {
		return nil, err
	}
	accounts := make([]models.VerifiedAccount, 0, len(profile.AccountHandles))
	for _, handle := range profile.AccountHandles {
		account, err := s.arena.Get(ctx, handle)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInvariantViolation, "dangling account handle")
		}
		accounts = append(accounts, account)
	}
	return accounts, nil
}

// IsVerifier exposes the capability set to the oracle program.
func (s *Service) IsVerifier(ctx context.Context, verifier id.Address) (bool, error) {
	return s.verifiers.Contains(ctx, verifier)
}

// VerifierKey returns the registered signing key for a verifier.
func (s *Service) VerifierKey(ctx context.Context, verifier id.Address) (ed25519.PublicKey, error) {
	key, err := s.verifiers.Key(ctx, verifier)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Newf(dErrors.CodeUnauthorized, "%s is not a registered verifier", verifier)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "verifier key lookup failed")
	}
	return key, nil
}

func (s *Service) requireVerifier(ctx context.Context, caller id.Address) error {
	ok, err := s.verifiers.Contains(ctx, caller)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "verifier lookup failed")
	}
	if !ok {
		return dErrors.Newf(dErrors.CodeUnauthorized, "%s is not a registered verifier", caller)
	}
	return nil
}

func (s *Service) getProfileLocked(ctx context.Context, subject id.Address) (models.TrustProfile, error) {
	profile, err := s.profiles.Get(ctx, subject)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return models.TrustProfile{}, dErrors.Newf(dErrors.CodeNotFound, "no profile for %s", subject)
		}
		return models.TrustProfile{}, dErrors.Wrap(err, dErrors.CodeInternal, "profile lookup failed")
	}
	return profile, nil
}
