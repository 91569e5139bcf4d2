// Package oracle implements score consensus: registered verifiers submit
// signed observations and readers get the arithmetic mean.
//
// Consensus is intentionally a plain mean so it is auditable at low cost.
// Outlier resistance is layered by callers comparing the observation count
// against MinVerifications before acting on the value.
package oracle

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"log/slog"
	"time"

	"trustledger/internal/ledger/emitter"
	"trustledger/internal/ledger/models"
	"trustledger/internal/ledger/store"
	id "trustledger/pkg/domain"
	dErrors "trustledger/pkg/domain-errors"
)

// VerifierDirectory is the slice of the registry the oracle depends on: the
// capability set is an explicit dependency, never ambient state.
type VerifierDirectory interface {
	IsVerifier(ctx context.Context, verifier id.Address) (bool, error)
	VerifierKey(ctx context.Context, verifier id.Address) (ed25519.PublicKey, error)
}

// Consensus is the read result: the mean score and how many observations
// back it. Callers compare Observations against the configured minimum
// before trusting Score.
type Consensus struct {
	Score        uint8
	Observations int
}

// Established reports whether enough verifiers have weighed in.
func (c Consensus) Established(minVerifications int) bool {
	return c.Observations >= minVerifications
}

type Service struct {
	verifiers        VerifierDirectory
	log              store.ObservationLog
	emitter          *emitter.Emitter
	skewTolerance    time.Duration
	minVerifications int
	logger           *slog.Logger
	clock            func() time.Time
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithClock(clock func() time.Time) Option {
	return func(s *Service) { s.clock = clock }
}

func New(verifiers VerifierDirectory, log store.ObservationLog, em *emitter.Emitter, skewTolerance time.Duration, minVerifications int, opts ...Option) (*Service, error) {
	if verifiers == nil || log == nil || em == nil {
		return nil, fmt.Errorf("oracle dependencies are required")
	}
	if skewTolerance <= 0 {
		return nil, fmt.Errorf("skew tolerance must be positive")
	}
	svc := &Service{
		verifiers:        verifiers,
		log:              log,
		emitter:          em,
		skewTolerance:    skewTolerance,
		minVerifications: minVerifications,
		logger:           slog.Default(),
		clock:            time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// MinVerifications is the threshold callers compare observation counts
// against.
func (s *Service) MinVerifications() int { return s.minVerifications }

// SubmitObservation validates and appends one signed score observation.
// Observations are never mutated; they are retained for consensus and
// audit.
func (s *Service) SubmitObservation(ctx context.Context, verifier, subject id.Address, score uint8, timestamp time.Time, signature string) error {
	ok, err := s.verifiers.IsVerifier(ctx, verifier)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "verifier lookup failed")
	}
	if !ok {
		return dErrors.Newf(dErrors.CodeUnauthorized, "%s is not a registered verifier", verifier)
	}
	if !id.ValidScore(score) {
		return dErrors.Newf(dErrors.CodeValidation, "score %d exceeds maximum %d", score, id.MaxScore)
	}

	// Reject observations too far from current time in either direction;
	// this is what prevents replaying an old signed observation.
	skew := s.clock().Sub(timestamp)
	if skew < 0 {
		skew = -skew
	}
	if skew > s.skewTolerance {
		return dErrors.Newf(dErrors.CodeValidation, "observation timestamp outside ±%s tolerance", s.skewTolerance)
	}

	key, err := s.verifiers.VerifierKey(ctx, verifier)
	if err != nil {
		return err
	}
	if err := verifySignature(key, signature, subject, score, timestamp); err != nil {
		return err
	}

	obs := models.ScoreObservation{
		Subject:   subject,
		Score:     score,
		Timestamp: timestamp,
		Signature: signature,
		Verifier:  verifier,
	}
	if err := s.emitter.Emit(ctx, subject, models.ScoreUpdateSigned{
		Verifier:   verifier,
		Score:      score,
		ObservedAt: timestamp,
	}); err != nil {
		return err
	}
	if err := s.log.Append(ctx, obs); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "observation append failed")
	}

	s.logger.InfoContext(ctx, "observation accepted",
		"subject", subject, "verifier", verifier, "score", score)
	return nil
}

// GetConsensusScore returns the mean of all stored observations for the
// subject. With no observations the documented neutral default (50, 0) is
// returned.
func (s *Service) GetConsensusScore(ctx context.Context, subject id.Address) (Consensus, error) {
	observations, err := s.log.ListBySubject(ctx, subject)
	if err != nil {
		return Consensus{}, dErrors.Wrap(err, dErrors.CodeInternal, "observation list failed")
	}
	if len(observations) == 0 {
		return Consensus{Score: 50, Observations: 0}, nil
	}

	var sum int
	for _, obs := range observations {
		sum += int(obs.Score)
	}
	return Consensus{
		Score:        uint8(sum / len(observations)),
		Observations: len(observations),
	}, nil
}
