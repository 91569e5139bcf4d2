package oracle

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"trustledger/internal/ledger/emitter"
	"trustledger/internal/ledger/models"
	"trustledger/internal/ledger/store"
	id "trustledger/pkg/domain"
	dErrors "trustledger/pkg/domain-errors"
)

// =============================================================================
// Oracle Service Test Suite
// =============================================================================
// The oracle is the signature boundary of the ledger: observations must be
// signed by the submitting verifier over exactly the submitted fields, carry
// a near-current timestamp, and accumulate into a plain-mean consensus.

type recordingSink struct {
	envelopes []models.Envelope
}

func (r *recordingSink) Publish(_ context.Context, env models.Envelope) error {
	r.envelopes = append(r.envelopes, env)
	return nil
}

// staticDirectory is a fixed verifier capability set.
type staticDirectory map[id.Address]ed25519.PublicKey

func (d staticDirectory) IsVerifier(_ context.Context, verifier id.Address) (bool, error) {
	_, ok := d[verifier]
	return ok, nil
}

func (d staticDirectory) VerifierKey(_ context.Context, verifier id.Address) (ed25519.PublicKey, error) {
	key, ok := d[verifier]
	if !ok {
		return nil, dErrors.Newf(dErrors.CodeUnauthorized, "%s is not a registered verifier", verifier)
	}
	return key, nil
}

type OracleServiceSuite struct {
	suite.Suite
	sink    *recordingSink
	service *Service
	subject id.Address
	keys    map[id.Address]ed25519.PrivateKey
	now     time.Time
}

func TestOracleServiceSuite(t *testing.T) {
	suite.Run(t, new(OracleServiceSuite))
}

func (s *OracleServiceSuite) SetupTest() {
	s.sink = &recordingSink{}
	s.subject = id.Address("subject-1")
	s.now = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

	directory := staticDirectory{}
	s.keys = make(map[id.Address]ed25519.PrivateKey)
	for _, verifier := range []id.Address{"verifier-1", "verifier-2", "verifier-3"} {
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		s.Require().NoError(err)
		directory[verifier] = pub
		s.keys[verifier] = priv
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc, err := New(
		directory,
		store.NewMemoryObservationLog(),
		emitter.New(s.sink, emitter.WithLogger(logger)),
		5*time.Minute,
		3,
		WithLogger(logger),
		WithClock(func() time.Time { return s.now }),
	)
	s.Require().NoError(err)
	s.service = svc
}

func (s *OracleServiceSuite) submit(verifier id.Address, score uint8, observedAt time.Time) error {
	signature, err := SignObservation(s.keys[verifier], s.subject, score, observedAt)
	s.Require().NoError(err)
	return s.service.SubmitObservation(context.Background(), verifier, s.subject, score, observedAt, signature)
}

// =============================================================================
// SubmitObservation Tests
// =============================================================================

func (s *OracleServiceSuite) TestSubmitObservation() {
	s.Run("valid observation is accepted and emitted", func() {
		s.Require().NoError(s.submit("verifier-1", 70, s.now))

		s.Require().Len(s.sink.envelopes, 1)
		env := s.sink.envelopes[0]
		s.Equal(models.KindScoreUpdateSigned, env.Type)
		payload, ok := env.Payload.(models.ScoreUpdateSigned)
		s.Require().True(ok)
		s.Equal(id.Address("verifier-1"), payload.Verifier)
		s.Equal(uint8(70), payload.Score)
	})

	s.Run("unregistered verifier is rejected", func() {
		_, priv, err := ed25519.GenerateKey(rand.Reader)
		s.Require().NoError(err)
		signature, err := SignObservation(priv, s.subject, 70, s.now)
		s.Require().NoError(err)
		err = s.service.SubmitObservation(context.Background(), id.Address("stranger"), s.subject, 70, s.now, signature)
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	s.Run("score above maximum is rejected", func() {
		err := s.submit("verifier-1", 101, s.now)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("stale timestamp is rejected", func() {
		err := s.submit("verifier-1", 70, s.now.Add(-6*time.Minute))
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("future timestamp outside tolerance is rejected", func() {
		err := s.submit("verifier-1", 70, s.now.Add(6*time.Minute))
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("signature from another verifier's key is rejected", func() {
		signature, err := SignObservation(s.keys["verifier-2"], s.subject, 70, s.now)
		s.Require().NoError(err)
		err = s.service.SubmitObservation(context.Background(), id.Address("verifier-1"), s.subject, 70, s.now, signature)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("signature over different fields is rejected", func() {
		signature, err := SignObservation(s.keys["verifier-1"], s.subject, 30, s.now)
		s.Require().NoError(err)
		err = s.service.SubmitObservation(context.Background(), id.Address("verifier-1"), s.subject, 70, s.now, signature)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("garbage signature is rejected", func() {
		err := s.service.SubmitObservation(context.Background(), id.Address("verifier-1"), s.subject, 70, s.now, "not-a-jws")
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

// =============================================================================
// GetConsensusScore Tests
// =============================================================================

func (s *OracleServiceSuite) TestGetConsensusScore() {
	ctx := context.Background()

	s.Run("no observations returns the neutral default", func() {
		consensus, err := s.service.GetConsensusScore(ctx, s.subject)
		s.Require().NoError(err)
		s.Equal(Consensus{Score: 50, Observations: 0}, consensus)
		s.False(consensus.Established(s.service.MinVerifications()))
	})

	s.Run("mean of 40 60 80 is 60", func() {
		s.Require().NoError(s.submit("verifier-1", 40, s.now))
		s.Require().NoError(s.submit("verifier-2", 60, s.now))
		s.Require().NoError(s.submit("verifier-3", 80, s.now))

		consensus, err := s.service.GetConsensusScore(ctx, s.subject)
		s.Require().NoError(err)
		s.Equal(uint8(60), consensus.Score)
		s.Equal(3, consensus.Observations)
		s.True(consensus.Established(s.service.MinVerifications()))
	})

	s.Run("rejected observations do not count", func() {
		_ = s.submit("verifier-1", 101, s.now)
		consensus, err := s.service.GetConsensusScore(ctx, s.subject)
		s.Require().NoError(err)
		s.Equal(3, consensus.Observations)
	})
}
