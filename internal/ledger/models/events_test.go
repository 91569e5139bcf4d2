package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	id "trustledger/pkg/domain"
)

type EnvelopeSuite struct {
	suite.Suite
}

func TestEnvelopeSuite(t *testing.T) {
	suite.Run(t, new(EnvelopeSuite))
}

func (s *EnvelopeSuite) TestRoundTrip() {
	env := Envelope{
		Subject:   id.Address("subject-1"),
		Sequence:  7,
		TxID:      "tx-1",
		Timestamp: time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC),
		Payload: ScoreUpdated{
			OldScore:        50,
			NewScore:        70,
			EvidencePointer: "evidence://a",
			Version:         2,
		},
	}

	raw, err := env.Encode()
	s.Require().NoError(err)

	decoded, err := DecodeEnvelope(raw)
	s.Require().NoError(err)
	s.Equal(KindScoreUpdated, decoded.Type)
	s.Equal(env.Subject, decoded.Subject)
	s.Equal(env.Sequence, decoded.Sequence)
	s.Equal(env.TxID, decoded.TxID)
	s.True(env.Timestamp.Equal(decoded.Timestamp))

	// Decoded payloads are value-form so dispatch switches match.
	payload, ok := decoded.Payload.(ScoreUpdated)
	s.Require().True(ok)
	s.Equal(env.Payload, payload)
}

func (s *EnvelopeSuite) TestEncodeFillsType() {
	env := Envelope{Subject: id.Address("subject-1"), Sequence: 1, Payload: VerifierRegistered{}}
	raw, err := env.Encode()
	s.Require().NoError(err)

	decoded, err := DecodeEnvelope(raw)
	s.Require().NoError(err)
	s.Equal(KindVerifierRegistered, decoded.Type)
	_, ok := decoded.Payload.(VerifierRegistered)
	s.True(ok)
}

func (s *EnvelopeSuite) TestEncodeRejectsMismatchedType() {
	env := Envelope{
		Type:    KindBadgeMinted,
		Subject: id.Address("subject-1"),
		Payload: ScoreUpdated{NewScore: 70},
	}
	_, err := env.Encode()
	s.Error(err)
}

func (s *EnvelopeSuite) TestEncodeRejectsMissingPayload() {
	env := Envelope{Type: KindScoreUpdated, Subject: id.Address("subject-1"), Sequence: 1}
	_, err := env.Encode()
	s.Error(err)
}

func (s *EnvelopeSuite) TestDecodeRejectsUnknownKind() {
	_, err := DecodeEnvelope([]byte(`{"type":"profile_burned","subject":"subject-1","sequence":1}`))
	s.Require().Error(err)
	s.Contains(err.Error(), "unknown event kind")
}
