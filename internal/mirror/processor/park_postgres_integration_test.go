//go:build integration

package processor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"trustledger/internal/ledger/models"
	id "trustledger/pkg/domain"
	"trustledger/pkg/testutil/containers"
)

type PgxParkStoreSuite struct {
	suite.Suite
	pg    *containers.PostgresContainer
	store *PgxParkStore
	ctx   context.Context
}

func TestPgxParkStoreSuite(t *testing.T) {
	suite.Run(t, new(PgxParkStoreSuite))
}

func (s *PgxParkStoreSuite) SetupSuite() {
	s.ctx = context.Background()
	s.pg = containers.NewPostgresContainer(s.T())

	store, err := NewPgxParkStore(s.ctx, s.pg.DSN)
	s.Require().NoError(err)
	s.store = store
	s.T().Cleanup(store.Close)
}

func (s *PgxParkStoreSuite) SetupTest() {
	s.Require().NoError(s.pg.TruncateTables(s.ctx, "parked_events"))
}

func (s *PgxParkStoreSuite) parked(subject id.Address, seq uint64) ParkedEvent {
	return ParkedEvent{
		Subject:  subject,
		Sequence: seq,
		Kind:     models.KindScoreUpdated,
		Raw:      []byte(`{"type":"ScoreUpdated"}`),
		Reason:   "apply panicked: nil payload",
		ParkedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
}

func (s *PgxParkStoreSuite) TestParkAndList() {
	first := s.parked("subject-1", 2)
	second := s.parked("subject-2", 7)
	s.Require().NoError(s.store.Park(s.ctx, first))
	s.Require().NoError(s.store.Park(s.ctx, second))

	events, err := s.store.List(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(events, 2)
	s.Equal(first.Subject, events[0].Subject)
	s.Equal(first.Sequence, events[0].Sequence)
	s.Equal(first.Kind, events[0].Kind)
	s.Equal(first.Raw, events[0].Raw)
	s.Equal(first.Reason, events[0].Reason)
}

func (s *PgxParkStoreSuite) TestParkSameSequenceTwiceKeepsFirstEntry() {
	original := s.parked("subject-1", 2)
	s.Require().NoError(s.store.Park(s.ctx, original))

	redelivered := s.parked("subject-1", 2)
	redelivered.Reason = "second delivery"
	s.Require().NoError(s.store.Park(s.ctx, redelivered))

	events, err := s.store.List(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(events, 1)
	s.Equal(original.Reason, events[0].Reason)
}

func (s *PgxParkStoreSuite) TestListEmpty() {
	events, err := s.store.List(s.ctx)
	s.Require().NoError(err)
	s.Empty(events)
}
