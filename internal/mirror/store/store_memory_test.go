package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"

	"trustledger/internal/mirror/models"
	id "trustledger/pkg/domain"
	"trustledger/pkg/platform/sentinel"
)

type MemoryStoreSuite struct {
	suite.Suite
	ctx   context.Context
	store *MemoryStore
}

func TestMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(MemoryStoreSuite))
}

func (s *MemoryStoreSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = NewMemoryStore()
}

func (s *MemoryStoreSuite) TestGetMissing() {
	_, err := s.store.Get(s.ctx, id.Address("ghost"))
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *MemoryStoreSuite) TestUpsertReplacesWholeRecord() {
	subject := id.Address("subject-1")
	s.Require().NoError(s.store.Upsert(s.ctx, models.MirrorRecord{
		Subject: subject, TrustScore: 50, LastAppliedSequence: 1,
	}))
	s.Require().NoError(s.store.Upsert(s.ctx, models.MirrorRecord{
		Subject: subject, TrustScore: 70, LastAppliedSequence: 2,
	}))

	record, err := s.store.Get(s.ctx, subject)
	s.Require().NoError(err)
	s.Equal(uint8(70), record.TrustScore)
	s.Equal(uint64(2), record.LastAppliedSequence)
}

func (s *MemoryStoreSuite) TestStoredStateIsIsolated() {
	subject := id.Address("subject-1")
	record := models.MirrorRecord{
		Subject:  subject,
		Accounts: []models.MirrorAccount{{Provider: "github", ExternalUsername: "octocat"}},
		Badges: map[id.BadgeType]models.MirrorBadge{
			id.BadgeGold: {BadgeID: "b1", TrustScore: 72},
		},
		LastAppliedSequence: 3,
	}
	s.Require().NoError(s.store.Upsert(s.ctx, record))

	// Mutating the caller's copies must not leak into the store.
	record.Accounts[0].ExternalUsername = "mutated"
	record.Badges[id.BadgeGold] = models.MirrorBadge{BadgeID: "evil"}

	got, err := s.store.Get(s.ctx, subject)
	s.Require().NoError(err)
	s.Equal("octocat", got.Accounts[0].ExternalUsername)
	s.Equal("b1", got.Badges[id.BadgeGold].BadgeID)

	// And mutating a fetched copy must not change the stored record.
	got.Accounts[0].ExternalUsername = "also-mutated"
	again, err := s.store.Get(s.ctx, subject)
	s.Require().NoError(err)
	s.Equal("octocat", again.Accounts[0].ExternalUsername)
}
