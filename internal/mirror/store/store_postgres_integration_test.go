//go:build integration

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"trustledger/internal/mirror/models"
	id "trustledger/pkg/domain"
	"trustledger/pkg/platform/sentinel"
	"trustledger/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	pg    *containers.PostgresContainer
	store *PostgresStore
	ctx   context.Context
}

func TestPostgresStoreSuite(t *testing.T) {
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.ctx = context.Background()
	s.pg = containers.NewPostgresContainer(s.T())

	store, err := Open(s.ctx, s.pg.DSN)
	s.Require().NoError(err)
	s.store = store
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.pg.TruncateTables(s.ctx, "mirror_records"))
}

func (s *PostgresStoreSuite) record(subject id.Address, seq uint64) models.MirrorRecord {
	return models.MirrorRecord{
		Subject:         subject,
		Identifier:      "did:tiq:" + subject.String(),
		TrustScore:      70,
		EvidencePointer: "evidence://a",
		ProfileVersion:  seq,
		Accounts: []models.MirrorAccount{{
			Provider:          "github",
			ExternalUsername:  "octocat",
			ExternalAccountID: "ext-1",
		}},
		Badges: map[id.BadgeType]models.MirrorBadge{
			id.BadgeGold: {BadgeID: "badge-1", TrustScore: 70, EvidencePointer: "evidence://a"},
		},
		LastAppliedSequence: seq,
		UpdatedAt:           time.Now().UTC().Truncate(time.Millisecond),
	}
}

// =============================================================================
// Get / Upsert Tests
// =============================================================================

func (s *PostgresStoreSuite) TestGetMissingReturnsNotFound() {
	_, err := s.store.Get(s.ctx, id.Address("ghost-1"))
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestUpsertRoundTrip() {
	record := s.record("subject-1", 3)
	s.Require().NoError(s.store.Upsert(s.ctx, record))

	got, err := s.store.Get(s.ctx, record.Subject)
	s.Require().NoError(err)
	s.Equal(record.Subject, got.Subject)
	s.Equal(record.TrustScore, got.TrustScore)
	s.Equal(record.LastAppliedSequence, got.LastAppliedSequence)
	s.Require().Len(got.Accounts, 1)
	s.Equal("octocat", got.Accounts[0].ExternalUsername)
	s.Require().Contains(got.Badges, id.BadgeGold)
	s.Equal(uint8(70), got.Badges[id.BadgeGold].TrustScore)
}

func (s *PostgresStoreSuite) TestUpsertReplacesExistingRecord() {
	s.Require().NoError(s.store.Upsert(s.ctx, s.record("subject-1", 1)))

	updated := s.record("subject-1", 2)
	updated.TrustScore = 90
	updated.Accounts = nil
	s.Require().NoError(s.store.Upsert(s.ctx, updated))

	got, err := s.store.Get(s.ctx, updated.Subject)
	s.Require().NoError(err)
	s.Equal(uint8(90), got.TrustScore)
	s.Equal(uint64(2), got.LastAppliedSequence)
	s.Empty(got.Accounts)
}

func (s *PostgresStoreSuite) TestRecordsAreIsolatedBySubject() {
	s.Require().NoError(s.store.Upsert(s.ctx, s.record("subject-1", 1)))
	s.Require().NoError(s.store.Upsert(s.ctx, s.record("subject-2", 5)))

	got, err := s.store.Get(s.ctx, id.Address("subject-2"))
	s.Require().NoError(err)
	s.Equal(uint64(5), got.LastAppliedSequence)
}

// =============================================================================
// High-Water Mark Tests
// =============================================================================

func (s *PostgresStoreSuite) TestMaxAppliedBeforeEmptyMirror() {
	ts, err := s.store.MaxAppliedBefore(s.ctx)
	s.Require().NoError(err)
	s.False(ts.After(time.Unix(0, 0)))
}

func (s *PostgresStoreSuite) TestMaxAppliedBeforeReturnsNewestUpdate() {
	older := s.record("subject-1", 1)
	older.UpdatedAt = time.Now().UTC().Add(-time.Hour).Truncate(time.Millisecond)
	newer := s.record("subject-2", 1)
	newer.UpdatedAt = time.Now().UTC().Truncate(time.Millisecond)

	s.Require().NoError(s.store.Upsert(s.ctx, older))
	s.Require().NoError(s.store.Upsert(s.ctx, newer))

	ts, err := s.store.MaxAppliedBefore(s.ctx)
	s.Require().NoError(err)
	s.WithinDuration(newer.UpdatedAt, ts, time.Second)
}
