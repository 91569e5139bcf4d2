package httptransport

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"trustledger/internal/jobs"
	"trustledger/internal/ledger/badge"
	"trustledger/internal/ledger/emitter"
	"trustledger/internal/ledger/models"
	"trustledger/internal/ledger/oracle"
	"trustledger/internal/ledger/registry"
	"trustledger/internal/ledger/store"
	"trustledger/internal/mirror/notifier"
	id "trustledger/pkg/domain"
	"trustledger/pkg/testutil"
)

// =============================================================================
// Read API Test Suite
// =============================================================================
// The transport is wired against the real ledger services with in-memory
// stores, so these tests cover routing, parameter validation, and the
// domain-error-to-status mapping end to end.

type discardSink struct{}

func (discardSink) Publish(context.Context, models.Envelope) error { return nil }

type staticJobs struct {
	failures []jobs.FailedWrite
}

func (s staticJobs) FailedWrites() []jobs.FailedWrite { return s.failures }

type HandlersSuite struct {
	suite.Suite
	router   http.Handler
	registry *registry.Service
	oracle   *oracle.Service
	badges   *badge.Service
	hub      *notifier.Hub
	admin    id.Address
	verifier id.Address
	subject  id.Address
	key      ed25519.PrivateKey
}

func TestHandlersSuite(t *testing.T) {
	suite.Run(t, new(HandlersSuite))
}

func (s *HandlersSuite) SetupTest() {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	em := emitter.New(discardSink{}, emitter.WithLogger(logger))

	s.admin = id.Address("admin")
	s.verifier = id.Address("verifier-1")
	s.subject = id.Address("subject-1")

	registrySvc, err := registry.New(
		s.admin,
		store.NewMemoryProfileStore(),
		store.NewMemoryAccountArena(),
		store.NewMemoryVerifierSet(),
		em,
		registry.WithLogger(logger),
	)
	s.Require().NoError(err)
	s.registry = registrySvc

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	s.Require().NoError(err)
	s.key = priv
	s.Require().NoError(registrySvc.RegisterVerifier(context.Background(), s.admin, s.verifier, pub))

	oracleSvc, err := oracle.New(registrySvc, store.NewMemoryObservationLog(), em, 5*time.Minute, 2, oracle.WithLogger(logger))
	s.Require().NoError(err)
	s.oracle = oracleSvc

	badgeSvc, err := badge.New(store.NewMemoryBadgeStore(), em, 365*24*time.Hour, badge.WithLogger(logger))
	s.Require().NoError(err)
	s.badges = badgeSvc

	s.hub = notifier.NewHub()
	handler := NewHandler(registrySvc, oracleSvc, badgeSvc, s.hub, staticJobs{
		failures: []jobs.FailedWrite{{Subject: s.subject, Score: 80, Attempts: 5, LastError: "ledger unreachable"}},
	}, logger)
	s.router = NewRouter(handler)
}

func (s *HandlersSuite) createProfile() {
	_, err := s.registry.CreateProfile(context.Background(), s.admin, s.subject, "did:tiq:alpha", "evidence://a")
	s.Require().NoError(err)
}

// =============================================================================
// Profile Endpoint Tests
// =============================================================================

func (s *HandlersSuite) TestGetProfile() {
	s.createProfile()
	_, err := s.registry.AddVerifiedAccount(context.Background(), s.verifier, s.subject, "github", "octocat", []byte("attestation"), "ext-1")
	s.Require().NoError(err)

	s.Run("returns the profile with accounts", func() {
		rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/v1/profiles/subject-1"))
		testutil.AssertStatusOK(s.T(), rr)
		resp := testutil.UnmarshalResponse[profileResponse](s.T(), rr)
		s.Equal(s.subject, resp.Owner)
		s.Equal(uint8(50), resp.TrustScore)
		s.Equal(uint64(2), resp.Version)
		s.Require().Len(resp.Accounts, 1)
		s.Equal("octocat", resp.Accounts[0].Username)
	})

	s.Run("unknown subject is 404", func() {
		rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/v1/profiles/ghost-1"))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusNotFound, "not_found")
	})

	s.Run("malformed subject is 400", func() {
		rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/v1/profiles/a"))
		testutil.AssertStatus(s.T(), rr, http.StatusBadRequest)
	})
}

// =============================================================================
// Consensus Endpoint Tests
// =============================================================================

func (s *HandlersSuite) TestGetConsensus() {
	s.Run("no observations returns the neutral default", func() {
		rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/v1/consensus/subject-1"))
		testutil.AssertStatusOK(s.T(), rr)
		resp := testutil.UnmarshalResponse[consensusResponse](s.T(), rr)
		s.Equal(uint8(50), resp.Score)
		s.Equal(0, resp.Observations)
		s.False(resp.Established)
	})

	s.Run("established consensus reports the mean", func() {
		now := time.Now()
		for _, obs := range []struct {
			verifier id.Address
			score    uint8
		}{{s.verifier, 70}, {s.verifier, 90}} {
			signature, err := oracle.SignObservation(s.key, s.subject, obs.score, now)
			s.Require().NoError(err)
			s.Require().NoError(s.oracle.SubmitObservation(context.Background(), obs.verifier, s.subject, obs.score, now, signature))
		}

		rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/v1/consensus/subject-1"))
		testutil.AssertStatusOK(s.T(), rr)
		resp := testutil.UnmarshalResponse[consensusResponse](s.T(), rr)
		s.Equal(uint8(80), resp.Score)
		s.Equal(2, resp.Observations)
		s.True(resp.Established)
	})
}

// =============================================================================
// Badge Endpoint Tests
// =============================================================================

func (s *HandlersSuite) TestGetBadge() {
	_, err := s.badges.Mint(context.Background(), s.subject, 80, "evidence://a")
	s.Require().NoError(err)

	s.Run("returns the badge", func() {
		rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/v1/badges/subject-1/Platinum"))
		testutil.AssertStatusOK(s.T(), rr)
		resp := testutil.UnmarshalResponse[badgeResponse](s.T(), rr)
		s.Equal(id.BadgePlatinum, resp.BadgeType)
		s.Equal(uint8(80), resp.TrustScore)
		s.False(resp.Expired)
	})

	s.Run("unheld tier is 404", func() {
		rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/v1/badges/subject-1/Diamond"))
		testutil.AssertStatus(s.T(), rr, http.StatusNotFound)
	})

	s.Run("unknown tier label is 400", func() {
		rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/v1/badges/subject-1/Titanium"))
		testutil.AssertStatus(s.T(), rr, http.StatusBadRequest)
	})
}

func (s *HandlersSuite) TestListBadges() {
	_, err := s.badges.Mint(context.Background(), s.subject, 80, "evidence://a")
	s.Require().NoError(err)
	_, err = s.badges.Mint(context.Background(), s.subject, 95, "evidence://b")
	s.Require().NoError(err)

	s.Run("returns every held badge", func() {
		rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/v1/badges/subject-1"))
		testutil.AssertStatusOK(s.T(), rr)
		resp := testutil.UnmarshalResponse[[]badgeResponse](s.T(), rr)
		s.Require().Len(*resp, 2)
		tiers := map[id.BadgeType]bool{}
		for _, badge := range *resp {
			tiers[badge.BadgeType] = true
		}
		s.True(tiers[id.BadgePlatinum])
		s.True(tiers[id.BadgeDiamond])
	})

	s.Run("subject without badges gets an empty list", func() {
		rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/v1/badges/other-1"))
		testutil.AssertStatusOK(s.T(), rr)
		resp := testutil.UnmarshalResponse[[]badgeResponse](s.T(), rr)
		s.Empty(*resp)
	})
}

// =============================================================================
// Operational Endpoint Tests
// =============================================================================

func (s *HandlersSuite) TestFailedWrites() {
	rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/v1/jobs/failed-writes"))
	testutil.AssertStatusOK(s.T(), rr)
	resp := testutil.UnmarshalResponse[[]jobs.FailedWrite](s.T(), rr)
	s.Require().Len(*resp, 1)
	s.Equal(s.subject, (*resp)[0].Subject)
}

func (s *HandlersSuite) TestHealthz() {
	rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/healthz"))
	testutil.AssertStatusOK(s.T(), rr)
}
