package ledger

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trustledger/internal/ledger/badge"
	"trustledger/internal/ledger/emitter"
	"trustledger/internal/ledger/oracle"
	"trustledger/internal/ledger/registry"
	ledgerstore "trustledger/internal/ledger/store"
	"trustledger/internal/mirror/feed"
	"trustledger/internal/mirror/processor"
	mirrorstore "trustledger/internal/mirror/store"
	id "trustledger/pkg/domain"
)

// TestTrustLifecycle walks a subject through the whole pipeline: profile
// creation, verifier observations, consensus, score update, badge mint,
// and finally the mirror projection built from the emitted event stream.
func TestTrustLifecycle(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	eventFeed := feed.NewMemoryFeed()
	em := emitter.New(eventFeed, emitter.WithLogger(logger))

	admin := id.Address("admin")
	subject := id.Address("subject-1")

	registrySvc, err := registry.New(
		admin,
		ledgerstore.NewMemoryProfileStore(),
		ledgerstore.NewMemoryAccountArena(),
		ledgerstore.NewMemoryVerifierSet(),
		em,
		registry.WithLogger(logger),
	)
	require.NoError(t, err)

	oracleSvc, err := oracle.New(registrySvc, ledgerstore.NewMemoryObservationLog(), em,
		5*time.Minute, 2, oracle.WithLogger(logger))
	require.NoError(t, err)

	badgeSvc, err := badge.New(ledgerstore.NewMemoryBadgeStore(), em,
		365*24*time.Hour, badge.WithLogger(logger))
	require.NoError(t, err)

	// Two independent verifiers with their own keys.
	type verifier struct {
		addr id.Address
		key  ed25519.PrivateKey
	}
	verifiers := make([]verifier, 2)
	for i, addr := range []id.Address{"verifier-1", "verifier-2"} {
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		require.NoError(t, err)
		require.NoError(t, registrySvc.RegisterVerifier(ctx, admin, addr, pub))
		verifiers[i] = verifier{addr: addr, key: priv}
	}

	// Profile starts at the neutral score.
	profile, err := registrySvc.CreateProfile(ctx, admin, subject, "did:tiq:alpha", "evidence://genesis")
	require.NoError(t, err)
	require.Equal(t, uint8(50), profile.TrustScore)
	require.Equal(t, uint64(1), profile.Version)

	_, err = registrySvc.AddVerifiedAccount(ctx, verifiers[0].addr, subject, "github", "octocat",
		[]byte("proof"), "ext-1")
	require.NoError(t, err)

	// Both verifiers observe the subject.
	now := time.Now()
	for i, score := range []uint8{70, 90} {
		signature, err := oracle.SignObservation(verifiers[i].key, subject, score, now)
		require.NoError(t, err)
		require.NoError(t, oracleSvc.SubmitObservation(ctx, verifiers[i].addr, subject, score, now, signature))
	}

	consensus, err := oracleSvc.GetConsensusScore(ctx, subject)
	require.NoError(t, err)
	assert.Equal(t, uint8(80), consensus.Score)
	assert.Equal(t, 2, consensus.Observations)
	assert.True(t, consensus.Established(oracleSvc.MinVerifications()))

	// The consensus score becomes the recorded score and earns a badge.
	profile, err = registrySvc.UpdateScore(ctx, verifiers[0].addr, subject, consensus.Score, "evidence://consensus")
	require.NoError(t, err)
	assert.Equal(t, uint8(80), profile.TrustScore)

	minted, err := badgeSvc.Mint(ctx, subject, consensus.Score, "evidence://consensus")
	require.NoError(t, err)
	assert.Equal(t, id.BadgePlatinum, minted.BadgeType)

	// Replay the full event stream into a fresh mirror and check the
	// projection agrees with the ledger.
	mirror := mirrorstore.NewMemoryStore()
	proc, err := processor.New(eventFeed, mirror, processor.WithLogger(logger))
	require.NoError(t, err)
	require.NoError(t, proc.Replay(ctx, time.Time{}))

	record, err := mirror.Get(ctx, subject)
	require.NoError(t, err)
	assert.Equal(t, uint8(80), record.TrustScore)
	assert.Equal(t, profile.Version, record.ProfileVersion)
	require.Len(t, record.Accounts, 1)
	assert.Equal(t, "octocat", record.Accounts[0].ExternalUsername)
	require.Contains(t, record.Badges, id.BadgePlatinum)
	assert.Equal(t, uint8(80), record.Badges[id.BadgePlatinum].TrustScore)
	assert.Equal(t, 2, record.ObservationCount)
	assert.Equal(t, uint8(90), record.LastObservedScore)
}
