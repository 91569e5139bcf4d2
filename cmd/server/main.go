// Command server runs the full trust ledger: the ledger programs with their
// event emitter, the mirror pipeline, the background job orchestrator, and
// the read API. Backends (postgres mirror, kafka feed, redis notifier) are
// selected by configuration; everything degrades to in-process equivalents
// for single-binary deployments.
package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"trustledger/internal/jobs"
	"trustledger/internal/ledger/badge"
	"trustledger/internal/ledger/emitter"
	ledgermodels "trustledger/internal/ledger/models"
	"trustledger/internal/ledger/oracle"
	"trustledger/internal/ledger/registry"
	ledgerstore "trustledger/internal/ledger/store"
	"trustledger/internal/mirror/feed"
	"trustledger/internal/mirror/notifier"
	"trustledger/internal/mirror/processor"
	mirrorstore "trustledger/internal/mirror/store"
	"trustledger/internal/platform/config"
	"trustledger/internal/platform/httpserver"
	"trustledger/internal/platform/logger"
	platformredis "trustledger/internal/platform/redis"
	"trustledger/internal/scoremodel"
	httptransport "trustledger/internal/transport/http"
	id "trustledger/pkg/domain"
)

func main() {
	cfg := config.FromEnv()
	log := logger.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Event feed: kafka when brokers are configured, in-process otherwise.
	var eventFeed interface {
		feed.Publisher
		feed.Source
	}
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaFeed, err := feed.NewKafkaFeed(ctx, cfg.Kafka, feed.WithKafkaLogger(log))
		if err != nil {
			log.Error("kafka feed init failed", "error", err)
			os.Exit(1)
		}
		defer kafkaFeed.Close()
		eventFeed = kafkaFeed
	} else {
		eventFeed = feed.NewMemoryFeed()
	}

	em := emitter.New(eventFeed, emitter.WithLogger(log))

	// Ledger programs. Ledger-resident state is in-memory; durability comes
	// from the event feed plus the mirror.
	admin, err := id.ParseAddress(cfg.Ledger.AdminAddress)
	if err != nil {
		log.Error("invalid admin address", "error", err)
		os.Exit(1)
	}
	registrySvc, err := registry.New(
		admin,
		ledgerstore.NewMemoryProfileStore(),
		ledgerstore.NewMemoryAccountArena(),
		ledgerstore.NewMemoryVerifierSet(),
		em,
		registry.WithLogger(log),
		registry.WithMetrics(registry.NewMetrics()),
	)
	if err != nil {
		log.Error("registry init failed", "error", err)
		os.Exit(1)
	}
	oracleSvc, err := oracle.New(
		registrySvc,
		ledgerstore.NewMemoryObservationLog(),
		em,
		cfg.Ledger.SkewTolerance,
		cfg.Ledger.MinVerifications,
		oracle.WithLogger(log),
	)
	if err != nil {
		log.Error("oracle init failed", "error", err)
		os.Exit(1)
	}
	badgeSvc, err := badge.New(
		ledgerstore.NewMemoryBadgeStore(),
		em,
		cfg.Ledger.BadgeValidity,
		badge.WithLogger(log),
	)
	if err != nil {
		log.Error("badge issuer init failed", "error", err)
		os.Exit(1)
	}

	// Mirror store.
	var mirror mirrorstore.Store
	if cfg.Postgres.DSN != "" {
		pg, err := mirrorstore.Open(ctx, cfg.Postgres.DSN)
		if err != nil {
			log.Error("postgres mirror init failed", "error", err)
			os.Exit(1)
		}
		defer pg.Close()
		mirror = pg
	} else {
		mirror = mirrorstore.NewMemoryStore()
	}

	// Notifiers: always the in-process hub; redis fan-out when configured.
	hub := notifier.NewHub()
	notifiers := notifier.Fanout{hub}
	if redisClient, err := platformredis.New(cfg.Redis); err != nil {
		log.Error("redis init failed", "error", err)
		os.Exit(1)
	} else if redisClient != nil {
		defer redisClient.Close()
		notifiers = append(notifiers, notifier.NewRedisNotifier(redisClient, log))
	}

	// Job orchestrator, writing to the ledger under its own verifier
	// identity. The key is service-local; the admin registers it at boot.
	writerAddr, err := id.ParseAddress(cfg.Jobs.WriterAddress)
	if err != nil {
		log.Error("invalid writer address", "error", err)
		os.Exit(1)
	}
	writerKey, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		log.Error("writer key generation failed", "error", err)
		os.Exit(1)
	}
	if err := registrySvc.RegisterVerifier(ctx, admin, writerAddr, writerKey); err != nil {
		log.Error("writer verifier registration failed", "error", err)
		os.Exit(1)
	}

	model := scoremodel.NewHTTPClient(cfg.Jobs.ScoreModelURL, cfg.Jobs.ScoreModelTimeout, scoremodel.WithLogger(log))
	orchestrator, err := jobs.New(
		model,
		mirror,
		ledgerWriter{registry: registrySvc, badges: badgeSvc, caller: writerAddr},
		jobs.WithLogger(log),
		jobs.WithMetrics(jobs.NewMetrics()),
		jobs.WithDeltaThreshold(uint8(cfg.Jobs.DeltaThreshold)),
		jobs.WithMaxWriteAttempts(cfg.Jobs.MaxWriteAttempts),
		jobs.WithBackoffBase(cfg.Jobs.BackoffBase),
		jobs.WithModelTimeout(cfg.Jobs.ScoreModelTimeout),
	)
	if err != nil {
		log.Error("orchestrator init failed", "error", err)
		os.Exit(1)
	}
	defer orchestrator.Close()
	notifiers = append(notifiers, recalcTrigger{orchestrator: orchestrator})

	proc, err := processor.New(
		eventFeed,
		mirror,
		processor.WithLogger(log),
		processor.WithMetrics(processor.NewMetrics()),
		processor.WithNotifier(notifiers),
		processor.WithParkStore(newParkStore(ctx, cfg, log)),
	)
	if err != nil {
		log.Error("processor init failed", "error", err)
		os.Exit(1)
	}

	handler := httptransport.NewHandler(registrySvc, oracleSvc, badgeSvc, hub, orchestrator, log)
	srv := httpserver.New(cfg.Addr, httptransport.NewRouter(handler))

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return proc.Run(groupCtx)
	})
	group.Go(func() error {
		log.Info("trustledger listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
	log.Info("shutdown complete")
}

func newParkStore(ctx context.Context, cfg config.Config, log *slog.Logger) processor.ParkStore {
	if cfg.Postgres.DSN == "" {
		return processor.NewMemoryParkStore()
	}
	parked, err := processor.NewPgxParkStore(ctx, cfg.Postgres.DSN)
	if err != nil {
		log.Error("parked-event store init failed, using in-memory", "error", err)
		return processor.NewMemoryParkStore()
	}
	return parked
}

// recalcTrigger closes the loop from mirror changes back to background
// work: a newly verified account is fresh evidence, so it schedules a
// score recalculation for the subject.
type recalcTrigger struct {
	orchestrator *jobs.Orchestrator
}

func (t recalcTrigger) Notify(_ context.Context, env ledgermodels.Envelope) {
	if env.Type == ledgermodels.KindAccountVerified {
		t.orchestrator.EnqueueRecalculation(env.Subject)
	}
}

var _ notifier.Notifier = recalcTrigger{}
