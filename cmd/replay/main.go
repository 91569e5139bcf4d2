// Command replay rebuilds the mirror from the ledger event feed. Run it
// after mirror data loss or to backfill a fresh deployment; application is
// idempotent, so replaying over an intact mirror is safe.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"trustledger/internal/mirror/feed"
	"trustledger/internal/mirror/processor"
	mirrorstore "trustledger/internal/mirror/store"
	"trustledger/internal/platform/config"
	"trustledger/internal/platform/logger"
	"trustledger/pkg/platform/tx"
)

func main() {
	var (
		fromFlag string
		full     bool
	)
	flag.StringVar(&fromFlag, "from", "", "replay events at or after this RFC3339 time (default: the mirror's newest applied event)")
	flag.BoolVar(&full, "full", false, "replay the entire history, ignoring the mirror's high-water mark")
	flag.Parse()

	cfg := config.FromEnv()
	log := logger.New()

	var from time.Time
	if fromFlag != "" {
		parsed, err := time.Parse(time.RFC3339, fromFlag)
		if err != nil {
			log.Error("invalid -from value, want RFC3339", "value", fromFlag, "error", err)
			os.Exit(1)
		}
		from = parsed
	}

	if len(cfg.Kafka.Brokers) == 0 {
		log.Error("replay needs a kafka feed; set TRUSTLEDGER_KAFKA_BROKERS")
		os.Exit(1)
	}
	if cfg.Postgres.DSN == "" {
		log.Error("replay needs a durable mirror; set TRUSTLEDGER_POSTGRES_DSN")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eventFeed, err := feed.NewKafkaFeed(ctx, cfg.Kafka, feed.WithKafkaLogger(log))
	if err != nil {
		log.Error("kafka feed init failed", "error", err)
		os.Exit(1)
	}
	defer eventFeed.Close()

	mirror, err := mirrorstore.Open(ctx, cfg.Postgres.DSN)
	if err != nil {
		log.Error("postgres mirror init failed", "error", err)
		os.Exit(1)
	}
	defer mirror.Close()

	// Without -from or -full, resume from the mirror's newest applied
	// event with a slack window; idempotent application makes the overlap
	// harmless.
	if fromFlag == "" && !full {
		highWater, err := mirror.MaxAppliedBefore(ctx)
		if err != nil {
			log.Error("mirror high-water lookup failed", "error", err)
			os.Exit(1)
		}
		// An empty mirror reports the epoch; replay everything then.
		if highWater.Unix() > 0 {
			from = highWater.Add(-time.Minute)
		}
	}

	parked, err := processor.NewPgxParkStore(ctx, cfg.Postgres.DSN)
	if err != nil {
		log.Error("parked-event store init failed", "error", err)
		os.Exit(1)
	}

	proc, err := processor.New(
		eventFeed,
		mirror,
		processor.WithLogger(log),
		processor.WithParkStore(parked),
	)
	if err != nil {
		log.Error("processor init failed", "error", err)
		os.Exit(1)
	}

	// The whole rebuild runs in one transaction: a failed replay leaves
	// the existing mirror intact instead of half-rewritten.
	start := time.Now()
	err = tx.Run(ctx, mirror.DB(), func(ctx context.Context) error {
		return proc.Replay(ctx, from)
	})
	if err != nil {
		log.Error("replay failed", "error", err)
		os.Exit(1)
	}

	stuck, err := proc.Parked(ctx)
	if err != nil {
		log.Warn("parked-event listing failed", "error", err)
	}
	for _, event := range stuck {
		log.Warn("event parked during replay",
			"subject", event.Subject, "sequence", event.Sequence, "reason", event.Reason)
	}
	log.Info("replay complete", "elapsed", time.Since(start), "parked", len(stuck))
}
