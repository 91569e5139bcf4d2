package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config aggregates everything cmd/server needs so main stays lean.
type Config struct {
	Addr     string
	Postgres PostgresConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Ledger   LedgerConfig
	Jobs     JobsConfig
}

// PostgresConfig selects the mirror store backend. An empty DSN means the
// in-memory mirror is used.
type PostgresConfig struct {
	DSN string
}

// RedisConfig configures the optional cross-process notifier.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig configures the ledger event feed. Empty brokers means the
// in-process feed is used (single-binary deployments and tests).
type KafkaConfig struct {
	Brokers []string
	Topic   string
	Group   string
}

// LedgerConfig carries the tunables of the ledger programs.
type LedgerConfig struct {
	AdminAddress     string
	MinVerifications int
	SkewTolerance    time.Duration
	BadgeValidity    time.Duration
}

// JobsConfig carries orchestrator tunables.
type JobsConfig struct {
	ScoreModelURL     string
	ScoreModelTimeout time.Duration
	DeltaThreshold    int
	MaxWriteAttempts  int
	BackoffBase       time.Duration
	// WriterAddress is the verifier identity the orchestrator writes ledger
	// updates under. Registered at startup with a service-local key.
	WriterAddress string
}

// FromEnv builds the full configuration from environment variables with
// development defaults.
func FromEnv() Config {
	return Config{
		Addr: envString("TRUSTLEDGER_ADDR", ":8080"),
		Postgres: PostgresConfig{
			DSN: os.Getenv("TRUSTLEDGER_POSTGRES_DSN"),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("TRUSTLEDGER_REDIS_URL"),
			PoolSize:     envInt("TRUSTLEDGER_REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("TRUSTLEDGER_REDIS_MIN_IDLE", 2),
			DialTimeout:  envDuration("TRUSTLEDGER_REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDuration("TRUSTLEDGER_REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDuration("TRUSTLEDGER_REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers: envList("TRUSTLEDGER_KAFKA_BROKERS"),
			Topic:   envString("TRUSTLEDGER_KAFKA_TOPIC", "trustledger.events"),
			Group:   envString("TRUSTLEDGER_KAFKA_GROUP", "trustledger-mirror"),
		},
		Ledger: LedgerConfig{
			AdminAddress:     envString("TRUSTLEDGER_ADMIN_ADDRESS", "admin"),
			MinVerifications: envInt("TRUSTLEDGER_MIN_VERIFICATIONS", 3),
			SkewTolerance:    envDuration("TRUSTLEDGER_SKEW_TOLERANCE", 5*time.Minute),
			BadgeValidity:    envDuration("TRUSTLEDGER_BADGE_VALIDITY", 365*24*time.Hour),
		},
		Jobs: JobsConfig{
			ScoreModelURL:     envString("TRUSTLEDGER_SCORE_MODEL_URL", "http://localhost:8000"),
			ScoreModelTimeout: envDuration("TRUSTLEDGER_SCORE_MODEL_TIMEOUT", 30*time.Second),
			DeltaThreshold:    envInt("TRUSTLEDGER_SCORE_DELTA_THRESHOLD", 5),
			MaxWriteAttempts:  envInt("TRUSTLEDGER_MAX_WRITE_ATTEMPTS", 5),
			BackoffBase:       envDuration("TRUSTLEDGER_BACKOFF_BASE", 500*time.Millisecond),
			WriterAddress:     envString("TRUSTLEDGER_WRITER_ADDRESS", "trust-engine"),
		},
	}
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := parts[:0]
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
