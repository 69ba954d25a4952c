// Package config loads the exchange's environment-driven configuration
// (SPEC_FULL.md §A "Configuration"). CLI flag parsing is out of scope
// per spec.md §1; every setting has an environment variable and a
// default suitable for local development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kairoex/matching-core/internal/kvstore"
	"github.com/kairoex/matching-core/internal/snapshot"
)

// Config holds every environment-tunable setting the exchange needs at
// startup.
type Config struct {
	// Environment is a free-form deployment label ("development",
	// "staging", "production"), used only for logging.
	Environment string

	// DatabaseDSN is the durable record store's connection string
	// (internal/store.Open).
	DatabaseDSN string

	// NATSURLs, when non-empty, selects the NATS JetStream event log
	// driver (internal/eventlog.NewNatsLog) over the in-process
	// gochannel default.
	NATSURLs []string

	// SnapshotInterval is the snapshot scheduler's tick period
	// (spec.md §4.4).
	SnapshotInterval time.Duration

	// IdempotencyTTL is the fast KV store's idempotency-key lifetime
	// (spec.md §4.3 step 2, "default 1 hour").
	IdempotencyTTL time.Duration

	// BookLevels is the book depth returned with submit_order's result
	// and captured by request_snapshot. get_book does not use it; its
	// caller always passes a depth.
	BookLevels int
}

// New loads Config from the environment, falling back to development
// defaults for anything unset.
func New() (*Config, error) {
	cfg := &Config{
		Environment:      getenv("EXCHANGE_ENV", "development"),
		DatabaseDSN:      getenv("EXCHANGE_DATABASE_DSN", "postgres://localhost:5432/matching_core?sslmode=disable"),
		NATSURLs:         splitList(os.Getenv("EXCHANGE_NATS_URLS")),
		SnapshotInterval: snapshot.DefaultInterval,
		IdempotencyTTL:   kvstore.DefaultTTL,
		BookLevels:       20,
	}

	if v := os.Getenv("EXCHANGE_SNAPSHOT_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("config: EXCHANGE_SNAPSHOT_INTERVAL: %w", err)
		}
		cfg.SnapshotInterval = d
	}

	if v := os.Getenv("EXCHANGE_IDEMPOTENCY_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("config: EXCHANGE_IDEMPOTENCY_TTL: %w", err)
		}
		cfg.IdempotencyTTL = d
	}

	if v := os.Getenv("EXCHANGE_BOOK_LEVELS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("config: EXCHANGE_BOOK_LEVELS: %w", err)
		}
		cfg.BookLevels = n
	}

	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
