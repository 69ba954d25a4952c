package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/kairoex/matching-core/internal/config"
	"github.com/kairoex/matching-core/internal/eventlog"
	"github.com/kairoex/matching-core/internal/exchange"
	"github.com/kairoex/matching-core/internal/fanout"
	"github.com/kairoex/matching-core/internal/kvstore"
	"github.com/kairoex/matching-core/internal/metrics"
	"github.com/kairoex/matching-core/internal/recovery"
	"github.com/kairoex/matching-core/internal/snapshot"
	"github.com/kairoex/matching-core/internal/store"
)

func main() {
	app := fx.New(
		fx.Provide(
			config.New,
			newLogger,
			newStore,
			newKVStore,
			newEventLog,
			newFanoutBus,
			metrics.NewRegistry,
			metrics.NewExchange,
			newCoordinator,
			newScheduler,
		),
		fx.Invoke(registerLifecycle, registerMetricsHandler),
	)
	app.Run()
}

// newLogger creates the process-wide logger. Every constructor below
// takes it as an argument rather than reaching for a package-level
// global.
func newLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.Environment == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

// newStore opens the durable record store behind a circuit breaker and
// retry policy (internal/store.Open), returned as the store.Store
// interface so callers never depend on the Postgres-specific type.
func newStore(cfg *config.Config, logger *zap.Logger) (store.Store, error) {
	return store.Open(context.Background(), cfg.DatabaseDSN, store.DefaultRetryPolicy(), logger)
}

func newKVStore(cfg *config.Config) *kvstore.Store {
	return kvstore.New(cfg.IdempotencyTTL)
}

// newEventLog selects the NATS JetStream driver when NATS URLs are
// configured, otherwise the in-process gochannel driver used for
// development and tests.
func newEventLog(cfg *config.Config) (eventlog.Log, error) {
	if len(cfg.NATSURLs) > 0 {
		return eventlog.NewNatsLog(eventlog.NatsConfig{URLs: cfg.NATSURLs})
	}
	return eventlog.NewGoChannelLog(), nil
}

func newFanoutBus(logger *zap.Logger) *fanout.Bus {
	return fanout.New(logger)
}

// newCoordinator threads cfg.BookLevels through to the coordinator so
// EXCHANGE_BOOK_LEVELS actually governs the depth returned by
// submit_order and request_snapshot, rather than a hardcoded constant.
func newCoordinator(logger *zap.Logger, cfg *config.Config, st store.Store, kv *kvstore.Store, log eventlog.Log, bus *fanout.Bus, mx *metrics.Exchange) *exchange.Coordinator {
	return exchange.NewCoordinator(logger, st, kv, log, bus, mx, cfg.BookLevels)
}

func newScheduler(logger *zap.Logger, cfg *config.Config, coordinator *exchange.Coordinator, mx *metrics.Exchange) (*snapshot.Scheduler, error) {
	return snapshot.New(logger, coordinator, cfg.SnapshotInterval, nil, mx)
}

// registerMetricsHandler serves the Prometheus registry over HTTP on
// the process default metrics address for the process lifetime.
func registerMetricsHandler(lc fx.Lifecycle, registry *prometheus.Registry, logger *zap.Logger) {
	metrics.RegisterHandler(lc, registry, logger, "")
}

// registerLifecycle runs recovery (spec.md §4.5) on start, starts the
// snapshot scheduler, and drains both gracefully on stop.
func registerLifecycle(
	lc fx.Lifecycle,
	logger *zap.Logger,
	st store.Store,
	coordinator *exchange.Coordinator,
	scheduler *snapshot.Scheduler,
) {
	bgCtx, cancel := context.WithCancel(context.Background())

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := recovery.Run(ctx, logger, st, coordinator); err != nil {
				return fmt.Errorf("recovery: %w", err)
			}
			go scheduler.Run(bgCtx)
			logger.Info("exchange started")
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			scheduler.Stop()
			coordinator.Shutdown()
			logger.Info("exchange stopped")
			return nil
		},
	})
}
