// Package metrics exposes the exchange's Prometheus instrumentation,
// grounded on the teacher's internal/metrics/metrics_module.go and
// internal/metrics/websocket_metrics.go (per-concern metrics struct
// registered against a shared *prometheus.Registry, served over
// promhttp).
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// NewRegistry creates a Prometheus registry, grounded on the teacher's
// NewPrometheusRegistry.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// Exchange collects the matching engine's operational counters: one
// instrument-agnostic metric family per operation type of spec.md §4,
// labeled by instrument so a single registry serves every book.
type Exchange struct {
	ordersSubmitted  *prometheus.CounterVec
	ordersRejected   *prometheus.CounterVec
	ordersCancelled  *prometheus.CounterVec
	tradesExecuted   *prometheus.CounterVec
	matchLatency     *prometheus.HistogramVec
	bookDepth        *prometheus.GaugeVec
}

// NewExchange creates an Exchange metrics set and registers it against
// registry.
func NewExchange(registry prometheus.Registerer) *Exchange {
	m := &Exchange{
		ordersSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "exchange_orders_submitted_total",
			Help: "Total number of orders accepted by submit_order.",
		}, []string{"instrument", "side", "type"}),
		ordersRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "exchange_orders_rejected_total",
			Help: "Total number of orders rejected (validation or insufficient liquidity).",
		}, []string{"instrument", "reason"}),
		ordersCancelled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "exchange_orders_cancelled_total",
			Help: "Total number of orders cancelled via cancel_order.",
		}, []string{"instrument"}),
		tradesExecuted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "exchange_trades_executed_total",
			Help: "Total number of trades produced by the matching loop.",
		}, []string{"instrument"}),
		matchLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "exchange_match_latency_seconds",
			Help:    "Wall-clock time to process one submit_order command end to end.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14), // 100µs to ~0.82s
		}, []string{"instrument"}),
		bookDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "exchange_book_depth",
			Help: "Number of resting price levels on one side of an instrument's book.",
		}, []string{"instrument", "side"}),
	}
	registry.MustRegister(
		m.ordersSubmitted, m.ordersRejected, m.ordersCancelled,
		m.tradesExecuted, m.matchLatency, m.bookDepth,
	)
	return m
}

// ObserveSubmit records a completed submit_order command.
func (m *Exchange) ObserveSubmit(instrument, side, orderType string, trades int, latency time.Duration) {
	m.ordersSubmitted.WithLabelValues(instrument, side, orderType).Inc()
	m.matchLatency.WithLabelValues(instrument).Observe(latency.Seconds())
	if trades > 0 {
		m.tradesExecuted.WithLabelValues(instrument).Add(float64(trades))
	}
}

// ObserveRejection records a rejected submission by reason: a
// validation failure, or a market order whose unfilled residual was
// rejected (possibly after some fills).
func (m *Exchange) ObserveRejection(instrument, reason string) {
	m.ordersRejected.WithLabelValues(instrument, reason).Inc()
}

// ObserveCancel records a completed cancel_order command.
func (m *Exchange) ObserveCancel(instrument string) {
	m.ordersCancelled.WithLabelValues(instrument).Inc()
}

// SetBookDepth records the current number of resting price levels on
// one side of instrument's book, sampled by the snapshot scheduler.
func (m *Exchange) SetBookDepth(instrument, side string, levels int) {
	m.bookDepth.WithLabelValues(instrument, side).Set(float64(levels))
}

// RegisterHandler serves registry's metrics over HTTP for the process
// lifetime, grounded on the teacher's RegisterMetricsHandler.
func RegisterHandler(lc fx.Lifecycle, registry *prometheus.Registry, logger *zap.Logger, addr string) {
	if addr == "" {
		addr = ":9090"
	}
	server := &http.Server{Addr: addr, Handler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{})}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			logger.Info("starting metrics server", zap.String("addr", server.Addr))
			go func() {
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logger.Error("metrics server error", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("stopping metrics server")
			return server.Shutdown(ctx)
		},
	})
}
