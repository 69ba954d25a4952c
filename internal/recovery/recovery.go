// Package recovery implements the cold-start recovery protocol (C5,
// spec.md §4.5): rebuilding in-memory engines from the durable record
// store alone. The event log and snapshots are derived data and are
// never consulted.
package recovery

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/kairoex/matching-core/internal/domain"
	"github.com/kairoex/matching-core/internal/matching"
	"github.com/kairoex/matching-core/internal/store"
)

// Bootstrapper creates and starts an instrument's engine pre-loaded
// with its resting orders. Satisfied by *exchange.Coordinator.
type Bootstrapper interface {
	Bootstrap(instrument string, resting []*domain.Order) *matching.Engine
}

// Run executes spec.md §4.5 steps 2-3 (step 1, "open durable
// connections; verify readiness", is the caller's responsibility — by
// the time Run is called, st must already be open and have succeeded
// its own readiness check, as store.Open pings before returning; step
// 4, starting the snapshot scheduler, is sequenced by the caller
// immediately after Run returns, since the scheduler's lifetime must
// outlive this function's deadline-bound context).
//
// Recovery is a cold start: because trades are persisted atomically
// with the filled_quantity update they produced (spec.md §4.3 step 6,
// §6), no trade replay is required — inserting each order at its
// recorded filled_quantity is sufficient to reach the pre-crash
// in-memory state.
func Run(ctx context.Context, logger *zap.Logger, st store.Store, bootstrapper Bootstrapper) error {
	instruments, err := st.Instruments(ctx)
	if err != nil {
		return fmt.Errorf("recovery: list instruments: %w", err)
	}

	for _, instrument := range instruments {
		orders, err := st.ListOpenOrders(ctx, instrument)
		if err != nil {
			return fmt.Errorf("recovery: list open orders for %s: %w", instrument, err)
		}
		// created_at ascending so LoadResting's insertion order
		// reproduces original arrival (time priority) order, spec.md
		// §4.5 step 3.
		sort.Slice(orders, func(i, j int) bool {
			return orders[i].CreatedAt.Before(orders[j].CreatedAt)
		})
		bootstrapper.Bootstrap(instrument, orders)
		logger.Info("recovered instrument",
			zap.String("instrument", instrument), zap.Int("resting_orders", len(orders)))
	}

	return nil
}
