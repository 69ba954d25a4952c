// Package store defines the durable record store contract (spec.md
// §6) and its production (gorm + sqlx, Postgres) and in-memory
// implementations. The store is the only authoritative state after a
// crash: orders, trades, and client_positions (spec.md §6 "Persisted
// state layout").
package store

import (
	"context"
	"errors"

	"github.com/kairoex/matching-core/internal/domain"
)

// ErrDuplicateIdempotencyKey is returned by SaveOrder when the
// idempotency_key unique constraint would be violated.
var ErrDuplicateIdempotencyKey = errors.New("store: idempotency_key already in use")

// ErrOrderNotFound is returned by GetOrder for an absent id.
var ErrOrderNotFound = errors.New("store: order not found")

// ErrUnavailable wraps transient persistence failures once the
// retry/backoff budget under Store is exhausted — spec.md §7 class 5.
var ErrUnavailable = errors.New("store: durable record store unavailable")

// Store is the durable record store contract of spec.md §6: orders,
// trades, order_events, order_book_snapshots, client_positions.
type Store interface {
	// SaveOrder upserts an order keyed on order_id. Implementations
	// enforce the unique constraint on idempotency_key when non-empty.
	SaveOrder(ctx context.Context, o *domain.Order) error
	GetOrder(ctx context.Context, orderID string) (*domain.Order, error)

	AppendEvent(ctx context.Context, e domain.OrderEvent) error

	// SaveTrade persists a trade, updates both participating orders,
	// and applies the signed position delta to both clients in one
	// atomic transaction (spec.md §4.3 step 6, §6 "atomic
	// multi-statement transactions"). Idempotent per trade_id.
	SaveTrade(ctx context.Context, trade domain.Trade, buyOrder, sellOrder *domain.Order) error

	SaveSnapshot(ctx context.Context, snapshot domain.BookSnapshot) error

	// ListOpenOrders returns every order with status open or
	// partially_filled, ordered by created_at ascending, for recovery
	// (spec.md §4.5 step 3).
	ListOpenOrders(ctx context.Context, instrument string) ([]*domain.Order, error)

	// Instruments lists every instrument with at least one open order,
	// so recovery knows which engines to create (spec.md §4.5 step 2).
	Instruments(ctx context.Context) ([]string, error)

	RecentTrades(ctx context.Context, instrument string, limit int) ([]domain.Trade, error)
	Positions(ctx context.Context, clientID string) ([]domain.Position, error)
}
