package matching

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kairoex/matching-core/internal/domain"
)

// OrderInput is the caller-supplied shape of a new order, before the
// engine assigns it to a book. OrderID and CreatedAt are expected to
// already be set by the coordinator; UpdatedAt starts at CreatedAt (spec.md §4.3 step 3
// happens before dispatch to the engine).
type OrderInput struct {
	OrderID    string
	ClientID   string
	Instrument string
	Side       domain.Side
	Type       domain.OrderType
	Price      decimal.Decimal
	Quantity   decimal.Decimal
	CreatedAt  time.Time
}

func (in OrderInput) toOrder() *domain.Order {
	now := in.CreatedAt
	return &domain.Order{
		OrderID:        in.OrderID,
		ClientID:       in.ClientID,
		Instrument:     in.Instrument,
		Side:           in.Side,
		Type:           in.Type,
		Price:          in.Price,
		Quantity:       in.Quantity,
		FilledQuantity: decimal.Zero,
		Status:         domain.OrderStatusOpen,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// SubmitResult is everything one submit command produced: the taker
// order's final in-memory state, every trade executed, and every
// order-lifecycle event raised (including for resting orders that were
// filled by this submission).
type SubmitResult struct {
	Order  *domain.Order
	Trades []domain.Trade
	Events []domain.OrderEvent
}

// CancelResult is the outcome of a cancel command.
type CancelResult struct {
	Order *domain.Order
	Event domain.OrderEvent
}

// Sink receives the outcome of one engine command for persistence and
// publication, invoked synchronously from the engine's single
// processing goroutine so that persistence stays strictly ordered with
// matching on that instrument (spec.md §5 "Suspension points"). A
// returned error is a transient-persistence failure (class 5): it is
// logged and surfaced to the original caller but never unwinds the
// match already applied in memory.
type Sink interface {
	PersistSubmit(ctx context.Context, instrument string, result SubmitResult) error
	PersistCancel(ctx context.Context, instrument string, result CancelResult) error
	PersistSnapshot(ctx context.Context, snapshot domain.BookSnapshot) error
}

// IDGenerator produces globally unique, time-ordered identifiers for
// trades and events.
type IDGenerator interface {
	NewID() string
}

// Clock is the engine's time source, overridable in tests.
type Clock func() time.Time
