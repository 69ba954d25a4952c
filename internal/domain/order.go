package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of an order.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderType is the matching semantics requested for an order.
type OrderType string

const (
	OrderTypeLimit  OrderType = "limit"
	OrderTypeMarket OrderType = "market"
)

// OrderStatus is the lifecycle state of an order. Open and
// PartiallyFilled are the only statuses under which an order may
// reside in a book; the rest are absorbing.
type OrderStatus string

const (
	OrderStatusOpen            OrderStatus = "open"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusCancelled       OrderStatus = "cancelled"
	OrderStatusRejected        OrderStatus = "rejected"
)

// IsTerminal reports whether status is absorbing.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected:
		return true
	default:
		return false
	}
}

// IsResting reports whether an order in this status may sit in a book.
func (s OrderStatus) IsResting() bool {
	return s == OrderStatusOpen || s == OrderStatusPartiallyFilled
}

// MaxDecimalPlaces is the finest fractional precision accepted for
// price and quantity fields (spec.md §3).
const MaxDecimalPlaces = 8

// Order is a single order as owned by the exchange. Only the engine
// that owns its instrument (fills) or the coordinator (cancel, reject)
// mutates it once created; it is never destroyed.
type Order struct {
	OrderID        string
	ClientID       string
	Instrument     string
	Side           Side
	Type           OrderType
	Price          decimal.Decimal // present iff Type == OrderTypeLimit
	Quantity       decimal.Decimal
	FilledQuantity decimal.Decimal
	Status         OrderStatus
	IdempotencyKey string // optional
	CreatedAt      time.Time
	UpdatedAt      time.Time

	// sequence is a per-order counter bumped on every mutation. Nothing
	// reads it: touch keeps UpdatedAt strictly increasing by moving a
	// timestamp that does not advance to one nanosecond past the
	// previous UpdatedAt.
	sequence uint64
}

// Remaining is Quantity minus FilledQuantity.
func (o *Order) Remaining() decimal.Decimal {
	return o.Quantity.Sub(o.FilledQuantity)
}

// Clone returns a deep copy safe to hand to callers outside the engine
// goroutine that owns the original.
func (o *Order) Clone() *Order {
	c := *o
	return &c
}

// applyFill records a fill of qty against the order and advances its
// status. It never touches IdempotencyKey or CreatedAt.
func (o *Order) applyFill(qty decimal.Decimal, now time.Time) {
	o.FilledQuantity = o.FilledQuantity.Add(qty)
	if o.FilledQuantity.GreaterThanOrEqual(o.Quantity) {
		o.Status = OrderStatusFilled
	} else {
		o.Status = OrderStatusPartiallyFilled
	}
	o.touch(now)
}

// ApplyFill is the exported form of applyFill, used by the matching
// engine package which lives outside domain but must mutate orders it
// owns for the duration of a command.
func (o *Order) ApplyFill(qty decimal.Decimal, now time.Time) {
	o.applyFill(qty, now)
}

// MarkResting transitions a freshly created order to Open.
func (o *Order) MarkResting(now time.Time) {
	o.Status = OrderStatusOpen
	o.touch(now)
}

// MarkCancelled transitions the order to the terminal Cancelled state.
func (o *Order) MarkCancelled(now time.Time) {
	o.Status = OrderStatusCancelled
	o.touch(now)
}

// MarkRejected transitions the order to the terminal Rejected state,
// used for market orders that exhaust the opposite book before fully
// filling (spec.md §4.2 step 2).
func (o *Order) MarkRejected(now time.Time) {
	o.Status = OrderStatusRejected
	o.touch(now)
}

func (o *Order) touch(now time.Time) {
	o.sequence++
	if !now.After(o.UpdatedAt) {
		now = o.UpdatedAt.Add(time.Nanosecond)
	}
	o.UpdatedAt = now
}

// ValidateDecimalPlaces reports whether d has at most MaxDecimalPlaces
// fractional digits.
func ValidateDecimalPlaces(d decimal.Decimal) bool {
	return -d.Exponent() <= MaxDecimalPlaces
}
