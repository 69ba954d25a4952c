package domain

import "time"

// EventType enumerates the order lifecycle transitions the event log
// records. Mirrors OrderStatus plus the initial "created" transition
// that has no corresponding status value.
type EventType string

const (
	EventTypeCreated         EventType = "created"
	EventTypePartiallyFilled EventType = "partially_filled"
	EventTypeFilled          EventType = "filled"
	EventTypeCancelled       EventType = "cancelled"
	EventTypeRejected        EventType = "rejected"
)

// OrderEvent is an append-only record of one order lifecycle
// transition. Together with the trade log it is sufficient to
// reconstruct any order's history (spec.md §3).
type OrderEvent struct {
	EventID   string // monotonic within an instrument
	OrderID   string
	EventType EventType
	// OrderSnapshot is the full state of the order immediately after
	// the transition, matching spec.md's "event_data (full snapshot)".
	OrderSnapshot Order
	Timestamp     time.Time
}

// EventTypeForStatus maps a terminal or resting status to the event
// type recorded for the transition that produced it.
func EventTypeForStatus(status OrderStatus) EventType {
	switch status {
	case OrderStatusPartiallyFilled:
		return EventTypePartiallyFilled
	case OrderStatusFilled:
		return EventTypeFilled
	case OrderStatusCancelled:
		return EventTypeCancelled
	case OrderStatusRejected:
		return EventTypeRejected
	default:
		return EventTypeCreated
	}
}
