// Package eventlog implements the event log contract of spec.md §6:
// a topic-partitioned, append-only, at-least-once stream. Topics:
// orders, trades, orderbook-updates, order-events. Producers are
// fire-and-forget; consumers are expected to tolerate duplicates.
package eventlog

import "context"

// Topic names fixed by spec.md §6.
const (
	TopicOrders           = "orders"
	TopicTrades           = "trades"
	TopicOrderbookUpdates = "orderbook-updates"
	TopicOrderEvents      = "order-events"
)

// Log is the event log producer surface the coordinator uses. Publish
// never blocks on consumer acknowledgement beyond the underlying
// transport's own buffering (at-least-once, fire-and-forget).
type Log interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Close() error
}
