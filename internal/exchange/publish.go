package exchange

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/kairoex/matching-core/internal/domain"
	"github.com/kairoex/matching-core/internal/eventlog"
)

// orderedPublisher serializes every publish job for one instrument onto
// a single dedicated goroutine, mirroring the per-instrument
// serialization internal/matching.Engine already gives matching itself
// (spec.md §5 "Suspension points"). It exists because a shared
// general-purpose worker pool cannot give the ordering spec.md §4.3
// requires: "events for a given order_id (created → fills → terminal)
// are published in order and are monotonic". Two jobs submitted to
// independent pool workers — e.g. the partially_filled event from one
// trade and the filled event from the next, both raised within the
// same PersistSubmit call — race each other with no guarantee the
// first submitted finishes first. Pinning one instrument's jobs to one
// goroutine, run strictly in submission order, removes that race.
type orderedPublisher struct {
	jobs chan func()
}

// publishQueueDepth bounds how far publication may lag behind matching
// before a producer publishes inline rather than block indefinitely.
const publishQueueDepth = 1024

func newOrderedPublisher() *orderedPublisher {
	p := &orderedPublisher{jobs: make(chan func(), publishQueueDepth)}
	go func() {
		for fn := range p.jobs {
			fn()
		}
	}()
	return p
}

// submit enqueues fn for this instrument's publisher. If the queue is
// saturated — publication falling persistently behind matching — fn
// runs inline on the caller's goroutine rather than being dropped or
// blocking the engine that produced it indefinitely.
func (p *orderedPublisher) submit(fn func()) {
	select {
	case p.jobs <- fn:
	default:
		fn()
	}
}

// close drains no further jobs; in-flight jobs already queued are left
// to finish on their own, since Coordinator.Shutdown waits out the
// engines (and therefore the producers) before tearing down.
func (p *orderedPublisher) close() {
	close(p.jobs)
}

// publisherFor returns instrument's ordered publisher, creating one on
// first use.
func (c *Coordinator) publisherFor(instrument string) *orderedPublisher {
	c.pubMu.Lock()
	defer c.pubMu.Unlock()
	p, ok := c.publishers[instrument]
	if !ok {
		p = newOrderedPublisher()
		c.publishers[instrument] = p
	}
	return p
}

// fireAndForget runs fn on instrument's ordered publisher so
// publication never blocks the caller that produced it (spec.md §6
// "Producers fire-and-forget"), while still serializing every job for
// that instrument in submission order.
func (c *Coordinator) fireAndForget(instrument string, fn func()) {
	c.publisherFor(instrument).submit(fn)
}

// publishOrderEvent writes an order lifecycle transition to the event
// log's order-events topic and the fan-out's orders:<instrument>
// channel (spec.md §6). Both are best-effort: failures are logged, not
// surfaced, per §7's propagation policy for internal replays.
func (c *Coordinator) publishOrderEvent(ev domain.OrderEvent) {
	c.fireAndForget(ev.OrderSnapshot.Instrument, func() {
		payload, err := json.Marshal(ev)
		if err != nil {
			c.logger.Error("marshal order event", zap.String("order_id", ev.OrderID), zap.Error(err))
			return
		}
		ctx := context.Background()
		if err := c.log.Publish(ctx, eventlog.TopicOrderEvents, payload); err != nil {
			c.logger.Warn("publish order event to event log", zap.Error(err))
		}
		c.bus.Publish("orders:"+ev.OrderSnapshot.Instrument, payload)
	})
}

// publishTrade writes a trade to the event log's trades topic and the
// fan-out's trades:<instrument> channel.
func (c *Coordinator) publishTrade(t domain.Trade) {
	c.fireAndForget(t.Instrument, func() {
		payload, err := json.Marshal(t)
		if err != nil {
			c.logger.Error("marshal trade", zap.String("trade_id", t.TradeID), zap.Error(err))
			return
		}
		ctx := context.Background()
		if err := c.log.Publish(ctx, eventlog.TopicTrades, payload); err != nil {
			c.logger.Warn("publish trade to event log", zap.Error(err))
		}
		c.bus.Publish("trades:"+t.Instrument, payload)
	})
}

// publishBookUpdate writes a book snapshot to the event log's
// orderbook-updates topic and the fan-out's orderbook:<instrument>
// channel (spec.md §4.3 step 7, §4.4).
func (c *Coordinator) publishBookUpdate(snap domain.BookSnapshot) {
	c.fireAndForget(snap.Instrument, func() {
		payload, err := json.Marshal(snap)
		if err != nil {
			c.logger.Error("marshal book snapshot", zap.String("instrument", snap.Instrument), zap.Error(err))
			return
		}
		ctx := context.Background()
		if err := c.log.Publish(ctx, eventlog.TopicOrderbookUpdates, payload); err != nil {
			c.logger.Warn("publish book update to event log", zap.Error(err))
		}
		c.bus.Publish("orderbook:"+snap.Instrument, payload)
	})
}
