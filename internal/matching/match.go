package matching

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/kairoex/matching-core/internal/domain"
)

// handleSubmit runs the matching algorithm of spec.md §4.2 for one
// incoming order and, if a sink is configured, persists/publishes the
// outcome before the next queued command is processed.
func (e *Engine) handleSubmit(ctx context.Context, in OrderInput) submitReply {
	taker := in.toOrder()
	opposite := taker.Side.Opposite()

	// The "created" event is raised by the coordinator before dispatch
	// (spec.md §4.3 step 5, before step 6 engine dispatch); the engine
	// only raises events for transitions it causes during matching.
	var trades []domain.Trade
	var events []domain.OrderEvent

	for taker.Remaining().IsPositive() && !e.book.Empty(opposite) {
		maker := e.book.PeekBest(opposite)
		if maker == nil {
			panic("matching: invariant violation: non-empty ladder with no best order")
		}
		if taker.Type == domain.OrderTypeLimit && !crosses(taker, maker) {
			break
		}

		qty := decimal.Min(taker.Remaining(), maker.Remaining())
		price := maker.Price // resting order's price, spec.md §4.2 step 1

		now := e.clock()
		taker.ApplyFill(qty, now)
		maker.ApplyFill(qty, now)

		if maker.Remaining().IsZero() {
			if _, ok := e.book.Remove(maker.OrderID); !ok {
				panic("matching: invariant violation: best order vanished mid-match")
			}
		}

		trades = append(trades, e.tradeFor(taker, maker, price, qty, now))
		events = append(events, e.eventFor(maker, domain.EventTypeForStatus(maker.Status)))
		events = append(events, e.eventFor(taker, domain.EventTypeForStatus(taker.Status)))
	}

	switch {
	case taker.Type == domain.OrderTypeLimit && taker.Remaining().IsPositive():
		if taker.FilledQuantity.IsZero() {
			taker.MarkResting(e.clock())
		}
		e.book.Insert(taker)
	case taker.Type == domain.OrderTypeMarket && taker.Remaining().IsPositive():
		taker.MarkRejected(e.clock())
		events = append(events, e.eventFor(taker, domain.EventTypeRejected))
	}

	result := SubmitResult{Order: taker.Clone(), Trades: trades, Events: events}

	if e.sink != nil {
		if err := e.sink.PersistSubmit(ctx, e.Instrument, result); err != nil {
			e.logger.Warn("persist submit failed; match already applied in memory",
				zap.String("order_id", taker.OrderID), zap.Error(err))
			return submitReply{result: result, err: err}
		}
	}
	return submitReply{result: result}
}

// crosses reports whether taker and the opposite book's best order
// (maker) cross, per spec.md §4.2 step 1.
func crosses(taker, maker *domain.Order) bool {
	if taker.Side == domain.SideBuy {
		return maker.Price.LessThanOrEqual(taker.Price)
	}
	return maker.Price.GreaterThanOrEqual(taker.Price)
}

func (e *Engine) tradeFor(taker, maker *domain.Order, price, qty decimal.Decimal, ts time.Time) domain.Trade {
	t := domain.Trade{
		TradeID:    e.ids.NewID(),
		Instrument: e.Instrument,
		Price:      price,
		Quantity:   qty,
		Timestamp:  ts,
	}
	if taker.Side == domain.SideBuy {
		t.BuyOrderID, t.SellOrderID = taker.OrderID, maker.OrderID
	} else {
		t.BuyOrderID, t.SellOrderID = maker.OrderID, taker.OrderID
	}
	return t
}

func (e *Engine) eventFor(o *domain.Order, typ domain.EventType) domain.OrderEvent {
	return domain.OrderEvent{
		EventID:       e.ids.NewID(),
		OrderID:       o.OrderID,
		EventType:     typ,
		OrderSnapshot: *o.Clone(),
		Timestamp:     e.clock(),
	}
}

// handleCancel removes a resting order and transitions it to
// cancelled (spec.md §4.2 "Cancellation").
func (e *Engine) handleCancel(ctx context.Context, orderID string) cancelReply {
	o, ok := e.book.Remove(orderID)
	if !ok {
		return cancelReply{err: ErrNotFoundOrTerminal}
	}
	o.MarkCancelled(e.clock())
	result := CancelResult{Order: o.Clone(), Event: e.eventFor(o, domain.EventTypeCancelled)}

	if e.sink != nil {
		if err := e.sink.PersistCancel(ctx, e.Instrument, result); err != nil {
			e.logger.Warn("persist cancel failed; cancellation already applied in memory",
				zap.String("order_id", orderID), zap.Error(err))
			return cancelReply{result: result, err: err}
		}
	}
	return cancelReply{result: result}
}

func (e *Engine) handleSnapshot(ctx context.Context, levels int, persist bool) snapshotReply {
	snap := e.book.Snapshot(levels)
	snap.CapturedAt = e.clock()
	if persist && e.sink != nil {
		if err := e.sink.PersistSnapshot(ctx, snap); err != nil {
			e.logger.Warn("persist snapshot failed", zap.Error(err))
			return snapshotReply{snapshot: snap, err: err}
		}
	}
	return snapshotReply{snapshot: snap}
}
