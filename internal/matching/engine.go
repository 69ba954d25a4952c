// Package matching implements the per-instrument matching engine
// (spec.md §4.2): strictly single-threaded cooperative processing of
// submit/cancel/snapshot commands against one instrument's order book,
// under price-time priority.
package matching

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kairoex/matching-core/internal/domain"
	"github.com/kairoex/matching-core/internal/orderbook"
)

// ErrNotFoundOrTerminal is returned by Cancel when the order is not
// resident in the book — already filled, cancelled, rejected, or never
// submitted to this engine (spec.md §4.2).
var ErrNotFoundOrTerminal = errors.New("matching: order not found or in a terminal state")

// ErrEngineStopped is returned when a command is submitted after Stop.
var ErrEngineStopped = errors.New("matching: engine stopped")

const defaultQueueDepth = 1024

type command interface{}

type submitCmd struct {
	input OrderInput
	reply chan submitReply
}

type submitReply struct {
	result SubmitResult
	err    error
}

type cancelCmd struct {
	orderID string
	reply   chan cancelReply
}

type cancelReply struct {
	result CancelResult
	err    error
}

type snapshotCmd struct {
	levels  int
	persist bool
	reply   chan snapshotReply
}

type snapshotReply struct {
	snapshot domain.BookSnapshot
	err      error
}

type getOrderCmd struct {
	orderID string
	reply   chan getOrderReply
}

type getOrderReply struct {
	order *domain.Order
	found bool
}

// Engine is the single owner of one instrument's order book. All
// mutation happens on the goroutine started by Run; every exported
// method enqueues a command and blocks for its reply, so from the
// outside each command is atomic (spec.md §4.2 "Serialization
// contract").
type Engine struct {
	Instrument string

	book   *orderbook.Book
	sink   Sink
	ids    IDGenerator
	clock  Clock
	logger *zap.Logger

	cmds chan command
	stop chan struct{}
	done chan struct{}
}

// New creates an engine for instrument. Call Run to start processing;
// until then LoadResting may be used to seed the book from durable
// state (spec.md §4.5 recovery).
func New(instrument string, sink Sink, ids IDGenerator, clock Clock, logger *zap.Logger) *Engine {
	if clock == nil {
		clock = time.Now
	}
	return &Engine{
		Instrument: instrument,
		book:       orderbook.New(instrument),
		sink:       sink,
		ids:        ids,
		clock:      clock,
		logger:     logger.With(zap.String("instrument", instrument)),
		cmds:       make(chan command, defaultQueueDepth),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// LoadResting inserts orders directly into the book, preserving
// arrival order, without going through matching. Only safe before Run
// is called (spec.md §4.5 step 3).
func (e *Engine) LoadResting(orders []*domain.Order) {
	for _, o := range orders {
		e.book.Insert(o)
	}
}

// Run drains commands in arrival order until ctx is cancelled or Stop
// is called. Intended to run on a dedicated goroutine, one per
// instrument (spec.md §9 "Shared-mutable single-writer engine").
func (e *Engine) Run(ctx context.Context) {
	defer close(e.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stop:
			// Process commands already queued before Stop so none of
			// their callers is left waiting for a reply.
			for {
				select {
				case c := <-e.cmds:
					e.process(ctx, c)
				default:
					return
				}
			}
		case c := <-e.cmds:
			e.process(ctx, c)
		}
	}
}

// Stop signals Run to exit once the current command and any commands
// already queued have been processed, then waits for it to return — a
// graceful drain rather than an abrupt cancel.
func (e *Engine) Stop() {
	close(e.stop)
	<-e.done
}

func (e *Engine) process(ctx context.Context, c command) {
	switch cmd := c.(type) {
	case submitCmd:
		cmd.reply <- e.handleSubmit(ctx, cmd.input)
	case cancelCmd:
		cmd.reply <- e.handleCancel(ctx, cmd.orderID)
	case snapshotCmd:
		cmd.reply <- e.handleSnapshot(ctx, cmd.levels, cmd.persist)
	case getOrderCmd:
		o, found := e.book.Order(cmd.orderID)
		if found {
			o = o.Clone()
		}
		cmd.reply <- getOrderReply{order: o, found: found}
	default:
		panic(fmt.Sprintf("matching: invariant violation: unknown command %T", c))
	}
}

// Submit enqueues a new order and blocks for the match result.
func (e *Engine) Submit(ctx context.Context, in OrderInput) (SubmitResult, error) {
	reply := make(chan submitReply, 1)
	select {
	case e.cmds <- submitCmd{input: in, reply: reply}:
	case <-e.stop:
		return SubmitResult{}, ErrEngineStopped
	case <-ctx.Done():
		return SubmitResult{}, ctx.Err()
	}
	select {
	case r := <-reply:
		return r.result, r.err
	case <-ctx.Done():
		return SubmitResult{}, ctx.Err()
	}
}

// Cancel enqueues a cancel and blocks for the result.
func (e *Engine) Cancel(ctx context.Context, orderID string) (CancelResult, error) {
	reply := make(chan cancelReply, 1)
	select {
	case e.cmds <- cancelCmd{orderID: orderID, reply: reply}:
	case <-e.stop:
		return CancelResult{}, ErrEngineStopped
	case <-ctx.Done():
		return CancelResult{}, ctx.Err()
	}
	select {
	case r := <-reply:
		return r.result, r.err
	case <-ctx.Done():
		return CancelResult{}, ctx.Err()
	}
}

// Snapshot enqueues a snapshot command so the read never observes
// mid-match state (spec.md §4.4). When persist is true the sink is
// invoked with the result before it is returned, for scheduled and
// on-demand captures; read-path callers (get_book) pass false.
func (e *Engine) Snapshot(ctx context.Context, levels int, persist bool) (domain.BookSnapshot, error) {
	reply := make(chan snapshotReply, 1)
	select {
	case e.cmds <- snapshotCmd{levels: levels, persist: persist, reply: reply}:
	case <-e.stop:
		return domain.BookSnapshot{}, ErrEngineStopped
	case <-ctx.Done():
		return domain.BookSnapshot{}, ctx.Err()
	}
	select {
	case r := <-reply:
		return r.snapshot, r.err
	case <-ctx.Done():
		return domain.BookSnapshot{}, ctx.Err()
	}
}

// GetOrder returns the in-memory state of a resident order, for
// get_order's book-first lookup (SPEC_FULL.md §D). Routed through the
// command queue like every other read so it never observes mid-match
// state.
func (e *Engine) GetOrder(ctx context.Context, orderID string) (*domain.Order, bool) {
	reply := make(chan getOrderReply, 1)
	select {
	case e.cmds <- getOrderCmd{orderID: orderID, reply: reply}:
	case <-e.stop:
		return nil, false
	case <-ctx.Done():
		return nil, false
	}
	select {
	case r := <-reply:
		return r.order, r.found
	case <-ctx.Done():
		return nil, false
	}
}
