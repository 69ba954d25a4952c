package exchange

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/kairoex/matching-core/internal/domain"
	"github.com/kairoex/matching-core/internal/eventlog"
	"github.com/kairoex/matching-core/internal/fanout"
	"github.com/kairoex/matching-core/internal/idgen"
	"github.com/kairoex/matching-core/internal/kvstore"
	"github.com/kairoex/matching-core/internal/matching"
	"github.com/kairoex/matching-core/internal/metrics"
	"github.com/kairoex/matching-core/internal/store"
)

// Coordinator is the exchange coordinator (C4): the only component
// external callers interact with (spec.md §4.3). It owns one engine per
// instrument, enforces idempotency, and drives persistence and event
// publication around each engine dispatch.
//
// Coordinator itself implements matching.Sink: every engine invokes it
// synchronously, from the engine's own processing goroutine, so
// persistence and publication stay strictly ordered with matching on
// that instrument (spec.md §5 "Suspension points").
type Coordinator struct {
	logger  *zap.Logger
	store   store.Store
	kv      *kvstore.Store
	log     eventlog.Log
	bus     *fanout.Bus
	ids     idgen.KSUID
	metrics *metrics.Exchange

	// bookLevels is the default depth returned with submit_order's
	// result (spec.md §4.3 step 8, "current top-20 book") and used by
	// request_snapshot (§4.4's scheduler call, "engine.snapshot(20)"),
	// sourced from config.Config.BookLevels.
	bookLevels int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	engines map[string]*matching.Engine

	pubMu      sync.Mutex
	publishers map[string]*orderedPublisher
}

// defaultBookLevels is used when bookLevels is non-positive, matching
// config.Config's own development default.
const defaultBookLevels = 20

// NewCoordinator wires a Coordinator. mx may be nil, in which case no
// metrics are recorded. bookLevels non-positive falls back to
// defaultBookLevels.
func NewCoordinator(logger *zap.Logger, st store.Store, kv *kvstore.Store, log eventlog.Log, bus *fanout.Bus, mx *metrics.Exchange, bookLevels int) *Coordinator {
	if bookLevels <= 0 {
		bookLevels = defaultBookLevels
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		logger:     logger,
		store:      st,
		kv:         kv,
		log:        log,
		bus:        bus,
		metrics:    mx,
		bookLevels: bookLevels,
		ctx:        ctx,
		cancel:     cancel,
		engines:    make(map[string]*matching.Engine),
		publishers: make(map[string]*orderedPublisher),
	}
}

// Shutdown stops every engine gracefully (drains in-flight commands,
// refuses new ones), then closes every instrument's ordered publisher —
// the fx OnStop hook named in SPEC_FULL.md §C "Graceful engine
// shutdown". Engines are stopped first so no publisher receives a new
// job after its queue is closed.
func (c *Coordinator) Shutdown() {
	c.mu.Lock()
	engines := make([]*matching.Engine, 0, len(c.engines))
	for _, eng := range c.engines {
		engines = append(engines, eng)
	}
	c.mu.Unlock()

	for _, eng := range engines {
		eng.Stop()
	}
	c.cancel()
	c.wg.Wait()

	c.pubMu.Lock()
	defer c.pubMu.Unlock()
	for _, p := range c.publishers {
		p.close()
	}
}

// ensureEngine returns instrument's engine, creating and starting one
// with an empty book if none exists yet (spec.md §4.3 step 6 implies
// any instrument may receive its first order with no recovery
// involved).
func (c *Coordinator) ensureEngine(instrument string) *matching.Engine {
	c.mu.Lock()
	defer c.mu.Unlock()
	if eng, ok := c.engines[instrument]; ok {
		return eng
	}
	eng := matching.New(instrument, c, c.ids, time.Now, c.logger)
	c.engines[instrument] = eng
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		eng.Run(c.ctx)
	}()
	return eng
}

// Bootstrap creates instrument's engine pre-loaded with resting (from
// durable storage) and starts it, for the recovery path (spec.md §4.5
// step 3). It must not be called twice for the same instrument.
func (c *Coordinator) Bootstrap(instrument string, resting []*domain.Order) *matching.Engine {
	c.mu.Lock()
	defer c.mu.Unlock()
	if eng, ok := c.engines[instrument]; ok {
		return eng
	}
	eng := matching.New(instrument, c, c.ids, time.Now, c.logger)
	eng.LoadResting(resting)
	c.engines[instrument] = eng
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		eng.Run(c.ctx)
	}()
	return eng
}

// Instruments lists every instrument with a live engine, for the
// snapshot scheduler (spec.md §4.4 "for each active instrument").
func (c *Coordinator) Instruments() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.engines))
	for instrument := range c.engines {
		out = append(out, instrument)
	}
	return out
}

// engineByInstrument returns instrument's engine without creating one.
func (c *Coordinator) engineByInstrument(instrument string) (*matching.Engine, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	eng, ok := c.engines[instrument]
	return eng, ok
}

// anyEngineWith searches every registered engine's in-memory index for
// orderID, for callers (get_order, cancel_order) that are not given an
// instrument hint.
func (c *Coordinator) anyEngineWith(ctx context.Context, orderID string) (*matching.Engine, *domain.Order, bool) {
	c.mu.Lock()
	engines := make([]*matching.Engine, 0, len(c.engines))
	for _, eng := range c.engines {
		engines = append(engines, eng)
	}
	c.mu.Unlock()

	for _, eng := range engines {
		if o, found := eng.GetOrder(ctx, orderID); found {
			return eng, o, true
		}
	}
	return nil, nil, false
}

// SubmitOrder implements spec.md §4.3 submit_order.
func (c *Coordinator) SubmitOrder(ctx context.Context, in SubmitInput) (SubmitOrderResult, error) {
	if err := validateSubmit(in); err != nil {
		c.observeRejection(in.Instrument, "validation")
		return SubmitOrderResult{}, err
	}

	start := time.Now()

	// Step 2: idempotency hit — return the prior order, no re-submission.
	if in.IdempotencyKey != "" {
		if orderID, found := c.kv.Get(in.IdempotencyKey); found {
			o, err := c.store.GetOrder(ctx, orderID)
			if err == nil {
				return SubmitOrderResult{Order: o, Replayed: true}, nil
			}
			if !errors.Is(err, store.ErrOrderNotFound) {
				return SubmitOrderResult{}, fmt.Errorf("%w: %v", ErrPersistenceUnavailable, err)
			}
			// Mapping outlived the order it pointed to (should not
			// happen under the ordering in step 4); fall through and
			// submit as new.
		}
	}

	// Step 3: assign order_id if absent, persist the order open.
	orderID := in.OrderID
	if orderID == "" {
		orderID = idgen.NewOrderID()
	}
	now := time.Now()
	order := &domain.Order{
		OrderID:        orderID,
		ClientID:       in.ClientID,
		Instrument:     in.Instrument,
		Side:           in.Side,
		Type:           in.Type,
		Price:          in.Price,
		Quantity:       in.Quantity,
		FilledQuantity: decimal.Zero,
		Status:         domain.OrderStatusOpen,
		IdempotencyKey: in.IdempotencyKey,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := c.store.SaveOrder(ctx, order); err != nil {
		if errors.Is(err, store.ErrDuplicateIdempotencyKey) {
			// Lost a race with a concurrent submission of the same key;
			// the other submitter's kv mapping will resolve future
			// retries. Surface as an idempotency-adjacent validation
			// failure rather than retrying here.
			return SubmitOrderResult{}, fmt.Errorf("%w: idempotency_key already in use", ErrValidation)
		}
		return SubmitOrderResult{}, fmt.Errorf("%w: %v", ErrPersistenceUnavailable, err)
	}

	// Step 4: write the key→id mapping only after the order is durable.
	if in.IdempotencyKey != "" {
		c.kv.SetIfAbsent(in.IdempotencyKey, orderID)
	}

	// Step 5: "created" event, published before engine dispatch.
	created := domain.OrderEvent{
		EventID:       c.ids.NewID(),
		OrderID:       orderID,
		EventType:     domain.EventTypeCreated,
		OrderSnapshot: *order,
		Timestamp:     now,
	}
	if err := c.store.AppendEvent(ctx, created); err != nil {
		c.logger.Warn("persist created event failed", zap.String("order_id", orderID), zap.Error(err))
	}
	c.publishOrderEvent(created)

	// Step 6: dispatch to the target engine.
	eng := c.ensureEngine(in.Instrument)
	result, err := eng.Submit(ctx, matching.OrderInput{
		OrderID:    orderID,
		ClientID:   in.ClientID,
		Instrument: in.Instrument,
		Side:       in.Side,
		Type:       in.Type,
		Price:      in.Price,
		Quantity:   in.Quantity,
		CreatedAt:  now,
	})
	if err != nil {
		// The match (if any) already executed in memory; only
		// persistence lagged (class 5). Surface both.
		return SubmitOrderResult{Order: result.Order, Trades: result.Trades},
			fmt.Errorf("%w: %v", ErrPersistenceUnavailable, err)
	}

	// Step 7: publish a book update derived from the post-state snapshot.
	snap, snapErr := eng.Snapshot(ctx, c.bookLevels, false)
	if snapErr != nil {
		c.logger.Warn("post-submit snapshot failed", zap.String("instrument", in.Instrument), zap.Error(snapErr))
	} else {
		c.publishBookUpdate(snap)
	}

	// Class 4: market order exhausted the opposite book. The fills
	// already recorded are retained; only the residual is rejected.
	if result.Order.Type == domain.OrderTypeMarket && result.Order.Status == domain.OrderStatusRejected {
		c.observeSubmit(in, len(result.Trades), time.Since(start))
		c.observeRejection(in.Instrument, "insufficient_liquidity")
		return SubmitOrderResult{Order: result.Order, Trades: result.Trades, Book: snap}, ErrInsufficientLiquidity
	}

	c.observeSubmit(in, len(result.Trades), time.Since(start))
	return SubmitOrderResult{Order: result.Order, Trades: result.Trades, Book: snap}, nil
}

func (c *Coordinator) observeSubmit(in SubmitInput, trades int, latency time.Duration) {
	if c.metrics == nil {
		return
	}
	c.metrics.ObserveSubmit(in.Instrument, string(in.Side), string(in.Type), trades, latency)
}

func (c *Coordinator) observeRejection(instrument, reason string) {
	if c.metrics == nil {
		return
	}
	c.metrics.ObserveRejection(instrument, reason)
}

// CancelOrder implements spec.md §4.3 cancel_order. instrument is an
// optional hint; when empty, every registered engine's index is
// searched.
func (c *Coordinator) CancelOrder(ctx context.Context, orderID, instrument string) (*domain.Order, error) {
	var eng *matching.Engine
	var ok bool
	if instrument != "" {
		eng, ok = c.engineByInstrument(instrument)
	} else {
		eng, _, ok = c.anyEngineWith(ctx, orderID)
	}

	if ok {
		result, err := eng.Cancel(ctx, orderID)
		switch {
		case err == nil:
			c.observeCancel(result.Order.Instrument)
			return result.Order, nil
		case errors.Is(err, matching.ErrNotFoundOrTerminal):
			// Fall through to the store fallback below.
		default:
			return nil, fmt.Errorf("%w: %v", ErrPersistenceUnavailable, err)
		}
	}

	// Store fallback: covers crash-recovered orders not yet warm in any
	// engine, and idempotent re-cancellation of an already-terminal
	// order (spec.md §4.3 "cancellation is idempotent").
	o, err := c.store.GetOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, store.ErrOrderNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrPersistenceUnavailable, err)
	}
	if o.Status.IsTerminal() {
		return o, nil
	}
	if !o.Status.IsResting() {
		return nil, ErrNotFound
	}

	now := time.Now()
	o.MarkCancelled(now)
	if err := c.store.SaveOrder(ctx, o); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistenceUnavailable, err)
	}
	ev := domain.OrderEvent{EventID: c.ids.NewID(), OrderID: o.OrderID, EventType: domain.EventTypeCancelled, OrderSnapshot: *o, Timestamp: now}
	if err := c.store.AppendEvent(ctx, ev); err != nil {
		c.logger.Warn("persist cancelled event failed", zap.String("order_id", o.OrderID), zap.Error(err))
	}
	c.publishOrderEvent(ev)
	c.observeCancel(o.Instrument)
	return o, nil
}

func (c *Coordinator) observeCancel(instrument string) {
	if c.metrics == nil {
		return
	}
	c.metrics.ObserveCancel(instrument)
}

// GetOrder implements spec.md §6 get_order (SPEC_FULL.md §D:
// engine-first, store fallback).
func (c *Coordinator) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	if _, o, found := c.anyEngineWith(ctx, orderID); found {
		return o, nil
	}
	o, err := c.store.GetOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, store.ErrOrderNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrPersistenceUnavailable, err)
	}
	return o, nil
}

// GetBook implements spec.md §6 get_book, dispatched as a non-persisted
// snapshot command so it never observes mid-match state (SPEC_FULL.md
// §D). levels is clamped to [1,100].
func (c *Coordinator) GetBook(ctx context.Context, instrument string, levels int) (domain.BookSnapshot, error) {
	eng, ok := c.engineByInstrument(instrument)
	if !ok {
		return domain.BookSnapshot{}, ErrUnknownInstrument
	}
	snap, err := eng.Snapshot(ctx, clamp(levels, 1, 100), false)
	if err != nil {
		return domain.BookSnapshot{}, fmt.Errorf("%w: %v", ErrPersistenceUnavailable, err)
	}
	return snap, nil
}

// GetRecentTrades implements spec.md §6 get_recent_trades. limit is
// clamped to [1,1000].
func (c *Coordinator) GetRecentTrades(ctx context.Context, instrument string, limit int) ([]domain.Trade, error) {
	trades, err := c.store.RecentTrades(ctx, instrument, clamp(limit, 1, 1000))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistenceUnavailable, err)
	}
	return trades, nil
}

// GetPositions implements spec.md §6 get_positions.
func (c *Coordinator) GetPositions(ctx context.Context, clientID string) ([]domain.Position, error) {
	positions, err := c.store.Positions(ctx, clientID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistenceUnavailable, err)
	}
	return positions, nil
}

// RequestSnapshot implements spec.md §6 request_snapshot: an
// out-of-band capture on instrument's engine, exactly as the scheduler
// performs one (§4.4), returning once persisted.
func (c *Coordinator) RequestSnapshot(ctx context.Context, instrument string) (domain.BookSnapshot, error) {
	eng, ok := c.engineByInstrument(instrument)
	if !ok {
		return domain.BookSnapshot{}, ErrUnknownInstrument
	}
	snap, err := eng.Snapshot(ctx, c.bookLevels, true)
	if err != nil {
		return domain.BookSnapshot{}, fmt.Errorf("%w: %v", ErrPersistenceUnavailable, err)
	}
	return snap, nil
}

// SubmitOrderResult is submit_order's return value (spec.md §4.3 step
// 8: final order state, trades produced, current top-N book).
type SubmitOrderResult struct {
	Order  *domain.Order
	Trades []domain.Trade
	Book   domain.BookSnapshot
	// Replayed is true on an idempotency hit (spec.md §4.3 step 2):
	// Trades and Book are empty, no new state was produced.
	Replayed bool
}

var _ matching.Sink = (*Coordinator)(nil)

// PersistSubmit implements matching.Sink, invoked synchronously from
// the owning engine's goroutine (spec.md §4.3 step 6).
func (c *Coordinator) PersistSubmit(ctx context.Context, instrument string, result matching.SubmitResult) error {
	for i, t := range result.Trades {
		makerEvent, takerEvent := result.Events[2*i], result.Events[2*i+1]
		buyOrder, sellOrder := orderPairForTrade(t, makerEvent, takerEvent)
		if err := c.store.SaveTrade(ctx, t, buyOrder, sellOrder); err != nil {
			return fmt.Errorf("persist trade %s: %w", t.TradeID, err)
		}
		c.publishTrade(t)
	}

	for _, ev := range result.Events {
		if err := c.store.SaveOrder(ctx, &ev.OrderSnapshot); err != nil {
			return fmt.Errorf("persist order %s: %w", ev.OrderID, err)
		}
		if err := c.store.AppendEvent(ctx, ev); err != nil {
			return fmt.Errorf("persist event for order %s: %w", ev.OrderID, err)
		}
		c.publishOrderEvent(ev)
	}

	// The taker's own row, covering the case where matching raised no
	// event for it at all (rested untouched, or rejected for market
	// orders below is already in result.Events via the rejected event).
	if err := c.store.SaveOrder(ctx, result.Order); err != nil {
		return fmt.Errorf("persist taker order %s: %w", result.Order.OrderID, err)
	}
	return nil
}

// PersistCancel implements matching.Sink.
func (c *Coordinator) PersistCancel(ctx context.Context, instrument string, result matching.CancelResult) error {
	if err := c.store.SaveOrder(ctx, result.Order); err != nil {
		return fmt.Errorf("persist cancelled order %s: %w", result.Order.OrderID, err)
	}
	if err := c.store.AppendEvent(ctx, result.Event); err != nil {
		return fmt.Errorf("persist cancelled event for order %s: %w", result.Order.OrderID, err)
	}
	c.publishOrderEvent(result.Event)
	return nil
}

// PersistSnapshot implements matching.Sink.
func (c *Coordinator) PersistSnapshot(ctx context.Context, snapshot domain.BookSnapshot) error {
	if err := c.store.SaveSnapshot(ctx, snapshot); err != nil {
		return fmt.Errorf("persist snapshot for %s: %w", snapshot.Instrument, err)
	}
	c.publishBookUpdate(snapshot)
	return nil
}

// orderPairForTrade resolves the buy- and sell-side order states to
// upsert alongside a trade, from the pair of events matching.Engine
// raises for every trade it emits (one for the maker, one for the
// taker, in that order — see internal/matching/match.go handleSubmit).
func orderPairForTrade(t domain.Trade, makerEvent, takerEvent domain.OrderEvent) (buyOrder, sellOrder *domain.Order) {
	maker, taker := makerEvent.OrderSnapshot, takerEvent.OrderSnapshot
	if maker.OrderID == t.BuyOrderID {
		return &maker, &taker
	}
	return &taker, &maker
}
