package matching

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kairoex/matching-core/internal/domain"
)

// recordingSink is an in-memory matching.Sink fake that records every
// persisted submit/cancel/snapshot outcome, for assertions in tests.
type recordingSink struct {
	mu        sync.Mutex
	submits   []SubmitResult
	cancels   []CancelResult
	snapshots []domain.BookSnapshot
}

func (s *recordingSink) PersistSubmit(_ context.Context, _ string, result SubmitResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submits = append(s.submits, result)
	return nil
}

func (s *recordingSink) PersistCancel(_ context.Context, _ string, result CancelResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancels = append(s.cancels, result)
	return nil
}

func (s *recordingSink) PersistSnapshot(_ context.Context, snap domain.BookSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots = append(s.snapshots, snap)
	return nil
}

type sequentialIDs struct {
	mu  sync.Mutex
	n   int
	tag string
}

func (s *sequentialIDs) NewID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return s.tag + decimal.NewFromInt(int64(s.n)).String()
}

func newTestEngine(t *testing.T, sink Sink) (*Engine, func()) {
	t.Helper()
	logger := zap.NewNop()
	eng := New("BTC-USD", sink, &sequentialIDs{tag: "id"}, time.Now, logger)
	ctx, cancel := context.WithCancel(context.Background())
	go eng.Run(ctx)
	return eng, func() {
		eng.Stop()
		cancel()
	}
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func limitInput(orderID string, side domain.Side, price, qty string) OrderInput {
	return OrderInput{
		OrderID:    orderID,
		ClientID:   "client-" + orderID,
		Instrument: "BTC-USD",
		Side:       side,
		Type:       domain.OrderTypeLimit,
		Price:      d(price),
		Quantity:   d(qty),
		CreatedAt:  time.Now(),
	}
}

func marketInput(orderID string, side domain.Side, qty string) OrderInput {
	return OrderInput{
		OrderID:    orderID,
		ClientID:   "client-" + orderID,
		Instrument: "BTC-USD",
		Side:       side,
		Type:       domain.OrderTypeMarket,
		Quantity:   d(qty),
		CreatedAt:  time.Now(),
	}
}

// S1 — Full match at limit price.
func TestEngine_S1_FullMatch(t *testing.T) {
	eng, stop := newTestEngine(t, &recordingSink{})
	defer stop()
	ctx := context.Background()

	_, err := eng.Submit(ctx, limitInput("A", domain.SideSell, "70000", "1.0"))
	require.NoError(t, err)

	result, err := eng.Submit(ctx, limitInput("B", domain.SideBuy, "70000", "1.0"))
	require.NoError(t, err)

	require.Len(t, result.Trades, 1)
	trade := result.Trades[0]
	assert.True(t, trade.Price.Equal(d("70000")))
	assert.True(t, trade.Quantity.Equal(d("1.0")))
	assert.Equal(t, "A", trade.SellOrderID)
	assert.Equal(t, "B", trade.BuyOrderID)

	assert.Equal(t, domain.OrderStatusFilled, result.Order.Status)
	assert.True(t, eng.book.Empty(domain.SideBuy))
	assert.True(t, eng.book.Empty(domain.SideSell))
}

// S2 — Partial fill, resting remainder.
func TestEngine_S2_PartialFill(t *testing.T) {
	eng, stop := newTestEngine(t, &recordingSink{})
	defer stop()
	ctx := context.Background()

	_, err := eng.Submit(ctx, limitInput("A", domain.SideSell, "70000", "0.5"))
	require.NoError(t, err)

	result, err := eng.Submit(ctx, limitInput("B", domain.SideBuy, "70000", "1.0"))
	require.NoError(t, err)

	require.Len(t, result.Trades, 1)
	assert.True(t, result.Trades[0].Quantity.Equal(d("0.5")))
	assert.Equal(t, domain.OrderStatusPartiallyFilled, result.Order.Status)
	assert.True(t, result.Order.FilledQuantity.Equal(d("0.5")))
	assert.True(t, result.Order.Remaining().Equal(d("0.5")))

	bestBid, ok := eng.book.BestPrice(domain.SideBuy)
	require.True(t, ok)
	assert.True(t, bestBid.Equal(d("70000")))
}

// S3 — Time priority.
func TestEngine_S3_TimePriority(t *testing.T) {
	eng, stop := newTestEngine(t, &recordingSink{})
	defer stop()
	ctx := context.Background()

	_, err := eng.Submit(ctx, limitInput("A", domain.SideSell, "70000", "1.0"))
	require.NoError(t, err)
	_, err = eng.Submit(ctx, limitInput("B", domain.SideSell, "70000", "1.0"))
	require.NoError(t, err)

	result, err := eng.Submit(ctx, limitInput("C", domain.SideBuy, "70000", "1.0"))
	require.NoError(t, err)

	require.Len(t, result.Trades, 1)
	assert.Equal(t, "A", result.Trades[0].SellOrderID, "A arrived first and must match before B")
	assert.Equal(t, domain.OrderStatusFilled, result.Order.Status)

	bOrder, found := eng.book.Order("B")
	require.True(t, found)
	assert.Equal(t, domain.OrderStatusOpen, bOrder.Status)
}

// S4 — Market order takes best prices across multiple levels.
func TestEngine_S4_MarketMultiLevel(t *testing.T) {
	eng, stop := newTestEngine(t, &recordingSink{})
	defer stop()
	ctx := context.Background()

	_, err := eng.Submit(ctx, limitInput("A", domain.SideSell, "70000", "0.3"))
	require.NoError(t, err)
	_, err = eng.Submit(ctx, limitInput("B", domain.SideSell, "70100", "0.3"))
	require.NoError(t, err)
	_, err = eng.Submit(ctx, limitInput("C", domain.SideSell, "70200", "0.3"))
	require.NoError(t, err)

	result, err := eng.Submit(ctx, marketInput("M", domain.SideBuy, "0.7"))
	require.NoError(t, err)

	require.Len(t, result.Trades, 3)
	assert.True(t, result.Trades[0].Price.Equal(d("70000")))
	assert.True(t, result.Trades[0].Quantity.Equal(d("0.3")))
	assert.True(t, result.Trades[1].Price.Equal(d("70100")))
	assert.True(t, result.Trades[1].Quantity.Equal(d("0.3")))
	assert.True(t, result.Trades[2].Price.Equal(d("70200")))
	assert.True(t, result.Trades[2].Quantity.Equal(d("0.1")))

	assert.Equal(t, domain.OrderStatusFilled, result.Order.Status)

	bestAsk, ok := eng.book.BestPrice(domain.SideSell)
	require.True(t, ok)
	assert.True(t, bestAsk.Equal(d("70200")))
	cOrder, found := eng.book.Order("C")
	require.True(t, found)
	assert.True(t, cOrder.Remaining().Equal(d("0.2")))
}

// S5 — Market order insufficient liquidity.
func TestEngine_S5_MarketInsufficientLiquidity(t *testing.T) {
	eng, stop := newTestEngine(t, &recordingSink{})
	defer stop()
	ctx := context.Background()

	_, err := eng.Submit(ctx, limitInput("A", domain.SideSell, "70000", "0.5"))
	require.NoError(t, err)

	result, err := eng.Submit(ctx, marketInput("M", domain.SideBuy, "1.0"))
	require.NoError(t, err)

	require.Len(t, result.Trades, 1)
	assert.True(t, result.Trades[0].Quantity.Equal(d("0.5")))
	assert.Equal(t, domain.OrderStatusRejected, result.Order.Status)
	assert.True(t, result.Order.FilledQuantity.Equal(d("0.5")))
	assert.True(t, eng.book.Empty(domain.SideSell))
}

func TestEngine_Cancel(t *testing.T) {
	eng, stop := newTestEngine(t, &recordingSink{})
	defer stop()
	ctx := context.Background()

	_, err := eng.Submit(ctx, limitInput("A", domain.SideSell, "70000", "1.0"))
	require.NoError(t, err)

	result, err := eng.Cancel(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, result.Order.Status)
	assert.True(t, eng.book.Empty(domain.SideSell))

	_, err = eng.Cancel(ctx, "A")
	assert.ErrorIs(t, err, ErrNotFoundOrTerminal)
}

func TestEngine_GetOrder(t *testing.T) {
	eng, stop := newTestEngine(t, &recordingSink{})
	defer stop()
	ctx := context.Background()

	_, err := eng.Submit(ctx, limitInput("A", domain.SideSell, "70000", "1.0"))
	require.NoError(t, err)

	o, found := eng.GetOrder(ctx, "A")
	require.True(t, found)
	assert.Equal(t, "A", o.OrderID)

	_, found = eng.GetOrder(ctx, "missing")
	assert.False(t, found)
}

func TestEngine_Snapshot(t *testing.T) {
	sink := &recordingSink{}
	eng, stop := newTestEngine(t, sink)
	defer stop()
	ctx := context.Background()

	_, err := eng.Submit(ctx, limitInput("A", domain.SideSell, "70000", "1.0"))
	require.NoError(t, err)

	snap, err := eng.Snapshot(ctx, 20, true)
	require.NoError(t, err)
	require.Len(t, snap.Asks, 1)
	assert.True(t, snap.Asks[0].Price.Equal(d("70000")))

	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Len(t, sink.snapshots, 1)
}

func TestEngine_LoadRestingPreservesArrivalOrder(t *testing.T) {
	logger := zap.NewNop()
	eng := New("BTC-USD", &recordingSink{}, &sequentialIDs{tag: "id"}, time.Now, logger)

	earlier := time.Now().Add(-time.Minute)
	later := time.Now()
	eng.LoadResting([]*domain.Order{
		{OrderID: "old", Instrument: "BTC-USD", Side: domain.SideSell, Type: domain.OrderTypeLimit,
			Price: d("70000"), Quantity: d("1"), FilledQuantity: decimal.Zero, Status: domain.OrderStatusOpen, CreatedAt: earlier},
		{OrderID: "new", Instrument: "BTC-USD", Side: domain.SideSell, Type: domain.OrderTypeLimit,
			Price: d("70000"), Quantity: d("1"), FilledQuantity: decimal.Zero, Status: domain.OrderStatusOpen, CreatedAt: later},
	})

	ctx, cancel := context.WithCancel(context.Background())
	go eng.Run(ctx)
	defer func() {
		eng.Stop()
		cancel()
	}()

	result, err := eng.Submit(ctx, limitInput("taker", domain.SideBuy, "70000", "1"))
	require.NoError(t, err)
	require.Len(t, result.Trades, 1)
	assert.Equal(t, "old", result.Trades[0].SellOrderID, "order loaded first by created_at must match first")
}
