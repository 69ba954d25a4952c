package exchange

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kairoex/matching-core/internal/domain"
	"github.com/kairoex/matching-core/internal/eventlog"
	"github.com/kairoex/matching-core/internal/fanout"
	"github.com/kairoex/matching-core/internal/kvstore"
	"github.com/kairoex/matching-core/internal/store"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newTestCoordinator(t *testing.T) (*Coordinator, store.Store) {
	t.Helper()
	st := store.NewMemory()
	kv := kvstore.New(time.Hour)
	log := eventlog.NewGoChannelLog()
	bus := fanout.New(zap.NewNop())
	c := NewCoordinator(zap.NewNop(), st, kv, log, bus, nil, 20)
	t.Cleanup(c.Shutdown)
	return c, st
}

func TestCoordinator_SubmitOrder_FullMatch(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()

	_, err := c.SubmitOrder(ctx, SubmitInput{
		ClientID: "alice", Instrument: "BTC-USD", Side: domain.SideSell,
		Type: domain.OrderTypeLimit, Price: d("70000"), Quantity: d("1.0"),
	})
	require.NoError(t, err)

	result, err := c.SubmitOrder(ctx, SubmitInput{
		ClientID: "bob", Instrument: "BTC-USD", Side: domain.SideBuy,
		Type: domain.OrderTypeLimit, Price: d("70000"), Quantity: d("1.0"),
	})
	require.NoError(t, err)

	require.Len(t, result.Trades, 1)
	assert.Equal(t, domain.OrderStatusFilled, result.Order.Status)
	require.Len(t, result.Book.Asks, 0)
}

// S6 — Idempotent submission.
func TestCoordinator_SubmitOrder_Idempotent(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()

	in := SubmitInput{
		ClientID: "alice", Instrument: "BTC-USD", Side: domain.SideSell,
		Type: domain.OrderTypeLimit, Price: d("70000"), Quantity: d("1.0"),
		IdempotencyKey: "K",
	}

	first, err := c.SubmitOrder(ctx, in)
	require.NoError(t, err)
	require.False(t, first.Replayed)

	second, err := c.SubmitOrder(ctx, in)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Order.OrderID, second.Order.OrderID)
	assert.Empty(t, second.Trades)
}

func TestCoordinator_SubmitOrder_Validation(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()

	_, err := c.SubmitOrder(ctx, SubmitInput{
		ClientID: "alice", Instrument: "BTC-USD", Side: "sideways",
		Type: domain.OrderTypeLimit, Price: d("1"), Quantity: d("1"),
	})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = c.SubmitOrder(ctx, SubmitInput{
		ClientID: "alice", Instrument: "BTC-USD", Side: domain.SideBuy,
		Type: domain.OrderTypeLimit, Price: d("0"), Quantity: d("1"),
	})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = c.SubmitOrder(ctx, SubmitInput{
		ClientID: "alice", Instrument: "BTC-USD", Side: domain.SideBuy,
		Type: domain.OrderTypeLimit, Price: d("1"), Quantity: d("0"),
	})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestCoordinator_SubmitOrder_InsufficientLiquidity(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()

	_, err := c.SubmitOrder(ctx, SubmitInput{
		ClientID: "alice", Instrument: "BTC-USD", Side: domain.SideSell,
		Type: domain.OrderTypeLimit, Price: d("70000"), Quantity: d("0.5"),
	})
	require.NoError(t, err)

	result, err := c.SubmitOrder(ctx, SubmitInput{
		ClientID: "bob", Instrument: "BTC-USD", Side: domain.SideBuy,
		Type: domain.OrderTypeMarket, Quantity: d("1.0"),
	})
	assert.ErrorIs(t, err, ErrInsufficientLiquidity)
	assert.Equal(t, domain.OrderStatusRejected, result.Order.Status)
	require.Len(t, result.Trades, 1)
}

func TestCoordinator_CancelOrder(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()

	submitted, err := c.SubmitOrder(ctx, SubmitInput{
		ClientID: "alice", Instrument: "BTC-USD", Side: domain.SideSell,
		Type: domain.OrderTypeLimit, Price: d("70000"), Quantity: d("1.0"),
	})
	require.NoError(t, err)

	cancelled, err := c.CancelOrder(ctx, submitted.Order.OrderID, "BTC-USD")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, cancelled.Status)

	// Cancellation is idempotent.
	again, err := c.CancelOrder(ctx, submitted.Order.OrderID, "BTC-USD")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, again.Status)
}

func TestCoordinator_CancelOrder_NotFound(t *testing.T) {
	c, _ := newTestCoordinator(t)
	_, err := c.CancelOrder(context.Background(), "missing", "BTC-USD")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCoordinator_CancelOrder_StoreFallback(t *testing.T) {
	c, st := newTestCoordinator(t)
	ctx := context.Background()

	// Simulate a crash-recovered order durable but not yet warm in any
	// engine (spec.md §4.3 cancel_order fallback).
	o := &domain.Order{
		OrderID: "cold", ClientID: "carol", Instrument: "ETH-USD",
		Side: domain.SideBuy, Type: domain.OrderTypeLimit,
		Price: d("3000"), Quantity: d("2"), Status: domain.OrderStatusOpen,
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	require.NoError(t, st.SaveOrder(ctx, o))

	cancelled, err := c.CancelOrder(ctx, "cold", "")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, cancelled.Status)
}

func TestCoordinator_GetBook(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()

	_, err := c.GetBook(ctx, "BTC-USD", 10)
	assert.ErrorIs(t, err, ErrUnknownInstrument)

	_, err = c.SubmitOrder(ctx, SubmitInput{
		ClientID: "alice", Instrument: "BTC-USD", Side: domain.SideSell,
		Type: domain.OrderTypeLimit, Price: d("70000"), Quantity: d("1.0"),
	})
	require.NoError(t, err)

	snap, err := c.GetBook(ctx, "BTC-USD", 10)
	require.NoError(t, err)
	require.Len(t, snap.Asks, 1)
}

func TestCoordinator_GetRecentTradesAndPositions(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()

	_, err := c.SubmitOrder(ctx, SubmitInput{
		ClientID: "alice", Instrument: "BTC-USD", Side: domain.SideSell,
		Type: domain.OrderTypeLimit, Price: d("70000"), Quantity: d("1.0"),
	})
	require.NoError(t, err)
	_, err = c.SubmitOrder(ctx, SubmitInput{
		ClientID: "bob", Instrument: "BTC-USD", Side: domain.SideBuy,
		Type: domain.OrderTypeLimit, Price: d("70000"), Quantity: d("1.0"),
	})
	require.NoError(t, err)

	trades, err := c.GetRecentTrades(ctx, "BTC-USD", 10)
	require.NoError(t, err)
	require.Len(t, trades, 1)

	alicePositions, err := c.GetPositions(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, alicePositions, 1)
	assert.True(t, alicePositions[0].NetQuantity.Equal(d("-1.0")))

	bobPositions, err := c.GetPositions(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, bobPositions, 1)
	assert.True(t, bobPositions[0].NetQuantity.Equal(d("1.0")))
}

func TestCoordinator_RequestSnapshot(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()

	_, err := c.RequestSnapshot(ctx, "BTC-USD")
	assert.ErrorIs(t, err, ErrUnknownInstrument)

	_, err = c.SubmitOrder(ctx, SubmitInput{
		ClientID: "alice", Instrument: "BTC-USD", Side: domain.SideSell,
		Type: domain.OrderTypeLimit, Price: d("70000"), Quantity: d("1.0"),
	})
	require.NoError(t, err)

	snap, err := c.RequestSnapshot(ctx, "BTC-USD")
	require.NoError(t, err)
	assert.Equal(t, "BTC-USD", snap.Instrument)
}

func TestCoordinator_GetOrder(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()

	submitted, err := c.SubmitOrder(ctx, SubmitInput{
		ClientID: "alice", Instrument: "BTC-USD", Side: domain.SideSell,
		Type: domain.OrderTypeLimit, Price: d("70000"), Quantity: d("1.0"),
	})
	require.NoError(t, err)

	o, err := c.GetOrder(ctx, submitted.Order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, submitted.Order.OrderID, o.OrderID)

	_, err = c.GetOrder(ctx, "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}
