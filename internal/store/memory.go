package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kairoex/matching-core/internal/domain"
)

// Memory is an in-process Store used by tests and, e.g. a development
// mode without Postgres. It implements the same atomicity and
// idempotence guarantees as Postgres (single mutex standing in for a
// transaction) without a real database.
type Memory struct {
	mu         sync.Mutex
	orders     map[string]*domain.Order
	byIdemKey  map[string]string // idempotency_key -> order_id
	trades     map[string]domain.Trade
	tradeLog   map[string]struct{} // trade_id dedupe ledger
	events     []domain.OrderEvent
	snapshots  []domain.BookSnapshot
	positions  map[string]*domain.Position // "client_id/instrument"
}

// NewMemory creates an empty Memory store.
func NewMemory() *Memory {
	return &Memory{
		orders:    make(map[string]*domain.Order),
		byIdemKey: make(map[string]string),
		trades:    make(map[string]domain.Trade),
		tradeLog:  make(map[string]struct{}),
		positions: make(map[string]*domain.Position),
	}
}

func (m *Memory) SaveOrder(_ context.Context, o *domain.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o.IdempotencyKey != "" {
		if existing, ok := m.byIdemKey[o.IdempotencyKey]; ok && existing != o.OrderID {
			return ErrDuplicateIdempotencyKey
		}
		m.byIdemKey[o.IdempotencyKey] = o.OrderID
	}
	m.orders[o.OrderID] = o.Clone()
	return nil
}

func (m *Memory) GetOrder(_ context.Context, orderID string) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return nil, ErrOrderNotFound
	}
	return o.Clone(), nil
}

func (m *Memory) AppendEvent(_ context.Context, e domain.OrderEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return nil
}

func (m *Memory) SaveTrade(_ context.Context, trade domain.Trade, buyOrder, sellOrder *domain.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, done := m.tradeLog[trade.TradeID]; done {
		return nil
	}
	m.tradeLog[trade.TradeID] = struct{}{}
	m.trades[trade.TradeID] = trade
	m.orders[buyOrder.OrderID] = buyOrder.Clone()
	m.orders[sellOrder.OrderID] = sellOrder.Clone()
	m.applyDelta(buyOrder.ClientID, trade.Instrument, domain.SideBuy, trade.Price, trade.Quantity)
	m.applyDelta(sellOrder.ClientID, trade.Instrument, domain.SideSell, trade.Price, trade.Quantity)
	return nil
}

// applyDelta mirrors Postgres.upsertPositionDelta's arithmetic for the
// in-memory fake: same signed-delta accumulation, same key shape.
func (m *Memory) applyDelta(clientID, instrument string, side domain.Side, price, quantity decimal.Decimal) {
	key := clientID + "/" + instrument
	pos, ok := m.positions[key]
	if !ok {
		pos = &domain.Position{ClientID: clientID, Instrument: instrument}
		m.positions[key] = pos
	}
	netDelta, costDelta := domain.Delta(side, price, quantity)
	pos.NetQuantity = pos.NetQuantity.Add(netDelta)
	pos.TotalCost = pos.TotalCost.Add(costDelta)
	pos.LastUpdated = time.Now()
}

func (m *Memory) SaveSnapshot(_ context.Context, snap domain.BookSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots = append(m.snapshots, snap)
	return nil
}

func (m *Memory) ListOpenOrders(_ context.Context, instrument string) ([]*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Order
	for _, o := range m.orders {
		if o.Instrument == instrument && o.Status.IsResting() {
			out = append(out, o.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) Instruments(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[string]bool)
	var out []string
	for _, o := range m.orders {
		if o.Status.IsResting() && !seen[o.Instrument] {
			seen[o.Instrument] = true
			out = append(out, o.Instrument)
		}
	}
	return out, nil
}

func (m *Memory) RecentTrades(_ context.Context, instrument string, limit int) ([]domain.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Trade
	for _, t := range m.trades {
		if t.Instrument == instrument {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) Positions(_ context.Context, clientID string) ([]domain.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Position
	for _, p := range m.positions {
		if p.ClientID == clientID {
			out = append(out, *p)
		}
	}
	return out, nil
}
