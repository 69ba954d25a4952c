package store

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/kairoex/matching-core/internal/domain"
)

// orderModel is the gorm-mapped row for the orders table (spec.md §6).
type orderModel struct {
	OrderID        string `gorm:"primaryKey;type:varchar(36)"`
	ClientID       string `gorm:"type:varchar(64);index"`
	Instrument     string `gorm:"type:varchar(32);index"`
	Side           string `gorm:"type:varchar(4)"`
	Type           string `gorm:"type:varchar(8)"`
	Price          decimal.Decimal `gorm:"type:numeric(28,8)"`
	Quantity       decimal.Decimal `gorm:"type:numeric(28,8)"`
	FilledQuantity decimal.Decimal `gorm:"type:numeric(28,8)"`
	Status         string          `gorm:"type:varchar(20);index"`
	IdempotencyKey string          `gorm:"type:varchar(128);uniqueIndex:idx_orders_idempotency,where:idempotency_key <> ''"`
	CreatedAt      time.Time       `gorm:"index"`
	UpdatedAt      time.Time
}

func (orderModel) TableName() string { return "orders" }

func fromOrder(o *domain.Order) orderModel {
	return orderModel{
		OrderID:        o.OrderID,
		ClientID:       o.ClientID,
		Instrument:     o.Instrument,
		Side:           string(o.Side),
		Type:           string(o.Type),
		Price:          o.Price,
		Quantity:       o.Quantity,
		FilledQuantity: o.FilledQuantity,
		Status:         string(o.Status),
		IdempotencyKey: o.IdempotencyKey,
		CreatedAt:      o.CreatedAt,
		UpdatedAt:      o.UpdatedAt,
	}
}

func (m orderModel) toOrder() *domain.Order {
	return &domain.Order{
		OrderID:        m.OrderID,
		ClientID:       m.ClientID,
		Instrument:     m.Instrument,
		Side:           domain.Side(m.Side),
		Type:           domain.OrderType(m.Type),
		Price:          m.Price,
		Quantity:       m.Quantity,
		FilledQuantity: m.FilledQuantity,
		Status:         domain.OrderStatus(m.Status),
		IdempotencyKey: m.IdempotencyKey,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

// tradeModel maps the trades table.
type tradeModel struct {
	TradeID     string `gorm:"primaryKey;type:varchar(36)"`
	BuyOrderID  string `gorm:"type:varchar(36);index"`
	SellOrderID string `gorm:"type:varchar(36);index"`
	Instrument  string `gorm:"type:varchar(32);index"`
	Price       decimal.Decimal `gorm:"type:numeric(28,8)"`
	Quantity    decimal.Decimal `gorm:"type:numeric(28,8)"`
	Timestamp   time.Time       `gorm:"index"`
}

func (tradeModel) TableName() string { return "trades" }

func fromTrade(t domain.Trade) tradeModel {
	return tradeModel{
		TradeID:     t.TradeID,
		BuyOrderID:  t.BuyOrderID,
		SellOrderID: t.SellOrderID,
		Instrument:  t.Instrument,
		Price:       t.Price,
		Quantity:    t.Quantity,
		Timestamp:   t.Timestamp,
	}
}

func (m tradeModel) toTrade() domain.Trade {
	return domain.Trade{
		TradeID:     m.TradeID,
		BuyOrderID:  m.BuyOrderID,
		SellOrderID: m.SellOrderID,
		Instrument:  m.Instrument,
		Price:       m.Price,
		Quantity:    m.Quantity,
		Timestamp:   m.Timestamp,
	}
}

// orderEventModel maps the append-only order_events table.
type orderEventModel struct {
	EventID       string `gorm:"primaryKey;type:varchar(36)"`
	OrderID       string `gorm:"type:varchar(36);index"`
	EventType     string `gorm:"type:varchar(20)"`
	OrderSnapshot string `gorm:"type:jsonb"` // serialized domain.Order
	Timestamp     time.Time `gorm:"index"`
}

func (orderEventModel) TableName() string { return "order_events" }

// snapshotModel maps order_book_snapshots, keyed by (instrument, timestamp).
type snapshotModel struct {
	Instrument string    `gorm:"primaryKey;type:varchar(32)"`
	Timestamp  time.Time `gorm:"primaryKey"`
	Payload    []byte    `gorm:"type:bytea"` // zstd-compressed JSON, see Postgres.SaveSnapshot
}

func (snapshotModel) TableName() string { return "order_book_snapshots" }

// positionModel maps client_positions, keyed by (client_id, instrument).
type positionModel struct {
	ClientID    string `gorm:"primaryKey;type:varchar(64)"`
	Instrument  string `gorm:"primaryKey;type:varchar(32)"`
	NetQuantity decimal.Decimal `gorm:"type:numeric(28,8)"`
	TotalCost   decimal.Decimal `gorm:"type:numeric(28,8)"`
	LastUpdated time.Time
}

func (positionModel) TableName() string { return "client_positions" }

func (m positionModel) toPosition() domain.Position {
	return domain.Position{
		ClientID:    m.ClientID,
		Instrument:  m.Instrument,
		NetQuantity: m.NetQuantity,
		TotalCost:   m.TotalCost,
		LastUpdated: m.LastUpdated,
	}
}

// tradeProcessedModel is a de-duplication ledger: one row per
// trade_id, inserted in the same transaction as the trade so a
// crash-and-retry replay can detect "already applied" (spec.md §4.3
// "Position update" idempotence) without relying on gorm upsert
// semantics for the trade row itself.
type tradeProcessedModel struct {
	TradeID     string `gorm:"primaryKey;type:varchar(36)"`
	ProcessedAt time.Time
}

func (tradeProcessedModel) TableName() string { return "trade_processed_ledger" }

// Models is the full set of tables AutoMigrate must create, mirroring
// the teacher's internal/db/migration.go pattern of a flat model list
// passed to gorm.DB.AutoMigrate.
func Models() []interface{} {
	return []interface{}{
		&orderModel{},
		&tradeModel{},
		&orderEventModel{},
		&snapshotModel{},
		&positionModel{},
		&tradeProcessedModel{},
	}
}

// Migrate runs schema migration against db, grounded on the teacher's
// internal/db/migration.go.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(Models()...)
}
