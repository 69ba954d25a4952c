package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // sqlx driver registration
	"github.com/jmoiron/sqlx"
	"github.com/klauspost/compress/zstd"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/kairoex/matching-core/internal/domain"
)

// RetryPolicy bounds the exponential backoff applied to a transient
// durable-store failure before it is surfaced as class 5 (spec.md §7).
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// DefaultRetryPolicy matches the teacher's resilience defaults
// (internal/architecture/fx/resilience/circuit_breaker.go uses a
// similar request/ratio threshold).
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 4, BaseDelay: 25 * time.Millisecond}
}

// Postgres is the production Store, gorm for schema + simple model
// upserts and sqlx for the hand-written atomic position delta and
// idempotency-aware inserts gorm cannot express directly — grounded on
// the teacher's combination of gorm (internal/db/migration.go) and a
// raw sqlx.DB (internal/db/connection_pool.go) inside the same
// service. Every call is wrapped by a circuit breaker
// (internal/architecture/fx/resilience/circuit_breaker.go) and bounded
// retry.
type Postgres struct {
	db      *gorm.DB
	sqlxDB  *sqlx.DB
	breaker *gobreaker.CircuitBreaker
	retry   RetryPolicy
	logger  *zap.Logger
}

// Open connects to dsn, verifies readiness (spec.md §4.5 step 1: "Open
// durable connections; verify readiness"), and migrates the schema.
func Open(ctx context.Context, dsn string, retry RetryPolicy, logger *zap.Logger) (*Postgres, error) {
	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("store: open postgres: %w", err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("store: underlying sql.DB: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	if err := Migrate(gdb); err != nil {
		return nil, fmt.Errorf("store: migrate: %w", err)
	}

	settings := gobreaker.Settings{
		Name:        "durable-record-store",
		MaxRequests: 5,
		Interval:    30 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 10 && failureRatio >= 0.5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				zap.String("name", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	}

	return &Postgres{
		db:      gdb,
		sqlxDB:  sqlx.NewDb(sqlDB, "pgx"),
		breaker: gobreaker.NewCircuitBreaker(settings),
		retry:   retry,
		logger:  logger,
	}, nil
}

// withRetry executes op with bounded exponential backoff behind the
// circuit breaker. Exhaustion surfaces ErrUnavailable (spec.md §7
// class 5); it never retries class 6 invariant panics, which propagate.
func (p *Postgres) withRetry(ctx context.Context, op func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt < p.retry.MaxAttempts; attempt++ {
		_, err := p.breaker.Execute(func() (interface{}, error) {
			return nil, op(ctx)
		})
		if err == nil {
			return nil
		}
		lastErr = err
		if attempt == p.retry.MaxAttempts-1 {
			break
		}
		delay := p.retry.BaseDelay * time.Duration(1<<uint(attempt))
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	p.logger.Error("durable store operation exhausted retries", zap.Error(lastErr))
	return fmt.Errorf("%w: %v", ErrUnavailable, lastErr)
}

func (p *Postgres) SaveOrder(ctx context.Context, o *domain.Order) error {
	var duplicate bool
	err := p.withRetry(ctx, func(ctx context.Context) error {
		m := fromOrder(o)
		err := p.db.WithContext(ctx).Save(&m).Error
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			// unique_violation: the only unique key Save can hit is
			// the idempotency_key index; not transient, so no retry.
			duplicate = true
			return nil
		}
		return err
	})
	if duplicate {
		return ErrDuplicateIdempotencyKey
	}
	return err
}

func (p *Postgres) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	var m orderModel
	err := p.withRetry(ctx, func(ctx context.Context) error {
		err := p.db.WithContext(ctx).First(&m, "order_id = ?", orderID).Error
		if err == gorm.ErrRecordNotFound {
			return nil
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	if m.OrderID == "" {
		return nil, ErrOrderNotFound
	}
	return m.toOrder(), nil
}

func (p *Postgres) AppendEvent(ctx context.Context, e domain.OrderEvent) error {
	payload, err := json.Marshal(e.OrderSnapshot)
	if err != nil {
		return fmt.Errorf("store: marshal event snapshot: %w", err)
	}
	row := orderEventModel{
		EventID:       e.EventID,
		OrderID:       e.OrderID,
		EventType:     string(e.EventType),
		OrderSnapshot: string(payload),
		Timestamp:     e.Timestamp,
	}
	return p.withRetry(ctx, func(ctx context.Context) error {
		return p.db.WithContext(ctx).Create(&row).Error
	})
}

// SaveTrade persists the trade, both order rows, and the signed
// position delta for both clients in a single sqlx transaction — the
// atomic multi-statement unit spec.md §6 requires. It is idempotent
// per trade_id via tradeProcessedModel: a transaction that finds the
// ledger row already present commits as a no-op (spec.md §4.3
// "Position update").
func (p *Postgres) SaveTrade(ctx context.Context, trade domain.Trade, buyOrder, sellOrder *domain.Order) error {
	return p.withRetry(ctx, func(ctx context.Context) error {
		tx, err := p.sqlxDB.BeginTxx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		var already int
		if err := tx.GetContext(ctx, &already,
			`SELECT count(*) FROM trade_processed_ledger WHERE trade_id = $1`, trade.TradeID); err != nil {
			return err
		}
		if already > 0 {
			return tx.Commit()
		}

		tm := fromTrade(trade)
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO trades (trade_id, buy_order_id, sell_order_id, instrument, price, quantity, timestamp)
			 VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			tm.TradeID, tm.BuyOrderID, tm.SellOrderID, tm.Instrument,
			tm.Price, tm.Quantity, tm.Timestamp); err != nil {
			return err
		}

		for _, o := range []*domain.Order{buyOrder, sellOrder} {
			m := fromOrder(o)
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO orders (order_id, client_id, instrument, side, type, price, quantity, filled_quantity, status, idempotency_key, created_at, updated_at)
				 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,NULLIF($10,''),$11,$12)
				 ON CONFLICT (order_id) DO UPDATE SET filled_quantity = EXCLUDED.filled_quantity, status = EXCLUDED.status, updated_at = EXCLUDED.updated_at`,
				m.OrderID, m.ClientID, m.Instrument, m.Side, m.Type, m.Price, m.Quantity,
				m.FilledQuantity, m.Status, m.IdempotencyKey, m.CreatedAt, m.UpdatedAt); err != nil {
				return err
			}
		}

		if err := upsertPositionDelta(ctx, tx, buyOrder.ClientID, trade.Instrument, domain.SideBuy, trade.Price, trade.Quantity); err != nil {
			return err
		}
		if err := upsertPositionDelta(ctx, tx, sellOrder.ClientID, trade.Instrument, domain.SideSell, trade.Price, trade.Quantity); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO trade_processed_ledger (trade_id, processed_at) VALUES ($1, $2)`,
			trade.TradeID, time.Now()); err != nil {
			return err
		}

		return tx.Commit()
	})
}

// upsertPositionDelta applies one side's signed delta to
// client_positions with a single atomic upsert statement (spec.md §4.3
// "Position update": "a single upsert statement that adds signed
// delta"), so a transaction retried after a crash cannot double-count:
// the whole transaction either committed (ledger row present, see
// SaveTrade) or never touched the position row at all.
func upsertPositionDelta(ctx context.Context, tx *sqlx.Tx, clientID, instrument string, side domain.Side, price, quantity decimal.Decimal) error {
	netDelta, costDelta := domain.Delta(side, price, quantity)
	_, err := tx.ExecContext(ctx, `
		INSERT INTO client_positions (client_id, instrument, net_quantity, total_cost, last_updated)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (client_id, instrument) DO UPDATE SET
			net_quantity = client_positions.net_quantity + EXCLUDED.net_quantity,
			total_cost   = client_positions.total_cost + EXCLUDED.total_cost,
			last_updated = EXCLUDED.last_updated`,
		clientID, instrument, netDelta, costDelta, time.Now())
	return err
}

// snapshotEncoder compresses snapshot payloads before they hit
// bytea storage (snapshotModel.Payload doc: "compressed JSON"),
// grounded on the teacher's internal/performance/message_compressor.go
// zstd usage. A single package-level encoder is reused across calls;
// zstd.Encoder is safe for concurrent use.
var snapshotEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))

func (p *Postgres) SaveSnapshot(ctx context.Context, snap domain.BookSnapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("store: marshal snapshot: %w", err)
	}
	compressed := snapshotEncoder.EncodeAll(payload, nil)
	row := snapshotModel{Instrument: snap.Instrument, Timestamp: snap.CapturedAt, Payload: compressed}
	return p.withRetry(ctx, func(ctx context.Context) error {
		return p.db.WithContext(ctx).Create(&row).Error
	})
}

func (p *Postgres) ListOpenOrders(ctx context.Context, instrument string) ([]*domain.Order, error) {
	var rows []orderModel
	err := p.withRetry(ctx, func(ctx context.Context) error {
		return p.db.WithContext(ctx).
			Where("instrument = ? AND status IN ?", instrument, []string{string(domain.OrderStatusOpen), string(domain.OrderStatusPartiallyFilled)}).
			Order("created_at ASC").
			Find(&rows).Error
	})
	if err != nil {
		return nil, err
	}
	out := make([]*domain.Order, len(rows))
	for i, m := range rows {
		out[i] = m.toOrder()
	}
	return out, nil
}

func (p *Postgres) Instruments(ctx context.Context) ([]string, error) {
	var instruments []string
	err := p.withRetry(ctx, func(ctx context.Context) error {
		return p.db.WithContext(ctx).Model(&orderModel{}).
			Where("status IN ?", []string{string(domain.OrderStatusOpen), string(domain.OrderStatusPartiallyFilled)}).
			Distinct().Pluck("instrument", &instruments).Error
	})
	return instruments, err
}

func (p *Postgres) RecentTrades(ctx context.Context, instrument string, limit int) ([]domain.Trade, error) {
	var rows []tradeModel
	err := p.withRetry(ctx, func(ctx context.Context) error {
		return p.db.WithContext(ctx).
			Where("instrument = ?", instrument).
			Order("timestamp DESC").
			Limit(limit).
			Find(&rows).Error
	})
	if err != nil {
		return nil, err
	}
	out := make([]domain.Trade, len(rows))
	for i, m := range rows {
		out[i] = m.toTrade()
	}
	return out, nil
}

func (p *Postgres) Positions(ctx context.Context, clientID string) ([]domain.Position, error) {
	var rows []positionModel
	err := p.withRetry(ctx, func(ctx context.Context) error {
		return p.db.WithContext(ctx).Where("client_id = ?", clientID).Find(&rows).Error
	})
	if err != nil {
		return nil, err
	}
	out := make([]domain.Position, len(rows))
	for i, m := range rows {
		out[i] = m.toPosition()
	}
	return out, nil
}
