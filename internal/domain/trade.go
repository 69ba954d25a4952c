package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade is an immutable record of a match between two orders on the
// same instrument and opposite sides. Price is always the resting
// (maker) order's price at the moment of match.
type Trade struct {
	TradeID     string
	BuyOrderID  string
	SellOrderID string
	Instrument  string
	Price       decimal.Decimal
	Quantity    decimal.Decimal
	Timestamp   time.Time
}
