package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceLevel is one aggregated rung of a book snapshot.
type PriceLevel struct {
	Price      decimal.Decimal
	Quantity   decimal.Decimal // sum of remaining across the level's orders
	Cumulative decimal.Decimal // running sum of Quantity from the best level inward
}

// BookSnapshot is a top-N advisory view of one instrument's book.
// Never authoritative; the event stream is (spec.md §3).
type BookSnapshot struct {
	Instrument string
	Bids       []PriceLevel // best (highest) first
	Asks       []PriceLevel // best (lowest) first
	CapturedAt time.Time
}
