package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position is the accumulated net exposure of one client in one
// instrument, derived purely from the trade stream (spec.md §3).
type Position struct {
	ClientID    string
	Instrument  string
	NetQuantity decimal.Decimal // signed
	TotalCost   decimal.Decimal // signed, sum of ±price*quantity
	LastUpdated time.Time
}

// Delta is the signed adjustment one trade side contributes to a
// position: a buy adds +quantity/+price*quantity, a sell negates both.
func Delta(side Side, price, quantity decimal.Decimal) (netDelta, costDelta decimal.Decimal) {
	notional := price.Mul(quantity)
	if side == SideSell {
		return quantity.Neg(), notional.Neg()
	}
	return quantity, notional
}
