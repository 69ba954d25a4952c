// Package idgen generates the identifiers used across the exchange:
// K-sortable ids for trades and events (so generation order is
// recoverable from the id alone) and UUIDs for orders.
package idgen

import (
	"sync"

	"github.com/google/uuid"
	"github.com/segmentio/ksuid"
)

// KSUID produces K-sortable, globally unique identifiers — used for
// trade_id and event_id, which spec.md requires to be monotonic
// (§3 "event_id (monotonic)").
type KSUID struct{}

var (
	lastMu sync.Mutex
	last   ksuid.KSUID
)

// NewID returns a new ksuid string. A ksuid's timestamp has one-second
// resolution, so an id that would not sort after the previous one is
// replaced by the previous one's successor, keeping ids strictly
// increasing within the process.
func (KSUID) NewID() string {
	lastMu.Lock()
	defer lastMu.Unlock()
	id := ksuid.New()
	if ksuid.Compare(id, last) <= 0 {
		id = last.Next()
	}
	last = id
	return id.String()
}

// NewOrderID returns a new order_id, used by the coordinator when the
// caller does not supply one (spec.md §4.3 step 3).
func NewOrderID() string {
	return uuid.NewString()
}
