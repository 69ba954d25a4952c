// Package exchange implements the exchange coordinator (spec.md §4.3):
// the only component external callers interact with. It enforces
// idempotency, drives persistence and event publication, and routes
// commands into each instrument's matching engine.
package exchange

import "errors"

// Error taxonomy, spec.md §7. Classes 4 and 6 originate in the
// matching engine; the rest originate here or in validation.
var (
	// ErrValidation is class 1: malformed input, rejected
	// synchronously, never persisted.
	ErrValidation = errors.New("exchange: validation failure")

	// ErrNotFound is class 3: get/cancel on an order found in neither
	// an engine nor the store. A terminal order is not an error: get
	// returns it, and cancel returns it unchanged.
	ErrNotFound = errors.New("exchange: order not found")

	// ErrInsufficientLiquidity is class 4, surfaced when a market
	// order's SubmitResult comes back rejected.
	ErrInsufficientLiquidity = errors.New("exchange: insufficient liquidity")

	// ErrPersistenceUnavailable is class 5: the durable store's
	// retry/backoff budget was exhausted. It never undoes an
	// in-memory match already executed.
	ErrPersistenceUnavailable = errors.New("exchange: durable store unavailable")

	// ErrUnknownInstrument is returned when an instrument has no
	// engine and recovery/on-demand creation is not applicable (e.g.
	// get_book for an instrument that has never traded).
	ErrUnknownInstrument = errors.New("exchange: unknown instrument")
)
