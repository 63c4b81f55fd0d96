// Package engine implements the lifecycle transitions for options,
// perpetual-style positions, and fixed-expiry futures. Every operation is a
// synchronous, all-or-nothing transformation: it validates against a record
// plus pool counters and a caller-supplied oracle quote, then either returns
// the mutated record with a list of side-effect requests for the caller to
// execute, or an error with nothing applied. The engine never fetches prices
// or reads the clock itself, and it assumes the caller serializes access per
// pool and per record.
package engine

import "errors"

// Validation errors: the request itself is malformed.
var (
	ErrInvalidParameter    = errors.New("invalid parameter")
	ErrBelowMinimumSize    = errors.New("position size below minimum")
	ErrAboveMaximumSize    = errors.New("position size above maximum")
	ErrMaxLeverageExceeded = errors.New("leverage exceeds maximum")
	ErrInvalidExpiry       = errors.New("expiry outside allowed window")
	ErrInvalidTriggerPrice = errors.New("trigger price violates side constraints")
)

// Authorization errors.
var (
	ErrUnauthorized = errors.New("caller is not the record owner")
)

// State-precondition errors: the record is not in a state that admits the
// transition.
var (
	ErrPositionClosed    = errors.New("position already closed or liquidated")
	ErrNotLimitOrder     = errors.New("position is not a resting limit order")
	ErrLimitNotTriggered = errors.New("limit trigger condition not met")
	ErrNotLiquidatable   = errors.New("position does not meet liquidation conditions")
)

// Market errors: the oracle quote rejects the execution.
var (
	ErrPriceSlippage = errors.New("price outside acceptable slippage band")
)
