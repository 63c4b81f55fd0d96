package event

import (
	"github.com/Aurora0917/olive-sc-sub000/internal/state"
)

// OpenOption buys a covered call or cash-secured put against the pool.
type OpenOption struct {
	Meta

	Index       uint64
	OptionType  state.OptionType
	Amount      uint64 // backing in native units of the locked custody
	StrikePrice uint64 // 6-decimal
	Period      uint64 // seconds from purchase to expiry
}

func (c *OpenOption) Type() CommandType { return CommandOpenOption }

// CloseOption sells part or all of a grant back to the pool before expiry.
type CloseOption struct {
	Meta

	Index         uint64
	CloseQuantity uint64 // whole contracts; 0 closes everything
}

func (c *CloseOption) Type() CommandType { return CommandCloseOption }

// ExerciseOption settles an in-the-money grant before expiry.
type ExerciseOption struct {
	Meta

	Index uint64
}

func (c *ExerciseOption) Type() CommandType { return CommandExerciseOption }

// ClaimOption collects value parked by the auto-exercise sweep.
type ClaimOption struct {
	Meta

	Index uint64
}

func (c *ClaimOption) Type() CommandType { return CommandClaimOption }

// EditOption amends a live grant. NewStrike, NewExpiry, and NewQuantity
// reprice the grant's terms against a fresh valuation; TakeProfit and
// StopLoss move the attached triggers, where zero clears. A nil pointer
// keeps the current value.
type EditOption struct {
	Meta

	Index       uint64
	NewStrike   *uint64
	NewExpiry   *int64
	NewQuantity *uint64
	TakeProfit  *uint64
	StopLoss    *uint64
}

func (c *EditOption) Type() CommandType { return CommandEditOption }
