package event

import (
	"github.com/Aurora0917/olive-sc-sub000/internal/state"
)

// OpenPosition opens a market or limit perpetual position.
type OpenPosition struct {
	Meta

	Index     uint64
	Side      state.Side
	OrderType state.OrderType

	SizeUSD          uint64
	CollateralAmount uint64

	TriggerPrice          uint64
	TriggerAboveThreshold bool
	MaxSlippageBps        uint64
}

func (c *OpenPosition) Type() CommandType { return CommandOpenPosition }

// ClosePosition closes part or all of an active position. ClosePercentage
// uses the 6-decimal close scale where 100_000_000 is 100%.
type ClosePosition struct {
	Meta

	Index           uint64
	ClosePercentage uint64
}

func (c *ClosePosition) Type() CommandType { return CommandClosePosition }

// CancelLimit withdraws a resting limit order and refunds its collateral.
type CancelLimit struct {
	Meta

	Index uint64
}

func (c *CancelLimit) Type() CommandType { return CommandCancelLimit }

// AddCollateral posts additional collateral to an active position.
type AddCollateral struct {
	Meta

	Index  uint64
	Amount uint64 // native units of the collateral custody
}

func (c *AddCollateral) Type() CommandType { return CommandAddCollateral }

// RemoveCollateral withdraws collateral, subject to leverage and margin
// checks at the current mark.
type RemoveCollateral struct {
	Meta

	Index  uint64
	Amount uint64
}

func (c *RemoveCollateral) Type() CommandType { return CommandRemoveCollateral }

// IncreaseSize grows an active position, blending the entry price.
type IncreaseSize struct {
	Meta

	Index               uint64
	AddSizeUSD          uint64
	AddCollateralAmount uint64
}

func (c *IncreaseSize) Type() CommandType { return CommandIncreaseSize }

// DecreaseSize shrinks an active position by a USD amount.
type DecreaseSize struct {
	Meta

	Index         uint64
	RemoveSizeUSD uint64
}

func (c *DecreaseSize) Type() CommandType { return CommandDecreaseSize }
