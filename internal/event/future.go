package event

import (
	"github.com/Aurora0917/olive-sc-sub000/internal/state"
)

// OpenFuture opens a fixed-expiry future, market or limit.
type OpenFuture struct {
	Meta

	Index   uint64
	Side    state.Side
	IsLimit bool

	SizeUSD          uint64
	CollateralAmount uint64
	ExpiryTime       int64

	TriggerPrice          uint64
	TriggerAboveThreshold bool
	MaxSlippageBps        uint64
}

func (c *OpenFuture) Type() CommandType { return CommandOpenFuture }

// CloseFuture closes part or all of an active future before expiry.
type CloseFuture struct {
	Meta

	Index           uint64
	ClosePercentage uint64
}

func (c *CloseFuture) Type() CommandType { return CommandCloseFuture }

// CancelFutureLimit withdraws a pending limit future.
type CancelFutureLimit struct {
	Meta

	Index uint64
}

func (c *CancelFutureLimit) Type() CommandType { return CommandCancelFutureLimit }

// ClaimFuture collects the settlement amount of a settled or liquidated
// future.
type ClaimFuture struct {
	Meta

	Index uint64
}

func (c *ClaimFuture) Type() CommandType { return CommandClaimFuture }
