package state

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/Aurora0917/olive-sc-sub000/internal/oracle"

	fpmath "github.com/Aurora0917/olive-sc-sub000/internal/math"
)

// Side of a leveraged position.
type Side uint8

const (
	SideLong Side = iota
	SideShort
)

func (s Side) String() string {
	if s == SideShort {
		return "Short"
	}
	return "Long"
}

// Sign returns +1 for long, -1 for short.
func (s Side) Sign() int64 {
	if s == SideShort {
		return -1
	}
	return 1
}

// Opposite flips the side.
func (s Side) Opposite() Side {
	if s == SideLong {
		return SideShort
	}
	return SideLong
}

// OrderType distinguishes immediately-executed positions from resting limit
// orders awaiting a trigger price.
type OrderType uint8

const (
	OrderTypeMarket OrderType = iota
	OrderTypeLimit
)

func (o OrderType) String() string {
	if o == OrderTypeLimit {
		return "Limit"
	}
	return "Market"
}

// Position is a leveraged margin position against pool liquidity. A limit
// position carries trigger fields and no pool lock until execution converts
// it to market; a market position carries entry snapshots and a lock.
type Position struct {
	ID    uuid.UUID
	Owner uuid.UUID
	Index uint64
	Pool  string

	// Custody is the traded asset, CollateralCustody the asset the user
	// posted. Longs collateralize in the underlying, shorts in the stable.
	Custody           oracle.AssetID
	CollateralCustody oracle.AssetID

	OrderType OrderType
	Side      Side

	// Price is the entry price (limit price while pending), 6-decimal.
	Price         uint64
	SizeUSD       uint64
	BorrowSizeUSD uint64

	CollateralUSD    uint64
	CollateralAmount uint64
	LockedAmount     uint64

	LiquidationPrice     uint64
	InitialMarginBps     uint32
	MaintenanceMarginBps uint32

	// CumulativeInterestSnapshot is the pool counter (micro-bps) at the last
	// borrow-fee settlement; the delta against the live counter is what the
	// position owes.
	CumulativeInterestSnapshot uint64
	LastBorrowFeesUpdateTime   int64
	AccruedBorrowFees          uint64
	BorrowFeesPaid             uint64
	TradeFeesPaid              uint64

	TakeProfitPrice uint64 // 0 = unset
	StopLossPrice   uint64 // 0 = unset

	// Limit-order fields, meaningful only while OrderType is Limit.
	TriggerPrice          uint64
	TriggerAboveThreshold bool
	MaxSlippageBps        uint64

	OpenTime   int64
	UpdateTime int64

	IsLiquidated bool
}

// IsPendingLimit reports whether the position is a resting limit order.
func (p *Position) IsPendingLimit() bool {
	return p.OrderType == OrderTypeLimit
}

// Leverage returns size over collateral in bps (10_000 = 1x).
func (p *Position) Leverage() (uint64, error) {
	if p.CollateralUSD == 0 {
		return 0, fpmath.ErrDivisionByZero
	}
	return fpmath.MulDivU(p.SizeUSD, uint64(fpmath.FullBPS), p.CollateralUSD)
}

// PnLUSD is the unrealized signed profit at markPrice, before fees:
// side_sign * (mark - entry) * size / entry.
func (p *Position) PnLUSD(markPrice uint64) (int64, error) {
	if p.Price == 0 {
		return 0, fpmath.ErrDivisionByZero
	}
	diff := int64(markPrice) - int64(p.Price)
	pnl, err := fpmath.MulDiv(diff, int64(p.SizeUSD), int64(p.Price))
	if err != nil {
		return 0, err
	}
	return p.Side.Sign() * pnl, nil
}

// EquityUSD is collateral plus unrealized pnl, floored at zero.
func (p *Position) EquityUSD(markPrice uint64) (uint64, error) {
	pnl, err := p.PnLUSD(markPrice)
	if err != nil {
		return 0, err
	}
	equity := int64(p.CollateralUSD) + pnl
	if equity < 0 {
		return 0, nil
	}
	return uint64(equity), nil
}

// MarginRatioBps is equity over size in bps; zero size yields zero ratio.
func (p *Position) MarginRatioBps(markPrice uint64) (uint64, error) {
	if p.SizeUSD == 0 {
		return 0, nil
	}
	equity, err := p.EquityUSD(markPrice)
	if err != nil {
		return 0, err
	}
	return fpmath.MulDivU(equity, uint64(fpmath.FullBPS), p.SizeUSD)
}

// ShouldExecuteLimit reports whether markPrice satisfies the trigger
// condition of a resting limit order.
func (p *Position) ShouldExecuteLimit(markPrice uint64) bool {
	if p.OrderType != OrderTypeLimit {
		return false
	}
	if p.TriggerAboveThreshold {
		return markPrice >= p.TriggerPrice
	}
	return markPrice <= p.TriggerPrice
}

// WithinSlippage reports whether markPrice is inside the limit order's band
// around the trigger price.
func (p *Position) WithinSlippage(markPrice uint64) (bool, error) {
	if p.MaxSlippageBps == 0 {
		return true, nil
	}
	band, err := fpmath.MulDivU(p.TriggerPrice, p.MaxSlippageBps, uint64(fpmath.FullBPS))
	if err != nil {
		return false, err
	}
	low := p.TriggerPrice - min64(band, p.TriggerPrice)
	high, err := fpmath.CheckedAdd(p.TriggerPrice, band)
	if err != nil {
		return false, err
	}
	return markPrice >= low && markPrice <= high, nil
}

// SetTakeProfit records a TP trigger. Price validity versus entry and
// liquidation price is enforced by the caller.
func (p *Position) SetTakeProfit(price uint64) {
	p.TakeProfitPrice = price
}

// SetStopLoss records an SL trigger.
func (p *Position) SetStopLoss(price uint64) {
	p.StopLossPrice = price
}

// ClearTriggers drops both TP and SL.
func (p *Position) ClearTriggers() {
	p.TakeProfitPrice = 0
	p.StopLossPrice = 0
}

// Validate checks basic structural invariants shared by market and limit
// positions.
func (p *Position) Validate() error {
	if p.SizeUSD == 0 {
		return fmt.Errorf("position %s: zero size", p.ID)
	}
	if p.Price == 0 {
		return fmt.Errorf("position %s: zero price", p.ID)
	}
	if p.OrderType == OrderTypeLimit && p.TriggerPrice == 0 {
		return fmt.Errorf("position %s: limit order without trigger price", p.ID)
	}
	return nil
}

func min64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}
