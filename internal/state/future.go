package state

import (
	"fmt"
	"math"

	"github.com/google/uuid"

	"github.com/Aurora0917/olive-sc-sub000/internal/oracle"

	fpmath "github.com/Aurora0917/olive-sc-sub000/internal/math"
)

// FutureStatus is the lifecycle state of a fixed-expiry future.
type FutureStatus uint8

const (
	FutureStatusPending FutureStatus = iota // limit order awaiting execution
	FutureStatusActive
	FutureStatusExpired // past expiry, awaiting settlement
	FutureStatusSettled
	FutureStatusLiquidated
)

func (s FutureStatus) String() string {
	switch s {
	case FutureStatusPending:
		return "Pending"
	case FutureStatusActive:
		return "Active"
	case FutureStatusExpired:
		return "Expired"
	case FutureStatusSettled:
		return "Settled"
	case FutureStatusLiquidated:
		return "Liquidated"
	default:
		return "Unknown"
	}
}

// Future risk constants. The leverage cap is tighter than for perpetuals
// because expiry risk removes the option to wait out a drawdown.
const (
	FutureMaxLeverage          = 250.0
	FutureMinInitialMarginBps  = 40
	FutureMaintenanceMarginBps = 20
	FutureOpeningFeeBps        = 10
	FutureSettlementFeeBps     = 5
	futureMinTimeToExpiryYears = 0.001
)

var (
	ErrFutureNotActive     = fmt.Errorf("future is not active")
	ErrFutureNotExpired    = fmt.Errorf("future has not been marked expired")
	ErrFutureNotYetExpired = fmt.Errorf("future has not reached expiry time")
	ErrNothingToClaim      = fmt.Errorf("no settlement amount to claim")
)

// Future is a fixed-expiry contract whose carry is locked at open: PnL and
// liquidation price both embed the fixed rate's term structure, unlike a
// perpetual Position whose rate floats with pool utilization.
type Future struct {
	ID    uuid.UUID
	Owner uuid.UUID
	Index uint64
	Pool  string

	Custody           oracle.AssetID
	CollateralCustody oracle.AssetID

	Side   Side
	Status FutureStatus

	EntryPrice       uint64 // spot at open, 6-decimal
	FuturePrice      uint64 // theoretical S*exp(rT) at open, 6-decimal
	SizeUSD          uint64
	CollateralUSD    uint64
	CollateralAmount uint64
	LockedAmount     uint64

	OpenTime       int64
	ExpiryTime     int64
	UpdateTime     int64
	SettlementTime int64 // 0 until settled/liquidated

	FixedInterestRateBps uint32
	TimeToExpiryAtOpen   int64 // seconds

	LiquidationPrice     uint64
	MaintenanceMarginBps uint32

	// Settlement fields stay zero until status reaches Settled or
	// Liquidated; SettlementAmount is consumed exactly once by Claim.
	SettlementPrice  uint64
	PnLAtSettlement  int64
	SettlementAmount uint64
	Claimed          bool

	OpeningFee    uint64
	SettlementFee uint64

	TriggerPrice          uint64
	TriggerAboveThreshold bool
	MaxSlippageBps        uint64
	ExecutionTime         int64
}

// TheoreticalFuturePrice is F = S * exp(r*T).
func TheoreticalFuturePrice(spotPrice float64, fixedRateBps uint32, timeToExpiryYears float64) float64 {
	r := float64(fixedRateBps) / float64(fpmath.FullBPS)
	return spotPrice * math.Exp(r*timeToExpiryYears)
}

// timeFactors returns the open-time and current time-to-expiry in years.
func (f *Future) timeFactors(now int64) (t0, t1 float64) {
	t0 = float64(f.TimeToExpiryAtOpen) / SecondsPerYear
	elapsed := float64(now - f.OpenTime)
	t1 = (float64(f.TimeToExpiryAtOpen) - elapsed) / SecondsPerYear
	if t1 < 0 {
		t1 = 0
	}
	return t0, t1
}

// CarryPnL is the signed unrealized profit at spotPrice using the
// carry-adjusted formula
//
//	(size/P_e) * (P_m*exp(r*t1) - P_e*exp(r*t0))
//
// negated for shorts. t0 is time-to-expiry at open, t1 time-to-expiry now,
// so the result converges to the spot-delta PnL as expiry approaches.
func (f *Future) CarryPnL(spotPrice uint64, now int64) (int64, error) {
	if f.EntryPrice == 0 {
		return 0, fpmath.ErrDivisionByZero
	}
	t0, t1 := f.timeFactors(now)
	r := float64(f.FixedInterestRateBps) / float64(fpmath.FullBPS)

	pe := float64(f.EntryPrice) / float64(fpmath.PriceScale)
	pm := float64(spotPrice) / float64(fpmath.PriceScale)
	size := float64(f.SizeUSD) / float64(fpmath.USDScale)

	quantity := size / pe
	pnl := quantity * (pm*math.Exp(r*t1) - pe*math.Exp(r*t0))
	if f.Side == SideShort {
		pnl = -pnl
	}
	return fpmath.CheckedAsI64(pnl * float64(fpmath.USDScale))
}

// ComputeLiquidationPrice embeds the locked fixed-rate carry:
//
//	P_liq = P_e*exp_ratio -/+ (collateral - close_fee - min_margin)*P_e*exp_ratio/size
//
// with exp_ratio = exp(r*t0)/exp(r*t1), t1 floored at 0.001y near expiry,
// close_fee the settlement fee on size, and min_margin = size/max_leverage.
func (f *Future) ComputeLiquidationPrice(now int64) (uint64, error) {
	if f.SizeUSD == 0 {
		return 0, fpmath.ErrDivisionByZero
	}
	t0, t1 := f.timeFactors(now)
	if t1 < futureMinTimeToExpiryYears {
		t1 = futureMinTimeToExpiryYears
	}
	r := float64(f.FixedInterestRateBps) / float64(fpmath.FullBPS)
	expRatio := math.Exp(r*t0) / math.Exp(r*t1)

	pe := float64(f.EntryPrice) / float64(fpmath.PriceScale)
	size := float64(f.SizeUSD) / float64(fpmath.USDScale)
	collateral := float64(f.CollateralUSD) / float64(fpmath.USDScale)

	closeFee := size * FutureSettlementFeeBps / float64(fpmath.FullBPS)
	minMargin := size / FutureMaxLeverage

	buffer := (collateral - closeFee - minMargin) * pe * expRatio / size
	var pLiq float64
	if f.Side == SideLong {
		pLiq = pe*expRatio - buffer
	} else {
		pLiq = pe*expRatio + buffer
	}
	if pLiq < 0 {
		pLiq = 0
	}
	return fpmath.CheckedAsU64(pLiq * float64(fpmath.PriceScale))
}

// IsExpired reports whether expiry time has passed.
func (f *Future) IsExpired(now int64) bool {
	return now >= f.ExpiryTime
}

// TimeToExpiry is the seconds remaining, floored at zero.
func (f *Future) TimeToExpiry(now int64) int64 {
	remaining := f.ExpiryTime - now
	if remaining < 0 {
		return 0
	}
	return remaining
}

// IsLiquidatable applies the margin test: equity (collateral + carry PnL,
// floored at zero) below the maintenance requirement on size.
func (f *Future) IsLiquidatable(spotPrice uint64, now int64) (bool, error) {
	if f.Status != FutureStatusActive {
		return false, nil
	}
	pnl, err := f.CarryPnL(spotPrice, now)
	if err != nil {
		return false, err
	}
	equity := int64(f.CollateralUSD) + pnl
	if equity < 0 {
		equity = 0
	}
	required, err := fpmath.MulDivU(f.SizeUSD, uint64(f.MaintenanceMarginBps), uint64(fpmath.FullBPS))
	if err != nil {
		return false, err
	}
	return uint64(equity) < required, nil
}

// settlementAmount nets collateral, carry PnL, and the settlement fee,
// floored at zero. Loss beyond collateral is pool-absorbed bad debt.
func (f *Future) settlementAmount(price uint64, now int64) (uint64, int64, error) {
	pnl, err := f.CarryPnL(price, now)
	if err != nil {
		return 0, 0, err
	}
	net := int64(f.CollateralUSD) + pnl - int64(f.SettlementFee)
	if net < 0 {
		net = 0
	}
	return uint64(net), pnl, nil
}

// MarkExpired transitions Active -> Expired once expiry time has passed.
func (f *Future) MarkExpired(now int64) error {
	if !f.IsExpired(now) {
		return ErrFutureNotYetExpired
	}
	if f.Status != FutureStatusActive {
		return ErrFutureNotActive
	}
	f.Status = FutureStatusExpired
	f.UpdateTime = now
	return nil
}

// Settle transitions Expired -> Settled at settlementPrice and records the
// claimable amount.
func (f *Future) Settle(settlementPrice uint64, now int64) (uint64, error) {
	if f.Status != FutureStatusExpired {
		return 0, ErrFutureNotExpired
	}
	amount, pnl, err := f.settlementAmount(settlementPrice, now)
	if err != nil {
		return 0, err
	}
	f.Status = FutureStatusSettled
	f.SettlementTime = now
	f.SettlementPrice = settlementPrice
	f.PnLAtSettlement = pnl
	f.SettlementAmount = amount
	f.UpdateTime = now
	return amount, nil
}

// Liquidate transitions Active -> Liquidated, recording remaining collateral
// as the claimable amount.
func (f *Future) Liquidate(liquidationPrice uint64, now int64) (uint64, int64, error) {
	if f.Status != FutureStatusActive {
		return 0, 0, ErrFutureNotActive
	}
	amount, pnl, err := f.settlementAmount(liquidationPrice, now)
	if err != nil {
		return 0, 0, err
	}
	f.Status = FutureStatusLiquidated
	f.SettlementTime = now
	f.SettlementPrice = liquidationPrice
	f.PnLAtSettlement = pnl
	f.SettlementAmount = amount
	f.UpdateTime = now
	return amount, pnl, nil
}

// Claim consumes the settlement amount exactly once.
func (f *Future) Claim(now int64) (uint64, error) {
	if f.Status != FutureStatusSettled && f.Status != FutureStatusLiquidated {
		return 0, ErrNothingToClaim
	}
	if f.Claimed || f.SettlementAmount == 0 {
		return 0, ErrNothingToClaim
	}
	amount := f.SettlementAmount
	f.SettlementAmount = 0
	f.Claimed = true
	f.UpdateTime = now
	return amount, nil
}

// ShouldExecuteLimit reports whether a pending future's trigger condition
// is met at spotPrice.
func (f *Future) ShouldExecuteLimit(spotPrice uint64) bool {
	if f.Status != FutureStatusPending || f.TriggerPrice == 0 {
		return false
	}
	if f.TriggerAboveThreshold {
		return spotPrice >= f.TriggerPrice
	}
	return spotPrice <= f.TriggerPrice
}

// ApplyResize updates the mutable fields after a partial close or collateral
// change; only Active futures may be resized.
func (f *Future) ApplyResize(sizeUSD, collateralUSD, collateralAmount uint64, now int64) error {
	if f.Status != FutureStatusActive {
		return ErrFutureNotActive
	}
	f.SizeUSD = sizeUSD
	f.CollateralUSD = collateralUSD
	f.CollateralAmount = collateralAmount
	f.UpdateTime = now
	return nil
}
