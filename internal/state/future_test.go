package state

import (
	"math"
	"testing"
)

const yearSeconds = int64(365.25 * 24 * 3600)

func newTestFuture(side Side) *Future {
	return &Future{
		Side:                 side,
		Status:               FutureStatusActive,
		EntryPrice:           100_000000,
		SizeUSD:              1_000_000000,
		CollateralUSD:        100_000000,
		OpenTime:             0,
		ExpiryTime:           yearSeconds / 4,
		FixedInterestRateBps: 500, // 5% locked at open
		TimeToExpiryAtOpen:   yearSeconds / 4,
		MaintenanceMarginBps: FutureMaintenanceMarginBps,
		SettlementFee:        500000, // 5 bps on 1000 USD
	}
}

func TestCarryPnLConvergesToSpotDelta(t *testing.T) {
	f := newTestFuture(SideLong)

	// At expiry t1 = 0, so PnL = (size/entry)*(mark - entry*exp(r*t0)).
	mark := uint64(105_000000)
	got, err := f.CarryPnL(mark, f.ExpiryTime)
	if err != nil {
		t.Fatal(err)
	}
	r := 0.05
	t0 := 0.25
	want := (1000.0 / 100.0) * (105.0 - 100.0*math.Exp(r*t0))
	wantScaled := int64(want * 1_000_000)
	if diff := got - wantScaled; diff < -2 || diff > 2 {
		t.Errorf("pnl at expiry = %d, want ~%d", got, wantScaled)
	}
}

func TestCarryPnLShortNegatesLong(t *testing.T) {
	long := newTestFuture(SideLong)
	short := newTestFuture(SideShort)
	now := yearSeconds / 8

	lp, err := long.CarryPnL(110_000000, now)
	if err != nil {
		t.Fatal(err)
	}
	sp, err := short.CarryPnL(110_000000, now)
	if err != nil {
		t.Fatal(err)
	}
	if lp != -sp {
		t.Errorf("short pnl %d is not the negation of long pnl %d", sp, lp)
	}
	if lp <= 0 {
		t.Errorf("long pnl on a 10%% rally should be positive, got %d", lp)
	}
}

func TestFutureLiquidationPriceSides(t *testing.T) {
	long := newTestFuture(SideLong)
	short := newTestFuture(SideShort)

	longLiq, err := long.ComputeLiquidationPrice(0)
	if err != nil {
		t.Fatal(err)
	}
	shortLiq, err := short.ComputeLiquidationPrice(0)
	if err != nil {
		t.Fatal(err)
	}

	// The carry-adjusted pivot is entry*exp_ratio; long liq sits below it,
	// short above.
	if longLiq >= shortLiq {
		t.Errorf("long liq %d should be below short liq %d", longLiq, shortLiq)
	}
	if longLiq == 0 {
		t.Error("collateralized future should have a positive liquidation price")
	}
}

func TestFutureLiquidationPriceFloorsNearExpiry(t *testing.T) {
	f := newTestFuture(SideLong)
	// Past expiry t1 clamps to the 0.001y floor rather than dividing by
	// zero.
	if _, err := f.ComputeLiquidationPrice(f.ExpiryTime + 100); err != nil {
		t.Fatalf("liquidation price near expiry: %v", err)
	}
}

func TestFutureLifecycle(t *testing.T) {
	f := newTestFuture(SideLong)

	// Too early to mark expired.
	if err := f.MarkExpired(f.ExpiryTime - 1); err != ErrFutureNotYetExpired {
		t.Fatalf("mark before expiry: got %v, want ErrFutureNotYetExpired", err)
	}
	// Settlement before expiry marking is rejected.
	if _, err := f.Settle(100_000000, f.ExpiryTime); err != ErrFutureNotExpired {
		t.Fatalf("settle active: got %v, want ErrFutureNotExpired", err)
	}

	if err := f.MarkExpired(f.ExpiryTime); err != nil {
		t.Fatal(err)
	}
	if f.Status != FutureStatusExpired {
		t.Fatalf("status = %v, want Expired", f.Status)
	}
	// Double mark is rejected.
	if err := f.MarkExpired(f.ExpiryTime + 1); err != ErrFutureNotActive {
		t.Fatalf("double mark: got %v, want ErrFutureNotActive", err)
	}

	amount, err := f.Settle(105_000000, f.ExpiryTime)
	if err != nil {
		t.Fatal(err)
	}
	if f.Status != FutureStatusSettled {
		t.Fatalf("status = %v, want Settled", f.Status)
	}
	if f.SettlementAmount != amount || f.SettlementPrice != 105_000000 {
		t.Error("settlement fields not recorded")
	}

	claimed, err := f.Claim(f.ExpiryTime + 10)
	if err != nil {
		t.Fatal(err)
	}
	if claimed != amount {
		t.Errorf("claimed %d, want %d", claimed, amount)
	}
	if f.SettlementAmount != 0 || !f.Claimed {
		t.Error("claim must zero the claimable amount")
	}
	// Replay.
	if _, err := f.Claim(f.ExpiryTime + 20); err != ErrNothingToClaim {
		t.Errorf("second claim: got %v, want ErrNothingToClaim", err)
	}
}

func TestFutureSettlementNeverNegative(t *testing.T) {
	f := newTestFuture(SideLong)
	if err := f.MarkExpired(f.ExpiryTime); err != nil {
		t.Fatal(err)
	}
	// A 50% crash wipes far more than the collateral.
	amount, err := f.Settle(50_000000, f.ExpiryTime)
	if err != nil {
		t.Fatal(err)
	}
	if amount != 0 {
		t.Errorf("settlement = %d, want 0 (bad debt is pool-absorbed)", amount)
	}
	if f.PnLAtSettlement >= 0 {
		t.Errorf("recorded pnl = %d, want negative", f.PnLAtSettlement)
	}
}

func TestFutureLiquidate(t *testing.T) {
	f := newTestFuture(SideLong)
	amount, pnl, err := f.Liquidate(91_000000, yearSeconds/8)
	if err != nil {
		t.Fatal(err)
	}
	if f.Status != FutureStatusLiquidated {
		t.Fatalf("status = %v, want Liquidated", f.Status)
	}
	if pnl >= 0 {
		t.Errorf("liquidation pnl = %d, want negative", pnl)
	}
	if amount != f.SettlementAmount {
		t.Errorf("returned amount %d != recorded %d", amount, f.SettlementAmount)
	}
	// No second liquidation.
	if _, _, err := f.Liquidate(91_000000, yearSeconds/8); err != ErrFutureNotActive {
		t.Errorf("double liquidate: got %v, want ErrFutureNotActive", err)
	}
}

func TestFutureIsLiquidatable(t *testing.T) {
	f := newTestFuture(SideLong)
	liq, err := f.IsLiquidatable(100_000000, 0)
	if err != nil {
		t.Fatal(err)
	}
	if liq {
		t.Error("fresh future should not be liquidatable at entry")
	}

	liq, err = f.IsLiquidatable(89_000000, yearSeconds/8)
	if err != nil {
		t.Fatal(err)
	}
	if !liq {
		t.Error("future with equity wiped by an 11% drop at 10x should be liquidatable")
	}

	f.Status = FutureStatusPending
	liq, err = f.IsLiquidatable(1_000000, 0)
	if err != nil {
		t.Fatal(err)
	}
	if liq {
		t.Error("pending future must not be liquidatable")
	}
}

func TestFutureShouldExecuteLimit(t *testing.T) {
	f := newTestFuture(SideLong)
	f.Status = FutureStatusPending
	f.TriggerPrice = 95_000000
	f.TriggerAboveThreshold = false

	if !f.ShouldExecuteLimit(95_000000) {
		t.Error("at-trigger price should execute")
	}
	if f.ShouldExecuteLimit(95_000001) {
		t.Error("above buy-trigger should not execute")
	}

	f.TriggerAboveThreshold = true
	if !f.ShouldExecuteLimit(95_000000) {
		t.Error("at-trigger should execute for above-threshold too")
	}
	if f.ShouldExecuteLimit(94_999999) {
		t.Error("below sell-trigger should not execute")
	}

	f.Status = FutureStatusActive
	if f.ShouldExecuteLimit(95_000000) {
		t.Error("active future has no limit trigger")
	}
}

func TestTheoreticalFuturePrice(t *testing.T) {
	// F = 100 * exp(0.05 * 0.25)
	got := TheoreticalFuturePrice(100.0, 500, 0.25)
	want := 100.0 * math.Exp(0.05*0.25)
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("theoretical price = %f, want %f", got, want)
	}
}
