package engine

import (
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/Aurora0917/olive-sc-sub000/internal/state"

	fpmath "github.com/Aurora0917/olive-sc-sub000/internal/math"
)

const thirtyDays = int64(30 * 24 * 3600)

func marketLongFuture(owner uuid.UUID, now int64) OpenFutureParams {
	return OpenFutureParams{
		Owner:            owner,
		Side:             state.SideLong,
		SizeUSD:          1000_000000, // $1000
		CollateralAmount: sol,         // $100 at $100/SOL, 10x
		ExpiryTime:       now + thirtyDays,
	}
}

func TestOpenFutureMarket(t *testing.T) {
	e, _ := newTestEngine(t)
	pool := newTestPool()
	owner := uuid.New()
	now := int64(1_700_000_000)

	f, effects, err := e.OpenFuture(pool, marketLongFuture(owner, now), now)
	if err != nil {
		t.Fatalf("OpenFuture: %v", err)
	}

	if f.Status != state.FutureStatusActive {
		t.Errorf("status: got %v, want Active", f.Status)
	}
	if f.EntryPrice != 100_000000 {
		t.Errorf("entry price: got %d, want 100000000", f.EntryPrice)
	}
	// Empty pool utilization pins the volatile curve at its 3% base rate.
	if f.FixedInterestRateBps != 300 {
		t.Errorf("fixed rate: got %d bps, want 300", f.FixedInterestRateBps)
	}
	// Positive carry: the theoretical forward trades above spot.
	if f.FuturePrice <= f.EntryPrice {
		t.Errorf("future price %d not above entry %d", f.FuturePrice, f.EntryPrice)
	}
	if f.LiquidationPrice == 0 || f.LiquidationPrice >= f.EntryPrice {
		t.Errorf("long liquidation price %d out of range", f.LiquidationPrice)
	}
	// 10 bps opening, 5 bps settlement fee, both on $1000.
	if f.OpeningFee != 1_000000 || f.SettlementFee != 500000 {
		t.Errorf("fees: got %d/%d, want 1000000/500000", f.OpeningFee, f.SettlementFee)
	}
	if f.TimeToExpiryAtOpen != thirtyDays {
		t.Errorf("time to expiry at open: got %d, want %d", f.TimeToExpiryAtOpen, thirtyDays)
	}
	if pool.Underlying.TokenLocked != 10*sol {
		t.Errorf("pool locked: got %d, want %d", pool.Underlying.TokenLocked, 10*sol)
	}
	if pool.LongOpenInterestUSD != 1000_000000 {
		t.Errorf("OI: got %d, want 1000000000", pool.LongOpenInterestUSD)
	}
	if len(effects) != 1 || effects[0].Type != EffectCollect || effects[0].Amount != sol {
		t.Errorf("collect effect: got %+v", effects)
	}
}

func TestOpenFutureRejectsBadExpiry(t *testing.T) {
	e, _ := newTestEngine(t)
	pool := newTestPool()
	now := int64(1_700_000_000)

	tests := []struct {
		name   string
		expiry int64
	}{
		{"in the past", now - 1},
		{"under an hour", now + MinExpirySeconds - 1},
		{"over a year", now + MaxExpirySeconds + 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := marketLongFuture(uuid.New(), now)
			p.ExpiryTime = tt.expiry
			if _, _, err := e.OpenFuture(pool, p, now); !errors.Is(err, ErrInvalidExpiry) {
				t.Errorf("got %v, want ErrInvalidExpiry", err)
			}
		})
	}
}

func TestFutureSettlementLifecycle(t *testing.T) {
	e, _ := newTestEngine(t)
	pool := newTestPool()
	owner := uuid.New()
	now := int64(1_700_000_000)

	f, _, err := e.OpenFuture(pool, marketLongFuture(owner, now), now)
	if err != nil {
		t.Fatalf("OpenFuture: %v", err)
	}

	// Settlement is gated on the expired status, which is gated on time.
	if err := e.MarkFutureExpired(f, now+1); !errors.Is(err, state.ErrFutureNotYetExpired) {
		t.Fatalf("early expiry: got %v, want ErrFutureNotYetExpired", err)
	}
	if err := e.SettleFuture(pool, f, f.ExpiryTime); !errors.Is(err, state.ErrFutureNotExpired) {
		t.Fatalf("settle before mark: got %v, want ErrFutureNotExpired", err)
	}

	if err := e.MarkFutureExpired(f, f.ExpiryTime); err != nil {
		t.Fatalf("MarkFutureExpired: %v", err)
	}
	if err := e.SettleFuture(pool, f, f.ExpiryTime+60); err != nil {
		t.Fatalf("SettleFuture: %v", err)
	}
	if f.Status != state.FutureStatusSettled {
		t.Fatalf("status: got %v, want Settled", f.Status)
	}
	// Flat spot over the term: the long pays the carry plus the settlement
	// fee out of collateral, but keeps most of it.
	if f.SettlementAmount == 0 || f.SettlementAmount >= f.CollateralUSD {
		t.Errorf("settlement amount %d out of range (0, %d)", f.SettlementAmount, f.CollateralUSD)
	}
	if pool.Underlying.TokenLocked != 0 || pool.LongOpenInterestUSD != 0 {
		t.Errorf("pool after settle: locked %d, OI %d", pool.Underlying.TokenLocked, pool.LongOpenInterestUSD)
	}

	wantUSD := f.SettlementAmount
	effects, err := e.ClaimFuture(pool, f, owner, f.ExpiryTime+120)
	if err != nil {
		t.Fatalf("ClaimFuture: %v", err)
	}
	wantTokens, err := fpmath.MulDivU(wantUSD, 1_000000, 100_000000)
	if err != nil {
		t.Fatal(err)
	}
	wantTokens *= 1000
	if len(effects) != 2 || effects[0].Type != EffectPayout || effects[0].Amount != wantTokens {
		t.Errorf("claim effects: got %+v, want payout of %d", effects, wantTokens)
	}

	// Exactly once.
	if _, err := e.ClaimFuture(pool, f, owner, f.ExpiryTime+180); !errors.Is(err, state.ErrNothingToClaim) {
		t.Errorf("double claim: got %v, want ErrNothingToClaim", err)
	}
}

func TestCloseFuturePartial(t *testing.T) {
	e, _ := newTestEngine(t)
	pool := newTestPool()
	owner := uuid.New()
	now := int64(1_700_000_000)

	f, _, err := e.OpenFuture(pool, marketLongFuture(owner, now), now)
	if err != nil {
		t.Fatalf("OpenFuture: %v", err)
	}

	half := fpmath.FullClosePercent / 2
	effects, err := e.CloseFuture(pool, f, owner, half, now)
	if err != nil {
		t.Fatalf("CloseFuture: %v", err)
	}

	if f.Status != state.FutureStatusActive {
		t.Errorf("status after partial close: got %v, want Active", f.Status)
	}
	if f.SizeUSD != 500_000000 || f.CollateralUSD != 50_000000 {
		t.Errorf("remaining: size %d, collateral %d", f.SizeUSD, f.CollateralUSD)
	}
	if f.LockedAmount != 5*sol {
		t.Errorf("remaining locked: got %d, want %d", f.LockedAmount, 5*sol)
	}
	// Flat close at entry the instant after open: zero carry PnL, so the
	// payout is half the collateral minus the 5 bps close fee, $49.75.
	wantPayout := uint64(497_500_000)
	if len(effects) != 1 || effects[0].Amount != wantPayout {
		t.Errorf("payout: got %+v, want %d", effects, wantPayout)
	}
}

func TestCloseFutureFull(t *testing.T) {
	e, _ := newTestEngine(t)
	pool := newTestPool()
	owner := uuid.New()
	now := int64(1_700_000_000)

	f, _, err := e.OpenFuture(pool, marketLongFuture(owner, now), now)
	if err != nil {
		t.Fatalf("OpenFuture: %v", err)
	}
	effects, err := e.CloseFuture(pool, f, owner, fpmath.FullClosePercent, now)
	if err != nil {
		t.Fatalf("CloseFuture: %v", err)
	}
	if f.Status != state.FutureStatusSettled || !f.Claimed {
		t.Errorf("after full close: status %v, claimed %v", f.Status, f.Claimed)
	}
	var reclaimed bool
	for _, ef := range effects {
		if ef.Type == EffectReclaim {
			reclaimed = true
		}
	}
	if !reclaimed {
		t.Error("full close did not reclaim the record")
	}
	if pool.Underlying.TokenLocked != 0 || pool.LongOpenInterestUSD != 0 {
		t.Errorf("pool after full close: locked %d, OI %d", pool.Underlying.TokenLocked, pool.LongOpenInterestUSD)
	}
}

func TestFutureLimitLifecycle(t *testing.T) {
	e, so := newTestEngine(t)
	pool := newTestPool()
	owner := uuid.New()
	now := int64(1_700_000_000)

	p := marketLongFuture(owner, now)
	p.IsLimit = true
	p.TriggerPrice = 95_000000
	f, _, err := e.OpenFuture(pool, p, now)
	if err != nil {
		t.Fatalf("OpenFuture: %v", err)
	}
	if f.Status != state.FutureStatusPending {
		t.Fatalf("status: got %v, want Pending", f.Status)
	}
	if pool.Underlying.TokenLocked != 0 {
		t.Errorf("pending future locked %d", pool.Underlying.TokenLocked)
	}

	if err := e.ExecuteFutureLimitOrder(pool, f, now+10); !errors.Is(err, ErrLimitNotTriggered) {
		t.Fatalf("untriggered: got %v, want ErrLimitNotTriggered", err)
	}

	setSOLPrice(so, 95)
	if err := e.ExecuteFutureLimitOrder(pool, f, now+20); err != nil {
		t.Fatalf("ExecuteFutureLimitOrder: %v", err)
	}
	if f.Status != state.FutureStatusActive || f.EntryPrice != 95_000000 {
		t.Errorf("after execution: status %v, entry %d", f.Status, f.EntryPrice)
	}
	// The rate and the remaining term are locked at execution, not open.
	if f.TimeToExpiryAtOpen != thirtyDays-20 {
		t.Errorf("term: got %d, want %d", f.TimeToExpiryAtOpen, thirtyDays-20)
	}
}

func TestLiquidateFuture(t *testing.T) {
	e, so := newTestEngine(t)
	pool := newTestPool()
	owner := uuid.New()
	liquidator := uuid.New()
	now := int64(1_700_000_000)

	// 100x: $10 collateral on $1000. Maintenance is 20 bps, $2.
	p := marketLongFuture(owner, now)
	p.CollateralAmount = sol / 10
	f, _, err := e.OpenFuture(pool, p, now)
	if err != nil {
		t.Fatalf("OpenFuture: %v", err)
	}

	if _, err := e.LiquidateFuture(pool, f, liquidator, now); !errors.Is(err, ErrNotLiquidatable) {
		t.Fatalf("healthy: got %v, want ErrNotLiquidatable", err)
	}

	// A 1% drawdown on 100x wipes the $10 of equity.
	setSOLPrice(so, 99)
	if _, err := e.LiquidateFuture(pool, f, liquidator, now); err != nil {
		t.Fatalf("LiquidateFuture: %v", err)
	}
	if f.Status != state.FutureStatusLiquidated {
		t.Errorf("status: got %v, want Liquidated", f.Status)
	}
	if pool.Underlying.TokenLocked != 0 || pool.LongOpenInterestUSD != 0 {
		t.Errorf("pool after liquidation: locked %d, OI %d", pool.Underlying.TokenLocked, pool.LongOpenInterestUSD)
	}
	// Underwater: nothing left for the owner to claim.
	if _, err := e.ClaimFuture(pool, f, owner, now+60); !errors.Is(err, state.ErrNothingToClaim) {
		t.Errorf("claim after wipeout: got %v, want ErrNothingToClaim", err)
	}
}
