package keeper

import (
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Aurora0917/olive-sc-sub000/internal/engine"
	"github.com/Aurora0917/olive-sc-sub000/internal/ledger"
	"github.com/Aurora0917/olive-sc-sub000/internal/oracle"
	"github.com/Aurora0917/olive-sc-sub000/internal/pricing"
	"github.com/Aurora0917/olive-sc-sub000/internal/state"
)

const (
	sol      = uint64(1_000_000_000)
	usdcUnit = uint64(1_000_000)
)

type harness struct {
	keeper  *Keeper
	store   *ledger.Store
	eng     *engine.Engine
	oracle  *oracle.StaticOracle
	pool    *state.Pool
	batches []*ledger.Batch
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	pe, err := pricing.NewEngine(pricing.DefaultParams())
	if err != nil {
		t.Fatalf("pricing engine: %v", err)
	}
	so := &oracle.StaticOracle{Quotes: map[oracle.AssetID]oracle.PriceQuote{
		oracle.AssetSOL:  {Price: 100, Exponent: 0},
		oracle.AssetUSDC: {Price: 1, Exponent: 0},
	}}
	eng := engine.New(pe, so, zerolog.Nop(), nil)

	store := ledger.NewStore()
	pool := &state.Pool{
		Name: "SOL-USDC",
		Underlying: &state.Custody{
			Asset:      oracle.AssetSOL,
			Decimals:   9,
			Class:      pricing.AssetVolatile,
			TokenOwned: 1000 * sol,
		},
		Stable: &state.Custody{
			Asset:      oracle.AssetUSDC,
			Decimals:   6,
			Class:      pricing.AssetStable,
			TokenOwned: 1_000_000 * usdcUnit,
		},
	}
	store.PutPool(pool)

	h := &harness{store: store, eng: eng, oracle: so, pool: pool}
	h.keeper = New(Config{
		Store:    store,
		Engine:   eng,
		Pricing:  pe,
		Oracle:   so,
		Logger:   zerolog.Nop(),
		Identity: uuid.New(),
		Sink:     func(b *ledger.Batch) { h.batches = append(h.batches, b) },
	})
	return h
}

func (h *harness) setSOLPrice(usd uint64) {
	h.oracle.Quotes[oracle.AssetSOL] = oracle.PriceQuote{Price: usd, Exponent: 0}
}

func (h *harness) openLong(t *testing.T, p engine.OpenPositionParams, now int64) *state.Position {
	t.Helper()
	pos, _, err := h.eng.OpenPosition(h.pool, p, now)
	if err != nil {
		t.Fatalf("OpenPosition: %v", err)
	}
	h.store.PutPosition(pos)
	return pos
}

func TestSweepExecutesPendingLimit(t *testing.T) {
	h := newHarness(t)
	pos := h.openLong(t, engine.OpenPositionParams{
		Owner:            uuid.New(),
		Side:             state.SideLong,
		OrderType:        state.OrderTypeLimit,
		SizeUSD:          1000 * usdcUnit,
		CollateralAmount: 5 * sol,
		TriggerPrice:     95_000000,
	}, 0)

	// Above the trigger nothing fires.
	h.keeper.Sweep(10)
	if !pos.IsPendingLimit() {
		t.Fatal("limit executed above trigger")
	}

	h.setSOLPrice(95)
	h.keeper.Sweep(20)
	if pos.IsPendingLimit() {
		t.Fatal("limit did not execute at trigger")
	}
	if pos.Price != 95_000000 {
		t.Errorf("entry = %d, want 95000000", pos.Price)
	}
}

func TestSweepLiquidatesUnderwaterPosition(t *testing.T) {
	h := newHarness(t)
	owner := uuid.New()
	pos := h.openLong(t, engine.OpenPositionParams{
		Owner:            owner,
		Side:             state.SideLong,
		OrderType:        state.OrderTypeMarket,
		SizeUSD:          1000 * usdcUnit,
		CollateralAmount: sol / 2, // 20x
	}, 0)
	key := ledger.RecordKey{Owner: owner, Pool: "SOL-USDC", Index: 0}

	// Healthy at entry price.
	h.keeper.Sweep(10)
	if _, err := h.store.Position(key); err != nil {
		t.Fatalf("healthy position reaped: %v", err)
	}

	h.setSOLPrice(90)
	h.keeper.Sweep(20)
	if !pos.IsLiquidated {
		t.Fatal("position not liquidated")
	}
	if _, err := h.store.Position(key); err == nil {
		t.Error("liquidated position still in store")
	}
	if len(h.batches) == 0 {
		t.Error("liquidation booked no batch")
	}
	if h.pool.LongOpenInterestUSD != 0 {
		t.Errorf("open interest = %d, want 0", h.pool.LongOpenInterestUSD)
	}
}

func TestSweepFiresTakeProfit(t *testing.T) {
	h := newHarness(t)
	owner := uuid.New()
	pos := h.openLong(t, engine.OpenPositionParams{
		Owner:            owner,
		Side:             state.SideLong,
		OrderType:        state.OrderTypeMarket,
		SizeUSD:          1000 * usdcUnit,
		CollateralAmount: 5 * sol,
	}, 0)

	book, _, err := h.eng.AddPositionTakeProfit(pos, nil, owner, 120_000000, 10_000, false)
	if err != nil {
		t.Fatalf("AddPositionTakeProfit: %v", err)
	}
	h.store.PutBook(book)

	h.keeper.Sweep(10)
	if pos.SizeUSD == 0 {
		t.Fatal("take-profit fired below trigger")
	}

	h.setSOLPrice(125)
	h.keeper.Sweep(20)
	if pos.SizeUSD != 0 {
		t.Fatalf("size = %d, want 0 after full take-profit", pos.SizeUSD)
	}
	key := ledger.RecordKey{Owner: owner, Pool: "SOL-USDC", Index: 0}
	if _, err := h.store.Position(key); err == nil {
		t.Error("closed position still in store")
	}
	if len(h.batches) == 0 {
		t.Error("take-profit booked no batch")
	}
}

func TestSweepSettlesExpiredFuture(t *testing.T) {
	h := newHarness(t)
	owner := uuid.New()
	expiry := int64(30 * 24 * 3600)
	f, _, err := h.eng.OpenFuture(h.pool, engine.OpenFutureParams{
		Owner:            owner,
		Side:             state.SideLong,
		SizeUSD:          1000 * usdcUnit,
		CollateralAmount: 1 * sol,
		ExpiryTime:       expiry,
	}, 0)
	if err != nil {
		t.Fatalf("OpenFuture: %v", err)
	}
	h.store.PutFuture(f)

	h.keeper.Sweep(expiry - 1)
	if f.Status != state.FutureStatusActive {
		t.Fatalf("status = %v, want Active before expiry", f.Status)
	}

	h.keeper.Sweep(expiry + 1)
	if f.Status != state.FutureStatusSettled {
		t.Fatalf("status = %v, want Settled", f.Status)
	}
	// Claimable records survive the sweep until the owner collects.
	key := ledger.RecordKey{Owner: owner, Pool: "SOL-USDC", Index: 0}
	if _, err := h.store.Future(key); err != nil {
		t.Errorf("settled future reaped before claim: %v", err)
	}

	effects, err := h.eng.ClaimFuture(h.pool, f, owner, expiry+2)
	if err != nil {
		t.Fatalf("ClaimFuture: %v", err)
	}
	if len(effects) == 0 {
		t.Fatal("claim emitted no effects")
	}
	h.keeper.Sweep(expiry + 3)
	if _, err := h.store.Future(key); err == nil {
		t.Error("claimed future still in store")
	}
}

func TestSweepOptionExpiry(t *testing.T) {
	h := newHarness(t)
	owner := uuid.New()
	period := uint64(30 * 24 * 3600)

	otm, _, err := h.eng.OpenOption(h.pool, engine.OpenOptionParams{
		Owner:       owner,
		Index:       0,
		Type:        state.OptionCall,
		Amount:      1 * sol,
		StrikePrice: 120_000000,
		Period:      period,
	}, h.pool.Stable, 0)
	if err != nil {
		t.Fatalf("OpenOption: %v", err)
	}
	h.store.PutOption(otm)

	itm, _, err := h.eng.OpenOption(h.pool, engine.OpenOptionParams{
		Owner:       owner,
		Index:       1,
		Type:        state.OptionCall,
		Amount:      1 * sol,
		StrikePrice: 90_000000,
		Period:      period,
	}, h.pool.Stable, 0)
	if err != nil {
		t.Fatalf("OpenOption: %v", err)
	}
	h.store.PutOption(itm)

	// Nothing settles before expiry.
	h.keeper.Sweep(int64(period) - 1)
	if !otm.Valid || !itm.Valid {
		t.Fatal("option settled before expiry")
	}

	h.keeper.Sweep(int64(period) + 1)

	// Worthless grant is retired and reaped with a record reclaim.
	if otm.Valid {
		t.Error("out-of-the-money option still valid")
	}
	if _, err := h.store.Option(ledger.RecordKey{Owner: owner, Pool: "SOL-USDC", Index: 0}); err == nil {
		t.Error("worthless option still in store")
	}

	// In-the-money grant parks its payout for the owner to claim.
	if itm.Claimed == 0 {
		t.Error("in-the-money option parked nothing")
	}
	if _, err := h.store.Option(ledger.RecordKey{Owner: owner, Pool: "SOL-USDC", Index: 1}); err != nil {
		t.Errorf("claimable option reaped: %v", err)
	}
}
