package query_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Aurora0917/olive-sc-sub000/internal/engine"
	"github.com/Aurora0917/olive-sc-sub000/internal/ledger"
	"github.com/Aurora0917/olive-sc-sub000/internal/oracle"
	"github.com/Aurora0917/olive-sc-sub000/internal/pricing"
	"github.com/Aurora0917/olive-sc-sub000/internal/query"
	"github.com/Aurora0917/olive-sc-sub000/internal/state"
)

const (
	sol      = uint64(1_000_000_000)
	usdcUnit = uint64(1_000_000)
)

type queryHarness struct {
	svc     *query.Service
	store   *ledger.Store
	tracker *ledger.BalanceTracker
	feed    *oracle.FeedOracle
}

func newQueryHarness(t *testing.T) *queryHarness {
	t.Helper()
	pe, err := pricing.NewEngine(pricing.DefaultParams())
	if err != nil {
		t.Fatalf("pricing engine: %v", err)
	}

	feed := oracle.NewFeedOracle()
	feed.Update(oracle.AssetSOL, oracle.PriceQuote{Price: 100, Exponent: 0}, 0, 1<<40, 1)
	feed.Update(oracle.AssetUSDC, oracle.PriceQuote{Price: 1, Exponent: 0}, 0, 1<<40, 1)

	store := ledger.NewStore()
	store.PutPool(&state.Pool{
		Name: "SOL-USDC",
		Underlying: &state.Custody{
			Asset:       oracle.AssetSOL,
			Decimals:    9,
			Class:       pricing.AssetVolatile,
			TokenOwned:  1000 * sol,
			TokenLocked: 100 * sol,
		},
		Stable: &state.Custody{
			Asset:      oracle.AssetUSDC,
			Decimals:   6,
			Class:      pricing.AssetStable,
			TokenOwned: 1_000_000 * usdcUnit,
		},
		LongOpenInterestUSD: 10_000 * usdcUnit,
	})

	tracker := ledger.NewBalanceTracker()
	svc := query.NewService(store, tracker, feed, pe, nil, zerolog.Nop(), nil)
	return &queryHarness{svc: svc, store: store, tracker: tracker, feed: feed}
}

func testPosition(owner uuid.UUID, index uint64) *state.Position {
	return &state.Position{
		ID:                   uuid.New(),
		Owner:                owner,
		Index:                index,
		Pool:                 "SOL-USDC",
		Custody:              oracle.AssetSOL,
		CollateralCustody:    oracle.AssetSOL,
		OrderType:            state.OrderTypeMarket,
		Side:                 state.SideLong,
		Price:                90_000000,
		SizeUSD:              1000 * usdcUnit,
		CollateralUSD:        500 * usdcUnit,
		CollateralAmount:     5 * sol,
		MaintenanceMarginBps: 50,
		OpenTime:             100,
	}
}

func TestPositionsEnrichedWithMark(t *testing.T) {
	h := newQueryHarness(t)
	owner := uuid.New()
	h.store.PutPosition(testPosition(owner, 0))
	h.store.PutPosition(testPosition(owner, 1))
	h.store.PutPosition(testPosition(uuid.New(), 0)) // different owner

	views := h.svc.Positions(owner)
	if len(views) != 2 {
		t.Fatalf("positions = %d, want 2", len(views))
	}
	if views[0].Index != 0 || views[1].Index != 1 {
		t.Fatalf("views not ordered by index: %d, %d", views[0].Index, views[1].Index)
	}

	v := views[0]
	if v.MarkPrice != 100_000000 {
		t.Fatalf("mark price = %d, want 100_000000", v.MarkPrice)
	}
	// Long from $90 to $100 on $1000 size: +1000 * 10/90 USD.
	wantPnL := int64(1000) * int64(usdcUnit) * 10 / 90
	if v.UnrealizedPnL != wantPnL {
		t.Fatalf("unrealized pnl = %d, want %d", v.UnrealizedPnL, wantPnL)
	}
	if v.MarginRatioBps == 0 {
		t.Fatal("margin ratio not computed")
	}
}

func TestPositionsPendingLimitSkipsMark(t *testing.T) {
	h := newQueryHarness(t)
	owner := uuid.New()

	p := testPosition(owner, 0)
	p.OrderType = state.OrderTypeLimit
	p.TriggerPrice = 95_000000
	h.store.PutPosition(p)

	views := h.svc.Positions(owner)
	if len(views) != 1 {
		t.Fatalf("positions = %d, want 1", len(views))
	}
	if views[0].TriggerPrice != 95_000000 {
		t.Fatalf("trigger price = %d, want 95_000000", views[0].TriggerPrice)
	}
	if views[0].MarkPrice != 0 || views[0].UnrealizedPnL != 0 {
		t.Fatal("pending limit should not carry mark-derived fields")
	}
}

func TestOptionsFilteredByOwner(t *testing.T) {
	h := newQueryHarness(t)
	owner := uuid.New()

	h.store.PutOption(&state.Option{
		ID:          uuid.New(),
		Owner:       owner,
		Index:       0,
		Pool:        "SOL-USDC",
		LockedAsset: oracle.AssetSOL,
		Amount:      10 * sol,
		Quantity:    10,
		StrikePrice: 90_000000,
		Type:        state.OptionCall,
		ExpiredDate: 1 << 41,
		Valid:       true,
	})
	h.store.PutOption(&state.Option{
		ID:    uuid.New(),
		Owner: uuid.New(),
		Index: 0,
		Pool:  "SOL-USDC",
		Type:  state.OptionPut,
		Valid: true,
	})

	views := h.svc.Options(owner)
	if len(views) != 1 {
		t.Fatalf("options = %d, want 1", len(views))
	}
	v := views[0]
	if v.Type != "Call" {
		t.Fatalf("type = %q, want Call", v.Type)
	}
	// 10 contracts, $10 in the money each.
	if v.IntrinsicValueUSD != 100_000000 {
		t.Fatalf("intrinsic = %d, want 100_000000", v.IntrinsicValueUSD)
	}
}

func TestFuturesIncludeSettledUnclaimed(t *testing.T) {
	h := newQueryHarness(t)
	owner := uuid.New()

	h.store.PutFuture(&state.Future{
		ID:               uuid.New(),
		Owner:            owner,
		Index:            0,
		Pool:             "SOL-USDC",
		Side:             state.SideLong,
		Status:           state.FutureStatusSettled,
		EntryPrice:       90_000000,
		FuturePrice:      91_000000,
		SizeUSD:          1000 * usdcUnit,
		SettlementPrice:  100_000000,
		SettlementAmount: 2 * sol,
	})

	views := h.svc.Futures(owner)
	if len(views) != 1 {
		t.Fatalf("futures = %d, want 1", len(views))
	}
	if views[0].Status != "Settled" {
		t.Fatalf("status = %q, want Settled", views[0].Status)
	}
	if views[0].SettlementAmount != 2*sol {
		t.Fatalf("settlement amount = %d", views[0].SettlementAmount)
	}
}

func TestBalanceReadsTracker(t *testing.T) {
	h := newQueryHarness(t)
	owner := uuid.New()

	h.tracker.ApplyJournal(ledger.Journal{
		JournalID: uuid.New(),
		Type:      engine.EffectPayout,
		Asset:     oracle.AssetSOL,
		Amount:    3 * sol,
		Account:   owner,
	})

	v := h.svc.Balance(owner, oracle.AssetSOL)
	if v.Net != 3*int64(sol) {
		t.Fatalf("net = %d, want %d", v.Net, 3*int64(sol))
	}
}

func TestPoolStats(t *testing.T) {
	h := newQueryHarness(t)

	stats, err := h.svc.PoolStats("SOL-USDC")
	if err != nil {
		t.Fatalf("pool stats: %v", err)
	}
	if stats.LongOpenInterestUSD != 10_000*usdcUnit {
		t.Fatalf("long oi = %d", stats.LongOpenInterestUSD)
	}
	if len(stats.Custodies) != 2 {
		t.Fatalf("custodies = %d, want 2", len(stats.Custodies))
	}
	// 100 of 1000 SOL locked.
	if stats.Custodies[0].UtilizationBps != 1000 {
		t.Fatalf("utilization = %d bps, want 1000", stats.Custodies[0].UtilizationBps)
	}

	if _, err := h.svc.PoolStats("ETH-USDC"); err == nil {
		t.Fatal("unknown pool should error")
	}
}

func TestMarginSummaryFlagsAtRisk(t *testing.T) {
	h := newQueryHarness(t)
	owner := uuid.New()

	healthy := testPosition(owner, 0)
	h.store.PutPosition(healthy)

	risky := testPosition(owner, 1)
	risky.Price = 120_000000 // long underwater at $100 mark
	risky.CollateralUSD = 10 * usdcUnit
	risky.MaintenanceMarginBps = 10_000
	h.store.PutPosition(risky)

	pending := testPosition(owner, 2)
	pending.OrderType = state.OrderTypeLimit
	pending.TriggerPrice = 95_000000
	h.store.PutPosition(pending)

	summary := h.svc.MarginSummary(owner)
	if summary.PositionCount != 2 {
		t.Fatalf("position count = %d, want 2 (pending excluded)", summary.PositionCount)
	}
	if summary.TotalSizeUSD != 2000*usdcUnit {
		t.Fatalf("total size = %d", summary.TotalSizeUSD)
	}
	if len(summary.AtRisk) != 1 || summary.AtRisk[0] != risky.ID {
		t.Fatalf("at risk = %v, want [%s]", summary.AtRisk, risky.ID)
	}
}
