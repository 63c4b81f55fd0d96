package engine

import (
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/Aurora0917/olive-sc-sub000/internal/state"
)

func openTestLong(t *testing.T, e *Engine, pool *state.Pool, owner uuid.UUID, now int64) *state.Position {
	t.Helper()
	pos, _, err := e.OpenPosition(pool, marketLongParams(owner), now)
	if err != nil {
		t.Fatalf("OpenPosition: %v", err)
	}
	return pos
}

func TestAddTriggerValidation(t *testing.T) {
	e, _ := newTestEngine(t)
	pool := newTestPool()
	owner := uuid.New()
	now := int64(1_700_000_000)

	// Long at $100, liquidation at $75.
	pos := openTestLong(t, e, pool, owner, now)

	tests := []struct {
		name       string
		takeProfit bool
		price      uint64
		wantErr    bool
	}{
		{"TP above entry", true, 120_000000, false},
		{"TP at entry", true, 100_000000, true},
		{"TP below entry", true, 90_000000, true},
		{"SL between liq and entry", false, 80_000000, false},
		{"SL at entry", false, 100_000000, true},
		{"SL at liquidation price", false, 75_000000, true},
		{"SL below liquidation price", false, 70_000000, true},
		{"zero price", true, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var err error
			if tt.takeProfit {
				_, _, err = e.AddPositionTakeProfit(pos, nil, owner, tt.price, 1000, false)
			} else {
				_, _, err = e.AddPositionStopLoss(pos, nil, owner, tt.price, 1000, false)
			}
			if tt.wantErr && !errors.Is(err, ErrInvalidTriggerPrice) {
				t.Errorf("got %v, want ErrInvalidTriggerPrice", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("got %v, want nil", err)
			}
		})
	}
}

func TestTriggerBookSharedAcrossAdds(t *testing.T) {
	e, _ := newTestEngine(t)
	pool := newTestPool()
	owner := uuid.New()
	now := int64(1_700_000_000)

	pos := openTestLong(t, e, pool, owner, now)

	book, idx, err := e.AddPositionTakeProfit(pos, nil, owner, 120_000000, 5000, false)
	if err != nil {
		t.Fatalf("AddPositionTakeProfit: %v", err)
	}
	if idx != 0 {
		t.Errorf("first slot: got %d, want 0", idx)
	}
	if _, idx, err = e.AddPositionStopLoss(pos, book, owner, 85_000000, 10000, false); err != nil {
		t.Fatalf("AddPositionStopLoss: %v", err)
	}
	if idx != 0 {
		t.Errorf("first SL slot: got %d, want 0", idx)
	}
	if book.ActiveTPCount != 1 || book.ActiveSLCount != 1 {
		t.Errorf("counts: got %d/%d, want 1/1", book.ActiveTPCount, book.ActiveSLCount)
	}
	if pos.TakeProfitPrice != 120_000000 || pos.StopLossPrice != 85_000000 {
		t.Errorf("position mirror: TP %d, SL %d", pos.TakeProfitPrice, pos.StopLossPrice)
	}
}

func TestExecuteTriggerOrderTakeProfit(t *testing.T) {
	e, so := newTestEngine(t)
	pool := newTestPool()
	owner := uuid.New()
	now := int64(1_700_000_000)

	pos := openTestLong(t, e, pool, owner, now)
	book, idx, err := e.AddPositionTakeProfit(pos, nil, owner, 120_000000, 5000, false)
	if err != nil {
		t.Fatalf("AddPositionTakeProfit: %v", err)
	}

	// Below the trigger nothing fires.
	if _, err := e.ExecuteTriggerOrder(pool, pos, book, true, idx, now+1); !errors.Is(err, ErrLimitNotTriggered) {
		t.Fatalf("untriggered: got %v, want ErrLimitNotTriggered", err)
	}

	setSOLPrice(so, 125)
	effects, err := e.ExecuteTriggerOrder(pool, pos, book, true, idx, now+2)
	if err != nil {
		t.Fatalf("ExecuteTriggerOrder: %v", err)
	}

	// 50% of the position closed with +$125 PnL on the slice:
	// $250 collateral + $125 PnL - $0.50 fee slice - $0.25 close fee
	// = $374.25 at $125/SOL.
	wantPayout := uint64(2_994_000_000)
	if len(effects) == 0 || effects[0].Type != EffectPayout || effects[0].Amount != wantPayout {
		t.Errorf("settlement: got %+v, want payout %d", effects, wantPayout)
	}
	if pos.SizeUSD != 500_000000 {
		t.Errorf("remaining size: got %d, want 500000000", pos.SizeUSD)
	}

	// The slot cleared and the audit trail recorded it.
	if book.ActiveTPCount != 0 || book.TakeProfits[idx].Active {
		t.Errorf("slot not cleared: count %d, active %v", book.ActiveTPCount, book.TakeProfits[idx].Active)
	}
	if book.LastExecutedTPIndex != uint8(idx) || book.LastExecutionTime != now+2 {
		t.Errorf("audit: index %d, time %d", book.LastExecutedTPIndex, book.LastExecutionTime)
	}

	// Firing the cleared slot again fails.
	if _, err := e.ExecuteTriggerOrder(pool, pos, book, true, idx, now+3); !errors.Is(err, state.ErrOrderSlotInactive) {
		t.Errorf("re-fire: got %v, want ErrOrderSlotInactive", err)
	}
}

func TestExecuteTriggerOrderFullCloseReclaims(t *testing.T) {
	e, so := newTestEngine(t)
	pool := newTestPool()
	owner := uuid.New()
	now := int64(1_700_000_000)

	pos := openTestLong(t, e, pool, owner, now)
	book, idx, err := e.AddPositionStopLoss(pos, nil, owner, 85_000000, 10000, false)
	if err != nil {
		t.Fatalf("AddPositionStopLoss: %v", err)
	}

	setSOLPrice(so, 84)
	effects, err := e.ExecuteTriggerOrder(pool, pos, book, false, idx, now+1)
	if err != nil {
		t.Fatalf("ExecuteTriggerOrder: %v", err)
	}
	if pos.SizeUSD != 0 {
		t.Errorf("size after 100%% stop: got %d, want 0", pos.SizeUSD)
	}
	var reclaims int
	for _, ef := range effects {
		if ef.Type == EffectReclaim {
			reclaims++
		}
	}
	// Both the book and the position go.
	if reclaims != 2 {
		t.Errorf("reclaims: got %d, want 2", reclaims)
	}
	if pool.LongOpenInterestUSD != 0 {
		t.Errorf("OI after stop: %d", pool.LongOpenInterestUSD)
	}
}

func TestOptionTriggerOrderTakeProfit(t *testing.T) {
	e, so := newTestEngine(t)
	pool := newTestPool()
	owner := uuid.New()
	now := int64(1_700_000_000)

	opt, _, err := e.OpenOption(pool, coveredCallParams(owner), pool.Stable, now)
	if err != nil {
		t.Fatalf("OpenOption: %v", err)
	}
	book, idx, err := e.AddOptionTakeProfit(opt, nil, owner, 125_000000, 10000, false)
	if err != nil {
		t.Fatalf("AddOptionTakeProfit: %v", err)
	}
	if opt.OrderbookID != book.ID {
		t.Errorf("orderbook link: got %v, want %v", opt.OrderbookID, book.ID)
	}

	setSOLPrice(so, 130)
	effects, err := e.ExecuteOptionTriggerOrder(pool, opt, book, pool.Stable, true, idx, now+1)
	if err != nil {
		t.Fatalf("ExecuteOptionTriggerOrder: %v", err)
	}

	// Full-size TP pays the whole intrinsic value, $40 in SOL at $130.
	wantPayout := uint64(307_692_000)
	if len(effects) == 0 || effects[0].Type != EffectPayout || effects[0].Amount != wantPayout {
		t.Errorf("payout: got %+v, want %d", effects, wantPayout)
	}
	if opt.Valid || opt.Quantity != 0 {
		t.Errorf("after full TP: valid %v, quantity %d", opt.Valid, opt.Quantity)
	}
	if pool.Underlying.TokenLocked != 0 {
		t.Errorf("backing still locked: %d", pool.Underlying.TokenLocked)
	}
}

func TestOptionTriggerValidation(t *testing.T) {
	e, _ := newTestEngine(t)
	pool := newTestPool()
	owner := uuid.New()
	now := int64(1_700_000_000)

	opt, _, err := e.OpenOption(pool, coveredCallParams(owner), pool.Stable, now)
	if err != nil {
		t.Fatalf("OpenOption: %v", err)
	}

	// A call's take-profit must sit above the strike.
	if _, _, err := e.AddOptionTakeProfit(opt, nil, owner, 105_000000, 1000, false); !errors.Is(err, ErrInvalidTriggerPrice) {
		t.Errorf("TP below strike: got %v, want ErrInvalidTriggerPrice", err)
	}
	// And its stop-loss below.
	if _, _, err := e.AddOptionStopLoss(opt, nil, owner, 115_000000, 1000, false); !errors.Is(err, ErrInvalidTriggerPrice) {
		t.Errorf("SL above strike: got %v, want ErrInvalidTriggerPrice", err)
	}
}
