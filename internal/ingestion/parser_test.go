package ingestion_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/Aurora0917/olive-sc-sub000/internal/event"
	"github.com/Aurora0917/olive-sc-sub000/internal/ingestion"
	"github.com/Aurora0917/olive-sc-sub000/internal/oracle"
	"github.com/Aurora0917/olive-sc-sub000/internal/state"
)

func rawFromJSON(t *testing.T, v interface{}) ingestion.RawCommand {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return ingestion.RawCommand{
		Subject:   "test",
		Data:      data,
		Timestamp: time.Now(),
		AckFunc:   func() {},
		NakFunc:   func() {},
	}
}

func baseMeta() map[string]interface{} {
	return map[string]interface{}{
		"command_id": "550e8400-e29b-41d4-a716-446655440000",
		"owner":      "660e8400-e29b-41d4-a716-446655440001",
		"pool":       "SOL-USDC",
		"seq":        int64(42),
		"timestamp":  int64(1700000000),
	}
}

func TestParseOpenPosition(t *testing.T) {
	payload := baseMeta()
	payload["side"] = "short"
	payload["order_type"] = "limit"
	payload["size_usd"] = uint64(1_000_000_000)
	payload["collateral_amount"] = uint64(5_000_000_000)
	payload["trigger_price"] = uint64(95_000_000)
	payload["max_slippage_bps"] = uint64(50)

	raw := rawFromJSON(t, payload)
	cmd, err := ingestion.ParseRawCommand(raw, "open_position")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	op, ok := cmd.(*event.OpenPosition)
	if !ok {
		t.Fatalf("expected *event.OpenPosition, got %T", cmd)
	}
	if op.Pool != "SOL-USDC" {
		t.Errorf("pool: got %s, want SOL-USDC", op.Pool)
	}
	if op.Side != state.SideShort {
		t.Errorf("side: got %d, want SideShort", op.Side)
	}
	if op.OrderType != state.OrderTypeLimit {
		t.Errorf("order type: got %d, want limit", op.OrderType)
	}
	if op.SizeUSD != 1_000_000_000 {
		t.Errorf("size_usd: got %d, want 1_000_000_000", op.SizeUSD)
	}
	if op.TriggerPrice != 95_000_000 {
		t.Errorf("trigger_price: got %d, want 95_000_000", op.TriggerPrice)
	}
	if op.SourceSequence() != 42 {
		t.Errorf("seq: got %d, want 42", op.SourceSequence())
	}
	if op.Type() != event.CommandOpenPosition {
		t.Errorf("type: got %v, want OpenPosition", op.Type())
	}
}

func TestParseOpenOption(t *testing.T) {
	payload := baseMeta()
	payload["option_type"] = "put"
	payload["amount"] = uint64(2_000_000_000)
	payload["strike_price"] = uint64(90_000_000)
	payload["period"] = uint64(7 * 24 * 3600)

	raw := rawFromJSON(t, payload)
	cmd, err := ingestion.ParseRawCommand(raw, "open_option")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	oo, ok := cmd.(*event.OpenOption)
	if !ok {
		t.Fatalf("expected *event.OpenOption, got %T", cmd)
	}
	if oo.OptionType != state.OptionPut {
		t.Errorf("option type: got %d, want put", oo.OptionType)
	}
	if oo.StrikePrice != 90_000_000 {
		t.Errorf("strike: got %d, want 90_000_000", oo.StrikePrice)
	}
	if oo.Period != 7*24*3600 {
		t.Errorf("period: got %d, want one week", oo.Period)
	}
}

func TestParseEditOptionPartialFields(t *testing.T) {
	payload := baseMeta()
	payload["index"] = uint64(1)
	payload["new_strike"] = uint64(115_000_000)
	payload["new_expiry"] = int64(1_710_000_000)
	payload["stop_loss"] = uint64(0) // explicit zero clears

	raw := rawFromJSON(t, payload)
	cmd, err := ingestion.ParseRawCommand(raw, "edit_option")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	eo, ok := cmd.(*event.EditOption)
	if !ok {
		t.Fatalf("expected *event.EditOption, got %T", cmd)
	}
	if eo.NewStrike == nil || *eo.NewStrike != 115_000_000 {
		t.Errorf("new strike: got %v", eo.NewStrike)
	}
	if eo.NewExpiry == nil || *eo.NewExpiry != 1_710_000_000 {
		t.Errorf("new expiry: got %v", eo.NewExpiry)
	}
	// Absent fields stay nil so the handler keeps the current values.
	if eo.NewQuantity != nil || eo.TakeProfit != nil {
		t.Errorf("absent fields: quantity %v, take profit %v", eo.NewQuantity, eo.TakeProfit)
	}
	if eo.StopLoss == nil || *eo.StopLoss != 0 {
		t.Errorf("stop loss: got %v, want explicit zero", eo.StopLoss)
	}
}

func TestParseSetTrigger(t *testing.T) {
	payload := baseMeta()
	payload["index"] = uint64(3)
	payload["target"] = "option"
	payload["take_profit"] = true
	payload["price"] = uint64(120_000_000)
	payload["size_percent"] = uint16(2_500)

	raw := rawFromJSON(t, payload)
	cmd, err := ingestion.ParseRawCommand(raw, "set_trigger")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	st, ok := cmd.(*event.SetTrigger)
	if !ok {
		t.Fatalf("expected *event.SetTrigger, got %T", cmd)
	}
	if st.Target != event.TargetOption {
		t.Errorf("target: got %d, want option", st.Target)
	}
	if !st.TakeProfit || st.Price != 120_000_000 || st.SizePercent != 2_500 {
		t.Errorf("order = (%v, %d, %d)", st.TakeProfit, st.Price, st.SizePercent)
	}
}

func TestParseUpdateTriggerPartialFields(t *testing.T) {
	payload := baseMeta()
	payload["target"] = "position"
	payload["take_profit"] = false
	payload["slot"] = 2
	payload["new_price"] = uint64(80_000_000)
	// new_size_percent and new_receive_in_quote absent: keep current values.

	raw := rawFromJSON(t, payload)
	cmd, err := ingestion.ParseRawCommand(raw, "update_trigger")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	ut := cmd.(*event.UpdateTrigger)
	if ut.NewPrice == nil || *ut.NewPrice != 80_000_000 {
		t.Errorf("new_price: got %v, want 80_000_000", ut.NewPrice)
	}
	if ut.NewSizePercent != nil || ut.NewReceiveIn != nil {
		t.Error("absent fields should stay nil")
	}
}

func TestParsePriceUpdate(t *testing.T) {
	payload := map[string]interface{}{
		"asset":           "SOL",
		"price":           uint64(14_523),
		"exponent":        int32(-2),
		"confidence_bps":  uint32(12),
		"price_sequence":  int64(100),
		"price_timestamp": int64(1700000000),
	}

	raw := rawFromJSON(t, payload)
	cmd, err := ingestion.ParseRawCommand(raw, "price_update")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	pu, ok := cmd.(*event.PriceUpdate)
	if !ok {
		t.Fatalf("expected *event.PriceUpdate, got %T", cmd)
	}
	if pu.Asset != oracle.AssetSOL {
		t.Errorf("asset: got %s, want SOL", pu.Asset)
	}
	if pu.Price != 14_523 || pu.Exponent != -2 {
		t.Errorf("quote = (%d, %d), want (14_523, -2)", pu.Price, pu.Exponent)
	}
	if pu.PriceSequence != 100 {
		t.Errorf("price_sequence: got %d, want 100", pu.PriceSequence)
	}
}

func TestParseUnknownKind_Fails(t *testing.T) {
	raw := ingestion.RawCommand{Data: []byte(`{}`)}
	if _, err := ingestion.ParseRawCommand(raw, "nonexistent_kind"); err == nil {
		t.Fatal("expected error for unknown command kind")
	}
}

func TestParseInvalidJSON_Fails(t *testing.T) {
	raw := ingestion.RawCommand{Data: []byte(`{invalid json`)}
	if _, err := ingestion.ParseRawCommand(raw, "open_position"); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestParseInvalidOwner_Fails(t *testing.T) {
	payload := baseMeta()
	payload["owner"] = "not-a-uuid"
	payload["side"] = "long"
	payload["order_type"] = "market"

	raw := rawFromJSON(t, payload)
	if _, err := ingestion.ParseRawCommand(raw, "open_position"); err == nil {
		t.Fatal("expected error for invalid owner UUID")
	}
}

func TestParseMissingPool_Fails(t *testing.T) {
	payload := baseMeta()
	delete(payload, "pool")
	payload["index"] = uint64(0)

	raw := rawFromJSON(t, payload)
	if _, err := ingestion.ParseRawCommand(raw, "claim_future"); err == nil {
		t.Fatal("expected error for missing pool")
	}
}

func TestParseZeroPrice_Fails(t *testing.T) {
	payload := map[string]interface{}{
		"asset":          "SOL",
		"price":          uint64(0),
		"price_sequence": int64(1),
	}
	raw := rawFromJSON(t, payload)
	if _, err := ingestion.ParseRawCommand(raw, "price_update"); err == nil {
		t.Fatal("expected error for zero price")
	}
}
