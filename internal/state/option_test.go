package state

import (
	"testing"

	"github.com/google/uuid"

	"github.com/Aurora0917/olive-sc-sub000/internal/oracle"
)

func newTestOption(typ OptionType) *Option {
	return &Option{
		ID:           uuid.New(),
		Owner:        uuid.New(),
		LockedAsset:  oracle.AssetSOL,
		PremiumAsset: oracle.AssetUSDC,
		Amount:       10_000_000_000, // 10 SOL at 9 decimals
		Quantity:     10,
		StrikePrice:  120_000000,
		Type:         typ,
		PurchaseDate: 1_700_000_000,
		ExpiredDate:  1_700_000_000 + 30*24*3600,
		Valid:        true,
	}
}

func TestIntrinsicValue(t *testing.T) {
	tests := []struct {
		name string
		typ  OptionType
		spot uint64
		want uint64
	}{
		{"call in the money", OptionCall, 130_000000, 10 * 10_000000},
		{"call at the money", OptionCall, 120_000000, 0},
		{"call out of the money", OptionCall, 110_000000, 0},
		{"put in the money", OptionPut, 110_000000, 10 * 10_000000},
		{"put at the money", OptionPut, 120_000000, 0},
		{"put out of the money", OptionPut, 130_000000, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := newTestOption(tt.typ)
			got, err := o.IntrinsicValueUSD(tt.spot)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("intrinsic = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestExerciseGuards(t *testing.T) {
	o := newTestOption(OptionCall)

	if err := o.MarkExercised(1_700_100_000); err != nil {
		t.Fatal(err)
	}
	if o.Valid {
		t.Error("exercise must terminate the grant")
	}
	if o.Exercised != 1_700_100_000 {
		t.Errorf("exercised timestamp = %d", o.Exercised)
	}

	// The exercised != 0 guard makes exercise and auto-exercise mutually
	// exclusive.
	if err := o.MarkExercised(1_700_200_000); err != ErrOptionNotValid {
		t.Errorf("double exercise: got %v, want ErrOptionNotValid", err)
	}

	stale := newTestOption(OptionCall)
	stale.Valid = false
	if err := stale.MarkExercised(1_700_100_000); err != ErrOptionNotValid {
		t.Errorf("invalid grant: got %v, want ErrOptionNotValid", err)
	}

	empty := newTestOption(OptionCall)
	empty.Quantity = 0
	if err := empty.MarkExercised(1_700_100_000); err != ErrZeroQuantity {
		t.Errorf("zero quantity: got %v, want ErrZeroQuantity", err)
	}
}

func TestReduceBy(t *testing.T) {
	o := newTestOption(OptionCall)

	unlock, err := o.ReduceBy(4, 1_700_050_000)
	if err != nil {
		t.Fatal(err)
	}
	if unlock != 4_000_000_000 {
		t.Errorf("unlock = %d, want proportional 4 SOL", unlock)
	}
	if o.Quantity != 6 || o.Amount != 6_000_000_000 {
		t.Errorf("remaining = (%d, %d), want (6, 6 SOL)", o.Quantity, o.Amount)
	}
	if !o.Valid {
		t.Error("partial close must keep the grant valid")
	}
	if o.BoughtBack != 1_700_050_000 {
		t.Error("buy-back timestamp not recorded")
	}

	// Closing the rest terminates the grant.
	if _, err := o.ReduceBy(6, 1_700_060_000); err != nil {
		t.Fatal(err)
	}
	if o.Valid || o.Quantity != 0 {
		t.Error("full close must invalidate the grant")
	}

	if _, err := o.ReduceBy(1, 1_700_070_000); err != ErrOptionNotValid {
		t.Errorf("close on dead grant: got %v, want ErrOptionNotValid", err)
	}
}

func TestReduceByRejectsOutOfRange(t *testing.T) {
	o := newTestOption(OptionCall)
	if _, err := o.ReduceBy(0, 0); err == nil {
		t.Error("zero close quantity should be rejected")
	}
	if _, err := o.ReduceBy(11, 0); err == nil {
		t.Error("close beyond quantity should be rejected")
	}
}

func TestClaimProfitOnce(t *testing.T) {
	o := newTestOption(OptionPut)
	o.Claimed = 42_000000

	if got := o.ClaimProfit(); got != 42_000000 {
		t.Errorf("claim = %d, want 42_000000", got)
	}
	if o.Claimed != 0 || o.Profit != 42_000000 {
		t.Errorf("post-claim state = (claimed %d, profit %d)", o.Claimed, o.Profit)
	}
	if got := o.ClaimProfit(); got != 0 {
		t.Errorf("second claim = %d, want 0", got)
	}
}

func TestTimeToExpiry(t *testing.T) {
	o := newTestOption(OptionCall)
	if o.IsExpired(o.ExpiredDate - 1) {
		t.Error("not yet expired")
	}
	if !o.IsExpired(o.ExpiredDate) {
		t.Error("expired at the boundary")
	}
	if y := o.TimeToExpiryYears(o.ExpiredDate + 100); y != 0 {
		t.Errorf("expiry years past expiry = %f, want 0", y)
	}
}
