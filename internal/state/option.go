package state

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/Aurora0917/olive-sc-sub000/internal/oracle"

	fpmath "github.com/Aurora0917/olive-sc-sub000/internal/math"
)

// OptionType is call or put.
type OptionType uint8

const (
	OptionCall OptionType = iota
	OptionPut
)

func (o OptionType) String() string {
	if o == OptionPut {
		return "Put"
	}
	return "Call"
}

var (
	ErrOptionNotValid       = fmt.Errorf("option is no longer valid")
	ErrOptionAlreadyMatured = fmt.Errorf("option already exercised")
	ErrOptionNotExpired     = fmt.Errorf("option has not expired")
	ErrOptionExpired        = fmt.Errorf("option has expired")
	ErrZeroQuantity         = fmt.Errorf("amount too small: quantity rounds to zero")
)

// Option is one covered (call) or cash-secured (put) grant. Amount is the
// locked-asset backing in native units, Quantity the contract count derived
// from it at purchase. A partial close shrinks the grant in place and folds
// the bought-back slice into its ClosedOption sibling.
type Option struct {
	ID    uuid.UUID
	Owner uuid.UUID
	Index uint64
	Pool  string

	// LockedAsset backs the grant (underlying for calls, stable for puts);
	// PremiumAsset is what the buyer paid in.
	LockedAsset  oracle.AssetID
	PremiumAsset oracle.AssetID

	Amount   uint64
	Quantity uint64

	StrikePrice uint64 // 6-decimal
	Type        OptionType

	Period       uint64 // seconds from purchase to expiry
	PurchaseDate int64
	ExpiredDate  int64

	Premium uint64 // paid at open, premium-asset native units

	// Exercised is the exercise timestamp, zero until the grant is
	// exercised; it guards the exercise/auto-exercise mutual exclusion.
	Exercised  int64
	BoughtBack int64 // last partial-close timestamp

	// Profit is withdrawable now; Claimed is the payout parked by
	// auto-exercise until the owner claims it.
	Profit  uint64
	Claimed uint64

	Valid bool

	TakeProfitPrice uint64
	StopLossPrice   uint64
	OrderbookID     uuid.UUID // zero when no TP/SL book attached

	LimitPrice uint64
	Executed   bool
}

// IsExpired reports whether the expiry date has passed.
func (o *Option) IsExpired(now int64) bool {
	return now >= o.ExpiredDate
}

// TimeToExpiryYears is the remaining lifetime in years, floored at zero.
func (o *Option) TimeToExpiryYears(now int64) float64 {
	remaining := o.ExpiredDate - now
	if remaining < 0 {
		remaining = 0
	}
	return float64(remaining) / SecondsPerYear
}

// IntrinsicValueUSD is the per-grant exercise value at spotPrice in
// 6-decimal USD: max(spot-strike,0)*qty for calls, max(strike-spot,0)*qty
// for puts. Computed in scaled-integer math so the final transfer amount
// carries no float error.
func (o *Option) IntrinsicValueUSD(spotPrice uint64) (uint64, error) {
	var perUnit uint64
	switch o.Type {
	case OptionCall:
		if spotPrice <= o.StrikePrice {
			return 0, nil
		}
		perUnit = spotPrice - o.StrikePrice
	case OptionPut:
		if o.StrikePrice <= spotPrice {
			return 0, nil
		}
		perUnit = o.StrikePrice - spotPrice
	}
	value, err := fpmath.CheckedMulU64(perUnit, o.Quantity)
	if err != nil {
		return 0, err
	}
	return value, nil
}

// CanExercise checks the preconditions shared by owner exercise and the
// permissionless post-expiry auto-exercise.
func (o *Option) CanExercise() error {
	if !o.Valid {
		return ErrOptionNotValid
	}
	if o.Exercised != 0 {
		return ErrOptionAlreadyMatured
	}
	if o.Quantity == 0 {
		return ErrZeroQuantity
	}
	return nil
}

// MarkExercised terminates the grant: invoked by the owner pre-expiry or by
// the auto-exercise sweep post-expiry, never both.
func (o *Option) MarkExercised(now int64) error {
	if err := o.CanExercise(); err != nil {
		return err
	}
	o.Exercised = now
	o.Valid = false
	return nil
}

// ReduceBy shrinks the grant proportionally for a partial close, returning
// the locked-asset units released.
func (o *Option) ReduceBy(closeQuantity uint64, now int64) (uint64, error) {
	if !o.Valid {
		return 0, ErrOptionNotValid
	}
	if closeQuantity == 0 || closeQuantity > o.Quantity {
		return 0, fmt.Errorf("close quantity %d out of range (1..%d)", closeQuantity, o.Quantity)
	}
	unlock, err := fpmath.MulDivU(o.Amount, closeQuantity, o.Quantity)
	if err != nil {
		return 0, err
	}
	o.Amount -= unlock
	o.Quantity -= closeQuantity
	o.BoughtBack = now
	if o.Quantity == 0 {
		o.Valid = false
	}
	return unlock, nil
}

// ClosedOption is the audit sibling of a partially closed grant. The first
// partial buyback mints it; every later buyback of the same grant
// accumulates into this one record rather than minting one per close.
type ClosedOption struct {
	ID     uuid.UUID
	Parent uuid.UUID // the grant the slices came from
	Owner  uuid.UUID
	Index  uint64
	Pool   string

	LockedAsset  oracle.AssetID
	PremiumAsset oracle.AssetID
	Type         OptionType
	StrikePrice  uint64

	Quantity uint64 // contracts bought back so far
	Amount   uint64 // backing released so far, locked-asset native units
	Refunded uint64 // premium refunded so far, premium-asset native units

	FirstClosedAt int64
	LastClosedAt  int64
}

// NewClosedOption seeds the sibling record from its parent grant.
func NewClosedOption(o *Option) *ClosedOption {
	return &ClosedOption{
		ID:           uuid.New(),
		Parent:       o.ID,
		Owner:        o.Owner,
		Index:        o.Index,
		Pool:         o.Pool,
		LockedAsset:  o.LockedAsset,
		PremiumAsset: o.PremiumAsset,
		Type:         o.Type,
		StrikePrice:  o.StrikePrice,
	}
}

// Accumulate folds one bought-back slice into the record.
func (c *ClosedOption) Accumulate(closeQuantity, unlock, refund uint64, now int64) {
	c.Quantity += closeQuantity
	c.Amount += unlock
	c.Refunded += refund
	if c.FirstClosedAt == 0 {
		c.FirstClosedAt = now
	}
	c.LastClosedAt = now
}

// ClaimProfit moves the parked auto-exercise payout into Profit and returns
// it; a second claim returns zero.
func (o *Option) ClaimProfit() uint64 {
	amount := o.Claimed
	if amount == 0 {
		return 0
	}
	o.Claimed = 0
	o.Profit += amount
	return amount
}
