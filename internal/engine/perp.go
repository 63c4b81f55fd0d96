package engine

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/Aurora0917/olive-sc-sub000/internal/state"

	fpmath "github.com/Aurora0917/olive-sc-sub000/internal/math"
)

// OpenPositionParams carries the caller's request to open a perpetual-style
// position. For a limit order TriggerPrice is the resting trigger; a market
// order ignores the trigger fields and executes at the oracle price.
type OpenPositionParams struct {
	Owner uuid.UUID
	Index uint64

	Side      state.Side
	OrderType state.OrderType

	SizeUSD          uint64
	CollateralAmount uint64 // native units of the side's collateral custody

	TriggerPrice          uint64
	TriggerAboveThreshold bool
	MaxSlippageBps        uint64
}

// OpenPosition creates a perpetual position against the pool. A market order
// snapshots the pool's interest counter, locks backing liquidity, and starts
// accruing immediately; a limit order only records the trigger and holds the
// collateral until execution.
func (e *Engine) OpenPosition(pool *state.Pool, p OpenPositionParams, now int64) (*state.Position, []Effect, error) {
	if err := validateSizeUSD(p.SizeUSD); err != nil {
		e.observeTransition("perp_open", "rejected")
		return nil, nil, err
	}
	if p.CollateralAmount == 0 {
		return nil, nil, fmt.Errorf("%w: zero collateral", ErrInvalidParameter)
	}
	if p.OrderType == state.OrderTypeLimit && p.TriggerPrice == 0 {
		return nil, nil, fmt.Errorf("%w: limit order needs a trigger price", ErrInvalidParameter)
	}

	custody := pool.CustodyFor(p.Side)
	collateralQuote, err := e.quote(custody.Asset)
	if err != nil {
		return nil, nil, err
	}
	collateralUSD, err := collateralQuote.USDForTokens(p.CollateralAmount, custody.Decimals)
	if err != nil {
		return nil, nil, err
	}
	if collateralUSD > p.SizeUSD {
		return nil, nil, fmt.Errorf("%w: collateral %d exceeds size %d", ErrInvalidParameter, collateralUSD, p.SizeUSD)
	}
	if err := validateLeverage(p.SizeUSD, collateralUSD, PerpMaxLeverage); err != nil {
		e.observeTransition("perp_open", "rejected")
		return nil, nil, err
	}

	initialMarginBps, err := fpmath.MulDivU(collateralUSD, uint64(fpmath.FullBPS), p.SizeUSD)
	if err != nil {
		return nil, nil, err
	}
	if initialMarginBps < PerpMinInitialMarginBps {
		initialMarginBps = PerpMinInitialMarginBps
	}

	openFee, err := fpmath.MulDivU(p.SizeUSD, PerpOpenFeeBps, uint64(fpmath.FullBPS))
	if err != nil {
		return nil, nil, err
	}

	pos := &state.Position{
		ID:                   uuid.New(),
		Owner:                p.Owner,
		Index:                p.Index,
		Pool:                 pool.Name,
		Custody:              pool.Underlying.Asset,
		CollateralCustody:    custody.Asset,
		OrderType:            p.OrderType,
		Side:                 p.Side,
		SizeUSD:              p.SizeUSD,
		CollateralUSD:        collateralUSD,
		CollateralAmount:     p.CollateralAmount,
		InitialMarginBps:     uint32(initialMarginBps),
		MaintenanceMarginBps: uint32(initialMarginBps / 2),
		TradeFeesPaid:        openFee,
		MaxSlippageBps:       p.MaxSlippageBps,
		OpenTime:             now,
		UpdateTime:           now,
	}

	switch p.OrderType {
	case state.OrderTypeLimit:
		pos.Price = p.TriggerPrice
		pos.TriggerPrice = p.TriggerPrice
		pos.TriggerAboveThreshold = p.TriggerAboveThreshold
	case state.OrderTypeMarket:
		if err := e.activatePosition(pool, pos, now); err != nil {
			e.observeTransition("perp_open", "rejected")
			return nil, nil, err
		}
	}

	if err := custody.AddOwned(p.CollateralAmount); err != nil {
		return nil, nil, err
	}

	effects := []Effect{
		collect(custody.Asset, p.CollateralAmount, p.Owner, "position collateral"),
	}

	e.log.Info().
		Str("position", pos.ID.String()).
		Str("side", p.Side.String()).
		Str("order_type", p.OrderType.String()).
		Uint64("size_usd", p.SizeUSD).
		Msg("position opened")
	e.observeTransition("perp_open", "applied")
	return pos, effects, nil
}

// activatePosition performs the Limit -> Market half of execution shared
// with market opens: snapshot the interest counter, lock pool liquidity,
// derive the liquidation price, and register open interest. Accrual starts
// here, never at limit placement.
func (e *Engine) activatePosition(pool *state.Pool, pos *state.Position, now int64) error {
	custody := pool.CustodyFor(pos.Side)
	markQuote, err := e.quote(pool.Underlying.Asset)
	if err != nil {
		return err
	}
	markPrice, err := markQuote.Scaled()
	if err != nil {
		return err
	}

	if err := pool.UpdateRates(now, e.pricing); err != nil {
		return err
	}

	pos.OrderType = state.OrderTypeMarket
	pos.Price = markPrice
	borrowUSD, err := fpmath.CheckedSub(pos.SizeUSD, pos.CollateralUSD)
	if err != nil {
		return err
	}
	pos.BorrowSizeUSD = borrowUSD

	// Backing is locked on the side custody valued at its own oracle:
	// longs reserve underlying tokens, shorts reserve stable.
	sideQuote := markQuote
	if custody.Asset != pool.Underlying.Asset {
		if sideQuote, err = e.quote(custody.Asset); err != nil {
			return err
		}
	}
	locked, err := sideQuote.TokensForUSD(pos.SizeUSD, custody.Decimals)
	if err != nil {
		return err
	}
	if err := custody.LockFunds(locked); err != nil {
		return err
	}
	pos.LockedAmount = locked

	liqPrice, err := state.PerpLiquidationPrice(markPrice, pos.MaintenanceMarginBps, pos.Side)
	if err != nil {
		return err
	}
	pos.LiquidationPrice = liqPrice

	pos.CumulativeInterestSnapshot = pool.CumulativeInterest(pos.Side)
	pos.LastBorrowFeesUpdateTime = now
	pos.UpdateTime = now

	return pool.AddOpenInterest(pos.Side, pos.SizeUSD)
}

// ExecuteLimitOrder converts a resting limit position into an active market
// position once the oracle price satisfies the trigger condition and lands
// inside the order's slippage band. Permissionless: any keeper may invoke it.
func (e *Engine) ExecuteLimitOrder(pool *state.Pool, pos *state.Position, now int64) ([]Effect, error) {
	if !pos.IsPendingLimit() {
		return nil, ErrNotLimitOrder
	}
	markQuote, err := e.quote(pool.Underlying.Asset)
	if err != nil {
		return nil, err
	}
	markPrice, err := markQuote.Scaled()
	if err != nil {
		return nil, err
	}
	if !pos.ShouldExecuteLimit(markPrice) {
		e.observeTransition("perp_execute_limit", "rejected")
		return nil, fmt.Errorf("%w: mark %d vs trigger %d", ErrLimitNotTriggered, markPrice, pos.TriggerPrice)
	}
	ok, err := withinSlippageBand(markPrice, pos.TriggerPrice, pos.MaxSlippageBps)
	if err != nil {
		return nil, err
	}
	if !ok {
		e.observeTransition("perp_execute_limit", "rejected")
		return nil, fmt.Errorf("%w: mark %d outside band around %d", ErrPriceSlippage, markPrice, pos.TriggerPrice)
	}

	// Collateral value is re-marked at execution time, not placement time.
	custody := pool.CustodyFor(pos.Side)
	collateralQuote, err := e.quote(custody.Asset)
	if err != nil {
		return nil, err
	}
	collateralUSD, err := collateralQuote.USDForTokens(pos.CollateralAmount, custody.Decimals)
	if err != nil {
		return nil, err
	}
	if collateralUSD > pos.SizeUSD {
		collateralUSD = pos.SizeUSD
	}
	pos.CollateralUSD = collateralUSD

	if err := e.activatePosition(pool, pos, now); err != nil {
		return nil, err
	}

	e.log.Info().
		Str("position", pos.ID.String()).
		Uint64("entry_price", pos.Price).
		Msg("limit order executed")
	e.observeTransition("perp_execute_limit", "applied")
	return nil, nil
}

// CancelLimitOrder refunds the held collateral and reclaims the record.
// Owner-gated: resting orders belong to their creator alone.
func (e *Engine) CancelLimitOrder(pool *state.Pool, pos *state.Position, caller uuid.UUID) ([]Effect, error) {
	if err := requireOwner(pos.Owner, caller); err != nil {
		return nil, err
	}
	if !pos.IsPendingLimit() {
		return nil, ErrNotLimitOrder
	}
	custody := pool.CustodyFor(pos.Side)
	if err := custody.RemoveOwned(pos.CollateralAmount); err != nil {
		return nil, err
	}
	effects := []Effect{
		payout(custody.Asset, pos.CollateralAmount, pos.Owner, "limit order cancelled"),
		reclaim(pos.ID, "position record"),
	}
	pos.SizeUSD = 0
	pos.CollateralAmount = 0
	pos.CollateralUSD = 0
	e.observeTransition("perp_cancel_limit", "applied")
	return effects, nil
}

// AddCollateral tops up an active position, lowering its effective leverage.
func (e *Engine) AddCollateral(pool *state.Pool, pos *state.Position, caller uuid.UUID, amount uint64, now int64) ([]Effect, error) {
	if err := requireOwner(pos.Owner, caller); err != nil {
		return nil, err
	}
	if pos.IsLiquidated || pos.SizeUSD == 0 {
		return nil, ErrPositionClosed
	}
	if amount == 0 {
		return nil, fmt.Errorf("%w: zero amount", ErrInvalidParameter)
	}
	custody := pool.CustodyFor(pos.Side)
	quote, err := e.quote(custody.Asset)
	if err != nil {
		return nil, err
	}
	addUSD, err := quote.USDForTokens(amount, custody.Decimals)
	if err != nil {
		return nil, err
	}

	newCollateralUSD, err := fpmath.CheckedAdd(pos.CollateralUSD, addUSD)
	if err != nil {
		return nil, err
	}
	if newCollateralUSD > pos.SizeUSD {
		return nil, fmt.Errorf("%w: collateral would exceed size", ErrInvalidParameter)
	}
	if err := custody.AddOwned(amount); err != nil {
		return nil, err
	}
	pos.CollateralUSD = newCollateralUSD
	pos.CollateralAmount += amount
	pos.BorrowSizeUSD = pos.SizeUSD - newCollateralUSD
	pos.UpdateTime = now

	e.observeTransition("perp_add_collateral", "applied")
	return []Effect{collect(custody.Asset, amount, pos.Owner, "add collateral")}, nil
}

// RemoveCollateral withdraws collateral provided the position stays inside
// the leverage cap and above its maintenance margin at the current price.
func (e *Engine) RemoveCollateral(pool *state.Pool, pos *state.Position, caller uuid.UUID, amount uint64, now int64) ([]Effect, error) {
	if err := requireOwner(pos.Owner, caller); err != nil {
		return nil, err
	}
	if pos.IsLiquidated || pos.SizeUSD == 0 {
		return nil, ErrPositionClosed
	}
	if pos.IsPendingLimit() {
		return nil, ErrNotLimitOrder
	}
	if amount == 0 || amount > pos.CollateralAmount {
		return nil, fmt.Errorf("%w: amount %d out of range", ErrInvalidParameter, amount)
	}
	custody := pool.CustodyFor(pos.Side)
	quote, err := e.quote(custody.Asset)
	if err != nil {
		return nil, err
	}
	removeUSD, err := quote.USDForTokens(amount, custody.Decimals)
	if err != nil {
		return nil, err
	}
	remainingUSD, err := fpmath.CheckedSub(pos.CollateralUSD, removeUSD)
	if err != nil {
		return nil, fmt.Errorf("%w: withdrawal exceeds collateral value", ErrInvalidParameter)
	}
	if err := validateLeverage(pos.SizeUSD, remainingUSD, PerpMaxLeverage); err != nil {
		return nil, err
	}

	// The withdrawal must not leave the position immediately liquidatable.
	markQuote, err := e.quote(pool.Underlying.Asset)
	if err != nil {
		return nil, err
	}
	markPrice, err := markQuote.Scaled()
	if err != nil {
		return nil, err
	}
	trial := *pos
	trial.CollateralUSD = remainingUSD
	liquidatable, err := state.IsLiquidatable(&trial, markPrice)
	if err != nil {
		return nil, err
	}
	if liquidatable {
		return nil, fmt.Errorf("%w: withdrawal would trigger liquidation", ErrInvalidParameter)
	}

	if err := custody.RemoveOwned(amount); err != nil {
		return nil, err
	}
	pos.CollateralUSD = remainingUSD
	pos.CollateralAmount -= amount
	pos.BorrowSizeUSD = pos.SizeUSD - remainingUSD
	pos.UpdateTime = now

	e.observeTransition("perp_remove_collateral", "applied")
	return []Effect{payout(custody.Asset, amount, pos.Owner, "remove collateral")}, nil
}

// IncreaseSize grows an active position, blending the entry price by size
// weight and locking additional pool backing for the added exposure.
func (e *Engine) IncreaseSize(pool *state.Pool, pos *state.Position, caller uuid.UUID, addSizeUSD, addCollateralAmount uint64, now int64) ([]Effect, error) {
	if err := requireOwner(pos.Owner, caller); err != nil {
		return nil, err
	}
	if pos.IsLiquidated || pos.SizeUSD == 0 {
		return nil, ErrPositionClosed
	}
	if pos.IsPendingLimit() {
		return nil, ErrNotLimitOrder
	}
	if addSizeUSD == 0 {
		return nil, fmt.Errorf("%w: zero size delta", ErrInvalidParameter)
	}
	newSizeUSD, err := fpmath.CheckedAdd(pos.SizeUSD, addSizeUSD)
	if err != nil {
		return nil, err
	}
	if err := validateSizeUSD(newSizeUSD); err != nil {
		return nil, err
	}

	custody := pool.CustodyFor(pos.Side)
	collateralQuote, err := e.quote(custody.Asset)
	if err != nil {
		return nil, err
	}
	addCollateralUSD := uint64(0)
	if addCollateralAmount > 0 {
		addCollateralUSD, err = collateralQuote.USDForTokens(addCollateralAmount, custody.Decimals)
		if err != nil {
			return nil, err
		}
	}
	newCollateralUSD := pos.CollateralUSD + addCollateralUSD
	if err := validateLeverage(newSizeUSD, newCollateralUSD, PerpMaxLeverage); err != nil {
		return nil, err
	}

	markQuote, err := e.quote(pool.Underlying.Asset)
	if err != nil {
		return nil, err
	}
	markPrice, err := markQuote.Scaled()
	if err != nil {
		return nil, err
	}

	// Settle accrued interest on the old borrow before the size changes.
	if err := e.accrueBorrowFees(pool, pos, now); err != nil {
		return nil, err
	}

	// Size-weighted entry blend.
	oldNotional := fpmath.MultiplyInt128(int64(pos.SizeUSD), int64(pos.Price))
	addNotional := fpmath.MultiplyInt128(int64(addSizeUSD), int64(markPrice))
	blended, err := fpmath.DivideInt128(oldNotional.Add(oldNotional, addNotional), int64(newSizeUSD), fpmath.RoundHalfEven)
	fpmath.PutInt128(oldNotional)
	fpmath.PutInt128(addNotional)
	if err != nil {
		return nil, err
	}
	pos.Price = uint64(blended)

	addLocked, err := collateralQuote.TokensForUSD(addSizeUSD, custody.Decimals)
	if err != nil {
		return nil, err
	}
	if err := custody.LockFunds(addLocked); err != nil {
		return nil, err
	}
	if addCollateralAmount > 0 {
		if err := custody.AddOwned(addCollateralAmount); err != nil {
			return nil, err
		}
	}

	addFee, err := fpmath.MulDivU(addSizeUSD, PerpOpenFeeBps, uint64(fpmath.FullBPS))
	if err != nil {
		return nil, err
	}

	pos.SizeUSD = newSizeUSD
	pos.CollateralUSD = newCollateralUSD
	pos.CollateralAmount += addCollateralAmount
	pos.BorrowSizeUSD = newSizeUSD - newCollateralUSD
	pos.LockedAmount += addLocked
	pos.TradeFeesPaid += addFee
	pos.UpdateTime = now

	liqPrice, err := state.PerpLiquidationPrice(pos.Price, pos.MaintenanceMarginBps, pos.Side)
	if err != nil {
		return nil, err
	}
	pos.LiquidationPrice = liqPrice

	if err := pool.AddOpenInterest(pos.Side, addSizeUSD); err != nil {
		return nil, err
	}

	var effects []Effect
	if addCollateralAmount > 0 {
		effects = append(effects, collect(custody.Asset, addCollateralAmount, pos.Owner, "size increase collateral"))
	}
	e.observeTransition("perp_increase_size", "applied")
	return effects, nil
}

// DecreaseSize reduces exposure by delegating to the shared proportional
// close with the equivalent close percentage.
func (e *Engine) DecreaseSize(pool *state.Pool, pos *state.Position, book *state.TriggerBook, caller uuid.UUID, removeSizeUSD uint64, now int64) ([]Effect, error) {
	if removeSizeUSD == 0 || removeSizeUSD > pos.SizeUSD {
		return nil, fmt.Errorf("%w: size delta %d out of range", ErrInvalidParameter, removeSizeUSD)
	}
	closePercentage, err := fpmath.MulDivU(removeSizeUSD, fpmath.FullClosePercent, pos.SizeUSD)
	if err != nil {
		return nil, err
	}
	return e.ClosePosition(pool, pos, book, caller, closePercentage, now)
}

// accrueBorrowFees settles the snapshot delta into the position's accrued
// fee bucket. Resting limit orders never accrue.
func (e *Engine) accrueBorrowFees(pool *state.Pool, pos *state.Position, now int64) error {
	if pos.IsPendingLimit() {
		return nil
	}
	if err := pool.UpdateRates(now, e.pricing); err != nil {
		return err
	}
	interest, err := pool.InterestPayment(pos.BorrowSizeUSD, pos.CumulativeInterestSnapshot, pos.Side)
	if err != nil {
		return err
	}
	pos.AccruedBorrowFees += interest
	pos.CumulativeInterestSnapshot = pool.CumulativeInterest(pos.Side)
	pos.LastBorrowFeesUpdateTime = now
	return nil
}

// UpdateBorrowFees brings a position's interest accrual current. Keepers
// call this periodically so margin checks see up-to-date fee erosion.
func (e *Engine) UpdateBorrowFees(pool *state.Pool, pos *state.Position, now int64) error {
	if pos.IsLiquidated || pos.SizeUSD == 0 {
		return ErrPositionClosed
	}
	if err := e.accrueBorrowFees(pool, pos, now); err != nil {
		return err
	}
	e.observeTransition("perp_update_fees", "applied")
	return nil
}

// closeOutcome is the result of the shared proportional-close computation.
type closeOutcome struct {
	SizeClosed       uint64
	CollateralClosed uint64
	PnL              int64
	Interest         uint64
	Fees             uint64
	SettlementUSD    uint64
	PayoutTokens     uint64
	FullClose        bool
}

// computeClose runs the proportional-close math shared by close, TP/SL
// execution, size decrease, and liquidation. closePercentage is in the
// 6-decimal close scale; all position slices scale linearly by it.
func (e *Engine) computeClose(pool *state.Pool, pos *state.Position, markPrice uint64, closePercentage uint64) (*closeOutcome, error) {
	if err := validateClosePercentage(closePercentage); err != nil {
		return nil, err
	}

	out := &closeOutcome{FullClose: closePercentage == fpmath.FullClosePercent}

	var err error
	if out.SizeClosed, err = slice(pos.SizeUSD, closePercentage); err != nil {
		return nil, err
	}
	if out.CollateralClosed, err = slice(pos.CollateralUSD, closePercentage); err != nil {
		return nil, err
	}
	if out.Interest, err = slice(pos.AccruedBorrowFees, closePercentage); err != nil {
		return nil, err
	}
	feeSlice, err := slice(pos.TradeFeesPaid, closePercentage)
	if err != nil {
		return nil, err
	}
	closeFee, err := fpmath.MulDivU(out.SizeClosed, PerpCloseFeeBps, uint64(fpmath.FullBPS))
	if err != nil {
		return nil, err
	}
	out.Fees = feeSlice + closeFee

	pnlFull, err := pos.PnLUSD(markPrice)
	if err != nil {
		return nil, err
	}
	if out.PnL, err = sliceSigned(pnlFull, closePercentage); err != nil {
		return nil, err
	}

	// Net settlement floors at zero: loss beyond collateral is bad debt the
	// pool absorbs, never a balance the user owes.
	net := int64(out.CollateralClosed) + out.PnL - int64(out.Interest) - int64(out.Fees)
	if net < 0 {
		net = 0
	}
	out.SettlementUSD = uint64(net)

	custody := pool.CustodyFor(pos.Side)
	quote, err := e.quote(custody.Asset)
	if err != nil {
		return nil, err
	}
	if out.PayoutTokens, err = quote.TokensForUSD(out.SettlementUSD, custody.Decimals); err != nil {
		return nil, err
	}
	return out, nil
}

// applyClose mutates the position and pool by the computed slices.
func applyClose(pool *state.Pool, pos *state.Position, out *closeOutcome, closePercentage uint64, now int64) error {
	custody := pool.CustodyFor(pos.Side)

	lockedSlice, err := slice(pos.LockedAmount, closePercentage)
	if err != nil {
		return err
	}
	collateralAmtSlice, err := slice(pos.CollateralAmount, closePercentage)
	if err != nil {
		return err
	}
	feeSlice, err := slice(pos.TradeFeesPaid, closePercentage)
	if err != nil {
		return err
	}

	custody.UnlockFunds(lockedSlice)
	if out.PayoutTokens > 0 {
		if err := custody.RemoveOwned(out.PayoutTokens); err != nil {
			return err
		}
	}
	if err := pool.RemoveOpenInterest(pos.Side, out.SizeClosed); err != nil {
		return err
	}

	pos.SizeUSD -= out.SizeClosed
	pos.CollateralUSD -= out.CollateralClosed
	pos.CollateralAmount -= collateralAmtSlice
	pos.LockedAmount -= lockedSlice
	pos.AccruedBorrowFees -= out.Interest
	pos.BorrowFeesPaid += out.Interest
	pos.TradeFeesPaid -= feeSlice
	if pos.CollateralUSD > pos.SizeUSD {
		pos.CollateralUSD = pos.SizeUSD
	}
	if pos.SizeUSD > 0 {
		pos.BorrowSizeUSD = pos.SizeUSD - pos.CollateralUSD
	} else {
		pos.BorrowSizeUSD = 0
	}
	pos.UpdateTime = now
	return nil
}

// ClosePosition closes closePercentage of an active position at the oracle
// price. A full close clears the TP/SL book (if attached) and reclaims both
// records.
func (e *Engine) ClosePosition(pool *state.Pool, pos *state.Position, book *state.TriggerBook, caller uuid.UUID, closePercentage uint64, now int64) ([]Effect, error) {
	if err := requireOwner(pos.Owner, caller); err != nil {
		return nil, err
	}
	if pos.IsLiquidated || pos.SizeUSD == 0 {
		return nil, ErrPositionClosed
	}
	if pos.IsPendingLimit() {
		return nil, ErrNotLimitOrder
	}

	if err := e.accrueBorrowFees(pool, pos, now); err != nil {
		return nil, err
	}
	markQuote, err := e.quote(pool.Underlying.Asset)
	if err != nil {
		return nil, err
	}
	markPrice, err := markQuote.Scaled()
	if err != nil {
		return nil, err
	}

	out, err := e.computeClose(pool, pos, markPrice, closePercentage)
	if err != nil {
		e.observeTransition("perp_close", "rejected")
		return nil, err
	}
	if err := applyClose(pool, pos, out, closePercentage, now); err != nil {
		return nil, err
	}

	custody := pool.CustodyFor(pos.Side)
	var effects []Effect
	if out.PayoutTokens > 0 {
		effects = append(effects, payout(custody.Asset, out.PayoutTokens, pos.Owner, "close settlement"))
	}
	if out.FullClose || pos.SizeUSD == 0 {
		if book != nil {
			book.ClearAll()
			effects = append(effects, reclaim(book.ID, "trigger book"))
		}
		pos.ClearTriggers()
		effects = append(effects, reclaim(pos.ID, "position record"))
	}

	e.log.Info().
		Str("position", pos.ID.String()).
		Uint64("close_percentage", closePercentage).
		Int64("pnl_usd", out.PnL).
		Uint64("settlement_usd", out.SettlementUSD).
		Msg("position closed")
	e.observeTransition("perp_close", "applied")
	return effects, nil
}

// Liquidate force-closes a position that fails either the price trigger or
// the equity trigger. Permissionless: the caller earns a reward carved out
// of the remaining settlement.
func (e *Engine) Liquidate(pool *state.Pool, pos *state.Position, book *state.TriggerBook, liquidator uuid.UUID, now int64) ([]Effect, error) {
	if pos.IsLiquidated || pos.SizeUSD == 0 {
		return nil, ErrPositionClosed
	}
	if pos.IsPendingLimit() {
		return nil, ErrNotLimitOrder
	}

	if err := e.accrueBorrowFees(pool, pos, now); err != nil {
		return nil, err
	}
	markQuote, err := e.quote(pool.Underlying.Asset)
	if err != nil {
		return nil, err
	}
	markPrice, err := markQuote.Scaled()
	if err != nil {
		return nil, err
	}

	liquidatable, err := state.IsLiquidatable(pos, markPrice)
	if err != nil {
		return nil, err
	}
	if !liquidatable {
		e.observeTransition("perp_liquidate", "rejected")
		return nil, fmt.Errorf("%w: mark %d, liq %d", ErrNotLiquidatable, markPrice, pos.LiquidationPrice)
	}

	out, err := e.computeClose(pool, pos, markPrice, fpmath.FullClosePercent)
	if err != nil {
		return nil, err
	}
	if err := applyClose(pool, pos, out, fpmath.FullClosePercent, now); err != nil {
		return nil, err
	}
	pos.IsLiquidated = true

	// Reward: 5% of the settlement with a floor, never exceeding it.
	reward, err := fpmath.MulDivU(out.PayoutTokens, LiquidationRewardBps, uint64(fpmath.FullBPS))
	if err != nil {
		return nil, err
	}
	if reward < MinLiquidationReward {
		reward = MinLiquidationReward
	}
	if reward > out.PayoutTokens {
		reward = out.PayoutTokens
	}

	custody := pool.CustodyFor(pos.Side)
	var effects []Effect
	if remainder := out.PayoutTokens - reward; remainder > 0 {
		effects = append(effects, payout(custody.Asset, remainder, pos.Owner, "liquidation remainder"))
	}
	if reward > 0 {
		effects = append(effects, payout(custody.Asset, reward, liquidator, "liquidation reward"))
	}
	if book != nil {
		book.ClearAll()
		effects = append(effects, reclaim(book.ID, "trigger book"))
	}
	pos.ClearTriggers()
	effects = append(effects, reclaim(pos.ID, "position record"))

	e.log.Warn().
		Str("position", pos.ID.String()).
		Uint64("mark_price", markPrice).
		Int64("pnl_usd", out.PnL).
		Msg("position liquidated")
	e.observeTransition("perp_liquidate", "applied")
	return effects, nil
}
