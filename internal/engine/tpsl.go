package engine

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/Aurora0917/olive-sc-sub000/internal/state"

	fpmath "github.com/Aurora0917/olive-sc-sub000/internal/math"
)

// closePercentPerBp converts a trigger order's bps size into the 6-decimal
// close scale.
const closePercentPerBp = fpmath.FullClosePercent / uint64(fpmath.FullBPS)

// validatePerpTrigger enforces trigger ordering for a position: a long
// takes profit above entry and stops out strictly between the liquidation
// price and entry; a short mirrors both.
func validatePerpTrigger(pos *state.Position, price uint64, takeProfit bool) error {
	if price == 0 {
		return fmt.Errorf("%w: zero trigger price", ErrInvalidTriggerPrice)
	}
	switch {
	case takeProfit && pos.Side == state.SideLong:
		if price <= pos.Price {
			return fmt.Errorf("%w: long take-profit %d must exceed entry %d", ErrInvalidTriggerPrice, price, pos.Price)
		}
	case takeProfit:
		if price >= pos.Price {
			return fmt.Errorf("%w: short take-profit %d must be below entry %d", ErrInvalidTriggerPrice, price, pos.Price)
		}
	case pos.Side == state.SideLong:
		if price >= pos.Price || price <= pos.LiquidationPrice {
			return fmt.Errorf("%w: long stop-loss %d must lie in (%d, %d)", ErrInvalidTriggerPrice, price, pos.LiquidationPrice, pos.Price)
		}
	default:
		if price <= pos.Price || price >= pos.LiquidationPrice {
			return fmt.Errorf("%w: short stop-loss %d must lie in (%d, %d)", ErrInvalidTriggerPrice, price, pos.Price, pos.LiquidationPrice)
		}
	}
	return nil
}

// AddPositionTakeProfit inserts a TP order for an active position,
// creating the book on first use. Returns the book and the slot index.
func (e *Engine) AddPositionTakeProfit(pos *state.Position, book *state.TriggerBook, caller uuid.UUID, price uint64, sizePercent uint16, receiveInQuote bool) (*state.TriggerBook, int, error) {
	if err := requireOwner(pos.Owner, caller); err != nil {
		return nil, 0, err
	}
	if pos.IsLiquidated || pos.SizeUSD == 0 || pos.IsPendingLimit() {
		return nil, 0, ErrPositionClosed
	}
	if err := validatePerpTrigger(pos, price, true); err != nil {
		e.observeTransition("tpsl_add", "rejected")
		return nil, 0, err
	}
	if book == nil {
		book = state.NewTriggerBook(pos.Owner, pos.ID, state.ContractPerp)
	}
	index, err := book.AddTakeProfit(price, sizePercent, receiveInQuote)
	if err != nil {
		e.observeTransition("tpsl_add", "rejected")
		return nil, 0, err
	}
	pos.SetTakeProfit(price)
	e.observeTransition("tpsl_add", "applied")
	return book, index, nil
}

// AddPositionStopLoss inserts an SL order for an active position.
func (e *Engine) AddPositionStopLoss(pos *state.Position, book *state.TriggerBook, caller uuid.UUID, price uint64, sizePercent uint16, receiveInQuote bool) (*state.TriggerBook, int, error) {
	if err := requireOwner(pos.Owner, caller); err != nil {
		return nil, 0, err
	}
	if pos.IsLiquidated || pos.SizeUSD == 0 || pos.IsPendingLimit() {
		return nil, 0, ErrPositionClosed
	}
	if err := validatePerpTrigger(pos, price, false); err != nil {
		e.observeTransition("tpsl_add", "rejected")
		return nil, 0, err
	}
	if book == nil {
		book = state.NewTriggerBook(pos.Owner, pos.ID, state.ContractPerp)
	}
	index, err := book.AddStopLoss(price, sizePercent, receiveInQuote)
	if err != nil {
		e.observeTransition("tpsl_add", "rejected")
		return nil, 0, err
	}
	pos.SetStopLoss(price)
	e.observeTransition("tpsl_add", "applied")
	return book, index, nil
}

// AddOptionTakeProfit inserts a TP order for a live option grant, creating
// the book on first use.
func (e *Engine) AddOptionTakeProfit(opt *state.Option, book *state.TriggerBook, caller uuid.UUID, price uint64, sizePercent uint16, receiveInQuote bool) (*state.TriggerBook, int, error) {
	if err := requireOwner(opt.Owner, caller); err != nil {
		return nil, 0, err
	}
	if !opt.Valid {
		return nil, 0, state.ErrOptionNotValid
	}
	if err := validateOptionTrigger(opt, price, true); err != nil {
		e.observeTransition("tpsl_add", "rejected")
		return nil, 0, err
	}
	if book == nil {
		book = state.NewTriggerBook(opt.Owner, opt.ID, state.ContractOption)
		opt.OrderbookID = book.ID
	}
	index, err := book.AddTakeProfit(price, sizePercent, receiveInQuote)
	if err != nil {
		e.observeTransition("tpsl_add", "rejected")
		return nil, 0, err
	}
	opt.TakeProfitPrice = price
	e.observeTransition("tpsl_add", "applied")
	return book, index, nil
}

// AddOptionStopLoss inserts an SL order for a live option grant.
func (e *Engine) AddOptionStopLoss(opt *state.Option, book *state.TriggerBook, caller uuid.UUID, price uint64, sizePercent uint16, receiveInQuote bool) (*state.TriggerBook, int, error) {
	if err := requireOwner(opt.Owner, caller); err != nil {
		return nil, 0, err
	}
	if !opt.Valid {
		return nil, 0, state.ErrOptionNotValid
	}
	if err := validateOptionTrigger(opt, price, false); err != nil {
		e.observeTransition("tpsl_add", "rejected")
		return nil, 0, err
	}
	if book == nil {
		book = state.NewTriggerBook(opt.Owner, opt.ID, state.ContractOption)
		opt.OrderbookID = book.ID
	}
	index, err := book.AddStopLoss(price, sizePercent, receiveInQuote)
	if err != nil {
		e.observeTransition("tpsl_add", "rejected")
		return nil, 0, err
	}
	opt.StopLossPrice = price
	e.observeTransition("tpsl_add", "applied")
	return book, index, nil
}

// UpdateTriggerOrder edits one slot in place; nil fields keep their value.
// A new price revalidates against the position's entry and liquidation
// price.
func (e *Engine) UpdateTriggerOrder(pos *state.Position, book *state.TriggerBook, caller uuid.UUID, takeProfit bool, index int, newPrice *uint64, newSizePercent *uint16, newReceiveInQuote *bool) error {
	if err := requireOwner(book.Owner, caller); err != nil {
		return err
	}
	if newPrice != nil {
		if err := validatePerpTrigger(pos, *newPrice, takeProfit); err != nil {
			e.observeTransition("tpsl_update", "rejected")
			return err
		}
	}
	var err error
	if takeProfit {
		err = book.UpdateTakeProfit(index, newPrice, newSizePercent, newReceiveInQuote)
	} else {
		err = book.UpdateStopLoss(index, newPrice, newSizePercent, newReceiveInQuote)
	}
	if err != nil {
		e.observeTransition("tpsl_update", "rejected")
		return err
	}
	e.observeTransition("tpsl_update", "applied")
	return nil
}

// UpdateOptionTriggerOrder edits a slot on an option book, revalidating a
// changed price against the grant's strike.
func (e *Engine) UpdateOptionTriggerOrder(opt *state.Option, book *state.TriggerBook, caller uuid.UUID, takeProfit bool, index int, newPrice *uint64, newSizePercent *uint16, newReceiveInQuote *bool) error {
	if err := requireOwner(book.Owner, caller); err != nil {
		return err
	}
	if newPrice != nil {
		if err := validateOptionTrigger(opt, *newPrice, takeProfit); err != nil {
			e.observeTransition("tpsl_update", "rejected")
			return err
		}
	}
	var err error
	if takeProfit {
		err = book.UpdateTakeProfit(index, newPrice, newSizePercent, newReceiveInQuote)
	} else {
		err = book.UpdateStopLoss(index, newPrice, newSizePercent, newReceiveInQuote)
	}
	if err != nil {
		e.observeTransition("tpsl_update", "rejected")
		return err
	}
	e.observeTransition("tpsl_update", "applied")
	return nil
}

// RemoveTriggerOrder clears one slot.
func (e *Engine) RemoveTriggerOrder(book *state.TriggerBook, caller uuid.UUID, takeProfit bool, index int) error {
	if err := requireOwner(book.Owner, caller); err != nil {
		return err
	}
	var err error
	if takeProfit {
		err = book.RemoveTakeProfit(index)
	} else {
		err = book.RemoveStopLoss(index)
	}
	if err != nil {
		e.observeTransition("tpsl_remove", "rejected")
		return err
	}
	e.observeTransition("tpsl_remove", "applied")
	return nil
}

// triggerSatisfied reports whether markPrice crossed the order's trigger.
// A long TP and a short SL fire upward, the other two fire downward.
func triggerSatisfied(side state.Side, takeProfit bool, orderPrice, markPrice uint64) bool {
	upward := (side == state.SideLong) == takeProfit
	if upward {
		return markPrice >= orderPrice
	}
	return markPrice <= orderPrice
}

// ExecuteTriggerOrder fires one slot of a position's book at the current
// oracle price, closing the order's share of the position through the
// standard proportional-close path. Permissionless keeper duty.
func (e *Engine) ExecuteTriggerOrder(pool *state.Pool, pos *state.Position, book *state.TriggerBook, takeProfit bool, index int, now int64) ([]Effect, error) {
	if book.Contract != state.ContractPerp || book.Position != pos.ID {
		return nil, fmt.Errorf("%w: book does not belong to position", ErrInvalidParameter)
	}
	if pos.IsLiquidated || pos.SizeUSD == 0 || pos.IsPendingLimit() {
		return nil, ErrPositionClosed
	}
	if index < 0 || index >= state.MaxTriggerOrders {
		return nil, state.ErrOrderSlotIndex
	}
	var order state.TriggerOrder
	if takeProfit {
		order = book.TakeProfits[index]
	} else {
		order = book.StopLosses[index]
	}
	if !order.Active {
		return nil, state.ErrOrderSlotInactive
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
	if !triggerSatisfied(pos.Side, takeProfit, order.Price, markPrice) {
		e.observeTransition("tpsl_execute", "rejected")
		return nil, fmt.Errorf("%w: mark %d vs trigger %d", ErrLimitNotTriggered, markPrice, order.Price)
	}

	closePercentage := uint64(order.SizePercent) * closePercentPerBp
	out, err := e.computeClose(pool, pos, markPrice, closePercentage)
	if err != nil {
		return nil, err
	}
	if err := applyClose(pool, pos, out, closePercentage, now); err != nil {
		return nil, err
	}

	if takeProfit {
		err = book.MarkTPExecuted(index, now)
	} else {
		err = book.MarkSLExecuted(index, now)
	}
	if err != nil {
		return nil, err
	}

	custody := pool.CustodyFor(pos.Side)
	var effects []Effect
	if out.PayoutTokens > 0 {
		effects = append(effects, payout(custody.Asset, out.PayoutTokens, pos.Owner, "trigger order settlement"))
	}
	if pos.SizeUSD == 0 {
		book.ClearAll()
		pos.ClearTriggers()
		effects = append(effects, reclaim(book.ID, "trigger book"), reclaim(pos.ID, "position record"))
	}

	e.log.Info().
		Str("position", pos.ID.String()).
		Bool("take_profit", takeProfit).
		Int("slot", index).
		Uint64("mark_price", markPrice).
		Msg("trigger order executed")
	e.observeTransition("tpsl_execute", "applied")
	return effects, nil
}

// ExecuteOptionTriggerOrder fires one slot of an option's book: a TP pays
// the slice's intrinsic value, an SL buys the slice back at its haircut
// market value. Permissionless.
func (e *Engine) ExecuteOptionTriggerOrder(pool *state.Pool, opt *state.Option, book *state.TriggerBook, premiumAsset *state.Custody, takeProfit bool, index int, now int64) ([]Effect, error) {
	if book.Contract != state.ContractOption || book.Position != opt.ID {
		return nil, fmt.Errorf("%w: book does not belong to option", ErrInvalidParameter)
	}
	if !opt.Valid {
		return nil, state.ErrOptionNotValid
	}
	if opt.IsExpired(now) {
		return nil, state.ErrOptionExpired
	}
	if index < 0 || index >= state.MaxTriggerOrders {
		return nil, state.ErrOrderSlotIndex
	}
	var order state.TriggerOrder
	if takeProfit {
		order = book.TakeProfits[index]
	} else {
		order = book.StopLosses[index]
	}
	if !order.Active {
		return nil, state.ErrOrderSlotInactive
	}

	spotQuote, err := e.quote(pool.Underlying.Asset)
	if err != nil {
		return nil, err
	}
	spotPrice, err := spotQuote.Scaled()
	if err != nil {
		return nil, err
	}
	profitSide := opt.Type == state.OptionCall
	if !triggerSatisfied(sideFor(profitSide), takeProfit, order.Price, spotPrice) {
		e.observeTransition("tpsl_execute", "rejected")
		return nil, fmt.Errorf("%w: spot %d vs trigger %d", ErrLimitNotTriggered, spotPrice, order.Price)
	}

	closeQuantity, err := fpmath.MulDivU(opt.Quantity, uint64(order.SizePercent), uint64(fpmath.FullBPS))
	if err != nil {
		return nil, err
	}
	if closeQuantity == 0 {
		return nil, state.ErrZeroQuantity
	}

	var locked *state.Custody
	if opt.Type == state.OptionCall {
		locked = pool.Underlying
	} else {
		locked = pool.Stable
	}

	var effects []Effect
	if takeProfit {
		// Intrinsic payout on the slice, capped by its backing share.
		sliceOpt := *opt
		sliceOpt.Quantity = closeQuantity
		intrinsicUSD, ierr := sliceOpt.IntrinsicValueUSD(spotPrice)
		if ierr != nil {
			return nil, ierr
		}
		unlock, rerr := opt.ReduceBy(closeQuantity, now)
		if rerr != nil {
			return nil, rerr
		}
		locked.UnlockFunds(unlock)
		tokens := uint64(0)
		if intrinsicUSD > 0 {
			lockedQuote := spotQuote
			if locked.Asset != pool.Underlying.Asset {
				if lockedQuote, err = e.quote(locked.Asset); err != nil {
					return nil, err
				}
			}
			if tokens, err = lockedQuote.TokensForUSD(intrinsicUSD, locked.Decimals); err != nil {
				return nil, err
			}
			if tokens > unlock {
				tokens = unlock
			}
			if err := locked.RemoveOwned(tokens); err != nil {
				return nil, err
			}
			effects = append(effects, payout(locked.Asset, tokens, opt.Owner, "option take-profit"))
		}
	} else {
		perUnit, perr := e.pricing.BlackScholesWithBorrowRate(
			float64(spotPrice)/float64(fpmath.PriceScale),
			float64(opt.StrikePrice)/float64(fpmath.PriceScale),
			opt.TimeToExpiryYears(now),
			opt.Type == state.OptionCall,
			locked.TokenLocked, locked.TokenOwned,
			assetClass(locked.Asset),
		)
		if perr != nil {
			return nil, perr
		}
		valueUSD, verr := fpmath.CheckedAsU64(perUnit * float64(closeQuantity) * float64(fpmath.USDScale))
		if verr != nil {
			return nil, verr
		}
		refundUSD, rerr := fpmath.MulDivU(valueUSD, optionCloseRefundBps, uint64(fpmath.FullBPS))
		if rerr != nil {
			return nil, rerr
		}
		unlock, uerr := opt.ReduceBy(closeQuantity, now)
		if uerr != nil {
			return nil, uerr
		}
		locked.UnlockFunds(unlock)
		premiumQuote, qerr := e.quote(premiumAsset.Asset)
		if qerr != nil {
			return nil, qerr
		}
		refundTokens, terr := premiumQuote.TokensForUSD(refundUSD, premiumAsset.Decimals)
		if terr != nil {
			return nil, terr
		}
		if refundTokens > 0 {
			if err := premiumAsset.RemoveOwned(refundTokens); err != nil {
				return nil, err
			}
			effects = append(effects, payout(premiumAsset.Asset, refundTokens, opt.Owner, "option stop-loss buyback"))
		}
	}

	if takeProfit {
		err = book.MarkTPExecuted(index, now)
	} else {
		err = book.MarkSLExecuted(index, now)
	}
	if err != nil {
		return nil, err
	}
	if !opt.Valid {
		book.ClearAll()
		effects = append(effects, reclaim(book.ID, "trigger book"), reclaim(opt.ID, "option record"))
	}

	e.observeTransition("tpsl_execute", "applied")
	return effects, nil
}

// sideFor maps an option's profit direction onto the Side used by the
// shared trigger comparison: calls profit upward like longs, puts downward
// like shorts.
func sideFor(callLike bool) state.Side {
	if callLike {
		return state.SideLong
	}
	return state.SideShort
}
