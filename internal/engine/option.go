package engine

import (
	"fmt"
	stdmath "math"

	"github.com/google/uuid"

	"github.com/Aurora0917/olive-sc-sub000/internal/state"

	fpmath "github.com/Aurora0917/olive-sc-sub000/internal/math"
)

// OpenOptionParams carries the buyer's request for a covered call or
// cash-secured put. Amount is the backing to reserve in the locked asset's
// native units: underlying for calls, stable for puts.
type OpenOptionParams struct {
	Owner uuid.UUID
	Index uint64

	Type        state.OptionType
	Amount      uint64
	StrikePrice uint64
	Period      uint64 // seconds from purchase to expiry
}

// decimalUnit returns 10^decimals for converting native units to whole
// tokens.
func decimalUnit(decimals uint8) uint64 {
	unit := uint64(1)
	for i := uint8(0); i < decimals; i++ {
		unit *= 10
	}
	return unit
}

// optionQuantity derives the contract count from the backing: a call is
// covered per whole underlying token, a put is cash-secured per strike's
// worth of stable.
func optionQuantity(o OpenOptionParams, backingUSD uint64, decimals uint8) (uint64, error) {
	switch o.Type {
	case state.OptionCall:
		return o.Amount / decimalUnit(decimals), nil
	case state.OptionPut:
		if o.StrikePrice == 0 {
			return 0, fmt.Errorf("%w: zero strike", ErrInvalidParameter)
		}
		return backingUSD / o.StrikePrice, nil
	}
	return 0, fmt.Errorf("%w: unknown option type", ErrInvalidParameter)
}

// premiumUSD values quantity grants with Black-Scholes at the utilization
// rate of the locked custody, returning 6-decimal USD.
func (e *Engine) premiumUSD(pool *state.Pool, locked *state.Custody, p OpenOptionParams, spotPrice uint64, quantity uint64, tYears float64) (uint64, error) {
	s := float64(spotPrice) / float64(fpmath.PriceScale)
	k := float64(p.StrikePrice) / float64(fpmath.PriceScale)
	perUnit, err := e.pricing.BlackScholesWithBorrowRate(
		s, k, tYears,
		p.Type == state.OptionCall,
		locked.TokenLocked, locked.TokenOwned,
		assetClass(locked.Asset),
	)
	if err != nil {
		return 0, err
	}
	total := perUnit * float64(quantity)
	if stdmath.IsNaN(total) || stdmath.IsInf(total, 0) || total < 0 {
		return 0, fmt.Errorf("%w: non-finite premium", ErrInvalidParameter)
	}
	return fpmath.CheckedAsU64(total * float64(fpmath.USDScale))
}

// OpenOption sells a covered call or cash-secured put out of pool liquidity.
// The buyer pays the Black-Scholes premium up front in the premium asset;
// the pool locks the backing until the grant exercises, expires, or is
// bought back.
func (e *Engine) OpenOption(pool *state.Pool, p OpenOptionParams, premiumAsset *state.Custody, now int64) (*state.Option, []Effect, error) {
	if p.Amount == 0 || p.StrikePrice == 0 {
		return nil, nil, fmt.Errorf("%w: zero amount or strike", ErrInvalidParameter)
	}
	expiry := now + int64(p.Period)
	if err := validateExpiryWindow(now, expiry); err != nil {
		e.observeTransition("option_open", "rejected")
		return nil, nil, err
	}

	var locked *state.Custody
	if p.Type == state.OptionCall {
		locked = pool.Underlying
	} else {
		locked = pool.Stable
	}

	spotQuote, err := e.quote(pool.Underlying.Asset)
	if err != nil {
		return nil, nil, err
	}
	spotPrice, err := spotQuote.Scaled()
	if err != nil {
		return nil, nil, err
	}

	backingUSD := uint64(0)
	if p.Type == state.OptionPut {
		lockedQuote, qerr := e.quote(locked.Asset)
		if qerr != nil {
			return nil, nil, qerr
		}
		backingUSD, err = lockedQuote.USDForTokens(p.Amount, locked.Decimals)
		if err != nil {
			return nil, nil, err
		}
	}
	quantity, err := optionQuantity(p, backingUSD, locked.Decimals)
	if err != nil {
		return nil, nil, err
	}
	if quantity == 0 {
		e.observeTransition("option_open", "rejected")
		return nil, nil, state.ErrZeroQuantity
	}

	tYears := float64(p.Period) / state.SecondsPerYear
	premUSD, err := e.premiumUSD(pool, locked, p, spotPrice, quantity, tYears)
	if err != nil {
		e.observeTransition("option_open", "rejected")
		return nil, nil, err
	}
	premiumQuote, err := e.quote(premiumAsset.Asset)
	if err != nil {
		return nil, nil, err
	}
	premiumTokens, err := premiumQuote.TokensForUSD(premUSD, premiumAsset.Decimals)
	if err != nil {
		return nil, nil, err
	}

	if err := locked.LockFunds(p.Amount); err != nil {
		return nil, nil, err
	}
	if err := premiumAsset.AddOwned(premiumTokens); err != nil {
		return nil, nil, err
	}

	opt := &state.Option{
		ID:           uuid.New(),
		Owner:        p.Owner,
		Index:        p.Index,
		Pool:         pool.Name,
		LockedAsset:  locked.Asset,
		PremiumAsset: premiumAsset.Asset,
		Amount:       p.Amount,
		Quantity:     quantity,
		StrikePrice:  p.StrikePrice,
		Type:         p.Type,
		Period:       p.Period,
		PurchaseDate: now,
		ExpiredDate:  expiry,
		Premium:      premiumTokens,
		Valid:        true,
		Executed:     true,
	}

	effects := []Effect{
		collect(premiumAsset.Asset, premiumTokens, p.Owner, "option premium"),
	}

	e.log.Info().
		Str("option", opt.ID.String()).
		Str("type", p.Type.String()).
		Uint64("quantity", quantity).
		Uint64("strike", p.StrikePrice).
		Uint64("premium", premiumTokens).
		Msg("option opened")
	e.observeTransition("option_open", "applied")
	return opt, effects, nil
}

// SetOptionTriggers updates the grant's attached trigger prices. Nil leaves
// a field untouched; an explicit zero clears it.
func (e *Engine) SetOptionTriggers(opt *state.Option, caller uuid.UUID, takeProfit, stopLoss *uint64) error {
	if err := requireOwner(opt.Owner, caller); err != nil {
		return err
	}
	if !opt.Valid {
		return state.ErrOptionNotValid
	}
	if takeProfit != nil {
		if err := validateOptionTrigger(opt, *takeProfit, true); err != nil {
			return err
		}
		opt.TakeProfitPrice = *takeProfit
	}
	if stopLoss != nil {
		if err := validateOptionTrigger(opt, *stopLoss, false); err != nil {
			return err
		}
		opt.StopLossPrice = *stopLoss
	}
	e.observeTransition("option_set_triggers", "applied")
	return nil
}

// EditOptionParams are the new terms for a grant. A nil field keeps the
// current value.
type EditOptionParams struct {
	Strike   *uint64
	Expiry   *int64
	Quantity *uint64
}

// EditOption reprices a live grant under new strike, expiry, or size. The
// grant is revalued with Black-Scholes at both the current and the requested
// terms: the owner pays the difference when the new terms are worth more,
// and receives 90% of it back when they are worth less, the same haircut a
// buyback takes. The locked backing scales with quantity so calls stay
// covered and puts stay cash-secured.
func (e *Engine) EditOption(pool *state.Pool, opt *state.Option, premiumAsset *state.Custody, caller uuid.UUID, p EditOptionParams, now int64) ([]Effect, error) {
	if err := requireOwner(opt.Owner, caller); err != nil {
		return nil, err
	}
	if !opt.Valid {
		return nil, state.ErrOptionNotValid
	}
	if opt.IsExpired(now) {
		e.observeTransition("option_edit", "rejected")
		return nil, state.ErrOptionExpired
	}
	if p.Strike == nil && p.Expiry == nil && p.Quantity == nil {
		return nil, fmt.Errorf("%w: nothing to edit", ErrInvalidParameter)
	}

	newStrike := opt.StrikePrice
	if p.Strike != nil {
		newStrike = *p.Strike
	}
	newExpiry := opt.ExpiredDate
	if p.Expiry != nil {
		newExpiry = *p.Expiry
	}
	newQuantity := opt.Quantity
	if p.Quantity != nil {
		newQuantity = *p.Quantity
	}
	if newStrike == 0 || newQuantity == 0 {
		return nil, fmt.Errorf("%w: zero strike or quantity", ErrInvalidParameter)
	}
	if newExpiry <= now {
		e.observeTransition("option_edit", "rejected")
		return nil, fmt.Errorf("%w: expiry not in the future", ErrInvalidExpiry)
	}

	var locked *state.Custody
	if opt.Type == state.OptionCall {
		locked = pool.Underlying
	} else {
		locked = pool.Stable
	}

	spotQuote, err := e.quote(pool.Underlying.Asset)
	if err != nil {
		return nil, err
	}
	spotPrice, err := spotQuote.Scaled()
	if err != nil {
		return nil, err
	}

	value := func(strike, quantity uint64, tYears float64) (uint64, error) {
		perUnit, verr := e.pricing.BlackScholesWithBorrowRate(
			float64(spotPrice)/float64(fpmath.PriceScale),
			float64(strike)/float64(fpmath.PriceScale),
			tYears,
			opt.Type == state.OptionCall,
			locked.TokenLocked, locked.TokenOwned,
			assetClass(locked.Asset),
		)
		if verr != nil {
			return 0, verr
		}
		return fpmath.CheckedAsU64(perUnit * float64(quantity) * float64(fpmath.USDScale))
	}
	currentUSD, err := value(opt.StrikePrice, opt.Quantity, opt.TimeToExpiryYears(now))
	if err != nil {
		e.observeTransition("option_edit", "rejected")
		return nil, err
	}
	newUSD, err := value(newStrike, newQuantity, float64(newExpiry-now)/state.SecondsPerYear)
	if err != nil {
		e.observeTransition("option_edit", "rejected")
		return nil, err
	}

	premiumQuote, err := e.quote(premiumAsset.Asset)
	if err != nil {
		return nil, err
	}

	var effects []Effect
	switch {
	case newUSD > currentUSD:
		deltaTokens, derr := premiumQuote.TokensForUSD(newUSD-currentUSD, premiumAsset.Decimals)
		if derr != nil {
			return nil, derr
		}
		if deltaTokens > 0 {
			if err := premiumAsset.AddOwned(deltaTokens); err != nil {
				return nil, err
			}
			premium, aerr := fpmath.CheckedAdd(opt.Premium, deltaTokens)
			if aerr != nil {
				return nil, aerr
			}
			opt.Premium = premium
			effects = append(effects, collect(premiumAsset.Asset, deltaTokens, opt.Owner, "option edit premium"))
		}
	case newUSD < currentUSD:
		refundUSD, rerr := fpmath.MulDivU(currentUSD-newUSD, optionCloseRefundBps, uint64(fpmath.FullBPS))
		if rerr != nil {
			return nil, rerr
		}
		refundTokens, rerr := premiumQuote.TokensForUSD(refundUSD, premiumAsset.Decimals)
		if rerr != nil {
			return nil, rerr
		}
		if refundTokens > opt.Premium {
			refundTokens = opt.Premium
		}
		if refundTokens > 0 {
			if err := premiumAsset.RemoveOwned(refundTokens); err != nil {
				return nil, err
			}
			opt.Premium -= refundTokens
			effects = append(effects, payout(premiumAsset.Asset, refundTokens, opt.Owner, "option edit refund"))
		}
	}

	// Rescale the backing with the contract count.
	if newQuantity != opt.Quantity {
		newAmount, aerr := fpmath.MulDivU(opt.Amount, newQuantity, opt.Quantity)
		if aerr != nil {
			return nil, aerr
		}
		if newAmount > opt.Amount {
			if err := locked.LockFunds(newAmount - opt.Amount); err != nil {
				return nil, err
			}
		} else {
			locked.UnlockFunds(opt.Amount - newAmount)
		}
		opt.Amount = newAmount
	}

	opt.StrikePrice = newStrike
	opt.ExpiredDate = newExpiry
	opt.Quantity = newQuantity
	opt.Period = uint64(newExpiry - opt.PurchaseDate)

	e.log.Info().
		Str("option", opt.ID.String()).
		Uint64("strike", newStrike).
		Int64("expiry", newExpiry).
		Uint64("quantity", newQuantity).
		Msg("option edited")
	e.observeTransition("option_edit", "applied")
	return effects, nil
}

// validateOptionTrigger enforces trigger ordering against the strike: a
// call takes profit above strike and stops out below it, a put mirrored.
// Zero always passes (clears the trigger).
func validateOptionTrigger(opt *state.Option, price uint64, takeProfit bool) error {
	if price == 0 {
		return nil
	}
	profitSide := price > opt.StrikePrice
	if opt.Type == state.OptionPut {
		profitSide = price < opt.StrikePrice
	}
	if takeProfit != profitSide {
		return fmt.Errorf("%w: price %d on wrong side of strike %d", ErrInvalidTriggerPrice, price, opt.StrikePrice)
	}
	return nil
}

// CloseOption buys back closeQuantity grants before expiry. The refund is
// 90% of the current Black-Scholes value of the slice, paid in the premium
// asset; the matching backing unlocks. closed is the grant's audit sibling
// from an earlier partial close, nil when none exists yet; the returned
// record is the sibling to store, nil when the grant closed whole in one
// step.
func (e *Engine) CloseOption(pool *state.Pool, opt *state.Option, premiumAsset *state.Custody, closed *state.ClosedOption, caller uuid.UUID, closeQuantity uint64, now int64) ([]Effect, *state.ClosedOption, error) {
	if err := requireOwner(opt.Owner, caller); err != nil {
		return nil, nil, err
	}
	if !opt.Valid {
		return nil, nil, state.ErrOptionNotValid
	}
	if opt.IsExpired(now) {
		return nil, nil, state.ErrOptionExpired
	}

	var locked *state.Custody
	if opt.Type == state.OptionCall {
		locked = pool.Underlying
	} else {
		locked = pool.Stable
	}

	spotQuote, err := e.quote(pool.Underlying.Asset)
	if err != nil {
		return nil, nil, err
	}
	spotPrice, err := spotQuote.Scaled()
	if err != nil {
		return nil, nil, err
	}

	// Revalue the slice at the current market, then haircut the refund.
	tYears := opt.TimeToExpiryYears(now)
	perUnit, err := e.pricing.BlackScholesWithBorrowRate(
		float64(spotPrice)/float64(fpmath.PriceScale),
		float64(opt.StrikePrice)/float64(fpmath.PriceScale),
		tYears,
		opt.Type == state.OptionCall,
		locked.TokenLocked, locked.TokenOwned,
		assetClass(locked.Asset),
	)
	if err != nil {
		e.observeTransition("option_close", "rejected")
		return nil, nil, err
	}
	valueUSD, err := fpmath.CheckedAsU64(perUnit * float64(closeQuantity) * float64(fpmath.USDScale))
	if err != nil {
		return nil, nil, err
	}
	refundUSD, err := fpmath.MulDivU(valueUSD, optionCloseRefundBps, uint64(fpmath.FullBPS))
	if err != nil {
		return nil, nil, err
	}

	unlock, err := opt.ReduceBy(closeQuantity, now)
	if err != nil {
		e.observeTransition("option_close", "rejected")
		return nil, nil, err
	}
	locked.UnlockFunds(unlock)

	premiumQuote, err := e.quote(premiumAsset.Asset)
	if err != nil {
		return nil, nil, err
	}
	refundTokens, err := premiumQuote.TokensForUSD(refundUSD, premiumAsset.Decimals)
	if err != nil {
		return nil, nil, err
	}

	// A partial buyback leaves an audit sibling; every later buyback of
	// the same grant folds into that one record. A single whole-grant
	// close needs none.
	if closed == nil && opt.Valid {
		closed = state.NewClosedOption(opt)
	}
	if closed != nil {
		closed.Accumulate(closeQuantity, unlock, refundTokens, now)
	}

	var effects []Effect
	if refundTokens > 0 {
		if err := premiumAsset.RemoveOwned(refundTokens); err != nil {
			return nil, nil, err
		}
		effects = append(effects, payout(premiumAsset.Asset, refundTokens, opt.Owner, "option buyback refund"))
	}
	if !opt.Valid {
		effects = append(effects, reclaim(opt.ID, "option record"))
	}

	e.log.Info().
		Str("option", opt.ID.String()).
		Uint64("close_quantity", closeQuantity).
		Uint64("refund", refundTokens).
		Msg("option closed")
	e.observeTransition("option_close", "applied")
	return effects, closed, nil
}

// exercisePayout computes and books the intrinsic payout in locked-asset
// tokens, releasing the grant's backing. Shared by owner exercise and
// auto-exercise.
func (e *Engine) exercisePayout(pool *state.Pool, opt *state.Option, now int64) (uint64, *state.Custody, error) {
	var locked *state.Custody
	if opt.Type == state.OptionCall {
		locked = pool.Underlying
	} else {
		locked = pool.Stable
	}

	spotQuote, err := e.quote(pool.Underlying.Asset)
	if err != nil {
		return 0, nil, err
	}
	spotPrice, err := spotQuote.Scaled()
	if err != nil {
		return 0, nil, err
	}
	intrinsicUSD, err := opt.IntrinsicValueUSD(spotPrice)
	if err != nil {
		return 0, nil, err
	}
	tokens := uint64(0)
	if intrinsicUSD > 0 {
		lockedQuote := spotQuote
		if locked.Asset != pool.Underlying.Asset {
			if lockedQuote, err = e.quote(locked.Asset); err != nil {
				return 0, nil, err
			}
		}
		if tokens, err = lockedQuote.TokensForUSD(intrinsicUSD, locked.Decimals); err != nil {
			return 0, nil, err
		}
		// The payout can never exceed the backing the grant reserved.
		if tokens > opt.Amount {
			tokens = opt.Amount
		}
	}

	if err := opt.MarkExercised(now); err != nil {
		return 0, nil, err
	}
	locked.UnlockFunds(opt.Amount)
	if tokens > 0 {
		if err := locked.RemoveOwned(tokens); err != nil {
			return 0, nil, err
		}
	}
	return tokens, locked, nil
}

// ExerciseOption settles a grant at its intrinsic value before expiry,
// owner only. The payout leaves immediately.
func (e *Engine) ExerciseOption(pool *state.Pool, opt *state.Option, caller uuid.UUID, now int64) ([]Effect, error) {
	if err := requireOwner(opt.Owner, caller); err != nil {
		return nil, err
	}
	if opt.IsExpired(now) {
		e.observeTransition("option_exercise", "rejected")
		return nil, state.ErrOptionExpired
	}
	tokens, locked, err := e.exercisePayout(pool, opt, now)
	if err != nil {
		e.observeTransition("option_exercise", "rejected")
		return nil, err
	}
	var effects []Effect
	if tokens > 0 {
		effects = append(effects, payout(locked.Asset, tokens, opt.Owner, "option exercise"))
	}
	effects = append(effects, reclaim(opt.ID, "option record"))

	e.log.Info().
		Str("option", opt.ID.String()).
		Uint64("payout", tokens).
		Msg("option exercised")
	e.observeTransition("option_exercise", "applied")
	return effects, nil
}

// AutoExerciseOption settles an in-the-money grant after expiry on the
// owner's behalf. Permissionless; the payout parks on the record until the
// owner claims it.
func (e *Engine) AutoExerciseOption(pool *state.Pool, opt *state.Option, now int64) error {
	if !opt.IsExpired(now) {
		e.observeTransition("option_auto_exercise", "rejected")
		return state.ErrOptionNotExpired
	}
	tokens, _, err := e.exercisePayout(pool, opt, now)
	if err != nil {
		e.observeTransition("option_auto_exercise", "rejected")
		return err
	}
	opt.Claimed += tokens

	e.log.Info().
		Str("option", opt.ID.String()).
		Uint64("parked", tokens).
		Msg("option auto-exercised")
	e.observeTransition("option_auto_exercise", "applied")
	return nil
}

// ExpireOption retires a worthless grant after expiry, releasing its
// backing to the pool. Rejects in-the-money grants: those go through
// auto-exercise so the owner's value survives.
func (e *Engine) ExpireOption(pool *state.Pool, opt *state.Option, now int64) error {
	if !opt.IsExpired(now) {
		return state.ErrOptionNotExpired
	}
	if err := opt.CanExercise(); err != nil {
		return err
	}

	var locked *state.Custody
	if opt.Type == state.OptionCall {
		locked = pool.Underlying
	} else {
		locked = pool.Stable
	}
	spotQuote, err := e.quote(pool.Underlying.Asset)
	if err != nil {
		return err
	}
	spotPrice, err := spotQuote.Scaled()
	if err != nil {
		return err
	}
	intrinsicUSD, err := opt.IntrinsicValueUSD(spotPrice)
	if err != nil {
		return err
	}
	if intrinsicUSD > 0 {
		e.observeTransition("option_expire", "rejected")
		return fmt.Errorf("%w: in the money, auto-exercise instead", ErrInvalidParameter)
	}

	locked.UnlockFunds(opt.Amount)
	opt.Valid = false
	opt.Exercised = now

	e.log.Info().Str("option", opt.ID.String()).Msg("option expired worthless")
	e.observeTransition("option_expire", "applied")
	return nil
}

// ClaimOption pays out the parked auto-exercise value, exactly once.
func (e *Engine) ClaimOption(pool *state.Pool, opt *state.Option, caller uuid.UUID) ([]Effect, error) {
	if err := requireOwner(opt.Owner, caller); err != nil {
		return nil, err
	}
	amount := opt.ClaimProfit()
	if amount == 0 {
		e.observeTransition("option_claim", "rejected")
		return nil, state.ErrNothingToClaim
	}

	var locked *state.Custody
	if opt.Type == state.OptionCall {
		locked = pool.Underlying
	} else {
		locked = pool.Stable
	}

	effects := []Effect{
		payout(locked.Asset, amount, opt.Owner, "option profit claim"),
		reclaim(opt.ID, "option record"),
	}
	e.observeTransition("option_claim", "applied")
	return effects, nil
}
