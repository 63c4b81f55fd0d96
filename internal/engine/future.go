package engine

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/Aurora0917/olive-sc-sub000/internal/state"

	fpmath "github.com/Aurora0917/olive-sc-sub000/internal/math"
)

// OpenFutureParams carries the caller's request for a fixed-expiry future.
type OpenFutureParams struct {
	Owner uuid.UUID
	Index uint64

	Side    state.Side
	IsLimit bool

	SizeUSD          uint64
	CollateralAmount uint64
	ExpiryTime       int64

	TriggerPrice          uint64
	TriggerAboveThreshold bool
	MaxSlippageBps        uint64
}

// OpenFuture opens a fixed-expiry future. The carry rate is read off the
// pool's utilization curve once, at open, and stays locked for the life of
// the contract; only the spot leg floats afterwards.
func (e *Engine) OpenFuture(pool *state.Pool, p OpenFutureParams, now int64) (*state.Future, []Effect, error) {
	if err := validateSizeUSD(p.SizeUSD); err != nil {
		e.observeTransition("future_open", "rejected")
		return nil, nil, err
	}
	if err := validateExpiryWindow(now, p.ExpiryTime); err != nil {
		e.observeTransition("future_open", "rejected")
		return nil, nil, err
	}
	if p.CollateralAmount == 0 {
		return nil, nil, fmt.Errorf("%w: zero collateral", ErrInvalidParameter)
	}
	if p.IsLimit && p.TriggerPrice == 0 {
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
	if err := validateLeverage(p.SizeUSD, collateralUSD, uint64(state.FutureMaxLeverage)); err != nil {
		e.observeTransition("future_open", "rejected")
		return nil, nil, err
	}

	openingFee, err := fpmath.MulDivU(p.SizeUSD, state.FutureOpeningFeeBps, uint64(fpmath.FullBPS))
	if err != nil {
		return nil, nil, err
	}
	settlementFee, err := fpmath.MulDivU(p.SizeUSD, state.FutureSettlementFeeBps, uint64(fpmath.FullBPS))
	if err != nil {
		return nil, nil, err
	}

	f := &state.Future{
		ID:                   uuid.New(),
		Owner:                p.Owner,
		Index:                p.Index,
		Pool:                 pool.Name,
		Custody:              pool.Underlying.Asset,
		CollateralCustody:    custody.Asset,
		Side:                 p.Side,
		Status:               state.FutureStatusPending,
		SizeUSD:              p.SizeUSD,
		CollateralUSD:        collateralUSD,
		CollateralAmount:     p.CollateralAmount,
		OpenTime:             now,
		ExpiryTime:           p.ExpiryTime,
		UpdateTime:           now,
		MaintenanceMarginBps: state.FutureMaintenanceMarginBps,
		OpeningFee:           openingFee,
		SettlementFee:        settlementFee,
		MaxSlippageBps:       p.MaxSlippageBps,
	}

	if p.IsLimit {
		f.TriggerPrice = p.TriggerPrice
		f.TriggerAboveThreshold = p.TriggerAboveThreshold
	} else {
		if err := e.activateFuture(pool, f, now); err != nil {
			e.observeTransition("future_open", "rejected")
			return nil, nil, err
		}
	}

	if err := custody.AddOwned(p.CollateralAmount); err != nil {
		return nil, nil, err
	}

	effects := []Effect{
		collect(custody.Asset, p.CollateralAmount, p.Owner, "future collateral"),
	}

	e.log.Info().
		Str("future", f.ID.String()).
		Str("side", p.Side.String()).
		Uint64("size_usd", p.SizeUSD).
		Int64("expiry", p.ExpiryTime).
		Msg("future opened")
	e.observeTransition("future_open", "applied")
	return f, effects, nil
}

// activateFuture locks the fixed rate, entry price, backing liquidity, and
// liquidation price at execution time. Shared by market opens and limit
// execution.
func (e *Engine) activateFuture(pool *state.Pool, f *state.Future, now int64) error {
	custody := pool.CustodyFor(f.Side)
	markQuote, err := e.quote(pool.Underlying.Asset)
	if err != nil {
		return err
	}
	entryPrice, err := markQuote.Scaled()
	if err != nil {
		return err
	}

	remaining := f.ExpiryTime - now
	if remaining <= 0 {
		return fmt.Errorf("%w: future would be born expired", ErrInvalidExpiry)
	}

	rate, err := e.pricing.BorrowRate(custody.TokenLocked, custody.TokenOwned, assetClass(pool.Underlying.Asset))
	if err != nil {
		return err
	}

	f.Status = state.FutureStatusActive
	f.EntryPrice = entryPrice
	f.FixedInterestRateBps = uint32(rate.Bps())
	f.TimeToExpiryAtOpen = remaining
	f.OpenTime = now
	f.ExecutionTime = now
	f.UpdateTime = now

	tYears := float64(remaining) / state.SecondsPerYear
	theo := state.TheoreticalFuturePrice(float64(entryPrice)/float64(fpmath.PriceScale), f.FixedInterestRateBps, tYears)
	futurePrice, err := fpmath.CheckedAsU64(theo * float64(fpmath.PriceScale))
	if err != nil {
		return err
	}
	f.FuturePrice = futurePrice

	sideQuote := markQuote
	if custody.Asset != pool.Underlying.Asset {
		if sideQuote, err = e.quote(custody.Asset); err != nil {
			return err
		}
	}
	locked, err := sideQuote.TokensForUSD(f.SizeUSD, custody.Decimals)
	if err != nil {
		return err
	}
	if err := custody.LockFunds(locked); err != nil {
		return err
	}
	f.LockedAmount = locked

	liqPrice, err := f.ComputeLiquidationPrice(now)
	if err != nil {
		return err
	}
	f.LiquidationPrice = liqPrice

	return pool.AddOpenInterest(f.Side, f.SizeUSD)
}

// ExecuteFutureLimitOrder activates a pending future once the trigger
// condition holds inside the slippage band. Permissionless.
func (e *Engine) ExecuteFutureLimitOrder(pool *state.Pool, f *state.Future, now int64) error {
	if f.Status != state.FutureStatusPending {
		return ErrNotLimitOrder
	}
	if f.IsExpired(now) {
		return fmt.Errorf("%w: expiry passed before execution", ErrInvalidExpiry)
	}
	markQuote, err := e.quote(pool.Underlying.Asset)
	if err != nil {
		return err
	}
	markPrice, err := markQuote.Scaled()
	if err != nil {
		return err
	}
	if !f.ShouldExecuteLimit(markPrice) {
		e.observeTransition("future_execute_limit", "rejected")
		return fmt.Errorf("%w: mark %d vs trigger %d", ErrLimitNotTriggered, markPrice, f.TriggerPrice)
	}
	ok, err := withinSlippageBand(markPrice, f.TriggerPrice, f.MaxSlippageBps)
	if err != nil {
		return err
	}
	if !ok {
		e.observeTransition("future_execute_limit", "rejected")
		return fmt.Errorf("%w: mark %d outside band around %d", ErrPriceSlippage, markPrice, f.TriggerPrice)
	}
	if err := e.activateFuture(pool, f, now); err != nil {
		return err
	}
	e.observeTransition("future_execute_limit", "applied")
	return nil
}

// CancelFutureLimitOrder refunds the held collateral on a pending future.
func (e *Engine) CancelFutureLimitOrder(pool *state.Pool, f *state.Future, caller uuid.UUID) ([]Effect, error) {
	if err := requireOwner(f.Owner, caller); err != nil {
		return nil, err
	}
	if f.Status != state.FutureStatusPending {
		return nil, ErrNotLimitOrder
	}
	custody := pool.CustodyFor(f.Side)
	if err := custody.RemoveOwned(f.CollateralAmount); err != nil {
		return nil, err
	}
	effects := []Effect{
		payout(custody.Asset, f.CollateralAmount, f.Owner, "future limit cancelled"),
		reclaim(f.ID, "future record"),
	}
	f.SizeUSD = 0
	f.CollateralAmount = 0
	f.CollateralUSD = 0
	e.observeTransition("future_cancel_limit", "applied")
	return effects, nil
}

// CloseFuture closes closePercentage of an active future before expiry at
// its carry-adjusted value. A full close pays out and reclaims the record;
// a partial close pays out the slice and recomputes the liquidation price
// on the remainder.
func (e *Engine) CloseFuture(pool *state.Pool, f *state.Future, caller uuid.UUID, closePercentage uint64, now int64) ([]Effect, error) {
	if err := requireOwner(f.Owner, caller); err != nil {
		return nil, err
	}
	if f.Status != state.FutureStatusActive {
		return nil, state.ErrFutureNotActive
	}
	if f.IsExpired(now) {
		return nil, fmt.Errorf("%w: past expiry, settle instead", state.ErrFutureNotActive)
	}
	if err := validateClosePercentage(closePercentage); err != nil {
		e.observeTransition("future_close", "rejected")
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

	pnlFull, err := f.CarryPnL(markPrice, now)
	if err != nil {
		return nil, err
	}
	pnl, err := sliceSigned(pnlFull, closePercentage)
	if err != nil {
		return nil, err
	}
	sizeClosed, err := slice(f.SizeUSD, closePercentage)
	if err != nil {
		return nil, err
	}
	collateralClosed, err := slice(f.CollateralUSD, closePercentage)
	if err != nil {
		return nil, err
	}
	collateralAmtClosed, err := slice(f.CollateralAmount, closePercentage)
	if err != nil {
		return nil, err
	}
	lockedClosed, err := slice(f.LockedAmount, closePercentage)
	if err != nil {
		return nil, err
	}
	closeFee, err := fpmath.MulDivU(sizeClosed, state.FutureSettlementFeeBps, uint64(fpmath.FullBPS))
	if err != nil {
		return nil, err
	}

	net := int64(collateralClosed) + pnl - int64(closeFee)
	if net < 0 {
		net = 0
	}

	custody := pool.CustodyFor(f.Side)
	quote, err := e.quote(custody.Asset)
	if err != nil {
		return nil, err
	}
	payoutTokens, err := quote.TokensForUSD(uint64(net), custody.Decimals)
	if err != nil {
		return nil, err
	}

	custody.UnlockFunds(lockedClosed)
	if payoutTokens > 0 {
		if err := custody.RemoveOwned(payoutTokens); err != nil {
			return nil, err
		}
	}
	if err := pool.RemoveOpenInterest(f.Side, sizeClosed); err != nil {
		return nil, err
	}

	var effects []Effect
	if payoutTokens > 0 {
		effects = append(effects, payout(custody.Asset, payoutTokens, f.Owner, "future close settlement"))
	}

	if closePercentage == fpmath.FullClosePercent {
		f.Status = state.FutureStatusSettled
		f.SettlementTime = now
		f.SettlementPrice = markPrice
		f.PnLAtSettlement = pnl
		f.Claimed = true
		f.SizeUSD = 0
		f.CollateralUSD = 0
		f.CollateralAmount = 0
		f.LockedAmount = 0
		f.UpdateTime = now
		effects = append(effects, reclaim(f.ID, "future record"))
	} else {
		f.LockedAmount -= lockedClosed
		if err := f.ApplyResize(f.SizeUSD-sizeClosed, f.CollateralUSD-collateralClosed, f.CollateralAmount-collateralAmtClosed, now); err != nil {
			return nil, err
		}
		liqPrice, lerr := f.ComputeLiquidationPrice(now)
		if lerr != nil {
			return nil, lerr
		}
		f.LiquidationPrice = liqPrice
	}

	e.log.Info().
		Str("future", f.ID.String()).
		Uint64("close_percentage", closePercentage).
		Int64("pnl_usd", pnl).
		Msg("future closed")
	e.observeTransition("future_close", "applied")
	return effects, nil
}

// MarkFutureExpired flips an active future past its expiry time to Expired.
// Permissionless keeper duty; settlement follows as a separate step.
func (e *Engine) MarkFutureExpired(f *state.Future, now int64) error {
	if err := f.MarkExpired(now); err != nil {
		e.observeTransition("future_mark_expired", "rejected")
		return err
	}
	e.observeTransition("future_mark_expired", "applied")
	return nil
}

// SettleFuture prices an expired future at the current oracle price and
// records the claimable amount, releasing the pool backing.
func (e *Engine) SettleFuture(pool *state.Pool, f *state.Future, now int64) error {
	markQuote, err := e.quote(pool.Underlying.Asset)
	if err != nil {
		return err
	}
	markPrice, err := markQuote.Scaled()
	if err != nil {
		return err
	}

	// Carry PnL is evaluated at expiry, not at the settle call time, so a
	// late keeper does not change the outcome.
	amount, err := f.Settle(markPrice, f.ExpiryTime)
	if err != nil {
		e.observeTransition("future_settle", "rejected")
		return err
	}
	f.SettlementTime = now
	f.UpdateTime = now

	custody := pool.CustodyFor(f.Side)
	custody.UnlockFunds(f.LockedAmount)
	f.LockedAmount = 0
	if err := pool.RemoveOpenInterest(f.Side, f.SizeUSD); err != nil {
		return err
	}

	e.log.Info().
		Str("future", f.ID.String()).
		Uint64("settlement_price", markPrice).
		Uint64("settlement_usd", amount).
		Msg("future settled")
	e.observeTransition("future_settle", "applied")
	return nil
}

// ClaimFuture pays out a settled or liquidated future's remaining value to
// its owner, exactly once.
func (e *Engine) ClaimFuture(pool *state.Pool, f *state.Future, caller uuid.UUID, now int64) ([]Effect, error) {
	if err := requireOwner(f.Owner, caller); err != nil {
		return nil, err
	}
	amountUSD, err := f.Claim(now)
	if err != nil {
		e.observeTransition("future_claim", "rejected")
		return nil, err
	}

	custody := pool.CustodyFor(f.Side)
	quote, err := e.quote(custody.Asset)
	if err != nil {
		return nil, err
	}
	tokens, err := quote.TokensForUSD(amountUSD, custody.Decimals)
	if err != nil {
		return nil, err
	}
	if tokens > 0 {
		if err := custody.RemoveOwned(tokens); err != nil {
			return nil, err
		}
	}

	effects := []Effect{
		payout(custody.Asset, tokens, f.Owner, "future settlement claim"),
		reclaim(f.ID, "future record"),
	}
	e.observeTransition("future_claim", "applied")
	return effects, nil
}

// LiquidateFuture force-closes an active future whose equity has fallen
// below the maintenance requirement. Permissionless with a keeper reward.
func (e *Engine) LiquidateFuture(pool *state.Pool, f *state.Future, liquidator uuid.UUID, now int64) ([]Effect, error) {
	markQuote, err := e.quote(pool.Underlying.Asset)
	if err != nil {
		return nil, err
	}
	markPrice, err := markQuote.Scaled()
	if err != nil {
		return nil, err
	}

	liquidatable, err := f.IsLiquidatable(markPrice, now)
	if err != nil {
		return nil, err
	}
	if !liquidatable {
		e.observeTransition("future_liquidate", "rejected")
		return nil, fmt.Errorf("%w: mark %d, liq %d", ErrNotLiquidatable, markPrice, f.LiquidationPrice)
	}

	sizeUSD := f.SizeUSD
	amountUSD, pnl, err := f.Liquidate(markPrice, now)
	if err != nil {
		return nil, err
	}

	custody := pool.CustodyFor(f.Side)
	custody.UnlockFunds(f.LockedAmount)
	f.LockedAmount = 0
	if err := pool.RemoveOpenInterest(f.Side, sizeUSD); err != nil {
		return nil, err
	}

	quote, err := e.quote(custody.Asset)
	if err != nil {
		return nil, err
	}
	tokens, err := quote.TokensForUSD(amountUSD, custody.Decimals)
	if err != nil {
		return nil, err
	}

	reward, err := fpmath.MulDivU(tokens, LiquidationRewardBps, uint64(fpmath.FullBPS))
	if err != nil {
		return nil, err
	}
	if reward < MinLiquidationReward {
		reward = MinLiquidationReward
	}
	if reward > tokens {
		reward = tokens
	}

	var effects []Effect
	if reward > 0 {
		if err := custody.RemoveOwned(reward); err != nil {
			return nil, err
		}
		effects = append(effects, payout(custody.Asset, reward, liquidator, "future liquidation reward"))
	}
	// Remainder stays claimable by the owner through ClaimFuture.
	remainderUSD, err := quote.USDForTokens(tokens-reward, custody.Decimals)
	if err != nil {
		return nil, err
	}
	f.SettlementAmount = remainderUSD

	e.log.Warn().
		Str("future", f.ID.String()).
		Uint64("mark_price", markPrice).
		Int64("pnl_usd", pnl).
		Msg("future liquidated")
	e.observeTransition("future_liquidate", "applied")
	return effects, nil
}
