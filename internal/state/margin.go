package state

import (
	fpmath "github.com/Aurora0917/olive-sc-sub000/internal/math"
)

// PerpLiquidationPrice is the price at which a perpetual-style position hits
// its maintenance margin, derived purely from the entry price:
//
//	long:  entry * (1 - mm_bps/10_000)
//	short: entry * (1 + mm_bps/10_000)
func PerpLiquidationPrice(entryPrice uint64, maintenanceMarginBps uint32, side Side) (uint64, error) {
	margin, err := fpmath.MulDivU(entryPrice, uint64(maintenanceMarginBps), uint64(fpmath.FullBPS))
	if err != nil {
		return 0, err
	}
	if side == SideLong {
		if margin >= entryPrice {
			return 0, nil
		}
		return entryPrice - margin, nil
	}
	return fpmath.CheckedAdd(entryPrice, margin)
}

// PriceTriggered reports whether markPrice has crossed the liquidation price
// in the losing direction: at-or-below for longs, at-or-above for shorts.
func PriceTriggered(liquidationPrice, markPrice uint64, side Side) bool {
	if liquidationPrice == 0 {
		return false
	}
	if side == SideLong {
		return markPrice <= liquidationPrice
	}
	return markPrice >= liquidationPrice
}

// MarginTriggered reports whether equity has fallen to or below the
// maintenance-margin requirement on the position's size.
func MarginTriggered(p *Position, markPrice uint64) (bool, error) {
	equity, err := p.EquityUSD(markPrice)
	if err != nil {
		return false, err
	}
	required, err := fpmath.MulDivU(p.SizeUSD, uint64(p.MaintenanceMarginBps), uint64(fpmath.FullBPS))
	if err != nil {
		return false, err
	}
	return equity <= required, nil
}

// IsLiquidatable applies both triggers: either one fires the liquidation.
func IsLiquidatable(p *Position, markPrice uint64) (bool, error) {
	if p.IsPendingLimit() {
		return false, nil
	}
	if PriceTriggered(p.LiquidationPrice, markPrice, p.Side) {
		return true, nil
	}
	return MarginTriggered(p, markPrice)
}
