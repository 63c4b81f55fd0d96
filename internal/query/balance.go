package query

import (
	"time"

	"github.com/google/uuid"
)

// MarginSummary aggregates an owner's margin exposure across every open
// position, marked at the latest usable quote. Pending limit orders are
// excluded; they hold no market exposure until executed.
type MarginSummary struct {
	Owner uuid.UUID `json:"owner"`

	PositionCount    int    `json:"position_count"`
	TotalSizeUSD     uint64 `json:"total_size_usd"`
	TotalCollateral  uint64 `json:"total_collateral_usd"`
	TotalUnrealized  int64  `json:"total_unrealized_pnl"`
	TotalBorrowFees  uint64 `json:"total_borrow_fees"`
	WorstMarginRatio uint64 `json:"worst_margin_ratio_bps,omitempty"`

	// AtRisk lists positions whose margin ratio has fallen under their
	// maintenance requirement at the current mark.
	AtRisk []uuid.UUID `json:"at_risk,omitempty"`
}

// MarginSummary computes the aggregate margin view for one owner.
func (s *Service) MarginSummary(owner uuid.UUID) MarginSummary {
	defer s.observe("margin_summary", time.Now(), nil)

	summary := MarginSummary{Owner: owner}
	for _, p := range s.store.OwnerPositions(owner) {
		if p.IsPendingLimit() {
			continue
		}
		summary.PositionCount++
		summary.TotalSizeUSD += p.SizeUSD
		summary.TotalCollateral += p.CollateralUSD
		summary.TotalBorrowFees += p.AccruedBorrowFees

		mark := s.markPrice(p.Custody)
		if mark == 0 {
			continue
		}
		if pnl, err := p.PnLUSD(mark); err == nil {
			summary.TotalUnrealized += pnl
		}
		ratio, err := p.MarginRatioBps(mark)
		if err != nil {
			continue
		}
		if summary.WorstMarginRatio == 0 || ratio < summary.WorstMarginRatio {
			summary.WorstMarginRatio = ratio
		}
		if ratio < uint64(p.MaintenanceMarginBps) {
			summary.AtRisk = append(summary.AtRisk, p.ID)
		}
	}
	return summary
}
