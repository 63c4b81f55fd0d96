// Package query serves read-only views of the engine state. Live record
// views (positions, options, futures, pool stats) come straight from the
// in-memory ledger store so they are exact as of the last applied command;
// journal history and integrity checks read the persisted log in Postgres.
package query

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Aurora0917/olive-sc-sub000/internal/ledger"
	"github.com/Aurora0917/olive-sc-sub000/internal/observability"
	"github.com/Aurora0917/olive-sc-sub000/internal/oracle"
	"github.com/Aurora0917/olive-sc-sub000/internal/pricing"
	"github.com/Aurora0917/olive-sc-sub000/internal/state"
)

// Quote acceptance bounds for derived fields. Same bounds the engine applies
// when executing, so a view never shows a mark the engine would refuse.
const (
	viewMaxPriceAgeSeconds = 60
	viewMaxConfidenceBps   = 100
)

// Service answers API queries. The store and tracker are shared with the
// core processor; reads take the store's own locks, so the service needs no
// synchronization of its own.
type Service struct {
	store   *ledger.Store
	tracker *ledger.BalanceTracker
	oracle  oracle.PriceOracle
	pricing *pricing.Engine
	db      *sql.DB
	log     zerolog.Logger
	metrics *observability.Metrics
}

// NewService wires the query service. db may be nil when running without
// persistence; the log-backed endpoints then return an error.
func NewService(
	store *ledger.Store,
	tracker *ledger.BalanceTracker,
	priceOracle oracle.PriceOracle,
	pricingEngine *pricing.Engine,
	db *sql.DB,
	log zerolog.Logger,
	metrics *observability.Metrics,
) *Service {
	return &Service{
		store:   store,
		tracker: tracker,
		oracle:  priceOracle,
		pricing: pricingEngine,
		db:      db,
		log:     log.With().Str("component", "query").Logger(),
		metrics: metrics,
	}
}

// observe records per-endpoint request metrics. Call as:
//
//	defer s.observe("positions", time.Now(), &err)
func (s *Service) observe(endpoint string, start time.Time, errp *error) {
	if s.metrics == nil {
		return
	}
	s.metrics.QueryRequests.WithLabelValues(endpoint).Inc()
	s.metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	if errp != nil && *errp != nil {
		s.metrics.QueryErrors.WithLabelValues(endpoint).Inc()
	}
}

// markPrice returns the 6-decimal mark for an asset, or 0 when no usable
// quote exists. Views degrade to entry-only fields rather than erroring.
func (s *Service) markPrice(asset oracle.AssetID) uint64 {
	q, err := s.oracle.GetPrice(asset, viewMaxPriceAgeSeconds, viewMaxConfidenceBps)
	if err != nil {
		return 0
	}
	scaled, err := q.Scaled()
	if err != nil {
		return 0
	}
	return scaled
}

// Positions returns all open margin positions for an owner, enriched with
// mark-price pnl and margin ratio when a quote is available.
func (s *Service) Positions(owner uuid.UUID) []PositionView {
	defer s.observe("positions", time.Now(), nil)

	positions := s.store.OwnerPositions(owner)
	views := make([]PositionView, 0, len(positions))
	for _, p := range positions {
		views = append(views, s.positionView(p))
	}
	sort.Slice(views, func(i, j int) bool { return views[i].Index < views[j].Index })
	return views
}

func (s *Service) positionView(p *state.Position) PositionView {
	v := PositionView{
		ID:               p.ID,
		Owner:            p.Owner,
		Pool:             p.Pool,
		Index:            p.Index,
		Side:             p.Side.String(),
		OrderType:        p.OrderType.String(),
		Price:            p.Price,
		SizeUSD:          p.SizeUSD,
		CollateralUSD:    p.CollateralUSD,
		CollateralAmount: p.CollateralAmount,
		LiquidationPrice: p.LiquidationPrice,

		AccruedBorrowFees: p.AccruedBorrowFees,
		OpenTime:          p.OpenTime,
	}
	if p.IsPendingLimit() {
		v.TriggerPrice = p.TriggerPrice
		return v
	}

	mark := s.markPrice(p.Custody)
	if mark == 0 {
		return v
	}
	v.MarkPrice = mark
	if pnl, err := p.PnLUSD(mark); err == nil {
		v.UnrealizedPnL = pnl
	}
	if ratio, err := p.MarginRatioBps(mark); err == nil {
		v.MarginRatioBps = ratio
	}
	if lev, err := p.Leverage(); err == nil {
		v.LeverageBps = lev
	}
	return v
}

// Options returns all option grants for an owner, newest first by index.
// The store indexes options by record key only, so this scans and filters.
func (s *Service) Options(owner uuid.UUID) []OptionView {
	defer s.observe("options", time.Now(), nil)

	var views []OptionView
	for _, o := range s.store.Options() {
		if o.Owner != owner {
			continue
		}
		views = append(views, s.optionView(o))
	}
	sort.Slice(views, func(i, j int) bool { return views[i].Index < views[j].Index })
	return views
}

func (s *Service) optionView(o *state.Option) OptionView {
	v := OptionView{
		ID:           o.ID,
		Owner:        o.Owner,
		Pool:         o.Pool,
		Index:        o.Index,
		Type:         o.Type.String(),
		LockedAsset:  string(o.LockedAsset),
		Amount:       o.Amount,
		Quantity:     o.Quantity,
		StrikePrice:  o.StrikePrice,
		Premium:      o.Premium,
		PurchaseDate: o.PurchaseDate,
		ExpiredDate:  o.ExpiredDate,
		Valid:        o.Valid,
		Exercised:    o.Exercised != 0,
		Profit:       o.Profit,
		Claimed:      o.Claimed,
	}
	// Intrinsic value is quoted off the underlying spot regardless of which
	// asset backs the grant.
	pool, err := s.store.Pool(o.Pool)
	if err != nil {
		return v
	}
	spot := s.markPrice(pool.Underlying.Asset)
	if spot == 0 {
		return v
	}
	if intrinsic, err := o.IntrinsicValueUSD(spot); err == nil {
		v.IntrinsicValueUSD = intrinsic
	}
	return v
}

// Futures returns all futures for an owner, including settled-unclaimed
// records that are still awaiting their payout.
func (s *Service) Futures(owner uuid.UUID) []FutureView {
	defer s.observe("futures", time.Now(), nil)

	var views []FutureView
	for _, f := range s.store.Futures() {
		if f.Owner != owner {
			continue
		}
		views = append(views, futureView(f))
	}
	sort.Slice(views, func(i, j int) bool { return views[i].Index < views[j].Index })
	return views
}

func futureView(f *state.Future) FutureView {
	return FutureView{
		ID:               f.ID,
		Owner:            f.Owner,
		Pool:             f.Pool,
		Index:            f.Index,
		Side:             f.Side.String(),
		Status:           f.Status.String(),
		EntryPrice:       f.EntryPrice,
		FuturePrice:      f.FuturePrice,
		SizeUSD:          f.SizeUSD,
		CollateralUSD:    f.CollateralUSD,
		LiquidationPrice: f.LiquidationPrice,
		ExpiryTime:       f.ExpiryTime,
		SettlementPrice:  f.SettlementPrice,
		SettlementAmount: f.SettlementAmount,
		Claimed:          f.Claimed,
	}
}

// Balance returns an account's net flow for one asset from the in-memory
// tracker. This is exact as of the last applied command, not the projection
// watermark.
func (s *Service) Balance(account uuid.UUID, asset oracle.AssetID) BalanceView {
	defer s.observe("balance", time.Now(), nil)

	return BalanceView{
		Account: account,
		Asset:   string(asset),
		Net:     s.tracker.UserNet(account, asset),
	}
}

// PoolStats summarizes one pool's open interest and per-custody utilization.
func (s *Service) PoolStats(name string) (PoolStatsView, error) {
	var err error
	defer s.observe("pool_stats", time.Now(), &err)

	pool, err := s.store.Pool(name)
	if err != nil {
		return PoolStatsView{}, err
	}

	stats := PoolStatsView{
		Name:                 pool.Name,
		LongOpenInterestUSD:  pool.LongOpenInterestUSD,
		ShortOpenInterestUSD: pool.ShortOpenInterestUSD,
	}
	for _, c := range []*state.Custody{pool.Underlying, pool.Stable} {
		cv := CustodyView{
			Asset:          string(c.Asset),
			TokenOwned:     c.TokenOwned,
			TokenLocked:    c.TokenLocked,
			UtilizationBps: pricing.Utilization(c.TokenLocked, c.TokenOwned).Bps(),
		}
		if rate, rateErr := s.pricing.BorrowRate(c.TokenLocked, c.TokenOwned, c.Class); rateErr == nil {
			cv.BorrowRateBps = rate.Bps()
		}
		stats.Custodies = append(stats.Custodies, cv)
	}
	return stats, nil
}

// JournalHistory pages through the persisted journal for one account,
// newest first. beforeSequence is the pagination cursor: pass 0 for the
// first page, then the smallest sequence of the previous page.
func (s *Service) JournalHistory(ctx context.Context, account uuid.UUID, beforeSequence uint64, limit int) ([]JournalEntryView, error) {
	var err error
	defer s.observe("journal_history", time.Now(), &err)

	if s.db == nil {
		err = fmt.Errorf("journal history requires persistence")
		return nil, err
	}
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	cursor := int64(1<<63 - 1)
	if beforeSequence > 0 {
		cursor = int64(beforeSequence)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT journal_id, batch_id, record, sequence, journal_type,
		       asset, amount, account, memo, timestamp
		FROM olive.journal
		WHERE account = $1 AND sequence < $2
		ORDER BY sequence DESC, journal_id
		LIMIT $3`,
		account.String(), cursor, limit)
	if err != nil {
		err = fmt.Errorf("query journal: %w", err)
		return nil, err
	}
	defer rows.Close()

	var entries []JournalEntryView
	for rows.Next() {
		var e JournalEntryView
		if err = rows.Scan(&e.JournalID, &e.BatchID, &e.Record, &e.Sequence,
			&e.Type, &e.Asset, &e.Amount, &e.Account, &e.Memo, &e.Timestamp); err != nil {
			err = fmt.Errorf("scan journal row: %w", err)
			return nil, err
		}
		entries = append(entries, e)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// VerifyIntegrity walks the persisted envelope log and checks that each
// envelope's prev_hash matches its predecessor's state_hash. A break means
// the log was tampered with or written out of order.
func (s *Service) VerifyIntegrity(ctx context.Context) (IntegrityReport, error) {
	var err error
	defer s.observe("verify_integrity", time.Now(), &err)

	if s.db == nil {
		err = fmt.Errorf("integrity check requires persistence")
		return IntegrityReport{}, err
	}

	report := IntegrityReport{IsHealthy: true}

	err = s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) FROM olive.envelopes`,
	).Scan(&report.LatestSequence)
	if err != nil {
		return IntegrityReport{}, fmt.Errorf("latest sequence: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT e1.sequence
		FROM olive.envelopes e1
		JOIN olive.envelopes e2 ON e2.sequence = e1.sequence - 1
		WHERE e1.prev_hash <> e2.state_hash
		ORDER BY e1.sequence
		LIMIT 100`)
	if err != nil {
		return IntegrityReport{}, fmt.Errorf("hash chain scan: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var seq int64
		if err = rows.Scan(&seq); err != nil {
			return IntegrityReport{}, err
		}
		report.HashChainBreaks = append(report.HashChainBreaks, seq)
	}
	if err = rows.Err(); err != nil {
		return IntegrityReport{}, err
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0
	return report, nil
}
