// Package keeper drives the time-dependent transitions no user is obliged
// to call: limit and trigger execution, borrow fee accrual, liquidations,
// option expiry, and future settlement. Everything it does goes through the
// engine; the keeper only decides when to call, never how to settle.
package keeper

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Aurora0917/olive-sc-sub000/internal/engine"
	"github.com/Aurora0917/olive-sc-sub000/internal/ledger"
	"github.com/Aurora0917/olive-sc-sub000/internal/observability"
	"github.com/Aurora0917/olive-sc-sub000/internal/oracle"
	"github.com/Aurora0917/olive-sc-sub000/internal/pricing"
	"github.com/Aurora0917/olive-sc-sub000/internal/state"
)

// Oracle acceptance bounds for the keeper's own spot reads. Matches what the
// engine enforces on the quotes it consumes.
const (
	maxOracleAgeSeconds = 60
	maxConfidenceBps    = 100
)

// DefaultInterval is the sweep cadence when none is configured.
const DefaultInterval = 5 * time.Second

// BatchSink receives the journal batch booked for each effectful transition
// the keeper fires. Implementations must not retain the batch's slices past
// the call.
type BatchSink func(*ledger.Batch)

// RateSample is one custody's utilization and borrow-rate observation from
// the gauge sweep.
type RateSample struct {
	Pool            string
	Asset           oracle.AssetID
	UtilizationBps  int64
	BorrowRateBps   int64
	CumulativeLong  uint64
	CumulativeShort uint64
	Timestamp       int64
}

// RateSink receives one sample per custody per sweep.
type RateSink func(RateSample)

// Keeper periodically sweeps every record in the store and fires the
// transitions whose conditions have been met.
type Keeper struct {
	store   *ledger.Store
	eng     *engine.Engine
	pricing *pricing.Engine
	oracle  oracle.PriceOracle
	log     zerolog.Logger
	metrics *observability.Metrics

	// identity is the account credited with liquidation rewards.
	identity uuid.UUID

	interval time.Duration
	sink     BatchSink
	rates    RateSink

	// sequence numbers the batches this keeper books. The caller provides
	// the starting point so keeper batches interleave correctly with
	// command-path batches.
	sequence uint64

	// now is swapped out in tests.
	now func() int64
}

// Config carries the keeper's collaborators. Metrics and Sink may be nil.
type Config struct {
	Store         *ledger.Store
	Engine        *engine.Engine
	Pricing       *pricing.Engine
	Oracle        oracle.PriceOracle
	Logger        zerolog.Logger
	Metrics       *observability.Metrics
	Identity      uuid.UUID
	Interval      time.Duration
	Sink          BatchSink
	Rates         RateSink
	StartSequence uint64
}

func New(cfg Config) *Keeper {
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Keeper{
		store:    cfg.Store,
		eng:      cfg.Engine,
		pricing:  cfg.Pricing,
		oracle:   cfg.Oracle,
		log:      cfg.Logger.With().Str("component", "keeper").Logger(),
		metrics:  cfg.Metrics,
		identity: cfg.Identity,
		interval: interval,
		sink:     cfg.Sink,
		rates:    cfg.Rates,
		sequence: cfg.StartSequence,
		now:      func() int64 { return time.Now().Unix() },
	}
}

// Sequence returns the last batch sequence this keeper booked. Read it only
// between sweeps, e.g. while the keeper is stopped for a snapshot.
func (k *Keeper) Sequence() uint64 { return k.sequence }

// Run sweeps on the configured interval until the context is cancelled.
func (k *Keeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(k.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			k.Sweep(k.now())
		}
	}
}

// Sweep runs every sweep phase once at the given timestamp.
func (k *Keeper) Sweep(now int64) {
	k.timed("positions", func() { k.sweepPositions(now) })
	k.timed("triggers", func() { k.sweepTriggers(now) })
	k.timed("futures", func() { k.sweepFutures(now) })
	k.timed("options", func() { k.sweepOptions(now) })
	k.timed("gauges", func() { k.updateGauges(now) })
}

func (k *Keeper) timed(name string, fn func()) {
	start := time.Now()
	fn()
	if k.metrics != nil {
		k.metrics.KeeperSweepDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	}
}

// book journals a transition's effects under the next sequence number.
func (k *Keeper) book(record uuid.UUID, now int64, effects []engine.Effect) {
	if len(effects) == 0 {
		return
	}
	k.sequence++
	batch := ledger.BatchFromEffects(record, k.sequence, now, effects)
	if batch != nil && k.sink != nil {
		k.sink(batch)
	}
}

// spot reads the pool underlying's 6-decimal price; zero means the quote
// was unusable this sweep and price-gated phases are skipped for the pool.
func (k *Keeper) spot(pool *state.Pool) uint64 {
	q, err := k.oracle.GetPrice(pool.Underlying.Asset, maxOracleAgeSeconds, maxConfidenceBps)
	if err != nil {
		k.log.Warn().Err(err).Str("pool", pool.Name).Msg("skipping price-gated sweeps: no usable quote")
		return 0
	}
	price, err := q.Scaled()
	if err != nil {
		k.log.Warn().Err(err).Str("pool", pool.Name).Msg("skipping price-gated sweeps: bad quote")
		return 0
	}
	return price
}

func (k *Keeper) pool(name string) *state.Pool {
	p, err := k.store.Pool(name)
	if err != nil {
		k.log.Error().Str("pool", name).Msg("record references unknown pool")
		return nil
	}
	return p
}

// sweepPositions executes triggered limit orders, accrues borrow fees on
// active positions, and force-closes the underwater ones.
func (k *Keeper) sweepPositions(now int64) {
	for _, pos := range k.store.Positions() {
		pool := k.pool(pos.Pool)
		if pool == nil {
			continue
		}

		if pos.IsPendingLimit() {
			effects, err := k.eng.ExecuteLimitOrder(pool, pos, now)
			switch {
			case err == nil:
				k.book(pos.ID, now, effects)
			case errors.Is(err, engine.ErrLimitNotTriggered), errors.Is(err, engine.ErrPriceSlippage):
				// Not yet; next sweep.
			default:
				k.log.Warn().Err(err).Str("position", pos.ID.String()).Msg("limit execution failed")
			}
			continue
		}

		if pos.SizeUSD == 0 || pos.IsLiquidated {
			k.reapPosition(pos)
			continue
		}

		if err := k.eng.UpdateBorrowFees(pool, pos, now); err != nil {
			k.log.Warn().Err(err).Str("position", pos.ID.String()).Msg("borrow fee accrual failed")
		}

		spot := k.spot(pool)
		if spot == 0 {
			continue
		}
		liquidatable, err := state.IsLiquidatable(pos, spot)
		if err != nil || !liquidatable {
			continue
		}

		book := k.store.Book(pos.ID)
		effects, err := k.eng.Liquidate(pool, pos, book, k.identity, now)
		if err != nil {
			if !errors.Is(err, engine.ErrNotLiquidatable) {
				k.log.Warn().Err(err).Str("position", pos.ID.String()).Msg("liquidation failed")
			}
			continue
		}
		k.book(pos.ID, now, effects)
		if k.metrics != nil {
			k.metrics.LiquidationsExecuted.WithLabelValues("perp").Inc()
		}
		k.reapPosition(pos)
	}
}

func (k *Keeper) reapPosition(pos *state.Position) {
	k.store.RemovePosition(ledger.RecordKey{Owner: pos.Owner, Pool: pos.Pool, Index: pos.Index})
}

// shouldFire mirrors the engine's trigger direction rule: take-profits fire
// with the trade, stop-losses against it.
func shouldFire(side state.Side, takeProfit bool, orderPrice, spot uint64) bool {
	upward := (side == state.SideLong) == takeProfit
	if upward {
		return spot >= orderPrice
	}
	return spot <= orderPrice
}

// sweepTriggers fires satisfied take-profit and stop-loss orders on both
// perpetual and option books.
func (k *Keeper) sweepTriggers(now int64) {
	for _, pos := range k.store.Positions() {
		book := k.store.Book(pos.ID)
		if book == nil || book.Contract != state.ContractPerp {
			continue
		}
		pool := k.pool(pos.Pool)
		if pool == nil {
			continue
		}
		spot := k.spot(pool)
		if spot == 0 {
			continue
		}
		k.firePerpTriggers(pool, pos, book, spot, now)
	}

	for _, opt := range k.store.Options() {
		book := k.store.Book(opt.ID)
		if book == nil || book.Contract != state.ContractOption || !opt.Valid {
			continue
		}
		pool := k.pool(opt.Pool)
		if pool == nil {
			continue
		}
		spot := k.spot(pool)
		if spot == 0 {
			continue
		}
		k.fireOptionTriggers(pool, opt, book, spot, now)
	}
}

func (k *Keeper) firePerpTriggers(pool *state.Pool, pos *state.Position, book *state.TriggerBook, spot uint64, now int64) {
	for _, takeProfit := range []bool{true, false} {
		orders := &book.StopLosses
		if takeProfit {
			orders = &book.TakeProfits
		}
		for i := range orders {
			o := orders[i]
			if !o.Active || !shouldFire(pos.Side, takeProfit, o.Price, spot) {
				continue
			}
			effects, err := k.eng.ExecuteTriggerOrder(pool, pos, book, takeProfit, i, now)
			if err != nil {
				if !errors.Is(err, engine.ErrLimitNotTriggered) {
					k.log.Warn().Err(err).Str("position", pos.ID.String()).Int("slot", i).Msg("trigger execution failed")
				}
				continue
			}
			k.book(pos.ID, now, effects)
			k.countTrigger(takeProfit)
			if pos.SizeUSD == 0 {
				k.reapPosition(pos)
				return
			}
		}
	}
}

func (k *Keeper) fireOptionTriggers(pool *state.Pool, opt *state.Option, book *state.TriggerBook, spot uint64, now int64) {
	side := state.SideShort
	if opt.Type == state.OptionCall {
		side = state.SideLong
	}
	premiumAsset, err := pool.CustodyForAsset(opt.PremiumAsset)
	if err != nil {
		k.log.Error().Err(err).Str("option", opt.ID.String()).Msg("premium custody missing")
		return
	}
	for _, takeProfit := range []bool{true, false} {
		orders := &book.StopLosses
		if takeProfit {
			orders = &book.TakeProfits
		}
		for i := range orders {
			o := orders[i]
			if !o.Active || !shouldFire(side, takeProfit, o.Price, spot) {
				continue
			}
			effects, err := k.eng.ExecuteOptionTriggerOrder(pool, opt, book, premiumAsset, takeProfit, i, now)
			if err != nil {
				if !errors.Is(err, engine.ErrLimitNotTriggered) {
					k.log.Warn().Err(err).Str("option", opt.ID.String()).Int("slot", i).Msg("option trigger failed")
				}
				continue
			}
			k.book(opt.ID, now, effects)
			k.countTrigger(takeProfit)
			if !opt.Valid {
				return
			}
		}
	}
}

func (k *Keeper) countTrigger(takeProfit bool) {
	if k.metrics == nil {
		return
	}
	label := "stop_loss"
	if takeProfit {
		label = "take_profit"
	}
	k.metrics.TriggerOrdersFired.WithLabelValues(label).Inc()
}

// sweepFutures executes pending limit futures, settles expired ones, and
// liquidates underwater ones. Settled records stay in the store until the
// owner claims.
func (k *Keeper) sweepFutures(now int64) {
	for _, f := range k.store.Futures() {
		pool := k.pool(f.Pool)
		if pool == nil {
			continue
		}

		switch f.Status {
		case state.FutureStatusPending:
			err := k.eng.ExecuteFutureLimitOrder(pool, f, now)
			switch {
			case err == nil:
				// Activated in place; nothing to book.
			case errors.Is(err, engine.ErrLimitNotTriggered), errors.Is(err, engine.ErrPriceSlippage):
			default:
				k.log.Warn().Err(err).Str("future", f.ID.String()).Msg("future limit execution failed")
			}

		case state.FutureStatusActive:
			if f.IsExpired(now) {
				if err := k.eng.MarkFutureExpired(f, now); err != nil {
					k.log.Warn().Err(err).Str("future", f.ID.String()).Msg("mark expired failed")
					continue
				}
				if err := k.eng.SettleFuture(pool, f, now); err != nil {
					k.log.Error().Err(err).Str("future", f.ID.String()).Msg("settlement failed")
					continue
				}
				if k.metrics != nil {
					k.metrics.FuturesSettled.Inc()
				}
				continue
			}

			spot := k.spot(pool)
			if spot == 0 {
				continue
			}
			liquidatable, err := f.IsLiquidatable(spot, now)
			if err != nil || !liquidatable {
				continue
			}
			effects, err := k.eng.LiquidateFuture(pool, f, k.identity, now)
			if err != nil {
				if !errors.Is(err, engine.ErrNotLiquidatable) {
					k.log.Warn().Err(err).Str("future", f.ID.String()).Msg("future liquidation failed")
				}
				continue
			}
			k.book(f.ID, now, effects)
			if k.metrics != nil {
				k.metrics.LiquidationsExecuted.WithLabelValues("future").Inc()
			}

		case state.FutureStatusSettled, state.FutureStatusLiquidated:
			// Fully consumed records are reaped; claimable ones wait.
			if f.Claimed || f.SettlementAmount == 0 {
				k.store.RemoveFuture(ledger.RecordKey{Owner: f.Owner, Pool: f.Pool, Index: f.Index})
			}
		}
	}
}

// sweepOptions settles expiry: in-the-money grants auto-exercise with the
// value parked for the owner, worthless ones are retired and their backing
// released.
func (k *Keeper) sweepOptions(now int64) {
	for _, opt := range k.store.Options() {
		pool := k.pool(opt.Pool)
		if pool == nil {
			continue
		}

		if !opt.Valid {
			if opt.Claimed == 0 {
				k.reapOption(opt, now)
			}
			continue
		}
		if !opt.IsExpired(now) {
			continue
		}

		spot := k.spot(pool)
		if spot == 0 {
			continue
		}
		intrinsic, err := opt.IntrinsicValueUSD(spot)
		if err != nil {
			k.log.Warn().Err(err).Str("option", opt.ID.String()).Msg("intrinsic valuation failed")
			continue
		}

		if intrinsic > 0 {
			if err := k.eng.AutoExerciseOption(pool, opt, now); err != nil {
				k.log.Warn().Err(err).Str("option", opt.ID.String()).Msg("auto-exercise failed")
				continue
			}
			if k.metrics != nil {
				k.metrics.OptionsAutoExercised.Inc()
			}
			continue
		}

		if err := k.eng.ExpireOption(pool, opt, now); err != nil {
			k.log.Warn().Err(err).Str("option", opt.ID.String()).Msg("expire failed")
			continue
		}
		if k.metrics != nil {
			k.metrics.OptionsExpired.Inc()
		}
		k.reapOption(opt, now)
	}
}

// reapOption drops a fully consumed option record and books its reclaim.
func (k *Keeper) reapOption(opt *state.Option, now int64) {
	if book := k.store.Book(opt.ID); book != nil {
		book.ClearAll()
		k.store.RemoveBook(opt.ID)
	}
	k.store.RemoveOption(ledger.RecordKey{Owner: opt.Owner, Pool: opt.Pool, Index: opt.Index})
	k.book(opt.ID, now, []engine.Effect{
		{Type: engine.EffectReclaim, Account: opt.ID, Memo: "option record"},
	})
}

// updateGauges refreshes the per-pool Prometheus gauges and emits rate
// samples to the configured sink.
func (k *Keeper) updateGauges(now int64) {
	if k.metrics == nil && k.rates == nil {
		return
	}
	for _, pool := range k.store.Pools() {
		if k.metrics != nil {
			k.metrics.OpenInterestUSD.WithLabelValues(pool.Name, "long").Set(float64(pool.LongOpenInterestUSD))
			k.metrics.OpenInterestUSD.WithLabelValues(pool.Name, "short").Set(float64(pool.ShortOpenInterestUSD))
		}

		for _, c := range []*state.Custody{pool.Underlying, pool.Stable} {
			utilization := pricing.Utilization(c.TokenLocked, c.TokenOwned)
			rate, err := k.pricing.BorrowRate(c.TokenLocked, c.TokenOwned, c.Class)
			if err != nil {
				continue
			}
			if k.metrics != nil {
				k.metrics.PoolUtilization.WithLabelValues(pool.Name, string(c.Asset)).Set(utilization.Float())
				k.metrics.BorrowRateBps.WithLabelValues(pool.Name, string(c.Asset)).Set(float64(rate.Bps()))
			}
			if k.rates != nil {
				k.rates(RateSample{
					Pool:            pool.Name,
					Asset:           c.Asset,
					UtilizationBps:  int64(utilization.Bps()),
					BorrowRateBps:   int64(rate.Bps()),
					CumulativeLong:  pool.CumulativeInterestRateLong,
					CumulativeShort: pool.CumulativeInterestRateShort,
					Timestamp:       now,
				})
			}
		}
	}
}
