package engine

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Aurora0917/olive-sc-sub000/internal/observability"
	"github.com/Aurora0917/olive-sc-sub000/internal/oracle"
	"github.com/Aurora0917/olive-sc-sub000/internal/pricing"

	fpmath "github.com/Aurora0917/olive-sc-sub000/internal/math"
)

// Risk and fee constants shared by the perpetual transitions. Futures carry
// their own, tighter set in the state package.
const (
	PerpMaxLeverage         = 100
	PerpMinInitialMarginBps = 100 // 1% at max leverage
	PerpOpenFeeBps          = 10
	PerpCloseFeeBps         = 5
	DefaultSlippageBps      = 100 // 1% band around a limit trigger

	MinPositionSizeUSD = 1_000000         // $1
	MaxPositionSizeUSD = 1_000_000_000000 // $1M

	MinExpirySeconds = 3600
	MaxExpirySeconds = 365 * 24 * 3600

	// Liquidation reward: 5% of the liquidated settlement with a floor in
	// native token units, capped at the settlement itself.
	LiquidationRewardBps = 500
	MinLiquidationReward = 1000

	// Oracle acceptance bounds applied to every quote the engine consumes.
	maxOracleAgeSeconds = 60
	maxConfidenceBps    = 100

	// Option close refunds 90% of the fresh revaluation; the retention
	// stays in the pool.
	optionCloseRefundBps = 9_000
)

// Engine hosts the lifecycle transitions. It owns no storage: records and
// pools are passed in and returned, the ledger layer persists them.
type Engine struct {
	pricing *pricing.Engine
	oracle  oracle.PriceOracle
	log     zerolog.Logger
	metrics *observability.Metrics
}

// New wires the engine's collaborators. metrics may be nil in tests.
func New(pricingEngine *pricing.Engine, priceOracle oracle.PriceOracle, log zerolog.Logger, metrics *observability.Metrics) *Engine {
	return &Engine{
		pricing: pricingEngine,
		oracle:  priceOracle,
		log:     log.With().Str("component", "engine").Logger(),
		metrics: metrics,
	}
}

// quote fetches an oracle price under the engine's staleness and confidence
// bounds.
func (e *Engine) quote(asset oracle.AssetID) (oracle.PriceQuote, error) {
	q, err := e.oracle.GetPrice(asset, maxOracleAgeSeconds, maxConfidenceBps)
	if err != nil {
		return oracle.PriceQuote{}, fmt.Errorf("oracle %s: %w", asset, err)
	}
	return q, nil
}

// validateSizeUSD applies the global position size bounds.
func validateSizeUSD(sizeUSD uint64) error {
	if sizeUSD < MinPositionSizeUSD {
		return fmt.Errorf("%w: %d < %d", ErrBelowMinimumSize, sizeUSD, uint64(MinPositionSizeUSD))
	}
	if sizeUSD > MaxPositionSizeUSD {
		return fmt.Errorf("%w: %d > %d", ErrAboveMaximumSize, sizeUSD, uint64(MaxPositionSizeUSD))
	}
	return nil
}

// validateLeverage rejects size/collateral beyond maxLeverage (whole x).
func validateLeverage(sizeUSD, collateralUSD uint64, maxLeverage uint64) error {
	if collateralUSD == 0 {
		return fmt.Errorf("%w: zero collateral", ErrInvalidParameter)
	}
	lev, err := fpmath.MulDivU(sizeUSD, uint64(fpmath.FullBPS), collateralUSD)
	if err != nil {
		return err
	}
	if lev > maxLeverage*uint64(fpmath.FullBPS) {
		return fmt.Errorf("%w: %d bps > %dx", ErrMaxLeverageExceeded, lev, maxLeverage)
	}
	return nil
}

// validateExpiryWindow bounds a requested expiry relative to now.
func validateExpiryWindow(now, expiry int64) error {
	d := expiry - now
	if d < MinExpirySeconds || d > MaxExpirySeconds {
		return fmt.Errorf("%w: %d seconds out", ErrInvalidExpiry, d)
	}
	return nil
}

// slice scales v by closePercentage in the 6-decimal close scale
// (100_000_000 = 100%).
func slice(v uint64, closePercentage uint64) (uint64, error) {
	return fpmath.MulDivU(v, closePercentage, fpmath.FullClosePercent)
}

// sliceSigned scales a signed value preserving the sign through integer
// division: dividing a negative numerator directly would round toward zero
// differently on the two sides of the axis.
func sliceSigned(v int64, closePercentage uint64) (int64, error) {
	if v >= 0 {
		s, err := slice(uint64(v), closePercentage)
		if err != nil {
			return 0, err
		}
		return int64(s), nil
	}
	s, err := slice(uint64(-v), closePercentage)
	if err != nil {
		return 0, err
	}
	return -int64(s), nil
}

func validateClosePercentage(closePercentage uint64) error {
	if closePercentage == 0 || closePercentage > fpmath.FullClosePercent {
		return fmt.Errorf("%w: close percentage %d out of (0, %d]", ErrInvalidParameter, closePercentage, fpmath.FullClosePercent)
	}
	return nil
}

// requireOwner enforces record ownership for owner-gated transitions.
func requireOwner(owner, caller uuid.UUID) error {
	if owner != caller {
		return ErrUnauthorized
	}
	return nil
}

// withinSlippageBand checks markPrice against a band of bandBps around
// reference.
func withinSlippageBand(markPrice, reference, bandBps uint64) (bool, error) {
	if bandBps == 0 {
		bandBps = DefaultSlippageBps
	}
	band, err := fpmath.MulDivU(reference, bandBps, uint64(fpmath.FullBPS))
	if err != nil {
		return false, err
	}
	low := uint64(0)
	if reference > band {
		low = reference - band
	}
	high, err := fpmath.CheckedAdd(reference, band)
	if err != nil {
		return false, err
	}
	return markPrice >= low && markPrice <= high, nil
}

func (e *Engine) observeTransition(kind, outcome string) {
	if e.metrics != nil {
		e.metrics.EngineTransitions.WithLabelValues(kind, outcome).Inc()
	}
}

// assetClass maps a custody asset to its volatility regime.
func assetClass(asset oracle.AssetID) pricing.AssetClass {
	if asset == oracle.AssetUSDC {
		return pricing.AssetStable
	}
	return pricing.AssetVolatile
}
