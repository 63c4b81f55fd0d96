// Package pricing values options with Black-Scholes, using a risk-free rate
// derived from the pool's utilization curve.
//
// Valuation runs in float64 on purpose: pricing tolerates float precision,
// while final settlement transfers happen downstream in scaled integers. The
// cumulative normal here is a rational-polynomial approximation, not erf;
// margin comparisons depend on this exact curve, so it must not be swapped
// for a "more accurate" one.
package pricing

import (
	"errors"
	"fmt"
	stdmath "math"

	"github.com/Aurora0917/olive-sc-sub000/internal/curve"
	fpmath "github.com/Aurora0917/olive-sc-sub000/internal/math"
)

var (
	ErrDegenerateInput = errors.New("degenerate pricing input")
)

// AssetClass selects the volatility regime and rate curve for an underlying.
type AssetClass int

const (
	AssetVolatile AssetClass = iota // e.g. SOL
	AssetStable                     // e.g. USDC
)

// CurveParams are the whole-percent legacy parameters for one asset class.
type CurveParams struct {
	OptimalUtilizationPct uint8
	BaseRatePct           uint8
	OptimalRatePct        uint8
	MaxRatePct            uint8
}

// Params carries the per-asset-class pricing configuration. Defaults mirror
// production: volatile assets run a hot 3/12/60 curve at 80% optimal
// utilization with 0.8 vol, stables a 1/5/25 curve with 0.3 vol.
type Params struct {
	VolatileCurve      CurveParams
	StableCurve        CurveParams
	VolatileVolatility float64
	StableVolatility   float64
}

// DefaultParams returns the production parameter set.
func DefaultParams() Params {
	return Params{
		VolatileCurve:      CurveParams{OptimalUtilizationPct: 80, BaseRatePct: 3, OptimalRatePct: 12, MaxRatePct: 60},
		StableCurve:        CurveParams{OptimalUtilizationPct: 80, BaseRatePct: 1, OptimalRatePct: 5, MaxRatePct: 25},
		VolatileVolatility: 0.8,
		StableVolatility:   0.3,
	}
}

// Engine prices options and derives utilization-based rates. Construction
// builds and validates both curves once; evaluation is pure.
type Engine struct {
	params        Params
	volatileCurve *curve.BorrowRateCurve
	stableCurve   *curve.BorrowRateCurve
}

// NewEngine validates the parameter set and builds the per-class curves.
func NewEngine(params Params) (*Engine, error) {
	vc, err := curve.FromLegacyParameters(
		params.VolatileCurve.OptimalUtilizationPct,
		params.VolatileCurve.BaseRatePct,
		params.VolatileCurve.OptimalRatePct,
		params.VolatileCurve.MaxRatePct,
	)
	if err != nil {
		return nil, fmt.Errorf("volatile curve: %w", err)
	}
	sc, err := curve.FromLegacyParameters(
		params.StableCurve.OptimalUtilizationPct,
		params.StableCurve.BaseRatePct,
		params.StableCurve.OptimalRatePct,
		params.StableCurve.MaxRatePct,
	)
	if err != nil {
		return nil, fmt.Errorf("stable curve: %w", err)
	}
	if params.VolatileVolatility <= 0 || params.StableVolatility <= 0 {
		return nil, fmt.Errorf("%w: volatility must be positive", ErrDegenerateInput)
	}
	return &Engine{params: params, volatileCurve: vc, stableCurve: sc}, nil
}

// NormalCDF is the rational-polynomial cumulative-normal approximation used
// throughout pricing.
func NormalCDF(z float64) float64 {
	const (
		beta1 = -0.0004406
		beta2 = 0.0418198
		beta3 = 0.9
	)
	exponent := -stdmath.Sqrt(stdmath.Pi) * (beta1*stdmath.Pow(z, 5) + beta2*stdmath.Pow(z, 3) + beta3*z)
	return 1.0 / (1.0 + stdmath.Exp(exponent))
}

// BlackScholes prices a European option at zero rate and 0.5 vol. Inputs must
// be pre-validated: s, k and t must all be positive.
func BlackScholes(s, k, t float64, call bool) float64 {
	return blackScholes(s, k, t, 0.0, 0.5, call)
}

func blackScholes(s, k, t, r, sigma float64, call bool) float64 {
	sqrtT := stdmath.Sqrt(t)
	d1 := (stdmath.Log(s/k) + (r+0.5*sigma*sigma)*t) / (sigma * sqrtT)
	d2 := d1 - sigma*sqrtT

	if call {
		return s*NormalCDF(d1) - k*stdmath.Exp(-r*t)*NormalCDF(d2)
	}
	return k*stdmath.Exp(-r*t)*NormalCDF(-d2) - s*NormalCDF(-d1)
}

// Utilization returns locked/owned clamped to [0,1], as a bps Fraction.
// A pool that owns nothing has zero utilization.
func Utilization(tokenLocked, tokenOwned uint64) fpmath.Fraction {
	if tokenOwned == 0 {
		return fpmath.FractionZero
	}
	ratio := float64(tokenLocked) / float64(tokenOwned)
	bps := uint32(stdmath.Round(ratio*100) * 100)
	if bps > uint32(fpmath.FullBPS) {
		bps = uint32(fpmath.FullBPS)
	}
	return fpmath.FractionFromBps(bps)
}

// BorrowRate evaluates the asset class's curve at the pool's current
// utilization and returns the annualized rate.
func (e *Engine) BorrowRate(tokenLocked, tokenOwned uint64, class AssetClass) (fpmath.Fraction, error) {
	c := e.stableCurve
	if class == AssetVolatile {
		c = e.volatileCurve
	}
	rate, err := c.GetBorrowRate(Utilization(tokenLocked, tokenOwned))
	if err != nil {
		return fpmath.FractionZero, fmt.Errorf("borrow rate: %w", err)
	}
	return rate, nil
}

// Volatility returns the configured sigma for the asset class.
func (e *Engine) Volatility(class AssetClass) float64 {
	if class == AssetVolatile {
		return e.params.VolatileVolatility
	}
	return e.params.StableVolatility
}

// BlackScholesWithBorrowRate prices an option using a risk-free rate derived
// from the pool's utilization curve. Rejects degenerate inputs (zero or
// negative spot, strike, or time to expiry) rather than letting sqrt/ln
// produce NaNs.
func (e *Engine) BlackScholesWithBorrowRate(
	s, k, t float64,
	call bool,
	tokenLocked, tokenOwned uint64,
	class AssetClass,
) (float64, error) {
	if s <= 0 || k <= 0 || t <= 0 {
		return 0, fmt.Errorf("%w: spot=%v strike=%v t=%v", ErrDegenerateInput, s, k, t)
	}

	rate, err := e.BorrowRate(tokenLocked, tokenOwned, class)
	if err != nil {
		return 0, err
	}
	r := rate.Float()
	sigma := e.Volatility(class)

	price := blackScholes(s, k, t, r, sigma, call)
	if stdmath.IsNaN(price) || stdmath.IsInf(price, 0) {
		return 0, fmt.Errorf("%w: non-finite price", ErrDegenerateInput)
	}
	return price, nil
}
