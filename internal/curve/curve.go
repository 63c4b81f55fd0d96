// Package curve implements the 11-point piecewise-linear utilization curve
// that drives borrow and funding rates. A curve is immutable once built;
// administrative reconfiguration replaces the whole value.
package curve

import (
	"errors"
	"fmt"

	fpmath "github.com/Aurora0917/olive-sc-sub000/internal/math"
)

// MaxUtilizationRateBps is 100% utilization.
const MaxUtilizationRateBps uint32 = 10_000

// NumPoints is the fixed knot count of every curve.
const NumPoints = 11

var (
	ErrInvalidCurvePoint      = errors.New("invalid borrow rate curve point")
	ErrInvalidUtilizationRate = errors.New("invalid utilization rate")
)

// CurvePoint is one knot: a utilization level and the borrow rate charged at
// that level, both in basis points.
type CurvePoint struct {
	UtilizationRateBps uint32
	BorrowRateBps      uint32
}

// NewCurvePoint builds a knot.
func NewCurvePoint(utilizationRateBps, borrowRateBps uint32) CurvePoint {
	return CurvePoint{
		UtilizationRateBps: utilizationRateBps,
		BorrowRateBps:      borrowRateBps,
	}
}

// BorrowRateCurve is the full 11-knot curve. Curves with fewer logical
// segments pad the tail by repeating the final knot at max utilization.
type BorrowRateCurve struct {
	Points [NumPoints]CurvePoint
}

// Validate enforces the structural invariants: the first knot sits at 0
// utilization, the last at 100%, utilization strictly increases until it
// reaches the max (then stays flat), and rates never decrease.
func (c *BorrowRateCurve) Validate() error {
	pts := &c.Points

	if pts[0].UtilizationRateBps != 0 {
		return fmt.Errorf("%w: first point utilization must be 0, got %d",
			ErrInvalidCurvePoint, pts[0].UtilizationRateBps)
	}
	if pts[NumPoints-1].UtilizationRateBps != MaxUtilizationRateBps {
		return fmt.Errorf("%w: last point utilization must be %d, got %d",
			ErrInvalidCurvePoint, MaxUtilizationRateBps, pts[NumPoints-1].UtilizationRateBps)
	}

	last := pts[0]
	for i := 1; i < NumPoints; i++ {
		pt := pts[i]
		if last.UtilizationRateBps == MaxUtilizationRateBps {
			if pt.UtilizationRateBps != MaxUtilizationRateBps {
				return fmt.Errorf("%w: utilization regressed after max at index %d",
					ErrInvalidCurvePoint, i)
			}
		} else if pt.UtilizationRateBps <= last.UtilizationRateBps {
			return fmt.Errorf("%w: utilization not strictly increasing at index %d",
				ErrInvalidCurvePoint, i)
		}
		if pt.BorrowRateBps < last.BorrowRateBps {
			return fmt.Errorf("%w: borrow rate decreased at index %d",
				ErrInvalidCurvePoint, i)
		}
		last = pt
	}
	return nil
}

// FromPoints builds a validated curve from 2..11 knots, padding the tail with
// the final knot.
func FromPoints(pts []CurvePoint) (*BorrowRateCurve, error) {
	if len(pts) < 2 || len(pts) > NumPoints {
		return nil, fmt.Errorf("%w: need 2..%d points, got %d",
			ErrInvalidCurvePoint, NumPoints, len(pts))
	}
	last := pts[len(pts)-1]
	if last.UtilizationRateBps != MaxUtilizationRateBps {
		return nil, fmt.Errorf("%w: final point must sit at max utilization",
			ErrInvalidCurvePoint)
	}

	c := &BorrowRateCurve{}
	for i := range c.Points {
		c.Points[i] = last
	}
	copy(c.Points[:len(pts)], pts)

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// NewFlat builds a constant-rate curve.
func NewFlat(borrowRateBps uint32) *BorrowRateCurve {
	c, err := FromPoints([]CurvePoint{
		NewCurvePoint(0, borrowRateBps),
		NewCurvePoint(MaxUtilizationRateBps, borrowRateBps),
	})
	if err != nil {
		// Two monotone points cannot fail validation.
		panic(err)
	}
	return c
}

// FromLegacyParameters builds the standard three-segment curve
// (base rate at 0%, optimal rate at the optimal utilization, max rate at
// 100%) from whole-percent parameters. Malformed parameter sets fail here,
// at construction, rather than at evaluation time.
func FromLegacyParameters(optimalUtilizationPct, baseRatePct, optimalRatePct, maxRatePct uint8) (*BorrowRateCurve, error) {
	optimalUtilization := uint32(optimalUtilizationPct) * 100
	baseRate := uint32(baseRatePct) * 100
	optimalRate := uint32(optimalRatePct) * 100
	maxRate := uint32(maxRatePct) * 100

	var pts []CurvePoint
	switch optimalUtilization {
	case 0:
		pts = []CurvePoint{
			NewCurvePoint(0, optimalRate),
			NewCurvePoint(MaxUtilizationRateBps, maxRate),
		}
	case MaxUtilizationRateBps:
		pts = []CurvePoint{
			NewCurvePoint(0, baseRate),
			NewCurvePoint(MaxUtilizationRateBps, optimalRate),
		}
	default:
		pts = []CurvePoint{
			NewCurvePoint(0, baseRate),
			NewCurvePoint(optimalUtilization, optimalRate),
			NewCurvePoint(MaxUtilizationRateBps, maxRate),
		}
	}
	return FromPoints(pts)
}

// GetBorrowRate evaluates the curve at the given utilization. Utilization is
// clamped to [0, 100%]; landing on a knot returns that knot's rate exactly,
// anything between two knots is linearly interpolated. The trailing error
// branch is unreachable after clamping but kept as a defensive contract.
func (c *BorrowRateCurve) GetBorrowRate(utilization fpmath.Fraction) (fpmath.Fraction, error) {
	if utilization.GreaterThan(fpmath.FractionOne) {
		utilization = fpmath.FractionOne
	}
	utilizationBps := uint32(utilization.Bps())

	for i := 0; i < NumPoints-1; i++ {
		start := c.Points[i]
		end := c.Points[i+1]

		if utilizationBps < start.UtilizationRateBps || utilizationBps > end.UtilizationRateBps {
			continue
		}
		if utilizationBps == start.UtilizationRateBps {
			return fpmath.FractionFromBps(start.BorrowRateBps), nil
		}
		if utilizationBps == end.UtilizationRateBps {
			return fpmath.FractionFromBps(end.BorrowRateBps), nil
		}
		return interpolate(start, end, utilization)
	}

	return fpmath.FractionZero, fmt.Errorf("%w: %d bps beyond final knot",
		ErrInvalidUtilizationRate, utilizationBps)
}

func interpolate(start, end CurvePoint, utilization fpmath.Fraction) (fpmath.Fraction, error) {
	slopeNom := end.BorrowRateBps - start.BorrowRateBps
	slopeDenom := end.UtilizationRateBps - start.UtilizationRateBps
	if slopeDenom == 0 {
		return fpmath.FractionZero, ErrInvalidCurvePoint
	}

	coef, err := utilization.Sub(fpmath.FractionFromBps(start.UtilizationRateBps))
	if err != nil {
		return fpmath.FractionZero, fmt.Errorf("%w: utilization below segment start",
			ErrInvalidUtilizationRate)
	}

	nom, err := coef.MulScalar(uint64(slopeNom))
	if err != nil {
		return fpmath.FractionZero, err
	}
	base, err := nom.DivScalar(uint64(slopeDenom))
	if err != nil {
		return fpmath.FractionZero, err
	}
	return base.Add(fpmath.FractionFromBps(start.BorrowRateBps))
}
