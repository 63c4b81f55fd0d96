package math

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func propertyParams() *gopter.TestParameters {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())
	return parameters
}

func TestPropertyMulDivIdentity(t *testing.T) {
	properties := gopter.NewProperties(propertyParams())

	properties.Property("MulDivU(a, b, b) == a", prop.ForAll(
		func(a, b uint64) bool {
			got, err := MulDivU(a, b, b)
			return err == nil && got == a
		},
		gen.UInt64Range(0, 1<<40),
		gen.UInt64Range(1, 1<<40),
	))

	properties.TestingRun(t)
}

// Prorating a quantity over complementary percentages loses at most one
// unit to rounding and never creates value. Partial closes rely on this.
func TestPropertyProrationConserves(t *testing.T) {
	properties := gopter.NewProperties(propertyParams())

	properties.Property("pct and (100-pct) shares sum to the whole within 1", prop.ForAll(
		func(total, pct uint64) bool {
			closed, err := MulDivU(total, pct, 100)
			if err != nil {
				return false
			}
			rest, err := MulDivU(total, 100-pct, 100)
			if err != nil {
				return false
			}
			sum := closed + rest
			if sum > total+1 || total > sum+1 {
				return false
			}
			// The closed share alone never exceeds the whole.
			return closed <= total
		},
		gen.UInt64Range(1, 1<<50),
		gen.UInt64Range(1, 99),
	))

	properties.TestingRun(t)
}

func TestPropertyCheckedAddSubRoundTrip(t *testing.T) {
	properties := gopter.NewProperties(propertyParams())

	properties.Property("Sub(Add(a, b), b) == a", prop.ForAll(
		func(a, b uint64) bool {
			sum, err := CheckedAdd(a, b)
			if err != nil {
				return false
			}
			back, err := CheckedSub(sum, b)
			return err == nil && back == a
		},
		gen.UInt64Range(0, 1<<62),
		gen.UInt64Range(0, 1<<62),
	))

	properties.TestingRun(t)
}

func TestPropertyMulDivSignAndBound(t *testing.T) {
	properties := gopter.NewProperties(propertyParams())

	properties.Property("signed MulDiv keeps sign and magnitude bound", prop.ForAll(
		func(a int64, b, d int64) bool {
			got, err := MulDiv(a, b, d)
			if err != nil {
				return false
			}
			if a == 0 || b == 0 {
				return got == 0
			}
			if (a > 0) == (b > 0) {
				if got < 0 {
					return false
				}
			} else if got > 0 {
				return false
			}
			// With b <= d the result magnitude never exceeds |a|, up to
			// the half-even rounding step.
			abs := got
			if abs < 0 {
				abs = -abs
			}
			absA := a
			if absA < 0 {
				absA = -absA
			}
			return abs <= absA+1
		},
		gen.Int64Range(-(1<<40), 1<<40),
		gen.Int64Range(-1000, 1000),
		gen.Int64Range(1000, 2000),
	))

	properties.TestingRun(t)
}
