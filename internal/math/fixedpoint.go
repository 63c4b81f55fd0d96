package math

import (
	"errors"
	"fmt"
	stdmath "math"
	"math/big"
	"sync"
)

// Fixed-point scales used across the engine. USD values and prices carry
// six decimals, rates are basis points, and close percentages carry six
// decimals of a percent (100_000_000 = 100%). The close-percentage scale and
// the TP/SL bps scale are different units and must never be mixed.
const (
	USDDecimals   = 6
	PriceDecimals = 6

	USDScale   int64 = 1_000_000
	PriceScale int64 = 1_000_000

	// FullBPS is 100% in basis points.
	FullBPS int64 = 10_000

	// FullClosePercent is 100% in the 6-decimal close-percentage scale.
	FullClosePercent uint64 = 100_000_000
)

var (
	ErrOverflow       = errors.New("overflow in arithmetic operation")
	ErrDivisionByZero = errors.New("division by zero attempted")
	ErrPrecisionLoss  = errors.New("precision loss detected, values too small")
)

// RoundingMode selects how DivideInt128 treats remainders.
type RoundingMode int

const (
	RoundHalfEven RoundingMode = iota // banker's rounding (default)
	RoundDown
	RoundUp
)

// int128Pool recycles big.Ints used for intermediate products.
var int128Pool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getInt128() *big.Int {
	return int128Pool.Get().(*big.Int)
}

func putInt128(v *big.Int) {
	v.SetInt64(0)
	int128Pool.Put(v)
}

// MultiplyInt128 performs a * b in 128-bit space. The caller must release
// the result with PutInt128 or feed it to DivideInt128.
func MultiplyInt128(a, b int64) *big.Int {
	result := getInt128()
	result.Mul(big.NewInt(a), big.NewInt(b))
	return result
}

// PutInt128 returns an intermediate to the pool.
func PutInt128(v *big.Int) {
	putInt128(v)
}

// DivideInt128 performs numerator / denominator with the given rounding and
// releases the numerator back to the pool.
func DivideInt128(numerator *big.Int, denominator int64, roundingMode RoundingMode) (int64, error) {
	if denominator == 0 {
		putInt128(numerator)
		return 0, ErrDivisionByZero
	}

	denom := big.NewInt(denominator)
	quotient := getInt128()
	remainder := getInt128()
	quotient.QuoRem(numerator, denom, remainder)

	if !quotient.IsInt64() {
		putInt128(numerator)
		putInt128(quotient)
		putInt128(remainder)
		return 0, ErrOverflow
	}

	result := quotient.Int64()

	switch roundingMode {
	case RoundHalfEven:
		rem := remainder.Int64()
		if rem < 0 {
			rem = -rem
		}
		half := denominator / 2
		if denominator < 0 {
			half = -half
		}
		if rem > half {
			result = bump(result, numerator.Sign() == denom.Sign())
		} else if rem == half && denominator%2 == 0 && result%2 != 0 {
			result = bump(result, numerator.Sign() == denom.Sign())
		}
	case RoundUp:
		if remainder.Sign() != 0 {
			result = bump(result, numerator.Sign() == denom.Sign())
		}
	case RoundDown:
		// truncation already happened
	}

	putInt128(numerator)
	putInt128(quotient)
	putInt128(remainder)

	return result, nil
}

func bump(v int64, positive bool) int64 {
	if positive {
		return v + 1
	}
	return v - 1
}

// MulDiv computes a*b/denom through 128-bit intermediates with banker's
// rounding, the standard shape for scaled-integer settlement math.
func MulDiv(a, b, denom int64) (int64, error) {
	return DivideInt128(MultiplyInt128(a, b), denom, RoundHalfEven)
}

// MulDivU is MulDiv for unsigned operands, failing on negative results.
func MulDivU(a, b, denom uint64) (uint64, error) {
	if a > stdmath.MaxInt64 || b > stdmath.MaxInt64 || denom > stdmath.MaxInt64 {
		return 0, ErrOverflow
	}
	v, err := MulDiv(int64(a), int64(b), int64(denom))
	if err != nil {
		return 0, err
	}
	if v < 0 {
		return 0, ErrOverflow
	}
	return uint64(v), nil
}

// CheckedMulU64 returns a*b or ErrOverflow.
func CheckedMulU64(a, b uint64) (uint64, error) {
	if a == 0 || b == 0 {
		return 0, nil
	}
	product := a * b
	if product/a != b {
		return 0, ErrOverflow
	}
	return product, nil
}

// CheckedAdd returns a+b or ErrOverflow.
func CheckedAdd(a, b uint64) (uint64, error) {
	sum := a + b
	if sum < a {
		return 0, ErrOverflow
	}
	return sum, nil
}

// CheckedSub returns a-b or ErrOverflow on underflow.
func CheckedSub(a, b uint64) (uint64, error) {
	if b > a {
		return 0, fmt.Errorf("%w: %d - %d", ErrOverflow, a, b)
	}
	return a - b, nil
}

// CheckedAddI64 returns a+b or ErrOverflow.
func CheckedAddI64(a, b int64) (int64, error) {
	sum := a + b
	if (b > 0 && sum < a) || (b < 0 && sum > a) {
		return 0, ErrOverflow
	}
	return sum, nil
}

// CheckedFloatDiv divides two floats, rejecting zero denominators and
// non-finite results.
func CheckedFloatDiv(a, b float64) (float64, error) {
	if b == 0 {
		return 0, ErrDivisionByZero
	}
	v := a / b
	if stdmath.IsInf(v, 0) || stdmath.IsNaN(v) {
		return 0, ErrOverflow
	}
	return v, nil
}

// CheckedFloatMul multiplies two floats, rejecting non-finite results.
func CheckedFloatMul(a, b float64) (float64, error) {
	v := a * b
	if stdmath.IsInf(v, 0) || stdmath.IsNaN(v) {
		return 0, ErrOverflow
	}
	return v, nil
}

// CheckedAsU64 converts a float to uint64, rejecting negatives and values
// beyond the integer range.
func CheckedAsU64(v float64) (uint64, error) {
	if stdmath.IsNaN(v) || stdmath.IsInf(v, 0) {
		return 0, ErrOverflow
	}
	if v < 0 {
		return 0, ErrOverflow
	}
	if v >= float64(stdmath.MaxUint64) {
		return 0, ErrOverflow
	}
	return uint64(v), nil
}

// CheckedAsI64 converts a float to int64 with range validation.
func CheckedAsI64(v float64) (int64, error) {
	if stdmath.IsNaN(v) || stdmath.IsInf(v, 0) {
		return 0, ErrOverflow
	}
	if v >= float64(stdmath.MaxInt64) || v <= float64(stdmath.MinInt64) {
		return 0, ErrOverflow
	}
	return int64(v), nil
}

// F64ToScaledPrice converts a float USD price to the 6-decimal integer scale.
func F64ToScaledPrice(price float64) (uint64, error) {
	if price < 0 {
		return 0, ErrOverflow
	}
	return CheckedAsU64(price * float64(PriceScale))
}

// ScaledPriceToF64 converts a 6-decimal integer price to float.
func ScaledPriceToF64(price uint64) float64 {
	return float64(price) / float64(PriceScale)
}

// ScaleToDecimals rescales an amount expressed with 6 decimals to the token's
// native decimals. Amounts move between USD space and custody token space
// through this single helper so the SOL and USDC paths stay symmetric.
func ScaleToDecimals(amount6 uint64, decimals uint8) (uint64, error) {
	switch {
	case decimals == USDDecimals:
		return amount6, nil
	case decimals > USDDecimals:
		factor := pow10(decimals - USDDecimals)
		return MulDivU(amount6, factor, 1)
	default:
		factor := pow10(USDDecimals - decimals)
		return MulDivU(amount6, 1, factor)
	}
}

func pow10(n uint8) uint64 {
	v := uint64(1)
	for i := uint8(0); i < n; i++ {
		v *= 10
	}
	return v
}
