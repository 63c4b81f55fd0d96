package math

// Fraction is a non-negative ratio held at basis-point resolution. The curve
// and funding paths keep rates in this form so their comparisons stay exact;
// only the pricing layer converts to float.
type Fraction struct {
	value uint64
}

// FractionOne is 100%.
var FractionOne = Fraction{value: uint64(FullBPS)}

// FractionZero is 0%.
var FractionZero = Fraction{}

// FractionFromBps builds a Fraction from basis points.
func FractionFromBps(bps uint32) Fraction {
	return Fraction{value: uint64(bps)}
}

// Bps returns the fraction in basis points.
func (f Fraction) Bps() uint64 {
	return f.value
}

// Float returns the fraction as a plain ratio (1.0 == 100%).
func (f Fraction) Float() float64 {
	return float64(f.value) / float64(FullBPS)
}

// GreaterThan reports f > other.
func (f Fraction) GreaterThan(other Fraction) bool {
	return f.value > other.value
}

// Sub returns f-other or ErrOverflow on underflow.
func (f Fraction) Sub(other Fraction) (Fraction, error) {
	if other.value > f.value {
		return Fraction{}, ErrOverflow
	}
	return Fraction{value: f.value - other.value}, nil
}

// Add returns f+other or ErrOverflow.
func (f Fraction) Add(other Fraction) (Fraction, error) {
	v, err := CheckedAdd(f.value, other.value)
	if err != nil {
		return Fraction{}, err
	}
	return Fraction{value: v}, nil
}

// MulScalar returns f*s or ErrOverflow.
func (f Fraction) MulScalar(s uint64) (Fraction, error) {
	if s != 0 && f.value > (1<<63)/s {
		return Fraction{}, ErrOverflow
	}
	return Fraction{value: f.value * s}, nil
}

// DivScalar returns f/s or ErrDivisionByZero.
func (f Fraction) DivScalar(s uint64) (Fraction, error) {
	if s == 0 {
		return Fraction{}, ErrDivisionByZero
	}
	return Fraction{value: f.value / s}, nil
}
