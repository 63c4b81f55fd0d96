package pricing

import (
	"errors"
	"math"
	"testing"

	fpmath "github.com/Aurora0917/olive-sc-sub000/internal/math"
)

func TestNormalCDF(t *testing.T) {
	if got := NormalCDF(0); math.Abs(got-0.5) > 1e-9 {
		t.Errorf("NormalCDF(0) = %v, want 0.5", got)
	}
	// Symmetry: N(z) + N(-z) == 1 for this rational form.
	for _, z := range []float64{0.5, 1.0, 2.0, 3.5} {
		if got := NormalCDF(z) + NormalCDF(-z); math.Abs(got-1) > 1e-12 {
			t.Errorf("NormalCDF(%v)+NormalCDF(-%v) = %v, want 1", z, z, got)
		}
	}
	if NormalCDF(4) <= NormalCDF(1) {
		t.Error("NormalCDF not increasing")
	}
}

func TestBlackScholesAtTheMoney(t *testing.T) {
	// ATM with r=0: call and put carry the same value.
	call := BlackScholes(100, 100, 0.25, true)
	put := BlackScholes(100, 100, 0.25, false)
	if math.Abs(call-put) > 1e-9 {
		t.Errorf("ATM call %v != put %v", call, put)
	}
	if call <= 0 {
		t.Errorf("ATM call = %v, want positive", call)
	}
}

func TestBlackScholesIntrinsicFloor(t *testing.T) {
	// Deep ITM call converges to intrinsic value; the rational CDF leaves
	// a sub-cent residue.
	price := BlackScholes(200, 100, 0.1, true)
	if math.Abs(price-100) > 0.5 {
		t.Errorf("deep ITM call = %v, want ~100", price)
	}
	// Deep OTM call decays toward zero.
	if otm := BlackScholes(50, 100, 0.01, true); otm > 1 {
		t.Errorf("deep OTM call = %v, want near zero", otm)
	}
}

func TestUtilization(t *testing.T) {
	tests := []struct {
		locked, owned uint64
		wantBps       uint64
	}{
		{0, 1000, 0},
		{100, 1000, 1000},
		{500, 1000, 5000},
		{1000, 1000, 10_000},
		{2000, 1000, 10_000}, // over-locked clamps
		{500, 0, 0},          // empty pool
	}
	for _, tt := range tests {
		if got := Utilization(tt.locked, tt.owned).Bps(); got != tt.wantBps {
			t.Errorf("Utilization(%d, %d) = %d bps, want %d", tt.locked, tt.owned, got, tt.wantBps)
		}
	}
}

func TestBorrowRatePerClass(t *testing.T) {
	e, err := NewEngine(DefaultParams())
	if err != nil {
		t.Fatal(err)
	}

	// At zero utilization each class charges its base rate.
	vol, err := e.BorrowRate(0, 1000, AssetVolatile)
	if err != nil {
		t.Fatal(err)
	}
	if vol.Bps() != 300 {
		t.Errorf("volatile base rate = %d bps, want 300", vol.Bps())
	}
	stable, err := e.BorrowRate(0, 1000, AssetStable)
	if err != nil {
		t.Fatal(err)
	}
	if stable.Bps() != 100 {
		t.Errorf("stable base rate = %d bps, want 100", stable.Bps())
	}

	// At the optimal knot the volatile curve charges its optimal rate.
	opt, err := e.BorrowRate(800, 1000, AssetVolatile)
	if err != nil {
		t.Fatal(err)
	}
	if opt.Bps() != 1200 {
		t.Errorf("volatile optimal rate = %d bps, want 1200", opt.Bps())
	}
}

func TestBlackScholesWithBorrowRateGuards(t *testing.T) {
	e, err := NewEngine(DefaultParams())
	if err != nil {
		t.Fatal(err)
	}

	for _, tt := range []struct{ s, k, tm float64 }{
		{0, 100, 0.1},
		{100, 0, 0.1},
		{100, 100, 0},
		{-1, 100, 0.1},
	} {
		if _, err := e.BlackScholesWithBorrowRate(tt.s, tt.k, tt.tm, true, 0, 1000, AssetVolatile); !errors.Is(err, ErrDegenerateInput) {
			t.Errorf("s=%v k=%v t=%v: got %v, want ErrDegenerateInput", tt.s, tt.k, tt.tm, err)
		}
	}

	got, err := e.BlackScholesWithBorrowRate(100, 100, 0.25, true, 500, 1000, AssetVolatile)
	if err != nil {
		t.Fatal(err)
	}
	if got <= 0 {
		t.Errorf("price = %v, want positive", got)
	}
}

func TestNewEngineRejectsBadParams(t *testing.T) {
	p := DefaultParams()
	p.VolatileVolatility = 0
	if _, err := NewEngine(p); !errors.Is(err, ErrDegenerateInput) {
		t.Errorf("zero volatility: got %v, want ErrDegenerateInput", err)
	}

	// Optimal utilization 0 is not a collision: the curve collapses into a
	// two-point line from the optimal rate at idle to the max rate at full.
	p = DefaultParams()
	p.StableCurve.OptimalUtilizationPct = 0
	e, err := NewEngine(p)
	if err != nil {
		t.Fatalf("two-point curve rejected: %v", err)
	}
	rate, err := e.BorrowRate(0, 1000, AssetStable)
	if err != nil {
		t.Fatal(err)
	}
	if want := uint64(p.StableCurve.OptimalRatePct) * 100; rate.Bps() != want {
		t.Errorf("idle rate = %d bps, want %d", rate.Bps(), want)
	}
	rate, err = e.BorrowRate(1000, 1000, AssetStable)
	if err != nil {
		t.Fatal(err)
	}
	if want := uint64(p.StableCurve.MaxRatePct) * 100; rate.Bps() != want {
		t.Errorf("full rate = %d bps, want %d", rate.Bps(), want)
	}
}

func TestBorrowRateFeedsFraction(t *testing.T) {
	e, err := NewEngine(DefaultParams())
	if err != nil {
		t.Fatal(err)
	}
	rate, err := e.BorrowRate(1000, 1000, AssetVolatile)
	if err != nil {
		t.Fatal(err)
	}
	if rate.Bps() != uint64(6000) {
		t.Errorf("max utilization rate = %d bps, want 6000", rate.Bps())
	}
	if math.Abs(rate.Float()-0.6) > 1e-12 {
		t.Errorf("rate.Float() = %v, want 0.6", rate.Float())
	}
	_ = fpmath.FractionFromBps(uint32(rate.Bps())) // round-trips through bps
}
