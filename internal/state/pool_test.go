package state

import (
	"testing"

	"github.com/Aurora0917/olive-sc-sub000/internal/oracle"
	"github.com/Aurora0917/olive-sc-sub000/internal/pricing"
)

func newTestPool(t *testing.T) *Pool {
	t.Helper()
	return &Pool{
		Name: "SOL-USDC",
		Underlying: &Custody{
			Asset:      oracle.AssetSOL,
			Decimals:   9,
			Class:      pricing.AssetVolatile,
			TokenOwned: 1_000_000_000_000, // 1000 SOL
		},
		Stable: &Custody{
			Asset:      oracle.AssetUSDC,
			Decimals:   6,
			Class:      pricing.AssetStable,
			TokenOwned: 100_000_000_000, // 100k USDC
		},
	}
}

func TestCustodyLockUnlock(t *testing.T) {
	c := &Custody{TokenOwned: 1000}

	if err := c.LockFunds(600); err != nil {
		t.Fatal(err)
	}
	if c.AvailableLiquidity() != 400 {
		t.Errorf("available = %d, want 400", c.AvailableLiquidity())
	}
	if err := c.LockFunds(500); err == nil {
		t.Error("locking beyond owned should fail")
	}
	c.UnlockFunds(600)
	if c.TokenLocked != 0 {
		t.Errorf("locked = %d, want 0", c.TokenLocked)
	}
	// Unlock clamps rather than underflowing.
	c.UnlockFunds(1)
	if c.TokenLocked != 0 {
		t.Errorf("locked = %d after over-unlock, want 0", c.TokenLocked)
	}
}

func TestCustodyOwnedBalance(t *testing.T) {
	c := &Custody{TokenOwned: 1000}
	if err := c.AddOwned(500); err != nil {
		t.Fatal(err)
	}
	if err := c.RemoveOwned(1500); err != nil {
		t.Fatal(err)
	}
	if c.TokenOwned != 0 {
		t.Errorf("owned = %d, want 0", c.TokenOwned)
	}
	if err := c.RemoveOwned(1); err == nil {
		t.Error("removing beyond owned should fail")
	}
}

func TestPoolCustodyFor(t *testing.T) {
	p := newTestPool(t)
	if p.CustodyFor(SideLong) != p.Underlying {
		t.Error("longs borrow the underlying")
	}
	if p.CustodyFor(SideShort) != p.Stable {
		t.Error("shorts borrow the stable")
	}

	c, err := p.CustodyForAsset(oracle.AssetSOL)
	if err != nil || c != p.Underlying {
		t.Errorf("CustodyForAsset(SOL) = %v, %v", c, err)
	}
	if _, err := p.CustodyForAsset(oracle.AssetID("BTC")); err == nil {
		t.Error("unknown asset should fail")
	}
}

func TestUpdateRatesAccrues(t *testing.T) {
	engine, err := pricing.NewEngine(pricing.DefaultParams())
	if err != nil {
		t.Fatal(err)
	}
	p := newTestPool(t)
	// 50% utilization on both sides.
	p.Underlying.TokenLocked = 500_000_000_000
	p.Stable.TokenLocked = 50_000_000_000

	// First call only seeds the clock.
	if err := p.UpdateRates(1_000_000, engine); err != nil {
		t.Fatal(err)
	}
	if p.CumulativeInterestRateLong != 0 {
		t.Error("seeding call must not accrue")
	}

	// A 30-day interval accrues a positive amount on both sides, more on
	// the volatile side whose curve is steeper.
	if err := p.UpdateRates(1_000_000+30*24*3600, engine); err != nil {
		t.Fatal(err)
	}
	if p.CumulativeInterestRateLong == 0 || p.CumulativeInterestRateShort == 0 {
		t.Fatal("expected accrual on both sides")
	}
	if p.CumulativeInterestRateLong <= p.CumulativeInterestRateShort {
		t.Errorf("volatile side accrual %d should exceed stable side %d",
			p.CumulativeInterestRateLong, p.CumulativeInterestRateShort)
	}

	// Stale timestamp is a no-op, not a negative accrual.
	before := p.CumulativeInterestRateLong
	if err := p.UpdateRates(1_000_000, engine); err != nil {
		t.Fatal(err)
	}
	if p.CumulativeInterestRateLong != before {
		t.Error("backwards clock must not change the counter")
	}
}

func TestInterestPayment(t *testing.T) {
	p := newTestPool(t)
	p.CumulativeInterestRateLong = 300 * CumulativeRateScale // 3% accrued

	// Snapshot taken at 1% accrued owes the 2% delta.
	snapshot := uint64(100 * CumulativeRateScale)
	payment, err := p.InterestPayment(1_000_000000, snapshot, SideLong)
	if err != nil {
		t.Fatal(err)
	}
	if payment != 20_000000 {
		t.Errorf("payment = %d, want 20 USD on 1000 USD at 2%%", payment)
	}

	// Snapshot at or ahead of the counter owes nothing.
	payment, err = p.InterestPayment(1_000_000000, p.CumulativeInterestRateLong, SideLong)
	if err != nil {
		t.Fatal(err)
	}
	if payment != 0 {
		t.Errorf("payment = %d, want 0", payment)
	}
}

func TestOpenInterestTracking(t *testing.T) {
	p := newTestPool(t)
	if err := p.AddOpenInterest(SideLong, 500_000000); err != nil {
		t.Fatal(err)
	}
	if err := p.AddOpenInterest(SideShort, 200_000000); err != nil {
		t.Fatal(err)
	}
	if p.LongOpenInterestUSD != 500_000000 || p.ShortOpenInterestUSD != 200_000000 {
		t.Errorf("open interest = (%d, %d)", p.LongOpenInterestUSD, p.ShortOpenInterestUSD)
	}
	if err := p.RemoveOpenInterest(SideLong, 500_000000); err != nil {
		t.Fatal(err)
	}
	if err := p.RemoveOpenInterest(SideLong, 1); err == nil {
		t.Error("removing more open interest than tracked should fail")
	}
}
