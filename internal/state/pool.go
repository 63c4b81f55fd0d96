package state

import (
	"fmt"

	"github.com/Aurora0917/olive-sc-sub000/internal/oracle"
	"github.com/Aurora0917/olive-sc-sub000/internal/pricing"

	fpmath "github.com/Aurora0917/olive-sc-sub000/internal/math"
)

// SecondsPerYear matches the 365.25-day year the rate math uses.
const SecondsPerYear = 365.25 * 24 * 3600

// CumulativeRateScale is the extra precision carried by the pool's cumulative
// interest counters: micro-bps, so short accrual intervals don't truncate
// to zero.
const CumulativeRateScale uint64 = 1_000_000

// Custody tracks one asset's holdings inside a pool.
type Custody struct {
	Asset    oracle.AssetID
	Decimals uint8
	Class    pricing.AssetClass

	// TokenOwned is everything deposited; TokenLocked is the slice reserved
	// as backing for open positions and options.
	TokenOwned  uint64
	TokenLocked uint64
}

// AvailableLiquidity is owned minus locked.
func (c *Custody) AvailableLiquidity() uint64 {
	if c.TokenLocked >= c.TokenOwned {
		return 0
	}
	return c.TokenOwned - c.TokenLocked
}

// LockFunds reserves backing liquidity, failing when the pool would be
// over-committed.
func (c *Custody) LockFunds(amount uint64) error {
	locked, err := fpmath.CheckedAdd(c.TokenLocked, amount)
	if err != nil {
		return err
	}
	if c.TokenOwned < locked {
		return fmt.Errorf("insufficient pool liquidity: owned=%d locked=%d", c.TokenOwned, locked)
	}
	c.TokenLocked = locked
	return nil
}

// UnlockFunds releases backing liquidity, clamping at zero.
func (c *Custody) UnlockFunds(amount uint64) {
	if amount > c.TokenLocked {
		c.TokenLocked = 0
		return
	}
	c.TokenLocked -= amount
}

// AddOwned credits deposits/premiums into the custody.
func (c *Custody) AddOwned(amount uint64) error {
	owned, err := fpmath.CheckedAdd(c.TokenOwned, amount)
	if err != nil {
		return err
	}
	c.TokenOwned = owned
	return nil
}

// RemoveOwned debits withdrawals/settlements out of the custody.
func (c *Custody) RemoveOwned(amount uint64) error {
	owned, err := fpmath.CheckedSub(c.TokenOwned, amount)
	if err != nil {
		return fmt.Errorf("pool balance: %w", err)
	}
	c.TokenOwned = owned
	return nil
}

// Pool is the shared-liquidity state a transition reads and writes: custody
// balances, cumulative funding/interest counters, and open-interest totals.
// The caller serializes access per pool; the engine assumes exclusive use.
type Pool struct {
	Name string

	Underlying *Custody // e.g. SOL
	Stable     *Custody // e.g. USDC

	// Cumulative interest counters in micro-bps, one per side since longs
	// borrow the underlying and shorts borrow the stable. Positions snapshot
	// these at execution and pay the delta.
	CumulativeInterestRateLong  uint64
	CumulativeInterestRateShort uint64
	LastRateUpdateTime          int64

	LongOpenInterestUSD  uint64
	ShortOpenInterestUSD uint64
}

// CustodyFor returns the custody backing a side: longs are backed by the
// underlying, shorts by the stable.
func (p *Pool) CustodyFor(side Side) *Custody {
	if side == SideLong {
		return p.Underlying
	}
	return p.Stable
}

// CustodyForAsset resolves a custody by asset id.
func (p *Pool) CustodyForAsset(asset oracle.AssetID) (*Custody, error) {
	switch asset {
	case p.Underlying.Asset:
		return p.Underlying, nil
	case p.Stable.Asset:
		return p.Stable, nil
	default:
		return nil, fmt.Errorf("unknown custody asset %q in pool %q", asset, p.Name)
	}
}

// UpdateRates folds elapsed time into both cumulative interest counters at
// the current utilization-derived borrow rates.
func (p *Pool) UpdateRates(now int64, engine *pricing.Engine) error {
	if p.LastRateUpdateTime == 0 {
		p.LastRateUpdateTime = now
		return nil
	}
	elapsed := now - p.LastRateUpdateTime
	if elapsed <= 0 {
		return nil
	}

	longRate, err := engine.BorrowRate(p.Underlying.TokenLocked, p.Underlying.TokenOwned, p.Underlying.Class)
	if err != nil {
		return fmt.Errorf("long rate: %w", err)
	}
	shortRate, err := engine.BorrowRate(p.Stable.TokenLocked, p.Stable.TokenOwned, p.Stable.Class)
	if err != nil {
		return fmt.Errorf("short rate: %w", err)
	}

	p.CumulativeInterestRateLong += accrue(longRate, elapsed)
	p.CumulativeInterestRateShort += accrue(shortRate, elapsed)
	p.LastRateUpdateTime = now
	return nil
}

// accrue converts an annualized bps rate and an elapsed interval into
// micro-bps of cumulative interest.
func accrue(rate fpmath.Fraction, elapsedSeconds int64) uint64 {
	num := rate.Bps() * CumulativeRateScale
	return uint64(float64(num) * float64(elapsedSeconds) / SecondsPerYear)
}

// CumulativeInterest returns the side's current counter.
func (p *Pool) CumulativeInterest(side Side) uint64 {
	if side == SideLong {
		return p.CumulativeInterestRateLong
	}
	return p.CumulativeInterestRateShort
}

// InterestPayment computes the borrow cost owed on borrowSizeUSD since the
// position's snapshot of the side's cumulative counter.
func (p *Pool) InterestPayment(borrowSizeUSD uint64, snapshot uint64, side Side) (uint64, error) {
	cum := p.CumulativeInterest(side)
	if cum <= snapshot {
		return 0, nil
	}
	delta := cum - snapshot
	return fpmath.MulDivU(borrowSizeUSD, delta, uint64(fpmath.FullBPS)*CumulativeRateScale)
}

// AddOpenInterest grows the side's open-interest total.
func (p *Pool) AddOpenInterest(side Side, sizeUSD uint64) error {
	if side == SideLong {
		v, err := fpmath.CheckedAdd(p.LongOpenInterestUSD, sizeUSD)
		if err != nil {
			return err
		}
		p.LongOpenInterestUSD = v
		return nil
	}
	v, err := fpmath.CheckedAdd(p.ShortOpenInterestUSD, sizeUSD)
	if err != nil {
		return err
	}
	p.ShortOpenInterestUSD = v
	return nil
}

// RemoveOpenInterest shrinks the side's open-interest total.
func (p *Pool) RemoveOpenInterest(side Side, sizeUSD uint64) error {
	if side == SideLong {
		v, err := fpmath.CheckedSub(p.LongOpenInterestUSD, sizeUSD)
		if err != nil {
			return err
		}
		p.LongOpenInterestUSD = v
		return nil
	}
	v, err := fpmath.CheckedSub(p.ShortOpenInterestUSD, sizeUSD)
	if err != nil {
		return err
	}
	p.ShortOpenInterestUSD = v
	return nil
}
