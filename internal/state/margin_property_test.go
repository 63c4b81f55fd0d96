package state

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

// The liquidation price always sits on the losing side of entry: below for
// longs, above for shorts, and touching it fires the price trigger.
func TestPropertyLiquidationPriceOrdering(t *testing.T) {
	properties := gopter.NewProperties(propertyParams())

	properties.Property("long liq below entry, short liq above", prop.ForAll(
		func(entry uint64, mmBps uint32) bool {
			longLiq, err := PerpLiquidationPrice(entry, mmBps, SideLong)
			if err != nil {
				return false
			}
			shortLiq, err := PerpLiquidationPrice(entry, mmBps, SideShort)
			if err != nil {
				return false
			}
			if longLiq >= entry || shortLiq <= entry {
				return false
			}
			// Touching the liquidation price triggers; sitting at entry
			// does not.
			if !PriceTriggered(longLiq, longLiq, SideLong) ||
				!PriceTriggered(shortLiq, shortLiq, SideShort) {
				return false
			}
			return !PriceTriggered(longLiq, entry, SideLong) &&
				!PriceTriggered(shortLiq, entry, SideShort)
		},
		gen.UInt64Range(1_000_000, 1_000_000_000_000),
		gen.UInt32Range(1, 9_999),
	))

	properties.TestingRun(t)
}

// A long and a short with identical entry, size, and mark carry exactly
// opposite unrealized pnl.
func TestPropertyPnLAntisymmetry(t *testing.T) {
	properties := gopter.NewProperties(propertyParams())

	properties.Property("long pnl mirrors short pnl", prop.ForAll(
		func(entry, mark, size uint64) bool {
			long := &Position{Side: SideLong, Price: entry, SizeUSD: size}
			short := &Position{Side: SideShort, Price: entry, SizeUSD: size}
			longPnl, err := long.PnLUSD(mark)
			if err != nil {
				return false
			}
			shortPnl, err := short.PnLUSD(mark)
			if err != nil {
				return false
			}
			return longPnl == -shortPnl
		},
		gen.UInt64Range(1_000_000, 1_000_000_000_000),
		gen.UInt64Range(1_000_000, 1_000_000_000_000),
		gen.UInt64Range(1, 1_000_000_000_000),
	))

	properties.TestingRun(t)
}

// Equity never goes negative and a position at or past its liquidation
// price is always flagged liquidatable.
func TestPropertyLiquidatableAtLiquidationPrice(t *testing.T) {
	properties := gopter.NewProperties(propertyParams())

	properties.Property("price trigger implies liquidatable", prop.ForAll(
		func(entry uint64, mmBps uint32, size uint64) bool {
			for _, side := range []Side{SideLong, SideShort} {
				liq, err := PerpLiquidationPrice(entry, mmBps, side)
				if err != nil {
					return false
				}
				p := &Position{
					Side:                 side,
					Price:                entry,
					SizeUSD:              size,
					CollateralUSD:        size / 10,
					LiquidationPrice:     liq,
					MaintenanceMarginBps: mmBps,
				}
				equity, err := p.EquityUSD(liq)
				if err != nil {
					return false
				}
				_ = equity // EquityUSD floors at zero; an error is the only failure.
				ok, err := IsLiquidatable(p, liq)
				if err != nil || !ok {
					return false
				}
			}
			return true
		},
		gen.UInt64Range(1_000_000, 1_000_000_000_000),
		gen.UInt32Range(1, 9_999),
		gen.UInt64Range(10, 1_000_000_000_000),
	))

	properties.TestingRun(t)
}
