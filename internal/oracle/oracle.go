// Package oracle defines the price-feed boundary. The engine consumes quotes
// as trusted inputs; staleness and confidence checks belong to the provider.
package oracle

import (
	"errors"

	fpmath "github.com/Aurora0917/olive-sc-sub000/internal/math"
)

var ErrStaleOrLowConfidence = errors.New("stale oracle price or confidence too low")

// AssetID names a priced asset.
type AssetID string

const (
	AssetSOL  AssetID = "SOL"
	AssetUSDC AssetID = "USDC"
)

// PriceQuote is a point-in-time oracle price: price * 10^Exponent in USD.
type PriceQuote struct {
	Price    uint64
	Exponent int32
}

// PriceOracle supplies validated quotes. Implementations must reject quotes
// older than maxAgeSeconds or wider than maxConfidenceBps.
type PriceOracle interface {
	GetPrice(asset AssetID, maxAgeSeconds uint64, maxConfidenceBps uint32) (PriceQuote, error)
}

// Float returns the quote in plain USD.
func (q PriceQuote) Float() float64 {
	v := float64(q.Price)
	exp := q.Exponent
	for exp > 0 {
		v *= 10
		exp--
	}
	for exp < 0 {
		v /= 10
		exp++
	}
	return v
}

// Scaled returns the quote at the engine's 6-decimal price scale.
func (q PriceQuote) Scaled() (uint64, error) {
	return fpmath.F64ToScaledPrice(q.Float())
}

// TokensForUSD converts a 6-decimal USD amount to native token units at this
// quote. All settlement conversions run through here so asset paths scale
// symmetrically.
func (q PriceQuote) TokensForUSD(usd uint64, decimals uint8) (uint64, error) {
	price, err := q.Scaled()
	if err != nil {
		return 0, err
	}
	if price == 0 {
		return 0, fpmath.ErrDivisionByZero
	}
	amount6, err := fpmath.MulDivU(usd, uint64(fpmath.PriceScale), price)
	if err != nil {
		return 0, err
	}
	return fpmath.ScaleToDecimals(amount6, decimals)
}

// USDForTokens converts native token units to a 6-decimal USD amount.
func (q PriceQuote) USDForTokens(amount uint64, decimals uint8) (uint64, error) {
	price, err := q.Scaled()
	if err != nil {
		return 0, err
	}
	factor := uint64(1)
	for i := uint8(0); i < decimals; i++ {
		factor *= 10
	}
	return fpmath.MulDivU(amount, price, factor)
}

// StaticOracle is a fixed-price oracle for wiring and tests.
type StaticOracle struct {
	Quotes map[AssetID]PriceQuote
}

// GetPrice returns the stored quote, or ErrStaleOrLowConfidence for unknown
// assets.
func (o *StaticOracle) GetPrice(asset AssetID, _ uint64, _ uint32) (PriceQuote, error) {
	q, ok := o.Quotes[asset]
	if !ok {
		return PriceQuote{}, ErrStaleOrLowConfidence
	}
	return q, nil
}
