package entity

import (
	"fmt"
	"math"
	"time"
)

// PricePrecision is the fixed-point scale used for oracle prices. It equals
// the USDC base unit scale so that a token value comes out in USDC base units.
const PricePrecision = 1_000_000

// OraclePrice is the USD price of one whole token.
type OraclePrice struct {
	Spot float64
	// TWAP5Min is the short time-weighted average used for strict pricing.
	// Zero means unknown and falls back to Spot.
	TWAP5Min  float64
	Source    string
	Timestamp time.Time
}

// Valid reports whether the spot price is usable.
func (p OraclePrice) Valid() bool {
	return p.Spot > 0 && !math.IsNaN(p.Spot) && !math.IsInf(p.Spot, 0)
}

// twap returns the TWAP, or the spot price when the TWAP is unknown.
func (p OraclePrice) twap() float64 {
	if p.TWAP5Min > 0 {
		return p.TWAP5Min
	}
	return p.Spot
}

// AssetPrice returns the price used to value a deposit. Strict pricing takes
// the lower of spot and TWAP.
func (p OraclePrice) AssetPrice(strict bool) float64 {
	if strict {
		return math.Min(p.Spot, p.twap())
	}
	return p.Spot
}

// LiabilityPrice returns the price used to value a borrow. Strict pricing
// takes the higher of spot and TWAP.
func (p OraclePrice) LiabilityPrice(strict bool) float64 {
	if strict {
		return math.Max(p.Spot, p.twap())
	}
	return p.Spot
}

// PriceToFixed converts a USD price to PricePrecision fixed point.
func PriceToFixed(price float64) uint64 {
	if price <= 0 || math.IsNaN(price) {
		return 0
	}
	return uint64(math.Round(price * PricePrecision))
}

// PriceTable maps market indices to prices. It is built once per scan and
// shared read-only.
type PriceTable map[MarketIndex]OraclePrice

// Get returns the price of a market or an error when it is missing.
func (t PriceTable) Get(index MarketIndex) (OraclePrice, error) {
	p, ok := t[index]
	if !ok || !p.Valid() {
		return OraclePrice{}, fmt.Errorf("%w: market %d", ErrPriceUnavailable, index)
	}
	return p, nil
}

// Covers reports whether every index has a valid price.
func (t PriceTable) Covers(indices []MarketIndex) bool {
	for _, idx := range indices {
		if p, ok := t[idx]; !ok || !p.Valid() {
			return false
		}
	}
	return true
}
