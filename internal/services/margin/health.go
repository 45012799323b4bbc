// Package margin values margin accounts: it computes health scores, sorts
// positions into collateral and loans, and sizes repayments.
//
// All valuation is done on integer base units. A token amount is converted to
// USDC base units as amount * price / 10^decimals, where price is the USD
// price in PricePrecision fixed point, so the result is already in the quote
// currency's base units.
package margin

import (
	"fmt"
	"math"

	"github.com/holiman/uint256"

	"github.com/archon-research/stl/auto-repay/internal/domain/entity"
)

// Params selects how an account is valued.
type Params struct {
	// Category selects the weight set. The zero value is Maintenance.
	Category entity.MarginCategory

	// LiquidationBuffer is added to every liability weight and perp margin
	// ratio, in WeightPrecision units. A non-zero buffer implies strict pricing.
	LiquidationBuffer uint32

	// Strict values assets at min(spot, twap) and liabilities at max(spot, twap).
	Strict bool
}

func (p Params) strict() bool {
	return p.Strict || p.LiquidationBuffer > 0
}

// ComputeHealth returns the account's health score and the weighted totals it
// was derived from. It fails only when a non-zero position has no asset
// definition or price.
func ComputeHealth(account *entity.Account, prices entity.PriceTable, registry *entity.AssetRegistry, params Params) (entity.HealthResult, error) {
	collateral, requirement, err := WeightedTotals(account, prices, registry, params)
	if err != nil {
		return entity.HealthResult{}, err
	}

	return entity.HealthResult{
		Score:                  Score(account.IsBeingLiquidated(), collateral, requirement),
		WeightedAssetValue:     collateral,
		WeightedLiabilityValue: requirement,
	}, nil
}

// Score maps weighted collateral and margin requirement to 0..100.
func Score(beingLiquidated bool, collateral, requirement int64) int {
	if beingLiquidated {
		return 0
	}
	if requirement == 0 && collateral >= 0 {
		return 100
	}
	if collateral <= 0 {
		return 0
	}
	health := (1 - float64(requirement)/float64(collateral)) * 100
	return int(math.Round(math.Min(100, math.Max(0, health))))
}

// WeightedTotals returns the account's weighted collateral (which may be
// negative once unrealized perp losses are included) and its margin
// requirement, both in USDC base units.
func WeightedTotals(account *entity.Account, prices entity.PriceTable, registry *entity.AssetRegistry, params Params) (collateral, requirement int64, err error) {
	strict := params.strict()

	var assets, liabilities uint64
	var netQuote int64

	for _, pos := range account.Positions {
		if pos.Balance == 0 {
			continue
		}
		asset, ok := registry.Get(pos.MarketIndex)
		if !ok {
			return 0, 0, fmt.Errorf("unknown market %d", pos.MarketIndex)
		}
		price, err := prices.Get(pos.MarketIndex)
		if err != nil {
			return 0, 0, err
		}

		if pos.Balance > 0 {
			value := TokenValue(uint64(pos.Balance), entity.PriceToFixed(price.AssetPrice(strict)), asset.Decimals)
			weighted := ApplyWeight(value, assetWeight(asset, params.Category, account.MaxMarginRatio))
			if asset.MarketIndex == entity.QuoteMarketIndex {
				netQuote += int64(weighted)
			} else {
				assets += weighted
			}
			continue
		}

		value := TokenValue(absUint(pos.Balance), entity.PriceToFixed(price.LiabilityPrice(strict)), asset.Decimals)
		weight := liabilityWeight(asset, params.Category, account.MaxMarginRatio) + params.LiquidationBuffer
		weighted := ApplyWeight(value, weight)
		if asset.MarketIndex == entity.QuoteMarketIndex {
			netQuote -= int64(weighted)
		} else {
			liabilities += weighted
		}
	}

	var unrealizedPnL int64
	for _, perp := range account.Perps {
		if perp.BaseAssetAmount == 0 && perp.QuoteAssetAmount == 0 {
			continue
		}
		price, err := prices.Get(perp.OracleMarket)
		if err != nil {
			return 0, 0, fmt.Errorf("perp market %d: %w", perp.MarketIndex, err)
		}

		notional := mulDiv(absUint(perp.BaseAssetAmount), entity.PriceToFixed(price.Spot), entity.PerpPrecision)
		pnl := perp.QuoteAssetAmount
		if perp.BaseAssetAmount > 0 {
			pnl += int64(notional)
		} else {
			pnl -= int64(notional)
		}
		if pnl > 0 {
			pnl = int64(ApplyWeight(uint64(pnl), perp.UnrealizedAssetWeight))
		}
		unrealizedPnL += pnl

		ratio := perp.MarginRatio(params.Category) + params.LiquidationBuffer
		liabilities += ApplyWeight(notional, ratio)
	}

	if netQuote > 0 {
		assets += uint64(netQuote)
	} else {
		liabilities += uint64(-netQuote)
	}

	return int64(assets) + unrealizedPnL, int64(liabilities), nil
}

// assetWeight applies the account's custom margin ratio, which only tightens
// initial-margin weights of non-quote markets.
func assetWeight(asset *entity.Asset, category entity.MarginCategory, maxMarginRatio uint32) uint32 {
	w := asset.AssetWeight(category)
	if category == entity.MarginInitial && asset.MarketIndex != entity.QuoteMarketIndex {
		var custom uint32
		if maxMarginRatio < entity.WeightPrecision {
			custom = entity.WeightPrecision - maxMarginRatio
		}
		w = min(w, custom)
	}
	return w
}

func liabilityWeight(asset *entity.Asset, category entity.MarginCategory, maxMarginRatio uint32) uint32 {
	w := asset.LiabilityWeight(category)
	if category == entity.MarginInitial && asset.MarketIndex != entity.QuoteMarketIndex {
		w = max(w, entity.WeightPrecision+maxMarginRatio)
	}
	return w
}

// TokenValue converts a token amount to USDC base units given a
// PricePrecision fixed-point price.
func TokenValue(amount, price uint64, decimals uint8) uint64 {
	return mulDiv(amount, price, entity.Pow10(decimals))
}

// TokenAmount converts a USDC base-unit value to base units of a token with
// the given decimals, rounding down.
func TokenAmount(value, price uint64, decimals uint8) uint64 {
	return mulDiv(value, entity.Pow10(decimals), price)
}

// ApplyWeight scales value by a WeightPrecision weight, or by basis points
// since the two share a scale.
func ApplyWeight(value uint64, weight uint32) uint64 {
	return mulDiv(value, uint64(weight), entity.WeightPrecision)
}

// mulDiv returns x*y/d without intermediate overflow, saturating at MaxInt64.
func mulDiv(x, y, d uint64) uint64 {
	if d == 0 {
		return 0
	}
	z := new(uint256.Int).Mul(uint256.NewInt(x), uint256.NewInt(y))
	z.Div(z, uint256.NewInt(d))
	if !z.IsUint64() || z.Uint64() > math.MaxInt64 {
		return math.MaxInt64
	}
	return z.Uint64()
}

func absUint(v int64) uint64 {
	if v < 0 {
		return uint64(-v)
	}
	return uint64(v)
}
