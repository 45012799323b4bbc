package margin

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/archon-research/stl/auto-repay/internal/domain/entity"
)

// SortPositions values every non-zero position at spot and splits them into
// collateral and loans, each ordered largest first. Ties are broken by
// ascending market index so the order is deterministic.
func SortPositions(positions []entity.Position, prices entity.PriceTable, registry *entity.AssetRegistry) (entity.SortedPositions, error) {
	var sorted entity.SortedPositions

	for _, pos := range positions {
		if pos.Balance == 0 {
			continue
		}
		asset, ok := registry.Get(pos.MarketIndex)
		if !ok {
			return entity.SortedPositions{}, fmt.Errorf("unknown market %d", pos.MarketIndex)
		}
		price, err := prices.Get(pos.MarketIndex)
		if err != nil {
			return entity.SortedPositions{}, err
		}

		value := int64(TokenValue(absUint(pos.Balance), entity.PriceToFixed(price.Spot), asset.Decimals))
		// Dust still has to land on the right side.
		if value == 0 {
			value = 1
		}

		if pos.Balance > 0 {
			sorted.Collateral = append(sorted.Collateral, entity.ValuedPosition{MarketIndex: pos.MarketIndex, Value: value})
		} else {
			sorted.Loans = append(sorted.Loans, entity.ValuedPosition{MarketIndex: pos.MarketIndex, Value: -value})
		}
	}

	slices.SortStableFunc(sorted.Collateral, byValueDesc)
	slices.SortStableFunc(sorted.Loans, byValueDesc)

	return sorted, nil
}

func byValueDesc(a, b entity.ValuedPosition) int {
	if c := cmp.Compare(b.AbsValue(), a.AbsValue()); c != 0 {
		return c
	}
	return cmp.Compare(a.MarketIndex, b.MarketIndex)
}
