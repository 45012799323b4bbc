package outbound

import (
	"context"

	"github.com/archon-research/stl/auto-repay/internal/domain/entity"
)

// PriceProvider is a source of current USD prices.
type PriceProvider interface {
	// Name returns the provider name (e.g., "pyth").
	Name() string

	// GetPrices returns prices for the given assets. Assets the provider
	// cannot price are omitted from the table.
	GetPrices(ctx context.Context, assets []*entity.Asset) (entity.PriceTable, error)
}

// PriceSource resolves a complete price table for a scan.
type PriceSource interface {
	GetPrices(ctx context.Context) (entity.PriceTable, error)
}
