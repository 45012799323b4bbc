package entity

import (
	"fmt"
	"sort"

	"github.com/gagliardetto/solana-go"
)

// MarketIndex identifies a spot market of the lending protocol.
type MarketIndex uint16

// Well-known market indices.
const (
	MarketIndexUSDC MarketIndex = 0
	MarketIndexSOL  MarketIndex = 1
)

// QuoteMarketIndex is the market every value is denominated in.
const QuoteMarketIndex = MarketIndexUSDC

// WeightPrecision is the fixed-point scale of asset and liability weights.
const WeightPrecision = 10_000

// Asset is a supported token and its protocol risk parameters.
type Asset struct {
	MarketIndex MarketIndex
	Symbol      string
	Mint        solana.PublicKey
	Decimals    uint8
	PythFeedID  string
	CoinGeckoID string

	// Weights are expressed in WeightPrecision units (10000 = 100%).
	InitialAssetWeight         uint32
	MaintenanceAssetWeight     uint32
	InitialLiabilityWeight     uint32
	MaintenanceLiabilityWeight uint32
}

// NewAsset creates a new Asset with validation.
func NewAsset(a Asset) (*Asset, error) {
	if err := a.validate(); err != nil {
		return nil, fmt.Errorf("asset %q: %w", a.Symbol, err)
	}
	return &a, nil
}

func (a *Asset) validate() error {
	if a.Symbol == "" {
		return fmt.Errorf("symbol must not be empty")
	}
	if a.Mint.IsZero() {
		return fmt.Errorf("mint must not be empty")
	}
	if a.Decimals > 18 {
		return fmt.Errorf("decimals must be at most 18, got %d", a.Decimals)
	}
	if a.InitialAssetWeight > WeightPrecision || a.MaintenanceAssetWeight > WeightPrecision {
		return fmt.Errorf("asset weights must be at most %d", WeightPrecision)
	}
	if a.MaintenanceAssetWeight < a.InitialAssetWeight {
		return fmt.Errorf("maintenance asset weight %d below initial %d", a.MaintenanceAssetWeight, a.InitialAssetWeight)
	}
	if a.InitialLiabilityWeight < WeightPrecision || a.MaintenanceLiabilityWeight < WeightPrecision {
		return fmt.Errorf("liability weights must be at least %d", WeightPrecision)
	}
	if a.MaintenanceLiabilityWeight > a.InitialLiabilityWeight {
		return fmt.Errorf("maintenance liability weight %d above initial %d", a.MaintenanceLiabilityWeight, a.InitialLiabilityWeight)
	}
	return nil
}

// AssetWeight returns the asset weight for the margin category.
func (a *Asset) AssetWeight(category MarginCategory) uint32 {
	if category == MarginInitial {
		return a.InitialAssetWeight
	}
	return a.MaintenanceAssetWeight
}

// LiabilityWeight returns the liability weight for the margin category.
func (a *Asset) LiabilityWeight(category MarginCategory) uint32 {
	if category == MarginInitial {
		return a.InitialLiabilityWeight
	}
	return a.MaintenanceLiabilityWeight
}

// AssetRegistry is the immutable set of supported assets, ordered by market index.
type AssetRegistry struct {
	assets  []*Asset
	byIndex map[MarketIndex]*Asset
	byMint  map[solana.PublicKey]*Asset
}

// NewAssetRegistry builds a registry. The quote market must be present and
// market indices and mints must be unique.
func NewAssetRegistry(assets []*Asset) (*AssetRegistry, error) {
	r := &AssetRegistry{
		byIndex: make(map[MarketIndex]*Asset, len(assets)),
		byMint:  make(map[solana.PublicKey]*Asset, len(assets)),
	}
	for _, a := range assets {
		if a == nil {
			return nil, fmt.Errorf("asset must not be nil")
		}
		if _, ok := r.byIndex[a.MarketIndex]; ok {
			return nil, fmt.Errorf("duplicate market index %d", a.MarketIndex)
		}
		if _, ok := r.byMint[a.Mint]; ok {
			return nil, fmt.Errorf("duplicate mint %s", a.Mint)
		}
		r.byIndex[a.MarketIndex] = a
		r.byMint[a.Mint] = a
		r.assets = append(r.assets, a)
	}
	if _, ok := r.byIndex[QuoteMarketIndex]; !ok {
		return nil, fmt.Errorf("quote market %d is not configured", QuoteMarketIndex)
	}
	sort.Slice(r.assets, func(i, j int) bool { return r.assets[i].MarketIndex < r.assets[j].MarketIndex })
	return r, nil
}

// Get returns the asset for a market index.
func (r *AssetRegistry) Get(index MarketIndex) (*Asset, bool) {
	a, ok := r.byIndex[index]
	return a, ok
}

// ByMint returns the asset with the given mint.
func (r *AssetRegistry) ByMint(mint solana.PublicKey) (*Asset, bool) {
	a, ok := r.byMint[mint]
	return a, ok
}

// All returns every asset ordered by market index.
func (r *AssetRegistry) All() []*Asset {
	out := make([]*Asset, len(r.assets))
	copy(out, r.assets)
	return out
}

// Indices returns every market index in ascending order.
func (r *AssetRegistry) Indices() []MarketIndex {
	out := make([]MarketIndex, len(r.assets))
	for i, a := range r.assets {
		out[i] = a.MarketIndex
	}
	return out
}
