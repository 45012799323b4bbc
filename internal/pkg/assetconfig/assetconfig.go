// Package assetconfig loads the static asset registry from YAML.
package assetconfig

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/gagliardetto/solana-go"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/archon-research/stl/auto-repay/internal/domain/entity"
)

//go:embed assets.yaml
var defaultAssets []byte

// File is the top-level YAML document.
type File struct {
	Assets []AssetConfig `yaml:"assets" validate:"required,min=1,dive"`
}

// AssetConfig is one market entry.
type AssetConfig struct {
	MarketIndex uint16  `yaml:"marketIndex"`
	Symbol      string  `yaml:"symbol" validate:"required,alphanum"`
	Mint        string  `yaml:"mint" validate:"required,min=32,max=44"`
	Decimals    uint8   `yaml:"decimals" validate:"lte=18"`
	PythFeedID  string  `yaml:"pythFeedId" validate:"required,hexadecimal"`
	CoinGeckoID string  `yaml:"coingeckoId" validate:"required"`
	Weights     Weights `yaml:"weights"`
}

// Weights are protocol risk weights in 1/10000 units.
type Weights struct {
	InitialAsset         uint32 `yaml:"initialAsset" validate:"lte=10000"`
	MaintenanceAsset     uint32 `yaml:"maintenanceAsset" validate:"lte=10000,gtefield=InitialAsset"`
	InitialLiability     uint32 `yaml:"initialLiability" validate:"gte=10000"`
	MaintenanceLiability uint32 `yaml:"maintenanceLiability" validate:"gte=10000,ltefield=InitialLiability"`
}

// Load reads the registry from path, or the embedded defaults when path is empty.
func Load(path string) (*entity.AssetRegistry, error) {
	if path == "" {
		return Parse(bytes.NewReader(defaultAssets))
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening asset config: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse decodes, validates and converts an asset document.
func Parse(r io.Reader) (*entity.AssetRegistry, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var file File
	if err := dec.Decode(&file); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("asset config is empty")
		}
		return nil, fmt.Errorf("decoding asset config: %w", err)
	}

	if err := validator.New().Struct(file); err != nil {
		return nil, fmt.Errorf("validating asset config: %w", err)
	}

	assets := make([]*entity.Asset, 0, len(file.Assets))
	for _, c := range file.Assets {
		mint, err := solana.PublicKeyFromBase58(c.Mint)
		if err != nil {
			return nil, fmt.Errorf("asset %s: invalid mint %q: %w", c.Symbol, c.Mint, err)
		}
		asset, err := entity.NewAsset(entity.Asset{
			MarketIndex:                entity.MarketIndex(c.MarketIndex),
			Symbol:                     c.Symbol,
			Mint:                       mint,
			Decimals:                   c.Decimals,
			PythFeedID:                 c.PythFeedID,
			CoinGeckoID:                c.CoinGeckoID,
			InitialAssetWeight:         c.Weights.InitialAsset,
			MaintenanceAssetWeight:     c.Weights.MaintenanceAsset,
			InitialLiabilityWeight:     c.Weights.InitialLiability,
			MaintenanceLiabilityWeight: c.Weights.MaintenanceLiability,
		})
		if err != nil {
			return nil, err
		}
		assets = append(assets, asset)
	}

	return entity.NewAssetRegistry(assets)
}
