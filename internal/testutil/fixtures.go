// Package testutil provides fixtures and hand-written port mocks shared by
// service tests.
package testutil

import (
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/archon-research/stl/auto-repay/internal/domain/entity"
)

// Mints used by the fixture registry.
var (
	USDCMint = solana.MustPublicKeyFromBase58("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v")
	WBTCMint = solana.MustPublicKeyFromBase58("3NZ9JMVBmGAqocybic2c7LQCJScmgsAZ6vQqTDzcqmJh")
	USDTMint = solana.MustPublicKeyFromBase58("Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB")
)

// Market indices of the fixture registry beyond USDC and SOL.
const (
	MarketWBTC entity.MarketIndex = 3
	MarketUSDT entity.MarketIndex = 5
)

// Registry returns a registry with USDC, SOL, WBTC and USDT.
//
// SOL and WBTC have asset weights 0.8/0.9 and liability weights 1.2/1.1
// (initial/maintenance). USDC and USDT are weighted 1.
func Registry(t testing.TB) *entity.AssetRegistry {
	t.Helper()

	specs := []entity.Asset{
		stable(entity.MarketIndexUSDC, "USDC", USDCMint),
		volatile(entity.MarketIndexSOL, "SOL", solana.SolMint, 9),
		volatile(MarketWBTC, "WBTC", WBTCMint, 8),
		stable(MarketUSDT, "USDT", USDTMint),
	}

	assets := make([]*entity.Asset, 0, len(specs))
	for _, def := range specs {
		a, err := entity.NewAsset(def)
		if err != nil {
			t.Fatalf("fixture asset %s: %v", def.Symbol, err)
		}
		assets = append(assets, a)
	}

	registry, err := entity.NewAssetRegistry(assets)
	if err != nil {
		t.Fatalf("fixture registry: %v", err)
	}
	return registry
}

func stable(index entity.MarketIndex, symbol string, mint solana.PublicKey) entity.Asset {
	return entity.Asset{
		MarketIndex:                index,
		Symbol:                     symbol,
		Mint:                       mint,
		Decimals:                   6,
		InitialAssetWeight:         10000,
		MaintenanceAssetWeight:     10000,
		InitialLiabilityWeight:     10000,
		MaintenanceLiabilityWeight: 10000,
	}
}

func volatile(index entity.MarketIndex, symbol string, mint solana.PublicKey, decimals uint8) entity.Asset {
	return entity.Asset{
		MarketIndex:                index,
		Symbol:                     symbol,
		Mint:                       mint,
		Decimals:                   decimals,
		InitialAssetWeight:         8000,
		MaintenanceAssetWeight:     9000,
		InitialLiabilityWeight:     12000,
		MaintenanceLiabilityWeight: 11000,
	}
}

// Prices returns a table with SOL at sol, WBTC at btc and both stables at 1.
func Prices(sol, btc float64) entity.PriceTable {
	now := time.Now()
	return entity.PriceTable{
		entity.MarketIndexUSDC: {Spot: 1, Source: "test", Timestamp: now},
		entity.MarketIndexSOL:  {Spot: sol, Source: "test", Timestamp: now},
		MarketWBTC:             {Spot: btc, Source: "test", Timestamp: now},
		MarketUSDT:             {Spot: 1, Source: "test", Timestamp: now},
	}
}

// NewOwner returns a fresh random owner key.
func NewOwner(t testing.TB) solana.PublicKey {
	t.Helper()
	return solana.NewWallet().PublicKey()
}

// Account builds an account for owner with a random vault.
func Account(t testing.TB, owner solana.PublicKey, positions ...entity.Position) *entity.Account {
	t.Helper()
	a, err := entity.NewAccount(owner, solana.NewWallet().PublicKey(), positions)
	if err != nil {
		t.Fatalf("fixture account: %v", err)
	}
	return a
}
