package entity

import (
	"strings"
	"testing"

	"github.com/gagliardetto/solana-go"
)

var testUSDCMint = solana.MustPublicKeyFromBase58("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v")

func validAsset() Asset {
	return Asset{
		MarketIndex:                MarketIndexSOL,
		Symbol:                     "SOL",
		Mint:                       solana.SolMint,
		Decimals:                   9,
		InitialAssetWeight:         8000,
		MaintenanceAssetWeight:     9000,
		InitialLiabilityWeight:     12000,
		MaintenanceLiabilityWeight: 11000,
	}
}

func TestNewAsset(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(a *Asset)
		wantErr     bool
		errContains string
	}{
		{
			name:   "valid asset",
			mutate: func(a *Asset) {},
		},
		{
			name:        "empty symbol",
			mutate:      func(a *Asset) { a.Symbol = "" },
			wantErr:     true,
			errContains: "symbol must not be empty",
		},
		{
			name:        "zero mint",
			mutate:      func(a *Asset) { a.Mint = solana.PublicKey{} },
			wantErr:     true,
			errContains: "mint must not be empty",
		},
		{
			name:        "too many decimals",
			mutate:      func(a *Asset) { a.Decimals = 19 },
			wantErr:     true,
			errContains: "decimals must be at most 18",
		},
		{
			name:        "asset weight above precision",
			mutate:      func(a *Asset) { a.MaintenanceAssetWeight = 10001 },
			wantErr:     true,
			errContains: "asset weights must be at most",
		},
		{
			name:        "maintenance asset weight below initial",
			mutate:      func(a *Asset) { a.MaintenanceAssetWeight = 7000 },
			wantErr:     true,
			errContains: "below initial",
		},
		{
			name:        "liability weight below precision",
			mutate:      func(a *Asset) { a.MaintenanceLiabilityWeight = 9000 },
			wantErr:     true,
			errContains: "liability weights must be at least",
		},
		{
			name:        "maintenance liability weight above initial",
			mutate:      func(a *Asset) { a.MaintenanceLiabilityWeight = 13000 },
			wantErr:     true,
			errContains: "above initial",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := validAsset()
			tt.mutate(&a)
			got, err := NewAsset(a)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				if !strings.Contains(err.Error(), tt.errContains) {
					t.Errorf("error %q does not contain %q", err.Error(), tt.errContains)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.Symbol != a.Symbol {
				t.Errorf("expected symbol %s, got %s", a.Symbol, got.Symbol)
			}
		})
	}
}

func TestAsset_Weights(t *testing.T) {
	a := validAsset()
	if got := a.AssetWeight(MarginInitial); got != 8000 {
		t.Errorf("initial asset weight = %d, want 8000", got)
	}
	if got := a.AssetWeight(MarginMaintenance); got != 9000 {
		t.Errorf("maintenance asset weight = %d, want 9000", got)
	}
	if got := a.LiabilityWeight(MarginInitial); got != 12000 {
		t.Errorf("initial liability weight = %d, want 12000", got)
	}
	if got := a.LiabilityWeight(MarginMaintenance); got != 11000 {
		t.Errorf("maintenance liability weight = %d, want 11000", got)
	}
}

func TestNewAssetRegistry(t *testing.T) {
	sol := validAsset()
	usdc := Asset{
		MarketIndex:                MarketIndexUSDC,
		Symbol:                     "USDC",
		Mint:                       testUSDCMint,
		Decimals:                   6,
		InitialAssetWeight:         10000,
		MaintenanceAssetWeight:     10000,
		InitialLiabilityWeight:     10000,
		MaintenanceLiabilityWeight: 10000,
	}

	t.Run("orders by market index", func(t *testing.T) {
		r, err := NewAssetRegistry([]*Asset{&sol, &usdc})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		indices := r.Indices()
		if len(indices) != 2 || indices[0] != MarketIndexUSDC || indices[1] != MarketIndexSOL {
			t.Errorf("unexpected indices %v", indices)
		}
		if a, ok := r.ByMint(solana.SolMint); !ok || a.Symbol != "SOL" {
			t.Errorf("ByMint(SolMint) = %v, %v", a, ok)
		}
		if _, ok := r.Get(42); ok {
			t.Error("expected unknown market to be missing")
		}
	})

	t.Run("requires quote market", func(t *testing.T) {
		_, err := NewAssetRegistry([]*Asset{&sol})
		if err == nil || !strings.Contains(err.Error(), "quote market") {
			t.Fatalf("expected quote market error, got %v", err)
		}
	})

	t.Run("rejects duplicate index", func(t *testing.T) {
		dup := usdc
		dup.Mint = solana.MustPublicKeyFromBase58("Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB")
		_, err := NewAssetRegistry([]*Asset{&usdc, &dup})
		if err == nil || !strings.Contains(err.Error(), "duplicate market index") {
			t.Fatalf("expected duplicate index error, got %v", err)
		}
	})

	t.Run("rejects duplicate mint", func(t *testing.T) {
		dup := sol
		dup.MarketIndex = 5
		_, err := NewAssetRegistry([]*Asset{&usdc, &sol, &dup})
		if err == nil || !strings.Contains(err.Error(), "duplicate mint") {
			t.Fatalf("expected duplicate mint error, got %v", err)
		}
	})
}
