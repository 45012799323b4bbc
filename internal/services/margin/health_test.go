package margin

import (
	"errors"
	"math"
	"testing"

	"github.com/archon-research/stl/auto-repay/internal/domain/entity"
	"github.com/archon-research/stl/auto-repay/internal/testutil"
)

const usd = 1_000_000

func TestComputeHealth(t *testing.T) {
	registry := testutil.Registry(t)
	owner := testutil.NewOwner(t)

	tests := []struct {
		name      string
		positions []entity.Position
		status    entity.AccountStatus
		params    Params
		maxMargin uint32
		want      int
	}{
		{
			name:      "no liabilities is fully healthy",
			positions: []entity.Position{{MarketIndex: entity.MarketIndexUSDC, Balance: 1000 * usd}},
			want:      100,
		},
		{
			name: "empty account is fully healthy",
			want: 100,
		},
		{
			name: "liability above weighted collateral is zero",
			positions: []entity.Position{
				{MarketIndex: entity.MarketIndexSOL, Balance: 1_000_000_000},
				{MarketIndex: entity.MarketIndexUSDC, Balance: -100 * usd},
			},
			want: 0,
		},
		{
			name: "maintenance weights",
			positions: []entity.Position{
				{MarketIndex: entity.MarketIndexSOL, Balance: 10_000_000_000},
				{MarketIndex: entity.MarketIndexUSDC, Balance: -450 * usd},
			},
			// 1 - 450/900
			want: 50,
		},
		{
			name: "initial weights",
			positions: []entity.Position{
				{MarketIndex: entity.MarketIndexSOL, Balance: 10_000_000_000},
				{MarketIndex: entity.MarketIndexUSDC, Balance: -450 * usd},
			},
			params: Params{Category: entity.MarginInitial},
			// 1 - 450/800
			want: 44,
		},
		{
			name: "custom margin ratio tightens initial weights",
			positions: []entity.Position{
				{MarketIndex: entity.MarketIndexSOL, Balance: 10_000_000_000},
				{MarketIndex: entity.MarketIndexUSDC, Balance: -450 * usd},
			},
			params:    Params{Category: entity.MarginInitial},
			maxMargin: 3000,
			// 1 - 450/700
			want: 36,
		},
		{
			name: "custom margin ratio ignored for maintenance",
			positions: []entity.Position{
				{MarketIndex: entity.MarketIndexSOL, Balance: 10_000_000_000},
				{MarketIndex: entity.MarketIndexUSDC, Balance: -450 * usd},
			},
			maxMargin: 3000,
			want:      50,
		},
		{
			name: "being liquidated is zero",
			positions: []entity.Position{
				{MarketIndex: entity.MarketIndexUSDC, Balance: 1000 * usd},
			},
			status: entity.StatusBeingLiquidated,
			want:   0,
		},
		{
			name: "bankrupt is zero",
			positions: []entity.Position{
				{MarketIndex: entity.MarketIndexUSDC, Balance: 1000 * usd},
			},
			status: entity.StatusBankrupt,
			want:   0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			account := testutil.Account(t, owner, tt.positions...)
			account.Status = tt.status
			account.MaxMarginRatio = tt.maxMargin

			got, err := ComputeHealth(account, testutil.Prices(100, 60000), registry, tt.params)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.Score != tt.want {
				t.Errorf("expected health %d, got %d (assets=%d liabilities=%d)",
					tt.want, got.Score, got.WeightedAssetValue, got.WeightedLiabilityValue)
			}
		})
	}
}

func TestComputeHealth_StrictPricing(t *testing.T) {
	registry := testutil.Registry(t)
	account := testutil.Account(t, testutil.NewOwner(t),
		entity.Position{MarketIndex: entity.MarketIndexUSDC, Balance: 1000 * usd},
		entity.Position{MarketIndex: entity.MarketIndexSOL, Balance: -5_000_000_000},
	)

	prices := testutil.Prices(100, 60000)
	sol := prices[entity.MarketIndexSOL]
	sol.TWAP5Min = 120
	prices[entity.MarketIndexSOL] = sol

	tests := []struct {
		name          string
		params        Params
		wantLiability int64
		wantScore     int
	}{
		{name: "spot", params: Params{}, wantLiability: 550 * usd, wantScore: 45},
		{name: "strict uses higher twap", params: Params{Strict: true}, wantLiability: 660 * usd, wantScore: 34},
		{name: "buffer implies strict", params: Params{LiquidationBuffer: 500}, wantLiability: 690 * usd, wantScore: 31},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ComputeHealth(account, prices, registry, tt.params)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.WeightedLiabilityValue != tt.wantLiability {
				t.Errorf("expected liability %d, got %d", tt.wantLiability, got.WeightedLiabilityValue)
			}
			if got.Score != tt.wantScore {
				t.Errorf("expected health %d, got %d", tt.wantScore, got.Score)
			}
		})
	}
}

func TestWeightedTotals_Perps(t *testing.T) {
	registry := testutil.Registry(t)
	prices := testutil.Prices(120, 60000)

	tests := []struct {
		name           string
		perp           entity.PerpPosition
		wantCollateral int64
		wantLiability  int64
	}{
		{
			name: "long in profit is discounted",
			perp: entity.PerpPosition{
				OracleMarket:           entity.MarketIndexSOL,
				BaseAssetAmount:        entity.PerpPrecision,
				QuoteAssetAmount:       -100 * usd,
				MaintenanceMarginRatio: 500,
				UnrealizedAssetWeight:  5000,
			},
			wantCollateral: 1010 * usd,
			wantLiability:  6 * usd,
		},
		{
			name: "short at a loss counts in full",
			perp: entity.PerpPosition{
				OracleMarket:           entity.MarketIndexSOL,
				BaseAssetAmount:        -entity.PerpPrecision,
				QuoteAssetAmount:       100 * usd,
				MaintenanceMarginRatio: 500,
				UnrealizedAssetWeight:  5000,
			},
			wantCollateral: 980 * usd,
			wantLiability:  6 * usd,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			account := testutil.Account(t, testutil.NewOwner(t),
				entity.Position{MarketIndex: entity.MarketIndexUSDC, Balance: 1000 * usd})
			account.Perps = []entity.PerpPosition{tt.perp}

			collateral, liability, err := WeightedTotals(account, prices, registry, Params{})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if collateral != tt.wantCollateral {
				t.Errorf("expected collateral %d, got %d", tt.wantCollateral, collateral)
			}
			if liability != tt.wantLiability {
				t.Errorf("expected liability %d, got %d", tt.wantLiability, liability)
			}
		})
	}
}

func TestComputeHealth_MissingPrice(t *testing.T) {
	registry := testutil.Registry(t)
	account := testutil.Account(t, testutil.NewOwner(t),
		entity.Position{MarketIndex: testutil.MarketWBTC, Balance: 100})

	prices := testutil.Prices(100, 60000)
	delete(prices, testutil.MarketWBTC)

	_, err := ComputeHealth(account, prices, registry, Params{})
	if !errors.Is(err, entity.ErrPriceUnavailable) {
		t.Fatalf("expected ErrPriceUnavailable, got %v", err)
	}
}

func TestComputeHealth_Deterministic(t *testing.T) {
	registry := testutil.Registry(t)
	account := testutil.Account(t, testutil.NewOwner(t),
		entity.Position{MarketIndex: entity.MarketIndexSOL, Balance: 7_300_000_001},
		entity.Position{MarketIndex: testutil.MarketWBTC, Balance: -333_333},
		entity.Position{MarketIndex: entity.MarketIndexUSDC, Balance: 12_345_678},
	)
	prices := testutil.Prices(143.21, 61234.5)

	first, err := ComputeHealth(account, prices, registry, Params{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := 0; i < 10; i++ {
		got, _ := ComputeHealth(account, prices, registry, Params{})
		if got != first {
			t.Fatalf("run %d: %+v differs from %+v", i, got, first)
		}
	}
}

func TestScore(t *testing.T) {
	tests := []struct {
		name        string
		liquidated  bool
		collateral  int64
		requirement int64
		want        int
	}{
		{name: "no requirement", collateral: 0, requirement: 0, want: 100},
		{name: "negative collateral", collateral: -5, requirement: 1, want: 0},
		{name: "requirement equals collateral", collateral: 10, requirement: 10, want: 0},
		{name: "rounds to nearest", collateral: 300, requirement: 100, want: 67},
		{name: "liquidation wins", liquidated: true, collateral: 100, requirement: 0, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Score(tt.liquidated, tt.collateral, tt.requirement); got != tt.want {
				t.Errorf("Score() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestApplyWeight(t *testing.T) {
	tests := []struct {
		name   string
		value  uint64
		weight uint32
		want   uint64
	}{
		{name: "full weight", value: 2000 * usd, weight: entity.WeightPrecision, want: 2000 * usd},
		{name: "maintenance weight", value: 2000 * usd, weight: 8000, want: 1600 * usd},
		{name: "slippage bound", value: 1000 * usd, weight: 9950, want: 995 * usd},
		// 1.1e17 * 9950 overflows uint64.
		{name: "large value", value: 110_000_000_000 * usd, weight: 9950, want: 109_450_000_000 * usd},
		{name: "saturates", value: math.MaxUint64, weight: entity.WeightPrecision, want: math.MaxInt64},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ApplyWeight(tt.value, tt.weight); got != tt.want {
				t.Errorf("ApplyWeight(%d, %d) = %d, want %d", tt.value, tt.weight, got, tt.want)
			}
		})
	}
}
