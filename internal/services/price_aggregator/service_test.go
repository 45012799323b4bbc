package price_aggregator

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/archon-research/stl/auto-repay/internal/domain/entity"
	"github.com/archon-research/stl/auto-repay/internal/ports/outbound"
	"github.com/archon-research/stl/auto-repay/internal/testutil"
)

func TestNewService_Validation(t *testing.T) {
	registry := testutil.Registry(t)
	primary := &testutil.MockPriceProvider{ProviderName: "pyth"}

	tests := []struct {
		name     string
		registry *entity.AssetRegistry
		primary  outbound.PriceProvider
		wantErr  string
	}{
		{name: "valid", registry: registry, primary: primary},
		{name: "nil registry", primary: primary, wantErr: "asset registry cannot be nil"},
		{name: "nil primary", registry: registry, wantErr: "primary provider cannot be nil"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewService(Config{}, tt.registry, tt.primary, nil)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestGetPrices(t *testing.T) {
	all := testutil.Prices(150, 60000)
	without := func(indices ...entity.MarketIndex) entity.PriceTable {
		out := make(entity.PriceTable, len(all))
		for idx, p := range all {
			out[idx] = p
		}
		for _, idx := range indices {
			delete(out, idx)
		}
		return out
	}
	fallbackTable := entity.PriceTable{
		entity.MarketIndexSOL: {Spot: 149, Source: "coingecko", Timestamp: time.Now()},
		testutil.MarketWBTC:   {Spot: 59900, Source: "coingecko", Timestamp: time.Now()},
	}

	tests := []struct {
		name          string
		primary       *testutil.MockPriceProvider
		fallback      *testutil.MockPriceProvider
		wantErr       error
		wantSOL       float64
		wantRequested []entity.MarketIndex
	}{
		{
			name:    "primary covers everything",
			primary: &testutil.MockPriceProvider{ProviderName: "pyth", Table: all},
			fallback: &testutil.MockPriceProvider{
				ProviderName: "coingecko", Table: fallbackTable,
			},
			wantSOL: 150,
		},
		{
			name:          "fallback fills a gap",
			primary:       &testutil.MockPriceProvider{ProviderName: "pyth", Table: without(entity.MarketIndexSOL)},
			fallback:      &testutil.MockPriceProvider{ProviderName: "coingecko", Table: fallbackTable},
			wantSOL:       149,
			wantRequested: []entity.MarketIndex{entity.MarketIndexSOL},
		},
		{
			name:          "primary failure falls back per asset",
			primary:       &testutil.MockPriceProvider{ProviderName: "pyth", Table: all, Err: errors.New("hermes 503")},
			fallback:      &testutil.MockPriceProvider{ProviderName: "coingecko", Table: without()},
			wantSOL:       150,
			wantRequested: []entity.MarketIndex{entity.MarketIndexUSDC, entity.MarketIndexSOL, testutil.MarketWBTC, testutil.MarketUSDT},
		},
		{
			name:          "gap remains",
			primary:       &testutil.MockPriceProvider{ProviderName: "pyth", Table: without(testutil.MarketUSDT)},
			fallback:      &testutil.MockPriceProvider{ProviderName: "coingecko", Table: fallbackTable},
			wantErr:       entity.ErrPriceUnavailable,
			wantRequested: []entity.MarketIndex{testutil.MarketUSDT},
		},
		{
			name:    "no fallback configured",
			primary: &testutil.MockPriceProvider{ProviderName: "pyth", Table: without(testutil.MarketWBTC)},
			wantErr: entity.ErrPriceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var fallback outbound.PriceProvider
			if tt.fallback != nil {
				fallback = tt.fallback
			}
			svc, err := NewService(Config{}, testutil.Registry(t), tt.primary, fallback)
			if err != nil {
				t.Fatalf("NewService: %v", err)
			}

			table, err := svc.GetPrices(context.Background())
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
			} else {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if got := table[entity.MarketIndexSOL].Spot; got != tt.wantSOL {
					t.Errorf("SOL price = %v, want %v", got, tt.wantSOL)
				}
				if len(table) != 4 {
					t.Errorf("expected 4 prices, got %d", len(table))
				}
			}

			if tt.fallback == nil {
				return
			}
			if len(tt.wantRequested) == 0 {
				if len(tt.fallback.Requested) != 0 {
					t.Errorf("fallback should not be called, got %v", tt.fallback.Requested)
				}
				return
			}
			if len(tt.fallback.Requested) != 1 {
				t.Fatalf("expected one fallback call, got %v", tt.fallback.Requested)
			}
			got := tt.fallback.Requested[0]
			if len(got) != len(tt.wantRequested) {
				t.Fatalf("fallback asked for %v, want %v", got, tt.wantRequested)
			}
			for i := range got {
				if got[i] != tt.wantRequested[i] {
					t.Errorf("fallback asked for %v, want %v", got, tt.wantRequested)
					break
				}
			}
		})
	}
}

func TestGetPrices_StalePrimaryIsReplaced(t *testing.T) {
	now := time.Now()
	primaryTable := testutil.Prices(150, 60000)
	primaryTable[entity.MarketIndexSOL] = entity.OraclePrice{Spot: 120, Source: "pyth", Timestamp: now.Add(-10 * time.Minute)}

	primary := &testutil.MockPriceProvider{ProviderName: "pyth", Table: primaryTable}
	fallback := &testutil.MockPriceProvider{ProviderName: "coingecko", Table: entity.PriceTable{
		entity.MarketIndexSOL: {Spot: 151, Source: "coingecko", Timestamp: now},
	}}

	svc, err := NewService(Config{MaxPriceAge: time.Minute}, testutil.Registry(t), primary, fallback)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	svc.now = func() time.Time { return now }

	table, err := svc.GetPrices(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := table[entity.MarketIndexSOL]; got.Spot != 151 || got.Source != "coingecko" {
		t.Errorf("expected fresh fallback SOL price, got %+v", got)
	}
}

func TestGetPrices_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	primary := &testutil.MockPriceProvider{ProviderName: "pyth", Err: context.Canceled}
	svc, err := NewService(Config{}, testutil.Registry(t), primary, nil)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	if _, err := svc.GetPrices(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
