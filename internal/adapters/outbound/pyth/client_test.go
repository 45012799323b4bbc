package pyth

import (
	"context"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/archon-research/stl/auto-repay/internal/domain/entity"
)

const (
	solFeed  = "0xef0d8b6fda2ceba41da15d4095d1da392a0d2f8ed0c6c7bc0f4cfac8c280b56d"
	usdcFeed = "0xeaa020c61cc479712813461ce153894a96a6c00b21ed0cfc2798d1f9a9e9c94a"
)

func asset(t *testing.T, idx entity.MarketIndex, symbol, feed string) *entity.Asset {
	t.Helper()
	a, err := entity.NewAsset(entity.Asset{
		MarketIndex: idx, Symbol: symbol, Mint: solana.NewWallet().PublicKey(), Decimals: 6, PythFeedID: feed,
		InitialAssetWeight: 10000, MaintenanceAssetWeight: 10000, InitialLiabilityWeight: 10000, MaintenanceLiabilityWeight: 10000,
	})
	if err != nil {
		t.Fatal(err)
	}
	return a
}

func TestClient_GetPrices(t *testing.T) {
	var gotIDs []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/updates/price/latest" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		gotIDs = r.URL.Query()["ids[]"]
		_, _ = w.Write([]byte(`{"parsed":[
			{"id":"ef0d8b6fda2ceba41da15d4095d1da392a0d2f8ed0c6c7bc0f4cfac8c280b56d",
			 "price":{"price":"15123000000","conf":"100","expo":-8,"publish_time":1704067200},
			 "ema_price":{"price":"15000000000","conf":"100","expo":-8,"publish_time":1704067200}},
			{"id":"eaa020c61cc479712813461ce153894a96a6c00b21ed0cfc2798d1f9a9e9c94a",
			 "price":{"price":"not-a-number","conf":"1","expo":-8,"publish_time":1704067200},
			 "ema_price":{"price":"100000000","conf":"1","expo":-8,"publish_time":1704067200}}
		]}`))
	}))
	defer srv.Close()

	client := NewClient(ClientConfig{BaseURL: srv.URL + "/", RateLimit: 1000})
	assets := []*entity.Asset{
		asset(t, 0, "USDC", usdcFeed),
		asset(t, 1, "SOL", solFeed),
		asset(t, 2, "NOFEED", ""),
	}

	table, err := client.GetPrices(context.Background(), assets)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(gotIDs) != 2 {
		t.Fatalf("expected 2 feed ids requested, got %v", gotIDs)
	}
	for _, id := range gotIDs {
		if id[:2] == "0x" {
			t.Errorf("feed id should be sent without 0x prefix, got %s", id)
		}
	}

	sol, ok := table[1]
	if !ok {
		t.Fatal("expected SOL price")
	}
	if math.Abs(sol.Spot-151.23) > 1e-9 {
		t.Errorf("spot = %v, want 151.23", sol.Spot)
	}
	if math.Abs(sol.TWAP5Min-150) > 1e-9 {
		t.Errorf("twap = %v, want 150", sol.TWAP5Min)
	}
	if !sol.Timestamp.Equal(time.Unix(1704067200, 0)) {
		t.Errorf("unexpected timestamp %v", sol.Timestamp)
	}
	if _, ok := table[0]; ok {
		t.Error("malformed price should be skipped")
	}
}

func TestClient_GetPrices_NoFeeds(t *testing.T) {
	client := NewClient(ClientConfig{BaseURL: "http://127.0.0.1:0"})
	table, err := client.GetPrices(context.Background(), []*entity.Asset{asset(t, 0, "USDC", "")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(table) != 0 {
		t.Errorf("expected empty table, got %v", table)
	}
}

func TestFeedPriceValue(t *testing.T) {
	tests := []struct {
		name    string
		price   feedPrice
		want    float64
		wantErr bool
	}{
		{name: "negative exponent", price: feedPrice{Price: "99995000", Expo: -8}, want: 0.99995},
		{name: "zero exponent", price: feedPrice{Price: "42", Expo: 0}, want: 42},
		{name: "malformed", price: feedPrice{Price: "1.5", Expo: -8}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.price.value()
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && math.Abs(got-tt.want) > 1e-12 {
				t.Errorf("value = %v, want %v", got, tt.want)
			}
		})
	}
}
