package entity

import (
	"errors"
	"testing"

	"github.com/gagliardetto/solana-go"
)

func TestOraclePrice_Strict(t *testing.T) {
	tests := []struct {
		name          string
		price         OraclePrice
		strict        bool
		wantAsset     float64
		wantLiability float64
	}{
		{
			name:          "non-strict uses spot",
			price:         OraclePrice{Spot: 100, TWAP5Min: 90},
			wantAsset:     100,
			wantLiability: 100,
		},
		{
			name:          "strict takes conservative side",
			price:         OraclePrice{Spot: 100, TWAP5Min: 90},
			strict:        true,
			wantAsset:     90,
			wantLiability: 100,
		},
		{
			name:          "strict with twap above spot",
			price:         OraclePrice{Spot: 100, TWAP5Min: 110},
			strict:        true,
			wantAsset:     100,
			wantLiability: 110,
		},
		{
			name:          "strict without twap falls back to spot",
			price:         OraclePrice{Spot: 100},
			strict:        true,
			wantAsset:     100,
			wantLiability: 100,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.price.AssetPrice(tt.strict); got != tt.wantAsset {
				t.Errorf("AssetPrice = %v, want %v", got, tt.wantAsset)
			}
			if got := tt.price.LiabilityPrice(tt.strict); got != tt.wantLiability {
				t.Errorf("LiabilityPrice = %v, want %v", got, tt.wantLiability)
			}
		})
	}
}

func TestPriceTable_Get(t *testing.T) {
	table := PriceTable{
		MarketIndexUSDC: {Spot: 1},
		MarketIndexSOL:  {Spot: 0},
	}

	if _, err := table.Get(MarketIndexUSDC); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if _, err := table.Get(MarketIndexSOL); !errors.Is(err, ErrPriceUnavailable) {
		t.Errorf("expected ErrPriceUnavailable for zero price, got %v", err)
	}
	if _, err := table.Get(7); !errors.Is(err, ErrPriceUnavailable) {
		t.Errorf("expected ErrPriceUnavailable for missing market, got %v", err)
	}
	if table.Covers([]MarketIndex{MarketIndexUSDC, MarketIndexSOL}) {
		t.Error("expected Covers to be false with an invalid price")
	}
}

func TestPriceToFixed(t *testing.T) {
	if got := PriceToFixed(150.25); got != 150_250_000 {
		t.Errorf("PriceToFixed(150.25) = %d", got)
	}
	if got := PriceToFixed(-1); got != 0 {
		t.Errorf("PriceToFixed(-1) = %d", got)
	}
}

func TestIsSlippageLog(t *testing.T) {
	tests := []struct {
		name string
		logs []string
		want bool
	}{
		{name: "empty", logs: nil, want: false},
		{
			name: "jupiter custom error",
			logs: []string{"Program JUP6 invoke [2]", "Program JUP6 failed: custom program error: 0x1771"},
			want: true,
		},
		{
			name: "anchor error name",
			logs: []string{"Program log: AnchorError occurred. Error Code: SlippageToleranceExceeded."},
			want: true,
		},
		{
			name: "unrelated failure",
			logs: []string{"Program log: Error: insufficient funds"},
			want: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsSlippageLog(tt.logs); got != tt.want {
				t.Errorf("IsSlippageLog = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSubmissionError_Unwrap(t *testing.T) {
	err := &SubmissionError{Err: ErrSlippageExceeded}
	if !errors.Is(err, ErrSlippageExceeded) {
		t.Error("expected SubmissionError to unwrap to its cause")
	}
	if err.Error() != "submitting transaction: slippage tolerance exceeded" {
		t.Errorf("unexpected message %q", err.Error())
	}

	sig := solana.Signature{1}
	err = &SubmissionError{Signature: sig, Err: errors.New("boom")}
	if err.Error() != "transaction "+sig.String()+" failed: boom" {
		t.Errorf("unexpected message %q", err.Error())
	}
}

func TestQuote_RequiredInput(t *testing.T) {
	in := Quote{Mode: SwapExactIn, InAmount: 100, OtherAmountThreshold: 90}
	if got := in.RequiredInput(); got != 100 {
		t.Errorf("ExactIn RequiredInput = %d, want 100", got)
	}
	out := Quote{Mode: SwapExactOut, InAmount: 100, OtherAmountThreshold: 101}
	if got := out.RequiredInput(); got != 101 {
		t.Errorf("ExactOut RequiredInput = %d, want 101", got)
	}
}
