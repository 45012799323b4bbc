package keypair

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"
)

func TestParse(t *testing.T) {
	wallet := solana.NewWallet()
	secret := []byte(wallet.PrivateKey)

	ints := make([]int, len(secret))
	for i, b := range secret {
		ints[i] = int(b)
	}
	asJSON, err := json.Marshal(ints)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name        string
		raw         string
		wantErr     error
		errContains string
	}{
		{name: "json array", raw: string(asJSON)},
		{name: "base58", raw: base58.Encode(secret)},
		{name: "surrounding whitespace", raw: "  " + base58.Encode(secret) + "\n"},
		{name: "empty", raw: "", wantErr: ErrEmpty},
		{name: "short json", raw: "[1,2,3]", errContains: "must be 64 bytes"},
		{name: "out of range byte", raw: "[256]", errContains: "invalid keypair byte"},
		{name: "malformed json", raw: "[1,2,", errContains: "JSON array"},
		{name: "not base58", raw: "0OIl", errContains: "not base58"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.raw)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if tt.errContains != "" {
				if err == nil || !strings.Contains(err.Error(), tt.errContains) {
					t.Fatalf("expected error containing %q, got %v", tt.errContains, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !got.PublicKey().Equals(wallet.PublicKey()) {
				t.Errorf("public key mismatch: got %s, want %s", got.PublicKey(), wallet.PublicKey())
			}
		})
	}
}

func TestParse_RejectsMismatchedPublicKey(t *testing.T) {
	secret := []byte(solana.NewWallet().PrivateKey)
	secret[63] ^= 0xff
	if _, err := Parse(base58.Encode(secret)); err == nil || !strings.Contains(err.Error(), "does not match") {
		t.Fatalf("expected mismatch error, got %v", err)
	}
}
