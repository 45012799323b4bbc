// Package keypair decodes the bot's signing key.
package keypair

import (
	"bytes"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"
)

// Size is the length of an ed25519 secret key (seed plus public key).
const Size = 64

// ErrEmpty is returned for an empty key.
var ErrEmpty = errors.New("keypair is empty")

// Parse decodes a keypair given either as a JSON array of 64 byte values
// (the solana-keygen file format) or as a base58 string.
func Parse(raw string) (solana.PrivateKey, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrEmpty
	}

	var key []byte
	if strings.HasPrefix(raw, "[") {
		var numbers []int
		if err := json.Unmarshal([]byte(raw), &numbers); err != nil {
			return nil, fmt.Errorf("invalid keypair format: must be a JSON array of numbers: %w", err)
		}
		key = make([]byte, len(numbers))
		for i, n := range numbers {
			if n < 0 || n > 255 {
				return nil, fmt.Errorf("invalid keypair byte %d at index %d", n, i)
			}
			key[i] = byte(n)
		}
	} else {
		decoded, err := base58.Decode(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid keypair format: not base58: %w", err)
		}
		key = decoded
	}

	if len(key) != Size {
		return nil, fmt.Errorf("keypair must be %d bytes long, got %d", Size, len(key))
	}

	derived := ed25519.NewKeyFromSeed(key[:ed25519.SeedSize])
	if !bytes.Equal(derived[ed25519.SeedSize:], key[ed25519.SeedSize:]) {
		return nil, fmt.Errorf("invalid keypair: public key does not match secret")
	}
	return solana.PrivateKey(key), nil
}
