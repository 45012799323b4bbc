// Package outbound defines the outbound port interfaces.
package outbound

import (
	"context"

	"github.com/gagliardetto/solana-go"

	"github.com/archon-research/stl/auto-repay/internal/domain/entity"
)

// AccountSource lists and loads margin accounts.
type AccountSource interface {
	// ListAccounts returns every open account with freshly read positions.
	ListAccounts(ctx context.Context) ([]*entity.Account, error)

	// GetAccount reloads a single account. It returns entity.ErrAccountNotFound
	// when the owner has no account.
	GetAccount(ctx context.Context, owner solana.PublicKey) (*entity.Account, error)
}
