package outbound

import (
	"context"

	"github.com/gagliardetto/solana-go"

	"github.com/archon-research/stl/auto-repay/internal/domain/entity"
)

// QuoteSource prices swaps and produces the swap instruction for a quote.
type QuoteSource interface {
	// GetQuote returns an executable quote, or entity.ErrNoRouteFound when the
	// aggregator has no route for the pair.
	GetQuote(ctx context.Context, req entity.QuoteRequest) (entity.Quote, error)

	// GetSwapInstruction returns the swap instruction for a quote executed by
	// user, and the lookup tables the route needs.
	GetSwapInstruction(ctx context.Context, quote entity.Quote, user solana.PublicKey) (solana.Instruction, []solana.PublicKey, error)
}
