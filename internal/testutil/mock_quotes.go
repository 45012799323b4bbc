package testutil

import (
	"context"
	"sync"

	"github.com/gagliardetto/solana-go"

	"github.com/archon-research/stl/auto-repay/internal/domain/entity"
)

// SwapProgramID marks swap instructions built by MockQuoteSource.
var SwapProgramID = solana.MustPublicKeyFromBase58("JUP6LkbZbjS1jKKwapdHNy74zcZ3tLUZoi5QNyVTaV4")

// MockQuoteSource is a QuoteSource with overridable behaviour. By default it
// quotes every request one to one.
type MockQuoteSource struct {
	mu sync.Mutex

	QuoteFunc func(ctx context.Context, req entity.QuoteRequest) (entity.Quote, error)
	SwapFunc  func(ctx context.Context, quote entity.Quote, user solana.PublicKey) (solana.Instruction, []solana.PublicKey, error)

	Requests []entity.QuoteRequest
}

func (m *MockQuoteSource) GetQuote(ctx context.Context, req entity.QuoteRequest) (entity.Quote, error) {
	m.mu.Lock()
	m.Requests = append(m.Requests, req)
	fn := m.QuoteFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	return OneToOneQuote(req), nil
}

func (m *MockQuoteSource) GetSwapInstruction(ctx context.Context, quote entity.Quote, user solana.PublicKey) (solana.Instruction, []solana.PublicKey, error) {
	m.mu.Lock()
	fn := m.SwapFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, quote, user)
	}
	return TaggedInstruction(SwapProgramID, "swap"), nil, nil
}

// RequestCount returns the number of quotes requested so far.
func (m *MockQuoteSource) RequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Requests)
}

// OneToOneQuote answers req with in and out amounts equal to the request amount.
func OneToOneQuote(req entity.QuoteRequest) entity.Quote {
	return entity.Quote{
		Mode:                 req.Mode,
		InputMint:            req.InputMint,
		OutputMint:           req.OutputMint,
		InAmount:             req.Amount,
		OutAmount:            req.Amount,
		OtherAmountThreshold: req.Amount,
		SlippageBps:          req.SlippageBps,
	}
}

// TaggedInstruction returns an instruction whose data is tag, so tests can
// assert instruction order.
func TaggedInstruction(programID solana.PublicKey, tag string) solana.Instruction {
	return solana.NewInstruction(programID, solana.AccountMetaSlice{}, []byte(tag))
}

// InstructionTag returns the data of an instruction built by TaggedInstruction.
func InstructionTag(ix solana.Instruction) string {
	data, err := ix.Data()
	if err != nil {
		return ""
	}
	return string(data)
}
