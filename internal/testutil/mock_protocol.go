package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/gagliardetto/solana-go"

	"github.com/archon-research/stl/auto-repay/internal/domain/entity"
	"github.com/archon-research/stl/auto-repay/internal/ports/outbound"
)

// Program IDs used to tag mock instructions.
var (
	ProtocolProgramID  = solana.MustPublicKeyFromBase58("dRiftyHA39MWEi3m9aunc5MzRF1JYuBsbn6VPcn33UH")
	FlashLoanProgramID = solana.MustPublicKeyFromBase58("MFv2hWf31Z9kbCa1snEPYctwafyhdvnV7FZnsebVacA")
)

// RepayCall records one BuildRepayInstructions call.
type RepayCall struct {
	Owner      solana.PublicKey
	Loan       entity.MarketIndex
	Collateral entity.MarketIndex
}

// MockProtocolBuilder emits tagged protocol instructions around the swap.
type MockProtocolBuilder struct {
	mu sync.Mutex

	Tables   []solana.PublicKey
	RepayErr error

	RepayCalls   []RepayCall
	DepositCalls []entity.MarketIndex
}

var _ outbound.ProtocolInstructionBuilder = (*MockProtocolBuilder)(nil)

func (m *MockProtocolBuilder) BuildRepayInstructions(_ context.Context, account *entity.Account, _ solana.PublicKey, loan, collateral entity.MarketIndex, swapIx solana.Instruction) (entity.InstructionSet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RepayCalls = append(m.RepayCalls, RepayCall{Owner: account.Owner, Loan: loan, Collateral: collateral})
	if m.RepayErr != nil {
		return entity.InstructionSet{}, m.RepayErr
	}
	return entity.InstructionSet{
		Instructions: []solana.Instruction{
			TaggedInstruction(ProtocolProgramID, "protocol:start-repay"),
			swapIx,
			TaggedInstruction(ProtocolProgramID, "protocol:end-repay"),
		},
		LookupTables: m.Tables,
	}, nil
}

func (m *MockProtocolBuilder) BuildFulfilDepositInstructions(_ context.Context, _ *entity.Account, market entity.MarketIndex, _ solana.PublicKey) (entity.InstructionSet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DepositCalls = append(m.DepositCalls, market)
	return entity.InstructionSet{
		Instructions: []solana.Instruction{TaggedInstruction(ProtocolProgramID, fmt.Sprintf("protocol:fulfil-%d", market))},
	}, nil
}

// DepositCallCount returns the number of deposit fulfilments built.
func (m *MockProtocolBuilder) DepositCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.DepositCalls)
}

// MockFlashLoanProvider emits tagged flash-loan instructions and records the
// amounts it was asked for.
type MockFlashLoanProvider struct {
	mu sync.Mutex

	Fee    uint16
	Tables []solana.PublicKey

	EndIndex       int
	BorrowedAmount uint64
	RepaidAmount   uint64
}

var _ outbound.FlashLoanProvider = (*MockFlashLoanProvider)(nil)

func (m *MockFlashLoanProvider) FeeBps() uint16 { return m.Fee }

func (m *MockFlashLoanProvider) Begin(_ solana.PublicKey, endIndex int) (solana.Instruction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.EndIndex = endIndex
	return TaggedInstruction(FlashLoanProgramID, "flash:begin"), nil
}

func (m *MockFlashLoanProvider) Borrow(_, _ solana.PublicKey, amount uint64) (solana.Instruction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.BorrowedAmount = amount
	return TaggedInstruction(FlashLoanProgramID, "flash:borrow"), nil
}

func (m *MockFlashLoanProvider) Repay(_, _ solana.PublicKey, amount uint64) (solana.Instruction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RepaidAmount = amount
	return TaggedInstruction(FlashLoanProgramID, "flash:repay"), nil
}

func (m *MockFlashLoanProvider) End(solana.PublicKey) (solana.Instruction, error) {
	return TaggedInstruction(FlashLoanProgramID, "flash:end"), nil
}

func (m *MockFlashLoanProvider) LookupTables() []solana.PublicKey { return m.Tables }

// MockFlashLoanRegistry maps markets to providers.
type MockFlashLoanRegistry struct {
	Providers map[entity.MarketIndex]*MockFlashLoanProvider
}

var _ outbound.FlashLoanRegistry = (*MockFlashLoanRegistry)(nil)

func (m *MockFlashLoanRegistry) ForMarket(market entity.MarketIndex) (outbound.FlashLoanProvider, error) {
	p, ok := m.Providers[market]
	if !ok {
		return nil, fmt.Errorf("no flash loan provider for market %d", market)
	}
	return p, nil
}
