package testutil

import (
	"context"
	"sync"

	"github.com/gagliardetto/solana-go"

	"github.com/archon-research/stl/auto-repay/internal/domain/entity"
	"github.com/archon-research/stl/auto-repay/internal/ports/outbound"
)

// MockChain is an in-memory Chain. Token accounts and lamport balances are
// seeded through the exported maps; sent transactions are recorded.
type MockChain struct {
	mu sync.Mutex

	Lamports      map[solana.PublicKey]uint64
	TokenBalances map[solana.PublicKey]uint64
	DataSizes     map[solana.PublicKey]int
	Tables        map[solana.PublicKey]solana.PublicKeySlice
	Logs          map[solana.Signature][]string

	// SendFunc overrides SendTransaction. By default the transaction's first
	// signature is returned.
	SendFunc func(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)

	// StatusFunc overrides SignatureStatus. By default every signature is confirmed.
	StatusFunc func(ctx context.Context, sig solana.Signature) (outbound.SignatureStatus, error)

	Sent []*solana.Transaction
}

// NewMockChain creates a MockChain with empty state.
func NewMockChain() *MockChain {
	return &MockChain{
		Lamports:      make(map[solana.PublicKey]uint64),
		TokenBalances: make(map[solana.PublicKey]uint64),
		DataSizes:     make(map[solana.PublicKey]int),
		Tables:        make(map[solana.PublicKey]solana.PublicKeySlice),
		Logs:          make(map[solana.Signature][]string),
	}
}

var _ outbound.Chain = (*MockChain)(nil)

func (m *MockChain) LatestBlockhash(context.Context) (solana.Hash, error) {
	return solana.Hash{1, 2, 3, 4}, nil
}

func (m *MockChain) SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	m.mu.Lock()
	m.Sent = append(m.Sent, tx)
	fn := m.SendFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, tx)
	}
	return tx.Signatures[0], nil
}

func (m *MockChain) SignatureStatus(ctx context.Context, sig solana.Signature) (outbound.SignatureStatus, error) {
	m.mu.Lock()
	fn := m.StatusFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, sig)
	}
	return outbound.SignatureStatus{State: outbound.SignatureConfirmed}, nil
}

func (m *MockChain) TransactionLogs(_ context.Context, sig solana.Signature) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Logs[sig], nil
}

func (m *MockChain) Balance(_ context.Context, account solana.PublicKey) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Lamports[account], nil
}

func (m *MockChain) TokenBalance(_ context.Context, tokenAccount solana.PublicKey) (uint64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	amount, ok := m.TokenBalances[tokenAccount]
	return amount, ok, nil
}

func (m *MockChain) AccountDataSize(_ context.Context, account solana.PublicKey) (int, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	size, ok := m.DataSizes[account]
	return size, ok, nil
}

func (m *MockChain) LookupTables(_ context.Context, addresses []solana.PublicKey) ([]entity.LookupTable, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []entity.LookupTable
	for _, addr := range addresses {
		if table, ok := m.Tables[addr]; ok {
			out = append(out, entity.LookupTable{Address: addr, Addresses: table})
		}
	}
	return out, nil
}

// SentCount returns the number of transactions sent.
func (m *MockChain) SentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Sent)
}

// SetLamports sets an account's lamport balance.
func (m *MockChain) SetLamports(account solana.PublicKey, lamports uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Lamports[account] = lamports
}
