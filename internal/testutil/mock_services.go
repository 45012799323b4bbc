package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/archon-research/stl/auto-repay/internal/domain/entity"
	"github.com/archon-research/stl/auto-repay/internal/ports/outbound"
)

// MockAccountSource serves accounts from memory. GetFunc overrides GetAccount.
type MockAccountSource struct {
	mu sync.Mutex

	Accounts []*entity.Account
	ListErr  error
	GetFunc  func(ctx context.Context, owner solana.PublicKey) (*entity.Account, error)

	ListCalls int
	GetCalls  int
}

var _ outbound.AccountSource = (*MockAccountSource)(nil)

func (m *MockAccountSource) ListAccounts(context.Context) ([]*entity.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ListCalls++
	if m.ListErr != nil {
		return nil, m.ListErr
	}
	return append([]*entity.Account(nil), m.Accounts...), nil
}

func (m *MockAccountSource) GetAccount(ctx context.Context, owner solana.PublicKey) (*entity.Account, error) {
	m.mu.Lock()
	m.GetCalls++
	fn := m.GetFunc
	accounts := m.Accounts
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, owner)
	}
	for _, a := range accounts {
		if a.Owner.Equals(owner) {
			return a, nil
		}
	}
	return nil, entity.ErrAccountNotFound
}

// ListCallCount returns how many times ListAccounts was called.
func (m *MockAccountSource) ListCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ListCalls
}

// MockPriceSource returns a fixed table.
type MockPriceSource struct {
	Table entity.PriceTable
	Err   error
}

var _ outbound.PriceSource = (*MockPriceSource)(nil)

func (m *MockPriceSource) GetPrices(context.Context) (entity.PriceTable, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Table, nil
}

// MockPriceProvider is a PriceProvider returning fixed prices keyed by market.
type MockPriceProvider struct {
	mu sync.Mutex

	ProviderName string
	Table        entity.PriceTable
	Err          error

	Requested [][]entity.MarketIndex
}

var _ outbound.PriceProvider = (*MockPriceProvider)(nil)

func (m *MockPriceProvider) Name() string { return m.ProviderName }

func (m *MockPriceProvider) GetPrices(_ context.Context, assets []*entity.Asset) (entity.PriceTable, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	indices := make([]entity.MarketIndex, 0, len(assets))
	for _, a := range assets {
		indices = append(indices, a.MarketIndex)
	}
	m.Requested = append(m.Requested, indices)

	if m.Err != nil {
		return nil, m.Err
	}
	out := make(entity.PriceTable)
	for _, idx := range indices {
		if p, ok := m.Table[idx]; ok {
			out[idx] = p
		}
	}
	return out, nil
}

// MockAlerter records alerts.
type MockAlerter struct {
	mu     sync.Mutex
	alerts []outbound.Alert
}

var _ outbound.Alerter = (*MockAlerter)(nil)

func (m *MockAlerter) Alert(_ context.Context, alert outbound.Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts = append(m.alerts, alert)
	return nil
}

// Alerts returns a copy of the recorded alerts.
func (m *MockAlerter) Alerts() []outbound.Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]outbound.Alert(nil), m.alerts...)
}

// RepairRecord is one RecordRepair call.
type RepairRecord struct {
	Outcome  string
	Attempts int
}

// MockMetrics records metric calls.
type MockMetrics struct {
	mu sync.Mutex

	Scans   int
	Repairs []RepairRecord
	Healths []int
	Alerts  []string
}

var _ outbound.MetricsRecorder = (*MockMetrics)(nil)

func (m *MockMetrics) RecordScan(context.Context, time.Duration, int, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Scans++
}

func (m *MockMetrics) RecordRepair(_ context.Context, _ time.Duration, outcome string, attempts int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Repairs = append(m.Repairs, RepairRecord{Outcome: outcome, Attempts: attempts})
}

func (m *MockMetrics) RecordHealth(_ context.Context, score int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Healths = append(m.Healths, score)
}

func (m *MockMetrics) RecordAlert(_ context.Context, severity string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Alerts = append(m.Alerts, severity)
}

// RepairRecords returns a copy of the recorded repairs.
func (m *MockMetrics) RepairRecords() []RepairRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]RepairRecord(nil), m.Repairs...)
}

// ScanCount returns the number of scans recorded.
func (m *MockMetrics) ScanCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Scans
}
