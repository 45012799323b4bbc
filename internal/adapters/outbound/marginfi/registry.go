package marginfi

import (
	"fmt"
	"log/slog"

	"github.com/gagliardetto/solana-go"

	"github.com/archon-research/stl/auto-repay/internal/domain/entity"
	"github.com/archon-research/stl/auto-repay/internal/ports/outbound"
)

// Compile-time checks.
var (
	_ outbound.FlashLoanRegistry = (*Registry)(nil)
	_ outbound.FlashLoanProvider = (*Provider)(nil)
)

// Balance is an active bank balance of a marginfi account.
type Balance struct {
	Bank   solana.PublicKey
	Oracle solana.PublicKey
}

// MarketConfig is the marginfi account and bank used to flash-borrow one
// market's token.
type MarketConfig struct {
	Market   entity.MarketIndex
	Group    solana.PublicKey
	Account  solana.PublicKey
	Bank     solana.PublicKey
	Oracle   solana.PublicKey
	Disabled bool

	// TokenProgram defaults to the SPL token program.
	TokenProgram solana.PublicKey

	// ActiveBalances are other balances the account already holds. They must
	// be passed to the end instruction alongside the borrowed bank.
	ActiveBalances []Balance

	// LookupTables are passed through to the transaction compiler.
	LookupTables []solana.PublicKey
}

// Config holds configuration for the Registry.
type Config struct {
	// Authority signs every flash-loan instruction and owns the accounts.
	Authority solana.PublicKey

	// FeeBps is the flash-loan fee. marginfi charges none.
	FeeBps uint16

	Logger *slog.Logger
}

// Registry holds one Provider per collateral market. It is built once at
// startup.
type Registry struct {
	providers map[entity.MarketIndex]*Provider
}

// NewRegistry validates markets and builds a provider for each. Every market
// in required must be present and enabled.
func NewRegistry(config Config, markets []MarketConfig, required []entity.MarketIndex) (*Registry, error) {
	if config.Authority.IsZero() {
		return nil, fmt.Errorf("authority cannot be empty")
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	logger := config.Logger.With("component", "marginfi-flash-loans")

	providers := make(map[entity.MarketIndex]*Provider, len(markets))
	for _, m := range markets {
		if _, ok := providers[m.Market]; ok {
			return nil, fmt.Errorf("duplicate flash loan account for market %d", m.Market)
		}
		if m.Disabled {
			return nil, fmt.Errorf("flash loan account %s for market %d is disabled", m.Account, m.Market)
		}
		if m.Group.IsZero() || m.Account.IsZero() || m.Bank.IsZero() || m.Oracle.IsZero() {
			return nil, fmt.Errorf("flash loan account for market %d is incomplete", m.Market)
		}
		if m.TokenProgram.IsZero() {
			m.TokenProgram = solana.TokenProgramID
		}
		providers[m.Market] = &Provider{
			market:    m,
			authority: config.Authority,
			feeBps:    config.FeeBps,
		}
	}

	for _, idx := range required {
		if _, ok := providers[idx]; !ok {
			return nil, fmt.Errorf("no flash loan account for market %d", idx)
		}
	}

	logger.Info("flash loan accounts loaded", "markets", len(providers), "authority", config.Authority)
	return &Registry{providers: providers}, nil
}

// ForMarket returns the provider for market.
func (r *Registry) ForMarket(market entity.MarketIndex) (outbound.FlashLoanProvider, error) {
	p, ok := r.providers[market]
	if !ok {
		return nil, fmt.Errorf("no flash loan account for market %d", market)
	}
	return p, nil
}

// Provider builds flash-loan instructions against one marginfi bank.
type Provider struct {
	market    MarketConfig
	authority solana.PublicKey
	feeBps    uint16
}

func (p *Provider) FeeBps() uint16 { return p.feeBps }

func (p *Provider) LookupTables() []solana.PublicKey { return p.market.LookupTables }

func (p *Provider) Begin(caller solana.PublicKey, endIndex int) (solana.Instruction, error) {
	if err := p.checkCaller(caller); err != nil {
		return nil, err
	}
	if endIndex <= 0 {
		return nil, fmt.Errorf("end index must be positive, got %d", endIndex)
	}
	return startFlashloanInstruction(p.market.Account, caller, uint64(endIndex))
}

func (p *Provider) Borrow(caller, destination solana.PublicKey, amount uint64) (solana.Instruction, error) {
	if err := p.checkCaller(caller); err != nil {
		return nil, err
	}
	return borrowInstruction(p.market, caller, destination, amount)
}

func (p *Provider) Repay(caller, source solana.PublicKey, amount uint64) (solana.Instruction, error) {
	if err := p.checkCaller(caller); err != nil {
		return nil, err
	}
	return repayInstruction(p.market, caller, source, amount)
}

// End lists the borrowed bank first, then the account's other balances.
func (p *Provider) End(caller solana.PublicKey) (solana.Instruction, error) {
	if err := p.checkCaller(caller); err != nil {
		return nil, err
	}
	balances := []Balance{{Bank: p.market.Bank, Oracle: p.market.Oracle}}
	for _, b := range p.market.ActiveBalances {
		if !b.Bank.Equals(p.market.Bank) {
			balances = append(balances, b)
		}
	}
	return endFlashloanInstruction(p.market.Account, caller, balances)
}

func (p *Provider) checkCaller(caller solana.PublicKey) error {
	if !caller.Equals(p.authority) {
		return fmt.Errorf("caller %s is not the flash loan authority %s", caller, p.authority)
	}
	return nil
}
