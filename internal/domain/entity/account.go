package entity

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// MarginCategory selects which set of protocol weights is applied.
type MarginCategory int

const (
	// MarginMaintenance uses the looser weights that decide liquidation.
	MarginMaintenance MarginCategory = iota
	// MarginInitial uses the stricter weights that gate new borrows.
	MarginInitial
)

func (c MarginCategory) String() string {
	if c == MarginInitial {
		return "initial"
	}
	return "maintenance"
}

// AccountStatus holds protocol status flags.
type AccountStatus uint8

const (
	StatusBeingLiquidated AccountStatus = 1 << iota
	StatusBankrupt
)

// Account is a monitored margin account. It is rebuilt from chain state on
// every scan.
type Account struct {
	Owner solana.PublicKey
	Vault solana.PublicKey

	Positions []Position
	Perps     []PerpPosition
	Status    AccountStatus

	// MaxMarginRatio is the account's custom margin ratio in WeightPrecision units.
	MaxMarginRatio uint32

	// DepositAddressBalances are funds waiting on the owner's deposit
	// addresses that have not been credited to the vault yet.
	DepositAddressBalances map[MarketIndex]uint64
}

// NewAccount creates an Account with validation.
func NewAccount(owner, vault solana.PublicKey, positions []Position) (*Account, error) {
	a := &Account{
		Owner:     owner,
		Vault:     vault,
		Positions: positions,
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return a, nil
}

// Validate checks that the account is well-formed.
func (a *Account) Validate() error {
	if a.Owner.IsZero() {
		return fmt.Errorf("owner must not be empty")
	}
	seen := make(map[MarketIndex]struct{}, len(a.Positions))
	for _, p := range a.Positions {
		if _, ok := seen[p.MarketIndex]; ok {
			return fmt.Errorf("duplicate position for market %d", p.MarketIndex)
		}
		seen[p.MarketIndex] = struct{}{}
	}
	return nil
}

// IsBeingLiquidated reports whether the protocol is liquidating the account
// or it is bankrupt.
func (a *Account) IsBeingLiquidated() bool {
	return a.Status&(StatusBeingLiquidated|StatusBankrupt) != 0
}

// Balance returns the balance of a market, or zero.
func (a *Account) Balance(index MarketIndex) int64 {
	for _, p := range a.Positions {
		if p.MarketIndex == index {
			return p.Balance
		}
	}
	return 0
}

// PendingDeposits returns markets with a positive deposit-address balance in
// ascending market order.
func (a *Account) PendingDeposits(registry *AssetRegistry) []MarketIndex {
	var out []MarketIndex
	for _, idx := range registry.Indices() {
		if a.DepositAddressBalances[idx] > 0 {
			out = append(out, idx)
		}
	}
	return out
}

// HealthResult is a health score with the totals it was derived from.
// Values are in USDC base units.
type HealthResult struct {
	Score                  int
	WeightedAssetValue     int64
	WeightedLiabilityValue int64
}
