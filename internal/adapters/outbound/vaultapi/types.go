package vaultapi

import (
	"fmt"
	"strconv"

	"github.com/gagliardetto/solana-go"

	"github.com/archon-research/stl/auto-repay/internal/domain/entity"
	"github.com/archon-research/stl/auto-repay/internal/pkg/ixjson"
)

// accountsResponse is the response of GET /accounts.
type accountsResponse struct {
	Accounts []accountJSON `json:"accounts"`
}

type accountJSON struct {
	Owner                  string                        `json:"owner"`
	Vault                  string                        `json:"vault"`
	Positions              []positionJSON                `json:"positions"`
	PerpPositions          []perpPositionJSON            `json:"perpPositions"`
	Status                 uint8                         `json:"status"`
	MaxMarginRatio         uint32                        `json:"maxMarginRatio"`
	DepositAddressBalances map[entity.MarketIndex]string `json:"depositAddressBalances"`
}

type positionJSON struct {
	MarketIndex entity.MarketIndex `json:"marketIndex"`
	Balance     int64              `json:"balance,string"`
}

type perpPositionJSON struct {
	MarketIndex            uint16             `json:"marketIndex"`
	OracleMarketIndex      entity.MarketIndex `json:"oracleMarketIndex"`
	BaseAssetAmount        int64              `json:"baseAssetAmount,string"`
	QuoteAssetAmount       int64              `json:"quoteAssetAmount,string"`
	InitialMarginRatio     uint32             `json:"initialMarginRatio"`
	MaintenanceMarginRatio uint32             `json:"maintenanceMarginRatio"`
	UnrealizedAssetWeight  uint32             `json:"unrealizedAssetWeight"`
}

func (a accountJSON) toEntity() (*entity.Account, error) {
	owner, err := solana.PublicKeyFromBase58(a.Owner)
	if err != nil {
		return nil, fmt.Errorf("owner %q: %w", a.Owner, err)
	}
	vault, err := solana.PublicKeyFromBase58(a.Vault)
	if err != nil {
		return nil, fmt.Errorf("vault %q: %w", a.Vault, err)
	}

	positions := make([]entity.Position, 0, len(a.Positions))
	for _, p := range a.Positions {
		positions = append(positions, entity.Position{MarketIndex: p.MarketIndex, Balance: p.Balance})
	}
	account, err := entity.NewAccount(owner, vault, positions)
	if err != nil {
		return nil, fmt.Errorf("account %s: %w", a.Owner, err)
	}

	for _, p := range a.PerpPositions {
		account.Perps = append(account.Perps, entity.PerpPosition{
			MarketIndex:            p.MarketIndex,
			OracleMarket:           p.OracleMarketIndex,
			BaseAssetAmount:        p.BaseAssetAmount,
			QuoteAssetAmount:       p.QuoteAssetAmount,
			InitialMarginRatio:     p.InitialMarginRatio,
			MaintenanceMarginRatio: p.MaintenanceMarginRatio,
			UnrealizedAssetWeight:  p.UnrealizedAssetWeight,
		})
	}
	account.Status = entity.AccountStatus(a.Status)
	account.MaxMarginRatio = a.MaxMarginRatio

	if len(a.DepositAddressBalances) > 0 {
		account.DepositAddressBalances = make(map[entity.MarketIndex]uint64, len(a.DepositAddressBalances))
		for idx, raw := range a.DepositAddressBalances {
			amount, err := strconv.ParseUint(raw, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("deposit address balance for market %d: %w", idx, err)
			}
			account.DepositAddressBalances[idx] = amount
		}
	}
	return account, nil
}

type repayRequest struct {
	Owner                 string             `json:"owner"`
	Caller                string             `json:"caller"`
	LoanMarketIndex       entity.MarketIndex `json:"loanMarketIndex"`
	CollateralMarketIndex entity.MarketIndex `json:"collateralMarketIndex"`
}

// repayResponse holds the instructions that go before and after the swap.
type repayResponse struct {
	PreSwap      []ixjson.Instruction `json:"preSwap"`
	PostSwap     []ixjson.Instruction `json:"postSwap"`
	LookupTables []string             `json:"lookupTables"`
}

type fulfilDepositRequest struct {
	Owner       string             `json:"owner"`
	Caller      string             `json:"caller"`
	MarketIndex entity.MarketIndex `json:"marketIndex"`
}

type instructionsResponse struct {
	Instructions []ixjson.Instruction `json:"instructions"`
	LookupTables []string             `json:"lookupTables"`
}

type flashLoanAccountsResponse struct {
	Accounts []flashLoanAccountJSON `json:"accounts"`
}

type flashLoanAccountJSON struct {
	MarketIndex    entity.MarketIndex `json:"marketIndex"`
	Group          string             `json:"group"`
	Account        string             `json:"account"`
	Bank           string             `json:"bank"`
	Oracle         string             `json:"oracle"`
	TokenProgram   string             `json:"tokenProgram"`
	Disabled       bool               `json:"disabled"`
	ActiveBalances []struct {
		Bank   string `json:"bank"`
		Oracle string `json:"oracle"`
	} `json:"activeBalances"`
	LookupTables []string `json:"lookupTables"`
}

// FlashLoanAccount is a flash-loan account the bot's authority owns for one
// market.
type FlashLoanAccount struct {
	Market         entity.MarketIndex
	Group          solana.PublicKey
	Account        solana.PublicKey
	Bank           solana.PublicKey
	Oracle         solana.PublicKey
	TokenProgram   solana.PublicKey
	Disabled       bool
	ActiveBalances [][2]solana.PublicKey
	LookupTables   []solana.PublicKey
}

func (f flashLoanAccountJSON) toAccount() (FlashLoanAccount, error) {
	keys, err := ixjson.PublicKeys([]string{f.Group, f.Account, f.Bank, f.Oracle})
	if err != nil {
		return FlashLoanAccount{}, err
	}
	out := FlashLoanAccount{
		Market:   f.MarketIndex,
		Group:    keys[0],
		Account:  keys[1],
		Bank:     keys[2],
		Oracle:   keys[3],
		Disabled: f.Disabled,
	}
	if f.TokenProgram != "" {
		if out.TokenProgram, err = solana.PublicKeyFromBase58(f.TokenProgram); err != nil {
			return FlashLoanAccount{}, fmt.Errorf("token program %q: %w", f.TokenProgram, err)
		}
	}
	for _, b := range f.ActiveBalances {
		pair, err := ixjson.PublicKeys([]string{b.Bank, b.Oracle})
		if err != nil {
			return FlashLoanAccount{}, fmt.Errorf("active balance: %w", err)
		}
		out.ActiveBalances = append(out.ActiveBalances, [2]solana.PublicKey{pair[0], pair[1]})
	}
	if out.LookupTables, err = ixjson.PublicKeys(f.LookupTables); err != nil {
		return FlashLoanAccount{}, err
	}
	return out, nil
}

type apiError struct {
	Error string `json:"error"`
}
