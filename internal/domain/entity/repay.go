package entity

import (
	"encoding/json"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// SwapMode selects which side of a swap is fixed.
type SwapMode string

const (
	// SwapExactIn fixes the amount of collateral sold.
	SwapExactIn SwapMode = "ExactIn"
	// SwapExactOut fixes the amount of the loan asset received.
	SwapExactOut SwapMode = "ExactOut"
)

// QuoteRequest describes a swap to price.
type QuoteRequest struct {
	Mode        SwapMode
	InputMint   solana.PublicKey
	OutputMint  solana.PublicKey
	Amount      uint64
	SlippageBps uint16
}

// Quote is an executable swap quote.
type Quote struct {
	Mode       SwapMode
	InputMint  solana.PublicKey
	OutputMint solana.PublicKey
	InAmount   uint64
	OutAmount  uint64
	// OtherAmountThreshold is the worst case of the side that is not fixed:
	// the maximum input for ExactOut, the minimum output for ExactIn.
	OtherAmountThreshold uint64
	SlippageBps          uint16

	// Raw is the provider payload, handed back when requesting the swap instruction.
	Raw json.RawMessage
}

// RequiredInput returns the most collateral the swap can consume.
func (q Quote) RequiredInput() uint64 {
	if q.Mode == SwapExactOut {
		return q.OtherAmountThreshold
	}
	return q.InAmount
}

// RepayPlan is one (loan, collateral) pair and swap amount selected by the
// planner. Plans are never mutated; a retry produces a new plan.
type RepayPlan struct {
	LoanMarket       MarketIndex
	CollateralMarket MarketIndex
	// SwapAmount is in base units of the collateral for ExactIn and of the
	// loan asset for ExactOut.
	SwapAmount uint64
	SwapMode   SwapMode
	// RepayValue is the USDC base-unit value the plan is sized to repay.
	RepayValue int64
}

func (p RepayPlan) String() string {
	return fmt.Sprintf("loan=%d collateral=%d amount=%d mode=%s", p.LoanMarket, p.CollateralMarket, p.SwapAmount, p.SwapMode)
}

// LookupTable is a resolved address lookup table.
type LookupTable struct {
	Address   solana.PublicKey
	Addresses solana.PublicKeySlice
}

// LookupTableMap converts resolved tables into the form the transaction
// compiler expects.
func LookupTableMap(tables []LookupTable) map[solana.PublicKey]solana.PublicKeySlice {
	out := make(map[solana.PublicKey]solana.PublicKeySlice, len(tables))
	for _, t := range tables {
		out[t.Address] = t.Addresses
	}
	return out
}

// InstructionSet is a list of instructions plus the lookup tables they need.
type InstructionSet struct {
	Instructions []solana.Instruction
	LookupTables []solana.PublicKey
}
