package outbound

import (
	"context"

	"github.com/gagliardetto/solana-go"

	"github.com/archon-research/stl/auto-repay/internal/domain/entity"
)

// ProtocolInstructionBuilder produces the lending protocol's instructions.
type ProtocolInstructionBuilder interface {
	// BuildRepayInstructions wraps swapIx in the protocol's collateral-repay
	// sequence for account, signed by caller.
	BuildRepayInstructions(
		ctx context.Context,
		account *entity.Account,
		caller solana.PublicKey,
		loan, collateral entity.MarketIndex,
		swapIx solana.Instruction,
	) (entity.InstructionSet, error)

	// BuildFulfilDepositInstructions credits a pending deposit-address balance
	// to the account's vault.
	BuildFulfilDepositInstructions(
		ctx context.Context,
		account *entity.Account,
		market entity.MarketIndex,
		caller solana.PublicKey,
	) (entity.InstructionSet, error)
}

// FlashLoanProvider builds flash-loan instructions for one market.
type FlashLoanProvider interface {
	// FeeBps is the fee charged on the principal, in basis points.
	FeeBps() uint16

	// Begin opens a flash loan. endIndex is the position of the matching End
	// instruction in the final instruction list.
	Begin(caller solana.PublicKey, endIndex int) (solana.Instruction, error)

	// Borrow transfers amount of the market's token to destination.
	Borrow(caller, destination solana.PublicKey, amount uint64) (solana.Instruction, error)

	// Repay returns amount of the market's token from source.
	Repay(caller, source solana.PublicKey, amount uint64) (solana.Instruction, error)

	// End closes the flash loan.
	End(caller solana.PublicKey) (solana.Instruction, error)

	// LookupTables are tables the provider's instructions benefit from.
	LookupTables() []solana.PublicKey
}

// FlashLoanRegistry resolves the flash-loan provider for a collateral market.
type FlashLoanRegistry interface {
	ForMarket(market entity.MarketIndex) (FlashLoanProvider, error)
}
