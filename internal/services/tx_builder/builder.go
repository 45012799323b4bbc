// Package tx_builder assembles, signs and submits the bot's transactions.
//
// A repay transaction sells collateral for the loan asset and hands both to
// the lending protocol's collateral-repay instructions. When the bot does not
// already hold enough collateral for the swap input it borrows the shortfall
// with a flash loan that is repaid inside the same transaction:
//
//	compute-unit price
//	create missing token accounts
//	wrap SOL (collateral is wrapped SOL and lamports are available)
//	begin flash loan
//	  borrow shortfall
//	  protocol repay (swap inside)
//	  repay principal + fee
//	end flash loan
package tx_builder

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gagliardetto/solana-go"
	associatedtokenaccount "github.com/gagliardetto/solana-go/programs/associated-token-account"
	computebudget "github.com/gagliardetto/solana-go/programs/compute-budget"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/holiman/uint256"

	"github.com/archon-research/stl/auto-repay/internal/domain/entity"
	"github.com/archon-research/stl/auto-repay/internal/ports/outbound"
)

// Config holds configuration for the Builder.
type Config struct {
	// ComputeUnitPrice is the priority fee in micro-lamports per compute unit.
	ComputeUnitPrice uint64

	// MinLamportsReserve is kept on the fee payer when wrapping SOL.
	MinLamportsReserve uint64

	// Logger is the structured logger for the builder.
	Logger *slog.Logger
}

// ConfigDefaults returns the default builder configuration.
func ConfigDefaults() Config {
	return Config{
		ComputeUnitPrice:   1_000_000,
		MinLamportsReserve: entity.LamportsPerSOL / 1000,
	}
}

// Builder builds and submits repay and deposit transactions signed by the bot.
type Builder struct {
	config     Config
	chain      outbound.Chain
	quotes     outbound.QuoteSource
	protocol   outbound.ProtocolInstructionBuilder
	flashLoans outbound.FlashLoanRegistry
	registry   *entity.AssetRegistry
	signer     solana.PrivateKey
	logger     *slog.Logger
}

// NewBuilder creates a new Builder.
func NewBuilder(
	config Config,
	chain outbound.Chain,
	quotes outbound.QuoteSource,
	protocol outbound.ProtocolInstructionBuilder,
	flashLoans outbound.FlashLoanRegistry,
	registry *entity.AssetRegistry,
	signer solana.PrivateKey,
) (*Builder, error) {
	if chain == nil {
		return nil, fmt.Errorf("chain cannot be nil")
	}
	if quotes == nil {
		return nil, fmt.Errorf("quote source cannot be nil")
	}
	if protocol == nil {
		return nil, fmt.Errorf("protocol instruction builder cannot be nil")
	}
	if flashLoans == nil {
		return nil, fmt.Errorf("flash loan registry cannot be nil")
	}
	if registry == nil {
		return nil, fmt.Errorf("asset registry cannot be nil")
	}
	if len(signer) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("signer must be a %d-byte key, got %d bytes", ed25519.PrivateKeySize, len(signer))
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Builder{
		config:     config,
		chain:      chain,
		quotes:     quotes,
		protocol:   protocol,
		flashLoans: flashLoans,
		registry:   registry,
		signer:     signer,
		logger:     logger.With("component", "tx-builder"),
	}, nil
}

// Address is the bot's fee payer and signer.
func (b *Builder) Address() solana.PublicKey {
	return b.signer.PublicKey()
}

// BuildAndSubmit builds the repay transaction for plan and submits it.
func (b *Builder) BuildAndSubmit(ctx context.Context, account *entity.Account, plan entity.RepayPlan, quote entity.Quote) (solana.Signature, error) {
	set, err := b.BuildRepayInstructions(ctx, account, plan, quote)
	if err != nil {
		return solana.Signature{}, err
	}
	return b.Submit(ctx, set)
}

// BuildRepayInstructions returns the ordered repay instructions for plan and
// the lookup tables they reference.
func (b *Builder) BuildRepayInstructions(ctx context.Context, account *entity.Account, plan entity.RepayPlan, quote entity.Quote) (entity.InstructionSet, error) {
	loanAsset, ok := b.registry.Get(plan.LoanMarket)
	if !ok {
		return entity.InstructionSet{}, fmt.Errorf("unknown loan market %d", plan.LoanMarket)
	}
	collAsset, ok := b.registry.Get(plan.CollateralMarket)
	if !ok {
		return entity.InstructionSet{}, fmt.Errorf("unknown collateral market %d", plan.CollateralMarket)
	}

	caller := b.Address()
	collATA, _, err := solana.FindAssociatedTokenAddress(caller, collAsset.Mint)
	if err != nil {
		return entity.InstructionSet{}, fmt.Errorf("deriving collateral token account: %w", err)
	}
	loanATA, _, err := solana.FindAssociatedTokenAddress(caller, loanAsset.Mint)
	if err != nil {
		return entity.InstructionSet{}, fmt.Errorf("deriving loan token account: %w", err)
	}

	lamports, err := b.chain.Balance(ctx, caller)
	if err != nil {
		return entity.InstructionSet{}, fmt.Errorf("reading fee payer balance: %w", err)
	}
	onHand, collExists, err := b.chain.TokenBalance(ctx, collATA)
	if err != nil {
		return entity.InstructionSet{}, fmt.Errorf("reading collateral token balance: %w", err)
	}
	_, loanExists, err := b.chain.TokenBalance(ctx, loanATA)
	if err != nil {
		return entity.InstructionSet{}, fmt.Errorf("reading loan token balance: %w", err)
	}

	swapIx, swapTables, err := b.quotes.GetSwapInstruction(ctx, quote, caller)
	if err != nil {
		return entity.InstructionSet{}, fmt.Errorf("fetching swap instruction: %w", err)
	}

	var extra uint64
	if required := quote.RequiredInput(); required > onHand {
		extra = required - onHand
	}
	var wrap uint64
	if collAsset.Mint.Equals(solana.SolMint) && lamports > b.config.MinLamportsReserve {
		wrap = min(extra, lamports-b.config.MinLamportsReserve)
	}
	borrow := extra - wrap

	repay, err := b.protocol.BuildRepayInstructions(ctx, account, caller, plan.LoanMarket, plan.CollateralMarket, swapIx)
	if err != nil {
		return entity.InstructionSet{}, fmt.Errorf("building protocol repay instructions: %w", err)
	}

	ixs := []solana.Instruction{
		computebudget.NewSetComputeUnitPriceInstruction(b.config.ComputeUnitPrice).Build(),
	}
	if !collExists {
		ixs = append(ixs, associatedtokenaccount.NewCreateInstruction(caller, caller, collAsset.Mint).Build())
	}
	if !loanExists && !loanAsset.Mint.Equals(collAsset.Mint) {
		ixs = append(ixs, associatedtokenaccount.NewCreateInstruction(caller, caller, loanAsset.Mint).Build())
	}
	if wrap > 0 {
		ixs = append(ixs,
			system.NewTransferInstruction(wrap, caller, collATA).Build(),
			token.NewSyncNativeInstruction(collATA).Build(),
		)
	}

	tables := append(append([]solana.PublicKey{}, swapTables...), repay.LookupTables...)

	if borrow == 0 {
		ixs = append(ixs, repay.Instructions...)
	} else {
		provider, err := b.flashLoans.ForMarket(plan.CollateralMarket)
		if err != nil {
			return entity.InstructionSet{}, fmt.Errorf("resolving flash loan for market %d: %w", plan.CollateralMarket, err)
		}
		ixs, err = wrapInFlashLoan(ixs, repay.Instructions, provider, caller, collATA, borrow)
		if err != nil {
			return entity.InstructionSet{}, err
		}
		tables = append(tables, provider.LookupTables()...)
	}

	b.logger.Debug("built repay instructions",
		"owner", account.Owner,
		"plan", plan.String(),
		"onHand", onHand,
		"wrap", wrap,
		"borrow", borrow,
		"instructions", len(ixs),
	)

	return entity.InstructionSet{Instructions: ixs, LookupTables: dedupe(tables)}, nil
}

// wrapInFlashLoan appends begin, borrow, body, flash repay and end to ixs.
func wrapInFlashLoan(ixs, body []solana.Instruction, provider outbound.FlashLoanProvider, caller, tokenAccount solana.PublicKey, principal uint64) ([]solana.Instruction, error) {
	borrowIx, err := provider.Borrow(caller, tokenAccount, principal)
	if err != nil {
		return nil, fmt.Errorf("building flash borrow: %w", err)
	}
	repayIx, err := provider.Repay(caller, tokenAccount, FlashRepayAmount(principal, provider.FeeBps()))
	if err != nil {
		return nil, fmt.Errorf("building flash repay: %w", err)
	}
	endIx, err := provider.End(caller)
	if err != nil {
		return nil, fmt.Errorf("building flash loan end: %w", err)
	}

	// begin + borrow + body + repay, then end
	endIndex := len(ixs) + 2 + len(body) + 1
	beginIx, err := provider.Begin(caller, endIndex)
	if err != nil {
		return nil, fmt.Errorf("building flash loan begin: %w", err)
	}

	out := make([]solana.Instruction, 0, endIndex+1)
	out = append(out, ixs...)
	out = append(out, beginIx, borrowIx)
	out = append(out, body...)
	out = append(out, repayIx, endIx)
	return out, nil
}

// FlashRepayAmount returns principal plus the fee rounded up.
func FlashRepayAmount(principal uint64, feeBps uint16) uint64 {
	fee := new(uint256.Int).Mul(uint256.NewInt(principal), uint256.NewInt(uint64(feeBps)))
	fee.Add(fee, uint256.NewInt(entity.WeightPrecision-1))
	fee.Div(fee, uint256.NewInt(entity.WeightPrecision))
	return principal + fee.Uint64()
}

// BuildFulfilDepositInstructions credits every pending deposit-address
// balance of the account in one transaction.
func (b *Builder) BuildFulfilDepositInstructions(ctx context.Context, account *entity.Account, markets []entity.MarketIndex) (entity.InstructionSet, error) {
	if len(markets) == 0 {
		return entity.InstructionSet{}, fmt.Errorf("no deposits to fulfil")
	}

	ixs := []solana.Instruction{
		computebudget.NewSetComputeUnitPriceInstruction(b.config.ComputeUnitPrice).Build(),
	}
	var tables []solana.PublicKey
	for _, market := range markets {
		set, err := b.protocol.BuildFulfilDepositInstructions(ctx, account, market, b.Address())
		if err != nil {
			return entity.InstructionSet{}, fmt.Errorf("building deposit instructions for market %d: %w", market, err)
		}
		ixs = append(ixs, set.Instructions...)
		tables = append(tables, set.LookupTables...)
	}

	return entity.InstructionSet{Instructions: ixs, LookupTables: dedupe(tables)}, nil
}

// FulfilDeposits builds and submits the deposit fulfilment transaction.
func (b *Builder) FulfilDeposits(ctx context.Context, account *entity.Account, markets []entity.MarketIndex) (solana.Signature, error) {
	set, err := b.BuildFulfilDepositInstructions(ctx, account, markets)
	if err != nil {
		return solana.Signature{}, err
	}
	return b.Submit(ctx, set)
}

// Submit compiles set into a versioned transaction paid for and signed by the
// bot and sends it. Failures are returned as *entity.SubmissionError.
func (b *Builder) Submit(ctx context.Context, set entity.InstructionSet) (solana.Signature, error) {
	tables, err := b.chain.LookupTables(ctx, set.LookupTables)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("resolving lookup tables: %w", err)
	}
	blockhash, err := b.chain.LatestBlockhash(ctx)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("fetching blockhash: %w", err)
	}

	payer := b.Address()
	opts := []solana.TransactionOption{solana.TransactionPayer(payer)}
	if len(tables) > 0 {
		opts = append(opts, solana.TransactionAddressTables(entity.LookupTableMap(tables)))
	}

	tx, err := solana.NewTransaction(set.Instructions, blockhash, opts...)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("compiling transaction: %w", err)
	}
	if _, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(payer) {
			return &b.signer
		}
		return nil
	}); err != nil {
		return solana.Signature{}, fmt.Errorf("signing transaction: %w", err)
	}

	sig, err := b.chain.SendTransaction(ctx, tx)
	if err != nil {
		var subErr *entity.SubmissionError
		if errors.As(err, &subErr) {
			return sig, err
		}
		return sig, &entity.SubmissionError{Signature: sig, Err: err}
	}
	return sig, nil
}

func dedupe(keys []solana.PublicKey) []solana.PublicKey {
	seen := make(map[solana.PublicKey]struct{}, len(keys))
	out := make([]solana.PublicKey, 0, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}
