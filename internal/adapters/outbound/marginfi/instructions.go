// Package marginfi builds marginfi v2 flash-loan instructions and serves
// them per collateral market through outbound.FlashLoanRegistry.
package marginfi

import (
	"bytes"
	"encoding/binary"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// ProgramID is the marginfi v2 mainnet program.
var ProgramID = solana.MustPublicKeyFromBase58("MFv2hWf31Z9kbCa1snEPYctwafyhdvnV7FXNjTmvnoc")

// Anchor instruction names.
const (
	ixStartFlashloan = "lending_account_start_flashloan"
	ixEndFlashloan   = "lending_account_end_flashloan"
	ixBorrow         = "lending_account_borrow"
	ixRepay          = "lending_account_repay"
)

// PDA seeds of a bank's liquidity vault and its authority.
var (
	seedLiquidityVault     = []byte("liquidity_vault")
	seedLiquidityVaultAuth = []byte("liquidity_vault_auth")
)

// encodeArgs writes the Anchor discriminator of name followed by args in
// Borsh order. Supported arg types are uint64 and *bool (Option<bool>).
func encodeArgs(name string, args ...any) ([]byte, error) {
	var buf bytes.Buffer
	enc := bin.NewBorshEncoder(&buf)

	disc := bin.SighashTypeID(bin.SIGHASH_GLOBAL_NAMESPACE, name)
	if err := enc.WriteBytes(disc[:], false); err != nil {
		return nil, fmt.Errorf("writing discriminator: %w", err)
	}
	for i, arg := range args {
		var err error
		switch v := arg.(type) {
		case uint64:
			err = enc.WriteUint64(v, binary.LittleEndian)
		case *bool:
			if err = enc.WriteBool(v != nil); err == nil && v != nil {
				err = enc.WriteBool(*v)
			}
		default:
			err = fmt.Errorf("unsupported type %T", arg)
		}
		if err != nil {
			return nil, fmt.Errorf("writing %s arg %d: %w", name, i, err)
		}
	}
	return buf.Bytes(), nil
}

func liquidityVault(bank solana.PublicKey) (solana.PublicKey, error) {
	pda, _, err := solana.FindProgramAddress([][]byte{seedLiquidityVault, bank[:]}, ProgramID)
	return pda, err
}

func liquidityVaultAuthority(bank solana.PublicKey) (solana.PublicKey, error) {
	pda, _, err := solana.FindProgramAddress([][]byte{seedLiquidityVaultAuth, bank[:]}, ProgramID)
	return pda, err
}

func startFlashloanInstruction(account, authority solana.PublicKey, endIndex uint64) (solana.Instruction, error) {
	data, err := encodeArgs(ixStartFlashloan, endIndex)
	if err != nil {
		return nil, err
	}
	return solana.NewInstruction(ProgramID, solana.AccountMetaSlice{
		solana.NewAccountMeta(account, true, false),
		solana.NewAccountMeta(authority, false, true),
		solana.NewAccountMeta(solana.SysVarInstructionsPubkey, false, false),
	}, data), nil
}

// endFlashloanInstruction lists every active balance as a (bank, oracle)
// pair so the program can run its health check.
func endFlashloanInstruction(account, authority solana.PublicKey, balances []Balance) (solana.Instruction, error) {
	data, err := encodeArgs(ixEndFlashloan)
	if err != nil {
		return nil, err
	}
	metas := solana.AccountMetaSlice{
		solana.NewAccountMeta(account, true, false),
		solana.NewAccountMeta(authority, false, true),
	}
	for _, b := range balances {
		metas = append(metas,
			solana.NewAccountMeta(b.Bank, false, false),
			solana.NewAccountMeta(b.Oracle, false, false),
		)
	}
	return solana.NewInstruction(ProgramID, metas, data), nil
}

func borrowInstruction(m MarketConfig, authority, destination solana.PublicKey, amount uint64) (solana.Instruction, error) {
	vault, err := liquidityVault(m.Bank)
	if err != nil {
		return nil, fmt.Errorf("deriving liquidity vault: %w", err)
	}
	vaultAuth, err := liquidityVaultAuthority(m.Bank)
	if err != nil {
		return nil, fmt.Errorf("deriving liquidity vault authority: %w", err)
	}
	data, err := encodeArgs(ixBorrow, amount)
	if err != nil {
		return nil, err
	}
	return solana.NewInstruction(ProgramID, solana.AccountMetaSlice{
		solana.NewAccountMeta(m.Group, false, false),
		solana.NewAccountMeta(m.Account, true, false),
		solana.NewAccountMeta(authority, false, true),
		solana.NewAccountMeta(m.Bank, true, false),
		solana.NewAccountMeta(destination, true, false),
		solana.NewAccountMeta(vaultAuth, false, false),
		solana.NewAccountMeta(vault, true, false),
		solana.NewAccountMeta(m.TokenProgram, false, false),
	}, data), nil
}

func repayInstruction(m MarketConfig, authority, source solana.PublicKey, amount uint64) (solana.Instruction, error) {
	vault, err := liquidityVault(m.Bank)
	if err != nil {
		return nil, fmt.Errorf("deriving liquidity vault: %w", err)
	}
	// repay_all = None
	data, err := encodeArgs(ixRepay, amount, (*bool)(nil))
	if err != nil {
		return nil, err
	}
	return solana.NewInstruction(ProgramID, solana.AccountMetaSlice{
		solana.NewAccountMeta(m.Group, false, false),
		solana.NewAccountMeta(m.Account, true, false),
		solana.NewAccountMeta(authority, false, true),
		solana.NewAccountMeta(m.Bank, true, false),
		solana.NewAccountMeta(source, true, false),
		solana.NewAccountMeta(vault, true, false),
		solana.NewAccountMeta(m.TokenProgram, false, false),
	}, data), nil
}
