// Package ixjson decodes Solana instructions serialized as JSON by off-chain
// instruction services (programId, accounts, base64 data).
package ixjson

import (
	"encoding/base64"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// Instruction is the JSON form of an instruction.
type Instruction struct {
	ProgramID string    `json:"programId"`
	Accounts  []Account `json:"accounts"`
	Data      string    `json:"data"`
}

// Account is the JSON form of an account meta.
type Account struct {
	Pubkey     string `json:"pubkey"`
	IsSigner   bool   `json:"isSigner"`
	IsWritable bool   `json:"isWritable"`
}

// Decode converts the JSON form into a solana.Instruction.
func (ix Instruction) Decode() (solana.Instruction, error) {
	programID, err := solana.PublicKeyFromBase58(ix.ProgramID)
	if err != nil {
		return nil, fmt.Errorf("program id %q: %w", ix.ProgramID, err)
	}
	metas := make(solana.AccountMetaSlice, 0, len(ix.Accounts))
	for _, a := range ix.Accounts {
		pk, err := solana.PublicKeyFromBase58(a.Pubkey)
		if err != nil {
			return nil, fmt.Errorf("account %q: %w", a.Pubkey, err)
		}
		metas = append(metas, solana.NewAccountMeta(pk, a.IsWritable, a.IsSigner))
	}
	data, err := base64.StdEncoding.DecodeString(ix.Data)
	if err != nil {
		return nil, fmt.Errorf("instruction data: %w", err)
	}
	return solana.NewInstruction(programID, metas, data), nil
}

// Encode is the inverse of Decode.
func Encode(ix solana.Instruction) (Instruction, error) {
	data, err := ix.Data()
	if err != nil {
		return Instruction{}, fmt.Errorf("instruction data: %w", err)
	}
	out := Instruction{
		ProgramID: ix.ProgramID().String(),
		Data:      base64.StdEncoding.EncodeToString(data),
	}
	for _, m := range ix.Accounts() {
		out.Accounts = append(out.Accounts, Account{
			Pubkey:     m.PublicKey.String(),
			IsSigner:   m.IsSigner,
			IsWritable: m.IsWritable,
		})
	}
	return out, nil
}

// DecodeAll decodes a list of instructions.
func DecodeAll(in []Instruction) ([]solana.Instruction, error) {
	out := make([]solana.Instruction, 0, len(in))
	for i, ix := range in {
		decoded, err := ix.Decode()
		if err != nil {
			return nil, fmt.Errorf("instruction %d: %w", i, err)
		}
		out = append(out, decoded)
	}
	return out, nil
}

// PublicKeys parses a list of base58 addresses.
func PublicKeys(in []string) ([]solana.PublicKey, error) {
	out := make([]solana.PublicKey, 0, len(in))
	for _, s := range in {
		pk, err := solana.PublicKeyFromBase58(s)
		if err != nil {
			return nil, fmt.Errorf("address %q: %w", s, err)
		}
		out = append(out, pk)
	}
	return out, nil
}
