package ixjson

import (
	"bytes"
	"testing"

	"github.com/gagliardetto/solana-go"
)

func TestEncodeDecode(t *testing.T) {
	program := solana.NewWallet().PublicKey()
	signer := solana.NewWallet().PublicKey()
	writable := solana.NewWallet().PublicKey()
	data := []byte{1, 2, 3, 250}

	ix := solana.NewInstruction(program, solana.AccountMetaSlice{
		solana.NewAccountMeta(signer, false, true),
		solana.NewAccountMeta(writable, true, false),
	}, data)

	encoded, err := Encode(ix)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	decoded, err := encoded.Decode()
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if !decoded.ProgramID().Equals(program) {
		t.Errorf("program = %s, want %s", decoded.ProgramID(), program)
	}
	accounts := decoded.Accounts()
	if len(accounts) != 2 {
		t.Fatalf("expected 2 accounts, got %d", len(accounts))
	}
	if !accounts[0].IsSigner || accounts[0].IsWritable || !accounts[0].PublicKey.Equals(signer) {
		t.Errorf("signer meta wrong: %+v", accounts[0])
	}
	if accounts[1].IsSigner || !accounts[1].IsWritable || !accounts[1].PublicKey.Equals(writable) {
		t.Errorf("writable meta wrong: %+v", accounts[1])
	}
	got, _ := decoded.Data()
	if !bytes.Equal(got, data) {
		t.Errorf("data = %x, want %x", got, data)
	}
}

func TestDecode_Errors(t *testing.T) {
	valid := solana.NewWallet().PublicKey().String()
	tests := []struct {
		name string
		ix   Instruction
	}{
		{name: "bad program", ix: Instruction{ProgramID: "nope", Data: ""}},
		{name: "bad account", ix: Instruction{ProgramID: valid, Accounts: []Account{{Pubkey: "0OIl"}}}},
		{name: "bad data", ix: Instruction{ProgramID: valid, Data: "!!"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.ix.Decode(); err == nil {
				t.Fatal("expected error")
			}
		})
	}

	if _, err := DecodeAll([]Instruction{{ProgramID: valid}, {ProgramID: "nope"}}); err == nil {
		t.Error("DecodeAll should fail on the second instruction")
	}
	if _, err := PublicKeys([]string{valid, "nope"}); err == nil {
		t.Error("PublicKeys should fail on an invalid address")
	}
}
