// Package commit implements C9: building, sending and confirming
// commit transactions that move delegated account state back to the
// base chain.
package commit

import "github.com/ephemeral-svm/validator/internal/solanatypes"

func mustPubkey(s string) solanatypes.Pubkey {
	pk, err := solanatypes.PubkeyFromBase58(s)
	if err != nil {
		panic("commit: invalid well-known pubkey " + s + ": " + err.Error())
	}
	return pk
}

// DelegationProgramPubkey and ComputeBudgetProgramPubkey are the
// base-chain program ids the commit instructions reference (spec §4.5
// "commit_state", "finalize", undelegate target; §6 compute-unit price).
var (
	DelegationProgramPubkey    = mustPubkey("DeLeg11111111111111111111111111111111111111")
	ComputeBudgetProgramPubkey = mustPubkey("ComputeBudget111111111111111111111111111111")
)

const (
	instructionCommitState byte = iota
	instructionFinalize
	instructionUndelegate
	instructionSetComputeUnitPrice
)

func commitStateInstruction(committer, pubkey solanatypes.Pubkey, data []byte) solanatypes.Instruction {
	return solanatypes.Instruction{
		ProgramID: DelegationProgramPubkey,
		Accounts: []solanatypes.AccountMeta{
			{Pubkey: committer, IsSigner: true, IsWritable: true},
			{Pubkey: pubkey, IsWritable: true},
		},
		Data: append([]byte{instructionCommitState}, data...),
	}
}

func finalizeInstruction(committer, pubkey solanatypes.Pubkey) solanatypes.Instruction {
	return solanatypes.Instruction{
		ProgramID: DelegationProgramPubkey,
		Accounts: []solanatypes.AccountMeta{
			{Pubkey: committer, IsSigner: true, IsWritable: true},
			{Pubkey: pubkey, IsWritable: true},
			{Pubkey: committer, IsWritable: false},
		},
		Data: []byte{instructionFinalize},
	}
}

func undelegateInstruction(committer, pubkey, originalOwner solanatypes.Pubkey) solanatypes.Instruction {
	return solanatypes.Instruction{
		ProgramID: DelegationProgramPubkey,
		Accounts: []solanatypes.AccountMeta{
			{Pubkey: committer, IsSigner: true, IsWritable: true},
			{Pubkey: pubkey, IsWritable: true},
			{Pubkey: originalOwner, IsWritable: false},
		},
		Data: []byte{instructionUndelegate},
	}
}

func computeUnitPriceInstruction(microLamports uint64) solanatypes.Instruction {
	data := make([]byte, 9)
	data[0] = instructionSetComputeUnitPrice
	for i := 0; i < 8; i++ {
		data[1+i] = byte(microLamports >> (8 * i))
	}
	return solanatypes.Instruction{ProgramID: ComputeBudgetProgramPubkey, Data: data}
}
