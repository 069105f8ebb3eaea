package main

import (
	"github.com/ephemeral-svm/validator/internal/bank"
	"github.com/ephemeral-svm/validator/internal/solanatypes"
)

// noopExecutor is the bank.Executor this process runs with. The Solana
// VM / BPF loader bank.Executor assumes exists is out of scope here
// (see bank/execute.go's own doc comment); every transaction sanitizes,
// locks and commits through the real pipeline but executes as a no-op
// that charges no fee and mutates nothing.
type noopExecutor struct{}

func (noopExecutor) Execute(_ bank.AccountReader, _ *solanatypes.Transaction) (bank.ExecutionOutcome, error) {
	return bank.ExecutionOutcome{}, nil
}
