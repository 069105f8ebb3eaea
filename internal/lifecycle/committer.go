package lifecycle

import "github.com/ephemeral-svm/validator/internal/solanatypes"

// AccountCommittee is one pubkey's worth of state C10 has assembled for
// C9 to commit (spec §4.5 step 3 "Build committees").
type AccountCommittee struct {
	Pubkey              solanatypes.Pubkey
	Data                []byte
	Owner               solanatypes.Pubkey // transactional owner; delegation program if undelegating
	RequestUndelegation bool
	OriginalOwner       solanatypes.Pubkey
	Payer               solanatypes.Pubkey
}

// CommitAccountsPayload is one signed-and-ready commit transaction,
// built by create_commit_accounts_transaction.
type CommitAccountsPayload struct {
	Transaction         *solanatypes.Transaction
	Accounts            []solanatypes.Pubkey
	UndelegatedAccounts []solanatypes.Pubkey
}

// PendingCommitTransaction is what send_commit_transactions returns: a
// submitted commit awaiting confirmation.
type PendingCommitTransaction struct {
	Signature            solanatypes.Signature
	UndelegatedAccounts  []solanatypes.Pubkey
	CommittedOnlyAccounts []solanatypes.Pubkey
}

// Committer is C9's capability surface, consumed by C10's tick.
type Committer interface {
	CreateCommitAccountsTransaction(committees []AccountCommittee) ([]CommitAccountsPayload, error)
	SendCommitTransactions(payloads []CommitAccountsPayload) ([]PendingCommitTransaction, error)
	ConfirmPendingCommits(pending []PendingCommitTransaction) error
}
