// Package magicprogram implements C11: the built-in "system" program
// that is the only path through which the dumper (C7) and commit
// preparation (C9/C10) mutate arbitrary bank accounts, and through which
// user programs queue scheduled commits via cross-program invocation.
package magicprogram

import "github.com/ephemeral-svm/validator/internal/solanatypes"

// maxCommitteesPerCommit caps how many pubkeys a single ScheduleCommit
// may name (spec §4.6 invariant "TooManyAccountsProvided").
const maxCommitteesPerCommit = 100

// ScheduledCommit is the data model from spec §3 "Scheduled commit": it
// lives serialized inside the magic-context account, then in the
// validator's accepted queue, then in flight on the base chain.
type ScheduledCommit struct {
	ID                    uint64
	Slot                  solanatypes.Slot
	Blockhash             solanatypes.Hash
	Accounts              []solanatypes.Pubkey
	Payer                 solanatypes.Pubkey
	Owner                 solanatypes.Pubkey
	CommitSentTransaction []byte // pre-built "report sent" tx, opaque wire bytes
	RequestUndelegation   bool
}

// AccountMod is one entry of a ModifyAccounts instruction: every field
// is optional (nil means "leave unchanged") except Pubkey.
type AccountMod struct {
	Pubkey     solanatypes.Pubkey
	Lamports   *uint64
	Owner      *solanatypes.Pubkey
	Executable *bool
	DataKey    *uint64 // references ledger.AccountModData, keyed by a counter-issued data key
	RentEpoch  *uint64
}
