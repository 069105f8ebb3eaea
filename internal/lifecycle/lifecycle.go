// Package lifecycle defines the capability interfaces C8's account
// cloner composes: Fetcher, Updates, Dumper, Cloner and the read-only
// AccountsProvider. Each interface is kept to at most four methods, per
// the "capability trait" pattern: a concrete worker implements it for
// production, and internal/lifecycle/stub provides an in-memory double
// for tests.
package lifecycle

import (
	"context"

	"github.com/ephemeral-svm/validator/internal/solanatypes"
)

// ChainState tags which of the three shapes an AccountChainSnapshot carries.
type ChainState int

const (
	NewAccount ChainState = iota
	Undelegated
	Delegated
)

// DelegationRecord is the on-chain, read-only-from-here record keyed by
// the delegated pubkey (spec §3 "Delegation record").
type DelegationRecord struct {
	OriginalOwner     solanatypes.Pubkey
	CommitFrequencyMs uint64
}

// AccountChainSnapshot is C5's read model of a remote account's state at
// a given slot (spec §3 "Account chain snapshot").
type AccountChainSnapshot struct {
	Pubkey    solanatypes.Pubkey
	AtSlot    solanatypes.Slot
	State     ChainState
	Account   solanatypes.Account // zero value when State == NewAccount
	Delegation struct {
		PDA    solanatypes.Pubkey
		Record DelegationRecord
	}
}

// CloneOutcome is C8's result: either a successful clone or a reason it
// could not be performed (spec §3 "Clone output").
type CloneOutcome struct {
	Cloned    bool
	Snapshot  AccountChainSnapshot
	Signature solanatypes.Signature
	// AdditionalAccounts carries the program-data (and, when present,
	// IDL) accounts a program clone dumped alongside Snapshot.
	AdditionalAccounts []solanatypes.Pubkey
	Unclonable         struct {
		Pubkey solanatypes.Pubkey
		Reason string
	}
}

// Fetcher is C5: given a pubkey and an optional minimum context slot,
// fetch its current remote state.
type Fetcher interface {
	FetchAccount(ctx context.Context, pubkey solanatypes.Pubkey, minContextSlot solanatypes.Slot) (AccountChainSnapshot, error)
}

// Updates is C6: per-pubkey live subscription bookkeeping.
type Updates interface {
	EnsureAccountMonitoring(pubkey solanatypes.Pubkey)
	FirstSubscribedSlot(pubkey solanatypes.Pubkey) (solanatypes.Slot, bool)
	LastKnownUpdateSlot(pubkey solanatypes.Pubkey) (solanatypes.Slot, bool)
	StopMonitoring(pubkey solanatypes.Pubkey)
}

// DumpFlavor selects which of C7's four dump shapes to apply.
type DumpFlavor int

const (
	DumpFeePayer DumpFlavor = iota
	DumpUndelegated
	DumpDelegatedAccount
	DumpProgram
)

// Dumper is C7: writes a fetched remote account into the bank.
type Dumper interface {
	Dump(ctx context.Context, flavor DumpFlavor, snapshot AccountChainSnapshot) (solanatypes.Signature, error)
}

// Cloner is C8: the coalesced, policy-gated entry point request
// handlers call.
type Cloner interface {
	CloneAccount(ctx context.Context, pubkey solanatypes.Pubkey) (CloneOutcome, error)
}

// AccountsProvider is the narrow, read-only "is this pubkey currently
// valid" capability C4's sanitization pipeline and C10's committee
// builder both consume (supplemented feature: validated-accounts
// provider).
type AccountsProvider interface {
	IsValidFeePayer(pubkey solanatypes.Pubkey) bool
	IsDelegatedToUs(pubkey solanatypes.Pubkey) (DelegationRecord, bool)
}
