// Package stub provides in-memory implementations of every
// internal/lifecycle capability interface, mirroring the Rust source's
// sleipnir-accounts/tests/stubs test doubles: account_fetcher_stub,
// account_cloner_stub, account_committer_stub and
// validated_accounts_provider_stub. They carry no network I/O and are
// safe for concurrent use from table-driven tests.
package stub

import (
	"context"
	"sync"

	"github.com/ephemeral-svm/validator/internal/lifecycle"
	"github.com/ephemeral-svm/validator/internal/solanatypes"
)

// Fetcher is a canned FetchAccount double: Responses are consulted in
// FIFO order per pubkey; once a pubkey's queue is exhausted it returns a
// NewAccount snapshot for that pubkey. An entry in Errors takes
// precedence over Responses.
type Fetcher struct {
	mu        sync.Mutex
	Responses map[solanatypes.Pubkey][]lifecycle.AccountChainSnapshot
	Errors    map[solanatypes.Pubkey]error
	Calls     []solanatypes.Pubkey
}

func NewFetcher() *Fetcher {
	return &Fetcher{
		Responses: make(map[solanatypes.Pubkey][]lifecycle.AccountChainSnapshot),
		Errors:    make(map[solanatypes.Pubkey]error),
	}
}

func (f *Fetcher) FetchAccount(_ context.Context, pubkey solanatypes.Pubkey, _ solanatypes.Slot) (lifecycle.AccountChainSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, pubkey)
	if err, ok := f.Errors[pubkey]; ok {
		return lifecycle.AccountChainSnapshot{}, err
	}
	queue := f.Responses[pubkey]
	if len(queue) == 0 {
		return lifecycle.AccountChainSnapshot{Pubkey: pubkey, State: lifecycle.NewAccount}, nil
	}
	next := queue[0]
	f.Responses[pubkey] = queue[1:]
	return next, nil
}

// Updates is an in-memory double for C6's subscription bookkeeping.
type Updates struct {
	mu               sync.Mutex
	firstSubscribed  map[solanatypes.Pubkey]solanatypes.Slot
	lastKnownUpdate  map[solanatypes.Pubkey]solanatypes.Slot
}

func NewUpdates() *Updates {
	return &Updates{
		firstSubscribed: make(map[solanatypes.Pubkey]solanatypes.Slot),
		lastKnownUpdate: make(map[solanatypes.Pubkey]solanatypes.Slot),
	}
}

func (u *Updates) EnsureAccountMonitoring(pubkey solanatypes.Pubkey) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if _, ok := u.firstSubscribed[pubkey]; !ok {
		u.firstSubscribed[pubkey] = 0
	}
}

func (u *Updates) FirstSubscribedSlot(pubkey solanatypes.Pubkey) (solanatypes.Slot, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	s, ok := u.firstSubscribed[pubkey]
	return s, ok
}

func (u *Updates) LastKnownUpdateSlot(pubkey solanatypes.Pubkey) (solanatypes.Slot, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	s, ok := u.lastKnownUpdate[pubkey]
	return s, ok
}

func (u *Updates) StopMonitoring(pubkey solanatypes.Pubkey) {
	u.mu.Lock()
	defer u.mu.Unlock()
	delete(u.firstSubscribed, pubkey)
	delete(u.lastKnownUpdate, pubkey)
}

// PushUpdate lets a test simulate a live push for pubkey at slot.
func (u *Updates) PushUpdate(pubkey solanatypes.Pubkey, slot solanatypes.Slot) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.lastKnownUpdate[pubkey] = slot
}

// Dumper records every Dump call instead of writing into a real bank.
type Dumper struct {
	mu    sync.Mutex
	Calls []lifecycle.AccountChainSnapshot
	Sig   solanatypes.Signature
}

func NewDumper() *Dumper { return &Dumper{} }

func (d *Dumper) Dump(_ context.Context, _ lifecycle.DumpFlavor, snapshot lifecycle.AccountChainSnapshot) (solanatypes.Signature, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Calls = append(d.Calls, snapshot)
	return d.Sig, nil
}

// Cloner returns a canned CloneOutcome per pubkey.
type Cloner struct {
	mu       sync.Mutex
	Outcomes map[solanatypes.Pubkey]lifecycle.CloneOutcome
	Calls    []solanatypes.Pubkey
}

func NewCloner() *Cloner {
	return &Cloner{Outcomes: make(map[solanatypes.Pubkey]lifecycle.CloneOutcome)}
}

func (c *Cloner) CloneAccount(_ context.Context, pubkey solanatypes.Pubkey) (lifecycle.CloneOutcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Calls = append(c.Calls, pubkey)
	if out, ok := c.Outcomes[pubkey]; ok {
		return out, nil
	}
	return lifecycle.CloneOutcome{Cloned: true, Snapshot: lifecycle.AccountChainSnapshot{Pubkey: pubkey}}, nil
}

// Committer records every call instead of touching the base chain.
type Committer struct {
	mu       sync.Mutex
	Payloads []lifecycle.CommitAccountsPayload
	Pending  []lifecycle.PendingCommitTransaction
}

func NewCommitter() *Committer { return &Committer{} }

func (c *Committer) CreateCommitAccountsTransaction(committees []lifecycle.AccountCommittee) ([]lifecycle.CommitAccountsPayload, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var payloads []lifecycle.CommitAccountsPayload
	for _, committee := range committees {
		payloads = append(payloads, lifecycle.CommitAccountsPayload{Accounts: []solanatypes.Pubkey{committee.Pubkey}})
	}
	c.Payloads = append(c.Payloads, payloads...)
	return payloads, nil
}

func (c *Committer) SendCommitTransactions(payloads []lifecycle.CommitAccountsPayload) ([]lifecycle.PendingCommitTransaction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var pending []lifecycle.PendingCommitTransaction
	for _, p := range payloads {
		pt := lifecycle.PendingCommitTransaction{CommittedOnlyAccounts: p.Accounts}
		pending = append(pending, pt)
	}
	c.Pending = append(c.Pending, pending...)
	return pending, nil
}

func (c *Committer) ConfirmPendingCommits(pending []lifecycle.PendingCommitTransaction) error {
	return nil
}

// AccountsProvider is a map-backed lifecycle.AccountsProvider double.
type AccountsProvider struct {
	mu         sync.Mutex
	feePayers  map[solanatypes.Pubkey]bool
	delegated  map[solanatypes.Pubkey]lifecycle.DelegationRecord
}

func NewAccountsProvider() *AccountsProvider {
	return &AccountsProvider{
		feePayers: make(map[solanatypes.Pubkey]bool),
		delegated: make(map[solanatypes.Pubkey]lifecycle.DelegationRecord),
	}
}

func (p *AccountsProvider) SetValidFeePayer(pubkey solanatypes.Pubkey, valid bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.feePayers[pubkey] = valid
}

func (p *AccountsProvider) SetDelegated(pubkey solanatypes.Pubkey, record lifecycle.DelegationRecord) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.delegated[pubkey] = record
}

func (p *AccountsProvider) IsValidFeePayer(pubkey solanatypes.Pubkey) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.feePayers[pubkey]
}

func (p *AccountsProvider) IsDelegatedToUs(pubkey solanatypes.Pubkey) (lifecycle.DelegationRecord, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	rec, ok := p.delegated[pubkey]
	return rec, ok
}
