package scheduledcommits

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ephemeral-svm/validator/internal/accountsdb"
	"github.com/ephemeral-svm/validator/internal/accountsdb/index"
	"github.com/ephemeral-svm/validator/internal/lifecycle"
	"github.com/ephemeral-svm/validator/internal/lifecycle/stub"
	"github.com/ephemeral-svm/validator/internal/magicprogram"
	"github.com/ephemeral-svm/validator/internal/solanatypes"
)

func pk(b byte) solanatypes.Pubkey {
	var p solanatypes.Pubkey
	p[0] = b
	return p
}

type fakeProgram struct {
	queue     []magicprogram.ScheduledCommit
	sentCalls []uint64
}

func (f *fakeProgram) AcceptScheduleCommits(solanatypes.Pubkey) ([]magicprogram.ScheduledCommit, error) {
	out := f.queue
	f.queue = nil
	return out, nil
}

func (f *fakeProgram) ScheduledCommitSent(id uint64, _ solanatypes.Signature) {
	f.sentCalls = append(f.sentCalls, id)
}

type fakeCommitter struct {
	undelegate map[solanatypes.Pubkey]bool
}

func (f *fakeCommitter) CreateCommitAccountsTransaction(committees []lifecycle.AccountCommittee) ([]lifecycle.CommitAccountsPayload, error) {
	var payloads []lifecycle.CommitAccountsPayload
	for _, c := range committees {
		p := lifecycle.CommitAccountsPayload{Accounts: []solanatypes.Pubkey{c.Pubkey}}
		if c.RequestUndelegation {
			p.UndelegatedAccounts = []solanatypes.Pubkey{c.Pubkey}
		}
		payloads = append(payloads, p)
	}
	return payloads, nil
}

func (f *fakeCommitter) SendCommitTransactions(payloads []lifecycle.CommitAccountsPayload) ([]lifecycle.PendingCommitTransaction, error) {
	var pending []lifecycle.PendingCommitTransaction
	for i, p := range payloads {
		var sig solanatypes.Signature
		sig[0] = byte(i + 1)
		pending = append(pending, lifecycle.PendingCommitTransaction{
			Signature:             sig,
			CommittedOnlyAccounts: p.Accounts,
			UndelegatedAccounts:   p.UndelegatedAccounts,
		})
	}
	return pending, nil
}

func (f *fakeCommitter) ConfirmPendingCommits([]lifecycle.PendingCommitTransaction) error { return nil }

func newTestProcessor(t *testing.T) (*Processor, *fakeProgram, *fakeCommitter, *accountsdb.Store, *stub.AccountsProvider) {
	t.Helper()
	store, err := accountsdb.Open(zaptest.NewLogger(t), accountsdb.Config{
		MainFilePath: filepath.Join(t.TempDir(), "main.data"),
		BlockSize:    accountsdb.Block256,
	}, index.NewMemIndex())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	program := &fakeProgram{}
	committer := &fakeCommitter{}
	provider := stub.NewAccountsProvider()
	authority := pk(0xAA)
	p := New(zaptest.NewLogger(t), program, committer, store, provider, authority)
	return p, program, committer, store, provider
}

func TestProcessDrainsQueueAndNotifiesSent(t *testing.T) {
	p, program, _, store, provider := newTestProcessor(t)
	target := pk(1)
	require.NoError(t, store.StoreBatch(1, []accountsdb.Write{{Pubkey: target, Account: solanatypes.Account{Lamports: 5, Owner: pk(2)}}}))
	provider.SetDelegated(target, lifecycle.DelegationRecord{OriginalOwner: pk(2)})

	program.queue = []magicprogram.ScheduledCommit{
		{ID: 1, Accounts: []solanatypes.Pubkey{target}, Payer: pk(9)},
	}

	require.NoError(t, p.Process(context.Background()))
	require.Equal(t, []uint64{1}, program.sentCalls)
	require.Equal(t, 0, p.ScheduledCommitsLen())
}

func TestProcessRemovesAccountOnConfirmedUndelegation(t *testing.T) {
	p, program, _, store, provider := newTestProcessor(t)
	target := pk(3)
	require.NoError(t, store.StoreBatch(1, []accountsdb.Write{{Pubkey: target, Account: solanatypes.Account{Lamports: 5, Owner: pk(4)}}}))
	provider.SetDelegated(target, lifecycle.DelegationRecord{OriginalOwner: pk(4)})

	program.queue = []magicprogram.ScheduledCommit{
		{ID: 2, Accounts: []solanatypes.Pubkey{target}, Payer: pk(9), RequestUndelegation: true},
	}

	require.NoError(t, p.Process(context.Background()))

	_, ok, err := store.Get(target)
	require.NoError(t, err)
	require.False(t, ok, "undelegated account should be removed from the local store")
}

func TestProcessIsIdempotentPerCommitID(t *testing.T) {
	p, program, _, store, provider := newTestProcessor(t)
	target := pk(5)
	require.NoError(t, store.StoreBatch(1, []accountsdb.Write{{Pubkey: target, Account: solanatypes.Account{Lamports: 1, Owner: pk(6)}}}))
	provider.SetDelegated(target, lifecycle.DelegationRecord{OriginalOwner: pk(6)})

	commit := magicprogram.ScheduledCommit{ID: 7, Accounts: []solanatypes.Pubkey{target}, Payer: pk(9)}
	program.queue = []magicprogram.ScheduledCommit{commit}
	require.NoError(t, p.Process(context.Background()))
	require.Len(t, program.sentCalls, 1)

	program.queue = []magicprogram.ScheduledCommit{commit}
	require.NoError(t, p.Process(context.Background()))
	require.Len(t, program.sentCalls, 1, "a repeated commit id must not be processed twice")
}
