package commit

import (
	"context"
	"crypto/ed25519"
	"sync/atomic"
	"testing"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ephemeral-svm/validator/internal/lifecycle"
	"github.com/ephemeral-svm/validator/internal/solanatypes"
)

type fakeClient struct {
	sendCalls    atomic.Int32
	confirmState map[solanatypes.Signature]bool
}

func (f *fakeClient) LatestBlockhash(context.Context) (solanatypes.Hash, error) {
	return solanatypes.Hash{1, 2, 3}, nil
}

func (f *fakeClient) SendTransaction(context.Context, *solanatypes.Transaction) error {
	f.sendCalls.Add(1)
	return nil
}

func (f *fakeClient) ConfirmTransaction(_ context.Context, sig solanatypes.Signature) (bool, error) {
	return f.confirmState[sig], nil
}

func pk(b byte) solanatypes.Pubkey {
	var p solanatypes.Pubkey
	p[0] = b
	return p
}

func newTestEngine(t *testing.T) (*Engine, *fakeClient) {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	client := &fakeClient{confirmState: make(map[solanatypes.Signature]bool)}
	e := New(zaptest.NewLogger(t), client, Config{
		CommitterKey:     priv,
		ComputeUnitPrice: 1000,
		RetryBackoff:     backoff.WithMaxRetries(backoff.NewConstantBackOff(0), 1),
	})
	return e, client
}

func TestCreateCommitAccountsTransactionDropsIdenticalData(t *testing.T) {
	e, _ := newTestEngine(t)
	committee := lifecycle.AccountCommittee{Pubkey: pk(1), Data: []byte("state-a")}

	payloads, err := e.CreateCommitAccountsTransaction([]lifecycle.AccountCommittee{committee})
	require.NoError(t, err)
	require.Len(t, payloads, 1)

	payloads, err = e.CreateCommitAccountsTransaction([]lifecycle.AccountCommittee{committee})
	require.NoError(t, err)
	require.Empty(t, payloads, "identical data should be dropped from the batch")
}

func TestCreateCommitAccountsTransactionAddsUndelegateInstruction(t *testing.T) {
	e, _ := newTestEngine(t)
	committee := lifecycle.AccountCommittee{Pubkey: pk(2), Data: []byte("state-b"), RequestUndelegation: true, OriginalOwner: pk(3)}

	payloads, err := e.CreateCommitAccountsTransaction([]lifecycle.AccountCommittee{committee})
	require.NoError(t, err)
	require.Len(t, payloads, 1)
	require.Len(t, payloads[0].Transaction.Message.Instructions, 4)
	require.Equal(t, []solanatypes.Pubkey{pk(2)}, payloads[0].UndelegatedAccounts)
}

func TestSendCommitTransactionsSignsAndSubmits(t *testing.T) {
	e, client := newTestEngine(t)
	committee := lifecycle.AccountCommittee{Pubkey: pk(4), Data: []byte("state-c")}
	payloads, err := e.CreateCommitAccountsTransaction([]lifecycle.AccountCommittee{committee})
	require.NoError(t, err)

	pending, err := e.SendCommitTransactions(payloads)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.NotZero(t, pending[0].Signature)
	require.Equal(t, int32(1), client.sendCalls.Load())
}

func TestConfirmPendingCommitsLogsConfirmed(t *testing.T) {
	e, client := newTestEngine(t)
	committee := lifecycle.AccountCommittee{Pubkey: pk(5), Data: []byte("state-d")}
	payloads, err := e.CreateCommitAccountsTransaction([]lifecycle.AccountCommittee{committee})
	require.NoError(t, err)
	pending, err := e.SendCommitTransactions(payloads)
	require.NoError(t, err)

	client.confirmState[pending[0].Signature] = true
	require.NoError(t, e.ConfirmPendingCommits(pending))
}

func TestTriggerCommitRunsFullCycle(t *testing.T) {
	e, client := newTestEngine(t)
	committee := lifecycle.AccountCommittee{Pubkey: pk(6), Data: []byte("state-e")}

	sig, err := e.TriggerCommit(context.Background(), committee)
	require.NoError(t, err)
	require.NotZero(t, sig)
	require.Equal(t, int32(1), client.sendCalls.Load())
}
