package bank

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ephemeral-svm/validator/internal/accountsdb"
	"github.com/ephemeral-svm/validator/internal/accountsdb/index"
	"github.com/ephemeral-svm/validator/internal/ledger"
	"github.com/ephemeral-svm/validator/internal/solanatypes"
)

func newTestBank(t *testing.T) *Bank {
	t.Helper()
	dir := t.TempDir()
	store, err := accountsdb.Open(zaptest.NewLogger(t), accountsdb.Config{
		MainFilePath: filepath.Join(dir, "main.data"),
		BlockSize:    accountsdb.Block256,
		SnapshotDir:  filepath.Join(dir, "snapshots"),
		MaxSnapshots: 2,
	}, index.NewMemIndex())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	lg, err := ledger.Open(zaptest.NewLogger(t), ledger.Config{Path: filepath.Join(dir, "ledger")})
	require.NoError(t, err)
	t.Cleanup(func() { lg.Close() })

	return New(zaptest.NewLogger(t), store, lg, Config{GenesisHash: [32]byte{0xAB}})
}

func TestAdvanceSlotRotatesBlockhashAndPushesHistory(t *testing.T) {
	b := newTestBank(t)
	genesis := b.LastBlockhash()

	slot, err := b.AdvanceSlot(1000)
	require.NoError(t, err)
	require.Equal(t, solanatypes.Slot(1), slot)
	require.NotEqual(t, genesis, b.LastBlockhash())

	foundSlot, ok := b.RecentBlockhashContains(b.LastBlockhash())
	require.True(t, ok)
	require.Equal(t, solanatypes.Slot(1), foundSlot)
	require.Equal(t, solanatypes.Slot(1), b.Sysvars().Clock().Slot)
}

func TestAdvanceSlotIsDeterministicGivenSameHistory(t *testing.T) {
	b1 := newTestBank(t)
	b2 := newTestBank(t)
	_, err := b1.AdvanceSlot(42)
	require.NoError(t, err)
	_, err = b2.AdvanceSlot(42)
	require.NoError(t, err)
	require.Equal(t, b1.LastBlockhash(), b2.LastBlockhash())
}

type fakeExecutor struct {
	lamports uint64
}

func (f *fakeExecutor) Execute(reader AccountReader, tx *solanatypes.Transaction) (ExecutionOutcome, error) {
	target := tx.Message.AccountKeys[0]
	return ExecutionOutcome{
		Mutations: []accountsdb.Write{{Pubkey: target, Account: solanatypes.Account{Lamports: f.lamports}}},
		LogMessages: []string{"ok"},
	}, nil
}

func TestLoadExecuteAndCommitAppliesMutationsAndRecordsStatus(t *testing.T) {
	b := newTestBank(t)
	var payer solanatypes.Pubkey
	payer[0] = 1
	tx := &solanatypes.Transaction{
		Signatures: []solanatypes.Signature{{9}},
		Message:    solanatypes.Message{AccountKeys: []solanatypes.Pubkey{payer}, Header: solanatypes.MessageHeader{NumRequiredSignatures: 1}},
		Raw:        []byte("raw-tx"),
	}

	batch, err := b.PrepareSanitizedBatch([]*solanatypes.Transaction{tx})
	require.NoError(t, err)
	defer batch.Handle.Release()

	var gotStatuses int
	outcomes, err := b.LoadExecuteAndCommit(batch, &fakeExecutor{lamports: 777}, func(sig solanatypes.Signature, status ledger.TransactionStatusMeta, accountKeys []solanatypes.Pubkey) {
		gotStatuses++
	})
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	require.Equal(t, 1, gotStatuses)

	acct, ok, err := b.Store().Get(payer)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(777), acct.Lamports)

	_, found := b.StatusCache().Lookup(b.LastBlockhash(), tx.PrimarySignature())
	require.True(t, found)
}

func TestAdvanceSlotAndUpdateLedgerWritesBlockWithBufferedTxs(t *testing.T) {
	b := newTestBank(t)
	var payer solanatypes.Pubkey
	payer[0] = 2
	tx := &solanatypes.Transaction{
		Signatures: []solanatypes.Signature{{5}},
		Message:    solanatypes.Message{AccountKeys: []solanatypes.Pubkey{payer}, Header: solanatypes.MessageHeader{NumRequiredSignatures: 1}},
		Raw:        []byte("raw"),
	}
	batch, err := b.PrepareSanitizedBatch([]*solanatypes.Transaction{tx})
	require.NoError(t, err)
	_, err = b.LoadExecuteAndCommit(batch, &fakeExecutor{lamports: 5}, nil)
	require.NoError(t, err)
	batch.Handle.Release()

	prevSlot := b.Slot()
	_, err = b.AdvanceSlotAndUpdateLedger(2000)
	require.NoError(t, err)

	block, ok, err := b.ledger.GetBlock(prevSlot)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, block.Transactions, 1)
	require.Equal(t, tx.PrimarySignature(), block.Transactions[0].Signature)
}
