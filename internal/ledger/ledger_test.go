package ledger

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ephemeral-svm/validator/internal/solanatypes"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := Open(zaptest.NewLogger(t), Config{Path: filepath.Join(t.TempDir(), "ledger")})
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func sig(b byte) solanatypes.Signature {
	var s solanatypes.Signature
	s[0] = b
	return s
}

func pubkey(b byte) solanatypes.Pubkey {
	var p solanatypes.Pubkey
	p[0] = b
	return p
}

func TestLedgerWriteBlockRoundTrip(t *testing.T) {
	l := newTestLedger(t)
	meta := BlockMeta{BlockTime: 1000, Blockhash: [32]byte{1}, PreviousBlockhash: [32]byte{0}}
	txs := []PendingTransaction{
		{Signature: sig(1), TxBytes: []byte("tx-a"), Status: TransactionStatusMeta{Slot: 5, Fee: 10}, Writable: []solanatypes.Pubkey{pubkey(1)}},
		{Signature: sig(2), TxBytes: []byte("tx-b"), Status: TransactionStatusMeta{Slot: 5, Err: "InsufficientFunds"}, Writable: []solanatypes.Pubkey{pubkey(1), pubkey(2)}},
	}
	require.NoError(t, l.WriteBlock(5, meta, txs))

	block, ok, err := l.GetBlock(5)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint32(2), block.Meta.TxCount)
	require.Len(t, block.Transactions, 2)
	require.Equal(t, sig(1), block.Transactions[0].Signature)
	require.Equal(t, []byte("tx-a"), block.Transactions[0].TxBytes)
	require.Equal(t, uint64(10), block.Transactions[0].Status.Fee)
	require.Equal(t, sig(2), block.Transactions[1].Signature)
	require.Equal(t, "InsufficientFunds", block.Transactions[1].Status.Err)

	tip, ok, err := l.TipSlot()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, solanatypes.Slot(5), tip)
}

func TestLedgerGetBlockMissing(t *testing.T) {
	l := newTestLedger(t)
	_, ok, err := l.GetBlock(99)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestLedgerSignaturesForAddressNewestFirst(t *testing.T) {
	l := newTestLedger(t)
	a := pubkey(5)
	require.NoError(t, l.WriteBlock(1, BlockMeta{}, []PendingTransaction{
		{Signature: sig(1), TxBytes: []byte("x"), Writable: []solanatypes.Pubkey{a}},
	}))
	require.NoError(t, l.WriteBlock(2, BlockMeta{}, []PendingTransaction{
		{Signature: sig(2), TxBytes: []byte("y"), Writable: []solanatypes.Pubkey{a}},
	}))

	sigs, err := l.SignaturesForAddress(a, 0)
	require.NoError(t, err)
	require.Equal(t, []solanatypes.Signature{sig(2), sig(1)}, sigs)
}

func TestLedgerAccountModDataChunksAndReassembles(t *testing.T) {
	l := newTestLedger(t)
	data := make([]byte, accountModChunkSize*2+17)
	for i := range data {
		data[i] = byte(i)
	}
	require.NoError(t, l.PutAccountModData(42, data))

	got, ok, err := l.GetAccountModData(42)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, data, got)

	require.NoError(t, l.DeleteAccountModData(42))
	_, ok, err = l.GetAccountModData(42)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestLedgerDeleteRange(t *testing.T) {
	l := newTestLedger(t)
	require.NoError(t, l.Put(Blocks, slotKey(1), encodeBlockMeta(BlockMeta{})))
	require.NoError(t, l.Put(Blocks, slotKey(2), encodeBlockMeta(BlockMeta{})))
	require.NoError(t, l.Put(Blocks, slotKey(3), encodeBlockMeta(BlockMeta{})))

	require.NoError(t, l.DeleteRange(Blocks, slotKey(1), slotKey(3)))

	_, ok, err := l.Get(Blocks, slotKey(1))
	require.NoError(t, err)
	require.False(t, ok)
	_, ok, err = l.Get(Blocks, slotKey(2))
	require.NoError(t, err)
	require.False(t, ok)
	_, ok, err = l.Get(Blocks, slotKey(3))
	require.NoError(t, err)
	require.True(t, ok)
}

func TestLedgerResetWipesPriorData(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "ledger")
	l, err := Open(zaptest.NewLogger(t), Config{Path: dir})
	require.NoError(t, err)
	require.NoError(t, l.WriteBlock(1, BlockMeta{}, nil))
	require.NoError(t, l.Close())

	l2, err := Open(zaptest.NewLogger(t), Config{Path: dir, Reset: true})
	require.NoError(t, err)
	t.Cleanup(func() { l2.Close() })

	_, ok, err := l2.GetBlock(1)
	require.NoError(t, err)
	require.False(t, ok)
}
