package accountsdb

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ephemeral-svm/validator/internal/accountsdb/index"
	"github.com/ephemeral-svm/validator/internal/solanatypes"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	cfg := Config{
		MainFilePath: filepath.Join(dir, "main.data"),
		BlockSize:    Block256,
		SnapshotDir:  filepath.Join(dir, "snapshots"),
		SnapshotFreq: 50,
		MaxSnapshots: 2,
	}
	st, err := Open(zaptest.NewLogger(t), cfg, index.NewMemIndex())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func pk(b byte) solanatypes.Pubkey {
	var p solanatypes.Pubkey
	p[0] = b
	return p
}

func TestStoreReadYourWrites(t *testing.T) {
	st := newTestStore(t)
	a := pk(1)
	acct := solanatypes.Account{Lamports: 111, Owner: pk(9), Data: []byte("hello")}

	require.NoError(t, st.StoreBatch(5, []Write{{Pubkey: a, Account: acct}}))

	got, ok, err := st.Get(a)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, acct, got)
	require.Equal(t, solanatypes.Slot(5), st.CurrentSlot())
}

func TestStoreGetMissingIsNotError(t *testing.T) {
	st := newTestStore(t)
	_, ok, err := st.Get(pk(42))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestStoreScanByOwnerOrdered(t *testing.T) {
	st := newTestStore(t)
	owner := pk(7)
	writes := []Write{
		{Pubkey: pk(3), Account: solanatypes.Account{Owner: owner, Lamports: 3}},
		{Pubkey: pk(1), Account: solanatypes.Account{Owner: owner, Lamports: 1}},
		{Pubkey: pk(2), Account: solanatypes.Account{Owner: owner, Lamports: 2}},
		{Pubkey: pk(9), Account: solanatypes.Account{Owner: pk(8), Lamports: 9}},
	}
	require.NoError(t, st.StoreBatch(1, writes))

	var seen []solanatypes.Pubkey
	require.NoError(t, st.ScanByOwner(owner, func(ka solanatypes.KeyedAccount) bool {
		seen = append(seen, ka.Pubkey)
		return true
	}))
	require.Equal(t, []solanatypes.Pubkey{pk(1), pk(2), pk(3)}, seen)
}

func TestStoreSnapshotIsolationAndRestore(t *testing.T) {
	st := newTestStore(t)
	a := pk(1)
	require.NoError(t, st.StoreBatch(10, []Write{{Pubkey: a, Account: solanatypes.Account{Lamports: 100}}}))

	handle, err := st.Snapshot(10, solanatypes.Hash{0x11})
	require.NoError(t, err)

	// Writes after the snapshot must not affect the saved state.
	require.NoError(t, st.StoreBatch(11, []Write{{Pubkey: a, Account: solanatypes.Account{Lamports: 200}}}))
	got, _, err := st.Get(a)
	require.NoError(t, err)
	require.Equal(t, uint64(200), got.Lamports)

	require.NoError(t, st.Restore(handle))
	got, _, err = st.Get(a)
	require.NoError(t, err)
	require.Equal(t, uint64(100), got.Lamports)
	require.Equal(t, solanatypes.Slot(10), st.CurrentSlot())
}

func TestAccountLocksExcludeConflictingWriters(t *testing.T) {
	locks := NewAccountLocks()
	a := pk(1)

	guard, err := locks.TryLockBatch([]solanatypes.Pubkey{a}, nil)
	require.NoError(t, err)

	_, err = locks.TryLockBatch([]solanatypes.Pubkey{a}, nil)
	require.Error(t, err)

	guard.Release()

	guard2, err := locks.TryLockBatch([]solanatypes.Pubkey{a}, nil)
	require.NoError(t, err)
	guard2.Release()
}

func TestAccountLocksAllowMultipleReaders(t *testing.T) {
	locks := NewAccountLocks()
	a := pk(1)

	g1, err := locks.TryLockBatch(nil, []solanatypes.Pubkey{a})
	require.NoError(t, err)
	g2, err := locks.TryLockBatch(nil, []solanatypes.Pubkey{a})
	require.NoError(t, err)

	_, err = locks.TryLockBatch([]solanatypes.Pubkey{a}, nil)
	require.Error(t, err)

	g1.Release()
	g2.Release()

	g3, err := locks.TryLockBatch([]solanatypes.Pubkey{a}, nil)
	require.NoError(t, err)
	g3.Release()
}
