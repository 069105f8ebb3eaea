package magicprogram

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ephemeral-svm/validator/internal/accountsdb"
	"github.com/ephemeral-svm/validator/internal/accountsdb/index"
	"github.com/ephemeral-svm/validator/internal/ledger"
	"github.com/ephemeral-svm/validator/internal/lifecycle"
	"github.com/ephemeral-svm/validator/internal/lifecycle/stub"
	"github.com/ephemeral-svm/validator/internal/solanatypes"
)

func pk(b byte) solanatypes.Pubkey {
	var p solanatypes.Pubkey
	p[0] = b
	return p
}

func newTestProgram(t *testing.T) (*Program, *accountsdb.Store, *ledger.Ledger, *stub.AccountsProvider, solanatypes.Pubkey) {
	t.Helper()
	dir := t.TempDir()
	store, err := accountsdb.Open(zaptest.NewLogger(t), accountsdb.Config{
		MainFilePath: filepath.Join(dir, "main.data"),
		BlockSize:    accountsdb.Block256,
	}, index.NewMemIndex())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	lg, err := ledger.Open(zaptest.NewLogger(t), ledger.Config{Path: filepath.Join(dir, "ledger")})
	require.NoError(t, err)
	t.Cleanup(func() { lg.Close() })

	provider := stub.NewAccountsProvider()
	authority := pk(0xAA)
	slot := solanatypes.Slot(1)
	p := New(zaptest.NewLogger(t), store, lg, provider, authority, func() solanatypes.Slot { return slot })
	return p, store, lg, provider, authority
}

func TestModifyAccountsRequiresAuthority(t *testing.T) {
	p, _, _, _, _ := newTestProgram(t)
	err := p.ModifyAccounts(pk(1), []AccountMod{{Pubkey: pk(2)}})
	require.ErrorIs(t, err, ErrInternal)
}

func TestModifyAccountsAppliesFieldsAndDataKey(t *testing.T) {
	p, store, lg, _, authority := newTestProgram(t)
	target := pk(7)
	require.NoError(t, lg.PutAccountModData(42, []byte("hello world")))

	newLamports := uint64(500)
	newOwner := pk(9)
	dataKey := uint64(42)
	err := p.ModifyAccounts(authority, []AccountMod{
		{Pubkey: target, Lamports: &newLamports, Owner: &newOwner, DataKey: &dataKey},
	})
	require.NoError(t, err)

	acct, ok, err := store.Get(target)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, newLamports, acct.Lamports)
	require.Equal(t, newOwner, acct.Owner)
	require.Equal(t, []byte("hello world"), acct.Data)
}

func TestScheduleCommitRejectsUndelegatedAccounts(t *testing.T) {
	p, _, _, _, _ := newTestProgram(t)
	_, err := p.ScheduleCommit(pk(1), pk(2), []solanatypes.Pubkey{pk(3)}, false, nil)
	require.ErrorIs(t, err, ErrAccountNotDelegated)
}

func TestScheduleCommitRejectsProgramAsPayer(t *testing.T) {
	p, _, _, provider, _ := newTestProgram(t)
	acct := pk(3)
	provider.SetDelegated(acct, lifecycle.DelegationRecord{})
	_, err := p.ScheduleCommit(ProgramID, pk(2), []solanatypes.Pubkey{acct}, false, nil)
	require.ErrorIs(t, err, ErrProgramCannotBePayer)
}

func TestScheduleCommitRejectsTooManyAccounts(t *testing.T) {
	p, _, _, provider, _ := newTestProgram(t)
	accounts := make([]solanatypes.Pubkey, maxCommitteesPerCommit+1)
	for i := range accounts {
		accounts[i] = pk(byte(i % 255))
		provider.SetDelegated(accounts[i], lifecycle.DelegationRecord{})
	}
	_, err := p.ScheduleCommit(pk(1), pk(2), accounts, false, nil)
	require.ErrorIs(t, err, ErrTooManyAccounts)
}

func TestScheduleCommitAndAcceptRoundTrip(t *testing.T) {
	p, _, _, provider, authority := newTestProgram(t)
	acct := pk(3)
	provider.SetDelegated(acct, lifecycle.DelegationRecord{})

	id, err := p.ScheduleCommit(pk(1), pk(2), []solanatypes.Pubkey{acct}, true, []byte("tx"))
	require.NoError(t, err)
	require.Equal(t, uint64(0), id)

	id2, err := p.ScheduleCommit(pk(1), pk(2), []solanatypes.Pubkey{acct}, false, nil)
	require.NoError(t, err)
	require.Equal(t, uint64(1), id2)

	_, err = p.AcceptScheduleCommits(pk(99))
	require.ErrorIs(t, err, ErrInternal)

	commits, err := p.AcceptScheduleCommits(authority)
	require.NoError(t, err)
	require.Len(t, commits, 2)
	require.True(t, commits[0].RequestUndelegation)
	require.False(t, commits[1].RequestUndelegation)

	again, err := p.AcceptScheduleCommits(authority)
	require.NoError(t, err)
	require.Empty(t, again)
}
