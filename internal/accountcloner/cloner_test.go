package accountcloner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ephemeral-svm/validator/internal/lifecycle"
	"github.com/ephemeral-svm/validator/internal/lifecycle/stub"
	"github.com/ephemeral-svm/validator/internal/solanatypes"
)

func pk(b byte) solanatypes.Pubkey {
	var p solanatypes.Pubkey
	p[0] = b
	return p
}

func newTestCloner(t *testing.T, perms Permissions) (*Cloner, *stub.Fetcher, *stub.Updates, *stub.Dumper) {
	t.Helper()
	fetcher := stub.NewFetcher()
	updates := stub.NewUpdates()
	dumper := stub.NewDumper()
	bl := StandardBlacklist(pk(0xF0), pk(0xF1), pk(0xF2), pk(0xF3))
	c := New(zaptest.NewLogger(t), fetcher, updates, dumper, bl, perms, nil)
	return c, fetcher, updates, dumper
}

func TestCloneAccountRejectsBlacklisted(t *testing.T) {
	c, _, _, _ := newTestCloner(t, PermissionsForMode(Ephemeral))
	out, err := c.CloneAccount(context.Background(), SystemProgramPubkey)
	require.NoError(t, err)
	require.False(t, out.Cloned)
	require.Equal(t, SystemProgramPubkey, out.Unclonable.Pubkey)
}

func TestCloneAccountRejectsLocalOverride(t *testing.T) {
	fetcher := stub.NewFetcher()
	updates := stub.NewUpdates()
	dumper := stub.NewDumper()
	bl := StandardBlacklist(pk(0xF0), pk(0xF1), pk(0xF2), pk(0xF3))
	target := pk(5)
	c := New(zaptest.NewLogger(t), fetcher, updates, dumper, bl, PermissionsForMode(Ephemeral), func(p solanatypes.Pubkey) bool { return p == target })

	out, err := c.CloneAccount(context.Background(), target)
	require.NoError(t, err)
	require.False(t, out.Cloned)
}

func TestCloneAccountDispatchesUndelegatedDumpAndEnsuresMonitoring(t *testing.T) {
	c, fetcher, updates, dumper := newTestCloner(t, PermissionsForMode(Ephemeral))
	target := pk(9)
	fetcher.Responses[target] = []lifecycle.AccountChainSnapshot{
		{Pubkey: target, AtSlot: 0, State: lifecycle.Undelegated, Account: solanatypes.Account{Lamports: 10}},
	}

	out, err := c.CloneAccount(context.Background(), target)
	require.NoError(t, err)
	require.True(t, out.Cloned)
	require.Len(t, dumper.Calls, 1)
	_, monitored := updates.FirstSubscribedSlot(target)
	require.True(t, monitored)
}

func TestCloneAccountDeniedByPermissionsIsUnclonable(t *testing.T) {
	perms := PermissionsForMode(Offline)
	c, fetcher, _, dumper := newTestCloner(t, perms)
	target := pk(11)
	fetcher.Responses[target] = []lifecycle.AccountChainSnapshot{
		{Pubkey: target, AtSlot: 0, State: lifecycle.Undelegated, Account: solanatypes.Account{Lamports: 10}},
	}

	out, err := c.CloneAccount(context.Background(), target)
	require.NoError(t, err)
	require.False(t, out.Cloned)
	require.Empty(t, dumper.Calls)
}

func TestCloneAccountUsesCacheWithinEpsilon(t *testing.T) {
	c, fetcher, updates, dumper := newTestCloner(t, PermissionsForMode(Ephemeral))
	target := pk(13)
	fetcher.Responses[target] = []lifecycle.AccountChainSnapshot{
		{Pubkey: target, AtSlot: 0, State: lifecycle.Undelegated, Account: solanatypes.Account{Lamports: 10}},
	}

	_, err := c.CloneAccount(context.Background(), target)
	require.NoError(t, err)
	require.Len(t, dumper.Calls, 1)

	updates.PushUpdate(target, 2)
	_, err = c.CloneAccount(context.Background(), target)
	require.NoError(t, err)
	require.Len(t, dumper.Calls, 1, "second clone within epsilon should use the cache, not re-dump")
}

func TestCloneAccountProgramFetchesAndDumpsProgramData(t *testing.T) {
	c, fetcher, _, dumper := newTestCloner(t, PermissionsForMode(Replica))
	program := pk(21)
	programData := pk(22)

	data := make([]byte, 4+solanatypes.PubkeyLen)
	data[0] = 2 // UpgradeableLoaderState::Program tag
	copy(data[4:], programData[:])

	fetcher.Responses[program] = []lifecycle.AccountChainSnapshot{
		{Pubkey: program, AtSlot: 0, State: lifecycle.Undelegated, Account: solanatypes.Account{
			Executable: true,
			Owner:      BPFLoaderUpgradeablePubkey,
			Data:       data,
		}},
	}
	fetcher.Responses[programData] = []lifecycle.AccountChainSnapshot{
		{Pubkey: programData, AtSlot: 0, State: lifecycle.Undelegated, Account: solanatypes.Account{
			Owner: BPFLoaderUpgradeablePubkey,
			Data:  []byte{3, 0, 0, 0, 9, 9, 9},
		}},
	}

	out, err := c.CloneAccount(context.Background(), program)
	require.NoError(t, err)
	require.True(t, out.Cloned)
	require.Equal(t, []solanatypes.Pubkey{programData}, out.AdditionalAccounts)
	require.Len(t, dumper.Calls, 2)
	require.Equal(t, program, dumper.Calls[0].Pubkey)
	require.Equal(t, programData, dumper.Calls[1].Pubkey)
	require.Contains(t, fetcher.Calls, programData)
}
