package accountdumper

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ephemeral-svm/validator/internal/ledger"
	"github.com/ephemeral-svm/validator/internal/lifecycle"
	"github.com/ephemeral-svm/validator/internal/magicprogram"
	"github.com/ephemeral-svm/validator/internal/solanatypes"
	"path/filepath"
)

type recordingProgram struct {
	signer solanatypes.Pubkey
	mods   [][]magicprogram.AccountMod
}

func (r *recordingProgram) ModifyAccounts(signer solanatypes.Pubkey, mods []magicprogram.AccountMod) error {
	r.signer = signer
	r.mods = append(r.mods, mods)
	return nil
}

func pk(b byte) solanatypes.Pubkey {
	var p solanatypes.Pubkey
	p[0] = b
	return p
}

func newTestDumper(t *testing.T) (*Dumper, *recordingProgram) {
	t.Helper()
	lg, err := ledger.Open(zaptest.NewLogger(t), ledger.Config{Path: filepath.Join(t.TempDir(), "ledger")})
	require.NoError(t, err)
	t.Cleanup(func() { lg.Close() })

	var counter atomic.Uint64
	prog := &recordingProgram{}
	authority := pk(0xAA)
	d := New(zaptest.NewLogger(t), prog, lg, authority, func() uint64 { return counter.Add(1) })
	return d, prog
}

func TestDumpFeePayerSetsOnlyLamportsAndSystemOwner(t *testing.T) {
	d, prog := newTestDumper(t)
	snapshot := lifecycle.AccountChainSnapshot{
		Pubkey:  pk(1),
		Account: solanatypes.Account{Lamports: 1000, Owner: pk(99), Data: []byte("junk")},
	}
	_, err := d.Dump(context.Background(), lifecycle.DumpFeePayer, snapshot)
	require.NoError(t, err)
	require.Len(t, prog.mods, 1)
	mod := prog.mods[0][0]
	require.Equal(t, uint64(1000), *mod.Lamports)
	require.Equal(t, SystemProgramPubkey, *mod.Owner)
	require.Nil(t, mod.DataKey)
}

func TestDumpUndelegatedCarriesFullStateAndDataKey(t *testing.T) {
	d, prog := newTestDumper(t)
	remoteOwner := pk(5)
	snapshot := lifecycle.AccountChainSnapshot{
		Pubkey:  pk(2),
		Account: solanatypes.Account{Lamports: 42, Owner: remoteOwner, Executable: false, RentEpoch: 7, Data: []byte("hello")},
	}
	_, err := d.Dump(context.Background(), lifecycle.DumpUndelegated, snapshot)
	require.NoError(t, err)
	mod := prog.mods[0][0]
	require.Equal(t, remoteOwner, *mod.Owner)
	require.NotNil(t, mod.DataKey)

	data, ok, err := d.ledger.GetAccountModData(*mod.DataKey)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("hello"), data)
}

func TestDumpDelegatedOverridesOwnerToOriginal(t *testing.T) {
	d, prog := newTestDumper(t)
	original := pk(6)
	snapshot := lifecycle.AccountChainSnapshot{
		Pubkey:  pk(3),
		Account: solanatypes.Account{Lamports: 1, Owner: pk(77)},
	}
	snapshot.Delegation.Record.OriginalOwner = original
	_, err := d.Dump(context.Background(), lifecycle.DumpDelegatedAccount, snapshot)
	require.NoError(t, err)
	mod := prog.mods[0][0]
	require.Equal(t, original, *mod.Owner)
}

func TestDumpUsesValidatorAuthorityAsSigner(t *testing.T) {
	d, prog := newTestDumper(t)
	snapshot := lifecycle.AccountChainSnapshot{Pubkey: pk(4)}
	_, err := d.Dump(context.Background(), lifecycle.DumpProgram, snapshot)
	require.NoError(t, err)
	require.Equal(t, d.authority, prog.signer)
}
