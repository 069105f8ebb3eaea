package config

import (
	"crypto/ed25519"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

func TestLoadAppliesFileOverDefaults(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "evalidator.toml", []byte(`
[accounts]
remote = "mainnet"
lifecycle = "replica"

[rpc]
port = 8900
`), 0o644))

	cfg, err := Load(fs, "evalidator.toml")
	require.NoError(t, err)
	require.Equal(t, "mainnet", cfg.Accounts.Remote)
	require.Equal(t, "replica", cfg.Accounts.Lifecycle)
	require.Equal(t, 8900, cfg.RPC.Port)
	require.Equal(t, "0.0.0.0", cfg.RPC.Addr, "unset keys keep their default")
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	fs := afero.NewMemMapFs()
	cfg, err := Load(fs, "missing.toml")
	require.NoError(t, err)
	require.Equal(t, "devnet", cfg.Accounts.Remote)
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	fs := afero.NewMemMapFs()
	t.Setenv("EVALIDATOR_RPC_PORT", "9999")
	t.Setenv("EVALIDATOR_LEDGER_RESET", "true")

	cfg, err := Load(fs, "")
	require.NoError(t, err)
	require.Equal(t, 9999, cfg.RPC.Port)
	require.True(t, cfg.Ledger.Reset)
}

func TestEnsureLedgerLayoutCreatesDirsAndLocks(t *testing.T) {
	fs := afero.NewMemMapFs()
	cfg := Default()
	cfg.Ledger.Path = "ledger"

	layout, err := EnsureLedgerLayout(fs, cfg)
	require.NoError(t, err)

	exists, err := afero.DirExists(fs, layout.AccountsSnapshot)
	require.NoError(t, err)
	require.True(t, exists)

	locked, err := afero.Exists(fs, layout.LockFile)
	require.NoError(t, err)
	require.True(t, locked)

	_, err = EnsureLedgerLayout(fs, cfg)
	require.ErrorIs(t, err, ErrLedgerLocked)

	require.NoError(t, ReleaseLedgerLock(fs, layout))
	_, err = EnsureLedgerLayout(fs, cfg)
	require.NoError(t, err)
}

func TestEnsureKeypairGeneratesThenReuses(t *testing.T) {
	fs := afero.NewMemMapFs()
	const path = "ledger/validator-keypair.json"

	pub1, err := EnsureKeypair(fs, path)
	require.NoError(t, err)
	require.Len(t, pub1, ed25519.PublicKeySize)

	pub2, err := EnsureKeypair(fs, path)
	require.NoError(t, err)
	require.Equal(t, pub1, pub2, "second call must reuse the persisted keypair")
}
