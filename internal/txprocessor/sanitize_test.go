package txprocessor

import (
	"crypto/ed25519"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ephemeral-svm/validator/internal/accountsdb"
	"github.com/ephemeral-svm/validator/internal/accountsdb/index"
	"github.com/ephemeral-svm/validator/internal/bank"
	"github.com/ephemeral-svm/validator/internal/ledger"
	"github.com/ephemeral-svm/validator/internal/solanatypes"
)

func newTestBankForSanitizer(t *testing.T) *bank.Bank {
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

	return bank.New(zaptest.NewLogger(t), store, lg, bank.Config{GenesisHash: solanatypes.Hash{0xAB}})
}

func legacyTxWithBlockhash(t *testing.T, signer ed25519.PrivateKey, blockhash solanatypes.Hash) *solanatypes.Transaction {
	t.Helper()
	var pub solanatypes.Pubkey
	copy(pub[:], signer.Public().(ed25519.PublicKey))
	msg := solanatypes.Message{
		Header:          solanatypes.MessageHeader{NumRequiredSignatures: 1},
		AccountKeys:     []solanatypes.Pubkey{pub},
		RecentBlockhash: blockhash,
	}
	sig := ed25519.Sign(signer, encodeMessageForSigning(msg))
	var s solanatypes.Signature
	copy(s[:], sig)
	return &solanatypes.Transaction{Signatures: []solanatypes.Signature{s}, Message: msg}
}

func TestSanitizeAcceptsFreshBlockhashAndValidSignature(t *testing.T) {
	b := newTestBankForSanitizer(t)
	_, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	tx := legacyTxWithBlockhash(t, priv, b.LastBlockhash())
	s := NewSanitizer(b)
	sanitized, err := s.Sanitize(tx)
	require.NoError(t, err)
	require.Nil(t, sanitized.CachedResult)
}

func TestSanitizeRejectsBadSignature(t *testing.T) {
	b := newTestBankForSanitizer(t)
	_, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	tx := legacyTxWithBlockhash(t, priv, b.LastBlockhash())
	tx.Signatures[0][0] ^= 0xFF

	s := NewSanitizer(b)
	_, err = s.Sanitize(tx)
	require.ErrorIs(t, err, ErrSignatureVerifyFail)
}

func TestSanitizeRejectsUnknownBlockhash(t *testing.T) {
	b := newTestBankForSanitizer(t)
	_, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	var stale solanatypes.Hash
	stale[0] = 0x99
	tx := legacyTxWithBlockhash(t, priv, stale)

	s := NewSanitizer(b)
	_, err = s.Sanitize(tx)
	require.ErrorIs(t, err, ErrBlockhashNotFound)
}

func TestSanitizeReturnsCachedResultForDuplicateTransaction(t *testing.T) {
	b := newTestBankForSanitizer(t)
	_, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	tx := legacyTxWithBlockhash(t, priv, b.LastBlockhash())
	b.StatusCache().Insert(tx.Message.RecentBlockhash, tx.PrimarySignature(), bank.StatusEntry{Slot: b.Slot()})

	s := NewSanitizer(b)
	sanitized, err := s.Sanitize(tx)
	require.NoError(t, err)
	require.NotNil(t, sanitized.CachedResult)
}

func TestSanitizeReplayModeSkipsSignatureVerification(t *testing.T) {
	b := newTestBankForSanitizer(t)
	_, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	tx := legacyTxWithBlockhash(t, priv, b.LastBlockhash())
	tx.Signatures[0][0] ^= 0xFF

	s := NewSanitizer(b, WithReplayMode(true))
	_, err = s.Sanitize(tx)
	require.NoError(t, err)
}
