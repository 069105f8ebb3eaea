package rpc

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ephemeral-svm/validator/internal/accountsdb"
	"github.com/ephemeral-svm/validator/internal/accountsdb/index"
	"github.com/ephemeral-svm/validator/internal/bank"
	"github.com/ephemeral-svm/validator/internal/ledger"
	"github.com/ephemeral-svm/validator/internal/solanatypes"
	"github.com/ephemeral-svm/validator/internal/txprocessor"
)

func newTestServer(t *testing.T) *Server {
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

	b := bank.New(zaptest.NewLogger(t), store, lg, bank.Config{GenesisHash: solanatypes.Hash{0xAB}})
	proc := txprocessor.NewProcessor(b, nil)
	return New(zaptest.NewLogger(t), b, lg, proc)
}

func call(t *testing.T, s *Server, method string, params any) map[string]any {
	t.Helper()
	body, err := json.Marshal(map[string]any{"jsonrpc": "2.0", "id": 1, "method": method, "params": params})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestServerGetHealthAndVersion(t *testing.T) {
	s := newTestServer(t)

	resp := call(t, s, "getHealth", []any{})
	require.Equal(t, "ok", resp["result"])

	resp = call(t, s, "getVersion", []any{})
	require.NotNil(t, resp["result"])
}

func TestServerGetSlotAndLatestBlockhash(t *testing.T) {
	s := newTestServer(t)

	resp := call(t, s, "getSlot", []any{})
	require.Equal(t, float64(0), resp["result"])

	resp = call(t, s, "getLatestBlockhash", []any{})
	value := resp["result"].(map[string]any)
	require.NotEmpty(t, value["blockhash"])
}

func TestServerGetAccountInfoMissingAccount(t *testing.T) {
	s := newTestServer(t)
	var pk solanatypes.Pubkey
	pk[0] = 9

	resp := call(t, s, "getAccountInfo", []any{pk.String()})
	value := resp["result"].(map[string]any)
	require.Nil(t, value["value"])
}

func TestServerGetBalanceForMissingAccount(t *testing.T) {
	s := newTestServer(t)
	var pk solanatypes.Pubkey
	pk[0] = 3

	resp := call(t, s, "getBalance", []any{pk.String()})
	value := resp["result"].(map[string]any)
	require.Equal(t, float64(0), value["value"])
}

func TestServerUnknownMethodReturnsError(t *testing.T) {
	s := newTestServer(t)
	resp := call(t, s, "notARealMethod", []any{})
	require.NotNil(t, resp["error"])
}

func TestServerGetBlockNotAvailable(t *testing.T) {
	s := newTestServer(t)
	resp := call(t, s, "getBlock", []any{uint64(1)})
	require.NotNil(t, resp["error"])
}
