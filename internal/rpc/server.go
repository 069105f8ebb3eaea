// Package rpc implements the thin external JSON-RPC 2.0 surface (spec
// §6 "External Interfaces"): a representative subset of the standard
// Solana RPC method set, routed with go-chi/chi and CORS-guarded with
// go-chi/cors, the same way pubsub's transport.go serves its
// WebSocket-framed subset of the protocol.
package rpc

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/ephemeral-svm/validator/internal/bank"
	"github.com/ephemeral-svm/validator/internal/ledger"
	"github.com/ephemeral-svm/validator/internal/lifecycle"
	"github.com/ephemeral-svm/validator/internal/solanatypes"
	"github.com/ephemeral-svm/validator/internal/txprocessor"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const version = "0.1.0"

type rpcRequest struct {
	JSONRPC string              `json:"jsonrpc"`
	ID      jsoniter.RawMessage `json:"id"`
	Method  string              `json:"method"`
	Params  jsoniter.RawMessage `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	JSONRPC string              `json:"jsonrpc"`
	ID      jsoniter.RawMessage `json:"id"`
	Result  any                 `json:"result,omitempty"`
	Error   *rpcError           `json:"error,omitempty"`
}

// LedgerReader is the narrow ledger surface getBlock-equivalent calls
// need; *ledger.Ledger satisfies it.
type LedgerReader interface {
	GetBlock(slot solanatypes.Slot) (ledger.Block, bool, error)
}

// Server answers spec §6's JSON-RPC subset over HTTP POST, backed
// directly by the bank, accounts store and transaction processor —
// no intermediate service layer, matching how pubsub.Server adapts
// Hub straight onto the wire.
type Server struct {
	log    *zap.Logger
	bank   *bank.Bank
	ledger LedgerReader
	proc   *txprocessor.Processor
	cloner lifecycle.Cloner
}

func New(log *zap.Logger, b *bank.Bank, lg LedgerReader, proc *txprocessor.Processor) *Server {
	return &Server{log: log, bank: b, ledger: lg, proc: proc}
}

// SetCloner attaches the on-demand account cloner getAccountInfo falls
// back to when a requested pubkey has no local copy yet.
func (s *Server) SetCloner(c lifecycle.Cloner) {
	s.cloner = c
}

// Router builds the chi mux: one POST route carrying every JSON-RPC
// method, CORS-enabled for browser-based clients (spec §6 notes the
// RPC surface is reachable from wallet/dapp frontends).
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
	}))
	r.Post("/", s.handle)
	r.Get("/health", s.handleHealth)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, nil, -32700, "parse error")
		return
	}

	result, rpcErr := s.dispatch(r.Context(), req.Method, req.Params)
	if rpcErr != nil {
		s.writeError(w, req.ID, rpcErr.Code, rpcErr.Message)
		return
	}
	s.writeResult(w, req.ID, result)
}

func (s *Server) writeResult(w http.ResponseWriter, id jsoniter.RawMessage, result any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(rpcResponse{JSONRPC: "2.0", ID: id, Result: result})
}

func (s *Server) writeError(w http.ResponseWriter, id jsoniter.RawMessage, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(rpcResponse{JSONRPC: "2.0", ID: id, Error: &rpcError{Code: code, Message: message}})
}

func (s *Server) dispatch(ctx context.Context, method string, params jsoniter.RawMessage) (any, *rpcError) {
	switch method {
	case "getHealth":
		return "ok", nil
	case "getVersion":
		return map[string]string{"solana-core": version}, nil
	case "getSlot":
		return uint64(s.bank.Slot()), nil
	case "getLatestBlockhash":
		return s.getLatestBlockhash()
	case "getAccountInfo":
		return s.getAccountInfo(ctx, params)
	case "getBalance":
		return s.getBalance(params)
	case "getTransactionCount":
		return s.bank.TransactionCount(), nil
	case "getSignatureStatuses":
		return s.getSignatureStatuses(params)
	case "sendTransaction":
		return s.sendTransaction(params)
	case "getBlock":
		return s.getBlock(params)
	default:
		return nil, &rpcError{Code: -32601, Message: "method not found"}
	}
}

func (s *Server) getLatestBlockhash() (any, *rpcError) {
	return map[string]any{
		"blockhash":            s.bank.LastBlockhash().String(),
		"lastValidBlockHeight": uint64(s.bank.Slot()),
	}, nil
}

func (s *Server) getAccountInfo(ctx context.Context, params jsoniter.RawMessage) (any, *rpcError) {
	var raw [1]string
	if err := json.Unmarshal(params, &raw); err != nil {
		return nil, &rpcError{Code: -32602, Message: "invalid params"}
	}
	pubkey, err := solanatypes.PubkeyFromBase58(raw[0])
	if err != nil {
		return nil, &rpcError{Code: -32602, Message: "invalid pubkey"}
	}
	account, ok, err := s.bank.Store().Get(pubkey)
	if err != nil {
		return nil, &rpcError{Code: -32603, Message: err.Error()}
	}
	if !ok && s.cloner != nil {
		if _, cloneErr := s.cloner.CloneAccount(ctx, pubkey); cloneErr == nil {
			account, ok, err = s.bank.Store().Get(pubkey)
			if err != nil {
				return nil, &rpcError{Code: -32603, Message: err.Error()}
			}
		}
	}
	if !ok {
		return map[string]any{"context": contextValue(s.bank.Slot()), "value": nil}, nil
	}
	return map[string]any{
		"context": contextValue(s.bank.Slot()),
		"value": map[string]any{
			"lamports":   account.Lamports,
			"owner":      account.Owner.String(),
			"executable": account.Executable,
			"rentEpoch":  account.RentEpoch,
			"data":       account.Data,
		},
	}, nil
}

func (s *Server) getBalance(params jsoniter.RawMessage) (any, *rpcError) {
	var raw [1]string
	if err := json.Unmarshal(params, &raw); err != nil {
		return nil, &rpcError{Code: -32602, Message: "invalid params"}
	}
	pubkey, err := solanatypes.PubkeyFromBase58(raw[0])
	if err != nil {
		return nil, &rpcError{Code: -32602, Message: "invalid pubkey"}
	}
	account, _, err := s.bank.Store().Get(pubkey)
	if err != nil {
		return nil, &rpcError{Code: -32603, Message: err.Error()}
	}
	return map[string]any{"context": contextValue(s.bank.Slot()), "value": account.Lamports}, nil
}

func (s *Server) getSignatureStatuses(params jsoniter.RawMessage) (any, *rpcError) {
	var raw [1][]string
	if err := json.Unmarshal(params, &raw); err != nil {
		return nil, &rpcError{Code: -32602, Message: "invalid params"}
	}
	statuses := make([]any, len(raw[0]))
	for i, text := range raw[0] {
		sig, err := solanatypes.SignatureFromBase58(text)
		if err != nil {
			continue
		}
		if entry, ok := s.bank.StatusCache().LookupAny(sig); ok {
			statuses[i] = map[string]any{"slot": uint64(entry.Slot), "err": errValue(entry.Err), "confirmationStatus": "confirmed"}
		}
	}
	return map[string]any{"context": contextValue(s.bank.Slot()), "value": statuses}, nil
}

func (s *Server) sendTransaction(params jsoniter.RawMessage) (any, *rpcError) {
	var raw [1]string
	if err := json.Unmarshal(params, &raw); err != nil {
		return nil, &rpcError{Code: -32602, Message: "invalid params"}
	}
	outcomes, errs := s.proc.ProcessTransactions([]string{raw[0]})
	if errs[0] != nil {
		return nil, &rpcError{Code: -32003, Message: errs[0].Error()}
	}
	if len(outcomes) == 0 {
		return nil, &rpcError{Code: -32003, Message: "transaction was not executed"}
	}
	tx, err := txprocessor.DecodeWireTransaction(raw[0])
	if err != nil {
		return nil, &rpcError{Code: -32602, Message: "invalid params"}
	}
	return tx.PrimarySignature().String(), nil
}

func (s *Server) getBlock(params jsoniter.RawMessage) (any, *rpcError) {
	var raw [1]uint64
	if err := json.Unmarshal(params, &raw); err != nil {
		return nil, &rpcError{Code: -32602, Message: "invalid params"}
	}
	block, ok, err := s.ledger.GetBlock(solanatypes.Slot(raw[0]))
	if err != nil {
		return nil, &rpcError{Code: -32603, Message: err.Error()}
	}
	if !ok {
		return nil, &rpcError{Code: -32004, Message: "block not available"}
	}
	txs := make([]any, len(block.Transactions))
	for i, tx := range block.Transactions {
		txs[i] = map[string]any{
			"signature": tx.Signature.String(),
			"err":       errValue(tx.Status.Err),
		}
	}
	return map[string]any{
		"blockhash":         block.Meta.Blockhash.String(),
		"previousBlockhash": block.Meta.PreviousBlockhash.String(),
		"blockTime":         block.Meta.BlockTime,
		"transactions":      txs,
	}, nil
}

func contextValue(slot solanatypes.Slot) map[string]any {
	return map[string]any{"slot": uint64(slot)}
}

func errValue(txErr string) any {
	if txErr == "" {
		return nil
	}
	return txErr
}
