package commit

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/ephemeral-svm/validator/internal/lifecycle"
	"github.com/ephemeral-svm/validator/internal/solanatypes"
)

// BaseChainClient is the narrow surface the engine needs from a base
// chain RPC connection; a real implementation lives outside this
// package's test scope, mirroring how C5's Fetcher takes a
// RemoteFetcher interface.
type BaseChainClient interface {
	LatestBlockhash(ctx context.Context) (solanatypes.Hash, error)
	SendTransaction(ctx context.Context, tx *solanatypes.Transaction) error
	ConfirmTransaction(ctx context.Context, sig solanatypes.Signature) (confirmed bool, err error)
}

// Config configures the committer's signing identity and fee policy
// (spec §6 "committer keypair", "compute unit price").
type Config struct {
	CommitterKey     ed25519.PrivateKey
	ComputeUnitPrice uint64
	RetryBackoff     backoff.BackOff
}

// Engine implements lifecycle.Committer plus the supplemented
// TriggerCommit side channel (SPEC_FULL §11 feature 3).
type Engine struct {
	log    *zap.Logger
	client BaseChainClient
	cfg    Config

	committerPubkey solanatypes.Pubkey

	mu        sync.Mutex
	lastData  map[solanatypes.Pubkey][]byte
	startedAt map[solanatypes.Signature]time.Time
}

func New(log *zap.Logger, client BaseChainClient, cfg Config) *Engine {
	committer := cfg.CommitterKey.Public().(ed25519.PublicKey)
	var committerPubkey solanatypes.Pubkey
	copy(committerPubkey[:], committer)
	if cfg.RetryBackoff == nil {
		cfg.RetryBackoff = backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5)
	}
	return &Engine{
		log:             log,
		client:          client,
		cfg:             cfg,
		committerPubkey: committerPubkey,
		lastData:        make(map[solanatypes.Pubkey][]byte),
		startedAt:       make(map[solanatypes.Signature]time.Time),
	}
}

var _ lifecycle.Committer = (*Engine)(nil)

// CreateCommitAccountsTransaction drops pubkeys whose data is
// byte-identical to the last commit, then builds one three- or
// four-instruction transaction per surviving committee (compute-unit
// price, commit_state, finalize, plus undelegate when requested) (spec
// §4.5 C9 contract, first bullet).
func (e *Engine) CreateCommitAccountsTransaction(committees []lifecycle.AccountCommittee) ([]lifecycle.CommitAccountsPayload, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var payloads []lifecycle.CommitAccountsPayload
	for _, committee := range committees {
		if prior, ok := e.lastData[committee.Pubkey]; ok && bytes.Equal(prior, committee.Data) {
			continue
		}

		instructions := []solanatypes.Instruction{
			computeUnitPriceInstruction(e.cfg.ComputeUnitPrice),
			commitStateInstruction(e.committerPubkey, committee.Pubkey, committee.Data),
			finalizeInstruction(e.committerPubkey, committee.Pubkey),
		}
		var undelegated []solanatypes.Pubkey
		if committee.RequestUndelegation {
			instructions = append(instructions, undelegateInstruction(e.committerPubkey, committee.Pubkey, committee.OriginalOwner))
			undelegated = append(undelegated, committee.Pubkey)
		}

		msg := buildMessage(e.committerPubkey, instructions)
		tx := &solanatypes.Transaction{Message: msg}
		payloads = append(payloads, lifecycle.CommitAccountsPayload{
			Transaction:         tx,
			Accounts:            []solanatypes.Pubkey{committee.Pubkey},
			UndelegatedAccounts: undelegated,
		})
		e.lastData[committee.Pubkey] = committee.Data
	}
	return payloads, nil
}

// SendCommitTransactions signs every payload with a fresh blockhash and
// submits them. It is all-or-nothing: the first failure aborts the
// batch so the caller never observes a partially-sent vector (spec §4.5
// C9 contract, second bullet).
func (e *Engine) SendCommitTransactions(payloads []lifecycle.CommitAccountsPayload) ([]lifecycle.PendingCommitTransaction, error) {
	if len(payloads) == 0 {
		return nil, nil
	}
	ctx := context.Background()
	blockhash, err := e.client.LatestBlockhash(ctx)
	if err != nil {
		return nil, fmt.Errorf("commit: fetch latest blockhash: %w", err)
	}

	pending := make([]lifecycle.PendingCommitTransaction, 0, len(payloads))
	for _, payload := range payloads {
		payload.Transaction.Message.RecentBlockhash = blockhash
		sig := e.sign(payload.Transaction)
		payload.Transaction.Signatures = []solanatypes.Signature{sig}

		op := func() error { return e.client.SendTransaction(ctx, payload.Transaction) }
		if err := backoff.Retry(op, e.cfg.RetryBackoff); err != nil {
			return nil, fmt.Errorf("commit: send transaction for %v: %w", payload.Accounts, err)
		}

		e.mu.Lock()
		e.startedAt[sig] = time.Now()
		e.mu.Unlock()

		pending = append(pending, lifecycle.PendingCommitTransaction{
			Signature:             sig,
			UndelegatedAccounts:   payload.UndelegatedAccounts,
			CommittedOnlyAccounts: payload.Accounts,
		})
	}
	return pending, nil
}

// ConfirmPendingCommits polls each pending commit's status at
// "confirmed" commitment, dropping entries that persistently fail
// rather than retrying forever (spec §4.5 C9 contract, third bullet).
func (e *Engine) ConfirmPendingCommits(pending []lifecycle.PendingCommitTransaction) error {
	ctx := context.Background()
	for _, p := range pending {
		var confirmed bool
		op := func() error {
			var err error
			confirmed, err = e.client.ConfirmTransaction(ctx, p.Signature)
			return err
		}
		err := backoff.Retry(op, e.cfg.RetryBackoff)
		e.mu.Lock()
		started, hasTimer := e.startedAt[p.Signature]
		if confirmed || err != nil {
			delete(e.startedAt, p.Signature)
		}
		e.mu.Unlock()

		if err != nil {
			e.log.Warn("commit: dropping pending commit after persistent failure",
				zap.Stringer("signature", p.Signature), zap.Error(err))
			continue
		}
		if confirmed && hasTimer {
			e.log.Info("commit: confirmed", zap.Stringer("signature", p.Signature), zap.Duration("elapsed", time.Since(started)))
		}
	}
	return nil
}

// TriggerCommit builds and sends a single committee's commit outside the
// scheduled-commits tick and checks its confirmation once through
// ConfirmPendingCommits, returning the signature whether or not it is
// confirmed yet; used by tests and explicit RPC-triggered commits
// (SPEC_FULL §11 feature 3).
func (e *Engine) TriggerCommit(ctx context.Context, committee lifecycle.AccountCommittee) (solanatypes.Signature, error) {
	payloads, err := e.CreateCommitAccountsTransaction([]lifecycle.AccountCommittee{committee})
	if err != nil {
		return solanatypes.Signature{}, err
	}
	if len(payloads) == 0 {
		return solanatypes.Signature{}, nil
	}
	pending, err := e.SendCommitTransactions(payloads)
	if err != nil {
		return solanatypes.Signature{}, err
	}
	if len(pending) == 0 {
		return solanatypes.Signature{}, nil
	}
	if err := e.ConfirmPendingCommits(pending); err != nil {
		return solanatypes.Signature{}, err
	}
	return pending[0].Signature, nil
}

func (e *Engine) sign(tx *solanatypes.Transaction) solanatypes.Signature {
	encoded := encodeMessage(tx.Message)
	raw := ed25519.Sign(e.cfg.CommitterKey, encoded)
	var sig solanatypes.Signature
	copy(sig[:], raw)
	return sig
}

func buildMessage(feePayer solanatypes.Pubkey, instructions []solanatypes.Instruction) solanatypes.Message {
	keys := []solanatypes.Pubkey{feePayer}
	index := map[solanatypes.Pubkey]int{feePayer: 0}
	for _, ins := range instructions {
		if _, ok := index[ins.ProgramID]; !ok {
			index[ins.ProgramID] = len(keys)
			keys = append(keys, ins.ProgramID)
		}
		for _, acc := range ins.Accounts {
			if _, ok := index[acc.Pubkey]; !ok {
				index[acc.Pubkey] = len(keys)
				keys = append(keys, acc.Pubkey)
			}
		}
	}
	return solanatypes.Message{
		Header:       solanatypes.MessageHeader{NumRequiredSignatures: 1},
		AccountKeys:  keys,
		Instructions: instructions,
	}
}

// encodeMessage produces a stable byte form of the message for signing.
// There is no general-purpose transaction VM in scope here (spec's
// non-goal), so this is the minimal wire shape the committer's own
// signature needs to be verifiable against, not Solana's full compact
// message encoding.
func encodeMessage(m solanatypes.Message) []byte {
	h := sha256.New()
	h.Write(m.RecentBlockhash[:])
	for _, k := range m.AccountKeys {
		h.Write(k[:])
	}
	for _, ins := range m.Instructions {
		h.Write(ins.ProgramID[:])
		h.Write(ins.Data)
	}
	return h.Sum(nil)
}
