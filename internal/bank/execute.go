package bank

import (
	"fmt"

	"github.com/ephemeral-svm/validator/internal/accountsdb"
	"github.com/ephemeral-svm/validator/internal/ledger"
	"github.com/ephemeral-svm/validator/internal/solanatypes"
)

// AccountReader is the read surface an Executor needs; *accountsdb.Store
// satisfies it directly.
type AccountReader interface {
	Get(pubkey solanatypes.Pubkey) (solanatypes.Account, bool, error)
}

// ExecutionOutcome is what running one sanitized transaction against the
// VM produces: the account mutations to commit, and the status to
// record. The VM itself is a primitive this package assumes exists
// (Non-goal: the Solana VM / BPF loader is out of scope here).
type ExecutionOutcome struct {
	Mutations   []accountsdb.Write
	Err         string // empty means Ok
	Fee         uint64
	LogMessages []string
}

// Executor runs one sanitized transaction against a read-only view of
// current account state and returns its effects without applying them;
// LoadExecuteAndCommit is responsible for committing mutations and
// updating the status cache and ledger.
type Executor interface {
	Execute(reader AccountReader, tx *solanatypes.Transaction) (ExecutionOutcome, error)
}

// SanitizedBatch is a prepared, lock-held group of transactions ready
// for execution (spec §4.3 prepare_sanitized_batch's return value).
type SanitizedBatch struct {
	Handle       *BatchHandle
	Transactions []*solanatypes.Transaction
	Writable     []solanatypes.Pubkey
}

// StatusSink receives one status record per executed transaction, the
// "transaction-status channel" spec §4.3 mentions. accountKeys is the
// transaction's full account-keys table, carried alongside status so a
// subscriber can test logsSubscribe's Mentions(pubkey) filter without
// re-decoding the transaction.
type StatusSink func(sig solanatypes.Signature, status ledger.TransactionStatusMeta, accountKeys []solanatypes.Pubkey)

// LoadExecuteAndCommit runs executor for each transaction in batch
// sequentially, writes resulting mutations via C1, records status in the
// bank's status cache and buffers the transaction for the next ledger
// block write, and emits each status to sink (spec §4.3
// load_execute_and_commit). A transaction execution error produces a
// status with the error but does not abort the batch; a non-nil error
// from the Executor (VM-internal panic surfaced as a Go error) is fatal and
// returned immediately.
func (b *Bank) LoadExecuteAndCommit(batch *SanitizedBatch, executor Executor, sink StatusSink) ([]ExecutionOutcome, error) {
	b.txIndexLock.RLock()
	defer b.txIndexLock.RUnlock()

	slot := b.Slot()
	blockhash := b.LastBlockhash()

	outcomes := make([]ExecutionOutcome, 0, len(batch.Transactions))
	for _, tx := range batch.Transactions {
		outcome, err := executor.Execute(b.store, tx)
		if err != nil {
			return outcomes, fmt.Errorf("bank: VM execution fault: %w", err)
		}
		outcomes = append(outcomes, outcome)

		if len(outcome.Mutations) > 0 {
			if err := b.store.StoreBatch(slot, outcome.Mutations); err != nil {
				return outcomes, fmt.Errorf("bank: commit mutations: %w", err)
			}
		}

		sig := tx.PrimarySignature()
		status := ledger.TransactionStatusMeta{Slot: slot, Err: outcome.Err, Fee: outcome.Fee, LogMessages: outcome.LogMessages}
		b.statusCache.Insert(blockhash, sig, StatusEntry{Slot: slot, Err: outcome.Err})
		b.txCount.Add(1)
		if sink := b.metrics.Load(); sink != nil {
			(*sink).IncTransaction(outcome.Err)
		}

		b.pendingMu.Lock()
		b.nextTxIndex++
		b.pendingTxs = append(b.pendingTxs, ledger.PendingTransaction{
			Signature: sig,
			TxBytes:   tx.Raw,
			Status:    status,
			Writable:  batch.Writable,
		})
		b.pendingMu.Unlock()

		if sink != nil {
			sink(sig, status, tx.Message.AccountKeys)
		}
	}
	return outcomes, nil
}
