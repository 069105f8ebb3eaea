// Package replay implements C13: on startup, restore the accounts store
// from the latest eligible snapshot and replay every ledger block
// recorded after it, bringing the bank back to the state it was in when
// the process last stopped (spec §4.8).
package replay

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/ephemeral-svm/validator/internal/accountsdb"
	"github.com/ephemeral-svm/validator/internal/bank"
	"github.com/ephemeral-svm/validator/internal/ledger"
	"github.com/ephemeral-svm/validator/internal/solanatypes"
	"github.com/ephemeral-svm/validator/internal/txprocessor"
)

// ErrTipSlotMismatch is NextSlotAfterLedgerProcessingNotMatchingBankSlot:
// the ledger's recorded tip slot must equal the bank's slot once replay
// finishes (spec §4.8 step 4).
var ErrTipSlotMismatch = errors.New("replay: ledger tip slot does not match bank slot after replay")

// Result summarizes one replay run, useful for startup logging and tests.
type Result struct {
	RestoredFromSnapshot bool
	SnapshotSlot         solanatypes.Slot
	BlocksReplayed       int
	TransactionsReplayed int
	FinalSlot            solanatypes.Slot
}

// Run restores b's accounts store from the latest snapshot under
// store's configured snapshot directory, if any, then replays every
// ledger block recorded after that snapshot's slot, in slot order.
// Each block's successful transactions are sanitized in replay mode
// (signatures already verified when they were first processed) and
// executed one at a time: "Replay uses one-transaction batches because
// account lock inference from stored transactions is not re-derived"
// (spec §4.8).
func Run(log *zap.Logger, store *accountsdb.Store, lg *ledger.Ledger, b *bank.Bank, executor bank.Executor) (Result, error) {
	var result Result

	if err := store.DiscoverSnapshots(); err != nil {
		return result, fmt.Errorf("replay: discover snapshots: %w", err)
	}

	startSlot := solanatypes.Slot(0)
	if handle, ok := store.LatestSnapshot(); ok {
		if err := store.Restore(handle); err != nil {
			return result, fmt.Errorf("replay: restore snapshot at slot %d: %w", handle.Slot, err)
		}
		b.RestoreFromSnapshot(handle.Slot, handle.Blockhash)
		result.RestoredFromSnapshot = true
		result.SnapshotSlot = handle.Slot
		startSlot = handle.Slot
		log.Info("replay: restored accounts from snapshot",
			zap.Uint64("slot", uint64(handle.Slot)), zap.String("dir", handle.Dir))
	} else {
		log.Info("replay: no snapshot found, replaying from genesis")
	}

	sanitizer := txprocessor.NewSanitizer(b, txprocessor.WithReplayMode(true))

	// A snapshot records the bank exactly as it stood when it arrived at
	// startSlot, before that slot's own transactions ran (Store.Snapshot
	// is called right after AdvanceSlot, ahead of the new slot's
	// execution) — so startSlot's block still needs replaying, unlike a
	// snapshot_slot+1 convention where the snapshot already reflects its
	// own slot.
	for slot := startSlot; ; slot++ {
		block, ok, err := lg.GetBlock(slot)
		if err != nil {
			return result, fmt.Errorf("replay: read block %d: %w", slot, err)
		}
		if !ok {
			break
		}
		n, err := replayBlock(b, sanitizer, executor, slot, block)
		if err != nil {
			return result, fmt.Errorf("replay: block %d: %w", slot, err)
		}
		result.BlocksReplayed++
		result.TransactionsReplayed += n
	}

	result.FinalSlot = b.Slot()
	if tip, ok, err := lg.TipSlot(); err != nil {
		return result, fmt.Errorf("replay: read ledger tip slot: %w", err)
	} else if ok && tip != result.FinalSlot {
		return result, fmt.Errorf("%w: ledger tip %d, bank slot %d", ErrTipSlotMismatch, tip, result.FinalSlot)
	}

	log.Info("replay: finished",
		zap.Int("blocks", result.BlocksReplayed),
		zap.Int("transactions", result.TransactionsReplayed),
		zap.Uint64("final_slot", uint64(result.FinalSlot)))
	return result, nil
}

// replayBlock recreates the bank's last_blockhash/clock for slot, then
// re-executes every successful transaction the ledger recorded for it.
func replayBlock(b *bank.Bank, sanitizer *txprocessor.Sanitizer, executor bank.Executor, slot solanatypes.Slot, block ledger.Block) (int, error) {
	if err := b.ReplayAdvanceTo(slot, block.Meta.Blockhash, block.Meta.BlockTime); err != nil {
		return 0, fmt.Errorf("recreate blockhash/clock: %w", err)
	}

	replayed := 0
	for _, blockTx := range block.Transactions {
		if blockTx.Status.Err != "" {
			// Failed transactions never mutated accounts; nothing to redo.
			continue
		}
		tx, err := txprocessor.DecodeWireTransactionBytes(blockTx.TxBytes)
		if err != nil {
			return replayed, fmt.Errorf("decode tx %s: %w", blockTx.Signature, err)
		}
		if _, err := sanitizer.Sanitize(tx); err != nil {
			return replayed, fmt.Errorf("sanitize tx %s: %w", blockTx.Signature, err)
		}

		batch, err := b.PrepareSanitizedBatch([]*solanatypes.Transaction{tx})
		if err != nil {
			return replayed, fmt.Errorf("prepare batch for tx %s: %w", blockTx.Signature, err)
		}
		_, err = b.LoadExecuteAndCommit(batch, executor, nil)
		batch.Handle.Release()
		if err != nil {
			return replayed, fmt.Errorf("execute tx %s: %w", blockTx.Signature, err)
		}
		replayed++
	}

	b.DiscardReplayedPending()
	return replayed, nil
}
