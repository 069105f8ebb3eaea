// Package bank implements C3, the in-memory slot/blockhash/sysvar state
// and the transaction-execution entry points C4's sanitization pipeline
// calls into. It owns no network I/O: every suspension point lives
// above it, in the account-lifecycle and commit components.
package bank

import (
	"crypto/sha256"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/ephemeral-svm/validator/internal/accountsdb"
	"github.com/ephemeral-svm/validator/internal/ledger"
	"github.com/ephemeral-svm/validator/internal/solanatypes"
	"github.com/ephemeral-svm/validator/internal/sysvarcache"
)

// recentBlockhashesCapacity bounds the FIFO of recent blockhashes the
// sanitization pipeline checks transactions against.
const recentBlockhashesCapacity = 300

// Config carries the bank's immutable-after-init fields.
type Config struct {
	GenesisHash solanatypes.Hash
	Collector   solanatypes.Pubkey
}

// Bank is the process-local execution context described in the data
// model's "Bank state": slot, last_blockhash, recent_blockhashes, sysvar
// cache, status cache, transaction counters, collector pubkey and
// genesis hash.
type Bank struct {
	log    *zap.Logger
	store  *accountsdb.Store
	ledger *ledger.Ledger
	sysvars *sysvarcache.Cache

	genesisHash solanatypes.Hash
	collector   solanatypes.Pubkey

	mu                sync.Mutex // guards slot/lastBlockhash/recent together
	slot              solanatypes.Slot
	lastBlockhash     solanatypes.Hash
	recent            *recentBlockhashes
	statusCache       *StatusCache
	txCount           atomic.Uint64

	// txIndexLock is spec §4.3's process-wide TRANSACTION_INDEX_LOCK:
	// read-mode during execution, write-mode during a snapshot boundary.
	txIndexLock sync.RWMutex

	pendingMu   sync.Mutex
	pendingTxs  []ledger.PendingTransaction
	nextTxIndex uint32

	slotHook atomic.Pointer[func(slot, parent solanatypes.Slot)]

	metrics atomic.Pointer[MetricsSink]
}

// MetricsSink receives the bank's per-transaction and per-slot counters;
// *metrics.Registry satisfies this without bank importing the metrics
// package directly.
type MetricsSink interface {
	SetSlot(slot uint64)
	IncTransaction(txErr string)
}

// SetMetrics installs sink to receive transaction and slot counters. A
// nil sink disables metrics recording.
func (b *Bank) SetMetrics(sink MetricsSink) {
	if sink == nil {
		b.metrics.Store(nil)
		return
	}
	b.metrics.Store(&sink)
}

// SetSlotHook installs fn to be called after every slot advance, the
// fan-out point C12's pub/sub core attaches to for slotSubscribe
// notifications (spec §4.7: "{slot, parent, root}" with parent=slot-1).
func (b *Bank) SetSlotHook(fn func(slot, parent solanatypes.Slot)) {
	if fn == nil {
		b.slotHook.Store(nil)
		return
	}
	b.slotHook.Store(&fn)
}

// New constructs a Bank at genesis: slot 0, last_blockhash derived from
// the genesis hash.
func New(log *zap.Logger, store *accountsdb.Store, lg *ledger.Ledger, cfg Config) *Bank {
	b := &Bank{
		log:         log,
		store:       store,
		ledger:      lg,
		sysvars:     sysvarcache.New(),
		genesisHash: cfg.GenesisHash,
		collector:   cfg.Collector,
		lastBlockhash: cfg.GenesisHash,
		recent:      newRecentBlockhashes(recentBlockhashesCapacity),
		statusCache: NewStatusCache(),
	}
	b.recent.Push(BlockhashEntry{Slot: 0, Blockhash: cfg.GenesisHash})
	return b
}

func (b *Bank) GenesisHash() solanatypes.Hash    { return b.genesisHash }
func (b *Bank) Collector() solanatypes.Pubkey    { return b.collector }
func (b *Bank) Sysvars() *sysvarcache.Cache      { return b.sysvars }
func (b *Bank) StatusCache() *StatusCache        { return b.statusCache }
func (b *Bank) TransactionCount() uint64         { return b.txCount.Load() }

func (b *Bank) Slot() solanatypes.Slot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.slot
}

func (b *Bank) LastBlockhash() solanatypes.Hash {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastBlockhash
}

// RecentBlockhashContains reports whether blockhash is still within the
// bank's recent window, and the slot it was minted at — the sanitization
// pipeline's MAX_PROCESSING_AGE check builds on this.
func (b *Bank) RecentBlockhashContains(blockhash solanatypes.Hash) (solanatypes.Slot, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.recent.Contains(blockhash)
}

// deriveNextBlockhash rotates last_blockhash by hashing the previous
// blockhash with the new slot number, producing a deterministic,
// unpredictable-in-advance chain of commitments.
func deriveNextBlockhash(prev solanatypes.Hash, slot solanatypes.Slot) solanatypes.Hash {
	h := sha256.New()
	h.Write(prev[:])
	var slotBuf [8]byte
	solanatypes.PutSlot(slotBuf[:], slot)
	h.Write(slotBuf[:])
	var out solanatypes.Hash
	copy(out[:], h.Sum(nil))
	return out
}

// AdvanceSlot increments the slot, rotates last_blockhash, pushes onto
// recent_blockhashes, and updates the clock sysvar account plus the
// sysvar cache (spec §4.3 advance_slot).
func (b *Bank) AdvanceSlot(unixTimestamp int64) (solanatypes.Slot, error) {
	b.mu.Lock()
	newSlot := b.slot + 1
	newHash := deriveNextBlockhash(b.lastBlockhash, newSlot)
	b.slot = newSlot
	b.lastBlockhash = newHash
	evicted, didEvict := b.recent.Push(BlockhashEntry{Slot: newSlot, Blockhash: newHash})
	b.mu.Unlock()

	if didEvict {
		b.statusCache.EvictBlockhash(evicted.Blockhash)
	}

	clock := sysvarcache.Clock{
		Slot:          newSlot,
		UnixTimestamp: unixTimestamp,
	}
	b.sysvars.SetClock(clock)

	if err := b.StoreAccount(ClockSysvarPubkey, solanatypes.Account{
		Lamports: 1,
		Owner:    SysvarOwnerPubkey,
		Data:     encodeClockAccountData(clock),
	}); err != nil {
		return 0, fmt.Errorf("bank: write clock sysvar: %w", err)
	}
	return newSlot, nil
}

// StoreAccount writes pubkey at the bank's current slot via C1 (spec
// §4.3 store_account).
func (b *Bank) StoreAccount(pubkey solanatypes.Pubkey, account solanatypes.Account) error {
	slot := b.Slot()
	return b.store.StoreBatch(slot, []accountsdb.Write{{Pubkey: pubkey, Account: account}})
}

// BatchHandle wraps the lock guard C1 returns for a prepared batch.
type BatchHandle struct {
	guard *accountsdb.LockGuard
}

// Release drops the underlying account locks.
func (h *BatchHandle) Release() {
	if h != nil && h.guard != nil {
		h.guard.Release()
	}
}

// PrepareSanitizedBatch acquires locks for every writable and read-only
// key referenced across txs, delegating to C1 (spec §4.3
// prepare_sanitized_batch), and returns a handle ready for
// LoadExecuteAndCommit.
func (b *Bank) PrepareSanitizedBatch(txs []*solanatypes.Transaction) (*SanitizedBatch, error) {
	writeSet := make(map[solanatypes.Pubkey]struct{})
	readSet := make(map[solanatypes.Pubkey]struct{})
	for _, tx := range txs {
		for _, k := range tx.Message.WritableKeys() {
			writeSet[k] = struct{}{}
		}
		for _, k := range tx.Message.ReadonlyKeys() {
			readSet[k] = struct{}{}
		}
	}
	writable := make([]solanatypes.Pubkey, 0, len(writeSet))
	for k := range writeSet {
		writable = append(writable, k)
	}
	readonly := make([]solanatypes.Pubkey, 0, len(readSet))
	for k := range readSet {
		if _, isWrite := writeSet[k]; !isWrite {
			readonly = append(readonly, k)
		}
	}

	b.txIndexLock.RLock()
	defer b.txIndexLock.RUnlock()
	guard, err := b.store.PrepareBatch(writable, readonly)
	if err != nil {
		return nil, err
	}
	return &SanitizedBatch{
		Handle:       &BatchHandle{guard: guard},
		Transactions: txs,
		Writable:     writable,
	}, nil
}

// Store exposes the underlying accounts store for components (C4's
// executor, C11's magic program) that need direct reads.
func (b *Bank) Store() *accountsdb.Store { return b.store }

// AdvanceSlotAndUpdateLedger atomically captures (prev_slot,
// prev_blockhash), advances the bank, and writes Blocks[prev_slot] =
// (now, prev_blockhash) to the ledger. If the new slot is a snapshot
// boundary, the accounts store's global lock is taken first, under the
// bank's write-mode TRANSACTION_INDEX_LOCK (spec §4.3).
func (b *Bank) AdvanceSlotAndUpdateLedger(unixTimestamp int64) (solanatypes.Slot, error) {
	b.mu.Lock()
	prevSlot := b.slot
	prevHash := b.lastBlockhash
	var parentHash solanatypes.Hash // zero when the bank holds no earlier blockhash
	if recent := b.recent.Snapshot(); len(recent) >= 2 {
		parentHash = recent[len(recent)-2].Blockhash
	}
	b.mu.Unlock()

	b.pendingMu.Lock()
	slotTxs := b.pendingTxs
	b.pendingTxs = nil
	b.nextTxIndex = 0
	b.pendingMu.Unlock()

	newSlot, err := b.AdvanceSlot(unixTimestamp)
	if err != nil {
		return 0, err
	}

	if hook := b.slotHook.Load(); hook != nil {
		(*hook)(newSlot, prevSlot)
	}
	if sink := b.metrics.Load(); sink != nil {
		(*sink).SetSlot(uint64(newSlot))
	}

	if b.store.ShouldSnapshot(newSlot) {
		b.txIndexLock.Lock()
		_, err := b.store.Snapshot(newSlot, b.LastBlockhash())
		b.txIndexLock.Unlock()
		if err != nil {
			return 0, fmt.Errorf("bank: snapshot at slot %d: %w", newSlot, err)
		}
	}

	meta := ledger.BlockMeta{
		BlockTime:         unixTimestamp,
		Blockhash:         prevHash,
		PreviousBlockhash: parentHash,
	}
	if err := b.ledger.WriteBlock(prevSlot, meta, slotTxs); err != nil {
		return 0, fmt.Errorf("bank: write block %d: %w", prevSlot, err)
	}
	return newSlot, nil
}

// DiscardReplayedPending drops the transactions LoadExecuteAndCommit
// buffered for the current slot without writing them to the ledger,
// since C13 replay re-executes transactions the ledger already recorded
// a block for; only live-processed slots need a new block written.
func (b *Bank) DiscardReplayedPending() {
	b.pendingMu.Lock()
	b.pendingTxs = nil
	b.nextTxIndex = 0
	b.pendingMu.Unlock()
}

// RestoreFromSnapshot resets the bank's slot/blockhash state to match a
// restored accounts-store snapshot, used by C13 replay.
func (b *Bank) RestoreFromSnapshot(slot solanatypes.Slot, blockhash solanatypes.Hash) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.slot = slot
	b.lastBlockhash = blockhash
	b.recent = newRecentBlockhashes(recentBlockhashesCapacity)
	b.recent.Push(BlockhashEntry{Slot: slot, Blockhash: blockhash})
}

// ReplayAdvanceTo recreates the bank's last_blockhash and clock for a
// block being replayed from the ledger (spec §4.8 step 2, "recreate
// last_blockhash/clock"), using the values the ledger already recorded
// rather than re-deriving them, so replay reproduces history exactly
// even if AdvanceSlot's derivation ever changes.
func (b *Bank) ReplayAdvanceTo(slot solanatypes.Slot, blockhash solanatypes.Hash, unixTimestamp int64) error {
	b.mu.Lock()
	b.slot = slot
	b.lastBlockhash = blockhash
	evicted, didEvict := b.recent.Push(BlockhashEntry{Slot: slot, Blockhash: blockhash})
	b.mu.Unlock()

	if didEvict {
		b.statusCache.EvictBlockhash(evicted.Blockhash)
	}

	clock := sysvarcache.Clock{Slot: slot, UnixTimestamp: unixTimestamp}
	b.sysvars.SetClock(clock)
	if err := b.StoreAccount(ClockSysvarPubkey, solanatypes.Account{
		Lamports: 1,
		Owner:    SysvarOwnerPubkey,
		Data:     encodeClockAccountData(clock),
	}); err != nil {
		return fmt.Errorf("bank: replay write clock sysvar: %w", err)
	}
	return nil
}
