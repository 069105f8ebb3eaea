// Package accountsdb implements C1, the typed key->account store: a
// persistent, snapshot-capable map from pubkey to account with
// fine-grained read/write locking (spec §4.1).
package accountsdb

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/ephemeral-svm/validator/internal/accountsdb/index"
	"github.com/ephemeral-svm/validator/internal/solanatypes"
)

// Config configures a Store's on-disk layout, matching the
// accounts-db.* TOML section (spec §6).
type Config struct {
	MainFilePath string
	IndexPath    string
	BlockSize    BlockSize
	IndexMapSize int64
	SnapshotDir  string
	SnapshotFreq uint64 // store a snapshot when slot % SnapshotFreq == 0; 0 disables
	MaxSnapshots int
}

// Store is the accounts store described in spec §4.1: a preallocated
// main file of block-aligned account records, an ordered index mapping
// pubkey -> region, a secondary owner index, per-key locks and a global
// stall-write lock that serializes snapshots against execution.
type Store struct {
	log *zap.Logger
	cfg Config

	main  *blockFile
	index index.Index

	// stwLock is spec §4.1's "global StWLock (stall-write lock)": RLock
	// during transaction batch execution, Lock during a snapshot.
	stwLock sync.RWMutex

	locks *AccountLocks

	curSlot atomic.Uint64

	snapMu    sync.Mutex
	snapshots []snapshotMeta

	updateHook atomic.Pointer[func(solanatypes.Pubkey, solanatypes.Account)]

	metrics atomic.Pointer[MetricsSink]
}

// MetricsSink receives the accounts store's read/write counters;
// *metrics.Registry satisfies this without accountsdb importing the
// metrics package directly.
type MetricsSink interface {
	IncAccountRead()
	IncAccountWrite(n int)
}

// SetMetrics installs sink to receive Get/StoreBatch counters. A nil
// sink disables metrics recording.
func (s *Store) SetMetrics(sink MetricsSink) {
	if sink == nil {
		s.metrics.Store(nil)
		return
	}
	s.metrics.Store(&sink)
}

// SetUpdateHook installs fn to be called, best-effort and after the
// write has landed, for every account StoreBatch writes — the fan-out
// point C12's pub/sub core attaches to for accountSubscribe and
// programSubscribe notifications. A nil fn disables the hook.
func (s *Store) SetUpdateHook(fn func(solanatypes.Pubkey, solanatypes.Account)) {
	if fn == nil {
		s.updateHook.Store(nil)
		return
	}
	s.updateHook.Store(&fn)
}

// Open constructs a Store backed by an on-disk main file and, when
// idx is nil, an mdbx-backed index at cfg.IndexPath.
func Open(log *zap.Logger, cfg Config, idx index.Index) (*Store, error) {
	main, err := openBlockFile(cfg.MainFilePath, cfg.BlockSize)
	if err != nil {
		return nil, err
	}
	if idx == nil {
		idx, err = index.OpenMdbxIndex(index.MdbxIndexConfig{Path: cfg.IndexPath, MapSize: cfg.IndexMapSize})
		if err != nil {
			main.Close()
			return nil, err
		}
	}
	return &Store{
		log:   log,
		cfg:   cfg,
		main:  main,
		index: idx,
		locks: NewAccountLocks(),
	}, nil
}

// Close releases the main file and index handles.
func (s *Store) Close() error {
	if err := s.main.Close(); err != nil {
		return err
	}
	return s.index.Close()
}

// CurrentSlot returns the highest slot any StoreBatch call has written at,
// or the slot of the snapshot most recently restored.
func (s *Store) CurrentSlot() solanatypes.Slot {
	return solanatypes.Slot(s.curSlot.Load())
}

// Get returns the latest version of pubkey's account, or (Account{},
// false) if it has no entry (spec §4.1 get()).
func (s *Store) Get(pubkey solanatypes.Pubkey) (solanatypes.Account, bool, error) {
	s.stwLock.RLock()
	defer s.stwLock.RUnlock()
	if sink := s.metrics.Load(); sink != nil {
		(*sink).IncAccountRead()
	}
	return s.getLocked(pubkey)
}

func (s *Store) getLocked(pubkey solanatypes.Pubkey) (solanatypes.Account, bool, error) {
	region, err := s.index.Get(pubkey)
	if err != nil {
		if err == index.ErrNotFound {
			return solanatypes.Account{}, false, nil
		}
		return solanatypes.Account{}, false, fmt.Errorf("accountsdb: index lookup %s: %w", pubkey, err)
	}
	raw, err := s.main.Read(region.Offset, region.Length)
	if err != nil {
		// A corrupt index entry is reported as missing, not fatal
		// (spec §4.1 "Failure semantics").
		s.log.Warn("accountsdb: corrupt index entry, reporting as missing", zap.Stringer("pubkey", pubkey), zap.Error(err))
		return solanatypes.Account{}, false, nil
	}
	acct, err := decodeAccount(raw)
	if err != nil {
		s.log.Warn("accountsdb: corrupt account record, reporting as missing", zap.Stringer("pubkey", pubkey), zap.Error(err))
		return solanatypes.Account{}, false, nil
	}
	return acct, true, nil
}

// Write is one (pubkey, account) pair in a StoreBatch call.
type Write struct {
	Pubkey  solanatypes.Pubkey
	Account solanatypes.Account
}

// StoreBatch atomically writes every entry in writes at the given slot,
// updating the primary map, owner index and slot counter together (spec
// §4.1 "Atomic batch writes"). It acquires the StWLock in read mode so a
// concurrent Snapshot cannot observe a partial batch.
func (s *Store) StoreBatch(slot solanatypes.Slot, writes []Write) error {
	s.stwLock.RLock()
	defer s.stwLock.RUnlock()

	for _, w := range writes {
		oldOwner := solanatypes.Pubkey{}
		if old, ok, err := s.getLocked(w.Pubkey); err != nil {
			return err
		} else if ok {
			oldOwner = old.Owner
		}
		encoded := encodeAccount(w.Account)
		offset, err := s.main.Alloc(len(encoded))
		if err != nil {
			return fmt.Errorf("accountsdb: alloc for %s: %w", w.Pubkey, err)
		}
		if err := s.main.Write(offset, encoded); err != nil {
			return fmt.Errorf("accountsdb: write %s: %w", w.Pubkey, err)
		}
		region := index.Region{Offset: offset, Length: uint32(len(encoded))}
		if err := s.index.Put(w.Pubkey, oldOwner, w.Account.Owner, region); err != nil {
			return fmt.Errorf("accountsdb: index put %s: %w", w.Pubkey, err)
		}
	}
	if uint64(slot) > s.curSlot.Load() {
		s.curSlot.Store(uint64(slot))
	}
	if sink := s.metrics.Load(); sink != nil {
		(*sink).IncAccountWrite(len(writes))
	}
	if hook := s.updateHook.Load(); hook != nil {
		for _, w := range writes {
			(*hook)(w.Pubkey, w.Account)
		}
	}
	return nil
}

// Remove deletes pubkey from the store entirely. Used by the scheduled
// commits processor on confirmed undelegation (spec §4.5 step 5): "the
// account now lives on the base chain again."
func (s *Store) Remove(pubkey solanatypes.Pubkey) error {
	s.stwLock.RLock()
	defer s.stwLock.RUnlock()
	acct, ok, err := s.getLocked(pubkey)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	return s.index.Delete(pubkey, acct.Owner)
}

// ScanByOwner iterates all (pubkey, account) pairs owned by owner in
// ascending pubkey order (spec §4.1 scan_by_owner).
func (s *Store) ScanByOwner(owner solanatypes.Pubkey, fn func(solanatypes.KeyedAccount) bool) error {
	s.stwLock.RLock()
	defer s.stwLock.RUnlock()
	var outerErr error
	err := s.index.ScanByOwner(owner, func(pubkey solanatypes.Pubkey, region index.Region) bool {
		raw, err := s.main.Read(region.Offset, region.Length)
		if err != nil {
			outerErr = err
			return false
		}
		acct, err := decodeAccount(raw)
		if err != nil {
			outerErr = err
			return false
		}
		return fn(solanatypes.KeyedAccount{Pubkey: pubkey, Account: acct})
	})
	if outerErr != nil {
		return outerErr
	}
	return err
}

// PrepareBatch acquires read locks for readKeys and write locks for
// writeKeys, in sorted order, returning a handle whose Release drops
// them (spec §4.1 prepare_batch). Distinct from StoreBatch: this guards
// the *execution* of a batch of transactions against concurrent
// transactions touching the same accounts; StoreBatch is the write
// itself once execution has produced results.
func (s *Store) PrepareBatch(writeKeys, readKeys []solanatypes.Pubkey) (*LockGuard, error) {
	return s.locks.TryLockBatch(writeKeys, readKeys)
}

// snapshotMeta records one on-disk snapshot's metadata.
type snapshotMeta struct {
	slot      solanatypes.Slot
	dir       string
	blockhash solanatypes.Hash
}

// SnapshotHandle is returned by Snapshot; it survives subsequent writes
// to the live store (spec §4.1 "returns a handle that survives
// subsequent writes").
type SnapshotHandle struct {
	Slot      solanatypes.Slot
	Dir       string
	Blockhash solanatypes.Hash
}

// ShouldSnapshot reports whether slot is a configured snapshot boundary
// (spec §4.1 "Take snapshot when slot % snapshot_frequency == 0").
func (s *Store) ShouldSnapshot(slot solanatypes.Slot) bool {
	return s.cfg.SnapshotFreq > 0 && uint64(slot)%s.cfg.SnapshotFreq == 0
}

// Snapshot takes a global exclusive lock, flushes dirty pages, hard-links
// the main file and records the index snapshot under cfg.SnapshotDir,
// then releases the lock (spec §4.1 snapshot()). Snapshots directories
// are hard-linkable "to allow cheap cloning" — achieved here by
// os.Link-ing the main file instead of copying it.
func (s *Store) Snapshot(slot solanatypes.Slot, blockhash solanatypes.Hash) (*SnapshotHandle, error) {
	s.stwLock.Lock()
	defer s.stwLock.Unlock()

	if err := s.main.Flush(); err != nil {
		return nil, err
	}
	idxSnap, err := s.index.Snapshot()
	if err != nil {
		return nil, err
	}
	dir, err := writeSnapshotDir(s.cfg.SnapshotDir, slot, s.cfg.MainFilePath, idxSnap, blockhash)
	if err != nil {
		return nil, err
	}
	s.snapMu.Lock()
	s.snapshots = append(s.snapshots, snapshotMeta{slot: slot, dir: dir, blockhash: blockhash})
	s.pruneSnapshotsLocked()
	s.snapMu.Unlock()

	return &SnapshotHandle{Slot: slot, Dir: dir, Blockhash: blockhash}, nil
}

// pruneSnapshotsLocked deletes the oldest snapshots beyond cfg.MaxSnapshots
// (spec §4.1 "Keep at most max_snapshots; oldest pruned"). Caller holds snapMu.
func (s *Store) pruneSnapshotsLocked() {
	if s.cfg.MaxSnapshots <= 0 || len(s.snapshots) <= s.cfg.MaxSnapshots {
		return
	}
	sort.Slice(s.snapshots, func(i, j int) bool { return s.snapshots[i].slot < s.snapshots[j].slot })
	toDrop := len(s.snapshots) - s.cfg.MaxSnapshots
	for _, old := range s.snapshots[:toDrop] {
		if err := removeSnapshotDir(old.dir); err != nil {
			s.log.Warn("accountsdb: failed to prune old snapshot", zap.String("dir", old.dir), zap.Error(err))
		}
	}
	s.snapshots = append([]snapshotMeta{}, s.snapshots[toDrop:]...)
}

// Restore repopulates the primary map and indices from a snapshot (spec
// §4.1 restore()). It takes the StWLock exclusively for the duration.
func (s *Store) Restore(handle *SnapshotHandle) error {
	s.stwLock.Lock()
	defer s.stwLock.Unlock()

	snap, err := readSnapshotDir(handle.Dir)
	if err != nil {
		return err
	}
	if err := s.index.Restore(snap); err != nil {
		return err
	}
	highWater, err := readSnapshotHighWater(handle.Dir)
	if err != nil {
		return err
	}
	s.main.SetNextFree(s.main.blocksFor(int(highWater)))
	s.curSlot.Store(uint64(handle.Slot))
	return nil
}

// LatestSnapshot returns the most recent snapshot taken, if any.
func (s *Store) LatestSnapshot() (*SnapshotHandle, bool) {
	s.snapMu.Lock()
	defer s.snapMu.Unlock()
	if len(s.snapshots) == 0 {
		return nil, false
	}
	latest := s.snapshots[0]
	for _, m := range s.snapshots {
		if m.slot > latest.slot {
			latest = m
		}
	}
	return &SnapshotHandle{Slot: latest.slot, Dir: latest.dir, Blockhash: latest.blockhash}, true
}

// DiscoverSnapshots scans cfg.SnapshotDir for snapshot directories written
// by a prior process and registers them, so LatestSnapshot can find a
// snapshot taken before this process started. C13 replay calls this once
// on startup, before looking for a snapshot to restore from.
func (s *Store) DiscoverSnapshots() error {
	if s.cfg.SnapshotDir == "" {
		return nil
	}
	entries, err := os.ReadDir(s.cfg.SnapshotDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("accountsdb: list snapshot dir: %w", err)
	}

	s.snapMu.Lock()
	defer s.snapMu.Unlock()
	known := make(map[solanatypes.Slot]bool, len(s.snapshots))
	for _, m := range s.snapshots {
		known[m.slot] = true
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		slotVal, err := strconv.ParseUint(e.Name(), 10, 64)
		if err != nil {
			continue
		}
		slot := solanatypes.Slot(slotVal)
		if known[slot] {
			continue
		}
		dir := filepath.Join(s.cfg.SnapshotDir, e.Name())
		blockhash, err := readSnapshotBlockhash(dir)
		if err != nil {
			s.log.Warn("accountsdb: skipping snapshot dir missing blockhash record", zap.String("dir", dir), zap.Error(err))
			continue
		}
		s.snapshots = append(s.snapshots, snapshotMeta{slot: slot, dir: dir, blockhash: blockhash})
		known[slot] = true
	}
	return nil
}
