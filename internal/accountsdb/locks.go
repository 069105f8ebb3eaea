package accountsdb

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ephemeral-svm/validator/internal/solanatypes"
)

// AccountLocks tracks the two multisets described in spec §3 ("Account
// locks"): a write-lock of cardinality 0 or 1 and a read-lock count, per
// pubkey. It is grounded on the original's account_locks.rs, translated
// from a HashSet/HashMap pair behind a single RwLock-free structure into
// one mutex-guarded map pair, since spec §4.1 notes this guards a
// single-writer scheduler with "no contention in the common path".
type AccountLocks struct {
	mu            sync.Mutex
	writeLocks    map[solanatypes.Pubkey]struct{}
	readonlyLocks map[solanatypes.Pubkey]uint64
}

// NewAccountLocks constructs an empty lock table.
func NewAccountLocks() *AccountLocks {
	return &AccountLocks{
		writeLocks:    make(map[solanatypes.Pubkey]struct{}),
		readonlyLocks: make(map[solanatypes.Pubkey]uint64),
	}
}

func (l *AccountLocks) isLockedWrite(key solanatypes.Pubkey) bool {
	_, ok := l.writeLocks[key]
	return ok
}

func (l *AccountLocks) isLockedReadonly(key solanatypes.Pubkey) bool {
	return l.readonlyLocks[key] > 0
}

// TryLockBatch attempts to acquire, atomically, a write lock for every
// key in writable and a read lock for every key in readonly. Keys are
// processed in sorted order (spec §4.1 "in a deterministic order (sorted
// by pubkey) to avoid deadlock") though since all locks are acquired
// under a single mutex here there is no deadlock risk; the ordering is
// kept so callers that later relax this to per-key mutexes inherit a
// correct lock order for free.
//
// On success it returns a LockGuard whose Release must be called
// exactly once. On failure (any key already conflicts) it acquires
// nothing and returns an error naming the first conflicting key.
func (l *AccountLocks) TryLockBatch(writable, readonly []solanatypes.Pubkey) (*LockGuard, error) {
	writable = append([]solanatypes.Pubkey{}, writable...)
	readonly = append([]solanatypes.Pubkey{}, readonly...)
	sort.Sort(solanatypes.PubkeysByLen(writable))
	sort.Sort(solanatypes.PubkeysByLen(readonly))

	l.mu.Lock()
	defer l.mu.Unlock()

	for _, k := range writable {
		if l.isLockedWrite(k) || l.isLockedReadonly(k) {
			return nil, fmt.Errorf("accountsdb: account %s already locked", k)
		}
	}
	for _, k := range readonly {
		if l.isLockedWrite(k) {
			return nil, fmt.Errorf("accountsdb: account %s already write-locked", k)
		}
	}
	for _, k := range writable {
		l.writeLocks[k] = struct{}{}
	}
	for _, k := range readonly {
		l.readonlyLocks[k]++
	}
	return &LockGuard{locks: l, writable: writable, readonly: readonly}, nil
}

func (l *AccountLocks) unlockWrite(key solanatypes.Pubkey) {
	delete(l.writeLocks, key)
}

func (l *AccountLocks) unlockReadonly(key solanatypes.Pubkey) {
	if n, ok := l.readonlyLocks[key]; ok {
		if n <= 1 {
			delete(l.readonlyLocks, key)
		} else {
			l.readonlyLocks[key] = n - 1
		}
	}
}

// LockGuard is the handle returned by TryLockBatch; its Release drops
// every lock it holds. It plays the role spec §4.1 assigns to
// "BatchHandle... whose drop releases locks" — Go has no destructors, so
// release is explicit.
type LockGuard struct {
	released bool
	locks    *AccountLocks
	writable []solanatypes.Pubkey
	readonly []solanatypes.Pubkey
}

// Release drops all locks held by this guard. Safe to call multiple
// times; only the first call has an effect.
func (g *LockGuard) Release() {
	if g == nil || g.released {
		return
	}
	g.released = true
	g.locks.mu.Lock()
	defer g.locks.mu.Unlock()
	for _, k := range g.writable {
		g.locks.unlockWrite(k)
	}
	for _, k := range g.readonly {
		g.locks.unlockReadonly(k)
	}
}
