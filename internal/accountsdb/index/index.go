// Package index provides the ordered key->location index the accounts
// store (C1) layers its primary map and owner-index on top of. The
// production implementation is LMDB-style (erigontech/mdbx-go); tests use
// an in-memory B-tree so the accounts store's concurrency and snapshot
// logic can be exercised without a real mdbx environment.
package index

import (
	"errors"

	"github.com/ephemeral-svm/validator/internal/solanatypes"
)

// ErrNotFound is returned when a key has no index entry.
var ErrNotFound = errors.New("index: key not found")

// Region locates an account record inside the accounts store's main file:
// a block-aligned offset and the record's encoded length.
type Region struct {
	Offset uint32
	Length uint32
}

// OwnerEntry is one row of the owner secondary index: owner ⊕ pubkey -> region.
type OwnerEntry struct {
	Owner  solanatypes.Pubkey
	Pubkey solanatypes.Pubkey
	Region Region
}

// Index is the ordered map the accounts store uses for point lookups and
// ordered scans. Implementations must support two independently ordered
// views: primary (by pubkey) and secondary (by owner, then pubkey).
//
// Every mutation method is expected to be called only while the caller
// holds the accounts store's appropriate lock (per-key or global); Index
// implementations do not do their own cross-key locking.
type Index interface {
	// Get returns the region for pubkey, or ErrNotFound.
	Get(pubkey solanatypes.Pubkey) (Region, error)
	// Put inserts or overwrites the region for pubkey, maintaining the
	// owner index under oldOwner/newOwner (oldOwner may be zero if this
	// is a fresh key).
	Put(pubkey solanatypes.Pubkey, oldOwner, newOwner solanatypes.Pubkey, region Region) error
	// Delete removes pubkey from both the primary and owner index.
	Delete(pubkey solanatypes.Pubkey, owner solanatypes.Pubkey) error
	// ScanByOwner calls fn for every (pubkey, region) owned by owner, in
	// ascending pubkey order, until fn returns false or all entries are
	// exhausted.
	ScanByOwner(owner solanatypes.Pubkey, fn func(pubkey solanatypes.Pubkey, region Region) bool) error
	// Snapshot returns an independent copy of the index state sufficient
	// to restore it later; the copy must not be affected by subsequent
	// Put/Delete calls against the live index.
	Snapshot() (Snapshot, error)
	// Restore replaces the index's contents with a previously taken
	// snapshot.
	Restore(Snapshot) error
	// Close releases underlying resources (file handles, mmaps).
	Close() error
}

// Snapshot is an opaque, implementation-specific capture of index state.
type Snapshot interface {
	// Entries enumerates the captured (pubkey, owner, region) rows in
	// ascending pubkey order.
	Entries(fn func(pubkey, owner solanatypes.Pubkey, region Region) bool)
}
