package bank

import (
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/ephemeral-svm/validator/internal/solanatypes"
)

// StatusEntry is what the status cache remembers about a transaction it
// has already executed, keyed by (blockhash, signature prefix).
type StatusEntry struct {
	Slot solanatypes.Slot
	Err  string // empty means Ok
}

type keyPrefix = [20]byte

// StatusCache short-circuits duplicate transaction execution: a
// transaction whose (blockhash, truncated signature) pair is already
// recorded returns the cached result instead of re-executing (spec
// "Status cache: blockhash -> {key_prefix -> (slot, tx_result)}").
//
// Each bucket's lookup key is hashed with xxhash rather than compared by
// the raw 20-byte prefix, which keeps large buckets cheap to probe; the
// prefix itself is still stored so hash collisions never produce a false
// positive.
type StatusCache struct {
	mu      sync.RWMutex
	buckets map[solanatypes.Hash]map[uint64][]statusRow
}

type statusRow struct {
	prefix keyPrefix
	entry  StatusEntry
}

func NewStatusCache() *StatusCache {
	return &StatusCache{buckets: make(map[solanatypes.Hash]map[uint64][]statusRow)}
}

func hashPrefix(prefix keyPrefix) uint64 {
	return xxhash.Sum64(prefix[:])
}

// Insert records that sig has executed as part of blockhash's bucket,
// keyed by sig's 20-byte prefix (Insert truncates it).
func (c *StatusCache) Insert(blockhash solanatypes.Hash, sig solanatypes.Signature, entry StatusEntry) {
	prefix := solanatypes.StatusCacheKeyPrefix(sig)
	c.mu.Lock()
	defer c.mu.Unlock()
	bucket, ok := c.buckets[blockhash]
	if !ok {
		bucket = make(map[uint64][]statusRow)
		c.buckets[blockhash] = bucket
	}
	h := hashPrefix(prefix)
	bucket[h] = append(bucket[h], statusRow{prefix: prefix, entry: entry})
}

// Lookup returns the cached result for (blockhash, sig), if any.
func (c *StatusCache) Lookup(blockhash solanatypes.Hash, sig solanatypes.Signature) (StatusEntry, bool) {
	prefix := solanatypes.StatusCacheKeyPrefix(sig)
	c.mu.RLock()
	defer c.mu.RUnlock()
	bucket, ok := c.buckets[blockhash]
	if !ok {
		return StatusEntry{}, false
	}
	for _, row := range bucket[hashPrefix(prefix)] {
		if row.prefix == prefix {
			return row.entry, true
		}
	}
	return StatusEntry{}, false
}

// LookupAny scans every active blockhash bucket for sig, for callers
// (the pub/sub signatureSubscribe path) that don't know which blockhash
// bucket a transaction landed in.
func (c *StatusCache) LookupAny(sig solanatypes.Signature) (StatusEntry, bool) {
	prefix := solanatypes.StatusCacheKeyPrefix(sig)
	h := hashPrefix(prefix)
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, bucket := range c.buckets {
		for _, row := range bucket[h] {
			if row.prefix == prefix {
				return row.entry, true
			}
		}
	}
	return StatusEntry{}, false
}

// EvictBlockhash drops an entire blockhash bucket, called when that
// blockhash rotates out of recent_blockhashes.
func (c *StatusCache) EvictBlockhash(blockhash solanatypes.Hash) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.buckets, blockhash)
}
