package index

import (
	"sync"

	"github.com/google/btree"

	"github.com/ephemeral-svm/validator/internal/solanatypes"
)

// primaryItem orders by pubkey for the btree.
type primaryItem struct {
	pubkey solanatypes.Pubkey
	owner  solanatypes.Pubkey
	region Region
}

func (a primaryItem) Less(than btree.Item) bool {
	return a.pubkey.Less(than.(primaryItem).pubkey)
}

// ownerItem orders by owner, then pubkey, matching the composite
// owner⊕pubkey key the mdbx-backed implementation uses.
type ownerItem struct {
	owner  solanatypes.Pubkey
	pubkey solanatypes.Pubkey
	region Region
}

func (a ownerItem) Less(than btree.Item) bool {
	b := than.(ownerItem)
	if a.owner != b.owner {
		return a.owner.Less(b.owner)
	}
	return a.pubkey.Less(b.pubkey)
}

// MemIndex is an in-memory Index backed by google/btree, used by the
// unit tests of the accounts store and the packages built on it.
// It is not durable: restart always loses its contents, which is correct
// for a test double standing in for the mdbx-backed production index.
type MemIndex struct {
	mu      sync.Mutex
	primary *btree.BTree
	owners  *btree.BTree
}

// NewMemIndex constructs an empty in-memory index.
func NewMemIndex() *MemIndex {
	return &MemIndex{
		primary: btree.New(32),
		owners:  btree.New(32),
	}
}

func (m *MemIndex) Get(pubkey solanatypes.Pubkey) (Region, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item := m.primary.Get(primaryItem{pubkey: pubkey})
	if item == nil {
		return Region{}, ErrNotFound
	}
	return item.(primaryItem).region, nil
}

func (m *MemIndex) Put(pubkey solanatypes.Pubkey, oldOwner, newOwner solanatypes.Pubkey, region Region) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing := m.primary.Get(primaryItem{pubkey: pubkey}); existing != nil {
		prev := existing.(primaryItem)
		m.owners.Delete(ownerItem{owner: prev.owner, pubkey: pubkey})
	} else if !oldOwner.IsZero() {
		m.owners.Delete(ownerItem{owner: oldOwner, pubkey: pubkey})
	}
	m.primary.ReplaceOrInsert(primaryItem{pubkey: pubkey, owner: newOwner, region: region})
	m.owners.ReplaceOrInsert(ownerItem{owner: newOwner, pubkey: pubkey, region: region})
	return nil
}

func (m *MemIndex) Delete(pubkey solanatypes.Pubkey, owner solanatypes.Pubkey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.primary.Delete(primaryItem{pubkey: pubkey})
	m.owners.Delete(ownerItem{owner: owner, pubkey: pubkey})
	return nil
}

func (m *MemIndex) ScanByOwner(owner solanatypes.Pubkey, fn func(pubkey solanatypes.Pubkey, region Region) bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var stop bool
	m.owners.AscendGreaterOrEqual(ownerItem{owner: owner}, func(i btree.Item) bool {
		entry := i.(ownerItem)
		if entry.owner != owner {
			return false
		}
		if stop {
			return false
		}
		if !fn(entry.pubkey, entry.region) {
			stop = true
			return false
		}
		return true
	})
	return nil
}

type memSnapshot struct {
	rows []primaryItem
}

func (s memSnapshot) Entries(fn func(pubkey, owner solanatypes.Pubkey, region Region) bool) {
	for _, r := range s.rows {
		if !fn(r.pubkey, r.owner, r.region) {
			return
		}
	}
}

func (m *MemIndex) Snapshot() (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows := make([]primaryItem, 0, m.primary.Len())
	m.primary.Ascend(func(i btree.Item) bool {
		rows = append(rows, i.(primaryItem))
		return true
	})
	return memSnapshot{rows: rows}, nil
}

func (m *MemIndex) Restore(snap Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.primary = btree.New(32)
	m.owners = btree.New(32)
	snap.Entries(func(pubkey, owner solanatypes.Pubkey, region Region) bool {
		m.primary.ReplaceOrInsert(primaryItem{pubkey: pubkey, owner: owner, region: region})
		m.owners.ReplaceOrInsert(ownerItem{owner: owner, pubkey: pubkey, region: region})
		return true
	})
	return nil
}

func (m *MemIndex) Close() error { return nil }
