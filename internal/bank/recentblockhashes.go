package bank

import "github.com/ephemeral-svm/validator/internal/solanatypes"

// BlockhashEntry is one row of the bank's bounded recent-blockhashes history.
type BlockhashEntry struct {
	Slot      solanatypes.Slot
	Blockhash solanatypes.Hash
}

// recentBlockhashes is a bounded FIFO: pushing past capacity evicts the
// oldest entry, matching the bank's "recent_blockhashes: bounded FIFO of
// (slot, hash)" state.
type recentBlockhashes struct {
	entries  []BlockhashEntry
	capacity int
}

func newRecentBlockhashes(capacity int) *recentBlockhashes {
	return &recentBlockhashes{capacity: capacity}
}

// Push adds a new entry, returning the evicted entry (if the FIFO was at
// capacity) so callers can evict its status-cache bucket too.
func (r *recentBlockhashes) Push(e BlockhashEntry) (evicted BlockhashEntry, didEvict bool) {
	r.entries = append(r.entries, e)
	if len(r.entries) > r.capacity {
		evicted = r.entries[0]
		r.entries = r.entries[1:]
		didEvict = true
	}
	return evicted, didEvict
}

// Contains reports whether blockhash is still within the recent window,
// used by the sanitization pipeline's MAX_PROCESSING_AGE check.
func (r *recentBlockhashes) Contains(blockhash solanatypes.Hash) (solanatypes.Slot, bool) {
	for i := len(r.entries) - 1; i >= 0; i-- {
		if r.entries[i].Blockhash == blockhash {
			return r.entries[i].Slot, true
		}
	}
	return 0, false
}

func (r *recentBlockhashes) Snapshot() []BlockhashEntry {
	return append([]BlockhashEntry(nil), r.entries...)
}

func (r *recentBlockhashes) restore(entries []BlockhashEntry) {
	r.entries = append([]BlockhashEntry(nil), entries...)
}
