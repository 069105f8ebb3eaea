package sysvarcache

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ephemeral-svm/validator/internal/solanatypes"
)

func TestCacheSetClockIsVisibleToReaders(t *testing.T) {
	c := New()
	c.SetClock(Clock{Slot: 7, UnixTimestamp: 100})
	require.Equal(t, solanatypes.Slot(7), c.Clock().Slot)
}

func TestCacheSlotHashesCopyOnSet(t *testing.T) {
	c := New()
	entries := []SlotHashEntry{{Slot: 1, Hash: [32]byte{1}}}
	c.SetSlotHashes(entries)
	entries[0].Slot = 99 // mutating the caller's slice must not affect the cache
	require.Equal(t, solanatypes.Slot(1), c.SlotHashes()[0].Slot)
}
