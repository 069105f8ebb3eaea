// Package sysvarcache holds a typed, read-mostly mirror of the bank's
// sysvar accounts (clock, rent, epoch schedule, recent slot hashes) so
// the transaction processor can read them without re-deserializing the
// backing account on every access.
package sysvarcache

import (
	"sync"

	"github.com/ephemeral-svm/validator/internal/solanatypes"
)

// Clock mirrors the clock sysvar account.
type Clock struct {
	Slot                solanatypes.Slot
	EpochStartTimestamp int64
	Epoch               uint64
	LeaderScheduleEpoch uint64
	UnixTimestamp       int64
}

// Rent mirrors the rent sysvar account.
type Rent struct {
	LamportsPerByteYear uint64
	ExemptionThreshold  float64
	BurnPercent         uint8
}

// EpochSchedule mirrors the epoch_schedule sysvar account.
type EpochSchedule struct {
	SlotsPerEpoch            uint64
	LeaderScheduleSlotOffset uint64
	Warmup                   bool
	FirstNormalEpoch         uint64
	FirstNormalSlot          solanatypes.Slot
}

// SlotHashEntry is one row of the slot_hashes sysvar's bounded history.
type SlotHashEntry struct {
	Slot solanatypes.Slot
	Hash solanatypes.Hash
}

// Cache is the sysvar cache described by the bank: every field has a
// typed setter, rather than exposing a mutable pointer into the cache
// for callers to write through directly.
type Cache struct {
	mu            sync.RWMutex
	clock         Clock
	rent          Rent
	epochSchedule EpochSchedule
	slotHashes    []SlotHashEntry
}

func New() *Cache {
	return &Cache{}
}

// SetClock replaces the cached clock sysvar. Called once per
// advance_slot from C3, just before the clock account itself is written.
func (c *Cache) SetClock(clock Clock) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clock = clock
}

func (c *Cache) Clock() Clock {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.clock
}

func (c *Cache) SetRent(rent Rent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rent = rent
}

func (c *Cache) Rent() Rent {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rent
}

func (c *Cache) SetEpochSchedule(s EpochSchedule) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epochSchedule = s
}

func (c *Cache) EpochSchedule() EpochSchedule {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.epochSchedule
}

// SetSlotHashes replaces the cached slot-hashes history wholesale, as one
// unit, so readers never see a partially-updated list. The bank's
// advance_slot does not call it.
func (c *Cache) SetSlotHashes(entries []SlotHashEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.slotHashes = append([]SlotHashEntry(nil), entries...)
}

func (c *Cache) SlotHashes() []SlotHashEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]SlotHashEntry(nil), c.slotHashes...)
}
