package accountsdb

import (
	"fmt"
	"os"
	"sync"

	"github.com/edsrzf/mmap-go"
)

// BlockSize is one of the three sizes spec §4.1 allows for the accounts
// store's main file ("128/256/512 B, configurable").
type BlockSize uint32

const (
	Block128 BlockSize = 128
	Block256 BlockSize = 256
	Block512 BlockSize = 512
)

// Valid reports whether b is one of the three configured sizes.
func (b BlockSize) Valid() bool {
	switch b {
	case Block128, Block256, Block512:
		return true
	default:
		return false
	}
}

// initialBlocks is how many blocks a freshly created main file reserves
// before its first growth.
const initialBlocks = 4096

// growthFactor doubles the file when the allocator runs out of space, the
// same amortized-growth strategy erigon's mmap-backed files use.
const growthFactor = 2

// blockFile is the accounts store's preallocated, block-aligned main
// file: "Accounts are written at block-aligned offsets" (spec §4.1). It
// hands out and reclaims block-aligned regions; which account lives in
// which region is the index's job, not this file's.
type blockFile struct {
	mu        sync.Mutex
	f         *os.File
	mapped    mmap.MMap
	blockSize BlockSize
	numBlocks uint32 // capacity, in blocks
	nextFree  uint32 // bump allocator high-water mark, in blocks
	freeList  map[uint32][]uint32 // span length (blocks) -> list of block offsets
}

func openBlockFile(path string, blockSize BlockSize) (*blockFile, error) {
	if !blockSize.Valid() {
		return nil, fmt.Errorf("accountsdb: invalid block size %d", blockSize)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("accountsdb: open main file: %w", err)
	}
	bf := &blockFile{
		f:         f,
		blockSize: blockSize,
		freeList:  make(map[uint32][]uint32),
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if info.Size() == 0 {
		if err := bf.grow(initialBlocks); err != nil {
			f.Close()
			return nil, err
		}
	} else {
		bf.numBlocks = uint32(info.Size()) / uint32(blockSize)
		if err := bf.remap(); err != nil {
			f.Close()
			return nil, err
		}
	}
	return bf, nil
}

func (bf *blockFile) remap() error {
	if bf.mapped != nil {
		if err := bf.mapped.Unmap(); err != nil {
			return fmt.Errorf("accountsdb: unmap main file: %w", err)
		}
	}
	m, err := mmap.Map(bf.f, mmap.RDWR, 0)
	if err != nil {
		return fmt.Errorf("accountsdb: mmap main file: %w", err)
	}
	bf.mapped = m
	return nil
}

// grow extends the file by at least addBlocks, preserving existing data.
// Callers must hold bf.mu.
func (bf *blockFile) grow(addBlocks uint32) error {
	newBlocks := bf.numBlocks + addBlocks
	if bf.numBlocks > 0 {
		doubled := bf.numBlocks * growthFactor
		if doubled > newBlocks {
			newBlocks = doubled
		}
	}
	newSize := int64(newBlocks) * int64(bf.blockSize)
	if err := bf.f.Truncate(newSize); err != nil {
		return fmt.Errorf("accountsdb: truncate main file: %w", err)
	}
	bf.numBlocks = newBlocks
	return bf.remap()
}

// blocksFor returns how many blocks are needed to hold n bytes.
func (bf *blockFile) blocksFor(n int) uint32 {
	bs := uint32(bf.blockSize)
	return (uint32(n) + bs - 1) / bs
}

// Alloc reserves a contiguous span of blocks able to hold n bytes and
// returns the byte offset of its start. I/O errors growing the file are
// fatal per spec §4.1 ("I/O errors on the main file are fatal").
func (bf *blockFile) Alloc(n int) (uint32, error) {
	bf.mu.Lock()
	defer bf.mu.Unlock()
	need := bf.blocksFor(n)
	if spans, ok := bf.freeList[need]; ok && len(spans) > 0 {
		offset := spans[len(spans)-1]
		bf.freeList[need] = spans[:len(spans)-1]
		return offset * uint32(bf.blockSize), nil
	}
	if bf.nextFree+need > bf.numBlocks {
		if err := bf.grow(need); err != nil {
			return 0, err
		}
	}
	offset := bf.nextFree
	bf.nextFree += need
	return offset * uint32(bf.blockSize), nil
}

// SetNextFree advances the bump allocator's high-water mark to at least
// blocks, discarding any previously recorded free spans. A fresh process
// reopening an existing main file starts with no allocator state at all
// (bf.nextFree defaults to zero), so restoring a snapshot must push the
// high-water mark back out past every region the restored index
// references, or the next Alloc would hand out and overwrite live data.
func (bf *blockFile) SetNextFree(blocks uint32) {
	bf.mu.Lock()
	defer bf.mu.Unlock()
	if blocks > bf.nextFree {
		bf.nextFree = blocks
	}
	bf.freeList = make(map[uint32][]uint32)
}

// Free returns a span (identified by its starting byte offset and byte
// length) to the free list for reuse by a later Alloc of the same
// block-count class.
func (bf *blockFile) Free(offset uint32, n int) {
	bf.mu.Lock()
	defer bf.mu.Unlock()
	blocks := bf.blocksFor(n)
	blockOffset := offset / uint32(bf.blockSize)
	bf.freeList[blocks] = append(bf.freeList[blocks], blockOffset)
}

// Write copies data into the region starting at offset. The caller has
// already sized the region via Alloc using the same length.
func (bf *blockFile) Write(offset uint32, data []byte) error {
	bf.mu.Lock()
	defer bf.mu.Unlock()
	if int(offset)+len(data) > len(bf.mapped) {
		return fmt.Errorf("accountsdb: write out of bounds (offset=%d len=%d mapped=%d)", offset, len(data), len(bf.mapped))
	}
	copy(bf.mapped[offset:], data)
	return nil
}

// Read returns a copy of length bytes starting at offset.
func (bf *blockFile) Read(offset uint32, length uint32) ([]byte, error) {
	bf.mu.Lock()
	defer bf.mu.Unlock()
	if int(offset)+int(length) > len(bf.mapped) {
		return nil, fmt.Errorf("accountsdb: read out of bounds (offset=%d len=%d mapped=%d)", offset, length, len(bf.mapped))
	}
	out := make([]byte, length)
	copy(out, bf.mapped[offset:int(offset)+int(length)])
	return out, nil
}

// Flush persists dirty mmap pages; called before a snapshot is recorded
// (spec §4.1 "flushes dirty pages").
func (bf *blockFile) Flush() error {
	bf.mu.Lock()
	defer bf.mu.Unlock()
	if err := bf.mapped.Flush(); err != nil {
		return fmt.Errorf("accountsdb: flush main file: %w", err)
	}
	return nil
}

func (bf *blockFile) Close() error {
	bf.mu.Lock()
	defer bf.mu.Unlock()
	if bf.mapped != nil {
		if err := bf.mapped.Unmap(); err != nil {
			return err
		}
	}
	return bf.f.Close()
}
