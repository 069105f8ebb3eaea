package accountsdb

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/ephemeral-svm/validator/internal/accountsdb/index"
	"github.com/ephemeral-svm/validator/internal/solanatypes"
)

const snapshotIndexFile = "index.snap"
const snapshotMainFile = "main.data"
const snapshotBlockhashFile = "blockhash.bin"
const snapshotHighWaterFile = "highwater.bin"

// writeSnapshotDir materializes one directory-based snapshot: the index
// rows serialized to snapshotIndexFile, and the main file hard-linked in
// as snapshotMainFile so cloning a snapshot never copies account data
// (spec §4.1 "Snapshots are directory-based and can be hard-linked to
// allow cheap cloning").
func writeSnapshotDir(root string, slot solanatypes.Slot, mainFilePath string, snap index.Snapshot, blockhash solanatypes.Hash) (string, error) {
	dir := filepath.Join(root, fmt.Sprintf("%020d", uint64(slot)))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("accountsdb: mkdir snapshot dir: %w", err)
	}

	mainLink := filepath.Join(dir, snapshotMainFile)
	if err := os.Link(mainFilePath, mainLink); err != nil {
		// Cross-device or already-exists: fall back to a copy so
		// snapshotting never hard-fails just because hard links aren't
		// available on this filesystem.
		if copyErr := copyFile(mainFilePath, mainLink); copyErr != nil {
			return "", fmt.Errorf("accountsdb: link/copy main file into snapshot: %w", copyErr)
		}
	}

	idxPath := filepath.Join(dir, snapshotIndexFile)
	f, err := os.Create(idxPath)
	if err != nil {
		return "", fmt.Errorf("accountsdb: create snapshot index: %w", err)
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	var writeErr error
	var highWater uint32
	snap.Entries(func(pubkey, owner solanatypes.Pubkey, region index.Region) bool {
		var row [solanatypes.PubkeyLen*2 + 8]byte
		copy(row[:], pubkey[:])
		copy(row[solanatypes.PubkeyLen:], owner[:])
		binary.BigEndian.PutUint32(row[solanatypes.PubkeyLen*2:], region.Offset)
		binary.BigEndian.PutUint32(row[solanatypes.PubkeyLen*2+4:], region.Length)
		if _, writeErr = w.Write(row[:]); writeErr != nil {
			return false
		}
		if end := region.Offset + region.Length; end > highWater {
			highWater = end
		}
		return true
	})
	if writeErr != nil {
		return "", fmt.Errorf("accountsdb: write snapshot index: %w", writeErr)
	}
	if err := w.Flush(); err != nil {
		return "", fmt.Errorf("accountsdb: flush snapshot index: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, snapshotBlockhashFile), blockhash[:], 0o644); err != nil {
		return "", fmt.Errorf("accountsdb: write snapshot blockhash: %w", err)
	}
	var hwBuf [4]byte
	binary.BigEndian.PutUint32(hwBuf[:], highWater)
	if err := os.WriteFile(filepath.Join(dir, snapshotHighWaterFile), hwBuf[:], 0o644); err != nil {
		return "", fmt.Errorf("accountsdb: write snapshot high-water mark: %w", err)
	}
	return dir, nil
}

// readSnapshotHighWater recovers the byte offset one past the last
// region a snapshot's index referenced, so Restore can push the main
// file's bump allocator out past it before any further Alloc call.
func readSnapshotHighWater(dir string) (uint32, error) {
	raw, err := os.ReadFile(filepath.Join(dir, snapshotHighWaterFile))
	if err != nil {
		return 0, fmt.Errorf("accountsdb: read snapshot high-water mark: %w", err)
	}
	if len(raw) != 4 {
		return 0, fmt.Errorf("accountsdb: corrupt snapshot high-water mark (size %d)", len(raw))
	}
	return binary.BigEndian.Uint32(raw), nil
}

// readSnapshotBlockhash recovers the blockhash active when a snapshot was
// taken, written alongside it so C13 replay can recreate the bank's
// last_blockhash without re-deriving the whole chain from genesis.
func readSnapshotBlockhash(dir string) (solanatypes.Hash, error) {
	raw, err := os.ReadFile(filepath.Join(dir, snapshotBlockhashFile))
	if err != nil {
		return solanatypes.Hash{}, fmt.Errorf("accountsdb: read snapshot blockhash: %w", err)
	}
	var h solanatypes.Hash
	copy(h[:], raw)
	return h, nil
}

// fileSnapshot is an index.Snapshot reconstructed from a directory
// written by writeSnapshotDir.
type fileSnapshot struct {
	rows []struct {
		pubkey solanatypes.Pubkey
		owner  solanatypes.Pubkey
		region index.Region
	}
}

func (s fileSnapshot) Entries(fn func(pubkey, owner solanatypes.Pubkey, region index.Region) bool) {
	for _, r := range s.rows {
		if !fn(r.pubkey, r.owner, r.region) {
			return
		}
	}
}

func readSnapshotDir(dir string) (index.Snapshot, error) {
	idxPath := filepath.Join(dir, snapshotIndexFile)
	raw, err := os.ReadFile(idxPath)
	if err != nil {
		return nil, fmt.Errorf("accountsdb: read snapshot index: %w", err)
	}
	const rowLen = solanatypes.PubkeyLen*2 + 8
	if len(raw)%rowLen != 0 {
		return nil, fmt.Errorf("accountsdb: corrupt snapshot index (size %d not a multiple of %d)", len(raw), rowLen)
	}
	var snap fileSnapshot
	for off := 0; off < len(raw); off += rowLen {
		row := raw[off : off+rowLen]
		var pubkey, owner solanatypes.Pubkey
		copy(pubkey[:], row[:solanatypes.PubkeyLen])
		copy(owner[:], row[solanatypes.PubkeyLen:solanatypes.PubkeyLen*2])
		region := index.Region{
			Offset: binary.BigEndian.Uint32(row[solanatypes.PubkeyLen*2:]),
			Length: binary.BigEndian.Uint32(row[solanatypes.PubkeyLen*2+4:]),
		}
		snap.rows = append(snap.rows, struct {
			pubkey solanatypes.Pubkey
			owner  solanatypes.Pubkey
			region index.Region
		}{pubkey, owner, region})
	}
	return snap, nil
}

func removeSnapshotDir(dir string) error {
	return os.RemoveAll(dir)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	buf := make([]byte, 1<<20)
	for {
		n, readErr := in.Read(buf)
		if n > 0 {
			if _, writeErr := out.Write(buf[:n]); writeErr != nil {
				return writeErr
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				return nil
			}
			return readErr
		}
	}
}
