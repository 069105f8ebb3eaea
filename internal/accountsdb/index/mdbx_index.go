package index

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/erigontech/mdbx-go/mdbx"

	"github.com/ephemeral-svm/validator/internal/solanatypes"
)

const (
	primaryTable = "accounts_primary"
	ownerTable   = "accounts_by_owner"
)

// MdbxIndex is the production Index: a B+tree-style ordered map backed by
// an mdbx environment, matching spec §4.1 ("A separate index file
// (ordered map, B+tree-style)... The owner-index is a second ordered map
// with composite keys owner ⊕ pubkey -> block_offset").
type MdbxIndex struct {
	env         *mdbx.Env
	primaryDBI  mdbx.DBI
	ownerDBI    mdbx.DBI
}

// MdbxIndexConfig tunes the underlying environment; MapSize mirrors the
// config key accounts-db.index_map_size (spec §6).
type MdbxIndexConfig struct {
	Path    string
	MapSize int64
}

// OpenMdbxIndex opens (creating if absent) the on-disk index.
func OpenMdbxIndex(cfg MdbxIndexConfig) (*MdbxIndex, error) {
	env, err := mdbx.NewEnv()
	if err != nil {
		return nil, fmt.Errorf("accountsdb/index: new env: %w", err)
	}
	if err := env.SetOption(mdbx.OptMaxDB, 2); err != nil {
		return nil, fmt.Errorf("accountsdb/index: set max dbs: %w", err)
	}
	if cfg.MapSize > 0 {
		if err := env.SetGeometry(-1, -1, int(cfg.MapSize), -1, -1, -1); err != nil {
			return nil, fmt.Errorf("accountsdb/index: set geometry: %w", err)
		}
	}
	if err := env.Open(cfg.Path, mdbx.NoSubdir|mdbx.Coalesce|mdbx.LifoReclaim, 0o644); err != nil {
		return nil, fmt.Errorf("accountsdb/index: open %s: %w", cfg.Path, err)
	}
	idx := &MdbxIndex{env: env}
	err = env.Update(func(txn *mdbx.Txn) error {
		var dbiErr error
		idx.primaryDBI, dbiErr = txn.OpenDBISimple(primaryTable, mdbx.Create)
		if dbiErr != nil {
			return dbiErr
		}
		idx.ownerDBI, dbiErr = txn.OpenDBISimple(ownerTable, mdbx.Create)
		return dbiErr
	})
	if err != nil {
		env.Close()
		return nil, fmt.Errorf("accountsdb/index: open tables: %w", err)
	}
	return idx, nil
}

func encodeRegion(r Region) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint32(buf[0:4], r.Offset)
	binary.BigEndian.PutUint32(buf[4:8], r.Length)
	return buf
}

func decodeRegion(b []byte) Region {
	return Region{
		Offset: binary.BigEndian.Uint32(b[0:4]),
		Length: binary.BigEndian.Uint32(b[4:8]),
	}
}

// primaryValue packs owner ⊕ region so a point lookup also recovers the
// current owner without a second table read (needed to remove the stale
// owner-index row on overwrite).
func encodePrimaryValue(owner solanatypes.Pubkey, region Region) []byte {
	v := make([]byte, solanatypes.PubkeyLen+8)
	copy(v, owner[:])
	copy(v[solanatypes.PubkeyLen:], encodeRegion(region))
	return v
}

func decodePrimaryValue(v []byte) (solanatypes.Pubkey, Region) {
	var owner solanatypes.Pubkey
	copy(owner[:], v[:solanatypes.PubkeyLen])
	return owner, decodeRegion(v[solanatypes.PubkeyLen:])
}

func ownerKey(owner, pubkey solanatypes.Pubkey) []byte {
	key := make([]byte, 0, solanatypes.PubkeyLen*2)
	key = append(key, owner[:]...)
	key = append(key, pubkey[:]...)
	return key
}

func (idx *MdbxIndex) Get(pubkey solanatypes.Pubkey) (Region, error) {
	var region Region
	err := idx.env.View(func(txn *mdbx.Txn) error {
		v, err := txn.Get(idx.primaryDBI, pubkey[:])
		if mdbx.IsNotFound(err) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		_, region = decodePrimaryValue(v)
		return nil
	})
	return region, err
}

func (idx *MdbxIndex) Put(pubkey solanatypes.Pubkey, oldOwner, newOwner solanatypes.Pubkey, region Region) error {
	return idx.env.Update(func(txn *mdbx.Txn) error {
		if !oldOwner.IsZero() {
			if err := txn.Del(idx.ownerDBI, ownerKey(oldOwner, pubkey), nil); err != nil && !mdbx.IsNotFound(err) {
				return err
			}
		}
		if err := txn.Put(idx.primaryDBI, pubkey[:], encodePrimaryValue(newOwner, region), 0); err != nil {
			return err
		}
		return txn.Put(idx.ownerDBI, ownerKey(newOwner, pubkey), encodeRegion(region), 0)
	})
}

func (idx *MdbxIndex) Delete(pubkey solanatypes.Pubkey, owner solanatypes.Pubkey) error {
	return idx.env.Update(func(txn *mdbx.Txn) error {
		if err := txn.Del(idx.primaryDBI, pubkey[:], nil); err != nil && !mdbx.IsNotFound(err) {
			return err
		}
		if err := txn.Del(idx.ownerDBI, ownerKey(owner, pubkey), nil); err != nil && !mdbx.IsNotFound(err) {
			return err
		}
		return nil
	})
}

func (idx *MdbxIndex) ScanByOwner(owner solanatypes.Pubkey, fn func(pubkey solanatypes.Pubkey, region Region) bool) error {
	return idx.env.View(func(txn *mdbx.Txn) error {
		cur, err := txn.OpenCursor(idx.ownerDBI)
		if err != nil {
			return err
		}
		defer cur.Close()
		prefix := owner[:]
		k, v, err := cur.Get(prefix, nil, mdbx.SetRange)
		for ; err == nil; k, v, err = cur.Get(nil, nil, mdbx.Next) {
			if !bytes.HasPrefix(k, prefix) {
				break
			}
			var pk solanatypes.Pubkey
			copy(pk[:], k[solanatypes.PubkeyLen:])
			if !fn(pk, decodeRegion(v)) {
				break
			}
		}
		if mdbx.IsNotFound(err) {
			return nil
		}
		return err
	})
}

type mdbxSnapshot struct {
	rows []struct {
		pubkey solanatypes.Pubkey
		owner  solanatypes.Pubkey
		region Region
	}
}

func (s mdbxSnapshot) Entries(fn func(pubkey, owner solanatypes.Pubkey, region Region) bool) {
	for _, r := range s.rows {
		if !fn(r.pubkey, r.owner, r.region) {
			return
		}
	}
}

// Snapshot walks the primary table under a read transaction. Because
// mdbx read transactions see a consistent point-in-time view, this is
// safe to call concurrently with writers; the accounts store still wraps
// it with the global StWLock so the *account data* (in the main file) is
// quiesced at the same instant (spec §4.1 "Snapshot-consistent reads").
func (idx *MdbxIndex) Snapshot() (Snapshot, error) {
	var snap mdbxSnapshot
	err := idx.env.View(func(txn *mdbx.Txn) error {
		cur, err := txn.OpenCursor(idx.primaryDBI)
		if err != nil {
			return err
		}
		defer cur.Close()
		for k, v, err := cur.Get(nil, nil, mdbx.First); err == nil; k, v, err = cur.Get(nil, nil, mdbx.Next) {
			var pk solanatypes.Pubkey
			copy(pk[:], k)
			owner, region := decodePrimaryValue(v)
			snap.rows = append(snap.rows, struct {
				pubkey solanatypes.Pubkey
				owner  solanatypes.Pubkey
				region Region
			}{pk, owner, region})
		}
		return nil
	})
	return snap, err
}

func (idx *MdbxIndex) Restore(snap Snapshot) error {
	return idx.env.Update(func(txn *mdbx.Txn) error {
		if err := txn.Drop(idx.primaryDBI, false); err != nil {
			return err
		}
		if err := txn.Drop(idx.ownerDBI, false); err != nil {
			return err
		}
		var putErr error
		snap.Entries(func(pubkey, owner solanatypes.Pubkey, region Region) bool {
			if putErr = txn.Put(idx.primaryDBI, pubkey[:], encodePrimaryValue(owner, region), 0); putErr != nil {
				return false
			}
			putErr = txn.Put(idx.ownerDBI, ownerKey(owner, pubkey), encodeRegion(region), 0)
			return putErr == nil
		})
		return putErr
	})
}

func (idx *MdbxIndex) Close() error {
	idx.env.Close()
	return nil
}
