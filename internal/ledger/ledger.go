package ledger

import (
	"encoding/binary"
	"fmt"

	"github.com/erigontech/mdbx-go/mdbx"
	"go.uber.org/zap"

	"github.com/ephemeral-svm/validator/internal/solanatypes"
)

// Config configures where and how the ledger's mdbx environment is
// opened, matching the ledger.* TOML section (spec §6).
type Config struct {
	Path    string
	Reset   bool // wipes prior ledger, per ledger.reset
	MapSize int64
}

// Ledger is the durable append-only log described in spec §4.2: typed
// column operations over an mdbx environment, with atomic cross-column
// write batches.
type Ledger struct {
	log  *zap.Logger
	env  *mdbx.Env
	dbis map[string]mdbx.DBI
}

// Open creates or opens the ledger directory. If cfg.Reset is set, any
// existing ledger at cfg.Path is wiped first (spec §6 "reset=true wipes
// prior ledger").
func Open(log *zap.Logger, cfg Config) (*Ledger, error) {
	if cfg.Reset {
		if err := resetLedgerDir(cfg.Path); err != nil {
			return nil, fmt.Errorf("ledger: reset: %w", err)
		}
	}
	if err := raiseOpenFileLimit(log); err != nil {
		// Non-fatal per spec §4.2 ("log and optionally fail if not
		// achievable") — configuration may choose to treat this as
		// fatal at a higher layer; here we only log.
		log.Warn("ledger: could not raise open-file limit", zap.Error(err))
	}

	env, err := mdbx.NewEnv()
	if err != nil {
		return nil, fmt.Errorf("ledger: new env: %w", err)
	}
	if err := env.SetOption(mdbx.OptMaxDB, uint64(len(allTables))); err != nil {
		return nil, fmt.Errorf("ledger: set max dbs: %w", err)
	}
	if cfg.MapSize > 0 {
		if err := env.SetGeometry(-1, -1, int(cfg.MapSize), -1, -1, -1); err != nil {
			return nil, fmt.Errorf("ledger: set geometry: %w", err)
		}
	}
	if err := env.Open(cfg.Path, 0, 0o644); err != nil {
		return nil, fmt.Errorf("ledger: open %s: %w", cfg.Path, err)
	}

	l := &Ledger{log: log, env: env, dbis: make(map[string]mdbx.DBI, len(allTables))}
	err = env.Update(func(txn *mdbx.Txn) error {
		for _, table := range allTables {
			dbi, err := txn.OpenDBISimple(table, mdbx.Create)
			if err != nil {
				return fmt.Errorf("open table %s: %w", table, err)
			}
			l.dbis[table] = dbi
		}
		existing, err := txn.Get(l.dbis[Meta], metaSchemaVersionKey)
		if err != nil && !mdbx.IsNotFound(err) {
			return err
		}
		if len(existing) == 0 {
			return txn.Put(l.dbis[Meta], metaSchemaVersionKey, []byte(DBSchemaVersion), 0)
		}
		return nil
	})
	if err != nil {
		env.Close()
		return nil, fmt.Errorf("ledger: init tables: %w", err)
	}
	return l, nil
}

func (l *Ledger) Close() error {
	l.env.Close()
	return nil
}

// Op is one write in a WriteBatch: either a Put (Delete=false) or a
// tombstone (Delete=true).
type Op struct {
	Table  string
	Key    []byte
	Value  []byte
	Delete bool
}

// WriteBatch applies ops atomically across every column touched (spec
// §4.2 "Writes inside write_batch are atomic across columns").
func (l *Ledger) WriteBatch(ops []Op) error {
	return l.env.Update(func(txn *mdbx.Txn) error {
		for _, op := range ops {
			dbi, ok := l.dbis[op.Table]
			if !ok {
				return fmt.Errorf("ledger: unknown table %q", op.Table)
			}
			if op.Delete {
				if err := txn.Del(dbi, op.Key, nil); err != nil && !mdbx.IsNotFound(err) {
					return fmt.Errorf("delete %s/%x: %w", op.Table, op.Key, err)
				}
				continue
			}
			if err := txn.Put(dbi, op.Key, op.Value, 0); err != nil {
				return fmt.Errorf("put %s/%x: %w", op.Table, op.Key, err)
			}
		}
		return nil
	})
}

// Put writes a single key/value pair in table.
func (l *Ledger) Put(table string, key, value []byte) error {
	return l.WriteBatch([]Op{{Table: table, Key: key, Value: value}})
}

// Get reads a single value from table, returning (nil, false, nil) if absent.
func (l *Ledger) Get(table string, key []byte) ([]byte, bool, error) {
	dbi, ok := l.dbis[table]
	if !ok {
		return nil, false, fmt.Errorf("ledger: unknown table %q", table)
	}
	var out []byte
	err := l.env.View(func(txn *mdbx.Txn) error {
		v, err := txn.Get(dbi, key)
		if mdbx.IsNotFound(err) {
			return nil
		}
		if err != nil {
			return err
		}
		out = append([]byte{}, v...)
		return nil
	})
	return out, out != nil, err
}

// IterMode selects iteration direction for Iter.
type IterMode int

const (
	Forward IterMode = iota
	Reverse
)

// Iter calls fn for every (key, value) in table starting at fromKey
// (inclusive; nil means "from the start"/"from the end" depending on
// mode), in the given order, until fn returns false.
func (l *Ledger) Iter(table string, fromKey []byte, mode IterMode, fn func(key, value []byte) bool) error {
	dbi, ok := l.dbis[table]
	if !ok {
		return fmt.Errorf("ledger: unknown table %q", table)
	}
	return l.env.View(func(txn *mdbx.Txn) error {
		cur, err := txn.OpenCursor(dbi)
		if err != nil {
			return err
		}
		defer cur.Close()

		var op mdbx.CursorOp = mdbx.First
		if mode == Reverse {
			op = mdbx.Last
		}
		var k, v []byte
		if fromKey != nil {
			k, v, err = cur.Get(fromKey, nil, mdbx.SetRange)
			if mode == Reverse {
				switch {
				case mdbx.IsNotFound(err):
					// fromKey is past every key in the table; the
					// reverse scan still starts at the true last key.
					k, v, err = cur.Get(nil, nil, mdbx.Last)
				case err == nil && string(k) != string(fromKey):
					// SetRange lands at the first key >= fromKey; for a
					// reverse scan we want the first key <= fromKey.
					k, v, err = cur.Get(nil, nil, mdbx.Prev)
				}
			}
		} else {
			k, v, err = cur.Get(nil, nil, op)
		}
		nextOp := mdbx.Next
		if mode == Reverse {
			nextOp = mdbx.Prev
		}
		for ; err == nil; k, v, err = cur.Get(nil, nil, nextOp) {
			if !fn(k, v) {
				return nil
			}
		}
		if mdbx.IsNotFound(err) {
			return nil
		}
		return err
	})
}

// DeleteRange removes every key in [from, to) from table (spec §4.2
// "delete_range<C>(from, to) (inclusive-exclusive at the API; stored
// columns adjust to match)").
func (l *Ledger) DeleteRange(table string, from, to []byte) error {
	dbi, ok := l.dbis[table]
	if !ok {
		return fmt.Errorf("ledger: unknown table %q", table)
	}
	return l.env.Update(func(txn *mdbx.Txn) error {
		cur, err := txn.OpenCursor(dbi)
		if err != nil {
			return err
		}
		defer cur.Close()
		k, _, err := cur.Get(from, nil, mdbx.SetRange)
		for ; err == nil; k, _, err = cur.Get(nil, nil, mdbx.Next) {
			if to != nil && compareBytes(k, to) >= 0 {
				break
			}
			if delErr := cur.Del(0); delErr != nil {
				return delErr
			}
		}
		if mdbx.IsNotFound(err) {
			return nil
		}
		return err
	})
}

func compareBytes(a, b []byte) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}

// DiskSize reports the ledger's total on-disk footprint, exposed as the
// gauge spec §4.2 calls for ("Total on-disk size is reported as a
// gauge").
func (l *Ledger) DiskSize() (int64, error) {
	info, err := l.env.Info(nil)
	if err != nil {
		return 0, err
	}
	return int64(info.Geo.Current), nil
}

// SetTipSlot persists the highest slot this ledger has recorded, used by
// C13 replay to verify "the ledger's recorded tip slot equals the bank
// slot" on startup.
func (l *Ledger) SetTipSlot(slot solanatypes.Slot) error {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(slot))
	return l.Put(Meta, metaTipSlotKey, buf)
}

// TipSlot returns the last slot recorded via SetTipSlot, or (0, false)
// for a fresh ledger.
func (l *Ledger) TipSlot() (solanatypes.Slot, bool, error) {
	v, ok, err := l.Get(Meta, metaTipSlotKey)
	if err != nil || !ok {
		return 0, ok, err
	}
	return solanatypes.Slot(binary.BigEndian.Uint64(v)), true, nil
}
