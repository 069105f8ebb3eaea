package ledger

import (
	"encoding/binary"
	"fmt"
)

// accountModChunkSize bounds each AccountModData row so a single
// oversized account write never forces one mdbx page write far past the
// environment's page size; large payloads are split and reassembled.
const accountModChunkSize = 1 << 16

func accountModChunkKey(id uint64, chunk uint32) []byte {
	buf := make([]byte, 12)
	binary.BigEndian.PutUint64(buf[0:8], id)
	binary.BigEndian.PutUint32(buf[8:12], chunk)
	return buf
}

// PutAccountModData stores data under id, chunked across
// accountModChunkSize-byte rows (spec §4.2 "Account-mod data").
func (l *Ledger) PutAccountModData(id uint64, data []byte) error {
	var ops []Op
	if len(data) == 0 {
		ops = append(ops, Op{Table: AccountModData, Key: accountModChunkKey(id, 0), Value: []byte{}})
	}
	for off, chunk := 0, uint32(0); off < len(data); off, chunk = off+accountModChunkSize, chunk+1 {
		end := off + accountModChunkSize
		if end > len(data) {
			end = len(data)
		}
		ops = append(ops, Op{Table: AccountModData, Key: accountModChunkKey(id, chunk), Value: data[off:end]})
	}
	if err := l.WriteBatch(ops); err != nil {
		return fmt.Errorf("ledger: put account-mod data %d: %w", id, err)
	}
	return nil
}

// GetAccountModData reassembles the chunks written under id, in order.
func (l *Ledger) GetAccountModData(id uint64) ([]byte, bool, error) {
	prefix := make([]byte, 8)
	binary.BigEndian.PutUint64(prefix, id)
	var out []byte
	found := false
	err := l.Iter(AccountModData, prefix, Forward, func(key, value []byte) bool {
		if len(key) < 8 || !bytesEqual(key[:8], prefix) {
			return false
		}
		found = true
		out = append(out, value...)
		return true
	})
	if err != nil {
		return nil, false, err
	}
	return out, found, nil
}

// DeleteAccountModData removes every chunk stored under id, once the
// commit it backed has been confirmed and no longer needs replay.
func (l *Ledger) DeleteAccountModData(id uint64) error {
	from := accountModChunkKey(id, 0)
	to := accountModChunkKey(id+1, 0)
	return l.DeleteRange(AccountModData, from, to)
}
