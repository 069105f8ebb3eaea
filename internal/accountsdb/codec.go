package accountsdb

import (
	"encoding/binary"
	"fmt"

	"github.com/ephemeral-svm/validator/internal/solanatypes"
)

// recordHeaderLen is lamports(8) + owner(32) + executable(1) + rentEpoch(8) + dataLen(4).
const recordHeaderLen = 8 + solanatypes.PubkeyLen + 1 + 8 + 4

// encodeAccount serializes an account into the main-file record format.
func encodeAccount(a solanatypes.Account) []byte {
	buf := make([]byte, recordHeaderLen+len(a.Data))
	binary.BigEndian.PutUint64(buf[0:8], a.Lamports)
	copy(buf[8:8+solanatypes.PubkeyLen], a.Owner[:])
	off := 8 + solanatypes.PubkeyLen
	if a.Executable {
		buf[off] = 1
	}
	off++
	binary.BigEndian.PutUint64(buf[off:off+8], a.RentEpoch)
	off += 8
	binary.BigEndian.PutUint32(buf[off:off+4], uint32(len(a.Data)))
	off += 4
	copy(buf[off:], a.Data)
	return buf
}

// decodeAccount parses a record previously written by encodeAccount.
func decodeAccount(buf []byte) (solanatypes.Account, error) {
	if len(buf) < recordHeaderLen {
		return solanatypes.Account{}, fmt.Errorf("accountsdb: record too short (%d bytes)", len(buf))
	}
	var a solanatypes.Account
	a.Lamports = binary.BigEndian.Uint64(buf[0:8])
	copy(a.Owner[:], buf[8:8+solanatypes.PubkeyLen])
	off := 8 + solanatypes.PubkeyLen
	a.Executable = buf[off] != 0
	off++
	a.RentEpoch = binary.BigEndian.Uint64(buf[off : off+8])
	off += 8
	dataLen := binary.BigEndian.Uint32(buf[off : off+4])
	off += 4
	if off+int(dataLen) > len(buf) {
		return solanatypes.Account{}, fmt.Errorf("accountsdb: truncated record (want %d more bytes)", dataLen)
	}
	a.Data = make([]byte, dataLen)
	copy(a.Data, buf[off:off+int(dataLen)])
	return a, nil
}

// encodedLen returns how many bytes encodeAccount would produce, without
// allocating — used to size a block allocation ahead of the actual write.
func encodedLen(a solanatypes.Account) int {
	return recordHeaderLen + len(a.Data)
}
