package ledger

import (
	"encoding/binary"
	"fmt"

	jsoniter "github.com/json-iterator/go"

	"github.com/ephemeral-svm/validator/internal/solanatypes"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func slotKey(slot solanatypes.Slot) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(slot))
	return buf
}

func slotTxIndexKey(slot solanatypes.Slot, txIndex uint32) []byte {
	buf := make([]byte, 12)
	binary.BigEndian.PutUint64(buf[0:8], uint64(slot))
	binary.BigEndian.PutUint32(buf[8:12], txIndex)
	return buf
}

func addressSignatureKey(pubkey solanatypes.Pubkey, slot solanatypes.Slot, txIndex uint32) []byte {
	buf := make([]byte, solanatypes.PubkeyLen+12)
	copy(buf, pubkey[:])
	binary.BigEndian.PutUint64(buf[solanatypes.PubkeyLen:], uint64(slot))
	binary.BigEndian.PutUint32(buf[solanatypes.PubkeyLen+8:], txIndex)
	return buf
}

func statusKey(sig solanatypes.Signature, slot solanatypes.Slot) []byte {
	buf := make([]byte, solanatypes.SignatureLen+8)
	copy(buf, sig[:])
	binary.BigEndian.PutUint64(buf[solanatypes.SignatureLen:], uint64(slot))
	return buf
}

func encodeBlockMeta(m BlockMeta) []byte {
	buf := make([]byte, 8+solanatypes.HashLen*2+4)
	binary.BigEndian.PutUint64(buf[0:8], uint64(m.BlockTime))
	off := 8
	copy(buf[off:], m.Blockhash[:])
	off += solanatypes.HashLen
	copy(buf[off:], m.PreviousBlockhash[:])
	off += solanatypes.HashLen
	binary.BigEndian.PutUint32(buf[off:], m.TxCount)
	return buf
}

func decodeBlockMeta(b []byte) (BlockMeta, error) {
	want := 8 + solanatypes.HashLen*2 + 4
	if len(b) != want {
		return BlockMeta{}, fmt.Errorf("ledger: corrupt block meta (len %d want %d)", len(b), want)
	}
	var m BlockMeta
	m.BlockTime = int64(binary.BigEndian.Uint64(b[0:8]))
	off := 8
	copy(m.Blockhash[:], b[off:off+solanatypes.HashLen])
	off += solanatypes.HashLen
	copy(m.PreviousBlockhash[:], b[off:off+solanatypes.HashLen])
	off += solanatypes.HashLen
	m.TxCount = binary.BigEndian.Uint32(b[off:])
	return m, nil
}

func encodeStatusMeta(s TransactionStatusMeta) ([]byte, error) {
	return json.Marshal(s)
}

func decodeStatusMeta(b []byte) (TransactionStatusMeta, error) {
	var s TransactionStatusMeta
	err := json.Unmarshal(b, &s)
	return s, err
}

func encodePerfSample(s PerfSample) []byte {
	buf := make([]byte, 8+8+2)
	binary.BigEndian.PutUint64(buf[0:8], s.NumTransactions)
	binary.BigEndian.PutUint64(buf[8:16], s.NumSlots)
	binary.BigEndian.PutUint16(buf[16:18], s.SamplePeriodSecs)
	return buf
}

func decodePerfSample(b []byte) (PerfSample, error) {
	if len(b) != 18 {
		return PerfSample{}, fmt.Errorf("ledger: corrupt perf sample (len %d)", len(b))
	}
	return PerfSample{
		NumTransactions:  binary.BigEndian.Uint64(b[0:8]),
		NumSlots:         binary.BigEndian.Uint64(b[8:16]),
		SamplePeriodSecs: binary.BigEndian.Uint16(b[16:18]),
	}, nil
}
