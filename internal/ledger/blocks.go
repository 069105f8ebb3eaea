package ledger

import (
	"fmt"
	"sort"

	"github.com/ephemeral-svm/validator/internal/solanatypes"
)

// PendingTransaction is one transaction awaiting WriteBlock's atomic
// commit, paired with the status it finished with.
type PendingTransaction struct {
	Signature solanatypes.Signature
	TxBytes   []byte
	Status    TransactionStatusMeta
	Writable  []solanatypes.Pubkey // keys touched, for AddressSignatures fan-out
}

// WriteBlock atomically records a slot's metadata and every transaction
// executed in it, matching spec §4.2's write_block/write_transaction
// contract and its "atomic across columns" guarantee by building one
// WriteBatch.
func (l *Ledger) WriteBlock(slot solanatypes.Slot, meta BlockMeta, txs []PendingTransaction) error {
	meta.TxCount = uint32(len(txs))
	ops := []Op{
		{Table: Blocks, Key: slotKey(slot), Value: encodeBlockMeta(meta)},
		{Table: Blockhashes, Key: slotKey(slot), Value: meta.Blockhash[:]},
		{Table: BlockhashesReverse, Key: meta.Blockhash[:], Value: slotKey(slot)},
	}
	for i, tx := range txs {
		txIndex := uint32(i)
		ops = append(ops,
			Op{Table: Transactions, Key: tx.Signature[:], Value: encodeTxRecord(slot, tx.TxBytes)},
			Op{Table: SlotSignatures, Key: slotTxIndexKey(slot, txIndex), Value: tx.Signature[:]},
		)
		statusVal, err := encodeStatusMeta(tx.Status)
		if err != nil {
			return fmt.Errorf("ledger: encode status for %s: %w", tx.Signature, err)
		}
		ops = append(ops, Op{Table: TransactionStatus, Key: statusKey(tx.Signature, slot), Value: statusVal})
		for _, key := range tx.Writable {
			ops = append(ops, Op{Table: AddressSignatures, Key: addressSignatureKey(key, slot, txIndex), Value: tx.Signature[:]})
		}
	}
	if err := l.WriteBatch(ops); err != nil {
		return fmt.Errorf("ledger: write block %d: %w", slot, err)
	}
	return l.SetTipSlot(slot)
}

func encodeTxRecord(slot solanatypes.Slot, txBytes []byte) []byte {
	buf := make([]byte, 8+len(txBytes))
	solanatypes.PutSlot(buf, slot)
	copy(buf[8:], txBytes)
	return buf
}

func decodeTxRecord(b []byte) (solanatypes.Slot, []byte) {
	return solanatypes.ParseSlot(b[:8]), b[8:]
}

// GetBlock reassembles a block by joining Blocks, SlotSignatures (ordered
// by tx_index) and Transactions/TransactionStatus, per spec §4.2.
func (l *Ledger) GetBlock(slot solanatypes.Slot) (Block, bool, error) {
	metaRaw, ok, err := l.Get(Blocks, slotKey(slot))
	if err != nil || !ok {
		return Block{}, ok, err
	}
	meta, err := decodeBlockMeta(metaRaw)
	if err != nil {
		return Block{}, false, err
	}

	type indexed struct {
		index uint32
		sig   solanatypes.Signature
	}
	var sigs []indexed
	prefix := slotKey(slot)
	if err := l.Iter(SlotSignatures, prefix, Forward, func(key, value []byte) bool {
		if len(key) < 8 || !bytesEqual(key[:8], prefix) {
			return false
		}
		var sig solanatypes.Signature
		copy(sig[:], value)
		idx := uint32(0)
		if len(key) >= 12 {
			idx = beUint32(key[8:12])
		}
		sigs = append(sigs, indexed{index: idx, sig: sig})
		return true
	}); err != nil {
		return Block{}, false, err
	}
	sort.Slice(sigs, func(i, j int) bool { return sigs[i].index < sigs[j].index })

	block := Block{Slot: slot, Meta: meta}
	for _, s := range sigs {
		txRaw, ok, err := l.Get(Transactions, s.sig[:])
		if err != nil {
			return Block{}, false, err
		}
		var txBytes []byte
		if ok {
			_, txBytes = decodeTxRecord(txRaw)
		}
		statusRaw, ok, err := l.Get(TransactionStatus, statusKey(s.sig, slot))
		if err != nil {
			return Block{}, false, err
		}
		var status TransactionStatusMeta
		if ok {
			status, err = decodeStatusMeta(statusRaw)
			if err != nil {
				return Block{}, false, err
			}
		}
		block.Transactions = append(block.Transactions, BlockTransaction{
			Index:     s.index,
			Signature: s.sig,
			TxBytes:   txBytes,
			Status:    status,
		})
	}
	return block, true, nil
}

// SignaturesForAddress returns signatures touching pubkey, newest slot
// first, capped at limit (0 means unlimited) — the ledger-side support for
// an RPC-equivalent getSignaturesForAddress.
func (l *Ledger) SignaturesForAddress(pubkey solanatypes.Pubkey, limit int) ([]solanatypes.Signature, error) {
	var out []solanatypes.Signature
	prefix := pubkey[:]
	upperBound := make([]byte, len(prefix)+12)
	copy(upperBound, prefix)
	for i := len(prefix); i < len(upperBound); i++ {
		upperBound[i] = 0xFF
	}
	err := l.Iter(AddressSignatures, upperBound, Reverse, func(key, value []byte) bool {
		if len(key) < len(prefix) || !bytesEqual(key[:len(prefix)], prefix) {
			return false
		}
		var sig solanatypes.Signature
		copy(sig[:], value)
		out = append(out, sig)
		return limit == 0 || len(out) < limit
	})
	return out, err
}

// PutPerfSample records one slot's throughput sample.
func (l *Ledger) PutPerfSample(slot solanatypes.Slot, sample PerfSample) error {
	return l.Put(PerfSamples, slotKey(slot), encodePerfSample(sample))
}

// PutTransactionMemo stores a transaction's memo-program text payload.
func (l *Ledger) PutTransactionMemo(sig solanatypes.Signature, memo string) error {
	return l.Put(TransactionMemos, sig[:], []byte(memo))
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func beUint32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}
