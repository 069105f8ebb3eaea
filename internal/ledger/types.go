package ledger

import (
	"github.com/ephemeral-svm/validator/internal/solanatypes"
)

// BlockMeta is the row stored in the Blocks column.
type BlockMeta struct {
	BlockTime         int64
	Blockhash         solanatypes.Hash
	PreviousBlockhash solanatypes.Hash
	TxCount           uint32
}

// TransactionStatusMeta is one transaction's recorded outcome. Err is the
// stringified VM/runtime error the transaction failed with; an empty Err
// means success (spec §7 "recorded in status, not fatal").
type TransactionStatusMeta struct {
	Slot   solanatypes.Slot
	Err    string // empty means Ok
	Fee    uint64
	LogMessages []string
}

// Block is the join spec §4.2's get_block(slot) performs across Blocks,
// SlotSignatures (ordered by tx_index) and Transactions/TransactionStatus.
type Block struct {
	Slot         solanatypes.Slot
	Meta         BlockMeta
	Transactions []BlockTransaction
}

// BlockTransaction pairs one transaction's bytes with its status, in the
// slot-local order it executed.
type BlockTransaction struct {
	Index     uint32
	Signature solanatypes.Signature
	TxBytes   []byte
	Status    TransactionStatusMeta
}

// PerfSample is one slot's worth of throughput telemetry, exposed over
// the out-of-scope RPC surface (getRecentPerformanceSamples-equivalent).
type PerfSample struct {
	NumTransactions uint64
	NumSlots        uint64
	SamplePeriodSecs uint16
}
