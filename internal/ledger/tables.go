// Package ledger implements C2: a column-oriented, durable append-only
// log of blocks, transactions, statuses and account-mod blobs, sufficient
// to reconstruct bank state on restart (spec §4.2).
package ledger

// DBSchemaVersion tracks the on-disk column layout, mirroring erigon's
// kv.DBSchemaVersion convention (erigon-lib/kv/tables.go) so a future
// migration can detect and upgrade an older ledger directory.
const DBSchemaVersion = "1.0.0"

// Column family names. Each is a distinct mdbx sub-database; grouping
// them as named constants (rather than passing raw strings around) is
// the same convention erigon-lib/kv/tables.go uses for its table list.
const (
	// Blocks: slot_u64 -> (block_time, blockhash, previous_blockhash, tx_count)
	Blocks = "Blocks"

	// Transactions: signature -> (slot_u64, transaction_bytes)
	Transactions = "Transactions"

	// TransactionStatus: signature+slot_u64 -> status_meta
	TransactionStatus = "TransactionStatus"

	// AddressSignatures: pubkey+slot_u64+tx_index_u32 -> signature
	AddressSignatures = "AddressSignatures"

	// SlotSignatures: slot_u64+tx_index_u32 -> signature
	SlotSignatures = "SlotSignatures"

	// Blockhashes: slot_u64 -> hash, and the reverse hash -> slot_u64.
	Blockhashes        = "Blockhashes"
	BlockhashesReverse = "BlockhashesReverse"

	// AccountModData: id_u64+chunk_ix_u32 -> bytes
	AccountModData = "AccountModData"

	// PerfSamples: slot_u64 -> sample
	PerfSamples = "PerfSamples"

	// TransactionMemos: signature -> text
	TransactionMemos = "TransactionMemos"

	// Meta holds small singleton values: schema version, tip slot.
	Meta = "Meta"
)

// allTables lists every column family the ledger opens at startup.
var allTables = []string{
	Blocks,
	Transactions,
	TransactionStatus,
	AddressSignatures,
	SlotSignatures,
	Blockhashes,
	BlockhashesReverse,
	AccountModData,
	PerfSamples,
	TransactionMemos,
	Meta,
}

// metaSchemaVersionKey and metaTipSlotKey are the two keys stored in the Meta table.
var (
	metaSchemaVersionKey = []byte("schema_version")
	metaTipSlotKey       = []byte("tip_slot")
)
