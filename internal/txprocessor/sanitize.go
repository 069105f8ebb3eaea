package txprocessor

import (
	"errors"
	"fmt"

	"github.com/ephemeral-svm/validator/internal/bank"
	"github.com/ephemeral-svm/validator/internal/solanatypes"
)

// MaxProcessingAge bounds how many slots old a transaction's
// recent_blockhash may be before it is rejected as expired (spec §4.3
// step 5).
const MaxProcessingAge = 256

var (
	ErrBlockhashNotFound = errors.New("txprocessor: blockhash not found")
	ErrBlockhashTooOld   = errors.New("txprocessor: blockhash exceeds max processing age")
)

// AddressLookupTableResolver reads a lookup table account's full
// address list, letting the sanitization pipeline expand a v0
// message's table references against the bank's current account view
// (spec §4.3 step 3). Legacy messages carry no lookups and never call
// it.
type AddressLookupTableResolver interface {
	ResolveLookupTable(table solanatypes.Pubkey) (addresses []solanatypes.Pubkey, err error)
}

// SanitizedTransaction is the pipeline's output: a transaction whose
// signatures and precompiles verified, whose blockhash is fresh (or
// whose result is already cached), ready for PrepareSanitizedBatch.
type SanitizedTransaction struct {
	Tx            *solanatypes.Transaction
	MessageHash   solanatypes.Hash
	CachedResult  *bank.StatusEntry
}

// Sanitizer runs the six-step pipeline from spec §4.3 against one bank.
type Sanitizer struct {
	bank        *bank.Bank
	altResolver AddressLookupTableResolver
	replayMode  bool
}

// Option configures a Sanitizer.
type Option func(*Sanitizer)

// WithReplayMode skips signature and precompile verification, used when
// replaying an already-finalized ledger (C13).
func WithReplayMode(replay bool) Option {
	return func(s *Sanitizer) { s.replayMode = replay }
}

// WithAddressLookupTableResolver installs the resolver used for v0
// messages carrying table lookups.
func WithAddressLookupTableResolver(r AddressLookupTableResolver) Option {
	return func(s *Sanitizer) { s.altResolver = r }
}

func NewSanitizer(b *bank.Bank, opts ...Option) *Sanitizer {
	s := &Sanitizer{bank: b}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sanitize runs the full pipeline over one decoded transaction.
func (s *Sanitizer) Sanitize(tx *solanatypes.Transaction) (*SanitizedTransaction, error) {
	if err := VerifySignatures(tx, s.replayMode); err != nil {
		return nil, fmt.Errorf("txprocessor: %w", err)
	}
	if err := VerifyPrecompiles(tx, s.replayMode); err != nil {
		return nil, fmt.Errorf("txprocessor: %w", err)
	}
	if err := s.resolveAddressLookupTables(tx); err != nil {
		return nil, fmt.Errorf("txprocessor: %w", err)
	}

	messageHash := hashMessage(tx.Message)
	sig := tx.PrimarySignature()
	if cached, ok := s.bank.StatusCache().Lookup(tx.Message.RecentBlockhash, sig); ok {
		return &SanitizedTransaction{Tx: tx, MessageHash: messageHash, CachedResult: &cached}, nil
	}

	mintSlot, found := s.bank.RecentBlockhashContains(tx.Message.RecentBlockhash)
	if !found {
		return nil, ErrBlockhashNotFound
	}
	if age := uint64(s.bank.Slot()) - uint64(mintSlot); age > MaxProcessingAge {
		return nil, fmt.Errorf("%w: age %d slots", ErrBlockhashTooOld, age)
	}

	return &SanitizedTransaction{Tx: tx, MessageHash: messageHash}, nil
}

// resolveAddressLookupTables is a no-op for legacy messages decoded by
// DecodeWireTransaction, which never populates AddressTableLookups;
// callers that construct a Message with lookups directly (e.g. tests
// exercising C13 replay against recorded v0 traffic) get them expanded
// into AccountKeys here, in lookup-table order, writable indexes
// first — matching how the base chain orders loaded addresses.
func (s *Sanitizer) resolveAddressLookupTables(tx *solanatypes.Transaction) error {
	if len(tx.Message.AddressTableLookups) == 0 {
		return nil
	}
	if s.altResolver == nil {
		return fmt.Errorf("message references address lookup tables but no resolver is configured")
	}
	for _, lookup := range tx.Message.AddressTableLookups {
		addresses, err := s.altResolver.ResolveLookupTable(lookup.Table)
		if err != nil {
			return fmt.Errorf("resolve lookup table %s: %w", lookup.Table, err)
		}
		for _, idx := range lookup.WritableIndexes {
			if int(idx) >= len(addresses) {
				return fmt.Errorf("lookup table %s: writable index %d out of range", lookup.Table, idx)
			}
			tx.Message.AccountKeys = append(tx.Message.AccountKeys, addresses[idx])
		}
		for _, idx := range lookup.ReadonlyIndexes {
			if int(idx) >= len(addresses) {
				return fmt.Errorf("lookup table %s: readonly index %d out of range", lookup.Table, idx)
			}
			tx.Message.AccountKeys = append(tx.Message.AccountKeys, addresses[idx])
		}
	}
	return nil
}

func hashMessage(m solanatypes.Message) solanatypes.Hash {
	var h solanatypes.Hash
	copy(h[:], encodeMessageForSigning(m))
	return h
}

// Processor wires the sanitizer, C1's accounts store and C3's bank
// together for a single ProcessTransactions call, used by the RPC
// surface's sendTransaction. C13 replay drives the Sanitizer and the
// bank directly instead.
type Processor struct {
	bank      *bank.Bank
	sanitizer *Sanitizer
	executor  bank.Executor
	sink      bank.StatusSink
}

func NewProcessor(b *bank.Bank, executor bank.Executor, opts ...Option) *Processor {
	return &Processor{bank: b, sanitizer: NewSanitizer(b, opts...), executor: executor}
}

// SetStatusSink installs sink to receive one status record per
// transaction this processor commits — the attachment point C12's
// signatureSubscribe and logsSubscribe use to learn about live
// transaction completions.
func (p *Processor) SetStatusSink(sink bank.StatusSink) {
	p.sink = sink
}

// ProcessTransactions sanitizes every raw wire transaction, acquires
// account locks for the surviving batch, and runs it through the bank
// (spec §4.3's full pipeline plus prepare_sanitized_batch and
// load_execute_and_commit).
func (p *Processor) ProcessTransactions(rawTexts []string) ([]bank.ExecutionOutcome, []error) {
	sanitizeErrs := make([]error, len(rawTexts))
	var txs []*solanatypes.Transaction
	var indices []int
	for i, text := range rawTexts {
		tx, err := DecodeWireTransaction(text)
		if err != nil {
			sanitizeErrs[i] = err
			continue
		}
		sanitized, err := p.sanitizer.Sanitize(tx)
		if err != nil {
			sanitizeErrs[i] = err
			continue
		}
		if sanitized.CachedResult != nil {
			continue
		}
		txs = append(txs, tx)
		indices = append(indices, i)
	}

	if len(txs) == 0 {
		return nil, sanitizeErrs
	}

	batch, err := p.bank.PrepareSanitizedBatch(txs)
	if err != nil {
		for _, i := range indices {
			sanitizeErrs[i] = fmt.Errorf("txprocessor: prepare batch: %w", err)
		}
		return nil, sanitizeErrs
	}
	defer batch.Handle.Release()

	outcomes, err := p.bank.LoadExecuteAndCommit(batch, p.executor, p.sink)
	if err != nil {
		return outcomes, append(sanitizeErrs, err)
	}
	return outcomes, sanitizeErrs
}
