// Package txprocessor implements C4: decoding wire transactions,
// verifying their signatures and precompile instructions, resolving
// address lookup tables, and sanitizing them against the bank before
// they are handed to the executor.
package txprocessor

import (
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/mr-tron/base58"

	"github.com/ephemeral-svm/validator/internal/solanatypes"
)

// MaxWireSize bounds a transaction's encoded size, matching the base
// chain's packet-size ceiling.
const MaxWireSize = 1232

var (
	ErrWireTooLarge  = errors.New("txprocessor: transaction exceeds max wire size")
	ErrWireTruncated = errors.New("txprocessor: transaction wire bytes truncated")
	ErrWireTrailing  = errors.New("txprocessor: trailing bytes after message")
)

// DecodeWireTransaction accepts either base58 or base64 text and decodes
// it into the legacy compact wire format: a compact-array of signatures
// followed by a message (header, compact account-keys array, recent
// blockhash, compact instructions array). Versioned (v0) messages with
// an address-table-lookups section are not decoded here; resolution of
// already-loaded table accounts is handled by the Sanitizer's
// resolveAddressLookupTables
// instead of re-deriving them from a lookups section on the wire.
func DecodeWireTransaction(text string) (*solanatypes.Transaction, error) {
	raw, err := decodeWireText(text)
	if err != nil {
		return nil, fmt.Errorf("txprocessor: decode wire text: %w", err)
	}
	if len(raw) > MaxWireSize {
		return nil, ErrWireTooLarge
	}
	return decodeWireBytes(raw)
}

// DecodeWireTransactionBytes decodes a transaction already in raw wire
// form — the Raw bytes the ledger stores alongside each executed
// transaction — skipping the base58/base64 text detection DecodeWireTransaction
// does for RPC-submitted transactions. C13 replay uses this to re-parse
// ledger-recorded transactions.
func DecodeWireTransactionBytes(raw []byte) (*solanatypes.Transaction, error) {
	if len(raw) > MaxWireSize {
		return nil, ErrWireTooLarge
	}
	return decodeWireBytes(raw)
}

func decodeWireText(text string) ([]byte, error) {
	if raw, err := base58.Decode(text); err == nil {
		return raw, nil
	}
	return base64.StdEncoding.DecodeString(text)
}

func decodeWireBytes(raw []byte) (*solanatypes.Transaction, error) {
	offset := 0

	numSigs, n, err := decodeCompactU16(raw[offset:])
	if err != nil {
		return nil, fmt.Errorf("signatures count: %w", err)
	}
	offset += n

	sigs := make([]solanatypes.Signature, numSigs)
	for i := 0; i < numSigs; i++ {
		if offset+solanatypes.SignatureLen > len(raw) {
			return nil, ErrWireTruncated
		}
		copy(sigs[i][:], raw[offset:offset+solanatypes.SignatureLen])
		offset += solanatypes.SignatureLen
	}

	msg, consumed, err := decodeMessage(raw[offset:])
	if err != nil {
		return nil, fmt.Errorf("message: %w", err)
	}
	offset += consumed
	if offset != len(raw) {
		return nil, ErrWireTrailing
	}

	return &solanatypes.Transaction{
		Signatures: sigs,
		Message:    msg,
		Raw:        append([]byte(nil), raw...),
	}, nil
}

func decodeMessage(raw []byte) (solanatypes.Message, int, error) {
	offset := 0
	if len(raw) < 3 {
		return solanatypes.Message{}, 0, ErrWireTruncated
	}
	header := solanatypes.MessageHeader{
		NumRequiredSignatures:       raw[0],
		NumReadonlySignedAccounts:   raw[1],
		NumReadonlyUnsignedAccounts: raw[2],
	}
	offset += 3

	numKeys, n, err := decodeCompactU16(raw[offset:])
	if err != nil {
		return solanatypes.Message{}, 0, fmt.Errorf("account keys count: %w", err)
	}
	offset += n

	keys := make([]solanatypes.Pubkey, numKeys)
	for i := 0; i < numKeys; i++ {
		if offset+solanatypes.PubkeyLen > len(raw) {
			return solanatypes.Message{}, 0, ErrWireTruncated
		}
		copy(keys[i][:], raw[offset:offset+solanatypes.PubkeyLen])
		offset += solanatypes.PubkeyLen
	}

	if offset+solanatypes.HashLen > len(raw) {
		return solanatypes.Message{}, 0, ErrWireTruncated
	}
	var blockhash solanatypes.Hash
	copy(blockhash[:], raw[offset:offset+solanatypes.HashLen])
	offset += solanatypes.HashLen

	numInstructions, n, err := decodeCompactU16(raw[offset:])
	if err != nil {
		return solanatypes.Message{}, 0, fmt.Errorf("instructions count: %w", err)
	}
	offset += n

	instructions := make([]solanatypes.Instruction, numInstructions)
	for i := 0; i < numInstructions; i++ {
		ins, consumed, err := decodeInstruction(raw[offset:], keys)
		if err != nil {
			return solanatypes.Message{}, 0, fmt.Errorf("instruction %d: %w", i, err)
		}
		instructions[i] = ins
		offset += consumed
	}

	return solanatypes.Message{
		Header:          header,
		AccountKeys:     keys,
		RecentBlockhash: blockhash,
		Instructions:    instructions,
	}, offset, nil
}

func decodeInstruction(raw []byte, keys []solanatypes.Pubkey) (solanatypes.Instruction, int, error) {
	offset := 0
	if len(raw) < 1 {
		return solanatypes.Instruction{}, 0, ErrWireTruncated
	}
	programIdx := int(raw[0])
	offset++
	if programIdx >= len(keys) {
		return solanatypes.Instruction{}, 0, fmt.Errorf("program index %d out of range", programIdx)
	}

	numAccounts, n, err := decodeCompactU16(raw[offset:])
	if err != nil {
		return solanatypes.Instruction{}, 0, fmt.Errorf("account indices count: %w", err)
	}
	offset += n

	accounts := make([]solanatypes.AccountMeta, numAccounts)
	for i := 0; i < numAccounts; i++ {
		if offset >= len(raw) {
			return solanatypes.Instruction{}, 0, ErrWireTruncated
		}
		idx := int(raw[offset])
		offset++
		if idx >= len(keys) {
			return solanatypes.Instruction{}, 0, fmt.Errorf("account index %d out of range", idx)
		}
		accounts[i] = solanatypes.AccountMeta{Pubkey: keys[idx]}
	}

	dataLen, n, err := decodeCompactU16(raw[offset:])
	if err != nil {
		return solanatypes.Instruction{}, 0, fmt.Errorf("data length: %w", err)
	}
	offset += n
	if offset+dataLen > len(raw) {
		return solanatypes.Instruction{}, 0, ErrWireTruncated
	}
	data := append([]byte(nil), raw[offset:offset+dataLen]...)
	offset += dataLen

	return solanatypes.Instruction{
		ProgramID: keys[programIdx],
		Accounts:  accounts,
		Data:      data,
	}, offset, nil
}

// decodeCompactU16 reads Solana's shortvec-encoded length prefix: up to
// three bytes, 7 payload bits each, continuation in the high bit.
func decodeCompactU16(raw []byte) (value int, consumed int, err error) {
	for i := 0; i < 3; i++ {
		if i >= len(raw) {
			return 0, 0, ErrWireTruncated
		}
		b := raw[i]
		value |= int(b&0x7f) << (7 * i)
		consumed++
		if b&0x80 == 0 {
			return value, consumed, nil
		}
	}
	return 0, 0, fmt.Errorf("compact-u16 exceeds 3 bytes")
}
