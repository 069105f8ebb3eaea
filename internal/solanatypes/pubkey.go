// Package solanatypes holds the wire-level data model shared by every
// component: account records, pubkeys, signatures and the sanitized
// transaction shape. It has no dependency on the bank, ledger or
// accounts store so that all of them can import it without cycles.
package solanatypes

import (
	"encoding/binary"
	"errors"

	"github.com/mr-tron/base58"
)

// PubkeyLen is the fixed width of a Solana-compatible public key.
const PubkeyLen = 32

// Pubkey is a 32-byte account identifier.
type Pubkey [PubkeyLen]byte

// ErrInvalidPubkeyLen is returned when decoding a base58 string that does
// not decode to exactly PubkeyLen bytes.
var ErrInvalidPubkeyLen = errors.New("solanatypes: invalid pubkey length")

func (p Pubkey) String() string {
	return base58.Encode(p[:])
}

// IsZero reports whether p is the all-zero pubkey.
func (p Pubkey) IsZero() bool {
	return p == Pubkey{}
}

// Less orders pubkeys lexicographically by their raw bytes. Used by C1 to
// acquire account locks in a deterministic order across a batch.
func (p Pubkey) Less(other Pubkey) bool {
	for i := range p {
		if p[i] != other[i] {
			return p[i] < other[i]
		}
	}
	return false
}

// PubkeyFromBase58 decodes a base58-encoded pubkey.
func PubkeyFromBase58(s string) (Pubkey, error) {
	raw, err := base58.Decode(s)
	if err != nil {
		return Pubkey{}, err
	}
	if len(raw) != PubkeyLen {
		return Pubkey{}, ErrInvalidPubkeyLen
	}
	var pk Pubkey
	copy(pk[:], raw)
	return pk, nil
}

// PubkeysByLen sorts a slice of pubkeys by Pubkey.Less; a sort.Interface
// so every batch-locking callsite sorts the same way.
type PubkeysByLen []Pubkey

func (s PubkeysByLen) Len() int           { return len(s) }
func (s PubkeysByLen) Less(i, j int) bool { return s[i].Less(s[j]) }
func (s PubkeysByLen) Swap(i, j int)      { s[i], s[j] = s[j], s[i] }

// SignatureLen is the fixed width of an ed25519 signature.
const SignatureLen = 64

// Signature is a 64-byte ed25519 signature.
type Signature [SignatureLen]byte

func (s Signature) String() string { return base58.Encode(s[:]) }

// ErrInvalidSignatureLen is returned when decoding a base58 string that
// does not decode to exactly SignatureLen bytes.
var ErrInvalidSignatureLen = errors.New("solanatypes: invalid signature length")

// SignatureFromBase58 decodes a base58-encoded signature.
func SignatureFromBase58(s string) (Signature, error) {
	raw, err := base58.Decode(s)
	if err != nil {
		return Signature{}, err
	}
	if len(raw) != SignatureLen {
		return Signature{}, ErrInvalidSignatureLen
	}
	var sig Signature
	copy(sig[:], raw)
	return sig, nil
}

// DecodeBase58 decodes an arbitrary base58 string, used for programSubscribe's
// Memcmp filter bytes, which carry no fixed length.
func DecodeBase58(s string) ([]byte, error) {
	return base58.Decode(s)
}

// HashLen is the width of a blockhash / transaction message hash.
const HashLen = 32

// Hash is a 32-byte commitment, used for blockhashes and message hashes.
type Hash [HashLen]byte

func (h Hash) String() string { return base58.Encode(h[:]) }

// StatusCacheKeyPrefix returns the truncated key used to index the bank's
// status cache, per spec §9 ("source's choice is an optimization not a
// correctness requirement") — 20 bytes of the signature.
func StatusCacheKeyPrefix(sig Signature) [20]byte {
	var prefix [20]byte
	copy(prefix[:], sig[:20])
	return prefix
}

// Slot is a discrete unit of logical bank time.
type Slot uint64

// PutSlot writes a big-endian slot number, used as a sortable ledger key
// prefix (mirrors erigon's block_num_u64 key convention).
func PutSlot(dst []byte, slot Slot) {
	binary.BigEndian.PutUint64(dst, uint64(slot))
}

// ParseSlot reads a big-endian slot number.
func ParseSlot(src []byte) Slot {
	return Slot(binary.BigEndian.Uint64(src))
}
