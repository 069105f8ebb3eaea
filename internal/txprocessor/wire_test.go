package txprocessor

import (
	"crypto/ed25519"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ephemeral-svm/validator/internal/solanatypes"
)

func encodeCompactU16(value int) []byte {
	var out []byte
	for {
		b := byte(value & 0x7f)
		value >>= 7
		if value != 0 {
			out = append(out, b|0x80)
			continue
		}
		out = append(out, b)
		return out
	}
}

// buildLegacyWire encodes a minimal single-signature, single-instruction
// legacy transaction directly from its fields, mirroring the format
// DecodeWireTransaction parses.
func buildLegacyWire(t *testing.T, signer ed25519.PrivateKey, programID solanatypes.Pubkey, data []byte, blockhash solanatypes.Hash) []byte {
	t.Helper()
	var pub solanatypes.Pubkey
	copy(pub[:], signer.Public().(ed25519.PublicKey))

	keys := []solanatypes.Pubkey{pub, programID}

	var msg []byte
	msg = append(msg, 1, 0, 1) // header: 1 required sig, 0 readonly signed, 1 readonly unsigned
	msg = append(msg, encodeCompactU16(len(keys))...)
	for _, k := range keys {
		msg = append(msg, k[:]...)
	}
	msg = append(msg, blockhash[:]...)
	msg = append(msg, encodeCompactU16(1)...) // 1 instruction
	msg = append(msg, 1)                      // program index
	msg = append(msg, encodeCompactU16(0)...) // 0 accounts
	msg = append(msg, encodeCompactU16(len(data))...)
	msg = append(msg, data...)

	message := solanatypes.Message{
		Header:          solanatypes.MessageHeader{NumRequiredSignatures: 1, NumReadonlyUnsignedAccounts: 1},
		AccountKeys:     keys,
		RecentBlockhash: blockhash,
		Instructions:    []solanatypes.Instruction{{ProgramID: programID, Data: data}},
	}
	sigBytes := ed25519.Sign(signer, encodeMessageForSigning(message))

	var raw []byte
	raw = append(raw, encodeCompactU16(1)...)
	raw = append(raw, sigBytes...)
	raw = append(raw, msg...)
	return raw
}

func TestDecodeWireTransactionRoundTripsLegacyMessage(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	programID := pk(7)
	raw := buildLegacyWire(t, priv, programID, []byte("hello"), solanatypes.Hash{0x42})

	tx, err := DecodeWireTransaction(base64.StdEncoding.EncodeToString(raw))
	require.NoError(t, err)
	require.Len(t, tx.Signatures, 1)
	require.Len(t, tx.Message.AccountKeys, 2)
	require.Equal(t, programID, tx.Message.AccountKeys[1])
	require.Len(t, tx.Message.Instructions, 1)
	require.Equal(t, []byte("hello"), tx.Message.Instructions[0].Data)
}

func TestDecodeWireTransactionRejectsOversizedPayload(t *testing.T) {
	huge := base64.StdEncoding.EncodeToString(make([]byte, MaxWireSize+1))
	_, err := DecodeWireTransaction(huge)
	require.ErrorIs(t, err, ErrWireTooLarge)
}

func TestDecodeCompactU16RoundTrips(t *testing.T) {
	for _, want := range []int{0, 1, 127, 128, 16383, 16384} {
		encoded := encodeCompactU16(want)
		got, consumed, err := decodeCompactU16(encoded)
		require.NoError(t, err)
		require.Equal(t, want, got)
		require.Equal(t, len(encoded), consumed)
	}
}

func pk(b byte) solanatypes.Pubkey {
	var p solanatypes.Pubkey
	p[0] = b
	return p
}
