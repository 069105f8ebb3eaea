// Package accountdumper implements C7: writing a fetched remote account
// into the bank through the magic program's validator-signed
// ModifyAccounts instruction, in one of the four shapes spec §4.4 names.
package accountdumper

import (
	"context"
	"crypto/sha256"
	"fmt"

	"go.uber.org/zap"

	"github.com/ephemeral-svm/validator/internal/ledger"
	"github.com/ephemeral-svm/validator/internal/lifecycle"
	"github.com/ephemeral-svm/validator/internal/magicprogram"
	"github.com/ephemeral-svm/validator/internal/solanatypes"
)

func mustPubkey(s string) solanatypes.Pubkey {
	pk, err := solanatypes.PubkeyFromBase58(s)
	if err != nil {
		panic("accountdumper: invalid well-known pubkey " + s + ": " + err.Error())
	}
	return pk
}

// SystemProgramPubkey is the owner a fee-payer dump forces onto the
// local copy, regardless of what the remote account reports (fee payers
// are assumed system-owned; spec §4.4 "fee-payer (only lamports +
// system-owned)").
var SystemProgramPubkey = mustPubkey("11111111111111111111111111111111")

type modifier interface {
	ModifyAccounts(signer solanatypes.Pubkey, mods []magicprogram.AccountMod) error
}

// Dumper implements lifecycle.Dumper on top of a Program instance.
type Dumper struct {
	log         *zap.Logger
	program     modifier
	ledger      *ledger.Ledger
	authority   solanatypes.Pubkey
	nextDataKey func() uint64
}

func New(log *zap.Logger, program modifier, lg *ledger.Ledger, authority solanatypes.Pubkey, nextDataKey func() uint64) *Dumper {
	return &Dumper{log: log, program: program, ledger: lg, authority: authority, nextDataKey: nextDataKey}
}

var _ lifecycle.Dumper = (*Dumper)(nil)

// Dump applies the account mutation for flavor and returns a
// deterministic pseudo-signature identifying the dump, a sha256 digest in
// the same spirit as the bank's blockhash chain: there is no base-chain transaction
// here, only a local write through the magic program, so the "signature"
// exists purely to satisfy callers (pub/sub, tests) that key on one.
func (d *Dumper) Dump(_ context.Context, flavor lifecycle.DumpFlavor, snapshot lifecycle.AccountChainSnapshot) (solanatypes.Signature, error) {
	mod, err := d.buildMod(flavor, snapshot)
	if err != nil {
		return solanatypes.Signature{}, err
	}
	if err := d.program.ModifyAccounts(d.authority, []magicprogram.AccountMod{mod}); err != nil {
		return solanatypes.Signature{}, fmt.Errorf("accountdumper: dump %s: %w", snapshot.Pubkey, err)
	}
	sig := dumpSignature(flavor, snapshot)
	d.log.Debug("accountdumper: dumped account", zap.Stringer("pubkey", snapshot.Pubkey), zap.Int("flavor", int(flavor)))
	return sig, nil
}

func (d *Dumper) buildMod(flavor lifecycle.DumpFlavor, snapshot lifecycle.AccountChainSnapshot) (magicprogram.AccountMod, error) {
	switch flavor {
	case lifecycle.DumpFeePayer:
		lamports := snapshot.Account.Lamports
		owner := SystemProgramPubkey
		return magicprogram.AccountMod{Pubkey: snapshot.Pubkey, Lamports: &lamports, Owner: &owner}, nil

	case lifecycle.DumpUndelegated:
		return d.fullStateMod(snapshot, snapshot.Account.Owner)

	case lifecycle.DumpDelegatedAccount:
		owner := snapshot.Delegation.Record.OriginalOwner
		return d.fullStateMod(snapshot, owner)

	case lifecycle.DumpProgram:
		// The cloner drives the program and program-data accounts
		// through separate calls with this same flavor; the owner (a
		// BPF loader) is carried as-is since both chains agree on it.
		return d.fullStateMod(snapshot, snapshot.Account.Owner)

	default:
		return magicprogram.AccountMod{}, fmt.Errorf("accountdumper: unknown dump flavor %d", flavor)
	}
}

func (d *Dumper) fullStateMod(snapshot lifecycle.AccountChainSnapshot, owner solanatypes.Pubkey) (magicprogram.AccountMod, error) {
	lamports := snapshot.Account.Lamports
	executable := snapshot.Account.Executable
	rentEpoch := snapshot.Account.RentEpoch
	mod := magicprogram.AccountMod{
		Pubkey:     snapshot.Pubkey,
		Lamports:   &lamports,
		Owner:      &owner,
		Executable: &executable,
		RentEpoch:  &rentEpoch,
	}
	if len(snapshot.Account.Data) > 0 {
		key := d.nextDataKey()
		if err := d.ledger.PutAccountModData(key, snapshot.Account.Data); err != nil {
			return magicprogram.AccountMod{}, fmt.Errorf("accountdumper: stage data for %s: %w", snapshot.Pubkey, err)
		}
		mod.DataKey = &key
	}
	return mod, nil
}

func dumpSignature(flavor lifecycle.DumpFlavor, snapshot lifecycle.AccountChainSnapshot) solanatypes.Signature {
	h := sha256.New()
	h.Write(snapshot.Pubkey[:])
	h.Write([]byte{byte(flavor)})
	var slotBuf [8]byte
	for i := range slotBuf {
		slotBuf[i] = byte(snapshot.AtSlot >> (8 * i))
	}
	h.Write(slotBuf[:])
	sum := h.Sum(nil)
	var sig solanatypes.Signature
	copy(sig[:], sum)
	return sig
}
