package bank

import (
	"encoding/binary"

	"github.com/ephemeral-svm/validator/internal/solanatypes"
	"github.com/ephemeral-svm/validator/internal/sysvarcache"
)

func mustPubkey(s string) solanatypes.Pubkey {
	pk, err := solanatypes.PubkeyFromBase58(s)
	if err != nil {
		panic("bank: invalid well-known sysvar pubkey " + s + ": " + err.Error())
	}
	return pk
}

// Well-known sysvar account addresses. These mirror the base-chain's
// fixed sysvar pubkeys so programs reading them through the normal
// account-read path see the same addresses they would against the base
// chain.
var (
	ClockSysvarPubkey         = mustPubkey("SysvarC1ock11111111111111111111111111111111")
	RentSysvarPubkey          = mustPubkey("SysvarRent111111111111111111111111111111111")
	EpochScheduleSysvarPubkey = mustPubkey("SysvarEpochSchedu1e111111111111111111111111")
	SlotHashesSysvarPubkey    = mustPubkey("SysvarS1otHashes111111111111111111111111111")
	SysvarOwnerPubkey         = mustPubkey("Sysvar1111111111111111111111111111111111111")
)

// encodeClockAccountData packs the clock sysvar fields using the same
// little-endian layout the base chain's bincode-serialized sysvar
// accounts use, so any program reading the raw account bytes (rather
// than going through the sysvar cache) still sees the expected layout.
func encodeClockAccountData(c sysvarcache.Clock) []byte {
	buf := make([]byte, 8*5)
	binary.LittleEndian.PutUint64(buf[0:8], uint64(c.Slot))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(c.EpochStartTimestamp))
	binary.LittleEndian.PutUint64(buf[16:24], c.Epoch)
	binary.LittleEndian.PutUint64(buf[24:32], c.LeaderScheduleEpoch)
	binary.LittleEndian.PutUint64(buf[32:40], uint64(c.UnixTimestamp))
	return buf
}
