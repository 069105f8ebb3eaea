package accountcloner

import "github.com/ephemeral-svm/validator/internal/solanatypes"

// Blacklist is a fixed, enumerable set of pubkeys a cloner must never
// fetch or overwrite locally (SPEC_FULL §11 feature 1).
type Blacklist map[solanatypes.Pubkey]struct{}

// StandardBlacklist is the concrete enumeration spec §4.4 describes in
// prose: system program, built-in sysvars, BPF loaders, this
// validator's own identity and faucet, the magic program and its
// context, plus the wider set of native programs a remote clone must
// never shadow.
func StandardBlacklist(validatorIdentity, validatorFaucet, magicProgram, magicContext solanatypes.Pubkey) Blacklist {
	bl := Blacklist{
		SystemProgramPubkey:        {},
		ComputeBudgetPubkey:        {},
		NativeLoaderPubkey:         {},
		BPFLoaderDeprecatedPubkey:  {},
		BPFLoaderPubkey:            {},
		BPFLoaderUpgradeablePubkey: {},
		LoaderV4Pubkey:             {},
		IncineratorPubkey:          {},
		Secp256k1PrecompilePubkey:  {},
		Ed25519PrecompilePubkey:    {},
		AddressLookupTablePubkey:   {},
		ConfigProgramPubkey:        {},
		StakeProgramPubkey:         {},
		VoteProgramPubkey:          {},
		StakeConfigPubkey:          {},
		FeatureProgramPubkey:       {},
		WrappedSOLMintPubkey:       {},

		ClockSysvarPubkey:             {},
		RentSysvarPubkey:              {},
		EpochScheduleSysvarPubkey:     {},
		SlotHashesSysvarPubkey:        {},
		RecentBlockhashesSysvarPubkey: {},
		FeesSysvarPubkey:              {},
		InstructionsSysvarPubkey:      {},
		StakeHistorySysvarPubkey:      {},
		RewardsSysvarPubkey:           {},

		validatorIdentity: {},
		validatorFaucet:   {},
		magicProgram:      {},
		magicContext:      {},
	}
	return bl
}

func (bl Blacklist) Contains(pubkey solanatypes.Pubkey) bool {
	_, ok := bl[pubkey]
	return ok
}
