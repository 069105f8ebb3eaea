package accountcloner

import "github.com/ephemeral-svm/validator/internal/solanatypes"

func mustPubkey(s string) solanatypes.Pubkey {
	pk, err := solanatypes.PubkeyFromBase58(s)
	if err != nil {
		panic("accountcloner: invalid well-known pubkey " + s + ": " + err.Error())
	}
	return pk
}

// Well-known program and sysvar pubkeys that make up the standard
// blacklist (SPEC_FULL §11 feature 1).
var (
	SystemProgramPubkey        = mustPubkey("11111111111111111111111111111111")
	ComputeBudgetPubkey        = mustPubkey("ComputeBudget111111111111111111111111111111")
	NativeLoaderPubkey         = mustPubkey("NativeLoader1111111111111111111111111111111")
	BPFLoaderDeprecatedPubkey  = mustPubkey("BPFLoader1111111111111111111111111111111111")
	BPFLoaderPubkey            = mustPubkey("BPFLoader2111111111111111111111111111111111")
	BPFLoaderUpgradeablePubkey = mustPubkey("BPFLoaderUpgradeab1e11111111111111111111111")
	LoaderV4Pubkey             = mustPubkey("LoaderV411111111111111111111111111111111111")
	IncineratorPubkey          = mustPubkey("1nc1nerator11111111111111111111111111111111")
	Secp256k1PrecompilePubkey  = mustPubkey("KeccakSecp256k11111111111111111111111111111")
	Ed25519PrecompilePubkey    = mustPubkey("Ed25519SigVerify1111111111111111111111111111")
	AddressLookupTablePubkey   = mustPubkey("AddressLookupTab1e11111111111111111111111111")
	ConfigProgramPubkey        = mustPubkey("Config11111111111111111111111111111111111111")
	StakeProgramPubkey         = mustPubkey("Stake11111111111111111111111111111111111111")
	VoteProgramPubkey          = mustPubkey("Vote111111111111111111111111111111111111111")
	StakeConfigPubkey          = mustPubkey("StakeConfig11111111111111111111111111111111")
	FeatureProgramPubkey       = mustPubkey("Feature111111111111111111111111111111111111")
	WrappedSOLMintPubkey       = mustPubkey("So11111111111111111111111111111111111111111")

	ClockSysvarPubkey             = mustPubkey("SysvarC1ock11111111111111111111111111111111")
	RentSysvarPubkey              = mustPubkey("SysvarRent111111111111111111111111111111111")
	EpochScheduleSysvarPubkey     = mustPubkey("SysvarEpochSchedu1e111111111111111111111111")
	SlotHashesSysvarPubkey        = mustPubkey("SysvarS1otHashes111111111111111111111111111")
	RecentBlockhashesSysvarPubkey = mustPubkey("SysvarRecentB1ockHashes11111111111111111111")
	FeesSysvarPubkey              = mustPubkey("SysvarFees111111111111111111111111111111111")
	InstructionsSysvarPubkey      = mustPubkey("Sysvar1nstructions1111111111111111111111111")
	StakeHistorySysvarPubkey      = mustPubkey("SysvarStakeHistory1111111111111111111111111")
	RewardsSysvarPubkey           = mustPubkey("SysvarRewards111111111111111111111111111111")
)
