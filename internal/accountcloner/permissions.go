package accountcloner

// LifecycleMode selects a validator's cloner permission matrix (spec §6
// "accounts.lifecycle"). The spec notes two slightly different
// permission matrices exist across source generations; this adopts the
// newer one (spec §9 Open Questions).
type LifecycleMode int

const (
	Replica LifecycleMode = iota
	ProgramsReplica
	Ephemeral
	Offline
)

// Permissions gates which dump flavors CloneAccount is allowed to
// produce (spec §4.4 "Policy inputs: AccountClonerPermissions").
type Permissions struct {
	AllowCloningRefresh     bool
	AllowCloningFeePayer    bool
	AllowCloningUndelegated bool
	AllowCloningDelegated   bool
	AllowCloningProgram     bool
}

// PermissionsForMode returns the newer permission matrix for mode.
func PermissionsForMode(mode LifecycleMode) Permissions {
	switch mode {
	case Replica:
		return Permissions{
			AllowCloningRefresh:     true,
			AllowCloningFeePayer:    false,
			AllowCloningUndelegated: true,
			AllowCloningDelegated:   false,
			AllowCloningProgram:     true,
		}
	case ProgramsReplica:
		return Permissions{
			AllowCloningRefresh:     true,
			AllowCloningFeePayer:    false,
			AllowCloningUndelegated: false,
			AllowCloningDelegated:   false,
			AllowCloningProgram:     true,
		}
	case Ephemeral:
		return Permissions{
			AllowCloningRefresh:     true,
			AllowCloningFeePayer:    true,
			AllowCloningUndelegated: true,
			AllowCloningDelegated:   true,
			AllowCloningProgram:     true,
		}
	case Offline:
		return Permissions{}
	default:
		return Permissions{}
	}
}
