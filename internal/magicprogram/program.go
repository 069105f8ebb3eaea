package magicprogram

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/ephemeral-svm/validator/internal/accountsdb"
	"github.com/ephemeral-svm/validator/internal/ledger"
	"github.com/ephemeral-svm/validator/internal/lifecycle"
	"github.com/ephemeral-svm/validator/internal/solanatypes"
)

func mustPubkey(s string) solanatypes.Pubkey {
	pk, err := solanatypes.PubkeyFromBase58(s)
	if err != nil {
		panic("magicprogram: invalid well-known pubkey " + s + ": " + err.Error())
	}
	return pk
}

// ProgramID and ContextPubkey are the magic program's own account and
// the well-known magic-context account it uses as a mailbox between
// user programs and the validator (spec §9 "avoid a direct reference by
// having the program write to a well-known account and the validator
// poll it").
var (
	ProgramID     = mustPubkey("Magic11111111111111111111111111111111111111")
	ContextPubkey = mustPubkey("MagicContext1111111111111111111111111111111")
)

// Program implements C11's four instructions directly against the
// accounts store. The Solana VM/BPF loader is assumed to exist above
// this layer; this type *is* the "built-in program" the VM would
// otherwise dispatch a CPI into.
type Program struct {
	log       *zap.Logger
	store     *accountsdb.Store
	ledger    *ledger.Ledger
	provider  lifecycle.AccountsProvider
	authority solanatypes.Pubkey
	slotFn    func() solanatypes.Slot
}

func New(log *zap.Logger, store *accountsdb.Store, lg *ledger.Ledger, provider lifecycle.AccountsProvider, authority solanatypes.Pubkey, slotFn func() solanatypes.Slot) *Program {
	return &Program{log: log, store: store, ledger: lg, provider: provider, authority: authority, slotFn: slotFn}
}

// ModifyAccounts applies mods atomically, resolving each DataKey against
// the ledger's counter-keyed AccountModData column (spec §4.6
// instruction 1, SPEC_FULL supplemented feature 2).
func (p *Program) ModifyAccounts(signer solanatypes.Pubkey, mods []AccountMod) error {
	if signer != p.authority {
		return fmt.Errorf("%w: ModifyAccounts requires validator authority", ErrInternal)
	}
	slot := p.slotFn()
	writes := make([]accountsdb.Write, 0, len(mods))
	for _, mod := range mods {
		current, _, err := p.store.Get(mod.Pubkey)
		if err != nil {
			return fmt.Errorf("magicprogram: read %s: %w", mod.Pubkey, err)
		}
		if mod.Lamports != nil {
			current.Lamports = *mod.Lamports
		}
		if mod.Owner != nil {
			current.Owner = *mod.Owner
		}
		if mod.Executable != nil {
			current.Executable = *mod.Executable
		}
		if mod.RentEpoch != nil {
			current.RentEpoch = *mod.RentEpoch
		}
		if mod.DataKey != nil {
			data, ok, err := p.ledger.GetAccountModData(*mod.DataKey)
			if err != nil {
				return fmt.Errorf("magicprogram: resolve data key %d: %w", *mod.DataKey, err)
			}
			if !ok {
				return fmt.Errorf("%w: unresolved data key %d", ErrInternal, *mod.DataKey)
			}
			current.Data = data
		}
		writes = append(writes, accountsdb.Write{Pubkey: mod.Pubkey, Account: current})
	}
	if err := p.store.StoreBatch(slot, writes); err != nil {
		return fmt.Errorf("magicprogram: apply ModifyAccounts: %w", err)
	}
	return nil
}

// ScheduleCommit appends a ScheduledCommit to the magic-context account,
// enforcing that every named account is delegated to this validator and
// that payer is not the magic program itself (spec §4.6 instruction 2).
func (p *Program) ScheduleCommit(payer, invokingProgram solanatypes.Pubkey, accounts []solanatypes.Pubkey, requestUndelegation bool, commitSentTx []byte) (uint64, error) {
	if payer == ProgramID {
		return 0, ErrProgramCannotBePayer
	}
	if len(accounts) > maxCommitteesPerCommit {
		return 0, ErrTooManyAccounts
	}
	for _, acct := range accounts {
		if _, delegated := p.provider.IsDelegatedToUs(acct); !delegated {
			return 0, fmt.Errorf("%w: %s", ErrAccountNotDelegated, acct)
		}
	}

	existing, err := p.readContext()
	if err != nil {
		return 0, err
	}
	id := nextCommitID(existing)
	commit := ScheduledCommit{
		ID:                    id,
		Slot:                  p.slotFn(),
		Accounts:              accounts,
		Payer:                 payer,
		Owner:                 invokingProgram,
		CommitSentTransaction: commitSentTx,
		RequestUndelegation:   requestUndelegation,
	}
	existing = append(existing, commit)
	if err := p.writeContext(existing); err != nil {
		return 0, err
	}
	return id, nil
}

func nextCommitID(existing []ScheduledCommit) uint64 {
	var max uint64
	for _, c := range existing {
		if c.ID >= max {
			max = c.ID + 1
		}
	}
	return max
}

// AcceptScheduleCommits empties the context into the returned list,
// atomically with respect to the transaction executor (spec §4.6
// instruction 3). Only the validator authority may call it.
func (p *Program) AcceptScheduleCommits(signer solanatypes.Pubkey) ([]ScheduledCommit, error) {
	if signer != p.authority {
		return nil, fmt.Errorf("%w: AcceptScheduleCommits requires validator authority", ErrInternal)
	}
	commits, err := p.readContext()
	if err != nil {
		return nil, err
	}
	if len(commits) == 0 {
		return nil, nil
	}
	if err := p.writeContext(nil); err != nil {
		return nil, err
	}
	return commits, nil
}

// ScheduledCommitSent records completion of a commit into observable
// program logs, consumed by tests and pub/sub (spec §4.6 instruction 4).
func (p *Program) ScheduledCommitSent(id uint64, sig solanatypes.Signature) {
	p.log.Info(fmt.Sprintf("ScheduledCommitSent signature: %s", sig), zap.Uint64("commit_id", id))
}

func (p *Program) readContext() ([]ScheduledCommit, error) {
	acct, ok, err := p.store.Get(ContextPubkey)
	if err != nil {
		return nil, fmt.Errorf("magicprogram: read context: %w", err)
	}
	if !ok {
		return nil, nil
	}
	return decodeContext(acct.Data)
}

func (p *Program) writeContext(commits []ScheduledCommit) error {
	data, err := encodeContext(commits)
	if err != nil {
		return fmt.Errorf("magicprogram: encode context: %w", err)
	}
	acct, ok, err := p.store.Get(ContextPubkey)
	if err != nil {
		return fmt.Errorf("magicprogram: read context: %w", err)
	}
	if !ok {
		acct = solanatypes.Account{Owner: ProgramID, Lamports: 1}
	}
	acct.Data = data
	return p.store.StoreBatch(p.slotFn(), []accountsdb.Write{{Pubkey: ContextPubkey, Account: acct}})
}
