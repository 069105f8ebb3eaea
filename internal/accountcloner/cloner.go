// Package accountcloner implements C8: the policy-gated, coalesced
// entry point that turns a remote account into a local one by routing
// through the fetcher (C5), the live-update tracker (C6) and the dumper
// (C7).
package accountcloner

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/ephemeral-svm/validator/internal/lifecycle"
	"github.com/ephemeral-svm/validator/internal/solanatypes"
)

// epsilonSlots bounds how stale a cached clone may be before a refresh
// is forced (spec §4.4 step 2 "last_known_update_slot <= first_subscribed_slot + ε").
const epsilonSlots = solanatypes.Slot(8)

// maxFetchRetries bounds retrying a fetch whose reported at_slot lags
// the subscription's first_subscribed_slot (spec §4.4 step 3).
const maxFetchRetries = 3

// LocalOverride reports whether pubkey is pinned to local-only state and
// must never be cloned from the remote chain.
type LocalOverride func(pubkey solanatypes.Pubkey) bool

// Cloner implements lifecycle.Cloner.
type Cloner struct {
	log         *zap.Logger
	fetcher     lifecycle.Fetcher
	updates     lifecycle.Updates
	dumper      lifecycle.Dumper
	blacklist   Blacklist
	permissions Permissions
	isOverride  LocalOverride

	group singleflight.Group

	mu    sync.Mutex
	cache map[solanatypes.Pubkey]lifecycle.AccountChainSnapshot
}

func New(log *zap.Logger, fetcher lifecycle.Fetcher, updates lifecycle.Updates, dumper lifecycle.Dumper, blacklist Blacklist, permissions Permissions, isOverride LocalOverride) *Cloner {
	if isOverride == nil {
		isOverride = func(solanatypes.Pubkey) bool { return false }
	}
	return &Cloner{
		log:         log,
		fetcher:     fetcher,
		updates:     updates,
		dumper:      dumper,
		blacklist:   blacklist,
		permissions: permissions,
		isOverride:  isOverride,
		cache:       make(map[solanatypes.Pubkey]lifecycle.AccountChainSnapshot),
	}
}

var _ lifecycle.Cloner = (*Cloner)(nil)

func (c *Cloner) CloneAccount(ctx context.Context, pubkey solanatypes.Pubkey) (lifecycle.CloneOutcome, error) {
	v, err, _ := c.group.Do(pubkey.String(), func() (interface{}, error) {
		return c.doClone(ctx, pubkey)
	})
	if err != nil {
		return lifecycle.CloneOutcome{}, err
	}
	return v.(lifecycle.CloneOutcome), nil
}

func (c *Cloner) doClone(ctx context.Context, pubkey solanatypes.Pubkey) (lifecycle.CloneOutcome, error) {
	if c.blacklist.Contains(pubkey) || c.isOverride(pubkey) {
		out := lifecycle.CloneOutcome{}
		out.Unclonable.Pubkey = pubkey
		out.Unclonable.Reason = "blacklisted or locally overridden"
		return out, nil
	}

	first, monitored := c.updates.FirstSubscribedSlot(pubkey)
	if monitored {
		if last, ok := c.updates.LastKnownUpdateSlot(pubkey); ok && last <= first+epsilonSlots {
			c.mu.Lock()
			cached, hit := c.cache[pubkey]
			c.mu.Unlock()
			if hit {
				return lifecycle.CloneOutcome{Cloned: true, Snapshot: cached}, nil
			}
		}
	}

	c.updates.EnsureAccountMonitoring(pubkey)
	first, _ = c.updates.FirstSubscribedSlot(pubkey)

	var snapshot lifecycle.AccountChainSnapshot
	var err error
	for attempt := 0; attempt < maxFetchRetries; attempt++ {
		snapshot, err = c.fetcher.FetchAccount(ctx, pubkey, first)
		if err != nil {
			return lifecycle.CloneOutcome{}, fmt.Errorf("accountcloner: fetch %s: %w", pubkey, err)
		}
		if snapshot.AtSlot >= first {
			break
		}
	}

	if !c.permissionsAllow(snapshot) {
		out := lifecycle.CloneOutcome{}
		out.Unclonable.Pubkey = pubkey
		out.Unclonable.Reason = "clone policy forbids this account's classification"
		return out, nil
	}

	flavor := classify(snapshot)
	if flavor == lifecycle.DumpProgram {
		return c.cloneProgram(ctx, snapshot)
	}

	sig, err := c.dumper.Dump(ctx, flavor, snapshot)
	if err != nil {
		return lifecycle.CloneOutcome{}, fmt.Errorf("accountcloner: dump %s: %w", pubkey, err)
	}

	c.mu.Lock()
	c.cache[pubkey] = snapshot
	c.mu.Unlock()

	return lifecycle.CloneOutcome{Cloned: true, Snapshot: snapshot, Signature: sig}, nil
}

// cloneProgram implements spec edge case 5's multi-account program
// clone: the executable program account is a thin pointer (BPF Loader
// Upgradeable's UpgradeableLoaderState::Program variant) at its
// program-data account, which carries the actual ELF image and upgrade
// authority. Both are dumped locally so a later instruction referencing
// the program finds its bytes; a real BPF-loader upgrade that installs
// the image into a running VM is out of scope (bank.Executor has no VM
// to upgrade), and Anchor IDL accounts are skipped since locating one
// needs off-curve program-derived-address search this package doesn't
// implement.
func (c *Cloner) cloneProgram(ctx context.Context, program lifecycle.AccountChainSnapshot) (lifecycle.CloneOutcome, error) {
	programDataAddr, ok := programDataAddress(program.Account.Data)
	if !ok {
		sig, err := c.dumper.Dump(ctx, lifecycle.DumpProgram, program)
		if err != nil {
			return lifecycle.CloneOutcome{}, fmt.Errorf("accountcloner: dump program %s: %w", program.Pubkey, err)
		}
		c.mu.Lock()
		c.cache[program.Pubkey] = program
		c.mu.Unlock()
		return lifecycle.CloneOutcome{Cloned: true, Snapshot: program, Signature: sig}, nil
	}

	programDataSnapshot, err := c.fetcher.FetchAccount(ctx, programDataAddr, program.AtSlot)
	if err != nil {
		return lifecycle.CloneOutcome{}, fmt.Errorf("accountcloner: fetch program-data %s: %w", programDataAddr, err)
	}

	sig, err := c.dumper.Dump(ctx, lifecycle.DumpProgram, program)
	if err != nil {
		return lifecycle.CloneOutcome{}, fmt.Errorf("accountcloner: dump program %s: %w", program.Pubkey, err)
	}
	if _, err := c.dumper.Dump(ctx, lifecycle.DumpProgram, programDataSnapshot); err != nil {
		return lifecycle.CloneOutcome{}, fmt.Errorf("accountcloner: dump program-data %s: %w", programDataAddr, err)
	}

	c.mu.Lock()
	c.cache[program.Pubkey] = program
	c.cache[programDataAddr] = programDataSnapshot
	c.mu.Unlock()

	return lifecycle.CloneOutcome{
		Cloned:             true,
		Snapshot:           program,
		Signature:          sig,
		AdditionalAccounts: []solanatypes.Pubkey{programDataAddr},
	}, nil
}

// programDataAddress decodes a BPF Loader Upgradeable Program account's
// bincode-serialized UpgradeableLoaderState: a 4-byte little-endian
// variant tag (2 for Program) followed by the 32-byte program-data
// address.
func programDataAddress(data []byte) (solanatypes.Pubkey, bool) {
	const programVariant = 2
	if len(data) < 4+solanatypes.PubkeyLen {
		return solanatypes.Pubkey{}, false
	}
	tag := uint32(data[0]) | uint32(data[1])<<8 | uint32(data[2])<<16 | uint32(data[3])<<24
	if tag != programVariant {
		return solanatypes.Pubkey{}, false
	}
	var addr solanatypes.Pubkey
	copy(addr[:], data[4:4+solanatypes.PubkeyLen])
	return addr, true
}

func classify(snapshot lifecycle.AccountChainSnapshot) lifecycle.DumpFlavor {
	switch {
	case snapshot.State == lifecycle.Delegated:
		return lifecycle.DumpDelegatedAccount
	case snapshot.Account.Executable:
		return lifecycle.DumpProgram
	case snapshot.State == lifecycle.Undelegated:
		return lifecycle.DumpUndelegated
	default:
		return lifecycle.DumpFeePayer
	}
}

func (c *Cloner) permissionsAllow(snapshot lifecycle.AccountChainSnapshot) bool {
	switch classify(snapshot) {
	case lifecycle.DumpDelegatedAccount:
		return c.permissions.AllowCloningDelegated
	case lifecycle.DumpProgram:
		return c.permissions.AllowCloningProgram
	case lifecycle.DumpUndelegated:
		return c.permissions.AllowCloningUndelegated
	default:
		return c.permissions.AllowCloningFeePayer
	}
}
