// Package scheduledcommits implements C10: the cooperative tick that
// drains the magic program's context account, builds committees and
// drives them through the commit engine.
package scheduledcommits

import (
	"context"
	"fmt"
	"sync"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"go.uber.org/zap"

	"github.com/ephemeral-svm/validator/internal/accountsdb"
	"github.com/ephemeral-svm/validator/internal/commit"
	"github.com/ephemeral-svm/validator/internal/lifecycle"
	"github.com/ephemeral-svm/validator/internal/magicprogram"
	"github.com/ephemeral-svm/validator/internal/solanatypes"
)

type programAcceptor interface {
	AcceptScheduleCommits(signer solanatypes.Pubkey) ([]magicprogram.ScheduledCommit, error)
	ScheduledCommitSent(id uint64, sig solanatypes.Signature)
}

// Processor implements the scheduled_commits_len / clear_scheduled_commits
// / process trio from spec §4.5.
type Processor struct {
	log       *zap.Logger
	program   programAcceptor
	committer lifecycle.Committer
	store     *accountsdb.Store
	provider  lifecycle.AccountsProvider
	authority solanatypes.Pubkey

	mu       sync.Mutex
	accepted []magicprogram.ScheduledCommit
	seenIDs  *roaring64.Bitmap
}

func New(log *zap.Logger, program programAcceptor, committer lifecycle.Committer, store *accountsdb.Store, provider lifecycle.AccountsProvider, authority solanatypes.Pubkey) *Processor {
	return &Processor{
		log:       log,
		program:   program,
		committer: committer,
		store:     store,
		provider:  provider,
		authority: authority,
		seenIDs:   roaring64.New(),
	}
}

// ScheduledCommitsLen reports how many accepted commits are still
// in-flight (not yet confirmed).
func (p *Processor) ScheduledCommitsLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.accepted)
}

// ClearScheduledCommits drops every accepted-but-unsent commit, used by
// tests to reset processor state between scenarios.
func (p *Processor) ClearScheduledCommits() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.accepted = nil
}

// Process runs one cooperative tick: drain the context, build
// committees, send and confirm (spec §4.5 "process(committer,
// account_provider)").
func (p *Processor) Process(ctx context.Context) error {
	drained, err := p.program.AcceptScheduleCommits(p.authority)
	if err != nil {
		return fmt.Errorf("scheduledcommits: accept scheduled commits: %w", err)
	}

	p.mu.Lock()
	for _, c := range drained {
		if p.seenIDs.Contains(c.ID) {
			continue
		}
		p.seenIDs.Add(c.ID)
		p.accepted = append(p.accepted, c)
	}
	batch := append([]magicprogram.ScheduledCommit(nil), p.accepted...)
	p.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	committees, byPubkeyCommit, err := p.buildCommittees(batch)
	if err != nil {
		return err
	}
	if len(committees) == 0 {
		p.clearBatch(batch)
		return nil
	}

	payloads, err := p.committer.CreateCommitAccountsTransaction(committees)
	if err != nil {
		return fmt.Errorf("scheduledcommits: create commit transaction: %w", err)
	}
	pending, err := p.committer.SendCommitTransactions(payloads)
	if err != nil {
		return fmt.Errorf("scheduledcommits: send commit transactions: %w", err)
	}
	if err := p.committer.ConfirmPendingCommits(pending); err != nil {
		return fmt.Errorf("scheduledcommits: confirm pending commits: %w", err)
	}

	for _, pc := range pending {
		for _, pubkey := range pc.CommittedOnlyAccounts {
			if c, ok := byPubkeyCommit[pubkey]; ok {
				p.program.ScheduledCommitSent(c.ID, pc.Signature)
			}
		}
		for _, pubkey := range pc.UndelegatedAccounts {
			// Confirmed undelegation: the account now lives on the base
			// chain again (spec §4.5 step 5).
			if err := p.store.Remove(pubkey); err != nil {
				p.log.Warn("scheduledcommits: failed to remove undelegated account", zap.Stringer("pubkey", pubkey), zap.Error(err))
			}
		}
	}

	p.clearBatch(batch)
	return nil
}

func (p *Processor) buildCommittees(batch []magicprogram.ScheduledCommit) ([]lifecycle.AccountCommittee, map[solanatypes.Pubkey]magicprogram.ScheduledCommit, error) {
	var committees []lifecycle.AccountCommittee
	byPubkey := make(map[solanatypes.Pubkey]magicprogram.ScheduledCommit)
	for _, c := range batch {
		for _, pubkey := range c.Accounts {
			acct, ok, err := p.store.Get(pubkey)
			if err != nil {
				return nil, nil, fmt.Errorf("scheduledcommits: read %s: %w", pubkey, err)
			}
			if !ok {
				continue
			}
			owner := acct.Owner
			record, _ := p.provider.IsDelegatedToUs(pubkey)
			if c.RequestUndelegation {
				owner = commit.DelegationProgramPubkey
			}
			committees = append(committees, lifecycle.AccountCommittee{
				Pubkey:              pubkey,
				Data:                acct.Data,
				Owner:               owner,
				RequestUndelegation: c.RequestUndelegation,
				OriginalOwner:       record.OriginalOwner,
				Payer:               c.Payer,
			})
			byPubkey[pubkey] = c
		}
	}
	return committees, byPubkey, nil
}

func (p *Processor) clearBatch(batch []magicprogram.ScheduledCommit) {
	done := make(map[uint64]struct{}, len(batch))
	for _, c := range batch {
		done[c.ID] = struct{}{}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	var remaining []magicprogram.ScheduledCommit
	for _, c := range p.accepted {
		if _, ok := done[c.ID]; !ok {
			remaining = append(remaining, c)
		}
	}
	p.accepted = remaining
}
