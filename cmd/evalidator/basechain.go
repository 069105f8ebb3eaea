package main

import (
	"context"
	"fmt"

	"github.com/ephemeral-svm/validator/internal/lifecycle"
	"github.com/ephemeral-svm/validator/internal/solanatypes"
)

// basechainStub satisfies every capability interface this process needs
// for talking to the real Solana base chain: accountfetcher.RemoteFetcher,
// accountupdates.Subscriber and commit.BaseChainClient. A production
// base-chain RPC/WS client is out of scope here (the same way
// bank.Executor's VM is); this keeps the three capability seams wired to
// something concrete so the rest of the process builds and runs end to
// end against a stubbed chain rather than a nil pointer.
type basechainStub struct {
	remote string
}

func newBasechainStub(remote string) *basechainStub {
	return &basechainStub{remote: remote}
}

func (b *basechainStub) FetchAccount(_ context.Context, pubkey solanatypes.Pubkey, _ solanatypes.Slot) (lifecycle.AccountChainSnapshot, error) {
	return lifecycle.AccountChainSnapshot{}, fmt.Errorf("basechain %s: account fetch not implemented: %s", b.remote, pubkey)
}

func (b *basechainStub) Subscribe(ctx context.Context, _ solanatypes.Pubkey, _ func(solanatypes.Slot)) (func(), error) {
	return func() {}, nil
}

func (b *basechainStub) LatestBlockhash(_ context.Context) (solanatypes.Hash, error) {
	return solanatypes.Hash{}, fmt.Errorf("basechain %s: latest blockhash not implemented", b.remote)
}

func (b *basechainStub) SendTransaction(_ context.Context, _ *solanatypes.Transaction) error {
	return fmt.Errorf("basechain %s: send transaction not implemented", b.remote)
}

func (b *basechainStub) ConfirmTransaction(_ context.Context, _ solanatypes.Signature) (bool, error) {
	return false, fmt.Errorf("basechain %s: confirm transaction not implemented", b.remote)
}
