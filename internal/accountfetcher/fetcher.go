// Package accountfetcher implements C5: a single worker task that
// coalesces concurrent requests for the same pubkey into one remote
// fetch, and fans the result out to every waiter.
package accountfetcher

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/ephemeral-svm/validator/internal/lifecycle"
	"github.com/ephemeral-svm/validator/internal/solanatypes"
)

// drainBatchSize bounds how many distinct pubkeys one worker tick fetches
// in parallel (spec §5 "bounded in per-batch size (≈100)").
const drainBatchSize = 100

// RemoteFetcher is the actual network call the worker issues; production
// wiring points this at the base-chain RPC client.
type RemoteFetcher interface {
	FetchAccount(ctx context.Context, pubkey solanatypes.Pubkey, minContextSlot solanatypes.Slot) (lifecycle.AccountChainSnapshot, error)
}

type request struct {
	pubkey         solanatypes.Pubkey
	minContextSlot solanatypes.Slot
	reply          chan<- result
}

type result struct {
	snapshot lifecycle.AccountChainSnapshot
	err      error
}

// Fetcher is C5's single worker: a buffered (1024-entry) input channel of
// (pubkey, min_context_slot), with a per-pubkey listener list so the
// first requester triggers the fetch and subsequent requesters attach.
// The channel is bounded: a FetchAccount call that starts a new fetch
// blocks while it is full.
type Fetcher struct {
	log    *zap.Logger
	remote RemoteFetcher

	requests chan request

	mu       sync.Mutex
	inFlight map[solanatypes.Pubkey][]chan<- result

	limiter *rate.Limiter

	closeOnce sync.Once
	done      chan struct{}
}

var _ lifecycle.Fetcher = (*Fetcher)(nil)

// Option configures optional Fetcher behavior.
type Option func(*Fetcher)

// WithRateLimit caps how many remote fetches per second the worker
// issues against the base chain, independent of how many distinct
// pubkeys a batch coalesces. Without this option fetches are not
// rate-limited.
func WithRateLimit(r rate.Limit, burst int) Option {
	return func(f *Fetcher) { f.limiter = rate.NewLimiter(r, burst) }
}

// New starts the worker goroutine and returns the Fetcher handle.
func New(log *zap.Logger, remote RemoteFetcher, opts ...Option) *Fetcher {
	f := &Fetcher{
		log:      log,
		remote:   remote,
		requests: make(chan request, 1024),
		inFlight: make(map[solanatypes.Pubkey][]chan<- result),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(f)
	}
	go f.run()
	return f
}

// Stop shuts the worker down; outstanding waiters receive a cancellation error.
func (f *Fetcher) Stop() {
	f.closeOnce.Do(func() { close(f.done) })
}

// FetchAccount enqueues a fetch and blocks until this pubkey's result is
// delivered (by this call's own fetch, or by one already in flight).
func (f *Fetcher) FetchAccount(ctx context.Context, pubkey solanatypes.Pubkey, minContextSlot solanatypes.Slot) (lifecycle.AccountChainSnapshot, error) {
	reply := make(chan result, 1)

	f.mu.Lock()
	listeners, alreadyInFlight := f.inFlight[pubkey]
	f.inFlight[pubkey] = append(listeners, reply)
	f.mu.Unlock()

	if !alreadyInFlight {
		select {
		case f.requests <- request{pubkey: pubkey, minContextSlot: minContextSlot, reply: reply}:
		case <-f.done:
			return lifecycle.AccountChainSnapshot{}, fmt.Errorf("accountfetcher: stopped")
		case <-ctx.Done():
			return lifecycle.AccountChainSnapshot{}, ctx.Err()
		}
	}

	select {
	case r := <-reply:
		return r.snapshot, r.err
	case <-ctx.Done():
		return lifecycle.AccountChainSnapshot{}, ctx.Err()
	case <-f.done:
		return lifecycle.AccountChainSnapshot{}, fmt.Errorf("accountfetcher: stopped")
	}
}

// run drains up to drainBatchSize distinct pubkeys per tick and fetches
// them in parallel with errgroup (the Go analogue of join_all).
func (f *Fetcher) run() {
	for {
		var first request
		select {
		case first = <-f.requests:
		case <-f.done:
			return
		}

		batch := map[solanatypes.Pubkey]solanatypes.Slot{first.pubkey: first.minContextSlot}
	drain:
		for len(batch) < drainBatchSize {
			select {
			case r := <-f.requests:
				if existing, ok := batch[r.pubkey]; !ok || r.minContextSlot > existing {
					batch[r.pubkey] = r.minContextSlot
				}
			default:
				break drain
			}
		}

		var g errgroup.Group
		results := make(map[solanatypes.Pubkey]result, len(batch))
		var resultsMu sync.Mutex
		for pubkey, minSlot := range batch {
			pubkey, minSlot := pubkey, minSlot
			g.Go(func() error {
				ctx := context.Background()
				if f.limiter != nil {
					if err := f.limiter.Wait(ctx); err != nil {
						resultsMu.Lock()
						results[pubkey] = result{err: err}
						resultsMu.Unlock()
						return nil
					}
				}
				snapshot, err := f.remote.FetchAccount(ctx, pubkey, minSlot)
				resultsMu.Lock()
				results[pubkey] = result{snapshot: snapshot, err: err}
				resultsMu.Unlock()
				return nil
			})
		}
		_ = g.Wait()

		for pubkey, r := range results {
			f.mu.Lock()
			listeners := f.inFlight[pubkey]
			delete(f.inFlight, pubkey)
			f.mu.Unlock()
			for _, l := range listeners {
				l <- r
			}
		}
	}
}
