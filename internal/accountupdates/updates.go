// Package accountupdates implements C6: live per-pubkey subscriptions to
// the base chain, tracking when each was first opened and when it most
// recently pushed an update, with LRU eviction under memory pressure.
package accountupdates

import (
	"context"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/ephemeral-svm/validator/internal/lifecycle"
	"github.com/ephemeral-svm/validator/internal/solanatypes"
)

// Subscriber opens a live base-chain subscription for pubkey; the
// returned cancel func tears it down. Production wiring backs this with
// a websocket accountSubscribe client; tests can fake it.
type Subscriber interface {
	Subscribe(ctx context.Context, pubkey solanatypes.Pubkey, onUpdate func(solanatypes.Slot)) (cancel func(), err error)
}

// defaultMaxMonitored bounds how many pubkeys stay actively monitored
// before the LRU policy starts evicting the one least recently passed to
// EnsureAccountMonitoring (pushed updates do not refresh recency).
const defaultMaxMonitored = 16384

// Manager is C6's subscription bookkeeping.
type Manager struct {
	log        *zap.Logger
	subscriber Subscriber
	clock      func() solanatypes.Slot

	mu              sync.Mutex
	firstSubscribed map[solanatypes.Pubkey]solanatypes.Slot
	lastKnownUpdate map[solanatypes.Pubkey]solanatypes.Slot
	cancelFuncs     map[solanatypes.Pubkey]func()
	recency         *lru.Cache[solanatypes.Pubkey, struct{}]
}

var _ lifecycle.Updates = (*Manager)(nil)

// New constructs a Manager. clock supplies the slot to stamp new
// subscriptions with; maxMonitored <= 0 uses defaultMaxMonitored.
func New(log *zap.Logger, subscriber Subscriber, clock func() solanatypes.Slot, maxMonitored int) *Manager {
	if maxMonitored <= 0 {
		maxMonitored = defaultMaxMonitored
	}
	m := &Manager{
		log:             log,
		subscriber:      subscriber,
		clock:           clock,
		firstSubscribed: make(map[solanatypes.Pubkey]solanatypes.Slot),
		lastKnownUpdate: make(map[solanatypes.Pubkey]solanatypes.Slot),
		cancelFuncs:     make(map[solanatypes.Pubkey]func()),
	}
	cache, err := lru.NewWithEvict[solanatypes.Pubkey, struct{}](maxMonitored, func(pubkey solanatypes.Pubkey, _ struct{}) {
		m.evict(pubkey)
	})
	if err != nil {
		// Only returns an error for a non-positive size, which New
		// already guards against above.
		panic("accountupdates: lru.NewWithEvict: " + err.Error())
	}
	m.recency = cache
	return m
}

// EnsureAccountMonitoring is idempotent: repeated calls for an already
// monitored pubkey only bump its LRU recency.
func (m *Manager) EnsureAccountMonitoring(pubkey solanatypes.Pubkey) {
	m.mu.Lock()
	_, already := m.firstSubscribed[pubkey]
	if already {
		m.mu.Unlock()
		m.recency.Get(pubkey)
		return
	}
	slot := solanatypes.Slot(0)
	if m.clock != nil {
		slot = m.clock()
	}
	m.firstSubscribed[pubkey] = slot
	m.mu.Unlock()

	cancel, err := m.subscriber.Subscribe(context.Background(), pubkey, func(updateSlot solanatypes.Slot) {
		m.mu.Lock()
		m.lastKnownUpdate[pubkey] = updateSlot
		m.mu.Unlock()
	})
	if err != nil {
		m.log.Warn("accountupdates: subscribe failed", zap.Stringer("pubkey", pubkey), zap.Error(err))
		m.mu.Lock()
		delete(m.firstSubscribed, pubkey)
		m.mu.Unlock()
		return
	}

	m.mu.Lock()
	m.cancelFuncs[pubkey] = cancel
	m.mu.Unlock()
	m.recency.Add(pubkey, struct{}{})
}

func (m *Manager) FirstSubscribedSlot(pubkey solanatypes.Pubkey) (solanatypes.Slot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.firstSubscribed[pubkey]
	return s, ok
}

func (m *Manager) LastKnownUpdateSlot(pubkey solanatypes.Pubkey) (solanatypes.Slot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.lastKnownUpdate[pubkey]
	return s, ok
}

// StopMonitoring cancels pubkey's subscription and clears both maps.
// Removing it from the LRU triggers the same eviction path.
func (m *Manager) StopMonitoring(pubkey solanatypes.Pubkey) {
	m.recency.Remove(pubkey)
	m.evict(pubkey)
}

// evict is shared by StopMonitoring and the LRU's own eviction callback;
// it must not call back into m.recency to avoid deadlocking the LRU's
// internal lock.
func (m *Manager) evict(pubkey solanatypes.Pubkey) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cancel, ok := m.cancelFuncs[pubkey]; ok {
		cancel()
		delete(m.cancelFuncs, pubkey)
	}
	delete(m.firstSubscribed, pubkey)
	delete(m.lastKnownUpdate, pubkey)
}
