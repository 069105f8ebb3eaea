package pubsub

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ephemeral-svm/validator/internal/bank"
	"github.com/ephemeral-svm/validator/internal/ledger"
	"github.com/ephemeral-svm/validator/internal/solanatypes"
)

// signatureSubscribeTimeout is how long a signatureSubscribe waits for a
// status before auto-unsubscribing (spec §4.7, §5 Cancellation).
const signatureSubscribeTimeout = 60 * time.Second

// defaultBufSize bounds each subscriber's channel; a slow reader loses
// updates rather than stalling the publisher (spec §4.7 Delivery, §5
// Back-pressure).
const defaultBufSize = 64

// AccountUpdate is what accountSubscribe and programSubscribe deliver.
type AccountUpdate struct {
	Slot    solanatypes.Slot
	Pubkey  solanatypes.Pubkey
	Account solanatypes.Account
}

// SignatureUpdate is what signatureSubscribe delivers.
type SignatureUpdate struct {
	Slot solanatypes.Slot
	Err  string
}

// LogsUpdate is what logsSubscribe delivers, one per transaction.
type LogsUpdate struct {
	Signature solanatypes.Signature
	Err       string
	Logs      []string
}

// SlotUpdate is what slotSubscribe delivers.
type SlotUpdate struct {
	Slot   solanatypes.Slot
	Parent solanatypes.Slot
	Root   solanatypes.Slot
}

type programSub struct {
	id      SubID
	owner   solanatypes.Pubkey
	filters []Filter
	ch      chan AccountUpdate
}

type logsSub struct {
	id      SubID
	mention *solanatypes.Pubkey // nil means All
	ch      chan LogsUpdate
}

// StatusLookup is the narrow bank surface signatureSubscribe needs to
// check for an already-landed transaction before subscribing.
type StatusLookup interface {
	LookupAny(sig solanatypes.Signature) (bank.StatusEntry, bool)
}

// MetricsSink is the narrow recorder interface Hub reports subscriber
// counts and dropped updates through; *metrics.Registry satisfies it.
type MetricsSink interface {
	SetSubscribers(kind string, n int)
	IncDropped()
}

// Hub multiplexes account writes, transaction statuses and slot
// advances into the five subscription kinds C12 exposes. It has no
// knowledge of transport; TransactionServer (see transport.go) adapts
// it to JSON-RPC over WebSocket.
type Hub struct {
	log   *zap.Logger
	idSeq atomic.Uint64

	accounts *Registry[solanatypes.Pubkey, AccountUpdate]
	slots    *Registry[struct{}, SlotUpdate]
	sigs     *Registry[solanatypes.Signature, SignatureUpdate]

	metrics atomic.Pointer[MetricsSink]

	mu          sync.Mutex
	programSubs map[SubID]*programSub
	programByID map[solanatypes.Pubkey][]SubID
	logsSubs    map[SubID]*logsSub
	sigTimers   map[SubID]*time.Timer
}

func New(log *zap.Logger) *Hub {
	h := &Hub{
		log:         log,
		programSubs: make(map[SubID]*programSub),
		programByID: make(map[solanatypes.Pubkey][]SubID),
		logsSubs:    make(map[SubID]*logsSub),
		sigTimers:   make(map[SubID]*time.Timer),
	}
	h.accounts = NewRegistry[solanatypes.Pubkey, AccountUpdate](h.nextID, defaultBufSize)
	h.slots = NewRegistry[struct{}, SlotUpdate](h.nextID, defaultBufSize)
	h.sigs = NewRegistry[solanatypes.Signature, SignatureUpdate](h.nextID, defaultBufSize)
	h.accounts.SetOnDrop(h.incDropped)
	h.slots.SetOnDrop(h.incDropped)
	h.sigs.SetOnDrop(h.incDropped)
	return h
}

func (h *Hub) nextID() SubID { return SubID(h.idSeq.Add(1)) }

// SetMetrics installs the Prometheus recorder; nil disables reporting.
func (h *Hub) SetMetrics(sink MetricsSink) {
	if sink == nil {
		h.metrics.Store(nil)
		return
	}
	h.metrics.Store(&sink)
}

func (h *Hub) incDropped() {
	if sink := h.metrics.Load(); sink != nil {
		(*sink).IncDropped()
	}
}

func (h *Hub) setSubscribers(kind string, n int) {
	if sink := h.metrics.Load(); sink != nil {
		(*sink).SetSubscribers(kind, n)
	}
}

// programTotalLocked/logsTotalLocked report subscriber counts for the two kinds Hub
// tracks outside the generic Registry (caller must hold h.mu).
func (h *Hub) programTotalLocked() int { return len(h.programSubs) }
func (h *Hub) logsTotalLocked() int    { return len(h.logsSubs) }

// Attach wires Hub into a live bank and accounts store: an account-write
// hook for accountSubscribe/programSubscribe, and a slot hook for
// slotSubscribe. Call once at startup, before serving traffic.
func (h *Hub) Attach(b *bank.Bank) {
	b.Store().SetUpdateHook(func(pubkey solanatypes.Pubkey, account solanatypes.Account) {
		h.PublishAccountUpdate(b.Slot(), pubkey, account)
	})
	b.SetSlotHook(func(slot, parent solanatypes.Slot) {
		h.PublishSlotUpdate(slot, parent, parent)
	})
}

// StatusSink adapts Hub to bank.StatusSink, the per-transaction
// completion callback C4's Processor threads through live execution.
func (h *Hub) StatusSink() bank.StatusSink {
	return func(sig solanatypes.Signature, status ledger.TransactionStatusMeta, accountKeys []solanatypes.Pubkey) {
		h.PublishSignatureUpdate(sig, SignatureUpdate{Slot: status.Slot, Err: status.Err})
		h.PublishLogsUpdate(sig, status.Err, status.LogMessages, accountKeys)
	}
}

// AccountSubscribe returns the subscription id and a channel of
// subsequent live updates; it does not deliver the account's current
// value (Server's accountSubscribe handler sends that itself).
func (h *Hub) AccountSubscribe(pubkey solanatypes.Pubkey) (SubID, <-chan AccountUpdate) {
	id, ch := h.accounts.Subscribe(pubkey)
	h.setSubscribers("account", h.accounts.Total())
	return id, ch
}

func (h *Hub) AccountUnsubscribe(id SubID) bool {
	ok := h.accounts.Unsubscribe(id)
	h.setSubscribers("account", h.accounts.Total())
	return ok
}

// ProgramSubscribe watches every account owned by owner whose data
// matches every filter (spec §4.7 programSubscribe: "matches iff all
// filters match").
func (h *Hub) ProgramSubscribe(owner solanatypes.Pubkey, filters []Filter) (SubID, <-chan AccountUpdate) {
	id := h.nextID()
	ch := make(chan AccountUpdate, defaultBufSize)
	sub := &programSub{id: id, owner: owner, filters: filters, ch: ch}

	h.mu.Lock()
	h.programSubs[id] = sub
	h.programByID[owner] = append(h.programByID[owner], id)
	n := h.programTotalLocked()
	h.mu.Unlock()
	h.setSubscribers("program", n)
	return id, ch
}

func (h *Hub) ProgramUnsubscribe(id SubID) bool {
	h.mu.Lock()
	sub, ok := h.programSubs[id]
	if !ok {
		h.mu.Unlock()
		return false
	}
	delete(h.programSubs, id)
	ids := h.programByID[sub.owner]
	for i, existing := range ids {
		if existing == id {
			h.programByID[sub.owner] = append(ids[:i:i], ids[i+1:]...)
			break
		}
	}
	if len(h.programByID[sub.owner]) == 0 {
		delete(h.programByID, sub.owner)
	}
	close(sub.ch)
	n := h.programTotalLocked()
	h.mu.Unlock()
	h.setSubscribers("program", n)
	return true
}

// SignatureSubscribe checks lookup for an already-landed status first;
// if found, it is delivered immediately and no subscription is created.
// Otherwise a subscription is registered and auto-unsubscribed after
// signatureSubscribeTimeout with no delivery (spec §4.7 signatureSubscribe).
func (h *Hub) SignatureSubscribe(sig solanatypes.Signature, lookup StatusLookup) (SubID, <-chan SignatureUpdate, *SignatureUpdate) {
	if entry, ok := lookup.LookupAny(sig); ok {
		return 0, nil, &SignatureUpdate{Slot: entry.Slot, Err: entry.Err}
	}

	id, ch := h.sigs.Subscribe(sig)
	timer := time.AfterFunc(signatureSubscribeTimeout, func() {
		h.SignatureUnsubscribe(id)
	})
	h.mu.Lock()
	h.sigTimers[id] = timer
	h.mu.Unlock()
	h.setSubscribers("signature", h.sigs.Total())
	return id, ch, nil
}

func (h *Hub) SignatureUnsubscribe(id SubID) bool {
	h.mu.Lock()
	if timer, ok := h.sigTimers[id]; ok {
		timer.Stop()
		delete(h.sigTimers, id)
	}
	h.mu.Unlock()
	ok := h.sigs.Unsubscribe(id)
	h.setSubscribers("signature", h.sigs.Total())
	return ok
}

// LogsSubscribe watches every transaction (mention == nil) or only
// transactions whose account keys include *mention.
func (h *Hub) LogsSubscribe(mention *solanatypes.Pubkey) (SubID, <-chan LogsUpdate) {
	id := h.nextID()
	ch := make(chan LogsUpdate, defaultBufSize)
	h.mu.Lock()
	h.logsSubs[id] = &logsSub{id: id, mention: mention, ch: ch}
	n := h.logsTotalLocked()
	h.mu.Unlock()
	h.setSubscribers("logs", n)
	return id, ch
}

func (h *Hub) LogsUnsubscribe(id SubID) bool {
	h.mu.Lock()
	sub, ok := h.logsSubs[id]
	if !ok {
		h.mu.Unlock()
		return false
	}
	delete(h.logsSubs, id)
	close(sub.ch)
	n := h.logsTotalLocked()
	h.mu.Unlock()
	h.setSubscribers("logs", n)
	return true
}

// SlotSubscribe watches every slot advance. Attach publishes root equal
// to parent (one slot behind), since this validator has no separate
// finality notion.
func (h *Hub) SlotSubscribe() (SubID, <-chan SlotUpdate) {
	id, ch := h.slots.Subscribe(struct{}{})
	h.setSubscribers("slot", h.slots.Total())
	return id, ch
}

func (h *Hub) SlotUnsubscribe(id SubID) bool {
	ok := h.slots.Unsubscribe(id)
	h.setSubscribers("slot", h.slots.Total())
	return ok
}

// PublishAccountUpdate fans an account write out to accountSubscribe and
// programSubscribe subscribers (spec §5: "account/transaction updates
// are sent in execution order per key", which StoreBatch's synchronous
// hook call already guarantees).
func (h *Hub) PublishAccountUpdate(slot solanatypes.Slot, pubkey solanatypes.Pubkey, account solanatypes.Account) {
	update := AccountUpdate{Slot: slot, Pubkey: pubkey, Account: account}
	h.accounts.Publish(pubkey, update)

	h.mu.Lock()
	ids := append([]SubID(nil), h.programByID[account.Owner]...)
	h.mu.Unlock()
	for _, id := range ids {
		h.mu.Lock()
		sub, ok := h.programSubs[id]
		h.mu.Unlock()
		if !ok || !MatchAll(sub.filters, account) {
			continue
		}
		select {
		case sub.ch <- update:
		default:
			h.incDropped()
		}
	}
}

// PublishSignatureUpdate delivers a landed transaction's status to every
// signatureSubscribe subscriber waiting on sig, then unsubscribes them
// (one-shot per spec §4.7).
func (h *Hub) PublishSignatureUpdate(sig solanatypes.Signature, update SignatureUpdate) {
	h.sigs.PublishAndClear(sig, update)
}

// PublishLogsUpdate delivers a transaction's logs to every matching
// logsSubscribe subscriber: unconditionally to All subscribers, and to
// Mentions(pubkey) subscribers whose pubkey appears in accountKeys.
func (h *Hub) PublishLogsUpdate(sig solanatypes.Signature, txErr string, logs []string, accountKeys []solanatypes.Pubkey) {
	update := LogsUpdate{Signature: sig, Err: txErr, Logs: logs}

	h.mu.Lock()
	subs := make([]*logsSub, 0, len(h.logsSubs))
	for _, sub := range h.logsSubs {
		subs = append(subs, sub)
	}
	h.mu.Unlock()

	for _, sub := range subs {
		if sub.mention != nil && !mentions(accountKeys, *sub.mention) {
			continue
		}
		select {
		case sub.ch <- update:
		default:
			h.incDropped()
		}
	}
}

func mentions(keys []solanatypes.Pubkey, target solanatypes.Pubkey) bool {
	for _, k := range keys {
		if k == target {
			return true
		}
	}
	return false
}

// PublishSlotUpdate fans a slot advance out to every slotSubscribe
// subscriber, in slot order (spec §5 Ordering guarantees) — guaranteed
// here because bank.AdvanceSlotAndUpdateLedger calls the slot hook
// synchronously, under its own serialization.
func (h *Hub) PublishSlotUpdate(slot, parent, root solanatypes.Slot) {
	h.slots.Publish(struct{}{}, SlotUpdate{Slot: slot, Parent: parent, Root: root})
}
