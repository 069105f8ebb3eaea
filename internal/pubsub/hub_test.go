package pubsub

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ephemeral-svm/validator/internal/accountsdb"
	"github.com/ephemeral-svm/validator/internal/accountsdb/index"
	"github.com/ephemeral-svm/validator/internal/bank"
	"github.com/ephemeral-svm/validator/internal/ledger"
	"github.com/ephemeral-svm/validator/internal/solanatypes"
)

func newAttachTestBank(t *testing.T, dir string) *bank.Bank {
	t.Helper()
	store, err := accountsdb.Open(zaptest.NewLogger(t), accountsdb.Config{
		MainFilePath: filepath.Join(dir, "main.data"),
		BlockSize:    accountsdb.Block256,
		SnapshotDir:  filepath.Join(dir, "snapshots"),
		MaxSnapshots: 2,
	}, index.NewMemIndex())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	lg, err := ledger.Open(zaptest.NewLogger(t), ledger.Config{Path: filepath.Join(dir, "ledger")})
	require.NoError(t, err)
	t.Cleanup(func() { lg.Close() })

	return bank.New(zaptest.NewLogger(t), store, lg, bank.Config{GenesisHash: solanatypes.Hash{0xAB}})
}

func pk(b byte) solanatypes.Pubkey {
	var p solanatypes.Pubkey
	p[0] = b
	return p
}

func TestDataSizeFilter(t *testing.T) {
	require.True(t, DataSize(4).Match(solanatypes.Account{Data: []byte("abcd")}))
	require.False(t, DataSize(4).Match(solanatypes.Account{Data: []byte("abc")}))
}

func TestMemcmpFilter(t *testing.T) {
	f := Memcmp{Offset: 2, Bytes: []byte{0xAA, 0xBB}}
	require.True(t, f.Match(solanatypes.Account{Data: []byte{1, 2, 0xAA, 0xBB, 9}}))
	require.False(t, f.Match(solanatypes.Account{Data: []byte{1, 2, 0xAA, 0xCC, 9}}))
	require.False(t, f.Match(solanatypes.Account{Data: []byte{1, 2}}))
}

func TestMatchAllRequiresEveryFilter(t *testing.T) {
	account := solanatypes.Account{Data: []byte{0xAA, 0xBB, 0xCC, 0xDD}}
	filters := []Filter{DataSize(4), Memcmp{Offset: 0, Bytes: []byte{0xAA, 0xBB, 0xCC, 0xDD}}}
	require.True(t, MatchAll(filters, account))

	filters = append(filters, Memcmp{Offset: 0, Bytes: []byte{0x00}})
	require.False(t, MatchAll(filters, account))
}

func TestRegistryPublishDropsOnFullChannel(t *testing.T) {
	var seq uint64
	next := func() SubID { seq++; return SubID(seq) }
	r := NewRegistry[string, int](next, 1)

	_, ch := r.Subscribe("k")
	r.Publish("k", 1)
	r.Publish("k", 2) // channel already full; dropped, not blocked

	require.Equal(t, 1, <-ch)
	select {
	case v := <-ch:
		t.Fatalf("unexpected second delivery: %d", v)
	default:
	}
}

func TestRegistryUnsubscribeClosesChannel(t *testing.T) {
	var seq uint64
	next := func() SubID { seq++; return SubID(seq) }
	r := NewRegistry[string, int](next, 4)

	id, ch := r.Subscribe("k")
	require.Equal(t, 1, r.Count("k"))
	require.True(t, r.Unsubscribe(id))
	require.Equal(t, 0, r.Count("k"))

	_, open := <-ch
	require.False(t, open)
	require.False(t, r.Unsubscribe(id), "double unsubscribe is a no-op")
}

func TestRegistryPublishAndClearUnsubscribesAllReceivers(t *testing.T) {
	var seq uint64
	next := func() SubID { seq++; return SubID(seq) }
	r := NewRegistry[string, int](next, 4)

	id1, ch1 := r.Subscribe("k")
	id2, ch2 := r.Subscribe("k")
	r.PublishAndClear("k", 7)

	require.Equal(t, 7, <-ch1)
	require.Equal(t, 7, <-ch2)
	require.Equal(t, 0, r.Count("k"))
	require.False(t, r.Unsubscribe(id1))
	require.False(t, r.Unsubscribe(id2))
}

func TestHubProgramSubscribeFiltersByOwnerAndFilters(t *testing.T) {
	h := New(zaptest.NewLogger(t))
	owner := pk(9)
	other := pk(10)

	id, ch := h.ProgramSubscribe(owner, []Filter{DataSize(3)})
	defer h.ProgramUnsubscribe(id)

	h.PublishAccountUpdate(1, pk(1), solanatypes.Account{Owner: other, Data: []byte("abc")})
	h.PublishAccountUpdate(2, pk(2), solanatypes.Account{Owner: owner, Data: []byte("ab")})
	h.PublishAccountUpdate(3, pk(3), solanatypes.Account{Owner: owner, Data: []byte("abc")})

	select {
	case update := <-ch:
		require.Equal(t, pk(3), update.Pubkey)
		require.Equal(t, solanatypes.Slot(3), update.Slot)
	default:
		t.Fatal("expected one matching program update")
	}
	select {
	case update := <-ch:
		t.Fatalf("unexpected extra update: %+v", update)
	default:
	}
}

func TestHubAccountSubscribeDeliversOnlyItsOwnKey(t *testing.T) {
	h := New(zaptest.NewLogger(t))
	target := pk(1)
	id, ch := h.AccountSubscribe(target)
	defer h.AccountUnsubscribe(id)

	h.PublishAccountUpdate(5, pk(2), solanatypes.Account{Lamports: 1})
	h.PublishAccountUpdate(6, target, solanatypes.Account{Lamports: 2})

	update := <-ch
	require.Equal(t, target, update.Pubkey)
	require.Equal(t, uint64(2), update.Account.Lamports)
}

type staticLookup struct {
	entry bank.StatusEntry
	found bool
}

func (s staticLookup) LookupAny(solanatypes.Signature) (bank.StatusEntry, bool) {
	return s.entry, s.found
}

func TestHubSignatureSubscribeReturnsImmediatelyWhenAlreadyLanded(t *testing.T) {
	h := New(zaptest.NewLogger(t))
	sig := solanatypes.Signature{1}
	lookup := staticLookup{entry: bank.StatusEntry{Slot: 3, Err: ""}, found: true}

	id, ch, immediate := h.SignatureSubscribe(sig, lookup)
	require.Zero(t, id)
	require.Nil(t, ch)
	require.NotNil(t, immediate)
	require.Equal(t, solanatypes.Slot(3), immediate.Slot)
}

func TestHubSignatureSubscribeDeliversOnceThenUnsubscribes(t *testing.T) {
	h := New(zaptest.NewLogger(t))
	sig := solanatypes.Signature{2}

	id, ch, immediate := h.SignatureSubscribe(sig, staticLookup{found: false})
	require.Nil(t, immediate)
	require.NotZero(t, id)

	h.PublishSignatureUpdate(sig, SignatureUpdate{Slot: 9, Err: ""})

	update := <-ch
	require.Equal(t, solanatypes.Slot(9), update.Slot)
	_, open := <-ch
	require.False(t, open, "signature subscription must auto-unsubscribe after delivery")
}

func TestHubLogsSubscribeAllAndMentions(t *testing.T) {
	h := New(zaptest.NewLogger(t))
	allID, allCh := h.LogsSubscribe(nil)
	defer h.LogsUnsubscribe(allID)

	mentioned := pk(4)
	mentionID, mentionCh := h.LogsSubscribe(&mentioned)
	defer h.LogsUnsubscribe(mentionID)

	h.PublishLogsUpdate(solanatypes.Signature{3}, "", []string{"log"}, []solanatypes.Pubkey{pk(1)})

	select {
	case <-allCh:
	default:
		t.Fatal("all-subscriber should always receive")
	}
	select {
	case update := <-mentionCh:
		t.Fatalf("unexpected delivery to non-mentioned subscriber: %+v", update)
	default:
	}

	h.PublishLogsUpdate(solanatypes.Signature{4}, "", []string{"log2"}, []solanatypes.Pubkey{mentioned})
	select {
	case update := <-mentionCh:
		require.Equal(t, []string{"log2"}, update.Logs)
	default:
		t.Fatal("mentioned subscriber should receive")
	}
}

func TestHubSlotSubscribeOrdersBySlot(t *testing.T) {
	h := New(zaptest.NewLogger(t))
	id, ch := h.SlotSubscribe()
	defer h.SlotUnsubscribe(id)

	h.PublishSlotUpdate(1, 0, 0)
	h.PublishSlotUpdate(2, 1, 1)

	first := <-ch
	second := <-ch
	require.Equal(t, solanatypes.Slot(1), first.Slot)
	require.Equal(t, solanatypes.Slot(2), second.Slot)
	require.Equal(t, solanatypes.Slot(1), second.Parent)
}

type fakeMetricsSink struct {
	subscribers map[string]int
	dropped     int
}

func (f *fakeMetricsSink) SetSubscribers(kind string, n int) {
	if f.subscribers == nil {
		f.subscribers = make(map[string]int)
	}
	f.subscribers[kind] = n
}

func (f *fakeMetricsSink) IncDropped() { f.dropped++ }

func TestHubReportsSubscriberCountsAndDrops(t *testing.T) {
	h := New(zaptest.NewLogger(t))
	sink := &fakeMetricsSink{}
	h.SetMetrics(sink)

	id, _ := h.AccountSubscribe(pk(1))
	require.Equal(t, 1, sink.subscribers["account"])
	h.AccountUnsubscribe(id)
	require.Equal(t, 0, sink.subscribers["account"])

	r := NewRegistry[string, int](h.nextID, 1)
	r.SetOnDrop(h.incDropped)
	_, ch := r.Subscribe("k")
	r.Publish("k", 1)
	r.Publish("k", 2)
	require.Equal(t, 1, sink.dropped)
	<-ch
}

func TestHubAttachWiresBankAndStoreHooks(t *testing.T) {
	dir := t.TempDir()
	b := newAttachTestBank(t, dir)
	h := New(zaptest.NewLogger(t))
	h.Attach(b)

	accountID, accountCh := h.AccountSubscribe(pk(7))
	defer h.AccountUnsubscribe(accountID)
	slotID, slotCh := h.SlotSubscribe()
	defer h.SlotUnsubscribe(slotID)

	require.NoError(t, b.StoreAccount(pk(7), solanatypes.Account{Lamports: 42}))
	select {
	case update := <-accountCh:
		require.Equal(t, uint64(42), update.Account.Lamports)
	case <-time.After(time.Second):
		t.Fatal("expected account update via attached hook")
	}

	_, err := b.AdvanceSlotAndUpdateLedger(100)
	require.NoError(t, err)
	select {
	case update := <-slotCh:
		require.Equal(t, solanatypes.Slot(1), update.Slot)
	case <-time.After(time.Second):
		t.Fatal("expected slot update via attached hook")
	}
}
