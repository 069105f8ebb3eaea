package accountupdates

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ephemeral-svm/validator/internal/solanatypes"
)

type fakeSubscriber struct {
	subscribeCalls atomic.Int32
	cancelCalls    atomic.Int32
}

func (f *fakeSubscriber) Subscribe(_ context.Context, _ solanatypes.Pubkey, _ func(solanatypes.Slot)) (func(), error) {
	f.subscribeCalls.Add(1)
	return func() { f.cancelCalls.Add(1) }, nil
}

func TestEnsureAccountMonitoringIsIdempotent(t *testing.T) {
	sub := &fakeSubscriber{}
	m := New(zaptest.NewLogger(t), sub, func() solanatypes.Slot { return 10 }, 0)

	var pk solanatypes.Pubkey
	pk[0] = 1
	m.EnsureAccountMonitoring(pk)
	m.EnsureAccountMonitoring(pk)
	m.EnsureAccountMonitoring(pk)

	require.Equal(t, int32(1), sub.subscribeCalls.Load())
	slot, ok := m.FirstSubscribedSlot(pk)
	require.True(t, ok)
	require.Equal(t, solanatypes.Slot(10), slot)
}

func TestStopMonitoringCancelsAndClears(t *testing.T) {
	sub := &fakeSubscriber{}
	m := New(zaptest.NewLogger(t), sub, func() solanatypes.Slot { return 1 }, 0)
	var pk solanatypes.Pubkey
	pk[0] = 2
	m.EnsureAccountMonitoring(pk)
	m.StopMonitoring(pk)

	require.Equal(t, int32(1), sub.cancelCalls.Load())
	_, ok := m.FirstSubscribedSlot(pk)
	require.False(t, ok)
}

func TestLRUEvictsLeastRecentlyUsed(t *testing.T) {
	sub := &fakeSubscriber{}
	m := New(zaptest.NewLogger(t), sub, func() solanatypes.Slot { return 1 }, 2)
	var a, b, c solanatypes.Pubkey
	a[0], b[0], c[0] = 1, 2, 3

	m.EnsureAccountMonitoring(a)
	m.EnsureAccountMonitoring(b)
	m.EnsureAccountMonitoring(c) // evicts a, the least recently touched

	_, ok := m.FirstSubscribedSlot(a)
	require.False(t, ok)
	_, ok = m.FirstSubscribedSlot(b)
	require.True(t, ok)
	_, ok = m.FirstSubscribedSlot(c)
	require.True(t, ok)
}
