// Package lifecyclemock holds hand-written go.uber.org/mock doubles for
// internal/lifecycle's capability interfaces, in the same shape
// mockgen emits for a single-method interface — used where a test
// needs call-count/argument expectations beyond what
// internal/lifecycle/stub's canned responses give.
package lifecyclemock

import (
	"context"
	"reflect"

	"go.uber.org/mock/gomock"

	"github.com/ephemeral-svm/validator/internal/lifecycle"
	"github.com/ephemeral-svm/validator/internal/solanatypes"
)

// MockFetcher is a gomock double for lifecycle.Fetcher.
type MockFetcher struct {
	ctrl     *gomock.Controller
	recorder *MockFetcherMockRecorder
}

type MockFetcherMockRecorder struct {
	mock *MockFetcher
}

func NewMockFetcher(ctrl *gomock.Controller) *MockFetcher {
	mock := &MockFetcher{ctrl: ctrl}
	mock.recorder = &MockFetcherMockRecorder{mock}
	return mock
}

func (m *MockFetcher) EXPECT() *MockFetcherMockRecorder {
	return m.recorder
}

func (m *MockFetcher) FetchAccount(ctx context.Context, pubkey solanatypes.Pubkey, minContextSlot solanatypes.Slot) (lifecycle.AccountChainSnapshot, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "FetchAccount", ctx, pubkey, minContextSlot)
	ret0, _ := ret[0].(lifecycle.AccountChainSnapshot)
	ret1, _ := ret[1].(error)
	return ret0, ret1
}

func (mr *MockFetcherMockRecorder) FetchAccount(ctx, pubkey, minContextSlot any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "FetchAccount", reflect.TypeOf((*MockFetcher)(nil).FetchAccount), ctx, pubkey, minContextSlot)
}
