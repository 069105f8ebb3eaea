package lifecyclemock

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/ephemeral-svm/validator/internal/lifecycle"
	"github.com/ephemeral-svm/validator/internal/solanatypes"
)

func TestMockFetcherRecordsExpectedCall(t *testing.T) {
	ctrl := gomock.NewController(t)
	mock := NewMockFetcher(ctrl)

	var pubkey solanatypes.Pubkey
	pubkey[0] = 1
	want := lifecycle.AccountChainSnapshot{Pubkey: pubkey, State: lifecycle.Delegated}

	mock.EXPECT().FetchAccount(gomock.Any(), pubkey, solanatypes.Slot(0)).Return(want, nil)

	var f lifecycle.Fetcher = mock
	got, err := f.FetchAccount(context.Background(), pubkey, 0)
	require.NoError(t, err)
	require.Equal(t, want, got)
}
