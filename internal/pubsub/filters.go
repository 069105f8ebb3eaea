// Package pubsub implements C12: fan-out of bank events (account writes,
// transaction status, slot advances) to per-subscription bounded
// channels, with the filter and subscription-kind semantics programSubscribe,
// accountSubscribe, signatureSubscribe, logsSubscribe and slotSubscribe
// need (spec §4.7).
package pubsub

import "github.com/ephemeral-svm/validator/internal/solanatypes"

// Filter is one composable programSubscribe predicate; a record matches
// a subscription iff every configured Filter matches.
type Filter interface {
	Match(account solanatypes.Account) bool
}

// DataSize matches accounts whose data is exactly N bytes long.
type DataSize int

func (f DataSize) Match(account solanatypes.Account) bool {
	return account.DataLen() == int(f)
}

// Memcmp matches accounts whose data, starting at Offset, has Bytes as
// a prefix. An account shorter than Offset+len(Bytes) never matches.
type Memcmp struct {
	Offset int
	Bytes  []byte
}

func (f Memcmp) Match(account solanatypes.Account) bool {
	if f.Offset < 0 || f.Offset+len(f.Bytes) > len(account.Data) {
		return false
	}
	data := account.Data[f.Offset : f.Offset+len(f.Bytes)]
	for i, b := range f.Bytes {
		if data[i] != b {
			return false
		}
	}
	return true
}

// MatchAll reports whether account satisfies every filter; an empty
// filter set matches unconditionally.
func MatchAll(filters []Filter, account solanatypes.Account) bool {
	for _, f := range filters {
		if !f.Match(account) {
			return false
		}
	}
	return true
}
