//go:build !unix

package ledger

import "go.uber.org/zap"

func raiseOpenFileLimit(log *zap.Logger) error {
	log.Debug("open-file limit raising is a no-op on this platform")
	return nil
}
