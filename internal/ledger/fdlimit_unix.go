//go:build unix

package ledger

import (
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// wantOpenFiles is the floor this process tries to raise RLIMIT_NOFILE
// to. An mdbx-backed ledger plus an mmap accounts store can each hold a
// large number of file descriptors open under load; spec §4.2's
// "File-handle policy" calls for raising the soft limit toward the hard
// limit at startup and logging (or failing) if that is not possible.
const wantOpenFiles = 65536

func raiseOpenFileLimit(log *zap.Logger) error {
	var rlim unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &rlim); err != nil {
		return fmt.Errorf("getrlimit: %w", err)
	}
	target := uint64(wantOpenFiles)
	if rlim.Max < target {
		target = rlim.Max
	}
	if rlim.Cur >= target {
		return nil
	}
	prev := rlim.Cur
	rlim.Cur = target
	if err := unix.Setrlimit(unix.RLIMIT_NOFILE, &rlim); err != nil {
		return fmt.Errorf("setrlimit: %w", err)
	}
	log.Info("raised open-file limit", zap.Uint64("from", prev), zap.Uint64("to", target))
	return nil
}
