//go:build linux

package pool

import (
	"runtime"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// applyPriority pins a non-normal worker to its OS thread and renices that
// thread. The thread dies with the goroutine, so the niceness never leaks
// into other goroutines. Raising priority usually needs CAP_SYS_NICE; a
// refusal only costs the hint.
func applyPriority(p Priority, log *zap.Logger) {
	if p == NormPriority {
		return
	}
	runtime.LockOSThread()
	nice := niceFor(p)
	if err := unix.Setpriority(unix.PRIO_PROCESS, unix.Gettid(), nice); err != nil {
		log.Debug("worker priority not applied", zap.Int("priority", int(p)), zap.Int("nice", nice), zap.Error(err))
	}
}

// niceFor maps 1..10 onto nice values: 5 → 0, 10 → -10, 1 → 8.
func niceFor(p Priority) int {
	return int(NormPriority-p) * 2
}
