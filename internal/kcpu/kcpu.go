// Package kcpu establishes the simulated SMP width of the kernel: the
// number of logical CPUs the scheduler and epoch reclaimer treat as their
// per-CPU array size. It is grounded on go.uber.org/automaxprocs, which the
// example pack (joeycumines-go-utilpkg) pulls in to make GOMAXPROCS
// quota-aware under cgroups; here it plays the same role a real kernel's
// SMP bring-up does, discovering "how many CPUs do we have" once at start.
package kcpu

import (
	"sync"

	"go.uber.org/automaxprocs/maxprocs"

	"github.com/rcukernel/corekernel/internal/klog"
)

var (
	once  sync.Once
	count int
)

// Init adjusts GOMAXPROCS for the host's CPU quota (mirroring a real
// kernel's CPU discovery at boot) and latches the resulting logical CPU
// count. Safe to call multiple times; only the first call has effect.
func Init() {
	once.Do(func() {
		log := klog.For("kcpu")
		undo, err := maxprocs.Set(maxprocs.Logger(func(format string, a ...any) {
			log.Debug("automaxprocs", "detail", format, "args", a)
		}))
		if err != nil {
			log.Warn("automaxprocs could not adjust GOMAXPROCS", "error", err.Error())
		}
		_ = undo // the kernel simulation runs for the process lifetime; nothing to undo
		count = currentGOMAXPROCS()
		if count < 1 {
			count = 1
		}
	})
}

// Count returns the logical CPU count established by Init. If Init has not
// been called, Count latches the current GOMAXPROCS without the
// automaxprocs adjustment, and a later Init has no effect.
func Count() int {
	once.Do(func() {
		count = currentGOMAXPROCS()
		if count < 1 {
			count = 1
		}
	})
	return count
}

// SetCountForTest overrides the logical CPU count for deterministic tests
// (e.g. forcing the single-CPU fast path or exercising a specific SMP
// width) without touching the real GOMAXPROCS.
func SetCountForTest(n int) func() {
	once.Do(func() {})
	prev := count
	count = n
	return func() { count = prev }
}
