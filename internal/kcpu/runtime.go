package kcpu

import "runtime"

// currentGOMAXPROCS reports the Go runtime's current GOMAXPROCS value,
// which after kcpu.Init has run reflects the quota-adjusted value set by
// automaxprocs.
func currentGOMAXPROCS() int {
	return runtime.GOMAXPROCS(0)
}
