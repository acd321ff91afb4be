// Package runqueue implements the per-CPU run queue (RQ) of spec §4.3: an
// array of priority-class queues picked in O(1) via a two-layer bitmask,
// plus a lock-free cross-CPU wake list for threads still mid
// context-switch.
package runqueue

import "github.com/rcukernel/corekernel/internal/sched"

// NumClasses bounds the number of priority classes addressable by the
// two-layer bitmask: an 8-bit top mask over 8 groups of 8 bits each.
const NumClasses = 64

// Built-in priority-class ids. Lower ids are higher priority, per spec §8
// property 4 ("the lowest-numbered non-empty priority class").
const (
	ClassFIFO = 0
	ClassIdle = NumClasses - 1
)

// ClassQueue is the virtual table a priority class implements (spec §3,
// "Priority-class rq... consumed via a virtual-table of operations").
// Built-in classes are idleQueue and fifoQueue below; each run queue on
// each CPU constructs its own instance per class, rather than sharing one
// process-wide singleton across CPUs -- this is the one deliberate
// deviation from the design note suggesting "concrete classes are static
// singletons" (see DESIGN.md): giving every (CPU, class) pair its own
// queue instance removes the need for every vtable method to additionally
// take a CPU index, at the cost of one small allocation per CPU at boot.
type ClassQueue interface {
	Enqueue(se *sched.SE)
	Dequeue(se *sched.SE)
	PickNext() *sched.SE
	PutPrev(se *sched.SE)
	SetNext(se *sched.SE)
	TaskTick(se *sched.SE)
	TaskFork(parent, child *sched.SE)
	TaskDead(se *sched.SE)
	YieldTask(se *sched.SE)
	Empty() bool
}
