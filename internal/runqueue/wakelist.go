package runqueue

import (
	"sync/atomic"

	"github.com/rcukernel/corekernel/internal/sched"
)

// wakeList is the per-CPU lock-free wake list of spec §4.3: "a lock-free
// singly-linked LIFO of SEs, used to hand a thread to a CPU without taking
// that CPU's run-queue lock." It is a Treiber stack built directly over
// sched.SE.WakeNext, adapting the CAS-retry-loop idiom the teacher's
// lock-free queue (list.go) uses for its own singly-linked structure --
// the ordering here is LIFO rather than the teacher's FIFO, since the spec
// calls for a stack, not a queue (see DESIGN.md).
type wakeList struct {
	head atomic.Pointer[sched.SE]
}

// push adds se to the top of the wake list. Safe to call without holding
// the RQ lock; this is the whole point of the structure.
func (w *wakeList) push(se *sched.SE) {
	for {
		old := w.head.Load()
		se.WakeNext.Store(old)
		if w.head.CompareAndSwap(old, se) {
			return
		}
	}
}

// drain atomically detaches the entire list and returns its elements,
// most-recently-pushed first (LIFO order, per spec §4.3).
func (w *wakeList) drain() []*sched.SE {
	var top *sched.SE
	for {
		old := w.head.Load()
		if old == nil {
			return nil
		}
		if w.head.CompareAndSwap(old, nil) {
			top = old
			break
		}
	}
	var out []*sched.SE
	for n := top; n != nil; {
		next := n.WakeNext.Load()
		n.WakeNext.Store(nil)
		out = append(out, n)
		n = next
	}
	return out
}

// PushWake hands se to this CPU's wake list without acquiring rq.Lock.
func (rq *RQ) PushWake(se *sched.SE) { rq.wake.push(se) }

// DrainWake atomically empties this CPU's wake list, returning the SEs
// most-recently-pushed first. Needs no lock; the scheduler core calls it
// before taking rq.Lock (in Yield and ContextSwitchFinish) and then enqueues
// the returned SEs under the lock, so that threads handed off via the wake
// list are folded back into the ordinary enqueue path (spec
// §4.3, "drained and enqueued the ordinary way at the next reschedule").
func (rq *RQ) DrainWake() []*sched.SE { return rq.wake.drain() }
