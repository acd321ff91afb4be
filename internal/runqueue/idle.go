package runqueue

import "github.com/rcukernel/corekernel/internal/sched"

// idleQueue is the built-in idle class: a single fixed occupant, the
// CPU's idle thread, which is always ready (spec §5, "always 'ready' so
// the priority pick never fails"). Enqueue/Dequeue are no-ops: the idle
// SE is never actually removed from readiness.
type idleQueue struct {
	idle *sched.SE
}

// NewIdleClass constructs the idle class queue pinned to idle.
func NewIdleClass(idle *sched.SE) ClassQueue { return &idleQueue{idle: idle} }

func (q *idleQueue) Enqueue(se *sched.SE) {}
func (q *idleQueue) Dequeue(se *sched.SE) {}
func (q *idleQueue) PickNext() *sched.SE  { return q.idle }
func (q *idleQueue) PutPrev(se *sched.SE) {}
func (q *idleQueue) SetNext(se *sched.SE) {}
func (q *idleQueue) TaskTick(se *sched.SE) {}
func (q *idleQueue) TaskFork(parent, child *sched.SE) {}
func (q *idleQueue) TaskDead(se *sched.SE) {}
func (q *idleQueue) YieldTask(se *sched.SE) {}

// Empty always reports false: the idle class is the "last resort pick"
// that must never fail to produce a thread.
func (q *idleQueue) Empty() bool { return false }
