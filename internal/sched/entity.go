// Package sched holds the scheduling entity (SE) and thread data structures
// shared between the run-queue and scheduler-core packages (spec §3). It
// deliberately knows nothing about how a run queue stores threads by
// priority class (that lives in internal/runqueue, which imports this
// package) so that this package stays a leaf that depends only on
// internal/tstate, internal/tqueue and internal/kerr.
package sched

import (
	"sync"
	"sync/atomic"
)

// RQHandle is the minimal view of a run queue container that a
// scheduling entity needs to reference: just enough to identify it. The
// concrete type (internal/runqueue.RQ) is never imported here.
type RQHandle interface {
	CPUID() int
}

// SE is a thread's scheduling entity (spec §3). Priority packs a 6-bit
// priority class in the high bits and a tie-break value in the low bits,
// matching the run queue's two-layer bitmask, which addresses up to 64
// priority classes.
type SE struct {
	// piLock is the "priority-inheritance lock" of spec §4.4 step 1,
	// serializing racing wakers. It is orthogonal to, and always acquired
	// before, any run-queue lock (spec §5 locking discipline).
	piLock sync.Mutex

	Priority uint16 // bits [15:10]=class (0-63), bits [9:0]=tie-break
	Affinity uint64 // CPU affinity bitmap

	// RQ is the scheduling entity's current run queue, or nil. Mutated
	// only while holding RQ's own lock (spec §3 SE invariant).
	RQ RQHandle

	cpuID atomic.Int32
	onRQ  atomic.Bool
	onCPU atomic.Bool

	// WakeNext links this SE into a run queue's lock-free wake list; owned
	// entirely by internal/runqueue.
	WakeNext atomic.Pointer[SE]

	// Owner is the Thread this SE belongs to, for callers that reach an SE
	// first (e.g. while walking a run queue) and need to get back to the
	// thread.
	Owner any

	// RQPrev/RQNext are generic intrusive links a priority class's queue
	// implementation may use to thread this SE into its own structure.
	// Only one class ever owns an SE at a time (the same "at most one
	// container" invariant tqueue.TNode enforces), so reusing one pair of
	// link fields across every built-in class is safe.
	RQPrev, RQNext *SE
}

// PriorityClass returns the 0-63 priority class encoded in Priority.
func (se *SE) PriorityClass() int { return int(se.Priority >> 10) }

// Tiebreak returns the intra-class tie-break value encoded in Priority.
func (se *SE) Tiebreak() int { return int(se.Priority & 0x3FF) }

// MakePriority packs a (class, tiebreak) pair the way Priority stores it.
func MakePriority(class, tiebreak int) uint16 {
	return uint16(class&0x3F)<<10 | uint16(tiebreak&0x3FF)
}

// Lock acquires the priority-inheritance lock.
func (se *SE) Lock() { se.piLock.Lock() }

// Unlock releases the priority-inheritance lock.
func (se *SE) Unlock() { se.piLock.Unlock() }

// CPUID returns the CPU this SE currently resides on (meaningful only
// while OnRQ or OnCPU is true).
func (se *SE) CPUID() int { return int(se.cpuID.Load()) }

// SetCPUID stores the owning CPU id with release ordering.
func (se *SE) SetCPUID(cpu int) { se.cpuID.Store(int32(cpu)) }

// OnRQ reports whether this SE is logically queued on some run queue.
func (se *SE) OnRQ() bool { return se.onRQ.Load() }

// SetOnRQ sets the on_rq flag. Callers must hold the owning RQ's lock.
func (se *SE) SetOnRQ(v bool) { se.onRQ.Store(v) }

// OnCPU reports whether this SE is physically executing (mid
// context-switch counts as executing for wake-protocol purposes).
func (se *SE) OnCPU() bool { return se.onCPU.Load() }

// SetOnCPU sets the on_cpu flag.
func (se *SE) SetOnCPU(v bool) { se.onCPU.Store(v) }
