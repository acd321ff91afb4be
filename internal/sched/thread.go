package sched

import (
	"sync/atomic"

	"github.com/rcukernel/corekernel/internal/kerr"
	"github.com/rcukernel/corekernel/internal/tqueue"
	"github.com/rcukernel/corekernel/internal/tstate"
)

// MaxPID bounds thread identity, per spec §3 ("unique small integer, range
// [2,MAXPID)").
const MaxPID = 1 << 16

// Thread is a scheduled unit (spec §3). Exactly one of {in a run queue, in
// a wait structure, running on some CPU, zombie awaiting reap, unused}
// holds at any instant; that invariant is enforced by SE.OnRQ/OnCPU and the
// State machine together, not by a single field.
type Thread struct {
	ID   int32
	Name string

	// Stack is the owned kernel stack, allocated by NewThread with the
	// size its caller passes.
	Stack []byte

	// Regs is an opaque saved register-state record; its layout is
	// external to this spec (spec §6, utrapframe).
	Regs any

	SE *SE

	state   atomic.Int32 // tstate.State, accessed via the helpers below
	ExitStatus int32

	Parent      *Thread
	Children    []*Thread
	GroupLeader *Thread // non-nil only for CLONE_THREAD-style group members

	// WaitNode is this thread's intrusive handle into whichever wait
	// container (list or tree) it is currently sleeping in.
	WaitNode tqueue.TNode

	// roNesting is this thread's epoch-reclaimer reader nesting counter
	// (spec §4.1: "per-thread, not per-CPU, so a reader may migrate
	// safely").
	roNesting int32
}

// NewThread allocates a detached thread: created but not yet attached to a
// parent or published in any registry (spec §3 lifecycle).
func NewThread(id int32, name string, stackSize int) *Thread {
	if id < 2 || id >= MaxPID {
		kerr.Fatalf("sched: thread id %d out of range [2, MaxPID)", id)
	}
	t := &Thread{
		ID:    id,
		Name:  name,
		Stack: make([]byte, stackSize),
		SE:    &SE{},
	}
	t.SE.Owner = t
	t.state.Store(int32(tstate.Uninterruptible))
	return t
}

// State returns the thread's current lifecycle state.
func (t *Thread) State() tstate.State {
	return tstate.State(t.state.Load())
}

// SetState unconditionally stores a new state.
func (t *Thread) SetState(s tstate.State) {
	t.state.Store(int32(s))
}

// CompareAndSwapState atomically transitions the state from old to new,
// returning whether it succeeded. This is the primitive the wakeup
// protocol uses (spec §4.4 step 5/6: "CAS state to WAKENING").
func (t *Thread) CompareAndSwapState(old, new tstate.State) bool {
	return t.state.CompareAndSwap(int32(old), int32(new))
}

// Node returns this thread's wait-queue node, satisfying tqueue.Waiter.
func (t *Thread) Node() *tqueue.TNode { return &t.WaitNode }

// ReaderNesting returns a pointer to this thread's ER reader-nesting
// counter, for epoch.Reclaimer.ReaderEnter/ReaderLeave.
func (t *Thread) ReaderNesting() *int32 { return &t.roNesting }
