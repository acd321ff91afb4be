// Package tqueue implements the sleeping-thread queues of spec §4.2: a
// FIFO list queue and a key-ordered tree queue, both built around a
// per-thread intrusive node (TNode), with a shared WaitInState algorithm
// that enqueues, yields, and on resume self-removes if still enqueued.
//
// Neither container owns or references a lock: every operation runs under
// an external lock that the caller holds around it, so a caller can
// atomically test a predicate and sleep (spec §4.2, "External lock").
package tqueue

import (
	"github.com/rcukernel/corekernel/internal/kerr"
	"github.com/rcukernel/corekernel/internal/tstate"
)

// Tag discriminates which container flavor a TNode is currently attached
// to, if any.
type Tag int

const (
	TagNone Tag = iota
	TagList
	TagTree
)

// Waiter is the minimal view WaitInState needs of the sleeping thread: its
// own wait-queue node and a way to observe/set its lifecycle state. The
// scheduler-core package's Thread type implements this.
type Waiter interface {
	Node() *TNode
	State() tstate.State
	SetState(tstate.State)
}

// TNode is a thread's intrusive handle into a wait container (spec's
// "Sleep-queue Node"). A TNode is in at most one container at a time; Tag
// always accurately reflects that.
type TNode struct {
	Tag     Tag
	Err     error // per-wait error, e.g. kerr.Interrupted on async wake
	Payload any   // waker-supplied payload, copied out to WaitInState's caller

	Key uint64 // valid only when Tag == TagTree

	// container back-pointer and flavor-specific links; unexported so only
	// this package mutates the intrusive structure.
	container any
	listPrev  *TNode
	listNext  *TNode
	listOwner Waiter

	treeLeft, treeRight, treeParent *TNode
	treeRed                         bool
	treeOwner                       Waiter
}

// reset clears a node back to its detached state.
func (n *TNode) reset() {
	n.Tag = TagNone
	n.Err = nil
	n.Payload = nil
	n.container = nil
	n.listPrev, n.listNext, n.listOwner = nil, nil, nil
	n.treeLeft, n.treeRight, n.treeParent, n.treeOwner = nil, nil, nil, nil
	n.treeRed = false
}

// Hooks bundle the sleep/wake callbacks and the yield function WaitInState
// drives a sleeping thread through. SleepCB typically releases the
// caller's external lock; WakeCB typically re-acquires it. Yield must
// return control once the waiter has been scheduled back in (spec §4.2).
type Hooks struct {
	SleepCB func()
	WakeCB  func()
	Yield   func()
}

// WaitInState puts w into sleepState (which must satisfy
// tstate.IsSleeping), enqueues it onto q, runs the sleep/yield/wake sequence, and
// returns the waiter's resulting error: nil on normal wake, a non-nil
// *kerr.Error with kerr.Interrupted on async wake, or whatever error the
// waker supplied.
//
// container abstracts over *ListQueue and *TreeQueue; both satisfy it.
func WaitInState(q container, w Waiter, sleepState tstate.State, key uint64, hooks Hooks) error {
	if !tstate.IsSleeping(sleepState) {
		return kerr.New(kerr.InvalidArgument, "tqueue: state is not a sleeping state")
	}
	w.SetState(sleepState)
	q.enqueue(w, key)

	if hooks.SleepCB != nil {
		hooks.SleepCB()
	}
	hooks.Yield()
	if hooks.WakeCB != nil {
		hooks.WakeCB()
	}

	// If the waiter is still enqueued on resume, it was scheduled back in
	// asynchronously (not via a wake that already dequeued it); self-remove.
	// Err is read before the removal, which resets the node.
	n := w.Node()
	err := n.Err
	if n.Tag != TagNone {
		q.remove(w)
	}
	n.Err = nil
	return err
}

// container is the shared surface ListQueue and TreeQueue expose to
// WaitInState. Every exported method on both flavors expects the caller to
// already hold whatever external spinlock guards the structure, matching
// spec §4.2.
type container interface {
	enqueue(w Waiter, key uint64)
	remove(w Waiter)
}
