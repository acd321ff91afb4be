package scheduler

import (
	"context"

	"github.com/rcukernel/corekernel/internal/kerr"
	"github.com/rcukernel/corekernel/internal/sched"
	"github.com/rcukernel/corekernel/internal/tstate"
)

// EntryFunc is a kernel thread's user-supplied body; its return value is
// the thread's exit status.
type EntryFunc func(arg any) int32

// KernelThreadEntry is the stub every newly created kernel thread begins
// in (spec §4.4, "Kernel-thread entry wrapper"): it moves the thread from
// WAKENING to RUNNING if it is still in WAKENING, records a quiescent
// checkpoint, runs the caller's entry function, and calls Exit with its
// return value on return. fn must not itself call Exit.
func (s *Scheduler) KernelThreadEntry(ctx context.Context, cpu int, t *sched.Thread, fn EntryFunc, arg any) {
	t.CompareAndSwapState(tstate.Wakening, tstate.Running)
	s.er.QuiescentCheckpoint(cpu, *t.ReaderNesting())
	status := fn(arg)
	s.Exit(ctx, cpu, t, status)
}

// Exit implements spec §4.4's exit path: wakes the parent unconditionally,
// reparents any children to init, transitions to ZOMBIE, then yields
// forever (the calling goroutine never returns from Exit on a real
// context-switching kernel; here it returns after the final yield since
// there is no lower-level trap frame to not return to).
func (s *Scheduler) Exit(ctx context.Context, cpu int, t *sched.Thread, status int32) {
	t.ExitStatus = status

	if t.Parent != nil {
		_ = s.WakeUnconditional(t, t.Parent)
	}

	if init := findInit(t); init != nil {
		for _, c := range t.Children {
			c.Parent = init
			init.Children = append(init.Children, c)
		}
	}
	t.Children = nil

	t.SetState(tstate.Zombie)
	s.Yield(ctx, cpu, t)
}

// findInit walks up the parent chain to the root thread, which this core
// treats as "init" whatever its pid. It returns nil if t has no parent.
func findInit(t *sched.Thread) *sched.Thread {
	p := t.Parent
	for p != nil && p.Parent != nil {
		p = p.Parent
	}
	return p
}

// Wait implements spec §4.4's reap pattern: blocks (spinning briefly, then
// falling back to yielding) until one of parent's children is a ZOMBIE,
// then detaches and reaps it, deferring its kernel stack free through the
// epoch reclaimer (spec: "Thread destruction defers kernel-stack free
// through the epoch reclaimer"). Returns the reaped child and its exit
// status, or nil if parent has no children.
func (s *Scheduler) Wait(ctx context.Context, cpu int, parent *sched.Thread) (*sched.Thread, int32) {
	if len(parent.Children) == 0 {
		return nil, 0
	}

	parent.SetState(tstate.Interruptible)
	var zombie *sched.Thread
	const spinBudget = 1000
	spins := 0
	for zombie == nil {
		for _, c := range parent.Children {
			if c.State() == tstate.Zombie {
				zombie = c
				break
			}
		}
		if zombie != nil {
			break
		}
		spins++
		if spins < spinBudget {
			continue
		}
		s.Yield(ctx, cpu, parent)
	}
	parent.CompareAndSwapState(tstate.Interruptible, tstate.Running)

	// Spin briefly (bounded fallback to yield) until the child's on_cpu==0.
	spins = 0
	for zombie.SE.OnCPU() {
		spins++
		if spins >= spinBudget {
			s.Yield(ctx, cpu, parent)
			spins = 0
		}
	}

	s.detachChild(parent, zombie)
	status := zombie.ExitStatus
	s.reap(zombie)
	return zombie, status
}

func (s *Scheduler) detachChild(parent, child *sched.Thread) {
	kept := parent.Children[:0]
	for _, c := range parent.Children {
		if c != child {
			kept = append(kept, c)
		}
	}
	parent.Children = kept
}

// reap destroys a zombie thread, deferring its kernel stack's release
// until the current grace period completes.
func (s *Scheduler) reap(t *sched.Thread) {
	stack := t.Stack
	t.Stack = nil
	t.SetState(tstate.Unused)
	s.er.Defer(0, func(any) {
		_ = stack // released to the GC once every reader has quiesced
	}, nil)
}

// yieldPreconditions asserts spec §4.4's "Yield preconditions": must not
// run in interrupt context, noff must be zero, spinDepth must equal
// exactly the locks the scheduler itself holds. Violations are fatal.
func yieldPreconditions(inInterrupt bool, noff, spinDepth, schedulerHeldLocks int) {
	if inInterrupt {
		kerr.Fatalf("scheduler: yield called from interrupt context")
	}
	if noff != 0 {
		kerr.Fatalf("scheduler: yield called with noff=%d (preempt-off nested)", noff)
	}
	if spinDepth != schedulerHeldLocks {
		kerr.Fatalf("scheduler: yield called with spin_depth=%d, want %d", spinDepth, schedulerHeldLocks)
	}
}

// AssertYieldPreconditions is the exported check callers (typically a
// simulated trap/syscall dispatcher) run immediately before calling Yield.
func AssertYieldPreconditions(inInterrupt bool, noff, spinDepth int) {
	yieldPreconditions(inInterrupt, noff, spinDepth, 0)
}
