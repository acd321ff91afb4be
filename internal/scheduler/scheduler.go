// Package scheduler implements the Scheduler Core (SC) orchestration of
// spec §4.4: the thread-state machine transitions, the yield/context-switch
// path, and the wakeup protocol. It is the layer that ties together
// internal/sched's data types, internal/runqueue's per-CPU containers,
// internal/tqueue's sleep queues, internal/tstate's state enum, and
// internal/epoch's quiescence tracking -- each of which stays a narrower
// leaf package specifically so this one can depend on all of them without
// creating an import cycle.
package scheduler

import (
	"context"
	"sync"
	"unsafe"

	"github.com/rcukernel/corekernel/internal/epoch"
	"github.com/rcukernel/corekernel/internal/kconfig"
	"github.com/rcukernel/corekernel/internal/kerr"
	"github.com/rcukernel/corekernel/internal/klog"
	"github.com/rcukernel/corekernel/internal/runqueue"
	"github.com/rcukernel/corekernel/internal/sched"
	"github.com/rcukernel/corekernel/internal/tqueue"
	"github.com/rcukernel/corekernel/internal/tstate"
)

// Scheduler holds the run queues, the channel-sleep tree, and the timer
// list the SC orchestration layer drives. One Scheduler per kernel
// instance.
type Scheduler struct {
	rqs []*runqueue.RQ
	er  *epoch.Reclaimer
	cfg kconfig.SchedConfig
	log klog.Logger
	now func() int64

	chanLock sync.Mutex
	chanQ    *tqueue.TreeQueue

	timerMu sync.Mutex
	timers  []*timerEntry
}

type timerEntry struct {
	deadline int64
	thread   *sched.Thread
}

// New constructs a Scheduler over rqs (one per CPU, indexed by CPU id). now
// is the same monotonic_tick source (spec §6) the Reclaimer uses.
func New(rqs []*runqueue.RQ, er *epoch.Reclaimer, cfg kconfig.SchedConfig, now func() int64) *Scheduler {
	return &Scheduler{
		rqs:   rqs,
		er:    er,
		cfg:   cfg,
		log:   klog.For("scheduler"),
		now:   now,
		chanQ: tqueue.NewTreeQueue(),
	}
}

func (s *Scheduler) activeMask() uint64 {
	if len(s.rqs) >= 64 {
		return ^uint64(0)
	}
	return (uint64(1) << uint(len(s.rqs))) - 1
}

// lockOrder returns a and b ordered by ascending address, so callers
// acquiring both always do so in a consistent order (spec §4.4 step 3:
// "acquire both RQ locks in address-order").
func lockOrder(a, b *runqueue.RQ) (*runqueue.RQ, *runqueue.RQ) {
	if a == b {
		return a, nil
	}
	if uintptr(unsafe.Pointer(a)) < uintptr(unsafe.Pointer(b)) {
		return a, b
	}
	return b, a
}

func lockBoth(a, b *runqueue.RQ) {
	first, second := lockOrder(a, b)
	first.Lock.Lock()
	if second != nil {
		second.Lock.Lock()
	}
}

func unlockBoth(a, b *runqueue.RQ) {
	first, second := lockOrder(a, b)
	if second != nil {
		second.Lock.Unlock()
	}
	first.Lock.Unlock()
}

// Wake runs the wakeup protocol of spec §4.4 against t, with async err
// carried into the waiter's wait node on a successful wake (for aborting
// an interruptible sleep). waker identifies the calling thread, or nil for
// a non-thread caller (e.g. an interrupt handler or test); when waker == t
// this takes the lock-free waker-self-case path.
func (s *Scheduler) Wake(waker, t *sched.Thread, kind tstate.WakeKind, asyncErr error) error {
	if waker == t {
		old := t.State()
		if !tstate.Wakeable(old, kind) {
			return kerr.New(kerr.NotFound, "scheduler: wake target not in a wakeable state")
		}
		t.SetState(tstate.Running)
		return nil
	}

	se := t.SE
	se.Lock()
	defer se.Unlock()

	old := t.State()
	if !tstate.Wakeable(old, kind) {
		return kerr.New(kerr.NotFound, "scheduler: wake target not in a wakeable state")
	}
	if asyncErr != nil {
		t.WaitNode.Err = asyncErr
	}

	origin := se.CPUID()
	if origin < 0 || origin >= len(s.rqs) {
		origin = 0
	}
	target := runqueue.SelectTaskRQ(se, s.rqs, s.activeMask())
	originRQ, targetRQ := s.rqs[origin], s.rqs[target]

	lockBoth(originRQ, targetRQ)
	for se.CPUID() != origin {
		// Thread migrated since we read origin; retry with fresh locks.
		unlockBoth(originRQ, targetRQ)
		origin = se.CPUID()
		if origin < 0 || origin >= len(s.rqs) {
			origin = 0
		}
		target = runqueue.SelectTaskRQ(se, s.rqs, s.activeMask())
		originRQ, targetRQ = s.rqs[origin], s.rqs[target]
		lockBoth(originRQ, targetRQ)
	}
	defer unlockBoth(originRQ, targetRQ)

	if se.OnRQ() {
		t.SetState(tstate.Running)
		return nil
	}
	if se.OnCPU() {
		if !t.CompareAndSwapState(old, tstate.Wakening) {
			return kerr.New(kerr.NotFound, "scheduler: wake target state changed under us")
		}
		originRQ.PushWake(se)
		s.log.Debug("reschedule IPI", "cpu", origin, "thread", t.ID)
		return nil
	}
	if !t.CompareAndSwapState(old, tstate.Wakening) {
		return kerr.New(kerr.NotFound, "scheduler: wake target state changed under us")
	}
	targetRQ.Enqueue(se)
	return nil
}

// WakeInterruptible wakes t only if it is in an Interruptible sleep.
func (s *Scheduler) WakeInterruptible(waker, t *sched.Thread) error {
	return s.Wake(waker, t, tstate.WakeInterruptibleOnly, nil)
}

// WakeKillable wakes t if it is in a Killable or Interruptible sleep.
func (s *Scheduler) WakeKillable(waker, t *sched.Thread) error {
	return s.Wake(waker, t, tstate.WakeKillableOnly, nil)
}

// WakeTimer wakes t if it is sleeping on a timer.
func (s *Scheduler) WakeTimer(waker, t *sched.Thread) error {
	return s.Wake(waker, t, tstate.WakeTimerOnly, nil)
}

// WakeUnconditional wakes t out of any sleeping state.
func (s *Scheduler) WakeUnconditional(waker, t *sched.Thread) error {
	return s.Wake(waker, t, tstate.WakeUnconditionalKind, nil)
}

// WakeAsyncInterrupted aborts an interruptible sleep with kerr.Interrupted,
// the async-cancellation path of spec §5 ("Cancellation & timeouts").
func (s *Scheduler) WakeAsyncInterrupted(waker, t *sched.Thread) error {
	return s.Wake(waker, t, tstate.WakeInterruptibleOnly, kerr.New(kerr.Interrupted, "scheduler: sleep interrupted"))
}

// ContextSwitchPrepare marks next as physically executing under the RQ
// lock, the first half of the context-switch boundary (spec §4.4).
func (s *Scheduler) ContextSwitchPrepare(next *sched.Thread) {
	if next == nil {
		return
	}
	next.SE.SetOnCPU(true)
}

// ContextSwitchFinish runs on the new stack, per spec §4.4: re-enqueues
// prev if it is still RUNNING, or leaves it dequeued if it is sleeping;
// either way clears prev's on_cpu, then records a quiescent checkpoint for
// cpu (prev's reader nesting was necessarily zero to have reached here),
// then drains and folds in anything handed to this CPU's wake list while
// the switch was in flight.
func (s *Scheduler) ContextSwitchFinish(cpu int, prev *sched.Thread) {
	rq := s.rqs[cpu]
	var nesting int32
	if prev != nil {
		rq.Lock.Lock()
		if prev.State() == tstate.Running {
			rq.Enqueue(prev.SE)
		}
		rq.Lock.Unlock()
		prev.SE.SetOnCPU(false)
		nesting = *prev.ReaderNesting()
	}
	s.er.QuiescentCheckpoint(cpu, nesting)

	drained := rq.DrainWake()
	if len(drained) == 0 {
		return
	}
	rq.Lock.Lock()
	for _, se := range drained {
		// Left in Wakening; pick_next transitions to Running once actually
		// selected (spec §4.4: "WAKENING is transitioned to RUNNING" only
		// then, not at enqueue time).
		rq.Enqueue(se)
	}
	rq.Lock.Unlock()
}

// Yield implements spec §4.4's yield/pick_next path for the calling
// thread cur on cpu. It drains expired timers and detaches the wake list
// before acquiring the RQ lock, enqueues the detached SEs under the lock,
// picks the next thread,
// and if that is cur itself (nothing else runnable) aborts the sleep and
// restores cur to RUNNING. Otherwise it runs the two-phase context switch
// and returns the thread that was actually switched to.
func (s *Scheduler) Yield(ctx context.Context, cpu int, cur *sched.Thread) *sched.Thread {
	s.drainExpiredTimers()
	rq := s.rqs[cpu]
	drained := rq.DrainWake()

	rq.Lock.Lock()
	for _, se := range drained {
		rq.Enqueue(se)
	}
	next := rq.PickNext()
	if next == cur.SE {
		rq.Lock.Unlock()
		cur.SetState(tstate.Running)
		return cur
	}
	rq.Dequeue(next)
	rq.SetCurrent(next)
	rq.Lock.Unlock()

	nt := nextThread(next)
	s.ContextSwitchPrepare(nt)
	if nt != nil {
		nt.CompareAndSwapState(tstate.Wakening, tstate.Running)
	}
	s.ContextSwitchFinish(cpu, cur)
	return nt
}

func nextThread(se *sched.SE) *sched.Thread {
	t, _ := se.Owner.(*sched.Thread)
	return t
}

// drainExpiredTimers wakes every thread whose timer has expired.
func (s *Scheduler) drainExpiredTimers() {
	now := s.now()
	s.timerMu.Lock()
	var expired []*timerEntry
	remaining := s.timers[:0]
	for _, te := range s.timers {
		if te.deadline <= now {
			expired = append(expired, te)
		} else {
			remaining = append(remaining, te)
		}
	}
	s.timers = remaining
	s.timerMu.Unlock()

	for _, te := range expired {
		_ = s.WakeTimer(nil, te.thread)
	}
}

// ArmTimer schedules t to be woken once deadline (in the same tick domain
// as monotonic_tick, spec §6) has passed.
func (s *Scheduler) ArmTimer(t *sched.Thread, deadline int64) {
	s.timerMu.Lock()
	s.timers = append(s.timers, &timerEntry{deadline: deadline, thread: t})
	s.timerMu.Unlock()
}

// SleepOnChan implements spec §4.4's coarse channel-sleep collapse: one
// global tree queue keyed by the pointer identity of ptr. sleepCB/wakeCB
// are the caller's external-lock release/reacquire hooks (spec §4.2,
// "sleep_cb, wake_cb make lock handoff explicit"); pass nil for either if
// the caller holds no such lock.
func (s *Scheduler) SleepOnChan(ctx context.Context, cpu int, t *sched.Thread, ptr unsafe.Pointer, sleepCB, wakeCB func()) error {
	key := uint64(uintptr(ptr))
	hooks := tqueue.Hooks{
		SleepCB: sleepCB,
		WakeCB:  wakeCB,
		Yield:   func() { s.Yield(ctx, cpu, t) },
	}
	return tqueue.WaitInState(s.chanQ, t, tstate.OnChan, key, hooks)
}

// WakeOnChan wakes every waiter sleeping on ptr.
func (s *Scheduler) WakeOnChan(waker *sched.Thread, ptr unsafe.Pointer) []tqueue.Waiter {
	key := uint64(uintptr(ptr))
	s.chanLock.Lock()
	woken := tqueue.WakeMatchingKey(s.chanQ, key, nil, nil)
	s.chanLock.Unlock()
	for _, w := range woken {
		if t, ok := w.(*sched.Thread); ok {
			_ = s.WakeUnconditional(waker, t)
		}
	}
	return woken
}
