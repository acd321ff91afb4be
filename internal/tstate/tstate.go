// Package tstate defines the thread lifecycle state machine shared by the
// thread-queue, run-queue, and scheduler-core packages (spec §4.4). It is a
// deliberately tiny leaf package — holding only the enum and the
// classification predicates the other packages need — so that the
// thread-queue package can validate sleep states without importing the
// scheduler-core package that drives them, and vice versa.
package tstate

// State is a thread's lifecycle state.
type State int32

const (
	// Unused means the thread slot holds no live thread (never created, or
	// reaped).
	Unused State = iota
	// Uninterruptible is the initial state on creation: parked, not yet
	// runnable, not woken by signals.
	Uninterruptible
	// Interruptible is a sleep that an asynchronous wake (signal-like) can
	// abort with -EINTR.
	Interruptible
	// Killable is a sleep that only a kill-class wake can abort.
	Killable
	// TimerSleep is a sleep that only a timer-wake can abort.
	TimerSleep
	// Stopped models job-control style stop (wakeable only by an explicit
	// continue).
	Stopped
	// OnChan is the state used by sleep_on_chan's coarse collapse.
	OnChan
	// Running means the thread may execute user code: it is either
	// currently executing or is runnable/on a run queue.
	Running
	// Wakening is the intermediate state set by a waker between its CAS and
	// the thread actually being requeued; pick_next transitions it to
	// Running.
	Wakening
	// Zombie means the thread has exited and is awaiting reap.
	Zombie
)

func (s State) String() string {
	switch s {
	case Unused:
		return "UNUSED"
	case Uninterruptible:
		return "UNINTERRUPTIBLE"
	case Interruptible:
		return "INTERRUPTIBLE"
	case Killable:
		return "KILLABLE"
	case TimerSleep:
		return "TIMER"
	case Stopped:
		return "STOPPED"
	case OnChan:
		return "ONCHAN"
	case Running:
		return "RUNNING"
	case Wakening:
		return "WAKENING"
	case Zombie:
		return "ZOMBIE"
	default:
		return "INVALID"
	}
}

// IsSleeping reports whether s is one of the sleeping variants that
// tqueue.WaitInState accepts (spec §4.2 "Sleep-state constraint").
func IsSleeping(s State) bool {
	switch s {
	case Uninterruptible, Interruptible, Killable, TimerSleep, Stopped, OnChan:
		return true
	default:
		return false
	}
}

// WakeKind identifies which wakeup entry point is being used, since each
// accepts a different set of "currently wakeable" source states (spec
// §4.4 step 2).
type WakeKind int

const (
	WakeInterruptibleOnly WakeKind = iota
	WakeKillableOnly
	WakeTimerOnly
	WakeUnconditionalKind
)

// Wakeable reports whether a thread currently in state s may be woken by a
// wake call of the given kind. Unconditional wakes accept any sleeping
// state; for Running, Wakening, Zombie and Unused every kind reports
// false, so the wake changes nothing.
func Wakeable(s State, kind WakeKind) bool {
	switch kind {
	case WakeInterruptibleOnly:
		return s == Interruptible
	case WakeKillableOnly:
		return s == Killable || s == Interruptible
	case WakeTimerOnly:
		return s == TimerSleep
	case WakeUnconditionalKind:
		return IsSleeping(s)
	default:
		return false
	}
}
