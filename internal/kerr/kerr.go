// Package kerr defines the error-kind taxonomy shared across the kernel
// core: epoch reclamation, thread queues, run queues, the scheduler, and the
// object registry all return errors built from these kinds rather than ad
// hoc sentinels, so callers can classify a failure without string matching.
package kerr

import (
	"errors"
	"fmt"
)

// Kind classifies a kernel-core error. See spec §7.
type Kind int

const (
	// InvalidArgument covers null pointers, bad priorities, and wrong queue types.
	InvalidArgument Kind = iota
	// Exhausted covers no-pid-available and allocation failure.
	Exhausted
	// Busy covers double registration and a non-empty bulk-move destination.
	Busy
	// NotFound covers a wake of an absent waiter or a lookup miss.
	NotFound
	// Interrupted covers an asynchronous wake of an interruptible sleep.
	Interrupted
	// WouldBlock covers a failed try-operation.
	WouldBlock
	// Permission covers a refused operation on a device class.
	Permission
	// TypeMismatch covers an operation against the wrong device class.
	TypeMismatch
	// Fatal covers invariant violations: lock-order cycles, unbalanced
	// unlocks, use-after-free detected by poisoning. Fatal errors are never
	// returned to a caller for recovery; they panic.
	Fatal
)

func (k Kind) String() string {
	switch k {
	case InvalidArgument:
		return "invalid_argument"
	case Exhausted:
		return "exhausted"
	case Busy:
		return "busy"
	case NotFound:
		return "not_found"
	case Interrupted:
		return "interrupted"
	case WouldBlock:
		return "would_block"
	case Permission:
		return "permission"
	case TypeMismatch:
		return "type_mismatch"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Error is a kernel-core error carrying a Kind.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap builds an *Error of the given kind, wrapping err.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// Is reports whether err is a kernel-core *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// FatalError is panicked by Fatalf to signal an invariant violation. It is
// never meant to be recovered except at a top-level supervisor boundary
// (cmd/simkernel, or a test's own watchdog).
type FatalError struct {
	Msg string
}

func (e *FatalError) Error() string { return "fatal: " + e.Msg }

// Fatalf formats a message and panics with a *FatalError. Kernel-core
// invariant breaches (lock-order violations, double-enqueue, unbalanced
// unlock) route through here rather than returning an error code, per
// spec §7 ("reclamation and low-level concurrency primitives never
// 'throw'--they panic on invariant violations").
func Fatalf(format string, args ...any) {
	panic(&FatalError{Msg: fmt.Sprintf(format, args...)})
}
