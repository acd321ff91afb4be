package epoch

import "sync/atomic"

// Publish atomically stores v into slot with release ordering, per spec
// §4.1's publish/consume contract: "publish is an atomic store with release
// ordering". Go's atomic.Pointer already provides the needed ordering on
// every supported architecture.
func Publish[T any](slot *atomic.Pointer[T], v *T) {
	slot.Store(v)
}

// Consume atomically loads slot with acquire-or-stronger ordering, the
// counterpart to Publish. A value obtained through Consume inside a reader
// critical section (ReaderEnter/ReaderLeave) remains dereferenceable for
// the remainder of that section, per spec §8 property 7.
func Consume[T any](slot *atomic.Pointer[T]) *T {
	return slot.Load()
}
