// Package registry implements the Object Registry (OR) of spec §4.5: a
// hashed map over (major, minor) keys with golden-ratio multiplicative
// hashing, chained buckets published RCU-style through internal/epoch, and
// an external writer lock serializing mutation. Readers never block and
// never take the writer lock; their safety comes entirely from the epoch
// reclaimer's grace-period guarantee.
package registry

import (
	"sync"
	"sync/atomic"

	"github.com/rcukernel/corekernel/internal/epoch"
	"github.com/rcukernel/corekernel/internal/kerr"
	"github.com/rcukernel/corekernel/internal/klog"
)

// poisonPattern overwrites a freed entry's identity field once its grace
// period completes, so a reader that wrongly dereferences it after leaving
// its critical section can be caught (spec §9, "Use-after-free detection
// in tests").
const poisonPattern = 0xDEADBEEF

// Key identifies a registered object by (major, minor) device-style pair.
type Key struct {
	Major, Minor uint32
}

// Entry is one registered object's bucket-chain node. Entries are never
// mutated in place except for identity (poisoned post-reclamation) and
// refcount; key and value are write-once.
type Entry struct {
	key      Key
	value    any
	identity atomic.Uint32
	refcount atomic.Int32
	next     atomic.Pointer[Entry]
}

// Key returns the entry's registration key.
func (e *Entry) Key() Key { return e.key }

// Value returns the registered value. It panics if the entry has already
// been reclaimed and poisoned -- this is the use-after-free assertion
// spec §8 scenario 2 exercises, meant to fire only when a caller holds a
// reference past the reader section (or refcount) that should have kept
// the entry alive.
func (e *Entry) Value() any {
	if e.identity.Load() == poisonPattern {
		kerr.Fatalf("registry: use-after-free: entry for key %+v was already reclaimed", e.key)
	}
	return e.value
}

// Registry is the hashed object table.
type Registry struct {
	buckets []atomic.Pointer[Entry]
	mask    uint64

	writerMu sync.RWMutex
	er       *epoch.Reclaimer
	log      klog.Logger
}

// New constructs a Registry with at least nbuckets slots (rounded up to a
// power of two), reclaiming unregistered entries through er.
func New(nbuckets int, er *epoch.Reclaimer) *Registry {
	n := nextPowerOfTwo(nbuckets)
	return &Registry{
		buckets: make([]atomic.Pointer[Entry], n),
		mask:    uint64(n - 1),
		er:      er,
		log:     klog.For("registry"),
	}
}

func nextPowerOfTwo(n int) int {
	if n < 1 {
		n = 1
	}
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// fibonacciConstant is the 64-bit golden-ratio multiplier used for
// Fibonacci (golden-ratio multiplicative) hashing: floor(2^64 / phi).
const fibonacciConstant = 0x9E3779B97F4A7C15

func (r *Registry) hash(k Key) uint64 {
	x := uint64(k.Major)<<32 | uint64(k.Minor)
	x *= fibonacciConstant
	return (x >> 32) & r.mask
}

// Register inserts a new entry for key, returning kerr.Busy if key is
// already registered (spec §7, "Busy (double registration...)").
func (r *Registry) Register(key Key, value any) (*Entry, error) {
	r.writerMu.Lock()
	defer r.writerMu.Unlock()

	idx := r.hash(key)
	for e := r.buckets[idx].Load(); e != nil; e = e.next.Load() {
		if e.key == key {
			return nil, kerr.New(kerr.Busy, "registry: key already registered")
		}
	}

	e := &Entry{key: key, value: value}
	e.identity.Store(1)
	e.refcount.Store(1)
	e.next.Store(r.buckets[idx].Load())
	epoch.Publish(&r.buckets[idx], e)
	return e, nil
}

// Unregister atomically unlinks the entry for key from its bucket chain
// (publishing the new head/predecessor link) and defers its poisoning and
// release until the current grace period completes. Returns kerr.NotFound
// if key is not registered.
func (r *Registry) Unregister(key Key) error {
	r.writerMu.Lock()
	idx := r.hash(key)
	var prev *Entry
	cur := r.buckets[idx].Load()
	for cur != nil {
		if cur.key == key {
			next := cur.next.Load()
			if prev == nil {
				epoch.Publish(&r.buckets[idx], next)
			} else {
				epoch.Publish(&prev.next, next)
			}
			r.writerMu.Unlock()
			r.deferPoison(cur)
			return nil
		}
		prev = cur
		cur = cur.next.Load()
	}
	r.writerMu.Unlock()
	return kerr.New(kerr.NotFound, "registry: unregister of unregistered key")
}

func (r *Registry) deferPoison(e *Entry) {
	r.er.Defer(0, func(a any) {
		ent := a.(*Entry)
		ent.identity.Store(poisonPattern)
	}, e)
}

// Lookup walks the bucket chain for key using RCU consume semantics. The
// caller must already hold an open reader section (epoch.Reclaimer's
// ReaderEnter/ReaderLeave) around this call and any subsequent use of the
// returned Entry, per spec §4.5's contract: "Lookup under reader_enter
// returns a pointer valid through reader_leave."
func (r *Registry) Lookup(key Key) (*Entry, bool) {
	idx := r.hash(key)
	for e := epoch.Consume(&r.buckets[idx]); e != nil; e = epoch.Consume(&e.next) {
		if e.key == key {
			return e, true
		}
	}
	return nil, false
}

// Reference increments e's refcount, extending its validity beyond the
// reader section that obtained it (spec §4.5 contract invariant).
func (r *Registry) Reference(e *Entry) { e.refcount.Add(1) }

// Release decrements e's refcount, scheduling destruction through the
// epoch reclaimer once it reaches zero.
func (r *Registry) Release(e *Entry) {
	if e.refcount.Add(-1) == 0 {
		r.deferPoison(e)
	}
}
