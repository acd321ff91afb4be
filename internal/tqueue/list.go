package tqueue

import "github.com/rcukernel/corekernel/internal/kerr"

// ListQueue is a FIFO wait container: a doubly-linked intrusive list of
// TNodes, oldest at the head. Unlike the teacher's lock-free
// Michael-Scott list (grounded on in internal/runqueue's wake list, which
// only ever needs push/pop-all), this flavor must support O(1) removal of
// an arbitrary node — a sleeping thread can be dequeued out of order by a
// timeout or an asynchronous signal — which a lock-free MS-queue cannot do
// without hazard pointers or epoch-based reclamation of the node itself.
// Since every operation already runs under the caller's external spinlock
// (spec §4.2), a plain locked doubly-linked list gets the same O(1)
// push/pop and adds O(1) arbitrary removal for free.
type ListQueue struct {
	head, tail *TNode
	size       int
}

// NewListQueue returns an empty list queue.
func NewListQueue() *ListQueue { return &ListQueue{} }

// Size returns the number of waiters currently enqueued.
func (q *ListQueue) Size() int { return q.size }

// Push enqueues w at the tail.
func (q *ListQueue) Push(w Waiter) error {
	n := w.Node()
	if n.Tag != TagNone {
		kerr.Fatalf("tqueue: double-enqueue of a node already tagged %v", n.Tag)
	}
	n.Tag = TagList
	n.container = q
	n.listOwner = w
	n.listPrev, n.listNext = q.tail, nil
	if q.tail != nil {
		q.tail.listNext = n
	} else {
		q.head = n
	}
	q.tail = n
	q.size++
	return nil
}

func (q *ListQueue) enqueue(w Waiter, _ uint64) { _ = q.Push(w) }

// Pop removes and returns the oldest waiter, or nil if empty.
func (q *ListQueue) Pop() Waiter {
	n := q.head
	if n == nil {
		return nil
	}
	q.unlink(n)
	return n.listOwner
}

// First returns the oldest waiter without removing it.
func (q *ListQueue) First() Waiter {
	if q.head == nil {
		return nil
	}
	return q.head.listOwner
}

// Remove detaches w's node from the queue, wherever it sits. It is a no-op
// if w is not currently enqueued here.
func (q *ListQueue) Remove(w Waiter) {
	n := w.Node()
	if n.Tag != TagList || n.container != q {
		return
	}
	q.unlink(n)
}

func (q *ListQueue) remove(w Waiter) { q.Remove(w) }

func (q *ListQueue) unlink(n *TNode) {
	if n.listPrev != nil {
		n.listPrev.listNext = n.listNext
	} else {
		q.head = n.listNext
	}
	if n.listNext != nil {
		n.listNext.listPrev = n.listPrev
	} else {
		q.tail = n.listPrev
	}
	q.size--
	if q.size < 0 {
		kerr.Fatalf("tqueue: list size underflow")
	}
	n.reset()
}

// BulkMove splices every waiter out of src and into dst, in O(1) for the
// splice plus O(n) to fix up each moved node's container back-pointer
// (spec §4.2 "bulk_move"). dst must be empty-compatible with src's
// ordering (both are FIFO, so this simply appends in order).
func BulkMove(dst, src *ListQueue) error {
	if src.size == 0 {
		return nil
	}
	if dst.size != 0 {
		return kerr.New(kerr.Busy, "tqueue: bulk_move destination is not empty")
	}
	for n := src.head; n != nil; n = n.listNext {
		n.container = dst
	}
	if dst.tail == nil {
		dst.head = src.head
	} else {
		dst.tail.listNext = src.head
		src.head.listPrev = dst.tail
	}
	dst.tail = src.tail
	dst.size += src.size
	src.head, src.tail, src.size = nil, nil, 0
	return nil
}
