package runqueue

import "github.com/rcukernel/corekernel/internal/sched"

// fifoQueue is the built-in FIFO priority class: simple intrusive
// doubly-linked list of SEs, in arrival order, round-robin on each tick.
type fifoQueue struct {
	head, tail *sched.SE
	n          int
}

// NewFIFOClass constructs a fresh FIFO class queue instance.
func NewFIFOClass() ClassQueue { return &fifoQueue{} }

func (q *fifoQueue) Enqueue(se *sched.SE) {
	se.RQPrev, se.RQNext = q.tail, nil
	if q.tail != nil {
		q.tail.RQNext = se
	} else {
		q.head = se
	}
	q.tail = se
	q.n++
}

func (q *fifoQueue) Dequeue(se *sched.SE) {
	if se.RQPrev != nil {
		se.RQPrev.RQNext = se.RQNext
	} else if q.head == se {
		q.head = se.RQNext
	}
	if se.RQNext != nil {
		se.RQNext.RQPrev = se.RQPrev
	} else if q.tail == se {
		q.tail = se.RQPrev
	}
	se.RQPrev, se.RQNext = nil, nil
	if q.n > 0 {
		q.n--
	}
}

func (q *fifoQueue) PickNext() *sched.SE { return q.head }

func (q *fifoQueue) PutPrev(se *sched.SE) {}

func (q *fifoQueue) SetNext(se *sched.SE) {}

// TaskTick implements simple round-robin: move the running SE to the back
// of its class's list so the next equal-priority thread gets a turn.
func (q *fifoQueue) TaskTick(se *sched.SE) {
	if q.head == se && q.tail != se {
		q.Dequeue(se)
		q.Enqueue(se)
	}
}

func (q *fifoQueue) TaskFork(parent, child *sched.SE) {
	child.Priority = parent.Priority
	child.Affinity = parent.Affinity
}

func (q *fifoQueue) TaskDead(se *sched.SE) {}

func (q *fifoQueue) YieldTask(se *sched.SE) {
	if q.head == se && q.tail != se {
		q.Dequeue(se)
		q.Enqueue(se)
	}
}

func (q *fifoQueue) Empty() bool { return q.n == 0 }
