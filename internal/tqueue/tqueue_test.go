package tqueue

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/rcukernel/corekernel/internal/kerr"
	"github.com/rcukernel/corekernel/internal/tstate"
)

type fakeWaiter struct {
	id    int
	node  TNode
	state tstate.State
}

func (w *fakeWaiter) Node() *TNode           { return &w.node }
func (w *fakeWaiter) State() tstate.State    { return w.state }
func (w *fakeWaiter) SetState(s tstate.State) { w.state = s }

func newWaiter(id int) *fakeWaiter { return &fakeWaiter{id: id} }

func TestListQueueFIFO(t *testing.T) {
	q := NewListQueue()
	a, b, c := newWaiter(1), newWaiter(2), newWaiter(3)
	require.NoError(t, q.Push(a))
	require.NoError(t, q.Push(b))
	require.NoError(t, q.Push(c))
	require.Equal(t, 3, q.Size())
	require.Equal(t, a, q.First())

	require.Equal(t, a, q.Pop())
	require.Equal(t, b, q.Pop())
	require.Equal(t, c, q.Pop())
	require.Nil(t, q.Pop())
	require.Zero(t, q.Size())
}

func TestListQueueRemoveMiddle(t *testing.T) {
	q := NewListQueue()
	a, b, c := newWaiter(1), newWaiter(2), newWaiter(3)
	require.NoError(t, q.Push(a))
	require.NoError(t, q.Push(b))
	require.NoError(t, q.Push(c))
	q.Remove(b)
	require.Equal(t, 2, q.Size())
	require.Equal(t, a, q.Pop())
	require.Equal(t, c, q.Pop())
	require.Equal(t, TagNone, b.node.Tag)
}

func TestListQueueDoubleEnqueueFatal(t *testing.T) {
	q := NewListQueue()
	a := newWaiter(1)
	require.NoError(t, q.Push(a))
	require.Panics(t, func() { _ = q.Push(a) })
}

func TestListQueueBulkMove(t *testing.T) {
	src, dst := NewListQueue(), NewListQueue()
	a, b := newWaiter(1), newWaiter(2)
	require.NoError(t, src.Push(a))
	require.NoError(t, src.Push(b))
	require.NoError(t, BulkMove(dst, src))
	require.Zero(t, src.Size())
	require.Equal(t, 2, dst.Size())
	require.Equal(t, a, dst.Pop())
	require.Equal(t, b, dst.Pop())
}

func TestListQueueBulkMoveBusyOnNonEmptyDest(t *testing.T) {
	src, dst := NewListQueue(), NewListQueue()
	a, b := newWaiter(1), newWaiter(2)
	require.NoError(t, src.Push(a))
	require.NoError(t, dst.Push(b))

	err := BulkMove(dst, src)
	require.Error(t, err)
	require.True(t, kerr.Is(err, kerr.Busy))
	require.Equal(t, 1, src.Size(), "failed bulk_move must not disturb src")
}

func TestTreeQueueOrdering(t *testing.T) {
	tr := NewTreeQueue()
	w10a := newWaiter(1)
	w10b := newWaiter(2)
	w20 := newWaiter(3)
	w30 := newWaiter(4)
	require.NoError(t, tr.Add(w10a, 10))
	require.NoError(t, tr.Add(w10b, 10))
	require.NoError(t, tr.Add(w20, 20))
	require.NoError(t, tr.Add(w30, 30))
	require.Equal(t, 4, tr.Size())

	k, ok := tr.MinKey()
	require.True(t, ok)
	require.EqualValues(t, 10, k)
}

// TestTreeQueueInOrderTraversalMatchesKeyOrder walks the whole tree via
// First/Next and diffs the resulting key sequence against the expected
// ascending order with go-cmp, catching any structural break in the
// in-order walk that a single MinKey() check would miss.
func TestTreeQueueInOrderTraversalMatchesKeyOrder(t *testing.T) {
	tr := NewTreeQueue()
	w10a, w10b, w20, w30 := newWaiter(1), newWaiter(2), newWaiter(3), newWaiter(4)
	require.NoError(t, tr.Add(w30, 30))
	require.NoError(t, tr.Add(w10a, 10))
	require.NoError(t, tr.Add(w20, 20))
	require.NoError(t, tr.Add(w10b, 10))

	var got []uint64
	for w := tr.First(); w != nil; w = tr.Next(w) {
		got = append(got, w.Node().Key)
	}
	want := []uint64{10, 10, 20, 30}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("in-order key sequence mismatch (-want +got):\n%s", diff)
	}
}

func TestTreeQueueWakeMatchingKey(t *testing.T) {
	tr := NewTreeQueue()
	w10a, w10b, w20, w30 := newWaiter(1), newWaiter(2), newWaiter(3), newWaiter(4)
	require.NoError(t, tr.Add(w10a, 10))
	require.NoError(t, tr.Add(w10b, 10))
	require.NoError(t, tr.Add(w20, 20))
	require.NoError(t, tr.Add(w30, 30))

	woken := WakeMatchingKey(tr, 10, nil, "payload")
	require.Len(t, woken, 2)
	require.Equal(t, 2, tr.Size())

	k, ok := tr.MinKey()
	require.True(t, ok)
	require.EqualValues(t, 20, k)
}

func TestTreeQueueRemoveEveryOtherNode(t *testing.T) {
	tr := NewTreeQueue()
	var ws []*fakeWaiter
	for i := 0; i < 200; i++ {
		w := newWaiter(i)
		require.NoError(t, tr.Add(w, uint64(i)))
		ws = append(ws, w)
	}
	require.Equal(t, 200, tr.Size())
	for i := 0; i < 200; i += 2 {
		tr.Remove(ws[i])
	}
	require.Equal(t, 100, tr.Size())
	k, ok := tr.MinKey()
	require.True(t, ok)
	require.EqualValues(t, 1, k)
}

func TestWaitInStateRejectsNonSleepState(t *testing.T) {
	q := NewListQueue()
	w := newWaiter(1)
	err := WaitInState(q, w, tstate.Running, 0, Hooks{Yield: func() {}})
	require.Error(t, err)
}

func TestWaitInStateNormalWake(t *testing.T) {
	q := NewListQueue()
	w := newWaiter(1)
	yielded := false
	err := WaitInState(q, w, tstate.Interruptible, 0, Hooks{
		Yield: func() {
			yielded = true
			// Simulate a waker completing before this call returns.
			WakeOne(q, nil, "hi")
		},
	})
	require.True(t, yielded)
	require.NoError(t, err)
	require.Equal(t, "hi", w.node.Payload)
}

func TestWaitInStateAsyncWakeSelfRemoves(t *testing.T) {
	q := NewListQueue()
	w := newWaiter(1)
	err := WaitInState(q, w, tstate.Interruptible, 0, Hooks{
		Yield: func() {
			// The waiter is still enqueued when Yield returns: simulate a
			// scheduler pick that resumed it without going through a wake.
		},
	})
	require.NoError(t, err)
	require.Equal(t, TagNone, w.node.Tag)
}
