package runqueue

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/rcukernel/corekernel/internal/sched"
)

func newSE(class, tiebreak int) *sched.SE {
	return &sched.SE{Priority: sched.MakePriority(class, tiebreak)}
}

func TestRQPickNextPrefersLowestNonEmptyClass(t *testing.T) {
	rq := New(0)
	low := newSE(ClassFIFO, 0)
	high := newSE(5, 0)
	rq.RegisterClass(5, NewFIFOClass())

	rq.Enqueue(high)
	require.Equal(t, high, rq.PickNext(), "only class 5 populated, idle otherwise empty")

	rq.Enqueue(low)
	require.Equal(t, low, rq.PickNext(), "class 0 has higher priority (lower number) than class 5")
}

func TestRQPickNextFallsBackToIdle(t *testing.T) {
	rq := New(0)
	require.Equal(t, rq.Idle(), rq.PickNext())
}

func TestRQBitmaskClearedOnLastDequeue(t *testing.T) {
	rq := New(0)
	a := newSE(ClassFIFO, 0)
	b := newSE(ClassFIFO, 1)
	rq.Enqueue(a)
	rq.Enqueue(b)
	require.NotZero(t, rq.top)

	rq.Dequeue(a)
	require.NotZero(t, rq.top, "class still non-empty, bit must stay set")

	rq.Dequeue(b)
	require.Zero(t, rq.top, "last dequeue from class must clear the bitmask bit")
	require.Equal(t, rq.Idle(), rq.PickNext())
}

func TestRQCurrentThreadHigherPrioritySkipsPick(t *testing.T) {
	rq := New(0)
	rq.RegisterClass(5, NewFIFOClass())

	cur := newSE(ClassFIFO, 0)
	rq.SetCurrent(cur)

	lower := newSE(5, 0)
	rq.Enqueue(lower)

	require.Equal(t, cur, rq.PickNext(), "running thread has strictly higher priority than the only ready class")
}

func TestRQCurrentThreadLowerPriorityYieldsPick(t *testing.T) {
	rq := New(0)
	rq.RegisterClass(5, NewFIFOClass())

	cur := newSE(5, 0)
	rq.SetCurrent(cur)

	higher := newSE(ClassFIFO, 0)
	rq.Enqueue(higher)

	require.Equal(t, higher, rq.PickNext())
}

func TestRQRegisterClassOverOccupiedSlotFatal(t *testing.T) {
	rq := New(0)
	require.Panics(t, func() {
		rq.RegisterClass(ClassFIFO, NewFIFOClass())
	})
}

func TestRQEnqueueUnregisteredClassFatal(t *testing.T) {
	rq := New(0)
	se := newSE(7, 0)
	require.Panics(t, func() {
		rq.Enqueue(se)
	})
}

func TestRQEnqueueSetsCPUAndOnRQ(t *testing.T) {
	rq := New(3)
	se := newSE(ClassFIFO, 0)
	rq.Enqueue(se)
	require.True(t, se.OnRQ())
	require.Equal(t, 3, se.CPUID())
	require.Equal(t, rq, se.RQ)

	rq.Dequeue(se)
	require.False(t, se.OnRQ())
	require.Nil(t, se.RQ)
}

func TestWakeListLIFOOrder(t *testing.T) {
	rq := New(0)
	a, b, c := newSE(0, 1), newSE(0, 2), newSE(0, 3)
	rq.PushWake(a)
	rq.PushWake(b)
	rq.PushWake(c)

	drained := rq.DrainWake()
	require.Equal(t, []*sched.SE{c, b, a}, drained)
	require.Nil(t, rq.DrainWake(), "drain empties the list")

	// Re-drive the same push sequence and diff the tie-break order with
	// go-cmp, projected to plain ints since *sched.SE carries unexported
	// atomic fields cmp can't walk directly.
	rq2 := New(0)
	rq2.PushWake(a)
	rq2.PushWake(b)
	rq2.PushWake(c)
	var gotOrder []int
	for _, se := range rq2.DrainWake() {
		gotOrder = append(gotOrder, se.Tiebreak())
	}
	wantOrder := []int{3, 2, 1}
	if diff := cmp.Diff(wantOrder, gotOrder); diff != "" {
		t.Fatalf("wake list drain order mismatch (-want +got):\n%s", diff)
	}
}

func TestWakeListConcurrentPushDrain(t *testing.T) {
	rq := New(0)
	const n = 200
	ses := make([]*sched.SE, n)
	for i := range ses {
		ses[i] = newSE(0, i)
	}

	done := make(chan struct{})
	for _, se := range ses {
		se := se
		go func() {
			rq.PushWake(se)
		}()
	}
	go func() { close(done) }()
	<-done

	// Drain repeatedly until every pushed SE has been observed: goroutines
	// above may still be mid-push when the first drain runs.
	seen := make(map[*sched.SE]bool, n)
	for len(seen) < n {
		for _, se := range rq.DrainWake() {
			seen[se] = true
		}
	}
	require.Len(t, seen, n)
}

func TestSelectTaskRQPrefersCurrentCPU(t *testing.T) {
	rqs := []*RQ{New(0), New(1), New(2)}
	se := newSE(ClassFIFO, 0)
	se.Affinity = ^uint64(0)
	se.SetCPUID(1)

	got := SelectTaskRQ(se, rqs, 0b111)
	require.Equal(t, 1, got)
}

func TestSelectTaskRQRespectsAffinity(t *testing.T) {
	rqs := []*RQ{New(0), New(1), New(2)}
	se := newSE(ClassFIFO, 0)
	se.Affinity = 1 << 2 // only CPU 2 allowed
	se.SetCPUID(0)

	got := SelectTaskRQ(se, rqs, 0b111)
	require.Equal(t, 2, got)
}

func TestFIFOClassRoundRobinsOnTick(t *testing.T) {
	q := NewFIFOClass()
	a, b := newSE(ClassFIFO, 0), newSE(ClassFIFO, 1)
	q.Enqueue(a)
	q.Enqueue(b)
	require.Equal(t, a, q.PickNext())

	q.TaskTick(a)
	require.Equal(t, b, q.PickNext(), "tick moves the running head to the back")
}

func TestIdleClassAlwaysReady(t *testing.T) {
	idle := newSE(ClassIdle, 0)
	q := NewIdleClass(idle)
	require.False(t, q.Empty())
	require.Equal(t, idle, q.PickNext())
	q.Dequeue(idle)
	require.Equal(t, idle, q.PickNext(), "idle class ignores dequeue")
}
