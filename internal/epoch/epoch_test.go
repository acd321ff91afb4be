package epoch

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rcukernel/corekernel/internal/kconfig"
)

func testClock() func() int64 {
	var t int64
	return func() int64 { return atomic.AddInt64(&t, 1) }
}

func TestPublishConsumeRoundTrip(t *testing.T) {
	var slot atomic.Pointer[int]
	v := 42
	Publish(&slot, &v)
	require.Equal(t, 42, *Consume(&slot))
}

func TestReaderNestingBalanced(t *testing.T) {
	r := New(1, kconfig.Default().ER, testClock())
	var nesting int32
	r.ReaderEnter(&nesting)
	r.ReaderEnter(&nesting)
	require.EqualValues(t, 2, nesting)
	r.ReaderLeave(&nesting)
	r.ReaderLeave(&nesting)
	require.EqualValues(t, 0, nesting)
}

func TestReaderNestingUnderflowFatal(t *testing.T) {
	r := New(1, kconfig.Default().ER, testClock())
	var nesting int32
	require.Panics(t, func() { r.ReaderLeave(&nesting) })
}

func TestSingleCPUFastPathCallbackRunsImmediately(t *testing.T) {
	cfg := kconfig.Default().ER
	r := New(1, cfg, testClock())
	done := make(chan struct{})
	r.Defer(0, func(any) { close(done) }, nil)
	r.Barrier()
	select {
	case <-done:
	default:
		t.Fatal("callback should have run immediately on the single-CPU fast path")
	}
}

func TestCallbackWaitsForOtherCPUQuiescence(t *testing.T) {
	cfg := kconfig.Default().ER
	r := New(2, cfg, testClock())
	ran := make(chan struct{}, 1)
	r.Defer(0, func(any) { ran <- struct{}{} }, nil)

	// CPU 1 has never checkpointed: the callback must not be eligible yet.
	r.Barrier()
	select {
	case <-ran:
		t.Fatal("callback ran before the other CPU ever recorded a quiescent timestamp")
	default:
	}

	// Now CPU 1 checkpoints at a tick after the callback's registration.
	r.QuiescentCheckpoint(1, 0)
	r.Barrier()
	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("callback never ran after the other CPU went quiescent")
	}
}

func TestQuiescentCheckpointIgnoredWhileNested(t *testing.T) {
	cfg := kconfig.Default().ER
	r := New(1, cfg, testClock())
	r.QuiescentCheckpoint(0, 1) // nonzero nesting: must not advance
	require.Zero(t, r.cpus[0].lastQuiescent.Load())
	r.QuiescentCheckpoint(0, 0)
	require.NotZero(t, r.cpus[0].lastQuiescent.Load())
}

func TestWaitQuiescentCompletesOnSingleCPU(t *testing.T) {
	cfg := kconfig.Default().ER
	r := New(1, cfg, testClock())
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, r.WaitQuiescent(ctx))
}

func TestWaitQuiescentExpedited(t *testing.T) {
	cfg := kconfig.Default().ER
	cfg.Expedited = true
	cfg.WatchdogSpins = 1000
	r := New(1, cfg, testClock())
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, r.WaitQuiescent(ctx))
}

func TestPanickingCallbackIsFatal(t *testing.T) {
	cfg := kconfig.Default().ER
	r := New(1, cfg, testClock())
	r.Defer(0, func(any) { panic("boom") }, nil)
	require.Panics(t, func() { r.Barrier() })
}

func TestMaxNestingStaysLinear(t *testing.T) {
	r := New(1, kconfig.Default().ER, testClock())
	var nesting int32
	for i := 0; i < 256; i++ {
		r.ReaderEnter(&nesting)
	}
	require.EqualValues(t, 256, nesting)
	for i := 0; i < 256; i++ {
		r.ReaderLeave(&nesting)
	}
	require.Zero(t, nesting)
}
