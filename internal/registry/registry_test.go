package registry

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rcukernel/corekernel/internal/epoch"
	"github.com/rcukernel/corekernel/internal/kconfig"
	"github.com/rcukernel/corekernel/internal/kerr"
)

func newTestRegistry(t *testing.T, ncpus int) (*Registry, *epoch.Reclaimer) {
	t.Helper()
	var tick int64
	now := func() int64 { return atomic.AddInt64(&tick, 1) }
	er := epoch.New(ncpus, kconfig.Default().ER, now)
	return New(8, er), er
}

// TestBasicRegisterLookupUnregister is spec §8 scenario 1.
func TestBasicRegisterLookupUnregister(t *testing.T) {
	reg, er := newTestRegistry(t, 1)
	key := Key{Major: 100, Minor: 1}

	e, err := reg.Register(key, "payload")
	require.NoError(t, err)

	var nesting int32
	er.ReaderEnter(&nesting)
	got, ok := reg.Lookup(key)
	require.True(t, ok)
	require.Equal(t, e, got)
	require.Equal(t, "payload", got.Value())
	er.ReaderLeave(&nesting)

	reg.Release(e)
	require.NoError(t, reg.Unregister(key))

	require.NoError(t, er.WaitQuiescent(context.Background()))

	var nesting2 int32
	er.ReaderEnter(&nesting2)
	_, ok = reg.Lookup(key)
	require.False(t, ok)
	er.ReaderLeave(&nesting2)
}

func TestRegisterDuplicateIsBusy(t *testing.T) {
	reg, _ := newTestRegistry(t, 1)
	key := Key{Major: 1, Minor: 1}
	_, err := reg.Register(key, 1)
	require.NoError(t, err)

	_, err = reg.Register(key, 2)
	require.Error(t, err)
	require.True(t, kerr.Is(err, kerr.Busy))
}

func TestUnregisterMissingIsNotFound(t *testing.T) {
	reg, _ := newTestRegistry(t, 1)
	err := reg.Unregister(Key{Major: 9, Minor: 9})
	require.Error(t, err)
	require.True(t, kerr.Is(err, kerr.NotFound))
}

// TestInFlightReaderSurvivesUnregister is spec §8 scenario 3: a reader
// that obtained a pointer before unregister still sees a valid object for
// the rest of its own critical section, and only after leaving and
// waiting for a grace period does the object actually disappear.
func TestInFlightReaderSurvivesUnregister(t *testing.T) {
	reg, er := newTestRegistry(t, 1)
	key := Key{Major: 120, Minor: 1}
	e, err := reg.Register(key, "alive")
	require.NoError(t, err)

	var nesting int32
	er.ReaderEnter(&nesting)
	got, ok := reg.Lookup(key)
	require.True(t, ok)
	reg.Reference(got)

	require.NoError(t, reg.Unregister(key))

	// Still within the reader section: dereferencing must not panic.
	require.Equal(t, "alive", got.Value())
	er.ReaderLeave(&nesting)

	reg.Release(got)
	require.NoError(t, er.WaitQuiescent(context.Background()))

	var nesting2 int32
	er.ReaderEnter(&nesting2)
	_, ok = reg.Lookup(key)
	require.False(t, ok)
	er.ReaderLeave(&nesting2)
}

// TestConcurrentReadersVsWriter is spec §8 scenario 2: 4 reader threads
// each perform many lookups of the same key while a writer repeatedly
// re-registers it; no mismatched values, no use-after-free.
func TestConcurrentReadersVsWriter(t *testing.T) {
	reg, er := newTestRegistry(t, 4)
	er.Start()
	defer er.Stop()
	key := Key{Major: 101, Minor: 1}
	_, err := reg.Register(key, "v0")
	require.NoError(t, err)

	const iterations = 1000
	var wg sync.WaitGroup
	stop := make(chan struct{})

	for i := 0; i < 4; i++ {
		wg.Add(1)
		cpu := i
		go func() {
			defer wg.Done()
			var nesting int32
			for j := 0; j < iterations; j++ {
				er.ReaderEnter(&nesting)
				if e, ok := reg.Lookup(key); ok {
					_ = e.Value() // panics (fails the test) on use-after-free
				}
				er.ReaderLeave(&nesting)
				er.QuiescentCheckpoint(cpu, nesting)
			}
		}()
	}

	go func() {
		for {
			select {
			case <-stop:
				return
			default:
			}
			if reg.Unregister(key) == nil {
				_, _ = reg.Register(key, "vN")
			}
		}
	}()

	wg.Wait()
	close(stop)
}
