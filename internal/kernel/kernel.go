// Package kernel wires together the epoch reclaimer, the per-CPU run
// queues, the object registry, and the scheduler core into one runnable
// kernel instance, and supervises the per-CPU tick loops with
// golang.org/x/sync/errgroup so a panicking tick loop tears down the whole
// simulated SMP set instead of leaking goroutines.
package kernel

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rcukernel/corekernel/internal/epoch"
	"github.com/rcukernel/corekernel/internal/kconfig"
	"github.com/rcukernel/corekernel/internal/kcpu"
	"github.com/rcukernel/corekernel/internal/kerr"
	"github.com/rcukernel/corekernel/internal/klog"
	"github.com/rcukernel/corekernel/internal/registry"
	"github.com/rcukernel/corekernel/internal/runqueue"
	"github.com/rcukernel/corekernel/internal/sched"
	"github.com/rcukernel/corekernel/internal/scheduler"
	"github.com/rcukernel/corekernel/internal/tstate"
)

// Kernel is one fully-wired simulated kernel instance.
type Kernel struct {
	cfg kconfig.Config
	log klog.Logger

	er  *epoch.Reclaimer
	rqs []*runqueue.RQ
	reg *registry.Registry
	sc  *scheduler.Scheduler

	idleThreads []*sched.Thread
}

// monotonicNow is the tick source wired into both the reclaimer and the
// scheduler (spec §6, "monotonic_tick()"): wall-clock nanoseconds is a
// faithful enough stand-in for a simulation that never reorders its own
// reads.
func monotonicNow() int64 { return time.Now().UnixNano() }

// New wires a Kernel from cfg. If cfg.CPUCount is 0, the logical CPU count
// comes from kcpu.Count() (spec §2.4's SMP bring-up).
func New(cfg kconfig.Config) *Kernel {
	kcpu.Init()
	ncpus := cfg.CPUCount
	if ncpus <= 0 {
		ncpus = kcpu.Count()
	}

	er := epoch.New(ncpus, cfg.ER, monotonicNow)
	rqs := make([]*runqueue.RQ, ncpus)
	idles := make([]*sched.Thread, ncpus)
	for i := range rqs {
		rqs[i] = runqueue.New(i)
		idle := sched.NewThread(int32(2+i), "idle", 0)
		idle.SE = rqs[i].Idle()
		idle.SE.Owner = idle
		idle.SE.Affinity = 1 << uint(i)
		idles[i] = idle
	}

	reg := registry.New(64, er)
	sc := scheduler.New(rqs, er, cfg.Sched, monotonicNow)

	return &Kernel{
		cfg:         cfg,
		log:         klog.For("kernel"),
		er:          er,
		rqs:         rqs,
		reg:         reg,
		sc:          sc,
		idleThreads: idles,
	}
}

// Reclaimer exposes the wired epoch reclaimer.
func (k *Kernel) Reclaimer() *epoch.Reclaimer { return k.er }

// Scheduler exposes the wired scheduler core.
func (k *Kernel) Scheduler() *scheduler.Scheduler { return k.sc }

// Registry exposes the wired object registry.
func (k *Kernel) Registry() *registry.Registry { return k.reg }

// RunQueue returns the run queue for the given CPU.
func (k *Kernel) RunQueue(cpu int) *runqueue.RQ { return k.rqs[cpu] }

// NumCPU returns the configured logical CPU count.
func (k *Kernel) NumCPU() int { return len(k.rqs) }

// Run starts the epoch reclaimer's background workers (stopped again when
// Run returns) and one per-CPU tick loop per CPU. The tick loops are
// supervised by an errgroup: if any of them returns an error (or panics --
// recovered and converted to a *kerr.Error of kind kerr.Fatal), every other
// tick loop is canceled via ctx and Run returns that error. The reclaimer
// workers are not part of the group. Run blocks until ctx is done or a
// tick loop fails.
func (k *Kernel) Run(ctx context.Context) error {
	k.er.Start()
	defer k.er.Stop()

	g, gctx := errgroup.WithContext(ctx)
	tick := k.cfg.Sched.TickInterval()
	if tick <= 0 {
		tick = 10 * time.Millisecond
	}

	for cpu := range k.rqs {
		cpu := cpu
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = kerr.Wrap(kerr.Fatal, "kernel: cpu tick loop panicked", asError(r))
				}
			}()
			return k.tickLoop(gctx, cpu, tick)
		})
	}

	return g.Wait()
}

func asError(r any) error {
	if e, ok := r.(error); ok {
		return e
	}
	return kerr.New(kerr.Fatal, "kernel: non-error panic value")
}

// tickLoop simulates the periodic timer interrupt driving task_tick and
// idle-time yields for one CPU.
func (k *Kernel) tickLoop(ctx context.Context, cpu int, interval time.Duration) error {
	t := time.NewTicker(interval)
	defer t.Stop()
	rq := k.rqs[cpu]
	idle := k.idleThreads[cpu]
	if rq.Current() == nil {
		rq.SetCurrent(idle.SE)
		idle.SE.SetOnCPU(true)
		idle.SetState(tstate.Running)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			rq.Tick()
		}
	}
}
