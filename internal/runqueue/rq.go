package runqueue

import (
	"sync"

	"github.com/rcukernel/corekernel/internal/kerr"
	"github.com/rcukernel/corekernel/internal/klog"
	"github.com/rcukernel/corekernel/internal/sched"
)

// RQ is one CPU's run queue container (spec §3, "Per-CPU RQ container").
type RQ struct {
	// Lock is the RQ spinlock. Exported so the scheduler-core package can
	// acquire it directly for the dual-RQ-lock wakeup protocol (spec §4.4
	// step 3), which must lock two RQs in address order.
	Lock sync.Mutex

	cpu     int
	classes [NumClasses]ClassQueue

	top       uint8
	secondary [8]uint8

	wake wakeList

	current *sched.SE
	idle    *sched.SE

	log klog.Logger
}

// New constructs an RQ for the given CPU id, already populated with the
// built-in idle and fifo classes.
func New(cpu int) *RQ {
	rq := &RQ{cpu: cpu, log: klog.For("runqueue")}
	idleSE := &sched.SE{Priority: sched.MakePriority(ClassIdle, 0)}
	rq.idle = idleSE
	rq.classes[ClassIdle] = NewIdleClass(idleSE)
	rq.classes[ClassFIFO] = NewFIFOClass()
	return rq
}

// CPUID satisfies sched.RQHandle.
func (rq *RQ) CPUID() int { return rq.cpu }

// Idle returns this CPU's idle scheduling entity.
func (rq *RQ) Idle() *sched.SE { return rq.idle }

// Current returns the SE this CPU is currently running, if any.
func (rq *RQ) Current() *sched.SE { return rq.current }

// SetCurrent records the SE this CPU is now running. Caller holds Lock.
func (rq *RQ) SetCurrent(se *sched.SE) { rq.current = se }

// RegisterClass installs cq at classID. Registering over an already
// occupied slot is fatal (spec §4.3, "Registration of a class over an
// occupied slot is fatal").
func (rq *RQ) RegisterClass(classID int, cq ClassQueue) {
	if classID < 0 || classID >= NumClasses {
		kerr.Fatalf("runqueue: class id %d out of range", classID)
	}
	if rq.classes[classID] != nil {
		kerr.Fatalf("runqueue: class id %d already registered", classID)
	}
	rq.classes[classID] = cq
}

func (rq *RQ) setBit(classID int) {
	group := classID / 8
	bit := uint8(1) << uint(classID%8)
	rq.secondary[group] |= bit
	rq.top |= 1 << uint(group)
}

func (rq *RQ) clearBit(classID int) {
	group := classID / 8
	bit := uint8(1) << uint(classID%8)
	rq.secondary[group] &^= bit
	if rq.secondary[group] == 0 {
		rq.top &^= 1 << uint(group)
	}
}

// lowestSetBit returns the index of the lowest set bit in b, or -1 if b is
// zero.
func lowestSetBit(b uint8) int {
	if b == 0 {
		return -1
	}
	for i := 0; i < 8; i++ {
		if b&(1<<uint(i)) != 0 {
			return i
		}
	}
	return -1
}

// Enqueue places se onto the run queue under its priority class. Caller
// must hold Lock. Fatal on an invalid (unregistered) priority class (spec
// §4.3, "invalid priority on enqueue is fatal").
func (rq *RQ) Enqueue(se *sched.SE) {
	classID := se.PriorityClass()
	cq := rq.classes[classID]
	if cq == nil {
		kerr.Fatalf("runqueue: enqueue onto unregistered class %d", classID)
	}
	cq.Enqueue(se)
	se.RQ = rq
	se.SetCPUID(rq.cpu)
	se.SetOnRQ(true)
	if classID != ClassIdle {
		rq.setBit(classID)
	}
}

// Dequeue removes se from the run queue. Caller must hold Lock.
func (rq *RQ) Dequeue(se *sched.SE) {
	classID := se.PriorityClass()
	cq := rq.classes[classID]
	if cq == nil {
		kerr.Fatalf("runqueue: dequeue from unregistered class %d", classID)
	}
	cq.Dequeue(se)
	se.RQ = nil
	se.SetOnRQ(false)
	if classID != ClassIdle && cq.Empty() {
		rq.clearBit(classID)
	}
}

// PickNext selects the next SE to run by spec §4.3's priority-pick
// algorithm, skipping the pick (returning the still-current SE) if the
// currently running thread has strictly higher priority (lower class
// number) than what would be picked. Caller must hold Lock.
func (rq *RQ) PickNext() *sched.SE {
	topID := lowestSetBit(rq.top)
	var classID int
	if topID < 0 {
		classID = ClassIdle
	} else {
		bit := lowestSetBit(rq.secondary[topID])
		if bit < 0 {
			kerr.Fatalf("runqueue: top mask set for empty group %d", topID)
		}
		classID = topID*8 + bit
	}

	// The currently running SE is never itself on_rq (it was dequeued to
	// run); its priority is compared against the best ready class directly.
	if rq.current != nil {
		curClass := rq.current.PriorityClass()
		if curClass < classID {
			return rq.current
		}
	}

	cq := rq.classes[classID]
	if cq == nil {
		kerr.Fatalf("runqueue: pick_next hit unregistered class %d", classID)
	}
	picked := cq.PickNext()
	if picked == nil {
		kerr.Fatalf("runqueue: class %d reported non-empty but pick_next returned nil", classID)
	}
	return picked
}

// Tick drains the running SE's class tick hook.
func (rq *RQ) Tick() {
	if rq.current == nil {
		return
	}
	cq := rq.classes[rq.current.PriorityClass()]
	if cq != nil {
		cq.TaskTick(rq.current)
	}
}

// affinityAllows reports whether se's affinity bitmap permits cpu.
func affinityAllows(se *sched.SE, cpu int) bool {
	if cpu < 0 || cpu >= 64 {
		return false
	}
	return se.Affinity&(1<<uint(cpu)) != 0
}

// SelectTaskRQ picks a target CPU for se among rqs (indexed by CPU id),
// given the bitmask of currently active CPUs (spec §4.3, "CPU selection
// policy"): stay on the CPU se is already associated with if affinity and
// activeMask both allow it, otherwise pick the lowest-numbered active CPU
// se's affinity allows, falling back to CPU 0 if affinity forbids every
// active CPU (spec's documented escape hatch for a misconfigured mask).
func SelectTaskRQ(se *sched.SE, rqs []*RQ, activeMask uint64) int {
	cur := se.CPUID()
	if cur >= 0 && cur < len(rqs) && activeMask&(1<<uint(cur)) != 0 && affinityAllows(se, cur) {
		return cur
	}
	for cpu := 0; cpu < len(rqs); cpu++ {
		if activeMask&(1<<uint(cpu)) != 0 && affinityAllows(se, cpu) {
			return cpu
		}
	}
	return 0
}
