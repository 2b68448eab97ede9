// Package percpu holds the fixed-size per-hart state every other core
// subsystem indexes into: the running task, the IRQ-chip context id, the
// next timer deadline, and hypervisor-activation state (spec.md §3, §4.5,
// §4.6, §4.10, §9). The teacher tracked "the current task" via a
// goroutine-local pointer installed through `runtime.Gptr`/`Setgptr` —
// intrinsics biscuit's patched runtime exposes that stock Go does not.
// Grinch has no such hook, so every function that used to consult an
// implicit "current CPU" now takes a `*percpu.CPU` explicitly: the trap
// stub, the scheduler, and irqchip all thread a CPU pointer through their
// call chains instead of discovering it through thread-local storage.
// `Current` is `interface{}` rather than `*sched.Task` to avoid a
// percpu<->sched import cycle (sched depends on percpu, not the reverse).
package percpu

import "sync"

// CPU is one hart's per-CPU state.
type CPU struct {
	ID int

	// IrqCtxID is the PLIC/APLIC "context id" this hart was assigned at
	// irqchip probe time (spec.md §4.5: "cpu_id*2+1" for PLIC).
	IrqCtxID int

	// HandleEvents is set by the trap stub on any IPI, timer tick, or
	// external IRQ (spec.md §4.4) and consumed by the scheduler's main
	// loop to decide whether to re-evaluate the runqueue/timer queue.
	HandleEvents bool

	// NextDeadline is this hart's next timer-queue expiration, wall-ns
	// since boot, or 0 if none is armed (spec.md §4.6).
	NextDeadline int64

	// Current is the running task (a *sched.Task) or nil if the hart is
	// idling. Stored as interface{} to avoid importing sched here.
	Current interface{}

	// InHypervisor is true while this hart's Current is executing a
	// VMACHINE task with the G-stage root installed (spec.md §4.6's
	// arch_process_activate / VMachine activation split).
	InHypervisor bool

	sync.Mutex
}

var (
	once sync.Once
	cpus []*CPU
)

// Init allocates n CPU slots. Called once during boot after the device
// tree's /cpus node has been walked (spec.md §6).
func Init(n int) {
	once.Do(func() {
		cpus = make([]*CPU, n)
		for i := range cpus {
			cpus[i] = &CPU{ID: i}
		}
	})
}

// NCPU returns the number of initialized CPU slots.
func NCPU() int {
	return len(cpus)
}

// Get returns the per-CPU state for hart id.
func Get(id int) *CPU {
	return cpus[id]
}

// All returns every CPU slot, for broadcast operations (IPI, TLB
// shootdown) that must reach every hart.
func All() []*CPU {
	return cpus
}
