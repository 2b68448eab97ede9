package sched

import (
	"sync"
	"time"

	"grinch/defs"
	"grinch/percpu"
)

// globalLock guards the runqueue, the timer queue, and every Task's
// scheduler-visible state transition (spec.md §5's lock order: "scheduler
// (task_list) lock" above only the per-CPU remote-call lock). Per-task
// locks (Task.Mutex) are acquired before this one, matching spec.md §5's
// "task-lock of parent → task-lock of child → scheduler lock" order.
var globalLock sync.Mutex

var (
	rqHead *Task // runqueue: RUNNABLE tasks only, doubly linked
	rqTail *Task

	timerHead *Task // timer queue: sorted by Wfe.Expiration ascending

	allTasks = map[defs.Pid_t]*Task{}
	initTask *Task
)

// Now returns the current wall-clock time in nanoseconds since the Unix
// epoch, the same clock source HandleEvents and SleepUntil compare
// deadlines against (spec.md §4.6's "wall-ns since boot" — Grinch has no
// patched runtime cycle counter, so wall time stands in, matching
// accnt.Accnt_t's own choice of time.Now() over the teacher's Rdtsc).
func Now() int64 { return time.Now().UnixNano() }

// Enqueue adds t to the runqueue's tail, marking it RUNNABLE. Called by
// fork, by wakeup out of WFE, and once at boot for the init task.
func Enqueue(t *Task) {
	globalLock.Lock()
	defer globalLock.Unlock()
	enqueueLocked(t)
}

func enqueueLocked(t *Task) {
	t.State = defs.RUNNABLE
	t.rqnext = nil
	t.rqprev = rqTail
	if rqTail != nil {
		rqTail.rqnext = t
	} else {
		rqHead = t
	}
	rqTail = t
	allTasks[t.Pid] = t
}

func dequeueLocked(t *Task) {
	if t.rqprev != nil {
		t.rqprev.rqnext = t.rqnext
	} else if rqHead == t {
		rqHead = t.rqnext
	}
	if t.rqnext != nil {
		t.rqnext.rqprev = t.rqprev
	} else if rqTail == t {
		rqTail = t.rqprev
	}
	t.rqnext, t.rqprev = nil, nil
}

// Schedule picks the next task to run on cpu, per spec.md §4.6's policy:
// round-robin over RUNNABLE tasks starting from the successor of the
// currently-running task, or the list head if there is no current one.
// If no RUNNABLE task exists and the current task is still RUNNING, it
// keeps running; otherwise Schedule returns nil and the caller must idle
// (wait_for_interrupt) until the next IRQ.
func Schedule(cpu *percpu.CPU) *Task {
	globalLock.Lock()
	defer globalLock.Unlock()

	var cur *Task
	if cpu.Current != nil {
		cur = cpu.Current.(*Task)
	}

	next := rqHead
	if cur != nil {
		// start scanning from cur's runqueue successor if cur is itself
		// still queued (it normally is not — RUNNING tasks are dequeued
		// by Activate — but a task demoted back to RUNNABLE by a
		// concurrent event may still be linked).
		if cur.rqnext != nil {
			next = cur.rqnext
		}
	}
	if next == nil {
		next = rqHead
	}
	if next == nil {
		if cur != nil && cur.State == defs.RUNNING {
			return cur
		}
		return nil
	}
	return next
}

// Activate is the only transition to RUNNING (spec.md §4.6 task_activate):
// it demotes the outgoing task from RUNNING to RUNNABLE (never from WFE),
// dequeues the incoming task, and installs it as cpu.Current. Address-space
// / G-stage installation (arch_process_activate) is the caller's job —
// Activate only manages scheduler bookkeeping, since the page-table root
// swap is architecture code that lives above this package (boot/trap).
func Activate(cpu *percpu.CPU, t *Task) {
	globalLock.Lock()
	defer globalLock.Unlock()

	if cpu.Current != nil {
		out := cpu.Current.(*Task)
		if out != t && out.State == defs.RUNNING {
			out.State = defs.RUNNABLE
			enqueueLocked(out)
		}
	}
	dequeueLocked(t)
	t.State = defs.RUNNING
	t.OnCPU = cpu.ID
	cpu.Current = t
	cpu.InHypervisor = t.Type == defs.VMACHINE
}

// Current returns the task running on cpu, or nil if it is idling.
func Current(cpu *percpu.CPU) *Task {
	if cpu.Current == nil {
		return nil
	}
	return cpu.Current.(*Task)
}

// Lookup returns the task with the given pid, if it is still known to the
// scheduler (RUNNABLE, RUNNING, WFE, or EXIT_DEAD — any task not yet reaped).
func Lookup(pid defs.Pid_t) (*Task, bool) {
	globalLock.Lock()
	defer globalLock.Unlock()
	t, ok := allTasks[pid]
	return t, ok
}

// SetInit records t as the reparenting target for orphaned children
// (spec.md §4.6's "remaining children are spliced onto init task's
// children list").
func SetInit(t *Task) {
	globalLock.Lock()
	defer globalLock.Unlock()
	initTask = t
}
