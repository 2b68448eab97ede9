package sched

import (
	"grinch/defs"
	"grinch/percpu"
)

// timerInsertLocked inserts t into the global timer queue at its sorted
// position by Wfe.Expiration (spec.md §4.6: "kept sorted by absolute
// expiration"). Caller holds globalLock.
func timerInsertLocked(t *Task) {
	if timerHead == nil || t.Wfe.Expiration < timerHead.Wfe.Expiration {
		t.tqnext = timerHead
		timerHead = t
		return
	}
	p := timerHead
	for p.tqnext != nil && p.tqnext.Wfe.Expiration <= t.Wfe.Expiration {
		p = p.tqnext
	}
	t.tqnext = p.tqnext
	p.tqnext = t
}

// timerRemoveLocked unlinks t from the timer queue if present. Caller
// holds globalLock.
func timerRemoveLocked(t *Task) {
	if timerHead == t {
		timerHead = t.tqnext
		t.tqnext = nil
		return
	}
	for p := timerHead; p != nil; p = p.tqnext {
		if p.tqnext == t {
			p.tqnext = t.tqnext
			t.tqnext = nil
			return
		}
	}
}

// SleepUntil implements task_sleep_until: removes t from the timer queue
// if present, reinserts at its sorted position for the new deadline,
// marks it WFE(TIMER) for a PROCESS (a VMACHINE stays RUNNABLE — the
// guest is expected to WFI itself, per spec.md §4.6), and flags
// handle_events on cpu.
func SleepUntil(cpu *percpu.CPU, t *Task, deadlineNs int64) {
	globalLock.Lock()
	defer globalLock.Unlock()

	timerRemoveLocked(t)
	t.Wfe = defs.Wfe_t{Kind: defs.WfeTimer, Expiration: deadlineNs}
	timerInsertLocked(t)
	if t.Type == defs.PROCESS {
		dequeueLocked(t)
		t.State = defs.WFE
	}
	cpu.HandleEvents = true
	if timerHead != nil {
		cpu.NextDeadline = timerHead.Wfe.Expiration
	}
}

// CancelTimer implements task_cancel_timer: removes t from the global
// timer queue. Any pending cross-CPU IPI for its old expiration is
// harmless — the receiver revalidates state under globalLock (spec.md
// §5's cancellation guarantee).
func CancelTimer(t *Task) {
	globalLock.Lock()
	defer globalLock.Unlock()
	timerRemoveLocked(t)
}

// HandleEvents implements task_handle_events: wakes every timer-queue
// task whose expiration has passed, returning the next deadline on this
// CPU (0 if the queue is now empty).
func HandleEvents(now int64) int64 {
	globalLock.Lock()
	defer globalLock.Unlock()

	for timerHead != nil && timerHead.Wfe.Expiration <= now {
		t := timerHead
		timerHead = t.tqnext
		t.tqnext = nil

		if t.Type == defs.VMACHINE {
			// the VMachine wrapper (vmm package) observes this via its
			// own pending-timer flag, set through Task.VM by the caller
			// that owns the concrete type; scheduler bookkeeping here
			// is limited to dequeuing the timer entry.
			continue
		}
		t.Wfe = defs.Wfe_t{}
		enqueueLocked(t)
	}
	if timerHead == nil {
		return 0
	}
	return timerHead.Wfe.Expiration
}
