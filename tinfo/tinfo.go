// Package tinfo tracks the kill/doom bookkeeping a blocked task's waiters
// consult: whether it is still alive, whether it has been asked to die,
// and the channel/condvar pair a sleeper in the kernel (as opposed to a
// WFE-blocked task known to the scheduler) waits on. Grounded on the
// teacher's tinfo package.
//
// The teacher located "the current task" via `runtime.Gptr`/`Setgptr`, a
// pair of intrinsics biscuit's patched runtime adds to stash a pointer in
// goroutine-local storage — stock Go has no such hook. Grinch threads the
// running task explicitly instead: every function that used to call
// tinfo.Current() now receives a `*percpu.CPU` (whose Current field holds
// the running *sched.Task) or the Tnote_t itself as a parameter. This
// package therefore holds only the per-task note, not a process-wide
// current-task registry.
package tinfo

import (
	"sync"

	"grinch/defs"
)

// Tnote_t is a task's kill/doom record, consulted by anything that blocks
// the task in the kernel outside of scheduler WFE (e.g. a devfs read
// waiting on a circbuf) and by exit-adjacent teardown code asking whether
// a task should unwind early.
type Tnote_t struct {
	Alive    bool
	Killed   bool
	Isdoomed bool
	sync.Mutex
	Killnaps struct {
		Killch chan bool
		Cond   *sync.Cond
		Kerr   defs.Err_t
	}
}

// Doomed reports whether the task has been marked for death and should
// unwind out of any blocking kernel operation at its next check point.
func (t *Tnote_t) Doomed() bool {
	t.Lock()
	defer t.Unlock()
	return t.Isdoomed
}

// Doom marks the task for death; a subsequent Doomed() call observes it.
func (t *Tnote_t) Doom() {
	t.Lock()
	t.Isdoomed = true
	t.Unlock()
}

// Threadinfo_t is the per-process table of live Tnote_t records, indexed
// by Tid_t (one per kernel-visible thread of execution the process owns;
// Grinch tasks are single-threaded, so this table typically holds one
// entry, but the shape is kept for parity with the teacher's multi-thread
// process model referenced in spec.md §9's Tid_t note).
type Threadinfo_t struct {
	Notes map[defs.Tid_t]*Tnote_t
	sync.Mutex
}

// Init allocates the note table.
func (t *Threadinfo_t) Init() {
	t.Notes = make(map[defs.Tid_t]*Tnote_t)
}
