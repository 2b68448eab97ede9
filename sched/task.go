// Package sched implements the scheduler, timer queue, and task
// lifecycle (fork/exec/exit/wait) described by spec.md §4.6 and §9. The
// teacher's own `proc` package was empty in the retrieval pack (go.mod
// only), so this is built from spec.md's algorithm directly, grounded in
// the already-ported collaborators a Task owns: `vm.Vm_t` (address
// space), `fd.Fd_t`/`fd.Cwd_t` (open files and working directory),
// `accnt.Accnt_t` (rusage accounting), and `tinfo.Tnote_t` (kill/doom
// bookkeeping) — each kept from the teacher and wired in here for the
// first time. Cyclic parent/child pointers are kept as plain pointers
// rather than spec.md §9's suggested arena-indexed scheme: Go's garbage
// collector reclaims pointer cycles correctly (unlike the C original this
// spec was distilled from), so the arena-of-indices workaround the design
// notes suggest for a non-GC'd language has no payoff here — recorded as
// an Open Question resolution in DESIGN.md.
package sched

import (
	"sync"

	"grinch/accnt"
	"grinch/defs"
	"grinch/fd"
	"grinch/tinfo"
	"grinch/vm"
)

// MaxFds is the size of a task's fixed open file table (Task.Fds).
const MaxFds = 64

// Regs_t is the subset of a task's saved register frame the scheduler
// and syscall layer touch directly: the program counter/stack pointer
// pair task_activate and the ELF loader set, and the syscall return
// register (a0 in the RISC-V calling convention).
type Regs_t struct {
	PC, SP uintptr
	A0     int
}

// Task is one schedulable unit: a user process or a VMACHINE guest
// wrapper (spec.md §3). VMACHINE tasks leave As/Fds/Cwd nil and instead
// hold a *vmm.VMachine in VM (set by the vmm package, which imports
// sched — avoiding a cycle by keeping the field untyped here).
type Task struct {
	sync.Mutex

	Pid  defs.Pid_t
	Ppid defs.Pid_t
	Name string

	Type  defs.TaskType
	State defs.TaskState
	Wfe   defs.Wfe_t

	Regs  Regs_t
	Accnt accnt.Accnt_t
	Note  tinfo.Tnote_t

	// PROCESS fields.
	As  *vm.Vm_t
	Fds [MaxFds]*fd.Fd_t
	Cwd *fd.Cwd_t

	// VMACHINE field: a *vmm.VMachine, opaque here to avoid a sched<->vmm
	// import cycle (vmm.VMachine embeds a *Task, not the reverse).
	VM interface{}

	ExitStatus int
	OnCPU      int

	Parent   *Task
	Children []*Task

	rqnext, rqprev *Task // runqueue linkage, guarded by sched's global lock
	tqnext         *Task // timer queue linkage, guarded by sched's global lock
}

// NewProcess allocates a PROCESS task with a fresh address space sharing
// the kernel half of kernelRoot. Its fd table and cwd start empty; the
// caller fills them in (init's fd 0-2 wired to console, for instance).
func NewProcess(name string, kernelRoot *vm.Vm_t) (*Task, defs.Err_t) {
	var as *vm.Vm_t
	var err defs.Err_t
	if kernelRoot != nil {
		as, err = vm.NewVm(kernelRoot.Pmap)
	} else {
		as, err = vm.NewVm(nil)
	}
	if err != 0 {
		return nil, err
	}
	t := &Task{
		Pid:   allocPid(),
		Name:  name,
		Type:  defs.PROCESS,
		State: defs.INIT,
		As:    as,
	}
	t.Note.Alive = true
	return t, 0
}

// Fdadd installs fd into the lowest free slot, returning its number or
// -EMFILE if the table is full.
func (t *Task) Fdadd(nfd *fd.Fd_t) (int, defs.Err_t) {
	t.Lock()
	defer t.Unlock()
	for i, slot := range t.Fds {
		if slot == nil {
			t.Fds[i] = nfd
			return i, 0
		}
	}
	return 0, -defs.EMFILE
}

// Fdget returns the fd installed at num, if any.
func (t *Task) Fdget(num int) (*fd.Fd_t, defs.Err_t) {
	if num < 0 || num >= len(t.Fds) {
		return nil, -defs.EBADF
	}
	t.Lock()
	defer t.Unlock()
	f := t.Fds[num]
	if f == nil {
		return nil, -defs.EBADF
	}
	return f, 0
}

// Fdclose closes and clears the slot at num.
func (t *Task) Fdclose(num int) defs.Err_t {
	f, err := t.Fdget(num)
	if err != 0 {
		return err
	}
	t.Lock()
	t.Fds[num] = nil
	t.Unlock()
	return f.Fops.Close()
}

var pidCounter struct {
	sync.Mutex
	next defs.Pid_t
}

func allocPid() defs.Pid_t {
	pidCounter.Lock()
	defer pidCounter.Unlock()
	pidCounter.next++
	return pidCounter.next
}
