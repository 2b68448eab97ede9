// lifecycle.go implements fork, exit, and wait per spec.md §4.6.
package sched

import (
	"grinch/defs"
	"grinch/fd"
)

// BroadcastIPI is set by the boot package once SMP bring-up knows every
// online hart; Fork calls it so every other CPU revalidates its runqueue
// view (spec.md §4.6's "broadcasts an IPI so every other CPU reschedules",
// §5 ordering guarantee (c)). Left nil on a single-hart boot or in tests.
var BroadcastIPI func()

// Fork duplicates parent into a new RUNNABLE process: every open fd is
// reopened (ref-incremented), every VMA is duplicated with its contents
// copied (plain memcpy, not COW — vm.Vm_t.Fork), the child's registers
// are the parent's with a zero return value, and CWD is inherited.
func Fork(parent *Task) (*Task, defs.Err_t) {
	child, err := NewProcess(parent.Name, parent.As)
	if err != 0 {
		return nil, err
	}
	child.Ppid = parent.Pid
	child.Regs = parent.Regs
	child.Regs.A0 = 0

	if err := parent.As.Fork(child.As); err != 0 {
		return nil, err
	}

	parent.Lock()
	for i, pf := range parent.Fds {
		if pf == nil {
			continue
		}
		nf, ferr := fd.Copyfd(pf)
		if ferr != 0 {
			parent.Unlock()
			return nil, ferr
		}
		child.Fds[i] = nf
	}
	if parent.Cwd != nil {
		child.Cwd = fd.MkRootCwd(parent.Cwd.Fd)
		child.Cwd.Path = append(child.Cwd.Path[:0:0], parent.Cwd.Path...)
	}
	parent.Unlock()

	globalLock.Lock()
	child.Parent = parent
	parent.Children = append(parent.Children, child)
	globalLock.Unlock()

	Enqueue(child)
	if BroadcastIPI != nil {
		BroadcastIPI()
	}
	return child, 0
}

// Exit implements task_exit: records the encoded exit status, reparents
// any remaining children onto init's child list, and if the parent is
// compatibly WFE(CHILD) reaps this task immediately and wakes the parent
// with its pid as the return value; otherwise the task waits in
// EXIT_DEAD for a later sys_wait to reap it.
func Exit(t *Task, code int) {
	globalLock.Lock()
	t.ExitStatus = defs.MkExitStatus(code)
	t.State = defs.EXIT_DEAD
	dequeueLocked(t)
	timerRemoveLocked(t)
	children := t.Children
	t.Children = nil
	parent := t.Parent
	globalLock.Unlock()

	if t.As != nil {
		t.As.Teardown()
	}
	t.Note.Lock()
	t.Note.Alive = false
	t.Note.Unlock()

	reparentChildren(children)

	if parent == nil {
		return
	}

	globalLock.Lock()
	defer globalLock.Unlock()
	if parent.Wfe.Kind == defs.WfeChild &&
		(parent.Wfe.ChildPid == -1 || parent.Wfe.ChildPid == t.Pid) {
		reapLocked(parent, t)
		parent.Wfe = defs.Wfe_t{}
		if parent.State == defs.WFE {
			enqueueLocked(parent)
		}
	}
}

func reparentChildren(children []*Task) {
	if len(children) == 0 {
		return
	}
	globalLock.Lock()
	defer globalLock.Unlock()
	if initTask == nil {
		return
	}
	for _, c := range children {
		c.Parent = initTask
	}
	initTask.Children = append(initTask.Children, children...)
}

// reapLocked removes the now-dead child c from parent's child list and
// frees its scheduler bookkeeping. Caller holds globalLock.
func reapLocked(parent, c *Task) {
	for i, ch := range parent.Children {
		if ch == c {
			parent.Children = append(parent.Children[:i], parent.Children[i+1:]...)
			break
		}
	}
	delete(allTasks, c.Pid)
	parent.Regs.A0 = int(c.Pid)
}

// Wait implements sys_wait(pid, options): scans t's children for one
// matching pid (-1 meaning "any") that is already EXIT_DEAD, reaping it
// in place and returning its pid and encoded status. If none matches yet
// but a matching child could still exit, it returns ok=false and the
// caller must put t into WFE(CHILD) and reschedule — Wait does not block
// itself, matching spec.md §4.6's "returns without writing a return
// value" contract for the blocking path.
func Wait(t *Task, pid defs.Pid_t) (childPid defs.Pid_t, status int, ok bool, err defs.Err_t) {
	globalLock.Lock()
	defer globalLock.Unlock()

	found := false
	for _, c := range t.Children {
		if pid != -1 && c.Pid != pid {
			continue
		}
		found = true
		if c.State == defs.EXIT_DEAD {
			status = c.ExitStatus
			childPid = c.Pid
			reapLocked(t, c)
			return childPid, status, true, 0
		}
	}
	if !found {
		return 0, 0, false, -defs.ECHILD
	}
	return 0, 0, false, 0
}

// BeginWaitBlock marks t as blocked on a wait() call that found no
// already-exited child, per spec.md §4.6: records wfe=CHILD(pid,statusva),
// enters WFE, and dequeues t from the runqueue. The caller (syscall
// layer) must then invoke Schedule to pick a new task for the CPU.
func BeginWaitBlock(t *Task, pid defs.Pid_t, statusUVA int) {
	globalLock.Lock()
	defer globalLock.Unlock()
	t.Wfe = defs.Wfe_t{Kind: defs.WfeChild, ChildPid: pid, StatusUVA: statusUVA}
	t.State = defs.WFE
	dequeueLocked(t)
}
