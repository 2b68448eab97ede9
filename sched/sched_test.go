package sched

import (
	"testing"
	"unsafe"

	"grinch/defs"
	"grinch/mem"
	"grinch/percpu"
)

// testRAM backs the test's direct-mapped area with real process memory
// (physical == virtual), so page-table setup can dereference the
// addresses the allocator hands out.
var testRAM []byte

func setupPMM(t *testing.T) {
	t.Helper()
	const pages = 8192
	testRAM = make([]byte, (pages+1)*mem.PGSIZE)
	base := (uintptr(unsafe.Pointer(&testRAM[0])) + uintptr(mem.PGOFFSET)) &^ uintptr(mem.PGOFFSET)
	mem.PMM.Image = nil
	mem.PMM.Direct = mem.NewArea("test-direct", mem.Pa_t(base), mem.Va_t(base), pages)
}

func newTestProcess(t *testing.T, name string) *Task {
	t.Helper()
	task, err := NewProcess(name, nil)
	if err != 0 {
		t.Fatalf("NewProcess(%s): %v", name, err)
	}
	return task
}

// TestScheduleRoundRobinsRunnableTasks exercises spec.md §4.6's policy:
// round robin starting from the running task's successor.
func TestScheduleRoundRobinsRunnableTasks(t *testing.T) {
	setupPMM(t)
	cpu := &percpu.CPU{ID: 0}

	a := newTestProcess(t, "a")
	b := newTestProcess(t, "b")
	Enqueue(a)
	Enqueue(b)

	first := Schedule(cpu)
	if first != a {
		t.Fatalf("Schedule picked %v, want a", first.Name)
	}
	Activate(cpu, first)

	second := Schedule(cpu)
	if second != b {
		t.Fatalf("Schedule after activating a picked %v, want b", second.Name)
	}
}

// TestActivateDemotesOutgoingRunningTask verifies task_activate demotes
// the outgoing RUNNING task to RUNNABLE and installs the incoming one as
// current (the WFE case is TestActivateDoesNotRequeueWfeTask).
func TestActivateDemotesOutgoingRunningTask(t *testing.T) {
	setupPMM(t)
	cpu := &percpu.CPU{ID: 0}

	a := newTestProcess(t, "a")
	b := newTestProcess(t, "b")
	Activate(cpu, a)
	if a.State != defs.RUNNING {
		t.Fatalf("a.State = %v, want RUNNING", a.State)
	}

	Activate(cpu, b)
	if a.State != defs.RUNNABLE {
		t.Fatalf("outgoing task a.State = %v, want RUNNABLE", a.State)
	}
	if Current(cpu) != b {
		t.Fatalf("Current(cpu) did not return the newly activated task")
	}
}

func TestActivateDoesNotRequeueWfeTask(t *testing.T) {
	setupPMM(t)
	cpu := &percpu.CPU{ID: 0}

	a := newTestProcess(t, "a")
	b := newTestProcess(t, "b")
	Activate(cpu, a)
	a.State = defs.WFE // simulate a->wait() blocking without going through BeginWaitBlock

	Activate(cpu, b)
	if a.State != defs.WFE {
		t.Fatalf("Activate demoted a WFE task to %v", a.State)
	}
}

// TestForkLinksParentAndChild exercises spec.md §4.6's fork: the child is
// RUNNABLE, enqueued, and linked into parent.Children.
func TestForkLinksParentAndChild(t *testing.T) {
	setupPMM(t)
	parent := newTestProcess(t, "parent")

	child, err := Fork(parent)
	if err != 0 {
		t.Fatalf("Fork: %v", err)
	}
	if child.Ppid != parent.Pid {
		t.Fatalf("child.Ppid = %d, want %d", child.Ppid, parent.Pid)
	}
	if child.Parent != parent {
		t.Fatalf("child.Parent not set to parent")
	}
	if len(parent.Children) != 1 || parent.Children[0] != child {
		t.Fatalf("parent.Children = %v, want [child]", parent.Children)
	}
	if child.State != defs.RUNNABLE {
		t.Fatalf("child.State = %v, want RUNNABLE", child.State)
	}
	if child.Regs.A0 != 0 {
		t.Fatalf("child.Regs.A0 = %d, want 0 (fork's child return value)", child.Regs.A0)
	}
}

// TestWaitReapsExitedChildImmediately covers the non-blocking wait() path:
// a child already EXIT_DEAD is reaped in place.
func TestWaitReapsExitedChildImmediately(t *testing.T) {
	setupPMM(t)
	parent := newTestProcess(t, "parent")
	child, err := Fork(parent)
	if err != 0 {
		t.Fatalf("Fork: %v", err)
	}

	Exit(child, 7)

	pid, status, ok, werr := Wait(parent, -1)
	if werr != 0 {
		t.Fatalf("Wait: %v", werr)
	}
	if !ok {
		t.Fatalf("Wait did not report the already-exited child as ready")
	}
	if pid != child.Pid {
		t.Fatalf("Wait returned pid %d, want %d", pid, child.Pid)
	}
	if status != defs.MkExitStatus(7) {
		t.Fatalf("Wait returned status %d, want %d", status, defs.MkExitStatus(7))
	}
	if len(parent.Children) != 0 {
		t.Fatalf("reaped child still linked in parent.Children: %v", parent.Children)
	}
	if _, ok := Lookup(child.Pid); ok {
		t.Fatalf("reaped child still resolvable via Lookup")
	}
}

// TestWaitUnknownChildIsECHILD covers waiting on a pid that is not (and
// was never) one of t's children.
func TestWaitUnknownChildIsECHILD(t *testing.T) {
	setupPMM(t)
	parent := newTestProcess(t, "parent")
	_, _, ok, err := Wait(parent, 99999)
	if ok {
		t.Fatalf("Wait on an unknown pid reported ok")
	}
	if err != -defs.ECHILD {
		t.Fatalf("Wait on an unknown pid returned %v, want -ECHILD", err)
	}
}

// TestWaitNoExitedChildYetBlocks covers the "found but not yet dead" path:
// Wait must return ok=false, err=0 so the caller knows to block rather
// than fail.
func TestWaitNoExitedChildYetBlocks(t *testing.T) {
	setupPMM(t)
	parent := newTestProcess(t, "parent")
	child, err := Fork(parent)
	if err != 0 {
		t.Fatalf("Fork: %v", err)
	}

	_, _, ok, werr := Wait(parent, child.Pid)
	if ok {
		t.Fatalf("Wait reported ok for a still-running child")
	}
	if werr != 0 {
		t.Fatalf("Wait on a not-yet-exited child returned err %v, want 0", werr)
	}

	BeginWaitBlock(parent, child.Pid, 0)
	if parent.State != defs.WFE {
		t.Fatalf("parent.State = %v, want WFE after BeginWaitBlock", parent.State)
	}
	if parent.Wfe.Kind != defs.WfeChild || parent.Wfe.ChildPid != child.Pid {
		t.Fatalf("parent.Wfe = %+v, want WfeChild for pid %d", parent.Wfe, child.Pid)
	}
}

// TestExitWakesBlockedParent exercises spec.md §4.6's task_exit: a
// parent blocked in WFE(CHILD) on exactly this pid is reaped and
// requeued by Exit itself.
func TestExitWakesBlockedParent(t *testing.T) {
	setupPMM(t)
	parent := newTestProcess(t, "parent")
	child, err := Fork(parent)
	if err != 0 {
		t.Fatalf("Fork: %v", err)
	}
	BeginWaitBlock(parent, child.Pid, 0)

	Exit(child, 3)

	if parent.State != defs.RUNNABLE {
		t.Fatalf("parent.State = %v, want RUNNABLE after its awaited child exited", parent.State)
	}
	if parent.Regs.A0 != int(child.Pid) {
		t.Fatalf("parent.Regs.A0 = %d, want child pid %d", parent.Regs.A0, child.Pid)
	}
}

// TestExitReparentsOrphansToInit exercises spec.md §4.6's "remaining
// children are spliced onto init task's children list".
func TestExitReparentsOrphansToInit(t *testing.T) {
	setupPMM(t)
	initT := newTestProcess(t, "init")
	SetInit(initT)

	parent := newTestProcess(t, "parent")
	grandchild, err := Fork(parent)
	if err != 0 {
		t.Fatalf("Fork: %v", err)
	}

	Exit(parent, 0)

	if grandchild.Parent != initT {
		t.Fatalf("grandchild.Parent = %v, want init", grandchild.Parent)
	}
	found := false
	for _, c := range initT.Children {
		if c == grandchild {
			found = true
		}
	}
	if !found {
		t.Fatalf("init.Children does not contain reparented grandchild")
	}
}
