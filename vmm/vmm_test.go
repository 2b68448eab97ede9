package vmm

import (
	"testing"
	"unsafe"

	"grinch/defs"
	"grinch/mem"
	"grinch/paging"
	"grinch/percpu"
	"grinch/sched"
)

// testRAM backs the test's direct-mapped area with real process memory
// (physical == virtual), so page-table setup can dereference the
// addresses the allocator hands out.
var testRAM []byte

func setupPMM(t *testing.T) {
	t.Helper()
	const pages = 4096
	testRAM = make([]byte, (pages+1)*mem.PGSIZE)
	base := (uintptr(unsafe.Pointer(&testRAM[0])) + uintptr(mem.PGOFFSET)) &^ uintptr(mem.PGOFFSET)
	mem.PMM.Image = nil
	mem.PMM.Direct = mem.NewArea("test-direct", mem.Pa_t(base), mem.Va_t(base), pages)
}

func newVMachine(t *testing.T) (*sched.Task, *VMachine) {
	t.Helper()
	task, err := sched.NewProcess("guest", nil)
	if err != 0 {
		t.Fatalf("NewProcess: %v", err)
	}
	v, verr := New(task, 1, 64<<20)
	if verr != 0 {
		t.Fatalf("New: %v", verr)
	}
	return task, v
}

func TestNewMarksTaskAsVMachine(t *testing.T) {
	setupPMM(t)
	task, v := newVMachine(t)
	if task.Type != defs.VMACHINE {
		t.Fatalf("task.Type = %v, want VMACHINE", task.Type)
	}
	if task.VM != v {
		t.Fatalf("task.VM was not set to the new VMachine")
	}
	if v.GRoot == nil {
		t.Fatalf("New did not allocate a G-stage root")
	}
}

func TestMapGuestInstallsTranslation(t *testing.T) {
	setupPMM(t)
	_, v := newVMachine(t)
	pa, aerr := mem.PMM.PhysPagesAllocAligned(1, mem.PGSIZE)
	if aerr != 0 {
		t.Fatalf("alloc: %v", aerr)
	}
	if err := v.MapGuest(GPhysBase, pa, mem.PGSIZE, paging.Flags{Read: true, Write: true}); err != 0 {
		t.Fatalf("MapGuest: %v", err)
	}
	got := paging.GetPhys(v.GRoot, mem.Va_t(GPhysBase)+8)
	if got != pa+8 {
		t.Fatalf("GetPhys = %#x, want %#x", got, pa+8)
	}
}

// TestHandleTrapForwardsHostTraps covers spec.md §4.10's SPV=0 path: a
// trap that did not originate from the guest is always forwarded.
func TestHandleTrapForwardsHostTraps(t *testing.T) {
	setupPMM(t)
	cpu := &percpu.CPU{ID: 0}
	_, v := newVMachine(t)

	forward, fatal, pc := HandleTrap(cpu, v, 0, 9, 0, 0x1000, 0, 0)
	if !forward || fatal {
		t.Fatalf("HandleTrap(SPV=0) = (forward=%v, fatal=%v), want (true, false)", forward, fatal)
	}
	if pc != 0x1000 {
		t.Fatalf("HandleTrap(SPV=0) pc = %#x, want unchanged %#x", pc, 0x1000)
	}
}

// TestHandleTrapDispatchesGuestEcall covers scause==9 (guest ecall):
// HandleTrap must route through HandleEcall and write the guest's a0.
func TestHandleTrapDispatchesGuestEcall(t *testing.T) {
	setupPMM(t)
	cpu := &percpu.CPU{ID: 0}
	_, v := newVMachine(t)
	v.CSR.Vsscratch = (uint64(ExtGrinch) << 32) | uint64(GrinchPresent)

	forward, fatal, pc := HandleTrap(cpu, v, hstatusSPV, 9, 0, 0x2000, 0, 0)
	if forward || fatal {
		t.Fatalf("HandleTrap(ecall) = (forward=%v, fatal=%v), want (false, false)", forward, fatal)
	}
	if pc != 0x2004 {
		t.Fatalf("HandleTrap(ecall) pc = %#x, want guestPC+4 = %#x", pc, 0x2004)
	}
	if v.Task.Regs.A0 != v.GrinchID {
		t.Fatalf("guest a0 = %d, want GrinchID %d", v.Task.Regs.A0, v.GrinchID)
	}
}

// TestHandleTrapUnknownCauseIsFatal covers the default case: a guest
// trap HandleTrap does not recognize is reported fatal, not silently
// resumed.
func TestHandleTrapUnknownCauseIsFatal(t *testing.T) {
	setupPMM(t)
	cpu := &percpu.CPU{ID: 0}
	_, v := newVMachine(t)

	_, fatal, _ := HandleTrap(cpu, v, hstatusSPV, 99, 0, 0x3000, 0, 0)
	if !fatal {
		t.Fatalf("HandleTrap with an unrecognized guest cause was not reported fatal")
	}
}

func TestHandleEcallGrinchExtension(t *testing.T) {
	setupPMM(t)
	cpu := &percpu.CPU{ID: 0}
	_, v := newVMachine(t)
	v.CSR.Vsscratch = (uint64(ExtGrinch) << 32) | uint64(GrinchPresent)

	ret, handled := HandleEcall(cpu, v, 0, 0)
	if !handled {
		t.Fatalf("HandleEcall did not recognize the Grinch present probe")
	}
	if ret != uint64(v.GrinchID) {
		t.Fatalf("HandleEcall returned %d, want GrinchID %d", ret, v.GrinchID)
	}
}

func TestHandleEcallConsolePutcharReachesSink(t *testing.T) {
	setupPMM(t)
	cpu := &percpu.CPU{ID: 0}
	_, v := newVMachine(t)
	v.CSR.Vsscratch = uint64(ExtConsole) << 32

	var got byte
	prev := ConsoleSink
	ConsoleSink = func(b byte) { got = b }
	defer func() { ConsoleSink = prev }()

	if _, handled := HandleEcall(cpu, v, 'x', 0); !handled {
		t.Fatalf("HandleEcall did not recognize CONSOLE_PUTCHAR")
	}
	if got != 'x' {
		t.Fatalf("ConsoleSink received %q, want 'x'", got)
	}
}

func TestHandleEcallUnknownExtensionIsUnhandled(t *testing.T) {
	setupPMM(t)
	cpu := &percpu.CPU{ID: 0}
	_, v := newVMachine(t)
	v.CSR.Vsscratch = uint64(0xdead) << 32

	if _, handled := HandleEcall(cpu, v, 0, 0); handled {
		t.Fatalf("HandleEcall recognized an extension id it should not know")
	}
}
