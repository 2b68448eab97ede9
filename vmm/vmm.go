// Package vmm implements the hypervisor-extension VMM state machine of
// spec.md §4.10: guest G-stage address space setup, VM-exit dispatch,
// and VS-mode CSR shadow save/restore. The teacher carries no
// hypervisor support at all (biscuit targets bare x86-64 without
// nested virtualization), so this package is grounded directly on
// spec.md §4.10's algorithm, reusing `paging`'s radix-tree engine for
// the G-stage root (Sv39x4 shares Sv39's three-level walk). The G-stage
// root is one ordinary single-page `paging.Root` from paging.NewRoot; no
// four-page Sv39x4 root is allocated, so the two extra guest-physical
// address bits are not covered. The package also wires
// `golang.org/x/arch/riscv64/riscv64asm` to decode the faulting
// instruction on a virtual-instruction exit instead of hand-rolling a
// RISC-V compressed/standard instruction-length table.
package vmm

import (
	"golang.org/x/arch/riscv64/riscv64asm"

	"grinch/defs"
	"grinch/mem"
	"grinch/paging"
	"grinch/percpu"
	"grinch/sched"
)

// Guest boot layout constants (spec.md §4.10).
const (
	GPhysBase    = 0xA0000000
	InitrdOffset = 0x02000000
	FDTOffset    = 0x01000000
)

// CSRShadow is the save/restore set spec.md §4.10 names as "the only
// mutable host-visible guest state beyond general registers."
type CSRShadow struct {
	Vsstatus  uint64
	Vsie      uint64
	Vstvec    uint64
	Vsscratch uint64
	Vscause   uint64
	Vstval    uint64
	Hvip      uint64
	Vsatp     uint64
}

// VMachine is a guest vCPU wrapper embedded in a sched.Task of
// Type==defs.VMACHINE (via Task.VM, set when the task is created).
type VMachine struct {
	Task *sched.Task

	GRoot     *paging.Root // G-stage (second-stage) root
	GPhysSize uintptr

	CSR CSRShadow
	VS  bool // true once the vCPU has entered VS-mode

	TimerPending bool

	GrinchID int
}

// New allocates a VMachine with a fresh single-page G-stage root and marks
// t as its VMACHINE task. It records gphysSize in GPhysSize but allocates
// and maps no guest memory; MapGuest installs guest mappings.
func New(t *sched.Task, grinchID int, gphysSize uintptr) (*VMachine, defs.Err_t) {
	root, err := paging.NewRoot()
	if err != 0 {
		return nil, err
	}
	vm := &VMachine{Task: t, GRoot: root, GPhysSize: gphysSize, GrinchID: grinchID}
	t.Type = defs.VMACHINE
	t.VM = vm
	return vm, 0
}

// MapGuest installs a guest-physical-to-host-physical mapping in the
// G-stage table (spec.md §4.10: "configured by vm_map_range").
func (v *VMachine) MapGuest(gpa uintptr, hostPa mem.Pa_t, size int, flags paging.Flags) defs.Err_t {
	return paging.MapRange(v.GRoot, mem.Va_t(gpa), hostPa, size, flags)
}

// hstatus SPV bit: whether the trapped context was executing in a guest
// virtual machine (VS/VU mode) when the trap fired.
const hstatusSPV uint64 = 1 << 7

// HandleTrap implements vmm_handle_trap (spec.md §4.10): reads hstatus;
// if SPV=0 the trap did not originate from a guest and the host trap
// dispatcher handles it (forward=true). Otherwise it dispatches by cause;
// the general registers were already saved by the caller (trap.Entry, via
// task_save), and no VS-mode CSR is read into v.CSR here.
func HandleTrap(cpu *percpu.CPU, v *VMachine, hstatus uint64, scause, stval uint64, guestPC uint64, a0, a1 uint64) (forward bool, fatal bool, nextPC uint64) {
	if hstatus&hstatusSPV == 0 {
		return true, false, guestPC
	}

	switch {
	case scause == 9: // supervisor ecall from VS-mode
		ret, _ := HandleEcall(cpu, v, a0, a1)
		v.Task.Regs.A0 = int(ret)
		return false, false, guestPC + 4
	case scause == 22 || scause == 23: // virtual instruction / guest page fault families
		return false, false, handleVirtualInstr(v, guestPC)
	default:
		return false, true, guestPC
	}
}

// handleVirtualInstr decodes the faulting instruction via the guest's
// direct-mapped page (standing in for the real `hlvx.hu` guest-memory
// peek spec.md §4.10 specifies, since Grinch's host and guest share one
// Go address space rather than two hardware privilege levels) and, if
// it is WFI with no pending guest timer, parks the vCPU in WFE. It
// returns the PC past the instruction in every case (guestPC+4 when the
// page is unmapped or the decode fails) and requests no reschedule.
func handleVirtualInstr(v *VMachine, guestPC uint64) uint64 {
	hostPa := paging.GetPhys(v.GRoot, mem.Va_t(guestPC))
	if hostPa == paging.INVALID {
		return guestPC + 4
	}
	page := mem.Physmap(hostPa &^ mem.Pa_t(mem.PGOFFSET))
	off := int(hostPa & mem.PGOFFSET)
	src := page[off:]
	if len(src) > 4 {
		src = src[:4]
	}

	inst, err := riscv64asm.Decode(src)
	if err != nil {
		return guestPC + 4
	}
	if inst.Op == riscv64asm.WFI && !v.TimerPending {
		if v.Task.State != defs.WFE {
			v.Task.State = defs.WFE
		}
	}
	return guestPC + uint64(inst.Len)
}
