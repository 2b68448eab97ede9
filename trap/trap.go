// Package trap implements the single-entry trap dispatcher of spec.md
// §4.4: the assembly stub's Go-side tail-call target, branching between
// interrupt and exception causes and routing user exceptions to the VMM,
// the page-fault handler, or the syscall table. The teacher's trap
// handling was x86 IDT/GDT-specific machine code with no Go-side
// equivalent in the retrieval pack; this package is grounded on spec.md
// §4.4's cause table directly and wired to the ported collaborators —
// `sched` (task_save/task_activate/Schedule), `vm` (page-fault
// recovery), `caller` (fatal dump), and `irqchip` (external IRQ
// dispatch) — each already adapted from the teacher elsewhere in the
// tree.
package trap

import (
	"fmt"

	"grinch/caller"
	"grinch/defs"
	"grinch/irqchip"
	"grinch/percpu"
	"grinch/sched"
	"grinch/vm"
)

// Registers is the trailing "registers" frame on the per-CPU exception
// stack spec.md §4.4 describes: all 31 integer registers plus PC, saved
// by the assembly entry stub before it tail-calls into this package.
type Registers struct {
	X    [31]uint64 // x1 (ra) .. x31; x2 (sp) is X[1]
	PC   uint64
	Scause uint64
	Stval  uint64
}

func (r *Registers) String() string {
	return fmt.Sprintf("pc=%#x sp=%#x scause=%#x stval=%#x", r.PC, r.X[1], r.Scause, r.Stval)
}

// Sp returns the stack pointer register (x2).
func (r *Registers) Sp() uint64 { return r.X[1] }

// A0..A5 return the syscall argument/return registers (x10..x15 in the
// RISC-V calling convention).
func (r *Registers) A(n int) uint64 { return r.X[9+n] }
func (r *Registers) SetA0(v uint64) { r.X[9] = v }

// Cause bits (RISC-V privileged spec): the interrupt bit is the sign bit
// of scause; the low bits are the exception/interrupt code.
const (
	causeInterruptBit uint64 = 1 << 63

	irqSoftware = 1
	irqTimer    = 5
	irqExternal = 9

	excInstrMisaligned = 0
	excInstrFault      = 1
	excIllegalInstr    = 2
	excBreakpoint      = 3
	excLoadFault       = 5
	excStoreFault      = 7
	excUEcall          = 8
	excSEcall          = 9
	excInstrPageFault  = 12
	excLoadPageFault   = 13
	excStorePageFault  = 15
)

// VMForwarder lets the vmm package (which this package cannot import
// without a cycle — vmm embeds a *sched.Task) hook into exception
// dispatch, per spec.md §4.4's "first ask VMM whether the trap
// originated from a guest." Installed once by vmm.Init. HandleTrap
// returns handled=true if the VMM consumed the exception.
var VMForwarder func(cpu *percpu.CPU, regs *Registers) (handled bool, fatal bool)

// SyscallDispatch is installed by the syscall package (avoiding a
// trap<->syscall cycle, since syscall handlers need sched/vm/vfs, not
// trap) to dispatch an ecall per spec.md §4.12.
var SyscallDispatch func(cpu *percpu.CPU, regs *Registers)

// Entry is the Go-side tail-call target from the assembly trap stub
// (spec.md §4.4). fromSupervisor reports whether the trapped context was
// running in supervisor (kernel) mode rather than user mode.
func Entry(cpu *percpu.CPU, regs *Registers, fromSupervisor bool) {
	if regs.Scause&causeInterruptBit != 0 {
		handleIRQ(cpu, regs)
		return
	}
	handleException(cpu, regs, fromSupervisor)
}

func handleIRQ(cpu *percpu.CPU, regs *Registers) {
	cur := sched.Current(cpu)
	if cur == nil {
		// CPU was idling: nothing to snapshot, per spec.md §4.4.
	} else {
		taskSave(cur, regs)
	}

	code := regs.Scause &^ causeInterruptBit
	switch code {
	case irqSoftware:
		cpu.HandleEvents = true
	case irqTimer:
		cpu.NextDeadline = sched.HandleEvents(sched.Now())
		cpu.HandleEvents = true
	case irqExternal:
		irqchip.HandleIRQ(cpu)
	}
}

// taskSave implements task_save: snapshots the trapped register frame
// into the current task so it can be restored if a reschedule follows.
func taskSave(t *sched.Task, regs *Registers) {
	t.Regs.PC = uintptr(regs.PC)
	t.Regs.SP = uintptr(regs.Sp())
}

func handleException(cpu *percpu.CPU, regs *Registers, fromSupervisor bool) {
	if VMForwarder != nil {
		if handled, fatal := VMForwarder(cpu, regs); handled {
			if fatal {
				fatalTrap(cpu, regs, "vmm: unhandled guest exit cause")
			}
			return
		}
	}

	if fromSupervisor {
		fatalTrap(cpu, regs, "exception taken from supervisor mode")
		return
	}

	cur := sched.Current(cpu)
	if cur == nil {
		fatalTrap(cpu, regs, "user exception with no current task")
		return
	}
	taskSave(cur, regs)

	switch regs.Scause {
	case excIllegalInstr, excInstrFault, excInstrPageFault:
		killTask(cur, -defs.EFAULT)
	case excLoadFault, excStoreFault, excLoadPageFault, excStorePageFault:
		isWrite := regs.Scause == excStoreFault || regs.Scause == excStorePageFault
		handlePageFault(cur, regs, isWrite)
	case excUEcall:
		regs.PC += 4 // advance past the ecall instruction
		cur.Regs.PC = uintptr(regs.PC)
		if SyscallDispatch != nil {
			SyscallDispatch(cpu, regs)
		} else {
			regs.SetA0(uint64(-defs.ENOSYS) & 0xffffffff)
		}
	case excBreakpoint:
		fmt.Printf("trap: breakpoint at pc=%#x (pid %d)\n", regs.PC, cur.Pid)
		regs.PC += 2
		cur.Regs.PC = uintptr(regs.PC)
	case excInstrMisaligned:
		fmt.Printf("trap: misaligned access at pc=%#x stval=%#x (pid %d)\n",
			regs.PC, regs.Stval, cur.Pid)
		killTask(cur, -defs.EFAULT)
	default:
		fmt.Printf("trap: unhandled cause %#x at pc=%#x (pid %d)\n",
			regs.Scause, regs.PC, cur.Pid)
		killTask(cur, -defs.EFAULT)
	}

	prepareUserReturn(cpu, regs)
}

func handlePageFault(t *sched.Task, regs *Registers, isWrite bool) {
	faultaddr := uintptr(regs.Stval)
	t.As.Lock_pmap()
	vmi, ok := t.As.Vmregion.Lookup(faultaddr)
	t.As.Unlock_pmap()
	if !ok {
		killTask(t, -defs.EFAULT)
		return
	}
	if err := vm.Sys_pgfault(t.As, vmi, faultaddr, isWrite); err != 0 {
		killTask(t, err)
	}
}

func killTask(t *sched.Task, status defs.Err_t) {
	sched.Exit(t, int(status))
}

// prepareUserReturn runs after any exception disposed back to user mode
// (spec.md §4.4): nothing architecture-specific is modeled here beyond
// restoring the task's saved PC/SP into the register frame about to be
// returned to, since the actual sret happens in the assembly stub.
func prepareUserReturn(cpu *percpu.CPU, regs *Registers) {
	cur := sched.Current(cpu)
	if cur == nil {
		return
	}
	regs.PC = uint64(cur.Regs.PC)
	regs.X[1] = uint64(cur.Regs.SP)
}

func fatalTrap(cpu *percpu.CPU, regs *Registers, reason string) {
	caller.FatalDump(fmt.Sprintf("%s (cpu %d)", reason, cpu.ID), regs)
	panic(reason)
}
