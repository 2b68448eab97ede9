// Package irqchip implements the IRQ controller abstraction of spec.md
// §4.5: a vtable installed at boot from device-tree compatible matching,
// a fixed-size registered-handler table, and the per-CPU PLIC "context
// id" derivation. The teacher's interrupt controller code was x86 APIC
// (biscuit/src/apic, entirely register-layout-specific and out of
// SPEC_FULL.md scope per DESIGN.md's dropped-packages section); this
// package is grounded on spec.md §4.5's algorithm directly plus the
// shape of a probed-at-boot, interface-selected driver the teacher uses
// elsewhere for pluggable backends (e.g. mem.Heap in mem/kalloc.go).
package irqchip

import (
	"fmt"

	"grinch/defs"
	"grinch/percpu"
	"grinch/stats"
)

// IRQMax bounds the registered-handler table (spec.md §4.5's
// "handler[IRQ_MAX]"). PLIC source ids on real RISC-V platforms fit
// comfortably under 1024.
const IRQMax = 1024

// Chip is the vtable spec.md §4.5 describes: {handle_irq, enable_irq,
// disable_irq, init}. A concrete PLIC/APLIC driver implements it and is
// installed with Install once device-tree compatible matching picks it.
type Chip interface {
	// Init probes hardware and returns this CPU's context id (PLIC:
	// cpu_id*2+1, derived from the interrupts-extended FDT property).
	Init(cpuID int) (ctxID int, err defs.Err_t)
	EnableIRQ(cpuID, irq, prio, threshold int) defs.Err_t
	DisableIRQ(cpuID, irq int) defs.Err_t
	// Claim returns the next pending interrupt source for ctxID, or 0 if
	// none is pending (the PLIC claim/complete protocol).
	Claim(ctxID int) int
	Complete(ctxID, irq int)
}

// Handler is a registered interrupt handler and its opaque userdata,
// matching spec.md §4.5's "handler[IRQ_MAX] = (fn, userdata)".
type Handler struct {
	Fn   func(irq int, userdata interface{})
	Data interface{}
}

var (
	chip     Chip
	handlers [IRQMax]*Handler
)

// Install sets the active chip driver. Called once during boot after
// /soc device-tree matching.
func Install(c Chip) {
	chip = c
}

// ProbeCPU initializes this hart's irqchip context and records the
// returned context id in the hart's per-CPU state (spec.md §4.5).
func ProbeCPU(cpu *percpu.CPU) defs.Err_t {
	if chip == nil {
		return -defs.ENOSYS
	}
	ctx, err := chip.Init(cpu.ID)
	if err != 0 {
		return err
	}
	cpu.IrqCtxID = ctx
	return 0
}

// Register installs fn as the handler for irq, with userdata passed back
// on every invocation.
func Register(irq int, fn func(irq int, userdata interface{}), data interface{}) defs.Err_t {
	if irq < 0 || irq >= IRQMax {
		return -defs.EINVAL
	}
	handlers[irq] = &Handler{Fn: fn, Data: data}
	if chip != nil {
		return chip.EnableIRQ(0, irq, 1, 0)
	}
	return 0
}

// HandleIRQ implements irqchip_handle_irq: claims the next pending
// source on cpu's context, looks up its registered handler and invokes
// it, then completes the claim. An unregistered source logs a warning
// and is still completed (spec.md §4.5), so a misbehaving/unclaimed
// device cannot wedge the PLIC.
func HandleIRQ(cpu *percpu.CPU) {
	if chip == nil {
		return
	}
	irq := chip.Claim(cpu.IrqCtxID)
	if irq == 0 {
		return
	}
	stats.Irqs++
	if irq < len(stats.Nirqs) {
		stats.Nirqs[irq]++
	}
	h := handlers[irq]
	if h == nil {
		fmt.Printf("irqchip: unregistered source %d on cpu %d\n", irq, cpu.ID)
	} else {
		h.Fn(irq, h.Data)
	}
	chip.Complete(cpu.IrqCtxID, irq)
}
