// Package boot implements SMP bring-up and cross-CPU coordination
// (spec.md §4.11): starting every secondary hart via SBI HSM
// HART_START with a boot trampoline, marking each online, and the
// sched_all/flush_tlb_all broadcast primitives the rest of the kernel
// reaches through sched.BroadcastIPI and a TLB-shootdown hook. The
// teacher's own AP bring-up is x86-64 INIT/SIPI through the local APIC
// (`apic` package) — no RISC-V equivalent exists in the retrieval pack —
// so this package is grounded directly on spec.md §4.11's SBI HSM
// sequence, fanned out with golang.org/x/sync/errgroup the way the
// teacher's own goroutine-per-worker pools are organized elsewhere, to
// start every hart concurrently and wait for each to publish itself
// online before returning.
package boot

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/errgroup"

	"grinch/defs"
	"grinch/irqchip"
	"grinch/paging"
	"grinch/percpu"
	"grinch/sched"
)

var errHartStart = errors.New("sbi hart_start failed")

// sbiHartStarted is the SBI HSM extension's success return code.
const sbiHartStarted int64 = 0

// HartStart is the SBI HSM extension's HART_START function: starts hart
// executing at entryVA with a1 in its argument register. Installed by
// the platform layer; nil means hosted/test mode, where StartSecondaries
// runs each secondary's bring-up synchronously in its own goroutine
// instead of waiting on real hardware to jump to the trampoline.
var HartStart func(hart int, entryVA, a1 uintptr) int64

// RemoteSfenceVMA is the SBI RFENCE extension's remote_sfence_vma call
// (spec.md §4.11's flush_tlb_all: "local SFENCE plus an SBI
// remote_sfence_vma with a hart mask of online CPUs excluding self").
// Installed by the platform layer; nil is a safe no-op in hosted tests
// where there is only one address space to begin with.
var RemoteSfenceVMA func(hartMask uint64)

// trampolineEntry is the VA every secondary hart begins executing at —
// a boot trampoline page mapped identity plus kernel, per spec.md
// §4.11. Grinch carries no assembly trampoline of its own (this core
// models the bring-up protocol, not machine code), so the constant
// exists only to give HartStart a plausible argument.
const trampolineEntry uintptr = 0x80200000

var online struct {
	sync.Mutex
	mask uint64
}

// MarkOnline records hart as online. spec.md §4.11 calls for a bitmap
// update "with release fence"; the mutex here is that fence.
func MarkOnline(hart int) {
	online.Lock()
	online.mask |= 1 << uint(hart)
	online.Unlock()
}

// OnlineMask returns the current online-hart bitmap, for
// FlushTLBAll's remote_sfence_vma hart mask.
func OnlineMask() uint64 {
	online.Lock()
	defer online.Unlock()
	return online.mask
}

// StartSecondaries brings up every hart in secondaries (excluding
// bootHart, already running) concurrently via SBI HART_START, waiting
// for each to call MarkOnline before returning. kernelRoot is the boot
// hart's page table root: every secondary's own root must start with
// identical kernel-half top-level entries (spec.md §4.2).
func StartSecondaries(ctx context.Context, bootHart int, secondaries []int, kernelRoot *paging.Root) defs.Err_t {
	percpu.Init(len(secondaries) + 1)
	MarkOnline(bootHart)
	irqchip.ProbeCPU(percpu.Get(bootHart))

	g, _ := errgroup.WithContext(ctx)
	for _, h := range secondaries {
		hart := h
		g.Go(func() error {
			if HartStart != nil {
				if rc := HartStart(hart, trampolineEntry, 0); rc != sbiHartStarted {
					return errHartStart
				}
			}
			secondaryEntry(hart, kernelRoot)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return -defs.EIO
	}
	return 0
}

// secondaryEntry is the Go-side continuation of spec.md §4.11's
// secondary-hart trampoline: copies the kernel half of the boot
// root into a fresh per-hart root, marks itself online, probes the
// irqchip for its context id (the spec's "enables IPIs"), and returns —
// the equivalent of entering prepare_user_return with no current task,
// ready for the scheduler's idle loop to pick up work.
func secondaryEntry(hart int, kernelRoot *paging.Root) {
	cpu := percpu.Get(hart)
	root, err := paging.NewRoot()
	if err == 0 {
		paging.CopyKernelHalf(root, kernelRoot)
	}
	_ = root
	irqchip.ProbeCPU(cpu)
	MarkOnline(hart)
	cpu.HandleEvents = true
}

// SchedAll implements spec.md §4.11's sched_all(): sets handle_events on
// every online CPU so each re-evaluates its runqueue. It sends no IPI;
// the only cross-hart call it makes is RemoteSfenceVMA (when installed)
// with the online-hart mask. Wired as sched.BroadcastIPI so sched.Fork
// can trigger it without importing this package (avoiding a cycle,
// since boot imports sched for percpu/irqchip wiring, not the reverse).
func SchedAll() {
	mask := OnlineMask()
	for _, cpu := range percpu.All() {
		if mask&(1<<uint(cpu.ID)) != 0 {
			cpu.HandleEvents = true
		}
	}
	if RemoteSfenceVMA != nil {
		RemoteSfenceVMA(mask)
	}
}

// Install wires SchedAll into sched.BroadcastIPI. Call once after
// StartSecondaries.
func Install() {
	sched.BroadcastIPI = SchedAll
}

// FlushTLBAll implements spec.md §4.2/§4.11's cross-CPU kernel-mapping
// invalidation: a local SFENCE (left to the platform layer's trap
// return path, which always re-enters the page table) plus a
// remote_sfence_vma to every other online hart.
func FlushTLBAll(selfHart int) {
	if RemoteSfenceVMA == nil {
		return
	}
	mask := OnlineMask() &^ (1 << uint(selfHart))
	RemoteSfenceVMA(mask)
}
