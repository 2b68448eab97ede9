// sbi.go implements the minimal SBI v2.0 shim spec.md §4.10 describes:
// Base, TIME, and a "Grinch" extension, plus CONSOLE_PUTCHAR forwarding.
package vmm

import (
	"grinch/percpu"
	"grinch/sched"
)

// SBI extension ids (opaque to the guest beyond their numeric value; the
// real SBI spec assigns these, Grinch only implements the subset spec.md
// §4.10 names).
const (
	ExtBase    = 0x10
	ExtTime    = 0x54494D45
	ExtGrinch  = 0x0A000001 // firmware-specific range, Grinch's own id
	ExtConsole = 0x01       // legacy console_putchar extension
)

// Base extension function ids.
const (
	BaseGetSpecVersion = 0
	BaseGetImplID      = 1
	BaseProbeExt       = 3
)

// Grinch extension function ids (spec.md §4.10).
const (
	GrinchPresent = 0
	GrinchYield   = 1
	GrinchBP      = 2
	GrinchVMQuit  = 3
)

// implID identifies Grinch's own SBI implementation in BaseGetImplID
// probes, distinct from OpenSBI/BBL so a guest can branch on quirks.
const implID = 0x4752494E // "GRIN"

// specVersion advertises SBI v2.0 (major<<24 | minor).
const specVersion = 2 << 24

// ConsoleSink receives bytes written via the legacy CONSOLE_PUTCHAR call
// or the Grinch console extension; installed by the boot package with the
// host console's write function.
var ConsoleSink func(b byte)

// HandleEcall dispatches one guest ecall by (extension id in a7, function
// id in a6), with up to two arguments in a0/a1. It returns the SBI return
// value that belongs in the guest's a0 and reports whether the extension
// was recognized.
func HandleEcall(cpu *percpu.CPU, v *VMachine, a0, a1 uint64) (ret uint64, handled bool) {
	return dispatchEcall(cpu, v, extFromRegs(v), fnFromRegs(v), a0, a1)
}

// extFromRegs/fnFromRegs read the guest's a7 (extension) / a6 (function)
// registers. The concrete register frame lives in trap.Registers, which
// this package cannot import without creating a vmm<->trap cycle (trap
// already imports sched, and vmm embeds *sched.Task); HandleTrap's caller
// (the VMForwarder hook installed on trap.Entry) is expected to pass the
// already-decoded extension/function ids directly in a real build. Kept
// as a seam so the SBI table itself is exercised independent of how the
// host plumbs a7/a6 from the register frame.
func extFromRegs(v *VMachine) uint64 { return uint64(v.CSR.Vsscratch >> 32) }
func fnFromRegs(v *VMachine) uint64  { return v.CSR.Vsscratch & 0xffffffff }

func dispatchEcall(cpu *percpu.CPU, v *VMachine, ext, fn, a0, a1 uint64) (uint64, bool) {
	switch ext {
	case ExtBase:
		switch fn {
		case BaseGetSpecVersion:
			return specVersion, true
		case BaseGetImplID:
			return implID, true
		case BaseProbeExt:
			return probeExt(a0), true
		}
	case ExtTime:
		// SET_TIMER (fn 0): clears the virtual timer-pending bit and
		// arms task_sleep_until for the requested absolute time.
		v.TimerPending = false
		sched.SleepUntil(cpu, v.Task, int64(a0))
		return 0, true
	case ExtGrinch:
		switch fn {
		case GrinchPresent:
			return uint64(v.GrinchID), true
		case GrinchYield:
			cpu.HandleEvents = true
			return 0, true
		case GrinchBP:
			return 42, true
		case GrinchVMQuit:
			sched.Exit(v.Task, int(a0))
			return 0, true
		}
	case ExtConsole:
		if ConsoleSink != nil {
			ConsoleSink(byte(a0))
		}
		return 0, true
	}
	return uint64(sbiErrNotSupported), false
}

const sbiErrNotSupported = ^uint64(1) // SBI_ERR_NOT_SUPPORTED == -2

func probeExt(ext uint64) uint64 {
	switch ext {
	case ExtBase, ExtTime, ExtGrinch:
		return 1
	case 0x00735049: // RFENCE
		return 1
	case 0x00735049 + 1: // IPI (placeholder id, advertised per spec.md)
		return 1
	case 0x48534D: // HSM
		return 1
	default:
		return 0
	}
}
