package syscall

import (
	"testing"
	"time"

	"grinch/defs"
	"grinch/percpu"
	"grinch/sched"
	"grinch/trap"
)

func newTask(pid defs.Pid_t) *sched.Task {
	t := &sched.Task{Pid: pid}
	return t
}

func TestDispatchUnknownSyscallReturnsENOSYS(t *testing.T) {
	percpu.Init(1)
	cpu := percpu.Get(0)
	cpu.Current = newTask(1)

	var regs trap.Registers
	regs.X[16] = 0xffff // bogus syscall number in a7 (x17 == X[16])

	Dispatch(cpu, &regs)

	got := int64(regs.X[9])
	if got != int64(-defs.ENOSYS) {
		t.Fatalf("a0 = %d, want %d (-ENOSYS)", got, -defs.ENOSYS)
	}
}

func TestDispatchGetpidWritesBackPid(t *testing.T) {
	percpu.Init(1)
	cpu := percpu.Get(0)
	cpu.Current = newTask(7)

	var regs trap.Registers
	regs.X[16] = uint64(defs.SYS_GETPID)

	Dispatch(cpu, &regs)

	if regs.X[9] != 7 {
		t.Fatalf("a0 = %d, want 7", regs.X[9])
	}
}

func TestDispatchNoCurrentTaskIsNoop(t *testing.T) {
	percpu.Init(1)
	cpu := percpu.Get(0)
	cpu.Current = nil

	var regs trap.Registers
	regs.X[16] = uint64(defs.SYS_GETPID)
	regs.X[9] = 0xdeadbeef

	Dispatch(cpu, &regs)

	if regs.X[9] != 0xdeadbeef {
		t.Fatalf("Dispatch touched a0 with no current task: %#x", regs.X[9])
	}
}

func TestRecordLatencyHookIsInvoked(t *testing.T) {
	percpu.Init(1)
	cpu := percpu.Get(0)
	cpu.Current = newTask(3)

	var gotNum int
	var gotDur time.Duration
	prev := RecordLatency
	RecordLatency = func(num int, d time.Duration) { gotNum, gotDur = num, d }
	defer func() { RecordLatency = prev }()

	var regs trap.Registers
	regs.X[16] = uint64(defs.SYS_GETPID)
	Dispatch(cpu, &regs)

	if gotNum != defs.SYS_GETPID {
		t.Fatalf("RecordLatency saw num=%d, want %d", gotNum, defs.SYS_GETPID)
	}
	if gotDur < 0 {
		t.Fatalf("RecordLatency saw negative duration %v", gotDur)
	}
}

func TestInstallWiresTrapDispatch(t *testing.T) {
	Install()
	if trap.SyscallDispatch == nil {
		t.Fatalf("Install did not set trap.SyscallDispatch")
	}
}
