// Package syscall implements the table-driven system-call dispatch of
// spec.md §4.12: a single register holds the call number, up to six
// arguments sit in registers, and the number space splits at
// SysGrinchBase into POSIX-flavoured and Grinch-specific calls. The
// teacher's own syscall layer was x86-64 IDT-specific machine code with
// no portable Go equivalent in the retrieval pack, so this table is
// built directly from spec.md §6's syscall ABI listing and wired to the
// already-ported collaborators it needs: `sched` (fork/exit/wait/
// sched_yield/getpid), `vm` (uaccess, brk), `vfs` (open/stat/getdents/
// chdir/getcwd), `tmpfs` (mkdir), `elf` (execve), and `fd`/`fdops` (the
// fd table itself).
package syscall

import (
	"strings"
	"time"

	"grinch/defs"
	"grinch/elf"
	"grinch/fd"
	"grinch/fdops"
	"grinch/percpu"
	"grinch/sched"
	"grinch/stat"
	"grinch/tmpfs"
	"grinch/trap"
	"grinch/ustr"
	"grinch/vfs"
	"grinch/vm"
)

// handler is one syscall table entry: a thunk that extracts its own
// arguments from regs with the correct types and calls the typed
// handler (spec.md §4.12's "Each entry is a thunk"). writeBack is false
// for calls that never return to this register frame on their success
// path (exit, execve) or that park the task before returning (wait,
// nanosleep on a sched.SleepUntil path).
type handler func(cpu *percpu.CPU, t *sched.Task, regs *trap.Registers) (ret int64, writeBack bool)

var table = map[int]handler{
	defs.SYS_READ:          sysRead,
	defs.SYS_WRITE:         sysWrite,
	defs.SYS_OPEN:          sysOpen,
	defs.SYS_CLOSE:         sysClose,
	defs.SYS_STAT:          sysStat,
	defs.SYS_MKDIR:         sysMkdir,
	defs.SYS_GETDENTS:      sysGetdents,
	defs.SYS_BRK:           sysBrk,
	defs.SYS_CHDIR:         sysChdir,
	defs.SYS_GETCWD:        sysGetcwd,
	defs.SYS_IOCTL:         sysIoctl,
	defs.SYS_SCHED_YIELD:   sysSchedYield,
	defs.SYS_GETPID:        sysGetpid,
	defs.SYS_FORK:          sysFork,
	defs.SYS_EXECVE:        sysExecve,
	defs.SYS_EXIT:          sysExit,
	defs.SYS_WAIT:          sysWait,
	defs.SYS_NANOSLEEP:     sysNanosleep,
	defs.SYS_CLOCK_GETTIME: sysClockGettime,
}

// Install wires this package's Dispatch into trap.SyscallDispatch, so
// boot need only call syscall.Install() once and the trap/syscall
// packages never import each other directly.
func Install() {
	trap.SyscallDispatch = Dispatch
}

// RecordLatency, if installed (by profdev.Install), receives each
// dispatched call's number and elapsed wall time. Left nil costs a single
// nil check per syscall when profiling isn't wired, the same
// hook-or-no-op shape trap.VMForwarder and sched.BroadcastIPI use to keep
// this package and profdev from importing each other.
var RecordLatency func(num int, d time.Duration)

// Dispatch implements spec.md §4.12's ecall entry: a7 holds the syscall
// number (RISC-V Linux convention), a0..a5 the arguments, and a0 again
// the return value. Unknown syscalls return -ENOSYS.
func Dispatch(cpu *percpu.CPU, regs *trap.Registers) {
	t := sched.Current(cpu)
	if t == nil {
		return
	}
	num := int(regs.A(7))

	h, ok := table[num]
	if !ok {
		regs.SetA0(errBits(-defs.ENOSYS))
		return
	}
	start := time.Now()
	ret, writeBack := h(cpu, t, regs)
	if RecordLatency != nil {
		RecordLatency(num, time.Since(start))
	}
	if writeBack {
		regs.SetA0(uint64(ret))
	}
}

// errBits renders a negative Err_t into the two's-complement bit
// pattern a0 carries it back as.
func errBits(e defs.Err_t) uint64 {
	return uint64(int64(e))
}

func errRet(e defs.Err_t) (int64, bool) {
	return int64(e), true
}

func sysRead(cpu *percpu.CPU, t *sched.Task, regs *trap.Registers) (int64, bool) {
	f, err := t.Fdget(int(regs.A(0)))
	if err != 0 {
		return errRet(err)
	}
	ub := vm.MkUserbuf(t.As, int(regs.A(1)), int(regs.A(2)))
	n, err := f.Fops.Read(ub)
	if err != 0 {
		return errRet(err)
	}
	return int64(n), true
}

func sysWrite(cpu *percpu.CPU, t *sched.Task, regs *trap.Registers) (int64, bool) {
	f, err := t.Fdget(int(regs.A(0)))
	if err != 0 {
		return errRet(err)
	}
	ub := vm.MkUserbuf(t.As, int(regs.A(1)), int(regs.A(2)))
	n, err := f.Fops.Write(ub)
	if err != 0 {
		return errRet(err)
	}
	return int64(n), true
}

func sysOpen(cpu *percpu.CPU, t *sched.Task, regs *trap.Registers) (int64, bool) {
	path, err := t.As.Userstr(int(regs.A(0)), 512)
	if err != 0 {
		return errRet(err)
	}
	flags := int(regs.A(1))

	full := t.Cwd.Canonicalpath(path)
	vn, err := vfs.Lookup(full)
	if err != 0 {
		return errRet(err)
	}
	fops, err := vn.Open(flags)
	if err == -defs.EISDIR {
		fops, err = vfs.OpenDir(vn), 0
	}
	if err != 0 {
		return errRet(err)
	}
	num, err := t.Fdadd(&fd.Fd_t{Fops: fops, Perms: fd.FD_READ | fd.FD_WRITE})
	if err != 0 {
		return errRet(err)
	}
	return int64(num), true
}

func sysClose(cpu *percpu.CPU, t *sched.Task, regs *trap.Registers) (int64, bool) {
	return errRet(t.Fdclose(int(regs.A(0))))
}

func sysStat(cpu *percpu.CPU, t *sched.Task, regs *trap.Registers) (int64, bool) {
	path, err := t.As.Userstr(int(regs.A(0)), 512)
	if err != 0 {
		return errRet(err)
	}
	full := t.Cwd.Canonicalpath(path)
	vn, err := vfs.Lookup(full)
	if err != 0 {
		return errRet(err)
	}
	var st stat.Stat_t
	if err := vn.Stat(&st); err != 0 {
		return errRet(err)
	}
	if err := t.As.K2user(st.Bytes(), int(regs.A(1))); err != 0 {
		return errRet(err)
	}
	return 0, true
}

// sysMkdir supports creating directories only under tmpfs, the sole
// writable mount (spec.md §1 Non-goal: no filesystem write-back). A
// parent resolving to any other driver fails with -ENOTDIR, since
// tmpfs.Create type-asserts its parent vnode and rejects anything else.
func sysMkdir(cpu *percpu.CPU, t *sched.Task, regs *trap.Registers) (int64, bool) {
	path, err := t.As.Userstr(int(regs.A(0)), 512)
	if err != 0 {
		return errRet(err)
	}
	full := t.Cwd.Canonicalpath(path).String()
	idx := strings.LastIndex(full, "/")
	if idx < 0 {
		return errRet(-defs.EINVAL)
	}
	dirPath, name := full[:idx], full[idx+1:]
	if dirPath == "" {
		dirPath = "/"
	}
	if name == "" {
		return errRet(-defs.EINVAL)
	}
	parent, err := vfs.Lookup(ustr.Ustr(dirPath))
	if err != 0 {
		return errRet(err)
	}
	_, err = tmpfs.Create(parent, name, true)
	return errRet(err)
}

func sysGetdents(cpu *percpu.CPU, t *sched.Task, regs *trap.Registers) (int64, bool) {
	f, err := t.Fdget(int(regs.A(0)))
	if err != 0 {
		return errRet(err)
	}
	ub := vm.MkUserbuf(t.As, int(regs.A(1)), int(regs.A(2)))
	n, err := f.Fops.Getdents(ub)
	if err != 0 {
		return errRet(err)
	}
	return int64(n), true
}

func sysBrk(cpu *percpu.CPU, t *sched.Task, regs *trap.Registers) (int64, bool) {
	nb, err := t.As.Brk(uintptr(regs.A(0)))
	if err != 0 {
		return errRet(err)
	}
	return int64(nb), true
}

func sysChdir(cpu *percpu.CPU, t *sched.Task, regs *trap.Registers) (int64, bool) {
	path, err := t.As.Userstr(int(regs.A(0)), 512)
	if err != 0 {
		return errRet(err)
	}
	full := t.Cwd.Canonicalpath(path)
	if _, err := vfs.Lookup(full); err != 0 {
		return errRet(err)
	}
	t.Cwd.Lock()
	t.Cwd.Path = full
	t.Cwd.Unlock()
	return 0, true
}

func sysGetcwd(cpu *percpu.CPU, t *sched.Task, regs *trap.Registers) (int64, bool) {
	t.Cwd.Lock()
	p := append(ustr.Ustr(nil), t.Cwd.Path...)
	t.Cwd.Unlock()
	if len(p) >= int(regs.A(1)) {
		return errRet(-defs.ERANGE)
	}
	buf := append(append([]byte(nil), p...), 0)
	if err := t.As.K2user(buf, int(regs.A(0))); err != 0 {
		return errRet(err)
	}
	return int64(len(p)), true
}

func sysIoctl(cpu *percpu.CPU, t *sched.Task, regs *trap.Registers) (int64, bool) {
	f, err := t.Fdget(int(regs.A(0)))
	if err != 0 {
		return errRet(err)
	}
	n, err := f.Fops.Ioctl(int(regs.A(1)), int(regs.A(2)))
	if err != 0 {
		return errRet(err)
	}
	return int64(n), true
}

func sysSchedYield(cpu *percpu.CPU, t *sched.Task, regs *trap.Registers) (int64, bool) {
	cpu.HandleEvents = true
	return 0, true
}

func sysGetpid(cpu *percpu.CPU, t *sched.Task, regs *trap.Registers) (int64, bool) {
	return int64(t.Pid), true
}

func sysFork(cpu *percpu.CPU, t *sched.Task, regs *trap.Registers) (int64, bool) {
	child, err := sched.Fork(t)
	if err != 0 {
		return errRet(err)
	}
	return int64(child.Pid), true
}

// readAll drains fops via repeated Read calls into a growable kernel
// buffer, for execve loading an image straight out of a vfs.Vnode_i
// (Grinch has no demand-paged file-backed mmap, so the whole image is
// read up front — mirroring elf.Load's own doc comment).
func readAll(fops fdops.Fdops_i) ([]byte, defs.Err_t) {
	kd := fdops.MkKdata(nil)
	for {
		n, err := fops.Read(kd)
		if err != 0 {
			return nil, err
		}
		if n == 0 {
			break
		}
	}
	return kd.Data, 0
}

func sysExecve(cpu *percpu.CPU, t *sched.Task, regs *trap.Registers) (int64, bool) {
	path, err := t.As.Userstr(int(regs.A(0)), 512)
	if err != 0 {
		return errRet(err)
	}
	full := t.Cwd.Canonicalpath(path)
	vn, err := vfs.Lookup(full)
	if err != 0 {
		return errRet(err)
	}
	fops, err := vn.Open(0)
	if err != 0 {
		return errRet(err)
	}
	image, err := readAll(fops)
	if err != 0 {
		return errRet(err)
	}

	// A fresh address space, its kernel half copied from the caller's
	// (every process shares the identical kernel mapping), replaces the
	// old one wholesale — spec.md names no partial/COW execve.
	newAs, err := vm.NewVm(t.As.Pmap)
	if err != 0 {
		return errRet(err)
	}
	loaded, err := elf.Load(newAs, image)
	if err != 0 {
		return errRet(err)
	}

	oldAs := t.As
	t.As = newAs
	oldAs.Teardown()
	t.Regs.PC = loaded.Entry
	t.Regs.SP = loaded.Sp
	return 0, false
}

func sysExit(cpu *percpu.CPU, t *sched.Task, regs *trap.Registers) (int64, bool) {
	sched.Exit(t, int(regs.A(0)))
	return 0, false
}

func sysWait(cpu *percpu.CPU, t *sched.Task, regs *trap.Registers) (int64, bool) {
	pid, status, ok, err := sched.Wait(t, defs.Pid_t(int(regs.A(0))))
	if err != 0 {
		return errRet(err)
	}
	if ok {
		if regs.A(1) != 0 {
			t.As.Userwriten(int(regs.A(1)), 4, status)
		}
		return int64(pid), true
	}
	sched.BeginWaitBlock(t, defs.Pid_t(int(regs.A(0))), int(regs.A(1)))
	return 0, false
}

func sysNanosleep(cpu *percpu.CPU, t *sched.Task, regs *trap.Registers) (int64, bool) {
	usec := int64(regs.A(0))
	deadline := sched.Now() + usec*int64(time.Microsecond)
	sched.SleepUntil(cpu, t, deadline)
	return 0, false
}

func sysClockGettime(cpu *percpu.CPU, t *sched.Task, regs *trap.Registers) (int64, bool) {
	now := sched.Now()
	buf := make([]byte, 16)
	putLE64(buf[0:8], uint64(now/int64(time.Second)))
	putLE64(buf[8:16], uint64(now%int64(time.Second)))
	if err := t.As.K2user(buf, int(regs.A(1))); err != 0 {
		return errRet(err)
	}
	return 0, true
}

func putLE64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * uint(i)))
	}
}
