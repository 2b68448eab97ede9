// Package fdops defines the interfaces that every open file description
// implements, independent of which filesystem driver backs it. It mirrors
// the teacher's fdops module (an external "operations" interface consumed
// by fd.Fd_t) generalized to Grinch's VFS core (SPEC_FULL.md §4.13).
package fdops

import (
	"grinch/defs"
	"grinch/stat"
)

// Userio_i abstracts a transfer to or from a user-supplied buffer, whether
// that buffer lives in a process's address space (vm.Userbuf_t) or is a
// plain kernel byte slice (Kdata_t, below). Read/write syscalls and devfs
// chardev drivers operate against this interface rather than a concrete
// buffer type so the same code path serves both.
type Userio_i interface {
	// Uioread copies up to len(dst) bytes into dst, returning bytes copied.
	Uioread(dst []uint8) (int, defs.Err_t)
	// Uiowrite copies up to len(src) bytes from src, returning bytes copied.
	Uiowrite(src []uint8) (int, defs.Err_t)
	// Remain reports how many bytes are left before the buffer is exhausted.
	Remain() int
	// Totalsz reports the buffer's total capacity.
	Totalsz() int
}

// Kdata_t adapts a plain kernel-resident byte slice to Userio_i, for
// transfers that never cross into a process's address space (e.g. the
// kernel's own console writes, or copying between two devfs nodes).
type Kdata_t struct {
	Data []uint8
}

// MkKdata wraps buf for use as a Userio_i.
func MkKdata(buf []uint8) *Kdata_t {
	return &Kdata_t{Data: buf}
}

func (kd *Kdata_t) Uioread(dst []uint8) (int, defs.Err_t) {
	n := copy(dst, kd.Data)
	kd.Data = kd.Data[n:]
	return n, 0
}

func (kd *Kdata_t) Uiowrite(src []uint8) (int, defs.Err_t) {
	kd.Data = append(kd.Data, src...)
	return len(src), 0
}

func (kd *Kdata_t) Remain() int  { return len(kd.Data) }
func (kd *Kdata_t) Totalsz() int { return len(kd.Data) }

// Fdops_i is implemented by every open file description: regular files,
// directories, pipes, and devfs chardev nodes all satisfy it so the
// syscall layer (SPEC_FULL.md §4.12) need not know which backs a given fd.
type Fdops_i interface {
	// Close releases the description. Called once the last referencing
	// fd.Fd_t (after dup/fork) drops its reference.
	Close() defs.Err_t
	// Fstat fills st with the description's current metadata.
	Fstat(st *stat.Stat_t) defs.Err_t
	// Read transfers into dst starting at the description's current
	// offset, advancing it.
	Read(dst Userio_i) (int, defs.Err_t)
	// Write transfers from src at the current offset, advancing it.
	Write(src Userio_i) (int, defs.Err_t)
	// Reopen is called when a description is duplicated (dup, fork) so
	// implementations can bump an internal refcount; it must not fail
	// under ordinary operation, matching the teacher's fd.Copyfd contract.
	Reopen() defs.Err_t
	// Getdents appends directory entries into dst starting at the
	// description's current directory cursor; returns bytes written.
	Getdents(dst Userio_i) (int, defs.Err_t)
	// Ioctl performs a device-specific control operation.
	Ioctl(cmd, arg int) (int, defs.Err_t)
}

// Badfdops_i supplies default operations: Close and Reopen succeed,
// Getdents returns ENOTDIR, Ioctl returns ENOSYS, and Fstat/Read/Write
// return EINVAL. Embedding it lets a
// concrete fdops implementation (e.g. a device with no directory entries)
// opt out of unsupported operations without repeating boilerplate stubs.
type Badfdops_i struct{}

func (Badfdops_i) Close() defs.Err_t                    { return 0 }
func (Badfdops_i) Fstat(*stat.Stat_t) defs.Err_t        { return -defs.EINVAL }
func (Badfdops_i) Read(Userio_i) (int, defs.Err_t)      { return 0, -defs.EINVAL }
func (Badfdops_i) Write(Userio_i) (int, defs.Err_t)     { return 0, -defs.EINVAL }
func (Badfdops_i) Reopen() defs.Err_t                   { return 0 }
func (Badfdops_i) Getdents(Userio_i) (int, defs.Err_t)  { return 0, -defs.ENOTDIR }
func (Badfdops_i) Ioctl(int, int) (int, defs.Err_t)     { return 0, -defs.ENOSYS }
