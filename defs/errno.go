// Package defs holds the identifiers shared across every layer of the
// kernel: the error taxonomy (spec.md §7), device and syscall numbers
// (spec.md §6), and the small numeric types (Pid_t, Tid_t) that stand in
// for what the teacher represents as bare ints. Kept and generalized from
// the teacher's own defs package (device.go), which held only device ids.
package defs

// Err_t is the kernel's error-kind sum type. It replaces the ERR_PTR idiom
// (spec.md §9): kernel-internal functions that can fail return a negative
// Err_t instead of smuggling an error code through a pointer return value.
// A positive or zero Err_t is not an error.
type Err_t int

// String renders the errno mnemonic, matching the POSIX names in spec.md §6
// letter for letter.
func (e Err_t) String() string {
	if e < 0 {
		e = -e
	}
	if s, ok := errnoNames[e]; ok {
		return s
	}
	return "EUNKNOWN"
}

// POSIX errno values, fixed by spec.md §6 ("Error numbers follow POSIX
// letter-for-letter").
const (
	ENOENT  Err_t = 2
	E2BIG   Err_t = 7
	EBADF   Err_t = 9
	ECHILD  Err_t = 10
	EAGAIN  Err_t = 11
	ENOMEM  Err_t = 12
	EFAULT  Err_t = 14
	EBUSY   Err_t = 16
	EEXIST  Err_t = 17
	ENOTDIR Err_t = 20
	EISDIR  Err_t = 21
	EINVAL  Err_t = 22
	ERANGE  Err_t = 34
	ENOSYS  Err_t = 38
	ENAMETOOLONG Err_t = 36
	EMSGSIZE Err_t = 97
	EMFILE  Err_t = 24
	ESRCH   Err_t = 3
	EIO     Err_t = 5
)

// ENOHEAP is Grinch-specific: the resource-admission layer (res/bounds,
// kept from the teacher) returns it when a bounded copy loop would need to
// touch more heap than its per-iteration budget allows (spec.md §5's "no
// lock is ever held across a page allocation that may sleep" combined with
// spec.md §7's resource-exhaustion kind). Chosen distinct from ENOMEM so
// callers can tell "the system is out of memory" from "this call would
// have to allocate more than its fair share right now". Both fail the
// syscall; ENOHEAP is returned to userspace, which may retry the call.
const ENOHEAP Err_t = 253

var errnoNames = map[Err_t]string{
	ENOENT:       "ENOENT",
	E2BIG:        "E2BIG",
	EBADF:        "EBADF",
	ECHILD:       "ECHILD",
	EAGAIN:       "EAGAIN",
	ENOMEM:       "ENOMEM",
	EFAULT:       "EFAULT",
	EBUSY:        "EBUSY",
	EEXIST:       "EEXIST",
	ENOTDIR:      "ENOTDIR",
	EISDIR:       "EISDIR",
	EINVAL:       "EINVAL",
	ERANGE:       "ERANGE",
	ENOSYS:       "ENOSYS",
	ENAMETOOLONG: "ENAMETOOLONG",
	EMSGSIZE:     "EMSGSIZE",
	ENOHEAP:      "ENOHEAP",
	EMFILE:       "EMFILE",
	ESRCH:        "ESRCH",
	EIO:          "EIO",
}

// Pid_t identifies a task. Guest vmachine pids are offset by 10000*vm_id
// per spec.md §3.
type Pid_t int

// Tid_t identifies a hart-local thread of execution inside the kernel
// (distinct from Pid_t: a Task runs as exactly one Tid_t at a time, but
// kernel-internal helper routines may be tagged with a Tid_t for the
// per-thread state tracked by tinfo.Tnote_t).
type Tid_t int
