// Package vfs implements the mount table, path lookup, and vnode
// interfaces SPEC_FULL.md §4.13 describes to fill the gap spec.md §6
// leaves open (a devfs interface, a getdents ABI, and a stat layout, but
// no module owning mount points or path resolution). Grounded on the
// *shape* of the teacher's ufs driver-registration pattern (a small
// interface implemented by a backing store, wired into a generic
// abstraction — ufs/driver.go's Disk_i wired into fs.Fs_t) generalized
// from disk blocks to the three in-core filesystems Grinch actually
// needs: initrdfs, devfs, tmpfs.
package vfs

import (
	"sync"

	"grinch/bpath"
	"grinch/defs"
	"grinch/fdops"
	"grinch/stat"
	"grinch/ustr"
)

// Vnode_i is implemented by every lookup result from an FS_i: a regular
// file, directory, chardev, or symlink (spec.md §6's devfs entry types,
// generalized to every mounted filesystem).
type Vnode_i interface {
	// Stat fills st per spec.md §6's "Stat layout".
	Stat(st *stat.Stat_t) defs.Err_t
	// Open returns an Fdops_i backing a freshly opened file description
	// for this vnode.
	Open(flags int) (fdops.Fdops_i, defs.Err_t)
	// Getdents appends this directory's entries (spec.md §6's
	// grinch_dirent layout) starting at *cursor, returning bytes written
	// and the advanced cursor.
	Getdents(dst fdops.Userio_i, cursor *int) (int, defs.Err_t)
	// Readlink returns a symlink vnode's target path.
	Readlink() (ustr.Ustr, defs.Err_t)
}

// FS_i is implemented by each mountable filesystem driver.
type FS_i interface {
	// Lookup resolves path (already canonicalized, mount-root-relative)
	// to a vnode.
	Lookup(path ustr.Ustr) (Vnode_i, defs.Err_t)
	Root() Vnode_i
}

// Mount_t is one mounted filesystem (spec.md §1's Non-goal "no dynamic
// loading" extends here to "no runtime mount/unmount, no bind mounts" —
// the mount table is populated once at boot).
type Mount_t struct {
	Path   ustr.Ustr
	Driver FS_i
}

var (
	mountLock sync.Mutex
	mounts    []Mount_t
)

// Mount registers driver at path. Called once per filesystem during
// boot (initrdfs at "/", devfs at "/dev", tmpfs at "/tmp").
func Mount(path ustr.Ustr, driver FS_i) {
	mountLock.Lock()
	defer mountLock.Unlock()
	mounts = append(mounts, Mount_t{Path: path, Driver: driver})
}

// Lookup canonicalizes path, picks the mount with the longest matching
// prefix (so "/dev/null" resolves against the devfs mount rather than
// the root initrdfs mount), and resolves the remainder against that
// mount's driver.
func Lookup(path ustr.Ustr) (Vnode_i, defs.Err_t) {
	cpath := bpath.Canonicalize(path)

	mountLock.Lock()
	var best *Mount_t
	for i := range mounts {
		m := &mounts[i]
		if hasPrefix(cpath, m.Path) && (best == nil || len(m.Path) > len(best.Path)) {
			best = m
		}
	}
	mountLock.Unlock()

	if best == nil {
		return nil, -defs.ENOENT
	}
	rel := stripPrefix(cpath, best.Path)
	if len(rel) == 0 {
		return best.Driver.Root(), 0
	}
	return best.Driver.Lookup(rel)
}

func hasPrefix(path, prefix ustr.Ustr) bool {
	if prefix.Eq(ustr.MkUstrRoot()) {
		return true
	}
	if len(path) < len(prefix) {
		return false
	}
	if !path[:len(prefix)].Eq(prefix) {
		return false
	}
	return len(path) == len(prefix) || path[len(prefix)] == '/'
}

// dirFops adapts a Vnode_i's Getdents (which tracks its cursor in the
// caller's variable, not internally) to Fdops_i.Getdents (which has no
// cursor parameter — the description itself must remember where it left
// off across successive getdents(2) calls, spec.md §6).
type dirFops struct {
	fdops.Badfdops_i
	vn     Vnode_i
	cursor int
}

func (d *dirFops) Fstat(st *stat.Stat_t) defs.Err_t { return d.vn.Stat(st) }
func (d *dirFops) Reopen() defs.Err_t               { return 0 }
func (d *dirFops) Getdents(dst fdops.Userio_i) (int, defs.Err_t) {
	return d.vn.Getdents(dst, &d.cursor)
}

// OpenDir wraps vn as an Fdops_i for getdents(2)/fstat(2), used by the
// syscall layer's open(2) when the resolved vnode is a directory (which
// every driver's own Open rejects with -EISDIR, since Open always
// returns a file description meant for read/write, not directory
// listing).
func OpenDir(vn Vnode_i) fdops.Fdops_i {
	return &dirFops{vn: vn}
}

func stripPrefix(path, prefix ustr.Ustr) ustr.Ustr {
	if prefix.Eq(ustr.MkUstrRoot()) {
		if len(path) > 0 && path[0] == '/' {
			return path[1:]
		}
		return path
	}
	rest := path[len(prefix):]
	for len(rest) > 0 && rest[0] == '/' {
		rest = rest[1:]
	}
	return rest
}
