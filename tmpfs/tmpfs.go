// Package tmpfs implements the in-memory mutable filesystem the
// GLOSSARY names but spec.md's distillation leaves unimplemented — a
// feature restored per SPEC_FULL.md §4.13. Grounded on the teacher's
// ufs driver-registration shape (generalized from disk blocks to pages)
// for the vfs.FS_i wiring, and on the teacher's `hashtable` package
// (otherwise unwired in the retrieval pack) for each directory's
// name-to-vnode index, the same lock-striped concurrent map shape the
// teacher built for its own in-kernel lookup tables.
package tmpfs

import (
	"strings"
	"sync"

	"grinch/defs"
	"grinch/fdops"
	"grinch/hashtable"
	"grinch/mem"
	"grinch/stat"
	"grinch/ustr"
	"grinch/vfs"
)

// dirBuckets sizes every directory's hashtable; tmpfs trees are small
// (spec.md has no large-directory scenario), so a fixed small bucket
// count avoids a resize path the teacher's hashtable doesn't implement.
const dirBuckets = 16

type node struct {
	mu       sync.Mutex
	isDir    bool
	children *hashtable.Hashtable_t // name(string) -> *node, directories only
	data     []byte                 // regular files only
}

func newDir() *node {
	return &node{isDir: true, children: hashtable.MkHash(dirBuckets)}
}

// FS is a mounted tmpfs instance.
type FS struct {
	root *node
}

// New returns an empty tmpfs with just a root directory.
func New() *FS {
	return &FS{root: newDir()}
}

func (fs *FS) Root() vfs.Vnode_i { return &vnode{n: fs.root} }

func (fs *FS) Lookup(path ustr.Ustr) (vfs.Vnode_i, defs.Err_t) {
	cur := fs.root
	for _, comp := range strings.Split(path.String(), "/") {
		if comp == "" {
			continue
		}
		if !cur.isDir {
			return nil, -defs.ENOTDIR
		}
		v, ok := cur.children.Get(comp)
		if !ok {
			return nil, -defs.ENOENT
		}
		cur = v.(*node)
	}
	return &vnode{n: cur}, 0
}

// Create makes a new regular file or directory named name inside dirVnode.
func Create(dirVnode vfs.Vnode_i, name string, isDir bool) (vfs.Vnode_i, defs.Err_t) {
	d, ok := dirVnode.(*vnode)
	if !ok || !d.n.isDir {
		return nil, -defs.ENOTDIR
	}
	if _, exists := d.n.children.Get(name); exists {
		return nil, -defs.EEXIST
	}
	var n *node
	if isDir {
		n = newDir()
	} else {
		n = &node{}
	}
	d.n.children.Set(name, n)
	return &vnode{n: n}, 0
}

type vnode struct {
	n *node
}

func (v *vnode) Stat(st *stat.Stat_t) defs.Err_t {
	v.n.mu.Lock()
	defer v.n.mu.Unlock()
	if v.n.isDir {
		st.Wmode(defs.S_IFDIR)
		return 0
	}
	st.Wmode(defs.S_IFREG)
	st.Wsize(uint(len(v.n.data)))
	return 0
}

func (v *vnode) Open(flags int) (fdops.Fdops_i, defs.Err_t) {
	if v.n.isDir {
		return nil, -defs.EISDIR
	}
	return &fileFops{n: v.n}, 0
}

func (v *vnode) Getdents(dst fdops.Userio_i, cursor *int) (int, defs.Err_t) {
	if !v.n.isDir {
		return 0, -defs.ENOTDIR
	}
	pairs := v.n.children.Elems()
	total := 0
	for ; *cursor < len(pairs); *cursor++ {
		p := pairs[*cursor]
		name := p.Key.(string)
		child := p.Value.(*node)
		dt := defs.DT_REG
		if child.isDir {
			dt = defs.DT_DIR
		}
		rec := dirent(dt, name)
		n, err := dst.Uiowrite(rec)
		if err != 0 {
			return total, err
		}
		if n != len(rec) {
			return total, 0
		}
		total += n
	}
	return total, 0
}

func (v *vnode) Readlink() (ustr.Ustr, defs.Err_t) { return nil, -defs.EINVAL }

func dirent(dtype uint32, name string) []byte {
	buf := make([]byte, 4+len(name)+1)
	buf[0] = byte(dtype)
	copy(buf[4:], name)
	return buf
}

// fileMax caps one tmpfs file's total size at 64 pages; a write that would
// end past it fails with ENOMEM. Growth is a plain byte-slice append
// guarded by the node lock rather than a page-list (spec.md §1's "no
// swapping" Non-goal means tmpfs content is never more than it physically
// occupies anyway).
const fileMax = 64 * mem.PGSIZE

type fileFops struct {
	fdops.Badfdops_i
	n      *node
	offset int
}

func (f *fileFops) Fstat(st *stat.Stat_t) defs.Err_t {
	f.n.mu.Lock()
	defer f.n.mu.Unlock()
	st.Wmode(defs.S_IFREG)
	st.Wsize(uint(len(f.n.data)))
	return 0
}

func (f *fileFops) Reopen() defs.Err_t { return 0 }

func (f *fileFops) Read(dst fdops.Userio_i) (int, defs.Err_t) {
	f.n.mu.Lock()
	defer f.n.mu.Unlock()
	if f.offset >= len(f.n.data) {
		return 0, 0
	}
	n, err := dst.Uiowrite(f.n.data[f.offset:])
	f.offset += n
	return n, err
}

func (f *fileFops) Write(src fdops.Userio_i) (int, defs.Err_t) {
	f.n.mu.Lock()
	defer f.n.mu.Unlock()
	buf := make([]byte, src.Remain())
	n, err := src.Uioread(buf)
	if err != 0 {
		return n, err
	}
	buf = buf[:n]
	end := f.offset + n
	if end > fileMax {
		return 0, -defs.ENOMEM
	}
	if end > len(f.n.data) {
		grown := make([]byte, end)
		copy(grown, f.n.data)
		f.n.data = grown
	}
	copy(f.n.data[f.offset:end], buf)
	f.offset = end
	return n, 0
}
