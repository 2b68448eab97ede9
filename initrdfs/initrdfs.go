// Package initrdfs exposes the initial ramdisk's CPIO "newc" image as a
// read-only vfs.FS_i (spec.md §6: "Exported to userland as a read-only
// initrdfs mount"). Grounded on the teacher's ufs driver-registration
// shape (a backing store wired behind a generic filesystem interface),
// generalized from disk blocks to a CPIO byte image via the `initrd`
// package's lazy iterator.
package initrdfs

import (
	"strings"
	"sync"

	"grinch/defs"
	"grinch/fdops"
	"grinch/initrd"
	"grinch/stat"
	"grinch/ustr"
	"grinch/vfs"
)

// node is either a regular file (entry set) or a synthesized directory
// (entry zero-valued, children populated from path prefixes — the CPIO
// format has no explicit directory entries for Grinch's init images, so
// directories are inferred from path components, matching how the
// teacher's own ufs mkfs step synthesizes directory inodes from a flat
// manifest).
type node struct {
	name     string
	isDir    bool
	entry    initrd.Entry
	children map[string]*node
}

// FS is a mounted initrdfs instance, built once from the raw image.
type FS struct {
	root *node
}

// New parses image and builds the in-memory directory tree once at
// mount time (spec.md §6's initrdfs is read-only, so there is nothing
// to keep the raw image around for after this).
func New(image []byte) (*FS, defs.Err_t) {
	entries, err := initrd.List(image)
	if err != 0 {
		return nil, err
	}
	root := &node{name: "", isDir: true, children: map[string]*node{}}
	for _, e := range entries {
		insert(root, strings.Split(e.Header.Name, "/"), e)
	}
	return &FS{root: root}, 0
}

func insert(dir *node, comps []string, e initrd.Entry) {
	for len(comps) > 0 && comps[0] == "" {
		comps = comps[1:]
	}
	if len(comps) == 0 {
		return
	}
	name := comps[0]
	if len(comps) == 1 {
		dir.children[name] = &node{name: name, entry: e}
		return
	}
	child, ok := dir.children[name]
	if !ok {
		child = &node{name: name, isDir: true, children: map[string]*node{}}
		dir.children[name] = child
	}
	insert(child, comps[1:], e)
}

// Root returns the mount's root directory vnode.
func (fs *FS) Root() vfs.Vnode_i { return &vnode{n: fs.root} }

// Lookup walks the synthesized directory tree component by component.
func (fs *FS) Lookup(path ustr.Ustr) (vfs.Vnode_i, defs.Err_t) {
	cur := fs.root
	for _, comp := range strings.Split(path.String(), "/") {
		if comp == "" {
			continue
		}
		if !cur.isDir {
			return nil, -defs.ENOTDIR
		}
		next, ok := cur.children[comp]
		if !ok {
			return nil, -defs.ENOENT
		}
		cur = next
	}
	return &vnode{n: cur}, 0
}

type vnode struct {
	n *node
}

func (v *vnode) Stat(st *stat.Stat_t) defs.Err_t {
	if v.n.isDir {
		st.Wmode(defs.S_IFDIR)
		return 0
	}
	st.Wmode(defs.S_IFREG)
	st.Wsize(uint(len(v.n.entry.Body)))
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
	names := sortedNames(v.n.children)
	total := 0
	for ; *cursor < len(names); *cursor++ {
		c := v.n.children[names[*cursor]]
		dt := defs.DT_REG
		if c.isDir {
			dt = defs.DT_DIR
		}
		rec := dirent(dt, c.name)
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

func sortedNames(m map[string]*node) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1] > out[j]; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}

// dirent encodes one grinch_dirent record: {u32 type, NUL-terminated
// name} (spec.md §6's "Directory iteration").
func dirent(dtype uint32, name string) []byte {
	buf := make([]byte, 4+len(name)+1)
	buf[0] = byte(dtype)
	buf[1] = byte(dtype >> 8)
	buf[2] = byte(dtype >> 16)
	buf[3] = byte(dtype >> 24)
	copy(buf[4:], name)
	return buf
}

type fileFops struct {
	fdops.Badfdops_i
	n      *node
	offset int
	mu     sync.Mutex
}

func (f *fileFops) Fstat(st *stat.Stat_t) defs.Err_t {
	st.Wmode(defs.S_IFREG)
	st.Wsize(uint(len(f.n.entry.Body)))
	return 0
}

func (f *fileFops) Read(dst fdops.Userio_i) (int, defs.Err_t) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.offset >= len(f.n.entry.Body) {
		return 0, 0
	}
	n, err := dst.Uiowrite(f.n.entry.Body[f.offset:])
	f.offset += n
	return n, err
}

func (f *fileFops) Write(fdops.Userio_i) (int, defs.Err_t) { return 0, -defs.EINVAL }

func (f *fileFops) Reopen() defs.Err_t { return 0 }
