// Package devfs implements the kernel-internal device filesystem spec.md
// §6 describes: zero/null/ttyS<N>/ttySBI chardevs plus a console symlink
// resolved from /chosen/stdout-path. Grounded on the teacher's ufs
// driver-registration shape, generalized to in-memory devices instead of
// disk blocks; chardev nodes are backed by the `circbuf` ring buffer
// package exactly as the teacher's own serial/console drivers use it.
package devfs

import (
	"strings"
	"sync"

	"grinch/circbuf"
	"grinch/defs"
	"grinch/fdops"
	"grinch/stat"
	"grinch/ustr"
	"grinch/vfs"
)

// Chardev is a registered character device: writes append to an output
// sink, reads consume from an input ring buffer (spec.md §6: "write-side
// appends, read-side consumes under the node's lock").
type Chardev struct {
	mu   sync.Mutex
	name string
	in   circbuf.Circbuf_t
	out  func(b []byte) // host console sink for console-class devices; nil for zero/null
	zero bool
	null bool
}

// Reader is a registered dynamic-content read-only device (spec.md §6's
// D_STAT/D_PROF nodes): each Open snapshots Gen()'s current output so a
// reader sees a consistent view for the life of its file description,
// the same "value computed once, drained by repeated read(2)" shape
// Kdata_t already gives writers elsewhere in this tree.
type Reader struct {
	name string
	gen  func() []byte
}

// FS is the mounted devfs instance.
type FS struct {
	mu      sync.Mutex
	devices map[string]*Chardev
	symlink map[string]string
	readers map[string]*Reader
}

// New builds an empty devfs with the fixed device set spec.md §6 names:
// zero, null, one ttyS<N> per requested serial chip, ttySBI, and a
// console symlink resolved by the caller (boot) from /chosen/stdout-path.
func New(numSerial int, consoleTarget string) *FS {
	fs := &FS{devices: map[string]*Chardev{}, symlink: map[string]string{}, readers: map[string]*Reader{}}
	fs.register(&Chardev{name: "zero", zero: true})
	fs.register(&Chardev{name: "null", null: true})
	fs.register(&Chardev{name: "ttySBI"})
	for i := 0; i < numSerial; i++ {
		fs.register(&Chardev{name: ttyName(i)})
	}
	fs.symlink["console"] = consoleTarget
	return fs
}

func ttyName(n int) string {
	const digits = "0123456789"
	if n < 10 {
		return "ttyS" + string(digits[n])
	}
	return "ttyS" + itoa(n)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

func (fs *FS) register(c *Chardev) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	c.in.Cb_init(4096)
	fs.devices[c.name] = c
}

// SetConsoleSink installs the host console writer that receives writes
// to the named chardev (ttySBI or a ttyS<N>). Input is delivered
// separately, through Feed.
func (fs *FS) SetConsoleSink(name string, sink func(b []byte)) {
	fs.mu.Lock()
	c, ok := fs.devices[name]
	fs.mu.Unlock()
	if ok {
		c.out = sink
	}
}

// Feed delivers received bytes into a chardev's input ring buffer (the
// serial driver's RX path, external to this core per spec.md §1).
func (fs *FS) Feed(name string, data []byte) defs.Err_t {
	fs.mu.Lock()
	c, ok := fs.devices[name]
	fs.mu.Unlock()
	if !ok {
		return -defs.ENOENT
	}
	_, err := c.in.Copyin(fdops.MkKdata(data))
	return err
}

// RegisterReader installs name as a D_STAT/D_PROF-class node: opening it
// calls gen to produce the file's entire contents up front (spec.md §6
// names no mechanism for a devfs node to grow while open), which is then
// served like any other read-only byte stream.
func (fs *FS) RegisterReader(name string, gen func() []byte) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.readers[name] = &Reader{name: name, gen: gen}
}

func (fs *FS) Root() vfs.Vnode_i { return &dirVnode{fs: fs} }

func (fs *FS) Lookup(path ustr.Ustr) (vfs.Vnode_i, defs.Err_t) {
	name := path.String()
	if strings.Contains(name, "/") {
		return nil, -defs.ENOENT
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if target, ok := fs.symlink[name]; ok {
		return &symlinkVnode{target: target}, 0
	}
	if c, ok := fs.devices[name]; ok {
		return &chardevVnode{c: c}, 0
	}
	if r, ok := fs.readers[name]; ok {
		return &readerVnode{r: r}, 0
	}
	return nil, -defs.ENOENT
}

type dirVnode struct{ fs *FS }

func (d *dirVnode) Stat(st *stat.Stat_t) defs.Err_t {
	st.Wmode(defs.S_IFDIR)
	return 0
}
func (d *dirVnode) Open(int) (fdops.Fdops_i, defs.Err_t) { return nil, -defs.EISDIR }
func (d *dirVnode) Readlink() (ustr.Ustr, defs.Err_t)    { return nil, -defs.EINVAL }
func (d *dirVnode) Getdents(dst fdops.Userio_i, cursor *int) (int, defs.Err_t) {
	d.fs.mu.Lock()
	names := make([]string, 0, len(d.fs.devices)+len(d.fs.symlink)+len(d.fs.readers))
	for n := range d.fs.devices {
		names = append(names, n)
	}
	for n := range d.fs.symlink {
		names = append(names, n)
	}
	for n := range d.fs.readers {
		names = append(names, n)
	}
	d.fs.mu.Unlock()
	for i := 1; i < len(names); i++ {
		for j := i; j > 0 && names[j-1] > names[j]; j-- {
			names[j-1], names[j] = names[j], names[j-1]
		}
	}
	total := 0
	for ; *cursor < len(names); *cursor++ {
		rec := dirent(names[*cursor])
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

func dirent(name string) []byte {
	buf := make([]byte, 4+len(name)+1)
	buf[0] = byte(defs.DT_REG)
	copy(buf[4:], name)
	return buf
}

type symlinkVnode struct{ target string }

func (s *symlinkVnode) Stat(st *stat.Stat_t) defs.Err_t {
	st.Wmode(defs.S_IFLNK)
	return 0
}
func (s *symlinkVnode) Open(int) (fdops.Fdops_i, defs.Err_t) { return nil, -defs.EINVAL }
func (s *symlinkVnode) Getdents(fdops.Userio_i, *int) (int, defs.Err_t) {
	return 0, -defs.ENOTDIR
}
func (s *symlinkVnode) Readlink() (ustr.Ustr, defs.Err_t) { return ustr.Ustr(s.target), 0 }

type chardevVnode struct{ c *Chardev }

func (v *chardevVnode) Stat(st *stat.Stat_t) defs.Err_t {
	st.Wmode(defs.S_IFCHR)
	return 0
}
func (v *chardevVnode) Open(int) (fdops.Fdops_i, defs.Err_t) { return &chardevFops{c: v.c}, 0 }
func (v *chardevVnode) Getdents(fdops.Userio_i, *int) (int, defs.Err_t) {
	return 0, -defs.ENOTDIR
}
func (v *chardevVnode) Readlink() (ustr.Ustr, defs.Err_t) { return nil, -defs.EINVAL }

type chardevFops struct {
	fdops.Badfdops_i
	c *Chardev
}

func (f *chardevFops) Fstat(st *stat.Stat_t) defs.Err_t {
	st.Wmode(defs.S_IFCHR)
	return 0
}

func (f *chardevFops) Reopen() defs.Err_t { return 0 }

func (f *chardevFops) Read(dst fdops.Userio_i) (int, defs.Err_t) {
	c := f.c
	if c.zero {
		buf := make([]byte, dst.Remain())
		return dst.Uiowrite(buf)
	}
	if c.null {
		return 0, 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.in.Copyout(dst)
}

type readerVnode struct{ r *Reader }

func (v *readerVnode) Stat(st *stat.Stat_t) defs.Err_t {
	st.Wmode(defs.S_IFREG)
	return 0
}
func (v *readerVnode) Open(int) (fdops.Fdops_i, defs.Err_t) {
	return &readerFops{data: v.r.gen()}, 0
}
func (v *readerVnode) Getdents(fdops.Userio_i, *int) (int, defs.Err_t) {
	return 0, -defs.ENOTDIR
}
func (v *readerVnode) Readlink() (ustr.Ustr, defs.Err_t) { return nil, -defs.EINVAL }

// readerFops serves a snapshot taken at Open time, draining it across
// however many Read calls the caller makes (mirroring chardevFops's
// cursor-free, buffer-draining style for the zero/null devices above).
type readerFops struct {
	fdops.Badfdops_i
	mu   sync.Mutex
	data []byte
	off  int
}

func (f *readerFops) Fstat(st *stat.Stat_t) defs.Err_t {
	st.Wmode(defs.S_IFREG)
	return 0
}
func (f *readerFops) Reopen() defs.Err_t { return 0 }
func (f *readerFops) Read(dst fdops.Userio_i) (int, defs.Err_t) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.off >= len(f.data) {
		return 0, 0
	}
	n, err := dst.Uiowrite(f.data[f.off:])
	f.off += n
	return n, err
}

func (f *chardevFops) Write(src fdops.Userio_i) (int, defs.Err_t) {
	c := f.c
	if c.null || c.zero {
		buf := make([]byte, src.Remain())
		return src.Uioread(buf)
	}
	if c.out == nil {
		return 0, -defs.EINVAL
	}
	buf := make([]byte, src.Remain())
	n, err := src.Uioread(buf)
	if err != 0 {
		return n, err
	}
	c.out(buf[:n])
	return n, 0
}
