package vm

import (
	"sync"
	"time"

	"grinch/bounds"
	"grinch/defs"
	"grinch/mem"
	"grinch/paging"
	"grinch/res"
	"grinch/ustr"
	"grinch/util"
)

// USERMIN is the lowest virtual address a user VMA may occupy (spec.md
// §4.7's USER_START).
const USERMIN uintptr = 0x1000

// PGOFFSET masks the in-page offset of a user virtual address.
const PGOFFSET = mem.PGOFFSET

// Vm_t represents a process address space. The mutex protects
// modifications to Vmregion and Pmap.
type Vm_t struct {
	// lock for vmregion and pmap
	sync.Mutex

	Vmregion Vmregion_t
	Pmap     *paging.Root

	pgfltaken bool

	heapBase uintptr // 0 until the first Brk call establishes the heap VMA
	brk      uintptr
}

// HeapBase is the fixed virtual address spec.md §4.7's single growable
// vma_heap starts at, chosen well clear of a typical ELF image's loaded
// segments and far below elf.UserStackBase.
const HeapBase uintptr = 0x10000000

// Brk implements the sbrk-style heap (spec.md §4.7): the single heap VMA
// at HeapBase grows on brk(addr), with the new pages allocated and mapped
// in the process's page table. addr==0, or any addr at or below the
// current break (including one below HeapBase), only returns the current
// break; the heap is never shrunk.
func (as *Vm_t) Brk(addr uintptr) (uintptr, defs.Err_t) {
	as.Lock()
	defer as.Unlock()

	if as.heapBase == 0 {
		as.heapBase = HeapBase
		as.brk = HeapBase
		if as.Vmregion.Overlaps(HeapBase, 1) {
			return 0, -defs.EINVAL
		}
		as.Vmregion.Insert(&Vmi_t{Base: HeapBase, Len: 0, Perms: PERM_R | PERM_W, Mtype: VHEAP})
	}
	if addr == 0 || addr <= as.brk {
		return as.brk, 0
	}

	growBy := uintptr(mem.Roundpg(int(addr - as.brk)))
	vmi, ok := as.Vmregion.FindByBase(as.heapBase)
	if !ok {
		return 0, -defs.EINVAL
	}
	newLen := vmi.Len + growBy
	pages := int(growBy) / mem.PGSIZE
	if pages > 0 {
		pa, err := mem.PMM.PhysPagesAllocAligned(pages, mem.PGSIZE)
		if err != 0 {
			return 0, err
		}
		if err := paging.MapRange(as.Pmap, mem.Va_t(vmi.Base+vmi.Len), pa, int(growBy), vmi.flags()); err != 0 {
			mem.PMM.PhysFreePages(pa, pages)
			return 0, err
		}
		zeroUserRange(as.Pmap, vmi.Base+vmi.Len, growBy)
	}
	vmi.Len = newLen
	as.brk = addr
	return as.brk, 0
}

// NewVm allocates a fresh address space with a page-table root sharing
// the kernel half of the currently-installed kernel root (spec.md §4.2).
func NewVm(kernelRoot *paging.Root) (*Vm_t, defs.Err_t) {
	root, err := paging.NewRoot()
	if err != 0 {
		return nil, err
	}
	if kernelRoot != nil {
		paging.CopyKernelHalf(root, kernelRoot)
	}
	return &Vm_t{Pmap: root}, 0
}

// Lock_pmap acquires the address space mutex and marks that a page
// fault is being handled.
func (as *Vm_t) Lock_pmap() {
	as.Lock()
	as.pgfltaken = true
}

// Unlock_pmap releases the address space mutex after page table
// manipulation is complete.
func (as *Vm_t) Unlock_pmap() {
	as.pgfltaken = false
	as.Unlock()
}

// Lockassert_pmap panics if the address space mutex is not held.
func (as *Vm_t) Lockassert_pmap() {
	if !as.pgfltaken {
		panic("pgfl lock must be held")
	}
}

// Userdmap8_inner returns a slice mapping of the user address at va.
// When k2u is true the memory will be prepared for a kernel write. Faults
// a LAZY page in on demand; it returns the mapped slice or an error code.
func (as *Vm_t) Userdmap8_inner(va int, k2u bool) ([]uint8, defs.Err_t) {
	as.Lockassert_pmap()

	voff := va & int(PGOFFSET)
	uva := uintptr(va)
	vmi, ok := as.Vmregion.Lookup(uva)
	if !ok {
		return nil, -defs.EFAULT
	}
	if k2u && vmi.Perms&PERM_W == 0 {
		return nil, -defs.EFAULT
	}

	pa := paging.GetPhys(as.Pmap, mem.Va_t(va)&^mem.Va_t(PGOFFSET))
	if pa == paging.INVALID {
		if vmi.Mtype != VLAZY {
			return nil, -defs.ENOMEM
		}
		if err := as.UvmaHandleFault(vmi, uva); err != 0 {
			return nil, err
		}
		pa = paging.GetPhys(as.Pmap, mem.Va_t(va)&^mem.Va_t(PGOFFSET))
	}

	pg := mem.Physmap(pa)
	return pg[voff:], 0
}

func (as *Vm_t) _userdmap8(va int, k2u bool) ([]uint8, defs.Err_t) {
	as.Lock_pmap()
	ret, err := as.Userdmap8_inner(va, k2u)
	as.Unlock_pmap()
	return ret, err
}

// Userdmap8r maps the user address for reading and returns the
// resulting slice or an error.
func (as *Vm_t) Userdmap8r(va int) ([]uint8, defs.Err_t) {
	return as._userdmap8(va, false)
}

func (as *Vm_t) usermapped(va, n int) bool {
	as.Lock_pmap()
	defer as.Unlock_pmap()

	_, ok := as.Vmregion.Lookup(uintptr(va))
	return ok
}

// Userreadn reads n bytes from the user address va and returns the
// value and any error encountered.
func (as *Vm_t) Userreadn(va, n int) (int, defs.Err_t) {
	as.Lock_pmap()
	a, b := as.userreadn_inner(va, n)
	as.Unlock_pmap()
	return a, b
}

func (as *Vm_t) userreadn_inner(va, n int) (int, defs.Err_t) {
	as.Lockassert_pmap()
	if n > 8 {
		panic("large n")
	}
	var ret int
	var src []uint8
	var err defs.Err_t
	for i := 0; i < n; i += len(src) {
		src, err = as.Userdmap8_inner(va+i, false)
		if err != 0 {
			return 0, err
		}
		l := n - i
		if len(src) < l {
			l = len(src)
		}
		v := util.Readn(src, l, 0)
		ret |= v << (8 * uint(i))
	}
	return ret, 0
}

// Userwriten writes n bytes of val to the user address va. It
// returns an error code if the copy fails.
func (as *Vm_t) Userwriten(va, n, val int) defs.Err_t {
	if n > 8 {
		panic("large n")
	}
	as.Lock_pmap()
	defer as.Unlock_pmap()
	var dst []uint8
	for i := 0; i < n; i += len(dst) {
		v := val >> (8 * uint(i))
		t, err := as.Userdmap8_inner(va+i, true)
		dst = t
		if err != 0 {
			return err
		}
		util.Writen(dst, n-i, 0, v)
	}
	return 0
}

// Userstr copies a NUL terminated string from user space up to
// lenmax bytes. It returns the copied string and an error code.
func (as *Vm_t) Userstr(uva int, lenmax int) (ustr.Ustr, defs.Err_t) {
	if lenmax < 0 {
		return nil, 0
	}
	as.Lock_pmap()
	i := 0
	s := ustr.MkUstr()
	for {
		str, err := as.Userdmap8_inner(uva+i, false)
		if err != 0 {
			as.Unlock_pmap()
			return s, err
		}
		for j, c := range str {
			if c == 0 {
				s = append(s, str[:j]...)
				as.Unlock_pmap()
				return s, 0
			}
		}
		s = append(s, str...)
		i += len(str)
		if len(s) >= lenmax {
			as.Unlock_pmap()
			return nil, -defs.ENAMETOOLONG
		}
	}
}

// Usertimespec reads a timeval structure from user memory at va
// and returns both the duration and time value.
func (as *Vm_t) Usertimespec(va int) (time.Duration, time.Time, defs.Err_t) {
	var zt time.Time
	secs, err := as.Userreadn(va, 8)
	if err != 0 {
		return 0, zt, err
	}
	nsecs, err := as.Userreadn(va+8, 8)
	if err != 0 {
		return 0, zt, err
	}
	if secs < 0 || nsecs < 0 {
		return 0, zt, -defs.EINVAL
	}
	tot := time.Duration(secs) * time.Second
	tot += time.Duration(nsecs) * time.Nanosecond
	t := time.Unix(int64(secs), int64(nsecs))
	return tot, t, 0
}

// K2user copies src into the user virtual address space starting at
// uva. The copy may be partial if the region is not fully mapped.
func (as *Vm_t) K2user(src []uint8, uva int) defs.Err_t {
	as.Lock_pmap()
	ret := as.K2user_inner(src, uva)
	as.Unlock_pmap()
	return ret
}

func (as *Vm_t) K2user_inner(src []uint8, uva int) defs.Err_t {
	as.Lockassert_pmap()
	cnt := 0
	l := len(src)
	for cnt != l {
		gimme := bounds.Bounds(bounds.B_ASPACE_T_K2USER_INNER)
		if !res.Resadd_noblock(gimme) {
			return -defs.ENOHEAP
		}
		dst, err := as.Userdmap8_inner(uva+cnt, true)
		if err != 0 {
			return err
		}
		ub := len(src)
		if ub > len(dst) {
			ub = len(dst)
		}
		copy(dst, src)
		src = src[ub:]
		cnt += ub
	}
	return 0
}

// User2k copies len(dst) bytes from the user virtual address uva
// into dst. It returns an error code if the read fails.
func (as *Vm_t) User2k(dst []uint8, uva int) defs.Err_t {
	as.Lock_pmap()
	ret := as.User2k_inner(dst, uva)
	as.Unlock_pmap()
	return ret
}

func (as *Vm_t) User2k_inner(dst []uint8, uva int) defs.Err_t {
	as.Lockassert_pmap()
	cnt := 0
	for len(dst) != 0 {
		gimme := bounds.Bounds(bounds.B_ASPACE_T_USER2K_INNER)
		if !res.Resadd_noblock(gimme) {
			return -defs.ENOHEAP
		}
		src, err := as.Userdmap8_inner(uva+cnt, false)
		if err != 0 {
			return err
		}
		did := copy(dst, src)
		dst = dst[did:]
		cnt += did
	}
	return 0
}

// Unusedva_inner finds the lowest unused VA at or above startva able to
// fit a region of the given length.
func (as *Vm_t) Unusedva_inner(startva, length int) int {
	as.Lockassert_pmap()
	if length < 0 || length > 1<<48 {
		panic("weird len")
	}
	startva = util.Rounddown(startva, mem.PGSIZE)
	if startva < int(USERMIN) {
		startva = int(USERMIN)
	}
	ret, l := as.Vmregion.empty(uintptr(startva), uintptr(length))
	if uintptr(startva) > ret && uintptr(startva) < ret+l {
		return startva
	}
	return int(ret)
}

// Sys_pgfault resolves a page fault for the address space as at the
// given fault address. isWrite reports whether the fault was a store.
func Sys_pgfault(as *Vm_t, vmi *Vmi_t, faultaddr uintptr, isWrite bool) defs.Err_t {
	isguard := vmi.Perms == 0
	writeok := vmi.Perms&PERM_W != 0
	if isguard || (isWrite && !writeok) {
		return -defs.EFAULT
	}
	if vmi.Mtype != VLAZY {
		// a fault on an already-backed VMA with the right permission is
		// a spurious/concurrent fault; nothing to do.
		return 0
	}
	return as.UvmaHandleFault(vmi, faultaddr)
}

// Fork duplicates the address space's VMAs into dst (plain memcpy, not
// copy-on-write — spec.md §4.6).
func (as *Vm_t) Fork(dst *Vm_t) defs.Err_t {
	as.Lock()
	defer as.Unlock()
	for _, vmi := range as.Vmregion.All() {
		if err := UvmaDuplicate(dst, as, vmi); err != 0 {
			return err
		}
	}
	return 0
}

// Teardown frees the physical page behind every mapped VMA page, unmaps
// each VMA and empties the region list. The page-table root and its
// intermediate tables are not freed. Called on process exit and by execve
// on the address space it replaced.
func (as *Vm_t) Teardown() {
	as.Lock()
	defer as.Unlock()
	for _, vmi := range as.Vmregion.All() {
		for off := uintptr(0); off < vmi.Len; off += uintptr(mem.PGSIZE) {
			pa := paging.GetPhys(as.Pmap, mem.Va_t(vmi.Base+off))
			if pa != paging.INVALID {
				mem.PMM.PhysFreePages(pa, 1)
			}
		}
		paging.UnmapRange(as.Pmap, mem.Va_t(vmi.Base), int(vmi.Len))
	}
	as.Vmregion.Clear()
}
