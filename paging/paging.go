// Package paging implements the RISC-V Sv39 page-table engine (spec.md
// §4.2): map_range/unmap_range/paging_get_phys over a three-level radix
// table, plus the flag encoding shared with the G-stage (guest) tables
// the vmm package walks. Grounded on the teacher's x86-64 four-level
// pmap walker (folded into vm/as.go in the retrieval pack — pmap_walk,
// PTE_* constants, PGSIZE/PGSHIFT) but rebuilt as its own package with
// Sv39's three levels, its own PTE bit layout (V/R/W/X/U/G/A/D rather
// than x86's P/W/U/PWT/PCD/A/D/PS), and the hugepage-greedy/
// split-on-unmap algorithm spec.md §4.2 specifies in place of the
// teacher's COW-oriented walker.
package paging

import (
	"unsafe"

	"grinch/defs"
	"grinch/mem"
)

// Sv39 PTE bits (RISC-V privileged spec).
const (
	PTE_V   uint64 = 1 << 0 // valid
	PTE_R   uint64 = 1 << 1
	PTE_W   uint64 = 1 << 2
	PTE_X   uint64 = 1 << 3
	PTE_U   uint64 = 1 << 4 // user-accessible
	PTE_G   uint64 = 1 << 5 // global
	PTE_A   uint64 = 1 << 6 // accessed
	PTE_D   uint64 = 1 << 7 // dirty
	// RSW (bits 8-9) are software-defined; Grinch uses bit 8 to mark a
	// lazily-backed VMA page that has not yet been faulted in.
	PTE_LAZY uint64 = 1 << 8
	// DEVICE marks a device (MMIO) mapping in the other RSW bit (bit 9).
	// Flags.Device sets it as-is; it is not translated into Svpbmt bits or
	// any other memory-type attribute.
	DEVICE uint64 = 1 << 9
)

const (
	ppnShift   = 10
	paShift    = 12
	pteAddrBit = 56 // bits above this in a PTE are reserved/PBMT
)

// PteAddrMask extracts the physical page number field of a PTE.
const PteAddrMask uint64 = ((1 << (pteAddrBit - ppnShift)) - 1) << ppnShift

func pte2pa(pte uint64) mem.Pa_t {
	return mem.Pa_t(((pte & PteAddrMask) >> ppnShift) << paShift)
}

func pa2pte(pa mem.Pa_t) uint64 {
	return (uint64(pa) >> paShift) << ppnShift
}

// level describes one of Sv39's three radix-tree levels.
type level struct {
	vpnShift int
	pageSize int
}

var levels = [3]level{
	{vpnShift: 30, pageSize: 1 << 30}, // level 2 (root): 1GiB gigapages
	{vpnShift: 21, pageSize: 1 << 21}, // level 1: 2MiB megapages
	{vpnShift: 12, pageSize: 1 << 12}, // level 0: 4KiB pages
}

const entsPerTable = 512
const vpnMask = entsPerTable - 1

// Table is a single 4KiB page-table page: 512 64-bit PTEs.
type Table [entsPerTable]uint64

// Root is a process or kernel page-table root, plus the physical address
// it was allocated at (what gets installed into satp).
type Root struct {
	Phys  mem.Pa_t
	table *Table
}

func tableAt(pa mem.Pa_t) *Table {
	return (*Table)(unsafe.Pointer(mem.Physmap(pa &^ mem.Pa_t(mem.PGOFFSET))))
}

// NewRoot allocates and zeroes a fresh root table.
func NewRoot() (*Root, defs.Err_t) {
	pa, err := mem.PMM.PhysPagesAllocAligned(1, mem.PGSIZE)
	if err != 0 {
		return nil, err
	}
	mem.Zerobytes(pa)
	return &Root{Phys: pa, table: tableAt(pa)}, 0
}

func vpn(va mem.Va_t, lvl int) int {
	return int(uint64(va)>>uint(levels[lvl].vpnShift)) & vpnMask
}

// walk descends from root to the PTE covering va at the level the
// mapping actually terminates at, allocating intermediate tables as
// needed when alloc is true. It returns the PTE pointer and the level it
// was found/installed at.
func walk(root *Root, va mem.Va_t, alloc bool) (*uint64, int, defs.Err_t) {
	t := root.table
	for lvl := 0; lvl < 2; lvl++ {
		idx := vpn(va, lvl)
		pte := &t[idx]
		if *pte&PTE_V == 0 {
			if !alloc {
				return nil, 0, -defs.ENOENT
			}
			npa, err := mem.PMM.PhysPagesAllocAligned(1, mem.PGSIZE)
			if err != 0 {
				return nil, 0, err
			}
			mem.Zerobytes(npa)
			*pte = pa2pte(npa) | PTE_V
			t = tableAt(npa)
			continue
		}
		if *pte&(PTE_R|PTE_W|PTE_X) != 0 {
			// terminal entry at a higher level than requested: caller
			// asked to walk past a hugepage.
			return pte, lvl, 0
		}
		t = tableAt(pte2pa(*pte))
	}
	idx := vpn(va, 2)
	return &t[idx], 2, 0
}

// Flags are the caller-visible permission/attribute bits for MapRange;
// the V/A/D/G bits are managed internally and never appear here.
type Flags struct {
	Read, Write, Exec, User, Device bool
}

func (f Flags) encode() uint64 {
	var v uint64 = PTE_V | PTE_A
	if f.Read {
		v |= PTE_R
	}
	if f.Write {
		v |= PTE_W | PTE_D
	}
	if f.Exec {
		v |= PTE_X
	}
	if f.User {
		v |= PTE_U
	} else {
		v |= PTE_G
	}
	if f.Device {
		v |= DEVICE
	}
	return v
}

func aligned(x, n int) bool { return x%n == 0 }

// MapRange installs [vaddr, vaddr+size) -> [paddr, paddr+size) with the
// given flags, greedily using the largest hugepage size that both the
// remaining size and the address alignment permit at each step (spec.md
// §4.2). If an existing terminal entry already covers part of the range,
// it is unmapped first so a stale alias is never left behind.
func MapRange(root *Root, vaddr mem.Va_t, paddr mem.Pa_t, size int, flags Flags) defs.Err_t {
	end := int(vaddr) + size
	va := vaddr
	pa := paddr
	for int(va) < end {
		remain := end - int(va)
		lvl := 2
		for l := 0; l < 2; l++ {
			ps := levels[l].pageSize
			if remain >= ps && aligned(int(va), ps) && aligned(int(pa), ps) {
				lvl = l
				break
			}
		}
		if err := installTerminal(root, va, pa, lvl, flags); err != 0 {
			return err
		}
		step := levels[lvl].pageSize
		va += mem.Va_t(step)
		pa += mem.Pa_t(step)
	}
	return 0
}

func installTerminal(root *Root, va mem.Va_t, pa mem.Pa_t, lvl int, flags Flags) defs.Err_t {
	t := root.table
	for l := 0; l < lvl; l++ {
		idx := vpn(va, l)
		pte := &t[idx]
		if *pte&PTE_V == 0 {
			npa, err := mem.PMM.PhysPagesAllocAligned(1, mem.PGSIZE)
			if err != 0 {
				return err
			}
			mem.Zerobytes(npa)
			*pte = pa2pte(npa) | PTE_V
		} else if *pte&(PTE_R|PTE_W|PTE_X) != 0 {
			// overwriting a hugepage with a finer mapping: unmap the
			// exact hugepage region first (it is guaranteed aligned).
			hsize := levels[l].pageSize
			hbase := mem.Va_t(int(va) &^ (hsize - 1))
			if err := UnmapRange(root, hbase, hsize); err != 0 {
				return err
			}
			npa, err := mem.PMM.PhysPagesAllocAligned(1, mem.PGSIZE)
			if err != 0 {
				return err
			}
			mem.Zerobytes(npa)
			*pte = pa2pte(npa) | PTE_V
		}
		t = tableAt(pte2pa(*pte))
	}
	idx := vpn(va, lvl)
	t[idx] = pa2pte(pa) | flags.encode()
	return 0
}

// UnmapRange tears down [vaddr, vaddr+size), splitting any hugepage whose
// span is not fully covered by the range into a next-level table first
// (preserving its flags, reallocating leaves for the untouched portion),
// then clears the covered entries and bubble-frees empty intermediate
// tables on the way back up (spec.md §4.2).
func UnmapRange(root *Root, vaddr mem.Va_t, size int) defs.Err_t {
	end := int(vaddr) + size
	va := vaddr
	for int(va) < end {
		pte, lvl, err := walk(root, va, false)
		if err != 0 {
			step := levels[2].pageSize
			va += mem.Va_t(step)
			continue
		}
		if *pte&PTE_V == 0 {
			step := levels[lvl].pageSize
			va += mem.Va_t(step)
			continue
		}
		hsize := levels[lvl].pageSize
		hbase := mem.Va_t(int(va) &^ (hsize - 1))
		hend := int(hbase) + hsize
		if int(hbase) < int(vaddr) || hend > end {
			if err := splitHugepage(root, hbase, lvl); err != 0 {
				return err
			}
			continue // re-walk at the finer level now installed
		}
		*pte = 0
		step := hsize
		va += mem.Va_t(step)
	}
	freeEmptyTables(root)
	return 0
}

// splitHugepage replaces the terminal entry at hbase/lvl with a
// next-level table whose leaves reproduce the original mapping.
func splitHugepage(root *Root, hbase mem.Va_t, lvl int) defs.Err_t {
	pte, foundLvl, err := walk(root, hbase, false)
	if err != 0 || foundLvl != lvl {
		return 0
	}
	oldFlags := *pte &^ PteAddrMask
	oldPa := pte2pa(*pte)
	npa, aerr := mem.PMM.PhysPagesAllocAligned(1, mem.PGSIZE)
	if aerr != 0 {
		return aerr
	}
	mem.Zerobytes(npa)
	sub := tableAt(npa)
	childLvl := lvl + 1
	childSize := levels[childLvl].pageSize
	n := levels[lvl].pageSize / childSize
	for i := 0; i < n && i < entsPerTable; i++ {
		sub[i] = pa2pte(oldPa+mem.Pa_t(i*childSize)) | oldFlags
	}
	*pte = pa2pte(npa) | PTE_V
	return 0
}

// freeEmptyTables walks the whole tree and frees any intermediate table
// all of whose entries are invalid, bubbling from leaves to root.
func freeEmptyTables(root *Root) {
	freeEmptyRec(root.table, 0)
}

func freeEmptyRec(t *Table, lvl int) {
	if lvl >= 2 {
		return
	}
	for i := range t {
		pte := &t[i]
		if *pte&PTE_V == 0 || *pte&(PTE_R|PTE_W|PTE_X) != 0 {
			continue
		}
		child := tableAt(pte2pa(*pte))
		freeEmptyRec(child, lvl+1)
		empty := true
		for _, e := range child {
			if e != 0 {
				empty = false
				break
			}
		}
		if empty {
			mem.PMM.PhysFreePages(pte2pa(*pte), 1)
			*pte = 0
		}
	}
}

// INVALID is the sentinel GetPhys returns for an unmapped address.
const INVALID mem.Pa_t = ^mem.Pa_t(0)

// GetPhys returns the physical address vaddr currently translates to, or
// INVALID if no mapping covers it (spec.md §4.2 paging_get_phys).
func GetPhys(root *Root, vaddr mem.Va_t) mem.Pa_t {
	pte, lvl, err := walk(root, vaddr, false)
	if err != 0 || *pte&PTE_V == 0 {
		return INVALID
	}
	off := mem.Va_t(int(vaddr) % levels[lvl].pageSize)
	return pte2pa(*pte) + mem.Pa_t(off)
}

// Lookup returns the raw PTE pointer for vaddr, allocating intermediate
// tables if alloc is set, for callers (vm.Vm_t) that need to inspect or
// install permission bits directly.
func Lookup(root *Root, vaddr mem.Va_t, alloc bool) (*uint64, defs.Err_t) {
	pte, _, err := walk(root, vaddr, alloc)
	return pte, err
}

// CopyKernelHalf copies the kernel-half top-level entries from src into
// dst, so every process/secondary-CPU root shares one kernel mapping
// (spec.md §4.2: "root table of the kernel half is identical across all
// CPUs"). The kernel half is the upper half of the Sv39 address space:
// top-level indices >= entsPerTable/2.
func CopyKernelHalf(dst, src *Root) {
	for i := entsPerTable / 2; i < entsPerTable; i++ {
		dst.table[i] = src.table[i]
	}
}
