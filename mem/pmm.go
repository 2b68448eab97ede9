package mem

import (
	"fmt"
	"sync"

	"grinch/defs"
)

// Area_t is one of the memory areas spec.md §3 describes: a base physical
// address, an optional direct-mapped virtual base, a page count, and a
// bit-per-page occupancy bitmap. Every physical page the kernel can
// allocate belongs to exactly one Area_t.
type Area_t struct {
	name     string
	base     Pa_t
	virtBase Va_t // 0 if this area has no direct mapping of its own
	pages    int
	bitmap   []uint64 // 1 bit per page; set == used
	cursor   int      // next-fit search start, in bits

	sync.Mutex
}

const bitsPerWord = 64

// NewArea constructs an area covering [base, base+pages*PGSIZE) with every
// page initially free.
func NewArea(name string, base Pa_t, virtBase Va_t, pages int) *Area_t {
	words := (pages + bitsPerWord - 1) / bitsPerWord
	return &Area_t{
		name:     name,
		base:     base,
		virtBase: virtBase,
		pages:    pages,
		bitmap:   make([]uint64, words),
	}
}

func bit(bm []uint64, i int) bool {
	return bm[i/bitsPerWord]&(1<<(uint(i)%bitsPerWord)) != 0
}

func setBit(bm []uint64, i int) {
	bm[i/bitsPerWord] |= 1 << (uint(i) % bitsPerWord)
}

func clearBit(bm []uint64, i int) {
	bm[i/bitsPerWord] &^= 1 << (uint(i) % bitsPerWord)
}

// bitmapFindNextZeroArea is the primitive spec.md §4.1 names directly:
// find n contiguous zero bits, at a bit index that is a multiple of
// align, starting the scan at "from" and wrapping once. Returns -1 if no
// such run exists.
func bitmapFindNextZeroArea(bm []uint64, nbits, n, align, from int) int {
	if align < 1 {
		align = 1
	}
	total := nbits
	start := from - (from % align)
	for tries := 0; tries < 2; tries++ {
		for i := start; i+n <= total; i += align {
			ok := true
			for j := i; j < i+n; j++ {
				if bit(bm, j) {
					ok = false
					i = (j - (j % align)) // resume aligned past the busy bit
					break
				}
			}
			if ok {
				return i
			}
		}
		// wrap around once, from the beginning, retrying every run that
		// starts before where we started (it may extend past that point)
		total = from + n - 1
		if total > nbits {
			total = nbits
		}
		start = 0
		from = 0
	}
	return -1
}

// AllocAligned finds `pages` contiguous free pages whose base is aligned
// to `align` (a page-size multiple; pass MEGA_PAGE_SIZE for hugepage
// alignment) and marks them used. Concurrent callers on different CPUs
// observe FIFO-by-lock-acquisition order (spec.md §4.1); the scan itself
// never sleeps, since it is bounded by bitmap width.
func (a *Area_t) AllocAligned(pages, align int) (Pa_t, defs.Err_t) {
	if align%PGSIZE != 0 {
		panic("alignment must be a page multiple")
	}
	alignPages := align / PGSIZE

	a.Lock()
	defer a.Unlock()

	idx := bitmapFindNextZeroArea(a.bitmap, a.pages, pages, alignPages, a.cursor)
	if idx < 0 {
		return 0, -defs.ENOMEM
	}
	for i := idx; i < idx+pages; i++ {
		setBit(a.bitmap, i)
	}
	a.cursor = idx + pages
	return a.base + Pa_t(idx*PGSIZE), 0
}

// MarkUsed marks [paddr, paddr+pages*PGSIZE) used; it fails if any page in
// the range is already used (spec.md §4.1: "fails if overlap").
func (a *Area_t) MarkUsed(paddr Pa_t, pages int) defs.Err_t {
	idx, ok := a.indexOf(paddr)
	if !ok || idx+pages > a.pages {
		return -defs.EINVAL
	}
	a.Lock()
	defer a.Unlock()
	for i := idx; i < idx+pages; i++ {
		if bit(a.bitmap, i) {
			return -defs.EINVAL
		}
	}
	for i := idx; i < idx+pages; i++ {
		setBit(a.bitmap, i)
	}
	return 0
}

// FreePages releases [paddr, paddr+pages*PGSIZE).
func (a *Area_t) FreePages(paddr Pa_t, pages int) {
	idx, ok := a.indexOf(paddr)
	if !ok {
		panic("free of address outside area")
	}
	a.Lock()
	defer a.Unlock()
	for i := idx; i < idx+pages; i++ {
		clearBit(a.bitmap, i)
	}
}

func (a *Area_t) indexOf(paddr Pa_t) (int, bool) {
	if paddr < a.base {
		return 0, false
	}
	off := paddr - a.base
	if off%Pa_t(PGSIZE) != 0 {
		panic("unaligned physical address")
	}
	idx := int(off) / PGSIZE
	if idx >= a.pages {
		return 0, false
	}
	return idx, true
}

// contains reports whether paddr falls within this area.
func (a *Area_t) contains(paddr Pa_t) bool {
	_, ok := a.indexOf(paddr)
	return ok
}

// v2p translates a direct-mapped virtual address in this area back to
// physical, or ok=false if this area has no direct map or va is outside it.
func (a *Area_t) v2p(va Va_t) (Pa_t, bool) {
	if a.virtBase == 0 {
		return 0, false
	}
	if va < a.virtBase {
		return 0, false
	}
	off := va - a.virtBase
	if int(off) >= a.pages*PGSIZE {
		return 0, false
	}
	return a.base + Pa_t(off), true
}

func (a *Area_t) p2v(pa Pa_t) (Va_t, bool) {
	if a.virtBase == 0 || !a.contains(pa) {
		return 0, false
	}
	return a.virtBase + Va_t(pa-a.base), true
}

// PMM holds the partition of physical address space into areas (spec.md
// §3: "every physical page allocatable by the kernel belongs to exactly
// one area"). Grinch has exactly two at any time: the kernel-image area
// and the direct-physical area.
type PMM_t struct {
	Image  *Area_t // loaded kernel image + internal page pool, GRINCH_SIZE
	Direct *Area_t // linear map of all usable RAM, from FDT /memory
}

// PMM is the global physical memory allocator instance.
var PMM = &PMM_t{}

// KernelMemInit marks the loaded kernel image's page range as used within
// a freshly created image area (spec.md §4.1 "kernel_mem_init").
func KernelMemInit(imageBase Pa_t, imageVirt Va_t, grinchSizePages int) {
	PMM.Image = NewArea("kernel-image", imageBase, imageVirt, grinchSizePages)
	if err := PMM.Image.MarkUsed(imageBase, grinchSizePages); err != 0 {
		panic("kernel image overlaps itself")
	}
}

// DirectInit constructs the direct-physical area from the FDT-reported RAM
// extent and marks every reserved region used (spec.md §4.1).
func DirectInit(ramBase Pa_t, ramVirt Va_t, ramPages int, reserved []struct {
	Base  Pa_t
	Pages int
}) {
	PMM.Direct = NewArea("direct-physical", ramBase, ramVirt, ramPages)
	for _, r := range reserved {
		if err := PMM.Direct.MarkUsed(r.Base, r.Pages); err != 0 {
			fmt.Printf("mem: reserved region %#x+%d could not be marked used: %v\n",
				r.Base, r.Pages, err)
		}
	}
}

// areaFor returns whichever area contains paddr.
func (p *PMM_t) areaFor(paddr Pa_t) *Area_t {
	if p.Image != nil && p.Image.contains(paddr) {
		return p.Image
	}
	if p.Direct != nil && p.Direct.contains(paddr) {
		return p.Direct
	}
	return nil
}

// PhysPagesAllocAligned allocates `pages` contiguous pages aligned to
// `align` from the direct-physical area (spec.md §4.1). The kernel-image
// area is not a general allocation source once boot completes — its pool
// is reserved for structures that must live at low, stable addresses.
func (p *PMM_t) PhysPagesAllocAligned(pages, align int) (Pa_t, defs.Err_t) {
	if p.Direct == nil {
		panic("pmm not initialized")
	}
	return p.Direct.AllocAligned(pages, align)
}

// PhysMarkUsed marks a range used in whichever area contains it.
func (p *PMM_t) PhysMarkUsed(paddr Pa_t, pages int) defs.Err_t {
	a := p.areaFor(paddr)
	if a == nil {
		return -defs.EINVAL
	}
	return a.MarkUsed(paddr, pages)
}

// PhysFreePages releases a range previously allocated or marked used.
func (p *PMM_t) PhysFreePages(paddr Pa_t, pages int) {
	a := p.areaFor(paddr)
	if a == nil {
		panic("free of address in no known area")
	}
	a.FreePages(paddr, pages)
}
