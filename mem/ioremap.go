package mem

import (
	"sync"

	"grinch/defs"
)

// ioremap window: a fixed virtual range reserved at boot for mapping MMIO
// device regions (spec.md §4.3). Unlike the direct-physical area, pages in
// this window are reserved by Ioremap (the caller installs the mapping) and never represent usable
// RAM, so they are tracked by their own bitmap rather than folded into
// PMM_t.
const (
	ioremapBase  Va_t = 0xffffffc000000000
	ioremapPages      = 4096 // 16MiB window, spec.md §4.3's fixed size
)

var ioremapState = struct {
	sync.Mutex
	bitmap [(ioremapPages + 63) / 64]uint64
}{}

// IoremapRegion describes one live ioremap mapping.
type IoremapRegion struct {
	Virt  Va_t
	Phys  Pa_t
	Pages int
}

// Ioremap reserves a naturally-aligned run of `pages` pages in the ioremap
// window for the MMIO region starting at phys, and returns the virtual
// base a caller should map phys to with the page-table engine (spec.md
// §4.3: "ioremap reserves window space; the caller is responsible for the
// actual page-table mapping"). Natural alignment here means the returned
// offset within the window, in pages, is a multiple of pages rounded up
// to a power of two, mirroring the
// allocator's hugepage-alignment convention so device regions never
// straddle a megapage boundary unexpectedly.
func Ioremap(phys Pa_t, pages int) (Va_t, defs.Err_t) {
	align := 1
	for align < pages {
		align <<= 1
	}

	ioremapState.Lock()
	defer ioremapState.Unlock()

	idx := bitmapFindNextZeroArea(ioremapState.bitmap[:], ioremapPages, pages, align, 0)
	if idx < 0 {
		return 0, -defs.ENOMEM
	}
	for i := idx; i < idx+pages; i++ {
		setBit(ioremapState.bitmap[:], i)
	}
	_ = phys // the actual PTE install happens in the paging package
	return ioremapBase + Va_t(idx*PGSIZE), 0
}

// Iounmap releases a window reservation made by Ioremap. The caller must
// have already torn down the page-table mapping.
func Iounmap(virt Va_t, pages int) {
	if virt < ioremapBase {
		panic("iounmap: address outside ioremap window")
	}
	idx := int(virt-ioremapBase) / PGSIZE
	if idx+pages > ioremapPages {
		panic("iounmap: range outside ioremap window")
	}

	ioremapState.Lock()
	defer ioremapState.Unlock()
	for i := idx; i < idx+pages; i++ {
		clearBit(ioremapState.bitmap[:], i)
	}
}
