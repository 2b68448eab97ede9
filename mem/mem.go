// Package mem implements the physical/virtual page allocator (spec.md
// §4.1), the direct physical map and ioremap window (spec.md §4.1, §4.3),
// and the kmalloc/kfree facade over the external salloc heap (spec.md §4.1,
// §1 — salloc itself stays an external collaborator). The bitmap-backed
// area design replaces the teacher's refcounted-freelist allocator
// (mem/mem.go, mem/dmap.go in the teacher): spec.md §4.1 calls for
// "bitmap_find_next_zero_area" over named memory areas, not a refcounted
// per-page freelist, so the algorithm changes even though the package's
// role (everything above a page table touches physical memory only
// through this package) stays the teacher's.
package mem

import "unsafe"

// PGSHIFT is the base-2 exponent of the page size.
const PGSHIFT uint = 12

// PGSIZE is the size of a single page in bytes.
const PGSIZE int = 1 << PGSHIFT

// MEGA_PAGE_SIZE is the RISC-V Sv39 megapage size (2MiB): the alignment a
// caller passes to request hugepage-aligned physical allocations
// (spec.md §4.1).
const MEGA_PAGE_SIZE int = 1 << 21

// Pa_t is a physical address.
type Pa_t uintptr

// Va_t is a kernel virtual address.
type Va_t uintptr

// PGOFFSET masks the in-page offset of an address.
const PGOFFSET Pa_t = Pa_t(PGSIZE - 1)

// PGMASK masks the page number of an address.
const PGMASK Pa_t = ^PGOFFSET

// Pg_t is a page-sized block addressed as bytes.
type Pg_t [PGSIZE]uint8

// Roundpg rounds n up to a whole number of pages.
func Roundpg(n int) int {
	return (n + PGSIZE - 1) &^ (PGSIZE - 1)
}

// PgCount returns how many pages are needed to cover n bytes.
func PgCount(n int) int {
	return Roundpg(n) / PGSIZE
}

func pgptr(p Pa_t) unsafe.Pointer {
	return unsafe.Pointer(uintptr(p))
}
