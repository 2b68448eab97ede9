package mem

import "fmt"

// P2v translates a physical address into the kernel's direct-mapped
// virtual address for it. It panics on an address outside every known
// area, matching the teacher's v2p/p2v convention that an unmapped
// translation is a kernel bug, not a recoverable error (spec.md §4.1).
func P2v(pa Pa_t) Va_t {
	if PMM.Image != nil {
		if va, ok := PMM.Image.p2v(pa); ok {
			return va
		}
	}
	if PMM.Direct != nil {
		if va, ok := PMM.Direct.p2v(pa); ok {
			return va
		}
	}
	panic(fmt.Sprintf("p2v: %#x is not in any direct-mapped area", pa))
}

// V2p is the inverse of P2v.
func V2p(va Va_t) Pa_t {
	if PMM.Image != nil {
		if pa, ok := PMM.Image.v2p(va); ok {
			return pa
		}
	}
	if PMM.Direct != nil {
		if pa, ok := PMM.Direct.v2p(va); ok {
			return pa
		}
	}
	panic(fmt.Sprintf("v2p: %#x is not in any direct-mapped area", va))
}

// Physmap returns a pointer to the page-sized byte array aliasing the page
// containing pa through the direct
// map, for code that needs to read or write physical memory directly
// (page-table walkers, the zero-page source for fault handling).
func Physmap(pa Pa_t) *Pg_t {
	va := P2v(pa &^ PGOFFSET)
	return (*Pg_t)(pgptr(Pa_t(va)))
}

// Zerobytes overwrites an entire physical page with zeroes through the
// direct map.
func Zerobytes(pa Pa_t) {
	pg := Physmap(pa)
	for i := range pg {
		pg[i] = 0
	}
}
