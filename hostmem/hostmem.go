// Package hostmem is the hosted test/simulation harness's stand-in for
// physical RAM. mem.Physmap and friends cast a bare `Pa_t` integer
// straight to an `unsafe.Pointer` (spec.md §4.1's direct map, ported
// verbatim from the teacher's own `pgptr` convention) — correct on real
// hardware, where a physical address is a real address, but meaningless
// against an arbitrary integer in a hosted test binary. hostmem backs
// "physical RAM" with an actual `mmap`'d anonymous region via
// golang.org/x/sys/unix, page-aligned like real RAM, so `mem.PMM`'s
// bitmap-area bookkeeping can be driven by page-aligned base addresses
// that are also valid process memory the direct map can legally
// dereference.
package hostmem

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"

	"grinch/mem"
)

func uintptrOf(b []byte) uintptr {
	return uintptr(unsafe.Pointer(&b[0]))
}

// RAM is an mmap'd region standing in for a physical RAM bank.
type RAM struct {
	buf  []byte
	base mem.Pa_t
}

// New mmaps an anonymous, page-aligned region of the given page count
// and returns it as a simulated RAM bank. The kernel's own mmap always
// returns page-aligned addresses, matching real RAM's alignment.
func New(pages int) (*RAM, error) {
	size := pages * mem.PGSIZE
	buf, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("hostmem: mmap %d pages: %w", pages, err)
	}
	base := mem.Pa_t(uintptrOf(buf))
	if base&mem.PGOFFSET != 0 {
		unix.Munmap(buf)
		return nil, fmt.Errorf("hostmem: mmap returned unaligned base %#x", base)
	}
	return &RAM{buf: buf, base: base}, nil
}

// Base returns the simulated bank's physical base address, suitable for
// mem.DirectInit's ramBase/ramVirt (hostmem maps physical==virtual,
// since a hosted test has no separate kernel virtual address space to
// translate into).
func (r *RAM) Base() mem.Pa_t { return r.base }

// Pages returns the bank's size in pages.
func (r *RAM) Pages() int { return len(r.buf) / mem.PGSIZE }

// Close unmaps the region. Tests should defer this.
func (r *RAM) Close() error {
	return unix.Munmap(r.buf)
}
