package paging

import (
	"testing"
	"unsafe"

	"grinch/mem"
)

// testRAM backs the test's direct-mapped area with real process memory
// (physical == virtual), so the page-table walker can dereference the
// addresses the allocator hands out.
var testRAM []byte

func setupPMM(t *testing.T, pages int) {
	t.Helper()
	testRAM = make([]byte, (pages+1)*mem.PGSIZE)
	base := (uintptr(unsafe.Pointer(&testRAM[0])) + uintptr(mem.PGOFFSET)) &^ uintptr(mem.PGOFFSET)
	mem.PMM.Image = nil
	direct := mem.NewArea("test-direct", mem.Pa_t(base), mem.Va_t(base), pages)
	mem.PMM.Direct = direct
}

func TestMapAndGetPhys(t *testing.T) {
	setupPMM(t, 4096)
	root, err := NewRoot()
	if err != 0 {
		t.Fatalf("NewRoot: %v", err)
	}
	va := mem.Va_t(0x1000)
	pa, aerr := mem.PMM.PhysPagesAllocAligned(1, mem.PGSIZE)
	if aerr != 0 {
		t.Fatalf("alloc: %v", aerr)
	}
	if err := MapRange(root, va, pa, mem.PGSIZE, Flags{Read: true, Write: true, User: true}); err != 0 {
		t.Fatalf("MapRange: %v", err)
	}
	got := GetPhys(root, va+8)
	if got != pa+8 {
		t.Fatalf("GetPhys = %#x, want %#x", got, pa+8)
	}
}

func TestGetPhysUnmappedIsInvalid(t *testing.T) {
	setupPMM(t, 4096)
	root, err := NewRoot()
	if err != 0 {
		t.Fatalf("NewRoot: %v", err)
	}
	if got := GetPhys(root, mem.Va_t(0x5000)); got != INVALID {
		t.Fatalf("expected INVALID, got %#x", got)
	}
}

func TestUnmapRangeClears(t *testing.T) {
	setupPMM(t, 4096)
	root, err := NewRoot()
	if err != 0 {
		t.Fatalf("NewRoot: %v", err)
	}
	va := mem.Va_t(0x2000)
	pa, _ := mem.PMM.PhysPagesAllocAligned(1, mem.PGSIZE)
	MapRange(root, va, pa, mem.PGSIZE, Flags{Read: true, Write: true, User: true})
	if err := UnmapRange(root, va, mem.PGSIZE); err != 0 {
		t.Fatalf("UnmapRange: %v", err)
	}
	if got := GetPhys(root, va); got != INVALID {
		t.Fatalf("expected unmapped after UnmapRange, got %#x", got)
	}
}

func TestMapRangeMultiPage(t *testing.T) {
	setupPMM(t, 4096)
	root, err := NewRoot()
	if err != 0 {
		t.Fatalf("NewRoot: %v", err)
	}
	va := mem.Va_t(0x10000)
	pa, _ := mem.PMM.PhysPagesAllocAligned(4, mem.PGSIZE)
	if err := MapRange(root, va, pa, 4*mem.PGSIZE, Flags{Read: true, User: true}); err != 0 {
		t.Fatalf("MapRange: %v", err)
	}
	for i := 0; i < 4; i++ {
		off := mem.Va_t(i * mem.PGSIZE)
		if got := GetPhys(root, va+off); got != pa+mem.Pa_t(off) {
			t.Fatalf("page %d: got %#x, want %#x", i, got, pa+mem.Pa_t(off))
		}
	}
}
