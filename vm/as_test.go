package vm

import (
	"testing"
	"unsafe"

	"grinch/mem"
	"grinch/paging"
)

// testRAM backs the test's direct-mapped area with real process memory
// (physical == virtual), so page tables and user pages can be
// dereferenced through the direct map.
var testRAM []byte

func setupPMM(t *testing.T) {
	t.Helper()
	const pages = 8192
	testRAM = make([]byte, (pages+1)*mem.PGSIZE)
	base := (uintptr(unsafe.Pointer(&testRAM[0])) + uintptr(mem.PGOFFSET)) &^ uintptr(mem.PGOFFSET)
	mem.PMM.Image = nil
	mem.PMM.Direct = mem.NewArea("test-direct", mem.Pa_t(base), mem.Va_t(base), pages)
}

func newTestVm(t *testing.T) *Vm_t {
	t.Helper()
	as, err := NewVm(nil)
	if err != 0 {
		t.Fatalf("NewVm: %v", err)
	}
	return as
}

func TestUvmaCreateZeroesMemory(t *testing.T) {
	setupPMM(t)
	as := newTestVm(t)
	if err := as.UvmaCreate(0x2000, uintptr(mem.PGSIZE), PERM_R|PERM_W, VANON); err != 0 {
		t.Fatalf("UvmaCreate: %v", err)
	}
	as.Lock_pmap()
	defer as.Unlock_pmap()
	buf, err := as.Userdmap8_inner(0x2000, false)
	if err != 0 {
		t.Fatalf("Userdmap8_inner: %v", err)
	}
	for i, b := range buf {
		if b != 0 {
			t.Fatalf("byte %d not zeroed: %v", i, b)
		}
	}
}

func TestLazyVmaFaultsInOnDemand(t *testing.T) {
	setupPMM(t)
	as := newTestVm(t)
	if err := as.UvmaCreate(0x3000, uintptr(mem.PGSIZE), PERM_R|PERM_W, VLAZY); err != 0 {
		t.Fatalf("UvmaCreate: %v", err)
	}
	as.Lock_pmap()
	pa := paging.GetPhys(as.Pmap, mem.Va_t(0x3000))
	as.Unlock_pmap()
	if pa != paging.INVALID {
		t.Fatalf("lazy vma should be unmapped before first fault")
	}
	if err := as.Userwriten(0x3000, 8, 0x1122334455667788); err != 0 {
		t.Fatalf("Userwriten: %v", err)
	}
	as.Lock_pmap()
	pa = paging.GetPhys(as.Pmap, mem.Va_t(0x3000))
	as.Unlock_pmap()
	if pa == paging.INVALID {
		t.Fatalf("expected page to be backed after fault")
	}
}

func TestForkDuplicatesContents(t *testing.T) {
	setupPMM(t)
	src := newTestVm(t)
	if err := src.UvmaCreate(0x4000, uintptr(mem.PGSIZE), PERM_R|PERM_W, VANON); err != 0 {
		t.Fatalf("UvmaCreate: %v", err)
	}
	if err := src.Userwriten(0x4000, 8, 42); err != 0 {
		t.Fatalf("Userwriten: %v", err)
	}

	dst := newTestVm(t)
	if err := src.Fork(dst); err != 0 {
		t.Fatalf("Fork: %v", err)
	}
	v, err := dst.Userreadn(0x4000, 8)
	if err != 0 {
		t.Fatalf("Userreadn: %v", err)
	}
	if v != 42 {
		t.Fatalf("got %d, want 42", v)
	}

	// writes to the child must not be visible in the parent (plain copy,
	// not copy-on-write).
	if err := dst.Userwriten(0x4000, 8, 99); err != 0 {
		t.Fatalf("Userwriten: %v", err)
	}
	v, _ = src.Userreadn(0x4000, 8)
	if v != 42 {
		t.Fatalf("parent's memory changed after child write: got %d", v)
	}
}

func TestTeardownUnmapsEverything(t *testing.T) {
	setupPMM(t)
	as := newTestVm(t)
	if err := as.UvmaCreate(0x5000, uintptr(mem.PGSIZE), PERM_R|PERM_W, VANON); err != 0 {
		t.Fatalf("UvmaCreate: %v", err)
	}
	as.Teardown()
	as.Lock_pmap()
	_, ok := as.Vmregion.Lookup(0x5000)
	as.Unlock_pmap()
	if ok {
		t.Fatalf("expected no vmas after teardown")
	}
}
