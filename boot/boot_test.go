package boot

import (
	"context"
	"testing"
	"unsafe"

	"grinch/mem"
	"grinch/paging"
)

// testRAM backs the test's direct-mapped area with real process memory
// (physical == virtual), so page-table setup can dereference the
// addresses the allocator hands out.
var testRAM []byte

func setupPMM(t *testing.T) {
	t.Helper()
	const pages = 4096
	testRAM = make([]byte, (pages+1)*mem.PGSIZE)
	base := (uintptr(unsafe.Pointer(&testRAM[0])) + uintptr(mem.PGOFFSET)) &^ uintptr(mem.PGOFFSET)
	mem.PMM.Image = nil
	mem.PMM.Direct = mem.NewArea("test-direct", mem.Pa_t(base), mem.Va_t(base), pages)
}

func TestStartSecondariesBringsUpEveryHart(t *testing.T) {
	setupPMM(t)
	root, err := paging.NewRoot()
	if err != 0 {
		t.Fatalf("NewRoot: %v", err)
	}

	bootHart := 0
	secondaries := []int{1, 2, 3}
	if err := StartSecondaries(context.Background(), bootHart, secondaries, root); err != 0 {
		t.Fatalf("StartSecondaries: %v", err)
	}

	mask := OnlineMask()
	for _, h := range append([]int{bootHart}, secondaries...) {
		if mask&(1<<uint(h)) == 0 {
			t.Fatalf("hart %d not marked online, mask=%#x", h, mask)
		}
	}

	Install()
	SchedAll()
	FlushTLBAll(bootHart)
}

func TestHartStartFailureIsPropagated(t *testing.T) {
	setupPMM(t)
	root, err := paging.NewRoot()
	if err != 0 {
		t.Fatalf("NewRoot: %v", err)
	}
	prev := HartStart
	HartStart = func(hart int, entryVA, a1 uintptr) int64 { return 1 }
	defer func() { HartStart = prev }()

	if rc := StartSecondaries(context.Background(), 0, []int{4}, root); rc == 0 {
		t.Fatalf("StartSecondaries should fail when HartStart reports a non-zero rc")
	}
}
