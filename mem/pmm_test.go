package mem

import (
	"testing"

	"grinch/defs"
)

func freshArea(pages int) *Area_t {
	return NewArea("test", 0, 0x1000, pages)
}

func TestAllocAlignedFindsFreeRun(t *testing.T) {
	a := freshArea(16)
	pa, err := a.AllocAligned(4, PGSIZE)
	if err != 0 {
		t.Fatalf("unexpected error: %v", err)
	}
	if pa != 0 {
		t.Fatalf("expected first allocation at base, got %#x", pa)
	}
	pa2, err := a.AllocAligned(4, PGSIZE)
	if err != 0 {
		t.Fatalf("unexpected error: %v", err)
	}
	if pa2 != Pa_t(4*PGSIZE) {
		t.Fatalf("expected second allocation to follow first, got %#x", pa2)
	}
}

func TestAllocAlignedRespectsAlignment(t *testing.T) {
	a := freshArea(32)
	if _, err := a.AllocAligned(1, PGSIZE); err != 0 {
		t.Fatalf("unexpected error: %v", err)
	}
	pa, err := a.AllocAligned(2, 2*PGSIZE)
	if err != 0 {
		t.Fatalf("unexpected error: %v", err)
	}
	if pa%Pa_t(2*PGSIZE) != 0 {
		t.Fatalf("allocation %#x not aligned to %#x", pa, 2*PGSIZE)
	}
}

func TestAllocAlignedOutOfMemory(t *testing.T) {
	a := freshArea(4)
	if _, err := a.AllocAligned(4, PGSIZE); err != 0 {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := a.AllocAligned(1, PGSIZE); err != -defs.ENOMEM {
		t.Fatalf("expected out-of-memory, got %v", err)
	}
}

func TestMarkUsedRejectsOverlap(t *testing.T) {
	a := freshArea(8)
	if err := a.MarkUsed(Pa_t(2*PGSIZE), 2); err != 0 {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := a.MarkUsed(Pa_t(3*PGSIZE), 2); err == 0 {
		t.Fatalf("expected overlap to be rejected")
	}
}

func TestFreeThenReallocate(t *testing.T) {
	a := freshArea(8)
	pa, err := a.AllocAligned(4, PGSIZE)
	if err != 0 {
		t.Fatalf("unexpected error: %v", err)
	}
	a.FreePages(pa, 4)
	if _, err := a.AllocAligned(8, PGSIZE); err != 0 {
		t.Fatalf("expected freed pages to be reusable: %v", err)
	}
}

func TestP2vV2pRoundtrip(t *testing.T) {
	a := freshArea(4)
	pa := a.base + Pa_t(2*PGSIZE)
	va, ok := a.p2v(pa)
	if !ok {
		t.Fatalf("p2v failed for in-range address")
	}
	back, ok := a.v2p(va)
	if !ok || back != pa {
		t.Fatalf("v2p(p2v(pa)) = %#x, %v; want %#x, true", back, ok, pa)
	}
}
