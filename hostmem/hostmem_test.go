package hostmem

import (
	"testing"

	"grinch/mem"
)

func TestNewReturnsPageAlignedBase(t *testing.T) {
	r, err := New(16)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer r.Close()

	if r.Base()&mem.PGOFFSET != 0 {
		t.Fatalf("base %#x is not page-aligned", r.Base())
	}
	if r.Pages() != 16 {
		t.Fatalf("Pages() = %d, want 16", r.Pages())
	}
}

func TestRegionIsWritable(t *testing.T) {
	r, err := New(1)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer r.Close()

	r.buf[0] = 0xAB
	r.buf[len(r.buf)-1] = 0xCD
	if r.buf[0] != 0xAB || r.buf[len(r.buf)-1] != 0xCD {
		t.Fatalf("mmap'd region did not retain writes")
	}
}

func TestCloseUnmaps(t *testing.T) {
	r, err := New(1)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
