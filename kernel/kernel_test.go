package kernel

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

func TestInitMountsDevfsAndAppliesBootargs(t *testing.T) {
	setupPMM(t)
	root, err := paging.NewRoot()
	if err != 0 {
		t.Fatalf("NewRoot: %v", err)
	}

	var console []byte
	k, kerr := Init(Config{
		Bootargs:      "loglevel=7 init=/sbin/init",
		NumSerial:     1,
		ConsoleTarget: "/dev/ttyS0",
		ConsoleSink:   func(b byte) { console = append(console, b) },
	}, root)
	if kerr != 0 {
		t.Fatalf("Init: %v", kerr)
	}
	if k.Args.Init != "/sbin/init" || k.Args.LogLevel != 7 {
		t.Fatalf("bootargs not applied: %+v", k.Args)
	}
	if k.Devfs == nil {
		t.Fatalf("Init did not return a mounted devfs")
	}
	if len(console) == 0 {
		t.Fatalf("Init's boot-complete banner never reached the console sink")
	}
}

func TestStartSMPNoSecondariesIsNoop(t *testing.T) {
	setupPMM(t)
	root, err := paging.NewRoot()
	if err != 0 {
		t.Fatalf("NewRoot: %v", err)
	}
	if rc := StartSMP(context.Background(), Config{}, root); rc != 0 {
		t.Fatalf("StartSMP with no secondaries = %v, want 0", rc)
	}
}
