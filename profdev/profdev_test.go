package profdev

import (
	"bytes"
	"testing"
	"time"

	"github.com/google/pprof/profile"

	"grinch/devfs"
	"grinch/stats"
	"grinch/ustr"
)

func resetSyscalls(t *testing.T) {
	t.Helper()
	mu.Lock()
	syscalls = map[int]*latency{}
	mu.Unlock()
}

func TestRecordSyscallAccumulates(t *testing.T) {
	resetSyscalls(t)
	RecordSyscall(63, 10*time.Microsecond)
	RecordSyscall(63, 20*time.Microsecond)

	mu.Lock()
	l := syscalls[63]
	mu.Unlock()
	if l == nil || l.count != 2 {
		t.Fatalf("syscall 63 count = %+v, want count 2", l)
	}
}

func TestSnapshotProducesValidProfile(t *testing.T) {
	resetSyscalls(t)
	RecordSyscall(64, 5*time.Microsecond)
	stats.Irqs = 1
	stats.Nirqs[7] = 3
	defer func() { stats.Irqs = 0; stats.Nirqs[7] = 0 }()

	raw := Snapshot()
	p, err := profile.Parse(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("profile.Parse: %v", err)
	}
	if len(p.Sample) == 0 {
		t.Fatalf("parsed profile has no samples")
	}
}

func TestStatTextRendersIrqCounts(t *testing.T) {
	stats.Irqs = 42
	stats.Nirqs[9] = 2
	defer func() { stats.Irqs = 0; stats.Nirqs[9] = 0 }()

	out := string(StatText())
	if !bytes.Contains([]byte(out), []byte("irqs: 42")) {
		t.Fatalf("StatText missing total irqs: %q", out)
	}
	if !bytes.Contains([]byte(out), []byte("irq#9: 2")) {
		t.Fatalf("StatText missing per-irq count: %q", out)
	}
}

func TestInstallRegistersDevfsNodes(t *testing.T) {
	fs := devfs.New(0, "/dev/ttyS0")
	Install(fs)

	if _, err := fs.Lookup(ustr.Ustr("stat")); err != 0 {
		t.Fatalf("stat node not registered: %v", err)
	}
	if _, err := fs.Lookup(ustr.Ustr("prof")); err != 0 {
		t.Fatalf("prof node not registered: %v", err)
	}
}
