package devfs

import (
	"strings"
	"testing"

	"grinch/fdops"
	"grinch/ustr"
)

func TestRegisterReaderServesSnapshot(t *testing.T) {
	fs := New(0, "/dev/ttyS0")
	calls := 0
	fs.RegisterReader("stat", func() []byte {
		calls++
		return []byte("irqs: 0\n")
	})

	vn, err := fs.Lookup(ustr.Ustr("stat"))
	if err != 0 {
		t.Fatalf("Lookup(stat): %v", err)
	}
	fops, err := vn.Open(0)
	if err != 0 {
		t.Fatalf("Open(stat): %v", err)
	}
	if calls != 1 {
		t.Fatalf("gen called %d times at Open, want 1", calls)
	}

	kd := fdops.MkKdata(nil)
	n, err := fops.Read(kd)
	if err != 0 {
		t.Fatalf("Read: %v", err)
	}
	if string(kd.Data[:n]) != "irqs: 0\n" {
		t.Fatalf("Read = %q, want %q", kd.Data[:n], "irqs: 0\n")
	}

	// A second Read past the end of the snapshot reports EOF (0, nil),
	// not another call to gen — a description's content is fixed at Open.
	kd2 := fdops.MkKdata(nil)
	n2, err := fops.Read(kd2)
	if err != 0 || n2 != 0 {
		t.Fatalf("Read past EOF = (%d, %v), want (0, 0)", n2, err)
	}
	if calls != 1 {
		t.Fatalf("gen called %d times total, want 1 (snapshot taken once at Open)", calls)
	}
}

func TestReaderNodeAppearsInDirectoryListing(t *testing.T) {
	fs := New(0, "/dev/ttyS0")
	fs.RegisterReader("prof", func() []byte { return nil })

	root := fs.Root()
	cursor := 0
	kd := fdops.MkKdata(nil)
	if _, err := root.Getdents(kd, &cursor); err != 0 {
		t.Fatalf("Getdents: %v", err)
	}
	if !strings.Contains(string(kd.Data), "prof") {
		t.Fatalf("directory listing missing reader node %q: %x", "prof", kd.Data)
	}
}
