package initrd

import (
	"bytes"
	"testing"
)

// TestEncodeListRoundTrip checks spec.md §8's law: parse(serialize(h)) ==
// h, for both headers and bodies.
func TestEncodeListRoundTrip(t *testing.T) {
	want := []Entry{
		{Header: Header{Mode: 0100644, Nlink: 1, Name: "init"}, Body: []byte("#!/bin/sh\n")},
		{Header: Header{Mode: 0040755, Nlink: 2, Name: "bin"}, Body: nil},
		{Header: Header{Mode: 0100755, Nlink: 1, Name: "bin/ls"}, Body: bytes.Repeat([]byte{0xAB}, 37)},
	}

	image := Encode(want)
	got, err := List(image)
	if err != 0 {
		t.Fatalf("List: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("List returned %d entries, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].Header.Name != want[i].Header.Name {
			t.Fatalf("entry %d name = %q, want %q", i, got[i].Header.Name, want[i].Header.Name)
		}
		if got[i].Header.Mode != want[i].Header.Mode {
			t.Fatalf("entry %d mode = %#o, want %#o", i, got[i].Header.Mode, want[i].Header.Mode)
		}
		if !bytes.Equal(got[i].Body, want[i].Body) {
			t.Fatalf("entry %d body = %x, want %x", i, got[i].Body, want[i].Body)
		}
	}
}

func TestLookupFindsEntryByPath(t *testing.T) {
	image := Encode([]Entry{
		{Header: Header{Mode: 0100644, Nlink: 1, Name: "etc/motd"}, Body: []byte("hello\n")},
	})

	e, ok, err := Lookup(image, "/etc/motd")
	if err != 0 {
		t.Fatalf("Lookup: %v", err)
	}
	if !ok {
		t.Fatalf("Lookup did not find etc/motd despite the leading slash being stripped")
	}
	if string(e.Body) != "hello\n" {
		t.Fatalf("Lookup body = %q, want %q", e.Body, "hello\n")
	}

	if _, ok, _ := Lookup(image, "nonexistent"); ok {
		t.Fatalf("Lookup found a nonexistent entry")
	}
}

// TestTrailerNamedFileEndsIterationEarly documents spec.md §9 open
// question #4's kept quirk: a real entry named exactly TRAILER!!! still
// ends the scan, even though it was meant only as an end-of-archive
// marker.
func TestTrailerNamedFileEndsIterationEarly(t *testing.T) {
	image := Encode([]Entry{
		{Header: Header{Mode: 0100644, Nlink: 1, Name: trailerName}, Body: []byte("oops")},
		{Header: Header{Mode: 0100644, Nlink: 1, Name: "after"}, Body: []byte("unreachable")},
	})

	got, err := List(image)
	if err != 0 {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("List returned %d entries, want 0 (TRAILER!!! name ends the scan immediately)", len(got))
	}
}

func TestEmptyImageListsNoEntries(t *testing.T) {
	got, err := List(nil)
	if err != 0 {
		t.Fatalf("List(nil): %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("List(nil) = %v, want empty", got)
	}
}
