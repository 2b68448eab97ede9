package bpath

import (
	"testing"

	"grinch/ustr"
)

func canon(s string) string {
	return Canonicalize(ustr.Ustr(s)).String()
}

func TestCanonicalizeCollapsesDot(t *testing.T) {
	if got := canon("/a/./b"); got != "/a/b" {
		t.Fatalf("got %q", got)
	}
}

func TestCanonicalizeResolvesDotDot(t *testing.T) {
	if got := canon("/a/b/../c"); got != "/a/c" {
		t.Fatalf("got %q", got)
	}
}

func TestCanonicalizeDotDotAtRootStaysAtRoot(t *testing.T) {
	if got := canon("/../../a"); got != "/a" {
		t.Fatalf("got %q", got)
	}
}

func TestCanonicalizeCollapsesRepeatedSlashes(t *testing.T) {
	if got := canon("/a//b///c"); got != "/a/b/c" {
		t.Fatalf("got %q", got)
	}
}

func TestCanonicalizeRoot(t *testing.T) {
	if got := canon("/"); got != "/" {
		t.Fatalf("got %q", got)
	}
}

func TestCanonicalizeRelative(t *testing.T) {
	if got := canon("a/../b"); got != "b" {
		t.Fatalf("got %q", got)
	}
}
