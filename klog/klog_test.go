package klog

import (
	"strings"
	"testing"
)

func collect(t *testing.T) *strings.Builder {
	t.Helper()
	var sb strings.Builder
	SetSink(func(b byte) { sb.WriteByte(b) })
	t.Cleanup(func() { SetSink(nil) })
	return &sb
}

func TestLogfRespectsLevel(t *testing.T) {
	sb := collect(t)
	SetLevel(LevelWarn)
	t.Cleanup(func() { SetLevel(LevelInfo) })

	Infof("test", "should not appear")
	if sb.Len() != 0 {
		t.Fatalf("Infof logged above configured level: %q", sb.String())
	}
	Errorf("test", "should appear")
	if !strings.Contains(sb.String(), "should appear") {
		t.Fatalf("Errorf did not reach sink: %q", sb.String())
	}
}

func TestLogfTagsSubsystem(t *testing.T) {
	sb := collect(t)
	Infof("sched", "tick %d", 3)
	if !strings.Contains(sb.String(), "[sched] tick 3") {
		t.Fatalf("missing subsystem tag: %q", sb.String())
	}
}

func TestFoldWrapsAtColumn(t *testing.T) {
	line := strings.Repeat("a", Column+10)
	out := fold(line)
	if len(out) != 2 {
		t.Fatalf("fold produced %d lines, want 2", len(out))
	}
	if len(out[0]) != Column {
		t.Fatalf("first line is %d columns, want %d", len(out[0]), Column)
	}
}

func TestFoldCountsWideRunesAsTwoColumns(t *testing.T) {
	// U+FF21 FULLWIDTH LATIN CAPITAL LETTER A is two display columns.
	line := strings.Repeat("Ａ", Column/2+1)
	out := fold(line)
	if len(out) < 2 {
		t.Fatalf("wide-rune line did not wrap: %d lines", len(out))
	}
}

func TestNoSinkIsSilentNotPanic(t *testing.T) {
	SetSink(nil)
	Errorf("test", "no sink installed")
}
