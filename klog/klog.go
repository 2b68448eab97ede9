// Package klog implements the leveled, per-subsystem structured logging
// SPEC_FULL.md §2.1 names: the teacher (`biscuit`) scatters ad-hoc
// `fmt.Printf` banners at boot and reuses `caller`'s call-chain dumps for
// fatal paths, with no dedicated logging package of its own. klog gives
// that scattered style a single entry point — a level gate matching
// `bootcfg`'s `loglevel=<0..10>` bootarg, a subsystem tag, and a byte
// sink — and additionally width-folds each line with
// golang.org/x/text/width before chunking it to the serial console's
// byte-at-a-time Write, so a wide console banner (e.g. a demangled C++
// symbol name from a `caller.FatalDump`) still wraps at a fixed column
// count instead of running off the emulator's terminal.
package klog

import (
	"fmt"
	"sync"

	"golang.org/x/text/width"
)

// Level mirrors bootcfg's loglevel=<0..10> range; higher is more verbose.
type Level int

const (
	LevelError Level = 0
	LevelWarn  Level = 3
	LevelInfo  Level = 5
	LevelDebug Level = 7
	LevelTrace Level = 10
)

// Column is the fixed terminal width console banners wrap at.
const Column = 100

var (
	mu      sync.Mutex
	sink    func(b byte)
	minimum Level = LevelInfo
)

// SetSink installs the byte-at-a-time console writer every log line is
// chunked to (spec.md's console is a byte sink, not a line-buffered
// stream).
func SetSink(w func(b byte)) {
	mu.Lock()
	sink = w
	mu.Unlock()
}

// SetLevel sets the most verbose level that reaches the sink, per
// bootcfg's loglevel= setting; lines at a higher level are dropped.
func SetLevel(l Level) {
	mu.Lock()
	minimum = l
	mu.Unlock()
}

// Logf formats and emits a line tagged with subsystem at level lvl, if
// lvl is at or below the level set by SetLevel.
func Logf(lvl Level, subsystem, format string, args ...interface{}) {
	mu.Lock()
	cur := minimum
	w := sink
	mu.Unlock()
	if lvl > cur || w == nil {
		return
	}
	line := fmt.Sprintf("[%s] "+format, append([]interface{}{subsystem}, args...)...)
	emit(w, fold(line))
}

// Errorf, Warnf, Infof, Debugf are convenience wrappers at their
// respective fixed levels, matching the handful of severities the
// teacher's own banners distinguish (a plain Printf vs. a Callerdump).
func Errorf(subsystem, format string, args ...interface{}) {
	Logf(LevelError, subsystem, format, args...)
}
func Warnf(subsystem, format string, args ...interface{}) {
	Logf(LevelWarn, subsystem, format, args...)
}
func Infof(subsystem, format string, args ...interface{}) {
	Logf(LevelInfo, subsystem, format, args...)
}
func Debugf(subsystem, format string, args ...interface{}) {
	Logf(LevelDebug, subsystem, format, args...)
}

// fold wraps line at Column display-width columns, counting each rune's
// East Asian width (x/text/width) rather than its byte or rune count, so
// wide glyphs (e.g. from a demangled foreign symbol name) don't silently
// overflow the fixed-width terminal the serial console emulates.
func fold(line string) []string {
	var out []string
	var cur []rune
	col := 0
	for _, r := range line {
		w := runeWidth(r)
		if col+w > Column && col > 0 {
			out = append(out, string(cur))
			cur = nil
			col = 0
		}
		cur = append(cur, r)
		col += w
	}
	if len(cur) > 0 {
		out = append(out, string(cur))
	}
	return out
}

func runeWidth(r rune) int {
	switch width.LookupRune(r).Kind() {
	case width.EastAsianWide, width.EastAsianFullwidth:
		return 2
	default:
		return 1
	}
}

func emit(w func(b byte), lines []string) {
	for _, l := range lines {
		for i := 0; i < len(l); i++ {
			w(l[i])
		}
		w('\n')
	}
}
