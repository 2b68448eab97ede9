// Package bootcfg parses the `/chosen/bootargs` device-tree property per
// spec.md §6: a space-separated sequence of `name` or `name=value`
// tokens. Grounded on the teacher's own boot-argument handling (the same
// flat space-separated flag style, consumed once at boot and never
// reparsed) and on the retrieval pack's gopher-os `multiboot` query
// library, which parses an analogous flat boot-command-line string the
// same way.
package bootcfg

import (
	"strconv"
	"strings"

	"grinch/klog"
)

// Args holds every recognized bootarg, defaulted per spec.md §6.
type Args struct {
	Memtest      bool
	Init         string
	Console      string
	LogLevel     int
	KheapSize    int
	MallocFsck   bool
	TimerHz      int
	TtpMaxEvents int
}

// Default returns the bootarg set with spec.md §6's stated defaults.
func Default() Args {
	return Args{
		Init:         "/initrd/bin/init",
		Console:      "/dev/console",
		LogLevel:     int(klog.LevelInfo),
		KheapSize:    16 << 20,
		TimerHz:      100,
		TtpMaxEvents: 64,
	}
}

// Parse tokenizes raw on whitespace and applies each recognized
// name/name=value pair over Default(), per spec.md §6's bootargs list:
// memtest, init=, console=, loglevel=, kheap_size=, malloc_fsck,
// timer_hz=, ttp_maxevents=. Unrecognized tokens are ignored (spec.md
// names no "unknown bootarg is fatal" behavior).
func Parse(raw string) Args {
	a := Default()
	for _, tok := range strings.Fields(raw) {
		name, value, hasValue := strings.Cut(tok, "=")
		switch name {
		case "memtest":
			a.Memtest = true
		case "malloc_fsck":
			a.MallocFsck = true
		case "init":
			if hasValue {
				a.Init = value
			}
		case "console":
			if hasValue {
				a.Console = value
			}
		case "loglevel":
			if n, ok := atoi(value); hasValue && ok {
				a.LogLevel = n
			}
		case "kheap_size":
			if n, ok := atoi(value); hasValue && ok {
				a.KheapSize = n
			}
		case "timer_hz":
			if n, ok := atoi(value); hasValue && ok {
				a.TimerHz = n
			}
		case "ttp_maxevents":
			if n, ok := atoi(value); hasValue && ok {
				a.TtpMaxEvents = n
			}
		}
	}
	return a
}

func atoi(s string) (int, bool) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return n, true
}
