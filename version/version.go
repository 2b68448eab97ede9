// Package version implements the boot-banner ABI check SPEC_FULL.md
// §2.2 describes: the kernel's own ABI version string is compared
// against the minimum version a loaded init binary declares via an ELF
// note, using golang.org/x/mod/semver the way the rest of the pack's
// module-aware tooling validates version strings rather than hand-
// rolling a dotted-triple comparator. The check is logged, not
// enforced, matching spec.md's silence on any hard ABI gate — this is a
// supplemented diagnostic, not a Non-goal override.
package version

import (
	"fmt"

	"golang.org/x/mod/semver"

	"grinch/klog"
)

// ABI is the kernel's own syscall/VFS ABI version string (spec.md §6's
// wire formats: grinch_dirent, stat layout, SBI extension ids). Bumped
// whenever one of those wire formats changes incompatibly.
const ABI = "v1.0.0"

// Check compares the kernel's ABI version against wantMin (an ELF note
// string an init binary may declare, e.g. "v1.0.0"), logging a warning
// through klog if the binary demands a newer ABI than this kernel
// provides. An empty or malformed wantMin is treated as "no requirement"
// rather than an error — an init binary need not carry the note at all.
func Check(wantMin string) {
	if wantMin == "" {
		return
	}
	v := canonical(wantMin)
	if !semver.IsValid(v) {
		klog.Warnf("version", "init binary's ABI note %q is not valid semver, ignoring", wantMin)
		return
	}
	if semver.Compare(ABI, v) < 0 {
		klog.Warnf("version", "kernel ABI %s is older than init's declared minimum %s", ABI, v)
		return
	}
	klog.Infof("version", "kernel ABI %s satisfies init's declared minimum %s", ABI, v)
}

// canonical prefixes a bare "1.0.0"-style string with "v", since
// semver.IsValid/Compare require the leading "v" the package's own
// convention names.
func canonical(v string) string {
	if len(v) > 0 && v[0] == 'v' {
		return v
	}
	return fmt.Sprintf("v%s", v)
}
