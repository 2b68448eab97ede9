// Package res implements the non-blocking admission control that backs
// every bounded uaccess copy loop (spec.md §5): Resadd_noblock attempts
// to reserve the Pages/Objs a bounds.Bound_t describes against the
// system-wide limits tracked in package limits, returning false instead
// of blocking when the budget is exhausted. Callers holding a Vm_t lock
// retry-or-fail rather than sleep, preserving spec.md §5's "no lock is
// ever held across a page allocation that may sleep." The teacher's res
// package was empty in the retrieval pack (go.mod only); this is a
// from-scratch implementation grounded in limits.Sysatomic_t's existing
// lock-free take/give primitive and in the call sites in vm/as.go and
// vm/userbuf.go that name it.
package res

import (
	"grinch/bounds"
	"grinch/limits"
)

// Resadd_noblock reserves b's budget without blocking, returning true on
// success. On failure no partial reservation is left outstanding.
func Resadd_noblock(b bounds.Bound_t) bool {
	if b.Pages > 0 {
		if !limits.Syslimit.Heappgs.Taken(uint(b.Pages)) {
			limits.Lhits++
			return false
		}
	}
	if b.Objs > 0 {
		if !limits.Syslimit.Mfspgs.Taken(uint(b.Objs)) {
			limits.Syslimit.Heappgs.Given(uint(b.Pages))
			limits.Lhits++
			return false
		}
	}
	return true
}

// Resfree releases a reservation previously granted by Resadd_noblock,
// for callers that reserve ahead of a multi-step operation and must give
// back what they didn't end up using (e.g. a short final copy).
func Resfree(b bounds.Bound_t) {
	if b.Pages > 0 {
		limits.Syslimit.Heappgs.Given(uint(b.Pages))
	}
	if b.Objs > 0 {
		limits.Syslimit.Mfspgs.Given(uint(b.Objs))
	}
}
