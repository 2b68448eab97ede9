// Package bpath canonicalizes paths for the VFS core (SPEC_FULL.md
// §4.13): collapsing "." and ".." components and repeated/trailing
// slashes into the lexically shortest form, the way fd.Cwd_t's
// path resolution expects before a mount/vnode lookup ever runs. The
// teacher's bpath package was empty in the retrieval pack (go.mod only);
// this is a from-scratch implementation grounded in the single call site
// in fd/fd.go (Cwd_t.Canonicalpath) and in ustr.Ustr's path-component
// helpers (Isdot, Isdotdot, IsAbsolute).
package bpath

import "grinch/ustr"

// Canonicalize resolves "." and ".." components purely lexically (no
// symlink or vnode lookups — that happens later, in the VFS mount-walk)
// and returns a path with no empty or "." components and no trailing
// slash (except the root itself). An absolute input yields an absolute
// path; a relative input yields a relative one ("." if nothing remains),
// with ".." components that would climb above its start dropped.
func Canonicalize(p ustr.Ustr) ustr.Ustr {
	abs := p.IsAbsolute()

	var stack []ustr.Ustr
	start := 0
	for i := 0; i <= len(p); i++ {
		if i == len(p) || p[i] == '/' {
			comp := p[start:i]
			start = i + 1
			if len(comp) == 0 || comp.Isdot() {
				continue
			}
			if comp.Isdotdot() {
				if len(stack) > 0 {
					stack = stack[:len(stack)-1]
				}
				continue
			}
			stack = append(stack, comp)
		}
	}

	if !abs {
		return joinRelative(stack)
	}
	return joinAbsolute(stack)
}

func joinAbsolute(comps []ustr.Ustr) ustr.Ustr {
	if len(comps) == 0 {
		return ustr.MkUstrRoot()
	}
	out := ustr.MkUstr()
	for _, c := range comps {
		out = out.Extend(c)
	}
	// out now begins with a spurious leading '/' from Extend on an empty
	// base; Extend always prefixes '/', so the accumulated result is
	// already the absolute path.
	return out
}

func joinRelative(comps []ustr.Ustr) ustr.Ustr {
	if len(comps) == 0 {
		return ustr.MkUstrDot()
	}
	out := comps[0]
	for _, c := range comps[1:] {
		out = out.Extend(c)
	}
	return out
}
