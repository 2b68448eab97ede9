package version

import "testing"

func TestCanonicalAddsPrefix(t *testing.T) {
	if got := canonical("1.2.3"); got != "v1.2.3" {
		t.Fatalf("canonical(\"1.2.3\") = %q, want v1.2.3", got)
	}
	if got := canonical("v1.2.3"); got != "v1.2.3" {
		t.Fatalf("canonical should be idempotent on an already-prefixed string, got %q", got)
	}
}

// Check never panics or errors out loud; it only ever logs through klog.
// These calls exercise every branch (empty, invalid, satisfied, newer).
func TestCheckDoesNotPanic(t *testing.T) {
	cases := []string{"", "not-a-version", "v0.1.0", "0.1.0", "v9.9.9", ABI}
	for _, c := range cases {
		Check(c)
	}
}
