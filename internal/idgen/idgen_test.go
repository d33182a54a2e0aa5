package idgen

import (
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	a, b := New(), New()
	if a == b {
		t.Fatal("expected distinct ids")
	}
	if !Valid(a) {
		t.Errorf("New() = %q, not a valid uuid", a)
	}
}

func TestWithPrefix(t *testing.T) {
	id := WithPrefix("snap_")
	if !strings.HasPrefix(id, "snap_") {
		t.Errorf("missing prefix: %q", id)
	}
	if got := len(id) - len("snap_"); got != 24 {
		t.Errorf("expected 24 hex chars, got %d", got)
	}
	if Valid(id) {
		t.Errorf("prefixed id should not parse as uuid")
	}
}

func TestHex(t *testing.T) {
	if got := len(Hex(8)); got != 16 {
		t.Errorf("Hex(8) length = %d, want 16", got)
	}
}

func TestValid(t *testing.T) {
	for _, bad := range []string{"", "  ", "not-a-uuid", "123"} {
		if Valid(bad) {
			t.Errorf("Valid(%q) = true", bad)
		}
	}
}
