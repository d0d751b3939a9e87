package xid

import (
	"strings"
	"testing"
)

func TestNewIsPrefixedAndUnique(t *testing.T) {
	a := New("refund")
	b := New("refund")
	if !strings.HasPrefix(a, "refund-") {
		t.Fatalf("expected prefix, got %q", a)
	}
	if a == b {
		t.Fatalf("expected unique ids, got %q twice", a)
	}
}

func TestCodeLength(t *testing.T) {
	if got := Code(16); len(got) != 16 || strings.ToUpper(got) != got {
		t.Fatalf("expected 16 upper-case characters, got %q", got)
	}
}
