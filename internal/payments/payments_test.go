package payments

import (
	"strings"
	"testing"
)

func TestKeccakSignerDeterministic(t *testing.T) {
	s, err := NewKeccakSigner("0xdeadbeef", nil)
	if err != nil {
		t.Fatalf("NewKeccakSigner: %v", err)
	}

	a, err := s.Authorize("challenge-1")
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	b, _ := s.Authorize("challenge-1")
	if a != b {
		t.Error("expected deterministic signatures")
	}
	if !strings.HasPrefix(a, "keccak256:") {
		t.Errorf("expected keccak256 prefix, got %q", a)
	}

	c, _ := s.Authorize("challenge-2")
	if a == c {
		t.Error("different challenges must produce different signatures")
	}
}

func TestKeccakSignerRejectsBadKey(t *testing.T) {
	if _, err := NewKeccakSigner("not-hex", nil); err == nil {
		t.Error("expected error for non-hex key")
	}
	if _, err := NewKeccakSigner("", nil); err == nil {
		t.Error("expected error for empty key")
	}
}

func TestDisabledAuthorizer(t *testing.T) {
	if _, err := (Disabled{}).Authorize("anything"); err == nil {
		t.Error("expected disabled authorizer to refuse")
	}
}
