package dal

import (
	"errors"
	"testing"
)

func TestErrorKindPreservedThroughWrap(t *testing.T) {
	base := NewError(KindNotFound, "no such object")
	wrapped := Wrap(base, KV{Key: "path", Value: "a/b.txt"})

	if wrapped.Kind != KindNotFound {
		t.Fatalf("Kind = %v, want KindNotFound", wrapped.Kind)
	}
	if !IsNotFound(wrapped) {
		t.Fatal("IsNotFound(wrapped) = false")
	}
	if len(wrapped.Context) != 1 || wrapped.Context[0].Key != "path" {
		t.Fatalf("Context = %+v, want one path entry", wrapped.Context)
	}
}

func TestWrapPlainErrorBecomesUnexpected(t *testing.T) {
	plain := errors.New("boom")
	wrapped := Wrap(plain)
	if wrapped.Kind != KindUnexpected {
		t.Fatalf("Kind = %v, want KindUnexpected", wrapped.Kind)
	}
	if !errors.Is(wrapped, plain) {
		t.Fatal("errors.Is(wrapped, plain) = false, Unwrap should expose source")
	}
}

func TestIsTemporary(t *testing.T) {
	rl := NewError(KindRateLimited, "slow down")
	if !IsTemporary(rl) {
		t.Fatal("rate-limited error should default to Temporary")
	}

	nf := NewError(KindNotFound, "gone")
	if IsTemporary(nf) {
		t.Fatal("not-found error should not default to Temporary")
	}

	unexpected := NewError(KindUnexpected, "timeout").WithTemporary(true)
	if !IsTemporary(unexpected) {
		t.Fatal("WithTemporary(true) should make IsTemporary true")
	}
}

func TestErrorIsMatchesByKindOnly(t *testing.T) {
	a := NewError(KindNotFound, "object a missing")
	b := NewError(KindNotFound, "object b missing")
	if !errors.Is(a, b) {
		t.Fatal("errors with the same Kind should match via errors.Is")
	}

	c := NewError(KindPermissionDenied, "denied")
	if errors.Is(a, c) {
		t.Fatal("errors with different Kind should not match")
	}
}
