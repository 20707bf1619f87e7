package rpc

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorfKind(t *testing.T) {
	err := Errorf(KindNotFound, "agent %q not found", "a1")
	if !IsKind(err, KindNotFound) {
		t.Fatalf("expected not_found kind, got %v", err)
	}
	if IsKind(err, KindProtocol) {
		t.Fatalf("kind should not match protocol: %v", err)
	}
	want := `not_found: agent "a1" not found`
	if err.Error() != want {
		t.Fatalf("got %q, want %q", err.Error(), want)
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("disk on fire")
	err := Wrap(KindInvocation, cause, "init agent %q", "a1")
	if !errors.Is(err, cause) {
		t.Fatal("wrapped error should unwrap to its cause")
	}
	if !IsKind(err, KindInvocation) {
		t.Fatalf("expected invocation kind, got %v", err)
	}
}

func TestAsErrorForeign(t *testing.T) {
	err := AsError(errors.New("boom"))
	if err.Kind != KindInvocation {
		t.Fatalf("foreign errors should become invocation errors, got %s", err.Kind)
	}
	if err.Message != "boom" {
		t.Fatalf("got message %q", err.Message)
	}
}

func TestAsErrorPassthrough(t *testing.T) {
	orig := Errorf(KindDuplicate, "exists")
	wrapped := fmt.Errorf("outer: %w", orig)
	if got := AsError(wrapped); got != orig {
		t.Fatalf("expected the original error back, got %v", got)
	}
}

func TestAsErrorNil(t *testing.T) {
	if AsError(nil) != nil {
		t.Fatal("AsError(nil) should be nil")
	}
}

func TestIsKindForeign(t *testing.T) {
	if IsKind(errors.New("plain"), KindInvocation) {
		t.Fatal("plain errors carry no kind")
	}
}
