package pairerr

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorMessageIncludesKindAndStep(t *testing.T) {
	err := New(Pairing, "M1", "accessory returned BackOff")
	want := "Pairing at M1: accessory returned BackOff"
	if err.Error() != want {
		t.Fatalf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestWrapUnwraps(t *testing.T) {
	cause := errors.New("tag mismatch")
	err := Wrap(Protocol, "decrypt", cause)
	if !errors.Is(err, cause) {
		t.Fatal("errors.Is did not find the wrapped cause")
	}
}

func TestIsMatchesKindThroughWrapping(t *testing.T) {
	inner := New(Authentication, "V2", "signature verification failed")
	outer := fmt.Errorf("pair-verify failed: %w", inner)
	if !Is(outer, Authentication) {
		t.Fatal("Is() did not see through fmt.Errorf wrapping")
	}
	if Is(outer, Timeout) {
		t.Fatal("Is() matched the wrong kind")
	}
}

func TestKindStringUnknown(t *testing.T) {
	s := Kind(99).String()
	if s != "Kind(99)" {
		t.Fatalf("Kind.String() = %q", s)
	}
}
