package traceid

import (
	"testing"

	"github.com/justapithecus/restwork/ids"
)

func TestDerive_Deterministic(t *testing.T) {
	a := Derive(ids.InvocationID("inv-1"))
	b := Derive(ids.InvocationID("inv-1"))
	if a != b {
		t.Fatalf("Derive not deterministic: %q vs %q", a, b)
	}
	if len(a) != 32 {
		t.Fatalf("expected 32 hex chars, got %d: %q", len(a), a)
	}
}

func TestDerive_DifferentInputsDiffer(t *testing.T) {
	a := Derive(ids.InvocationID("inv-1"))
	b := Derive(ids.InvocationID("inv-2"))
	if a == b {
		t.Fatalf("expected distinct trace ids, both %q", a)
	}
}

func TestTraceparent_Shape(t *testing.T) {
	tp := Traceparent("0123456789abcdef0123456789abcdef", "0123456789abcdef")
	want := "00-0123456789abcdef0123456789abcdef-0123456789abcdef-01"
	if tp != want {
		t.Fatalf("got %q, want %q", tp, want)
	}
}
