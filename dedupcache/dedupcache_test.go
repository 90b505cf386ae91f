package dedupcache

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"github.com/justapithecus/restwork/ids"
)

func TestCache_SetThenGet(t *testing.T) {
	mr := miniredis.RunT(t)
	c, err := New(Config{Addr: mr.Addr()})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer func() { _ = c.Close() }()

	ctx := context.Background()
	if err := c.Set(ctx, 1, "self", "esn:3:7"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, ok, err := c.Get(ctx, 1, "self")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !ok || got != "esn:3:7" {
		t.Errorf("Get = (%q, %v), want (\"esn:3:7\", true)", got, ok)
	}
}

func TestCache_GetMiss(t *testing.T) {
	mr := miniredis.RunT(t)
	c, err := New(Config{Addr: mr.Addr()})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer func() { _ = c.Close() }()

	_, ok, err := c.Get(context.Background(), 1, ids.ProducerID("nobody"))
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if ok {
		t.Error("expected miss for unset producer")
	}
}

func TestNew_RequiresAddr(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected error for empty addr")
	}
}
