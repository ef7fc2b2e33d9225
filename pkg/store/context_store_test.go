package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func testContextStore(t *testing.T, cs ContextStore) {
	t.Helper()
	ctx := context.Background()

	if _, ok, err := cs.LastFile(ctx, "owner-1", "t-1"); ok || err != nil {
		t.Fatalf("empty store: ok=%v err=%v", ok, err)
	}
	if err := cs.RememberFile(ctx, "owner-1", "t-1", "report.pdf"); err != nil {
		t.Fatalf("remember: %v", err)
	}
	name, ok, err := cs.LastFile(ctx, "owner-1", "t-1")
	if err != nil || !ok || name != "report.pdf" {
		t.Fatalf("last file = %q ok=%v err=%v", name, ok, err)
	}

	// Scoped per (owner, thread).
	if _, ok, _ := cs.LastFile(ctx, "owner-2", "t-1"); ok {
		t.Fatalf("context leaked across owners")
	}
	if _, ok, _ := cs.LastFile(ctx, "owner-1", "t-2"); ok {
		t.Fatalf("context leaked across threads")
	}

	// A later upload overwrites.
	if err := cs.RememberFile(ctx, "owner-1", "t-1", "notes.txt"); err != nil {
		t.Fatalf("remember: %v", err)
	}
	if name, _, _ := cs.LastFile(ctx, "owner-1", "t-1"); name != "notes.txt" {
		t.Fatalf("last file = %q, want overwrite", name)
	}

	if err := cs.Clear(ctx, "owner-1", "t-1"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, ok, _ := cs.LastFile(ctx, "owner-1", "t-1"); ok {
		t.Fatalf("context survived clear")
	}
	// Clearing a missing entry is not an error.
	if err := cs.Clear(ctx, "owner-1", "t-1"); err != nil {
		t.Fatalf("clear absent: %v", err)
	}
}

func TestMemoryContextStore(t *testing.T) {
	testContextStore(t, NewMemoryContextStore())
}

func TestRedisContextStore(t *testing.T) {
	redis := miniredis.RunT(t)
	testContextStore(t, NewRedisContextStore(redis.Addr(), "", "test:context", 0))
}

func TestRedisContextStoreTTL(t *testing.T) {
	redis := miniredis.RunT(t)
	cs := NewRedisContextStore(redis.Addr(), "", "test:context", time.Minute)
	ctx := context.Background()

	if err := cs.RememberFile(ctx, "owner-1", "t-1", "report.pdf"); err != nil {
		t.Fatalf("remember: %v", err)
	}
	redis.FastForward(2 * time.Minute)
	if _, ok, _ := cs.LastFile(ctx, "owner-1", "t-1"); ok {
		t.Fatalf("context survived TTL expiry")
	}
}

func TestRedisContextStoreErrorsSurface(t *testing.T) {
	redis := miniredis.RunT(t)
	cs := NewRedisContextStore(redis.Addr(), "", "test:context", 0)
	redis.Close()

	if err := cs.RememberFile(context.Background(), "owner-1", "t-1", "x"); err == nil {
		t.Fatalf("expected error with redis down")
	}
	if _, _, err := cs.LastFile(context.Background(), "owner-1", "t-1"); err == nil {
		t.Fatalf("expected error with redis down")
	}
}
