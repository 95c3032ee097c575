package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/dropDatabas3/idlink/internal/cache"
)

func TestMemoryRoundTrip(t *testing.T) {
	c := cache.NewMemory("p")
	ctx := context.Background()

	if err := c.Set(ctx, "k", "v", time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err := c.Get(ctx, "k")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != "v" {
		t.Errorf("got %q, want v", got)
	}

	if err := c.Delete(ctx, "k"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := c.Get(ctx, "k"); !cache.IsNotFound(err) {
		t.Fatalf("after delete: err = %v, want not found", err)
	}
}

func TestMemoryTTLExpiry(t *testing.T) {
	c := cache.NewMemory("")
	ctx := context.Background()

	if err := c.Set(ctx, "k", "v", time.Millisecond); err != nil {
		t.Fatalf("set: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if _, err := c.Get(ctx, "k"); !cache.IsNotFound(err) {
		t.Fatalf("expired key: err = %v, want not found", err)
	}
}

func TestPrefixIsolation(t *testing.T) {
	a := cache.NewMemory("a")
	b := cache.NewMemory("b")
	ctx := context.Background()

	_ = a.Set(ctx, "k", "va", 0)
	if _, err := b.Get(ctx, "k"); !cache.IsNotFound(err) {
		t.Fatalf("prefixes should not collide: %v", err)
	}
}

func TestNewDefaultsToMemory(t *testing.T) {
	c, err := cache.New(cache.Config{Driver: ""})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := c.Ping(context.Background()); err != nil {
		t.Errorf("ping: %v", err)
	}
}
