package cache

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryProviderExpiry(t *testing.T) {
	c := NewMemoryProvider()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	if err := c.Set(ctx, "summary", []byte("v1"), time.Minute); err != nil {
		t.Fatalf("Set returned error: %v", err)
	}
	got, err := c.Get(ctx, "summary")
	if err != nil || string(got) != "v1" {
		t.Fatalf("expected hit, got %q err=%v", got, err)
	}

	now = now.Add(2 * time.Minute)
	if _, err := c.Get(ctx, "summary"); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected miss after expiry, got %v", err)
	}
}

func TestMemoryProviderCopiesValues(t *testing.T) {
	c := NewMemoryProvider()
	ctx := context.Background()
	value := []byte("abc")
	_ = c.Set(ctx, "k", value, 0)
	value[0] = 'z'

	got, _ := c.Get(ctx, "k")
	if string(got) != "abc" {
		t.Fatalf("stored value was aliased: %q", got)
	}

	_ = c.Del(ctx, "k")
	if _, err := c.Get(ctx, "k"); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected miss after Del, got %v", err)
	}
}

func TestNoopProviderAlwaysMisses(t *testing.T) {
	var p Provider = NoopProvider{}
	_ = p.Set(context.Background(), "k", []byte("v"), time.Second)
	if _, err := p.Get(context.Background(), "k"); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected ErrCacheMiss, got %v", err)
	}
}
