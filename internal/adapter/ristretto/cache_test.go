package ristretto_test

import (
	"context"
	"testing"
	"time"

	"github.com/circadianhq/circadian/internal/adapter/ristretto"
)

func newTestCache(t *testing.T) *ristretto.Cache {
	t.Helper()
	c, err := ristretto.New(1 << 20)
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func TestSetAndGet(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	if err := c.Set(ctx, "score:amber:1", []byte("87"), time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	c.Wait()

	val, ok, err := c.Get(ctx, "score:amber:1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !ok {
		t.Fatal("expected hit after set")
	}
	if string(val) != "87" {
		t.Fatalf("expected 87, got %s", val)
	}
}

func TestGetMissIsNotAnError(t *testing.T) {
	c := newTestCache(t)

	_, ok, err := c.Get(context.Background(), "score:never:0")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if ok {
		t.Fatal("expected miss for unknown key")
	}
}

func TestDelete(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	_ = c.Set(ctx, "score:amber:2", []byte("40"), time.Minute)
	c.Wait()

	if err := c.Delete(ctx, "score:amber:2"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := c.Get(ctx, "score:amber:2"); ok {
		t.Fatal("expected miss after delete")
	}

	// Deleting a key that was never set must not error.
	if err := c.Delete(ctx, "score:never:0"); err != nil {
		t.Fatalf("delete unknown key: %v", err)
	}
}

func TestOverwrite(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	_ = c.Set(ctx, "score:amber:3", []byte("10"), time.Minute)
	c.Wait()
	_ = c.Set(ctx, "score:amber:3", []byte("90"), time.Minute)
	c.Wait()

	val, ok, err := c.Get(ctx, "score:amber:3")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !ok {
		t.Fatal("expected hit after overwrite")
	}
	if string(val) != "90" {
		t.Fatalf("expected 90 after overwrite, got %s", val)
	}
}

func TestTTLExpiry(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	_ = c.Set(ctx, "score:amber:4", []byte("55"), 10*time.Millisecond)
	c.Wait()

	time.Sleep(50 * time.Millisecond)

	if _, ok, _ := c.Get(ctx, "score:amber:4"); ok {
		t.Fatal("expected entry to expire")
	}
}
