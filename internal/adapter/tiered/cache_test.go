package tiered_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/circadianhq/circadian/internal/adapter/tiered"
)

// memCache is an in-memory cache level for testing.
type memCache struct {
	data map[string][]byte
	err  error
}

func newMemCache() *memCache {
	return &memCache{data: make(map[string][]byte)}
}

func (m *memCache) Get(_ context.Context, key string) (data []byte, ok bool, err error) {
	if m.err != nil {
		return nil, false, m.err
	}
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	if m.err != nil {
		return m.err
	}
	m.data[key] = value
	return nil
}

func (m *memCache) Delete(_ context.Context, key string) error {
	delete(m.data, key)
	return nil
}

func TestGet_L1Hit(t *testing.T) {
	l1 := newMemCache()
	l2 := newMemCache()
	c := tiered.New(l1, l2, 5*time.Minute)
	ctx := context.Background()

	l1.data["score:reply:abc"] = []byte("72")

	val, found, err := c.Get(ctx, "score:reply:abc")
	if err != nil {
		t.Fatal(err)
	}
	if !found {
		t.Fatal("expected L1 hit")
	}
	if string(val) != "72" {
		t.Fatalf("got %q, want 72", val)
	}
}

func TestGet_L2HitBackfillsL1(t *testing.T) {
	l1 := newMemCache()
	l2 := newMemCache()
	c := tiered.New(l1, l2, 5*time.Minute)
	ctx := context.Background()

	l2.data["score:like:def"] = []byte("31")

	val, found, err := c.Get(ctx, "score:like:def")
	if err != nil {
		t.Fatal(err)
	}
	if !found {
		t.Fatal("expected L2 hit")
	}
	if string(val) != "31" {
		t.Fatalf("got %q, want 31", val)
	}
	if got, ok := l1.data["score:like:def"]; !ok || string(got) != "31" {
		t.Fatalf("expected L1 backfill, got %q ok=%t", got, ok)
	}
}

func TestGet_Miss(t *testing.T) {
	c := tiered.New(newMemCache(), newMemCache(), time.Minute)

	_, found, err := c.Get(context.Background(), "absent")
	if err != nil {
		t.Fatal(err)
	}
	if found {
		t.Fatal("expected miss")
	}
}

func TestGet_L1ErrorPropagates(t *testing.T) {
	l1 := newMemCache()
	l1.err = errors.New("l1 down")
	l2 := newMemCache()
	l2.data["k"] = []byte("v")
	c := tiered.New(l1, l2, time.Minute)

	_, _, err := c.Get(context.Background(), "k")
	if err == nil {
		t.Fatal("expected error from L1")
	}
}

func TestSet_WritesBothLevels(t *testing.T) {
	l1 := newMemCache()
	l2 := newMemCache()
	c := tiered.New(l1, l2, time.Minute)

	if err := c.Set(context.Background(), "k", []byte("v"), time.Minute); err != nil {
		t.Fatal(err)
	}
	if _, ok := l1.data["k"]; !ok {
		t.Fatal("expected key in L1")
	}
	if _, ok := l2.data["k"]; !ok {
		t.Fatal("expected key in L2")
	}
}

func TestDelete_RemovesBothLevels(t *testing.T) {
	l1 := newMemCache()
	l2 := newMemCache()
	l1.data["k"] = []byte("v")
	l2.data["k"] = []byte("v")
	c := tiered.New(l1, l2, time.Minute)

	if err := c.Delete(context.Background(), "k"); err != nil {
		t.Fatal(err)
	}
	if _, ok := l1.data["k"]; ok {
		t.Fatal("key still in L1")
	}
	if _, ok := l2.data["k"]; ok {
		t.Fatal("key still in L2")
	}
}
