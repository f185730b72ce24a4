package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func TestStorePutGet(t *testing.T) {
	clock := newFakeClock()
	store := NewStore(NewMemory(), clock, zap.NewNop())
	ctx := context.Background()

	store.Put(ctx, "recall:ZWR80-1234567", []byte(`{"hasRecall":true}`), 24*time.Hour)

	rec, ok := store.Get(ctx, "recall:ZWR80-1234567")
	if !ok {
		t.Fatal("expected cache hit")
	}
	if string(rec.Payload) != `{"hasRecall":true}` {
		t.Fatalf("unexpected payload %s", rec.Payload)
	}
	if !rec.CheckedAt.Equal(clock.Now()) {
		t.Fatalf("CheckedAt = %v, want %v", rec.CheckedAt, clock.Now())
	}
}

func TestStoreMissOnUnknownKey(t *testing.T) {
	store := NewStore(NewMemory(), newFakeClock(), zap.NewNop())
	if _, ok := store.Get(context.Background(), "recall:nothing"); ok {
		t.Fatal("expected miss for unknown key")
	}
}

func TestStoreExpiryBoundary(t *testing.T) {
	clock := newFakeClock()
	store := NewStore(NewMemory(), clock, zap.NewNop())
	ctx := context.Background()

	store.Put(ctx, "k", []byte(`{}`), time.Hour)

	clock.Advance(time.Hour - time.Millisecond)
	if _, ok := store.Get(ctx, "k"); !ok {
		t.Fatal("entry just inside TTL should hit")
	}

	clock.Advance(time.Millisecond)
	if _, ok := store.Get(ctx, "k"); ok {
		t.Fatal("entry at exact expiry instant should miss")
	}
}

func TestStoreOverwriteRefreshesTTL(t *testing.T) {
	clock := newFakeClock()
	mem := NewMemory()
	store := NewStore(mem, clock, zap.NewNop())
	ctx := context.Background()

	store.Put(ctx, "k", []byte(`{"v":1}`), time.Hour)
	clock.Advance(50 * time.Minute)
	store.Put(ctx, "k", []byte(`{"v":2}`), time.Hour)
	clock.Advance(50 * time.Minute)

	rec, ok := store.Get(ctx, "k")
	if !ok {
		t.Fatal("refreshed entry should still be live")
	}
	if string(rec.Payload) != `{"v":2}` {
		t.Fatalf("expected overwritten payload, got %s", rec.Payload)
	}
	if mem.Len() != 1 {
		t.Fatalf("overwrite should keep a single record, have %d", mem.Len())
	}
}

func TestStoreInvalidate(t *testing.T) {
	clock := newFakeClock()
	store := NewStore(NewMemory(), clock, zap.NewNop())
	ctx := context.Background()

	store.Put(ctx, "a", []byte(`{}`), time.Hour)
	store.Put(ctx, "b", []byte(`{}`), time.Hour)

	store.Invalidate(ctx, "a")
	if _, ok := store.Get(ctx, "a"); ok {
		t.Fatal("invalidated key should miss")
	}
	if _, ok := store.Get(ctx, "b"); !ok {
		t.Fatal("other key should survive single invalidation")
	}

	store.InvalidateAll(ctx)
	if _, ok := store.Get(ctx, "b"); ok {
		t.Fatal("InvalidateAll should clear every key")
	}
}

type failingBackend struct{}

func (failingBackend) Upsert(context.Context, Record) error { return errors.New("backend down") }
func (failingBackend) Find(context.Context, string) (Record, bool, error) {
	return Record{}, false, errors.New("backend down")
}
func (failingBackend) Delete(context.Context, string) error { return errors.New("backend down") }
func (failingBackend) DeleteAll(context.Context) error      { return errors.New("backend down") }

func TestStoreAbsorbsBackendErrors(t *testing.T) {
	store := NewStore(failingBackend{}, newFakeClock(), zap.NewNop())
	ctx := context.Background()

	store.Put(ctx, "k", []byte(`{}`), time.Hour)
	if _, ok := store.Get(ctx, "k"); ok {
		t.Fatal("backend error should surface as a miss")
	}
	store.Invalidate(ctx, "k")
	store.InvalidateAll(ctx)
}
