package cache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

// fakeClock is a manually advanced clock for TTL tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
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

func (c *fakeClock) Rewind(d time.Duration) {
	c.Advance(-d)
}

func newTestCache(clock *fakeClock) (*Cache[int], *MemoryStore[int]) {
	store := NewMemoryStore[int](0)
	return New[int](store, Config{Clock: clock.Now}), store
}

func TestCache_SetAndGet(t *testing.T) {
	clock := newFakeClock()
	c, _ := newTestCache(clock)
	ctx := context.Background()

	c.Set(ctx, "a", 42, time.Second)

	got, ok := c.Get(ctx, "a")
	if !ok {
		t.Fatal("Get after Set reported absent")
	}
	if got != 42 {
		t.Errorf("Get() = %d, want 42", got)
	}
}

func TestCache_TTLExpiry(t *testing.T) {
	clock := newFakeClock()
	c, store := newTestCache(clock)
	ctx := context.Background()

	c.Set(ctx, "a", 42, time.Second)

	clock.Advance(500 * time.Millisecond)
	if got, ok := c.Get(ctx, "a"); !ok || got != 42 {
		t.Fatalf("Get at t=0.5s = (%d, %v), want (42, true)", got, ok)
	}

	clock.Advance(time.Second)
	if _, ok := c.Get(ctx, "a"); ok {
		t.Fatal("Get at t=1.5s returned a stale entry")
	}
	if store.Len() != 0 {
		t.Errorf("stale entry not deleted on read, store has %d entries", store.Len())
	}

	// Moving back inside the original window must not resurrect the entry.
	clock.Rewind(time.Second)
	if _, ok := c.Get(ctx, "a"); ok {
		t.Error("stale entry resurrected after deletion")
	}
}

func TestCache_StaleEntryKeptUntilRead(t *testing.T) {
	clock := newFakeClock()
	c, store := newTestCache(clock)
	ctx := context.Background()

	c.Set(ctx, "a", 1, time.Second)
	clock.Advance(time.Hour)

	if store.Len() != 1 {
		t.Fatalf("store has %d entries before read, want 1 (no proactive sweep)", store.Len())
	}

	c.Get(ctx, "a")

	if store.Len() != 0 {
		t.Errorf("store has %d entries after read, want 0", store.Len())
	}
}

func TestCache_Get_NeverSet(t *testing.T) {
	c, _ := newTestCache(newFakeClock())

	if v, ok := c.Get(context.Background(), "missing"); ok || v != 0 {
		t.Errorf("Get(missing) = (%d, %v), want (0, false)", v, ok)
	}
}

func TestCache_DefaultTTL(t *testing.T) {
	clock := newFakeClock()
	c, _ := newTestCache(clock)
	ctx := context.Background()

	c.Set(ctx, "a", 7, 0)

	clock.Advance(DefaultTTL)
	if _, ok := c.Get(ctx, "a"); !ok {
		t.Fatal("entry stale at exactly DefaultTTL")
	}

	clock.Advance(time.Millisecond)
	if _, ok := c.Get(ctx, "a"); ok {
		t.Error("entry still fresh after DefaultTTL")
	}
}

func TestCache_Overwrite(t *testing.T) {
	clock := newFakeClock()
	c, _ := newTestCache(clock)
	ctx := context.Background()

	c.Set(ctx, "a", 1, time.Second)
	clock.Advance(900 * time.Millisecond)
	c.Set(ctx, "a", 2, time.Second)
	clock.Advance(900 * time.Millisecond)

	got, ok := c.Get(ctx, "a")
	if !ok || got != 2 {
		t.Errorf("Get() = (%d, %v), want (2, true) with refreshed createdAt", got, ok)
	}
}

func TestCache_Clear(t *testing.T) {
	tests := []struct {
		name    string
		entries int
	}{
		{name: "empty cache", entries: 0},
		{name: "one entry", entries: 1},
		{name: "many entries", entries: 25},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, store := newTestCache(newFakeClock())
			ctx := context.Background()

			for i := 0; i < tt.entries; i++ {
				c.Set(ctx, fmt.Sprintf("k%d", i), i, time.Minute)
			}

			c.Clear(ctx)
			c.Clear(ctx)

			for i := 0; i < tt.entries; i++ {
				if _, ok := c.Get(ctx, fmt.Sprintf("k%d", i)); ok {
					t.Errorf("k%d present after Clear", i)
				}
			}
			if store.Len() != 0 {
				t.Errorf("store has %d entries after Clear", store.Len())
			}
		})
	}
}

func TestCache_Delete(t *testing.T) {
	c, _ := newTestCache(newFakeClock())
	ctx := context.Background()

	c.Set(ctx, "a", 1, time.Minute)
	c.Delete(ctx, "a")
	c.Delete(ctx, "never-set")

	if _, ok := c.Get(ctx, "a"); ok {
		t.Error("entry present after Delete")
	}
}

// racingStore writes a fresh entry right after handing out the stale one,
// the way a concurrent Set can land between a read and its expiry delete.
type racingStore struct {
	*MemoryStore[int]
	clock *fakeClock
	once  sync.Once
}

func (s *racingStore) Get(ctx context.Context, key string) (*Entry[int], error) {
	entry, err := s.MemoryStore.Get(ctx, key)
	s.once.Do(func() {
		s.MemoryStore.Set(ctx, &Entry[int]{Key: key, Value: 2, CreatedAt: s.clock.Now(), TTL: time.Minute})
	})
	return entry, err
}

func TestCache_StaleDeleteKeepsConcurrentSet(t *testing.T) {
	clock := newFakeClock()
	store := &racingStore{MemoryStore: NewMemoryStore[int](0), clock: clock}
	c := New[int](store, Config{Clock: clock.Now})
	ctx := context.Background()

	store.MemoryStore.Set(ctx, &Entry[int]{Key: "a", Value: 1, CreatedAt: clock.Now(), TTL: time.Second})
	clock.Advance(time.Hour)

	if _, ok := c.Get(ctx, "a"); ok {
		t.Fatal("stale entry served")
	}

	got, ok := c.Get(ctx, "a")
	if !ok {
		t.Fatal("fresh entry written during the stale read was deleted")
	}
	if got != 2 {
		t.Errorf("Get() = %d, want 2", got)
	}
}

func TestNew_NilStorePanics(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("New should panic with nil store")
		}
	}()
	New[int](nil, Config{})
}
