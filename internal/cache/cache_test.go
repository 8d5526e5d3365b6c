package cache

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mbarnett/parley/internal/config"
	"github.com/mbarnett/parley/internal/model"
)

func TestTTLCache_HitThenExpiry(t *testing.T) {
	c := NewTTLCache[string, string]()
	c.Set("token", "value", 50*time.Millisecond)

	got, ok := c.Get("token")
	if !ok || got != "value" {
		t.Fatalf("Get() = %q, %v, want value, true", got, ok)
	}

	time.Sleep(100 * time.Millisecond)

	if _, ok := c.Get("token"); ok {
		t.Error("Get() after expiry = hit, want miss")
	}
	if c.Len() != 0 {
		t.Errorf("Len() = %d after expired read, want 0", c.Len())
	}
}

func TestTTLCache_ZeroTTLNeverExpires(t *testing.T) {
	c := NewTTLCache[string, int]()
	c.Set("k", 42, 0)

	time.Sleep(20 * time.Millisecond)

	if got, ok := c.Get("k"); !ok || got != 42 {
		t.Errorf("Get() = %d, %v, want 42, true", got, ok)
	}
	if evicted := c.Sweep(); evicted != 0 {
		t.Errorf("Sweep() evicted %d entries, want 0", evicted)
	}
}

func TestTTLCache_Invalidate(t *testing.T) {
	c := NewTTLCache[string, int]()
	c.Set("k", 1, time.Minute)

	if !c.Invalidate("k") {
		t.Error("Invalidate() = false, want true")
	}
	if _, ok := c.Get("k"); ok {
		t.Error("Get() after Invalidate = hit, want miss")
	}
	if c.Invalidate("k") {
		t.Error("Invalidate() on absent key = true, want false")
	}
}

func TestTTLCache_InvalidateFunc(t *testing.T) {
	c := NewTTLCache[PageKey, int]()
	room := uuid.New()
	other := uuid.New()

	c.Set(PageKey{RoomID: room, Limit: 50}, 1, time.Minute)
	c.Set(PageKey{RoomID: room, Limit: 100}, 2, time.Minute)
	c.Set(PageKey{RoomID: other, Limit: 50}, 3, time.Minute)

	removed := c.InvalidateFunc(func(k PageKey) bool { return k.RoomID == room })
	if removed != 2 {
		t.Errorf("InvalidateFunc removed %d, want 2", removed)
	}
	if _, ok := c.Get(PageKey{RoomID: other, Limit: 50}); !ok {
		t.Error("unrelated entry was invalidated")
	}
}

func TestTTLCache_Stats(t *testing.T) {
	c := NewTTLCache[string, int]()
	c.Set("a", 1, time.Minute)

	c.Get("a") // hit
	c.Get("b") // miss

	stats := c.Stats()
	if stats.Hits != 1 {
		t.Errorf("Hits = %d, want 1", stats.Hits)
	}
	if stats.Misses != 1 {
		t.Errorf("Misses = %d, want 1", stats.Misses)
	}
	if stats.Size != 1 {
		t.Errorf("Size = %d, want 1", stats.Size)
	}
}

func TestTTLCache_Sweep(t *testing.T) {
	c := NewTTLCache[int, int]()
	c.Set(1, 1, 10*time.Millisecond)
	c.Set(2, 2, time.Minute)

	time.Sleep(30 * time.Millisecond)

	if evicted := c.Sweep(); evicted != 1 {
		t.Errorf("Sweep() = %d, want 1", evicted)
	}
	if c.Len() != 1 {
		t.Errorf("Len() = %d after sweep, want 1", c.Len())
	}
}

func testCacheConfig() config.CacheConfig {
	return config.CacheConfig{
		SessionTTL:     time.Minute,
		MembershipTTL:  time.Minute,
		MessagePageTTL: time.Minute,
		SearchTTL:      time.Minute,
		SweepInterval:  10 * time.Millisecond,
	}
}

func TestCaches_SessionTTLOverride(t *testing.T) {
	c := New(testCacheConfig(), nil)

	s := model.Session{Token: "tok", UserID: uuid.New()}
	c.CacheSession(s, 50*time.Millisecond)

	if got, ok := c.GetCachedSession("tok"); !ok || got.Token != "tok" {
		t.Fatalf("GetCachedSession() = %+v, %v, want hit", got, ok)
	}

	time.Sleep(100 * time.Millisecond)

	if _, ok := c.GetCachedSession("tok"); ok {
		t.Error("session still cached past its TTL")
	}
}

func TestCaches_InvalidateRoomMessages(t *testing.T) {
	c := New(testCacheConfig(), nil)
	room := uuid.New()

	key := PageKey{RoomID: room, Limit: 50}
	c.CacheMessagePage(key, []model.Message{{ID: uuid.New(), RoomID: room}})

	c.InvalidateRoomMessages(room)

	if _, ok := c.GetCachedMessagePage(key); ok {
		t.Error("message page survived room invalidation")
	}
}

func TestCaches_ClearAll(t *testing.T) {
	c := New(testCacheConfig(), nil)
	room := uuid.New()

	c.CacheSession(model.Session{Token: "tok"}, 0)
	c.CacheMembership(room, []uuid.UUID{uuid.New()})
	c.CacheSearch("hello", nil)

	c.ClearAll()

	for name, stats := range c.AllStats() {
		if stats.Size != 0 {
			t.Errorf("cache %s size = %d after ClearAll, want 0", name, stats.Size)
		}
	}
}

func TestCaches_SweepLifecycle(t *testing.T) {
	c := New(testCacheConfig(), nil)

	ctx := context.Background()
	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	c.session.Set("gone", model.Session{Token: "gone"}, time.Millisecond)

	// Give the sweep a few intervals to run.
	time.Sleep(50 * time.Millisecond)

	if c.session.Len() != 0 {
		t.Errorf("session cache len = %d, want 0 after sweep", c.session.Len())
	}

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := c.Stop(stopCtx); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
}
