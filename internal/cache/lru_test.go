package cache

import (
	"io"
	"testing"
	"time"

	"ledgerbook/internal/log"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func TestLRUEvictsOldest(t *testing.T) {
	c := NewLRUCache[string](3, time.Hour)

	c.Set("key1", "value1")
	c.Set("key2", "value2")
	c.Set("key3", "value3")
	c.Set("key4", "value4")

	if _, found := c.Get("key1"); found {
		t.Error("key1 should have been evicted")
	}
	for _, k := range []string{"key2", "key3", "key4"} {
		if _, found := c.Get(k); !found {
			t.Errorf("%s should still be present", k)
		}
	}
	if c.Size() != 3 {
		t.Errorf("size = %d", c.Size())
	}
}

func TestLRUExpiryKeepsStaleValue(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := NewLRUCacheWithClock[int](10, time.Hour, clock.Now)

	c.Set("usd", 1)
	clock.Advance(59 * time.Minute)
	if v, ok := c.Get("usd"); !ok || v != 1 {
		t.Fatalf("expected fresh hit")
	}

	clock.Advance(time.Minute)
	if _, ok := c.Get("usd"); ok {
		t.Fatalf("expected miss at exactly one TTL")
	}
	v, fresh, ok := c.GetStale("usd")
	if !ok || fresh || v != 1 {
		t.Fatalf("expected stale value, got %v fresh=%v ok=%v", v, fresh, ok)
	}

	if n := c.CleanExpired(); n != 1 {
		t.Fatalf("cleaned %d", n)
	}
	if _, _, ok := c.GetStale("usd"); ok {
		t.Fatalf("expected entry gone after cleanup")
	}
}

func TestSetWithExpiry(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := NewLRUCacheWithClock[string](0, time.Hour, clock.Now)

	c.SetWithExpiry("eur", "x", clock.Now().Add(5*time.Minute))
	clock.Advance(6 * time.Minute)
	if _, ok := c.Get("eur"); ok {
		t.Fatalf("explicit expiry ignored")
	}
}

func TestManagerCleanNow(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	a := NewLRUCacheWithClock[int](10, time.Minute, clock.Now)
	b := NewLRUCacheWithClock[int](10, time.Hour, clock.Now)
	a.Set("x", 1)
	b.Set("y", 2)

	m := NewManager(log.New(log.Config{Output: io.Discard}))
	m.Register("short", a)
	m.Register("long", b)
	clock.Advance(2 * time.Minute)

	if n := m.CleanNow(); n != 1 {
		t.Fatalf("expected 1 cleaned, got %d", n)
	}
	if n := m.CleanNow(); n != 0 {
		t.Fatalf("second pass cleaned %d", n)
	}
	m.StartCleanup(time.Hour)
	m.StartCleanup(time.Hour)
	m.Stop()
	m.Stop()
}

func TestManagerStopWithoutStart(t *testing.T) {
	m := NewManager(nil)
	done := make(chan struct{})
	go func() {
		m.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop blocked without a running cleanup loop")
	}
}
