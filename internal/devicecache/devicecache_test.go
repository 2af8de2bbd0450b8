package devicecache

import (
	"testing"
	"time"
)

func newTestCache(t *testing.T) (*Cache, *time.Time) {
	t.Helper()
	dir := t.TempDir()
	c, err := New(dir, time.Hour)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.nowFn = func() time.Time { return now }
	return c, &now
}

func TestPutThenGetHit(t *testing.T) {
	c, _ := newTestCache(t)
	devices := []Device{{ID: "AABBCCDDEEFF", Name: "Office F2400", Model: "F2400", Online: true}}
	if err := c.Put("user@example.com", devices); err != nil {
		t.Fatalf("Put() error: %v", err)
	}
	got, ok, err := c.Get("user@example.com")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if !ok || len(got) != 1 || got[0].ID != "AABBCCDDEEFF" {
		t.Errorf("Get() = (%v, %v), want devices list with one entry", got, ok)
	}
}

func TestGetMissWhenStale(t *testing.T) {
	dir := t.TempDir()
	c, err := New(dir, time.Minute)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.nowFn = func() time.Time { return now }

	if err := c.Put("user@example.com", []Device{{ID: "AABBCCDDEEFF"}}); err != nil {
		t.Fatalf("Put() error: %v", err)
	}

	now = now.Add(2 * time.Minute)
	_, ok, err := c.Get("user@example.com")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if ok {
		t.Error("Get() ok = true after TTL elapsed, want false")
	}
}

func TestAgeReportsElapsedSinceLastWrite(t *testing.T) {
	dir := t.TempDir()
	c, err := New(dir, time.Hour)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.nowFn = func() time.Time { return now }

	c.Put("user@example.com", []Device{{ID: "AABBCCDDEEFF"}})
	now = now.Add(5 * time.Minute)

	age, ok, err := c.Age("user@example.com")
	if err != nil || !ok {
		t.Fatalf("Age() = (%v, %v, %v), want (5m, true, nil)", age, ok, err)
	}
	if age != 5*time.Minute {
		t.Errorf("Age() = %v, want 5m", age)
	}
}

func TestInvalidateRemovesEntry(t *testing.T) {
	c, _ := newTestCache(t)
	email := "user@example.com"
	c.Put(email, []Device{{ID: "AABBCCDDEEFF"}})
	if err := c.Invalidate(email); err != nil {
		t.Fatalf("Invalidate() error: %v", err)
	}
	if _, ok, _ := c.Get(email); ok {
		t.Error("Get() ok = true after Invalidate(), want false")
	}
}
