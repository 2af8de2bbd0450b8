package tokencache

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestCache(t *testing.T) (*Cache, *time.Time) {
	t.Helper()
	dir := t.TempDir()
	c, err := New(dir, time.Minute)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.nowFn = func() time.Time { return now }
	return c, &now
}

func TestPutThenGetHit(t *testing.T) {
	c, now := newTestCache(t)
	expiry := now.Add(10 * time.Minute)
	if err := c.Put("user@example.com", StageAnonymous, "tok-1", expiry); err != nil {
		t.Fatalf("Put() error: %v", err)
	}
	token, ok, err := c.Get("user@example.com", StageAnonymous)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if !ok || token != "tok-1" {
		t.Errorf("Get() = (%q, %v), want (%q, true)", token, ok, "tok-1")
	}
}

func TestGetMissWithinSafetyMargin(t *testing.T) {
	c, now := newTestCache(t)
	// expires in 30s, safety margin is 60s: should be a miss.
	if err := c.Put("user@example.com", StageMQTT, "tok-2", now.Add(30*time.Second)); err != nil {
		t.Fatalf("Put() error: %v", err)
	}
	_, ok, err := c.Get("user@example.com", StageMQTT)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if ok {
		t.Error("Get() ok = true, want false (within safety margin)")
	}
}

func TestGetMissWhenAbsent(t *testing.T) {
	c, _ := newTestCache(t)
	_, ok, err := c.Get("nobody@example.com", StageLogin)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if ok {
		t.Error("Get() ok = true for absent entry, want false")
	}
}

func TestInvalidateRemovesAllStages(t *testing.T) {
	c, now := newTestCache(t)
	email := "user@example.com"
	c.Put(email, StageAnonymous, "a", now.Add(time.Hour))
	c.Put(email, StageLogin, "b", now.Add(time.Hour))

	if err := c.Invalidate(email); err != nil {
		t.Fatalf("Invalidate() error: %v", err)
	}
	if _, ok, _ := c.Get(email, StageAnonymous); ok {
		t.Error("StageAnonymous still present after Invalidate()")
	}
	if _, ok, _ := c.Get(email, StageLogin); ok {
		t.Error("StageLogin still present after Invalidate()")
	}
}

func TestCorruptFileTreatedAsMiss(t *testing.T) {
	c, now := newTestCache(t)
	email := "user@example.com"
	path := c.accountPath(email)
	if err := os.WriteFile(path, []byte("{not valid json"), 0600); err != nil {
		t.Fatalf("seeding corrupt file: %v", err)
	}

	_, ok, err := c.Get(email, StageAnonymous)
	if err != nil {
		t.Fatalf("Get() on corrupt file returned error instead of miss: %v", err)
	}
	if ok {
		t.Error("Get() ok = true on corrupt file, want false")
	}

	if err := c.Put(email, StageAnonymous, "fresh", now.Add(time.Hour)); err != nil {
		t.Fatalf("Put() after corrupt read: %v", err)
	}
	token, ok, err := c.Get(email, StageAnonymous)
	if err != nil || !ok || token != "fresh" {
		t.Errorf("Get() after overwrite = (%q, %v, %v), want (fresh, true, nil)", token, ok, err)
	}
}

func TestWriteIsAtomicNoLeftoverTempFiles(t *testing.T) {
	c, now := newTestCache(t)
	if err := c.Put("user@example.com", StageAnonymous, "tok", now.Add(time.Hour)); err != nil {
		t.Fatalf("Put() error: %v", err)
	}
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		t.Fatalf("ReadDir() error: %v", err)
	}
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".tmp" {
			t.Errorf("leftover temp file after Put(): %s", e.Name())
		}
	}
}
