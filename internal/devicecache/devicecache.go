// Package devicecache implements the per-account persistent device
// list cache with TTL (spec §4.4), using the same atomic
// temp-file-then-rename write discipline as internal/tokencache.
package devicecache

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultTTL is the default staleness window before a cached device
// list is treated as a miss.
const DefaultTTL = 24 * time.Hour

// Device mirrors the data model's Device value (spec §3).
type Device struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Model     string    `json:"model"`
	Online    bool      `json:"online"`
	CreatedAt time.Time `json:"createdAt"`
}

type record struct {
	CachedAt time.Time `json:"cachedAt"`
	Devices  []Device  `json:"devices"`
}

// Cache is a directory of per-account device-list files.
type Cache struct {
	dir   string
	ttl   time.Duration
	nowFn func() time.Time
}

// New creates a Cache rooted at dir, creating it with 0700 permissions
// if missing.
func New(dir string, ttl time.Duration) (*Cache, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("devicecache: creating cache directory: %w", err)
	}
	return &Cache{dir: dir, ttl: ttl, nowFn: time.Now}, nil
}

func (c *Cache) now() time.Time {
	if c.nowFn != nil {
		return c.nowFn()
	}
	return time.Now()
}

// accountPath returns devices_<md5(email)>.json per the persisted
// state layout in spec §6.
func (c *Cache) accountPath(email string) string {
	sum := md5.Sum([]byte(email))
	return filepath.Join(c.dir, "devices_"+hex.EncodeToString(sum[:])+".json")
}

// Get returns the cached device list for email. ok is false if no
// file exists, the file is corrupt, or it is older than the TTL.
func (c *Cache) Get(email string) (devices []Device, ok bool, err error) {
	rec, found, err := c.read(email)
	if err != nil {
		return nil, false, err
	}
	if !found {
		return nil, false, nil
	}
	if c.now().Sub(rec.CachedAt) > c.ttl {
		return nil, false, nil
	}
	return rec.Devices, true, nil
}

// Age returns the elapsed time since the last Put for email, or false
// if there is no cached entry.
func (c *Cache) Age(email string) (time.Duration, bool, error) {
	rec, found, err := c.read(email)
	if err != nil || !found {
		return 0, false, err
	}
	return c.now().Sub(rec.CachedAt), true, nil
}

func (c *Cache) read(email string) (*record, bool, error) {
	data, err := os.ReadFile(c.accountPath(email))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		// Corrupt file: treated as a miss, overwritten on next Put.
		return nil, false, nil
	}
	return &rec, true, nil
}

// Put overwrites the cached device list for email.
func (c *Cache) Put(email string, devices []Device) error {
	rec := record{CachedAt: c.now(), Devices: devices}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("devicecache: marshaling: %w", err)
	}

	path := c.accountPath(email)
	tmp, err := os.CreateTemp(c.dir, ".devicecache-*.tmp")
	if err != nil {
		return fmt.Errorf("devicecache: creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("devicecache: chmod temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("devicecache: writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("devicecache: closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("devicecache: renaming temp file: %w", err)
	}
	return nil
}

// Invalidate removes the cached device list for email.
func (c *Cache) Invalidate(email string) error {
	if err := os.Remove(c.accountPath(email)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("devicecache: invalidating: %w", err)
	}
	return nil
}
