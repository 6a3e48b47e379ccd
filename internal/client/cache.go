// AngelaMos | 2026
// cache.go

package client

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const snapshotFile = "entitlement.json"

// DefaultSnapshotTTL bounds how long a cached status can stand in for the
// backend when the device is offline.
const DefaultSnapshotTTL = 24 * time.Hour

type snapshot struct {
	Status    EntitlementStatus `json:"status"`
	FetchedAt time.Time         `json:"fetched_at"`
}

// SnapshotCache persists the last known entitlement so the app can start
// offline. It is a fallback, never the source of truth: a fresh backend
// answer always overwrites it.
type SnapshotCache struct {
	dir string
	ttl time.Duration
	now func() time.Time
}

func NewSnapshotCache(dir string, ttl time.Duration) *SnapshotCache {
	if ttl <= 0 {
		ttl = DefaultSnapshotTTL
	}
	return &SnapshotCache{
		dir: dir,
		ttl: ttl,
		now: time.Now,
	}
}

// Load returns the cached status, or ok=false when the snapshot is missing,
// unreadable, or older than the TTL.
func (c *SnapshotCache) Load() (*EntitlementStatus, bool) {
	status, age, ok := c.read()
	if !ok || age > c.ttl {
		return nil, false
	}
	return status, true
}

// LoadStale returns the snapshot regardless of age. Last resort for a
// failed refresh, where a day-old answer still beats none.
func (c *SnapshotCache) LoadStale() (*EntitlementStatus, bool) {
	status, _, ok := c.read()
	return status, ok
}

func (c *SnapshotCache) read() (*EntitlementStatus, time.Duration, bool) {
	data, err := os.ReadFile(filepath.Join(c.dir, snapshotFile))
	if err != nil {
		return nil, 0, false
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, 0, false
	}

	return &snap.Status, c.now().Sub(snap.FetchedAt), true
}

func (c *SnapshotCache) Store(status *EntitlementStatus) error {
	snap := snapshot{
		Status:    *status,
		FetchedAt: c.now(),
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	if err := os.MkdirAll(c.dir, 0o700); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}

	path := filepath.Join(c.dir, snapshotFile)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}

	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}

	return nil
}

func (c *SnapshotCache) Clear() error {
	err := os.Remove(filepath.Join(c.dir, snapshotFile))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clear snapshot: %w", err)
	}
	return nil
}
