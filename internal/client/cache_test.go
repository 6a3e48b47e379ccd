// AngelaMos | 2026
// cache_test.go

package client

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotRoundTrip(t *testing.T) {
	cache := NewSnapshotCache(t.TempDir(), time.Hour)

	_, ok := cache.Load()
	assert.False(t, ok, "empty cache has nothing to load")

	status := &EntitlementStatus{
		Premium:     true,
		PlanType:    "family",
		DeviceMatch: true,
	}
	require.NoError(t, cache.Store(status))

	loaded, ok := cache.Load()
	require.True(t, ok)
	assert.Equal(t, *status, *loaded)
}

func TestSnapshotExpires(t *testing.T) {
	cache := NewSnapshotCache(t.TempDir(), time.Hour)
	require.NoError(t, cache.Store(&EntitlementStatus{Premium: true}))

	cache.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	_, ok := cache.Load()
	assert.False(t, ok, "an expired snapshot fails the optimistic read")

	stale, ok := cache.LoadStale()
	require.True(t, ok, "the stale read ignores age")
	assert.True(t, stale.Premium)
}

func TestSnapshotClear(t *testing.T) {
	cache := NewSnapshotCache(t.TempDir(), time.Hour)
	require.NoError(t, cache.Store(&EntitlementStatus{Premium: true}))

	require.NoError(t, cache.Clear())
	require.NoError(t, cache.Clear(), "clearing twice is fine")

	_, ok := cache.Load()
	assert.False(t, ok)
}

func TestDeviceHashStableAcrossRestarts(t *testing.T) {
	dir := t.TempDir()

	first, err := NewDeviceIdentity(dir).Hash()
	require.NoError(t, err)
	second, err := NewDeviceIdentity(dir).Hash()
	require.NoError(t, err)

	assert.Equal(t, first, second)

	other, err := NewDeviceIdentity(t.TempDir()).Hash()
	require.NoError(t, err)
	assert.NotEqual(t, first, other, "a fresh install is a new device")
}
