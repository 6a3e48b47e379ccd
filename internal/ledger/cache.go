// AngelaMos | 2026
// cache.go

package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const statusKeyPrefix = "entitlement:status:"

// StatusCache keeps a short-lived snapshot of derived status per user so
// app-open checks do not hammer the ledger. Every entitlement mutation drops
// the snapshot; the TTL is only a backstop.
type StatusCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewStatusCache(client *redis.Client, ttl time.Duration) *StatusCache {
	return &StatusCache{
		client: client,
		ttl:    ttl,
	}
}

func (c *StatusCache) Get(
	ctx context.Context,
	userID, deviceHash string,
) (*StatusResponse, bool) {
	raw, err := c.client.Get(ctx, c.key(userID, deviceHash)).Bytes()
	if err != nil {
		return nil, false
	}

	var status StatusResponse
	if err := json.Unmarshal(raw, &status); err != nil {
		return nil, false
	}

	return &status, true
}

func (c *StatusCache) Set(
	ctx context.Context,
	userID, deviceHash string,
	status *StatusResponse,
) {
	raw, err := json.Marshal(status)
	if err != nil {
		return
	}

	// Best effort: a cache write failure only costs a ledger read later.
	_ = c.client.Set(ctx, c.key(userID, deviceHash), raw, c.ttl).Err() //nolint:errcheck
}

func (c *StatusCache) Invalidate(ctx context.Context, userID string) {
	iter := c.client.Scan(
		ctx,
		0,
		statusKeyPrefix+userID+":*",
		0,
	).Iterator()

	for iter.Next(ctx) {
		_ = c.client.Del(ctx, iter.Val()).Err() //nolint:errcheck // best effort
	}
}

func (c *StatusCache) key(userID, deviceHash string) string {
	return fmt.Sprintf("%s%s:%s", statusKeyPrefix, userID, deviceHash)
}
