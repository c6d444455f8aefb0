package market

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// SnapshotCache mirrors market snapshots into Redis so operator tooling
// can inspect the tracked universe without touching the core process.
// Writes are best-effort; a Redis outage never blocks the decision path.
type SnapshotCache struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewSnapshotCache creates a Redis-backed snapshot mirror.
func NewSnapshotCache(client *redis.Client, ttl time.Duration) *SnapshotCache {
	return &SnapshotCache{
		redis: client,
		ttl:   ttl,
	}
}

func snapshotKey(id string) string {
	return fmt.Sprintf("edgewatch:market:%s", id)
}

// Put writes a market snapshot to the mirror.
func (c *SnapshotCache) Put(ctx context.Context, m Market) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal market snapshot: %w", err)
	}
	if err := c.redis.Set(ctx, snapshotKey(m.ID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache market snapshot: %w", err)
	}
	return nil
}

// Get reads a market snapshot from the mirror. The second return value
// is false when the snapshot is absent or expired.
func (c *SnapshotCache) Get(ctx context.Context, id string) (Market, bool, error) {
	data, err := c.redis.Get(ctx, snapshotKey(id)).Result()
	if err == redis.Nil {
		return Market{}, false, nil
	}
	if err != nil {
		return Market{}, false, fmt.Errorf("failed to read market snapshot: %w", err)
	}

	var m Market
	if err := json.Unmarshal([]byte(data), &m); err != nil {
		return Market{}, false, fmt.Errorf("failed to unmarshal market snapshot: %w", err)
	}
	return m, true, nil
}

// Delete removes a market snapshot from the mirror.
func (c *SnapshotCache) Delete(ctx context.Context, id string) error {
	if err := c.redis.Del(ctx, snapshotKey(id)).Err(); err != nil {
		return fmt.Errorf("failed to delete market snapshot: %w", err)
	}
	return nil
}

// Mirror writes a batch of snapshots, logging and continuing on failure.
func (c *SnapshotCache) Mirror(ctx context.Context, markets []Market) {
	for _, m := range markets {
		if err := c.Put(ctx, m); err != nil {
			log.Warn().Err(err).Str("market_id", m.ID).Msg("Failed to mirror market snapshot")
		}
	}
}
