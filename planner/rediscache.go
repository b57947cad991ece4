package planner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/mattercertis/crawlcore/crawl"
)

// RedisSnapshotCache is the distributed alternative to Planner's default
// in-memory AnalysisSnapshot cache, for deployments running more than one
// orchestrator process against the same site (SPEC_FULL.md §11.1).
// Grounded on the teacher's RedisStateStore/InMemoryStateStore duality in
// orchestration/workflow_state.go: JSON marshal, one go-redis call per
// operation, redis.Nil treated as "no cached value" rather than an error.
type RedisSnapshotCache struct {
	client *redis.Client
	key    string
}

// NewRedisSnapshotCache builds a cache keyed under a single Redis key —
// one AnalysisSnapshot per crawl target, matching Planner's own
// single-snapshot-per-instance scope.
func NewRedisSnapshotCache(client *redis.Client, key string) *RedisSnapshotCache {
	return &RedisSnapshotCache{client: client, key: key}
}

// Load returns (nil, nil) when no snapshot is cached yet, matching
// DbAnalyzer.Cursor's "never an error for absence" convention.
func (c *RedisSnapshotCache) Load(ctx context.Context) (*crawl.AnalysisSnapshot, error) {
	data, err := c.client.Get(ctx, c.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("planner: redis snapshot load: %w", err)
	}

	var snapshot crawl.AnalysisSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("planner: redis snapshot unmarshal: %w", err)
	}
	return &snapshot, nil
}

// Store writes snapshot with a Redis TTL matching the snapshot's own TTL,
// so a stale entry expires from Redis at the same moment Fresh would
// start rejecting it locally.
func (c *RedisSnapshotCache) Store(ctx context.Context, snapshot *crawl.AnalysisSnapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("planner: redis snapshot marshal: %w", err)
	}
	if err := c.client.Set(ctx, c.key, data, snapshot.TTL).Err(); err != nil {
		return fmt.Errorf("planner: redis snapshot store: %w", err)
	}
	return nil
}
