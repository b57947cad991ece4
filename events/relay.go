package events

import (
	"context"
	"encoding/json"

	"github.com/go-redis/redis/v8"
	"github.com/mattercertis/crawlcore/corelog"
	"github.com/mattercertis/crawlcore/crawl"
)

// RedisRelay republishes every AppEvent onto a Redis Pub/Sub channel, so an
// out-of-process UI or a second orchestrator instance can observe the same
// stream the in-process Hub carries (spec.md §4.6's "downstream consumers
// are the UI and logs", generalized past a single process). Grounded on
// the teacher's RedisStateStore: JSON-marshal, then a single Redis call
// per event, no local buffering beyond what the Hub already gives it.
type RedisRelay struct {
	client  *redis.Client
	channel string
	logger  corelog.Logger
}

// NewRedisRelay builds a relay publishing to channel on client. A nil
// logger falls back to corelog.NoOpLogger.
func NewRedisRelay(client *redis.Client, channel string, logger corelog.Logger) *RedisRelay {
	if logger == nil {
		logger = &corelog.NoOpLogger{}
	}
	return &RedisRelay{client: client, channel: channel, logger: logger}
}

// Run subscribes to hub and forwards every event to Redis until ctx is
// cancelled. Marshal or publish failures are logged and skipped — a relay
// outage must never stall the Hub's other subscribers or the actors
// publishing into it (spec.md §4.6: events are advisory, lossy-tolerant).
func (r *RedisRelay) Run(ctx context.Context, hub *Hub) {
	ch, unsubscribe := hub.Subscribe()
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			r.forward(ctx, e)
		}
	}
}

func (r *RedisRelay) forward(ctx context.Context, e crawl.AppEvent) {
	data, err := json.Marshal(e)
	if err != nil {
		r.logger.Warn("events: failed to marshal AppEvent for relay", map[string]interface{}{
			"type":  string(e.Type),
			"error": err.Error(),
		})
		return
	}
	if err := r.client.Publish(ctx, r.channel, data).Err(); err != nil {
		r.logger.Warn("events: failed to publish AppEvent to redis", map[string]interface{}{
			"type":    string(e.Type),
			"channel": r.channel,
			"error":   err.Error(),
		})
	}
}

// NewRedisClient is a thin convenience wrapper matching the teacher's
// NewRedisStateStore constructor shape (addr in, ready client out).
func NewRedisClient(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: addr})
}
