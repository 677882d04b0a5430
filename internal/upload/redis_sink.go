package upload

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultSinkTTL is how long a mirrored task survives after its last update.
const DefaultSinkTTL = 24 * time.Hour

const sinkKeyPrefix = "upload:"

// RedisProgressSink mirrors task snapshots into a Redis hash per task so
// dashboards and the review backend can follow uploads.
type RedisProgressSink struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisProgressSink creates a sink. ttl <= 0 uses DefaultSinkTTL.
func NewRedisProgressSink(client redis.UniversalClient, ttl time.Duration) *RedisProgressSink {
	if ttl <= 0 {
		ttl = DefaultSinkTTL
	}
	return &RedisProgressSink{client: client, ttl: ttl}
}

// NewRedisProgressSinkFromURL parses a redis:// URL and pings the server.
func NewRedisProgressSinkFromURL(ctx context.Context, rawURL string) (*RedisProgressSink, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return NewRedisProgressSink(client, 0), nil
}

func sinkKey(taskID string) string { return sinkKeyPrefix + taskID }

// Record writes snap and refreshes the key's expiry.
func (s *RedisProgressSink) Record(ctx context.Context, snap Snapshot) error {
	key := sinkKey(snap.ID)
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, map[string]any{
		"status":     string(snap.State),
		"target":     snap.Target,
		"attempt":    snap.Attempt,
		"progress":   snap.Percent,
		"offset":     snap.Offset,
		"total":      snap.Total,
		"url":        snap.URL,
		"error":      snap.Err,
		"updated_at": snap.UpdatedAt.UTC().Format(time.RFC3339Nano),
	})
	pipe.Expire(ctx, key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("mirroring upload %s: %w", snap.ID, err)
	}
	return nil
}

// Load reads a mirrored snapshot. It returns nil, nil for unknown tasks.
func (s *RedisProgressSink) Load(ctx context.Context, taskID string) (*Snapshot, error) {
	fields, err := s.client.HGetAll(ctx, sinkKey(taskID)).Result()
	if errors.Is(err, redis.Nil) || (err == nil && len(fields) == 0) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading upload %s: %w", taskID, err)
	}

	snap := &Snapshot{
		ID:     taskID,
		Target: fields["target"],
		State:  State(fields["status"]),
		URL:    fields["url"],
		Err:    fields["error"],
	}
	snap.Attempt, _ = strconv.Atoi(fields["attempt"])
	snap.Percent, _ = strconv.Atoi(fields["progress"])
	snap.Offset, _ = strconv.ParseInt(fields["offset"], 10, 64)
	snap.Total, _ = strconv.ParseInt(fields["total"], 10, 64)
	snap.UpdatedAt, _ = time.Parse(time.RFC3339Nano, fields["updated_at"])
	return snap, nil
}

// Close closes the Redis client.
func (s *RedisProgressSink) Close() error {
	return s.client.Close()
}

var _ ProgressSink = (*RedisProgressSink)(nil)
