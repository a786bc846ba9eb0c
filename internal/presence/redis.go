package presence

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisTracker keeps per-conversation activity in a Redis sorted set keyed by
// last-seen timestamp. Entries older than the window fall out on read, and
// the whole set expires so idle conversations don't leak keys.
type RedisTracker struct {
	rdb    *redis.Client
	window time.Duration
}

// NewRedisTracker connects to Redis and verifies the connection.
func NewRedisTracker(ctx context.Context, addr string, window time.Duration) (*RedisTracker, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	if window <= 0 {
		window = 90 * time.Second
	}

	return &RedisTracker{rdb: rdb, window: window}, nil
}

func key(conversationID int64) string {
	return "presence:" + strconv.FormatInt(conversationID, 10)
}

// Touch adds or refreshes the user in the conversation's sorted set.
func (t *RedisTracker) Touch(ctx context.Context, conversationID, userID int64) error {
	k := key(conversationID)

	err := t.rdb.ZAdd(ctx, k, redis.Z{
		Score:  float64(time.Now().Unix()),
		Member: strconv.FormatInt(userID, 10),
	}).Err()
	if err != nil {
		return fmt.Errorf("zadd presence: %w", err)
	}

	return t.rdb.Expire(ctx, k, t.window*2).Err()
}

// Online returns users seen within the tracker window, pruning stale entries.
func (t *RedisTracker) Online(ctx context.Context, conversationID int64) ([]int64, error) {
	k := key(conversationID)
	threshold := time.Now().Add(-t.window).Unix()

	if err := t.rdb.ZRemRangeByScore(ctx, k, "-inf", strconv.FormatInt(threshold, 10)).Err(); err != nil {
		return nil, fmt.Errorf("prune presence: %w", err)
	}

	members, err := t.rdb.ZRange(ctx, k, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read presence: %w", err)
	}

	ids := make([]int64, 0, len(members))
	for _, m := range members {
		id, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Clear deletes the conversation's presence set.
func (t *RedisTracker) Clear(ctx context.Context, conversationID int64) error {
	return t.rdb.Del(ctx, key(conversationID)).Err()
}

// Close releases the Redis connection.
func (t *RedisTracker) Close() error {
	return t.rdb.Close()
}
