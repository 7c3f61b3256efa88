package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/eldtechnologies/pulse/internal/models"
)

const messageTTL = 24 * time.Hour

// RedisCache is the shared message-history cache. The broker writes through
// to it on broadcast and reads from it before falling back to the durable
// store. Entirely optional; when Redis is not configured the broker keeps
// an in-memory ring instead.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a new Redis cache.
func NewRedisCache(ctx context.Context, redisURL string) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisCache{client: client}, nil
}

// Close closes the Redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// Ping checks the Redis connection.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// roomMessagesKey returns the key for a room's message sorted set.
func roomMessagesKey(roomID string) string {
	return fmt.Sprintf("room:%s:messages", roomID)
}

// AddMessage caches a message in the room's sorted set, scored by timestamp.
func (c *RedisCache) AddMessage(ctx context.Context, msg *models.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	key := roomMessagesKey(msg.RoomID)

	err = c.client.ZAdd(ctx, key, redis.Z{
		Score:  float64(msg.Timestamp),
		Member: string(data),
	}).Err()
	if err != nil {
		return err
	}

	c.client.Expire(ctx, key, messageTTL)
	return nil
}

// GetRoomMessages retrieves cached messages for a room, newest first.
// before (Unix ms) is an exclusive upper bound when > 0.
func (c *RedisCache) GetRoomMessages(ctx context.Context, roomID string, limit int, before int64) ([]models.Message, error) {
	key := roomMessagesKey(roomID)

	maxScore := "+inf"
	if before > 0 {
		maxScore = fmt.Sprintf("(%d", before) // exclusive
	}

	results, err := c.client.ZRevRangeByScore(ctx, key, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   maxScore,
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, err
	}

	messages := make([]models.Message, 0, len(results))
	for _, data := range results {
		var msg models.Message
		if err := json.Unmarshal([]byte(data), &msg); err != nil {
			continue
		}
		messages = append(messages, msg)
	}

	return messages, nil
}

// TrimRoom drops the oldest cached entries beyond keep. Called by the
// housekeeper under memory pressure.
func (c *RedisCache) TrimRoom(ctx context.Context, roomID string, keep int) error {
	if keep < 1 {
		keep = 1
	}
	return c.client.ZRemRangeByRank(ctx, roomMessagesKey(roomID), 0, int64(-keep-1)).Err()
}

// DeleteRoom removes a room's cached history once the room is destroyed.
func (c *RedisCache) DeleteRoom(ctx context.Context, roomID string) error {
	return c.client.Del(ctx, roomMessagesKey(roomID)).Err()
}
