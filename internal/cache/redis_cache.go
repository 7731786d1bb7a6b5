package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"

	"kasirkredit/backend/internal/domain"
)

const statementKeyPrefix = "kasirkredit:statement:"

// NewRedisClient builds the client shared by the statement cache and the job locks.
func NewRedisClient(addr string, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

type RedisStatementCache struct {
	client *redis.Client
}

func NewRedisStatementCache(client *redis.Client) *RedisStatementCache {
	return &RedisStatementCache{client: client}
}

func (c *RedisStatementCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisStatementCache) Get(ctx context.Context, clientID string) (*domain.ClientStatement, bool, error) {
	val, err := c.client.Get(ctx, statementKeyPrefix+clientID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var statement domain.ClientStatement
	if err := json.Unmarshal(val, &statement); err != nil {
		return nil, false, err
	}
	return &statement, true, nil
}

func (c *RedisStatementCache) Set(ctx context.Context, clientID string, value *domain.ClientStatement, ttl time.Duration) error {
	if value == nil {
		return nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, statementKeyPrefix+clientID, payload, ttl).Err()
}

func (c *RedisStatementCache) Invalidate(ctx context.Context, clientID string) error {
	return c.client.Del(ctx, statementKeyPrefix+clientID).Err()
}

func (c *RedisStatementCache) InvalidateAll(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, statementKeyPrefix+"*", 100).Iterator()
	keys := make([]string, 0, 100)
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
		if len(keys) == cap(keys) {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				return err
			}
			keys = keys[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}
