package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/kazu-2020/bento-manager-sub000/internal/domain"
)

const keyPrefix = "bento:"

type RedisHealthCache struct {
	client *redis.Client
}

func NewRedisHealthCache(addr string, password string, db int) *RedisHealthCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisHealthCache{client: client}
}

func (c *RedisHealthCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisHealthCache) Close() error {
	return c.client.Close()
}

func (c *RedisHealthCache) Get(ctx context.Context, key string) (*domain.MissingPriceReport, bool, error) {
	val, err := c.client.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var report domain.MissingPriceReport
	if err := json.Unmarshal(val, &report); err != nil {
		return nil, false, err
	}
	return &report, true, nil
}

func (c *RedisHealthCache) Set(ctx context.Context, key string, value *domain.MissingPriceReport, ttl time.Duration) error {
	if value == nil {
		return nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, keyPrefix+key, payload, ttl).Err()
}

func (c *RedisHealthCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, keyPrefix+key).Err()
}
