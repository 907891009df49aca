package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jupiterclapton/cenackle/services/campus-feed/internal/core/domain"
)

// RedisStore implémente ports.CacheStore sur Redis (GET / SET EX / DEL)
type RedisStore struct {
	client redis.Cmdable
}

func NewRedisStore(client redis.Cmdable) *RedisStore {
	return &RedisStore{client: client}
}

func (r *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		// Clé absente : pas une erreur
		return "", false, nil
	}
	if err != nil {
		return "", false, unavailable("get", key, err)
	}
	return val, true, nil
}

func (r *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return unavailable("set", key, err)
	}
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return unavailable("del", fmt.Sprint(keys), err)
	}
	return nil
}

// TTL expose le temps restant d'une entrée (diagnostic, tests)
func (r *RedisStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	d, err := r.client.TTL(ctx, key).Result()
	if err != nil {
		return 0, unavailable("ttl", key, err)
	}
	return d, nil
}

func (r *RedisStore) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return unavailable("ping", "", err)
	}
	return nil
}

func unavailable(op, key string, err error) error {
	return fmt.Errorf("%w: redis %s %s: %w", domain.ErrStoreUnavailable, op, key, err)
}
