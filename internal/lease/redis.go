// Package lease реализует аренду обхода эскроу в Redis.
package lease

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// unlockScript удаляет ключ, только если он всё ещё принадлежит владельцу токена.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLease реализует аренду на основе SET NX с ограниченным временем жизни.
type RedisLease struct {
	rdb *redis.Client
	key string
	ttl time.Duration
}

// NewClient создаёт клиент Redis и проверяет соединение.
func NewClient(addr string) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return rdb, nil
}

// NewRedisLease создаёт аренду с ключом key. TTL должен превышать длительность одного обхода.
func NewRedisLease(rdb *redis.Client, key string, ttl time.Duration) *RedisLease {
	return &RedisLease{rdb: rdb, key: key, ttl: ttl}
}

// Acquire пытается занять аренду. При ok == false аренда занята другим владельцем.
func (l *RedisLease) Acquire(ctx context.Context) (func(), bool, error) {
	token := uuid.NewString()

	ok, err := l.rdb.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire lease %s: %w", l.key, err)
	}
	if !ok {
		return nil, false, nil
	}

	release := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = unlockScript.Run(ctx, l.rdb, []string{l.key}, token).Err()
	}
	return release, true, nil
}
