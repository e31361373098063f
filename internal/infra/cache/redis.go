package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript удаляет ключ, только если он всё ещё принадлежит владельцу.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLock реализует domain.Locker через SET NX.
type RedisLock struct {
	client *redis.Client
	prefix string
}

// NewRedisLock создаёт блокировку с префиксом ключей.
func NewRedisLock(client *redis.Client, prefix string) *RedisLock {
	return &RedisLock{client: client, prefix: prefix}
}

// Connect создаёт клиента Redis и проверяет соединение.
func Connect(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

// WithLock выполняет fn, если ключ удалось захватить. Ключ живёт не дольше ttl,
// поэтому упавший владелец не блокирует остальных навсегда.
func (l *RedisLock) WithLock(ctx context.Context, key string, ttl time.Duration, fn func(ctx context.Context) error) (bool, error) {
	fullKey := l.prefix + key
	owner := uuid.NewString()
	ok, err := l.client.SetNX(ctx, fullKey, owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("захват блокировки %s: %w", fullKey, err)
	}
	if !ok {
		return false, nil
	}
	fnErr := fn(ctx)
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := releaseScript.Run(releaseCtx, l.client, []string{fullKey}, owner).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return true, errors.Join(fnErr, fmt.Errorf("освобождение блокировки %s: %w", fullKey, err))
	}
	return true, fnErr
}
