package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type RedisLock struct {
	client *redis.Client
}

func NewRedisLock(redisAddr string) (*RedisLock, error) {
	const op = "lock.NewRedisLock"

	client := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &RedisLock{client: client}, nil
}

func (r *RedisLock) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	const op = "lock.RedisLock.TryLock"

	token := uuid.NewString()

	ok, err := r.client.SetNX(ctx, lockKey(key), token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("%s: %w", op, err)
	}

	return token, ok, nil
}

// Unlock removes the key only while it still carries our token, so an
// expired lock taken over by another holder is left alone.
func (r *RedisLock) Unlock(ctx context.Context, key, token string) error {
	const op = "lock.RedisLock.Unlock"

	if err := unlockScript.Run(ctx, r.client, []string{lockKey(key)}, token).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (r *RedisLock) Close() error {
	return r.client.Close()
}

func lockKey(key string) string {
	return fmt.Sprintf("lock:%s", key)
}
