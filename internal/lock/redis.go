package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"reel-go/internal/reel"
)

// releaseScript deletes the key only while it still holds the caller's token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker holds locks as expiring Redis keys, so separate processes
// sharing a Redis serialize on the same change.
type RedisLocker struct {
	client *redis.Client
	prefix string
}

// NewRedisLocker connects to addr and checks the connection.
func NewRedisLocker(ctx context.Context, addr, password string, db int) (*RedisLocker, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedisLockerWithClient(client), nil
}

// NewRedisLockerWithClient creates a locker from an existing client.
func NewRedisLockerWithClient(client *redis.Client) *RedisLocker {
	return &RedisLocker{client: client, prefix: "reel:lock:"}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
	k := l.prefix + key
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, k, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: acquiring lock %s: %w", reel.ErrTransientIO, key, err)
	}
	if !ok {
		return nil, fmt.Errorf("lock %s: %w", key, reel.ErrInProgress)
	}

	return func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.client, []string{k}, token).Err(); err != nil {
			return fmt.Errorf("releasing lock %s: %w", key, err)
		}
		return nil
	}, nil
}

// Close closes the Redis connection.
func (l *RedisLocker) Close() error {
	return l.client.Close()
}

var _ reel.Locker = (*RedisLocker)(nil)
