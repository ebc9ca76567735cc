package lock

import (
	"context"
	"fmt"

	"reel-go/internal/config"
	"reel-go/internal/reel"
)

// NewLockerFromConfig creates a Locker based on the lock config type.
// The returned close function releases the backend's connection.
func NewLockerFromConfig(ctx context.Context, cfg config.LockConfig, clock reel.Clock) (reel.Locker, func() error, error) {
	switch cfg.Type {
	case "", "memory":
		return NewMemoryLocker(clock), func() error { return nil }, nil
	case "redis":
		l, err := NewRedisLocker(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, nil, err
		}
		return l, l.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown lock type: %s", cfg.Type)
	}
}
