package reel

import (
	"context"
	"time"
)

// Locker hands out advisory per-key locks. A held key makes Acquire fail with
// ErrInProgress; the lock expires after ttl if never released.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(context.Context) error, err error)
}

// changeLockKey is the lock key guarding accept/reject of one change.
func changeLockKey(changeID string) string {
	return "change:" + changeID
}
