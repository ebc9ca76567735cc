// Package lock provides the per-change advisory locks that serialize accept
// and reject of a single change.
package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"reel-go/internal/reel"
)

// MemoryLocker holds locks in process memory. It only serializes callers
// that share the instance, which is enough for a single CLI or test.
type MemoryLocker struct {
	clock reel.Clock

	mu     sync.Mutex
	held   map[string]memoryLease
	serial uint64
}

type memoryLease struct {
	token     uint64
	expiresAt time.Time
}

// NewMemoryLocker creates a locker whose leases expire against clock.
func NewMemoryLocker(clock reel.Clock) *MemoryLocker {
	if clock == nil {
		clock = reel.RealClock{}
	}
	return &MemoryLocker{clock: clock, held: make(map[string]memoryLease)}
}

func (l *MemoryLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	if lease, ok := l.held[key]; ok && now.Before(lease.expiresAt) {
		return nil, fmt.Errorf("lock %s: %w", key, reel.ErrInProgress)
	}

	l.serial++
	token := l.serial
	l.held[key] = memoryLease{token: token, expiresAt: now.Add(ttl)}

	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		// An expired lease may have been taken over; only drop our own.
		if lease, ok := l.held[key]; ok && lease.token == token {
			delete(l.held, key)
		}
		return nil
	}, nil
}

var _ reel.Locker = (*MemoryLocker)(nil)
