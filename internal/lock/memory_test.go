package lock

import (
	"context"
	"errors"
	"testing"
	"time"

	"reel-go/internal/reel"
	"reel-go/internal/testutil"
)

func TestMemoryLocker(t *testing.T) {
	ctx := context.Background()
	clock := testutil.FixedClock()
	locker := NewMemoryLocker(clock)

	release, err := locker.Acquire(ctx, "change:c1", time.Minute)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	if _, err := locker.Acquire(ctx, "change:c1", time.Minute); !errors.Is(err, reel.ErrInProgress) {
		t.Fatalf("second Acquire() error = %v, want ErrInProgress", err)
	}

	// Other keys are independent.
	releaseOther, err := locker.Acquire(ctx, "change:c2", time.Minute)
	if err != nil {
		t.Fatalf("Acquire(c2) error = %v", err)
	}
	releaseOther(ctx)

	if err := release(ctx); err != nil {
		t.Fatalf("release() error = %v", err)
	}
	if _, err := locker.Acquire(ctx, "change:c1", time.Minute); err != nil {
		t.Errorf("Acquire() after release error = %v", err)
	}
}

func TestMemoryLocker_Expiry(t *testing.T) {
	ctx := context.Background()
	clock := testutil.FixedClock()
	locker := NewMemoryLocker(clock)

	staleRelease, err := locker.Acquire(ctx, "k", 30*time.Second)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	clock.Advance(31 * time.Second)
	if _, err := locker.Acquire(ctx, "k", 30*time.Second); err != nil {
		t.Fatalf("Acquire() after expiry error = %v", err)
	}

	// The stale holder must not free the new lease.
	staleRelease(ctx)
	if _, err := locker.Acquire(ctx, "k", 30*time.Second); !errors.Is(err, reel.ErrInProgress) {
		t.Errorf("Acquire() after stale release error = %v, want ErrInProgress", err)
	}
}

func TestMemoryLocker_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewMemoryLocker(nil).Acquire(ctx, "k", time.Minute); !errors.Is(err, context.Canceled) {
		t.Errorf("Acquire() error = %v, want context.Canceled", err)
	}
}
