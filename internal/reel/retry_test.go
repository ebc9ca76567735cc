package reel_test

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"reel-go/internal/reel"
	"reel-go/internal/testutil"
)

func TestRetryPolicy_Delay(t *testing.T) {
	p := reel.DefaultResolvePolicy()
	want := []time.Duration{2 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second}
	for i, w := range want {
		if got := p.Delay(i + 1); got != w {
			t.Errorf("Delay(%d) = %v, want %v", i+1, got, w)
		}
	}
	if got := p.TotalDelay(5); got != 32*time.Second {
		t.Errorf("TotalDelay(5) = %v, want 32s", got)
	}
}

func TestRetryPolicy_Backoff(t *testing.T) {
	b := reel.DefaultResolvePolicy().Backoff()
	var got []time.Duration
	for {
		d, stop := b.Next()
		if stop {
			break
		}
		got = append(got, d)
	}
	want := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("backoff = %v, want %v", got, want)
	}
}

func TestPoll(t *testing.T) {
	miss := errors.New("miss")
	fatal := errors.New("fatal")

	tests := []struct {
		name         string
		succeedOn    int
		failWith     error
		wantAttempts int
		wantErr      error
		wantSleeps   int
	}{
		{name: "first try", succeedOn: 1, wantAttempts: 1, wantSleeps: 1},
		{name: "third try", succeedOn: 3, wantAttempts: 3, wantSleeps: 3},
		{name: "last allowed try", succeedOn: 5, wantAttempts: 5, wantSleeps: 5},
		{name: "never", succeedOn: 99, wantAttempts: 5, wantErr: reel.ErrPermanentIO, wantSleeps: 5},
		{name: "non-retryable", succeedOn: 99, failWith: fatal, wantAttempts: 1, wantErr: fatal, wantSleeps: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sleeper := testutil.NewRecordingSleeper(nil)
			attempts, err := reel.Poll(context.Background(), reel.DefaultResolvePolicy(), sleeper,
				func(ctx context.Context, attempt int) (bool, error) {
					if tt.failWith != nil {
						return false, tt.failWith
					}
					if attempt >= tt.succeedOn {
						return false, nil
					}
					return true, miss
				})

			if attempts != tt.wantAttempts {
				t.Errorf("attempts = %d, want %d", attempts, tt.wantAttempts)
			}
			if tt.wantErr == nil && err != nil {
				t.Errorf("Poll() error = %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("Poll() error = %v, want %v", err, tt.wantErr)
			}
			if n := len(sleeper.Delays()); n != tt.wantSleeps {
				t.Errorf("sleeps = %d, want %d", n, tt.wantSleeps)
			}
		})
	}
}

func TestPoll_SleepInterrupted(t *testing.T) {
	sleeper := testutil.NewRecordingSleeper(nil)
	sleeper.FailWith(context.DeadlineExceeded)

	called := false
	_, err := reel.Poll(context.Background(), reel.DefaultResolvePolicy(), sleeper, func(context.Context, int) (bool, error) {
		called = true
		return false, nil
	})
	if !errors.Is(err, reel.ErrTransientIO) || !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Poll() error = %v, want ErrTransientIO wrapping deadline", err)
	}
	if called {
		t.Error("fn called after interrupted sleep")
	}
}

func TestPoll_InvalidPolicy(t *testing.T) {
	_, err := reel.Poll(context.Background(), reel.RetryPolicy{}, reel.RealSleeper{}, func(context.Context, int) (bool, error) {
		return false, nil
	})
	if err == nil {
		t.Error("Poll() with zero attempts should fail")
	}
}
