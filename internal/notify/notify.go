// Package notify fans feed-refresh events out to the places that cache the feed.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"reel-go/internal/reel"
)

// EventFeedRefresh is the event type sent after a promotion changes the feed.
const EventFeedRefresh = "feed.refresh"

// Event is the message body every notifier sends.
type Event struct {
	Type string    `json:"type"`
	At   time.Time `json:"at"`
}

func (e Event) encode() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encoding event: %w", err)
	}
	return data, nil
}

// Notifier delivers one event to one target.
type Notifier interface {
	Notify(ctx context.Context, e Event) error
	Close() error
}

// publishTimeout bounds a single delivery made from a refresh hook.
const publishTimeout = 10 * time.Second

// Hook returns a refresh callback for the promoter. Each call sends a
// feed.refresh event to every notifier; delivery failures are logged and
// never reach the caller.
func Hook(ctx context.Context, clock reel.Clock, logger reel.Logger, notifiers ...Notifier) func() {
	if clock == nil {
		clock = reel.RealClock{}
	}
	return func() {
		e := Event{Type: EventFeedRefresh, At: clock.Now().UTC()}
		for _, n := range notifiers {
			sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
			if err := n.Notify(sendCtx, e); err != nil {
				logger.Warn("feed refresh notification failed", "notifier", fmt.Sprintf("%T", n), "error", err)
			}
			cancel()
		}
	}
}
