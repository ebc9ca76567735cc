package notify

import (
	"context"

	"reel-go/internal/reel"
)

// LogNotifier writes events to the application log.
type LogNotifier struct {
	logger reel.Logger
}

func NewLogNotifier(logger reel.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(_ context.Context, e Event) error {
	n.logger.Info("feed refresh", "type", e.Type, "at", e.At)
	return nil
}

func (n *LogNotifier) Close() error { return nil }

var _ Notifier = (*LogNotifier)(nil)
