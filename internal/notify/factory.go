package notify

import (
	"context"
	"errors"
	"fmt"

	"reel-go/internal/config"
	"reel-go/internal/reel"
)

// NewNotifiersFromConfig creates one Notifier per configured target.
// On error, notifiers created so far are closed.
func NewNotifiersFromConfig(ctx context.Context, cfgs []config.NotifyConfig, logger reel.Logger) ([]Notifier, error) {
	var notifiers []Notifier
	for i, cfg := range cfgs {
		n, err := newNotifier(ctx, cfg, logger)
		if err != nil {
			CloseAll(notifiers)
			return nil, fmt.Errorf("notify[%d]: %w", i, err)
		}
		notifiers = append(notifiers, n)
	}
	return notifiers, nil
}

func newNotifier(ctx context.Context, cfg config.NotifyConfig, logger reel.Logger) (Notifier, error) {
	switch cfg.Type {
	case "log":
		return NewLogNotifier(logger), nil
	case "pubsub":
		return NewPubSubNotifier(ctx, cfg.PubSubProject, cfg.PubSubTopic)
	case "sqs":
		return NewSQSNotifier(ctx, cfg.SQSQueueURL, cfg.SQSRegion)
	default:
		return nil, fmt.Errorf("unknown notifier type: %s", cfg.Type)
	}
}

// CloseAll closes every notifier and joins their errors.
func CloseAll(notifiers []Notifier) error {
	var errs []error
	for _, n := range notifiers {
		if err := n.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
