package notify

import (
	"context"
	"fmt"

	"cloud.google.com/go/pubsub/v2"
	"google.golang.org/api/option"
)

// PubSubNotifier publishes events to a Google Cloud Pub/Sub topic.
type PubSubNotifier struct {
	client    *pubsub.Client
	publisher *pubsub.Publisher
}

// NewPubSubNotifier connects to project and publishes to topic, which may be
// a short ID or a full "projects/<p>/topics/<t>" name.
func NewPubSubNotifier(ctx context.Context, project, topic string, opts ...option.ClientOption) (*PubSubNotifier, error) {
	client, err := pubsub.NewClient(ctx, project, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}
	return &PubSubNotifier{client: client, publisher: client.Publisher(topic)}, nil
}

func (n *PubSubNotifier) Notify(ctx context.Context, e Event) error {
	data, err := e.encode()
	if err != nil {
		return err
	}
	res := n.publisher.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: map[string]string{"type": e.Type},
	})
	if _, err := res.Get(ctx); err != nil {
		return fmt.Errorf("publishing %s: %w", e.Type, err)
	}
	return nil
}

func (n *PubSubNotifier) Close() error {
	n.publisher.Stop()
	return n.client.Close()
}

var _ Notifier = (*PubSubNotifier)(nil)
