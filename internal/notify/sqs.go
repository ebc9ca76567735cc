package notify

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// SQSAPI is the subset of the SQS client the notifier uses.
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSNotifier enqueues events on an SQS queue.
type SQSNotifier struct {
	client   SQSAPI
	queueURL string
}

// NewSQSNotifier loads the default AWS credential chain for region.
func NewSQSNotifier(ctx context.Context, queueURL, region string) (*SQSNotifier, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}
	return NewSQSNotifierFromClient(sqs.NewFromConfig(cfg), queueURL), nil
}

// NewSQSNotifierFromClient wraps an existing client.
func NewSQSNotifierFromClient(client SQSAPI, queueURL string) *SQSNotifier {
	return &SQSNotifier{client: client, queueURL: queueURL}
}

func (n *SQSNotifier) Notify(ctx context.Context, e Event) error {
	data, err := e.encode()
	if err != nil {
		return err
	}
	_, err = n.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(n.queueURL),
		MessageBody: aws.String(string(data)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"type": {DataType: aws.String("String"), StringValue: aws.String(e.Type)},
		},
	})
	if err != nil {
		return fmt.Errorf("sending %s to sqs: %w", e.Type, err)
	}
	return nil
}

func (n *SQSNotifier) Close() error { return nil }

var _ Notifier = (*SQSNotifier)(nil)
