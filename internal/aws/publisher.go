package aws

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// Publisher wraps an SQS client and a queue URL.
type Publisher struct {
	SQS      SQSAPI
	QueueURL string
}

// NewPublisher returns a Publisher bound to a queue URL.
func NewPublisher(sqsClient SQSAPI, queueURL string) *Publisher {
	return &Publisher{
		SQS:      sqsClient,
		QueueURL: queueURL,
	}
}

// Message is one outgoing SQS message. GroupID and DeduplicationID are only
// sent when the queue is FIFO (URL ends in ".fifo").
type Message struct {
	Body            string
	Attributes      map[string]string
	GroupID         string
	DeduplicationID string
}

// Send publishes msg to the bound queue. Attributes are sent as String message attributes.
func (p *Publisher) Send(ctx context.Context, msg Message) error {
	input := &sqs.SendMessageInput{
		QueueUrl:    &p.QueueURL,
		MessageBody: &msg.Body,
	}
	if len(msg.Attributes) > 0 {
		msgAttrs := map[string]sqstypes.MessageAttributeValue{}
		for k, v := range msg.Attributes {
			if v == "" {
				// SQS rejects empty attribute values
				continue
			}
			msgAttrs[k] = sqstypes.MessageAttributeValue{
				DataType:    awsString("String"),
				StringValue: awsString(v),
			}
		}
		input.MessageAttributes = msgAttrs
	}
	if p.isFIFO() {
		if msg.GroupID != "" {
			input.MessageGroupId = awsString(msg.GroupID)
		}
		if msg.DeduplicationID != "" {
			input.MessageDeduplicationId = awsString(msg.DeduplicationID)
		}
	}

	_, err := p.SQS.SendMessage(ctx, input)
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

func (p *Publisher) isFIFO() bool {
	return strings.HasSuffix(p.QueueURL, ".fifo")
}

// awsString helper
func awsString(s string) *string { return &s }
