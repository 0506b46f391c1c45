package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/imrishuroy/go-order-fulfillment/internal/aws"
)

// SQSNotifier publishes order events to an SQS queue.
type SQSNotifier struct {
	publisher *aws.Publisher
}

// NewSQSNotifier wraps a Publisher bound to the order events queue.
func NewSQSNotifier(p *aws.Publisher) *SQSNotifier {
	return &SQSNotifier{publisher: p}
}

// Notify sends ev. Events of one order share a message group on FIFO queues.
func (n *SQSNotifier) Notify(ctx context.Context, ev OrderEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return n.publisher.Send(ctx, aws.Message{
		Body: string(body),
		Attributes: map[string]string{
			"event_type":     string(ev.Type),
			"order_id":       ev.OrderID,
			"to_status":      ev.ToStatus,
			"correlation_id": ev.CorrelationID,
		},
		GroupID:         ev.OrderID,
		DeduplicationID: ev.EventID,
	})
}
