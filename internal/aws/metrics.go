package aws

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// DefaultMetricsNamespace is used when no namespace is configured.
const DefaultMetricsNamespace = "OrderFulfillment"

// Metrics publishes fulfillment counters to CloudWatch.
type Metrics struct {
	client    CloudWatchAPI
	namespace string
	nowFunc   func() time.Time
}

// NewMetrics returns a Metrics recorder. An empty namespace falls back to DefaultMetricsNamespace.
func NewMetrics(client CloudWatchAPI, namespace string) *Metrics {
	if namespace == "" {
		namespace = DefaultMetricsNamespace
	}
	return &Metrics{
		client:    client,
		namespace: namespace,
		nowFunc:   time.Now,
	}
}

// RecordTransition counts one status change, dimensioned by fulfillment type and target status.
func (m *Metrics) RecordTransition(ctx context.Context, fulfillmentType, from, to string) error {
	return m.put(ctx, "StatusTransition", []cwtypes.Dimension{
		{Name: awsString("FulfillmentType"), Value: awsString(fulfillmentType)},
		{Name: awsString("FromStatus"), Value: awsString(from)},
		{Name: awsString("ToStatus"), Value: awsString(to)},
	})
}

// RecordPickupVerification counts a pickup code check; outcome is "matched" or "mismatch".
func (m *Metrics) RecordPickupVerification(ctx context.Context, outcome string) error {
	return m.put(ctx, "PickupVerification", []cwtypes.Dimension{
		{Name: awsString("Outcome"), Value: awsString(outcome)},
	})
}

// RecordConflict counts a lost optimistic-lock race for the named operation.
func (m *Metrics) RecordConflict(ctx context.Context, operation string) error {
	return m.put(ctx, "ConcurrentModification", []cwtypes.Dimension{
		{Name: awsString("Operation"), Value: awsString(operation)},
	})
}

func (m *Metrics) put(ctx context.Context, name string, dims []cwtypes.Dimension) error {
	now := m.nowFunc()
	one := 1.0
	_, err := m.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace: &m.namespace,
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: awsString(name),
				Dimensions: dims,
				Timestamp:  &now,
				Unit:       cwtypes.StandardUnitCount,
				Value:      &one,
			},
		},
	})
	if err != nil {
		return fmt.Errorf("put metric %s: %w", name, err)
	}
	return nil
}
