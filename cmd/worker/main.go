package main

import (
	"context"
	"log"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/imrishuroy/go-order-fulfillment/internal/aws"
	"github.com/imrishuroy/go-order-fulfillment/internal/config"
	"github.com/imrishuroy/go-order-fulfillment/internal/idempotency"
	"github.com/imrishuroy/go-order-fulfillment/internal/personnel"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	clients, err := aws.NewAWSClients(context.Background(), aws.Options{
		Region:           cfg.AWS.Region,
		EndpointOverride: cfg.AWS.EndpointOverride,
	})
	if err != nil {
		log.Fatalf("failed to init aws clients: %v", err)
	}

	p := NewProcessor(
		idempotency.NewStore(clients.DynamoDB, cfg.Tables.Idempotency, cfg.Tables.IdempotencyTTL),
		personnel.NewStore(clients.DynamoDB, cfg.Tables.Personnel),
	)

	// If RUN_LOCAL=true, we can optionally simulate a single SQS event for local testing.
	if cfg.RunLocal {
		testBody := os.Getenv("LOCAL_SQS_BODY")
		if testBody == "" {
			testBody = `{"event_id":"local-order-1#3#order.status_changed","type":"order.status_changed","order_id":"local-order-1","fulfillment_type":"delivery","from_status":"processing","to_status":"driver_assigned","personnel_id":"local-courier-1","version":3}`
		}
		event := events.SQSEvent{
			Records: []events.SQSMessage{
				{
					Body: testBody,
				},
			},
		}
		if err := p.Handle(context.Background(), event); err != nil {
			log.Fatalf("local handler error: %v", err)
		}
		return
	}

	lambda.Start(p.Handle)
}
