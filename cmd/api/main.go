package main

import (
	"context"
	"log"
	"net/http"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/go-order-fulfillment/internal/aws"
	"github.com/imrishuroy/go-order-fulfillment/internal/config"
	orderevents "github.com/imrishuroy/go-order-fulfillment/internal/events"
	"github.com/imrishuroy/go-order-fulfillment/internal/fulfillment"
	"github.com/imrishuroy/go-order-fulfillment/internal/handlers"
	"github.com/imrishuroy/go-order-fulfillment/internal/idempotency"
	"github.com/imrishuroy/go-order-fulfillment/internal/orders"
	"github.com/imrishuroy/go-order-fulfillment/internal/personnel"
)

func setupRouter(cfg handlers.HandlerConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), handlers.Correlate())

	// health
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	handlers.RegisterOrdersRoutes(r, cfg)
	handlers.RegisterPersonnelRoutes(r, cfg)

	return r
}

func newHandlerConfig(cfg *config.Config, clients *aws.AWSClients) handlers.HandlerConfig {
	orderStore := orders.NewStore(clients.DynamoDB, cfg.Tables.Orders, cfg.Tables.PickupCodes)
	personnelStore := personnel.NewStore(clients.DynamoDB, cfg.Tables.Personnel)
	idempStore := idempotency.NewStore(clients.DynamoDB, cfg.Tables.Idempotency, cfg.Tables.IdempotencyTTL)

	options := []fulfillment.Option{
		fulfillment.WithIdempotency(idempStore),
		fulfillment.WithMetrics(aws.NewMetrics(clients.CloudWatch, cfg.AWS.MetricsNamespace)),
	}
	if cfg.QueueURL != "" {
		publisher := aws.NewPublisher(clients.SQS, cfg.QueueURL)
		options = append(options, fulfillment.WithNotifier(orderevents.NewSQSNotifier(publisher)))
	} else {
		log.Printf("ORDERS_QUEUE_URL not set, order events will not be published")
	}

	svc := fulfillment.NewService(orderStore, personnelStore, fulfillment.Options{
		NearbyRadiusMeters: cfg.Fulfillment.NearbyRadiusMeters,
		CourierSpeedKmh:    cfg.Fulfillment.CourierSpeedKmh,
		DefaultDeliveryETA: cfg.Fulfillment.DefaultDeliveryETA,
		DefaultPickupETA:   cfg.Fulfillment.DefaultPickupETA,
		MaxOpenOrders:      cfg.Fulfillment.MaxOpenOrders,
	}, options...)

	return handlers.HandlerConfig{
		Service:     svc,
		Idempotency: idempStore,
		Personnel:   personnelStore,
	}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	log.Printf("starting api with %s", cfg)

	clients, err := aws.NewAWSClients(context.Background(), aws.Options{
		Region:           cfg.AWS.Region,
		EndpointOverride: cfg.AWS.EndpointOverride,
	})
	if err != nil {
		log.Fatalf("failed to init aws clients: %v", err)
	}

	r := setupRouter(newHandlerConfig(cfg, clients))

	// if environment variable RUN_LOCAL is set to "true", run local HTTP server for development.
	if cfg.RunLocal {
		log.Printf("running local server on %s", cfg.HTTPAddress)
		if err := r.Run(cfg.HTTPAddress); err != nil {
			log.Fatalf("failed to run local server: %v", err)
		}
		return
	}

	// lambda adapter
	adapter := ginadapter.New(r)

	lambda.Start(func(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
		return adapter.ProxyWithContext(ctx, req)
	})
}
