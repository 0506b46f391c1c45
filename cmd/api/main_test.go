package main

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/go-order-fulfillment/internal/aws"
	"github.com/imrishuroy/go-order-fulfillment/internal/config"
	"github.com/imrishuroy/go-order-fulfillment/internal/testutil"
)

func TestHealthAndRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := &config.Config{
		Tables: config.TableConfig{
			Orders:      "orders",
			PickupCodes: "pickup-codes",
			Personnel:   "personnel",
			Idempotency: "idempotency",
		},
	}
	db := testutil.NewDynamo(map[string]string{
		"orders":       "order_id",
		"pickup-codes": "pickup_code",
		"personnel":    "personnel_id",
		"idempotency":  "idempotency_key",
	})
	r := setupRouter(newHandlerConfig(cfg, &aws.AWSClients{DynamoDB: db}))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/orders/ORD-none", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", w.Code, w.Body.String())
	}
}
