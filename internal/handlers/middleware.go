package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/go-order-fulfillment/internal/events"
)

// RequestIDHeader correlates a request with the order events it causes.
const RequestIDHeader = "X-Request-Id"

// Correlate stores X-Request-Id in the request context so published events carry
// it as their correlation id, and echoes it on the response.
func Correlate() gin.HandlerFunc {
	return func(c *gin.Context) {
		if id := c.GetHeader(RequestIDHeader); id != "" {
			c.Request = c.Request.WithContext(events.WithCorrelationID(c.Request.Context(), id))
			c.Header(RequestIDHeader, id)
		}
		c.Next()
	}
}
