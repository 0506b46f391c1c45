package handlers

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/go-order-fulfillment/internal/fulfillment"
)

var errorCodes = []struct {
	err    error
	status int
	code   string
}{
	{fulfillment.ErrNotFound, http.StatusNotFound, "not_found"},
	{fulfillment.ErrInvalidTransition, http.StatusUnprocessableEntity, "invalid_transition"},
	{fulfillment.ErrInvalidState, http.StatusUnprocessableEntity, "invalid_state"},
	{fulfillment.ErrInvalidFulfillmentType, http.StatusUnprocessableEntity, "invalid_fulfillment_type"},
	{fulfillment.ErrMissingAssignment, http.StatusUnprocessableEntity, "missing_assignment"},
	{fulfillment.ErrAlreadyGenerated, http.StatusConflict, "already_generated"},
	{fulfillment.ErrConcurrentModification, http.StatusConflict, "concurrent_modification"},
	{fulfillment.ErrCodeMismatch, http.StatusBadRequest, "code_mismatch"},
	{fulfillment.ErrInvalidOrder, http.StatusBadRequest, "invalid_order"},
	{fulfillment.ErrInvalidLocation, http.StatusBadRequest, "invalid_location"},
}

// writeError maps a service error onto an HTTP status and error code.
func writeError(c *gin.Context, err error) {
	for _, ec := range errorCodes {
		if !errors.Is(err, ec.err) {
			continue
		}
		body := gin.H{"error": ec.code, "msg": err.Error()}
		var te *fulfillment.TransitionError
		if errors.As(err, &te) {
			body["allowed"] = te.Allowed
		}
		c.JSON(ec.status, body)
		return
	}
	log.Printf("[api] %s %s failed: %v", c.Request.Method, c.FullPath(), err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
}
