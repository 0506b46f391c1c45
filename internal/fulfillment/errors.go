package fulfillment

import (
	"errors"
	"fmt"
	"strings"

	"github.com/imrishuroy/go-order-fulfillment/internal/orders"
)

// Failure kinds. Every operation error wraps exactly one of these; test with errors.Is.
var (
	ErrInvalidTransition      = errors.New("invalid status transition")
	ErrInvalidFulfillmentType = errors.New("operation not applicable to this fulfillment type")
	ErrInvalidState           = errors.New("operation not allowed in the current status")
	ErrMissingAssignment      = errors.New("delivery personnel must be assigned first")
	ErrAlreadyGenerated       = errors.New("pickup verification code already generated")
	ErrNotFound               = errors.New("not found")
	ErrCodeMismatch           = errors.New("pickup verification code does not match")
	ErrConcurrentModification = errors.New("order was modified concurrently")
	ErrInvalidOrder           = errors.New("invalid order")
	ErrInvalidLocation        = errors.New("coordinates out of range")
)

// TransitionError describes a rejected status change.
type TransitionError struct {
	FulfillmentType orders.FulfillmentType
	From            orders.Status
	To              orders.Status
	Allowed         []orders.Status
}

func (e *TransitionError) Error() string {
	allowed := "none (terminal state)"
	if len(e.Allowed) > 0 {
		names := make([]string, len(e.Allowed))
		for i, s := range e.Allowed {
			names[i] = string(s)
		}
		allowed = strings.Join(names, ", ")
	}
	return fmt.Sprintf("%s: %s -> %s is not allowed for %s orders; valid next statuses: %s",
		ErrInvalidTransition, e.From, e.To, e.FulfillmentType, allowed)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

func stateError(op string, status orders.Status) error {
	return fmt.Errorf("%w: %s is not allowed while order is %s", ErrInvalidState, op, status)
}

func fulfillmentError(op string, ft orders.FulfillmentType) error {
	return fmt.Errorf("%w: %s is not allowed for %s orders", ErrInvalidFulfillmentType, op, ft)
}
