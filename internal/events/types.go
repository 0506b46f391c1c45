package events

import (
	"fmt"
	"time"
)

// Type names an order event.
type Type string

const (
	TypeStatusChanged     Type = "order.status_changed"
	TypePersonnelAssigned Type = "order.personnel_assigned"
)

// OrderEvent is published after an order write succeeds.
// It is the payload sent from API -> SQS -> Worker.
type OrderEvent struct {
	EventID             string    `json:"event_id"`
	Type                Type      `json:"type"`
	OrderID             string    `json:"order_id"`
	CustomerID          string    `json:"customer_id,omitempty"`
	FulfillmentType     string    `json:"fulfillment_type"`
	FromStatus          string    `json:"from_status,omitempty"`
	ToStatus            string    `json:"to_status"`
	PersonnelID         string    `json:"personnel_id,omitempty"`
	PreviousPersonnelID string    `json:"previous_personnel_id,omitempty"`
	Actor               string    `json:"actor,omitempty"`
	Note                string    `json:"note,omitempty"`
	Version             int64     `json:"version"`
	OccurredAt          time.Time `json:"occurred_at"`
	CorrelationID       string    `json:"correlation_id,omitempty"`
}

// EventID derives a stable id from the order write that produced the event, so
// redelivered or republished copies deduplicate.
func EventID(orderID string, version int64, t Type) string {
	return fmt.Sprintf("%s#%d#%s", orderID, version, t)
}
