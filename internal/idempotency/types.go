package idempotency

import "time"

// Status values for idempotency entries
const (
	StatusInProgress = "IN_PROGRESS"
	StatusDone       = "DONE"
	StatusFailed     = "FAILED"
)

// Scope tells apart keys claimed by different callers sharing one table.
const (
	ScopeOrderCreate = "order_create" // Idempotency-Key header on POST /orders
	ScopeOrderEvent  = "order_event"  // worker processing of one OrderEvent
)

// IdempotencyRecord is the shape persisted in the idempotency DynamoDB table.
type IdempotencyRecord struct {
	IdempotencyKey string    `dynamodbav:"idempotency_key"` // PK
	Scope          string    `dynamodbav:"scope,omitempty"`
	Status         string    `dynamodbav:"status"`
	OrderID        string    `dynamodbav:"order_id,omitempty"`
	ResponseBody   string    `dynamodbav:"response_body,omitempty"`   // small responses only
	ResponseStatus int       `dynamodbav:"response_status,omitempty"` // e.g., 201
	CreatedAt      time.Time `dynamodbav:"created_at"`
	UpdatedAt      time.Time `dynamodbav:"updated_at"`
	ExpiresAt      int64     `dynamodbav:"expires_at"` // TTL epoch seconds
	Attempts       int       `dynamodbav:"attempts,omitempty"`
	Note           string    `dynamodbav:"note,omitempty"`
}

// Claim is the outcome of trying to take ownership of a key.
type Claim int

const (
	// Claimed means the caller owns the key and must MarkDone or MarkFailed it.
	Claimed Claim = iota
	// InFlight means another attempt currently owns the key.
	InFlight
	// Completed means the key was already processed successfully.
	Completed
)

func (c Claim) String() string {
	switch c {
	case Claimed:
		return "claimed"
	case InFlight:
		return "in_flight"
	case Completed:
		return "completed"
	}
	return "unknown"
}
