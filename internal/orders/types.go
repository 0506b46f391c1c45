package orders

import "time"

// Status is an order's fulfillment status.
type Status string

// Order statuses
const (
	StatusPending        Status = "pending"
	StatusProcessing     Status = "processing"
	StatusDriverAssigned Status = "driver_assigned"
	StatusOutForDelivery Status = "out_for_delivery"
	StatusNearby         Status = "nearby"
	StatusDelivered      Status = "delivered"
	StatusReadyForPickup Status = "ready_for_pickup"
	StatusPickedUp       Status = "picked_up"
	StatusCancelled      Status = "cancelled"
)

// AllStatuses lists every member of the status set, in lifecycle order.
var AllStatuses = []Status{
	StatusPending,
	StatusProcessing,
	StatusDriverAssigned,
	StatusOutForDelivery,
	StatusNearby,
	StatusDelivered,
	StatusReadyForPickup,
	StatusPickedUp,
	StatusCancelled,
}

// Valid reports whether s is a member of the status set.
func (s Status) Valid() bool {
	for _, v := range AllStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// FulfillmentType selects which sub-path of the lifecycle an order follows.
type FulfillmentType string

const (
	FulfillmentDelivery FulfillmentType = "delivery"
	FulfillmentPickup   FulfillmentType = "pickup"
)

// Valid reports whether t is delivery or pickup.
func (t FulfillmentType) Valid() bool {
	return t == FulfillmentDelivery || t == FulfillmentPickup
}

// Coordinates is a latitude/longitude pair.
type Coordinates struct {
	Lat float64 `dynamodbav:"lat" json:"lat"`
	Lng float64 `dynamodbav:"lng" json:"lng"`
}

// TrackedLocation is the last known courier position of an order.
type TrackedLocation struct {
	Coordinates
	UpdatedAt time.Time `dynamodbav:"updated_at" json:"updated_at"`
}

// LineItem is a purchased product with name/image captured at checkout.
type LineItem struct {
	ProductID string  `dynamodbav:"product_id" json:"product_id"`
	Name      string  `dynamodbav:"name" json:"name"`
	Image     string  `dynamodbav:"image,omitempty" json:"image,omitempty"`
	Quantity  int     `dynamodbav:"quantity" json:"quantity"`
	UnitPrice float64 `dynamodbav:"unit_price" json:"unit_price"`
}

// StatusHistoryEntry records one status the order has held. Entries are never edited.
type StatusHistoryEntry struct {
	Status     Status       `dynamodbav:"status" json:"status"`
	Timestamp  time.Time    `dynamodbav:"timestamp" json:"timestamp"`
	Location   *Coordinates `dynamodbav:"location,omitempty" json:"location,omitempty"`
	Note       string       `dynamodbav:"note,omitempty" json:"note,omitempty"`
	Actor      string       `dynamodbav:"actor,omitempty" json:"actor,omitempty"`
	VerifiedBy string       `dynamodbav:"verified_by,omitempty" json:"verified_by,omitempty"`
	VerifiedAt *time.Time   `dynamodbav:"verified_at,omitempty" json:"verified_at,omitempty"`
}

// Order represents the item stored in the Orders DynamoDB table.
type Order struct {
	OrderID       string     `dynamodbav:"order_id" json:"order_id"` // PK
	CustomerID    string     `dynamodbav:"customer_id" json:"customer_id"`
	Items         []LineItem `dynamodbav:"items,omitempty" json:"items,omitempty"`
	Subtotal      float64    `dynamodbav:"subtotal" json:"subtotal"`
	Total         float64    `dynamodbav:"total" json:"total"`
	PaymentID     string     `dynamodbav:"payment_id,omitempty" json:"payment_id,omitempty"`
	PaymentStatus string     `dynamodbav:"payment_status,omitempty" json:"payment_status,omitempty"`

	FulfillmentType    FulfillmentType `dynamodbav:"fulfillment_type" json:"fulfillment_type"`
	PickupLocation     string          `dynamodbav:"pickup_location,omitempty" json:"pickup_location,omitempty"`
	PickupInstructions string          `dynamodbav:"pickup_instructions,omitempty" json:"pickup_instructions,omitempty"`
	DeliveryAddressID  string          `dynamodbav:"delivery_address_id,omitempty" json:"delivery_address_id,omitempty"`
	Destination        *Coordinates    `dynamodbav:"destination,omitempty" json:"destination,omitempty"`

	Status              Status               `dynamodbav:"status" json:"status"`
	StatusHistory       []StatusHistoryEntry `dynamodbav:"status_history" json:"status_history"`
	CurrentLocation     *TrackedLocation     `dynamodbav:"current_location,omitempty" json:"current_location,omitempty"`
	EstimatedDeliveryAt *time.Time           `dynamodbav:"estimated_delivery_at,omitempty" json:"estimated_delivery_at,omitempty"`
	EstimatedPickupAt   *time.Time           `dynamodbav:"estimated_pickup_at,omitempty" json:"estimated_pickup_at,omitempty"`

	DeliveryPersonnelID    string `dynamodbav:"delivery_personnel_id,omitempty" json:"delivery_personnel_id,omitempty"`
	PickupVerificationCode string `dynamodbav:"pickup_verification_code,omitempty" json:"pickup_verification_code,omitempty"`

	Version   int64     `dynamodbav:"version" json:"version"`
	CreatedAt time.Time `dynamodbav:"created_at" json:"created_at"`
	UpdatedAt time.Time `dynamodbav:"updated_at" json:"updated_at"`
}

// Clone returns a deep copy so callers can mutate it without touching o.
func (o *Order) Clone() *Order {
	c := *o
	if o.Items != nil {
		c.Items = append([]LineItem(nil), o.Items...)
	}
	if o.StatusHistory != nil {
		c.StatusHistory = make([]StatusHistoryEntry, len(o.StatusHistory))
		for i, e := range o.StatusHistory {
			c.StatusHistory[i] = e.clone()
		}
	}
	if o.Destination != nil {
		d := *o.Destination
		c.Destination = &d
	}
	if o.CurrentLocation != nil {
		l := *o.CurrentLocation
		c.CurrentLocation = &l
	}
	c.EstimatedDeliveryAt = cloneTime(o.EstimatedDeliveryAt)
	c.EstimatedPickupAt = cloneTime(o.EstimatedPickupAt)
	return &c
}

// LastHistoryEntry returns the most recent history entry, or nil for an empty history.
func (o *Order) LastHistoryEntry() *StatusHistoryEntry {
	if len(o.StatusHistory) == 0 {
		return nil
	}
	return &o.StatusHistory[len(o.StatusHistory)-1]
}

func (e StatusHistoryEntry) clone() StatusHistoryEntry {
	if e.Location != nil {
		l := *e.Location
		e.Location = &l
	}
	e.VerifiedAt = cloneTime(e.VerifiedAt)
	return e
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// PickupCodeReservation marks a pickup code as held by an unredeemed order.
type PickupCodeReservation struct {
	PickupCode string    `dynamodbav:"pickup_code"` // PK
	OrderID    string    `dynamodbav:"order_id"`
	CreatedAt  time.Time `dynamodbav:"created_at"`
}
