package validation

import "time"

// LineItem is one purchased product.
type LineItem struct {
	ProductID string  `json:"product_id" validate:"required"`
	Name      string  `json:"name" validate:"required"`
	Image     string  `json:"image,omitempty" validate:"omitempty,url"`
	Quantity  int     `json:"quantity" validate:"required,min=1"`
	UnitPrice float64 `json:"unit_price" validate:"required,gt=0"`
}

// Coordinates is a WGS84 position. Pointers so that 0 is a legal value.
type Coordinates struct {
	Lat *float64 `json:"lat" validate:"required,gte=-90,lte=90"`
	Lng *float64 `json:"lng" validate:"required,gte=-180,lte=180"`
}

// CreateOrderRequest is the payload for POST /orders
type CreateOrderRequest struct {
	CustomerID         string       `json:"customer_id" validate:"required"`
	Items              []LineItem   `json:"items" validate:"required,min=1,dive"`
	Subtotal           float64      `json:"subtotal" validate:"required,gt=0"` // must equal the item sum
	Total              float64      `json:"total" validate:"required,gtefield=Subtotal"`
	PaymentID          string       `json:"payment_id,omitempty"`
	PaymentStatus      string       `json:"payment_status,omitempty" validate:"omitempty,oneof=pending paid failed refunded"`
	FulfillmentType    string       `json:"fulfillment_type" validate:"required,oneof=delivery pickup"`
	PickupLocation     string       `json:"pickup_location,omitempty" validate:"required_if=FulfillmentType pickup"`
	PickupInstructions string       `json:"pickup_instructions,omitempty" validate:"max=500"`
	DeliveryAddressID  string       `json:"delivery_address_id,omitempty" validate:"required_if=FulfillmentType delivery"`
	Destination        *Coordinates `json:"destination,omitempty"`
}

// AdvanceStatusRequest is the payload for POST /orders/:id/status
type AdvanceStatusRequest struct {
	Status   string       `json:"status" validate:"required,oneof=pending processing driver_assigned out_for_delivery nearby delivered ready_for_pickup picked_up cancelled"`
	Note     string       `json:"note,omitempty" validate:"max=500"`
	Location *Coordinates `json:"location,omitempty"`
}

// AssignRequest is the payload for POST /orders/:id/assign. An empty personnel id
// asks for automatic assignment.
type AssignRequest struct {
	PersonnelID string `json:"personnel_id,omitempty"`
}

// LocationUpdateRequest is the payload for POST /orders/:id/location
type LocationUpdateRequest struct {
	Coordinates
	Timestamp *time.Time `json:"timestamp,omitempty"` // defaults to receipt time
}

// ReadyForPickupRequest is the payload for POST /orders/:id/ready-for-pickup
type ReadyForPickupRequest struct {
	Note string `json:"note,omitempty" validate:"max=500"`
}

// VerifyPickupRequest is the payload for POST /orders/:id/verify-pickup
type VerifyPickupRequest struct {
	Code    string `json:"code" validate:"required,startswith=PICK"`
	StaffID string `json:"staff_id,omitempty"` // falls back to X-Actor-Id
}

// CreatePersonnelRequest is the payload for POST /personnel
type CreatePersonnelRequest struct {
	PersonnelID string       `json:"personnel_id,omitempty" validate:"omitempty,max=64"`
	Name        string       `json:"name" validate:"required"`
	Phone       string       `json:"phone,omitempty" validate:"omitempty,e164"`
	VehicleType string       `json:"vehicle_type,omitempty" validate:"omitempty,oneof=bicycle scooter motorbike car van"`
	Rating      float64      `json:"rating,omitempty" validate:"gte=0,lte=5"`
	Location    *Coordinates `json:"location,omitempty"`
}

// ListPersonnelQuery is the query string of GET /personnel
type ListPersonnelQuery struct {
	Available bool `form:"available"`
}

// PersonnelOrdersQuery is the query string of GET /personnel/:id/orders
type PersonnelOrdersQuery struct {
	State string `form:"state" validate:"omitempty,oneof=active completed all"`
}
