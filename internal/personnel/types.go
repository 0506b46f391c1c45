package personnel

import "time"

// DeliveryPersonnel is a courier that delivery orders can be assigned to.
// Orders reference couriers by id; a courier's lifecycle is independent of any order.
type DeliveryPersonnel struct {
	PersonnelID     string     `dynamodbav:"personnel_id" json:"personnel_id"` // PK
	Name            string     `dynamodbav:"name" json:"name"`
	Phone           string     `dynamodbav:"phone,omitempty" json:"phone,omitempty"`
	VehicleType     string     `dynamodbav:"vehicle_type,omitempty" json:"vehicle_type,omitempty"`
	Rating          float64    `dynamodbav:"rating" json:"rating"`
	OpenOrders      int        `dynamodbav:"open_orders" json:"open_orders"`
	Active          bool       `dynamodbav:"active" json:"active"`
	CurrentLocation *Location  `dynamodbav:"current_location,omitempty" json:"current_location,omitempty"`
	CreatedAt       time.Time  `dynamodbav:"created_at" json:"created_at"`
	UpdatedAt       time.Time  `dynamodbav:"updated_at" json:"updated_at"`
	LastSeenAt      *time.Time `dynamodbav:"last_seen_at,omitempty" json:"last_seen_at,omitempty"`
}

// Location is a courier's last reported position.
type Location struct {
	Lat       float64   `dynamodbav:"lat" json:"lat"`
	Lng       float64   `dynamodbav:"lng" json:"lng"`
	UpdatedAt time.Time `dynamodbav:"updated_at" json:"updated_at"`
}

// HasCapacity reports whether the courier is active and below maxOpen open orders.
func (p *DeliveryPersonnel) HasCapacity(maxOpen int) bool {
	return p.Active && p.OpenOrders < maxOpen
}
