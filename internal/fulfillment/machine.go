package fulfillment

import (
	"crypto/subtle"
	"fmt"
	"time"

	"github.com/imrishuroy/go-order-fulfillment/internal/orders"
)

// The functions in this file are pure: they never modify the order passed in and
// return a changed copy on success. Persistence is the Service's job.

// AdvanceRequest asks for a status change.
type AdvanceRequest struct {
	Target   orders.Status
	Actor    string
	Location *orders.Coordinates
	Note     string
}

// Advance moves o to req.Target and appends one history entry.
func Advance(o *orders.Order, req AdvanceRequest, now time.Time) (*orders.Order, error) {
	if err := CanTransition(o.FulfillmentType, o.Status, req.Target); err != nil {
		return nil, err
	}
	if req.Target == orders.StatusDriverAssigned && o.DeliveryPersonnelID == "" {
		return nil, ErrMissingAssignment
	}

	next := o.Clone()
	next.Status = req.Target
	entry := orders.StatusHistoryEntry{
		Status:    req.Target,
		Timestamp: now.UTC(),
		Note:      req.Note,
		Actor:     req.Actor,
	}
	if req.Location != nil {
		loc := *req.Location
		entry.Location = &loc
	}
	next.StatusHistory = append(next.StatusHistory, entry)
	return next, nil
}

// Assign sets the courier of a delivery order. The status is not changed; the caller
// advances to driver_assigned separately.
func Assign(o *orders.Order, personnelID string) (*orders.Order, error) {
	if o.FulfillmentType != orders.FulfillmentDelivery {
		return nil, fulfillmentError("assigning delivery personnel", o.FulfillmentType)
	}
	if o.Status != orders.StatusProcessing && o.Status != orders.StatusDriverAssigned {
		return nil, stateError("assigning delivery personnel", o.Status)
	}
	next := o.Clone()
	next.DeliveryPersonnelID = personnelID
	return next, nil
}

// trackable statuses accept location pings
var trackable = map[orders.Status]bool{
	orders.StatusDriverAssigned: true,
	orders.StatusOutForDelivery: true,
	orders.StatusNearby:         true,
}

// ApplyLocation records a courier ping. It reports changed=false, returning o itself,
// when the ping repeats the current one or is older than it.
func ApplyLocation(o *orders.Order, at orders.Coordinates, ts time.Time) (next *orders.Order, changed bool, err error) {
	if !toPoint(at).Valid() {
		return nil, false, fmt.Errorf("%w: lat=%v lng=%v", ErrInvalidLocation, at.Lat, at.Lng)
	}
	if !trackable[o.Status] {
		return nil, false, stateError("updating location", o.Status)
	}
	if cur := o.CurrentLocation; cur != nil {
		if cur.Coordinates == at && cur.UpdatedAt.Equal(ts) {
			return o, false, nil
		}
		if ts.Before(cur.UpdatedAt) {
			return o, false, nil
		}
	}
	next = o.Clone()
	next.CurrentLocation = &orders.TrackedLocation{Coordinates: at, UpdatedAt: ts.UTC()}
	return next, true, nil
}

// IssuePickupCode stores code on a ready pickup order. A code is issued at most once.
func IssuePickupCode(o *orders.Order, code string) (*orders.Order, error) {
	if o.FulfillmentType != orders.FulfillmentPickup {
		return nil, fulfillmentError("generating a pickup code", o.FulfillmentType)
	}
	if o.PickupVerificationCode != "" {
		return nil, ErrAlreadyGenerated
	}
	if o.Status != orders.StatusReadyForPickup {
		return nil, stateError("generating a pickup code", o.Status)
	}
	if o.PickupLocation == "" {
		return nil, stateError("generating a pickup code without a pickup location", o.Status)
	}
	next := o.Clone()
	next.PickupVerificationCode = code
	return next, nil
}

// Receipt is the printable proof of a completed pickup.
type Receipt struct {
	OrderID        string            `json:"order_id"`
	CustomerID     string            `json:"customer_id"`
	Items          []orders.LineItem `json:"items"`
	Total          float64           `json:"total"`
	PickupLocation string            `json:"pickup_location"`
	PickupCode     string            `json:"pickup_code"`
	VerifiedBy     string            `json:"verified_by"`
	VerifiedAt     time.Time         `json:"verified_at"`
	Order          *orders.Order     `json:"order"`
}

// CheckPickupCode completes a ready pickup order when supplied matches its code exactly.
func CheckPickupCode(o *orders.Order, supplied, staffID string, now time.Time) (*orders.Order, *Receipt, error) {
	if o.Status != orders.StatusReadyForPickup {
		return nil, nil, stateError("verifying a pickup code", o.Status)
	}
	if o.PickupVerificationCode == "" ||
		subtle.ConstantTimeCompare([]byte(o.PickupVerificationCode), []byte(supplied)) != 1 {
		return nil, nil, ErrCodeMismatch
	}

	next, err := Advance(o, AdvanceRequest{
		Target: orders.StatusPickedUp,
		Actor:  staffID,
		Note:   "pickup code verified",
	}, now)
	if err != nil {
		return nil, nil, err
	}
	verifiedAt := now.UTC()
	last := next.LastHistoryEntry()
	last.VerifiedBy = staffID
	last.VerifiedAt = &verifiedAt

	snapshot := next.Clone()
	return next, &Receipt{
		OrderID:        next.OrderID,
		CustomerID:     next.CustomerID,
		Items:          snapshot.Items,
		Total:          next.Total,
		PickupLocation: next.PickupLocation,
		PickupCode:     next.PickupVerificationCode,
		VerifiedBy:     staffID,
		VerifiedAt:     verifiedAt,
		Order:          snapshot,
	}, nil
}
