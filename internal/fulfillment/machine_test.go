package fulfillment

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/go-order-fulfillment/internal/orders"
)

var t0 = time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)

func orderIn(ft orders.FulfillmentType, status orders.Status) *orders.Order {
	o := &orders.Order{
		OrderID:         "ORD-test",
		CustomerID:      "cust-1",
		Items:           []orders.LineItem{{ProductID: "p1", Name: "Latte", Quantity: 1, UnitPrice: 4}},
		Total:           4,
		FulfillmentType: ft,
		Status:          status,
		StatusHistory:   []orders.StatusHistoryEntry{{Status: orders.StatusPending, Timestamp: t0}},
		Version:         3,
	}
	if ft == orders.FulfillmentPickup {
		o.PickupLocation = "Main Street Store"
	} else {
		o.DeliveryAddressID = "addr-1"
		o.DeliveryPersonnelID = "p1"
	}
	return o
}

func allowed(ft orders.FulfillmentType, from, to orders.Status) bool {
	for _, s := range ValidTransitionsFrom(ft, from) {
		if s == to {
			return true
		}
	}
	return false
}

func TestAdvance_FollowsTransitionTable(t *testing.T) {
	for _, ft := range []orders.FulfillmentType{orders.FulfillmentDelivery, orders.FulfillmentPickup} {
		for _, from := range orders.AllStatuses {
			for _, to := range orders.AllStatuses {
				o := orderIn(ft, from)
				before := o.Clone()

				next, err := Advance(o, AdvanceRequest{Target: to, Actor: "staff-1"}, t0)

				assert.Equal(t, before, o, "%s %s->%s mutated its input", ft, from, to)
				if !allowed(ft, from, to) {
					require.Error(t, err)
					assert.True(t, errors.Is(err, ErrInvalidTransition), "%s %s->%s: %v", ft, from, to, err)
					assert.Nil(t, next)
					continue
				}
				require.NoError(t, err, "%s %s->%s", ft, from, to)
				assert.Equal(t, to, next.Status)
				require.Len(t, next.StatusHistory, len(o.StatusHistory)+1)
				last := next.LastHistoryEntry()
				assert.Equal(t, to, last.Status)
				assert.Equal(t, "staff-1", last.Actor)
				assert.Equal(t, t0, last.Timestamp)
			}
		}
	}
}

func TestTerminalStatesRejectEverything(t *testing.T) {
	for _, s := range []orders.Status{orders.StatusDelivered, orders.StatusPickedUp, orders.StatusCancelled} {
		assert.True(t, IsTerminal(s))
		for _, ft := range []orders.FulfillmentType{orders.FulfillmentDelivery, orders.FulfillmentPickup} {
			assert.Empty(t, ValidTransitionsFrom(ft, s))
			for _, to := range orders.AllStatuses {
				_, err := Advance(orderIn(ft, s), AdvanceRequest{Target: to}, t0)
				assert.ErrorIs(t, err, ErrInvalidTransition)
			}
		}
	}
	assert.False(t, IsTerminal(orders.StatusNearby))
}

func TestTransitionError_ListsAllowed(t *testing.T) {
	err := CanTransition(orders.FulfillmentDelivery, orders.StatusDriverAssigned, orders.StatusDelivered)

	var te *TransitionError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, []orders.Status{orders.StatusOutForDelivery, orders.StatusCancelled}, te.Allowed)
	assert.Contains(t, err.Error(), "out_for_delivery, cancelled")

	err = CanTransition(orders.FulfillmentPickup, orders.StatusPickedUp, orders.StatusCancelled)
	assert.Contains(t, err.Error(), "terminal")
}

func TestValidTransitionsFrom_ReturnsCopy(t *testing.T) {
	got := ValidTransitionsFrom(orders.FulfillmentDelivery, orders.StatusPending)
	got[0] = orders.StatusDelivered
	assert.Equal(t, orders.StatusProcessing, ValidTransitionsFrom(orders.FulfillmentDelivery, orders.StatusPending)[0])
	assert.Nil(t, ValidTransitionsFrom("drone", orders.StatusPending))
}

func TestAdvance_DriverAssignedNeedsPersonnel(t *testing.T) {
	o := orderIn(orders.FulfillmentDelivery, orders.StatusProcessing)
	o.DeliveryPersonnelID = ""

	_, err := Advance(o, AdvanceRequest{Target: orders.StatusDriverAssigned}, t0)
	assert.ErrorIs(t, err, ErrMissingAssignment)
	assert.Equal(t, orders.StatusProcessing, o.Status)
}

func TestAdvance_RecordsLocationCopy(t *testing.T) {
	loc := &orders.Coordinates{Lat: 1, Lng: 2}
	next, err := Advance(orderIn(orders.FulfillmentDelivery, orders.StatusDriverAssigned),
		AdvanceRequest{Target: orders.StatusOutForDelivery, Location: loc, Note: "left the store"}, t0)
	require.NoError(t, err)

	loc.Lat = 99
	last := next.LastHistoryEntry()
	assert.Equal(t, 1.0, last.Location.Lat)
	assert.Equal(t, "left the store", last.Note)
}

func TestAssign(t *testing.T) {
	t.Run("pickup orders never take a courier", func(t *testing.T) {
		for _, s := range orders.AllStatuses {
			_, err := Assign(orderIn(orders.FulfillmentPickup, s), "p2")
			assert.ErrorIs(t, err, ErrInvalidFulfillmentType, "status %s", s)
		}
	})
	t.Run("only processing or driver_assigned", func(t *testing.T) {
		for _, s := range orders.AllStatuses {
			o := orderIn(orders.FulfillmentDelivery, s)
			next, err := Assign(o, "p2")
			if s == orders.StatusProcessing || s == orders.StatusDriverAssigned {
				require.NoError(t, err)
				assert.Equal(t, "p2", next.DeliveryPersonnelID)
				assert.Equal(t, s, next.Status)
				assert.Equal(t, "p1", o.DeliveryPersonnelID)
				continue
			}
			assert.ErrorIs(t, err, ErrInvalidState, "status %s", s)
		}
	})
}

func TestApplyLocation(t *testing.T) {
	o := orderIn(orders.FulfillmentDelivery, orders.StatusOutForDelivery)
	at := orders.Coordinates{Lat: 12.97, Lng: 77.59}

	next, changed, err := ApplyLocation(o, at, t0)
	require.NoError(t, err)
	require.True(t, changed)
	assert.Nil(t, o.CurrentLocation)
	assert.Equal(t, at, next.CurrentLocation.Coordinates)

	again, changed, err := ApplyLocation(next, at, t0)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Same(t, next, again)

	_, changed, err = ApplyLocation(next, orders.Coordinates{Lat: 1, Lng: 1}, t0.Add(-time.Minute))
	require.NoError(t, err)
	assert.False(t, changed, "older pings are ignored")

	_, _, err = ApplyLocation(orderIn(orders.FulfillmentDelivery, orders.StatusProcessing), at, t0)
	assert.ErrorIs(t, err, ErrInvalidState)

	_, changed, err = ApplyLocation(next, orders.Coordinates{Lat: 91, Lng: 77.59}, t0.Add(time.Minute))
	assert.ErrorIs(t, err, ErrInvalidLocation)
	assert.False(t, changed)
}

func TestIssuePickupCode(t *testing.T) {
	ready := orderIn(orders.FulfillmentPickup, orders.StatusReadyForPickup)

	next, err := IssuePickupCode(ready, "PICK123456789")
	require.NoError(t, err)
	assert.Equal(t, "PICK123456789", next.PickupVerificationCode)
	assert.Empty(t, ready.PickupVerificationCode)

	_, err = IssuePickupCode(next, "PICK000000000")
	assert.ErrorIs(t, err, ErrAlreadyGenerated)
	assert.Equal(t, "PICK123456789", next.PickupVerificationCode)

	_, err = IssuePickupCode(orderIn(orders.FulfillmentDelivery, orders.StatusProcessing), "PICK1")
	assert.ErrorIs(t, err, ErrInvalidFulfillmentType)

	_, err = IssuePickupCode(orderIn(orders.FulfillmentPickup, orders.StatusProcessing), "PICK1")
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestCheckPickupCode(t *testing.T) {
	ready := orderIn(orders.FulfillmentPickup, orders.StatusReadyForPickup)
	ready.PickupVerificationCode = "PICK123456789"

	_, _, err := CheckPickupCode(ready, "pick123456789", "staff-1", t0)
	assert.ErrorIs(t, err, ErrCodeMismatch, "match is case-sensitive")
	assert.Equal(t, orders.StatusReadyForPickup, ready.Status)

	next, receipt, err := CheckPickupCode(ready, "PICK123456789", "staff-1", t0)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusPickedUp, next.Status)
	last := next.LastHistoryEntry()
	assert.Equal(t, "staff-1", last.VerifiedBy)
	require.NotNil(t, last.VerifiedAt)
	assert.Equal(t, t0, *last.VerifiedAt)

	assert.Equal(t, "PICK123456789", receipt.PickupCode)
	assert.Equal(t, "staff-1", receipt.VerifiedBy)
	assert.Equal(t, "Main Street Store", receipt.PickupLocation)
	assert.Equal(t, orders.StatusPickedUp, receipt.Order.Status)
	assert.NotSame(t, next, receipt.Order)

	_, _, err = CheckPickupCode(next, "PICK123456789", "staff-1", t0)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestDefaultCodeGenerator(t *testing.T) {
	now := time.UnixMilli(1_700_000_482_913)
	code := DefaultCodeGenerator(now)
	assert.Regexp(t, `^PICK482913\d{3}$`, code)
}
