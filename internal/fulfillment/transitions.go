package fulfillment

import "github.com/imrishuroy/go-order-fulfillment/internal/orders"

// The delivery and pickup tracks share pending, processing and cancelled and are
// disjoint afterwards. Statuses missing from a table have no outgoing transitions.
var deliveryTransitions = map[orders.Status][]orders.Status{
	orders.StatusPending:        {orders.StatusProcessing, orders.StatusCancelled},
	orders.StatusProcessing:     {orders.StatusDriverAssigned, orders.StatusCancelled},
	orders.StatusDriverAssigned: {orders.StatusOutForDelivery, orders.StatusCancelled},
	orders.StatusOutForDelivery: {orders.StatusNearby, orders.StatusDelivered, orders.StatusCancelled},
	orders.StatusNearby:         {orders.StatusDelivered, orders.StatusCancelled},
}

var pickupTransitions = map[orders.Status][]orders.Status{
	orders.StatusPending:        {orders.StatusProcessing, orders.StatusCancelled},
	orders.StatusProcessing:     {orders.StatusReadyForPickup, orders.StatusCancelled},
	orders.StatusReadyForPickup: {orders.StatusPickedUp, orders.StatusCancelled},
}

var terminal = map[orders.Status]bool{
	orders.StatusDelivered: true,
	orders.StatusPickedUp:  true,
	orders.StatusCancelled: true,
}

// IsTerminal reports whether no transition may leave s.
func IsTerminal(s orders.Status) bool {
	return terminal[s]
}

// ValidTransitionsFrom returns the statuses reachable in one step from s for the given
// fulfillment type. The result is a copy.
func ValidTransitionsFrom(ft orders.FulfillmentType, s orders.Status) []orders.Status {
	table := tableFor(ft)
	if table == nil {
		return nil
	}
	return append([]orders.Status(nil), table[s]...)
}

// CanTransition returns nil if from -> to is in the table for ft, otherwise a *TransitionError.
func CanTransition(ft orders.FulfillmentType, from, to orders.Status) error {
	for _, next := range tableFor(ft)[from] {
		if next == to {
			return nil
		}
	}
	return &TransitionError{
		FulfillmentType: ft,
		From:            from,
		To:              to,
		Allowed:         ValidTransitionsFrom(ft, from),
	}
}

func tableFor(ft orders.FulfillmentType) map[orders.Status][]orders.Status {
	switch ft {
	case orders.FulfillmentDelivery:
		return deliveryTransitions
	case orders.FulfillmentPickup:
		return pickupTransitions
	}
	return nil
}
