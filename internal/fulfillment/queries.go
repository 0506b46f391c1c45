package fulfillment

import (
	"context"
	"fmt"

	"github.com/imrishuroy/go-order-fulfillment/internal/orders"
	"github.com/imrishuroy/go-order-fulfillment/internal/personnel"
)

// DeliveryState selects which of a courier's orders DeliveriesFor returns.
type DeliveryState string

const (
	DeliveriesActive    DeliveryState = "active"    // assigned and not yet delivered
	DeliveriesCompleted DeliveryState = "completed" // delivered
	DeliveriesAll       DeliveryState = "all"
)

func (d DeliveryState) includes(s orders.Status) bool {
	switch d {
	case DeliveriesActive:
		return trackable[s]
	case DeliveriesCompleted:
		return s == orders.StatusDelivered
	}
	return true
}

// DeliveriesFor lists the courier's orders in the given state, most recently
// updated first. An order still in processing is assigned but not yet active.
func (s *Service) DeliveriesFor(ctx context.Context, personnelID string, state DeliveryState) ([]orders.Order, error) {
	switch state {
	case DeliveriesActive, DeliveriesCompleted, DeliveriesAll:
	default:
		return nil, fmt.Errorf("%w: unknown delivery state %q", ErrInvalidState, state)
	}
	courier, err := s.personnel.Get(ctx, personnelID)
	if err != nil {
		return nil, fmt.Errorf("get personnel: %w", err)
	}
	if courier == nil {
		return nil, fmt.Errorf("%w: delivery personnel %s", ErrNotFound, personnelID)
	}
	all, err := s.orders.ListByPersonnel(ctx, personnelID)
	if err != nil {
		return nil, err
	}
	out := make([]orders.Order, 0, len(all))
	for _, o := range all {
		if state.includes(o.Status) {
			out = append(out, o)
		}
	}
	return out, nil
}

// AvailablePersonnel lists active couriers below the open order limit, least
// loaded first.
func (s *Service) AvailablePersonnel(ctx context.Context) ([]personnel.DeliveryPersonnel, error) {
	couriers, err := s.personnel.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list personnel: %w", err)
	}
	out := make([]personnel.DeliveryPersonnel, 0, len(couriers))
	for _, p := range couriers {
		if p.HasCapacity(s.opts.MaxOpenOrders) {
			out = append(out, p)
		}
	}
	return out, nil
}
