package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/aws/aws-lambda-go/events"

	orderevents "github.com/imrishuroy/go-order-fulfillment/internal/events"
	"github.com/imrishuroy/go-order-fulfillment/internal/idempotency"
	"github.com/imrishuroy/go-order-fulfillment/internal/orders"
	"github.com/imrishuroy/go-order-fulfillment/internal/personnel"
)

// CourierLoad adjusts how many open orders a courier carries.
type CourierLoad interface {
	AdjustOpenOrders(ctx context.Context, personnelID string, delta int) (int, error)
	MoveOpenOrder(ctx context.Context, fromID, toID string) error
}

// Processor consumes order events from SQS and keeps courier load counters in step.
type Processor struct {
	idempStore *idempotency.Store
	couriers   CourierLoad
}

// NewProcessor creates a new worker processor.
func NewProcessor(idempStore *idempotency.Store, couriers CourierLoad) *Processor {
	return &Processor{idempStore: idempStore, couriers: couriers}
}

// Handle receives an SQS batch event and processes each message.
func (p *Processor) Handle(ctx context.Context, ev events.SQSEvent) error {
	log.Printf("[worker] received %d SQS messages", len(ev.Records))
	for _, rec := range ev.Records {
		if err := p.processMessage(ctx, rec); err != nil {
			// Return error: Lambda will retry. If failed too many times, message goes to DLQ.
			log.Printf("[worker] error: %v", err)
			return err
		}
	}
	return nil
}

func (p *Processor) processMessage(ctx context.Context, rec events.SQSMessage) error {
	var msg orderevents.OrderEvent
	if err := json.Unmarshal([]byte(rec.Body), &msg); err != nil {
		return fmt.Errorf("invalid message body: %w", err)
	}
	if msg.OrderID == "" || msg.Type == "" {
		return fmt.Errorf("invalid message body: missing order_id or type")
	}
	if msg.EventID == "" {
		msg.EventID = orderevents.EventID(msg.OrderID, msg.Version, msg.Type)
	}

	log.Printf("[worker] received event=%s order=%s %s->%s corr=%s",
		msg.EventID, msg.OrderID, msg.FromStatus, msg.ToStatus, msg.CorrelationID)

	claim, err := p.idempStore.Claim(ctx, msg.EventID, idempotency.ScopeOrderEvent, msg.OrderID)
	if err != nil {
		return fmt.Errorf("claim event %s: %w", msg.EventID, err)
	}
	switch claim {
	case idempotency.Completed:
		log.Printf("[worker] already processed event=%s", msg.EventID)
		return nil
	case idempotency.InFlight:
		log.Printf("[worker] duplicate delivery of in-flight event=%s", msg.EventID)
		return nil
	}

	if err := p.apply(ctx, msg); err != nil {
		if merr := p.idempStore.MarkFailed(ctx, msg.EventID, err.Error()); merr != nil {
			log.Printf("[worker] mark failed error event=%s: %v", msg.EventID, merr)
		}
		return fmt.Errorf("process event %s: %w", msg.EventID, err)
	}

	response := fmt.Sprintf(`{"event_id":%q,"order_id":%q}`, msg.EventID, msg.OrderID)
	if err := p.idempStore.MarkDone(ctx, msg.EventID, response, 200); err != nil {
		return fmt.Errorf("failed to update idempotency: %w", err)
	}
	log.Printf("[worker] completed event=%s", msg.EventID)
	return nil
}

// apply turns one event into courier load changes. A courier counts an order from
// driver_assigned until the order is delivered or cancelled.
func (p *Processor) apply(ctx context.Context, msg orderevents.OrderEvent) error {
	for _, c := range loadChanges(msg) {
		if err := p.applyChange(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

func (p *Processor) applyChange(ctx context.Context, c loadChange) error {
	if c.from != "" && c.to != "" {
		err := p.couriers.MoveOpenOrder(ctx, c.from, c.to)
		if errors.Is(err, personnel.ErrNotFound) {
			log.Printf("[worker] courier %s no longer exists, released %s only", c.to, c.from)
			return nil
		}
		if err != nil {
			return fmt.Errorf("move open order %s->%s: %w", c.from, c.to, err)
		}
		log.Printf("[worker] moved open order %s->%s", c.from, c.to)
		return nil
	}

	id, delta := c.to, 1
	if c.to == "" {
		id, delta = c.from, -1
	}
	n, err := p.couriers.AdjustOpenOrders(ctx, id, delta)
	if errors.Is(err, personnel.ErrNotFound) {
		log.Printf("[worker] courier %s no longer exists, skipping", id)
		return nil
	}
	if err != nil {
		return fmt.Errorf("adjust open orders for %s: %w", id, err)
	}
	log.Printf("[worker] courier=%s open_orders=%d", id, n)
	return nil
}

// loadChange moves one open order off from and onto to. Either side may be empty.
type loadChange struct {
	from, to string
}

var carrying = map[string]bool{
	string(orders.StatusDriverAssigned): true,
	string(orders.StatusOutForDelivery): true,
	string(orders.StatusNearby):         true,
}

func loadChanges(msg orderevents.OrderEvent) []loadChange {
	switch msg.Type {
	case orderevents.TypeStatusChanged:
		if msg.PersonnelID == "" {
			return nil
		}
		switch {
		case msg.ToStatus == string(orders.StatusDriverAssigned):
			return []loadChange{{to: msg.PersonnelID}}
		case (msg.ToStatus == string(orders.StatusDelivered) || msg.ToStatus == string(orders.StatusCancelled)) && carrying[msg.FromStatus]:
			return []loadChange{{from: msg.PersonnelID}}
		}
	case orderevents.TypePersonnelAssigned:
		// reassignment while already carrying moves the load; before that nothing is counted
		if !carrying[msg.ToStatus] {
			return nil
		}
		return []loadChange{{from: msg.PreviousPersonnelID, to: msg.PersonnelID}}
	}
	return nil
}
