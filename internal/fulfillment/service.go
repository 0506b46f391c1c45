package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/imrishuroy/go-order-fulfillment/internal/events"
	"github.com/imrishuroy/go-order-fulfillment/internal/idempotency"
	"github.com/imrishuroy/go-order-fulfillment/internal/orders"
	"github.com/imrishuroy/go-order-fulfillment/internal/personnel"
)

// SystemActor is recorded on history entries the service adds on its own.
const SystemActor = "system"

// OrderStore persists orders with optimistic versioning.
type OrderStore interface {
	Get(ctx context.Context, orderID string) (*orders.Order, error)
	Create(ctx context.Context, order *orders.Order) error
	CreateWithIdempotencyTransaction(ctx context.Context, idempotencyTable string, idempotencyItem interface{}, order *orders.Order, ttlWindow time.Duration) error
	SaveWithCode(ctx context.Context, order *orders.Order, expectedVersion int64, change orders.CodeChange) error
	ListByPersonnel(ctx context.Context, personnelID string) ([]orders.Order, error)
}

// PersonnelStore looks up couriers.
type PersonnelStore interface {
	Get(ctx context.Context, personnelID string) (*personnel.DeliveryPersonnel, error)
	ListActive(ctx context.Context) ([]personnel.DeliveryPersonnel, error)
	UpdateLocation(ctx context.Context, personnelID string, lat, lng float64, at time.Time) error
}

// Notifier receives an event after every successful status change or assignment.
type Notifier interface {
	Notify(ctx context.Context, ev events.OrderEvent) error
}

// MetricsRecorder counts fulfillment outcomes.
type MetricsRecorder interface {
	RecordTransition(ctx context.Context, fulfillmentType, from, to string) error
	RecordPickupVerification(ctx context.Context, outcome string) error
	RecordConflict(ctx context.Context, operation string) error
}

// IdempotencyRecorder builds records for idempotent order creation.
type IdempotencyRecorder interface {
	NewRecord(key, scope, orderID string) idempotency.IdempotencyRecord
	TableName() string
	TTL() time.Duration
}

// Options tune the service. Zero values get defaults from NewService.
type Options struct {
	NearbyRadiusMeters float64
	CourierSpeedKmh    float64
	DefaultDeliveryETA time.Duration
	DefaultPickupETA   time.Duration
	MaxOpenOrders      int
	CodeAttempts       int // pickup code collision retries
}

// Service runs the fulfillment state machine against persisted orders. Every
// mutating call is one read followed by one conditional write.
type Service struct {
	orders      OrderStore
	personnel   PersonnelStore
	idempotency IdempotencyRecorder
	notifier    Notifier
	metrics     MetricsRecorder
	opts        Options
	nowFunc     func() time.Time
	codeGen     CodeGenerator
}

// Option configures optional collaborators.
type Option func(*Service)

// WithNotifier publishes order events after each write.
func WithNotifier(n Notifier) Option { return func(s *Service) { s.notifier = n } }

// WithMetrics records CloudWatch counters.
func WithMetrics(m MetricsRecorder) Option { return func(s *Service) { s.metrics = m } }

// WithIdempotency enables Idempotency-Key support on CreateOrder.
func WithIdempotency(r IdempotencyRecorder) Option { return func(s *Service) { s.idempotency = r } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.nowFunc = now } }

// WithCodeGenerator overrides DefaultCodeGenerator.
func WithCodeGenerator(g CodeGenerator) Option { return func(s *Service) { s.codeGen = g } }

// NewService wires a Service.
func NewService(orderStore OrderStore, personnelStore PersonnelStore, opts Options, options ...Option) *Service {
	if opts.CourierSpeedKmh <= 0 {
		opts.CourierSpeedKmh = 30
	}
	if opts.DefaultDeliveryETA <= 0 {
		opts.DefaultDeliveryETA = 45 * time.Minute
	}
	if opts.DefaultPickupETA <= 0 {
		opts.DefaultPickupETA = 30 * time.Minute
	}
	if opts.MaxOpenOrders <= 0 {
		opts.MaxOpenOrders = 5
	}
	if opts.CodeAttempts <= 0 {
		opts.CodeAttempts = 5
	}
	s := &Service{
		orders:    orderStore,
		personnel: personnelStore,
		opts:      opts,
		nowFunc:   time.Now,
		codeGen:   DefaultCodeGenerator,
	}
	for _, o := range options {
		o(s)
	}
	return s
}

// NewOrder is the checkout input for CreateOrder.
type NewOrder struct {
	CustomerID         string
	Items              []orders.LineItem
	Subtotal           float64
	Total              float64
	PaymentID          string
	PaymentStatus      string
	FulfillmentType    orders.FulfillmentType
	PickupLocation     string
	PickupInstructions string
	DeliveryAddressID  string
	Destination        *orders.Coordinates
	IdempotencyKey     string
}

func (n NewOrder) validate() error {
	var problems []string
	if n.CustomerID == "" {
		problems = append(problems, "customer is required")
	}
	if len(n.Items) == 0 {
		problems = append(problems, "at least one item is required")
	}
	if !n.FulfillmentType.Valid() {
		problems = append(problems, fmt.Sprintf("unknown fulfillment type %q", n.FulfillmentType))
	}
	if n.FulfillmentType == orders.FulfillmentPickup && strings.TrimSpace(n.PickupLocation) == "" {
		problems = append(problems, "pickup orders need a pickup location")
	}
	if n.FulfillmentType == orders.FulfillmentDelivery && n.DeliveryAddressID == "" {
		problems = append(problems, "delivery orders need a delivery address")
	}
	if n.Destination != nil && !toPoint(*n.Destination).Valid() {
		problems = append(problems, "destination is out of range")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidOrder, strings.Join(problems, "; "))
	}
	return nil
}

// ErrDuplicateRequest is returned by CreateOrder when the Idempotency-Key was used before.
var ErrDuplicateRequest = errors.New("idempotency key already used")

// CreateOrder stores a new pending order. With an IdempotencyKey the idempotency
// record and the order are written in one transaction.
func (s *Service) CreateOrder(ctx context.Context, n NewOrder) (*orders.Order, error) {
	if err := n.validate(); err != nil {
		return nil, err
	}
	now := s.nowFunc().UTC()
	o := &orders.Order{
		OrderID:         "ORD-" + uuid.NewString(),
		CustomerID:      n.CustomerID,
		Items:           append([]orders.LineItem(nil), n.Items...),
		Subtotal:        n.Subtotal,
		Total:           n.Total,
		PaymentID:       n.PaymentID,
		PaymentStatus:   n.PaymentStatus,
		FulfillmentType: n.FulfillmentType,
		Destination:     n.Destination,
		Status:          orders.StatusPending,
		StatusHistory: []orders.StatusHistoryEntry{
			{Status: orders.StatusPending, Timestamp: now, Actor: n.CustomerID, Note: "order placed"},
		},
		CreatedAt: now,
	}
	if n.FulfillmentType == orders.FulfillmentPickup {
		o.PickupLocation = n.PickupLocation
		o.PickupInstructions = n.PickupInstructions
	} else {
		o.DeliveryAddressID = n.DeliveryAddressID
	}

	if n.IdempotencyKey != "" && s.idempotency != nil {
		rec := s.idempotency.NewRecord(n.IdempotencyKey, idempotency.ScopeOrderCreate, o.OrderID)
		err := s.orders.CreateWithIdempotencyTransaction(ctx, s.idempotency.TableName(), rec, o, s.idempotency.TTL())
		if errors.Is(err, orders.ErrIdempotencyKeyExists) {
			return nil, ErrDuplicateRequest
		}
		if err != nil {
			return nil, fmt.Errorf("create order: %w", err)
		}
	} else if err := s.orders.Create(ctx, o); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	log.Printf("[fulfillment] created order=%s type=%s customer=%s", o.OrderID, o.FulfillmentType, o.CustomerID)
	return o, nil
}

// Get returns the current order.
func (s *Service) Get(ctx context.Context, orderID string) (*orders.Order, error) {
	o, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	if o == nil {
		return nil, fmt.Errorf("%w: order %s", ErrNotFound, orderID)
	}
	return o, nil
}

// AdvanceStatus validates and applies one status transition.
func (s *Service) AdvanceStatus(ctx context.Context, orderID string, req AdvanceRequest) (*orders.Order, error) {
	if !req.Target.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, req.Target)
	}
	return s.mutate(ctx, "advance_status", orderID, req.Actor, func(o *orders.Order, now time.Time) (*orders.Order, orders.CodeChange, error) {
		if err := CanTransition(o.FulfillmentType, o.Status, req.Target); err != nil {
			return nil, orders.CodeChange{}, err
		}
		if req.Target == orders.StatusPickedUp {
			// completing a pickup requires the customer's code
			return nil, orders.CodeChange{}, fmt.Errorf("%w: picked_up is only reachable through pickup code verification", ErrInvalidState)
		}
		next, err := Advance(o, req, now)
		if err != nil {
			return nil, orders.CodeChange{}, err
		}
		s.refreshEstimates(next, req.Target, now)
		return next, releaseOnCancel(o, next), nil
	})
}

// MarkReadyForPickup advances a pickup order to ready_for_pickup and issues its
// verification code in the same write.
func (s *Service) MarkReadyForPickup(ctx context.Context, orderID, actor, note string) (*orders.Order, error) {
	return s.withFreshCode(ctx, "mark_ready_for_pickup", orderID, actor, func(o *orders.Order, code string, now time.Time) (*orders.Order, error) {
		if o.FulfillmentType != orders.FulfillmentPickup {
			return nil, fulfillmentError("marking ready for pickup", o.FulfillmentType)
		}
		next, err := Advance(o, AdvanceRequest{Target: orders.StatusReadyForPickup, Actor: actor, Note: note}, now)
		if err != nil {
			return nil, err
		}
		s.refreshEstimates(next, orders.StatusReadyForPickup, now)
		return IssuePickupCode(next, code)
	})
}

// GeneratePickupVerificationCode issues the code of a ready pickup order. Codes are
// unique among unredeemed orders; a colliding candidate is replaced and retried.
func (s *Service) GeneratePickupVerificationCode(ctx context.Context, orderID string) (*orders.Order, error) {
	return s.withFreshCode(ctx, "generate_pickup_code", orderID, SystemActor, func(o *orders.Order, code string, _ time.Time) (*orders.Order, error) {
		return IssuePickupCode(o, code)
	})
}

func (s *Service) withFreshCode(ctx context.Context, op, orderID, actor string, apply func(o *orders.Order, code string, now time.Time) (*orders.Order, error)) (*orders.Order, error) {
	var lastErr error
	for attempt := 0; attempt < s.opts.CodeAttempts; attempt++ {
		next, err := s.mutate(ctx, op, orderID, actor, func(o *orders.Order, now time.Time) (*orders.Order, orders.CodeChange, error) {
			next, err := apply(o, s.codeGen(now), now)
			if err != nil {
				return nil, orders.CodeChange{}, err
			}
			return next, orders.CodeChange{Reserve: next.PickupVerificationCode}, nil
		})
		if !errors.Is(err, orders.ErrCodeTaken) {
			return next, err
		}
		log.Printf("[fulfillment] pickup code collision order=%s attempt=%d", orderID, attempt+1)
		lastErr = err
	}
	return nil, fmt.Errorf("generate pickup code for %s: %w", orderID, lastErr)
}

// AssignDeliveryPersonnel sets the courier of a delivery order in processing or
// driver_assigned. The status is left alone.
func (s *Service) AssignDeliveryPersonnel(ctx context.Context, orderID, personnelID, actor string) (*orders.Order, error) {
	courier, err := s.personnel.Get(ctx, personnelID)
	if err != nil {
		return nil, fmt.Errorf("get personnel: %w", err)
	}
	if courier == nil {
		return nil, fmt.Errorf("%w: delivery personnel %s", ErrNotFound, personnelID)
	}
	return s.assign(ctx, orderID, courier, actor)
}

// AutoAssign picks the least loaded active courier with spare capacity, falling back
// to the least loaded active courier, and assigns it.
func (s *Service) AutoAssign(ctx context.Context, orderID, actor string) (*orders.Order, error) {
	couriers, err := s.personnel.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list personnel: %w", err)
	}
	if len(couriers) == 0 {
		return nil, fmt.Errorf("%w: no active delivery personnel", ErrNotFound)
	}
	chosen := &couriers[0]
	for i := range couriers {
		if couriers[i].HasCapacity(s.opts.MaxOpenOrders) {
			chosen = &couriers[i]
			break
		}
	}
	return s.assign(ctx, orderID, chosen, actor)
}

func (s *Service) assign(ctx context.Context, orderID string, courier *personnel.DeliveryPersonnel, actor string) (*orders.Order, error) {
	return s.mutate(ctx, "assign_personnel", orderID, actor, func(o *orders.Order, now time.Time) (*orders.Order, orders.CodeChange, error) {
		next, err := Assign(o, courier.PersonnelID)
		if err != nil {
			return nil, orders.CodeChange{}, err
		}
		var from *orders.Coordinates
		if courier.CurrentLocation != nil {
			from = &orders.Coordinates{Lat: courier.CurrentLocation.Lat, Lng: courier.CurrentLocation.Lng}
		}
		eta := s.estimateDelivery(next, from, now)
		next.EstimatedDeliveryAt = &eta
		return next, orders.CodeChange{}, nil
	})
}

// UpdateLocation records a courier ping for an order in transit. Repeated or stale
// pings are no-ops. An out_for_delivery order that comes within the nearby radius
// of its destination is advanced to nearby in the same write.
func (s *Service) UpdateLocation(ctx context.Context, orderID string, at orders.Coordinates, ts time.Time) (*orders.Order, error) {
	moved := false
	next, err := s.mutate(ctx, "update_location", orderID, SystemActor, func(o *orders.Order, now time.Time) (*orders.Order, orders.CodeChange, error) {
		next, changed, err := ApplyLocation(o, at, ts)
		moved = changed
		if err != nil || !changed {
			return nil, orders.CodeChange{}, err
		}
		if next.Status == orders.StatusOutForDelivery && s.isNearby(next, at) {
			loc := at
			next, err = Advance(next, AdvanceRequest{
				Target:   orders.StatusNearby,
				Actor:    SystemActor,
				Location: &loc,
				Note:     "courier is near the delivery address",
			}, now)
			if err != nil {
				return nil, orders.CodeChange{}, err
			}
		}
		eta := s.estimateDelivery(next, &at, now)
		next.EstimatedDeliveryAt = &eta
		return next, orders.CodeChange{}, nil
	})
	if err != nil {
		return nil, err
	}
	// the courier record only follows pings the order accepted
	if moved && next.DeliveryPersonnelID != "" {
		if err := s.personnel.UpdateLocation(ctx, next.DeliveryPersonnelID, at.Lat, at.Lng, ts); err != nil {
			log.Printf("[fulfillment] courier location update failed personnel=%s: %v", next.DeliveryPersonnelID, err)
		}
	}
	return next, nil
}

// VerifyPickupCode completes a ready pickup order when code matches and returns the receipt.
func (s *Service) VerifyPickupCode(ctx context.Context, orderID, code, staffID string) (*orders.Order, *Receipt, error) {
	var receipt *Receipt
	next, err := s.mutate(ctx, "verify_pickup", orderID, staffID, func(o *orders.Order, now time.Time) (*orders.Order, orders.CodeChange, error) {
		next, r, err := CheckPickupCode(o, code, staffID, now)
		if err != nil {
			return nil, orders.CodeChange{}, err
		}
		receipt = r
		return next, orders.CodeChange{Release: next.PickupVerificationCode}, nil
	})
	if s.metrics != nil && (err == nil || errors.Is(err, ErrCodeMismatch)) {
		outcome := "matched"
		if err != nil {
			outcome = "mismatch"
		}
		if merr := s.metrics.RecordPickupVerification(ctx, outcome); merr != nil {
			log.Printf("[fulfillment] metrics error: %v", merr)
		}
	}
	if err != nil {
		return nil, nil, err
	}
	// the receipt carries the order as written, with its new version
	receipt.Order = next.Clone()
	return next, receipt, nil
}

type mutation func(o *orders.Order, now time.Time) (*orders.Order, orders.CodeChange, error)

// mutate reads the order, applies fn and writes the result conditioned on the version
// that was read. fn returning a nil order means nothing to write. Failures leave the
// stored order untouched.
func (s *Service) mutate(ctx context.Context, op, orderID, actor string, fn mutation) (*orders.Order, error) {
	current, err := s.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	now := s.nowFunc()
	next, change, err := fn(current, now)
	if err != nil {
		return nil, err
	}
	if next == nil {
		return current, nil
	}

	err = s.orders.SaveWithCode(ctx, next, current.Version, change)
	if errors.Is(err, orders.ErrVersionMismatch) {
		log.Printf("[fulfillment] %s lost a race on order=%s version=%d", op, orderID, current.Version)
		if s.metrics != nil {
			if merr := s.metrics.RecordConflict(ctx, op); merr != nil {
				log.Printf("[fulfillment] metrics error: %v", merr)
			}
		}
		return nil, fmt.Errorf("%w: order %s changed while %s was running", ErrConcurrentModification, orderID, op)
	}
	if err != nil {
		return nil, fmt.Errorf("save order: %w", err)
	}

	s.afterWrite(ctx, current, next, actor)
	return next, nil
}

// afterWrite publishes events and metrics. Failures are logged, never returned:
// the order write already happened.
func (s *Service) afterWrite(ctx context.Context, prev, next *orders.Order, actor string) {
	var evs []events.OrderEvent
	base := events.OrderEvent{
		OrderID:         next.OrderID,
		CustomerID:      next.CustomerID,
		FulfillmentType: string(next.FulfillmentType),
		FromStatus:      string(prev.Status),
		ToStatus:        string(next.Status),
		PersonnelID:     next.DeliveryPersonnelID,
		Actor:           actor,
		Version:         next.Version,
		OccurredAt:      next.UpdatedAt,
		CorrelationID:   events.CorrelationID(ctx),
	}
	if prev.DeliveryPersonnelID != next.DeliveryPersonnelID {
		ev := base
		ev.Type = events.TypePersonnelAssigned
		ev.PreviousPersonnelID = prev.DeliveryPersonnelID
		evs = append(evs, ev)
	}
	if prev.Status != next.Status {
		ev := base
		ev.Type = events.TypeStatusChanged
		if last := next.LastHistoryEntry(); last != nil {
			ev.Note = last.Note
		}
		evs = append(evs, ev)

		log.Printf("[fulfillment] order=%s %s -> %s actor=%s", next.OrderID, prev.Status, next.Status, actor)
		if s.metrics != nil {
			if err := s.metrics.RecordTransition(ctx, string(next.FulfillmentType), string(prev.Status), string(next.Status)); err != nil {
				log.Printf("[fulfillment] metrics error: %v", err)
			}
		}
	}

	if s.notifier == nil {
		return
	}
	for _, ev := range evs {
		ev.EventID = events.EventID(ev.OrderID, ev.Version, ev.Type)
		if err := s.notifier.Notify(ctx, ev); err != nil {
			log.Printf("[fulfillment] publish %s failed order=%s: %v", ev.Type, ev.OrderID, err)
		}
	}
}

// refreshEstimates keeps estimated pickup/delivery times current on status changes.
func (s *Service) refreshEstimates(o *orders.Order, target orders.Status, now time.Time) {
	switch {
	case target == orders.StatusProcessing && o.FulfillmentType == orders.FulfillmentPickup:
		eta := now.Add(s.opts.DefaultPickupETA).UTC()
		o.EstimatedPickupAt = &eta
	case target == orders.StatusReadyForPickup:
		ready := now.UTC()
		o.EstimatedPickupAt = &ready
	case target == orders.StatusDriverAssigned && o.EstimatedDeliveryAt == nil:
		eta := s.estimateDelivery(o, nil, now)
		o.EstimatedDeliveryAt = &eta
	}
}

// releaseOnCancel frees the pickup code of a ready order that gets cancelled.
func releaseOnCancel(prev, next *orders.Order) orders.CodeChange {
	if next.Status == orders.StatusCancelled && prev.Status == orders.StatusReadyForPickup && prev.PickupVerificationCode != "" {
		return orders.CodeChange{Release: prev.PickupVerificationCode}
	}
	return orders.CodeChange{}
}
