package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"

	"github.com/imrishuroy/go-order-fulfillment/internal/fulfillment"
	"github.com/imrishuroy/go-order-fulfillment/internal/idempotency"
	"github.com/imrishuroy/go-order-fulfillment/internal/orders"
	"github.com/imrishuroy/go-order-fulfillment/internal/personnel"
	"github.com/imrishuroy/go-order-fulfillment/internal/validation"
)

// ActorHeader carries the id of the customer, staff member or courier making the call.
const ActorHeader = "X-Actor-Id"

// HandlerConfig groups dependencies for the order and personnel handlers.
type HandlerConfig struct {
	Service     *fulfillment.Service
	Idempotency *idempotency.Store
	Personnel   *personnel.Store
}

type ordersHandler struct {
	svc   *fulfillment.Service
	idemp *idempotency.Store
	v     *validatorv10.Validate
}

// RegisterOrdersRoutes registers routes for the order API.
func RegisterOrdersRoutes(r *gin.Engine, cfg HandlerConfig) {
	h := &ordersHandler{svc: cfg.Service, idemp: cfg.Idempotency, v: validation.New()}

	r.POST("/orders", h.create)
	r.GET("/orders/:id", h.get)
	r.POST("/orders/:id/status", h.advance)
	r.POST("/orders/:id/assign", h.assign)
	r.POST("/orders/:id/location", h.location)
	r.POST("/orders/:id/ready-for-pickup", h.readyForPickup)
	r.POST("/orders/:id/pickup-code", h.pickupCode)
	r.POST("/orders/:id/verify-pickup", h.verifyPickup)
}

func (h *ordersHandler) create(c *gin.Context) {
	ctx := c.Request.Context()

	// Bind + validate request
	var req validation.CreateOrderRequest
	if err := validation.BindAndValidate(c, &req, h.v); err != nil {
		// BindAndValidate already wrote a 400
		return
	}

	// Require idempotency key header
	idempKey := c.GetHeader("Idempotency-Key")
	if idempKey == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing_idempotency_key"})
		return
	}

	order, err := h.svc.CreateOrder(ctx, newOrderFrom(req, idempKey))
	if errors.Is(err, fulfillment.ErrDuplicateRequest) {
		h.replay(c, idempKey)
		return
	}
	if err != nil {
		writeError(c, err)
		return
	}

	// store the response so retries with the same key get it back
	responseBody, _ := json.Marshal(order)
	if err := h.idemp.MarkDone(ctx, idempKey, string(responseBody), http.StatusCreated); err != nil {
		log.Printf("[api] mark idempotency done failed key=%s: %v", idempKey, err)
	}

	c.Header("Location", fmt.Sprintf("/orders/%s", order.OrderID))
	c.Data(http.StatusCreated, "application/json", responseBody)
}

// replay answers a repeated Idempotency-Key from the stored record.
func (h *ordersHandler) replay(c *gin.Context, idempKey string) {
	rec, err := h.idemp.Get(c.Request.Context(), idempKey)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "idempotency_check_failed", "detail": err.Error()})
		return
	}
	if rec == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "transaction_failed_no_idempotency_record"})
		return
	}
	switch rec.Status {
	case idempotency.StatusDone:
		if rec.ResponseBody != "" && json.Valid([]byte(rec.ResponseBody)) {
			c.Data(rec.ResponseStatus, "application/json", []byte(rec.ResponseBody))
			return
		}
		c.JSON(http.StatusOK, gin.H{"order_id": rec.OrderID})
	case idempotency.StatusInProgress:
		c.JSON(http.StatusAccepted, gin.H{"message": "request already in progress", "order_id": rec.OrderID})
	case idempotency.StatusFailed:
		// let client retry
		c.JSON(http.StatusInternalServerError, gin.H{"error": "previous_attempt_failed", "order_id": rec.OrderID})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "unknown_idempotency_status"})
	}
}

func (h *ordersHandler) get(c *gin.Context) {
	order, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *ordersHandler) advance(c *gin.Context) {
	var req validation.AdvanceStatusRequest
	if err := validation.BindAndValidate(c, &req, h.v); err != nil {
		return
	}
	order, err := h.svc.AdvanceStatus(c.Request.Context(), c.Param("id"), fulfillment.AdvanceRequest{
		Target:   orders.Status(req.Status),
		Actor:    c.GetHeader(ActorHeader),
		Location: toCoordinates(req.Location),
		Note:     req.Note,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *ordersHandler) assign(c *gin.Context) {
	var req validation.AssignRequest
	if err := validation.BindOptionalAndValidate(c, &req, h.v); err != nil {
		return
	}
	ctx := c.Request.Context()
	actor := c.GetHeader(ActorHeader)

	var (
		order *orders.Order
		err   error
	)
	if req.PersonnelID == "" {
		order, err = h.svc.AutoAssign(ctx, c.Param("id"), actor)
	} else {
		order, err = h.svc.AssignDeliveryPersonnel(ctx, c.Param("id"), req.PersonnelID, actor)
	}
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *ordersHandler) location(c *gin.Context) {
	var req validation.LocationUpdateRequest
	if err := validation.BindAndValidate(c, &req, h.v); err != nil {
		return
	}
	ts := time.Now().UTC()
	if req.Timestamp != nil {
		ts = req.Timestamp.UTC()
	}
	order, err := h.svc.UpdateLocation(c.Request.Context(), c.Param("id"), *toCoordinates(&req.Coordinates), ts)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *ordersHandler) readyForPickup(c *gin.Context) {
	var req validation.ReadyForPickupRequest
	if err := validation.BindOptionalAndValidate(c, &req, h.v); err != nil {
		return
	}
	order, err := h.svc.MarkReadyForPickup(c.Request.Context(), c.Param("id"), c.GetHeader(ActorHeader), req.Note)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *ordersHandler) pickupCode(c *gin.Context) {
	order, err := h.svc.GeneratePickupVerificationCode(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"order_id": order.OrderID, "pickup_verification_code": order.PickupVerificationCode})
}

func (h *ordersHandler) verifyPickup(c *gin.Context) {
	var req validation.VerifyPickupRequest
	if err := validation.BindAndValidate(c, &req, h.v); err != nil {
		return
	}
	staffID := req.StaffID
	if staffID == "" {
		staffID = c.GetHeader(ActorHeader)
	}
	if staffID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing_staff_id"})
		return
	}
	order, receipt, err := h.svc.VerifyPickupCode(c.Request.Context(), c.Param("id"), req.Code, staffID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": order, "receipt": receipt})
}

func newOrderFrom(req validation.CreateOrderRequest, idempKey string) fulfillment.NewOrder {
	items := make([]orders.LineItem, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, orders.LineItem{
			ProductID: it.ProductID,
			Name:      it.Name,
			Image:     it.Image,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
		})
	}
	return fulfillment.NewOrder{
		CustomerID:         req.CustomerID,
		Items:              items,
		Subtotal:           req.Subtotal,
		Total:              req.Total,
		PaymentID:          req.PaymentID,
		PaymentStatus:      req.PaymentStatus,
		FulfillmentType:    orders.FulfillmentType(req.FulfillmentType),
		PickupLocation:     req.PickupLocation,
		PickupInstructions: req.PickupInstructions,
		DeliveryAddressID:  req.DeliveryAddressID,
		Destination:        toCoordinates(req.Destination),
		IdempotencyKey:     idempKey,
	}
}

func toCoordinates(c *validation.Coordinates) *orders.Coordinates {
	if c == nil {
		return nil
	}
	return &orders.Coordinates{Lat: validation.Float(c.Lat), Lng: validation.Float(c.Lng)}
}
