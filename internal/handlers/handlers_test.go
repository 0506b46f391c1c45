package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/go-order-fulfillment/internal/events"
	"github.com/imrishuroy/go-order-fulfillment/internal/fulfillment"
	"github.com/imrishuroy/go-order-fulfillment/internal/idempotency"
	"github.com/imrishuroy/go-order-fulfillment/internal/orders"
	"github.com/imrishuroy/go-order-fulfillment/internal/personnel"
	"github.com/imrishuroy/go-order-fulfillment/internal/testutil"
)

type testAPI struct {
	router *gin.Engine
	db     *testutil.Dynamo
	sent   *sentEvents
}

type sentEvents struct {
	mu  sync.Mutex
	evs []events.OrderEvent
}

func (s *sentEvents) Notify(_ context.Context, ev events.OrderEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evs = append(s.evs, ev)
	return nil
}

func (s *sentEvents) last() events.OrderEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.evs[len(s.evs)-1]
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.NewDynamo(map[string]string{
		"orders":       "order_id",
		"pickup-codes": "pickup_code",
		"personnel":    "personnel_id",
		"idempotency":  "idempotency_key",
	})
	orderStore := orders.NewStore(db, "orders", "pickup-codes")
	personnelStore := personnel.NewStore(db, "personnel")
	idempStore := idempotency.NewStore(db, "idempotency", time.Hour)
	sent := &sentEvents{}
	svc := fulfillment.NewService(orderStore, personnelStore, fulfillment.Options{NearbyRadiusMeters: 500, MaxOpenOrders: 2},
		fulfillment.WithIdempotency(idempStore), fulfillment.WithNotifier(sent))

	r := gin.New()
	r.Use(Correlate())
	cfg := HandlerConfig{Service: svc, Idempotency: idempStore, Personnel: personnelStore}
	RegisterOrdersRoutes(r, cfg)
	RegisterPersonnelRoutes(r, cfg)
	return &testAPI{router: r, db: db, sent: sent}
}

func (a *testAPI) do(t *testing.T, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		buf = bytes.NewReader(raw)
	}
	var req *http.Request
	if buf != nil {
		req = httptest.NewRequest(method, path, buf)
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	req.Header.Set(ActorHeader, "staff-1")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func deliveryBody() map[string]interface{} {
	return map[string]interface{}{
		"customer_id": "cust-1",
		"items": []map[string]interface{}{
			{"product_id": "p1", "name": "Pizza", "quantity": 2, "unit_price": 10},
		},
		"subtotal":            20,
		"total":               22.5,
		"fulfillment_type":    "delivery",
		"delivery_address_id": "addr-1",
		"destination":         map[string]float64{"lat": 12.9716, "lng": 77.5946},
	}
}

func pickupBody() map[string]interface{} {
	return map[string]interface{}{
		"customer_id": "cust-2",
		"items": []map[string]interface{}{
			{"product_id": "p2", "name": "Bagel", "quantity": 1, "unit_price": 4},
		},
		"subtotal":         4,
		"total":            4,
		"fulfillment_type": "pickup",
		"pickup_location":  "Main Street Store",
	}
}

func (a *testAPI) createOrder(t *testing.T, body map[string]interface{}, key string) string {
	t.Helper()
	w := a.do(t, http.MethodPost, "/orders", body, map[string]string{"Idempotency-Key": key})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode(t, w)["order_id"].(string)
}

func (a *testAPI) setStatus(t *testing.T, id, status string) *httptest.ResponseRecorder {
	t.Helper()
	return a.do(t, http.MethodPost, "/orders/"+id+"/status", map[string]string{"status": status}, nil)
}

func TestCreateOrder_ReplaysSameKey(t *testing.T) {
	api := newTestAPI(t)
	headers := map[string]string{"Idempotency-Key": "key-1"}

	first := api.do(t, http.MethodPost, "/orders", deliveryBody(), headers)
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())
	body := decode(t, first)
	assert.Equal(t, "pending", body["status"])
	assert.Equal(t, "/orders/"+body["order_id"].(string), first.Header().Get("Location"))

	second := api.do(t, http.MethodPost, "/orders", deliveryBody(), headers)
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.JSONEq(t, first.Body.String(), second.Body.String())
	assert.Equal(t, 1, api.db.Len("orders"))
}

func TestCreateOrder_BadRequests(t *testing.T) {
	api := newTestAPI(t)

	w := api.do(t, http.MethodPost, "/orders", deliveryBody(), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "missing_idempotency_key", decode(t, w)["error"])

	body := deliveryBody()
	body["subtotal"] = 19
	w = api.do(t, http.MethodPost, "/orders", body, map[string]string{"Idempotency-Key": "k"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "validation_failed", decode(t, w)["error"])

	body = pickupBody()
	delete(body, "pickup_location")
	w = api.do(t, http.MethodPost, "/orders", body, map[string]string{"Idempotency-Key": "k"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, 0, api.db.Len("orders"))
}

func TestDeliveryFlow(t *testing.T) {
	api := newTestAPI(t)
	id := api.createOrder(t, deliveryBody(), "k-delivery")

	w := api.do(t, http.MethodPost, "/personnel", map[string]interface{}{
		"personnel_id": "p1", "name": "Ada", "vehicle_type": "scooter",
	}, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	w = api.do(t, http.MethodPost, "/personnel", map[string]interface{}{"personnel_id": "p1", "name": "Ada"}, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	require.Equal(t, http.StatusOK, api.setStatus(t, id, "processing").Code)

	w = api.setStatus(t, id, "driver_assigned")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "missing_assignment", decode(t, w)["error"])

	w = api.do(t, http.MethodPost, "/orders/"+id+"/assign", map[string]string{"personnel_id": "p1"}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "p1", decode(t, w)["delivery_personnel_id"])

	require.Equal(t, http.StatusOK, api.setStatus(t, id, "driver_assigned").Code)

	w = api.setStatus(t, id, "delivered")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	body := decode(t, w)
	assert.Equal(t, "invalid_transition", body["error"])
	assert.Equal(t, []interface{}{"out_for_delivery", "cancelled"}, body["allowed"])

	require.Equal(t, http.StatusOK, api.setStatus(t, id, "out_for_delivery").Code)

	w = api.do(t, http.MethodPost, "/orders/"+id+"/location", map[string]interface{}{
		"lat": 12.9720, "lng": 77.5950, "timestamp": "2026-10-15T10:00:00Z",
	}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "nearby", decode(t, w)["status"])

	w = api.do(t, http.MethodPost, "/orders/"+id+"/location", map[string]interface{}{"lng": 77.5950}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	require.Equal(t, http.StatusOK, api.setStatus(t, id, "delivered").Code)

	w = api.do(t, http.MethodGet, "/orders/"+id, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	got := decode(t, w)
	assert.Equal(t, "delivered", got["status"])
	assert.Len(t, got["status_history"], 6)

	w = api.do(t, http.MethodGet, "/personnel/p1", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotNil(t, decode(t, w)["current_location"])
}

func TestPickupFlow(t *testing.T) {
	api := newTestAPI(t)
	id := api.createOrder(t, pickupBody(), "k-pickup")

	w := api.do(t, http.MethodPost, "/orders/"+id+"/assign", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code, "no couriers registered")

	require.Equal(t, http.StatusOK, api.setStatus(t, id, "processing").Code)

	w = api.do(t, http.MethodPost, "/orders/"+id+"/ready-for-pickup", nil, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	ready := decode(t, w)
	assert.Equal(t, "ready_for_pickup", ready["status"])
	code, _ := ready["pickup_verification_code"].(string)
	assert.Regexp(t, `^PICK\d{9}$`, code)

	w = api.do(t, http.MethodPost, "/orders/"+id+"/pickup-code", nil, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "already_generated", decode(t, w)["error"])

	w = api.setStatus(t, id, "picked_up")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = api.do(t, http.MethodPost, "/orders/"+id+"/verify-pickup", map[string]string{"code": "PICK000000000"}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "code_mismatch", decode(t, w)["error"])

	w = api.do(t, http.MethodPost, "/orders/"+id+"/verify-pickup", map[string]string{"code": code, "staff_id": "staff1"}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	out := decode(t, w)
	assert.Equal(t, "picked_up", out["order"].(map[string]interface{})["status"])
	assert.Equal(t, "staff1", out["receipt"].(map[string]interface{})["verified_by"])
}

func TestNotFound(t *testing.T) {
	api := newTestAPI(t)

	w := api.do(t, http.MethodGet, "/orders/ORD-missing", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_found", decode(t, w)["error"])

	w = api.setStatus(t, "ORD-missing", "processing")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = api.do(t, http.MethodGet, "/personnel/ghost", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func (a *testAPI) addCourier(t *testing.T, id string) {
	t.Helper()
	w := a.do(t, http.MethodPost, "/personnel", map[string]interface{}{"personnel_id": id, "name": "Courier " + id}, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

// chunked sends raw as a body of unknown length, the way a streaming client does.
func (a *testAPI) chunked(t *testing.T, path, raw string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, io.NopCloser(strings.NewReader(raw)))
	req.ContentLength = -1
	req.TransferEncoding = []string{"chunked"}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(ActorHeader, "staff-1")
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func TestOptionalBodies_ChunkedRequests(t *testing.T) {
	api := newTestAPI(t)
	api.addCourier(t, "p1")
	api.addCourier(t, "p2")
	id := api.createOrder(t, deliveryBody(), "k-chunked")
	require.Equal(t, http.StatusOK, api.setStatus(t, id, "processing").Code)

	// auto assignment would pick p1
	w := api.chunked(t, "/orders/"+id+"/assign", `{"personnel_id":"p2"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "p2", decode(t, w)["delivery_personnel_id"])

	w = api.chunked(t, "/orders/"+id+"/assign", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "p1", decode(t, w)["delivery_personnel_id"])

	w = api.chunked(t, "/orders/"+id+"/assign", `{"personnel_id":`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_request_body", decode(t, w)["error"])

	pickup := api.createOrder(t, pickupBody(), "k-chunked-pickup")
	require.Equal(t, http.StatusOK, api.setStatus(t, pickup, "processing").Code)
	w = api.chunked(t, "/orders/"+pickup+"/ready-for-pickup", `{"note":"shelf 3"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	history := decode(t, w)["status_history"].([]interface{})
	assert.Equal(t, "shelf 3", history[len(history)-1].(map[string]interface{})["note"])
}

func TestCourierQueries(t *testing.T) {
	api := newTestAPI(t)
	api.addCourier(t, "p1")
	api.addCourier(t, "p2")

	enRoute := api.createOrder(t, deliveryBody(), "k-1")
	done := api.createOrder(t, deliveryBody(), "k-2")
	for _, id := range []string{enRoute, done} {
		require.Equal(t, http.StatusOK, api.setStatus(t, id, "processing").Code)
		w := api.do(t, http.MethodPost, "/orders/"+id+"/assign", map[string]string{"personnel_id": "p1"}, nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		require.Equal(t, http.StatusOK, api.setStatus(t, id, "driver_assigned").Code)
		require.Equal(t, http.StatusOK, api.setStatus(t, id, "out_for_delivery").Code)
	}
	require.Equal(t, http.StatusOK, api.setStatus(t, done, "delivered").Code)

	ids := func(w *httptest.ResponseRecorder) []string {
		var out []string
		for _, o := range decode(t, w)["orders"].([]interface{}) {
			out = append(out, o.(map[string]interface{})["order_id"].(string))
		}
		return out
	}

	w := api.do(t, http.MethodGet, "/personnel/p1/orders", nil, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, []string{enRoute}, ids(w))

	w = api.do(t, http.MethodGet, "/personnel/p1/orders?state=completed", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{done}, ids(w))

	w = api.do(t, http.MethodGet, "/personnel/p1/orders?state=all", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.ElementsMatch(t, []string{enRoute, done}, ids(w))

	w = api.do(t, http.MethodGet, "/personnel/p2/orders?state=all", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 0, decode(t, w)["count"])

	w = api.do(t, http.MethodGet, "/personnel/p1/orders?state=late", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = api.do(t, http.MethodGet, "/personnel/ghost/orders", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	// open_orders is maintained by the worker; simulate two carried orders for p1
	_, err := personnel.NewStore(api.db, "personnel").AdjustOpenOrders(context.Background(), "p1", 2)
	require.NoError(t, err)

	w = api.do(t, http.MethodGet, "/personnel?available=true", nil, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.EqualValues(t, 1, body["count"])
	assert.Equal(t, "p2", body["personnel"].([]interface{})[0].(map[string]interface{})["personnel_id"])

	w = api.do(t, http.MethodGet, "/personnel", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 2, decode(t, w)["count"])
}

func TestRequestIDBecomesCorrelationID(t *testing.T) {
	api := newTestAPI(t)
	id := api.createOrder(t, deliveryBody(), "k-corr")

	w := api.do(t, http.MethodPost, "/orders/"+id+"/status", map[string]string{"status": "processing"},
		map[string]string{RequestIDHeader: "req-7"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "req-7", w.Header().Get(RequestIDHeader))
	assert.Equal(t, "req-7", api.sent.last().CorrelationID)
}
