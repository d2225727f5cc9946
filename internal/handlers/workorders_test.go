package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fleetworks/api/internal/services"
)

type stubWorkOrderLookup struct {
	findFn func(context.Context, string) (services.WorkOrder, error)
}

func (s *stubWorkOrderLookup) Find(ctx context.Context, orderNumber string) (services.WorkOrder, error) {
	if s.findFn != nil {
		return s.findFn(ctx, orderNumber)
	}
	return services.WorkOrder{}, errors.New("not implemented")
}

func newWorkOrderRouter(lookup services.WorkOrderLookup) chi.Router {
	router := chi.NewRouter()
	router.Route("/workorders", NewWorkOrderHandlers(nil, lookup).Routes)
	return router
}

func TestWorkOrderHandlersGetWorkOrder(t *testing.T) {
	lookup := &stubWorkOrderLookup{
		findFn: func(ctx context.Context, orderNumber string) (services.WorkOrder, error) {
			if orderNumber != "4097" {
				t.Fatalf("unexpected order number: %s", orderNumber)
			}
			return services.WorkOrder{
				ID:            "4097",
				VehicleID:     "123",
				Technicians:   []string{"Juan Perez"},
				Authorizer:    "Maria Lopez",
				Location:      "Taller Central",
				ServiceTitles: []string{"Cambio de aceite"},
				Subtotal:      120500,
				Total:         143400,
				IssuedAt:      time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC),
			}, nil
		},
	}
	router := newWorkOrderRouter(lookup)

	req := authenticate(httptest.NewRequest(http.MethodGet, "/workorders/4097", nil))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp workOrderResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.WorkOrder.ID != "4097" {
		t.Fatalf("unexpected work order id: %s", resp.WorkOrder.ID)
	}
	if resp.WorkOrder.VehicleID != "Z70-123" {
		t.Fatalf("expected formatted vehicle id, got %s", resp.WorkOrder.VehicleID)
	}
	if resp.WorkOrder.Total != 143400 {
		t.Fatalf("expected total 143400, got %d", resp.WorkOrder.Total)
	}
}

func TestWorkOrderHandlersNotFound(t *testing.T) {
	lookup := &stubWorkOrderLookup{
		findFn: func(context.Context, string) (services.WorkOrder, error) {
			return services.WorkOrder{}, services.ErrWorkOrderNotFound
		},
	}
	router := newWorkOrderRouter(lookup)

	req := authenticate(httptest.NewRequest(http.MethodGet, "/workorders/9999", nil))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected JSON body: %v", err)
	}
	if body["error"] != "workorder_not_found" {
		t.Fatalf("expected workorder_not_found error, got %v", body["error"])
	}
}

func TestWorkOrderHandlersInvalidInput(t *testing.T) {
	lookup := &stubWorkOrderLookup{
		findFn: func(context.Context, string) (services.WorkOrder, error) {
			return services.WorkOrder{}, services.ErrWorkOrderInvalidInput
		},
	}
	router := newWorkOrderRouter(lookup)

	req := authenticate(httptest.NewRequest(http.MethodGet, "/workorders/%20", nil))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestWorkOrderHandlersStoreUnavailable(t *testing.T) {
	lookup := &stubWorkOrderLookup{
		findFn: func(context.Context, string) (services.WorkOrder, error) {
			return services.WorkOrder{}, services.ErrWorkOrderUnavailable
		},
	}
	router := newWorkOrderRouter(lookup)

	req := authenticate(httptest.NewRequest(http.MethodGet, "/workorders/4097", nil))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
}

func TestWorkOrderHandlersRequireIdentity(t *testing.T) {
	router := newWorkOrderRouter(&stubWorkOrderLookup{})

	req := httptest.NewRequest(http.MethodGet, "/workorders/4097", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
}
