package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/fleetworks/api/internal/platform/auth"
	"github.com/fleetworks/api/internal/platform/httpx"
	"github.com/fleetworks/api/internal/services"
)

type workOrderResponse struct {
	WorkOrder workOrderPayload `json:"workOrder"`
}

// WorkOrderHandlers exposes read-only access to work orders.
type WorkOrderHandlers struct {
	authn  *auth.Authenticator
	lookup services.WorkOrderLookup
}

// NewWorkOrderHandlers constructs a new WorkOrderHandlers instance.
func NewWorkOrderHandlers(authn *auth.Authenticator, lookup services.WorkOrderLookup) *WorkOrderHandlers {
	return &WorkOrderHandlers{authn: authn, lookup: lookup}
}

// Routes registers the /workorders endpoints.
func (h *WorkOrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Get("/{workOrderID}", h.getWorkOrder)
}

func (h *WorkOrderHandlers) getWorkOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.lookup == nil {
		httpx.WriteError(ctx, w, httpx.NewError("workorder_service_unavailable", "work order service unavailable", http.StatusServiceUnavailable))
		return
	}
	if _, ok := auth.IdentityFromContext(ctx); !ok {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	order, err := h.lookup.Find(ctx, strings.TrimSpace(chi.URLParam(r, "workOrderID")))
	if err != nil {
		writeWorkOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, workOrderResponse{WorkOrder: *buildWorkOrderPayload(order)})
}

func writeWorkOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}

	switch {
	case errors.Is(err, services.ErrWorkOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrWorkOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("workorder_not_found", "work order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrWorkOrderUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("workorder_store_unavailable", "work order store unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "unexpected error", http.StatusInternalServerError))
	}
}
