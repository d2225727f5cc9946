package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fleetworks/api/internal/platform/httpx"
)

const defaultCleanupBatchSize = 200

// IdempotencyCleanupFunc removes expired idempotency records and reports how many went.
type IdempotencyCleanupFunc func(ctx context.Context, now time.Time, limit int) (int, error)

// InternalHandlers exposes server-to-server maintenance endpoints. Callers are
// expected to be authenticated by the middleware guarding the /internal group.
type InternalHandlers struct {
	cleanup   IdempotencyCleanupFunc
	batchSize int
	clock     func() time.Time
}

// InternalOption customises the internal handlers.
type InternalOption func(*InternalHandlers)

// WithIdempotencyCleanup wires the idempotency store cleanup invoked by schedulers.
func WithIdempotencyCleanup(fn IdempotencyCleanupFunc, batchSize int) InternalOption {
	return func(h *InternalHandlers) {
		h.cleanup = fn
		if batchSize > 0 {
			h.batchSize = batchSize
		}
	}
}

// WithInternalClock injects a custom clock primarily for tests.
func WithInternalClock(clock func() time.Time) InternalOption {
	return func(h *InternalHandlers) {
		if clock != nil {
			h.clock = clock
		}
	}
}

// NewInternalHandlers constructs the internal maintenance handlers.
func NewInternalHandlers(opts ...InternalOption) *InternalHandlers {
	h := &InternalHandlers{
		batchSize: defaultCleanupBatchSize,
		clock:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /internal endpoints.
func (h *InternalHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/idempotency:cleanup", h.cleanupIdempotency)
}

func (h *InternalHandlers) cleanupIdempotency(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.cleanup == nil {
		httpx.WriteError(ctx, w, httpx.NewError("cleanup_unavailable", "idempotency cleanup not configured", http.StatusServiceUnavailable))
		return
	}

	removed, err := h.cleanup(ctx, h.clock().UTC(), h.batchSize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("cleanup_failed", "idempotency cleanup failed", http.StatusInternalServerError))
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"removed": removed})
}
