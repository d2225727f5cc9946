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
)

func TestInternalHandlersCleanupIdempotency(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	var gotNow time.Time
	var gotLimit int
	handlers := NewInternalHandlers(
		WithIdempotencyCleanup(func(ctx context.Context, at time.Time, limit int) (int, error) {
			gotNow = at
			gotLimit = limit
			return 7, nil
		}, 50),
		WithInternalClock(func() time.Time { return now }),
	)
	router := chi.NewRouter()
	router.Route("/internal", handlers.Routes)

	req := httptest.NewRequest(http.MethodPost, "/internal/idempotency:cleanup", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if !gotNow.Equal(now) || gotLimit != 50 {
		t.Fatalf("unexpected cleanup call: %s %d", gotNow, gotLimit)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected JSON body: %v", err)
	}
	if body["removed"] != float64(7) {
		t.Fatalf("expected 7 removed, got %v", body["removed"])
	}
}

func TestInternalHandlersCleanupFailure(t *testing.T) {
	handlers := NewInternalHandlers(
		WithIdempotencyCleanup(func(context.Context, time.Time, int) (int, error) {
			return 0, errors.New("store offline")
		}, 0),
	)
	router := chi.NewRouter()
	router.Route("/internal", handlers.Routes)

	req := httptest.NewRequest(http.MethodPost, "/internal/idempotency:cleanup", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected status 500, got %d", rr.Code)
	}
}

func TestInternalHandlersCleanupNotConfigured(t *testing.T) {
	router := chi.NewRouter()
	router.Route("/internal", NewInternalHandlers().Routes)

	req := httptest.NewRequest(http.MethodPost, "/internal/idempotency:cleanup", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
}
