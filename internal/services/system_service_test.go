package services

import (
	"context"
	"errors"
	"testing"

	domain "github.com/fleetworks/api/internal/domain"
	"github.com/fleetworks/api/internal/repositories"
)

func TestNewSystemServiceRequiresHealthRepository(t *testing.T) {
	if _, err := NewSystemService(SystemServiceDeps{}); err == nil {
		t.Fatal("expected error when health repository missing")
	}
}

func TestSystemServiceHealth(t *testing.T) {
	checks := []repositories.DependencyCheck{
		{Name: "firestore", Check: func(ctx context.Context) error { return nil }},
		{Name: "storage", Check: func(ctx context.Context) error { return errors.New("bucket unreachable") }},
	}
	health, err := repositories.NewDependencyHealthRepository(checks)
	if err != nil {
		t.Fatalf("NewDependencyHealthRepository: %v", err)
	}
	svc, err := NewSystemService(SystemServiceDeps{Health: health})
	if err != nil {
		t.Fatalf("NewSystemService: %v", err)
	}

	report, err := svc.Health(context.Background())
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if report.Status != domain.HealthStatusDegraded {
		t.Fatalf("expected degraded status, got %q", report.Status)
	}
	if report.Checks["firestore"].Status != domain.HealthStatusOK {
		t.Fatalf("firestore check: %#v", report.Checks["firestore"])
	}
	if report.Checks["storage"].Status != domain.HealthStatusDegraded {
		t.Fatalf("storage check: %#v", report.Checks["storage"])
	}
}
