package services

import (
	"context"
	"errors"
	"reflect"
	"testing"

	domain "github.com/fleetworks/api/internal/domain"
)

func testCatalog() map[string]domain.ServiceCatalogEntry {
	return map[string]domain.ServiceCatalogEntry{
		"Cambio de aceite": {
			Title:         "Cambio de aceite",
			Description:   "Drenaje y cambio de aceite de motor",
			Materials:     "Aceite 15W40, Filtro de aceite",
			LaborRole:     "Mecánico",
			DurationHours: 1.5,
		},
		"Lubricación general": {
			Title:         "Lubricación general",
			Description:   "Lubricación de puntos de engrase",
			Materials:     "Grasa multiuso, aceite 15w40",
			LaborRole:     "mecanico",
			DurationHours: 1,
		},
	}
}

func TestNewServiceConsolidatorRequiresCatalog(t *testing.T) {
	if _, err := NewServiceConsolidator(ServiceConsolidatorDeps{}); err == nil {
		t.Fatal("expected error when catalog missing")
	}
}

func TestConsolidate(t *testing.T) {
	t.Run("merges and deduplicates entries", func(t *testing.T) {
		svc, _ := NewServiceConsolidator(ServiceConsolidatorDeps{
			Catalog: &stubCatalogRepository{entries: testCatalog()},
		})

		got, err := svc.Consolidate(context.Background(), []string{"Cambio de aceite", "Lubricación general"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		wantDescriptions := []string{
			"Drenaje y cambio de aceite de motor",
			"Lubricación de puntos de engrase",
		}
		if !reflect.DeepEqual(got.Descriptions, wantDescriptions) {
			t.Fatalf("descriptions: got %#v", got.Descriptions)
		}
		// "aceite 15w40" folds into "Aceite 15W40" and "mecanico" into "Mecánico".
		wantMaterials := []string{"Aceite 15W40", "Filtro de aceite", "Grasa multiuso"}
		if !reflect.DeepEqual(got.Materials, wantMaterials) {
			t.Fatalf("materials: got %#v", got.Materials)
		}
		if !reflect.DeepEqual(got.LaborRoles, []string{"Mecánico"}) {
			t.Fatalf("labor roles: got %#v", got.LaborRoles)
		}
		if got.Duration.Hours != 2 || got.Duration.Minutes != 30 || got.Duration.TotalMinutes != 150 {
			t.Fatalf("duration: got %+v", got.Duration)
		}
	})

	t.Run("is deterministic for a fixed catalog", func(t *testing.T) {
		svc, _ := NewServiceConsolidator(ServiceConsolidatorDeps{
			Catalog: &stubCatalogRepository{entries: testCatalog()},
		})
		titles := []string{"Lubricación general", "Cambio de aceite"}

		first, err := svc.Consolidate(context.Background(), titles)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		second, err := svc.Consolidate(context.Background(), titles)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !reflect.DeepEqual(first, second) {
			t.Fatalf("expected identical results, got %#v vs %#v", first, second)
		}
	})

	t.Run("missing title falls back without a description", func(t *testing.T) {
		svc, _ := NewServiceConsolidator(ServiceConsolidatorDeps{
			Catalog: &stubCatalogRepository{entries: testCatalog()},
		})

		got, err := svc.Consolidate(context.Background(), []string{"Cambio de aceite", "Servicio inexistente"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if len(got.Descriptions) != 1 {
			t.Fatalf("fallback description must be excluded, got %#v", got.Descriptions)
		}
		found := false
		for _, role := range got.LaborRoles {
			if role == domain.FallbackLaborRole {
				found = true
			}
		}
		if !found {
			t.Fatalf("fallback labor role must merge, got %#v", got.LaborRoles)
		}
		// 1.5h catalog + 1h fallback.
		if got.Duration.TotalMinutes != 150 {
			t.Fatalf("expected 150 total minutes, got %d", got.Duration.TotalMinutes)
		}
	})

	t.Run("rejects empty and oversized title lists", func(t *testing.T) {
		svc, _ := NewServiceConsolidator(ServiceConsolidatorDeps{
			Catalog: &stubCatalogRepository{entries: testCatalog()},
		})

		if _, err := svc.Consolidate(context.Background(), nil); !errors.Is(err, ErrConsolidationInvalidInput) {
			t.Fatalf("expected ErrConsolidationInvalidInput for empty list, got %v", err)
		}
		tooMany := []string{"a", "b", "c", "d", "e", "f"}
		if _, err := svc.Consolidate(context.Background(), tooMany); !errors.Is(err, ErrConsolidationInvalidInput) {
			t.Fatalf("expected ErrConsolidationInvalidInput for six titles, got %v", err)
		}
	})

	t.Run("maps catalog outage", func(t *testing.T) {
		svc, _ := NewServiceConsolidator(ServiceConsolidatorDeps{
			Catalog: &stubCatalogRepository{err: errRepoUnavailable},
		})

		if _, err := svc.Consolidate(context.Background(), []string{"Cambio de aceite"}); !errors.Is(err, ErrConsolidationUnavailable) {
			t.Fatalf("expected ErrConsolidationUnavailable, got %v", err)
		}
	})
}
