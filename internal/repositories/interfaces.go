package repositories

import (
	"context"
	"time"

	domain "github.com/fleetworks/api/internal/domain"
)

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// WorkOrderRepository reads work orders owned by the external work-order subsystem.
type WorkOrderRepository interface {
	// FindByOrderNumber resolves a work order by its business id. The id may be
	// persisted as a string or a number; implementations try both.
	FindByOrderNumber(ctx context.Context, orderNumber string) (domain.WorkOrder, error)
}

// ServiceCatalogRepository resolves reusable service descriptions by exact title.
type ServiceCatalogRepository interface {
	FindByTitle(ctx context.Context, title string) (domain.ServiceCatalogEntry, error)
}

// TechnicalReportRepository persists technical reports keyed by their canonical id.
type TechnicalReportRepository interface {
	// Insert creates the report document. The canonical id is used as the
	// document key, so a second report for the same work order and date fails
	// with a conflict.
	Insert(ctx context.Context, report domain.TechnicalReport) error
	Update(ctx context.Context, report domain.TechnicalReport) error
	Delete(ctx context.Context, reportID string) error
	FindByID(ctx context.Context, reportID string) (domain.TechnicalReport, error)
	// FindByWorkOrder returns the report authored for the work order by the
	// given author, if any.
	FindByWorkOrder(ctx context.Context, authorEmail string, workOrderID string) (domain.TechnicalReport, bool, error)
	ListByAuthor(ctx context.Context, authorEmail string, filter ReportListFilter) (domain.CursorPage[domain.TechnicalReport], error)
}

// ReportListFilter narrows author-scoped report listings.
type ReportListFilter struct {
	States     []string
	Pagination domain.Pagination
}

// HealthRepository exposes status of downstream dependencies for readiness checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}

// DependencyCheck describes a dependency probe executed during readiness checks.
type DependencyCheck struct {
	Name    string
	Timeout time.Duration
	Check   func(context.Context) error
}
