package services

import (
	"context"
	"errors"
	"time"

	domain "github.com/fleetworks/api/internal/domain"
	"github.com/fleetworks/api/internal/platform/auth"
	"github.com/fleetworks/api/internal/repositories"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination              = domain.Pagination
	WorkOrder               = domain.WorkOrder
	ServiceCatalogEntry     = domain.ServiceCatalogEntry
	ConsolidatedServiceData = domain.ConsolidatedServiceData
	ServiceDuration         = domain.ServiceDuration
	TechnicalReport         = domain.TechnicalReport
	ImageRole               = domain.ImageRole
	ImageSet                = domain.ImageSet
	SystemHealthReport      = domain.SystemHealthReport
)

// WorkOrderLookup resolves work orders by their business id.
type WorkOrderLookup interface {
	Find(ctx context.Context, orderNumber string) (WorkOrder, error)
}

// ServiceConsolidator merges the catalog entries referenced by a work order into
// a single deduplicated bundle. Missing titles fall back to a placeholder entry
// so consolidation always succeeds.
type ServiceConsolidator interface {
	Consolidate(ctx context.Context, serviceTitles []string) (ConsolidatedServiceData, error)
}

// DuplicateCheck reports whether the acting author already filed a report for a work order.
type DuplicateCheck struct {
	Exists   bool
	Existing *TechnicalReport
}

// ReportService owns the technical-report lifecycle: creation under the
// canonical id, ownership-checked mutation, completion, deletion with image
// cascade, and author-scoped queries.
type ReportService interface {
	CheckDuplicate(ctx context.Context, identity *auth.Identity, workOrderID string) (DuplicateCheck, error)
	Create(ctx context.Context, identity *auth.Identity, cmd CreateReportCommand) (TechnicalReport, error)
	Get(ctx context.Context, identity *auth.Identity, reportID string) (TechnicalReport, error)
	Update(ctx context.Context, identity *auth.Identity, cmd UpdateReportCommand) (TechnicalReport, error)
	Complete(ctx context.Context, identity *auth.Identity, reportID string) (TechnicalReport, error)
	Delete(ctx context.Context, identity *auth.Identity, reportID string) error
	List(ctx context.Context, identity *auth.Identity, filter ReportListFilter) (domain.CursorPage[TechnicalReport], error)
	FindByWorkOrder(ctx context.Context, identity *auth.Identity, workOrderID string) (TechnicalReport, bool, error)
	SetImages(ctx context.Context, identity *auth.Identity, reportID string, role ImageRole, urls []string) (TechnicalReport, error)
	RemoveImage(ctx context.Context, identity *auth.Identity, reportID string, url string) (TechnicalReport, error)
}

// CreateReportCommand carries the authored fields for a new report. The canonical
// id, author stamp, state, and version are derived by the service.
type CreateReportCommand struct {
	WorkOrder       WorkOrder
	Consolidated    ConsolidatedServiceData
	JobTitle        string
	Technician      string
	Description     string
	Notes           string
	Recommendations string
	Duration        ServiceDuration
}

// UpdateReportCommand mutates authored fields of an existing report. Nil fields
// keep their stored values.
type UpdateReportCommand struct {
	ReportID        string
	JobTitle        *string
	Technician      *string
	Description     *string
	Notes           *string
	Recommendations *string
	DurationMinutes *int
}

// ReportListFilter narrows author-scoped report listings.
type ReportListFilter struct {
	States     []string
	Pagination Pagination
}

// ImageUpload is one file received for ingestion.
type ImageUpload struct {
	FileName    string
	ContentType string
	Data        []byte
}

// ExportImage is a re-materialized image ready for embedding in a document.
type ExportImage struct {
	Data        []byte
	ContentType string
}

// ImageService validates, stores, deletes, and re-materializes photo evidence.
type ImageService interface {
	// UploadBatch validates every file up front and uploads them concurrently.
	// The returned URLs are storage URLs, or inline data URLs when the store
	// was unreachable. An invalid file or an oversize batch rejects the whole
	// batch before any upload starts.
	UploadBatch(ctx context.Context, authorID string, reportID string, role ImageRole, existing int, files []ImageUpload) ([]string, error)
	// Delete removes a stored object. Inline data URLs, URLs outside the
	// report bucket, and already-absent objects are silent no-ops.
	Delete(ctx context.Context, url string) error
	// DeleteAll best-effort deletes every URL, ignoring individual failures.
	DeleteAll(ctx context.Context, urls []string)
	// Materialize re-fetches stored images sequentially for export. A failed
	// item degrades to a generated placeholder; the method never fails on a
	// per-item basis.
	Materialize(ctx context.Context, urls []string) []ExportImage
}

// ExportResult is the rendered document plus its canonical filename. DownloadURL
// is set when an archived copy with a time-limited link exists.
type ExportResult struct {
	FileName    string
	ContentType string
	Data        []byte
	DownloadURL string
}

// ExportEngine renders a technical report into a paginated PDF.
type ExportEngine interface {
	Export(ctx context.Context, report TechnicalReport) (ExportResult, error)
}

// ReportEventMessage is the payload published on report lifecycle transitions.
type ReportEventMessage struct {
	EventID     string    `json:"eventId"`
	Type        string    `json:"type"`
	ReportID    string    `json:"reportId"`
	WorkOrderID string    `json:"workOrderId"`
	Author      string    `json:"author"`
	OccurredAt  time.Time `json:"occurredAt"`
}

// Report lifecycle event types.
const (
	ReportEventCreated   = "report.created"
	ReportEventCompleted = "report.completed"
	ReportEventDeleted   = "report.deleted"
)

// EventPublisher emits report lifecycle events. Publishing is best-effort and
// must never block or fail the user operation.
type EventPublisher interface {
	PublishReportEvent(ctx context.Context, message ReportEventMessage) (string, error)
}

// BuildInfo identifies the running binary for the health endpoints.
type BuildInfo struct {
	Version     string
	CommitSHA   string
	Environment string
	StartedAt   time.Time
}

// SystemService aggregates dependency health for liveness/readiness endpoints.
type SystemService interface {
	Health(ctx context.Context) (SystemHealthReport, error)
}

func isRepoNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

func isRepoConflict(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsConflict()
}

func isRepoUnavailable(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsUnavailable()
}
