package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/oklog/ulid/v2"

	domain "github.com/fleetworks/api/internal/domain"
	"github.com/fleetworks/api/internal/platform/auth"
	"github.com/fleetworks/api/internal/repositories"
)

var (
	// ErrReportInvalidInput indicates the caller supplied invalid report fields.
	ErrReportInvalidInput = errors.New("report: invalid input")
	// ErrReportNotFound indicates the requested report does not exist.
	ErrReportNotFound = errors.New("report: not found")
	// ErrReportConflict indicates a report already exists for the work order and date.
	ErrReportConflict = errors.New("report: already exists")
	// ErrReportOwnership indicates the acting identity is not the report author.
	ErrReportOwnership = errors.New("report: not owned by caller")
	// ErrReportUnauthenticated indicates no usable identity accompanied the request.
	ErrReportUnauthenticated = errors.New("report: unauthenticated")
	// ErrReportUnavailable indicates the report store could not be reached.
	ErrReportUnavailable = errors.New("report: store unavailable")
)

// ReportServiceDeps bundles collaborators required to construct the report service.
type ReportServiceDeps struct {
	Reports repositories.TechnicalReportRepository
	Images  ImageService
	Events  EventPublisher
	Clock   func() time.Time
}

type reportService struct {
	reports   repositories.TechnicalReportRepository
	images    ImageService
	events    EventPublisher
	sanitizer *bluemonday.Policy
	clock     func() time.Time
}

// NewReportService constructs the report lifecycle service.
func NewReportService(deps ReportServiceDeps) (ReportService, error) {
	if deps.Reports == nil {
		return nil, errors.New("report service: report repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &reportService{
		reports:   deps.Reports,
		images:    deps.Images,
		events:    deps.Events,
		sanitizer: bluemonday.StrictPolicy(),
		clock: func() time.Time {
			return clock().UTC()
		},
	}, nil
}

func (s *reportService) CheckDuplicate(ctx context.Context, identity *auth.Identity, workOrderID string) (DuplicateCheck, error) {
	email, err := actingEmail(identity)
	if err != nil {
		return DuplicateCheck{}, err
	}
	workOrderID = strings.TrimSpace(workOrderID)
	if workOrderID == "" {
		return DuplicateCheck{}, fmt.Errorf("%w: work order id is required", ErrReportInvalidInput)
	}

	existing, found, err := s.reports.FindByWorkOrder(ctx, email, workOrderID)
	if err != nil {
		return DuplicateCheck{}, s.mapRepoError(err)
	}
	if !found {
		return DuplicateCheck{}, nil
	}
	return DuplicateCheck{Exists: true, Existing: &existing}, nil
}

func (s *reportService) Create(ctx context.Context, identity *auth.Identity, cmd CreateReportCommand) (TechnicalReport, error) {
	email, err := actingEmail(identity)
	if err != nil {
		return TechnicalReport{}, err
	}
	workOrderID := strings.TrimSpace(cmd.WorkOrder.ID)
	if workOrderID == "" {
		return TechnicalReport{}, fmt.Errorf("%w: work order id is required", ErrReportInvalidInput)
	}
	if strings.TrimSpace(cmd.JobTitle) == "" {
		return TechnicalReport{}, fmt.Errorf("%w: job title is required", ErrReportInvalidInput)
	}
	if strings.TrimSpace(cmd.Technician) == "" {
		return TechnicalReport{}, fmt.Errorf("%w: technician is required", ErrReportInvalidInput)
	}
	if strings.TrimSpace(cmd.Description) == "" {
		return TechnicalReport{}, fmt.Errorf("%w: description is required", ErrReportInvalidInput)
	}

	now := s.clock()
	idDate := cmd.WorkOrder.IssuedAt
	if idDate.IsZero() {
		idDate = now
	}
	duration := cmd.Duration
	if duration.TotalMinutes == 0 {
		duration = cmd.Consolidated.Duration
	}

	report := TechnicalReport{
		ID:              domain.ReportID(workOrderID, idDate),
		WorkOrderID:     workOrderID,
		VehicleID:       domain.FormatVehicleID(cmd.WorkOrder.VehicleID),
		JobTitle:        s.sanitize(cmd.JobTitle),
		Location:        strings.TrimSpace(cmd.WorkOrder.Location),
		Technician:      s.sanitize(cmd.Technician),
		Authorizer:      strings.TrimSpace(cmd.WorkOrder.Authorizer),
		Author:          identity.UID,
		AuthorEmail:     email,
		Description:     s.sanitize(cmd.Description),
		Activities:      s.sanitizeAll(cmd.Consolidated.Descriptions),
		Materials:       s.sanitizeAll(cmd.Consolidated.Materials),
		LaborRoles:      s.sanitizeAll(cmd.Consolidated.LaborRoles),
		Duration:        duration,
		Notes:           s.sanitize(cmd.Notes),
		Recommendations: s.sanitize(cmd.Recommendations),
		Subtotal:        cmd.WorkOrder.Subtotal,
		Total:           cmd.WorkOrder.Total,
		State:           domain.ReportStateActive,
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
		UpdatedBy:       email,
	}

	if err := s.reports.Insert(ctx, report); err != nil {
		if isRepoConflict(err) {
			return TechnicalReport{}, fmt.Errorf("%w: %s", ErrReportConflict, report.ID)
		}
		return TechnicalReport{}, s.mapRepoError(err)
	}

	s.publish(ctx, ReportEventCreated, report)
	return report, nil
}

func (s *reportService) Get(ctx context.Context, identity *auth.Identity, reportID string) (TechnicalReport, error) {
	email, err := actingEmail(identity)
	if err != nil {
		return TechnicalReport{}, err
	}
	return s.fetchOwned(ctx, email, reportID)
}

func (s *reportService) Update(ctx context.Context, identity *auth.Identity, cmd UpdateReportCommand) (TechnicalReport, error) {
	email, err := actingEmail(identity)
	if err != nil {
		return TechnicalReport{}, err
	}
	report, err := s.fetchOwned(ctx, email, cmd.ReportID)
	if err != nil {
		return TechnicalReport{}, err
	}

	if cmd.JobTitle != nil {
		if strings.TrimSpace(*cmd.JobTitle) == "" {
			return TechnicalReport{}, fmt.Errorf("%w: job title cannot be empty", ErrReportInvalidInput)
		}
		report.JobTitle = s.sanitize(*cmd.JobTitle)
	}
	if cmd.Technician != nil {
		if strings.TrimSpace(*cmd.Technician) == "" {
			return TechnicalReport{}, fmt.Errorf("%w: technician cannot be empty", ErrReportInvalidInput)
		}
		report.Technician = s.sanitize(*cmd.Technician)
	}
	if cmd.Description != nil {
		report.Description = s.sanitize(*cmd.Description)
	}
	if cmd.Notes != nil {
		report.Notes = s.sanitize(*cmd.Notes)
	}
	if cmd.Recommendations != nil {
		report.Recommendations = s.sanitize(*cmd.Recommendations)
	}
	if cmd.DurationMinutes != nil {
		if *cmd.DurationMinutes <= 0 {
			return TechnicalReport{}, fmt.Errorf("%w: duration must be positive", ErrReportInvalidInput)
		}
		report.Duration = domain.DurationFromHours(float64(*cmd.DurationMinutes) / 60)
	}

	return s.persistMutation(ctx, email, report)
}

func (s *reportService) Complete(ctx context.Context, identity *auth.Identity, reportID string) (TechnicalReport, error) {
	email, err := actingEmail(identity)
	if err != nil {
		return TechnicalReport{}, err
	}
	report, err := s.fetchOwned(ctx, email, reportID)
	if err != nil {
		return TechnicalReport{}, err
	}
	if report.State == domain.ReportStateCompleted {
		return TechnicalReport{}, fmt.Errorf("%w: report already completed", ErrReportConflict)
	}

	report.State = domain.ReportStateCompleted
	updated, err := s.persistMutation(ctx, email, report)
	if err != nil {
		return TechnicalReport{}, err
	}
	s.publish(ctx, ReportEventCompleted, updated)
	return updated, nil
}

func (s *reportService) Delete(ctx context.Context, identity *auth.Identity, reportID string) error {
	email, err := actingEmail(identity)
	if err != nil {
		return err
	}
	report, err := s.fetchOwned(ctx, email, reportID)
	if err != nil {
		return err
	}

	// Stored objects go first so a half-failed delete leaves the report
	// intact and retryable rather than orphaning its images.
	if s.images != nil {
		s.images.DeleteAll(ctx, report.AllImageURLs())
	}
	if err := s.reports.Delete(ctx, report.ID); err != nil {
		return s.mapRepoError(err)
	}
	s.publish(ctx, ReportEventDeleted, report)
	return nil
}

func (s *reportService) List(ctx context.Context, identity *auth.Identity, filter ReportListFilter) (domain.CursorPage[TechnicalReport], error) {
	email, err := actingEmail(identity)
	if err != nil {
		return domain.CursorPage[TechnicalReport]{}, err
	}
	page, err := s.reports.ListByAuthor(ctx, email, repositories.ReportListFilter{
		States:     filter.States,
		Pagination: filter.Pagination,
	})
	if err != nil {
		return domain.CursorPage[TechnicalReport]{}, s.mapRepoError(err)
	}
	return page, nil
}

func (s *reportService) FindByWorkOrder(ctx context.Context, identity *auth.Identity, workOrderID string) (TechnicalReport, bool, error) {
	check, err := s.CheckDuplicate(ctx, identity, workOrderID)
	if err != nil {
		return TechnicalReport{}, false, err
	}
	if !check.Exists {
		return TechnicalReport{}, false, nil
	}
	return *check.Existing, true, nil
}

func (s *reportService) SetImages(ctx context.Context, identity *auth.Identity, reportID string, role ImageRole, urls []string) (TechnicalReport, error) {
	email, err := actingEmail(identity)
	if err != nil {
		return TechnicalReport{}, err
	}
	if !role.Valid() {
		return TechnicalReport{}, fmt.Errorf("%w: unknown image role %q", ErrReportInvalidInput, role)
	}
	report, err := s.fetchOwned(ctx, email, reportID)
	if err != nil {
		return TechnicalReport{}, err
	}

	set := report.ImagesFor(role)
	combined := append(set.URLs(), urls...)
	if len(combined) == 1 {
		set.SetSingle(combined[0])
	} else {
		set.SetMultiple(combined)
	}
	return s.persistMutation(ctx, email, report)
}

func (s *reportService) RemoveImage(ctx context.Context, identity *auth.Identity, reportID string, url string) (TechnicalReport, error) {
	email, err := actingEmail(identity)
	if err != nil {
		return TechnicalReport{}, err
	}
	url = strings.TrimSpace(url)
	if url == "" {
		return TechnicalReport{}, fmt.Errorf("%w: image url is required", ErrReportInvalidInput)
	}
	report, err := s.fetchOwned(ctx, email, reportID)
	if err != nil {
		return TechnicalReport{}, err
	}

	if !report.Before.Remove(url) && !report.After.Remove(url) {
		return TechnicalReport{}, fmt.Errorf("%w: image url not attached to report", ErrReportInvalidInput)
	}
	if s.images != nil {
		// Best effort: a stale storage object is harmless, a failed report
		// update is not.
		_ = s.images.Delete(ctx, url)
	}
	return s.persistMutation(ctx, email, report)
}

func (s *reportService) fetchOwned(ctx context.Context, email string, reportID string) (TechnicalReport, error) {
	reportID = strings.TrimSpace(reportID)
	if reportID == "" {
		return TechnicalReport{}, fmt.Errorf("%w: report id is required", ErrReportInvalidInput)
	}
	report, err := s.reports.FindByID(ctx, reportID)
	if err != nil {
		return TechnicalReport{}, s.mapRepoError(err)
	}
	if !strings.EqualFold(report.AuthorEmail, email) {
		return TechnicalReport{}, fmt.Errorf("%w: %s", ErrReportOwnership, reportID)
	}
	return report, nil
}

func (s *reportService) persistMutation(ctx context.Context, email string, report TechnicalReport) (TechnicalReport, error) {
	report.Version++
	report.UpdatedAt = s.clock()
	report.UpdatedBy = email
	if err := s.reports.Update(ctx, report); err != nil {
		return TechnicalReport{}, s.mapRepoError(err)
	}
	return report, nil
}

func (s *reportService) publish(ctx context.Context, eventType string, report TechnicalReport) {
	if s.events == nil {
		return
	}
	// Best effort by contract: a lost event never fails the user operation.
	_, _ = s.events.PublishReportEvent(ctx, ReportEventMessage{
		EventID:     ulid.Make().String(),
		Type:        eventType,
		ReportID:    report.ID,
		WorkOrderID: report.WorkOrderID,
		Author:      report.AuthorEmail,
		OccurredAt:  s.clock(),
	})
}

func (s *reportService) sanitize(value string) string {
	return strings.TrimSpace(s.sanitizer.Sanitize(value))
}

func (s *reportService) sanitizeAll(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, 0, len(values))
	for _, value := range values {
		if cleaned := s.sanitize(value); cleaned != "" {
			out = append(out, cleaned)
		}
	}
	return out
}

func (s *reportService) mapRepoError(err error) error {
	switch {
	case isRepoNotFound(err):
		return fmt.Errorf("%w: %v", ErrReportNotFound, err)
	case isRepoConflict(err):
		return fmt.Errorf("%w: %v", ErrReportConflict, err)
	case isRepoUnavailable(err):
		return fmt.Errorf("%w: %v", ErrReportUnavailable, err)
	default:
		return err
	}
}

func actingEmail(identity *auth.Identity) (string, error) {
	if identity == nil {
		return "", ErrReportUnauthenticated
	}
	email := strings.TrimSpace(identity.Email)
	if email == "" {
		return "", fmt.Errorf("%w: identity has no email", ErrReportUnauthenticated)
	}
	return email, nil
}
