package services

import (
	"context"

	domain "github.com/fleetworks/api/internal/domain"
	"github.com/fleetworks/api/internal/platform/auth"
	"github.com/fleetworks/api/internal/repositories"
)

// repoError is a test double for the categorised repository error.
type repoError struct {
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e *repoError) Error() string        { return "repository error" }
func (e *repoError) IsNotFound() bool     { return e.notFound }
func (e *repoError) IsConflict() bool     { return e.conflict }
func (e *repoError) IsUnavailable() bool  { return e.unavailable }

var (
	errRepoNotFound    = &repoError{notFound: true}
	errRepoConflict    = &repoError{conflict: true}
	errRepoUnavailable = &repoError{unavailable: true}
)

func testIdentity(email string) *auth.Identity {
	return &auth.Identity{
		UID:   "uid-" + email,
		Email: email,
		Roles: []string{auth.RoleTechnician},
	}
}

type stubWorkOrderRepository struct {
	order     domain.WorkOrder
	err       error
	calls     int
	lastInput string
}

func (s *stubWorkOrderRepository) FindByOrderNumber(ctx context.Context, orderNumber string) (domain.WorkOrder, error) {
	s.calls++
	s.lastInput = orderNumber
	if s.err != nil {
		return domain.WorkOrder{}, s.err
	}
	return s.order, nil
}

type stubCatalogRepository struct {
	entries map[string]domain.ServiceCatalogEntry
	err     error
	calls   int
}

func (s *stubCatalogRepository) FindByTitle(ctx context.Context, title string) (domain.ServiceCatalogEntry, error) {
	s.calls++
	if s.err != nil {
		return domain.ServiceCatalogEntry{}, s.err
	}
	entry, ok := s.entries[title]
	if !ok {
		return domain.ServiceCatalogEntry{}, errRepoNotFound
	}
	return entry, nil
}

type stubReportRepository struct {
	reports map[string]domain.TechnicalReport

	insertErr error
	updateErr error
	deleteErr error
	findErr   error

	insertCalls int
	updateCalls int
	deleteCalls int

	lastInserted domain.TechnicalReport
	lastUpdated  domain.TechnicalReport
}

func newStubReportRepository() *stubReportRepository {
	return &stubReportRepository{reports: make(map[string]domain.TechnicalReport)}
}

func (s *stubReportRepository) Insert(ctx context.Context, report domain.TechnicalReport) error {
	s.insertCalls++
	if s.insertErr != nil {
		return s.insertErr
	}
	if _, exists := s.reports[report.ID]; exists {
		return errRepoConflict
	}
	s.reports[report.ID] = report
	s.lastInserted = report
	return nil
}

func (s *stubReportRepository) Update(ctx context.Context, report domain.TechnicalReport) error {
	s.updateCalls++
	if s.updateErr != nil {
		return s.updateErr
	}
	s.reports[report.ID] = report
	s.lastUpdated = report
	return nil
}

func (s *stubReportRepository) Delete(ctx context.Context, reportID string) error {
	s.deleteCalls++
	if s.deleteErr != nil {
		return s.deleteErr
	}
	delete(s.reports, reportID)
	return nil
}

func (s *stubReportRepository) FindByID(ctx context.Context, reportID string) (domain.TechnicalReport, error) {
	if s.findErr != nil {
		return domain.TechnicalReport{}, s.findErr
	}
	report, ok := s.reports[reportID]
	if !ok {
		return domain.TechnicalReport{}, errRepoNotFound
	}
	return report, nil
}

func (s *stubReportRepository) FindByWorkOrder(ctx context.Context, authorEmail string, workOrderID string) (domain.TechnicalReport, bool, error) {
	if s.findErr != nil {
		return domain.TechnicalReport{}, false, s.findErr
	}
	for _, report := range s.reports {
		if report.AuthorEmail == authorEmail && report.WorkOrderID == workOrderID {
			return report, true, nil
		}
	}
	return domain.TechnicalReport{}, false, nil
}

func (s *stubReportRepository) ListByAuthor(ctx context.Context, authorEmail string, filter repositories.ReportListFilter) (domain.CursorPage[domain.TechnicalReport], error) {
	if s.findErr != nil {
		return domain.CursorPage[domain.TechnicalReport]{}, s.findErr
	}
	var items []domain.TechnicalReport
	for _, report := range s.reports {
		if report.AuthorEmail == authorEmail {
			items = append(items, report)
		}
	}
	return domain.CursorPage[domain.TechnicalReport]{Items: items}, nil
}

type stubEventPublisher struct {
	messages []ReportEventMessage
	err      error
}

func (s *stubEventPublisher) PublishReportEvent(ctx context.Context, message ReportEventMessage) (string, error) {
	s.messages = append(s.messages, message)
	if s.err != nil {
		return "", s.err
	}
	return "msg-1", nil
}

type stubImageService struct {
	uploadURLs   []string
	uploadErr    error
	uploadCalls  int
	lastExisting int
	lastRole     ImageRole
	lastReportID string
	lastAuthorID string

	deleted        []string
	deleteErr      error
	deleteAllCalls int
	deleteAllURLs  []string

	materialized     []ExportImage
	materializeCalls int
}

func (s *stubImageService) UploadBatch(ctx context.Context, authorID string, reportID string, role ImageRole, existing int, files []ImageUpload) ([]string, error) {
	s.uploadCalls++
	s.lastExisting = existing
	s.lastRole = role
	s.lastReportID = reportID
	s.lastAuthorID = authorID
	if s.uploadErr != nil {
		return nil, s.uploadErr
	}
	return s.uploadURLs, nil
}

func (s *stubImageService) Delete(ctx context.Context, url string) error {
	s.deleted = append(s.deleted, url)
	return s.deleteErr
}

func (s *stubImageService) DeleteAll(ctx context.Context, urls []string) {
	s.deleteAllCalls++
	s.deleteAllURLs = append(s.deleteAllURLs, urls...)
}

func (s *stubImageService) Materialize(ctx context.Context, urls []string) []ExportImage {
	s.materializeCalls++
	if s.materialized != nil {
		return s.materialized
	}
	out := make([]ExportImage, len(urls))
	for i := range urls {
		out[i] = ExportImage{Data: []byte("img"), ContentType: "image/png"}
	}
	return out
}

type stubObjectStore struct {
	writeURL   string
	writeErr   error
	writeCalls int
	lastObject string
	lastType   string
	lastData   []byte

	readData []byte
	readType string
	readErr  error

	deleteErr   error
	deleteCalls int

	ownsFn func(string) bool
	object string
}

func (s *stubObjectStore) Write(ctx context.Context, object, contentType string, data []byte) (string, error) {
	s.writeCalls++
	s.lastObject = object
	s.lastType = contentType
	s.lastData = data
	if s.writeErr != nil {
		return "", s.writeErr
	}
	if s.writeURL != "" {
		return s.writeURL, nil
	}
	return "https://storage.googleapis.com/fleet-reports/" + object, nil
}

func (s *stubObjectStore) Read(ctx context.Context, object string) ([]byte, string, error) {
	if s.readErr != nil {
		return nil, "", s.readErr
	}
	return s.readData, s.readType, nil
}

func (s *stubObjectStore) Delete(ctx context.Context, object string) error {
	s.deleteCalls++
	return s.deleteErr
}

func (s *stubObjectStore) Owns(rawURL string) bool {
	if s.ownsFn != nil {
		return s.ownsFn(rawURL)
	}
	return true
}

func (s *stubObjectStore) ObjectFromURL(rawURL string) (string, error) {
	if s.object != "" {
		return s.object, nil
	}
	return "informes/a/b/c.jpg", nil
}
