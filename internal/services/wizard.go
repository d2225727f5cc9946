package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/fleetworks/api/internal/domain"
	"github.com/fleetworks/api/internal/platform/auth"
)

// WizardStep is one stage of the report-authoring flow.
type WizardStep string

const (
	StepSearch    WizardStep = "SEARCH"
	StepReview    WizardStep = "REVIEW"
	StepForm      WizardStep = "FORM"
	StepImages    WizardStep = "IMAGES"
	StepPreview   WizardStep = "PREVIEW"
	StepCompleted WizardStep = "COMPLETED"
)

var (
	// ErrWizardNotFound indicates the session does not exist or expired.
	ErrWizardNotFound = errors.New("wizard: session not found")
	// ErrWizardInvalidInput indicates a step payload failed validation.
	ErrWizardInvalidInput = errors.New("wizard: invalid input")
	// ErrWizardInvalidTransition indicates the requested move is not legal from the current step.
	ErrWizardInvalidTransition = errors.New("wizard: invalid transition")
	// ErrWizardOwnership indicates the session belongs to a different author.
	ErrWizardOwnership = errors.New("wizard: session not owned by caller")
)

const (
	defaultSessionTTL  = 4 * time.Hour
	maxDurationMinutes = 24 * 60
)

// ReportForm carries the author-entered fields collected at the FORM step.
type ReportForm struct {
	JobTitle        string
	Technician      string
	Description     string
	Notes           string
	Recommendations string
	DurationMinutes int
}

// WizardSession is a snapshot of one authoring attempt.
type WizardSession struct {
	ID           string
	Owner        string
	Step         WizardStep
	WorkOrder    *WorkOrder
	Consolidated *ConsolidatedServiceData
	Duplicate    *DuplicateCheck
	Form         *ReportForm
	BeforeURLs   []string
	AfterURLs    []string
	Report       *TechnicalReport
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// WizardService drives the report-authoring state machine. One session exists
// per authoring attempt; transitions are serialized per session.
type WizardService interface {
	Start(ctx context.Context, identity *auth.Identity) (WizardSession, error)
	Get(ctx context.Context, identity *auth.Identity, sessionID string) (WizardSession, error)
	Search(ctx context.Context, identity *auth.Identity, sessionID string, orderNumber string) (WizardSession, error)
	Advance(ctx context.Context, identity *auth.Identity, sessionID string, form *ReportForm) (WizardSession, error)
	Back(ctx context.Context, identity *auth.Identity, sessionID string) (WizardSession, error)
	AttachImages(ctx context.Context, identity *auth.Identity, sessionID string, role ImageRole, files []ImageUpload) (WizardSession, error)
	Save(ctx context.Context, identity *auth.Identity, sessionID string) (TechnicalReport, error)
	Abandon(ctx context.Context, identity *auth.Identity, sessionID string) error
}

// WizardServiceDeps bundles collaborators for the wizard.
type WizardServiceDeps struct {
	Lookup       WorkOrderLookup
	Consolidator ServiceConsolidator
	Reports      ReportService
	Images       ImageService
	SessionTTL   time.Duration
	Clock        func() time.Time
}

type wizardSession struct {
	mu   sync.Mutex
	data WizardSession
}

type wizardService struct {
	lookup       WorkOrderLookup
	consolidator ServiceConsolidator
	reports      ReportService
	images       ImageService
	ttl          time.Duration
	clock        func() time.Time

	mu       sync.RWMutex
	sessions map[string]*wizardSession
}

// NewWizardService constructs the in-process wizard session service.
func NewWizardService(deps WizardServiceDeps) (WizardService, error) {
	if deps.Lookup == nil {
		return nil, errors.New("wizard service: work order lookup is required")
	}
	if deps.Consolidator == nil {
		return nil, errors.New("wizard service: consolidator is required")
	}
	if deps.Reports == nil {
		return nil, errors.New("wizard service: report service is required")
	}
	if deps.Images == nil {
		return nil, errors.New("wizard service: image service is required")
	}
	ttl := deps.SessionTTL
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &wizardService{
		lookup:       deps.Lookup,
		consolidator: deps.Consolidator,
		reports:      deps.Reports,
		images:       deps.Images,
		ttl:          ttl,
		clock: func() time.Time {
			return clock().UTC()
		},
		sessions: make(map[string]*wizardSession),
	}, nil
}

func (s *wizardService) Start(ctx context.Context, identity *auth.Identity) (WizardSession, error) {
	email, err := actingEmail(identity)
	if err != nil {
		return WizardSession{}, err
	}
	now := s.clock()
	session := &wizardSession{
		data: WizardSession{
			ID:        ulid.Make().String(),
			Owner:     email,
			Step:      StepSearch,
			CreatedAt: now,
			UpdatedAt: now,
		},
	}

	s.mu.Lock()
	s.pruneExpiredLocked(now)
	s.sessions[session.data.ID] = session
	s.mu.Unlock()

	return session.data, nil
}

func (s *wizardService) Get(ctx context.Context, identity *auth.Identity, sessionID string) (WizardSession, error) {
	session, err := s.acquire(identity, sessionID)
	if err != nil {
		return WizardSession{}, err
	}
	defer session.mu.Unlock()
	return snapshot(session.data), nil
}

func (s *wizardService) Search(ctx context.Context, identity *auth.Identity, sessionID string, orderNumber string) (WizardSession, error) {
	session, err := s.acquire(identity, sessionID)
	if err != nil {
		return WizardSession{}, err
	}
	defer session.mu.Unlock()

	if session.data.Step != StepSearch {
		return WizardSession{}, fmt.Errorf("%w: search only allowed from %s", ErrWizardInvalidTransition, StepSearch)
	}

	duplicate, err := s.reports.CheckDuplicate(ctx, identity, orderNumber)
	if err != nil && !errors.Is(err, ErrReportInvalidInput) {
		return WizardSession{}, err
	}
	if duplicate.Exists {
		// A hit blocks the search outright; the session stays at SEARCH so
		// the author can try another work order.
		session.data.Duplicate = &duplicate
		session.data.UpdatedAt = s.clock()
		existingID := ""
		if duplicate.Existing != nil {
			existingID = duplicate.Existing.ID
		}
		return WizardSession{}, fmt.Errorf("%w: report %s already covers work order %s", ErrReportConflict, existingID, strings.TrimSpace(orderNumber))
	}

	order, err := s.lookup.Find(ctx, orderNumber)
	if err != nil {
		if errors.Is(err, ErrWorkOrderInvalidInput) {
			return WizardSession{}, fmt.Errorf("%w: %v", ErrWizardInvalidInput, err)
		}
		return WizardSession{}, err
	}

	consolidated, err := s.consolidator.Consolidate(ctx, order.ServiceTitles)
	if err != nil {
		if errors.Is(err, ErrConsolidationInvalidInput) {
			consolidated = ConsolidatedServiceData{}
		} else {
			return WizardSession{}, err
		}
	}

	session.data.WorkOrder = &order
	session.data.Consolidated = &consolidated
	session.data.Duplicate = &duplicate
	session.data.Step = StepReview
	session.data.UpdatedAt = s.clock()
	return snapshot(session.data), nil
}

func (s *wizardService) Advance(ctx context.Context, identity *auth.Identity, sessionID string, form *ReportForm) (WizardSession, error) {
	session, err := s.acquire(identity, sessionID)
	if err != nil {
		return WizardSession{}, err
	}
	defer session.mu.Unlock()

	switch session.data.Step {
	case StepReview:
		session.data.Step = StepForm
	case StepForm:
		if form == nil {
			return WizardSession{}, fmt.Errorf("%w: form payload is required", ErrWizardInvalidInput)
		}
		if err := validateReportForm(*form); err != nil {
			return WizardSession{}, err
		}
		cleaned := *form
		session.data.Form = &cleaned
		session.data.Step = StepImages
	case StepImages:
		session.data.Step = StepPreview
	default:
		return WizardSession{}, fmt.Errorf("%w: cannot advance from %s", ErrWizardInvalidTransition, session.data.Step)
	}

	session.data.UpdatedAt = s.clock()
	return snapshot(session.data), nil
}

func (s *wizardService) Back(ctx context.Context, identity *auth.Identity, sessionID string) (WizardSession, error) {
	session, err := s.acquire(identity, sessionID)
	if err != nil {
		return WizardSession{}, err
	}
	defer session.mu.Unlock()

	switch session.data.Step {
	case StepPreview:
		session.data.Step = StepImages
	case StepImages:
		session.data.Step = StepForm
	case StepForm:
		session.data.Step = StepReview
	case StepReview:
		// Back to search is a hard reset: every collected artifact goes.
		resetSession(&session.data)
	case StepCompleted:
		// The saved report lives on its own; backing out of COMPLETED starts
		// the next authoring attempt from a clean SEARCH.
		resetSession(&session.data)
	default:
		return WizardSession{}, fmt.Errorf("%w: cannot go back from %s", ErrWizardInvalidTransition, session.data.Step)
	}

	session.data.UpdatedAt = s.clock()
	return snapshot(session.data), nil
}

func (s *wizardService) AttachImages(ctx context.Context, identity *auth.Identity, sessionID string, role ImageRole, files []ImageUpload) (WizardSession, error) {
	session, err := s.acquire(identity, sessionID)
	if err != nil {
		return WizardSession{}, err
	}
	defer session.mu.Unlock()

	if session.data.Step != StepImages {
		return WizardSession{}, fmt.Errorf("%w: images only accepted at %s", ErrWizardInvalidTransition, StepImages)
	}
	if !role.Valid() {
		return WizardSession{}, fmt.Errorf("%w: unknown image role %q", ErrWizardInvalidInput, role)
	}
	if session.data.WorkOrder == nil {
		return WizardSession{}, fmt.Errorf("%w: no work order attached to session", ErrWizardInvalidTransition)
	}

	existing := session.data.BeforeURLs
	if role == domain.ImageRoleAfter {
		existing = session.data.AfterURLs
	}

	// Objects are namespaced by the author uid, matching the stamp the
	// report itself carries.
	reportID := domain.ReportID(session.data.WorkOrder.ID, s.reportDate(session.data.WorkOrder))
	urls, err := s.images.UploadBatch(ctx, identity.UID, reportID, role, len(existing), files)
	if err != nil {
		if errors.Is(err, ErrImageInvalidInput) {
			return WizardSession{}, fmt.Errorf("%w: %v", ErrWizardInvalidInput, err)
		}
		return WizardSession{}, err
	}

	if role == domain.ImageRoleAfter {
		session.data.AfterURLs = append(session.data.AfterURLs, urls...)
	} else {
		session.data.BeforeURLs = append(session.data.BeforeURLs, urls...)
	}
	session.data.UpdatedAt = s.clock()
	return snapshot(session.data), nil
}

func (s *wizardService) Save(ctx context.Context, identity *auth.Identity, sessionID string) (TechnicalReport, error) {
	session, err := s.acquire(identity, sessionID)
	if err != nil {
		return TechnicalReport{}, err
	}
	defer session.mu.Unlock()

	if session.data.Step != StepPreview {
		return TechnicalReport{}, fmt.Errorf("%w: save only allowed from %s", ErrWizardInvalidTransition, StepPreview)
	}
	if session.data.WorkOrder == nil || session.data.Form == nil {
		return TechnicalReport{}, fmt.Errorf("%w: session is missing work order or form data", ErrWizardInvalidTransition)
	}

	form := *session.data.Form
	consolidated := ConsolidatedServiceData{}
	if session.data.Consolidated != nil {
		consolidated = *session.data.Consolidated
	}
	duration := consolidated.Duration
	if form.DurationMinutes > 0 {
		duration = domain.DurationFromHours(float64(form.DurationMinutes) / 60)
	}

	report, err := s.reports.Create(ctx, identity, CreateReportCommand{
		WorkOrder:       *session.data.WorkOrder,
		Consolidated:    consolidated,
		JobTitle:        form.JobTitle,
		Technician:      form.Technician,
		Description:     form.Description,
		Notes:           form.Notes,
		Recommendations: form.Recommendations,
		Duration:        duration,
	})
	if err != nil {
		return TechnicalReport{}, err
	}

	if len(session.data.BeforeURLs) > 0 {
		if updated, err := s.reports.SetImages(ctx, identity, report.ID, domain.ImageRoleBefore, session.data.BeforeURLs); err == nil {
			report = updated
		}
	}
	if len(session.data.AfterURLs) > 0 {
		if updated, err := s.reports.SetImages(ctx, identity, report.ID, domain.ImageRoleAfter, session.data.AfterURLs); err == nil {
			report = updated
		}
	}

	session.data.Report = &report
	session.data.Step = StepCompleted
	session.data.UpdatedAt = s.clock()
	return report, nil
}

func (s *wizardService) Abandon(ctx context.Context, identity *auth.Identity, sessionID string) error {
	session, err := s.acquire(identity, sessionID)
	if err != nil {
		return err
	}
	session.mu.Unlock()

	s.mu.Lock()
	delete(s.sessions, strings.TrimSpace(sessionID))
	s.mu.Unlock()
	return nil
}

func (s *wizardService) acquire(identity *auth.Identity, sessionID string) (*wizardSession, error) {
	email, err := actingEmail(identity)
	if err != nil {
		return nil, err
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, fmt.Errorf("%w: session id is required", ErrWizardInvalidInput)
	}

	s.mu.RLock()
	session, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrWizardNotFound, sessionID)
	}

	session.mu.Lock()
	if s.clock().Sub(session.data.CreatedAt) > s.ttl {
		session.mu.Unlock()
		s.mu.Lock()
		delete(s.sessions, sessionID)
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrWizardNotFound, sessionID)
	}
	if !strings.EqualFold(session.data.Owner, email) {
		session.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrWizardOwnership, sessionID)
	}
	return session, nil
}

func (s *wizardService) pruneExpiredLocked(now time.Time) {
	for id, session := range s.sessions {
		if now.Sub(session.data.CreatedAt) > s.ttl {
			delete(s.sessions, id)
		}
	}
}

func (s *wizardService) reportDate(order *WorkOrder) time.Time {
	if order != nil && !order.IssuedAt.IsZero() {
		return order.IssuedAt
	}
	return s.clock()
}

func validateReportForm(form ReportForm) error {
	if strings.TrimSpace(form.JobTitle) == "" {
		return fmt.Errorf("%w: job title is required", ErrWizardInvalidInput)
	}
	if strings.TrimSpace(form.Technician) == "" {
		return fmt.Errorf("%w: technician is required", ErrWizardInvalidInput)
	}
	if strings.TrimSpace(form.Description) == "" {
		return fmt.Errorf("%w: description is required", ErrWizardInvalidInput)
	}
	if form.DurationMinutes <= 0 {
		return fmt.Errorf("%w: duration must be positive", ErrWizardInvalidInput)
	}
	if form.DurationMinutes > maxDurationMinutes {
		return fmt.Errorf("%w: duration cannot exceed 24 hours", ErrWizardInvalidInput)
	}
	return nil
}

func resetSession(data *WizardSession) {
	data.Step = StepSearch
	data.WorkOrder = nil
	data.Consolidated = nil
	data.Duplicate = nil
	data.Form = nil
	data.BeforeURLs = nil
	data.AfterURLs = nil
	data.Report = nil
}

func snapshot(data WizardSession) WizardSession {
	out := data
	out.BeforeURLs = append([]string(nil), data.BeforeURLs...)
	out.AfterURLs = append([]string(nil), data.AfterURLs...)
	return out
}
