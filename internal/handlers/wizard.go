package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/fleetworks/api/internal/domain"
	"github.com/fleetworks/api/internal/platform/auth"
	"github.com/fleetworks/api/internal/platform/httpx"
	"github.com/fleetworks/api/internal/services"
)

const maxWizardBodySize = 16 * 1024

type wizardSearchRequest struct {
	OrderNumber string `json:"orderNumber"`
}

type wizardAdvanceRequest struct {
	Form *wizardFormPayload `json:"form"`
}

type wizardFormPayload struct {
	JobTitle        string `json:"jobTitle"`
	Technician      string `json:"technician"`
	Description     string `json:"description"`
	Notes           string `json:"notes"`
	Recommendations string `json:"recommendations"`
	DurationMinutes int    `json:"durationMinutes"`
}

type workOrderPayload struct {
	ID            string    `json:"id"`
	VehicleID     string    `json:"vehicleId"`
	Technicians   []string  `json:"technicians,omitempty"`
	Authorizer    string    `json:"authorizedBy,omitempty"`
	Location      string    `json:"location,omitempty"`
	ServiceTitles []string  `json:"serviceTitles,omitempty"`
	Subtotal      int64     `json:"subtotal,omitempty"`
	Total         int64     `json:"total,omitempty"`
	IssuedAt      time.Time `json:"issuedAt,omitempty"`
}

type consolidatedPayload struct {
	Descriptions    []string `json:"descriptions,omitempty"`
	Materials       []string `json:"materials,omitempty"`
	LaborRoles      []string `json:"laborRoles,omitempty"`
	DurationMinutes int      `json:"durationMinutes"`
}

type wizardSessionPayload struct {
	ID           string                  `json:"id"`
	Step         string                  `json:"step"`
	WorkOrder    *workOrderPayload       `json:"workOrder,omitempty"`
	Consolidated *consolidatedPayload    `json:"consolidated,omitempty"`
	Duplicate    *duplicateCheckResponse `json:"duplicate,omitempty"`
	Form         *wizardFormPayload      `json:"form,omitempty"`
	BeforeImages []string                `json:"beforeImages,omitempty"`
	AfterImages  []string                `json:"afterImages,omitempty"`
	Report       *reportPayload          `json:"report,omitempty"`
	CreatedAt    time.Time               `json:"createdAt"`
	UpdatedAt    time.Time               `json:"updatedAt"`
}

type wizardSessionResponse struct {
	Session wizardSessionPayload `json:"session"`
}

// WizardHandlers exposes the report-authoring session endpoints.
type WizardHandlers struct {
	authn          *auth.Authenticator
	wizard         services.WizardService
	saveMiddleware func(http.Handler) http.Handler
}

// NewWizardHandlers constructs a new WizardHandlers instance. The optional save
// middleware guards the :save transition, typically with idempotency keys.
func NewWizardHandlers(authn *auth.Authenticator, wizard services.WizardService, saveMiddleware func(http.Handler) http.Handler) *WizardHandlers {
	return &WizardHandlers{
		authn:          authn,
		wizard:         wizard,
		saveMiddleware: saveMiddleware,
	}
}

// Routes registers the /wizard/sessions endpoints.
func (h *WizardHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Post("/", h.startSession)
	r.Get("/{sessionID}", h.getSession)
	r.Post("/{sessionID}:search", h.search)
	r.Post("/{sessionID}:advance", h.advance)
	r.Post("/{sessionID}:back", h.back)
	r.Post("/{sessionID}/images/{role}", h.attachImages)
	r.Delete("/{sessionID}", h.abandon)
	if h.saveMiddleware != nil {
		r.With(h.saveMiddleware).Post("/{sessionID}:save", h.save)
	} else {
		r.Post("/{sessionID}:save", h.save)
	}
}

func (h *WizardHandlers) startSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireIdentity(ctx, w)
	if !ok {
		return
	}

	session, err := h.wizard.Start(ctx, identity)
	if err != nil {
		writeWizardError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, wizardSessionResponse{Session: buildWizardSessionPayload(session)})
}

func (h *WizardHandlers) getSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireIdentity(ctx, w)
	if !ok {
		return
	}

	session, err := h.wizard.Get(ctx, identity, chi.URLParam(r, "sessionID"))
	if err != nil {
		writeWizardError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, wizardSessionResponse{Session: buildWizardSessionPayload(session)})
}

func (h *WizardHandlers) search(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireIdentity(ctx, w)
	if !ok {
		return
	}

	var req wizardSearchRequest
	if !decodeWizardBody(ctx, w, r, &req) {
		return
	}

	session, err := h.wizard.Search(ctx, identity, chi.URLParam(r, "sessionID"), req.OrderNumber)
	if err != nil {
		writeWizardError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, wizardSessionResponse{Session: buildWizardSessionPayload(session)})
}

func (h *WizardHandlers) advance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireIdentity(ctx, w)
	if !ok {
		return
	}

	// The body is optional: REVIEW→FORM and IMAGES→PREVIEW carry no payload.
	var form *services.ReportForm
	body, err := readLimitedBody(r, maxWizardBodySize)
	switch {
	case errors.Is(err, errEmptyBody):
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		return
	case err != nil:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	default:
		var req wizardAdvanceRequest
		if jsonErr := json.Unmarshal(body, &req); jsonErr != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
			return
		}
		if req.Form != nil {
			form = &services.ReportForm{
				JobTitle:        req.Form.JobTitle,
				Technician:      req.Form.Technician,
				Description:     req.Form.Description,
				Notes:           req.Form.Notes,
				Recommendations: req.Form.Recommendations,
				DurationMinutes: req.Form.DurationMinutes,
			}
		}
	}

	session, err := h.wizard.Advance(ctx, identity, chi.URLParam(r, "sessionID"), form)
	if err != nil {
		writeWizardError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, wizardSessionResponse{Session: buildWizardSessionPayload(session)})
}

func (h *WizardHandlers) back(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireIdentity(ctx, w)
	if !ok {
		return
	}

	session, err := h.wizard.Back(ctx, identity, chi.URLParam(r, "sessionID"))
	if err != nil {
		writeWizardError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, wizardSessionResponse{Session: buildWizardSessionPayload(session)})
}

func (h *WizardHandlers) save(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireIdentity(ctx, w)
	if !ok {
		return
	}

	report, err := h.wizard.Save(ctx, identity, chi.URLParam(r, "sessionID"))
	if err != nil {
		writeWizardError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, reportResponse{Report: buildReportPayload(report)})
}

func (h *WizardHandlers) abandon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireIdentity(ctx, w)
	if !ok {
		return
	}

	if err := h.wizard.Abandon(ctx, identity, chi.URLParam(r, "sessionID")); err != nil {
		writeWizardError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *WizardHandlers) requireIdentity(ctx context.Context, w http.ResponseWriter) (*auth.Identity, bool) {
	if h.wizard == nil {
		httpx.WriteError(ctx, w, httpx.NewError("wizard_service_unavailable", "wizard service unavailable", http.StatusServiceUnavailable))
		return nil, false
	}
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.Email) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return nil, false
	}
	return identity, true
}

func (h *WizardHandlers) attachImages(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireIdentity(ctx, w)
	if !ok {
		return
	}

	role := domain.ImageRole(strings.ToLower(strings.TrimSpace(chi.URLParam(r, "role"))))
	if !role.Valid() {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", fmt.Sprintf("unknown image role %q", role), http.StatusBadRequest))
		return
	}

	if err := r.ParseMultipartForm(maxImageUploadMemory); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "multipart form expected", http.StatusBadRequest))
		return
	}
	files, err := collectUploads(r.MultipartForm)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	if len(files) == 0 {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "at least one file is required", http.StatusBadRequest))
		return
	}

	session, err := h.wizard.AttachImages(ctx, identity, chi.URLParam(r, "sessionID"), role, files)
	if err != nil {
		writeWizardError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, wizardSessionResponse{Session: buildWizardSessionPayload(session)})
}

func buildWizardSessionPayload(session services.WizardSession) wizardSessionPayload {
	payload := wizardSessionPayload{
		ID:           session.ID,
		Step:         string(session.Step),
		BeforeImages: session.BeforeURLs,
		AfterImages:  session.AfterURLs,
		CreatedAt:    session.CreatedAt,
		UpdatedAt:    session.UpdatedAt,
	}
	if session.WorkOrder != nil {
		payload.WorkOrder = buildWorkOrderPayload(*session.WorkOrder)
	}
	if session.Consolidated != nil {
		payload.Consolidated = &consolidatedPayload{
			Descriptions:    session.Consolidated.Descriptions,
			Materials:       session.Consolidated.Materials,
			LaborRoles:      session.Consolidated.LaborRoles,
			DurationMinutes: session.Consolidated.Duration.TotalMinutes,
		}
	}
	if session.Duplicate != nil {
		duplicate := duplicateCheckResponse{Exists: session.Duplicate.Exists}
		if session.Duplicate.Existing != nil {
			existing := buildReportPayload(*session.Duplicate.Existing)
			duplicate.Report = &existing
		}
		payload.Duplicate = &duplicate
	}
	if session.Form != nil {
		payload.Form = &wizardFormPayload{
			JobTitle:        session.Form.JobTitle,
			Technician:      session.Form.Technician,
			Description:     session.Form.Description,
			Notes:           session.Form.Notes,
			Recommendations: session.Form.Recommendations,
			DurationMinutes: session.Form.DurationMinutes,
		}
	}
	if session.Report != nil {
		report := buildReportPayload(*session.Report)
		payload.Report = &report
	}
	return payload
}

func buildWorkOrderPayload(order services.WorkOrder) *workOrderPayload {
	return &workOrderPayload{
		ID:            order.ID,
		VehicleID:     order.FormattedVehicleID(),
		Technicians:   order.Technicians,
		Authorizer:    order.Authorizer,
		Location:      order.Location,
		ServiceTitles: order.ServiceTitles,
		Subtotal:      order.Subtotal,
		Total:         order.Total,
		IssuedAt:      order.IssuedAt,
	}
}

func decodeWizardBody(ctx context.Context, w http.ResponseWriter, r *http.Request, target any) bool {
	body, err := readLimitedBody(r, maxWizardBodySize)
	if err != nil {
		switch {
		case errors.Is(err, errBodyTooLarge):
			httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		case errors.Is(err, errEmptyBody):
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body is required", http.StatusBadRequest))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		}
		return false
	}
	if err := json.Unmarshal(body, target); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return false
	}
	return true
}

func writeWizardError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}

	switch {
	case errors.Is(err, services.ErrReportUnauthenticated):
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
	case errors.Is(err, services.ErrWizardInvalidInput),
		errors.Is(err, services.ErrWorkOrderInvalidInput),
		errors.Is(err, services.ErrConsolidationInvalidInput),
		errors.Is(err, services.ErrReportInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrWizardInvalidTransition):
		httpx.WriteError(ctx, w, httpx.NewError("wizard_invalid_transition", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrWizardOwnership),
		errors.Is(err, services.ErrWizardNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("wizard_session_not_found", "session not found", http.StatusNotFound))
	case errors.Is(err, services.ErrWorkOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("workorder_not_found", "work order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrReportConflict):
		httpx.WriteError(ctx, w, httpx.NewError("report_conflict", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrWorkOrderUnavailable),
		errors.Is(err, services.ErrConsolidationUnavailable),
		errors.Is(err, services.ErrReportUnavailable),
		errors.Is(err, services.ErrImageUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("dependency_unavailable", "backing store unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "unexpected error", http.StatusInternalServerError))
	}
}
