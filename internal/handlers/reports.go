package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/fleetworks/api/internal/domain"
	"github.com/fleetworks/api/internal/platform/auth"
	"github.com/fleetworks/api/internal/platform/httpx"
	"github.com/fleetworks/api/internal/services"
)

const (
	defaultReportPageSize = 20
	maxReportPageSize     = 100
	maxReportBodySize     = 64 * 1024
	maxImageUploadMemory  = 32 << 20
)

var (
	errEmptyBody    = errors.New("request body is empty")
	errBodyTooLarge = errors.New("request body too large")
)

type updateReportRequest struct {
	JobTitle        *string `json:"jobTitle"`
	Technician      *string `json:"technician"`
	Description     *string `json:"description"`
	Notes           *string `json:"notes"`
	Recommendations *string `json:"recommendations"`
	DurationMinutes *int    `json:"durationMinutes"`
}

type removeImageRequest struct {
	URL string `json:"url"`
}

type reportPayload struct {
	ID              string    `json:"id"`
	WorkOrderID     string    `json:"workOrderId"`
	VehicleID       string    `json:"vehicleId"`
	JobTitle        string    `json:"jobTitle"`
	Location        string    `json:"location,omitempty"`
	Technician      string    `json:"technician"`
	Authorizer      string    `json:"authorizedBy,omitempty"`
	AuthorEmail     string    `json:"authorEmail"`
	Description     string    `json:"description"`
	Activities      []string  `json:"activities,omitempty"`
	Materials       []string  `json:"materials,omitempty"`
	LaborRoles      []string  `json:"laborRoles,omitempty"`
	DurationMinutes int       `json:"durationMinutes"`
	Notes           string    `json:"notes,omitempty"`
	Recommendations string    `json:"recommendations,omitempty"`
	BeforeImages    []string  `json:"beforeImages,omitempty"`
	AfterImages     []string  `json:"afterImages,omitempty"`
	State           string    `json:"state"`
	Version         int       `json:"version"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

type reportResponse struct {
	Report reportPayload `json:"report"`
}

type reportListResponse struct {
	Items         []reportPayload `json:"items"`
	NextPageToken string          `json:"nextPageToken,omitempty"`
}

type duplicateCheckResponse struct {
	Exists bool           `json:"exists"`
	Report *reportPayload `json:"report,omitempty"`
}

// ReportHandlers exposes the technical-report lifecycle endpoints.
type ReportHandlers struct {
	authn   *auth.Authenticator
	reports services.ReportService
	images  services.ImageService
	export  services.ExportEngine
}

// NewReportHandlers constructs a new ReportHandlers instance.
func NewReportHandlers(authn *auth.Authenticator, reports services.ReportService, images services.ImageService, export services.ExportEngine) *ReportHandlers {
	return &ReportHandlers{
		authn:   authn,
		reports: reports,
		images:  images,
		export:  export,
	}
}

// Routes registers the /reports endpoints.
func (h *ReportHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Get("/", h.listReports)
	r.Get("/{reportID}", h.getReport)
	r.Patch("/{reportID}", h.updateReport)
	r.Delete("/{reportID}", h.deleteReport)
	r.Post("/{reportID}:complete", h.completeReport)
	r.Post("/{reportID}:export", h.exportReport)
	r.Post("/{reportID}/images/{role}", h.uploadImages)
	r.Delete("/{reportID}/images", h.removeImage)
}

// CollectionRoutes registers report routes whose action suffix sits on the
// collection path itself, so they cannot live inside the /reports subtree.
func (h *ReportHandlers) CollectionRoutes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.With(h.authn.RequireFirebaseAuth()).Get("/reports:byWorkOrder", h.findByWorkOrder)
		return
	}
	r.Get("/reports:byWorkOrder", h.findByWorkOrder)
}

func (h *ReportHandlers) listReports(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireIdentity(ctx, w)
	if !ok {
		return
	}

	query := r.URL.Query()
	states := parseFilterValues(query["state"])

	pageSize := defaultReportPageSize
	if raw := strings.TrimSpace(query.Get("pageSize")); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "pageSize must be an integer", http.StatusBadRequest))
			return
		}
		switch {
		case size <= 0:
			pageSize = defaultReportPageSize
		case size > maxReportPageSize:
			pageSize = maxReportPageSize
		default:
			pageSize = size
		}
	}

	page, err := h.reports.List(ctx, identity, services.ReportListFilter{
		States: states,
		Pagination: services.Pagination{
			PageSize:  pageSize,
			PageToken: strings.TrimSpace(query.Get("pageToken")),
		},
	})
	if err != nil {
		writeReportError(ctx, w, err)
		return
	}

	items := make([]reportPayload, 0, len(page.Items))
	for _, report := range page.Items {
		items = append(items, buildReportPayload(report))
	}
	writeJSONResponse(w, http.StatusOK, reportListResponse{
		Items:         items,
		NextPageToken: page.NextPageToken,
	})
}

func (h *ReportHandlers) getReport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireIdentity(ctx, w)
	if !ok {
		return
	}
	reportID := strings.TrimSpace(chi.URLParam(r, "reportID"))

	report, err := h.reports.Get(ctx, identity, reportID)
	if err != nil {
		writeReportError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, reportResponse{Report: buildReportPayload(report)})
}

func (h *ReportHandlers) updateReport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireIdentity(ctx, w)
	if !ok {
		return
	}
	reportID := strings.TrimSpace(chi.URLParam(r, "reportID"))

	var req updateReportRequest
	if !decodeJSONBody(ctx, w, r, &req) {
		return
	}

	report, err := h.reports.Update(ctx, identity, services.UpdateReportCommand{
		ReportID:        reportID,
		JobTitle:        req.JobTitle,
		Technician:      req.Technician,
		Description:     req.Description,
		Notes:           req.Notes,
		Recommendations: req.Recommendations,
		DurationMinutes: req.DurationMinutes,
	})
	if err != nil {
		writeReportError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, reportResponse{Report: buildReportPayload(report)})
}

func (h *ReportHandlers) completeReport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireIdentity(ctx, w)
	if !ok {
		return
	}
	reportID := strings.TrimSpace(chi.URLParam(r, "reportID"))

	report, err := h.reports.Complete(ctx, identity, reportID)
	if err != nil {
		writeReportError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, reportResponse{Report: buildReportPayload(report)})
}

func (h *ReportHandlers) deleteReport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireIdentity(ctx, w)
	if !ok {
		return
	}
	reportID := strings.TrimSpace(chi.URLParam(r, "reportID"))

	if err := h.reports.Delete(ctx, identity, reportID); err != nil {
		writeReportError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ReportHandlers) findByWorkOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireIdentity(ctx, w)
	if !ok {
		return
	}
	workOrderID := strings.TrimSpace(r.URL.Query().Get("workOrderId"))
	if workOrderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "workOrderId is required", http.StatusBadRequest))
		return
	}

	report, found, err := h.reports.FindByWorkOrder(ctx, identity, workOrderID)
	if err != nil {
		writeReportError(ctx, w, err)
		return
	}
	response := duplicateCheckResponse{Exists: found}
	if found {
		payload := buildReportPayload(report)
		response.Report = &payload
	}
	writeJSONResponse(w, http.StatusOK, response)
}

func (h *ReportHandlers) uploadImages(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireIdentity(ctx, w)
	if !ok {
		return
	}
	reportID := strings.TrimSpace(chi.URLParam(r, "reportID"))

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

	// Ownership check first: an intruder must not be able to write objects
	// into another author's storage prefix.
	report, err := h.reports.Get(ctx, identity, reportID)
	if err != nil {
		writeReportError(ctx, w, err)
		return
	}

	urls, err := h.images.UploadBatch(ctx, identity.UID, report.ID, role, report.ImagesFor(role).Count(), files)
	if err != nil {
		writeReportError(ctx, w, err)
		return
	}

	updated, err := h.reports.SetImages(ctx, identity, report.ID, role, urls)
	if err != nil {
		writeReportError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, reportResponse{Report: buildReportPayload(updated)})
}

func (h *ReportHandlers) removeImage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireIdentity(ctx, w)
	if !ok {
		return
	}
	reportID := strings.TrimSpace(chi.URLParam(r, "reportID"))

	var req removeImageRequest
	if !decodeJSONBody(ctx, w, r, &req) {
		return
	}

	report, err := h.reports.RemoveImage(ctx, identity, reportID, req.URL)
	if err != nil {
		writeReportError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, reportResponse{Report: buildReportPayload(report)})
}

func (h *ReportHandlers) exportReport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireIdentity(ctx, w)
	if !ok {
		return
	}
	reportID := strings.TrimSpace(chi.URLParam(r, "reportID"))

	report, err := h.reports.Get(ctx, identity, reportID)
	if err != nil {
		writeReportError(ctx, w, err)
		return
	}

	result, err := h.export.Export(ctx, report)
	if err != nil {
		writeReportError(ctx, w, err)
		return
	}

	w.Header().Set("Content-Type", result.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.FileName))
	w.Header().Set("Content-Length", strconv.Itoa(len(result.Data)))
	if result.DownloadURL != "" {
		w.Header().Set("X-Export-Location", result.DownloadURL)
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Data)
}

func (h *ReportHandlers) requireIdentity(ctx context.Context, w http.ResponseWriter) (*auth.Identity, bool) {
	if h.reports == nil {
		httpx.WriteError(ctx, w, httpx.NewError("report_service_unavailable", "report service unavailable", http.StatusServiceUnavailable))
		return nil, false
	}
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.Email) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return nil, false
	}
	return identity, true
}

func buildReportPayload(report services.TechnicalReport) reportPayload {
	return reportPayload{
		ID:              report.ID,
		WorkOrderID:     report.WorkOrderID,
		VehicleID:       report.VehicleID,
		JobTitle:        report.JobTitle,
		Location:        report.Location,
		Technician:      report.Technician,
		Authorizer:      report.Authorizer,
		AuthorEmail:     report.AuthorEmail,
		Description:     report.Description,
		Activities:      report.Activities,
		Materials:       report.Materials,
		LaborRoles:      report.LaborRoles,
		DurationMinutes: report.Duration.TotalMinutes,
		Notes:           report.Notes,
		Recommendations: report.Recommendations,
		BeforeImages:    report.Before.URLs(),
		AfterImages:     report.After.URLs(),
		State:           string(report.State),
		Version:         report.Version,
		CreatedAt:       report.CreatedAt,
		UpdatedAt:       report.UpdatedAt,
	}
}

func collectUploads(form *multipart.Form) ([]services.ImageUpload, error) {
	if form == nil {
		return nil, nil
	}
	var uploads []services.ImageUpload
	for _, headers := range form.File {
		for _, header := range headers {
			upload, err := readUpload(header)
			if err != nil {
				return nil, err
			}
			uploads = append(uploads, upload)
		}
	}
	return uploads, nil
}

func readUpload(header *multipart.FileHeader) (services.ImageUpload, error) {
	file, err := header.Open()
	if err != nil {
		return services.ImageUpload{}, fmt.Errorf("open %s: %w", header.Filename, err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return services.ImageUpload{}, fmt.Errorf("read %s: %w", header.Filename, err)
	}

	contentType := strings.TrimSpace(header.Header.Get("Content-Type"))
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	return services.ImageUpload{
		FileName:    header.Filename,
		ContentType: contentType,
		Data:        data,
	}, nil
}

func writeReportError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}

	switch {
	case errors.Is(err, services.ErrReportUnauthenticated):
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
	case errors.Is(err, services.ErrReportInvalidInput),
		errors.Is(err, services.ErrImageInvalidInput),
		errors.Is(err, services.ErrExportInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrReportOwnership),
		errors.Is(err, services.ErrReportNotFound):
		// Foreign reports read as absent so ids cannot be probed.
		httpx.WriteError(ctx, w, httpx.NewError("report_not_found", "report not found", http.StatusNotFound))
	case errors.Is(err, services.ErrReportConflict):
		httpx.WriteError(ctx, w, httpx.NewError("report_conflict", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrReportUnavailable),
		errors.Is(err, services.ErrImageUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("report_store_unavailable", "report store unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "unexpected error", http.StatusInternalServerError))
	}
}

func decodeJSONBody(ctx context.Context, w http.ResponseWriter, r *http.Request, target any) bool {
	body, err := readLimitedBody(r, maxReportBodySize)
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

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, errEmptyBody
	}
	if limit <= 0 {
		limit = maxReportBodySize
	}
	reader := io.LimitReader(r.Body, limit+1)
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errEmptyBody
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func parseFilterValues(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{})
	filters := make([]string, 0, len(values))
	for _, raw := range values {
		for _, part := range strings.Split(raw, ",") {
			trimmed := strings.ToLower(strings.TrimSpace(part))
			if trimmed == "" {
				continue
			}
			if _, exists := seen[trimmed]; exists {
				continue
			}
			seen[trimmed] = struct{}{}
			filters = append(filters, trimmed)
		}
	}
	return filters
}
