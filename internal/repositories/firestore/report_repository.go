package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/fleetworks/api/internal/domain"
	pfirestore "github.com/fleetworks/api/internal/platform/firestore"
	"github.com/fleetworks/api/internal/platform/pagination"
	"github.com/fleetworks/api/internal/repositories"
)

const technicalReportsCollection = "technicalReports"

// TechnicalReportRepository persists technical reports keyed by their canonical id.
type TechnicalReportRepository struct {
	base *pfirestore.BaseRepository[technicalReportDocument]
}

// NewTechnicalReportRepository constructs a Firestore-backed report store.
func NewTechnicalReportRepository(provider *pfirestore.Provider) (*TechnicalReportRepository, error) {
	if provider == nil {
		return nil, errors.New("technical report repository: firestore provider is required")
	}
	base := pfirestore.NewBaseRepository[technicalReportDocument](provider, technicalReportsCollection, nil, nil)
	return &TechnicalReportRepository{base: base}, nil
}

// Insert creates the report document using the canonical id as the document key.
// A second insert for the same id fails with a conflict, which is what closes
// the duplicate-report race between concurrent authors.
func (r *TechnicalReportRepository) Insert(ctx context.Context, report domain.TechnicalReport) error {
	if r == nil || r.base == nil {
		return errors.New("technical report repository not initialised")
	}
	reportID := strings.TrimSpace(report.ID)
	if reportID == "" {
		return errors.New("technical report repository: report id is required")
	}
	docRef, err := r.base.DocumentRef(ctx, reportID)
	if err != nil {
		return err
	}
	if _, err := docRef.Create(ctx, encodeTechnicalReportDocument(report)); err != nil {
		return pfirestore.WrapError("technical_reports.insert", err)
	}
	return nil
}

// Update replaces the persisted report state with the provided snapshot.
func (r *TechnicalReportRepository) Update(ctx context.Context, report domain.TechnicalReport) error {
	if r == nil || r.base == nil {
		return errors.New("technical report repository not initialised")
	}
	reportID := strings.TrimSpace(report.ID)
	if reportID == "" {
		return errors.New("technical report repository: report id is required")
	}
	if _, err := r.base.Set(ctx, reportID, encodeTechnicalReportDocument(report)); err != nil {
		return err
	}
	return nil
}

// Delete removes the report document. Deleting an absent document is not an error.
func (r *TechnicalReportRepository) Delete(ctx context.Context, reportID string) error {
	if r == nil || r.base == nil {
		return errors.New("technical report repository not initialised")
	}
	reportID = strings.TrimSpace(reportID)
	if reportID == "" {
		return errors.New("technical report repository: report id is required")
	}
	docRef, err := r.base.DocumentRef(ctx, reportID)
	if err != nil {
		return err
	}
	if _, err := docRef.Delete(ctx); err != nil {
		return pfirestore.WrapError("technical_reports.delete", err)
	}
	return nil
}

// FindByID fetches a single report.
func (r *TechnicalReportRepository) FindByID(ctx context.Context, reportID string) (domain.TechnicalReport, error) {
	if r == nil || r.base == nil {
		return domain.TechnicalReport{}, errors.New("technical report repository not initialised")
	}
	reportID = strings.TrimSpace(reportID)
	if reportID == "" {
		return domain.TechnicalReport{}, errors.New("technical report repository: report id is required")
	}
	doc, err := r.base.Get(ctx, reportID)
	if err != nil {
		return domain.TechnicalReport{}, err
	}
	return decodeTechnicalReportDocument(doc.ID, doc.Data, doc.CreateTime, doc.UpdateTime), nil
}

// FindByWorkOrder returns the author's report for the work order, if one exists.
func (r *TechnicalReportRepository) FindByWorkOrder(ctx context.Context, authorEmail string, workOrderID string) (domain.TechnicalReport, bool, error) {
	if r == nil || r.base == nil {
		return domain.TechnicalReport{}, false, errors.New("technical report repository not initialised")
	}
	authorEmail = strings.TrimSpace(authorEmail)
	workOrderID = strings.TrimSpace(workOrderID)
	if authorEmail == "" || workOrderID == "" {
		return domain.TechnicalReport{}, false, errors.New("technical report repository: author email and work order id are required")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("authorEmail", "==", authorEmail).
			Where("workOrderId", "==", workOrderID).
			Limit(1)
	})
	if err != nil {
		return domain.TechnicalReport{}, false, err
	}
	if len(docs) == 0 {
		return domain.TechnicalReport{}, false, nil
	}
	doc := docs[0]
	return decodeTechnicalReportDocument(doc.ID, doc.Data, doc.CreateTime, doc.UpdateTime), true, nil
}

// ListByAuthor returns the author's reports ordered by most recent creation.
func (r *TechnicalReportRepository) ListByAuthor(ctx context.Context, authorEmail string, filter repositories.ReportListFilter) (domain.CursorPage[domain.TechnicalReport], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.TechnicalReport]{}, errors.New("technical report repository not initialised")
	}
	authorEmail = strings.TrimSpace(authorEmail)
	if authorEmail == "" {
		return domain.CursorPage[domain.TechnicalReport]{}, errors.New("technical report repository: author email is required")
	}

	limit := filter.Pagination.PageSize
	if limit < 0 {
		limit = 0
	}
	fetchLimit := limit
	if limit > 0 {
		fetchLimit = limit + 1
	}

	var startAfter []any
	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		tokenTime, tokenID, err := decodeReportListToken(token)
		if err != nil {
			return domain.CursorPage[domain.TechnicalReport]{}, fmt.Errorf("technical report repository: invalid page token: %w", err)
		}
		startAfter = []any{tokenTime, tokenID}
	}

	states := normaliseStates(filter.States)

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		q = q.Where("authorEmail", "==", authorEmail)
		if len(states) == 1 {
			q = q.Where("state", "==", states[0])
		} else if len(states) > 1 {
			q = q.Where("state", "in", states)
		}
		q = q.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
		if len(startAfter) == 2 {
			q = q.StartAfter(startAfter...)
		}
		if fetchLimit > 0 {
			q = q.Limit(fetchLimit)
		}
		return q
	})
	if err != nil {
		return domain.CursorPage[domain.TechnicalReport]{}, err
	}

	nextToken := ""
	if limit > 0 && len(docs) == fetchLimit {
		last := docs[len(docs)-1]
		tokenTime := last.Data.CreatedAt
		if tokenTime.IsZero() {
			tokenTime = last.CreateTime
		}
		nextToken = encodeReportListToken(tokenTime, last.ID)
		docs = docs[:len(docs)-1]
	}

	items := make([]domain.TechnicalReport, 0, len(docs))
	for _, doc := range docs {
		items = append(items, decodeTechnicalReportDocument(doc.ID, doc.Data, doc.CreateTime, doc.UpdateTime))
	}

	return domain.CursorPage[domain.TechnicalReport]{
		Items:         items,
		NextPageToken: nextToken,
	}, nil
}

type technicalReportDocument struct {
	WorkOrderID     string    `firestore:"workOrderId"`
	VehicleID       string    `firestore:"vehicleId"`
	JobTitle        string    `firestore:"jobTitle"`
	Location        string    `firestore:"location"`
	Technician      string    `firestore:"technician"`
	Authorizer      string    `firestore:"authorizedBy"`
	Author          string    `firestore:"author"`
	AuthorEmail     string    `firestore:"authorEmail"`
	Description     string    `firestore:"description"`
	Activities      []string  `firestore:"activities"`
	Materials       []string  `firestore:"materials"`
	LaborRoles      []string  `firestore:"laborRoles"`
	DurationMinutes int       `firestore:"durationMinutes"`
	Notes           string    `firestore:"notes"`
	Recommendations string    `firestore:"recommendations"`
	Subtotal        int64     `firestore:"subtotal"`
	Total           int64     `firestore:"total"`
	BeforeImageURL  string    `firestore:"beforeImageUrl"`
	BeforeImageURLs []string  `firestore:"beforeImageUrls"`
	AfterImageURL   string    `firestore:"afterImageUrl"`
	AfterImageURLs  []string  `firestore:"afterImageUrls"`
	State           string    `firestore:"state"`
	Version         int       `firestore:"version"`
	CreatedAt       time.Time `firestore:"createdAt"`
	UpdatedAt       time.Time `firestore:"updatedAt"`
	UpdatedBy       string    `firestore:"updatedBy"`
}

func encodeTechnicalReportDocument(report domain.TechnicalReport) technicalReportDocument {
	return technicalReportDocument{
		WorkOrderID:     strings.TrimSpace(report.WorkOrderID),
		VehicleID:       strings.TrimSpace(report.VehicleID),
		JobTitle:        strings.TrimSpace(report.JobTitle),
		Location:        strings.TrimSpace(report.Location),
		Technician:      strings.TrimSpace(report.Technician),
		Authorizer:      strings.TrimSpace(report.Authorizer),
		Author:          strings.TrimSpace(report.Author),
		AuthorEmail:     strings.TrimSpace(report.AuthorEmail),
		Description:     report.Description,
		Activities:      cloneTrimmed(report.Activities),
		Materials:       cloneTrimmed(report.Materials),
		LaborRoles:      cloneTrimmed(report.LaborRoles),
		DurationMinutes: report.Duration.TotalMinutes,
		Notes:           report.Notes,
		Recommendations: report.Recommendations,
		Subtotal:        report.Subtotal,
		Total:           report.Total,
		BeforeImageURL:  strings.TrimSpace(report.Before.Single),
		BeforeImageURLs: cloneTrimmed(report.Before.Multiple),
		AfterImageURL:   strings.TrimSpace(report.After.Single),
		AfterImageURLs:  cloneTrimmed(report.After.Multiple),
		State:           string(report.State),
		Version:         report.Version,
		CreatedAt:       report.CreatedAt.UTC(),
		UpdatedAt:       report.UpdatedAt.UTC(),
		UpdatedBy:       strings.TrimSpace(report.UpdatedBy),
	}
}

func decodeTechnicalReportDocument(id string, doc technicalReportDocument, createdAt, updatedAt time.Time) domain.TechnicalReport {
	report := domain.TechnicalReport{
		ID:              strings.TrimSpace(id),
		WorkOrderID:     strings.TrimSpace(doc.WorkOrderID),
		VehicleID:       strings.TrimSpace(doc.VehicleID),
		JobTitle:        strings.TrimSpace(doc.JobTitle),
		Location:        strings.TrimSpace(doc.Location),
		Technician:      strings.TrimSpace(doc.Technician),
		Authorizer:      strings.TrimSpace(doc.Authorizer),
		Author:          strings.TrimSpace(doc.Author),
		AuthorEmail:     strings.TrimSpace(doc.AuthorEmail),
		Description:     doc.Description,
		Activities:      cloneTrimmed(doc.Activities),
		Materials:       cloneTrimmed(doc.Materials),
		LaborRoles:      cloneTrimmed(doc.LaborRoles),
		Duration:        domain.DurationFromHours(float64(doc.DurationMinutes) / 60),
		Notes:           doc.Notes,
		Recommendations: doc.Recommendations,
		Subtotal:        doc.Subtotal,
		Total:           doc.Total,
		State:           domain.ReportState(strings.TrimSpace(doc.State)),
		Version:         doc.Version,
		CreatedAt:       chooseTime(doc.CreatedAt, createdAt),
		UpdatedAt:       chooseTime(doc.UpdatedAt, updatedAt),
		UpdatedBy:       strings.TrimSpace(doc.UpdatedBy),
	}
	if len(doc.BeforeImageURLs) > 0 {
		report.Before.SetMultiple(doc.BeforeImageURLs)
	} else if strings.TrimSpace(doc.BeforeImageURL) != "" {
		report.Before.SetSingle(doc.BeforeImageURL)
	}
	if len(doc.AfterImageURLs) > 0 {
		report.After.SetMultiple(doc.AfterImageURLs)
	} else if strings.TrimSpace(doc.AfterImageURL) != "" {
		report.After.SetSingle(doc.AfterImageURL)
	}
	if !report.State.Valid() {
		report.State = domain.ReportStateActive
	}
	return report
}

func cloneTrimmed(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, 0, len(values))
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func encodeReportListToken(createdAt time.Time, docID string) string {
	token, err := pagination.EncodeToken(pagination.Cursor{
		StartAfter: []any{createdAt.UTC().Format(time.RFC3339Nano), docID},
	})
	if err != nil {
		return ""
	}
	return token
}

func decodeReportListToken(token string) (time.Time, string, error) {
	cursor, err := pagination.DecodeToken(token)
	if err != nil {
		return time.Time{}, "", err
	}
	if len(cursor.StartAfter) != 2 {
		return time.Time{}, "", errors.New("invalid token structure")
	}
	rawTime, timeOK := cursor.StartAfter[0].(string)
	docID, idOK := cursor.StartAfter[1].(string)
	if !timeOK || !idOK {
		return time.Time{}, "", errors.New("invalid token structure")
	}
	ts, err := time.Parse(time.RFC3339Nano, rawTime)
	if err != nil {
		return time.Time{}, "", err
	}
	return ts, docID, nil
}

func normaliseStates(states []string) []string {
	if len(states) == 0 {
		return nil
	}
	normalized := make([]string, 0, len(states))
	seen := make(map[string]struct{})
	for _, state := range states {
		trimmed := strings.ToLower(strings.TrimSpace(state))
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		normalized = append(normalized, trimmed)
	}
	return normalized
}
