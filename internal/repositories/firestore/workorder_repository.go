package firestore

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/fleetworks/api/internal/domain"
	pfirestore "github.com/fleetworks/api/internal/platform/firestore"
)

const workOrdersCollection = "workOrders"

// ErrInvalidOrderNumber rejects lookup inputs containing anything but letters and digits.
var ErrInvalidOrderNumber = errors.New("work order repository: order number must be alphanumeric")

// WorkOrderRepository reads work orders from the external work-order collection.
type WorkOrderRepository struct {
	base *pfirestore.BaseRepository[workOrderDocument]
}

// NewWorkOrderRepository constructs a Firestore-backed work order reader.
func NewWorkOrderRepository(provider *pfirestore.Provider) (*WorkOrderRepository, error) {
	if provider == nil {
		return nil, errors.New("work order repository: firestore provider is required")
	}
	base := pfirestore.NewBaseRepository[workOrderDocument](provider, workOrdersCollection, nil, nil)
	return &WorkOrderRepository{base: base}, nil
}

// FindByOrderNumber resolves a work order by business id. Legacy documents store
// the id as a number, newer ones as a string, so the string match runs first and
// a numeric retry follows when the input parses as an integer.
func (r *WorkOrderRepository) FindByOrderNumber(ctx context.Context, orderNumber string) (domain.WorkOrder, error) {
	if r == nil || r.base == nil {
		return domain.WorkOrder{}, errors.New("work order repository not initialised")
	}
	orderNumber = strings.TrimSpace(orderNumber)
	if orderNumber == "" {
		return domain.WorkOrder{}, ErrInvalidOrderNumber
	}
	for _, ch := range orderNumber {
		if !isAlphanumeric(ch) {
			return domain.WorkOrder{}, ErrInvalidOrderNumber
		}
	}

	doc, found, err := r.queryByOrderNumber(ctx, orderNumber)
	if err != nil {
		return domain.WorkOrder{}, err
	}
	if !found {
		if numeric, parseErr := strconv.ParseInt(orderNumber, 10, 64); parseErr == nil {
			doc, found, err = r.queryByOrderNumber(ctx, numeric)
			if err != nil {
				return domain.WorkOrder{}, err
			}
		}
	}
	if !found {
		return domain.WorkOrder{}, pfirestore.WrapError("work_orders.find", status.Error(codes.NotFound, "work order not found"))
	}
	return decodeWorkOrderDocument(doc), nil
}

func (r *WorkOrderRepository) queryByOrderNumber(ctx context.Context, value any) (pfirestore.Document[workOrderDocument], bool, error) {
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("orderNumber", "==", value).Limit(1)
	})
	if err != nil {
		return pfirestore.Document[workOrderDocument]{}, false, err
	}
	if len(docs) == 0 {
		return pfirestore.Document[workOrderDocument]{}, false, nil
	}
	return docs[0], true, nil
}

func isAlphanumeric(ch rune) bool {
	return (ch >= '0' && ch <= '9') || (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z')
}

type workOrderDocument struct {
	OrderNumber any       `firestore:"orderNumber"`
	VehicleID   string    `firestore:"vehicleId"`
	Technicians []string  `firestore:"technicians"`
	Technician  string    `firestore:"technician"`
	Authorizer  string    `firestore:"authorizedBy"`
	Location    string    `firestore:"location"`
	Services    []string  `firestore:"services"`
	Subtotal    int64     `firestore:"subtotal"`
	Total       int64     `firestore:"total"`
	IssuedAt    time.Time `firestore:"issuedAt"`
	CreatedAt   time.Time `firestore:"createdAt"`
}

func decodeWorkOrderDocument(doc pfirestore.Document[workOrderDocument]) domain.WorkOrder {
	data := doc.Data

	technicians := make([]string, 0, len(data.Technicians))
	for _, name := range data.Technicians {
		if trimmed := strings.TrimSpace(name); trimmed != "" {
			technicians = append(technicians, trimmed)
		}
	}
	if len(technicians) == 0 {
		if trimmed := strings.TrimSpace(data.Technician); trimmed != "" {
			technicians = []string{trimmed}
		}
	}

	services := make([]string, 0, len(data.Services))
	for _, title := range data.Services {
		if trimmed := strings.TrimSpace(title); trimmed != "" {
			services = append(services, trimmed)
		}
	}
	if len(services) > domain.MaxServiceSlots {
		services = services[:domain.MaxServiceSlots]
	}

	return domain.WorkOrder{
		ID:            normaliseOrderNumber(data.OrderNumber),
		VehicleID:     strings.TrimSpace(data.VehicleID),
		Technicians:   technicians,
		Authorizer:    strings.TrimSpace(data.Authorizer),
		Location:      strings.TrimSpace(data.Location),
		ServiceTitles: services,
		Subtotal:      data.Subtotal,
		Total:         data.Total,
		IssuedAt:      data.IssuedAt.UTC(),
		CreatedAt:     chooseTime(data.CreatedAt, doc.CreateTime),
	}
}

func normaliseOrderNumber(raw any) string {
	switch v := raw.(type) {
	case string:
		return strings.TrimSpace(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatInt(int64(v), 10)
	default:
		return ""
	}
}

func chooseTime(primary time.Time, fallback time.Time) time.Time {
	if !primary.IsZero() {
		return primary.UTC()
	}
	if !fallback.IsZero() {
		return fallback.UTC()
	}
	return time.Time{}
}
