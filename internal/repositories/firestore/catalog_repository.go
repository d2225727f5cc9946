package firestore

import (
	"context"
	"errors"
	"strings"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/fleetworks/api/internal/domain"
	pfirestore "github.com/fleetworks/api/internal/platform/firestore"
)

const serviceCatalogCollection = "serviceCatalog"

// ServiceCatalogRepository resolves reusable service descriptions by exact title.
type ServiceCatalogRepository struct {
	base *pfirestore.BaseRepository[serviceCatalogDocument]
}

// NewServiceCatalogRepository constructs a Firestore-backed catalog reader.
func NewServiceCatalogRepository(provider *pfirestore.Provider) (*ServiceCatalogRepository, error) {
	if provider == nil {
		return nil, errors.New("service catalog repository: firestore provider is required")
	}
	base := pfirestore.NewBaseRepository[serviceCatalogDocument](provider, serviceCatalogCollection, nil, nil)
	return &ServiceCatalogRepository{base: base}, nil
}

// FindByTitle fetches the catalog entry whose title matches exactly.
func (r *ServiceCatalogRepository) FindByTitle(ctx context.Context, title string) (domain.ServiceCatalogEntry, error) {
	if r == nil || r.base == nil {
		return domain.ServiceCatalogEntry{}, errors.New("service catalog repository not initialised")
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return domain.ServiceCatalogEntry{}, errors.New("service catalog repository: title is required")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("title", "==", title).Limit(1)
	})
	if err != nil {
		return domain.ServiceCatalogEntry{}, err
	}
	if len(docs) == 0 {
		return domain.ServiceCatalogEntry{}, pfirestore.WrapError("service_catalog.find", status.Error(codes.NotFound, "catalog entry not found"))
	}

	data := docs[0].Data
	return domain.ServiceCatalogEntry{
		Title:         strings.TrimSpace(data.Title),
		Description:   strings.TrimSpace(data.Description),
		Materials:     strings.TrimSpace(data.Materials),
		LaborRole:     strings.TrimSpace(data.LaborRole),
		DurationHours: data.DurationHours,
	}, nil
}

type serviceCatalogDocument struct {
	Title         string  `firestore:"title"`
	Description   string  `firestore:"description"`
	Materials     string  `firestore:"materials"`
	LaborRole     string  `firestore:"laborRole"`
	DurationHours float64 `firestore:"durationHours"`
}
