package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	domain "github.com/fleetworks/api/internal/domain"
	"github.com/fleetworks/api/internal/repositories"
)

var (
	// ErrConsolidationInvalidInput indicates the title list is empty or too long.
	ErrConsolidationInvalidInput = errors.New("consolidation: invalid input")
	// ErrConsolidationUnavailable indicates the catalog store could not be reached.
	ErrConsolidationUnavailable = errors.New("consolidation: catalog unavailable")
)

// ServiceConsolidatorDeps bundles collaborators for the consolidator.
type ServiceConsolidatorDeps struct {
	Catalog repositories.ServiceCatalogRepository
}

type serviceConsolidator struct {
	catalog repositories.ServiceCatalogRepository
}

// NewServiceConsolidator constructs the consolidator over the service catalog.
func NewServiceConsolidator(deps ServiceConsolidatorDeps) (ServiceConsolidator, error) {
	if deps.Catalog == nil {
		return nil, errors.New("service consolidator: catalog repository is required")
	}
	return &serviceConsolidator{catalog: deps.Catalog}, nil
}

func (s *serviceConsolidator) Consolidate(ctx context.Context, serviceTitles []string) (ConsolidatedServiceData, error) {
	titles := make([]string, 0, len(serviceTitles))
	for _, title := range serviceTitles {
		if trimmed := strings.TrimSpace(title); trimmed != "" {
			titles = append(titles, trimmed)
		}
	}
	if len(titles) == 0 {
		return ConsolidatedServiceData{}, fmt.Errorf("%w: at least one service title is required", ErrConsolidationInvalidInput)
	}
	if len(titles) > domain.MaxServiceSlots {
		return ConsolidatedServiceData{}, fmt.Errorf("%w: at most %d service titles", ErrConsolidationInvalidInput, domain.MaxServiceSlots)
	}

	entries := make([]ServiceCatalogEntry, 0, len(titles))
	for _, title := range titles {
		entry, err := s.catalog.FindByTitle(ctx, title)
		switch {
		case err == nil:
			entries = append(entries, entry)
		case isRepoNotFound(err):
			entries = append(entries, domain.FallbackCatalogEntry(title))
		case isRepoUnavailable(err):
			return ConsolidatedServiceData{}, fmt.Errorf("%w: %v", ErrConsolidationUnavailable, err)
		default:
			return ConsolidatedServiceData{}, err
		}
	}

	var (
		descriptions = newFoldedSet()
		materials    = newFoldedSet()
		laborRoles   = newFoldedSet()
		totalHours   float64
	)
	for _, entry := range entries {
		if !entry.IsFallback() {
			descriptions.add(entry.Description)
		}
		for _, material := range strings.Split(entry.Materials, ",") {
			materials.add(material)
		}
		laborRoles.add(entry.LaborRole)
		totalHours += entry.DurationHours
	}

	return ConsolidatedServiceData{
		Descriptions: descriptions.values(),
		Materials:    materials.values(),
		LaborRoles:   laborRoles.values(),
		Duration:     domain.DurationFromHours(totalHours),
	}, nil
}

// foldedSet deduplicates strings ignoring case and diacritics while preserving
// first-seen spelling and insertion order. Catalog content is authored in
// Spanish, so accent-insensitive matching is what keeps "lubricación" and
// "lubricacion" from listing twice.
type foldedSet struct {
	seen  map[string]struct{}
	order []string
}

func newFoldedSet() *foldedSet {
	return &foldedSet{seen: make(map[string]struct{})}
}

func (s *foldedSet) add(value string) {
	value = strings.TrimSpace(value)
	if value == "" {
		return
	}
	key := foldKey(value)
	if _, ok := s.seen[key]; ok {
		return
	}
	s.seen[key] = struct{}{}
	s.order = append(s.order, value)
}

func (s *foldedSet) values() []string {
	if len(s.order) == 0 {
		return nil
	}
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

var diacriticStripper = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

func foldKey(value string) string {
	stripped, _, err := transform.String(diacriticStripper, value)
	if err != nil {
		stripped = value
	}
	return strings.ToLower(stripped)
}
