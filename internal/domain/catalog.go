package domain

import "strings"

// Fallback values substituted when a work order references a service title
// absent from the catalog. Consolidation must always succeed.
const (
	FallbackServiceDescription = "not available"
	FallbackLaborRole          = "technician"
	FallbackDurationHours      = 1.0
)

// ServiceCatalogEntry is a reusable description of a standard service, looked up
// by exact title match. Materials is a comma-separated list as authored in the
// catalog; consolidation splits and deduplicates it.
type ServiceCatalogEntry struct {
	Title         string
	Description   string
	Materials     string
	LaborRole     string
	DurationHours float64
}

// IsFallback reports whether the entry was synthesized for a missing catalog title.
func (e ServiceCatalogEntry) IsFallback() bool {
	return e.Description == FallbackServiceDescription &&
		e.LaborRole == FallbackLaborRole &&
		e.DurationHours == FallbackDurationHours
}

// FallbackCatalogEntry synthesizes the placeholder entry for a missing title.
func FallbackCatalogEntry(title string) ServiceCatalogEntry {
	return ServiceCatalogEntry{
		Title:         strings.TrimSpace(title),
		Description:   FallbackServiceDescription,
		LaborRole:     FallbackLaborRole,
		DurationHours: FallbackDurationHours,
	}
}

// ServiceDuration is a total duration split for display.
type ServiceDuration struct {
	Hours        int
	Minutes      int
	TotalMinutes int
}

// DurationFromHours converts fractional hours into the split representation.
func DurationFromHours(hours float64) ServiceDuration {
	if hours < 0 {
		hours = 0
	}
	total := int(hours*60 + 0.5)
	return ServiceDuration{
		Hours:        total / 60,
		Minutes:      total % 60,
		TotalMinutes: total,
	}
}

// ConsolidatedServiceData is the ephemeral merge of the catalog entries referenced
// by one work order. Never persisted on its own; folded into the report on save.
type ConsolidatedServiceData struct {
	Descriptions []string
	Materials    []string
	LaborRoles   []string
	Duration     ServiceDuration
}
