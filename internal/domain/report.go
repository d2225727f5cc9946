package domain

import (
	"fmt"
	"strings"
	"time"
)

// ReportState is the lifecycle state of a technical report.
type ReportState string

const (
	ReportStateActive    ReportState = "active"
	ReportStateCompleted ReportState = "completed"
)

// Valid reports whether the state is one of the known lifecycle values.
func (s ReportState) Valid() bool {
	return s == ReportStateActive || s == ReportStateCompleted
}

// ImageRole tags photo evidence as taken before or after the work.
type ImageRole string

const (
	ImageRoleBefore ImageRole = "before"
	ImageRoleAfter  ImageRole = "after"
)

// Valid reports whether the role is a known evidence tag.
func (r ImageRole) Valid() bool {
	return r == ImageRoleBefore || r == ImageRoleAfter
}

// ImageSet holds the photo evidence for one role. Two persisted shapes coexist
// for backward compatibility: a legacy single URL and a URL list. A report uses
// exactly one shape per role; setting one shape clears the other.
type ImageSet struct {
	Single   string
	Multiple []string
}

// URLs normalises either shape to a list.
func (s ImageSet) URLs() []string {
	if len(s.Multiple) > 0 {
		out := make([]string, len(s.Multiple))
		copy(out, s.Multiple)
		return out
	}
	if strings.TrimSpace(s.Single) != "" {
		return []string{s.Single}
	}
	return nil
}

// Count returns the number of stored references regardless of shape.
func (s ImageSet) Count() int {
	return len(s.URLs())
}

// IsZero reports whether no evidence is attached.
func (s ImageSet) IsZero() bool {
	return s.Count() == 0
}

// IsSingle reports whether the set still uses the legacy single-URL shape.
func (s ImageSet) IsSingle() bool {
	return len(s.Multiple) == 0 && strings.TrimSpace(s.Single) != ""
}

// SetSingle switches the set to the legacy single-URL shape.
func (s *ImageSet) SetSingle(url string) {
	s.Single = strings.TrimSpace(url)
	s.Multiple = nil
}

// SetMultiple switches the set to the list shape.
func (s *ImageSet) SetMultiple(urls []string) {
	s.Single = ""
	s.Multiple = nil
	for _, url := range urls {
		if trimmed := strings.TrimSpace(url); trimmed != "" {
			s.Multiple = append(s.Multiple, trimmed)
		}
	}
}

// Remove drops one URL from the set, preserving the current shape.
func (s *ImageSet) Remove(url string) bool {
	url = strings.TrimSpace(url)
	if url == "" {
		return false
	}
	if s.Single == url {
		s.Single = ""
		return true
	}
	for i, candidate := range s.Multiple {
		if candidate == url {
			s.Multiple = append(s.Multiple[:i], s.Multiple[i+1:]...)
			return true
		}
	}
	return false
}

// TechnicalReport is the central persisted entity: the authored sign-off document
// derived from a work order. At most one active report exists per work-order id;
// the canonical id doubles as the document key to make the store enforce it.
type TechnicalReport struct {
	ID              string
	WorkOrderID     string
	VehicleID       string
	JobTitle        string
	Location        string
	Technician      string
	Authorizer      string
	Author          string
	AuthorEmail     string
	Description     string
	Activities      []string
	Materials       []string
	LaborRoles      []string
	Duration        ServiceDuration
	Notes           string
	Recommendations string
	Subtotal        int64
	Total           int64
	Before          ImageSet
	After           ImageSet
	State           ReportState
	Version         int
	CreatedAt       time.Time
	UpdatedAt       time.Time
	UpdatedBy       string
}

// ImagesFor returns the evidence set for the given role.
func (r *TechnicalReport) ImagesFor(role ImageRole) *ImageSet {
	if role == ImageRoleAfter {
		return &r.After
	}
	return &r.Before
}

// AllImageURLs lists every stored image reference across both roles.
func (r TechnicalReport) AllImageURLs() []string {
	return append(r.Before.URLs(), r.After.URLs()...)
}

// ReportID computes the canonical report identifier for a work order and date.
func ReportID(workOrderID string, date time.Time) string {
	return fmt.Sprintf("IT-%s-%s", strings.TrimSpace(workOrderID), date.Format("20060102"))
}

// ExportFileName names the PDF produced when a report is exported.
func ExportFileName(workOrderID string, at time.Time) string {
	return fmt.Sprintf("informe_%s_%d.pdf", strings.TrimSpace(workOrderID), at.UnixMilli())
}
