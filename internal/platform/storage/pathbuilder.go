package storage

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// ObjectPurpose captures high-level intent for storage layout decisions.
type ObjectPurpose string

const (
	PurposeReportImage  ObjectPurpose = "report-image"
	PurposeReportExport ObjectPurpose = "report-export"
)

// PathParams provide required identifiers to compose storage object keys.
type PathParams struct {
	AuthorID string
	ReportID string
	FileName string
}

// PathBuilder composes the object path for a given purpose.
type PathBuilder func(PathParams) (string, error)

var (
	pathBuilders = map[ObjectPurpose]PathBuilder{
		PurposeReportImage:  buildReportImagePath,
		PurposeReportExport: buildReportExportPath,
	}
	pathBuildersMu sync.RWMutex

	segmentSanitizer = regexp.MustCompile(`[^a-zA-Z0-9]`)
)

// RegisterPathBuilder overrides or registers a builder for a specific purpose.
func RegisterPathBuilder(purpose ObjectPurpose, builder PathBuilder) {
	pathBuildersMu.Lock()
	defer pathBuildersMu.Unlock()
	if builder == nil {
		delete(pathBuilders, purpose)
		return
	}
	pathBuilders[purpose] = builder
}

// BuildObjectPath resolves the storage object path for the given purpose.
func BuildObjectPath(purpose ObjectPurpose, params PathParams) (string, error) {
	pathBuildersMu.RLock()
	builder, ok := pathBuilders[purpose]
	pathBuildersMu.RUnlock()
	if !ok {
		return "", fmt.Errorf("storage: unsupported object purpose %q", purpose)
	}
	return builder(params)
}

// SanitizeSegment collapses every character outside [a-zA-Z0-9] to an underscore,
// matching the layout convention of the historical report archive.
func SanitizeSegment(value string) string {
	return segmentSanitizer.ReplaceAllString(strings.TrimSpace(value), "_")
}

func buildReportImagePath(params PathParams) (string, error) {
	author, err := sanitizedSegment("authorID", params.AuthorID)
	if err != nil {
		return "", err
	}
	reportID, err := sanitizedSegment("reportID", params.ReportID)
	if err != nil {
		return "", err
	}
	fileName, err := validateFileName(params.FileName)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("informes/%s/%s/%s", author, reportID, fileName), nil
}

func buildReportExportPath(params PathParams) (string, error) {
	author, err := sanitizedSegment("authorID", params.AuthorID)
	if err != nil {
		return "", err
	}
	reportID, err := sanitizedSegment("reportID", params.ReportID)
	if err != nil {
		return "", err
	}
	fileName, err := validateFileName(params.FileName)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("informes/%s/%s/exports/%s", author, reportID, fileName), nil
}

func sanitizedSegment(name, value string) (string, error) {
	sanitized := SanitizeSegment(value)
	if sanitized == "" {
		return "", fmt.Errorf("storage: %s is required", name)
	}
	return sanitized, nil
}

func validateFileName(value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("storage: fileName is required")
	}
	if strings.ContainsAny(value, "/\\") {
		return "", fmt.Errorf("storage: fileName contains invalid path characters")
	}
	if strings.Contains(value, "..") {
		return "", fmt.Errorf("storage: fileName contains invalid traversal sequence")
	}
	return value, nil
}
