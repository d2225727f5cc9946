package services

import (
	"context"
	"errors"
)

// ExportArchive persists a rendered export document and mints a time-limited
// download link for it.
type ExportArchive interface {
	Store(ctx context.Context, report TechnicalReport, result ExportResult) (string, error)
}

// ArchivingExportEngineDeps bundles collaborators for the archiving decorator.
type ArchivingExportEngineDeps struct {
	Engine  ExportEngine
	Archive ExportArchive
	Logger  func(ctx context.Context, event string, fields map[string]any)
}

type archivingExportEngine struct {
	engine  ExportEngine
	archive ExportArchive
	logger  func(ctx context.Context, event string, fields map[string]any)
}

// NewArchivingExportEngine wraps an export engine so every rendered document is
// also copied to the archive. Archival is best-effort: a failed copy never
// fails the export, the caller just gets no download link.
func NewArchivingExportEngine(deps ArchivingExportEngineDeps) (ExportEngine, error) {
	if deps.Engine == nil {
		return nil, errors.New("archiving export engine: inner engine is required")
	}
	if deps.Archive == nil {
		return nil, errors.New("archiving export engine: archive is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &archivingExportEngine{
		engine:  deps.Engine,
		archive: deps.Archive,
		logger:  logger,
	}, nil
}

func (s *archivingExportEngine) Export(ctx context.Context, report TechnicalReport) (ExportResult, error) {
	result, err := s.engine.Export(ctx, report)
	if err != nil {
		return ExportResult{}, err
	}

	url, archiveErr := s.archive.Store(ctx, report, result)
	if archiveErr != nil {
		s.logger(ctx, "export.archive.failed", map[string]any{
			"reportId": report.ID,
			"fileName": result.FileName,
			"error":    archiveErr.Error(),
		})
		return result, nil
	}
	result.DownloadURL = url
	return result, nil
}
