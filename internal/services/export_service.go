package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"

	domain "github.com/fleetworks/api/internal/domain"
)

// ErrExportInvalidInput indicates the report cannot be rendered.
var ErrExportInvalidInput = errors.New("export: invalid input")

// ExportEngineDeps bundles collaborators for the PDF export engine.
type ExportEngineDeps struct {
	Images ImageService
	Clock  func() time.Time
}

type exportEngine struct {
	images ImageService
	clock  func() time.Time
}

// NewExportEngine constructs the PDF export engine.
func NewExportEngine(deps ExportEngineDeps) (ExportEngine, error) {
	if deps.Images == nil {
		return nil, errors.New("export engine: image service is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &exportEngine{images: deps.Images, clock: clock}, nil
}

func (s *exportEngine) Export(ctx context.Context, report TechnicalReport) (ExportResult, error) {
	if strings.TrimSpace(report.ID) == "" {
		return ExportResult{}, fmt.Errorf("%w: report id is required", ErrExportInvalidInput)
	}

	pdf := fpdf.New("P", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetAutoPageBreak(true, 25)
	pdf.AddPage()

	pageWidth, pageHeight := pdf.GetPageSize()

	// Header: centred title plus the canonical report id.
	pdf.SetFont("Helvetica", "B", 16)
	pdf.CellFormat(0, 10, tr("INFORME TÉCNICO DE MANTENIMIENTO"), "", 1, "C", false, 0, "")
	pdf.SetFont("Helvetica", "", 12)
	pdf.CellFormat(0, 8, tr("ID: "+report.ID), "", 1, "C", false, 0, "")
	pdf.Line(20, pdf.GetY()+2, pageWidth-20, pdf.GetY()+2)
	pdf.Ln(10)

	writeSectionTitle(pdf, tr, "INFORMACIÓN GENERAL", 14)
	pdf.SetFont("Helvetica", "", 10)
	reportDate := report.CreatedAt
	if reportDate.IsZero() {
		reportDate = s.clock()
	}
	generalInfo := []string{
		"Número de Remisión: " + report.WorkOrderID,
		"Fecha: " + reportDate.Format("02/01/2006"),
		"Móvil: " + report.VehicleID,
		"Autoriza: " + report.Authorizer,
		"Técnico: " + report.Technician,
		"UNE: " + valueOrNA(report.Location),
		"Estado: " + string(report.State),
	}
	for _, line := range generalInfo {
		pdf.SetX(25)
		pdf.CellFormat(0, 6, tr(line), "", 1, "L", false, 0, "")
	}
	pdf.Ln(8)

	writeSectionTitle(pdf, tr, "TRABAJOS REALIZADOS", 14)
	pdf.SetFont("Helvetica", "", 10)
	pdf.SetX(25)
	pdf.MultiCell(pageWidth-50, 6, tr(report.JobTitle), "", "L", false)
	pdf.Ln(4)

	if len(report.Activities) > 0 {
		writeSectionTitle(pdf, tr, "Descripción de Actividades:", 12)
		pdf.SetFont("Helvetica", "", 9)
		for i, activity := range report.Activities {
			pdf.SetX(25)
			pdf.MultiCell(pageWidth-50, 5, tr(fmt.Sprintf("%d. %s", i+1, activity)), "", "L", false)
			pdf.Ln(2)
		}
		pdf.Ln(2)
	}

	if strings.TrimSpace(report.Description) != "" {
		writeSectionTitle(pdf, tr, "Descripción del Trabajo:", 12)
		pdf.SetFont("Helvetica", "", 9)
		pdf.SetX(25)
		pdf.MultiCell(pageWidth-50, 5, tr(report.Description), "", "L", false)
		pdf.Ln(4)
	}

	if len(report.Materials) > 0 {
		ensureRoom(pdf, pageHeight, 30)
		writeSectionTitle(pdf, tr, "Materiales Utilizados:", 12)
		pdf.SetFont("Helvetica", "", 10)
		for _, material := range report.Materials {
			pdf.SetX(25)
			pdf.MultiCell(pageWidth-50, 6, tr("• "+material), "", "L", false)
		}
		pdf.Ln(4)
	}

	if len(report.LaborRoles) > 0 {
		ensureRoom(pdf, pageHeight, 30)
		writeSectionTitle(pdf, tr, "Recursos Humanos:", 12)
		pdf.SetFont("Helvetica", "", 10)
		for _, role := range report.LaborRoles {
			pdf.SetX(25)
			pdf.MultiCell(pageWidth-50, 6, tr("• "+role), "", "L", false)
		}
		pdf.Ln(4)
	}

	writeSectionTitle(pdf, tr, "Tiempo Empleado:", 12)
	pdf.SetFont("Helvetica", "", 10)
	pdf.SetX(25)
	pdf.CellFormat(0, 6, tr(fmt.Sprintf("%dh%dmin", report.Duration.Hours, report.Duration.Minutes)), "", 1, "L", false, 0, "")
	pdf.Ln(6)

	s.writeEvidence(ctx, pdf, tr, report, pageWidth, pageHeight)

	if strings.TrimSpace(report.Notes) != "" {
		ensureRoom(pdf, pageHeight, 40)
		writeSectionTitle(pdf, tr, "OBSERVACIONES TÉCNICAS:", 12)
		pdf.SetFont("Helvetica", "", 10)
		pdf.SetX(25)
		pdf.MultiCell(pageWidth-50, 6, tr(report.Notes), "", "L", false)
	}

	s.writeSignaturePage(pdf, tr, report, pageWidth, pageHeight)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return ExportResult{}, fmt.Errorf("export: render pdf: %w", err)
	}

	return ExportResult{
		FileName:    domain.ExportFileName(report.WorkOrderID, s.clock()),
		ContentType: "application/pdf",
		Data:        buf.Bytes(),
	}, nil
}

func (s *exportEngine) writeEvidence(ctx context.Context, pdf *fpdf.Fpdf, tr func(string) string, report TechnicalReport, pageWidth, pageHeight float64) {
	beforeURLs := report.Before.URLs()
	afterURLs := report.After.URLs()
	if len(beforeURLs) == 0 && len(afterURLs) == 0 {
		return
	}

	pdf.AddPage()
	writeSectionTitle(pdf, tr, "EVIDENCIA FOTOGRÁFICA", 12)

	if len(beforeURLs) > 0 {
		pdf.SetFont("Helvetica", "B", 10)
		pdf.SetX(25)
		pdf.CellFormat(0, 6, tr("Fotos ANTES:"), "", 1, "L", false, 0, "")
		if report.Before.IsSingle() {
			listFileNames(pdf, tr, beforeURLs)
		} else {
			s.embedImages(ctx, pdf, "before", beforeURLs, pageWidth, pageHeight)
		}
	}
	if len(afterURLs) > 0 {
		ensureRoom(pdf, pageHeight, 60)
		pdf.SetFont("Helvetica", "B", 10)
		pdf.SetX(25)
		pdf.CellFormat(0, 6, tr("Fotos DESPUÉS:"), "", 1, "L", false, 0, "")
		if report.After.IsSingle() {
			listFileNames(pdf, tr, afterURLs)
		} else {
			s.embedImages(ctx, pdf, "after", afterURLs, pageWidth, pageHeight)
		}
	}
}

// listFileNames renders references as a numbered name list. Legacy single-shape
// reports predate inline embedding and keep this rendition.
func listFileNames(pdf *fpdf.Fpdf, tr func(string) string, urls []string) {
	pdf.SetFont("Helvetica", "", 9)
	for i, url := range urls {
		pdf.SetX(30)
		pdf.CellFormat(0, 5, tr(fmt.Sprintf("%d. %s", i+1, fileNameFromURL(url))), "", 1, "L", false, 0, "")
	}
	pdf.Ln(4)
}

func fileNameFromURL(url string) string {
	if strings.HasPrefix(url, "data:") {
		return "(imagen embebida)"
	}
	trimmed := url
	for _, sep := range []string{"?", "#"} {
		if i := strings.Index(trimmed, sep); i >= 0 {
			trimmed = trimmed[:i]
		}
	}
	if i := strings.LastIndex(trimmed, "/"); i >= 0 && i+1 < len(trimmed) {
		trimmed = trimmed[i+1:]
	}
	if strings.TrimSpace(trimmed) == "" {
		return url
	}
	return trimmed
}

func (s *exportEngine) embedImages(ctx context.Context, pdf *fpdf.Fpdf, label string, urls []string, pageWidth, pageHeight float64) {
	images := s.images.Materialize(ctx, urls)
	for i, img := range images {
		imageType := fpdfImageType(img.ContentType)
		if imageType == "" || len(img.Data) == 0 {
			pdf.SetFont("Helvetica", "", 9)
			pdf.SetX(30)
			pdf.CellFormat(0, 5, fmt.Sprintf("%d. (imagen no disponible)", i+1), "", 1, "L", false, 0, "")
			continue
		}

		ensureRoom(pdf, pageHeight, 75)
		name := fmt.Sprintf("%s-%d", label, i+1)
		opts := fpdf.ImageOptions{ImageType: imageType}
		pdf.RegisterImageOptionsReader(name, opts, bytes.NewReader(img.Data))
		pdf.ImageOptions(name, (pageWidth-120)/2, pdf.GetY()+2, 120, 0, true, opts, 0, "")
		pdf.Ln(4)
	}
	pdf.Ln(4)
}

func (s *exportEngine) writeSignaturePage(pdf *fpdf.Fpdf, tr func(string) string, report TechnicalReport, pageWidth, pageHeight float64) {
	pdf.AddPage()
	y := pageHeight - 60
	pdf.Line(20, y, pageWidth-20, y)
	y += 10

	pdf.SetFont("Helvetica", "", 10)
	pdf.Text(20, y, tr("Elaborado por:"))
	pdf.Text(60, y, tr(report.AuthorEmail))
	y += 10

	elaboratedAt := report.CreatedAt
	if elaboratedAt.IsZero() {
		elaboratedAt = s.clock()
	}
	pdf.Text(20, y, tr("Fecha de elaboración:"))
	pdf.Text(80, y, elaboratedAt.Format("02/01/2006"))
	y += 20

	pdf.Text(20, y, "_________________________")
	pdf.Text(120, y, "_________________________")
	y += 6
	pdf.Text(20, y, tr("Firma del Técnico"))
	pdf.Text(120, y, tr("Firma de Supervisión"))
}

func writeSectionTitle(pdf *fpdf.Fpdf, tr func(string) string, title string, size float64) {
	pdf.SetFont("Helvetica", "B", size)
	pdf.SetX(20)
	pdf.CellFormat(0, 8, tr(title), "", 1, "L", false, 0, "")
	pdf.Ln(1)
}

func ensureRoom(pdf *fpdf.Fpdf, pageHeight float64, needed float64) {
	if pdf.GetY() > pageHeight-needed {
		pdf.AddPage()
	}
}

func fpdfImageType(contentType string) string {
	switch strings.ToLower(strings.TrimSpace(contentType)) {
	case "image/jpeg", "image/jpg":
		return "JPG"
	case "image/png":
		return "PNG"
	case "image/gif":
		return "GIF"
	default:
		return ""
	}
}

func valueOrNA(value string) string {
	if trimmed := strings.TrimSpace(value); trimmed != "" {
		return trimmed
	}
	return "N/A"
}
