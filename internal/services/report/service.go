package report

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/excerpo/internal/interfaces"
	"github.com/ternarybob/excerpo/internal/models"
)

// Layout constants for the A4 landscape grid.
const (
	pageMargin   = 10.0
	usableWidth  = 277.0 // A4 landscape width minus margins
	pageBottom   = 200.0 // A4 landscape height minus bottom margin
	gridFontSize = 8.0
	cellLine     = 4.0
	maxCellLines = 6
)

// Service renders assembled extraction reports as PDF: a job summary block
// followed by the document x configuration grid, one row per document, one
// column per configuration in the group's display order.
type Service struct {
	logger arbor.ILogger
}

var _ interfaces.ReportRenderer = (*Service)(nil)

func NewService(logger arbor.ILogger) *Service {
	return &Service{logger: logger}
}

func (s *Service) RenderExtractionReport(report *interfaces.ExtractionReport) ([]byte, error) {
	if report == nil || report.Job == nil {
		return nil, fmt.Errorf("extraction report requires a job")
	}

	pdf := fpdf.New("L", "mm", "A4", "")
	pdf.SetTitle("Extraction Report "+report.Job.ID, true)
	pdf.SetMargins(pageMargin, pageMargin, pageMargin)
	pdf.SetAutoPageBreak(true, pageMargin)
	pdf.AddPage()

	g := &grid{pdf: pdf, tr: pdf.UnicodeTranslatorFromDescriptor("")}
	g.title(report)
	g.summary(report.Job)
	g.table(report)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to generate report: %w", err)
	}

	s.logger.Debug().
		Str("job_id", report.Job.ID).
		Int("documents", len(report.Documents)).
		Int("configurations", len(report.Configurations)).
		Int("pdf_size", buf.Len()).
		Msg("Extraction report rendered")

	return buf.Bytes(), nil
}

// grid draws the report onto one fpdf page set. Core fonts are cp1252, so
// every string passes through the unicode translator before it is measured
// or written.
type grid struct {
	pdf *fpdf.Fpdf
	tr  func(string) string
}

func (g *grid) title(report *interfaces.ExtractionReport) {
	g.pdf.SetFont("Arial", "B", 16)
	g.pdf.CellFormat(0, 9, g.tr("Extraction Report"), "", 1, "L", false, 0, "")

	g.pdf.SetFont("Arial", "", 10)
	g.pdf.SetTextColor(90, 90, 90)
	scope := fmt.Sprintf("Collection %s, group %s", report.CollectionName, report.GroupName)
	g.pdf.CellFormat(0, 6, g.tr(scope), "", 1, "L", false, 0, "")
	g.pdf.SetTextColor(0, 0, 0)
	g.pdf.Ln(2)
}

func (g *grid) summary(job *models.ExtractionJob) {
	rows := [][2]string{
		{"Job", job.ID},
		{"Status", string(job.Status)},
		{"Documents", fmt.Sprintf("%d of %d processed, %d failed", job.ProcessedDocuments, job.TotalDocuments, job.FailedDocuments)},
		{"Started", formatTime(job.StartedAt)},
		{"Completed", formatTime(job.CompletedAt)},
	}
	if job.ErrorDetails != "" {
		rows = append(rows, [2]string{"Detail", job.ErrorDetails})
	}

	for _, row := range rows {
		g.pdf.SetFont("Arial", "B", 9)
		g.pdf.CellFormat(26, 5, g.tr(row[0]), "", 0, "L", false, 0, "")
		g.pdf.SetFont("Arial", "", 9)
		g.pdf.CellFormat(0, 5, g.tr(row[1]), "", 1, "L", false, 0, "")
	}
	g.pdf.Ln(3)
}

func (g *grid) table(report *interfaces.ExtractionReport) {
	header := make([]string, 0, len(report.Configurations)+1)
	header = append(header, "Document")
	header = append(header, report.Configurations...)

	widths := g.columnWidths(header, report.Documents)

	g.drawRow(header, widths, true)
	for _, doc := range report.Documents {
		cells := make([]string, len(header))
		cells[0] = doc.DisplayName
		for i, name := range report.Configurations {
			cells[i+1] = doc.Values[name]
		}

		// The header row repeats after a page break so wide jobs stay
		// readable.
		if g.pdf.GetY()+g.measureRow(cells, widths) > pageBottom {
			g.pdf.AddPage()
			g.drawRow(header, widths, true)
		}
		g.drawRow(cells, widths, false)
	}
	g.pdf.Ln(3)
}

// columnWidths sizes columns from measured string widths: headers in bold,
// values in the grid font, clamped between a floor and a third of the page,
// then scaled to fit or to fill.
func (g *grid) columnWidths(header []string, docs []interfaces.ReportDocument) []float64 {
	widths := make([]float64, len(header))

	g.pdf.SetFont("Arial", "B", gridFontSize)
	for i, cell := range header {
		if w := g.pdf.GetStringWidth(g.tr(cell)) + 4; w > widths[i] {
			widths[i] = w
		}
	}

	g.pdf.SetFont("Arial", "", gridFontSize)
	for _, doc := range docs {
		if w := g.pdf.GetStringWidth(g.tr(doc.DisplayName)) + 4; w > widths[0] {
			widths[0] = w
		}
		for i, name := range header[1:] {
			if w := g.pdf.GetStringWidth(g.tr(doc.Values[name])) + 4; w > widths[i+1] {
				widths[i+1] = w
			}
		}
	}

	minWidth, maxWidth := 18.0, usableWidth/3
	total := 0.0
	for i := range widths {
		if widths[i] < minWidth {
			widths[i] = minWidth
		}
		if widths[i] > maxWidth {
			widths[i] = maxWidth
		}
		total += widths[i]
	}

	if total > usableWidth {
		scale := usableWidth / total
		for i := range widths {
			widths[i] *= scale
		}
	} else if total < usableWidth*0.9 {
		scale := usableWidth / total
		if scale > 1.5 {
			scale = 1.5
		}
		for i := range widths {
			widths[i] *= scale
		}
	}
	return widths
}

func (g *grid) measureRow(cells []string, widths []float64) float64 {
	g.pdf.SetFont("Arial", "", gridFontSize)
	maxLines := 1
	for i, cell := range cells {
		lines := len(g.wrap(g.tr(cell), widths[i]-2))
		if lines > maxCellLines {
			lines = maxCellLines
		}
		if lines > maxLines {
			maxLines = lines
		}
	}
	return float64(maxLines)*cellLine + 2
}

func (g *grid) drawRow(cells []string, widths []float64, headerStyle bool) {
	wrapped := make([][]string, len(cells))
	maxLines := 1
	for i, cell := range cells {
		g.setCellFont(cell, headerStyle)
		lines := g.wrap(g.tr(cell), widths[i]-2)
		if len(lines) > maxCellLines {
			lines = lines[:maxCellLines]
			last := lines[maxCellLines-1]
			for g.pdf.GetStringWidth(last+"...") > widths[i]-2 && len(last) > 3 {
				last = last[:len(last)-1]
			}
			lines[maxCellLines-1] = last + "..."
		}
		wrapped[i] = lines
		if len(lines) > maxLines {
			maxLines = len(lines)
		}
	}
	rowHeight := float64(maxLines)*cellLine + 2

	startY := g.pdf.GetY()
	x := pageMargin
	for i, lines := range wrapped {
		g.setCellFont(cells[i], headerStyle)
		if headerStyle {
			g.pdf.SetFillColor(230, 230, 230)
			g.pdf.Rect(x, startY, widths[i], rowHeight, "FD")
		} else {
			g.pdf.Rect(x, startY, widths[i], rowHeight, "D")
		}
		g.pdf.SetXY(x+1, startY+1)
		for _, line := range lines {
			g.pdf.CellFormat(widths[i]-2, cellLine, line, "", 2, "L", false, 0, "")
		}
		x += widths[i]
	}
	g.pdf.SetTextColor(0, 0, 0)
	g.pdf.SetXY(pageMargin, startY+rowHeight)
}

// setCellFont picks the cell style. Sentinel outcomes render gray italic so
// real values stand out at a glance.
func (g *grid) setCellFont(value string, headerStyle bool) {
	switch {
	case headerStyle:
		g.pdf.SetFont("Arial", "B", gridFontSize)
		g.pdf.SetTextColor(0, 0, 0)
	case models.IsSentinelValue(value):
		g.pdf.SetFont("Arial", "I", gridFontSize)
		g.pdf.SetTextColor(128, 128, 128)
	default:
		g.pdf.SetFont("Arial", "", gridFontSize)
		g.pdf.SetTextColor(0, 0, 0)
	}
}

// wrap splits text into lines that fit the given width using measured
// string widths with the current font. Text must already be translated.
func (g *grid) wrap(text string, width float64) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return []string{""}
	}

	spaceWidth := g.pdf.GetStringWidth(" ")
	var lines []string
	current := words[0]
	currentWidth := g.pdf.GetStringWidth(words[0])

	for _, word := range words[1:] {
		wordWidth := g.pdf.GetStringWidth(word)
		if currentWidth+spaceWidth+wordWidth <= width {
			current += " " + word
			currentWidth += spaceWidth + wordWidth
			continue
		}
		lines = append(lines, current)
		current = word
		currentWidth = wordWidth
	}
	return append(lines, current)
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format("2006-01-02 15:04:05")
}
