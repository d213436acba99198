package document

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"time"

	"github.com/go-pdf/fpdf"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Letter geometry in points. Pagination is computed against the usable
// band between the top and bottom margins.
const (
	pageWidthPt  = 612.0
	pageHeightPt = 792.0
	marginPt     = 54.0

	lineHeightPt   = 16.0
	blockGapPt     = 12.0
	labelWidthPt   = 110.0
	valueWidthPt   = pageWidthPt - 2*marginPt - labelWidthPt
	headerRowsPt   = 4 * lineHeightPt // title, prescriber and patient rows
	footerRowsPt   = 2 * lineHeightPt // signature line and timestamp
	usableHeightPt = pageHeightPt - 2*marginPt
)

// PageCount is the pagination rule: rendered content height divided by the
// usable page height, rounded up. Content taller than one page continues
// on offset subsequent pages rather than clipping.
func PageCount(contentHeightPt float64) int {
	if contentHeightPt <= 0 {
		return 1
	}
	return int(math.Ceil(contentHeightPt / usableHeightPt))
}

// Artifact is one finished rasterization.
type Artifact struct {
	PDF         []byte
	Pages       int
	GeneratedAt time.Time
}

// Renderer rasterizes a frozen snapshot.
type Renderer interface {
	Render(ctx context.Context, snap *Snapshot) (*Artifact, error)
}

// PDFGenerator renders snapshots with fpdf.
type PDFGenerator struct {
	logger *zap.Logger
}

func NewPDFGenerator(logger *zap.Logger) *PDFGenerator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PDFGenerator{logger: logger}
}

// Render rasterizes the snapshot into a letter-sized PDF. A failure is
// logged and returned; callers must not treat a partial buffer as a
// document.
func (g *PDFGenerator) Render(ctx context.Context, snap *Snapshot) (*Artifact, error) {
	_, span := otel.Tracer("document").Start(ctx, "document.Render")
	defer span.End()
	span.SetAttributes(attribute.String("pharmacy", string(snap.Pharmacy)))

	pdf := fpdf.New("P", "pt", "Letter", "")
	pdf.SetMargins(marginPt, marginPt, marginPt)
	pdf.SetAutoPageBreak(false, marginPt)
	pdf.AddPage()

	y := marginPt
	y = g.renderHeader(pdf, snap, y)

	for _, line := range snap.Script {
		rows := g.valueRows(pdf, line.Value)
		needed := float64(rows) * lineHeightPt
		if y+needed > pageHeightPt-marginPt {
			pdf.AddPage()
			y = marginPt
		}
		y = g.renderLine(pdf, line, y, rows)
	}

	if y+footerRowsPt+blockGapPt > pageHeightPt-marginPt {
		pdf.AddPage()
		y = marginPt
	}
	g.renderFooter(pdf, snap, y)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		g.logger.Error("confirmation document rasterization failed",
			zap.String("pharmacy", string(snap.Pharmacy)),
			zap.Error(err))
		return nil, fmt.Errorf("render confirmation document: %w", err)
	}

	art := &Artifact{
		PDF:         buf.Bytes(),
		Pages:       pdf.PageCount(),
		GeneratedAt: time.Now().UTC(),
	}
	g.logger.Debug("confirmation document rendered",
		zap.String("pharmacy", string(snap.Pharmacy)),
		zap.Int("pages", art.Pages),
		zap.Int("bytes", len(art.PDF)))
	return art, nil
}

func (g *PDFGenerator) renderHeader(pdf *fpdf.Fpdf, snap *Snapshot, y float64) float64 {
	pdf.SetFont("Helvetica", "B", 14)
	pdf.SetXY(marginPt, y)
	pdf.CellFormat(pageWidthPt-2*marginPt, lineHeightPt, "Prescription Confirmation", "", 0, "C", false, 0, "")
	y += lineHeightPt + blockGapPt

	pdf.SetFont("Helvetica", "B", 10)
	pdf.SetXY(marginPt, y)
	pdf.CellFormat(labelWidthPt, lineHeightPt, "Prescriber", "", 0, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 10)
	pdf.CellFormat(valueWidthPt, lineHeightPt,
		fmt.Sprintf("%s (NPI %s)", snap.PrescriberName, snap.PrescriberNPI), "", 0, "L", false, 0, "")
	y += lineHeightPt

	pdf.SetFont("Helvetica", "B", 10)
	pdf.SetXY(marginPt, y)
	pdf.CellFormat(labelWidthPt, lineHeightPt, "Patient", "", 0, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 10)
	pdf.CellFormat(valueWidthPt, lineHeightPt,
		fmt.Sprintf("%s, DOB %s", snap.PatientName, snap.PatientDOB), "", 0, "L", false, 0, "")
	y += lineHeightPt

	for _, addr := range snap.PatientAddr {
		pdf.SetXY(marginPt+labelWidthPt, y)
		pdf.CellFormat(valueWidthPt, lineHeightPt, addr, "", 0, "L", false, 0, "")
		y += lineHeightPt
	}
	if snap.PatientPhone != "" {
		pdf.SetXY(marginPt+labelWidthPt, y)
		pdf.CellFormat(valueWidthPt, lineHeightPt, snap.PatientPhone, "", 0, "L", false, 0, "")
		y += lineHeightPt
	}
	return y + blockGapPt
}

func (g *PDFGenerator) renderLine(pdf *fpdf.Fpdf, line Line, y float64, rows int) float64 {
	pdf.SetFont("Helvetica", "B", 10)
	pdf.SetXY(marginPt, y)
	pdf.CellFormat(labelWidthPt, lineHeightPt, line.Label, "", 0, "L", false, 0, "")

	pdf.SetFont("Helvetica", "", 10)
	pdf.SetXY(marginPt+labelWidthPt, y)
	pdf.MultiCell(valueWidthPt, lineHeightPt, line.Value, "", "L", false)
	return y + float64(rows)*lineHeightPt
}

func (g *PDFGenerator) renderFooter(pdf *fpdf.Fpdf, snap *Snapshot, y float64) {
	y += blockGapPt
	pdf.SetFont("Helvetica", "", 10)
	pdf.SetXY(marginPt, y)
	pdf.CellFormat(valueWidthPt, lineHeightPt,
		fmt.Sprintf("Electronically signed by %s", snap.PrescriberName), "", 0, "L", false, 0, "")

	pdf.SetXY(marginPt, y+lineHeightPt)
	pdf.CellFormat(valueWidthPt, lineHeightPt,
		snap.SignedAt.Format("January 2, 2006 3:04 PM MST"), "", 0, "L", false, 0, "")
}

// valueRows counts how many wrapped rows a value occupies at the script
// font, so pagination reserves the right height before drawing.
func (g *PDFGenerator) valueRows(pdf *fpdf.Fpdf, value string) int {
	pdf.SetFont("Helvetica", "", 10)
	lines := pdf.SplitText(value, valueWidthPt)
	if len(lines) == 0 {
		return 1
	}
	return len(lines)
}

// ContentHeight estimates the rendered height of a snapshot at the fixed
// page width. It drives the page-count invariant and is exercised directly
// by tests; Render paginates with the same row metrics.
func ContentHeight(snap *Snapshot) float64 {
	rows := len(snap.PatientAddr)
	if snap.PatientPhone != "" {
		rows++
	}
	height := headerRowsPt + float64(rows)*lineHeightPt
	height += float64(len(snap.Script)) * lineHeightPt
	height += footerRowsPt + 2*blockGapPt
	return height
}
