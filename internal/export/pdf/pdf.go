// Package pdf renders question/answer exports with fpdf.
package pdf

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-pdf/fpdf"

	"github.com/JakeFAU/qa-harvester/internal/harvest"
)

const (
	title        = "Quora Q&A Export"
	contentWidth = 0 // full width between margins
	pageBottom   = 260.0
)

// Renderer implements harvest.Renderer.
type Renderer struct {
	clock harvest.Clock
}

// New returns a Renderer stamping documents with clock's date.
func New(clock harvest.Clock) *Renderer {
	return &Renderer{clock: clock}
}

// ContentType implements harvest.Renderer.
func (r *Renderer) ContentType() string { return "application/pdf" }

// Extension implements harvest.Renderer.
func (r *Renderer) Extension() string { return "pdf" }

// Render lays out rows as numbered question, answer and source blocks.
func (r *Renderer) Render(ctx context.Context, rows []harvest.QATriple) ([]byte, error) {
	if len(rows) == 0 {
		return nil, errors.New("nothing to render")
	}
	doc := fpdf.New("P", "mm", "A4", "")
	doc.SetTitle(title, true)
	doc.SetMargins(18, 18, 18)
	doc.SetAutoPageBreak(true, 20)
	doc.AliasNbPages("")
	tr := doc.UnicodeTranslatorFromDescriptor("")
	doc.SetFooterFunc(func() {
		doc.SetY(-15)
		doc.SetFont("Helvetica", "I", 8)
		doc.SetTextColor(128, 128, 128)
		doc.CellFormat(0, 10, fmt.Sprintf("Page %d of {nb}", doc.PageNo()), "", 0, "C", false, 0, "")
	})
	doc.AddPage()

	doc.SetFont("Helvetica", "B", 22)
	doc.SetTextColor(59, 130, 246)
	doc.CellFormat(contentWidth, 12, title, "", 1, "C", false, 0, "")
	doc.SetFont("Helvetica", "", 11)
	doc.SetTextColor(102, 102, 102)
	doc.CellFormat(contentWidth, 8, "Generated on: "+r.now().Format("January 2, 2006"), "", 1, "C", false, 0, "")
	doc.Ln(8)

	for i, row := range rows {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("render canceled: %w", err)
		}
		if doc.GetY() > pageBottom {
			doc.AddPage()
		}
		doc.SetFont("Helvetica", "B", 14)
		doc.SetTextColor(31, 41, 55)
		doc.MultiCell(contentWidth, 7, tr(fmt.Sprintf("Q%d: %s", i+1, row.Question)), "", "L", false)
		doc.Ln(2)

		doc.SetFont("Helvetica", "B", 11)
		doc.SetTextColor(55, 65, 81)
		doc.CellFormat(contentWidth, 6, "Answer:", "", 1, "L", false, 0, "")
		doc.SetFont("Helvetica", "", 10)
		doc.SetTextColor(75, 85, 99)
		doc.MultiCell(contentWidth, 5, tr(row.Answer), "", "J", false)
		doc.Ln(2)

		doc.SetFont("Helvetica", "", 9)
		doc.SetTextColor(59, 130, 246)
		doc.Write(5, "Source: ")
		doc.WriteLinkString(5, tr(row.Link), row.Link)
		doc.Ln(8)

		if i < len(rows)-1 {
			doc.SetDrawColor(229, 231, 235)
			y := doc.GetY()
			doc.Line(18, y, 192, y)
			doc.Ln(6)
		}
	}

	if err := doc.Error(); err != nil {
		return nil, fmt.Errorf("layout pdf: %w", err)
	}
	var buf bytes.Buffer
	if err := doc.Output(&buf); err != nil {
		return nil, fmt.Errorf("write pdf: %w", err)
	}
	return buf.Bytes(), nil
}

func (r *Renderer) now() time.Time {
	if r.clock == nil {
		return time.Now()
	}
	return r.clock.Now()
}
