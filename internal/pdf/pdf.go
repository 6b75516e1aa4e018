// Package pdf renders an invoice into a single-page PDF document. The
// layout mirrors the printable invoice view: header with the invoice token
// and dates, issuer/client blocks, line table, totals box.
package pdf

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/diewo77/go-factures/internal/models"
	"github.com/go-pdf/fpdf"
)

// Data bundles everything the document needs.
type Data struct {
	Invoice models.Invoice
	Totals  models.Totals
}

// formatDate renders a stored date-only string for display. Unset or
// malformed dates come out as-is.
func formatDate(s string) string {
	d, err := time.Parse(models.DateLayout, s)
	if err != nil {
		return s
	}
	return d.Format("02/01/2006")
}

// Render produces the PDF bytes for one invoice.
func Render(d Data) ([]byte, error) {
	doc := fpdf.New("P", "mm", "A4", "")
	tr := doc.UnicodeTranslatorFromDescriptor("")
	doc.SetTitle(tr("Facture "+d.Invoice.ID), false)
	doc.AddPage()

	// Header
	doc.SetFont("Helvetica", "B", 26)
	doc.CellFormat(120, 12, "FACTURE", "", 0, "L", false, 0, "")
	doc.SetFont("Helvetica", "", 10)
	doc.CellFormat(70, 12, tr("Facture n° ")+d.Invoice.ID, "", 1, "R", false, 0, "")

	doc.SetFont("Helvetica", "", 10)
	doc.CellFormat(120, 6, "", "", 0, "L", false, 0, "")
	doc.CellFormat(70, 6, tr("Date : ")+formatDate(d.Invoice.InvoiceDate), "", 1, "R", false, 0, "")
	doc.CellFormat(120, 6, "", "", 0, "L", false, 0, "")
	doc.CellFormat(70, 6, tr("Échéance : ")+formatDate(d.Invoice.DueDate), "", 1, "R", false, 0, "")
	doc.Ln(8)

	// Issuer / client blocks
	doc.SetFont("Helvetica", "B", 10)
	doc.CellFormat(95, 6, tr("Émetteur"), "", 0, "L", false, 0, "")
	doc.CellFormat(95, 6, "Client", "", 1, "L", false, 0, "")
	doc.SetFont("Helvetica", "", 10)
	doc.CellFormat(95, 5, tr(d.Invoice.IssuerName), "", 0, "L", false, 0, "")
	doc.CellFormat(95, 5, tr(d.Invoice.ClientName), "", 1, "L", false, 0, "")

	y := doc.GetY()
	doc.SetFont("Helvetica", "", 9)
	doc.MultiCell(95, 4.5, tr(d.Invoice.IssuerAddress), "", "L", false)
	issuerEnd := doc.GetY()
	doc.SetXY(105, y)
	doc.MultiCell(95, 4.5, tr(d.Invoice.ClientAddress), "", "L", false)
	if doc.GetY() < issuerEnd {
		doc.SetY(issuerEnd)
	}
	doc.Ln(8)

	// Line table
	doc.SetFont("Helvetica", "B", 10)
	doc.SetFillColor(240, 240, 240)
	doc.CellFormat(90, 8, "Description", "1", 0, "L", true, 0, "")
	doc.CellFormat(25, 8, tr("Quantité"), "1", 0, "R", true, 0, "")
	doc.CellFormat(35, 8, "Prix unitaire", "1", 0, "R", true, 0, "")
	doc.CellFormat(40, 8, "Montant HT", "1", 1, "R", true, 0, "")

	doc.SetFont("Helvetica", "", 10)
	for _, line := range d.Invoice.Lines {
		doc.CellFormat(90, 7, tr(truncate(line.Description, 60)), "1", 0, "L", false, 0, "")
		doc.CellFormat(25, 7, trimZeros(line.Quantity), "1", 0, "R", false, 0, "")
		doc.CellFormat(35, 7, euro(line.UnitPrice), "1", 0, "R", false, 0, "")
		doc.CellFormat(40, 7, euro(line.AmountHT()), "1", 1, "R", false, 0, "")
	}
	doc.Ln(6)

	// Totals box
	doc.SetX(115)
	doc.CellFormat(40, 7, "Total HT", "", 0, "R", false, 0, "")
	doc.CellFormat(40, 7, euro(d.Totals.HT), "", 1, "R", false, 0, "")
	if d.Invoice.VATActive {
		doc.SetX(115)
		doc.CellFormat(40, 7, fmt.Sprintf("TVA (%s%%)", trimZeros(d.Invoice.VATRate)), "", 0, "R", false, 0, "")
		doc.CellFormat(40, 7, euro(d.Totals.VAT), "", 1, "R", false, 0, "")
	}
	doc.SetX(115)
	doc.SetFont("Helvetica", "B", 11)
	doc.CellFormat(40, 8, "Total TTC", "T", 0, "R", false, 0, "")
	doc.CellFormat(40, 8, euro(d.Totals.TTC), "T", 1, "R", false, 0, "")

	var buf bytes.Buffer
	if err := doc.Output(&buf); err != nil {
		return nil, fmt.Errorf("render invoice %s: %w", d.Invoice.ID, err)
	}
	return buf.Bytes(), nil
}

func euro(v float64) string {
	return fmt.Sprintf("%.2f EUR", v)
}

func trimZeros(v float64) string {
	s := fmt.Sprintf("%.3f", v)
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
