// Package docgen renders invoice PDFs and stores them on disk under a
// stable, invoice-number-derived location.
package docgen

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jung-kurt/gofpdf"
	"go.uber.org/zap"

	"github.com/avikram/invoiceflow/internal/db"
	"github.com/avikram/invoiceflow/internal/metrics"
)

// Generator renders an invoice document and returns its storage location
// relative to the public root. The location for a given invoice is stable
// across calls so regeneration overwrites rather than accumulates.
type Generator interface {
	Generate(inv *db.Invoice) (string, error)
}

// PDFGenerator renders invoices to PDF files under outputDir.
type PDFGenerator struct {
	outputDir string
	logger    *zap.Logger
}

func NewPDFGenerator(outputDir string, logger *zap.Logger) (*PDFGenerator, error) {
	if outputDir == "" {
		outputDir = "public/invoices"
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	return &PDFGenerator{outputDir: outputDir, logger: logger}, nil
}

// Location returns the public path an invoice document is served from.
func Location(invoiceNumber string) string {
	return "invoices/" + invoiceNumber + ".pdf"
}

func (g *PDFGenerator) Generate(inv *db.Invoice) (string, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 20)
	pdf.Cell(0, 12, "INVOICE")
	pdf.Ln(14)

	pdf.SetFont("Arial", "", 11)
	pdf.Cell(0, 7, fmt.Sprintf("Invoice Number: %s", inv.InvoiceNumber))
	pdf.Ln(7)
	pdf.Cell(0, 7, fmt.Sprintf("Date: %s", inv.CreatedAt.Format("2006-01-02")))
	pdf.Ln(7)
	pdf.Cell(0, 7, fmt.Sprintf("Bill To: %s", inv.CustomerName))
	pdf.Ln(7)
	if inv.CustomerEmail != "" {
		pdf.Cell(0, 7, inv.CustomerEmail)
		pdf.Ln(7)
	}
	pdf.Ln(5)

	// Line item table header.
	pdf.SetFont("Arial", "B", 11)
	pdf.CellFormat(90, 8, "Item", "1", 0, "L", false, 0, "")
	pdf.CellFormat(25, 8, "Qty", "1", 0, "R", false, 0, "")
	pdf.CellFormat(35, 8, "Price", "1", 0, "R", false, 0, "")
	pdf.CellFormat(40, 8, "Amount", "1", 1, "R", false, 0, "")

	pdf.SetFont("Arial", "", 11)
	for _, item := range inv.Items {
		amount := float64(item.Quantity) * item.Price
		pdf.CellFormat(90, 8, item.Name, "1", 0, "L", false, 0, "")
		pdf.CellFormat(25, 8, fmt.Sprintf("%d", item.Quantity), "1", 0, "R", false, 0, "")
		pdf.CellFormat(35, 8, fmt.Sprintf("%.2f", item.Price), "1", 0, "R", false, 0, "")
		pdf.CellFormat(40, 8, fmt.Sprintf("%.2f", amount), "1", 1, "R", false, 0, "")
	}

	pdf.Ln(4)
	pdf.SetFont("Arial", "", 11)
	pdf.CellFormat(150, 7, "Sub Total", "", 0, "R", false, 0, "")
	pdf.CellFormat(40, 7, fmt.Sprintf("%.2f", inv.SubTotal), "", 1, "R", false, 0, "")
	pdf.CellFormat(150, 7, "Tax", "", 0, "R", false, 0, "")
	pdf.CellFormat(40, 7, fmt.Sprintf("%.2f", inv.Tax), "", 1, "R", false, 0, "")
	pdf.SetFont("Arial", "B", 12)
	pdf.CellFormat(150, 8, "Total", "", 0, "R", false, 0, "")
	pdf.CellFormat(40, 8, fmt.Sprintf("%.2f", inv.Total), "", 1, "R", false, 0, "")

	filename := inv.InvoiceNumber + ".pdf"
	fullPath := filepath.Join(g.outputDir, filename)

	start := time.Now()
	if err := pdf.OutputFileAndClose(fullPath); err != nil {
		return "", fmt.Errorf("write pdf: %w", err)
	}
	metrics.RecordDocumentGenerated()

	g.logger.Info("invoice document generated",
		zap.String("invoice_number", inv.InvoiceNumber),
		zap.String("path", fullPath),
		zap.Duration("took", time.Since(start)),
	)

	return Location(inv.InvoiceNumber), nil
}
