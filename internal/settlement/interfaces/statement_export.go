package interfaces

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	settlement "gearshare/internal/settlement/domain"
)

// BuildStatementPDF renders a payout statement as PDF.
func BuildStatementPDF(stmt *settlement.PayoutStatement) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Payout Statement")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Month: %s", stmt.Month.Format("2006-01")))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Generated: %s", stmt.GeneratedAt.Format(time.RFC3339)))
	pdf.Ln(8)

	for _, total := range stmt.Totals {
		pdf.Cell(0, 6, fmt.Sprintf("%s: %d bookings, gross %s, owners %s, platform %s",
			total.Currency, total.Bookings,
			settlement.FormatMinor(total.Gross),
			settlement.FormatMinor(total.OwnerPayout),
			settlement.FormatMinor(total.PlatformFee)))
		pdf.Ln(5)
	}
	pdf.Ln(4)

	pdf.SetFont("Arial", "B", 9)
	pdf.CellFormat(30, 6, "Booking", "1", 0, "C", false, 0, "")
	pdf.CellFormat(30, 6, "Owner", "1", 0, "C", false, 0, "")
	pdf.CellFormat(25, 6, "Paid out", "1", 0, "C", false, 0, "")
	pdf.CellFormat(25, 6, "Gross", "1", 0, "C", false, 0, "")
	pdf.CellFormat(25, 6, "Owner payout", "1", 0, "C", false, 0, "")
	pdf.CellFormat(25, 6, "Platform fee", "1", 0, "C", false, 0, "")
	pdf.CellFormat(15, 6, "Cur", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 9)
	for _, line := range stmt.Lines {
		pdf.CellFormat(30, 6, line.BookingID, "1", 0, "L", false, 0, "")
		pdf.CellFormat(30, 6, line.OwnerID, "1", 0, "L", false, 0, "")
		pdf.CellFormat(25, 6, line.PaidOutAt.Format("2006-01-02"), "1", 0, "C", false, 0, "")
		pdf.CellFormat(25, 6, settlement.FormatMinor(line.Gross), "1", 0, "R", false, 0, "")
		pdf.CellFormat(25, 6, settlement.FormatMinor(line.OwnerPayout), "1", 0, "R", false, 0, "")
		pdf.CellFormat(25, 6, settlement.FormatMinor(line.PlatformFee), "1", 0, "R", false, 0, "")
		pdf.CellFormat(15, 6, line.Currency, "1", 0, "C", false, 0, "")
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildStatementXLSX renders a payout statement as a workbook with a summary
// sheet and a lines sheet. Amounts are in minor units.
func BuildStatementXLSX(stmt *settlement.PayoutStatement) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()
	summarySheet := "summary"
	linesSheet := "lines"
	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(linesSheet); err != nil {
		return nil, err
	}

	_ = f.SetCellValue(summarySheet, "A1", "Payout Statement")
	_ = f.SetCellValue(summarySheet, "A3", "Month")
	_ = f.SetCellValue(summarySheet, "B3", stmt.Month.Format("2006-01"))
	_ = f.SetCellValue(summarySheet, "A4", "Generated")
	_ = f.SetCellValue(summarySheet, "B4", stmt.GeneratedAt.Format(time.RFC3339))
	_ = f.SetSheetRow(summarySheet, "A6", &[]any{"Currency", "Bookings", "Gross", "Owner payout", "Platform fee"})
	for i, total := range stmt.Totals {
		cell := fmt.Sprintf("A%d", i+7)
		_ = f.SetSheetRow(summarySheet, cell, &[]any{total.Currency, total.Bookings, total.Gross, total.OwnerPayout, total.PlatformFee})
	}

	_ = f.SetSheetRow(linesSheet, "A1", &[]any{"Booking", "Owner", "Item", "Paid out at", "Payout reference", "Gross", "Owner payout", "Platform fee", "Currency"})
	for i, line := range stmt.Lines {
		cell := fmt.Sprintf("A%d", i+2)
		_ = f.SetSheetRow(linesSheet, cell, &[]any{
			line.BookingID, line.OwnerID, line.ItemID, line.PaidOutAt.Format(time.RFC3339), line.PayoutReference,
			line.Gross, line.OwnerPayout, line.PlatformFee, line.Currency,
		})
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
