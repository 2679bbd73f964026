package interfaces

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	ledger "dvp-ledger/internal/ledger/domain"
)

// BuildStatementPDF renders a settlement statement as PDF.
func BuildStatementPDF(s *ledger.Settlement) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Settlement Statement")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Settlement: %d", s.ID))
	pdf.Ln(5)
	if s.Reference != "" {
		pdf.Cell(0, 6, fmt.Sprintf("Reference: %s", s.Reference))
		pdf.Ln(5)
	}
	pdf.Cell(0, 6, fmt.Sprintf("Creator: %s", s.Creator))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Cutoff: %s", s.Cutoff.Format(time.RFC3339)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Status: %s", statementStatus(s)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Created: %s", s.CreatedAt.Format(time.RFC3339)))
	pdf.Ln(5)
	if !s.ExecutedAt.IsZero() {
		pdf.Cell(0, 6, fmt.Sprintf("Executed: %s", s.ExecutedAt.Format(time.RFC3339)))
		pdf.Ln(5)
	}
	pdf.Cell(0, 6, fmt.Sprintf("Escrow Held: %d", s.EscrowTotal()))
	pdf.Ln(8)

	writeFlowTable := func(title string, flows []ledger.Flow) {
		pdf.SetFont("Arial", "B", 10)
		pdf.Cell(0, 6, title)
		pdf.Ln(7)
		pdf.CellFormat(45, 6, "From", "1", 0, "C", false, 0, "")
		pdf.CellFormat(45, 6, "To", "1", 0, "C", false, 0, "")
		pdf.CellFormat(25, 6, "Kind", "1", 0, "C", false, 0, "")
		pdf.CellFormat(45, 6, "Contract", "1", 0, "C", false, 0, "")
		pdf.CellFormat(30, 6, "Value", "1", 0, "C", false, 0, "")
		pdf.Ln(-1)
		pdf.SetFont("Arial", "", 10)
		for _, f := range flows {
			pdf.CellFormat(45, 6, string(f.From), "1", 0, "L", false, 0, "")
			pdf.CellFormat(45, 6, string(f.To), "1", 0, "L", false, 0, "")
			pdf.CellFormat(25, 6, string(f.Asset.Kind), "1", 0, "C", false, 0, "")
			pdf.CellFormat(45, 6, string(f.Asset.Contract), "1", 0, "L", false, 0, "")
			pdf.CellFormat(30, 6, fmt.Sprintf("%d", f.Asset.Value), "1", 0, "R", false, 0, "")
			pdf.Ln(-1)
		}
		pdf.Ln(4)
	}

	writeFlowTable("Flows", s.Flows)
	if len(s.NettedFlows) > 0 {
		writeFlowTable("Netted Flows", s.NettedFlows)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildStatementXLSX renders a settlement statement as XLSX.
func BuildStatementXLSX(s *ledger.Settlement) ([]byte, error) {
	f := excelize.NewFile()
	summarySheet := "summary"
	flowsSheet := "flows"
	f.SetSheetName("Sheet1", summarySheet)
	if _, err := f.NewSheet(flowsSheet); err != nil {
		return nil, err
	}

	_ = f.SetCellValue(summarySheet, "A1", "Settlement Statement")
	_ = f.SetCellValue(summarySheet, "A3", "Settlement")
	_ = f.SetCellValue(summarySheet, "B3", s.ID)
	_ = f.SetCellValue(summarySheet, "A4", "Reference")
	_ = f.SetCellValue(summarySheet, "B4", s.Reference)
	_ = f.SetCellValue(summarySheet, "A5", "Creator")
	_ = f.SetCellValue(summarySheet, "B5", string(s.Creator))
	_ = f.SetCellValue(summarySheet, "A6", "Cutoff")
	_ = f.SetCellValue(summarySheet, "B6", s.Cutoff.Format(time.RFC3339))
	_ = f.SetCellValue(summarySheet, "A7", "Status")
	_ = f.SetCellValue(summarySheet, "B7", statementStatus(s))
	_ = f.SetCellValue(summarySheet, "A8", "Escrow Held")
	_ = f.SetCellValue(summarySheet, "B8", s.EscrowTotal())
	_ = f.SetCellValue(summarySheet, "A9", "Netting Enabled")
	_ = f.SetCellValue(summarySheet, "B9", s.NettingEnabled)

	_ = f.SetCellValue(flowsSheet, "A1", "Set")
	_ = f.SetCellValue(flowsSheet, "B1", "From")
	_ = f.SetCellValue(flowsSheet, "C1", "To")
	_ = f.SetCellValue(flowsSheet, "D1", "Kind")
	_ = f.SetCellValue(flowsSheet, "E1", "Contract")
	_ = f.SetCellValue(flowsSheet, "F1", "Value")
	row := 2
	writeFlows := func(set string, flows []ledger.Flow) {
		for _, flow := range flows {
			_ = f.SetCellValue(flowsSheet, fmt.Sprintf("A%d", row), set)
			_ = f.SetCellValue(flowsSheet, fmt.Sprintf("B%d", row), string(flow.From))
			_ = f.SetCellValue(flowsSheet, fmt.Sprintf("C%d", row), string(flow.To))
			_ = f.SetCellValue(flowsSheet, fmt.Sprintf("D%d", row), string(flow.Asset.Kind))
			_ = f.SetCellValue(flowsSheet, fmt.Sprintf("E%d", row), string(flow.Asset.Contract))
			_ = f.SetCellValue(flowsSheet, fmt.Sprintf("F%d", row), flow.Asset.Value)
			row++
		}
	}
	writeFlows("original", s.Flows)
	writeFlows("netted", s.NettedFlows)

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func statementStatus(s *ledger.Settlement) string {
	switch {
	case s.Executed:
		return "EXECUTED"
	case s.FullyApproved():
		return "APPROVED"
	default:
		return "PENDING"
	}
}
