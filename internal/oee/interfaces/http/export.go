package http

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	oee "github.com/Viniciusjohn/cnc-telemetry/internal/oee/domain"
)

var exportColumns = []string{
	"date", "machine_id", "shift",
	"planned_time_min", "operating_time_min",
	"availability", "performance", "quality", "oee",
}

// BuildTrendCSV renders trend rows as CSV.
func BuildTrendCSV(results []oee.Result) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)
	if err := writer.Write(exportColumns); err != nil {
		return nil, err
	}
	for _, r := range results {
		if err := writer.Write([]string{
			r.Date,
			r.MachineID,
			string(r.Shift),
			formatFloat(r.PlannedTimeMin),
			formatFloat(r.OperatingTimeMin),
			formatFloat(r.Availability),
			formatFloat(r.Performance),
			formatFloat(r.Quality),
			formatFloat(r.OEE),
		}); err != nil {
			return nil, err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildTrendPDF renders a minimal PDF report of a trend.
func BuildTrendPDF(machineID, from, to string, results []oee.Result) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "OEE Report")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Machine: %s", machineID))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Period: %s to %s", from, to))
	pdf.Ln(8)

	pdf.SetFont("Arial", "B", 9)
	headers := []string{"Date", "Shift", "Planned", "Operating", "Avail.", "Perf.", "Quality", "OEE"}
	widths := []float64{24, 20, 22, 22, 22, 22, 22, 22}
	for i, header := range headers {
		pdf.CellFormat(widths[i], 6, header, "1", 0, "C", false, 0, "")
	}
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 9)
	for _, r := range results {
		pdf.CellFormat(widths[0], 6, r.Date, "1", 0, "C", false, 0, "")
		pdf.CellFormat(widths[1], 6, string(r.Shift), "1", 0, "C", false, 0, "")
		pdf.CellFormat(widths[2], 6, fmt.Sprintf("%.2f", r.PlannedTimeMin), "1", 0, "R", false, 0, "")
		pdf.CellFormat(widths[3], 6, fmt.Sprintf("%.2f", r.OperatingTimeMin), "1", 0, "R", false, 0, "")
		pdf.CellFormat(widths[4], 6, fmt.Sprintf("%.4f", r.Availability), "1", 0, "R", false, 0, "")
		pdf.CellFormat(widths[5], 6, fmt.Sprintf("%.4f", r.Performance), "1", 0, "R", false, 0, "")
		pdf.CellFormat(widths[6], 6, fmt.Sprintf("%.4f", r.Quality), "1", 0, "R", false, 0, "")
		pdf.CellFormat(widths[7], 6, fmt.Sprintf("%.4f", r.OEE), "1", 0, "R", false, 0, "")
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildTrendXLSX renders a trend workbook with a summary and a data sheet.
func BuildTrendXLSX(machineID, from, to string, results []oee.Result) ([]byte, error) {
	f := excelize.NewFile()
	summarySheet := "summary"
	dataSheet := "oee"
	_ = f.SetSheetName("Sheet1", summarySheet)
	if _, err := f.NewSheet(dataSheet); err != nil {
		return nil, err
	}

	_ = f.SetCellValue(summarySheet, "A1", "OEE Report")
	_ = f.SetCellValue(summarySheet, "A3", "Machine")
	_ = f.SetCellValue(summarySheet, "B3", machineID)
	_ = f.SetCellValue(summarySheet, "A4", "From")
	_ = f.SetCellValue(summarySheet, "B4", from)
	_ = f.SetCellValue(summarySheet, "A5", "To")
	_ = f.SetCellValue(summarySheet, "B5", to)
	_ = f.SetCellValue(summarySheet, "A6", "Days")
	_ = f.SetCellValue(summarySheet, "B6", len(results))

	for i, column := range exportColumns {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(dataSheet, cell, column)
	}
	for i, r := range results {
		row := i + 2
		values := []any{
			r.Date, r.MachineID, string(r.Shift),
			r.PlannedTimeMin, r.OperatingTimeMin,
			r.Availability, r.Performance, r.Quality, r.OEE,
		}
		for col, value := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			_ = f.SetCellValue(dataSheet, cell, value)
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func formatFloat(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}
