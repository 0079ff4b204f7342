package report

import (
	"bytes"
	"context"
	"fmt"

	"github.com/xuri/excelize/v2"
)

// ExcelGenerator renders a Data as a three-sheet workbook: a per-vehicle
// summary sheet, one sheet of raw telemetry events, and one sheet of
// rollup aggregates.
type ExcelGenerator struct {
	BaseGenerator
}

// NewExcelGenerator builds an ExcelGenerator.
func NewExcelGenerator() *ExcelGenerator { return &ExcelGenerator{} }

// Format reports the XLSX output format.
func (g *ExcelGenerator) Format() Format { return FormatXLSX }

// Generate renders data as an .xlsx workbook.
func (g *ExcelGenerator) Generate(_ context.Context, data *Data) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"2C3E50"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	if err != nil {
		return nil, fmt.Errorf("report: build header style: %w", err)
	}

	if err := g.writeSummarySheet(f, data, headerStyle); err != nil {
		return nil, err
	}
	if err := g.writeEventsSheet(f, data, headerStyle); err != nil {
		return nil, err
	}
	if err := g.writeRollupsSheet(f, data, headerStyle); err != nil {
		return nil, err
	}

	// The default sheet can only go once the workbook has others.
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, fmt.Errorf("report: delete default sheet: %w", err)
	}
	f.SetActiveSheet(0)

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("report: write xlsx: %w", err)
	}
	return buf.Bytes(), nil
}

func (g *ExcelGenerator) writeSummarySheet(f *excelize.File, data *Data, headerStyle int) error {
	const sheet = "Vehicles"
	if _, err := f.NewSheet(sheet); err != nil {
		return err
	}

	headers := []string{"Vehicle ID", "Lat", "Lng", "Speed (km/h)", "Fuel (%)", "Engine Status", "Last Seen"}
	for i, h := range headers {
		cell := CellAddr(ColName(i), 1)
		_ = f.SetCellValue(sheet, cell, h)
	}
	_ = f.SetCellStyle(sheet, "A1", CellAddr(ColName(len(headers)-1), 1), headerStyle)

	_ = f.SetCellValue(sheet, CellAddr("A", len(data.Vehicles)+3), fmt.Sprintf("Report ID: %s", data.ReportID))

	row := 2
	for _, v := range data.Vehicles {
		_ = f.SetCellValue(sheet, CellAddr("A", row), v.VehicleID)
		_ = f.SetCellValue(sheet, CellAddr("B", row), v.Lat)
		_ = f.SetCellValue(sheet, CellAddr("C", row), v.Lng)
		_ = f.SetCellValue(sheet, CellAddr("D", row), v.SpeedKmh)
		_ = f.SetCellValue(sheet, CellAddr("E", row), v.FuelLevel)
		_ = f.SetCellValue(sheet, CellAddr("F", row), v.EngineStatus)
		_ = f.SetCellValue(sheet, CellAddr("G", row), v.LastSeen.Format("2006-01-02T15:04:05Z07:00"))
		row++
	}
	return nil
}

func (g *ExcelGenerator) writeEventsSheet(f *excelize.File, data *Data, headerStyle int) error {
	const sheet = "Events"
	if _, err := f.NewSheet(sheet); err != nil {
		return err
	}

	headers := []string{"Event ID", "Vehicle ID", "Recorded At", "Ingest At", "Lat", "Lng", "Speed (km/h)", "Fuel (%)", "Engine Status", "Distance (km)"}
	for i, h := range headers {
		cell := CellAddr(ColName(i), 1)
		_ = f.SetCellValue(sheet, cell, h)
	}
	_ = f.SetCellStyle(sheet, "A1", CellAddr(ColName(len(headers)-1), 1), headerStyle)

	row := 2
	for _, e := range data.Events {
		_ = f.SetCellValue(sheet, CellAddr("A", row), e.EventID)
		_ = f.SetCellValue(sheet, CellAddr("B", row), e.VehicleID)
		_ = f.SetCellValue(sheet, CellAddr("C", row), e.RecordedAt.Format("2006-01-02T15:04:05Z07:00"))
		_ = f.SetCellValue(sheet, CellAddr("D", row), e.IngestAt.Format("2006-01-02T15:04:05Z07:00"))
		_ = f.SetCellValue(sheet, CellAddr("E", row), e.Lat)
		_ = f.SetCellValue(sheet, CellAddr("F", row), e.Lng)
		_ = f.SetCellValue(sheet, CellAddr("G", row), e.SpeedKmh)
		_ = f.SetCellValue(sheet, CellAddr("H", row), e.FuelLevel)
		_ = f.SetCellValue(sheet, CellAddr("I", row), e.EngineStatus)
		_ = f.SetCellValue(sheet, CellAddr("J", row), e.DistanceKm)
		row++
	}
	if data.EventsTruncated {
		_ = f.SetCellValue(sheet, CellAddr("A", row+1), fmt.Sprintf("Truncated to %d rows; use /telemetry/history for the full range.", len(data.Events)))
	}
	return nil
}

func (g *ExcelGenerator) writeRollupsSheet(f *excelize.File, data *Data, headerStyle int) error {
	const sheet = "Rollups"
	if _, err := f.NewSheet(sheet); err != nil {
		return err
	}

	headers := []string{"Vehicle ID", "Bucket Start", "Bucket End", "Avg Speed", "Max Speed", "Min Fuel", "Total Distance (km)", "Sample Count"}
	for i, h := range headers {
		cell := CellAddr(ColName(i), 1)
		_ = f.SetCellValue(sheet, cell, h)
	}
	_ = f.SetCellStyle(sheet, "A1", CellAddr(ColName(len(headers)-1), 1), headerStyle)

	row := 2
	for _, b := range data.Buckets {
		_ = f.SetCellValue(sheet, CellAddr("A", row), b.VehicleID)
		_ = f.SetCellValue(sheet, CellAddr("B", row), b.BucketStart.Format("2006-01-02T15:04:05Z07:00"))
		_ = f.SetCellValue(sheet, CellAddr("C", row), b.BucketEnd.Format("2006-01-02T15:04:05Z07:00"))
		_ = f.SetCellValue(sheet, CellAddr("D", row), b.AvgSpeed)
		_ = f.SetCellValue(sheet, CellAddr("E", row), b.MaxSpeed)
		_ = f.SetCellValue(sheet, CellAddr("F", row), b.MinFuel)
		_ = f.SetCellValue(sheet, CellAddr("G", row), b.TotalDistance)
		_ = f.SetCellValue(sheet, CellAddr("H", row), b.SampleCount)
		row++
	}
	return nil
}
