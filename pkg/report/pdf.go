package report

import (
	"context"
	"fmt"
	"time"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/line"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/border"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/core"
	"github.com/johnfercher/maroto/v2/pkg/props"

	"fleetpulse/internal/query"
)

// PDFGenerator renders a Data into a branded fleet PDF report: a header,
// an optional operational-metrics row, a per-vehicle summary table, and
// the requested aggregate window rendered as a table.
type PDFGenerator struct {
	BaseGenerator
}

// NewPDFGenerator builds a PDFGenerator.
func NewPDFGenerator() *PDFGenerator { return &PDFGenerator{} }

// Format reports the PDF output format.
func (g *PDFGenerator) Format() Format { return FormatPDF }

var (
	primaryColor   = &props.Color{Red: 52, Green: 152, Blue: 219}
	headerBgColor  = &props.Color{Red: 44, Green: 62, Blue: 80}
	lightGrayColor = &props.Color{Red: 236, Green: 240, Blue: 241}
	darkGrayColor  = &props.Color{Red: 127, Green: 140, Blue: 141}

	titleStyle  = props.Text{Size: 22, Style: fontstyle.Bold, Align: align.Center, Color: headerBgColor}
	h2Style     = props.Text{Size: 14, Style: fontstyle.Bold, Color: headerBgColor, Top: 4}
	smallStyle  = props.Text{Size: 8, Color: darkGrayColor}
	normalStyle = props.Text{Size: 9}

	metricValueStyle = props.Text{Size: 18, Style: fontstyle.Bold, Align: align.Center, Color: primaryColor}
	metricLabelStyle = props.Text{Size: 8, Align: align.Center, Color: darkGrayColor}

	tableHeaderStyle     = &props.Cell{BackgroundColor: primaryColor}
	tableHeaderTextStyle = props.Text{Size: 8, Style: fontstyle.Bold, Color: &props.Color{Red: 255, Green: 255, Blue: 255}, Align: align.Center}
	tableCellStyle       = &props.Cell{BorderType: border.Bottom, BorderColor: lightGrayColor}
	tableCellTextStyle   = props.Text{Size: 8, Align: align.Center}
)

// Generate renders data as a PDF document.
func (g *PDFGenerator) Generate(_ context.Context, data *Data) ([]byte, error) {
	cfg := config.NewBuilder().
		WithPageNumber().
		WithLeftMargin(15).
		WithTopMargin(15).
		WithRightMargin(15).
		Build()

	m := maroto.New(cfg)

	g.addHeader(m, data)
	if data.Metrics != nil {
		g.addMetricsSection(m, data.Metrics)
	}
	g.addVehiclesSection(m, data.Vehicles)
	g.addAggregatesSection(m, data)
	g.addFooter(m, data)

	doc, err := m.Generate()
	if err != nil {
		return nil, fmt.Errorf("report: generate pdf: %w", err)
	}
	return doc.GetBytes(), nil
}

func (g *PDFGenerator) addHeader(m core.Maroto, data *Data) {
	title := "Fleet Telemetry Report"
	if data.CompanyName != "" {
		title = data.CompanyName + " — " + title
	}

	m.AddRow(14, text.NewCol(12, title, titleStyle))
	m.AddRow(4, line.NewCol(12))
	m.AddRow(6,
		text.NewCol(6, fmt.Sprintf("Range: %s to %s",
			data.RangeStart.Format(time.RFC3339), data.RangeEnd.Format(time.RFC3339)), smallStyle),
		text.NewCol(6, fmt.Sprintf("Generated: %s", data.GeneratedAt.Format("2006-01-02 15:04:05")),
			props.Text{Size: 8, Color: darkGrayColor, Align: align.Right}),
	)
	m.AddRow(8)
}

func (g *PDFGenerator) addSection(m core.Maroto, title string) {
	m.AddRow(8, text.NewCol(12, title, h2Style))
	m.AddRow(2, line.NewCol(12, props.Line{Color: primaryColor}))
	m.AddRow(4)
}

func (g *PDFGenerator) addMetricsSection(m core.Maroto, metrics *query.OperationalMetrics) {
	g.addSection(m, "Fleet Operational Metrics")
	m.AddRow(20,
		col.New(3).Add(
			text.New(fmt.Sprintf("%d", metrics.TotalMessages), metricValueStyle),
			text.New("Total Messages", metricLabelStyle),
		),
		col.New(3).Add(
			text.New(fmt.Sprintf("%d", metrics.InvalidMessages), metricValueStyle),
			text.New("Invalid Messages", metricLabelStyle),
		),
		col.New(3).Add(
			text.New(fmt.Sprintf("%d", metrics.ConnectedClients), metricValueStyle),
			text.New("Connected Clients", metricLabelStyle),
		),
		col.New(3).Add(
			text.New(g.FormatFloat(metrics.MessageRatePerSec, 2), metricValueStyle),
			text.New(fmt.Sprintf("Msg/s (%.0fs window)", metrics.RateWindowSeconds), metricLabelStyle),
		),
	)
	m.AddRow(6)
}

func (g *PDFGenerator) addVehiclesSection(m core.Maroto, vehicles []query.VehicleState) {
	g.addSection(m, fmt.Sprintf("Vehicle Summary (%d vehicles)", len(vehicles)))

	m.AddRow(7,
		text.NewCol(2, "Vehicle", tableHeaderTextStyle).WithStyle(tableHeaderStyle),
		text.NewCol(2, "Lat", tableHeaderTextStyle).WithStyle(tableHeaderStyle),
		text.NewCol(2, "Lng", tableHeaderTextStyle).WithStyle(tableHeaderStyle),
		text.NewCol(2, "Speed km/h", tableHeaderTextStyle).WithStyle(tableHeaderStyle),
		text.NewCol(2, "Fuel %", tableHeaderTextStyle).WithStyle(tableHeaderStyle),
		text.NewCol(2, "Status", tableHeaderTextStyle).WithStyle(tableHeaderStyle),
	)

	for _, v := range vehicles {
		m.AddRow(6,
			text.NewCol(2, v.VehicleID, tableCellTextStyle).WithStyle(tableCellStyle),
			text.NewCol(2, g.FormatFloat(v.Lat, 4), tableCellTextStyle).WithStyle(tableCellStyle),
			text.NewCol(2, g.FormatFloat(v.Lng, 4), tableCellTextStyle).WithStyle(tableCellStyle),
			text.NewCol(2, g.FormatFloat(v.SpeedKmh, 1), tableCellTextStyle).WithStyle(tableCellStyle),
			text.NewCol(2, g.FormatFloat(v.FuelLevel, 1), tableCellTextStyle).WithStyle(tableCellStyle),
			text.NewCol(2, v.EngineStatus, tableCellTextStyle).WithStyle(tableCellStyle),
		)
	}
	m.AddRow(6)
}

func (g *PDFGenerator) addAggregatesSection(m core.Maroto, data *Data) {
	g.addSection(m, fmt.Sprintf("Aggregates (%ds window)", data.WindowSeconds))

	if len(data.Buckets) == 0 {
		m.AddRow(6, text.NewCol(12, "No aggregate buckets in range.", normalStyle))
		return
	}

	m.AddRow(7,
		text.NewCol(2, "Vehicle", tableHeaderTextStyle).WithStyle(tableHeaderStyle),
		text.NewCol(3, "Bucket Start", tableHeaderTextStyle).WithStyle(tableHeaderStyle),
		text.NewCol(2, "Avg Speed", tableHeaderTextStyle).WithStyle(tableHeaderStyle),
		text.NewCol(2, "Max Speed", tableHeaderTextStyle).WithStyle(tableHeaderStyle),
		text.NewCol(1, "Min Fuel", tableHeaderTextStyle).WithStyle(tableHeaderStyle),
		text.NewCol(2, "Distance km", tableHeaderTextStyle).WithStyle(tableHeaderStyle),
	)

	for _, b := range data.Buckets {
		m.AddRow(6,
			text.NewCol(2, b.VehicleID, tableCellTextStyle).WithStyle(tableCellStyle),
			text.NewCol(3, b.BucketStart.Format("01-02 15:04"), tableCellTextStyle).WithStyle(tableCellStyle),
			text.NewCol(2, g.FormatFloat(b.AvgSpeed, 1), tableCellTextStyle).WithStyle(tableCellStyle),
			text.NewCol(2, g.FormatFloat(b.MaxSpeed, 1), tableCellTextStyle).WithStyle(tableCellStyle),
			text.NewCol(1, g.FormatFloat(b.MinFuel, 0), tableCellTextStyle).WithStyle(tableCellStyle),
			text.NewCol(2, g.FormatFloat(b.TotalDistance, 2), tableCellTextStyle).WithStyle(tableCellStyle),
		)
	}
	m.AddRow(6)
}

func (g *PDFGenerator) addFooter(m core.Maroto, data *Data) {
	m.AddRow(8)
	m.AddRow(2, line.NewCol(12, props.Line{Color: lightGrayColor}))
	m.AddRow(6,
		text.NewCol(12, fmt.Sprintf("FleetPulse telemetry report %s · %s", data.ReportID, time.Now().Format("2006-01-02 15:04:05")),
			props.Text{Size: 8, Color: darkGrayColor, Align: align.Center}),
	)
}
