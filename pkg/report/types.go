// Package report implements fleet report export: gathering a
// fleet snapshot plus historical aggregates into either a maroto-based
// PDF or an excelize spreadsheet.
package report

import (
	"time"

	"fleetpulse/internal/query"
	"fleetpulse/internal/store"
)

// Format names a supported report output format.
type Format string

const (
	FormatPDF  Format = "pdf"
	FormatXLSX Format = "xlsx"
)

// ContentType returns the output MIME type for f.
func (f Format) ContentType() string {
	switch f {
	case FormatPDF:
		return "application/pdf"
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		return "application/octet-stream"
	}
}

// Extension returns the filename suffix for f.
func (f Format) Extension() string {
	switch f {
	case FormatPDF:
		return "pdf"
	case FormatXLSX:
		return "xlsx"
	default:
		return "bin"
	}
}

// Request describes one report export call: a time range, an
// optional vehicle filter, and the desired output format.
type Request struct {
	VehicleIDs    []string
	Start         time.Time
	End           time.Time
	WindowSeconds int64
	Format        Format
	CompanyName   string
}

// Data is the fully assembled, format-agnostic content a Generator
// renders. It is built once per request and handed to whichever
// Generator matches Request.Format.
type Data struct {
	ReportID    string
	GeneratedAt time.Time
	CompanyName string
	RangeStart  time.Time
	RangeEnd    time.Time

	Vehicles      []query.VehicleState
	Buckets       []store.RollupBucket
	WindowSeconds int64
	Events        []store.TelemetryEvent
	EventsTruncated bool

	Metrics *query.OperationalMetrics
}
