package report

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"fleetpulse/internal/query"
	"fleetpulse/pkg/apperror"
	"fleetpulse/pkg/logger"
	"fleetpulse/pkg/metrics"
)

// Config controls report assembly bounds.
type Config struct {
	MaxReportSizeBytes int64
	MaxEventsInTable   int
	DefaultCompanyName string
}

// Service assembles report Data from the query surface and renders it
// through the Generator matching the requested Format.
type Service struct {
	query      *query.Service
	cfg        Config
	generators map[Format]Generator
}

// New builds a Service backed by svc, wiring the PDF and XLSX generators.
func New(svc *query.Service, cfg Config) *Service {
	if cfg.MaxEventsInTable <= 0 {
		cfg.MaxEventsInTable = 500
	}
	if cfg.MaxReportSizeBytes <= 0 {
		cfg.MaxReportSizeBytes = 25 << 20
	}
	return &Service{
		query: svc,
		cfg:   cfg,
		generators: map[Format]Generator{
			FormatPDF:  NewPDFGenerator(),
			FormatXLSX: NewExcelGenerator(),
		},
	}
}

// Generate assembles a fleet snapshot plus historical aggregates for
// req's range and vehicle filter, then renders them via req.Format.
// Report generation runs synchronously; callers apply their own
// request-scoped timeout via ctx.
func (s *Service) Generate(ctx context.Context, req Request) ([]byte, error) {
	gen, ok := s.generators[req.Format]
	if !ok {
		return nil, apperror.New(apperror.CodeInvalidArgument, fmt.Sprintf("unsupported report format %q", req.Format))
	}

	snap := s.query.FleetSnapshot(query.SnapshotFilter{VehicleIDs: req.VehicleIDs, IncludeMetrics: true})

	buckets, windowSeconds, err := s.query.Aggregates(ctx, query.AggregateFilter{
		VehicleIDs:    req.VehicleIDs,
		Start:         req.Start,
		End:           req.End,
		WindowSeconds: req.WindowSeconds,
	})
	if err != nil {
		s.record(req.Format, "error")
		return nil, err
	}

	events, _, err := s.query.History(ctx, query.HistoryFilter{
		VehicleIDs: req.VehicleIDs,
		Start:      req.Start,
		End:        req.End,
		Limit:      s.cfg.MaxEventsInTable,
	})
	if err != nil {
		s.record(req.Format, "error")
		return nil, err
	}

	companyName := req.CompanyName
	if companyName == "" {
		companyName = s.cfg.DefaultCompanyName
	}

	reportID := uuid.New().String()
	logger.Log.Info("report: generating", "report_id", reportID, "format", req.Format, "vehicle_count", len(snap.Vehicles))

	data := &Data{
		ReportID:        reportID,
		GeneratedAt:     time.Now(),
		CompanyName:     companyName,
		RangeStart:      req.Start,
		RangeEnd:        req.End,
		Vehicles:        snap.Vehicles,
		Buckets:         buckets,
		WindowSeconds:   windowSeconds,
		Events:          events,
		EventsTruncated: len(events) >= s.cfg.MaxEventsInTable,
		Metrics:         snap.Metrics,
	}

	out, err := gen.Generate(ctx, data)
	if err != nil {
		s.record(req.Format, "error")
		return nil, apperror.Wrap(err, apperror.CodeInternal, "report generation failed")
	}

	if int64(len(out)) > s.cfg.MaxReportSizeBytes {
		s.record(req.Format, "too_large")
		return nil, apperror.New(apperror.CodeInternal, fmt.Sprintf(
			"generated report of %d bytes exceeds the %d byte limit", len(out), s.cfg.MaxReportSizeBytes))
	}

	s.record(req.Format, "success")
	return out, nil
}

func (s *Service) record(format Format, result string) {
	if m := metrics.Get(); m != nil {
		m.ReportGeneratedTotal.WithLabelValues(string(format), result).Inc()
	}
}
