package telemetry

import "go.opentelemetry.io/otel/attribute"

// Standard attribute keys attached to fleetpulse spans.
const (
	AttrVehicleID      = "fleet.vehicle_id"
	AttrMessageCount   = "fleet.message_count"
	AttrEventCount     = "fleet.event_count"
	AttrRollupWindow   = "fleet.rollup_window_seconds"
	AttrBucketsWritten = "fleet.rollup_buckets_written"
	AttrQueryOp        = "fleet.query_op"
	AttrCacheHit       = "fleet.cache_hit"
	AttrReportFormat   = "fleet.report_format"
)

// IngestAttributes returns span attributes describing an ingest decision.
func IngestAttributes(vehicleID string, accepted bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrVehicleID, vehicleID),
		attribute.Bool("fleet.message_accepted", accepted),
	}
}

// RollupAttributes returns span attributes describing a rollup pass.
func RollupAttributes(windowSeconds, bucketsWritten int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int(AttrRollupWindow, windowSeconds),
		attribute.Int(AttrBucketsWritten, bucketsWritten),
	}
}

// QueryAttributes returns span attributes describing a query-surface call.
func QueryAttributes(op string, cacheHit bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrQueryOp, op),
		attribute.Bool(AttrCacheHit, cacheHit),
	}
}
